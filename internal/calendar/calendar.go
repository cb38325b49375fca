// Package calendar assembles one render pass of the multi-week grid: weeks of
// days, each with its visible event segments and, for the expanded week,
// hour cells carrying an availability score.
package calendar

import (
	"math"
	"time"

	"lilcal/internal/availability"
	"lilcal/internal/layout"
	"lilcal/internal/model"
	"lilcal/internal/timeval"
)

// Options is the display configuration for a render pass.
type Options struct {
	WeekStart       time.Weekday
	NumWeeks        int
	DayBoundaryHour float64
	RetiringHour    float64
	ReadyHour       float64
	// FocusWeek is the index of the expanded week, or -1 for none.
	FocusWeek int
}

type View struct {
	Now    time.Time `json:"now"`
	Energy float64   `json:"energy"`
	Weeks  []Week    `json:"weeks"`
}

type Week struct {
	Index   int       `json:"index"`
	Start   time.Time `json:"start"`
	Focused bool      `json:"focused"`
	Days    []Day     `json:"days"`
}

type Day struct {
	Date     time.Time  `json:"date"`
	Label    string     `json:"label"`
	IsOver   bool       `json:"is_over"`
	IsToday  bool       `json:"is_today"`
	Segments []Segment  `json:"segments"`
	Hours    []HourCell `json:"hours,omitempty"`
}

// Segment is a DaySegment with its drawable height precomputed. Empty
// segments (zero or inverted) are kept so callers can see them, but have
// Duration 0 and must not be drawn.
type Segment struct {
	model.DaySegment
	Duration float64 `json:"duration"`
	Empty    bool    `json:"empty"`
}

type HourCell struct {
	// Hour is the offset from the day's midnight; it exceeds 23 for cells
	// past midnight when the day boundary is not 0.
	Hour         float64 `json:"hour"`
	Label        string  `json:"label"`
	Off          bool    `json:"off"`
	Busy         bool    `json:"busy"`
	Availability float64 `json:"availability"`
}

// Build renders all weeks starting from the week containing now. now is the
// single instant used for every "today"/"past" decision in the pass.
func Build(now time.Time, flattened []model.FlattenedEvent, scorer *availability.Scorer, opts Options) View {
	first := timeval.StartOfWeek(now, opts.WeekStart)

	view := View{
		Now:    now,
		Energy: scorer.Energy(),
		Weeks:  make([]Week, 0, opts.NumWeeks),
	}

	for w := 0; w < opts.NumWeeks; w++ {
		weekStart := first.AddDate(0, 0, 7*w)
		week := Week{
			Index:   w,
			Start:   weekStart,
			Focused: w == opts.FocusWeek,
			Days:    make([]Day, 0, 7),
		}
		for d := 0; d < 7; d++ {
			date := weekStart.AddDate(0, 0, d)
			week.Days = append(week.Days, BuildDay(now, date, flattened, scorer, opts, week.Focused))
		}
		view.Weeks = append(view.Weeks, week)
	}

	return view
}

// BuildDay renders a single day. date may be any instant within the day.
// Hour cells are only filled when detailed is set.
func BuildDay(now, date time.Time, flattened []model.FlattenedEvent, scorer *availability.Scorer, opts Options, detailed bool) Day {
	dayStart := timeval.StartOfDay(date)
	today := timeval.StartOfDay(now)

	day := Day{
		Date:    dayStart,
		Label:   dayLabel(dayStart),
		IsOver:  timeval.IsBefore(dayStart, today),
		IsToday: dayStart.Equal(today),
	}

	raw := layout.WindowForDay(flattened, dayStart, opts.DayBoundaryHour, now)
	day.Segments = make([]Segment, 0, len(raw))
	for _, s := range raw {
		day.Segments = append(day.Segments, Segment{
			DaySegment: s,
			Duration:   s.Duration(),
			Empty:      s.Empty(),
		})
	}

	if detailed {
		day.Hours = hourCells(dayStart, day.Segments, flattened, scorer, opts)
	}
	return day
}

func hourCells(dayStart time.Time, segs []Segment, flattened []model.FlattenedEvent, scorer *availability.Scorer, opts Options) []HourCell {
	cells := make([]HourCell, 0, 24)
	for i := 0; i < 24; i++ {
		h := opts.DayBoundaryHour + float64(i)
		cells = append(cells, HourCell{
			Hour:  h,
			Label: timeval.AddHours(dayStart, h).Format("15:04"),
			Off:   isOff(h, opts.RetiringHour, opts.ReadyHour),
			Busy:  busy(h, segs),
			// Hours before the ready hour do not boost the score.
			Availability: scorer.Score(math.Max(h-opts.ReadyHour, 0), flattened),
		})
	}
	return cells
}

// isOff marks hours in [retiring, ready) wrapping around midnight.
func isOff(h, retiring, ready float64) bool {
	hod := math.Mod(h, 24)
	if retiring <= ready {
		return hod >= retiring && hod < ready
	}
	return hod >= retiring || hod < ready
}

func busy(h float64, segs []Segment) bool {
	for _, s := range segs {
		if s.Empty {
			continue
		}
		if s.Start < h+1 && s.End > h {
			return true
		}
	}
	return false
}

// dayLabel is "Jan 2" on the first of the month, otherwise the day number.
func dayLabel(d time.Time) string {
	if d.Day() == 1 {
		return d.Format("Jan 2")
	}
	return d.Format("2")
}
