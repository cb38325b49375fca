package layout

import (
	"math"
	"time"

	"lilcal/internal/model"
	"lilcal/internal/timeval"
)

// WindowForDay returns the parts of flattened that are visible in the day
// starting at dayStart (a local midnight). The visible window runs from
// dayStart+boundaryHour to 24 hours later, and offsets in the result are in
// hours from dayStart.
//
// A block is kept only if its start or its end lies inside the window
// (inclusive). A block that begins before the window and ends after it is
// therefore not reported for that day.
//
// now must be captured once by the caller for the whole render pass:
//   - days before today yield nothing;
//   - for today, blocks that already ended are dropped and the rest are
//     raised to the current hour;
//   - future days are not clipped.
//
// The order of the result follows flattened.
func WindowForDay(flattened []model.FlattenedEvent, dayStart time.Time, boundaryHour float64, now time.Time) []model.DaySegment {
	today := timeval.StartOfDay(now)
	if timeval.IsBefore(dayStart, today) {
		return []model.DaySegment{}
	}
	isToday := dayStart.Equal(today)

	windowStart := timeval.AddHours(dayStart, boundaryHour)
	windowEnd := timeval.AddHours(windowStart, 24)
	lo, hi := boundaryHour, boundaryHour+24

	nowPrecise := timeval.DiffHours(now, dayStart)
	nowFloor := math.Floor(nowPrecise)

	out := make([]model.DaySegment, 0)
	for _, ev := range flattened {
		evEnd := ev.End()
		if !timeval.IsBetween(ev.Start, windowStart, windowEnd, timeval.Inclusive) &&
			!timeval.IsBetween(evEnd, windowStart, windowEnd, timeval.Inclusive) {
			continue
		}

		start := timeval.DiffHours(ev.Start, dayStart)
		end := timeval.DiffHours(evEnd, dayStart)

		seg := model.DaySegment{
			Start: clamp(start, lo, hi),
			End:   clamp(end, 0, hi),
		}

		if isToday {
			if end < nowPrecise {
				continue
			}
			if seg.Start < nowFloor {
				seg.Start = nowFloor
			}
		}

		out = append(out, seg)
	}

	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
