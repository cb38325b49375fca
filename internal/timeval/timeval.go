// Package timeval provides the small set of instant helpers the layout code
// relies on: day/hour truncation, fractional hour arithmetic and ordered
// comparisons. All helpers operate in the location carried by their inputs;
// no zone conversion happens here.
package timeval

import "time"

// Bounds selects which ends of an interval are inclusive, using the usual
// bracket notation: "[]", "()", "[)" or "(]".
type Bounds string

const (
	Inclusive      Bounds = "[]"
	Exclusive      Bounds = "()"
	LeftInclusive  Bounds = "[)"
	RightInclusive Bounds = "(]"
)

// StartOfDay returns local midnight of t's calendar day.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// StartOfHour truncates t to the start of its wall-clock hour.
func StartOfHour(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour(), 0, 0, 0, t.Location())
}

// StartOfWeek returns midnight of the most recent weekStart on or before t.
func StartOfWeek(t time.Time, weekStart time.Weekday) time.Time {
	day := StartOfDay(t)
	back := (int(day.Weekday()) - int(weekStart) + 7) % 7
	return day.AddDate(0, 0, -back)
}

// AddHours adds a possibly fractional, possibly negative number of hours.
func AddHours(t time.Time, h float64) time.Time {
	return t.Add(time.Duration(h * float64(time.Hour)))
}

// DiffHours returns a-b in real-valued hours.
func DiffHours(a, b time.Time) float64 {
	return a.Sub(b).Hours()
}

func IsBefore(a, b time.Time) bool {
	return a.Before(b)
}

func IsSameOrBefore(a, b time.Time) bool {
	return !a.After(b)
}

func IsAfter(a, b time.Time) bool {
	return a.After(b)
}

// IsBetween reports whether t lies between lo and hi, honoring bounds.
// An unrecognized Bounds value is treated as Exclusive.
func IsBetween(t, lo, hi time.Time, bounds Bounds) bool {
	var afterLo, beforeHi bool
	switch bounds {
	case Inclusive:
		afterLo, beforeHi = !t.Before(lo), !t.After(hi)
	case LeftInclusive:
		afterLo, beforeHi = !t.Before(lo), t.Before(hi)
	case RightInclusive:
		afterLo, beforeHi = t.After(lo), !t.After(hi)
	default:
		afterLo, beforeHi = t.After(lo), t.Before(hi)
	}
	return afterLo && beforeHi
}
