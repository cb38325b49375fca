package model

import (
	"errors"
	"fmt"
	"math"
	"time"

	"lilcal/internal/timeval"
)

// ErrInvalidEvent is returned when an event cannot be laid out, e.g. because
// its length is negative.
var ErrInvalidEvent = errors.New("invalid event")

// Event is a single scheduled block as supplied by a calendar source.
type Event struct {
	ID       string `json:"id,omitempty"`
	SourceID string `json:"source_id,omitempty"`
	Summary  string `json:"summary,omitempty"`

	Start time.Time `json:"start"`
	// Length is the duration in hours.
	Length float64 `json:"length"`
}

// End is Start plus Length hours.
func (e Event) End() time.Time {
	return timeval.AddHours(e.Start, e.Length)
}

// Validate rejects negative or non-finite lengths.
func (e Event) Validate() error {
	if math.IsNaN(e.Length) || math.IsInf(e.Length, 0) {
		return fmt.Errorf("%w: length %v is not finite (id=%q)", ErrInvalidEvent, e.Length, e.ID)
	}
	if e.Length < 0 {
		return fmt.Errorf("%w: negative length %v (id=%q)", ErrInvalidEvent, e.Length, e.ID)
	}
	return nil
}

// FlattenedEvent is a merged block. Within a merged list, entries are sorted
// by Start and each entry starts strictly after the previous one ends.
type FlattenedEvent struct {
	Start  time.Time `json:"start"`
	Length float64   `json:"length"`
	// Merged counts how many source events were folded into this block.
	Merged int `json:"merged"`
}

func (f FlattenedEvent) End() time.Time {
	return timeval.AddHours(f.Start, f.Length)
}

// AsEvent converts the block back into a plain Event.
func (f FlattenedEvent) AsEvent() Event {
	return Event{Start: f.Start, Length: f.Length}
}

// DaySegment is the visible part of a block within one day window, in hours
// from the day's midnight.
type DaySegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration is the visible height in hours; inverted segments count as zero.
func (s DaySegment) Duration() float64 {
	if s.End <= s.Start {
		return 0
	}
	return s.End - s.Start
}

// Empty reports whether the segment has no visible duration.
func (s DaySegment) Empty() bool {
	return s.Duration() == 0
}
