// Package layout turns raw calendar events into the non-overlapping blocks
// and per-day segments the calendar view draws.
package layout

import (
	"slices"

	"lilcal/internal/model"
	"lilcal/internal/timeval"
)

// Merge flattens events into sorted, disjoint blocks.
//
//   - Events are ordered by Start; equal starts keep their input order.
//   - An event starting at or before the current block's end (touching
//     counts) extends that block when it ends later, otherwise it is
//     swallowed.
//   - Anything starting after the current block's end opens a new block.
//
// Every event is validated before any merging happens, so an invalid entry
// yields no partial result.
func Merge(events []model.Event) ([]model.FlattenedEvent, error) {
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			return nil, err
		}
	}

	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, func(a, b model.Event) int {
		return a.Start.Compare(b.Start)
	})

	out := make([]model.FlattenedEvent, 0, len(sorted))
	for _, ev := range sorted {
		if len(out) == 0 {
			out = append(out, newBlock(ev))
			continue
		}

		last := &out[len(out)-1]
		lastEnd := last.End()

		if timeval.IsSameOrBefore(ev.Start, lastEnd) {
			last.Merged++
			if evEnd := ev.End(); timeval.IsAfter(evEnd, lastEnd) {
				last.Length = timeval.DiffHours(evEnd, last.Start)
			}
			continue
		}

		out = append(out, newBlock(ev))
	}

	return out, nil
}

func newBlock(ev model.Event) model.FlattenedEvent {
	return model.FlattenedEvent{Start: ev.Start, Length: ev.Length, Merged: 1}
}
