package layout

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lilcal/internal/model"
	"lilcal/internal/timeval"
)

var day = time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

func at(h float64) time.Time {
	return timeval.AddHours(day, h)
}

func TestMergeOverlappingAndSeparate(t *testing.T) {
	events := []model.Event{
		{Start: at(0), Length: 1.5},
		{Start: at(2), Length: 1},
		{Start: at(-0.5), Length: 1},
	}

	got, err := Merge(events)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, at(-0.5), got[0].Start)
	assert.Equal(t, at(1.5), got[0].End())
	assert.Equal(t, 2, got[0].Merged)

	assert.Equal(t, at(2), got[1].Start)
	assert.Equal(t, at(3), got[1].End())
	assert.Equal(t, 1, got[1].Merged)
}

func TestMergeTouchingEventsJoin(t *testing.T) {
	got, err := Merge([]model.Event{
		{Start: at(9), Length: 1},
		{Start: at(10), Length: 1},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, at(11), got[0].End())
}

func TestMergeContainedEventIsDiscarded(t *testing.T) {
	got, err := Merge([]model.Event{
		{Start: at(8), Length: 4},
		{Start: at(9), Length: 1},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, at(8), got[0].Start)
	assert.InDelta(t, 4.0, got[0].Length, 1e-9)
}

func TestMergeZeroLengthEvents(t *testing.T) {
	t.Run("inside previous block", func(t *testing.T) {
		got, err := Merge([]model.Event{
			{Start: at(8), Length: 2},
			{Start: at(10), Length: 0},
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.InDelta(t, 2.0, got[0].Length, 1e-9)
	})

	t.Run("after previous block", func(t *testing.T) {
		got, err := Merge([]model.Event{
			{Start: at(8), Length: 2},
			{Start: at(10.5), Length: 0},
		})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, got[1].Start, got[1].End())
	})
}

func TestMergeStableForEqualStarts(t *testing.T) {
	got, err := Merge([]model.Event{
		{ID: "a", Start: at(5), Length: 0},
		{ID: "b", Start: at(5), Length: 2},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 2.0, got[0].Length, 1e-9)
}

func TestMergeDoesNotMutateInput(t *testing.T) {
	events := []model.Event{
		{Start: at(3), Length: 1},
		{Start: at(0), Length: 4},
	}
	_, err := Merge(events)
	require.NoError(t, err)

	assert.Equal(t, at(3), events[0].Start)
	assert.InDelta(t, 1.0, events[0].Length, 1e-9)
	assert.InDelta(t, 4.0, events[1].Length, 1e-9)
}

func TestMergeRejectsNegativeLength(t *testing.T) {
	got, err := Merge([]model.Event{
		{Start: at(0), Length: 1},
		{ID: "bad", Start: at(2), Length: -1},
	})
	assert.ErrorIs(t, err, model.ErrInvalidEvent)
	assert.Nil(t, got, "no partial result on invalid input")
}

func TestMergeEmpty(t *testing.T) {
	got, err := Merge(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// randomEvents produces events on a quarter-hour grid so that every time
// value and hour difference is exactly representable.
func randomEvents(r *rand.Rand, n int) []model.Event {
	out := make([]model.Event, n)
	for i := range out {
		out[i] = model.Event{
			Start:  at(float64(r.Intn(48*4)-8) / 4),
			Length: float64(r.Intn(6*4)) / 4,
		}
	}
	return out
}

func covered(t time.Time, starts, ends []time.Time) bool {
	for i := range starts {
		if timeval.IsBetween(t, starts[i], ends[i], timeval.Inclusive) {
			return true
		}
	}
	return false
}

func TestMergeProperties(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		events := randomEvents(r, 1+r.Intn(12))

		merged, err := Merge(events)
		require.NoError(t, err)

		// Disjointness.
		for i := 1; i < len(merged); i++ {
			assert.True(t, merged[i].Start.After(merged[i-1].End()),
				"round %d: block %d starts at or before previous end", round, i)
		}

		// Idempotence.
		again := make([]model.Event, len(merged))
		for i, f := range merged {
			again[i] = f.AsEvent()
		}
		remerged, err := Merge(again)
		require.NoError(t, err)
		require.Len(t, remerged, len(merged))
		for i := range merged {
			assert.True(t, merged[i].Start.Equal(remerged[i].Start))
			assert.True(t, merged[i].End().Equal(remerged[i].End()))
		}

		// Coverage: sample every 5 minutes across the generated range.
		inStarts, inEnds := make([]time.Time, len(events)), make([]time.Time, len(events))
		for i, ev := range events {
			inStarts[i], inEnds[i] = ev.Start, ev.End()
		}
		outStarts, outEnds := make([]time.Time, len(merged)), make([]time.Time, len(merged))
		for i, f := range merged {
			outStarts[i], outEnds[i] = f.Start, f.End()
		}
		for ts := at(-3); ts.Before(at(56)); ts = ts.Add(5 * time.Minute) {
			require.Equal(t, covered(ts, inStarts, inEnds), covered(ts, outStarts, outEnds),
				"round %d: coverage differs at %s", round, ts)
		}
	}
}
