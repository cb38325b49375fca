package model

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventEnd(t *testing.T) {
	start := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, start.Add(90*time.Minute), Event{Start: start, Length: 1.5}.End())
	assert.Equal(t, start, Event{Start: start}.End(), "zero-length event ends where it starts")
}

func TestEventValidate(t *testing.T) {
	require.NoError(t, Event{Length: 0}.Validate())
	require.NoError(t, Event{Length: 3.25}.Validate())

	for _, l := range []float64{-0.01, math.NaN(), math.Inf(1)} {
		err := Event{ID: "x", Length: l}.Validate()
		assert.ErrorIs(t, err, ErrInvalidEvent, "length %v", l)
	}
}

func TestDaySegmentDuration(t *testing.T) {
	assert.InDelta(t, 3.0, DaySegment{Start: 6, End: 9}.Duration(), 1e-9)
	assert.True(t, DaySegment{Start: 6, End: 3}.Empty(), "inverted segment has no height")
	assert.Zero(t, DaySegment{Start: 6, End: 3}.Duration())
	assert.True(t, DaySegment{Start: 7, End: 7}.Empty())
}
