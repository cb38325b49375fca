// Package availability scores how much capacity is left in a given hour.
//
// The score is a linear decay from the configured energy level, starting at
// the "ready" hour:
//
//	score = max(energy - hourSinceReady*decayRate, 0)
//
// Negative hourSinceReady values are not clamped and raise the score above
// energy; callers that do not want that must clamp before calling.
package availability

import (
	"errors"
	"fmt"
	"math"

	"lilcal/internal/model"
)

// DefaultDecayRate drains a full battery over one day.
const DefaultDecayRate = 1.0 / 24

var (
	ErrInvalidEnergy = errors.New("invalid energy")
	ErrInvalidConfig = errors.New("invalid availability config")
)

// Scorer is immutable once constructed.
type Scorer struct {
	energy    float64
	decayRate float64
}

// NewScorer validates energy (0..1) and decayRate (>= 0, per hour).
func NewScorer(energy, decayRate float64) (*Scorer, error) {
	if math.IsNaN(energy) || energy < 0 || energy > 1 {
		return nil, fmt.Errorf("%w: %v is outside [0,1]", ErrInvalidEnergy, energy)
	}
	if math.IsNaN(decayRate) || math.IsInf(decayRate, 0) || decayRate < 0 {
		return nil, fmt.Errorf("%w: decay rate %v must be a finite value >= 0", ErrInvalidConfig, decayRate)
	}
	return &Scorer{energy: energy, decayRate: decayRate}, nil
}

func (s *Scorer) Energy() float64    { return s.energy }
func (s *Scorer) DecayRate() float64 { return s.decayRate }

// Score returns the availability for an hour that is hourSinceReady hours
// after the ready hour.
//
// events is accepted so that an event-aware multiplier can be added later
// without changing callers. It currently has no effect on the result.
func (s *Scorer) Score(hourSinceReady float64, events []model.FlattenedEvent) float64 {
	_ = events
	return math.Max(s.energy-hourSinceReady*s.decayRate, 0)
}
