// Package profile simulates the vertical and speed profile of a flight as a
// three phase climb, cruise and descent envelope.
package profile

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidEnvelope is returned when envelope bounds or fractions are inconsistent
var ErrInvalidEnvelope = errors.New("invalid flight envelope")

// Phase is the flight phase at a given progress
type Phase string

const (
	PhaseClimb   Phase = "climb"
	PhaseCruise  Phase = "cruise"
	PhaseDescent Phase = "descent"
)

// Envelope bounds the synthetic altitude and speed profile. Units are fixed by
// the caller: DefaultEnvelope uses feet and knots.
type Envelope struct {
	MinAltitude          float64 `json:"min_altitude"`
	MaxAltitude          float64 `json:"max_altitude"`
	MinSpeed             float64 `json:"min_speed"`
	MaxSpeed             float64 `json:"max_speed"`
	ClimbFraction        float64 `json:"climb_fraction"`
	DescentStartFraction float64 `json:"descent_start_fraction"`
}

// DefaultEnvelope returns a narrow-body jet profile: climb during the first
// 10% of the flight to 35000 ft, descend during the last 10%.
func DefaultEnvelope() Envelope {
	return Envelope{
		MinAltitude:          0,
		MaxAltitude:          35000,
		MinSpeed:             280,
		MaxSpeed:             500,
		ClimbFraction:        0.1,
		DescentStartFraction: 0.9,
	}
}

// Validate checks the envelope can produce a continuous profile
func (e Envelope) Validate() error {
	for name, v := range map[string]float64{
		"min altitude": e.MinAltitude, "max altitude": e.MaxAltitude,
		"min speed": e.MinSpeed, "max speed": e.MaxSpeed,
		"climb fraction": e.ClimbFraction, "descent start fraction": e.DescentStartFraction,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not a finite number", ErrInvalidEnvelope, name)
		}
	}
	if e.MinAltitude < 0 || e.MaxAltitude < e.MinAltitude {
		return fmt.Errorf("%w: altitude range [%v, %v]", ErrInvalidEnvelope, e.MinAltitude, e.MaxAltitude)
	}
	if e.MinSpeed < 0 || e.MaxSpeed < e.MinSpeed {
		return fmt.Errorf("%w: speed range [%v, %v]", ErrInvalidEnvelope, e.MinSpeed, e.MaxSpeed)
	}
	if e.ClimbFraction <= 0 || e.DescentStartFraction >= 1 || e.ClimbFraction > e.DescentStartFraction {
		return fmt.Errorf("%w: need 0 < climb (%v) <= descent start (%v) < 1",
			ErrInvalidEnvelope, e.ClimbFraction, e.DescentStartFraction)
	}
	return nil
}

// AltitudeAt returns the altitude at progress f in [0, 1]
func (e Envelope) AltitudeAt(f float64) float64 {
	return e.ramp(f, e.MinAltitude, e.MaxAltitude)
}

// SpeedAt returns the speed at progress f in [0, 1]
func (e Envelope) SpeedAt(f float64) float64 {
	return e.ramp(f, e.MinSpeed, e.MaxSpeed)
}

// PhaseAt returns the flight phase at progress f in [0, 1]
func (e Envelope) PhaseAt(f float64) Phase {
	f = clamp01(f)
	switch {
	case f < e.ClimbFraction:
		return PhaseClimb
	case f > e.DescentStartFraction:
		return PhaseDescent
	default:
		return PhaseCruise
	}
}

// ramp is linear from lo to hi over the climb, flat at hi in cruise and
// linear back to lo over the descent, so it is continuous at both boundaries.
func (e Envelope) ramp(f, lo, hi float64) float64 {
	f = clamp01(f)
	var v float64
	switch e.PhaseAt(f) {
	case PhaseClimb:
		v = lo + (hi-lo)*(f/e.ClimbFraction)
	case PhaseDescent:
		v = hi - (hi-lo)*((f-e.DescentStartFraction)/(1-e.DescentStartFraction))
	default:
		v = hi
	}
	return math.Max(lo, math.Min(hi, v))
}

func clamp01(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
