// Package position resolves where an aircraft is along a trajectory for a
// given progress, and which way it is heading.
package position

import (
	"errors"
	"fmt"
	"math"

	"github.com/saviobatista/flightpath/internal/geo"
	"github.com/saviobatista/flightpath/internal/types"
)

// DefaultHeadingStep is the bucket width in degrees used for icon selection
const DefaultHeadingStep = 15

var (
	// ErrInvalidSequence is returned when a sequence is too short to resolve a heading
	ErrInvalidSequence = errors.New("invalid trajectory sequence")
	// ErrInvalidProgress is returned when progress is not a number
	ErrInvalidProgress = errors.New("invalid progress")
	// ErrInvalidStep is returned for heading steps outside (0, 360]
	ErrInvalidStep = errors.New("invalid heading step")
)

// Heading is a compass heading with its icon bucket
type Heading struct {
	Degrees int `json:"degrees"`
	Bucket  int `json:"bucket"`
}

// Result is the resolved position of an aircraft on a sequence
type Result struct {
	Point   types.TrajectoryPoint `json:"point"`
	Index   int                   `json:"index"`
	Heading Heading               `json:"heading"`
}

// Resolver resolves positions on trajectory sequences. It holds only its
// configuration and is safe for concurrent use.
type Resolver struct {
	step int
}

// NewResolver creates a resolver quantizing headings to multiples of step degrees
func NewResolver(step int) (*Resolver, error) {
	if step <= 0 || step > 360 {
		return nil, fmt.Errorf("%w: %d not in (0, 360]", ErrInvalidStep, step)
	}
	return &Resolver{step: step}, nil
}

// Step returns the heading bucket width in degrees
func (r *Resolver) Step() int {
	return r.step
}

// Resolve returns the sample nearest to progressPercent (0..100, clamped) and
// the heading of the aircraft there. The last sample reports the heading of
// the final leg.
func (r *Resolver) Resolve(seq types.Sequence, progressPercent float64) (Result, error) {
	if len(seq) < 2 {
		return Result{}, fmt.Errorf("%w: need at least 2 points, got %d", ErrInvalidSequence, len(seq))
	}
	if math.IsNaN(progressPercent) {
		return Result{}, fmt.Errorf("%w: progress is NaN", ErrInvalidProgress)
	}

	last := len(seq) - 1
	idx := int(math.Round(progressPercent / 100 * float64(last)))
	if idx < 0 {
		idx = 0
	}
	if idx > last {
		idx = last
	}

	var bearing float64
	if idx < last {
		bearing = geo.InitialBearing(seq[idx].GeoPoint, seq[idx+1].GeoPoint)
	} else {
		bearing = geo.InitialBearing(seq[idx-1].GeoPoint, seq[idx].GeoPoint)
	}

	return Result{
		Point: seq[idx],
		Index: idx,
		Heading: Heading{
			Degrees: int(math.Floor(bearing)) % 360,
			Bucket:  Quantize(bearing, r.step),
		},
	}, nil
}

// Quantize floors a heading to a multiple of step, normalized into [0, 360)
func Quantize(heading float64, step int) int {
	if step <= 0 {
		return 0
	}
	bucket := int(math.Floor(geo.Normalize(heading)/float64(step))) * step
	return bucket % 360
}

// IconName returns the directional aircraft icon for a heading bucket,
// e.g. "assets/plane_045deg.png"
func IconName(prefix string, bucket int) string {
	return fmt.Sprintf("%s%03ddeg.png", prefix, bucket)
}
