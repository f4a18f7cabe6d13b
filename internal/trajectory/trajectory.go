// Package trajectory builds synthetic flight trajectories from endpoints and
// duration, and brings live tracks into the same shape.
package trajectory

import (
	"errors"
	"fmt"
	"time"

	"github.com/saviobatista/flightpath/internal/geo"
	"github.com/saviobatista/flightpath/internal/profile"
	"github.com/saviobatista/flightpath/internal/types"
)

const (
	// DefaultSampleCount is the number of samples used when a query does not set one
	DefaultSampleCount = 200
	// MaxSampleCount bounds the size of a generated sequence
	MaxSampleCount = 10000
	// minSampleSpacing keeps generated timestamps strictly increasing
	minSampleSpacing = time.Millisecond
)

var (
	// ErrInvalidQuery is returned when a trajectory cannot be built from the query
	ErrInvalidQuery = errors.New("invalid trajectory query")
	// ErrInsufficientTrack is returned when a track has fewer than two usable points
	ErrInsufficientTrack = errors.New("track has fewer than two usable points")
)

// Query describes a synthetic flight
type Query struct {
	Start         types.GeoPoint
	End           types.GeoPoint
	Departure     time.Time
	TotalDuration time.Duration
	SampleCount   int
	Envelope      profile.Envelope
}

// Build reconstructs a trajectory along the great circle from Start to End,
// with altitude and speed taken from the envelope and timestamps spread
// evenly over the flight duration.
func Build(q Query) (types.Sequence, error) {
	n := q.SampleCount
	if n == 0 {
		n = DefaultSampleCount
	}
	if n < 2 || n > MaxSampleCount {
		return nil, fmt.Errorf("%w: sample count %d outside [2, %d]", ErrInvalidQuery, n, MaxSampleCount)
	}
	if q.TotalDuration <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive, got %s", ErrInvalidQuery, q.TotalDuration)
	}
	if q.TotalDuration < time.Duration(n-1)*minSampleSpacing {
		return nil, fmt.Errorf("%w: duration %s too short for %d samples", ErrInvalidQuery, q.TotalDuration, n)
	}
	if err := q.Envelope.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}

	points, err := geo.Solve(q.Start, q.End, n)
	if err != nil {
		return nil, fmt.Errorf("failed to solve great circle: %w", err)
	}

	seq := make(types.Sequence, n)
	for i, p := range points {
		f := float64(i) / float64(n-1)
		seq[i] = types.TrajectoryPoint{
			GeoPoint:  p,
			Altitude:  q.Envelope.AltitudeAt(f),
			Speed:     q.Envelope.SpeedAt(f),
			Timestamp: q.Departure.Add(time.Duration(f * float64(q.TotalDuration))),
		}
	}
	return seq, nil
}

const (
	feetPerMeter  = 3.28084
	metersPerKnot = 1852.0 / 3600.0
)

// FromTrack converts a live track into a sequence. Points without a position
// fix or with a timestamp not after the previous kept point are dropped.
// Altitude is converted to feet and speed is derived in knots from the
// distance flown between consecutive points.
func FromTrack(track types.Track) (types.Sequence, error) {
	seq := make(types.Sequence, 0, len(track.Path))
	for _, tp := range track.Path {
		if tp.Latitude == nil || tp.Longitude == nil {
			continue
		}
		p := types.GeoPoint{Lat: *tp.Latitude, Lon: *tp.Longitude}
		if p.Validate() != nil {
			continue
		}
		if len(seq) > 0 && !tp.Time.After(seq[len(seq)-1].Timestamp) {
			continue
		}

		pt := types.TrajectoryPoint{GeoPoint: p, Timestamp: tp.Time}
		if tp.BaroAltitude != nil && *tp.BaroAltitude > 0 {
			pt.Altitude = *tp.BaroAltitude * feetPerMeter
		}
		seq = append(seq, pt)
	}

	if len(seq) < 2 {
		return nil, fmt.Errorf("%w: %d of %d points usable", ErrInsufficientTrack, len(seq), len(track.Path))
	}

	for i := 1; i < len(seq); i++ {
		seq[i].Speed = groundSpeed(seq[i-1], seq[i])
	}
	seq[0].Speed = seq[1].Speed

	return seq, nil
}

func groundSpeed(a, b types.TrajectoryPoint) float64 {
	dt := b.Timestamp.Sub(a.Timestamp).Seconds()
	if dt <= 0 {
		return 0
	}
	return geo.Distance(a.GeoPoint, b.GeoPoint) / dt / metersPerKnot
}
