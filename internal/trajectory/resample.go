package trajectory

import (
	"fmt"
	"time"

	"github.com/saviobatista/flightpath/internal/geo"
	"github.com/saviobatista/flightpath/internal/types"
)

// DenseSampleCount is the size of the sequence produced by ResampleDense
const DenseSampleCount = 200

// ResampleByTime returns n points evenly spaced in time along seq
func ResampleByTime(seq types.Sequence, n int) (types.Sequence, error) {
	if err := checkResample(seq, n); err != nil {
		return nil, err
	}

	total := seq.Duration()
	if total <= 0 {
		return nil, fmt.Errorf("%w: sequence spans no time", ErrInsufficientTrack)
	}

	start := seq.First().Timestamp
	out := make(types.Sequence, 0, n)
	idx := 0
	for p := 0; p < n; p++ {
		target := start.Add(time.Duration(float64(p) / float64(n-1) * float64(total)))
		for idx < len(seq)-2 && seq[idx+1].Timestamp.Before(target) {
			idx++
		}

		a, b := seq[idx], seq[idx+1]
		switch {
		case p == 0:
			out = append(out, seq.First())
		case p == n-1:
			out = append(out, seq.Last())
		default:
			frac := 0.0
			if span := b.Timestamp.Sub(a.Timestamp); span > 0 {
				frac = float64(target.Sub(a.Timestamp)) / float64(span)
			}
			out = append(out, interpolate(a, b, frac))
		}
	}
	return out, nil
}

// ResampleByDistance returns n points evenly spaced in distance flown along seq.
// A sequence that never moves is resampled by time instead.
func ResampleByDistance(seq types.Sequence, n int) (types.Sequence, error) {
	if err := checkResample(seq, n); err != nil {
		return nil, err
	}

	cum := cumulativeDistances(seq)
	total := cum[len(cum)-1]
	if total <= 0 {
		return ResampleByTime(seq, n)
	}

	targets := make([]float64, n)
	for p := range targets {
		targets[p] = float64(p) / float64(n-1) * total
	}
	return resampleAtDistances(seq, cum, targets), nil
}

// ResampleDense returns DenseSampleCount points spaced by distance, denser
// near departure and arrival: 60 points over the first 20% of the distance,
// 80 over the middle 60% and 60 over the last 20%.
func ResampleDense(seq types.Sequence) (types.Sequence, error) {
	if err := checkResample(seq, DenseSampleCount); err != nil {
		return nil, err
	}

	cum := cumulativeDistances(seq)
	total := cum[len(cum)-1]
	if total <= 0 {
		return ResampleByTime(seq, DenseSampleCount)
	}

	targets := make([]float64, 0, DenseSampleCount)
	for i := 0; i < 60; i++ {
		targets = append(targets, 0.2*float64(i)/60*total)
	}
	for i := 0; i < 80; i++ {
		targets = append(targets, (0.2+0.6*float64(i)/80)*total)
	}
	for i := 0; i < 60; i++ {
		targets = append(targets, (0.8+0.2*float64(i)/59)*total)
	}
	return resampleAtDistances(seq, cum, targets), nil
}

func checkResample(seq types.Sequence, n int) error {
	if len(seq) < 2 {
		return fmt.Errorf("%w: got %d points", ErrInsufficientTrack, len(seq))
	}
	if n < 2 || n > MaxSampleCount {
		return fmt.Errorf("%w: sample count %d outside [2, %d]", ErrInvalidQuery, n, MaxSampleCount)
	}
	return nil
}

func cumulativeDistances(seq types.Sequence) []float64 {
	cum := make([]float64, len(seq))
	for i := 1; i < len(seq); i++ {
		cum[i] = cum[i-1] + geo.Distance(seq[i-1].GeoPoint, seq[i].GeoPoint)
	}
	return cum
}

// resampleAtDistances expects targets sorted ascending within [0, cum[last]]
func resampleAtDistances(seq types.Sequence, cum, targets []float64) types.Sequence {
	total := cum[len(cum)-1]
	out := make(types.Sequence, 0, len(targets))
	idx := 0
	for _, target := range targets {
		if target <= 0 {
			out = append(out, seq.First())
			continue
		}
		if target >= total {
			out = append(out, seq.Last())
			continue
		}
		for idx < len(cum)-2 && cum[idx+1] < target {
			idx++
		}
		segment := cum[idx+1] - cum[idx]
		frac := 0.0
		if segment > 0 {
			frac = (target - cum[idx]) / segment
		}
		out = append(out, interpolate(seq[idx], seq[idx+1], frac))
	}
	return out
}

// interpolate blends two samples linearly in lat/lon, altitude, speed and time.
// Longitude takes the short way round the antimeridian.
func interpolate(a, b types.TrajectoryPoint, frac float64) types.TrajectoryPoint {
	dLon := b.Lon - a.Lon
	if dLon > 180 {
		dLon -= 360
	} else if dLon <= -180 {
		dLon += 360
	}
	return types.TrajectoryPoint{
		GeoPoint: types.GeoPoint{
			Lat: a.Lat + frac*(b.Lat-a.Lat),
			Lon: normalizeLon(a.Lon + frac*dLon),
		},
		Altitude:  a.Altitude + frac*(b.Altitude-a.Altitude),
		Speed:     a.Speed + frac*(b.Speed-a.Speed),
		Timestamp: a.Timestamp.Add(time.Duration(frac * float64(b.Timestamp.Sub(a.Timestamp)))),
	}
}

// normalizeLon wraps a longitude into [-180, 180]
func normalizeLon(lon float64) float64 {
	if lon > 180 {
		return lon - 360
	}
	if lon < -180 {
		return lon + 360
	}
	return lon
}
