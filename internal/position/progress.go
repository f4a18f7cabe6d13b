package position

import (
	"fmt"
	"time"

	"github.com/saviobatista/flightpath/internal/types"
)

// Status is the state of a flight at a point in time
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusInFlight  Status = "in_flight"
	StatusArrived   Status = "arrived"
)

// Progress is the elapsed part of a flight. It is derived on every query and
// never stored.
type Progress struct {
	Elapsed time.Duration
	Total   time.Duration
}

// ProgressAt computes the progress of a flight departing and arriving at the
// given times, as seen at now
func ProgressAt(departure, arrival, now time.Time) Progress {
	return Progress{
		Elapsed: now.Sub(departure),
		Total:   arrival.Sub(departure),
	}
}

// Percent returns the elapsed share of the flight in [0, 100]
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		if p.Elapsed >= 0 {
			return 100
		}
		return 0
	}
	pct := float64(p.Elapsed) / float64(p.Total) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// Remaining returns the time left until arrival, never negative
func (p Progress) Remaining() time.Duration {
	if r := p.Total - p.Elapsed; r > 0 {
		return r
	}
	return 0
}

// Status reports whether the flight has departed or arrived
func (p Progress) Status() Status {
	switch {
	case p.Elapsed < 0:
		return StatusScheduled
	case p.Elapsed >= p.Total:
		return StatusArrived
	default:
		return StatusInFlight
	}
}

// Snapshot is a resolved position together with the timing of the flight,
// as shown by the live map and telemetry widgets
type Snapshot struct {
	Result
	ProgressPercent float64       `json:"progress_percent"`
	Elapsed         time.Duration `json:"elapsed"`
	Remaining       time.Duration `json:"remaining"`
	Status          Status        `json:"status"`
}

// ResolveAt resolves the position on seq at wall-clock time now, taking the
// first and last timestamps of the sequence as departure and arrival
func (r *Resolver) ResolveAt(seq types.Sequence, now time.Time) (Snapshot, error) {
	if len(seq) < 2 {
		return Snapshot{}, fmt.Errorf("%w: need at least 2 points, got %d", ErrInvalidSequence, len(seq))
	}

	progress := ProgressAt(seq.First().Timestamp, seq.Last().Timestamp, now)
	pct := progress.Percent()

	result, err := r.Resolve(seq, pct)
	if err != nil {
		return Snapshot{}, err
	}

	elapsed := progress.Elapsed
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > progress.Total {
		elapsed = progress.Total
	}

	return Snapshot{
		Result:          result,
		ProgressPercent: pct,
		Elapsed:         elapsed,
		Remaining:       progress.Remaining(),
		Status:          progress.Status(),
	}, nil
}

// FormatDuration renders a duration as HH:MM
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Minute)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
