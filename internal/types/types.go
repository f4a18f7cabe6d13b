package types

import (
	"fmt"
	"math"
	"time"
)

// GeoPoint is a position on the earth's surface in decimal degrees
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate checks that the point lies within the valid latitude/longitude ranges
func (p GeoPoint) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) {
		return fmt.Errorf("coordinates must be numbers, got (%v, %v)", p.Lat, p.Lon)
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", p.Lat)
	}
	if p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", p.Lon)
	}
	return nil
}

func (p GeoPoint) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", p.Lat, p.Lon)
}

// TrajectoryPoint is one sample of a reconstructed or observed flight path
type TrajectoryPoint struct {
	GeoPoint
	Altitude  float64   `json:"altitude"`
	Speed     float64   `json:"speed"`
	Timestamp time.Time `json:"timestamp"`
}

// Sequence is an ordered trajectory. Sequences are built once and never
// modified; a new one is generated whenever its inputs change.
type Sequence []TrajectoryPoint

// First returns the first point of the sequence
func (s Sequence) First() TrajectoryPoint {
	return s[0]
}

// Last returns the last point of the sequence
func (s Sequence) Last() TrajectoryPoint {
	return s[len(s)-1]
}

// Duration returns the time covered by the sequence
func (s Sequence) Duration() time.Duration {
	if len(s) < 2 {
		return 0
	}
	return s.Last().Timestamp.Sub(s.First().Timestamp)
}

// TrackPoint is a single waypoint of a live track as reported upstream.
// Latitude/Longitude are nil when the upstream had no position fix.
type TrackPoint struct {
	Time         time.Time `json:"time"`
	Latitude     *float64  `json:"latitude"`
	Longitude    *float64  `json:"longitude"`
	BaroAltitude *float64  `json:"baro_altitude"`
	TrueTrack    *float64  `json:"true_track"`
	OnGround     bool      `json:"on_ground"`
}

// Track is a live flight track for one aircraft
type Track struct {
	Icao24    string       `json:"icao24"`
	Callsign  string       `json:"callsign"`
	StartTime time.Time    `json:"start_time"`
	EndTime   time.Time    `json:"end_time"`
	Path      []TrackPoint `json:"path"`
}

// PositionUpdate is the message published for map consumers on every
// position refresh of a followed flight
type PositionUpdate struct {
	FlightID        string    `json:"flight_id"`
	Callsign        string    `json:"callsign"`
	Latitude        float64   `json:"latitude"`
	Longitude       float64   `json:"longitude"`
	Altitude        float64   `json:"altitude"`
	Speed           float64   `json:"speed"`
	Heading         int       `json:"heading"`
	HeadingBucket   int       `json:"heading_bucket"`
	Icon            string    `json:"icon"`
	ProgressPercent float64   `json:"progress_percent"`
	Phase           string    `json:"phase"`
	Status          string    `json:"status"`
	Timestamp       time.Time `json:"timestamp"`
}

// ServiceStats is a point-in-time copy of the service counters
type ServiceStats struct {
	Time              time.Time     `json:"time"`
	ProxyRequests     uint64        `json:"proxy_requests"`
	UpstreamErrors    uint64        `json:"upstream_errors"`
	Truncations       uint64        `json:"truncations"`
	CacheHits         uint64        `json:"cache_hits"`
	TokenExchanges    uint64        `json:"token_exchanges"`
	TokenFailures     uint64        `json:"token_failures"`
	TrajectoriesBuilt uint64        `json:"trajectories_built"`
	PositionsResolved uint64        `json:"positions_resolved"`
	Uptime            time.Duration `json:"uptime"`
}
