package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/saviobatista/flightpath/internal/types"
)

// MockTrack creates a track of n points, one minute apart, heading east-north-east
// from Geneva at 10000 m
func MockTrack(icao24 string, start time.Time, n int) types.Track {
	track := types.Track{
		Icao24:    icao24,
		Callsign:  "SWR1234",
		StartTime: start,
		EndTime:   start.Add(time.Duration(n-1) * time.Minute),
		Path:      make([]types.TrackPoint, n),
	}
	for i := 0; i < n; i++ {
		lat := 46.2382 + 0.05*float64(i)
		lon := 6.1089 + 0.1*float64(i)
		alt := 10000.0
		heading := 55.0
		track.Path[i] = types.TrackPoint{
			Time:         start.Add(time.Duration(i) * time.Minute),
			Latitude:     &lat,
			Longitude:    &lon,
			BaroAltitude: &alt,
			TrueTrack:    &heading,
		}
	}
	return track
}

// MockTrackJSON renders a track response the way the OpenSky tracks endpoint
// does: waypoints are positional arrays [time, lat, lon, baro_altitude, true_track, on_ground]
func MockTrackJSON(icao24 string, start time.Time, n int) []byte {
	path := make([][]interface{}, n)
	for i := 0; i < n; i++ {
		path[i] = []interface{}{
			start.Unix() + int64(i*60),
			46.2382 + 0.05*float64(i),
			6.1089 + 0.1*float64(i),
			10000.0,
			55.0,
			false,
		}
	}
	body, err := json.Marshal(map[string]interface{}{
		"icao24":    icao24,
		"callsign":  "SWR1234 ",
		"startTime": start.Unix(),
		"endTime":   start.Unix() + int64((n-1)*60),
		"path":      path,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to marshal mock track: %v", err))
	}
	return body
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(condition func() bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for condition")
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}
