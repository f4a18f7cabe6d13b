package parser

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/saviobatista/flightpath/internal/types"
)

// Waypoint field positions in an upstream track path row
const (
	FieldTime = iota
	FieldLatitude
	FieldLongitude
	FieldBaroAltitude
	FieldTrueTrack
	FieldOnGround

	minFields = FieldLongitude + 1
)

type rawTrack struct {
	Icao24    string              `json:"icao24"`
	Callsign  *string             `json:"callsign"`
	StartTime float64             `json:"startTime"`
	EndTime   float64             `json:"endTime"`
	Path      [][]json.RawMessage `json:"path"`
}

// ParseTrack decodes a tracks endpoint response into a Track. Rows carry
// [time, latitude, longitude, baro_altitude, true_track, on_ground]; any of
// the values after time may be null.
func ParseTrack(body []byte) (*types.Track, error) {
	var raw rawTrack
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode track: %w", err)
	}
	if raw.Icao24 == "" {
		return nil, fmt.Errorf("invalid track: missing icao24")
	}

	track := &types.Track{
		Icao24:    strings.ToLower(strings.TrimSpace(raw.Icao24)),
		StartTime: unixTime(raw.StartTime),
		EndTime:   unixTime(raw.EndTime),
		Path:      make([]types.TrackPoint, 0, len(raw.Path)),
	}
	if raw.Callsign != nil {
		track.Callsign = strings.TrimSpace(*raw.Callsign)
	}

	for i, row := range raw.Path {
		point, err := parseWaypoint(row)
		if err != nil {
			return nil, fmt.Errorf("invalid waypoint %d: %w", i, err)
		}
		track.Path = append(track.Path, point)
	}

	return track, nil
}

func parseWaypoint(row []json.RawMessage) (types.TrackPoint, error) {
	if len(row) < minFields {
		return types.TrackPoint{}, fmt.Errorf("expected at least %d fields, got %d", minFields, len(row))
	}

	var ts float64
	if err := json.Unmarshal(row[FieldTime], &ts); err != nil {
		return types.TrackPoint{}, fmt.Errorf("invalid time: %w", err)
	}

	point := types.TrackPoint{Time: unixTime(ts)}
	var err error
	if point.Latitude, err = optionalFloat(row, FieldLatitude); err != nil {
		return types.TrackPoint{}, fmt.Errorf("invalid latitude: %w", err)
	}
	if point.Longitude, err = optionalFloat(row, FieldLongitude); err != nil {
		return types.TrackPoint{}, fmt.Errorf("invalid longitude: %w", err)
	}
	if point.BaroAltitude, err = optionalFloat(row, FieldBaroAltitude); err != nil {
		return types.TrackPoint{}, fmt.Errorf("invalid altitude: %w", err)
	}
	if point.TrueTrack, err = optionalFloat(row, FieldTrueTrack); err != nil {
		return types.TrackPoint{}, fmt.Errorf("invalid true track: %w", err)
	}
	if len(row) > FieldOnGround {
		// Malformed on_ground values are treated as airborne.
		_ = json.Unmarshal(row[FieldOnGround], &point.OnGround)
	}

	return point, nil
}

// optionalFloat returns nil for missing or null fields
func optionalFloat(row []json.RawMessage, idx int) (*float64, error) {
	if idx >= len(row) {
		return nil, nil
	}
	var v *float64
	if err := json.Unmarshal(row[idx], &v); err != nil {
		return nil, err
	}
	return v, nil
}

func unixTime(sec float64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(sec*float64(time.Second))).UTC()
}
