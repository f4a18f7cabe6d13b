package api

import (
	"net/http"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/saviobatista/flightpath/internal/geo"
	"github.com/saviobatista/flightpath/internal/position"
	"github.com/saviobatista/flightpath/internal/profile"
	"github.com/saviobatista/flightpath/internal/types"
)

// TrajectoryGeoJSON handles POST /api/trajectory/geojson. The response is a
// FeatureCollection with the route as a LineString and the aircraft as a Point
// carrying its heading, icon and telemetry.
func (h *Handler) TrajectoryGeoJSON(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if !h.decode(w, r, &req) {
		return
	}

	envelope, err := h.envelopeFor(req.trajectoryRequest)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	seq := req.Sequence
	if len(seq) == 0 {
		if seq, err = h.build(req.trajectoryRequest); err != nil {
			h.writeError(r.Context(), w, err)
			return
		}
	}

	pos, err := h.resolve(seq, envelope, req.ProgressPercent, req.Now)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, FeatureCollection(seq, pos.Snapshot, pos.Phase, pos.Icon))
}

// FeatureCollection renders a sequence and the resolved aircraft position
func FeatureCollection(seq types.Sequence, pos position.Snapshot, phase profile.Phase, icon string) *geojson.FeatureCollection {
	line := make(orb.LineString, 0, len(seq))
	for _, p := range seq {
		line = append(line, geo.ToOrb(p.GeoPoint))
	}

	route := geojson.NewFeature(line)
	route.Properties["kind"] = "route"
	route.Properties["distance_m"] = geo.Distance(seq.First().GeoPoint, seq.Last().GeoPoint)
	route.Properties["departure"] = seq.First().Timestamp
	route.Properties["arrival"] = seq.Last().Timestamp

	aircraft := geojson.NewFeature(geo.ToOrb(pos.Point.GeoPoint))
	aircraft.Properties["kind"] = "aircraft"
	aircraft.Properties["heading"] = pos.Heading.Degrees
	aircraft.Properties["heading_bucket"] = pos.Heading.Bucket
	aircraft.Properties["icon"] = icon
	aircraft.Properties["altitude"] = pos.Point.Altitude
	aircraft.Properties["speed"] = pos.Point.Speed
	aircraft.Properties["progress_percent"] = pos.ProgressPercent
	aircraft.Properties["phase"] = string(phase)
	aircraft.Properties["status"] = string(pos.Status)

	fc := geojson.NewFeatureCollection()
	fc.Append(route)
	fc.Append(aircraft)
	return fc
}
