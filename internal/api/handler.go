// Package api exposes the trajectory engine and the flight data proxy over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/saviobatista/flightpath/internal/auth"
	"github.com/saviobatista/flightpath/internal/geo"
	"github.com/saviobatista/flightpath/internal/logging"
	"github.com/saviobatista/flightpath/internal/parser"
	"github.com/saviobatista/flightpath/internal/position"
	"github.com/saviobatista/flightpath/internal/profile"
	"github.com/saviobatista/flightpath/internal/proxy"
	"github.com/saviobatista/flightpath/internal/trajectory"
	"github.com/saviobatista/flightpath/internal/types"
)

// DefaultIconPrefix is prepended to NNNdeg.png to name aircraft icons
const DefaultIconPrefix = "assets/plane_"

const maxRequestBody = 4 << 20

// TrackSource fetches the live track of an aircraft as returned upstream
type TrackSource interface {
	FetchTrack(ctx context.Context, icao24 string) ([]byte, error)
}

// SequenceStore holds trajectories registered under a flight id
type SequenceStore interface {
	GetSequence(ctx context.Context, flightID string) (types.Sequence, error)
}

// Recorder receives engine usage counts
type Recorder interface {
	IncrementTrajectoriesBuilt()
	IncrementPositionsResolved()
}

// Handler serves the trajectory and position endpoints
type Handler struct {
	resolver    *position.Resolver
	envelope    profile.Envelope
	sampleCount int
	iconPrefix  string

	tracks   TrackSource
	store    SequenceStore
	recorder Recorder
	logger   logging.Logger
	now      func() time.Time
}

// Option configures a Handler
type Option func(*Handler)

func WithTrackSource(s TrackSource) Option     { return func(h *Handler) { h.tracks = s } }
func WithSequenceStore(s SequenceStore) Option { return func(h *Handler) { h.store = s } }
func WithRecorder(r Recorder) Option           { return func(h *Handler) { h.recorder = r } }
func WithLogger(l logging.Logger) Option       { return func(h *Handler) { h.logger = l } }
func WithClock(now func() time.Time) Option    { return func(h *Handler) { h.now = now } }
func WithIconPrefix(prefix string) Option      { return func(h *Handler) { h.iconPrefix = prefix } }
func WithEnvelope(e profile.Envelope) Option   { return func(h *Handler) { h.envelope = e } }

// NewHandler creates a handler quantizing headings to headingStep degrees and
// building sampleCount points per trajectory when a request sets none
func NewHandler(headingStep, sampleCount int, opts ...Option) (*Handler, error) {
	resolver, err := position.NewResolver(headingStep)
	if err != nil {
		return nil, err
	}
	if sampleCount == 0 {
		sampleCount = trajectory.DefaultSampleCount
	}

	h := &Handler{
		resolver:    resolver,
		envelope:    profile.DefaultEnvelope(),
		sampleCount: sampleCount,
		iconPrefix:  DefaultIconPrefix,
		logger:      logging.Noop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if err := h.envelope.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

// trajectoryRequest describes a synthetic flight. Departure defaults to now.
type trajectoryRequest struct {
	Start                types.GeoPoint    `json:"start"`
	End                  types.GeoPoint    `json:"end"`
	Departure            *time.Time        `json:"departure,omitempty"`
	TotalDurationSeconds float64           `json:"totalDurationSeconds"`
	SampleCount          int               `json:"sampleCount,omitempty"`
	Envelope             *profile.Envelope `json:"envelope,omitempty"`
}

// positionRequest resolves a position either on a supplied sequence or on a
// trajectory built from the embedded request. ProgressPercent overrides the
// clock; otherwise Now (default: current time) is used.
type positionRequest struct {
	trajectoryRequest
	Sequence        types.Sequence `json:"sequence,omitempty"`
	ProgressPercent *float64       `json:"progressPercent,omitempty"`
	Now             *time.Time     `json:"now,omitempty"`
}

type trajectoryResponse struct {
	Sequence types.Sequence `json:"sequence"`
	Distance float64        `json:"distance_m"`
	Duration float64        `json:"duration_seconds"`
}

type positionResponse struct {
	position.Snapshot
	Phase         profile.Phase `json:"phase"`
	Icon          string        `json:"icon"`
	ElapsedText   string        `json:"elapsed_text"`
	RemainingText string        `json:"remaining_text"`
}

type liveTrackResponse struct {
	Icao24   string           `json:"icao24"`
	Callsign string           `json:"callsign"`
	Sequence types.Sequence   `json:"sequence"`
	Position positionResponse `json:"position"`
}

// Trajectory handles POST /api/trajectory
func (h *Handler) Trajectory(w http.ResponseWriter, r *http.Request) {
	var req trajectoryRequest
	if !h.decode(w, r, &req) {
		return
	}

	seq, err := h.build(req)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, trajectoryResponse{
		Sequence: seq,
		Distance: geo.Distance(seq.First().GeoPoint, seq.Last().GeoPoint),
		Duration: seq.Duration().Seconds(),
	})
}

// Position handles POST /api/position
func (h *Handler) Position(w http.ResponseWriter, r *http.Request) {
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

	resp, err := h.resolve(seq, envelope, req.ProgressPercent, req.Now)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// FlightPosition handles GET /api/flights/{flightID}/position for
// trajectories registered by the demo feed
func (h *Handler) FlightPosition(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "no trajectory store configured")
		return
	}
	flightID := chi.URLParam(r, "flightID")

	seq, err := h.store.GetSequence(r.Context(), flightID)
	if err != nil {
		h.logger.Error(r.Context(), "failed to load trajectory", logging.String("flight_id", flightID), logging.Err(err))
		writeError(w, http.StatusInternalServerError, "failed to load trajectory")
		return
	}
	if seq == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown flight %q", flightID))
		return
	}

	resp, err := h.resolve(seq, h.envelope, nil, nil)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, PositionUpdate(flightID, "", resp.Snapshot, resp.Phase, resp.Icon))
}

// LiveTrack handles GET /api/live/{icao24}: the upstream track is converted
// into the same sequence shape as synthetic trajectories
func (h *Handler) LiveTrack(w http.ResponseWriter, r *http.Request) {
	if h.tracks == nil {
		writeError(w, http.StatusNotFound, "live tracks are not configured")
		return
	}
	icao24 := chi.URLParam(r, "icao24")

	body, err := h.tracks.FetchTrack(r.Context(), icao24)
	if err != nil {
		h.writeUpstreamError(r.Context(), w, err)
		return
	}
	track, err := parser.ParseTrack(body)
	if err != nil {
		h.logger.Warn(r.Context(), "unreadable live track", logging.String("icao24", icao24), logging.Err(err))
		writeError(w, http.StatusBadGateway, "flight data temporarily unavailable")
		return
	}
	seq, err := trajectory.FromTrack(*track)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if seq, err = resample(seq, r.URL.Query()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// A live track ends at the aircraft's latest reported position.
	last := 100.0
	pos, err := h.resolve(seq, h.envelope, &last, nil)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, liveTrackResponse{
		Icao24:   track.Icao24,
		Callsign: track.Callsign,
		Sequence: seq,
		Position: pos,
	})
}

func (h *Handler) build(req trajectoryRequest) (types.Sequence, error) {
	if math.IsNaN(req.TotalDurationSeconds) || req.TotalDurationSeconds <= 0 {
		return nil, fmt.Errorf("%w: totalDurationSeconds must be positive", trajectory.ErrInvalidQuery)
	}
	departure := h.now()
	if req.Departure != nil {
		departure = *req.Departure
	}
	envelope, err := h.envelopeFor(req)
	if err != nil {
		return nil, err
	}
	n := req.SampleCount
	if n == 0 {
		n = h.sampleCount
	}

	seq, err := trajectory.Build(trajectory.Query{
		Start:         req.Start,
		End:           req.End,
		Departure:     departure,
		TotalDuration: time.Duration(req.TotalDurationSeconds * float64(time.Second)),
		SampleCount:   n,
		Envelope:      envelope,
	})
	if err != nil {
		return nil, err
	}
	if h.recorder != nil {
		h.recorder.IncrementTrajectoriesBuilt()
	}
	return seq, nil
}

// envelopeFor returns the request's envelope, or the handler's default
func (h *Handler) envelopeFor(req trajectoryRequest) (profile.Envelope, error) {
	if req.Envelope == nil {
		return h.envelope, nil
	}
	if err := req.Envelope.Validate(); err != nil {
		return profile.Envelope{}, err
	}
	return *req.Envelope, nil
}

// resolve picks the position by explicit progress when given, else by the
// wall clock (or the supplied instant). The phase comes from envelope, which
// must be the one the sequence was built with.
func (h *Handler) resolve(seq types.Sequence, envelope profile.Envelope, pct *float64, at *time.Time) (positionResponse, error) {
	var snap position.Snapshot
	if pct != nil {
		result, err := h.resolver.Resolve(seq, *pct)
		if err != nil {
			return positionResponse{}, err
		}
		total := seq.Duration()
		progress := position.Progress{
			Elapsed: time.Duration(clampPercent(*pct) / 100 * float64(total)),
			Total:   total,
		}
		snap = position.Snapshot{
			Result:          result,
			ProgressPercent: clampPercent(*pct),
			Elapsed:         progress.Elapsed,
			Remaining:       progress.Remaining(),
			Status:          progress.Status(),
		}
	} else {
		now := h.now()
		if at != nil {
			now = *at
		}
		var err error
		if snap, err = h.resolver.ResolveAt(seq, now); err != nil {
			return positionResponse{}, err
		}
	}

	if h.recorder != nil {
		h.recorder.IncrementPositionsResolved()
	}
	fraction := float64(snap.Index) / float64(len(seq)-1)
	return positionResponse{
		Snapshot:      snap,
		Phase:         envelope.PhaseAt(fraction),
		Icon:          position.IconName(h.iconPrefix, snap.Heading.Bucket),
		ElapsedText:   position.FormatDuration(snap.Elapsed),
		RemainingText: position.FormatDuration(snap.Remaining),
	}, nil
}

// PositionUpdate flattens a snapshot into the message map consumers receive
func PositionUpdate(flightID, callsign string, snap position.Snapshot, phase profile.Phase, icon string) *types.PositionUpdate {
	return &types.PositionUpdate{
		FlightID:        flightID,
		Callsign:        callsign,
		Latitude:        snap.Point.Lat,
		Longitude:       snap.Point.Lon,
		Altitude:        snap.Point.Altitude,
		Speed:           snap.Point.Speed,
		Heading:         snap.Heading.Degrees,
		HeadingBucket:   snap.Heading.Bucket,
		Icon:            icon,
		ProgressPercent: snap.ProgressPercent,
		Phase:           string(phase),
		Status:          string(snap.Status),
		Timestamp:       snap.Point.Timestamp,
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// writeError maps engine errors onto 400 and everything else onto 500
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, trajectory.ErrInvalidQuery),
		errors.Is(err, geo.ErrInvalidInput),
		errors.Is(err, profile.ErrInvalidEnvelope),
		errors.Is(err, position.ErrInvalidSequence),
		errors.Is(err, position.ErrInvalidProgress):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error(ctx, "request failed", logging.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) writeUpstreamError(ctx context.Context, w http.ResponseWriter, err error) {
	var upstreamErr *proxy.UpstreamError
	switch {
	case errors.As(err, &upstreamErr):
		writeError(w, upstreamErr.Status, fmt.Sprintf("flight data service returned %d", upstreamErr.Status))
	case errors.Is(err, auth.ErrAuthExchangeFailed):
		h.logger.Error(ctx, "token exchange failed", logging.Err(err))
		writeError(w, http.StatusBadGateway, "failed to authenticate with flight data service")
	case errors.Is(err, proxy.ErrUnavailable):
		h.logger.Warn(ctx, "flight data service unavailable", logging.Err(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		h.logger.Warn(ctx, "live track fetch failed", logging.Err(err))
		writeError(w, http.StatusBadGateway, "flight data temporarily unavailable")
	}
}

// resample applies ?resample=time|distance|dense with ?samples=N (default
// trajectory.DefaultSampleCount). Without a mode the track is returned as is.
func resample(seq types.Sequence, q url.Values) (types.Sequence, error) {
	mode := q.Get("resample")
	if mode == "" {
		return seq, nil
	}
	n := trajectory.DefaultSampleCount
	if v := q.Get("samples"); v != "" {
		var err error
		if n, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid samples %q", v)
		}
	}

	switch mode {
	case "time":
		return trajectory.ResampleByTime(seq, n)
	case "distance":
		return trajectory.ResampleByDistance(seq, n)
	case "dense":
		return trajectory.ResampleDense(seq)
	default:
		return nil, fmt.Errorf("unknown resample mode %q", mode)
	}
}

func clampPercent(p float64) float64 {
	return math.Max(0, math.Min(100, p))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	proxy.WriteJSONError(w, status, msg)
}
