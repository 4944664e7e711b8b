package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/helio/solwind/internal/arrival"
	"github.com/helio/solwind/internal/donki"
	"github.com/helio/solwind/internal/propagation"
)

// cmeSummary is one catalog entry with its classification attached.
type cmeSummary struct {
	donki.CMEEvent
	Band            propagation.Band `json:"band"`
	Opacity         float64          `json:"opacity"`
	ParticleDensity float64          `json:"particle_density"`
	Mode            propagation.Mode `json:"mode"`
}

// catalogResponse is the /api/v1/cmes payload.
type catalogResponse struct {
	Source    string          `json:"source"`
	FetchedAt time.Time       `json:"fetched_at"`
	Range     donki.TimeRange `json:"range"`
	Count     int             `json:"count"`
	Events    []cmeSummary    `json:"events"`
}

// handleListCMEs returns the current catalog with classification.
// GET /api/v1/cmes
func (s *Server) handleListCMEs(w http.ResponseWriter, r *http.Request) {
	ds := s.store.Get()
	if ds == nil {
		writeError(w, http.StatusServiceUnavailable, "no CME catalog loaded")
		return
	}

	events := make([]cmeSummary, len(ds.Events))
	for i, ev := range ds.Events {
		events[i] = summarize(ev)
	}
	writeJSON(w, http.StatusOK, catalogResponse{
		Source:    ds.Source,
		FetchedAt: ds.FetchedAt,
		Range:     ds.Range,
		Count:     len(events),
		Events:    events,
	})
}

// cmeDetail is the /api/v1/cmes/{id} payload: the event, its current front,
// and the estimated Earth arrival.
type cmeDetail struct {
	cmeSummary
	Position *positionResponse `json:"position,omitempty"`
	Arrival  *arrival.Estimate `json:"arrival,omitempty"`
}

// handleGetCME returns one event with its current front position.
// GET /api/v1/cmes/{id}
func (s *Server) handleGetCME(w http.ResponseWriter, r *http.Request) {
	ds := s.store.Get()
	if ds == nil {
		writeError(w, http.StatusServiceUnavailable, "no CME catalog loaded")
		return
	}

	ev, ok := ds.Find(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown CME id")
		return
	}

	detail := cmeDetail{cmeSummary: summarize(ev)}

	pos := positionAt(ev, time.Now().UTC(), propagation.ModeFor(ev))
	detail.Position = &pos

	if est, err := arrival.EstimateEvent(ev); err == nil {
		detail.Arrival = &est
	}

	writeJSON(w, http.StatusOK, detail)
}

// positionResponse is a propagation query result.
type positionResponse struct {
	EventID    string           `json:"event_id"`
	At         time.Time        `json:"at"`
	Mode       propagation.Mode `json:"mode"`
	DistanceKm float64          `json:"distance_km"`
	FractionAU float64          `json:"fraction_au"`
	Arrived    bool             `json:"arrived"`
	Pending    bool             `json:"pending"` // true when at precedes launch
}

// handlePosition answers a point propagation query.
// GET /api/v1/cmes/{id}/position?at=RFC3339&mode=ballistic|decelerating|interpolated
func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	ds := s.store.Get()
	if ds == nil {
		writeError(w, http.StatusServiceUnavailable, "no CME catalog loaded")
		return
	}

	ev, ok := ds.Find(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown CME id")
		return
	}

	at := time.Now().UTC()
	if v := r.URL.Query().Get("at"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid at parameter, must be RFC3339")
			return
		}
		at = t.UTC()
	}

	mode := propagation.ModeFor(ev)
	if v := r.URL.Query().Get("mode"); v != "" {
		switch propagation.Mode(v) {
		case propagation.ModeBallistic, propagation.ModeDecelerating, propagation.ModeInterpolated:
			mode = propagation.Mode(v)
		default:
			writeError(w, http.StatusBadRequest, "invalid mode parameter")
			return
		}
	}

	writeJSON(w, http.StatusOK, positionAt(ev, at, mode))
}

// handleConditions returns the latest ambient SWPC snapshot.
// GET /api/v1/conditions
func (s *Server) handleConditions(w http.ResponseWriter, r *http.Request) {
	if s.conditions == nil {
		writeError(w, http.StatusNotFound, "ambient conditions polling disabled")
		return
	}
	cond := s.conditions.Current()
	if cond == nil {
		writeError(w, http.StatusServiceUnavailable, "no conditions data yet")
		return
	}
	writeJSON(w, http.StatusOK, cond)
}

// handleAlerts returns the active alert set.
// GET /api/v1/alerts
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, s.alerts.Active())
}

// summarize attaches the classification to an event.
func summarize(ev donki.CMEEvent) cmeSummary {
	cls := propagation.Classify(ev.SpeedKmPerSec)
	return cmeSummary{
		CMEEvent:        ev,
		Band:            cls.Band,
		Opacity:         cls.Opacity,
		ParticleDensity: cls.ParticleDensity,
		Mode:            propagation.ModeFor(ev),
	}
}

// positionAt runs one propagation step for an event.
func positionAt(ev donki.CMEEvent, at time.Time, mode propagation.Mode) positionResponse {
	elapsed := at.Sub(ev.StartTime).Seconds()
	pending := elapsed < 0
	var dist float64
	if !pending {
		dist = propagation.Propagate(ev, elapsed, mode, propagation.EarthOrbitRadiusKm)
	}
	return positionResponse{
		EventID:    ev.ID,
		At:         at,
		Mode:       mode,
		DistanceKm: dist,
		FractionAU: dist / propagation.EarthOrbitRadiusKm,
		Arrived:    dist >= propagation.EarthOrbitRadiusKm,
		Pending:    pending,
	}
}
