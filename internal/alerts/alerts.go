// Package alerts derives active space-weather alerts from the CME catalog
// and ambient conditions. An alert is raised for every Earth-directed CME
// classified strong or above, and for geomagnetic storm conditions (Kp >= 5).
// Alerts are re-evaluated periodically and retire on their own once the
// triggering condition clears.
package alerts

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helio/solwind/internal/donki"
	"github.com/helio/solwind/internal/metrics"
	"github.com/helio/solwind/internal/propagation"
	"github.com/helio/solwind/internal/swpc"
)

// Kind discriminates alert categories.
type Kind string

const (
	// KindCMEImpact marks an Earth-directed CME fast enough to matter.
	KindCMEImpact Kind = "cme_impact"
	// KindGeomagneticStorm marks elevated planetary Kp.
	KindGeomagneticStorm Kind = "geomagnetic_storm"
)

// Alert is one active space-weather alert.
type Alert struct {
	ID               string     `json:"id"`
	Kind             Kind       `json:"kind"`
	Severity         string     `json:"severity"`
	EventID          string     `json:"event_id,omitempty"`
	Message          string     `json:"message"`
	IssuedAt         time.Time  `json:"issued_at"`
	PredictedArrival *time.Time `json:"predicted_arrival,omitempty"`
}

// ConditionsSource supplies the latest ambient readings. Nil readings mean
// no data yet.
type ConditionsSource interface {
	Current() *swpc.Conditions
}

// Evaluator recomputes the active alert set from the catalog and conditions.
type Evaluator struct {
	store      *donki.Store
	conditions ConditionsSource
	logger     *slog.Logger

	mu     sync.RWMutex
	active map[string]Alert // keyed by trigger, not by alert ID

	nowFn func() time.Time
}

// NewEvaluator creates an alert evaluator. conditions may be nil when SWPC
// polling is disabled.
func NewEvaluator(store *donki.Store, conditions ConditionsSource, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		store:      store,
		conditions: conditions,
		logger:     logger,
		active:     make(map[string]Alert),
		nowFn:      time.Now,
	}
}

// Evaluate recomputes the alert set. An alert that was already active for
// the same trigger keeps its ID and issue time; cleared triggers retire
// their alerts.
func (e *Evaluator) Evaluate() {
	next := make(map[string]Alert)
	now := e.nowFn().UTC()

	if ds := e.store.Get(); ds != nil {
		for _, ev := range ds.Events {
			if !ev.EarthDirected {
				continue
			}
			band := propagation.Classify(ev.SpeedKmPerSec).Band
			if bandRank(band) < bandRank(propagation.BandStrong) {
				continue
			}
			key := "cme:" + ev.ID
			next[key] = e.carryOrIssue(key, Alert{
				ID:               uuid.New().String(),
				Kind:             KindCMEImpact,
				Severity:         string(band),
				EventID:          ev.ID,
				Message:          "Earth-directed CME " + ev.ID + " classified " + string(band),
				IssuedAt:         now,
				PredictedArrival: ev.PredictedArrival,
			})
		}
	}

	if e.conditions != nil {
		if cond := e.conditions.Current(); cond != nil && cond.KpIndex >= 5 {
			key := "kp"
			next[key] = e.carryOrIssue(key, Alert{
				ID:       uuid.New().String(),
				Kind:     KindGeomagneticStorm,
				Severity: stormScale(cond.KpIndex),
				Message:  "Geomagnetic storm in progress (" + stormScale(cond.KpIndex) + ")",
				IssuedAt: now,
			})
		}
	}

	e.mu.Lock()
	issued, retired := diffKeys(e.active, next)
	e.active = next
	e.mu.Unlock()

	metrics.SetActiveAlerts(len(next))

	if issued > 0 || retired > 0 {
		e.logger.Info("alert set updated",
			"active", len(next),
			"issued", issued,
			"retired", retired,
		)
	}
}

// carryOrIssue keeps the existing alert for key when one is active, but
// refreshes its severity and message; otherwise the fresh alert is used.
func (e *Evaluator) carryOrIssue(key string, fresh Alert) Alert {
	e.mu.RLock()
	prev, ok := e.active[key]
	e.mu.RUnlock()
	if !ok {
		return fresh
	}
	fresh.ID = prev.ID
	fresh.IssuedAt = prev.IssuedAt
	return fresh
}

// Active returns the current alerts, oldest first.
func (e *Evaluator) Active() []Alert {
	e.mu.RLock()
	out := make([]Alert, 0, len(e.active))
	for _, a := range e.active {
		out = append(out, a)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].IssuedAt.Before(out[j].IssuedAt)
	})
	return out
}

// Run re-evaluates on a fixed interval until ctx is cancelled.
func (e *Evaluator) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	e.Evaluate()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Evaluate()
		}
	}
}

// bandRank orders classification bands for threshold comparisons.
func bandRank(b propagation.Band) int {
	switch b {
	case propagation.BandSlow:
		return 0
	case propagation.BandTransitional:
		return 1
	case propagation.BandMild:
		return 2
	case propagation.BandModerate:
		return 3
	case propagation.BandStrong:
		return 4
	case propagation.BandMajor:
		return 5
	case propagation.BandExtreme:
		return 6
	default:
		return -1
	}
}

// stormScale maps Kp to the NOAA G-scale. Kp below 5 is not a storm.
func stormScale(kp float64) string {
	switch {
	case kp >= 9:
		return "G5"
	case kp >= 8:
		return "G4"
	case kp >= 7:
		return "G3"
	case kp >= 6:
		return "G2"
	case kp >= 5:
		return "G1"
	default:
		return "quiet"
	}
}

// diffKeys counts triggers present only in next (issued) and only in prev
// (retired). Caller holds the lock.
func diffKeys(prev, next map[string]Alert) (issued, retired int) {
	for k := range next {
		if _, ok := prev[k]; !ok {
			issued++
		}
	}
	for k := range prev {
		if _, ok := next[k]; !ok {
			retired++
		}
	}
	return issued, retired
}
