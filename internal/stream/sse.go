// Package stream implements Server-Sent Events (SSE) streaming for CME
// keyframe batches. Clients connect via GET /api/v1/stream/cmes and receive
// a continuous stream of front positions from the keyframe cache.
//
// SSE message format:
//
//	data: {"type":"keyframe_batch","t":"2026-03-14T04:00:00Z","cme":[...]}\n\n
//
// First message is always metadata:
//
//	data: {"type":"metadata","catalog_fetched_at":"...","catalog_age_seconds":900,...}\n\n
//
// Keep-alive comments (:\n\n) are sent every KeepaliveInterval to prevent
// timeout. Reconnecting clients receive a fresh metadata message on each
// connection.
package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/helio/solwind/internal/cache"
	"github.com/helio/solwind/internal/donki"
	"github.com/helio/solwind/internal/httputil"
	"github.com/helio/solwind/internal/metrics"
	"github.com/helio/solwind/internal/propagation"
	"github.com/helio/solwind/internal/swpc"
)

// Config holds streaming configuration.
type Config struct {
	MaxConcurrentPerIP int           // Max concurrent streams per IP (default: 10).
	BandwidthLimit     int           // Bytes per second per stream (default: 1048576).
	KeepaliveInterval  time.Duration // Keep-alive ping interval (default: 30s).
	TrustProxy         bool          // Honor X-Forwarded-For when behind a proxy.
}

// Handler manages SSE streaming connections.
type Handler struct {
	cache      *cache.KeyframeCache
	store      *donki.Store
	conditions *swpc.Client // may be nil when SWPC polling is disabled
	config     Config
	limiter    *streamLimiter
	logger     *slog.Logger
}

// NewHandler creates a new streaming handler.
func NewHandler(kfCache *cache.KeyframeCache, store *donki.Store, conditions *swpc.Client, config Config, logger *slog.Logger) *Handler {
	return &Handler{
		cache:      kfCache,
		store:      store,
		conditions: conditions,
		config:     config,
		limiter:    newStreamLimiter(config.MaxConcurrentPerIP),
		logger:     logger,
	}
}

// HandleCMEs serves the SSE CME keyframe stream.
// GET /api/v1/stream/cmes?step=5&trail=20
func (h *Handler) HandleCMEs(w http.ResponseWriter, r *http.Request) {
	// Parse query parameters.
	step := 5
	if v := r.URL.Query().Get("step"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 60 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid step parameter, must be 1-60"})
			return
		}
		step = n
	}

	trail := 20
	if v := r.URL.Query().Get("trail"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 120 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid trail parameter, must be 0-120"})
			return
		}
		trail = n
	}

	// Rate limiting: enforce concurrent stream limit per IP.
	ip := clientIP(r, h.config.TrustProxy)
	if !h.limiter.acquire(ip) {
		metrics.IncStreamErrors("rate_limit")
		h.logger.Warn("stream rate limit exceeded",
			"remote_ip", ip,
			"current_count", h.limiter.count(ip),
		)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "too many concurrent streams"})
		return
	}

	// Track connection metrics.
	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()

	startTime := time.Now()
	h.logger.Info("stream connected",
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
		"step", step,
		"trail", trail,
	)

	// Cleanup on disconnect: release rate limit slot and update metrics.
	defer func() {
		h.limiter.release(ip)
		metrics.IncStreamConnections("disconnect")
		metrics.DecStreamsActive()
		h.logger.Info("stream disconnected",
			"remote_ip", ip,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	// Verify flusher support (required for SSE).
	flusher, ok := w.(http.Flusher)
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "streaming not supported"})
		return
	}

	// Set SSE response headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Use ResponseController to manage write deadlines for long-lived SSE.
	// Clear the server's default WriteTimeout for this connection.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	c := &client{
		w:           w,
		flusher:     flusher,
		rc:          rc,
		ip:          ip,
		logger:      h.logger,
		limit:       h.config.BandwidthLimit,
		windowStart: time.Now(),
		sleep:       time.Sleep,
	}

	// Send jittered retry interval (3-7s) to prevent thundering-herd
	// reconnection storms when the server restarts.
	retryMs := 3000 + rand.Intn(4000)
	fmt.Fprintf(w, "retry: %d\n\n", retryMs)
	flusher.Flush()

	// Send metadata message (first message on every connection).
	if err := c.sendJSON(h.buildMetadata()); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error (metadata)", "remote_ip", ip, "error", err)
		return
	}

	// Stream keyframes at the requested step interval.
	stepDuration := time.Duration(step) * time.Second
	ticker := time.NewTicker(stepDuration)
	defer ticker.Stop()

	keepaliveTicker := time.NewTicker(h.config.KeepaliveInterval)
	defer keepaliveTicker.Stop()

	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			return

		case t := <-ticker.C:
			kf := h.cache.Get(t)
			if kf == nil {
				metrics.IncStreamErrors("cache_miss")
				h.logger.Debug("stream cache miss",
					"timestamp", h.cache.RoundToStep(t).UTC().Format(time.RFC3339),
					"remote_ip", ip,
				)
				continue
			}

			var trailKFs []*propagation.Keyframe
			if trail > 0 {
				trailKFs = h.cache.GetRecent(t, trail)
			}

			batch := buildBatchMessage(kf, trailKFs)
			data, err := json.Marshal(batch)
			if err != nil {
				metrics.IncStreamErrors("marshal_error")
				h.logger.Warn("stream marshal error", "remote_ip", ip, "error", err)
				continue
			}
			if err := c.sendRaw(data); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
				return
			}

			// Reset keepalive since we just sent data.
			keepaliveTicker.Reset(h.config.KeepaliveInterval)

		case <-keepaliveTicker.C:
			if err := c.sendKeepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}

// buildMetadata assembles the first message of every connection: catalog
// freshness plus the latest ambient conditions when available.
func (h *Handler) buildMetadata() metadataMessage {
	meta := metadataMessage{Type: "metadata"}

	if ds := h.store.Get(); ds != nil {
		meta.CatalogFetchedAt = ds.FetchedAt.UTC().Format(time.RFC3339)
		meta.CatalogAge = int(time.Since(ds.FetchedAt).Seconds())
		meta.EventCount = len(ds.Events)
	}

	if h.conditions != nil {
		if cond := h.conditions.Current(); cond != nil {
			meta.SolarWindKmPerSec = cond.SolarWindKmPerSec
			meta.KpIndex = cond.KpIndex
		}
	}

	return meta
}

// buildBatchMessage formats a keyframe into the SSE batch payload.
// If trailKFs is non-empty, each CME includes its past front distances
// (oldest first).
func buildBatchMessage(kf *propagation.Keyframe, trailKFs []*propagation.Keyframe) keyframeBatchMessage {
	// Build index: event ID → trail distances (oldest first).
	var trailIndex map[string][]float64
	if len(trailKFs) > 0 {
		trailIndex = make(map[string][]float64, len(kf.Fronts))
		for _, tkf := range trailKFs {
			for _, f := range tkf.Fronts {
				trailIndex[f.ID] = append(trailIndex[f.ID], f.DistanceKm)
			}
		}
	}

	cmes := make([]cmePayload, len(kf.Fronts))
	for i, f := range kf.Fronts {
		cmes[i] = cmePayload{
			ID:            f.ID,
			D:             f.DistanceKm,
			AU:            f.FractionAU,
			Band:          string(f.Band),
			Op:            f.Opacity,
			Lon:           f.LongitudeDeg,
			Lat:           f.LatitudeDeg,
			HA:            f.HalfAngleDeg,
			EarthDirected: f.EarthDirected,
			Arrived:       f.Arrived,
		}
		if trailIndex != nil {
			if tr, ok := trailIndex[f.ID]; ok {
				cmes[i].Tr = tr
			}
		}
	}
	return keyframeBatchMessage{
		Type: "keyframe_batch",
		T:    kf.Timestamp.UTC().Format(time.RFC3339),
		CME:  cmes,
	}
}

// clientIP extracts the connection's client IP for rate limiting.
func clientIP(r *http.Request, trustProxy bool) string {
	return httputil.ClientIP(r, trustProxy)
}

// SSE message payload types.

type metadataMessage struct {
	Type              string  `json:"type"`
	CatalogFetchedAt  string  `json:"catalog_fetched_at,omitempty"`
	CatalogAge        int     `json:"catalog_age_seconds"`
	EventCount        int     `json:"event_count"`
	SolarWindKmPerSec float64 `json:"solar_wind_km_s,omitempty"`
	KpIndex           float64 `json:"kp_index,omitempty"`
}

type keyframeBatchMessage struct {
	Type string       `json:"type"`
	T    string       `json:"t"`
	CME  []cmePayload `json:"cme"`
}

type cmePayload struct {
	ID            string    `json:"id"`
	D             float64   `json:"d"`
	AU            float64   `json:"au"`
	Band          string    `json:"band"`
	Op            float64   `json:"op"`
	Lon           float64   `json:"lon"`
	Lat           float64   `json:"lat"`
	HA            float64   `json:"ha"`
	EarthDirected bool      `json:"ed"`
	Arrived       bool      `json:"arr"`
	Tr            []float64 `json:"tr,omitempty"`
}
