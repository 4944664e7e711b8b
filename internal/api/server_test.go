package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/helio/solwind/internal/auth"
	"github.com/helio/solwind/internal/cache"
	"github.com/helio/solwind/internal/config"
	"github.com/helio/solwind/internal/donki"
	"github.com/helio/solwind/internal/stream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

var launchTime = time.Date(2026, 3, 14, 4, 0, 0, 0, time.UTC)

func testEvents() []donki.CMEEvent {
	arrivalTime := launchTime.Add(48 * time.Hour)
	return []donki.CMEEvent{
		{
			ID:            "2026-03-14T04:00:00-CME-001",
			StartTime:     launchTime,
			SpeedKmPerSec: 1200,
			LongitudeDeg:  -10,
			LatitudeDeg:   5,
			HalfAngleDeg:  35,
			EarthDirected: true,
		},
		{
			ID:               "2026-03-14T02:00:00-CME-001",
			StartTime:        launchTime.Add(-2 * time.Hour),
			SpeedKmPerSec:    650,
			HalfAngleDeg:     24,
			PredictedArrival: &arrivalTime,
		},
	}
}

func testServer(t *testing.T, store *donki.Store) *Server {
	t.Helper()

	kfCache := cache.NewKeyframeCache(cache.Config{
		Step:        5 * time.Second,
		Horizon:     30 * time.Second,
		GracePeriod: 5 * time.Second,
		Buffer:      10 * time.Second,
	}, nil, store, testLogger())

	streams := stream.NewHandler(kfCache, store, nil, stream.Config{
		MaxConcurrentPerIP: 10,
		KeepaliveInterval:  30 * time.Second,
	}, testLogger())

	return NewServer(config.ServerConfig{Addr: ":0"}, Deps{
		Store:   store,
		Streams: streams,
	}, auth.Config{}, testLogger())
}

func loadedStore() *donki.Store {
	store := donki.NewStore()
	store.Set(donki.NewDataset("donki", time.Now().UTC(), testEvents()))
	return store
}

func doRequest(s *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()
	s.HTTPServer().Handler.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	s := testServer(t, loadedStore())

	w := doRequest(s, "GET", "/healthz")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestReadyzNoCatalog(t *testing.T) {
	s := testServer(t, donki.NewStore())

	w := doRequest(s, "GET", "/readyz")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestReadyzWithCatalog(t *testing.T) {
	s := testServer(t, loadedStore())

	w := doRequest(s, "GET", "/readyz")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestListCMEs(t *testing.T) {
	s := testServer(t, loadedStore())

	w := doRequest(s, "GET", "/api/v1/cmes")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Source string `json:"source"`
		Count  int    `json:"count"`
		Events []struct {
			ID   string `json:"id"`
			Band string `json:"band"`
			Mode string `json:"mode"`
		} `json:"events"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}

	if resp.Source != "donki" {
		t.Errorf("source = %q, want donki", resp.Source)
	}
	if resp.Count != 2 {
		t.Fatalf("count = %d, want 2", resp.Count)
	}
	if resp.Events[0].Band != "strong" {
		t.Errorf("events[0].band = %q, want strong", resp.Events[0].Band)
	}
	if resp.Events[0].Mode != "decelerating" {
		t.Errorf("events[0].mode = %q, want decelerating", resp.Events[0].Mode)
	}
	if resp.Events[1].Mode != "interpolated" {
		t.Errorf("events[1].mode = %q, want interpolated (has forecast)", resp.Events[1].Mode)
	}
}

func TestListCMEsNoCatalog(t *testing.T) {
	s := testServer(t, donki.NewStore())

	w := doRequest(s, "GET", "/api/v1/cmes")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestGetCME(t *testing.T) {
	s := testServer(t, loadedStore())

	w := doRequest(s, "GET", "/api/v1/cmes/2026-03-14T04:00:00-CME-001")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var resp struct {
		ID       string `json:"id"`
		Band     string `json:"band"`
		Position *struct {
			DistanceKm float64 `json:"distance_km"`
		} `json:"position"`
		Arrival *struct {
			Source string `json:"source"`
		} `json:"arrival"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}

	if resp.ID != "2026-03-14T04:00:00-CME-001" {
		t.Errorf("id = %q", resp.ID)
	}
	if resp.Position == nil {
		t.Fatal("missing position")
	}
	if resp.Position.DistanceKm <= 0 {
		t.Errorf("distance = %v, want > 0 for a launched CME", resp.Position.DistanceKm)
	}
	if resp.Arrival == nil || resp.Arrival.Source != "kinematic" {
		t.Errorf("arrival = %+v, want kinematic source", resp.Arrival)
	}
}

func TestGetCMENotFound(t *testing.T) {
	s := testServer(t, loadedStore())

	w := doRequest(s, "GET", "/api/v1/cmes/NOPE")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestPositionQuery(t *testing.T) {
	s := testServer(t, loadedStore())

	at := launchTime.Add(time.Hour).Format(time.RFC3339)
	w := doRequest(s, "GET", "/api/v1/cmes/2026-03-14T04:00:00-CME-001/position?at="+at+"&mode=ballistic")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Mode       string  `json:"mode"`
		DistanceKm float64 `json:"distance_km"`
		Arrived    bool    `json:"arrived"`
		Pending    bool    `json:"pending"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}

	if resp.Mode != "ballistic" {
		t.Errorf("mode = %q, want ballistic", resp.Mode)
	}
	// 1200 km/s for one hour.
	if resp.DistanceKm != 1200*3600 {
		t.Errorf("distance = %v, want %v", resp.DistanceKm, 1200.0*3600)
	}
	if resp.Arrived || resp.Pending {
		t.Errorf("arrived=%v pending=%v, want false/false", resp.Arrived, resp.Pending)
	}
}

func TestPositionBeforeLaunch(t *testing.T) {
	s := testServer(t, loadedStore())

	at := launchTime.Add(-time.Hour).Format(time.RFC3339)
	w := doRequest(s, "GET", "/api/v1/cmes/2026-03-14T04:00:00-CME-001/position?at="+at)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		DistanceKm float64 `json:"distance_km"`
		Pending    bool    `json:"pending"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Pending || resp.DistanceKm != 0 {
		t.Errorf("pending=%v distance=%v, want pending at distance 0", resp.Pending, resp.DistanceKm)
	}
}

func TestPositionBadParams(t *testing.T) {
	s := testServer(t, loadedStore())

	tests := []struct {
		name  string
		query string
	}{
		{"bad timestamp", "?at=yesterday"},
		{"bad mode", "?mode=warp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(s, "GET", "/api/v1/cmes/2026-03-14T04:00:00-CME-001/position"+tt.query)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestConditionsDisabled(t *testing.T) {
	s := testServer(t, loadedStore())

	w := doRequest(s, "GET", "/api/v1/conditions")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when polling disabled", w.Code)
	}
}

func TestAlertsEmptyWithoutEvaluator(t *testing.T) {
	s := testServer(t, loadedStore())

	w := doRequest(s, "GET", "/api/v1/alerts")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp []any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp) != 0 {
		t.Errorf("alerts = %v, want empty", resp)
	}
}

// The SSE endpoint must work through the full middleware chain over a real
// connection: every wrapper has to forward Flush and expose Unwrap, or the
// frames sit in the response buffer and never reach the client.
func TestStreamThroughMiddlewareChain(t *testing.T) {
	s := testServer(t, loadedStore())

	ts := httptest.NewServer(s.HTTPServer().Handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/v1/stream/cmes", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connecting to stream: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q, want text/event-stream", ct)
	}

	var gotRetry, gotMetadata bool
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "retry: ") {
			gotRetry = true
		}
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, `"type":"metadata"`) {
			gotMetadata = true
			break
		}
	}
	if !gotRetry {
		t.Error("retry hint never reached the client")
	}
	if !gotMetadata {
		t.Errorf("metadata frame never reached the client: %v", scanner.Err())
	}
}

func TestAuthEnforcedOnAPI(t *testing.T) {
	store := loadedStore()
	kfCache := cache.NewKeyframeCache(cache.Config{
		Step:        5 * time.Second,
		Horizon:     30 * time.Second,
		GracePeriod: 5 * time.Second,
		Buffer:      10 * time.Second,
	}, nil, store, testLogger())
	streams := stream.NewHandler(kfCache, store, nil, stream.Config{
		MaxConcurrentPerIP: 10,
		KeepaliveInterval:  30 * time.Second,
	}, testLogger())

	s := NewServer(config.ServerConfig{Addr: ":0"}, Deps{
		Store:   store,
		Streams: streams,
	}, auth.Config{Enabled: true, Token: "secret"}, testLogger())

	w := doRequest(s, "GET", "/api/v1/cmes")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without token", w.Code)
	}

	req := httptest.NewRequest("GET", "/api/v1/cmes", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	s.HTTPServer().Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with token", rec.Code)
	}

	// Probes stay public.
	w = doRequest(s, "GET", "/healthz")
	if w.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", w.Code)
	}
}
