// Package swpc fetches ambient space-weather telemetry from NOAA SWPC: the
// current solar-wind speed and the planetary K-index. The values are display
// context for the visualization and drive alert levels; they do not feed the
// propagation model, which carries its own fixed ambient floor.
package swpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"

	"github.com/helio/solwind/internal/metrics"
)

const defaultBaseURL = "https://services.swpc.noaa.gov"

const (
	windSpeedPath = "/products/summary/solar-wind-speed.json"
	kpIndexPath   = "/products/summary/planetary-k-index.json"
)

// Conditions is a snapshot of ambient solar-wind state.
type Conditions struct {
	SolarWindKmPerSec float64   `json:"solar_wind_km_s"`
	KpIndex           float64   `json:"kp_index"`
	ObservedAt        time.Time `json:"observed_at"`
	FetchedAt         time.Time `json:"fetched_at"`
}

// Client fetches SWPC summary products through a shared circuit breaker.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	logger     *slog.Logger

	current atomic.Pointer[Conditions]
}

// NewClient creates a Client for the given base URL (empty for the NOAA
// production host).
func NewClient(baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "swpc",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		breaker: cb,
		logger:  logger,
	}
}

// Current returns the latest conditions snapshot, or nil before the first
// successful refresh.
func (c *Client) Current() *Conditions {
	return c.current.Load()
}

// windSummary mirrors the SWPC solar-wind-speed summary product. SWPC encodes
// numbers as strings.
type windSummary struct {
	WindSpeed string `json:"WindSpeed"`
	TimeStamp string `json:"TimeStamp"`
}

// kpSummary mirrors the SWPC planetary-k-index summary product.
type kpSummary struct {
	KpIndex   string `json:"Kp"`
	TimeStamp string `json:"TimeStamp"`
}

// Refresh fetches both summary products concurrently and swaps in a new
// snapshot. Either product failing fails the refresh and keeps the old
// snapshot.
func (c *Client) Refresh(ctx context.Context) error {
	start := time.Now()

	var wind windSummary
	var kp kpSummary

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.getJSON(gctx, windSpeedPath, &wind)
	})
	g.Go(func() error {
		return c.getJSON(gctx, kpIndexPath, &kp)
	})

	err := g.Wait()
	metrics.RecordFetch("swpc", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("refreshing SWPC conditions: %w", err)
	}

	speed, err := strconv.ParseFloat(wind.WindSpeed, 64)
	if err != nil {
		return fmt.Errorf("invalid solar wind speed %q: %w", wind.WindSpeed, err)
	}
	kpVal, err := strconv.ParseFloat(kp.KpIndex, 64)
	if err != nil {
		return fmt.Errorf("invalid Kp index %q: %w", kp.KpIndex, err)
	}

	cond := &Conditions{
		SolarWindKmPerSec: speed,
		KpIndex:           kpVal,
		ObservedAt:        parseSWPCTime(wind.TimeStamp),
		FetchedAt:         time.Now().UTC(),
	}
	c.current.Store(cond)

	metrics.SetSolarWindSpeed(speed)
	metrics.SetKpIndex(kpVal)

	c.logger.Info("SWPC conditions refreshed",
		"solar_wind_km_s", speed,
		"kp_index", kpVal,
	)
	return nil
}

// Run refreshes immediately, then on every interval tick until ctx is
// cancelled. A non-positive interval defaults to 5m.
func (c *Client) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("initial SWPC refresh failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("SWPC monitor stopped")
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.Warn("SWPC refresh failed", "error", err)
			}
		}
	}
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	body, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, path)
		}

		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// parseSWPCTime parses SWPC's "2006-01-02 15:04:05" UTC timestamps. A zero
// time is returned for unparseable input; observers treat it as unknown.
func parseSWPCTime(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
