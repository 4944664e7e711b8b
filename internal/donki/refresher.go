package donki

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/helio/solwind/internal/metrics"
)

// Refresher periodically pulls the CME catalog from DONKI, replaces the
// store's dataset, and snapshots the raw payload to the disk cache.
type Refresher struct {
	fetcher  *Fetcher
	store    *Store
	cache    *Cache
	interval time.Duration
	logger   *slog.Logger
}

// NewRefresher creates a Refresher. A non-positive interval defaults to 15m.
func NewRefresher(fetcher *Fetcher, store *Store, cache *Cache, interval time.Duration, logger *slog.Logger) *Refresher {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Refresher{
		fetcher:  fetcher,
		store:    store,
		cache:    cache,
		interval: interval,
		logger:   logger,
	}
}

// Run refreshes immediately, then on every interval tick until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	if err := r.RefreshNow(ctx); err != nil {
		r.logger.Warn("initial CME refresh failed", "error", err)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("CME refresher stopped")
			return
		case <-ticker.C:
			if err := r.RefreshNow(ctx); err != nil {
				r.logger.Warn("CME refresh failed", "error", err)
			}
		}
	}
}

// RefreshNow performs a single fetch-parse-swap cycle. Fetch operations are
// serialized through the store's mutex.
func (r *Refresher) RefreshNow(ctx context.Context) error {
	r.store.Lock()
	defer r.store.Unlock()

	start := time.Now()
	data, err := r.fetcher.Fetch(ctx)
	metrics.RecordFetch("donki", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("fetching catalog: %w", err)
	}

	events, err := Parse(bytes.NewReader(data), r.logger)
	if err != nil {
		return fmt.Errorf("parsing catalog: %w", err)
	}
	if len(events) == 0 {
		// An empty catalog is usually an upstream hiccup; keep the old dataset.
		return fmt.Errorf("catalog contained no usable CME events")
	}

	fetchedAt := time.Now().UTC()
	r.store.Set(NewDataset(r.fetcher.SourceURL(), fetchedAt, events))
	metrics.SetCMEDatasetCount(len(events))

	if r.cache != nil {
		if err := r.cache.Write(data, fetchedAt); err != nil {
			r.logger.Warn("failed to write CME cache snapshot", "error", err)
		}
	}

	r.logger.Info("CME catalog refreshed",
		"events", len(events),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
