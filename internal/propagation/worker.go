package propagation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/helio/solwind/internal/donki"
)

// frontJob is a unit of work for the worker pool.
type frontJob struct {
	event      donki.CMEEvent
	targetTime time.Time
}

// frontResult is the output of a single CME front computation. pending is set
// when the event has not launched yet at the target time.
type frontResult struct {
	front   FrontPosition
	pending bool
}

// WorkerPool manages a fixed number of goroutines for parallel front
// computation. A single front is closed-form arithmetic, but catalogs with
// many events are recomputed for every keyframe in the cache window, so the
// batch is spread across workers.
type WorkerPool struct {
	workers int
	logger  *slog.Logger
}

// NewWorkerPool creates a worker pool with the given number of workers.
func NewWorkerPool(workers int, logger *slog.Logger) *WorkerPool {
	return &WorkerPool{
		workers: workers,
		logger:  logger,
	}
}

// ComputeBatch computes front positions for all events at the target time.
// Returns the visible fronts plus counts of visible and pending events.
func (wp *WorkerPool) ComputeBatch(ctx context.Context, events []donki.CMEEvent, targetTime time.Time) ([]FrontPosition, int, int) {
	if len(events) == 0 {
		return nil, 0, 0
	}

	jobs := make(chan frontJob, wp.workers*2)
	results := make(chan frontResult, wp.workers*2)

	// Start workers.
	var wg sync.WaitGroup
	for i := 0; i < wp.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				result := computeFront(job)
				select {
				case results <- result:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// Feed jobs in a goroutine.
	go func() {
		defer close(jobs)
		for _, ev := range events {
			job := frontJob{
				event:      ev,
				targetTime: targetTime,
			}
			select {
			case jobs <- job:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Close results when all workers are done.
	go func() {
		wg.Wait()
		close(results)
	}()

	// Collect results.
	fronts := make([]FrontPosition, 0, len(events))
	var visibleCount, pendingCount int

	for result := range results {
		if result.pending {
			pendingCount++
			continue
		}
		visibleCount++
		fronts = append(fronts, result.front)
	}

	return fronts, visibleCount, pendingCount
}

// computeFront evaluates one CME's front position at the job's target time.
func computeFront(job frontJob) frontResult {
	ev := job.event
	elapsed := job.targetTime.Sub(ev.StartTime).Seconds()
	if elapsed < 0 {
		return frontResult{pending: true}
	}

	mode := ModeFor(ev)
	dist := Propagate(ev, elapsed, mode, EarthOrbitRadiusKm)
	cls := Classify(ev.SpeedKmPerSec)

	return frontResult{
		front: FrontPosition{
			ID:              ev.ID,
			DistanceKm:      dist,
			FractionAU:      dist / EarthOrbitRadiusKm,
			Mode:            mode,
			Band:            cls.Band,
			Opacity:         cls.Opacity,
			ParticleDensity: cls.ParticleDensity,
			LongitudeDeg:    ev.LongitudeDeg,
			LatitudeDeg:     ev.LatitudeDeg,
			HalfAngleDeg:    ev.HalfAngleDeg,
			EarthDirected:   ev.EarthDirected,
			Arrived:         dist >= EarthOrbitRadiusKm,
		},
	}
}
