// Package arrival estimates when CME fronts reach Earth's orbital radius.
//
// Events with a linked forecast carry their own predicted arrival and are
// passed through. For the rest, the estimate inverts the drag model in
// closed form: a quadratic phase while the front decelerates (or
// accelerates) toward the ambient floor speed, then a constant coast.
package arrival

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/helio/solwind/internal/donki"
	"github.com/helio/solwind/internal/propagation"
)

// Source records where an estimate came from.
type Source string

const (
	// SourceForecast means the event carried a model-predicted arrival.
	SourceForecast Source = "forecast"
	// SourceKinematic means the arrival was derived from the drag model.
	SourceKinematic Source = "kinematic"
)

// Estimate is the predicted Earth arrival for one CME.
type Estimate struct {
	EventID        string    `json:"event_id"`
	ArrivalTime    time.Time `json:"arrival_time"`
	TransitSeconds float64   `json:"transit_seconds"`
	SpeedAtArrival float64   `json:"speed_at_arrival_km_s"`
	Source         Source    `json:"source"`
	Error          string    `json:"error,omitempty"`
}

// EstimateAll computes arrival estimates for every event, one goroutine per
// event gated by a weighted semaphore sized to the CPU count. Results keep
// input order. Events the model cannot place (non-positive speed) carry an
// Error instead of a time.
func EstimateAll(ctx context.Context, events []donki.CMEEvent) []Estimate {
	results := make([]Estimate, len(events))
	sem := semaphore.NewWeighted(int64(runtime.NumCPU()))
	var wg sync.WaitGroup

	for i, ev := range events {
		wg.Add(1)
		go func(idx int, ev donki.CMEEvent) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				results[idx] = Estimate{EventID: ev.ID, Error: "cancelled"}
				return
			}
			defer sem.Release(1)

			est, err := EstimateEvent(ev)
			if err != nil {
				results[idx] = Estimate{EventID: ev.ID, Error: err.Error()}
				return
			}
			results[idx] = est
		}(i, ev)
	}

	wg.Wait()
	return results
}

// EstimateEvent computes the Earth arrival for a single event.
func EstimateEvent(ev donki.CMEEvent) (Estimate, error) {
	if ev.PredictedArrival != nil && ev.PredictedArrival.After(ev.StartTime) {
		window := ev.PredictedArrival.Sub(ev.StartTime).Seconds()
		return Estimate{
			EventID:        ev.ID,
			ArrivalTime:    ev.PredictedArrival.UTC(),
			TransitSeconds: window,
			SpeedAtArrival: propagation.EarthOrbitRadiusKm / window,
			Source:         SourceForecast,
		}, nil
	}

	v := ev.SpeedKmPerSec
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return Estimate{}, fmt.Errorf("event %s: speed %v km/s cannot reach 1 AU", ev.ID, v)
	}

	transit, speedAtArrival := transitToEarth(v)
	return Estimate{
		EventID:        ev.ID,
		ArrivalTime:    ev.StartTime.UTC().Add(time.Duration(transit * float64(time.Second))),
		TransitSeconds: transit,
		SpeedAtArrival: speedAtArrival,
		Source:         SourceKinematic,
	}, nil
}

// transitToEarth inverts the drag model: seconds for a front launched at
// v km/s to cover 1 AU, plus its speed on arrival. Mirrors the forward
// model exactly so the estimate and the propagated distance agree.
func transitToEarth(v float64) (seconds, speedAtArrival float64) {
	const r = propagation.EarthOrbitRadiusKm

	// At or below the ambient floor the front travels ballistically.
	if v <= propagation.MinSpeedKmPerSec {
		return r / v, v
	}

	a := (1.41 - 0.0035*v) / 1000.0 // km/s²
	if a == 0 {
		return r / v, v
	}

	if a > 0 {
		// Slow front accelerating toward ambient: single quadratic phase.
		t := quadraticRoot(v, a, r)
		return t, v + a*t
	}

	// Decelerating: quadratic until the floor speed, then coast.
	tFloor := (propagation.MinSpeedKmPerSec - v) / a
	floorDist := v*tFloor + 0.5*a*tFloor*tFloor
	if floorDist >= r {
		t := quadraticRoot(v, a, r)
		return t, v + a*t
	}
	coast := (r - floorDist) / propagation.MinSpeedKmPerSec
	return tFloor + coast, propagation.MinSpeedKmPerSec
}

// quadraticRoot solves v*t + a*t²/2 = r for the first positive t.
func quadraticRoot(v, a, r float64) float64 {
	return (-v + math.Sqrt(v*v+2*a*r)) / a
}
