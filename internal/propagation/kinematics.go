// Package propagation implements the CME kinematic model: given an event's
// launch time, initial radial speed, and direction, it computes the distance
// the CME front has traveled from the Sun at a later time, and classifies
// speeds into discrete severity bands for display.
//
// All functions here are pure and total: degenerate numeric input (NaN,
// infinities, non-positive speeds, negative elapsed time) clamps to the
// nearest valid boundary rather than panicking or emitting NaN, because the
// output feeds rendering pipelines that must never crash on bad telemetry.
package propagation

import (
	"math"

	"github.com/helio/solwind/internal/donki"
)

// Mode selects the kinematic model used to advance a CME front.
type Mode string

const (
	// ModeBallistic propagates at constant initial speed. Default fallback
	// when no deceleration or arrival constraint is known.
	ModeBallistic Mode = "ballistic"

	// ModeDecelerating applies a drag-like deceleration toward the ambient
	// solar-wind floor speed, then coasts at the floor.
	ModeDecelerating Mode = "decelerating"

	// ModeInterpolated advances linearly so the front reaches Earth's orbital
	// radius exactly at the predicted arrival time. Intentionally ignores the
	// event's physical speed: the visual must match the authoritative
	// forecast even when that implies a non-physical effective speed.
	ModeInterpolated Mode = "interpolated"
)

// MinSpeedKmPerSec is the ambient solar-wind floor. CMEs at or below this
// speed coast instead of decelerating further.
const MinSpeedKmPerSec = 300.0

// EarthOrbitRadiusKm is 1 AU.
const EarthOrbitRadiusKm = 149597870.7

// Propagate returns the radial distance in km the CME front has traveled from
// Sun center after elapsedSeconds, under the given mode. The result is always
// non-negative and finite; a front not yet launched (negative elapsed time)
// is at distance 0.
//
// earthOrbitalRadiusKm is only used by ModeInterpolated. Unit consistency is
// the caller's job: distance comes back in the same length unit as the speed
// and radius inputs.
func Propagate(ev donki.CMEEvent, elapsedSeconds float64, mode Mode, earthOrbitalRadiusKm float64) float64 {
	v := ev.SpeedKmPerSec
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0
	}

	t := elapsedSeconds
	if math.IsNaN(t) || math.IsInf(t, 0) || t < 0 {
		t = 0
	}

	switch mode {
	case ModeInterpolated:
		return interpolatedDistance(ev, t, earthOrbitalRadiusKm)
	case ModeDecelerating:
		return deceleratingDistance(v, t)
	default:
		return v * t
	}
}

// ModeFor picks the propagation mode for an event: interpolated when a
// predicted arrival exists, else decelerating.
func ModeFor(ev donki.CMEEvent) Mode {
	if ev.PredictedArrival != nil {
		return ModeInterpolated
	}
	return ModeDecelerating
}

// deceleratingDistance applies the drag model: acceleration in m/s² is
// 1.41 - 0.0035*v, so slow CMEs (under ~403 km/s) gain speed toward ambient
// and fast ones lose it. Once a decelerating front reaches the floor speed it
// coasts. Speeds already at or below the floor travel ballistically.
func deceleratingDistance(v, t float64) float64 {
	if v <= MinSpeedKmPerSec {
		return v * t
	}

	a := (1.41 - 0.0035*v) / 1000.0 // km/s²
	if a >= 0 {
		return v*t + 0.5*a*t*t
	}

	// Positive: numerator and denominator are both negative here.
	tFloor := (MinSpeedKmPerSec - v) / a
	if t <= tFloor {
		return v*t + 0.5*a*t*t
	}

	floorDist := v*tFloor + 0.5*a*tFloor*tFloor
	return floorDist + MinSpeedKmPerSec*(t-tFloor)
}

// interpolatedDistance advances linearly toward earthOrbitalRadiusKm so the
// front arrives exactly at the predicted time. A missing arrival or a
// non-positive travel window yields 0 rather than dividing by it.
func interpolatedDistance(ev donki.CMEEvent, t, earthOrbitalRadiusKm float64) float64 {
	if ev.PredictedArrival == nil {
		return 0
	}
	total := ev.PredictedArrival.Sub(ev.StartTime).Seconds()
	if total <= 0 {
		return 0
	}

	progress := t / total
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	return progress * earthOrbitalRadiusKm
}
