package propagation

import "math"

// Band is a discrete visual-severity bucket for a CME speed. Callers map
// bands to color, opacity, and particle density in the rendering layer.
type Band string

const (
	BandSlow         Band = "slow"
	BandTransitional Band = "transitional"
	BandMild         Band = "mild"
	BandModerate     Band = "moderate"
	BandStrong       Band = "strong"
	BandMajor        Band = "major"
	BandExtreme      Band = "extreme"
)

// Partition:
//
//	slow [0,350), transitional [350,500), mild [500,800), moderate [800,1000),
//	strong [1000,1800), major [1800,2500), extreme [2500,∞)
const (
	thresholdExtreme  = 2500.0
	thresholdMajor    = 1800.0
	thresholdStrong   = 1000.0
	thresholdModerate = 800.0
	thresholdMild     = 500.0
	thresholdSlow     = 350.0
)

// Linear display ranges: speed clamped to [300,3000] km/s maps onto opacity
// and particle density. One consistent pair is used everywhere.
const (
	displaySpeedLo = 300.0
	displaySpeedHi = 3000.0
	opacityLo      = 0.06
	opacityHi      = 0.65
	densityLo      = 1500.0
	densityHi      = 7000.0
)

// Classification is the display-severity result for a speed.
type Classification struct {
	Band Band `json:"band"`

	// InterpolationFraction is non-zero only for the transitional band: the
	// blend position in [0,1) between the slow and mild bands.
	InterpolationFraction float64 `json:"interpolation_fraction"`

	Opacity         float64 `json:"opacity"`
	ParticleDensity float64 `json:"particle_density"`
}

// Classify maps a speed in km/s to its severity band and display weights.
// Total function: NaN and negative speeds clamp to 0 (lowest band), +Inf
// lands in the extreme band.
func Classify(speedKmPerSec float64) Classification {
	v := speedKmPerSec
	if math.IsNaN(v) || v < 0 {
		v = 0
	}

	c := Classification{
		Opacity:         rescaleClamped(v, displaySpeedLo, displaySpeedHi, opacityLo, opacityHi),
		ParticleDensity: rescaleClamped(v, displaySpeedLo, displaySpeedHi, densityLo, densityHi),
	}

	switch {
	case v >= thresholdExtreme:
		c.Band = BandExtreme
	case v >= thresholdMajor:
		c.Band = BandMajor
	case v >= thresholdStrong:
		c.Band = BandStrong
	case v >= thresholdModerate:
		c.Band = BandModerate
	case v >= thresholdMild:
		c.Band = BandMild
	case v < thresholdSlow:
		c.Band = BandSlow
	default:
		c.Band = BandTransitional
		c.InterpolationFraction = (v - thresholdSlow) / (thresholdMild - thresholdSlow)
	}

	return c
}

// rescaleClamped linearly maps v from [inLo,inHi] onto [outLo,outHi],
// clamping at both ends.
func rescaleClamped(v, inLo, inHi, outLo, outHi float64) float64 {
	if v <= inLo {
		return outLo
	}
	if v >= inHi {
		return outHi
	}
	return outLo + (v-inLo)/(inHi-inLo)*(outHi-outLo)
}
