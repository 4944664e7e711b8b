package propagation

import "time"

// Keyframe holds the front positions of all launched CMEs at a single instant.
type Keyframe struct {
	Timestamp time.Time
	Fronts    []FrontPosition
}

// FrontPosition is one CME front's state at a keyframe time.
type FrontPosition struct {
	ID              string  `json:"id"`
	DistanceKm      float64 `json:"distance_km"`
	FractionAU      float64 `json:"fraction_au"`
	Mode            Mode    `json:"mode"`
	Band            Band    `json:"band"`
	Opacity         float64 `json:"opacity"`
	ParticleDensity float64 `json:"particle_density"`
	LongitudeDeg    float64 `json:"longitude"`
	LatitudeDeg     float64 `json:"latitude"`
	HalfAngleDeg    float64 `json:"half_angle"`
	EarthDirected   bool    `json:"earth_directed"`
	Arrived         bool    `json:"arrived"`
}

// PropConfig holds propagation configuration.
type PropConfig struct {
	Workers int           // Worker pool size (default: runtime.NumCPU())
	Step    time.Duration // Keyframe interval (default: 5s)
	Horizon time.Duration // Propagation horizon (default: 600s)
}
