package donki

import "time"

// CMEEvent is a single coronal mass ejection from the DONKI catalog,
// reduced to the fields the propagation model needs. Immutable once parsed.
type CMEEvent struct {
	ID            string    `json:"id"`
	StartTime     time.Time `json:"start_time"`
	SpeedKmPerSec float64   `json:"speed_km_s"`
	LongitudeDeg  float64   `json:"longitude"`
	LatitudeDeg   float64   `json:"latitude"`
	HalfAngleDeg  float64   `json:"half_angle"`

	// EarthDirected is derived at parse time by thresholding the launch
	// direction against fixed cutoffs (|lon| <= 45, |lat| <= 30).
	EarthDirected bool `json:"earth_directed"`

	// PredictedArrival is the ENLIL model's estimated shock arrival time at
	// Earth, when the catalog carries one. Always strictly after StartTime;
	// entries violating that are dropped at parse time.
	PredictedArrival *time.Time `json:"predicted_arrival,omitempty"`
}

// TimeRange holds the earliest and latest event start times in a dataset.
type TimeRange struct {
	Min time.Time `json:"min"`
	Max time.Time `json:"max"`
}

// Dataset is a complete CME catalog snapshot from a source.
type Dataset struct {
	Source    string
	FetchedAt time.Time
	Range     TimeRange
	Events    []CMEEvent
}

// NewDataset builds a Dataset from parsed events, computing the start-time range.
func NewDataset(source string, fetchedAt time.Time, events []CMEEvent) *Dataset {
	ds := &Dataset{
		Source:    source,
		FetchedAt: fetchedAt,
		Events:    events,
	}
	for i, ev := range events {
		if i == 0 || ev.StartTime.Before(ds.Range.Min) {
			ds.Range.Min = ev.StartTime
		}
		if i == 0 || ev.StartTime.After(ds.Range.Max) {
			ds.Range.Max = ev.StartTime
		}
	}
	return ds
}

// Find returns the event with the given activity ID, or false.
func (d *Dataset) Find(id string) (CMEEvent, bool) {
	for _, ev := range d.Events {
		if ev.ID == id {
			return ev, true
		}
	}
	return CMEEvent{}, false
}
