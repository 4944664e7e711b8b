package donki

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
)

// Earth-directedness cutoffs applied to the launch direction.
const (
	earthLonCutoffDeg = 45.0
	earthLatCutoffDeg = 30.0
)

// rawCME mirrors the DONKI CME endpoint's JSON structure.
type rawCME struct {
	ActivityID  string        `json:"activityID"`
	StartTime   string        `json:"startTime"`
	CMEAnalyses []rawAnalysis `json:"cmeAnalyses"`
}

// rawAnalysis is one analysis of a CME's cone parameters. Range constraints
// are enforced with validator tags; out-of-range analyses are skipped.
type rawAnalysis struct {
	IsMostAccurate bool       `json:"isMostAccurate"`
	Latitude       float64    `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude      float64    `json:"longitude" validate:"gte=-180,lte=180"`
	HalfAngle      float64    `json:"halfAngle" validate:"gt=0,lte=90"`
	Speed          float64    `json:"speed" validate:"gt=0"`
	EnlilList      []rawEnlil `json:"enlilList"`
}

// rawEnlil is a WSA-ENLIL model run linked to an analysis.
type rawEnlil struct {
	EstimatedShockArrivalTime string `json:"estimatedShockArrivalTime"`
}

var validate = validator.New()

// Parse reads a DONKI CME catalog JSON array from r and returns parsed events.
// Malformed or out-of-range entries are skipped with a warning log.
func Parse(r io.Reader, logger *slog.Logger) ([]CMEEvent, error) {
	var raw []rawCME
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding DONKI catalog: %w", err)
	}

	var events []CMEEvent
	for _, rc := range raw {
		if rc.ActivityID == "" {
			logger.Warn("skipping CME with empty activity ID")
			continue
		}

		startTime, err := parseDONKITime(rc.StartTime)
		if err != nil {
			logger.Warn("skipping CME with invalid start time", "activity_id", rc.ActivityID, "start_time", rc.StartTime, "error", err)
			continue
		}

		analysis, ok := pickAnalysis(rc.CMEAnalyses)
		if !ok {
			logger.Warn("skipping CME without analyses", "activity_id", rc.ActivityID)
			continue
		}

		if err := validate.Struct(analysis); err != nil {
			logger.Warn("skipping CME with out-of-range analysis",
				"activity_id", rc.ActivityID,
				"speed", analysis.Speed,
				"error", err,
			)
			continue
		}

		ev := CMEEvent{
			ID:            rc.ActivityID,
			StartTime:     startTime,
			SpeedKmPerSec: analysis.Speed,
			LongitudeDeg:  analysis.Longitude,
			LatitudeDeg:   analysis.Latitude,
			HalfAngleDeg:  analysis.HalfAngle,
			EarthDirected: earthDirected(analysis.Longitude, analysis.Latitude),
		}

		// A linked ENLIL run supplies the predicted Earth arrival. The arrival
		// must be strictly after launch; otherwise treat it as absent.
		for _, enlil := range analysis.EnlilList {
			if enlil.EstimatedShockArrivalTime == "" {
				continue
			}
			arrival, err := parseDONKITime(enlil.EstimatedShockArrivalTime)
			if err != nil {
				logger.Warn("ignoring invalid shock arrival time",
					"activity_id", rc.ActivityID,
					"arrival", enlil.EstimatedShockArrivalTime,
					"error", err,
				)
				continue
			}
			if !arrival.After(startTime) {
				logger.Warn("ignoring non-positive travel window",
					"activity_id", rc.ActivityID,
					"start", startTime.Format(time.RFC3339),
					"arrival", arrival.Format(time.RFC3339),
				)
				continue
			}
			ev.PredictedArrival = &arrival
			break
		}

		events = append(events, ev)
	}

	return events, nil
}

// pickAnalysis returns the analysis flagged isMostAccurate, falling back to
// the first one.
func pickAnalysis(analyses []rawAnalysis) (rawAnalysis, bool) {
	if len(analyses) == 0 {
		return rawAnalysis{}, false
	}
	for _, a := range analyses {
		if a.IsMostAccurate {
			return a, true
		}
	}
	return analyses[0], true
}

// earthDirected thresholds the launch direction against the fixed cutoff cone.
func earthDirected(lonDeg, latDeg float64) bool {
	return math.Abs(lonDeg) <= earthLonCutoffDeg && math.Abs(latDeg) <= earthLatCutoffDeg
}

// donkiTimeLayouts covers the timestamp formats DONKI emits: minute precision
// with a trailing Z, occasionally with seconds or a full RFC3339 offset.
var donkiTimeLayouts = []string{
	"2006-01-02T15:04Z",
	"2006-01-02T15:04:05Z",
	time.RFC3339,
}

func parseDONKITime(s string) (time.Time, error) {
	for _, layout := range donkiTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
