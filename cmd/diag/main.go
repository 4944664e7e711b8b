// diag loads the latest catalog snapshot and prints a propagation table and
// arrival estimates for every event. Handy for eyeballing the kinematics
// against a known catalog without starting the server.
package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/helio/solwind/internal/arrival"
	"github.com/helio/solwind/internal/donki"
	"github.com/helio/solwind/internal/propagation"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	dir := "./data"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	snapshots := donki.NewCache(dir, 5)
	data, ts, err := snapshots.LoadLatest()
	if err != nil {
		fmt.Println("ERROR loading catalog snapshot:", err)
		os.Exit(1)
	}

	events, err := donki.Parse(bytes.NewReader(data), logger)
	if err != nil {
		fmt.Println("ERROR parsing catalog:", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d CMEs (snapshot from %v)\n\n", len(events), ts.Format(time.RFC3339))

	now := time.Now().UTC()
	for _, ev := range events {
		cls := propagation.Classify(ev.SpeedKmPerSec)
		mode := propagation.ModeFor(ev)
		fmt.Printf("%s  v=%.0f km/s  band=%s  mode=%s  earth=%v\n",
			ev.ID, ev.SpeedKmPerSec, cls.Band, mode, ev.EarthDirected)

		// Front distance at a few offsets from now.
		for _, offset := range []time.Duration{0, 6 * time.Hour, 24 * time.Hour, 48 * time.Hour} {
			at := now.Add(offset)
			elapsed := at.Sub(ev.StartTime).Seconds()
			if elapsed < 0 {
				fmt.Printf("  +%3.0fh: not yet launched\n", offset.Hours())
				continue
			}
			d := propagation.Propagate(ev, elapsed, mode, propagation.EarthOrbitRadiusKm)
			fmt.Printf("  +%3.0fh: %12.0f km  (%.3f AU)\n",
				offset.Hours(), d, d/propagation.EarthOrbitRadiusKm)
		}
	}

	fmt.Println("\nArrival estimates:")
	for _, est := range arrival.EstimateAll(context.Background(), events) {
		if est.Error != "" {
			fmt.Printf("  %s: ERROR %s\n", est.EventID, est.Error)
			continue
		}
		fmt.Printf("  %s: %v  (%.1fh transit, %.0f km/s at 1 AU, %s)\n",
			est.EventID, est.ArrivalTime.Format(time.RFC3339),
			est.TransitSeconds/3600, est.SpeedAtArrival, est.Source)
	}
}
