// Package passes predicts when tracked objects rise above a ground
// observer's horizon.
package passes

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/star/orbitsync/internal/propagation"
	"github.com/star/orbitsync/internal/tle"
	"github.com/star/orbitsync/internal/transform"
)

// TrackPoint is a sub-satellite position sampled during a pass.
type TrackPoint struct {
	Time         time.Time `json:"time"`
	LatDeg       float64   `json:"lat_deg"`
	LonDeg       float64   `json:"lon_deg"`
	AltKm        float64   `json:"alt_km"`
	ElevationDeg float64   `json:"elevation_deg"`
}

// Pass is one interval during which an object stays above the minimum
// elevation.
type Pass struct {
	Start           time.Time    `json:"start"`
	Culmination     time.Time    `json:"culmination"`
	End             time.Time    `json:"end"`
	DurationSeconds float64      `json:"duration_seconds"`
	MaxElevationDeg float64      `json:"max_elevation_deg"`
	AzimuthAtMaxDeg float64      `json:"azimuth_at_max_deg"`
	StartAzimuthDeg float64      `json:"start_azimuth_deg"`
	EndAzimuthDeg   float64      `json:"end_azimuth_deg"`
	Track           []TrackPoint `json:"track,omitempty"`
}

// Result holds the passes predicted for one element set.
type Result struct {
	Index   int    `json:"index"`
	NORADID int    `json:"norad_id"`
	Name    string `json:"name"`
	Passes  []Pass `json:"passes"`
	Error   string `json:"error,omitempty"`
}

// Request holds the parameters for a pass prediction.
type Request struct {
	Observer        transform.Observer
	Sets            []tle.ElementSet
	Start           time.Time
	Horizon         time.Duration
	MinElevationDeg float64
	MaxPasses       int  // per object; 0 means unlimited
	Workers         int  // concurrent objects (default runtime.NumCPU())
	Track           bool // sample a ground track for each pass
}

const (
	coarseStep = 30 * time.Second
	fineStep   = time.Second
	trackStep  = 10 * time.Second
	minPassDur = 10 * time.Second
)

// Predict computes passes for every element set in req. Per-object failures
// are reported in that object's Result and never fail the whole request.
func Predict(ctx context.Context, req Request) []Result {
	results := make([]Result, len(req.Sets))
	workers := req.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, set := range req.Sets {
		results[i] = Result{Index: set.Index, NORADID: set.NORADID, Name: set.Name}
		g.Go(func() error {
			if gctx.Err() != nil {
				results[i].Error = "cancelled"
				return nil
			}
			passes, err := predictOne(gctx, req, set)
			if err != nil {
				results[i].Error = err.Error()
				return nil
			}
			results[i].Passes = passes
			return nil
		})
	}
	g.Wait()
	return results
}

// Next returns the first pass of set over obs that ends after from, or nil
// when none starts within horizon. A pass already in progress at from is
// returned with its true start.
func Next(ctx context.Context, obs transform.Observer, set tle.ElementSet, from time.Time, horizon time.Duration, minElevationDeg float64) (*Pass, error) {
	prop, err := propagation.NewSGP4Propagator(set.Line1, set.Line2, set.NORADID)
	if err != nil {
		return nil, fmt.Errorf("sgp4 init: %w", err)
	}

	// Back up far enough to catch the rise of a pass in progress.
	start := from
	for i := 0; i < 60; i++ {
		el, _, err := elevationAt(prop, obs, start)
		if err != nil || el < minElevationDeg {
			break
		}
		start = start.Add(-coarseStep)
	}

	passes, err := scan(ctx, prop, obs, start, from.Add(horizon), minElevationDeg, 1, false)
	if err != nil || len(passes) == 0 {
		return nil, err
	}
	return &passes[0], nil
}

func predictOne(ctx context.Context, req Request, set tle.ElementSet) ([]Pass, error) {
	prop, err := propagation.NewSGP4Propagator(set.Line1, set.Line2, set.NORADID)
	if err != nil {
		return nil, fmt.Errorf("sgp4 init: %w", err)
	}
	return scan(ctx, prop, req.Observer, req.Start, req.Start.Add(req.Horizon), req.MinElevationDeg, req.MaxPasses, req.Track)
}

// scan steps coarsely through [start, end) and refines every above-horizon
// hit into a full pass.
func scan(ctx context.Context, prop *propagation.SGP4Propagator, obs transform.Observer, start, end time.Time, minEl float64, maxPasses int, track bool) ([]Pass, error) {
	var passes []Pass
	t := start
	for t.Before(end) && (maxPasses <= 0 || len(passes) < maxPasses) {
		if err := ctx.Err(); err != nil {
			return passes, err
		}

		el, _, err := elevationAt(prop, obs, t)
		if err != nil || el < minEl {
			t = t.Add(coarseStep)
			continue
		}

		pass, windowEnd := refine(ctx, prop, obs, t, start, end, minEl, track)
		if pass != nil && pass.End.Sub(pass.Start) >= minPassDur {
			passes = append(passes, *pass)
		}
		t = windowEnd.Add(coarseStep)
	}
	return passes, nil
}

// refine scans at fineStep from just before a coarse hit until the object
// drops below minEl. It returns the pass and the time the scan stopped.
func refine(ctx context.Context, prop *propagation.SGP4Propagator, obs transform.Observer, hit, windowStart, windowEnd time.Time, minEl float64, track bool) (*Pass, time.Time) {
	t := hit.Add(-coarseStep)
	if t.Before(windowStart) {
		t = windowStart
	}

	var (
		pass     Pass
		rose     bool
		wasAbove bool
	)
	for ; t.Before(windowEnd); t = t.Add(fineStep) {
		if ctx.Err() != nil {
			break
		}

		el, look, err := elevationAt(prop, obs, t)
		if err != nil {
			continue
		}
		above := el >= minEl

		if above && !wasAbove && !rose {
			rose = true
			pass.Start = t
			pass.StartAzimuthDeg = look.AzimuthDeg
			pass.MaxElevationDeg = el
			pass.Culmination = t
			pass.AzimuthAtMaxDeg = look.AzimuthDeg
		}

		if above && rose {
			if el > pass.MaxElevationDeg {
				pass.MaxElevationDeg = el
				pass.Culmination = t
				pass.AzimuthAtMaxDeg = look.AzimuthDeg
			}
			if track && t.Sub(pass.Start)%trackStep == 0 {
				pass.Track = append(pass.Track, trackPoint(prop, t, el))
			}
		}

		if !above && wasAbove && rose {
			pass.End = t
			pass.EndAzimuthDeg = look.AzimuthDeg
			break
		}
		wasAbove = above
	}

	if !rose {
		return nil, t
	}
	// Still above at the end of the window: close the pass there.
	if pass.End.IsZero() {
		pass.End = t
		if _, look, err := elevationAt(prop, obs, t); err == nil {
			pass.EndAzimuthDeg = look.AzimuthDeg
		}
	}
	pass.DurationSeconds = pass.End.Sub(pass.Start).Seconds()
	return &pass, pass.End
}

func elevationAt(prop *propagation.SGP4Propagator, obs transform.Observer, t time.Time) (float64, transform.LookAngles, error) {
	fixed, err := fixedAt(prop, t)
	if err != nil {
		return 0, transform.LookAngles{}, err
	}
	look := obs.Look(fixed)
	return look.ElevationDeg, look, nil
}

func fixedAt(prop *propagation.SGP4Propagator, t time.Time) (transform.Fixed, error) {
	p, err := prop.Propagate(t)
	if err != nil {
		return transform.Fixed{}, err
	}
	return transform.InertialToFixed(p, transform.GMST(t)), nil
}

func trackPoint(prop *propagation.SGP4Propagator, t time.Time, el float64) TrackPoint {
	fixed, err := fixedAt(prop, t)
	if err != nil {
		return TrackPoint{Time: t, ElevationDeg: el}
	}
	geo := transform.FixedToGeodetic(fixed)
	return TrackPoint{Time: t, LatDeg: geo.LatDeg, LonDeg: geo.LonDeg, AltKm: geo.AltKm, ElevationDeg: el}
}
