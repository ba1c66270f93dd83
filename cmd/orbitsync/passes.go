package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/star/orbitsync/internal/passes"
	"github.com/star/orbitsync/internal/tle"
	"github.com/star/orbitsync/internal/transform"
)

// passesOptions are the passes command flags that are not config keys.
type passesOptions struct {
	at    string
	norad []int
	limit int
	track bool
}

func newPassesCmd(v *viper.Viper) *cobra.Command {
	var opts passesOptions
	cmd := &cobra.Command{
		Use:   "passes",
		Short: "Predict passes over a ground observer and print them as JSON",
		Long: `Predict when objects from the dataset rise above --min-el degrees as seen
from the observer at --lat/--lon/--alt-km, within --hours of --at (default
now). --norad restricts the objects; otherwise the first --limit are used.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(v, cmd, map[string]string{
				"tle":    "tle.source",
				"lat":    "observer.lat_deg",
				"lon":    "observer.lon_deg",
				"alt-km": "observer.alt_km",
				"hours":  "passes.horizon_h",
				"min-el": "passes.min_elevation_deg",
				"max":    "passes.max",
			})
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
			defer cancel()
			return predictPasses(ctx, v, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("tle", "", "element set source: file path or http(s) URL")
	cmd.Flags().Float64("lat", 0, "observer latitude in degrees")
	cmd.Flags().Float64("lon", 0, "observer longitude in degrees")
	cmd.Flags().Float64("alt-km", 0, "observer altitude in km")
	cmd.Flags().Int("hours", 24, "prediction window in hours")
	cmd.Flags().Float64("min-el", 0, "minimum elevation in degrees")
	cmd.Flags().Int("max", 10, "maximum passes per object")
	cmd.Flags().StringVar(&opts.at, "at", "", "window start (RFC3339, default now)")
	cmd.Flags().IntSliceVar(&opts.norad, "norad", nil, "NORAD IDs to predict (default: first --limit objects)")
	cmd.Flags().IntVar(&opts.limit, "limit", 10, "objects to predict when --norad is not set")
	cmd.Flags().BoolVar(&opts.track, "track", false, "include sampled ground tracks")
	return cmd
}

type passesResult struct {
	Source       string          `json:"source"`
	Generation   uint64          `json:"generation"`
	Observer     observerView    `json:"observer"`
	Start        time.Time       `json:"start"`
	HorizonHours float64         `json:"horizon_hours"`
	MinElevation float64         `json:"min_elevation_deg"`
	Results      []passes.Result `json:"results"`
}

type observerView struct {
	LatDeg float64 `json:"lat_deg"`
	LonDeg float64 `json:"lon_deg"`
	AltKm  float64 `json:"alt_km"`
}

func predictPasses(ctx context.Context, v *viper.Viper, opts passesOptions, out io.Writer) error {
	logger, closer := newLogger(v)
	defer closer.Close()

	start := time.Now().UTC()
	if opts.at != "" {
		t, err := time.Parse(time.RFC3339, opts.at)
		if err != nil {
			return fmt.Errorf("invalid --at %q: %w", opts.at, err)
		}
		start = t
	}
	obs := observerView{
		LatDeg: v.GetFloat64("observer.lat_deg"),
		LonDeg: v.GetFloat64("observer.lon_deg"),
		AltKm:  v.GetFloat64("observer.alt_km"),
	}
	if obs.LatDeg < -90 || obs.LatDeg > 90 || obs.LonDeg < -180 || obs.LonDeg > 180 {
		return fmt.Errorf("observer out of range: lat %.4f lon %.4f", obs.LatDeg, obs.LonDeg)
	}
	cfg := loadPassConfig(v, logger)

	ds, err := loadDatasetOnce(ctx, v, logger)
	if err != nil {
		return err
	}
	sets := pickSets(ds, opts.norad, opts.limit)
	if len(sets) == 0 {
		return fmt.Errorf("no objects match --norad %v", opts.norad)
	}

	begin := time.Now()
	results := passes.Predict(ctx, passes.Request{
		Observer:        transform.NewObserver(obs.LatDeg, obs.LonDeg, obs.AltKm),
		Sets:            sets,
		Start:           start,
		Horizon:         cfg.Horizon,
		MinElevationDeg: cfg.MinElevationDeg,
		MaxPasses:       cfg.MaxPasses,
		Workers:         cfg.Workers,
		Track:           opts.track,
	})
	logger.Info("passes predicted",
		"objects", len(sets),
		"horizon_hours", cfg.Horizon.Hours(),
		"elapsed_ms", time.Since(begin).Milliseconds(),
	)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(passesResult{
		Source:       ds.Source,
		Generation:   ds.Generation,
		Observer:     obs,
		Start:        start,
		HorizonHours: cfg.Horizon.Hours(),
		MinElevation: cfg.MinElevationDeg,
		Results:      results,
	})
}

// pickSets returns the sets whose NORAD ID is in norad, or the first limit
// sets when norad is empty.
func pickSets(ds *tle.Dataset, norad []int, limit int) []tle.ElementSet {
	if len(norad) == 0 {
		if limit <= 0 || limit > ds.Len() {
			limit = ds.Len()
		}
		return ds.Sets[:limit]
	}
	var out []tle.ElementSet
	for _, set := range ds.Sets {
		if slices.Contains(norad, set.NORADID) {
			out = append(out, set)
		}
	}
	return out
}
