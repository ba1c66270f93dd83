package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/star/orbitsync/internal/propagation"
	"github.com/star/orbitsync/internal/tle"
)

func newPropagateCmd(v *viper.Viper) *cobra.Command {
	var (
		at      string
		samples int
		frame   string
	)
	cmd := &cobra.Command{
		Use:   "propagate",
		Short: "Propagate a dataset once and print the result as JSON",
		Long: `Initialize a propagation worker with the dataset, issue a single request
for --at (default now) and print the completion summary plus the first
--samples samples.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(v, cmd, map[string]string{"tle": "tle.source"})
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			date := time.Now().UTC()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at %q: %w", at, err)
				}
				date = t
			}
			f := propagation.Frame(frame)
			if f != propagation.FrameFixed && f != propagation.FrameInertial {
				return fmt.Errorf("invalid --frame %q: want fixed or inertial", frame)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
			defer cancel()
			return propagateOnce(ctx, v, date, f, samples, cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("tle", "", "element set source: file path or http(s) URL")
	cmd.Flags().StringVar(&at, "at", "", "target time (RFC3339, default now)")
	cmd.Flags().IntVar(&samples, "samples", 5, "number of samples to print")
	cmd.Flags().StringVar(&frame, "frame", string(propagation.FrameFixed), "request frame: fixed or inertial")
	return cmd
}

// propagateResult is the JSON document printed by the propagate command.
type propagateResult struct {
	Source     string               `json:"source"`
	Generation uint64               `json:"generation"`
	Objects    int                  `json:"objects"`
	Date       time.Time            `json:"date"`
	Frame      propagation.Frame    `json:"frame"`
	Complete   propagation.Complete `json:"complete"`
	Samples    []sampleView         `json:"samples"`
}

type sampleView struct {
	Index      int                   `json:"index"`
	NORADID    int                   `json:"norad_id"`
	Name       string                `json:"name"`
	Visible    bool                  `json:"visible"`
	PositionKm [3]float64            `json:"position_km"`
	Sidereal   float64               `json:"sidereal"`
	Geodetic   *propagation.Geodetic `json:"geodetic,omitempty"`
}

func propagateOnce(ctx context.Context, v *viper.Viper, date time.Time, frame propagation.Frame, n int, out io.Writer) error {
	logger, closer := newLogger(v)
	defer closer.Close()

	ds, err := loadDatasetOnce(ctx, v, logger)
	if err != nil {
		return err
	}

	res, err := propagateDataset(ctx, ds, loadPropConfig(v, logger), date, frame, n, logger)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// propagateDataset runs one worker round trip: the initial batch, then a
// single request for date.
func propagateDataset(ctx context.Context, ds *tle.Dataset, cfg propagation.Config, date time.Time, frame propagation.Frame, n int, logger *slog.Logger) (*propagateResult, error) {
	ch := propagation.NewChannel(ctx, cfg, logger)
	defer ch.Close()

	now := time.Now()
	if err := ch.Initialize(ds.Sets, now); err != nil {
		return nil, fmt.Errorf("initializing worker: %w", err)
	}
	if _, _, err := collect(ctx, ch, true); err != nil {
		return nil, fmt.Errorf("initial batch: %w", err)
	}

	if err := ch.RequestPropagation(propagation.Request{Date: date, Frame: frame}, time.Now()); err != nil {
		return nil, fmt.Errorf("requesting propagation: %w", err)
	}
	got, complete, err := collect(ctx, ch, false)
	if err != nil {
		return nil, fmt.Errorf("propagation: %w", err)
	}

	sort.Slice(got, func(i, j int) bool { return got[i].Index < got[j].Index })
	if n < 0 {
		n = 0
	}
	if n > len(got) {
		n = len(got)
	}

	res := &propagateResult{
		Source:     ds.Source,
		Generation: ds.Generation,
		Objects:    ds.Len(),
		Date:       date,
		Frame:      frame,
		Complete:   complete,
		Samples:    make([]sampleView, 0, n),
	}
	for _, s := range got[:n] {
		view := sampleView{
			Index:      s.Index,
			Visible:    s.Visible,
			PositionKm: s.Position,
			Sidereal:   s.Sidereal,
			Geodetic:   s.Geodetic,
		}
		if s.Index >= 0 && s.Index < ds.Len() {
			view.NORADID = ds.Sets[s.Index].NORADID
			view.Name = ds.Sets[s.Index].Name
		}
		res.Samples = append(res.Samples, view)
	}
	return res, nil
}

// collect gathers chunks until the outstanding batch completes. With
// waitReady it also waits for the worker's readiness notice.
func collect(ctx context.Context, ch *propagation.Channel, waitReady bool) ([]propagation.Sample, propagation.Complete, error) {
	var (
		samples  []propagation.Sample
		complete propagation.Complete
		done     bool
	)
	for !done || (waitReady && !ch.Ready()) {
		ev, err := ch.Next(ctx)
		if err != nil {
			return nil, complete, err
		}
		switch ev.Kind {
		case propagation.EventChunk:
			samples = append(samples, ev.Chunk.Samples...)
		case propagation.EventComplete:
			complete = ev.Complete
			done = true
		case propagation.EventError:
			return nil, complete, ev.Err
		}
	}
	return samples, complete, nil
}
