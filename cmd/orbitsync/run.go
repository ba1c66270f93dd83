package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/star/orbitsync/internal/api"
	"github.com/star/orbitsync/internal/pipeline"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the headless render loop with the debug server",
		Long: `Load an element set dataset, start the propagation worker and drive the
render loop at pipeline.fps. Frames go to a logging renderer; pipeline state
is served on /debug/snapshot and /debug/stream.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(v, cmd, map[string]string{
				"tle":     "tle.source",
				"markers": "markers.file",
				"addr":    "server.addr",
			})
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v)
		},
	}
	cmd.Flags().String("tle", "", "element set source: file path or http(s) URL")
	cmd.Flags().String("markers", "", "GeoJSON file of ground markers")
	cmd.Flags().String("addr", "", "debug server listen address")
	return cmd
}

// bindFlags binds flags to viper keys at execution time, so commands that
// share a key each bind their own flag.
func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) error {
	for flag, key := range keys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("binding --%s: %w", flag, err)
		}
	}
	return nil
}

func run(ctx context.Context, v *viper.Viper) error {
	logger, closer := newLogger(v)
	defer closer.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tleCfg := loadTLEConfig(v, logger)
	loader, err := newDatasetLoader(tleCfg, logger)
	if err != nil {
		return err
	}
	runCfg := loadRunConfig(v, logger)
	pipeCfg := loadPipelineConfig(v, logger)
	srvCfg, serve, err := loadServerConfig(v, logger)
	if err != nil {
		return err
	}

	ds, err := loader.Load(ctx)
	if err != nil {
		return err
	}

	renderer := pipeline.NewLogRenderer(runCfg.LogEvery, logger.With("component", "renderer"))
	p, err := pipeline.New(ctx, pipeCfg, renderer, logger.With("component", "pipeline"))
	if err != nil {
		return err
	}
	defer p.Close()

	p.SetLabelsEnabled(runCfg.LabelsEnabled)
	if runCfg.MarkersFile != "" {
		if err := loadMarkers(p, runCfg.MarkersFile, logger); err != nil {
			return err
		}
	}
	if err := p.SwitchDataset(ds, time.Now()); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return renderLoop(gctx, p, runCfg.FPS, logger)
	})

	if tleCfg.RefreshInterval > 0 {
		g.Go(func() error {
			refreshLoop(gctx, p, loader, tleCfg.RefreshInterval, logger)
			return nil
		})
	}

	if serve {
		srv := api.NewServer(srvCfg, p, logger)
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("debug server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("shutting down debug server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.HTTPServer().Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Info("orbitsync stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// renderLoop ticks the pipeline at fps until ctx is done. Render errors are
// logged and the loop keeps going; a stuck renderer must not stop
// propagation.
func renderLoop(ctx context.Context, p *pipeline.Pipeline, fps int, logger *slog.Logger) error {
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	logger.Info("render loop started", "fps", fps)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := p.Tick(now); err != nil {
				logger.Warn("tick failed", "error", err)
			}
		}
	}
}

// refreshLoop reloads the dataset every interval and queues it for the
// render loop, which switches datasets between ticks.
func refreshLoop(ctx context.Context, p *pipeline.Pipeline, loader *datasetLoader, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ds, err := loader.Load(ctx)
			if err != nil {
				logger.Warn("dataset refresh failed", "error", err)
				continue
			}
			gen := ds.Generation
			if err := p.QueueDataset(ds); err != nil {
				logger.Warn("dataset refresh not queued", "generation", gen, "error", err)
				continue
			}
			logger.Info("dataset refresh queued", "generation", gen, "count", ds.Len())
		}
	}
}

func loadMarkers(p *pipeline.Pipeline, path string, logger *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening markers: %w", err)
	}
	defer f.Close()

	n, err := p.LoadMarkers(f)
	if err != nil {
		return fmt.Errorf("loading markers from %s: %w", path, err)
	}
	logger.Info("ground markers loaded", "file", path, "count", n)
	return nil
}
