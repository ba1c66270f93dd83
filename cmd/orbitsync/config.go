package main

import (
	"log/slog"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/star/orbitsync/internal/api"
	"github.com/star/orbitsync/internal/auth"
	"github.com/star/orbitsync/internal/camera"
	"github.com/star/orbitsync/internal/labels"
	"github.com/star/orbitsync/internal/pipeline"
	"github.com/star/orbitsync/internal/propagation"
	"github.com/star/orbitsync/internal/scheduler"
	"github.com/star/orbitsync/internal/selection"
	"github.com/star/orbitsync/internal/stream"
)

// newViper returns a viper instance with every default registered and
// ORBITSYNC_* environment overrides enabled (tle.cache_dir is read from
// ORBITSYNC_TLE_CACHE_DIR).
func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("ORBITSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 64)
	v.SetDefault("log.max_backups", 3)

	v.SetDefault("tle.source", "")
	v.SetDefault("tle.extra_sources", "")
	v.SetDefault("tle.cache_dir", "/tmp/orbitsync/tle")
	v.SetDefault("tle.max_files", 5)
	v.SetDefault("tle.refresh_interval_s", 0)

	v.SetDefault("propagation.workers", runtime.NumCPU())
	v.SetDefault("propagation.chunk_size", propagation.DefaultChunkSize)

	sd := scheduler.DefaultConfig()
	v.SetDefault("scheduler.max_lead_ms", sd.MaxLead.Milliseconds())
	v.SetDefault("scheduler.initial_latency_ms", sd.InitialLatency.Milliseconds())
	v.SetDefault("scheduler.initial_lead_factor", sd.InitialLeadFactor)
	v.SetDefault("scheduler.age_tolerance_ms", sd.AgeTolerance.Milliseconds())

	sel := selection.DefaultConfig()
	v.SetDefault("selection.detailed_view_distance", sel.DetailedViewDistance)
	v.SetDefault("selection.click_threshold_ms", sel.ClickThreshold.Milliseconds())
	v.SetDefault("selection.screen_tolerance_px", sel.ScreenTolerancePx)

	cd := camera.DefaultConfig()
	v.SetDefault("camera.arc_threshold_deg", cd.ArcThresholdDeg)
	v.SetDefault("camera.arc_duration_ms", cd.ArcDuration.Milliseconds())
	v.SetDefault("camera.linear_duration_ms", cd.LinearDuration.Milliseconds())
	v.SetDefault("camera.grace_ms", cd.Grace.Milliseconds())
	v.SetDefault("camera.tracking_offset", cd.TrackingOffset)

	ld := labels.DefaultConfig()
	v.SetDefault("labels.enabled", true)
	v.SetDefault("labels.fade_ms", ld.FadeIn.Milliseconds())
	v.SetDefault("labels.min_count", ld.MinCount)
	v.SetDefault("labels.max_count", ld.MaxCount)

	v.SetDefault("pipeline.fps", 60)
	v.SetDefault("pipeline.width", 1280)
	v.SetDefault("pipeline.height", 720)
	v.SetDefault("pipeline.stall_timeout_ms", 5000)
	v.SetDefault("pipeline.orbit_mode", string(propagation.PathGroundTrack))
	v.SetDefault("pipeline.frame", string(propagation.FrameFixed))
	v.SetDefault("pipeline.log_every", 300)

	v.SetDefault("observer.enabled", false)
	v.SetDefault("observer.lat_deg", 0.0)
	v.SetDefault("observer.lon_deg", 0.0)
	v.SetDefault("observer.alt_km", 0.0)

	v.SetDefault("passes.horizon_h", 24)
	v.SetDefault("passes.min_elevation_deg", 0.0)
	v.SetDefault("passes.max", 10)
	v.SetDefault("passes.workers", runtime.NumCPU())

	v.SetDefault("markers.file", "")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.token", "")

	st := stream.DefaultConfig()
	v.SetDefault("stream.max_per_ip", st.MaxConcurrentPerIP)
	v.SetDefault("stream.max_total", st.MaxTotal)
	v.SetDefault("stream.hz", st.RateHz)
	v.SetDefault("stream.trust_proxy", false)
}

// TLEConfig holds element-set source settings.
type TLEConfig struct {
	Source          string
	ExtraSources    []string
	CacheDir        string // empty disables the cache
	MaxFiles        int
	RefreshInterval time.Duration // zero disables background refresh
}

func loadTLEConfig(v *viper.Viper, logger *slog.Logger) TLEConfig {
	cfg := TLEConfig{
		Source:          strings.TrimSpace(v.GetString("tle.source")),
		ExtraSources:    splitList(v.GetString("tle.extra_sources")),
		CacheDir:        v.GetString("tle.cache_dir"),
		MaxFiles:        positiveInt(v, logger, "tle.max_files", 5),
		RefreshInterval: time.Duration(nonNegativeInt(v, logger, "tle.refresh_interval_s", 0)) * time.Second,
	}

	logger.Info("TLE config",
		"source", cfg.Source,
		"extra_sources", cfg.ExtraSources,
		"cache_dir", cfg.CacheDir,
		"max_files", cfg.MaxFiles,
		"refresh_interval_seconds", cfg.RefreshInterval.Seconds(),
	)
	return cfg
}

func loadPropConfig(v *viper.Viper, logger *slog.Logger) propagation.Config {
	cfg := propagation.Config{
		Workers:   positiveInt(v, logger, "propagation.workers", runtime.NumCPU()),
		ChunkSize: positiveInt(v, logger, "propagation.chunk_size", propagation.DefaultChunkSize),
	}
	if cfg.ChunkSize > propagation.DefaultChunkSize {
		logger.Warn("propagation.chunk_size above limit, clamping",
			"value", cfg.ChunkSize, "max", propagation.DefaultChunkSize)
		cfg.ChunkSize = propagation.DefaultChunkSize
	}

	logger.Info("propagation config",
		"workers", cfg.Workers,
		"chunk_size", cfg.ChunkSize,
	)
	return cfg
}

func loadSchedulerConfig(v *viper.Viper, logger *slog.Logger) scheduler.Config {
	d := scheduler.DefaultConfig()
	cfg := d
	cfg.MaxLead = positiveMs(v, logger, "scheduler.max_lead_ms", d.MaxLead)
	cfg.InitialLatency = positiveMs(v, logger, "scheduler.initial_latency_ms", d.InitialLatency)
	cfg.InitialLeadFactor = positiveFloat(v, logger, "scheduler.initial_lead_factor", d.InitialLeadFactor)
	cfg.AgeTolerance = positiveMs(v, logger, "scheduler.age_tolerance_ms", d.AgeTolerance)

	logger.Info("scheduler config",
		"max_lead_ms", cfg.MaxLead.Milliseconds(),
		"initial_latency_ms", cfg.InitialLatency.Milliseconds(),
		"initial_lead_factor", cfg.InitialLeadFactor,
		"age_tolerance_ms", cfg.AgeTolerance.Milliseconds(),
	)
	return cfg
}

func loadSelectionConfig(v *viper.Viper, logger *slog.Logger) selection.Config {
	d := selection.DefaultConfig()
	cfg := d
	cfg.DetailedViewDistance = positiveFloat(v, logger, "selection.detailed_view_distance", d.DetailedViewDistance)
	cfg.ClickThreshold = positiveMs(v, logger, "selection.click_threshold_ms", d.ClickThreshold)
	cfg.ScreenTolerancePx = positiveFloat(v, logger, "selection.screen_tolerance_px", d.ScreenTolerancePx)

	logger.Info("selection config",
		"detailed_view_distance", cfg.DetailedViewDistance,
		"click_threshold_ms", cfg.ClickThreshold.Milliseconds(),
		"screen_tolerance_px", cfg.ScreenTolerancePx,
	)
	return cfg
}

func loadCameraConfig(v *viper.Viper, logger *slog.Logger) camera.Config {
	d := camera.DefaultConfig()
	cfg := d
	cfg.ArcThresholdDeg = positiveFloat(v, logger, "camera.arc_threshold_deg", d.ArcThresholdDeg)
	cfg.ArcDuration = positiveMs(v, logger, "camera.arc_duration_ms", d.ArcDuration)
	cfg.LinearDuration = positiveMs(v, logger, "camera.linear_duration_ms", d.LinearDuration)
	cfg.Grace = positiveMs(v, logger, "camera.grace_ms", d.Grace)
	cfg.FollowRamp = cfg.Grace
	cfg.TrackingOffset = positiveFloat(v, logger, "camera.tracking_offset", d.TrackingOffset)

	logger.Info("camera config",
		"arc_threshold_deg", cfg.ArcThresholdDeg,
		"arc_duration_ms", cfg.ArcDuration.Milliseconds(),
		"linear_duration_ms", cfg.LinearDuration.Milliseconds(),
		"grace_ms", cfg.Grace.Milliseconds(),
		"tracking_offset", cfg.TrackingOffset,
	)
	return cfg
}

func loadLabelsConfig(v *viper.Viper, logger *slog.Logger) labels.Config {
	d := labels.DefaultConfig()
	cfg := d
	fade := positiveMs(v, logger, "labels.fade_ms", d.FadeIn)
	cfg.FadeIn, cfg.FadeOut = fade, fade
	cfg.MinCount = positiveInt(v, logger, "labels.min_count", d.MinCount)
	cfg.MaxCount = positiveInt(v, logger, "labels.max_count", d.MaxCount)
	if cfg.MaxCount < cfg.MinCount {
		logger.Warn("labels.max_count below labels.min_count, using defaults",
			"min_count", cfg.MinCount, "max_count", cfg.MaxCount)
		cfg.MinCount, cfg.MaxCount = d.MinCount, d.MaxCount
	}

	logger.Info("labels config",
		"fade_ms", fade.Milliseconds(),
		"min_count", cfg.MinCount,
		"max_count", cfg.MaxCount,
	)
	return cfg
}

// RunConfig holds the render loop settings that live outside the pipeline.
type RunConfig struct {
	FPS           int
	LogEvery      uint64
	LabelsEnabled bool
	MarkersFile   string
}

func loadRunConfig(v *viper.Viper, logger *slog.Logger) RunConfig {
	cfg := RunConfig{
		FPS:           positiveInt(v, logger, "pipeline.fps", 60),
		LogEvery:      uint64(positiveInt(v, logger, "pipeline.log_every", 300)),
		LabelsEnabled: v.GetBool("labels.enabled"),
		MarkersFile:   v.GetString("markers.file"),
	}
	if cfg.FPS > 240 {
		logger.Warn("pipeline.fps above 240, clamping", "value", cfg.FPS)
		cfg.FPS = 240
	}

	logger.Info("run config",
		"fps", cfg.FPS,
		"log_every", cfg.LogEvery,
		"labels_enabled", cfg.LabelsEnabled,
		"markers_file", cfg.MarkersFile,
	)
	return cfg
}

// loadPipelineConfig assembles the pipeline config from every component
// loader.
func loadPipelineConfig(v *viper.Viper, logger *slog.Logger) pipeline.Config {
	cfg := pipeline.Config{
		Propagation:  loadPropConfig(v, logger),
		Scheduler:    loadSchedulerConfig(v, logger),
		Selection:    loadSelectionConfig(v, logger),
		Camera:       loadCameraConfig(v, logger),
		Labels:       loadLabelsConfig(v, logger),
		Width:        positiveInt(v, logger, "pipeline.width", 1280),
		Height:       positiveInt(v, logger, "pipeline.height", 720),
		StallTimeout: positiveMs(v, logger, "pipeline.stall_timeout_ms", 5*time.Second),
	}

	switch mode := propagation.PathMode(v.GetString("pipeline.orbit_mode")); mode {
	case propagation.PathGroundTrack, propagation.PathTrue:
		cfg.OrbitMode = mode
	default:
		logger.Warn("invalid pipeline.orbit_mode, using default", "value", mode, "default", propagation.PathGroundTrack)
		cfg.OrbitMode = propagation.PathGroundTrack
	}

	switch frame := propagation.Frame(v.GetString("pipeline.frame")); frame {
	case propagation.FrameFixed, propagation.FrameInertial:
		cfg.Frame = frame
	default:
		logger.Warn("invalid pipeline.frame, using default", "value", frame, "default", propagation.FrameFixed)
		cfg.Frame = propagation.FrameFixed
	}

	if v.GetBool("observer.enabled") {
		obs := &pipeline.ObserverConfig{
			LatDeg: v.GetFloat64("observer.lat_deg"),
			LonDeg: v.GetFloat64("observer.lon_deg"),
			AltKm:  v.GetFloat64("observer.alt_km"),
		}
		if obs.LatDeg < -90 || obs.LatDeg > 90 || obs.LonDeg < -180 || obs.LonDeg > 180 {
			logger.Warn("observer out of range, look angles disabled",
				"lat_deg", obs.LatDeg, "lon_deg", obs.LonDeg)
		} else {
			cfg.Observer = obs
		}
	}

	passCfg := loadPassConfig(v, logger)
	cfg.PassHorizon = passCfg.Horizon
	cfg.PassMinElevationDeg = passCfg.MinElevationDeg

	logger.Info("pipeline config",
		"width", cfg.Width,
		"height", cfg.Height,
		"stall_timeout_ms", cfg.StallTimeout.Milliseconds(),
		"orbit_mode", cfg.OrbitMode,
		"frame", cfg.Frame,
		"observer", cfg.Observer != nil,
	)
	return cfg
}

// PassConfig holds pass prediction settings shared by the pipeline and the
// passes command.
type PassConfig struct {
	Horizon         time.Duration
	MinElevationDeg float64
	MaxPasses       int
	Workers         int
}

func loadPassConfig(v *viper.Viper, logger *slog.Logger) PassConfig {
	cfg := PassConfig{
		Horizon:   time.Duration(positiveInt(v, logger, "passes.horizon_h", 24)) * time.Hour,
		MaxPasses: positiveInt(v, logger, "passes.max", 10),
		Workers:   positiveInt(v, logger, "passes.workers", runtime.NumCPU()),
	}
	if cfg.Horizon > 30*24*time.Hour {
		logger.Warn("passes.horizon_h above 720, clamping", "value", cfg.Horizon.Hours())
		cfg.Horizon = 30 * 24 * time.Hour
	}

	raw := strings.TrimSpace(v.GetString("passes.min_elevation_deg"))
	el, err := strconv.ParseFloat(raw, 64)
	if err != nil || el < 0 || el >= 90 {
		logger.Warn("invalid config value, using default", "key", "passes.min_elevation_deg", "value", raw, "default", 0)
		el = 0
	}
	cfg.MinElevationDeg = el
	return cfg
}

// loadServerConfig returns the debug server config and whether the server
// is enabled. Enabling auth without a token is an error.
func loadServerConfig(v *viper.Viper, logger *slog.Logger) (api.Config, bool, error) {
	cfg := api.Config{
		Addr: v.GetString("server.addr"),
		Auth: auth.Config{
			Enabled: v.GetBool("auth.enabled"),
			Token:   v.GetString("auth.token"),
		},
		Stream: stream.Config{
			MaxConcurrentPerIP: positiveInt(v, logger, "stream.max_per_ip", 4),
			MaxTotal:           positiveInt(v, logger, "stream.max_total", 100),
			RateHz:             positiveFloat(v, logger, "stream.hz", 5),
			TrustProxy:         v.GetBool("stream.trust_proxy"),
		},
	}
	if cfg.Auth.Enabled && cfg.Auth.Token == "" {
		return cfg, false, errAuthToken
	}
	enabled := v.GetBool("server.enabled")

	logger.Info("server config",
		"enabled", enabled,
		"addr", cfg.Addr,
		"auth_enabled", cfg.Auth.Enabled,
		"stream_max_per_ip", cfg.Stream.MaxConcurrentPerIP,
		"stream_hz", cfg.Stream.RateHz,
		"trust_proxy", cfg.Stream.TrustProxy,
	)
	return cfg, enabled, nil
}

func positiveInt(v *viper.Viper, logger *slog.Logger, key string, def int) int {
	raw := strings.TrimSpace(v.GetString(key))
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		logger.Warn("invalid config value, using default", "key", key, "value", raw, "default", def)
		return def
	}
	return n
}

func nonNegativeInt(v *viper.Viper, logger *slog.Logger, key string, def int) int {
	raw := strings.TrimSpace(v.GetString(key))
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		logger.Warn("invalid config value, using default", "key", key, "value", raw, "default", def)
		return def
	}
	return n
}

func positiveFloat(v *viper.Viper, logger *slog.Logger, key string, def float64) float64 {
	raw := strings.TrimSpace(v.GetString(key))
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || !(f > 0) || f > 1e9 {
		logger.Warn("invalid config value, using default", "key", key, "value", raw, "default", def)
		return def
	}
	return f
}

func positiveMs(v *viper.Viper, logger *slog.Logger, key string, def time.Duration) time.Duration {
	return time.Duration(positiveInt(v, logger, key, int(def.Milliseconds()))) * time.Millisecond
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
