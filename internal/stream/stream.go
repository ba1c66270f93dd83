// Package stream pushes pipeline snapshots to websocket clients. Clients
// connect via GET /debug/stream and receive one JSON message per published
// frame, paced to at most RateHz messages per second per connection.
//
// Message format:
//
//	{"type":"hello","rate_hz":5}
//	{"type":"snapshot","seq":1,"snapshot":{...}}
//
// A snapshot is only sent when the pipeline has published a new frame since
// the previous message; an idle pipeline produces pings and nothing else.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/star/orbitsync/internal/httputil"
	"github.com/star/orbitsync/internal/metrics"
	"github.com/star/orbitsync/internal/pipeline"
)

// Config holds live feed configuration.
type Config struct {
	MaxConcurrentPerIP int           // Max concurrent streams per IP (default: 4).
	MaxTotal           int           // Global stream cap (default: 100).
	RateHz             float64       // Max snapshots per second per stream (default: 5).
	PingInterval       time.Duration // Websocket ping interval (default: 15s).
	WriteTimeout       time.Duration // Deadline for each frame write (default: 10s).
	TrustProxy         bool          // Key limits on X-Forwarded-For / X-Real-IP.
}

// DefaultConfig returns the feed defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentPerIP: 4,
		MaxTotal:           100,
		RateHz:             5,
		PingInterval:       15 * time.Second,
		WriteTimeout:       10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConcurrentPerIP <= 0 {
		c.MaxConcurrentPerIP = d.MaxConcurrentPerIP
	}
	if c.MaxTotal <= 0 {
		c.MaxTotal = d.MaxTotal
	}
	if c.RateHz <= 0 {
		c.RateHz = d.RateHz
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	return c
}

// Source publishes snapshots. *pipeline.Pipeline satisfies it.
type Source interface {
	Snapshot() *pipeline.Snapshot
}

// Handler manages websocket snapshot streams.
type Handler struct {
	source   Source
	config   Config
	slots    *slots
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a new streaming handler.
func NewHandler(source Source, config Config, logger *slog.Logger) *Handler {
	config = config.withDefaults()
	return &Handler{
		source:  source,
		config:  config,
		slots:   newSlots(config.MaxConcurrentPerIP, config.MaxTotal),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
		},
		logger: logger,
	}
}

// Active returns the number of connected streams.
func (h *Handler) Active() int {
	return h.slots.active()
}

type helloMessage struct {
	Type   string  `json:"type"`
	RateHz float64 `json:"rate_hz"`
}

type snapshotMessage struct {
	Type     string             `json:"type"`
	Seq      int64              `json:"seq"`
	Snapshot *pipeline.Snapshot `json:"snapshot"`
}

// HandleSnapshots serves the live snapshot feed.
// GET /debug/stream
func (h *Handler) HandleSnapshots(w http.ResponseWriter, r *http.Request) {
	ip := httputil.ClientIP(r, h.config.TrustProxy)
	release, refused := h.slots.acquire(ip)
	if release == nil {
		metrics.IncStreamMessages("rejected")
		h.logger.Warn("stream limit exceeded",
			"remote_ip", ip,
			"limit", refused,
			"held", h.slots.held(ip),
		)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "too many concurrent streams"})
		return
	}
	defer release()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Debug("stream upgrade failed", "remote_ip", ip, "error", err)
		return
	}

	metrics.IncStreamClients()
	startTime := time.Now()
	h.logger.Info("stream connected",
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
	)

	c := newClient(conn, ip, h.config.WriteTimeout, h.logger)
	defer func() {
		c.close()
		metrics.DecStreamClients()
		h.logger.Info("stream disconnected",
			"remote_ip", ip,
			"messages", c.messagesSent,
			"bytes", c.bytesSent,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	// Hijacked connections outlive the request context, so the read loop
	// owns cancellation.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.readLoop(2*h.config.PingInterval, cancel)

	h.pump(ctx, c)
}

func (h *Handler) pump(ctx context.Context, c *client) {
	if err := c.sendJSON(helloMessage{Type: "hello", RateHz: h.config.RateHz}); err != nil {
		metrics.IncStreamMessages("error")
		h.logger.Warn("stream send error (hello)", "remote_ip", c.ip, "error", err)
		return
	}

	limiter := rate.NewLimiter(rate.Limit(h.config.RateHz), 1)
	ping := time.NewTicker(h.config.PingInterval)
	defer ping.Stop()

	var (
		seq       int64
		lastFrame uint64
	)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		select {
		case <-ping.C:
			if err := c.ping(); err != nil {
				metrics.IncStreamMessages("error")
				h.logger.Debug("stream ping error", "remote_ip", c.ip, "error", err)
				return
			}
		default:
		}

		s := h.source.Snapshot()
		if s == nil || (seq > 0 && s.Frame == lastFrame) {
			continue
		}

		seq++
		if err := c.sendJSON(snapshotMessage{Type: "snapshot", Seq: seq, Snapshot: s}); err != nil {
			metrics.IncStreamMessages("error")
			h.logger.Warn("stream send error", "remote_ip", c.ip, "error", err)
			return
		}
		lastFrame = s.Frame
	}
}
