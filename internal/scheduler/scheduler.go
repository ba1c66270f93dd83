// Package scheduler picks the future instant to request from the propagation
// worker so that replies land close to the time they describe.
//
// Before each request the lead is min(latencyEMA*leadFactor, MaxLead). When
// the reply completes, the observed round trip feeds a heavily damped EMA and
// the prediction age (arrival minus requested target) nudges leadFactor up
// or down. Neither value can leave its configured bounds.
package scheduler

import (
	"log/slog"
	"math"
	"time"

	"github.com/star/orbitsync/internal/metrics"
)

// Config holds scheduler tuning. Zero fields take the defaults.
type Config struct {
	MaxLead           time.Duration // hard ceiling on the lead (default 400ms)
	InitialLatency    time.Duration // EMA seed (default 50ms)
	InitialLeadFactor float64       // default 1.0
	AgeTolerance      time.Duration // dead band around zero age (default 25ms)
	Smoothing         float64       // weight of the previous EMA (default 0.9)
	Grow              float64       // factor multiplier on under-shoot (default 1.05)
	Shrink            float64       // factor multiplier on over-shoot (default 0.94)
	MinFactor         float64       // default 0.5
	MaxFactor         float64       // default 2.0
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{
		MaxLead:           400 * time.Millisecond,
		InitialLatency:    50 * time.Millisecond,
		InitialLeadFactor: 1.0,
		AgeTolerance:      25 * time.Millisecond,
		Smoothing:         0.9,
		Grow:              1.05,
		Shrink:            0.94,
		MinFactor:         0.5,
		MaxFactor:         2.0,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxLead <= 0 {
		c.MaxLead = d.MaxLead
	}
	if c.InitialLatency <= 0 {
		c.InitialLatency = d.InitialLatency
	}
	if c.AgeTolerance <= 0 {
		c.AgeTolerance = d.AgeTolerance
	}
	if c.Smoothing <= 0 || c.Smoothing >= 1 {
		c.Smoothing = d.Smoothing
	}
	if c.Grow <= 1 {
		c.Grow = d.Grow
	}
	if c.Shrink <= 0 || c.Shrink >= 1 {
		c.Shrink = d.Shrink
	}
	if c.MinFactor <= 0 || c.MaxFactor < c.MinFactor {
		c.MinFactor, c.MaxFactor = d.MinFactor, d.MaxFactor
	}
	if c.InitialLeadFactor <= 0 {
		c.InitialLeadFactor = d.InitialLeadFactor
	}
	c.InitialLeadFactor = clamp(c.InitialLeadFactor, c.MinFactor, c.MaxFactor)
	return c
}

// State is a read-only view of the scheduler.
type State struct {
	LatencyEMAMs  float64   `json:"latency_ema_ms"`
	LeadFactor    float64   `json:"lead_factor"`
	LeadMs        float64   `json:"lead_ms"`
	Pending       bool      `json:"pending"`
	Target        time.Time `json:"target"`
	LastLatencyMs float64   `json:"last_latency_ms"`
	LastAgeMs     float64   `json:"last_age_ms"`
	Samples       int       `json:"samples"`
}

// Observation describes one completed round trip.
type Observation struct {
	Latency time.Duration
	Age     time.Duration
	// Adjust is +1 when the prediction under-shot, -1 when it over-shot and
	// 0 inside the tolerance band.
	Adjust int
}

// Scheduler is not safe for concurrent use; the render loop owns it.
type Scheduler struct {
	config Config
	logger *slog.Logger

	latencyEMA float64 // ms
	leadFactor float64
	leadMs     float64

	pending bool
	sentAt  time.Time
	target  time.Time

	lastLatencyMs float64
	lastAgeMs     float64
	samples       int
}

// New creates a scheduler in its initial state.
func New(config Config, logger *slog.Logger) *Scheduler {
	s := &Scheduler{config: config.withDefaults(), logger: logger}
	s.Reset()
	return s
}

// Reset returns the scheduler to its initial estimates and forgets any
// outstanding request. It is called whenever the worker is replaced.
func (s *Scheduler) Reset() {
	s.latencyEMA = ms(s.config.InitialLatency)
	s.leadFactor = s.config.InitialLeadFactor
	s.leadMs = 0
	s.pending = false
	s.sentAt = time.Time{}
	s.target = time.Time{}
	s.lastLatencyMs = 0
	s.lastAgeMs = 0
	s.samples = 0
}

// Lead returns the lead that a request issued now would use.
func (s *Scheduler) Lead() time.Duration {
	lead := s.latencyEMA * s.leadFactor
	if math.IsNaN(lead) {
		lead = 0
	}
	lead = clamp(lead, 0, ms(s.config.MaxLead))
	return time.Duration(lead * float64(time.Millisecond))
}

// Plan returns the target time for a request sent at now and records it as
// outstanding. Call Cancel if the request could not be sent.
func (s *Scheduler) Plan(now time.Time) time.Time {
	lead := s.Lead()
	s.leadMs = ms(lead)
	s.sentAt = now
	s.target = now.Add(lead)
	s.pending = true
	metrics.SetLeadMs(s.leadMs)
	return s.target
}

// Cancel forgets the outstanding request without learning from it.
func (s *Scheduler) Cancel() {
	s.pending = false
}

// Pending reports whether a planned request has not completed yet.
func (s *Scheduler) Pending() bool {
	return s.pending
}

// Target returns the target time of the last planned request.
func (s *Scheduler) Target() time.Time {
	return s.target
}

// Complete feeds the arrival of the outstanding request's completion at now
// into the estimators. It returns false if nothing was outstanding.
func (s *Scheduler) Complete(now time.Time) (Observation, bool) {
	if !s.pending {
		return Observation{}, false
	}
	s.pending = false

	latency := now.Sub(s.sentAt)
	if latency < 0 {
		latency = 0
	}
	age := now.Sub(s.target)

	a := s.config.Smoothing
	s.latencyEMA = a*s.latencyEMA + (1-a)*ms(latency)

	obs := Observation{Latency: latency, Age: age}
	switch {
	case age > s.config.AgeTolerance:
		s.leadFactor *= s.config.Grow
		obs.Adjust = 1
	case age < -s.config.AgeTolerance:
		s.leadFactor *= s.config.Shrink
		obs.Adjust = -1
	}
	s.leadFactor = clamp(s.leadFactor, s.config.MinFactor, s.config.MaxFactor)

	s.lastLatencyMs = ms(latency)
	s.lastAgeMs = ms(age)
	s.samples++

	metrics.RecordRoundTrip(latency, s.lastAgeMs, s.latencyEMA, s.leadFactor)
	s.logger.Debug("round trip observed",
		"latency_ms", s.lastLatencyMs,
		"age_ms", s.lastAgeMs,
		"latency_ema_ms", s.latencyEMA,
		"lead_factor", s.leadFactor,
	)
	return obs, true
}

// State returns a copy of the scheduler's estimates.
func (s *Scheduler) State() State {
	return State{
		LatencyEMAMs:  s.latencyEMA,
		LeadFactor:    s.leadFactor,
		LeadMs:        s.leadMs,
		Pending:       s.pending,
		Target:        s.target,
		LastLatencyMs: s.lastLatencyMs,
		LastAgeMs:     s.lastAgeMs,
		Samples:       s.samples,
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
