package propagation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/sync/errgroup"

	"github.com/star/orbitsync/internal/metrics"
	"github.com/star/orbitsync/internal/transform"
)

// Worker owns the compiled propagators and answers requests arriving on its
// inbox. It runs in its own goroutine and talks to the render loop only
// through encoded messages.
type Worker struct {
	config Config
	logger *slog.Logger

	inbox  <-chan []byte
	outbox chan<- []byte

	// props is indexed like the element sets; nil marks a set that failed
	// to compile and always yields an invisible sample.
	props []*SGP4Propagator
}

func newWorker(config Config, inbox <-chan []byte, outbox chan<- []byte, logger *slog.Logger) *Worker {
	return &Worker{
		config: config.withDefaults(),
		logger: logger,
		inbox:  inbox,
		outbox: outbox,
	}
}

// Run processes messages until ctx is cancelled or the inbox is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-w.inbox:
			if !ok {
				return
			}
			if err := w.handle(ctx, data); err != nil {
				if ctx.Err() != nil {
					return
				}
				w.logger.Warn("worker request failed", "error", err)
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, data []byte) error {
	env, err := decodeEnvelope(data)
	if err != nil {
		return w.fail(ctx, 0, err)
	}

	switch env.Type {
	case MsgInitTLEs:
		var msg initTLEs
		if err := decodeBody(env, &msg); err != nil {
			return w.fail(ctx, env.Seq, err)
		}
		w.compile(msg.TLEData)
		if err := w.propagateAll(ctx, env.Seq, msg.Date, nil, nil, FrameFixed); err != nil {
			return err
		}
		return w.send(ctx, MsgTLEsReady, env.Seq, struct{}{})

	case MsgPropagate:
		var msg propagate
		if err := decodeBody(env, &msg); err != nil {
			return w.fail(ctx, env.Seq, err)
		}
		if w.props == nil {
			return w.fail(ctx, env.Seq, ErrNotInitialized)
		}
		var frustum *transform.Frustum
		if f, ok := transform.FrustumFromPlanes(msg.FrustumPlanes); ok {
			frustum = &f
		}
		return w.propagateAll(ctx, env.Seq, msg.Date, frustum, msg.ReferencePoint, msg.Frame)

	default:
		return w.fail(ctx, env.Seq, fmt.Errorf("unknown message type %q", env.Type))
	}
}

// compile precompiles every element set. Failures are kept as nil entries so
// indices stay dense.
func (w *Worker) compile(sets []tleLines) {
	start := time.Now()
	w.props = make([]*SGP4Propagator, len(sets))
	var skipped int
	for i, s := range sets {
		sp, err := NewSGP4Propagator(s.Line1, s.Line2, s.NORADID)
		if err != nil {
			w.logger.Warn("sgp4 init failed", "index", i, "norad_id", s.NORADID, "error", err)
			skipped++
			continue
		}
		w.props[i] = sp
	}
	w.logger.Info("element sets compiled",
		"count", len(sets),
		"skipped", skipped,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// propagateAll streams the whole batch in chunks followed by a completion
// marker. Per-object failures become invisible samples.
func (w *Worker) propagateAll(ctx context.Context, seq uint64, date time.Time, frustum *transform.Frustum, ref *[3]float64, frame Frame) error {
	start := time.Now()
	total := len(w.props)

	// Same angle for every object in the batch.
	gmst := transform.GMST(date)

	var refFixed *transform.Fixed
	if ref != nil {
		f := transform.SceneToFixed(mgl64.Vec3(*ref))
		refFixed = &f
	}

	var errCount int
	for off := 0; off < total; off += w.config.ChunkSize {
		end := min(off+w.config.ChunkSize, total)
		samples := make([]Sample, end-off)
		w.propagateRange(ctx, samples, off, date, gmst, frustum, refFixed, frame)
		for _, s := range samples {
			if !s.Visible {
				errCount++
			}
		}
		if err := w.send(ctx, MsgChunk, seq, Chunk{Samples: samples, Offset: off, Total: total}); err != nil {
			return err
		}
		metrics.IncChunks()
	}

	duration := time.Since(start)
	metrics.RecordPropagation(duration, total-errCount, errCount)
	w.logger.Debug("propagation complete",
		"seq", seq,
		"count", total,
		"errors", errCount,
		"duration_ms", duration.Milliseconds(),
	)

	return w.send(ctx, MsgComplete, seq, Complete{
		Date:       date,
		Count:      total,
		Errors:     errCount,
		DurationMs: duration.Milliseconds(),
	})
}

// propagateRange fills samples for indices [off, off+len(samples)) using up
// to config.Workers goroutines.
func (w *Worker) propagateRange(ctx context.Context, samples []Sample, off int, date time.Time, gmst float64, frustum *transform.Frustum, ref *transform.Fixed, frame Frame) {
	var g errgroup.Group
	g.SetLimit(w.config.Workers)

	per := int(math.Ceil(float64(len(samples)) / float64(w.config.Workers)))
	for lo := 0; lo < len(samples); lo += per {
		hi := min(lo+per, len(samples))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				samples[i] = w.propagateOne(off+i, date, gmst, frustum, ref, frame)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (w *Worker) propagateOne(index int, date time.Time, gmst float64, frustum *transform.Frustum, ref *transform.Fixed, frame Frame) Sample {
	s := Sample{Index: index, Sidereal: gmst}

	prop := w.props[index]
	if prop == nil {
		return s
	}
	pos, err := prop.Propagate(date)
	if err != nil {
		w.logger.Debug("propagation failed", "index", index, "error", err)
		return s
	}

	fixed := transform.InertialToFixed(pos, gmst)
	display := fixed
	if frame == FrameInertial {
		display = pos.AsFixed()
	}

	s.Position = [3]float64{pos.X, pos.Y, pos.Z}
	s.Visible = true
	s.Geodetic = geodeticOf(pos, gmst)
	if frustum != nil {
		s.InFrustum = frustum.Contains(transform.FixedToScene(display), 0)
	}
	if ref != nil {
		dx, dy, dz := display.X-ref.X, display.Y-ref.Y, display.Z-ref.Z
		s.RangeKm = math.Sqrt(dx*dx + dy*dy + dz*dz)
	}
	return s
}

func (w *Worker) send(ctx context.Context, typ string, seq uint64, body any) error {
	data, err := encode(typ, seq, body)
	if err != nil {
		return err
	}
	select {
	case w.outbox <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) fail(ctx context.Context, seq uint64, cause error) error {
	if err := w.send(ctx, MsgWorkerFail, seq, workerError{Message: cause.Error()}); err != nil {
		return err
	}
	return cause
}
