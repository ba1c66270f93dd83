// Package pipeline runs the per-frame loop that keeps the propagation
// worker, the prediction scheduler, the position store, the camera and the
// labels consistent.
//
// A Pipeline is owned by one goroutine (the render loop) which calls Tick
// once per frame and the UI setters in between. Other goroutines interact
// only through Submit, QueueDataset and Snapshot.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/star/orbitsync/internal/camera"
	"github.com/star/orbitsync/internal/labels"
	"github.com/star/orbitsync/internal/metrics"
	"github.com/star/orbitsync/internal/passes"
	"github.com/star/orbitsync/internal/positions"
	"github.com/star/orbitsync/internal/propagation"
	"github.com/star/orbitsync/internal/scheduler"
	"github.com/star/orbitsync/internal/selection"
	"github.com/star/orbitsync/internal/tle"
	"github.com/star/orbitsync/internal/transform"
)

var (
	// ErrNoSelection is returned when the satellite view is requested with
	// nothing selected.
	ErrNoSelection = errors.New("no object selected")

	// ErrIndexOutOfRange is returned for object indices outside the dataset.
	ErrIndexOutOfRange = errors.New("object index out of range")

	// ErrQueueFull is returned by Submit when the command queue is full.
	ErrQueueFull = errors.New("pipeline command queue full")
)

// ViewMode is the view requested by the UI.
type ViewMode string

const (
	ViewGlobal    ViewMode = "global"
	ViewSatellite ViewMode = "satellite"
)

// Command runs on the render loop goroutine at the start of a tick.
type Command func(p *Pipeline, now time.Time)

// Pipeline is not safe for concurrent use except where noted.
type Pipeline struct {
	ctx      context.Context
	config   Config
	renderer Renderer
	logger   *slog.Logger

	dataset *tle.Dataset
	channel *propagation.Channel

	sched     *scheduler.Scheduler
	store     *positions.Store
	resolver  *selection.Resolver
	clicks    *selection.ClickDetector
	cam       *camera.Camera
	labels    *labels.Manager
	orbits    *propagation.OrbitSampler
	observer  *transform.Observer
	highlight Color
	markers   []Marker

	viewFrame propagation.Frame
	viewMode  ViewMode
	selected  int
	indicator *Indicator

	initReceived int
	initTotal    int
	initDone     bool
	restarts     int
	lastComplete *propagation.Complete

	predictPass passPredictor
	nextPass    *passes.Pass
	passFor     passKey
	passPending bool
	passRetryAt time.Time

	lastLabelRefresh time.Time
	frames           uint64

	commands chan Command
	snapshot atomic.Pointer[Snapshot]
}

// New creates a pipeline with no dataset. Workers started later stop when
// ctx is cancelled.
func New(ctx context.Context, config Config, renderer Renderer, logger *slog.Logger) (*Pipeline, error) {
	config = config.withDefaults()

	orbits, err := propagation.NewOrbitSampler(config.OrbitCacheSize, config.OrbitPoints, logger)
	if err != nil {
		return nil, fmt.Errorf("creating orbit sampler: %w", err)
	}

	resolver := selection.NewResolver(config.Selection, logger)
	p := &Pipeline{
		ctx:         ctx,
		config:      config,
		renderer:    renderer,
		logger:      logger,
		sched:       scheduler.New(config.Scheduler, logger),
		store:       positions.New(0, config.Positions, logger),
		resolver:    resolver,
		clicks:      selection.NewClickDetector(resolver.Config().ClickThreshold),
		cam:         camera.New(config.Camera, logger),
		labels:      labels.NewManager(config.Labels, renderer, logger),
		orbits:      orbits,
		highlight:   DefaultHighlight,
		viewFrame:   config.Frame,
		viewMode:    ViewGlobal,
		selected:    -1,
		passFor:     passKey{index: -1},
		predictPass: passes.Next,
		commands:    make(chan Command, 64),
	}
	p.store.SetFrame(p.viewFrame)
	if o := config.Observer; o != nil {
		obs := transform.NewObserver(o.LatDeg, o.LonDeg, o.AltKm)
		p.observer = &obs
	}
	return p, nil
}

// Submit queues fn to run at the start of the next tick. Safe for
// concurrent use.
func (p *Pipeline) Submit(fn Command) error {
	select {
	case p.commands <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

// QueueDataset switches to ds at the start of the next tick. Safe for
// concurrent use.
func (p *Pipeline) QueueDataset(ds *tle.Dataset) error {
	return p.Submit(func(p *Pipeline, now time.Time) {
		if err := p.SwitchDataset(ds, now); err != nil {
			p.logger.Error("dataset switch failed", "source", ds.Source, "error", err)
		}
	})
}

// SwitchDataset replaces the worker with one initialized from ds and resets
// the scheduler, position store, labels, selection and camera together, so
// no reply for the old dataset can be applied to the new index domain.
func (p *Pipeline) SwitchDataset(ds *tle.Dataset, now time.Time) error {
	if ds.Len() == 0 {
		return tle.ErrNoDataset
	}
	p.dataset = ds
	p.selected = -1
	p.viewMode = ViewGlobal
	p.indicator = nil
	p.clearNextPass()
	p.cam.Exit()
	p.labels.Clear()
	p.store = positions.New(ds.Len(), p.config.Positions, p.logger)
	p.store.SetFrame(p.viewFrame)

	if err := p.startWorker(now); err != nil {
		return err
	}
	metrics.SetObjectCount(ds.Len())
	p.logger.Info("dataset switched",
		"source", ds.Source,
		"generation", ds.Generation,
		"objects", ds.Len(),
	)
	return nil
}

// startWorker replaces the worker channel and resets the scheduler and the
// position store.
func (p *Pipeline) startWorker(now time.Time) error {
	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	p.sched.Reset()
	p.store.Clear()
	p.initReceived, p.initTotal, p.initDone = 0, p.dataset.Len(), false
	p.lastComplete = nil

	ch := propagation.NewChannel(p.ctx, p.config.Propagation, p.logger)
	if err := ch.Initialize(p.dataset.Sets, now); err != nil {
		ch.Close()
		return fmt.Errorf("initializing worker: %w", err)
	}
	p.channel = ch
	return nil
}

func (p *Pipeline) restartWorker(now time.Time, reason string) {
	p.restarts++
	metrics.IncWorkerRestarts()
	p.logger.Warn("restarting propagation worker", "reason", reason, "restarts", p.restarts)
	if err := p.startWorker(now); err != nil {
		p.logger.Error("worker restart failed", "error", err)
	}
}

// Close stops the worker.
func (p *Pipeline) Close() {
	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
}

// Tick advances the pipeline to now and renders one frame.
func (p *Pipeline) Tick(now time.Time) error {
	p.drainCommands(now)
	p.frames++
	metrics.IncFrames()

	if p.channel != nil {
		p.checkWorker(now)
	}
	if p.channel != nil {
		p.applyReplies(now)
		p.maybeRequest(now)
	}

	p.updateNextPass(now)
	p.store.UpdateScale(p.cam.Distance())
	p.reconcileCamera(now)
	pos, ok := p.selectedPosition()
	pose := p.cam.Update(now, pos, ok)
	view, proj := p.cam.ViewMatrix(), p.cam.Projection(p.aspect())

	if now.Sub(p.lastLabelRefresh) >= p.config.LabelRefresh {
		frustum := transform.FrustumFromMatrix(proj.Mul4(view))
		p.labels.Refresh(now, labels.View{Eye: pose.Eye, Frustum: frustum}, p.store, p.selected)
		p.lastLabelRefresh = now
	}
	p.labels.Update(now, p.store)
	p.updateIndicator(pos, ok)

	frame := &Frame{
		Number:       p.frames,
		Camera:       pose,
		View:         view,
		Projection:   proj,
		Objects:      p.store,
		Scale:        p.store.Scale(),
		BodyRotation: p.store.BodyRotation(),
		Selected:     p.selected,
		Highlight:    p.highlight,
		Indicator:    p.indicator,
		OrbitPath:    p.orbitPath(now),
		Markers:      p.markers,
		Loading:      p.LoadingProgress(),
	}
	err := p.renderer.Render(frame)

	if p.dataset != nil {
		metrics.SetDatasetAge(now.Sub(p.dataset.LoadedAt).Seconds())
	}
	p.publish(now)
	if err != nil {
		return fmt.Errorf("rendering frame %d: %w", p.frames, err)
	}
	return nil
}

func (p *Pipeline) drainCommands(now time.Time) {
	for {
		select {
		case fn := <-p.commands:
			fn(p, now)
		default:
			return
		}
	}
}

// checkWorker replaces a worker that exited or has not answered the
// outstanding request within StallTimeout.
func (p *Pipeline) checkWorker(now time.Time) {
	select {
	case <-p.channel.Done():
		p.restartWorker(now, "worker exited")
		return
	default:
	}
	if p.channel.Busy() && now.Sub(p.channel.SentAt()) > p.config.StallTimeout {
		p.restartWorker(now, "request stalled")
	}
}

func (p *Pipeline) applyReplies(now time.Time) {
	for _, ev := range p.channel.Poll() {
		switch ev.Kind {
		case propagation.EventChunk:
			p.store.Ingest(ev.Chunk)
			if !p.initDone {
				p.initReceived += len(ev.Chunk.Samples)
				p.initTotal = ev.Chunk.Total
			}
		case propagation.EventComplete:
			c := ev.Complete
			p.lastComplete = &c
			if !p.initDone {
				p.initDone = true
				p.logger.Info("initial propagation complete",
					"objects", c.Count,
					"errors", c.Errors,
					"duration_ms", c.DurationMs,
				)
			}
			p.sched.Complete(now)
		case propagation.EventReady:
			p.logger.Debug("worker ready")
		case propagation.EventError:
			p.sched.Cancel()
			p.logger.Warn("worker rejected request", "error", ev.Err)
		}
	}
}

func (p *Pipeline) maybeRequest(now time.Time) {
	if p.channel.Busy() {
		return
	}
	pose := p.cam.Pose()
	frustum := transform.FrustumFromMatrix(p.cam.Projection(p.aspect()).Mul4(p.cam.ViewMatrix()))
	ref := [3]float64(pose.Eye)

	target := p.sched.Plan(now)
	err := p.channel.RequestPropagation(propagation.Request{
		Date:           target,
		FrustumPlanes:  frustum.Planes(),
		ReferencePoint: &ref,
		Frame:          p.viewFrame,
	}, now)
	if err != nil {
		p.sched.Cancel()
		p.logger.Debug("propagation request not sent", "error", err)
	}
}

func (p *Pipeline) selectedPosition() (mgl64.Vec3, bool) {
	if p.selected < 0 {
		return mgl64.Vec3{}, false
	}
	return p.store.Position(p.selected)
}

// reconcileCamera starts tracking when the satellite view is active and the
// selection has a position, and falls back to Global otherwise.
func (p *Pipeline) reconcileCamera(now time.Time) {
	switch {
	case p.viewMode == ViewGlobal || p.selected < 0:
		p.cam.Exit()
	case p.cam.Mode() == camera.ModeGlobal || p.cam.Tracked() != p.selected:
		if pos, ok := p.selectedPosition(); ok {
			p.cam.Track(p.selected, pos, now)
		}
	}
}

// updateIndicator moves the indicator to the selection, keeping the last
// valid placement when the position is unknown or not finite.
func (p *Pipeline) updateIndicator(pos mgl64.Vec3, ok bool) {
	if p.selected < 0 {
		p.indicator = nil
		return
	}
	if !ok || !transform.FiniteVec(pos) {
		return
	}
	ground := transform.SurfacePoint(pos)
	if !transform.FiniteVec(ground) {
		return
	}
	p.indicator = &Indicator{Index: p.selected, Position: pos, Ground: ground}
}

func (p *Pipeline) orbitPath(now time.Time) []mgl64.Vec3 {
	if p.selected < 0 || p.dataset == nil {
		return nil
	}
	path, err := p.orbits.Path(p.dataset.Generation, p.dataset.Sets[p.selected], p.config.OrbitMode, p.viewFrame, now)
	if err != nil {
		p.logger.Debug("orbit path unavailable", "index", p.selected, "error", err)
		return nil
	}
	return path
}

func (p *Pipeline) aspect() float64 {
	return float64(p.config.Width) / float64(p.config.Height)
}

func (p *Pipeline) selectionView() selection.View {
	return selection.View{
		Eye:        p.cam.Pose().Eye,
		Matrix:     p.cam.ViewMatrix(),
		Projection: p.cam.Projection(p.aspect()),
		Width:      p.config.Width,
		Height:     p.config.Height,
	}
}
