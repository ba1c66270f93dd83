package pipeline

import (
	"time"

	"github.com/brunoga/deep"

	"github.com/star/orbitsync/internal/camera"
	"github.com/star/orbitsync/internal/labels"
	"github.com/star/orbitsync/internal/propagation"
	"github.com/star/orbitsync/internal/scheduler"
)

// Snapshot is a read-only copy of pipeline state for introspection.
type Snapshot struct {
	Time              time.Time           `json:"time"`
	Frame             uint64              `json:"frame"`
	Source            string              `json:"source"`
	Generation        uint64              `json:"generation"`
	Objects           int                 `json:"objects"`
	Known             int                 `json:"known"`
	Loading           float64             `json:"loading"`
	FirstFrameLoading bool                `json:"first_frame_loading"`
	ViewFrame         propagation.Frame   `json:"view_frame"`
	ViewMode          ViewMode            `json:"view_mode"`
	BodyRotation      float64             `json:"body_rotation"`
	Scale             float64             `json:"scale"`
	Highlight         Color               `json:"highlight"`
	Scheduler         scheduler.State     `json:"scheduler"`
	Camera            camera.State        `json:"camera"`
	Selection         *SelectionInfo      `json:"selection,omitempty"`
	Indicator         *Indicator          `json:"indicator,omitempty"`
	LabelsEnabled     bool                `json:"labels_enabled"`
	Labels            []labels.EntryState `json:"labels"`
	Worker            WorkerState         `json:"worker"`
	Markers           []Marker            `json:"markers"`
}

// WorkerState describes the propagation worker.
type WorkerState struct {
	Busy         bool                  `json:"busy"`
	Ready        bool                  `json:"ready"`
	Restarts     int                   `json:"restarts"`
	LastComplete *propagation.Complete `json:"last_complete,omitempty"`
}

// Snapshot returns a deep copy of the state published by the last tick, or
// nil before the first tick. Safe for concurrent use.
func (p *Pipeline) Snapshot() *Snapshot {
	s := p.snapshot.Load()
	if s == nil {
		return nil
	}
	c := deep.MustCopy(*s)
	return &c
}

// Ready reports whether a complete first frame has been published. Safe for
// concurrent use.
func (p *Pipeline) Ready() bool {
	s := p.snapshot.Load()
	return s != nil && !s.FirstFrameLoading
}

func (p *Pipeline) publish(now time.Time) {
	s := &Snapshot{
		Time:              now,
		Frame:             p.frames,
		Objects:           p.store.Len(),
		Known:             p.store.KnownCount(),
		Loading:           p.LoadingProgress(),
		FirstFrameLoading: p.FirstFrameLoading(),
		ViewFrame:         p.viewFrame,
		ViewMode:          p.viewMode,
		BodyRotation:      p.store.BodyRotation(),
		Scale:             p.store.Scale(),
		Highlight:         p.highlight,
		Scheduler:         p.sched.State(),
		Camera:            p.cam.State(),
		Selection:         p.SelectionInfo(),
		LabelsEnabled:     p.labels.Enabled(),
		Labels:            p.labels.States(),
		Worker:            WorkerState{Restarts: p.restarts},
		Markers:           append([]Marker(nil), p.markers...),
	}
	if p.dataset != nil {
		s.Source = p.dataset.Source
		s.Generation = p.dataset.Generation
	}
	if p.indicator != nil {
		ind := *p.indicator
		s.Indicator = &ind
	}
	if p.channel != nil {
		s.Worker.Busy = p.channel.Busy()
		s.Worker.Ready = p.channel.Ready()
	}
	if p.lastComplete != nil {
		c := *p.lastComplete
		s.Worker.LastComplete = &c
	}
	p.snapshot.Store(s)
}
