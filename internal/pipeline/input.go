package pipeline

import (
	"fmt"
	"math"
	"time"

	"github.com/star/orbitsync/internal/passes"
	"github.com/star/orbitsync/internal/propagation"
	"github.com/star/orbitsync/internal/selection"
	"github.com/star/orbitsync/internal/transform"
)

// SelectObject selects index. In the satellite view the camera starts
// flying to it as soon as its position is known.
func (p *Pipeline) SelectObject(index int, now time.Time) error {
	if index < 0 || index >= p.dataset.Len() {
		return fmt.Errorf("selecting %d: %w", index, ErrIndexOutOfRange)
	}
	p.selected = index
	p.indicator = nil
	p.lastLabelRefresh = time.Time{}
	p.reconcileCamera(now)
	return nil
}

// DeselectObject clears the selection and returns the camera to Global.
func (p *Pipeline) DeselectObject(now time.Time) {
	p.selected = -1
	p.viewMode = ViewGlobal
	p.indicator = nil
	p.clearNextPass()
	p.lastLabelRefresh = time.Time{}
	p.reconcileCamera(now)
}

// SetViewMode switches between the free camera and following the selection.
// The satellite view needs a selection.
func (p *Pipeline) SetViewMode(mode ViewMode, now time.Time) error {
	switch mode {
	case ViewGlobal:
	case ViewSatellite:
		if p.selected < 0 {
			return ErrNoSelection
		}
	default:
		return fmt.Errorf("unknown view mode %q", mode)
	}
	p.viewMode = mode
	p.reconcileCamera(now)
	return nil
}

// SetViewFrame switches the display frame. Known positions are re-projected
// immediately.
func (p *Pipeline) SetViewFrame(frame propagation.Frame) error {
	if frame != propagation.FrameFixed && frame != propagation.FrameInertial {
		return fmt.Errorf("unknown view frame %q", frame)
	}
	p.viewFrame = frame
	p.store.SetFrame(frame)
	p.lastLabelRefresh = time.Time{}
	return nil
}

// SetLabelsEnabled toggles ranked labels. The selected object keeps its label.
func (p *Pipeline) SetLabelsEnabled(enabled bool) {
	p.labels.SetEnabled(enabled)
	p.lastLabelRefresh = time.Time{}
}

// SetHighlightColor sets the colour of the selected object.
func (p *Pipeline) SetHighlightColor(c Color) {
	p.highlight = c
}

// SetViewport sets the viewport size in pixels.
func (p *Pipeline) SetViewport(width, height int) {
	if width > 0 && height > 0 {
		p.config.Width, p.config.Height = width, height
	}
}

// PointerDown starts a pointer gesture.
func (p *Pipeline) PointerDown(now time.Time) {
	p.clicks.Press(now)
}

// PointerDrag rotates the camera by a pointer movement in pixels.
func (p *Pipeline) PointerDrag(dx, dy float64, now time.Time) {
	if !p.clicks.Pressed() {
		return
	}
	p.cam.Rotate(-dx*p.config.RotateSpeed, -dy*p.config.RotateSpeed, now)
}

// PointerUp ends a gesture at pixel (x, y). Short gestures are clicks: they
// select the object under the pointer, or clear the selection on a click in
// empty space. Clicks while zoomed out change nothing.
func (p *Pipeline) PointerUp(x, y float64, now time.Time) selection.Result {
	if !p.clicks.Release(now) || p.dataset == nil {
		return selection.Result{Index: -1}
	}
	res := p.resolver.Resolve(p.selectionView(), x, y, p.store)
	switch {
	case res.Hit():
		if err := p.SelectObject(res.Index, now); err != nil {
			p.logger.Warn("selection rejected", "index", res.Index, "error", err)
		}
	case !res.Gated:
		p.DeselectObject(now)
	}
	p.logger.Debug("click resolved", "index", res.Index, "method", res.Method.String(), "gated", res.Gated)
	return res
}

// Wheel zooms the camera by notches; positive zooms out.
func (p *Pipeline) Wheel(notches float64, now time.Time) {
	p.cam.Zoom(math.Pow(p.config.ZoomStep, notches), now)
}

// Selected returns the selected index, or -1.
func (p *Pipeline) Selected() int {
	return p.selected
}

// SelectionInfo describes the selected object for info panels.
type SelectionInfo struct {
	Index         int                   `json:"index"`
	Name          string                `json:"name"`
	NORADID       int                   `json:"norad_id"`
	PeriodMinutes float64               `json:"period_minutes"`
	Geodetic      *propagation.Geodetic `json:"geodetic,omitempty"`
	Look          *transform.LookAngles `json:"look,omitempty"`
	NextPass      *passes.Pass          `json:"next_pass,omitempty"`
}

// SelectionInfo returns display fields for the selection, or nil.
func (p *Pipeline) SelectionInfo() *SelectionInfo {
	if p.selected < 0 || p.dataset == nil {
		return nil
	}
	set := p.dataset.Sets[p.selected]
	info := &SelectionInfo{Index: set.Index, Name: set.Name, NORADID: set.NORADID}
	if period, err := set.Period(); err == nil {
		info.PeriodMinutes = period.Minutes()
	}
	if g := p.store.Hint(p.selected).Geodetic; g != nil {
		geo := *g
		info.Geodetic = &geo
	}
	if p.observer != nil {
		if fixed, ok := p.store.Fixed(p.selected); ok {
			look := p.observer.Look(fixed)
			info.Look = &look
		}
	}
	if p.nextPass != nil && p.passFor.index == p.selected {
		pass := *p.nextPass
		pass.Track = nil
		info.NextPass = &pass
	}
	return info
}

// LoadingProgress returns the share of the initial propagation received, in
// [0, 1]. It is 0 with no dataset.
func (p *Pipeline) LoadingProgress() float64 {
	switch {
	case p.initDone:
		return 1
	case p.initTotal <= 0:
		return 0
	default:
		return math.Min(1, float64(p.initReceived)/float64(p.initTotal))
	}
}

// FirstFrameLoading reports whether the initial propagation is still
// arriving.
func (p *Pipeline) FirstFrameLoading() bool {
	return !p.initDone
}
