package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/star/orbitsync/internal/passes"
	"github.com/star/orbitsync/internal/tle"
	"github.com/star/orbitsync/internal/transform"
)

// passRetry is the wait between attempts to hand a prediction back while
// the command queue is full.
const passRetry = 20 * time.Millisecond

// passPredictor finds the next pass of set over obs.
type passPredictor func(ctx context.Context, obs transform.Observer, set tle.ElementSet, from time.Time, horizon time.Duration, minElevationDeg float64) (*passes.Pass, error)

// passKey identifies the selection a pass prediction was made for.
type passKey struct {
	index      int
	generation uint64
}

// updateNextPass keeps the next pass of the selection over the observer
// current. Predictions run off the render loop and come back through Submit;
// results for a selection that has since changed are dropped.
func (p *Pipeline) updateNextPass(now time.Time) {
	if p.observer == nil || p.selected < 0 || p.dataset == nil {
		return
	}
	key := passKey{index: p.selected, generation: p.dataset.Generation}
	if key != p.passFor {
		p.passFor = key
		p.nextPass = nil
		p.passPending = false
		p.passRetryAt = time.Time{}
	}
	if p.passPending {
		return
	}
	if p.nextPass != nil && !now.After(p.nextPass.End) {
		return
	}
	if p.nextPass == nil && now.Before(p.passRetryAt) {
		return
	}

	p.passPending = true
	ctx, obs, set := p.ctx, *p.observer, p.dataset.Sets[p.selected]
	horizon, minEl := p.config.PassHorizon, p.config.PassMinElevationDeg
	predict := p.predictPass
	go func() {
		pass, err := predict(ctx, obs, set, now, horizon, minEl)
		apply := func(p *Pipeline, _ time.Time) {
			if p.passFor != key {
				return
			}
			p.passPending = false
			p.nextPass = pass
			if err != nil {
				p.logger.Debug("pass prediction failed", "index", key.index, "error", err)
			}
			if pass == nil {
				p.passRetryAt = now.Add(horizon)
			}
		}
		// The result must reach the render loop, or passPending stays set
		// for this selection.
		for {
			submitErr := p.Submit(apply)
			if !errors.Is(submitErr, ErrQueueFull) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(passRetry):
			}
		}
	}()
}

// clearNextPass forgets any prediction. Replies still in flight no longer
// match passFor and are dropped.
func (p *Pipeline) clearNextPass() {
	p.passFor = passKey{index: -1}
	p.nextPass = nil
	p.passPending = false
	p.passRetryAt = time.Time{}
}
