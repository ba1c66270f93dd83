package propagation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/star/orbitsync/internal/metrics"
	"github.com/star/orbitsync/internal/tle"
)

// EventKind tags a reply received from the worker.
type EventKind int

const (
	EventChunk EventKind = iota
	EventComplete
	EventReady
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventChunk:
		return "chunk"
	case EventComplete:
		return "complete"
	case EventReady:
		return "ready"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one decoded worker reply.
type Event struct {
	Kind     EventKind
	Seq      uint64
	Chunk    Chunk
	Complete Complete
	Err      error
}

// Channel is the render loop's end of the worker boundary. It is not safe
// for concurrent use: one goroutine (the render loop) issues requests and
// polls replies. The worker itself runs in its own goroutine.
//
// At most one request is outstanding. The busy channel holds a token from
// the moment a request is sent until its completion (or error) arrives.
type Channel struct {
	inbox  chan []byte
	outbox chan []byte
	busy   chan struct{}

	seq         uint64 // last issued sequence number
	initialized bool
	ready       bool
	sentAt      time.Time

	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

// NewChannel starts a worker goroutine and returns its channel. The worker
// stops when ctx is cancelled or Close is called.
func NewChannel(ctx context.Context, config Config, logger *slog.Logger) *Channel {
	ctx, cancel := context.WithCancel(ctx)
	c := &Channel{
		inbox:  make(chan []byte, 1),
		outbox: make(chan []byte, 64),
		busy:   make(chan struct{}, 1),
		cancel: cancel,
		done:   make(chan struct{}),
		logger: logger,
	}

	w := newWorker(config, c.inbox, c.outbox, logger)
	go func() {
		defer close(c.done)
		defer func() {
			if r := recover(); r != nil {
				logger.Error("propagation worker crashed", "panic", r)
			}
		}()
		w.Run(ctx)
	}()

	return c
}

// Initialize hands the element sets to the worker. The worker replies with
// a best-effort propagation for now (chunks, completion) and then tles_ready.
// The initial batch counts as the outstanding request.
func (c *Channel) Initialize(sets []tle.ElementSet, now time.Time) error {
	if c.initialized {
		return errors.New("propagation channel already initialized")
	}
	lines := make([]tleLines, len(sets))
	for i, s := range sets {
		lines[i] = tleLines{NORADID: s.NORADID, Line1: s.Line1, Line2: s.Line2}
	}
	if err := c.issue(MsgInitTLEs, initTLEs{TLEData: lines, Date: now}, now); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

// RequestPropagation asks the worker for positions at req.Date. It returns
// ErrRequestInFlight if the previous request has not completed yet.
func (c *Channel) RequestPropagation(req Request, now time.Time) error {
	if !c.initialized {
		return ErrNotInitialized
	}
	return c.issue(MsgPropagate, propagate{
		Date:           req.Date,
		FrustumPlanes:  req.FrustumPlanes,
		ReferencePoint: req.ReferencePoint,
		Frame:          req.Frame,
	}, now)
}

func (c *Channel) issue(typ string, body any, now time.Time) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}

	select {
	case c.busy <- struct{}{}:
	default:
		metrics.IncRequestsRejected()
		return ErrRequestInFlight
	}

	data, err := encode(typ, c.seq+1, body)
	if err != nil {
		<-c.busy
		return err
	}
	c.seq++
	c.sentAt = now

	// The inbox has room: only one request can be outstanding.
	c.inbox <- data
	return nil
}

// Busy reports whether a request is outstanding.
func (c *Channel) Busy() bool {
	return len(c.busy) > 0
}

// Ready reports whether the worker has finished compiling the element sets.
func (c *Channel) Ready() bool {
	return c.ready
}

// SentAt returns when the outstanding (or last) request was issued.
func (c *Channel) SentAt() time.Time {
	return c.sentAt
}

// Done is closed when the worker goroutine has exited.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Poll drains every reply that has arrived without blocking. Replies that
// do not belong to the outstanding request are dropped.
func (c *Channel) Poll() []Event {
	var events []Event
	for {
		select {
		case data := <-c.outbox:
			if ev, ok := c.accept(data); ok {
				events = append(events, ev)
			}
		default:
			return events
		}
	}
}

// Next blocks until the next reply arrives, ctx is done, or the worker exits.
func (c *Channel) Next(ctx context.Context) (Event, error) {
	for {
		select {
		case data := <-c.outbox:
			if ev, ok := c.accept(data); ok {
				return ev, nil
			}
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-c.done:
			return Event{}, ErrChannelClosed
		}
	}
}

func (c *Channel) accept(data []byte) (Event, bool) {
	env, err := decodeEnvelope(data)
	if err != nil {
		c.logger.Warn("dropping undecodable worker message", "error", err)
		return Event{}, false
	}
	// Readiness is sticky and may trail its batch's completion, by which
	// time a newer request can already be outstanding.
	if env.Type == MsgTLEsReady {
		c.ready = true
		return Event{Kind: EventReady, Seq: env.Seq}, true
	}
	if env.Seq != c.seq {
		c.logger.Debug("dropping stale worker message", "type", env.Type, "seq", env.Seq, "current_seq", c.seq)
		metrics.IncStaleMessages()
		return Event{}, false
	}

	ev := Event{Seq: env.Seq}
	switch env.Type {
	case MsgChunk:
		ev.Kind = EventChunk
		err = decodeBody(env, &ev.Chunk)
	case MsgComplete:
		ev.Kind = EventComplete
		err = decodeBody(env, &ev.Complete)
		c.release()
	case MsgWorkerFail:
		var we workerError
		ev.Kind = EventError
		if err = decodeBody(env, &we); err == nil {
			ev.Err = errors.New(we.Message)
		}
		c.release()
	default:
		err = fmt.Errorf("unknown message type %q", env.Type)
	}
	if err != nil {
		c.logger.Warn("dropping malformed worker message", "type", env.Type, "error", err)
		return Event{}, false
	}
	return ev, true
}

func (c *Channel) release() {
	select {
	case <-c.busy:
	default:
	}
}

// Close stops the worker and waits for it to exit.
func (c *Channel) Close() {
	c.cancel()
	<-c.done
}
