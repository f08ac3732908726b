// Package supervisor spawns workers on behalf of a caller and turns their
// replies into futures.
//
// Every worker gets a private reply endpoint owned by its Handle. The
// worker's results, failures and exit notification all arrive there and are
// matched to pending requests by correlation id. A worker that ends without
// answering fails every pending request with UNEXPECTED_EXIT, so callers
// never wait on a dead worker.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/fluxorio/isolate/pkg/channel"
	"github.com/fluxorio/isolate/pkg/core"
	"github.com/fluxorio/isolate/pkg/isolate"
	"github.com/fluxorio/isolate/pkg/protocol"
)

// Options configures a Supervisor.
type Options struct {
	Logger    core.Logger
	QueueSize int
	Observer  isolate.Observer
}

// Supervisor tracks the workers it spawned.
type Supervisor struct {
	opts   Options
	logger core.Logger

	mu      sync.Mutex
	handles map[string]*Handle
}

// New creates a supervisor.
func New(opts Options) *Supervisor {
	if opts.Logger == nil {
		opts.Logger = core.NewDefaultLogger()
	}
	return &Supervisor{
		opts:    opts,
		logger:  opts.Logger.Named("supervisor"),
		handles: make(map[string]*Handle),
	}
}

// Spawn starts entry with payload as its bootstrap payload. The worker's
// first message is a protocol.Bootstrap carrying the handle's reply endpoint.
// Failures before the worker runs are returned synchronously as SPAWN_FAILURE.
func (s *Supervisor) Spawn(ctx context.Context, entry isolate.Entry, payload any) (*Handle, error) {
	rx, tx := channel.CreateNamed("reply:" + entry.Name())
	h := newHandle(s, rx)

	unit, err := isolate.Spawn(ctx, entry, protocol.Bootstrap(tx, payload), isolate.Options{
		OnError:   tx,
		OnExit:    tx,
		Logger:    s.opts.Logger,
		QueueSize: s.opts.QueueSize,
		Observer:  s.opts.Observer,
	})
	if err != nil {
		rx.Close()
		if core.CodeOf(err) != core.CodeSpawnFailure {
			err = core.WrapError(core.CodeSpawnFailure, err, "spawn %s", entry.Name())
		}
		return nil, err
	}
	h.unit = unit

	s.mu.Lock()
	s.handles[unit.ID()] = h
	s.mu.Unlock()

	go h.dispatch()
	return h, nil
}

// Terminate stops the worker behind h.
func (s *Supervisor) Terminate(h *Handle, urgency isolate.Urgency) {
	h.Terminate(urgency)
}

// Active returns the number of workers that have not exited yet.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// killGrace bounds the wait for killed workers to report their exit.
const killGrace = time.Second

// Shutdown terminates every live worker gracefully and waits for them to
// exit. Workers still running when ctx is done are killed, which fails their
// pending requests with UNEXPECTED_EXIT, and ctx's error is returned.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		h.Terminate(isolate.Graceful)
	}
	for _, h := range handles {
		select {
		case <-h.Exited():
		case <-ctx.Done():
			s.kill(handles)
			return ctx.Err()
		}
	}
	return nil
}

func (s *Supervisor) kill(handles []*Handle) {
	var live []*Handle
	for _, h := range handles {
		select {
		case <-h.Exited():
		default:
			live = append(live, h)
		}
	}
	if len(live) == 0 {
		return
	}
	s.logger.Warnf("killing %d workers that outlived shutdown", len(live))
	for _, h := range live {
		h.Terminate(isolate.Immediate)
	}

	timer := time.NewTimer(killGrace)
	defer timer.Stop()
	for _, h := range live {
		select {
		case <-h.Exited():
		case <-timer.C:
			return
		}
	}
}

func (s *Supervisor) forget(h *Handle) {
	s.mu.Lock()
	delete(s.handles, h.unit.ID())
	s.mu.Unlock()
}
