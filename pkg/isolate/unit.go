// Package isolate runs worker code in isolated units.
//
// A Unit owns a private reactor: a goroutine that runs the unit's tasks one
// at a time. Units share no memory with their spawner. They receive one
// initial payload, a private copy made at spawn time, and talk to the rest of
// the program only through channel endpoints.
package isolate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxorio/isolate/pkg/channel"
	"github.com/fluxorio/isolate/pkg/core"
	"github.com/fluxorio/isolate/pkg/message"
	"github.com/fluxorio/isolate/pkg/protocol"
	"github.com/fluxorio/isolate/pkg/reactor"
)

// State is a unit's lifecycle state.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateStopping
	StateExited
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateExited:
		return "exited"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Urgency selects how Terminate stops a unit.
type Urgency int

const (
	// Immediate abandons queued tasks. Sends the worker had not yet made are lost.
	Immediate Urgency = iota
	// Graceful refuses new tasks and lets queued ones run to completion.
	Graceful
)

// Observer receives lifecycle events, typically for metrics.
type Observer interface {
	WorkerStarted(entry string)
	WorkerExited(entry, reason string, lifetime time.Duration)
}

// Options configures Spawn. Every field is optional.
type Options struct {
	// OnError receives a protocol.Failure when the entry fails or panics.
	OnError channel.Sender
	// OnExit receives exactly one protocol.Exit when the unit ends.
	OnExit channel.Sender
	// Logger defaults to core.NewDefaultLogger. Lines are prefixed with the unit id.
	Logger core.Logger
	// QueueSize bounds the unit's task mailbox.
	QueueSize int
	// Observer is notified on start and exit.
	Observer Observer
}

// Unit is a running worker.
type Unit struct {
	id      string
	entry   string
	opts    Options
	logger  core.Logger
	reactor *reactor.Reactor
	started time.Time

	ctx    context.Context
	cancel context.CancelFunc

	state  atomic.Int32
	killed atomic.Bool

	mu     sync.Mutex
	reason string
	inbox  *channel.Receiver

	exitOnce sync.Once
	done     chan struct{}
}

// Spawn starts a unit running entry with a private copy of initial.
//
// Failures before the unit is running are returned as SPAWN_FAILURE,
// including an initial payload that is not sendable. The unit's lifetime is
// independent of ctx; ctx only contributes its values.
func Spawn(ctx context.Context, entry Entry, initial any, opts Options) (*Unit, error) {
	if entry.IsZero() {
		return nil, core.NewError(core.CodeSpawnFailure, "entry is not initialised")
	}
	cp, err := message.Clone(initial)
	if err != nil {
		return nil, core.WrapError(core.CodeSpawnFailure, err, "initial payload for %s", entry.name)
	}

	u := &Unit{
		id:      core.NewID("worker"),
		entry:   entry.name,
		opts:    opts,
		reactor: reactor.New(opts.QueueSize),
		done:    make(chan struct{}),
	}
	logger := opts.Logger
	if logger == nil {
		logger = core.NewDefaultLogger()
	}
	u.logger = logger.Named(u.id)
	u.ctx, u.cancel = context.WithCancel(context.WithoutCancel(ctx))
	u.state.Store(int32(StateStarting))

	u.reactor.OnPanic(func(v any, stack []byte) {
		u.fail("", fmt.Sprint(v), string(stack))
	})
	u.reactor.OnIdle(func() {
		u.finish(protocol.ReasonNatural)
	})

	w := &Context{unit: u}
	u.started = time.Now()
	if opts.Observer != nil {
		opts.Observer.WorkerStarted(u.entry)
	}
	u.reactor.Start()
	err = u.reactor.Post(func() {
		if err := entry.run(w, cp); err != nil {
			u.fail(core.CodeOf(err), err.Error(), traceOf(err))
		}
	})
	if err != nil {
		u.finish(protocol.ReasonError)
		return nil, core.WrapError(core.CodeSpawnFailure, err, "schedule entry %s", entry.name)
	}
	u.state.CompareAndSwap(int32(StateStarting), int32(StateRunning))
	u.logger.Debugf("spawned %s", u.entry)
	return u, nil
}

// ID returns the unit's unique id.
func (u *Unit) ID() string { return u.id }

// Entry returns the name of the function the unit runs.
func (u *Unit) Entry() string { return u.entry }

// State returns the current lifecycle state.
func (u *Unit) State() State { return State(u.state.Load()) }

// Done is closed once the unit has exited.
func (u *Unit) Done() <-chan struct{} { return u.done }

// Reason returns the exit reason, or "" while the unit is alive.
func (u *Unit) Reason() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.reason
}

// Terminate stops the unit. It does not wait; use Done for that.
// Terminating an exited unit is a no-op.
func (u *Unit) Terminate(urgency Urgency) {
	if urgency == Graceful {
		if !u.beginStop() {
			return
		}
		u.cancel()
		go func() {
			_ = u.reactor.Stop(context.Background())
			u.finish(protocol.ReasonTerminated)
		}()
		return
	}

	// Immediate also overrides a graceful stop still in progress.
	if State(u.state.Load()) == StateExited || u.killed.Swap(true) {
		return
	}
	u.beginStop()
	u.cancel()
	u.reactor.Kill()
	u.finish(protocol.ReasonKilled)
}

func (u *Unit) beginStop() bool {
	return u.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) ||
		u.state.CompareAndSwap(int32(StateStarting), int32(StateStopping))
}

// fail reports a failure to OnError and ends the unit. Runs on the loop.
func (u *Unit) fail(code, description, trace string) {
	u.logger.Warnf("%s failed: %s", u.entry, description)
	if !u.opts.OnError.IsZero() && !u.killed.Load() {
		if err := u.opts.OnError.Send(protocol.Failure("", u.id, code, description, trace)); err != nil {
			u.logger.Errorf("report failure: %v", err)
		}
	}
	u.reactor.Kill()
	u.finish(protocol.ReasonError)
}

func (u *Unit) finish(reason string) {
	u.exitOnce.Do(func() {
		u.mu.Lock()
		u.reason = reason
		inbox := u.inbox
		u.mu.Unlock()

		u.state.Store(int32(StateExited))
		u.cancel()
		if inbox != nil {
			inbox.Close()
		}
		u.reactor.Kill()

		if !u.opts.OnExit.IsZero() {
			if err := u.opts.OnExit.Send(protocol.Exit(u.id, reason)); err != nil {
				u.logger.Errorf("report exit: %v", err)
			}
		}
		if u.opts.Observer != nil {
			u.opts.Observer.WorkerExited(u.entry, reason, time.Since(u.started))
		}
		u.logger.Debugf("exited: %s", reason)
		close(u.done)
	})
}

func (u *Unit) openInbox() *channel.Receiver {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.inbox == nil {
		u.inbox, _ = channel.CreateNamed(u.id)
		if u.reason != "" {
			u.inbox.Close()
		}
	}
	return u.inbox
}

// traceOf returns the worker-side trace carried by err, if any.
func traceOf(err error) string {
	var e *core.Error
	if errors.As(err, &e) {
		return e.Trace
	}
	return ""
}
