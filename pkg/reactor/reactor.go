// Package reactor provides the single-goroutine cooperative scheduler each
// worker runs on.
//
// Tasks posted to a Reactor run one at a time, in post order, on the
// reactor's own goroutine. Timers created with After fire as ordinary tasks
// on the same loop, so waiting inside a worker never blocks anyone else.
package reactor

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"
)

const defaultMailboxSize = 256

var (
	// ErrBackpressure is returned by Post when the mailbox is full.
	ErrBackpressure = errors.New("reactor: mailbox full")
	// ErrStopped is returned once Stop or Kill has been called.
	ErrStopped = errors.New("reactor: stopped")
)

const (
	stateNew = iota
	stateRunning
	stateStopping
	stateStopped
)

// Reactor is a single-threaded task loop.
type Reactor struct {
	mailbox chan func()

	mu     sync.Mutex
	state  int
	timers map[*time.Timer]struct{}
	holds  int

	stop chan struct{}
	kill chan struct{}
	done chan struct{}

	killOnce   sync.Once
	stopOnce   sync.Once
	finishOnce sync.Once

	onPanic func(v any, stack []byte)
	onIdle  func()
}

// New creates a reactor whose mailbox holds up to size pending tasks.
func New(size int) *Reactor {
	if size <= 0 {
		size = defaultMailboxSize
	}
	return &Reactor{
		mailbox: make(chan func(), size),
		timers:  make(map[*time.Timer]struct{}),
		stop:    make(chan struct{}),
		kill:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// OnPanic sets the handler for panics raised by tasks. It runs on the loop.
// Without a handler, panics are swallowed and the loop keeps going.
// Must be called before Start.
func (r *Reactor) OnPanic(fn func(v any, stack []byte)) {
	r.onPanic = fn
}

// OnIdle sets a callback run on the loop whenever a task finishes and there
// is nothing left to do: no queued task, no pending timer and no hold.
// Must be called before Start.
func (r *Reactor) OnIdle(fn func()) {
	r.onIdle = fn
}

// Start launches the loop goroutine. Calling Start twice is a no-op.
func (r *Reactor) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != stateNew {
		return
	}
	r.state = stateRunning
	go r.loop()
}

// Post submits fn for execution on the loop.
// It returns ErrBackpressure if the mailbox is full and ErrStopped once Stop
// or Kill has been called.
func (r *Reactor) Post(fn func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state >= stateStopping {
		return ErrStopped
	}
	select {
	case r.mailbox <- fn:
		return nil
	default:
		return ErrBackpressure
	}
}

// After runs fn on the loop once d has elapsed. The returned function cancels
// the timer and reports whether it was still pending.
func (r *Reactor) After(d time.Duration, fn func()) (cancel func() bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state >= stateStopping {
		return func() bool { return false }
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		r.mu.Lock()
		_, pending := r.timers[t]
		delete(r.timers, t)
		if pending {
			// Keep the loop from going idle between the timer firing and fn running.
			r.holds++
		}
		r.mu.Unlock()
		if !pending {
			return
		}
		if err := r.Submit(context.Background(), func() {
			r.unhold()
			fn()
		}); err != nil {
			r.unhold()
		}
	})
	r.timers[t] = struct{}{}

	return func() bool {
		r.mu.Lock()
		_, pending := r.timers[t]
		delete(r.timers, t)
		r.mu.Unlock()
		if !pending {
			return false
		}
		t.Stop()
		_ = r.Post(func() {})
		return true
	}
}

// Submit is Post for callers outside the loop that must not lose a task to
// backpressure: it waits for mailbox space. It returns ErrStopped once the
// reactor is stopping, or ctx's error. Calling Submit from a task on a full
// mailbox deadlocks; tasks use Post.
func (r *Reactor) Submit(ctx context.Context, fn func()) error {
	r.mu.Lock()
	stopping := r.state >= stateStopping
	r.mu.Unlock()
	if stopping {
		return ErrStopped
	}
	select {
	case r.mailbox <- fn:
		return nil
	case <-r.stop:
		return ErrStopped
	case <-r.kill:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Hold keeps the reactor from reporting idle until Release is called. It is
// used for waits that complete outside the loop, such as reading an inbox.
func (r *Reactor) Hold() {
	r.mu.Lock()
	r.holds++
	r.mu.Unlock()
}

// Release undoes one Hold and wakes the loop so it can re-check idleness.
func (r *Reactor) Release() {
	r.unhold()
	_ = r.Post(func() {})
}

func (r *Reactor) unhold() {
	r.mu.Lock()
	if r.holds > 0 {
		r.holds--
	}
	r.mu.Unlock()
}

// Pending returns the number of queued tasks.
func (r *Reactor) Pending() int {
	return len(r.mailbox)
}

// Stop refuses new tasks, lets queued tasks run to completion and waits for
// the loop to exit or ctx to be done. Pending timers are cancelled.
func (r *Reactor) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		started := r.state != stateNew
		if r.state < stateStopping {
			r.state = stateStopping
		}
		r.cancelTimersLocked()
		r.mu.Unlock()
		close(r.stop)
		if !started {
			r.finish()
		}
	})

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kill stops the loop without running queued tasks. A task that is already
// executing is not interrupted, but nothing runs after it.
func (r *Reactor) Kill() {
	r.killOnce.Do(func() {
		r.mu.Lock()
		started := r.state != stateNew
		r.state = stateStopping
		r.cancelTimersLocked()
		r.mu.Unlock()
		close(r.kill)
		if !started {
			r.finish()
		}
	})
}

// Done is closed once the loop has exited.
func (r *Reactor) Done() <-chan struct{} {
	return r.done
}

func (r *Reactor) cancelTimersLocked() {
	for t := range r.timers {
		t.Stop()
		delete(r.timers, t)
	}
}

func (r *Reactor) finish() {
	r.finishOnce.Do(func() {
		r.mu.Lock()
		r.state = stateStopped
		r.mu.Unlock()
		close(r.done)
	})
}

func (r *Reactor) loop() {
	defer r.finish()
	for {
		select {
		case <-r.kill:
			return
		default:
		}

		select {
		case <-r.kill:
			return
		case fn := <-r.mailbox:
			r.safeExecute(fn)
			r.checkIdle()
		case <-r.stop:
			r.drain()
			return
		}
	}
}

func (r *Reactor) drain() {
	for {
		select {
		case <-r.kill:
			return
		case fn := <-r.mailbox:
			r.safeExecute(fn)
		default:
			return
		}
	}
}

func (r *Reactor) checkIdle() {
	if r.onIdle == nil {
		return
	}
	r.mu.Lock()
	idle := r.state == stateRunning && len(r.mailbox) == 0 && len(r.timers) == 0 && r.holds == 0
	r.mu.Unlock()
	if idle {
		r.onIdle()
	}
}

func (r *Reactor) safeExecute(fn func()) {
	defer func() {
		if v := recover(); v != nil && r.onPanic != nil {
			r.onPanic(v, debug.Stack())
		}
	}()
	fn()
}
