package isolate

import (
	"context"
	"time"

	"github.com/fluxorio/isolate/pkg/channel"
	"github.com/fluxorio/isolate/pkg/core"
)

// Context is the worker-side view of a Unit. It is handed to the entry and
// must only be used from tasks running on the unit's loop, except where noted.
type Context struct {
	unit *Unit
}

// ID returns the unit id.
func (w *Context) ID() string { return w.unit.id }

// Context returns a context cancelled as soon as the unit is asked to
// terminate, or when it ends on its own.
func (w *Context) Context() context.Context { return w.unit.ctx }

// Logger returns the unit's logger.
func (w *Context) Logger() core.Logger { return w.unit.logger }

// Post schedules fn as a task on the unit's loop.
func (w *Context) Post(fn func()) error {
	return w.unit.reactor.Post(fn)
}

// After runs fn on the unit's loop once d has elapsed. The spawner is never
// blocked by it. The returned function cancels the timer.
func (w *Context) After(d time.Duration, fn func()) (cancel func() bool) {
	return w.unit.reactor.After(d, fn)
}

// Sleep blocks the unit's loop, and nothing else, for d. It returns early,
// with false, when the unit is terminated.
func (w *Context) Sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-w.unit.ctx.Done():
		return false
	}
}

// Send sends v through to. After an immediate terminate nothing more leaves
// the unit.
func (w *Context) Send(to channel.Sender, v any) error {
	if w.unit.killed.Load() {
		return core.NewError(core.CodeClosed, "worker %s was terminated", w.unit.id)
	}
	return to.Send(v)
}

// Inbox returns the unit's own receiver, creating it on first use, and the
// Sender to announce to others. The inbox closes when the unit ends.
func (w *Context) Inbox() (*channel.Receiver, channel.Sender) {
	rx := w.unit.openInbox()
	return rx, rx.Sender()
}

// Listen feeds every message arriving on rx to handler, one loop task per
// message, in arrival order. The unit stays alive until rx is closed.
// Safe to call from any goroutine.
func (w *Context) Listen(rx *channel.Receiver, handler func(v any)) {
	u := w.unit
	u.reactor.Hold()
	go func() {
		defer u.reactor.Release()
		for {
			v, err := rx.Receive(u.ctx)
			if err != nil {
				return
			}
			if err := u.reactor.Submit(u.ctx, func() { handler(v) }); err != nil {
				return
			}
		}
	}()
}

// Hold keeps the unit alive while it waits on something outside its loop.
// Every Hold needs a matching Release.
func (w *Context) Hold() { w.unit.reactor.Hold() }

// Release undoes one Hold.
func (w *Context) Release() { w.unit.reactor.Release() }

// Exit closes the inbox so the unit exits naturally once its remaining tasks
// and timers are done.
func (w *Context) Exit() {
	w.unit.mu.Lock()
	inbox := w.unit.inbox
	w.unit.mu.Unlock()
	if inbox != nil {
		inbox.Close()
	}
	_ = w.unit.reactor.Post(func() {})
}
