package supervisor

import (
	"context"
	"sync"

	"github.com/fluxorio/isolate/pkg/channel"
	"github.com/fluxorio/isolate/pkg/core"
	"github.com/fluxorio/isolate/pkg/future"
	"github.com/fluxorio/isolate/pkg/isolate"
	"github.com/fluxorio/isolate/pkg/protocol"
)

// Handle is the caller's side of one spawned worker.
type Handle struct {
	sup  *Supervisor
	unit *isolate.Unit
	rx   *channel.Receiver

	result  *future.Promise[any]
	address *future.Promise[channel.Sender]

	mu      sync.Mutex
	pending map[string]*future.Promise[any]
	reason  string
	exited  chan struct{}
}

func newHandle(s *Supervisor, rx *channel.Receiver) *Handle {
	h := &Handle{
		sup:     s,
		rx:      rx,
		result:  future.New[any](),
		address: future.New[channel.Sender](),
		pending: make(map[string]*future.Promise[any]),
		exited:  make(chan struct{}),
	}
	h.pending[""] = h.result
	return h
}

// ID returns the worker id.
func (h *Handle) ID() string { return h.unit.ID() }

// Result is the reply to the bootstrap payload.
func (h *Handle) Result() *future.Future[any] { return h.result.Future() }

// Address waits for the worker's handshake and returns its inbox. Waiting is
// bounded by ctx only; when ctx ends first the error is HANDSHAKE_TIMEOUT.
func (h *Handle) Address(ctx context.Context) (channel.Sender, error) {
	f := h.address.Future()
	if _, err := f.Await(ctx); err != nil && !f.Resolved() {
		return channel.Sender{}, core.WrapError(core.CodeHandshakeTimeout, err, "worker %s", h.ID())
	}
	addr, err, _ := f.Result()
	return addr, err
}

// Request sends payload to the worker's announced address as a job and
// returns a future for the correlated reply. It does not block; the handshake
// wait is bounded by ctx.
func (h *Handle) Request(ctx context.Context, payload any) *future.Future[any] {
	p := future.New[any]()
	id := core.NewID("request")

	h.mu.Lock()
	if h.reason != "" {
		h.mu.Unlock()
		p.Reject(h.exitError())
		return p.Future()
	}
	h.pending[id] = p
	h.mu.Unlock()

	go func() {
		addr, err := h.Address(ctx)
		if err == nil {
			err = addr.Send(protocol.Job(id, payload))
		}
		if err != nil {
			h.take(id)
			p.Reject(err)
		}
	}()
	return p.Future()
}

// Pending returns the number of requests still waiting for a reply,
// including the bootstrap request.
func (h *Handle) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

// Terminate stops the worker. Pending requests fail with UNEXPECTED_EXIT
// once its exit notification is processed.
func (h *Handle) Terminate(urgency isolate.Urgency) {
	h.unit.Terminate(urgency)
}

// Done is closed when the worker itself has exited.
func (h *Handle) Done() <-chan struct{} { return h.unit.Done() }

// Exited is closed once the exit notification has been handled and every
// pending request resolved.
func (h *Handle) Exited() <-chan struct{} { return h.exited }

// Reason returns the exit reason, or "" while the worker is alive.
func (h *Handle) Reason() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reason
}

func (h *Handle) dispatch() {
	for v := range h.rx.Messages(context.Background()) {
		h.HandleIncoming(v)
	}
}

// HandleIncoming processes one message from the worker. Messages that are
// not protocol messages are logged and dropped.
func (h *Handle) HandleIncoming(v any) {
	msg, ok := protocol.Parse(v)
	if !ok {
		h.sup.logger.Warnf("worker %s: ignoring unexpected %T", h.ID(), v)
		return
	}
	switch msg.Kind {
	case protocol.KindHandshake:
		h.address.Resolve(msg.Address)
	case protocol.KindResult:
		if p := h.take(msg.ID); p != nil {
			p.Resolve(msg.Payload)
		} else {
			h.sup.logger.Debugf("worker %s: late result for %q", h.ID(), msg.ID)
		}
	case protocol.KindFailure:
		err := &core.Error{
			Code:    core.CodeWorkerRuntimeError,
			Message: msg.Description,
			Trace:   msg.Trace,
		}
		if msg.Code != "" && msg.Code != core.CodeWorkerRuntimeError {
			err.Cause = core.NewError(msg.Code, "raised by worker %s", msg.WorkerID)
		}
		if p := h.take(msg.ID); p != nil {
			p.Reject(err)
		} else {
			h.sup.logger.Warnf("worker %s: uncorrelated failure: %s", h.ID(), msg.Description)
		}
	case protocol.KindExit:
		h.exit(msg.Reason)
	default:
		h.sup.logger.Warnf("worker %s: ignoring %s message", h.ID(), msg.Kind)
	}
}

func (h *Handle) take(id string) *future.Promise[any] {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.pending[id]
	if !ok {
		return nil
	}
	delete(h.pending, id)
	return p
}

func (h *Handle) exit(reason string) {
	h.mu.Lock()
	if h.reason != "" {
		h.mu.Unlock()
		return
	}
	if reason == "" {
		reason = protocol.ReasonNatural
	}
	h.reason = reason
	pending := h.pending
	h.pending = make(map[string]*future.Promise[any])
	h.mu.Unlock()

	err := h.exitError()
	for _, p := range pending {
		p.Reject(err)
	}
	h.address.Reject(err)
	h.rx.Close()
	h.sup.forget(h)
	close(h.exited)
}

func (h *Handle) exitError() error {
	return core.NewError(core.CodeUnexpectedExit, "worker %s exited (%s) without replying", h.ID(), h.reason)
}
