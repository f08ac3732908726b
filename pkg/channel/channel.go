// Package channel implements the unidirectional message channel used between
// a caller and its workers.
//
// Create returns the owner's Receiver and a Sender addressing it. Senders are
// plain values: they can be copied freely, sent inside messages and used from
// any goroutine. Every Send validates and clones its payload, so the receiver
// never observes memory the sender can still mutate.
package channel

import (
	"context"
	"iter"
	"sync"

	"github.com/fluxorio/isolate/pkg/core"
	"github.com/fluxorio/isolate/pkg/message"
)

// Outlet is the delivery side behind a Sender. The in-process queue is one
// implementation; transports such as the NATS bridge provide others.
type Outlet interface {
	// Deliver enqueues an already validated and cloned payload.
	Deliver(v any) error
	// Address identifies the receiving endpoint.
	Address() string
}

// Sender is the send side of a channel. The zero value is unusable.
type Sender struct {
	outlet Outlet
}

// NewSender creates a Sender over a custom outlet.
func NewSender(o Outlet) Sender {
	return Sender{outlet: o}
}

// Send validates and copies v, then enqueues it on the paired receiver.
//
// A payload that is not sendable fails here with TRANSFER_REJECTED. Sending
// to a closed receiver is a silent no-op.
func (s Sender) Send(v any) error {
	if s.outlet == nil {
		return core.NewError(core.CodeClosed, "send on zero Sender")
	}
	cp, err := message.Clone(v)
	if err != nil {
		return err
	}
	return s.outlet.Deliver(cp)
}

// ID returns the address of the receiving endpoint.
func (s Sender) ID() string {
	if s.outlet == nil {
		return ""
	}
	return s.outlet.Address()
}

// EndpointAddress makes Sender a sendable message.Endpoint.
func (s Sender) EndpointAddress() string {
	return s.ID()
}

// IsZero reports whether s was never bound to a receiver.
func (s Sender) IsZero() bool {
	return s.outlet == nil
}

// queue is the unbounded FIFO behind a local Receiver.
type queue struct {
	id     string
	mu     sync.Mutex
	items  []any
	closed bool
	ready  chan struct{}
	done   chan struct{}
}

func (q *queue) Address() string { return q.id }

func (q *queue) Deliver(v any) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.notify()
	return nil
}

func (q *queue) notify() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// pop removes the head of the queue. ok is false when the queue is empty.
func (q *queue) pop() (v any, ok bool, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, false, true
	}
	if len(q.items) == 0 {
		return nil, false, false
	}
	v = q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) > 0 {
		q.notify()
	}
	return v, true, false
}

// Receiver is the receive side of a channel, owned by one context.
type Receiver struct {
	q    *queue
	name string
}

// Create returns a new Receiver and the Sender addressing it.
func Create() (*Receiver, Sender) {
	return CreateNamed("")
}

// CreateNamed is Create with a diagnostic name.
func CreateNamed(name string) (*Receiver, Sender) {
	q := &queue{
		id:    core.NewID("endpoint"),
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	r := &Receiver{q: q, name: name}
	return r, Sender{outlet: q}
}

// ID returns the endpoint address.
func (r *Receiver) ID() string { return r.q.id }

// Name returns the diagnostic name given to CreateNamed.
func (r *Receiver) Name() string { return r.name }

// Sender returns a Sender addressing r.
func (r *Receiver) Sender() Sender { return Sender{outlet: r.q} }

// Receive returns the next message, suspending until one arrives, the
// receiver is closed (ErrClosed) or ctx is done.
func (r *Receiver) Receive(ctx context.Context) (any, error) {
	for {
		v, ok, closed := r.q.pop()
		if closed {
			return nil, core.ErrClosed
		}
		if ok {
			return v, nil
		}
		select {
		case <-r.q.ready:
		case <-r.q.done:
			return nil, core.ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// TryReceive returns the next message without blocking.
func (r *Receiver) TryReceive() (any, bool, error) {
	v, ok, closed := r.q.pop()
	if closed {
		return nil, false, core.ErrClosed
	}
	return v, ok, nil
}

// Messages returns the lazy sequence of delivered messages. The sequence ends
// when the receiver is closed or ctx is done; it cannot be restarted, but a
// new call continues from the current head of the queue.
func (r *Receiver) Messages(ctx context.Context) iter.Seq[any] {
	return func(yield func(any) bool) {
		for {
			v, err := r.Receive(ctx)
			if err != nil {
				return
			}
			if !yield(v) {
				return
			}
		}
	}
}

// Len returns the number of queued messages.
func (r *Receiver) Len() int {
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	return len(r.q.items)
}

// Close closes the receiver and discards queued messages. Later sends on the
// paired Senders are dropped silently. Close is idempotent.
func (r *Receiver) Close() {
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	if r.q.closed {
		return
	}
	r.q.closed = true
	r.q.items = nil
	close(r.q.done)
}

// Closed reports whether Close was called.
func (r *Receiver) Closed() bool {
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	return r.q.closed
}
