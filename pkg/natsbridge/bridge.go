// Package natsbridge carries channel messages between processes over NATS.
//
// A remote Sender publishes to a subject; Export feeds a subject into a
// local Sender. Payloads travel as JSON, so they arrive in their JSON shape:
// numbers become float64, structs become maps. Endpoints cannot cross a
// process boundary and are rejected.
package natsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fluxorio/isolate/pkg/channel"
	"github.com/fluxorio/isolate/pkg/core"
	"github.com/fluxorio/isolate/pkg/core/failfast"
	"github.com/fluxorio/isolate/pkg/message"
)

// Config configures Connect.
type Config struct {
	// URL is the NATS server URL. Default: nats.DefaultURL.
	URL string
	// Name is an optional NATS connection name.
	Name string
	// RequestTimeout bounds request/reply calls when the context has no deadline.
	RequestTimeout time.Duration
	Logger         core.Logger
}

// Bridge owns a NATS connection and the subscriptions made through it.
type Bridge struct {
	nc         *nats.Conn
	ownsConn   bool
	reqTimeout time.Duration
	logger     core.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// Connect dials NATS and returns a bridge owning the connection.
func Connect(cfg Config) (*Bridge, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, func(o *nats.Options) error {
		if cfg.Name != "" {
			o.Name = cfg.Name
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	b := New(nc, cfg.Logger)
	b.ownsConn = true
	if cfg.RequestTimeout > 0 {
		b.reqTimeout = cfg.RequestTimeout
	}
	return b, nil
}

// New wraps an existing connection. Close leaves nc open.
func New(nc *nats.Conn, logger core.Logger) *Bridge {
	failfast.NotNil(nc, "nats connection")
	if logger == nil {
		logger = core.NewDefaultLogger()
	}
	return &Bridge{
		nc:         nc,
		reqTimeout: 5 * time.Second,
		logger:     logger.Named("nats"),
	}
}

// Conn returns the underlying connection.
func (b *Bridge) Conn() *nats.Conn { return b.nc }

// Sender returns a channel.Sender publishing to subject. It has the same
// value semantics as a local Sender: payloads are validated at the call site.
func (b *Bridge) Sender(subject string) channel.Sender {
	return channel.NewSender(&outlet{b: b, subject: subject})
}

// Export delivers every message published on subject to to, in publish order.
func (b *Bridge) Export(subject string, to channel.Sender) error {
	sub, err := b.nc.Subscribe(subject, func(m *nats.Msg) {
		v, err := decode(m.Data)
		if err != nil {
			b.logger.Warnf("drop message on %s: %v", subject, err)
			return
		}
		if err := to.Send(v); err != nil {
			b.logger.Warnf("forward message from %s: %v", subject, err)
		}
	})
	if err != nil {
		return err
	}
	b.track(sub)
	return nil
}

// Flush waits until the server has processed everything published so far.
func (b *Bridge) Flush(ctx context.Context) error {
	return b.nc.FlushWithContext(ctx)
}

// Close unsubscribes everything and closes the connection if Connect made it.
func (b *Bridge) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	if b.ownsConn {
		b.nc.Close()
	}
	return nil
}

func (b *Bridge) track(sub *nats.Subscription) {
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
}

func (b *Bridge) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.reqTimeout)
}

type outlet struct {
	b       *Bridge
	subject string
}

func (o *outlet) Address() string { return "nats:" + o.subject }

func (o *outlet) Deliver(v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	return o.b.nc.Publish(o.subject, data)
}

type envelope struct {
	Payload json.RawMessage `json:"payload"`
}

func encode(v any) ([]byte, error) {
	if hasEndpoint(reflect.ValueOf(v), 0) {
		return nil, core.NewError(core.CodeTransferRejected, "endpoints cannot be sent across processes")
	}
	switch p := v.(type) {
	case *message.Buffer:
		v = p.Bytes()
	case message.Encoded:
		v = json.RawMessage(p.Data)
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, core.WrapError(core.CodeTransferRejected, err, "encode %T", v)
	}
	return json.Marshal(envelope{Payload: payload})
}

func decode(data []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if len(env.Payload) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return v, nil
}

var endpointType = reflect.TypeOf((*message.Endpoint)(nil)).Elem()

func hasEndpoint(v reflect.Value, depth int) bool {
	if !v.IsValid() || depth > 64 {
		return false
	}
	if v.Kind() == reflect.Struct && v.Type().Implements(endpointType) {
		return true
	}
	switch v.Kind() {
	case reflect.Interface:
		return !v.IsNil() && hasEndpoint(v.Elem(), depth+1)
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return false
		}
		for i := 0; i < v.Len(); i++ {
			if hasEndpoint(v.Index(i), depth+1) {
				return true
			}
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if hasEndpoint(iter.Value(), depth+1) {
				return true
			}
		}
	}
	return false
}
