// Package offload runs single calls in throwaway workers.
//
// Offload performs the whole spawn, wait and teardown sequence for one call
// and hands back a future. Exactly one worker is created per call and it is
// torn down after the one reply or the one error, including when the
// caller's context ends first. Dispatch consults a policy first and may run
// the call inline or in place instead.
package offload

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/isolate/pkg/core"
	"github.com/fluxorio/isolate/pkg/core/failfast"
	"github.com/fluxorio/isolate/pkg/future"
	"github.com/fluxorio/isolate/pkg/isolate"
	"github.com/fluxorio/isolate/pkg/message"
	"github.com/fluxorio/isolate/pkg/observability/prometheus"
	"github.com/fluxorio/isolate/pkg/observability/tracing"
	"github.com/fluxorio/isolate/pkg/policy"
	"github.com/fluxorio/isolate/pkg/supervisor"
)

// Outcome labels for metrics.
const (
	outcomeOK    = "ok"
	outcomeError = "error"
)

// Options configures an Offloader. Every field is optional.
type Options struct {
	Supervisor *supervisor.Supervisor
	Policy     *policy.Policy
	Metrics    *prometheus.Metrics
	Tracer     trace.Tracer
	Logger     core.Logger
}

// Offloader runs calls in isolated workers.
type Offloader struct {
	sup     *supervisor.Supervisor
	policy  *policy.Policy
	metrics *prometheus.Metrics
	tracer  trace.Tracer
	logger  core.Logger
}

// New creates an Offloader.
func New(opts Options) *Offloader {
	if opts.Logger == nil {
		opts.Logger = core.NewDefaultLogger()
	}
	if opts.Supervisor == nil {
		sopts := supervisor.Options{Logger: opts.Logger}
		if opts.Metrics != nil {
			sopts.Observer = opts.Metrics
		}
		opts.Supervisor = supervisor.New(sopts)
	}
	if opts.Policy == nil {
		opts.Policy = policy.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = tracing.Tracer()
	}
	return &Offloader{
		sup:     opts.Supervisor,
		policy:  opts.Policy,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		logger:  opts.Logger.Named("offload"),
	}
}

var defaultOffloader = sync.OnceValue(func() *Offloader {
	return New(Options{})
})

// Default returns the package-level Offloader used by Run and Await.
func Default() *Offloader {
	return defaultOffloader()
}

// Supervisor returns the supervisor spawning the workers.
func (o *Offloader) Supervisor() *supervisor.Supervisor { return o.sup }

// Policy returns the dispatch policy.
func (o *Offloader) Policy() *policy.Policy { return o.policy }

// Offload runs fn(arg) in a fresh worker. fn must be a top-level function;
// closures are rejected with SPAWN_FAILURE. Arguments and results that are
// not sendable as-is cross the boundary JSON encoded.
//
// The returned future resolves exactly once.
func Offload[A, R any](ctx context.Context, o *Offloader, fn func(ctx context.Context, arg A) (R, error), arg A) *future.Future[R] {
	failfast.NotNil(o, "offloader")
	entry, err := isolate.Call(fn)
	if err != nil {
		return failed[R](o, entry, err)
	}
	return OffloadEntry[R](ctx, o, entry, arg)
}

// OffloadEntry is Offload for an entry built ahead of time, for instance one
// found in an isolate.Registry. The entry must reply to its bootstrap.
func OffloadEntry[R any](ctx context.Context, o *Offloader, entry isolate.Entry, arg any) *future.Future[R] {
	failfast.NotNil(o, "offloader")
	payload, err := isolate.EncodeValue(arg)
	if err != nil {
		return failed[R](o, entry, err)
	}
	size := message.Size(payload)
	name := path.Base(entry.Name())

	ctx, span := o.tracer.Start(ctx, "offload "+name,
		trace.WithAttributes(
			attribute.String("isolate.entry", entry.Name()),
			attribute.Int("isolate.payload_bytes", size),
		),
	)
	start := time.Now()

	h, err := o.sup.Spawn(ctx, entry, payload)
	if err != nil {
		o.finish(span, name, start, size, err)
		o.logger.Warnf("offload %s: %v", name, err)
		return future.Failed[R](err)
	}
	span.SetAttributes(attribute.String("isolate.worker", h.ID()))

	p := future.New[R]()
	go func() {
		v, err := h.Result().Await(ctx)
		h.Terminate(isolate.Immediate)

		var res R
		if err == nil {
			res, err = isolate.DecodeArg[R](v)
		}
		o.finish(span, name, start, size, err)
		p.Settle(res, err)
	}()
	return p.Future()
}

// Run is Offload on the default Offloader.
func Run[A, R any](ctx context.Context, fn func(ctx context.Context, arg A) (R, error), arg A) *future.Future[R] {
	return Offload(ctx, Default(), fn, arg)
}

// Await runs fn(arg) in a fresh worker on the default Offloader and waits
// for the result.
func Await[A, R any](ctx context.Context, fn func(ctx context.Context, arg A) (R, error), arg A) (R, error) {
	return Run(ctx, fn, arg).Await(ctx)
}

// Dispatch classifies work with the offloader's policy and runs fn
// accordingly: inline on the calling goroutine, in place on a goroutine of
// its own, or in an isolated worker. A zero PayloadBytes is estimated from
// arg.
func Dispatch[A, R any](ctx context.Context, o *Offloader, work policy.Work, fn func(ctx context.Context, arg A) (R, error), arg A) *future.Future[R] {
	failfast.NotNil(o, "offloader")
	// fn must be able to take any of the three paths, whatever the thresholds say.
	if _, err := isolate.CheckCaptureFree(fn); err != nil {
		return failed[R](o, isolate.Entry{}, err)
	}
	if work.PayloadBytes == 0 {
		work.PayloadBytes = message.Size(arg)
	}
	d := o.policy.Classify(work)
	if o.metrics != nil {
		o.metrics.RecordDecision(d.Mode.String())
	}
	o.logger.Debugf("dispatch %s: %s", d.Mode, d.Reason)

	switch d.Mode {
	case policy.Inline:
		p := future.New[R]()
		p.Settle(runInPlace(ctx, fn, arg))
		return p.Future()
	case policy.Await:
		p := future.New[R]()
		go func() {
			p.Settle(runInPlace(ctx, fn, arg))
		}()
		return p.Future()
	default:
		return Offload(ctx, o, fn, arg)
	}
}

// runInPlace calls fn outside a worker. A panic is reported the way a
// worker would report it, as WORKER_RUNTIME_ERROR with the stack.
func runInPlace[A, R any](ctx context.Context, fn func(ctx context.Context, arg A) (R, error), arg A) (res R, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &core.Error{
				Code:    core.CodeWorkerRuntimeError,
				Message: fmt.Sprint(v),
				Trace:   string(debug.Stack()),
			}
		}
	}()
	return fn(ctx, arg)
}

func failed[R any](o *Offloader, entry isolate.Entry, err error) *future.Future[R] {
	if o.metrics != nil {
		o.metrics.RecordFailure(core.CodeOf(err))
	}
	o.logger.Warnf("offload %s: %v", path.Base(entry.Name()), err)
	return future.Failed[R](err)
}

func (o *Offloader) finish(span trace.Span, name string, start time.Time, size int, err error) {
	outcome := outcomeOK
	if err != nil {
		outcome = outcomeError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	if o.metrics != nil {
		o.metrics.RecordOffload(name, outcome, time.Since(start), size)
		if err != nil {
			o.metrics.RecordFailure(core.CodeOf(err))
		}
	}
}

// Invoke runs the entry registered under name with arg and waits for the
// result. It serves triggers that address code by name. Encoded results are
// returned as their raw JSON.
func Invoke(ctx context.Context, o *Offloader, reg *isolate.Registry, name string, arg any) (any, error) {
	failfast.NotNil(o, "offloader")
	if reg == nil {
		reg = isolate.DefaultRegistry
	}
	entry, err := reg.Lookup(name)
	if err != nil {
		return nil, err
	}
	v, err := OffloadEntry[any](ctx, o, entry, arg).Await(ctx)
	if err != nil {
		return nil, err
	}
	if enc, ok := v.(message.Encoded); ok {
		return json.RawMessage(enc.Data), nil
	}
	return v, nil
}
