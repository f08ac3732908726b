package isolate

import (
	"context"
	"encoding/json"
	"reflect"
	"regexp"
	"runtime"
	"strings"

	"github.com/fluxorio/isolate/pkg/core"
	"github.com/fluxorio/isolate/pkg/core/failfast"
	"github.com/fluxorio/isolate/pkg/message"
	"github.com/fluxorio/isolate/pkg/protocol"
)

// EntryFunc is the code a worker runs. initial is a private copy of the
// payload handed to Spawn.
//
// The entry returning does not end the worker: it keeps running while it has
// queued tasks, timers or holds. A returned error ends it with a failure.
type EntryFunc func(w *Context, initial any) error

// Entry is a validated EntryFunc. Build one with Func or Call.
type Entry struct {
	name string
	run  EntryFunc
}

// Name returns the qualified name of the function behind the entry.
func (e Entry) Name() string { return e.name }

// IsZero reports whether e was never built.
func (e Entry) IsZero() bool { return e.run == nil }

// closureName matches the symbol names the compiler gives function literals
// declared inside another function.
var closureName = regexp.MustCompile(`\.func\d+(\.\d+)*$`)

// CheckCaptureFree reports whether fn can serve as worker code: it must be a
// top-level function or a function literal assigned at package level. Function
// literals declared inside a function and bound method values can capture the
// caller's memory and are rejected with SPAWN_FAILURE.
func CheckCaptureFree(fn any) (string, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return "", core.NewError(core.CodeSpawnFailure, "entry must be a non-nil function, got %T", fn)
	}
	rf := runtime.FuncForPC(v.Pointer())
	if rf == nil {
		return "", core.NewError(core.CodeSpawnFailure, "entry symbol not found")
	}
	name := rf.Name()
	switch {
	case strings.HasSuffix(name, "-fm"):
		return name, core.NewError(core.CodeSpawnFailure, "entry %s is a method value bound to a receiver", name)
	case closureName.MatchString(name) && !packageLevel(name):
		return name, core.NewError(core.CodeSpawnFailure, "entry %s is a closure; use a top-level function", name)
	}
	return name, nil
}

func packageLevel(name string) bool {
	return strings.Contains(name, ".glob..func") || strings.Contains(name, ".init.func")
}

// Func validates fn and wraps it as an Entry.
func Func(fn EntryFunc) (Entry, error) {
	name, err := CheckCaptureFree(fn)
	if err != nil {
		return Entry{}, err
	}
	return Entry{name: name, run: fn}, nil
}

// MustFunc is Func for package initialisation; it panics on a bad entry.
func MustFunc(fn EntryFunc) Entry {
	e, err := Func(fn)
	failfast.Err(err)
	return e
}

// Call wraps a single-call function as an Entry.
//
// The worker expects a protocol.Bootstrap as its initial message. It decodes
// the bootstrap payload into A, runs fn on its own loop and replies to the
// bootstrap's reply endpoint with a result for the empty id. Results that are
// not sendable as-is are JSON encoded with message.Encode. An error from fn
// ends the worker through the usual failure path.
func Call[A, R any](fn func(ctx context.Context, arg A) (R, error)) (Entry, error) {
	name, err := CheckCaptureFree(fn)
	if err != nil {
		return Entry{}, err
	}
	run := func(w *Context, initial any) error {
		boot, ok := protocol.Parse(initial)
		if !ok || boot.Kind != protocol.KindBootstrap {
			return core.NewError(core.CodeWorkerRuntimeError, "expected bootstrap message, got %T", initial)
		}
		arg, err := DecodeArg[A](boot.Payload)
		if err != nil {
			return err
		}
		res, err := fn(w.Context(), arg)
		if err != nil {
			return err
		}
		out, err := EncodeValue(res)
		if err != nil {
			return err
		}
		return w.Send(boot.Reply, protocol.Result("", out))
	}
	return Entry{name: name, run: run}, nil
}

// MustCall is Call for package initialisation; it panics on a bad entry.
func MustCall[A, R any](fn func(ctx context.Context, arg A) (R, error)) Entry {
	e, err := Call(fn)
	failfast.Err(err)
	return e
}

// EncodeValue returns v unchanged when it is sendable, otherwise its JSON
// encoding.
func EncodeValue(v any) (any, error) {
	if message.Check(v) == nil {
		return v, nil
	}
	enc, err := message.Encode(v)
	if err != nil {
		return nil, core.WrapError(core.CodeTransferRejected, err, "value of type %T is neither sendable nor encodable", v)
	}
	return enc, nil
}

// DecodeArg converts a received payload back into T, undoing EncodeValue.
func DecodeArg[T any](v any) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	if t, ok := v.(T); ok {
		return t, nil
	}
	if enc, ok := v.(message.Encoded); ok {
		return message.Decode[T](enc)
	}
	if jsonShaped(v) {
		// Triggers decode request bodies into maps and slices; re-read
		// them into the declared argument type.
		data, err := json.Marshal(v)
		if err != nil {
			return zero, core.WrapError(core.CodeTransferRejected, err, "payload of type %T is not JSON", v)
		}
		var out T
		if err := json.Unmarshal(data, &out); err != nil {
			return zero, core.WrapError(core.CodeTransferRejected, err, "payload does not convert to %T", zero)
		}
		return out, nil
	}
	return zero, core.NewError(core.CodeTransferRejected, "payload of type %T does not convert to %T", v, zero)
}

func jsonShaped(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}
