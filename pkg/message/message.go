// Package message defines what may cross the isolation boundary.
//
// A payload is sendable when it is built only from primitives, byte slices,
// slices/arrays/maps of sendable values, endpoint addresses (Endpoint),
// transferable buffers (*Buffer) and explicitly encoded data (Encoded).
// Anything else (structs, pointers, funcs, channels) is rejected with a
// TRANSFER_REJECTED error at the call site that attempted the send.
//
// Sending is copy-or-transfer: Clone returns a value that shares no mutable
// memory with its input, except for buffers whose ownership moves.
package message

import (
	"reflect"

	"github.com/fluxorio/isolate/pkg/core"
)

// maxDepth bounds recursion through nested containers.
const maxDepth = 64

// Endpoint is implemented by endpoint address values (channel.Sender and
// friends). Endpoints are copied by value and stay usable on both sides.
type Endpoint interface {
	EndpointAddress() string
}

var (
	bufferType   = reflect.TypeOf((*Buffer)(nil))
	encodedType  = reflect.TypeOf(Encoded{})
	endpointType = reflect.TypeOf((*Endpoint)(nil)).Elem()
)

// Check reports whether v is a sendable payload.
func Check(v any) error {
	if v == nil {
		return nil
	}
	var c checker
	return c.check(reflect.ValueOf(v), "payload", 0)
}

// checker walks a payload once. A buffer may appear at most once, since
// its bytes can move to only one owner.
type checker struct {
	buffers map[*Buffer]struct{}
}

func (c *checker) check(v reflect.Value, path string, depth int) error {
	if depth > maxDepth {
		return core.NewError(core.CodeTransferRejected, "%s: nesting deeper than %d", path, maxDepth)
	}
	switch v.Kind() {
	case reflect.Invalid:
		return nil
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return nil
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return c.check(v.Elem(), path, depth+1)
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return nil
		}
		for i := 0; i < v.Len(); i++ {
			if err := c.check(v.Index(i), path+"[]", depth+1); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		if k := v.Type().Key().Kind(); k != reflect.String && !isInteger(k) {
			return core.NewError(core.CodeTransferRejected, "%s: map key type %s is not sendable", path, v.Type().Key())
		}
		iter := v.MapRange()
		for iter.Next() {
			if err := c.check(iter.Value(), path+"{}", depth+1); err != nil {
				return err
			}
		}
		return nil
	case reflect.Ptr:
		if v.Type() == bufferType {
			b := v.Interface().(*Buffer)
			if b == nil {
				return core.NewError(core.CodeTransferRejected, "%s: nil buffer", path)
			}
			if b.Detached() {
				return core.NewError(core.CodeTransferRejected, "%s: buffer was already transferred", path)
			}
			if _, dup := c.buffers[b]; dup {
				return core.NewError(core.CodeTransferRejected, "%s: buffer appears more than once", path)
			}
			if c.buffers == nil {
				c.buffers = make(map[*Buffer]struct{})
			}
			c.buffers[b] = struct{}{}
			return nil
		}
	case reflect.Struct:
		if v.Type() == encodedType || v.Type().Implements(endpointType) {
			return nil
		}
	}
	return core.NewError(core.CodeTransferRejected, "%s: type %s is not sendable; encode it with message.Encode", path, v.Type())
}

func isInteger(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

// Clone validates v and returns an independent copy of it.
//
// Buffers inside v are transferred: the returned value owns their bytes and
// the originals are detached.
func Clone(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if err := Check(v); err != nil {
		return nil, err
	}
	out, err := clone(reflect.ValueOf(v))
	if err != nil {
		return nil, err
	}
	return out.Interface(), nil
}

func clone(v reflect.Value) (reflect.Value, error) {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return reflect.Zero(v.Type()), nil
		}
		inner, err := clone(v.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(inner)
		return out, nil

	case reflect.Slice:
		if v.IsNil() {
			return reflect.Zero(v.Type()), nil
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		if v.Type().Elem().Kind() == reflect.Uint8 {
			reflect.Copy(out, v)
			return out, nil
		}
		for i := 0; i < v.Len(); i++ {
			e, err := clone(v.Index(i))
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(e)
		}
		return out, nil

	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			e, err := clone(v.Index(i))
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(e)
		}
		return out, nil

	case reflect.Map:
		if v.IsNil() {
			return reflect.Zero(v.Type()), nil
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			e, err := clone(iter.Value())
			if err != nil {
				return reflect.Value{}, err
			}
			out.SetMapIndex(iter.Key(), e)
		}
		return out, nil

	case reflect.Ptr:
		moved, err := v.Interface().(*Buffer).transfer()
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(moved), nil

	case reflect.Struct:
		if v.Type() == encodedType {
			enc := v.Interface().(Encoded)
			enc.Data = append([]byte(nil), enc.Data...)
			return reflect.ValueOf(enc), nil
		}
		return v, nil
	}
	return v, nil
}

// Size returns an approximate byte size of v. It is meant for cost
// estimates and metrics, not for allocation.
func Size(v any) int {
	if v == nil {
		return 0
	}
	return size(reflect.ValueOf(v), 0)
}

func size(v reflect.Value, depth int) int {
	if depth > maxDepth {
		return 0
	}
	switch v.Kind() {
	case reflect.Invalid:
		return 0
	case reflect.String:
		return v.Len()
	case reflect.Interface:
		if v.IsNil() {
			return 0
		}
		return size(v.Elem(), depth+1)
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return v.Len()
		}
		n := 0
		for i := 0; i < v.Len(); i++ {
			n += size(v.Index(i), depth+1)
		}
		return n
	case reflect.Map:
		n := 0
		iter := v.MapRange()
		for iter.Next() {
			n += size(iter.Key(), depth+1) + size(iter.Value(), depth+1)
		}
		return n
	case reflect.Ptr:
		if b, ok := v.Interface().(*Buffer); ok && b != nil {
			return b.Len()
		}
		return 0
	case reflect.Struct:
		if v.Type() == encodedType {
			enc := v.Interface().(Encoded)
			return len(enc.Type) + len(enc.Data)
		}
		return 16
	}
	return int(v.Type().Size())
}
