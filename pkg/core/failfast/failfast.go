// Package failfast turns programmer errors into immediate panics.
//
// It is reserved for conditions a caller can never recover from at runtime:
// a nil dependency handed to a constructor, an entry function that captures
// its environment passed to a Must* helper. Runtime failures of workers are
// reported as errors, never through this package.
package failfast

import (
	"fmt"
	"reflect"
	"runtime/debug"
)

const prefix = "fail-fast: "

// Err panics with err and the current stack if err != nil.
func Err(err error) {
	if err != nil {
		panic(fmt.Errorf(prefix+"%w\n%s", err, debug.Stack()))
	}
}

// NotNil panics if v is nil, including typed nil pointers, funcs, maps,
// channels and slices.
func NotNil(v interface{}, name string) {
	if isNil(v) {
		panic(fmt.Errorf(prefix+"%s is nil", name))
	}
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Func, reflect.Map, reflect.Chan, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
