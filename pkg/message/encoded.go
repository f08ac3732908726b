package message

import (
	"encoding/json"
	"reflect"

	"github.com/fluxorio/isolate/pkg/core"
)

// Encoded is structured data reduced to a sendable shape: a type name plus
// its JSON encoding.
type Encoded struct {
	Type string `json:"type"`
	Data []byte `json:"data"`
}

// Encode serializes v so it can cross the boundary.
func Encode(v any) (Encoded, error) {
	if v == nil {
		return Encoded{}, core.NewError(core.CodeTransferRejected, "cannot encode nil value")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Encoded{}, core.WrapError(core.CodeTransferRejected, err, "encode %T", v)
	}
	return Encoded{Type: typeName(reflect.TypeOf(v)), Data: data}, nil
}

// Decode restores a value previously produced by Encode.
// It fails when e was produced from a different type.
func Decode[T any](e Encoded) (T, error) {
	var out T
	t := reflect.TypeOf((*T)(nil)).Elem()
	if want := typeName(t); t.Kind() != reflect.Interface && e.Type != "" && e.Type != want {
		return out, core.NewError(core.CodeTransferRejected, "encoded %s cannot decode into %s", e.Type, want)
	}
	if len(e.Data) == 0 {
		return out, core.NewError(core.CodeTransferRejected, "cannot decode empty data")
	}
	if err := json.Unmarshal(e.Data, &out); err != nil {
		return out, core.WrapError(core.CodeTransferRejected, err, "decode %s", e.Type)
	}
	return out, nil
}

// typeName ignores pointer indirection so *T and T encode under one name.
func typeName(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.String()
}
