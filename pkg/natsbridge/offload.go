package natsbridge

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/fluxorio/isolate/pkg/core"
	"github.com/fluxorio/isolate/pkg/isolate"
	"github.com/fluxorio/isolate/pkg/offload"
)

// Request is the JSON body of an offload request.
type Request struct {
	Entry string          `json:"entry"`
	Arg   json.RawMessage `json:"arg,omitempty"`
}

// Reply is the JSON body of an offload reply.
type Reply struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody carries a core.Error across the wire.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Trace   string `json:"trace,omitempty"`
}

// ServeOffload answers offload requests on subject by running the named
// entry from reg through o. Requests are handled concurrently within a queue
// group, so several processes can share the subject.
func (b *Bridge) ServeOffload(ctx context.Context, subject string, o *offload.Offloader, reg *isolate.Registry) error {
	sub, err := b.nc.QueueSubscribe(subject, subject, func(m *nats.Msg) {
		go b.handleOffload(ctx, m, o, reg)
	})
	if err != nil {
		return err
	}
	b.track(sub)
	return nil
}

func (b *Bridge) handleOffload(ctx context.Context, m *nats.Msg, o *offload.Offloader, reg *isolate.Registry) {
	var reply Reply
	if res, err := b.invoke(ctx, m.Data, o, reg); err != nil {
		reply.Error = errorBody(err)
	} else {
		reply.Result = res
	}

	data, err := json.Marshal(reply)
	if err != nil {
		b.logger.Errorf("encode reply: %v", err)
		return
	}
	if err := m.Respond(data); err != nil {
		b.logger.Warnf("respond on %s: %v", m.Subject, err)
	}
}

func (b *Bridge) invoke(ctx context.Context, data []byte, o *offload.Offloader, reg *isolate.Registry) (json.RawMessage, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, core.WrapError(core.CodeTransferRejected, err, "decode request")
	}
	var arg any
	if len(req.Arg) > 0 {
		if err := json.Unmarshal(req.Arg, &arg); err != nil {
			return nil, core.WrapError(core.CodeTransferRejected, err, "decode argument")
		}
	}

	ctx, cancel := b.requestContext(ctx)
	defer cancel()
	res, err := offload.Invoke(ctx, o, reg, req.Entry, arg)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(res)
	if err != nil {
		return nil, core.WrapError(core.CodeTransferRejected, err, "encode result")
	}
	return out, nil
}

// Offload asks whoever serves subject to run entry with arg and decodes the
// result into out, which may be nil.
func (b *Bridge) Offload(ctx context.Context, subject, entry string, arg any, out any) error {
	req := Request{Entry: entry}
	if arg != nil {
		raw, err := json.Marshal(arg)
		if err != nil {
			return core.WrapError(core.CodeTransferRejected, err, "encode argument")
		}
		req.Arg = raw
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	ctx, cancel := b.requestContext(ctx)
	defer cancel()
	msg, err := b.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return err
	}

	var reply Reply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return core.WrapError(core.CodeTransferRejected, err, "decode reply")
	}
	if reply.Error != nil {
		return &core.Error{Code: reply.Error.Code, Message: reply.Error.Message, Trace: reply.Error.Trace}
	}
	if out == nil || len(reply.Result) == 0 {
		return nil
	}
	return json.Unmarshal(reply.Result, out)
}

func errorBody(err error) *ErrorBody {
	var e *core.Error
	if errors.As(err, &e) {
		msg := e.Message
		if e.Cause != nil {
			msg += ": " + e.Cause.Error()
		}
		return &ErrorBody{Code: e.Code, Message: msg, Trace: e.Trace}
	}
	return &ErrorBody{Message: err.Error()}
}
