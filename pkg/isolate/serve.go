package isolate

import (
	"github.com/fluxorio/isolate/pkg/core"
	"github.com/fluxorio/isolate/pkg/protocol"
)

// JobHandler answers one request on the worker loop.
type JobHandler func(w *Context, payload any) (any, error)

// Serve turns the calling entry into a long-lived worker.
//
// initial must be a protocol.Bootstrap. Serve announces the unit's inbox to
// the bootstrap reply endpoint with a handshake, answers the bootstrap payload
// (a nil payload is answered with nil) and then answers every protocol.Job
// arriving on the inbox with a Result or Failure carrying the job id. A
// failing job does not end the worker. The worker runs until it is
// terminated or calls Exit.
func Serve(w *Context, initial any, handle JobHandler) error {
	boot, ok := protocol.Parse(initial)
	if !ok || boot.Kind != protocol.KindBootstrap {
		return core.NewError(core.CodeWorkerRuntimeError, "expected bootstrap message, got %T", initial)
	}
	rx, addr := w.Inbox()
	if err := w.Send(boot.Reply, protocol.Handshake(w.ID(), addr)); err != nil {
		return err
	}

	reply := func(id string, payload any) {
		var msg map[string]any
		res, err := handle(w, payload)
		if err == nil {
			res, err = EncodeValue(res)
		}
		if err != nil {
			msg = protocol.Failure(id, w.ID(), core.CodeOf(err), err.Error(), traceOf(err))
		} else {
			msg = protocol.Result(id, res)
		}
		if err := w.Send(boot.Reply, msg); err != nil {
			w.Logger().Warnf("reply to %q: %v", id, err)
		}
	}

	if boot.Payload == nil {
		if err := w.Send(boot.Reply, protocol.Result("", nil)); err != nil {
			return err
		}
	} else {
		reply("", boot.Payload)
	}

	w.Listen(rx, func(v any) {
		job, ok := protocol.Parse(v)
		if !ok || job.Kind != protocol.KindJob {
			w.Logger().Warnf("ignoring %T on inbox", v)
			return
		}
		reply(job.ID, job.Payload)
	})
	return nil
}
