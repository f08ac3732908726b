// Package protocol defines the messages exchanged between a supervisor and
// its worker.
//
// Protocol messages travel as plain sendable maps tagged with a "$kind" key,
// so they obey the same copy rules as any user payload. Parse turns a
// received map back into a Message.
package protocol

import (
	"github.com/fluxorio/isolate/pkg/channel"
)

// Kind identifies a protocol message.
type Kind string

const (
	// KindBootstrap is the worker's initial message: where to reply and what to work on.
	KindBootstrap Kind = "bootstrap"
	// KindHandshake is sent by a worker announcing its own inbox address.
	KindHandshake Kind = "handshake"
	// KindResult carries a successful reply. An empty ID answers the bootstrap payload.
	KindResult Kind = "result"
	// KindFailure carries an error raised inside the worker.
	KindFailure Kind = "failure"
	// KindExit is sent once when a worker ends, whatever the reason.
	KindExit Kind = "exit"
	// KindJob is a follow-up request sent to a worker's announced address.
	KindJob Kind = "job"
)

// Exit reasons.
const (
	ReasonNatural    = "natural"
	ReasonError      = "error"
	ReasonTerminated = "terminated"
	ReasonKilled     = "killed"
)

const (
	keyKind        = "$kind"
	keyID          = "id"
	keyWorker      = "worker"
	keyReply       = "reply"
	keyAddress     = "address"
	keyPayload     = "payload"
	keyCode        = "code"
	keyDescription = "description"
	keyTrace       = "trace"
	keyReason      = "reason"
)

// Message is the decoded form of a protocol message.
type Message struct {
	Kind        Kind
	ID          string
	WorkerID    string
	Reply       channel.Sender
	Address     channel.Sender
	Payload     any
	Code        string
	Description string
	Trace       string
	Reason      string
}

// Bootstrap builds the initial message handed to a worker at spawn time.
func Bootstrap(reply channel.Sender, payload any) map[string]any {
	return map[string]any{keyKind: string(KindBootstrap), keyReply: reply, keyPayload: payload}
}

// Handshake builds a worker's address announcement.
func Handshake(workerID string, address channel.Sender) map[string]any {
	return map[string]any{keyKind: string(KindHandshake), keyWorker: workerID, keyAddress: address}
}

// Result builds a successful reply to the request with the given id.
func Result(id string, value any) map[string]any {
	return map[string]any{keyKind: string(KindResult), keyID: id, keyPayload: value}
}

// Failure builds an error reply. An empty id fails the bootstrap request.
// code is the error code raised inside the worker, empty when there is none.
func Failure(id, workerID, code, description, trace string) map[string]any {
	return map[string]any{
		keyKind:        string(KindFailure),
		keyID:          id,
		keyWorker:      workerID,
		keyCode:        code,
		keyDescription: description,
		keyTrace:       trace,
	}
}

// Exit builds the notification sent when a worker ends.
func Exit(workerID, reason string) map[string]any {
	return map[string]any{keyKind: string(KindExit), keyWorker: workerID, keyReason: reason}
}

// Job builds a follow-up request for a long-lived worker.
func Job(id string, payload any) map[string]any {
	return map[string]any{keyKind: string(KindJob), keyID: id, keyPayload: payload}
}

// Parse decodes v. ok is false when v is not a protocol message.
func Parse(v any) (msg Message, ok bool) {
	m, isMap := v.(map[string]any)
	if !isMap {
		return Message{}, false
	}
	kind, _ := m[keyKind].(string)
	switch Kind(kind) {
	case KindBootstrap, KindHandshake, KindResult, KindFailure, KindExit, KindJob:
	default:
		return Message{}, false
	}

	msg.Kind = Kind(kind)
	msg.ID, _ = m[keyID].(string)
	msg.WorkerID, _ = m[keyWorker].(string)
	msg.Reply, _ = m[keyReply].(channel.Sender)
	msg.Address, _ = m[keyAddress].(channel.Sender)
	msg.Payload = m[keyPayload]
	msg.Code, _ = m[keyCode].(string)
	msg.Description, _ = m[keyDescription].(string)
	msg.Trace, _ = m[keyTrace].(string)
	msg.Reason, _ = m[keyReason].(string)
	return msg, true
}
