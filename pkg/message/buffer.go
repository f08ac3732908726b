package message

import (
	"sync"

	"github.com/fluxorio/isolate/pkg/core"
)

// Buffer is a byte buffer whose ownership moves when it is sent.
//
// After a transfer the sending side's Buffer is detached: Bytes returns nil
// and sending it again fails with TRANSFER_REJECTED. The receiving side gets
// a new Buffer backed by the same bytes, so no copy is made.
type Buffer struct {
	mu       sync.Mutex
	data     []byte
	detached bool
}

// NewBuffer wraps data. The caller hands ownership of data to the Buffer and
// must not modify it afterwards.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Bytes returns the buffer contents, or nil once the buffer was transferred.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

// Len returns the number of bytes held.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Detached reports whether ownership has moved elsewhere.
func (b *Buffer) Detached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.detached
}

func (b *Buffer) transfer() (*Buffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.detached {
		return nil, core.NewError(core.CodeTransferRejected, "buffer was already transferred")
	}
	moved := &Buffer{data: b.data}
	b.data = nil
	b.detached = true
	return moved, nil
}
