package core

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"go.uber.org/atomic"
)

const (
	itemHeaderSize = 8
	itemAlign      = 4

	flagReceived = 1 << 0
	flagReturned = 1 << 1
)

// RingBuffer is a byte FIFO of variable-length items that are never split
// across the end of the storage. A received item stays in the buffer until
// its Borrow is released.
//
// Each item is stored as an 8-byte header (little-endian length, flags)
// followed by the payload padded to 4 bytes.
type RingBuffer struct {
	mu       sync.Mutex
	buf      []byte
	capacity int

	write  int // next header position
	read   int // oldest item not received yet
	free   int // oldest item not returned yet
	wrapAt int // end of the tail segment while the items wrap, else -1
	used   int // bytes held between free and write, wrap padding included
	ready  int // items sent and not received

	// wrap point the reader has not crossed yet, else -1; outlives wrapAt
	// when the tail is reclaimed before the wrapped item is received
	readWrap int

	// closed and replaced on every change
	changed chan struct{}
}

// NewRingBuffer creates a ring buffer accepting payloads up to capacity bytes.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = itemAlign
	}
	return &RingBuffer{
		buf:      make([]byte, alignUp(capacity)+itemHeaderSize),
		capacity: capacity,
		wrapAt:   -1,
		readWrap: -1,
		changed:  make(chan struct{}),
	}
}

func alignUp(n int) int {
	return (n + itemAlign - 1) &^ (itemAlign - 1)
}

// Capacity returns the largest payload the buffer accepts.
func (r *RingBuffer) Capacity() int {
	return r.capacity
}

// Len returns the number of items waiting to be received.
func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

// Free returns the number of storage bytes not held by any item.
func (r *RingBuffer) Free() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf) - r.used
}

// Send copies data into the buffer as one item, waiting up to timeout for
// room. ctx is the owner lifecycle: once it is done Send returns
// ErrActorStopped.
func (r *RingBuffer) Send(ctx context.Context, data []byte, timeout time.Duration) error {
	if len(data) == 0 {
		return ErrNilPayload
	}
	if len(data) > r.capacity {
		return ErrItemTooLarge
	}
	if ctx.Err() != nil {
		return ErrActorStopped
	}

	wctx, cancel := waitContext(ctx, timeout)
	defer cancel()

	for {
		r.mu.Lock()
		ok := r.put(data)
		ch := r.changed
		if ok {
			r.signal()
		}
		r.mu.Unlock()
		if ok {
			return nil
		}

		select {
		case <-ch:
		case <-wctx.Done():
			if ctx.Err() != nil {
				return ErrActorStopped
			}
			return ErrBufferFull
		}
	}
}

// Receive returns the oldest item, waiting up to timeout. The item must be
// given back with Borrow.Release.
func (r *RingBuffer) Receive(ctx context.Context, timeout time.Duration) (*Borrow, error) {
	if ctx.Err() != nil {
		return nil, ErrActorStopped
	}

	wctx, cancel := waitContext(ctx, timeout)
	defer cancel()

	for {
		r.mu.Lock()
		if r.ready > 0 {
			b := r.take()
			r.mu.Unlock()
			return b, nil
		}
		ch := r.changed
		r.mu.Unlock()

		select {
		case <-ch:
		case <-wctx.Done():
			if ctx.Err() != nil {
				return nil, ErrActorStopped
			}
			return nil, ErrTimeout
		}
	}
}

// put must be called with mu held.
func (r *RingBuffer) put(data []byte) bool {
	need := itemHeaderSize + alignUp(len(data))
	size := len(r.buf)

	if r.used == 0 {
		r.reset()
	}

	var at int
	switch {
	case r.used > 0 && r.write == r.free:
		return false
	case r.write > r.free || r.used == 0:
		if size-r.write >= need {
			at = r.write
			break
		}
		// wrap: the rest of the tail is padding until free passes it
		if r.wrapAt >= 0 || r.free < need {
			return false
		}
		r.wrapAt = r.write
		r.readWrap = r.write
		r.used += size - r.write
		at = 0
	default:
		if r.free-r.write < need {
			return false
		}
		at = r.write
	}

	binary.LittleEndian.PutUint32(r.buf[at:], uint32(len(data)))
	binary.LittleEndian.PutUint32(r.buf[at+4:], 0)
	copy(r.buf[at+itemHeaderSize:], data)

	r.write = at + need
	r.used += need
	r.ready++
	return true
}

// take must be called with mu held and ready > 0.
func (r *RingBuffer) take() *Borrow {
	if r.read == r.readWrap {
		r.read = 0
		r.readWrap = -1
	}
	at := r.read
	n := int(binary.LittleEndian.Uint32(r.buf[at:]))
	r.buf[at+4] |= flagReceived

	start := at + itemHeaderSize
	r.read = start + alignUp(n)
	r.ready--
	return &Borrow{
		Data: r.buf[start : start+n : start+n],
		ring: r,
		at:   at,
	}
}

func (r *RingBuffer) give(at int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[at+4] |= flagReturned
	r.reclaim()
	r.signal()
}

// reclaim advances free over every consecutive returned item.
func (r *RingBuffer) reclaim() {
	for r.used > 0 {
		if r.free == r.wrapAt {
			r.used -= len(r.buf) - r.wrapAt
			r.free = 0
			r.wrapAt = -1
			continue
		}
		if r.buf[r.free+4]&flagReturned == 0 {
			break
		}
		n := int(binary.LittleEndian.Uint32(r.buf[r.free:]))
		need := itemHeaderSize + alignUp(n)
		r.buf[r.free+4] = 0
		r.free += need
		r.used -= need
	}

	if r.used == 0 {
		r.reset()
	}
}

func (r *RingBuffer) reset() {
	r.write, r.read, r.free = 0, 0, 0
	r.wrapAt, r.readWrap = -1, -1
}

func (r *RingBuffer) signal() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// Borrow is a received item. Data aliases the ring storage and is only
// valid until Release.
type Borrow struct {
	Data []byte

	ring     *RingBuffer
	at       int
	released atomic.Bool
}

// Len returns the payload size.
func (b *Borrow) Len() int {
	return len(b.Data)
}

// Release gives the item's storage back to the ring buffer. Items may be
// released in any order; the space is reused once every older item is
// released too. Release is idempotent.
func (b *Borrow) Release() {
	if b == nil || b.ring == nil || !b.released.CompareAndSwap(false, true) {
		return
	}
	b.ring.give(b.at)
	b.Data = nil
}
