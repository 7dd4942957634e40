package core

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"
)

// mailbox is a bounded double-ended queue of notifications.
//
// free counts empty slots and items counts queued notifications; both are
// weighted semaphores so blocked senders and receivers are admitted in FIFO
// order and can give up on a deadline.
type mailbox struct {
	mu    sync.Mutex
	slots []Notification
	head  int
	count int

	free  *semaphore.Weighted
	items *semaphore.Weighted

	// receivers blocked in pop
	waiting atomic.Int32
}

func newMailbox(capacity int) *mailbox {
	m := &mailbox{
		slots: make([]Notification, capacity),
		free:  semaphore.NewWeighted(int64(capacity)),
		items: semaphore.NewWeighted(int64(capacity)),
	}
	// The mailbox starts empty: every items token is taken.
	m.items.TryAcquire(int64(capacity))
	return m
}

// push enqueues n, waiting up to timeout for a free slot.
func (m *mailbox) push(ctx context.Context, n Notification, timeout time.Duration, pos Position) error {
	if err := acquire(ctx, m.free, timeout); err != nil {
		if err == ErrTimeout {
			return ErrMailboxFull
		}
		return err
	}
	m.insert(n, pos)
	return nil
}

// tryPush enqueues n without blocking. woken reports that a receiver was
// parked on the mailbox.
func (m *mailbox) tryPush(n Notification, pos Position) (woken bool, ok bool) {
	if !m.free.TryAcquire(1) {
		return false, false
	}
	woken = m.waiting.Load() > 0
	m.insert(n, pos)
	return woken, true
}

func (m *mailbox) insert(n Notification, pos Position) {
	m.mu.Lock()
	capacity := len(m.slots)
	if pos == Front {
		m.head = (m.head - 1 + capacity) % capacity
		m.slots[m.head] = n
	} else {
		m.slots[(m.head+m.count)%capacity] = n
	}
	m.count++
	m.mu.Unlock()

	m.items.Release(1)
}

// pop dequeues the oldest notification, waiting up to timeout.
func (m *mailbox) pop(ctx context.Context, timeout time.Duration) (Notification, error) {
	m.waiting.Inc()
	err := acquire(ctx, m.items, timeout)
	m.waiting.Dec()
	if err != nil {
		return Notification{}, err
	}

	m.mu.Lock()
	n := m.slots[m.head]
	m.slots[m.head] = Notification{}
	m.head = (m.head + 1) % len(m.slots)
	m.count--
	m.mu.Unlock()

	m.free.Release(1)
	return n, nil
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

func (m *mailbox) capacity() int {
	return len(m.slots)
}

// acquire takes one token from sem. NoWait polls, WaitForever waits until
// ctx is done. It returns ErrTimeout when the deadline passes and
// ErrActorStopped when ctx is cancelled.
func acquire(ctx context.Context, sem *semaphore.Weighted, timeout time.Duration) error {
	if ctx.Err() != nil {
		return ErrActorStopped
	}
	if timeout == NoWait {
		if sem.TryAcquire(1) {
			return nil
		}
		return ErrTimeout
	}

	wctx, cancel := waitContext(ctx, timeout)
	defer cancel()

	if err := sem.Acquire(wctx, 1); err != nil {
		if ctx.Err() != nil {
			return ErrActorStopped
		}
		return ErrTimeout
	}
	return nil
}

func waitContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout < 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
