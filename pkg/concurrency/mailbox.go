package concurrency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrMailboxClosed is returned when sending to or receiving from a closed mailbox.
	ErrMailboxClosed = errors.New("mailbox is closed")

	// ErrMailboxFull is returned by Send when the mailbox is at capacity.
	// A full mailbox is the backpressure signal: the owner is not keeping up.
	ErrMailboxFull = errors.New("mailbox is full")
)

// Mailbox is a bounded, FIFO message box owned by exactly one consuming
// goroutine. Sends are non-blocking: a full mailbox rejects the message
// instead of stalling the sender, which keeps every component's send path
// fire-and-forget.
type Mailbox interface {
	// Send enqueues a message without blocking.
	// Returns ErrMailboxFull when at capacity, ErrMailboxClosed after Close.
	Send(msg interface{}) error

	// Receive dequeues the next message, blocking until one is available
	// or ctx is cancelled. Returns ErrMailboxClosed once the mailbox is
	// closed and drained.
	Receive(ctx context.Context) (interface{}, error)

	// TryReceive dequeues the next message without blocking.
	// The bool reports whether a message was available.
	TryReceive() (interface{}, bool, error)

	// Close closes the mailbox. Pending messages may still be received.
	Close()

	// Capacity returns the fixed capacity.
	Capacity() int

	// Size returns the number of queued messages.
	Size() int

	// IsClosed reports whether Close has been called.
	IsClosed() bool
}

// NewMailbox creates a bounded mailbox. Capacities below 1 fall back to
// the default of 16.
func NewMailbox(capacity int) Mailbox {
	if capacity < 1 {
		capacity = 16
	}
	return &mailbox{
		ch:       make(chan interface{}, capacity),
		capacity: capacity,
	}
}

type mailbox struct {
	ch       chan interface{}
	closed   atomic.Bool
	capacity int

	// mu serializes Send against Close so a send never hits a freshly
	// closed channel.
	mu sync.RWMutex
}

func (mb *mailbox) Send(msg interface{}) error {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed.Load() {
		return ErrMailboxClosed
	}
	select {
	case mb.ch <- msg:
		return nil
	default:
		return ErrMailboxFull
	}
}

func (mb *mailbox) Receive(ctx context.Context) (interface{}, error) {
	select {
	case msg, ok := <-mb.ch:
		if !ok {
			return nil, ErrMailboxClosed
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (mb *mailbox) TryReceive() (interface{}, bool, error) {
	select {
	case msg, ok := <-mb.ch:
		if !ok {
			return nil, false, ErrMailboxClosed
		}
		return msg, true, nil
	default:
		return nil, false, nil
	}
}

func (mb *mailbox) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed.CompareAndSwap(false, true) {
		close(mb.ch)
	}
}

func (mb *mailbox) Capacity() int {
	return mb.capacity
}

func (mb *mailbox) Size() int {
	return len(mb.ch)
}

func (mb *mailbox) IsClosed() bool {
	return mb.closed.Load()
}
