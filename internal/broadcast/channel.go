package broadcast

import (
	"errors"
	"sync"
)

// ErrObserverClosed is returned by Receive after Close.
var ErrObserverClosed = errors.New("broadcast: observer closed")

// ErrObserverFull is returned when a ChannelObserver's buffer is full.
var ErrObserverFull = errors.New("broadcast: observer buffer full")

// ChannelObserver buffers messages on a channel for a consumer goroutine,
// typically a streaming HTTP handler. A consumer that falls a full buffer
// behind is considered dead rather than being allowed to stall the run
// that is broadcasting.
type ChannelObserver struct {
	mu     sync.Mutex
	ch     chan []byte
	closed bool
}

// NewChannelObserver creates an observer with the given buffer size.
func NewChannelObserver(buffer int) *ChannelObserver {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelObserver{ch: make(chan []byte, buffer)}
}

// C returns the channel messages arrive on. It is closed by Close.
func (c *ChannelObserver) C() <-chan []byte {
	return c.ch
}

// Receive enqueues msg without blocking.
func (c *ChannelObserver) Receive(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrObserverClosed
	}
	select {
	case c.ch <- msg:
		return nil
	default:
		return ErrObserverFull
	}
}

// Close closes the channel. Safe to call more than once.
func (c *ChannelObserver) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
	return nil
}
