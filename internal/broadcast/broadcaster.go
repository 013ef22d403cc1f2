// Package broadcast fans run telemetry out to live observers.
//
// Observers come and go concurrently with broadcasts (SSE clients, WebSocket
// clients, in-process sinks). A broadcast never fails its caller: an
// observer whose delivery fails is treated as dead and pruned.
package broadcast

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/neurogenx/neurogenx/internal/model"
)

// Observer receives serialized telemetry messages. A non-nil error marks
// the observer dead. Implementations must be comparable (pointer types in
// practice) because the broadcaster keys its live set by observer value,
// and must tolerate concurrent Receive calls from different runs.
type Observer interface {
	Receive(msg []byte) error
}

// MessageType tags a telemetry envelope.
type MessageType string

const (
	TypeStatusUpdate MessageType = "status_update"
	TypeTrialUpdate  MessageType = "trial_update"
)

// Envelope is the wire shape of every telemetry message.
type Envelope struct {
	Type MessageType `json:"type"`
	Data any         `json:"data"`
}

// Broadcaster holds the live observer set.
type Broadcaster struct {
	logger *slog.Logger

	mu        sync.RWMutex
	observers map[Observer]struct{}
}

// New creates an empty broadcaster.
func New(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		logger:    logger,
		observers: make(map[Observer]struct{}),
	}
}

// Register adds o to the live set.
func (b *Broadcaster) Register(o Observer) {
	b.mu.Lock()
	b.observers[o] = struct{}{}
	n := len(b.observers)
	b.mu.Unlock()
	b.logger.Debug("broadcast: observer registered", "observers", n)
}

// Unregister removes o. Removing an observer that is not registered is a
// no-op. Observers that implement io.Closer are closed on removal.
func (b *Broadcaster) Unregister(o Observer) {
	if b.remove(o) {
		b.logger.Debug("broadcast: observer unregistered", "observers", b.Len())
	}
}

// Len returns the number of live observers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}

// Broadcast delivers msg to every registered observer, in the calling
// goroutine, and prunes observers whose delivery failed. Messages
// broadcast from one goroutine reach each observer in call order.
func (b *Broadcaster) Broadcast(msg []byte) {
	b.mu.RLock()
	snapshot := make([]Observer, 0, len(b.observers))
	for o := range b.observers {
		snapshot = append(snapshot, o)
	}
	b.mu.RUnlock()

	for _, o := range snapshot {
		if err := o.Receive(msg); err != nil {
			if b.remove(o) {
				b.logger.Warn("broadcast: dropping dead observer", "error", err)
			}
		}
	}
}

// Publish wraps data in an Envelope and broadcasts it.
func (b *Broadcaster) Publish(t MessageType, data any) {
	msg, err := json.Marshal(Envelope{Type: t, Data: data})
	if err != nil {
		b.logger.Error("broadcast: marshal envelope", "type", t, "error", err)
		return
	}
	b.Broadcast(msg)
}

// PublishStatus broadcasts a run status snapshot.
func (b *Broadcaster) PublishStatus(rec model.RunRecord) {
	b.Publish(TypeStatusUpdate, rec)
}

// ReportTrial broadcasts a search trial event.
func (b *Broadcaster) ReportTrial(ev model.TrialEvent) {
	b.Publish(TypeTrialUpdate, ev)
}

// remove deletes o and closes it if it was present. It reports whether
// this call did the removal.
func (b *Broadcaster) remove(o Observer) bool {
	b.mu.Lock()
	_, ok := b.observers[o]
	delete(b.observers, o)
	b.mu.Unlock()
	if !ok {
		return false
	}
	if c, isCloser := o.(io.Closer); isCloser {
		_ = c.Close()
	}
	return true
}
