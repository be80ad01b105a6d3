// Package notify abstracts the device notification side-channel. The sync
// engine informs the sink about new inbound messages; delivery is best-effort
// and failures are never fatal to sync.
package notify

import (
	"time"

	"github.com/lfmartins/fieldsync/internal/bus"
)

// Notification describes a new inbound message worth alerting about.
type Notification struct {
	ConversationID string
	SenderName     string
	Preview        string
}

// Sink receives new-message notifications. Implementations must not block.
type Sink interface {
	NewMessage(n Notification)
}

// Noop is the sink selected when no notification capability is available.
type Noop struct{}

func (Noop) NewMessage(Notification) {}

// BusSink forwards notifications onto the event bus, where the embedding app
// bridges them to the platform's notification facility.
type BusSink struct {
	bus *bus.Bus
}

// NewBusSink creates a bus-backed sink.
func NewBusSink(b *bus.Bus) *BusSink {
	return &BusSink{bus: b}
}

func (s *BusSink) NewMessage(n Notification) {
	s.bus.Publish(bus.Event{
		Kind:      "notify.message",
		Timestamp: time.Now(),
		Payload:   n,
	})
}
