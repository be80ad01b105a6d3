package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// MessageRef identifies a message inside a conversation, the payload for
// message.upserted / message.created / message.send_ack events.
type MessageRef struct {
	ConversationID string
	MessageID      string
}

// SendFailure is the payload for message.send_failed events.
type SendFailure struct {
	MessageID string
	Err       string
}

// SyncResult is the payload for sync.completed events.
type SyncResult struct {
	ConversationsSynced int
	MessagesSynced      int
}
