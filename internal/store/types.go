package store

// Conversation type values.
const (
	ConvDirect    = "direct"
	ConvBroadcast = "broadcast"
)

// Message status values.
const (
	StatusQueued    = "queued"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// Conversation is a locally-stored conversation. ServerID is empty until the
// row has been synced or created remotely.
type Conversation struct {
	ID                 string
	ServerID           string
	OrgID              string
	Type               string // direct, broadcast
	CounterpartyID     string // direct only
	Subject            string // broadcast only
	CreatedBy          string
	DisplayName        string
	LastMessageAt      int64
	LastMessagePreview string
	UnreadCount        int
	LastReadAt         int64
	CreatedAt          int64
	UpdatedAt          int64
}

// Message is a locally-stored message. ServerID is empty until the message has
// been pushed or pulled. IdempotencyKey is set once at local creation and is
// empty for remotely-born messages.
type Message struct {
	ID             string
	ServerID       string
	ConversationID string
	OrgID          string
	SenderID       string
	SenderName     string
	Type           string // text, attachment, system
	Content        string
	Status         string
	IdempotencyKey string
	CreatedAt      int64
	UpdatedAt      int64
}
