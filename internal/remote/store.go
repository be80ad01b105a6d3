package remote

import "context"

// Store is the remote backend contract consumed by the sync engine. The
// backend is authoritative once a row exists there; every read is org-scoped.
type Store interface {
	// ConversationsSince returns conversations with updated_at > updatedAfter,
	// newest first, capped at limit.
	ConversationsSince(ctx context.Context, orgID string, updatedAfter int64, limit int) ([]ConversationRow, error)
	// MessagesSince returns messages with updated_at > updatedAfter in
	// ascending updated order, capped at limit.
	MessagesSince(ctx context.Context, orgID string, updatedAfter int64, limit int) ([]MessageRow, error)
	// RecentMessages returns the most recent limit messages of one
	// conversation, used to bound the cold-start payload.
	RecentMessages(ctx context.Context, orgID, conversationID string, limit int) ([]MessageRow, error)
	// Profiles returns the org's user profiles for display-name resolution.
	Profiles(ctx context.Context, orgID string) ([]Profile, error)
	// ReadStatuses returns the user's read watermarks across conversations.
	ReadStatuses(ctx context.Context, orgID, userID string) ([]ReadStatusRow, error)
	// FindDirectConversation returns the direct conversation with the given
	// counterparty, or nil when none exists.
	FindDirectConversation(ctx context.Context, orgID, counterpartyID string) (*ConversationRow, error)
	// InsertConversation creates a conversation and returns the created row.
	// A (org, counterparty) uniqueness race surfaces as ErrConflict.
	InsertConversation(ctx context.Context, ins ConversationInsert) (*ConversationRow, error)
	// InsertMessage creates a message row keyed by the client-supplied id.
	// A duplicate push surfaces as ErrConflict.
	InsertMessage(ctx context.Context, ins MessageInsert) (*MessageRow, error)
	// UpdateConversationMeta refreshes the denormalized last-message fields.
	UpdateConversationMeta(ctx context.Context, conversationID string, lastMessageAt int64, preview string) error
	// UpsertReadStatus records the user's read watermark for a conversation.
	UpsertReadStatus(ctx context.Context, row ReadStatusRow) error
}
