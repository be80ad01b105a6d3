package remote

import "fmt"

// ConversationRow mirrors the backend conversations table.
type ConversationRow struct {
	ID                 string `json:"id"`
	OrgID              string `json:"org_id"`
	Type               string `json:"type"`
	Subject            string `json:"subject"`
	CounterpartyID     string `json:"counterparty_id"`
	CreatedBy          string `json:"created_by"`
	LastMessageAt      int64  `json:"last_message_at"`
	LastMessagePreview string `json:"last_message_preview"`
	CreatedAt          int64  `json:"created_at"`
	UpdatedAt          int64  `json:"updated_at"`
}

// Validate checks the required fields of a fetched conversation row.
func (r *ConversationRow) Validate() error {
	if r.ID == "" || r.OrgID == "" {
		return fmt.Errorf("conversation row missing id/org_id")
	}
	if r.Type != "direct" && r.Type != "broadcast" {
		return fmt.Errorf("conversation %s: unknown type %q", r.ID, r.Type)
	}
	if r.Type == "direct" && r.CounterpartyID == "" {
		return fmt.Errorf("conversation %s: direct without counterparty", r.ID)
	}
	return nil
}

// MessageRow mirrors the backend messages table.
type MessageRow struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	OrgID          string `json:"org_id"`
	SenderID       string `json:"sender_id"`
	MessageType    string `json:"message_type"`
	Content        string `json:"content"`
	Status         string `json:"status"`
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at"`
}

// Validate checks the required fields of a fetched message row.
func (r *MessageRow) Validate() error {
	if r.ID == "" || r.ConversationID == "" || r.OrgID == "" {
		return fmt.Errorf("message row missing id/conversation_id/org_id")
	}
	return nil
}

// ReadStatusRow mirrors the backend read_status table.
type ReadStatusRow struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	OrgID          string `json:"org_id"`
	LastReadAt     int64  `json:"last_read_at"`
}

// Validate checks the required fields of a fetched read-status row.
func (r *ReadStatusRow) Validate() error {
	if r.UserID == "" || r.ConversationID == "" {
		return fmt.Errorf("read status row missing user_id/conversation_id")
	}
	return nil
}

// Profile mirrors the backend profiles table, used to resolve display names.
type Profile struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

// ConversationInsert is the payload for creating a conversation.
type ConversationInsert struct {
	OrgID          string `json:"org_id"`
	Type           string `json:"type"`
	Subject        string `json:"subject,omitempty"`
	CounterpartyID string `json:"counterparty_id,omitempty"`
	CreatedBy      string `json:"created_by"`
}

// MessageInsert is the payload for pushing a message. ID carries the
// client-generated idempotency key as the server row id, so the backend's
// primary-key constraint is the duplicate check.
type MessageInsert struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	OrgID          string `json:"org_id"`
	SenderID       string `json:"sender_id"`
	MessageType    string `json:"message_type"`
	Content        string `json:"content"`
	Status         string `json:"status"`
	CreatedAt      int64  `json:"created_at"`
}
