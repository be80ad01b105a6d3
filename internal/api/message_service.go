// Package api exposes the in-process service surface the embedding app calls.
// Services validate input, go through the write serializer for local
// mutations, and signal background workers over the bus.
package api

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lfmartins/fieldsync/internal/bus"
	"github.com/lfmartins/fieldsync/internal/config"
	"github.com/lfmartins/fieldsync/internal/remote"
	"github.com/lfmartins/fieldsync/internal/store"
	"github.com/lfmartins/fieldsync/internal/sync"
	"go.uber.org/zap"
)

const previewRunes = 100

// MessageService handles composing, retrying and listing messages.
type MessageService struct {
	db     *store.DB
	cfg    *config.SessionConfig
	bus    *bus.Bus
	ser    *sync.Serializer
	engine *sync.Engine
	logger *zap.Logger
}

// NewMessageService creates a message service.
func NewMessageService(db *store.DB, cfg *config.SessionConfig, b *bus.Bus, ser *sync.Serializer, engine *sync.Engine, logger *zap.Logger) *MessageService {
	return &MessageService{db: db, cfg: cfg, bus: b, ser: ser, engine: engine, logger: logger}
}

// Send queues a message for delivery. The message is immediately visible
// locally; the pusher delivers it when the remote is reachable.
func (s *MessageService) Send(conversationID, content string) (*store.Message, error) {
	if content == "" {
		return nil, fmt.Errorf("send: empty content")
	}
	conv, err := s.db.GetConversation(conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("send: conversation %s: %w", conversationID, remote.ErrNotFound)
	}

	now := time.Now().UnixMilli()
	m := &store.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		OrgID:          s.cfg.Identity.OrgID,
		SenderID:       s.cfg.Identity.UserID,
		SenderName:     s.engine.SelfName(),
		Type:           "text",
		Content:        content,
		Status:         store.StatusQueued,
		IdempotencyKey: uuid.NewString(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = s.ser.Do(func() error {
		if err := s.db.InsertLocalMessage(m); err != nil {
			return err
		}
		return s.db.UpdateConversationMeta(conv.ID, now, preview(content))
	})
	if err != nil {
		return nil, err
	}
	s.bus.Publish(bus.Event{
		Kind:      "message.created",
		Timestamp: time.Now(),
		Payload:   bus.MessageRef{ConversationID: conv.ID, MessageID: m.ID},
	})
	return m, nil
}

// Retry moves a failed message back into the outbox.
func (s *MessageService) Retry(messageID string) error {
	m, err := s.db.GetMessage(messageID)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("retry: message %s: %w", messageID, remote.ErrNotFound)
	}
	if m.Status != store.StatusFailed {
		return fmt.Errorf("retry: message %s is %s, only failed messages retry", messageID, m.Status)
	}
	err = s.ser.Do(func() error {
		return s.db.RequeueMessage(messageID, time.Now().UnixMilli())
	})
	if err != nil {
		return err
	}
	s.bus.Publish(bus.Event{
		Kind:      "message.created",
		Timestamp: time.Now(),
		Payload:   bus.MessageRef{ConversationID: m.ConversationID, MessageID: m.ID},
	})
	return nil
}

// Abandon marks a queued message failed so the user can decide what to do
// with it. Only a queued message can be abandoned.
func (s *MessageService) Abandon(messageID string) error {
	m, err := s.db.GetMessage(messageID)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("abandon: message %s: %w", messageID, remote.ErrNotFound)
	}
	if m.Status != store.StatusQueued {
		return fmt.Errorf("abandon: message %s is %s, only queued messages abandon", messageID, m.Status)
	}
	err = s.ser.Do(func() error {
		return s.db.MarkMessageFailed(messageID, time.Now().UnixMilli())
	})
	if err != nil {
		return err
	}
	s.bus.Publish(bus.Event{
		Kind:      "message.send_failed",
		Timestamp: time.Now(),
		Payload:   bus.SendFailure{MessageID: messageID, Err: "abandoned"},
	})
	return nil
}

// List returns a conversation's messages in ascending time order.
func (s *MessageService) List(conversationID string, limit int) ([]store.Message, error) {
	return s.db.ListMessages(conversationID, limit)
}

func preview(s string) string {
	runes := []rune(s)
	if len(runes) <= previewRunes {
		return s
	}
	return string(runes[:previewRunes])
}
