package api

import (
	"context"
	"fmt"
	"time"

	"github.com/lfmartins/fieldsync/internal/bus"
	"github.com/lfmartins/fieldsync/internal/config"
	"github.com/lfmartins/fieldsync/internal/remote"
	"github.com/lfmartins/fieldsync/internal/store"
	"github.com/lfmartins/fieldsync/internal/sync"
	"go.uber.org/zap"
)

// ConversationService handles listing, opening and resolving conversations.
type ConversationService struct {
	db     *store.DB
	remote remote.Store
	engine *sync.Engine
	cfg    *config.SessionConfig
	ser    *sync.Serializer
	bus    *bus.Bus
	logger *zap.Logger
}

// NewConversationService creates a conversation service.
func NewConversationService(db *store.DB, rs remote.Store, engine *sync.Engine, cfg *config.SessionConfig, ser *sync.Serializer, b *bus.Bus, logger *zap.Logger) *ConversationService {
	return &ConversationService{db: db, remote: rs, engine: engine, cfg: cfg, ser: ser, bus: b, logger: logger}
}

// List returns conversations newest-activity first.
func (s *ConversationService) List(limit, offset int) ([]store.Conversation, error) {
	return s.db.ListConversations(limit, offset)
}

// Get returns one conversation by local id.
func (s *ConversationService) Get(id string) (*store.Conversation, error) {
	return s.db.GetConversation(id)
}

// Open marks a conversation read as of now. The local badge clears
// immediately; propagating the watermark to the remote is best-effort and the
// pusher's per-message upserts plus the next pull keep it converging.
func (s *ConversationService) Open(ctx context.Context, id string) error {
	conv, err := s.db.GetConversation(id)
	if err != nil {
		return err
	}
	if conv == nil {
		return fmt.Errorf("open: conversation %s: %w", id, remote.ErrNotFound)
	}

	now := time.Now().UnixMilli()
	err = s.ser.Do(func() error {
		return s.db.SetConversationRead(id, now)
	})
	if err != nil {
		return err
	}
	s.bus.Publish(bus.Event{Kind: "conversation.read", Timestamp: time.Now(), Payload: id})

	if conv.ServerID != "" {
		err := s.remote.UpsertReadStatus(ctx, remote.ReadStatusRow{
			UserID:         s.cfg.Identity.UserID,
			ConversationID: conv.ServerID,
			OrgID:          s.cfg.Identity.OrgID,
			LastReadAt:     now,
		})
		if err != nil {
			s.logger.Warn("propagate read status", zap.String("conversation_id", id), zap.Error(err))
		}
	}
	return nil
}

// Resolve returns the local id of the direct conversation with the given
// counterparty, creating it if needed.
func (s *ConversationService) Resolve(ctx context.Context, counterpartyID string) (string, error) {
	return s.engine.ResolveDirect(ctx, counterpartyID)
}
