package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/lfmartins/fieldsync/internal/bus"
	"github.com/lfmartins/fieldsync/internal/remote"
	"github.com/lfmartins/fieldsync/internal/store"
	"go.uber.org/zap"
)

// Pusher drains the queued-message outbox to the remote store. Each push is
// idempotent: the client-generated idempotency key travels as the remote row
// id, so a retry after a lost ack conflicts on the primary key and the
// conflict is treated as the ack.
type Pusher struct {
	db     *store.DB
	remote remote.Store
	engine *Engine
	bus    *bus.Bus
	ser    *Serializer
	logger *zap.Logger
	tick   time.Duration

	wg   gosync.WaitGroup
	stop chan struct{}
}

// NewPusher creates an outbox pusher. tick bounds how long a queued message
// waits before the next drain attempt.
func NewPusher(db *store.DB, rs remote.Store, engine *Engine, b *bus.Bus, ser *Serializer, tick time.Duration, logger *zap.Logger) *Pusher {
	return &Pusher{
		db:     db,
		remote: rs,
		engine: engine,
		bus:    b,
		ser:    ser,
		logger: logger,
		tick:   tick,
		stop:   make(chan struct{}),
	}
}

// Start runs the drain loop until Stop. A new local message wakes the loop
// immediately through the bus; the ticker catches everything else.
func (p *Pusher) Start(ctx context.Context) {
	events, unsub := p.bus.Subscribe("message.created", 16)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer unsub()
		ticker := time.NewTicker(p.tick)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ctx.Done():
				return
			case <-events:
			case <-ticker.C:
			}
			if _, err := p.PushPending(ctx); err != nil {
				p.logger.Warn("push pending", zap.Error(err))
			}
		}
	}()
}

// Stop halts the drain loop and waits for an in-flight drain to finish.
func (p *Pusher) Stop() {
	close(p.stop)
	p.wg.Wait()
}

// PushPending attempts to push every queued message once, oldest first.
// Transient failures leave the message queued for the next drain; only an
// explicit user abandon marks a message failed. The returned count covers
// rows this call delivered; a retry that finds its row already remote marks
// the message sent without counting it again.
func (p *Pusher) PushPending(ctx context.Context) (int, error) {
	msgs, err := p.db.QueuedMessages()
	if err != nil {
		return 0, err
	}
	pushed := 0
	for i := range msgs {
		delivered, err := p.pushOne(ctx, &msgs[i])
		if err != nil {
			p.logger.Warn("push message", zap.String("message_id", msgs[i].ID), zap.Error(err))
			continue
		}
		if delivered {
			pushed++
		}
	}
	return pushed, nil
}

func (p *Pusher) pushOne(ctx context.Context, m *store.Message) (bool, error) {
	conv, err := p.db.GetConversation(m.ConversationID)
	if err != nil {
		return false, err
	}
	if conv == nil {
		p.logger.Warn("queued message without conversation, skipping",
			zap.String("message_id", m.ID))
		return false, nil
	}
	if conv.ServerID == "" {
		conv, err = p.resolveConversation(ctx, conv)
		if err != nil || conv == nil {
			return false, err
		}
	}

	now := time.Now().UnixMilli()
	_, err = p.remote.InsertMessage(ctx, remote.MessageInsert{
		ID:             m.IdempotencyKey,
		ConversationID: conv.ServerID,
		OrgID:          m.OrgID,
		SenderID:       m.SenderID,
		MessageType:    m.Type,
		Content:        m.Content,
		Status:         store.StatusSent,
		CreatedAt:      m.CreatedAt,
	})
	delivered := true
	switch {
	case remote.IsConflict(err):
		// A prior push landed but its ack was lost. The row is there; the
		// conflict is the ack, not a new delivery.
		delivered = false
	case err != nil:
		return false, err
	default:
		// Denormalized fields and the sender's own read watermark are
		// best-effort; the next pull repairs them if these calls fail.
		if err := p.remote.UpdateConversationMeta(ctx, conv.ServerID, m.CreatedAt, truncate(m.Content, previewRunes)); err != nil {
			p.logger.Warn("update conversation meta", zap.String("conversation_id", conv.ServerID), zap.Error(err))
		}
		if err := p.remote.UpsertReadStatus(ctx, remote.ReadStatusRow{
			UserID:         m.SenderID,
			ConversationID: conv.ServerID,
			OrgID:          m.OrgID,
			LastReadAt:     m.CreatedAt,
		}); err != nil {
			p.logger.Warn("upsert read status", zap.String("conversation_id", conv.ServerID), zap.Error(err))
		}
	}

	err = p.ser.Do(func() error {
		if err := p.db.MarkMessageSent(m.ID, m.IdempotencyKey, now); err != nil {
			return err
		}
		return p.db.UpdateConversationMeta(conv.ID, m.CreatedAt, truncate(m.Content, previewRunes))
	})
	if err != nil {
		return false, err
	}
	p.bus.Publish(bus.Event{
		Kind:      "message.send_ack",
		Timestamp: time.Now(),
		Payload:   bus.MessageRef{ConversationID: conv.ID, MessageID: m.ID},
	})
	return delivered, nil
}

// resolveConversation links an offline-created conversation to the remote
// before its messages can go out. Returns nil when the link is still pending.
func (p *Pusher) resolveConversation(ctx context.Context, conv *store.Conversation) (*store.Conversation, error) {
	if conv.Type != store.ConvDirect || conv.CounterpartyID == "" {
		return nil, nil
	}
	if _, err := p.engine.ResolveDirect(ctx, conv.CounterpartyID); err != nil {
		p.logger.Debug("resolve conversation before push",
			zap.String("conversation_id", conv.ID), zap.Error(err))
		return nil, nil
	}
	conv, err := p.db.GetConversation(conv.ID)
	if err != nil {
		return nil, err
	}
	if conv == nil || conv.ServerID == "" {
		return nil, nil
	}
	return conv, nil
}
