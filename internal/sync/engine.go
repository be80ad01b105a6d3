package sync

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lfmartins/fieldsync/internal/bus"
	"github.com/lfmartins/fieldsync/internal/config"
	"github.com/lfmartins/fieldsync/internal/notify"
	"github.com/lfmartins/fieldsync/internal/remote"
	"github.com/lfmartins/fieldsync/internal/store"
	"go.uber.org/zap"
)

const previewRunes = 100

// Result reports what a pull accomplished.
type Result struct {
	ConversationsSynced int
	MessagesSynced      int
}

// Engine owns the pull path: watermarked delta sync from the remote store into
// the local one, plus the shared upsert logic the realtime overlay reuses.
type Engine struct {
	db     *store.DB
	remote remote.Store
	bus    *bus.Bus
	cfg    *config.SessionConfig
	sink   notify.Sink
	ser    *Serializer
	logger *zap.Logger

	pulling atomic.Bool
}

// NewEngine creates a sync engine.
func NewEngine(db *store.DB, rs remote.Store, b *bus.Bus, cfg *config.SessionConfig, sink notify.Sink, ser *Serializer, logger *zap.Logger) *Engine {
	if sink == nil {
		sink = notify.Noop{}
	}
	return &Engine{
		db:     db,
		remote: rs,
		bus:    b,
		cfg:    cfg,
		sink:   sink,
		ser:    ser,
		logger: logger,
	}
}

// Pull fetches conversation and message deltas since the persisted watermark.
// Only one pull runs at a time; a concurrent caller gets an immediate zero
// Result. Any remote failure aborts the whole pull with the watermark
// untouched, so the next pull re-fetches the same window.
func (e *Engine) Pull(ctx context.Context) (Result, error) {
	if !e.pulling.CompareAndSwap(false, true) {
		return Result{}, nil
	}
	defer e.pulling.Store(false)

	res, err := e.pull(ctx)
	if err != nil {
		e.publish("sync.failed", err.Error())
		return Result{}, err
	}
	e.publish("sync.completed", bus.SyncResult{
		ConversationsSynced: res.ConversationsSynced,
		MessagesSynced:      res.MessagesSynced,
	})
	return res, nil
}

func (e *Engine) pull(ctx context.Context) (Result, error) {
	watermark, err := e.db.GetWatermark()
	if err != nil {
		return Result{}, fmt.Errorf("load watermark: %w", err)
	}

	names, err := e.fetchNames(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("fetch profiles: %w", err)
	}
	readAt, err := e.fetchReadStatuses(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("fetch read statuses: %w", err)
	}

	identity := e.cfg.Identity
	convRows, err := e.remote.ConversationsSince(ctx, identity.OrgID, watermark, e.cfg.Sync.ConversationPageSize)
	if err != nil {
		return Result{}, fmt.Errorf("fetch conversations: %w", err)
	}

	var res Result
	if err := e.ser.Do(func() error {
		for i := range convRows {
			if _, err := e.applyConversationRow(&convRows[i], names, readAt); err != nil {
				return err
			}
			res.ConversationsSynced++
		}
		return nil
	}); err != nil {
		return Result{}, fmt.Errorf("apply conversations: %w", err)
	}

	if watermark == 0 {
		// Cold start: only the most recent N messages per conversation,
		// bounding the first payload regardless of total history size.
		convs, err := e.db.AllConversations()
		if err != nil {
			return Result{}, fmt.Errorf("list conversations: %w", err)
		}
		for _, c := range convs {
			if c.ServerID == "" {
				continue
			}
			rows, err := e.remote.RecentMessages(ctx, identity.OrgID, c.ServerID, e.cfg.Sync.ColdStartMessages)
			if err != nil {
				return Result{}, fmt.Errorf("fetch recent messages: %w", err)
			}
			// Backfill of history is silent; notifications would be noise.
			if err := e.applyMessageRows(rows, names, &res, false); err != nil {
				return Result{}, err
			}
		}
	} else {
		rows, err := e.remote.MessagesSince(ctx, identity.OrgID, watermark, e.cfg.Sync.MessagePageSize)
		if err != nil {
			return Result{}, fmt.Errorf("fetch messages: %w", err)
		}
		if err := e.applyMessageRows(rows, names, &res, true); err != nil {
			return Result{}, err
		}
	}

	if err := e.ser.Do(func() error {
		_, err := e.recomputeUnreadLocked()
		return err
	}); err != nil {
		return Result{}, fmt.Errorf("recompute unread: %w", err)
	}

	// The watermark only advances after every step above succeeded.
	if err := e.ser.Do(func() error {
		return e.db.SetWatermark(time.Now().UnixMilli())
	}); err != nil {
		return Result{}, fmt.Errorf("persist watermark: %w", err)
	}
	return res, nil
}

func (e *Engine) applyMessageRows(rows []remote.MessageRow, names *nameResolver, res *Result, alert bool) error {
	return e.ser.Do(func() error {
		for i := range rows {
			applied, err := e.applyMessageRowLocked(&rows[i], names, alert)
			if err != nil {
				return fmt.Errorf("apply message %s: %w", rows[i].ID, err)
			}
			if applied {
				res.MessagesSynced++
			}
		}
		return nil
	})
}

// applyConversationRow hydrates one remote conversation row into the local
// store. Must run inside the serializer.
func (e *Engine) applyConversationRow(row *remote.ConversationRow, names *nameResolver, readAt map[string]int64) (string, error) {
	c := &store.Conversation{
		ID:                 uuid.NewString(),
		ServerID:           row.ID,
		OrgID:              row.OrgID,
		Type:               row.Type,
		CounterpartyID:     row.CounterpartyID,
		Subject:            row.Subject,
		CreatedBy:          row.CreatedBy,
		DisplayName:        names.conversationName(row, e.cfg),
		LastMessageAt:      row.LastMessageAt,
		LastMessagePreview: truncate(row.LastMessagePreview, previewRunes),
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}
	if ts, ok := readAt[row.ID]; ok {
		c.LastReadAt = ts
	}
	localID, err := e.db.UpsertConversationByServerID(c)
	if err != nil {
		return "", err
	}
	if ts, ok := readAt[row.ID]; ok {
		if err := e.db.UpdateConversationLastRead(localID, ts); err != nil {
			return "", err
		}
	}
	e.publish("conversation.upserted", localID)
	return localID, nil
}

// applyMessageRowLocked upserts one remote message row; shared by pull and the
// realtime overlay so their applications commute. Must run inside the
// serializer. Returns false when the owning conversation is not known locally
// yet; a later pull picks the message up.
func (e *Engine) applyMessageRowLocked(row *remote.MessageRow, names *nameResolver, alert bool) (bool, error) {
	conv, err := e.db.GetConversationByServerID(row.ConversationID)
	if err != nil {
		return false, err
	}
	if conv == nil {
		e.logger.Warn("message for unknown conversation, skipping",
			zap.String("message_id", row.ID), zap.String("conversation_id", row.ConversationID))
		return false, nil
	}

	exists, err := e.db.HasMessageServerID(row.ID)
	if err != nil {
		return false, err
	}
	if !exists {
		// A push whose ack was lost leaves a local row keyed by the
		// idempotency key the remote adopted as its id. Link instead of
		// inserting a duplicate.
		local, err := e.db.GetMessageByIdempotencyKey(row.ID)
		if err != nil {
			return false, err
		}
		if local != nil {
			if err := e.db.AdoptMessageServer(local.ID, row.ID, row.Status, row.UpdatedAt); err != nil {
				return false, err
			}
			e.publish("message.upserted", bus.MessageRef{ConversationID: conv.ID, MessageID: local.ID})
			return true, nil
		}
	}

	m := &store.Message{
		ID:             uuid.NewString(),
		ServerID:       row.ID,
		ConversationID: conv.ID,
		OrgID:          row.OrgID,
		SenderID:       row.SenderID,
		SenderName:     names.userName(row.SenderID),
		Type:           row.MessageType,
		Content:        row.Content,
		Status:         row.Status,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
	localID, err := e.db.UpsertMessageByServerID(m)
	if err != nil {
		return false, err
	}
	e.publish("message.upserted", bus.MessageRef{ConversationID: conv.ID, MessageID: localID})

	if alert && !exists && row.SenderID != e.cfg.Identity.UserID {
		e.sink.NewMessage(notify.Notification{
			ConversationID: conv.ID,
			SenderName:     m.SenderName,
			Preview:        truncate(row.Content, previewRunes),
		})
	}
	return true, nil
}

func (e *Engine) fetchReadStatuses(ctx context.Context) (map[string]int64, error) {
	rows, err := e.remote.ReadStatuses(ctx, e.cfg.Identity.OrgID, e.cfg.Identity.UserID)
	if err != nil {
		return nil, err
	}
	readAt := make(map[string]int64, len(rows))
	for _, r := range rows {
		readAt[r.ConversationID] = r.LastReadAt
	}
	return readAt, nil
}

func (e *Engine) publish(kind string, payload any) {
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

func truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes])
}
