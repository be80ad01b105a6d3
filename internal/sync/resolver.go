package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lfmartins/fieldsync/internal/remote"
	"github.com/lfmartins/fieldsync/internal/store"
	"go.uber.org/zap"
)

// ResolveDirect returns the local id of the direct conversation with the given
// counterparty, creating it when it does not exist yet. Two devices racing to
// create the same pair converge: the loser's insert conflicts and it re-queries
// the winner's row. When the remote is unreachable the conversation is created
// locally and linked on a later resolve.
func (e *Engine) ResolveDirect(ctx context.Context, counterpartyID string) (string, error) {
	if counterpartyID == "" {
		return "", fmt.Errorf("resolve direct: counterparty required")
	}
	orgID := e.cfg.Identity.OrgID

	local, err := e.db.GetDirectConversation(orgID, counterpartyID)
	if err != nil {
		return "", err
	}
	if local != nil && local.ServerID != "" {
		return local.ID, nil
	}

	row, rerr := e.findOrCreateDirect(ctx, orgID, counterpartyID)
	if rerr != nil {
		if local != nil {
			e.logger.Warn("remote unreachable, keeping unsynced conversation",
				zap.String("counterparty_id", counterpartyID), zap.Error(rerr))
			return local.ID, nil
		}
		return e.createLocalDirect(counterpartyID, rerr)
	}

	names := e.cachedNames()
	var localID string
	err = e.ser.Do(func() error {
		if local != nil {
			// Adopt the offline-created row so attached messages keep their
			// conversation id.
			if err := e.db.LinkConversationServer(local.ID, row.ID); err != nil {
				return err
			}
		}
		var err error
		localID, err = e.applyConversationRow(row, names, nil)
		return err
	})
	if err != nil {
		return "", err
	}
	return localID, nil
}

func (e *Engine) findOrCreateDirect(ctx context.Context, orgID, counterpartyID string) (*remote.ConversationRow, error) {
	row, err := e.remote.FindDirectConversation(ctx, orgID, counterpartyID)
	if err != nil {
		return nil, fmt.Errorf("find direct conversation: %w", err)
	}
	if row != nil {
		return row, nil
	}
	row, err = e.remote.InsertConversation(ctx, remote.ConversationInsert{
		OrgID:          orgID,
		Type:           "direct",
		CounterpartyID: counterpartyID,
		CreatedBy:      e.cfg.Identity.UserID,
	})
	if remote.IsConflict(err) {
		// The other device won the race; its row is the one.
		row, err = e.remote.FindDirectConversation(ctx, orgID, counterpartyID)
		if err != nil {
			return nil, fmt.Errorf("re-query direct conversation: %w", err)
		}
		if row == nil {
			return nil, fmt.Errorf("direct conversation conflict but no row for %s", counterpartyID)
		}
		return row, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create direct conversation: %w", err)
	}
	return row, nil
}

func (e *Engine) createLocalDirect(counterpartyID string, cause error) (string, error) {
	e.logger.Warn("remote unreachable, creating conversation offline",
		zap.String("counterparty_id", counterpartyID), zap.Error(cause))
	names := e.cachedNames()
	displayName := names.label
	if e.cfg.Privileged() {
		displayName = names.realName(counterpartyID)
	}
	now := time.Now().UnixMilli()
	c := &store.Conversation{
		ID:             uuid.NewString(),
		OrgID:          e.cfg.Identity.OrgID,
		Type:           store.ConvDirect,
		CounterpartyID: counterpartyID,
		CreatedBy:      e.cfg.Identity.UserID,
		DisplayName:    displayName,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := e.ser.Do(func() error {
		return e.db.InsertLocalConversation(c)
	})
	if err != nil {
		return "", err
	}
	e.publish("conversation.upserted", c.ID)
	return c.ID, nil
}
