package sync

import (
	"fmt"

	"github.com/lfmartins/fieldsync/internal/remote"
)

// ApplyMessageInsert applies one live message event. It goes through the same
// upsert path as pull, so a pull covering the same row afterwards is a no-op
// and the two orderings produce the same local state.
func (e *Engine) ApplyMessageInsert(row remote.MessageRow) error {
	if err := row.Validate(); err != nil {
		return err
	}
	names := e.cachedNames()
	return e.ser.Do(func() error {
		applied, err := e.applyMessageRowLocked(&row, names, true)
		if err != nil || !applied {
			return err
		}
		conv, err := e.db.GetConversationByServerID(row.ConversationID)
		if err != nil || conv == nil {
			return err
		}
		if err := e.db.UpdateConversationMeta(conv.ID, row.CreatedAt, truncate(row.Content, previewRunes)); err != nil {
			return err
		}
		if row.SenderID != e.cfg.Identity.UserID {
			count, err := e.db.CountUnread(conv.ID, e.cfg.Identity.UserID, conv.LastReadAt)
			if err != nil {
				return err
			}
			return e.db.UpdateConversationUnread(conv.ID, count)
		}
		return nil
	})
}

// ApplyReadStatus applies one live read-status event for the session user,
// typically emitted by another of their devices.
func (e *Engine) ApplyReadStatus(row remote.ReadStatusRow) error {
	if err := row.Validate(); err != nil {
		return err
	}
	if row.UserID != e.cfg.Identity.UserID {
		return nil
	}
	return e.ser.Do(func() error {
		conv, err := e.db.GetConversationByServerID(row.ConversationID)
		if err != nil {
			return err
		}
		if conv == nil {
			return nil
		}
		if row.LastReadAt < conv.LastReadAt {
			return nil
		}
		if err := e.db.UpdateConversationLastRead(conv.ID, row.LastReadAt); err != nil {
			return fmt.Errorf("update read watermark: %w", err)
		}
		count, err := e.db.CountUnread(conv.ID, e.cfg.Identity.UserID, row.LastReadAt)
		if err != nil {
			return err
		}
		return e.db.UpdateConversationUnread(conv.ID, count)
	})
}
