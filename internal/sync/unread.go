package sync

// recomputeUnreadLocked recounts unread messages for every conversation from
// the message table and the per-conversation read watermark. A full recount is
// cheap at this data size and cannot drift the way incremental bumps can.
// Must run inside the serializer. Returns the number of conversations whose
// count changed.
func (e *Engine) recomputeUnreadLocked() (int, error) {
	convs, err := e.db.AllConversations()
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, c := range convs {
		count, err := e.db.CountUnread(c.ID, e.cfg.Identity.UserID, c.LastReadAt)
		if err != nil {
			return changed, err
		}
		if count == c.UnreadCount {
			continue
		}
		if err := e.db.UpdateConversationUnread(c.ID, count); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

// RecomputeUnread recounts unread badges outside a pull, e.g. after the user
// opens a conversation.
func (e *Engine) RecomputeUnread() (int, error) {
	var changed int
	err := e.ser.Do(func() error {
		var err error
		changed, err = e.recomputeUnreadLocked()
		return err
	})
	return changed, err
}
