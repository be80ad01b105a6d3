package store

import (
	"database/sql"
	"fmt"
)

const conversationColumns = `id, COALESCE(server_id, ''), org_id, conv_type, counterparty_id, subject,
	created_by, display_name, last_message_at, last_message_preview, unread_count,
	last_read_at, created_at, updated_at`

func scanConversation(row interface{ Scan(...any) error }) (*Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.ServerID, &c.OrgID, &c.Type, &c.CounterpartyID, &c.Subject,
		&c.CreatedBy, &c.DisplayName, &c.LastMessageAt, &c.LastMessagePreview, &c.UnreadCount,
		&c.LastReadAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertConversationByServerID updates the local row matching c.ServerID in
// place, or inserts a new one using c.ID as the local id. Returns the local id
// the row ended up with. The cached unread count and, on update, the local
// read watermark are left untouched; they are maintained separately.
func (db *DB) UpsertConversationByServerID(c *Conversation) (string, error) {
	if c.ServerID == "" {
		return "", fmt.Errorf("upsert conversation: server id required")
	}
	var localID string
	err := db.QueryRow(`SELECT id FROM conversations WHERE server_id = ?`, c.ServerID).Scan(&localID)
	if err == sql.ErrNoRows {
		_, err = db.Exec(`
			INSERT INTO conversations (id, server_id, org_id, conv_type, counterparty_id, subject,
				created_by, display_name, last_message_at, last_message_preview,
				last_read_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.ServerID, c.OrgID, c.Type, c.CounterpartyID, c.Subject,
			c.CreatedBy, c.DisplayName, c.LastMessageAt, c.LastMessagePreview,
			c.LastReadAt, c.CreatedAt, c.UpdatedAt)
		if err != nil {
			return "", err
		}
		return c.ID, nil
	}
	if err != nil {
		return "", err
	}
	_, err = db.Exec(`
		UPDATE conversations SET
			org_id = ?, conv_type = ?, counterparty_id = ?, subject = ?,
			created_by = ?, display_name = ?, last_message_at = ?, last_message_preview = ?,
			updated_at = ?
		WHERE id = ?`,
		c.OrgID, c.Type, c.CounterpartyID, c.Subject,
		c.CreatedBy, c.DisplayName, c.LastMessageAt, c.LastMessagePreview,
		c.UpdatedAt, localID)
	if err != nil {
		return "", err
	}
	return localID, nil
}

// InsertLocalConversation stores a conversation created while offline. The
// partial unique index keeps it to one unsynced direct conversation per
// counterparty.
func (db *DB) InsertLocalConversation(c *Conversation) error {
	_, err := db.Exec(`
		INSERT INTO conversations (id, org_id, conv_type, counterparty_id, subject,
			created_by, display_name, last_message_at, last_message_preview,
			last_read_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OrgID, c.Type, c.CounterpartyID, c.Subject,
		c.CreatedBy, c.DisplayName, c.LastMessageAt, c.LastMessagePreview,
		c.LastReadAt, c.CreatedAt, c.UpdatedAt)
	return err
}

// LinkConversationServer attaches a remote id to a conversation created offline.
func (db *DB) LinkConversationServer(id, serverID string) error {
	_, err := db.Exec(`UPDATE conversations SET server_id = ? WHERE id = ?`, serverID, id)
	return err
}

// GetConversation returns a single conversation by local id.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	c, err := scanConversation(db.QueryRow(
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// GetConversationByServerID returns a conversation by its remote id.
func (db *DB) GetConversationByServerID(serverID string) (*Conversation, error) {
	c, err := scanConversation(db.QueryRow(
		`SELECT `+conversationColumns+` FROM conversations WHERE server_id = ?`, serverID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// GetDirectConversation returns the direct conversation with the given
// counterparty, preferring a synced row over an unsynced one.
func (db *DB) GetDirectConversation(orgID, counterpartyID string) (*Conversation, error) {
	c, err := scanConversation(db.QueryRow(
		`SELECT `+conversationColumns+` FROM conversations
		WHERE org_id = ? AND counterparty_id = ? AND conv_type = 'direct'
		ORDER BY server_id IS NULL
		LIMIT 1`, orgID, counterpartyID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// ListConversations returns conversations sorted by last message timestamp descending.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(
		`SELECT `+conversationColumns+` FROM conversations
		ORDER BY last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

// AllConversations returns every local conversation, no particular order.
func (db *DB) AllConversations() ([]Conversation, error) {
	rows, err := db.Query(`SELECT ` + conversationColumns + ` FROM conversations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

// UpdateConversationLastRead writes the remote-derived read watermark without
// touching the cached unread count.
func (db *DB) UpdateConversationLastRead(id string, ts int64) error {
	_, err := db.Exec(`UPDATE conversations SET last_read_at = ? WHERE id = ?`, ts, id)
	return err
}

// SetConversationRead records that the local user read the conversation at ts.
func (db *DB) SetConversationRead(id string, ts int64) error {
	_, err := db.Exec(
		`UPDATE conversations SET last_read_at = ?, unread_count = 0 WHERE id = ?`, ts, id)
	return err
}

// UpdateConversationUnread writes a recomputed unread count.
func (db *DB) UpdateConversationUnread(id string, count int) error {
	_, err := db.Exec(`UPDATE conversations SET unread_count = ? WHERE id = ?`, count, id)
	return err
}

// UpdateConversationMeta refreshes the denormalized last-message fields if the
// given message is newer than what is already recorded.
func (db *DB) UpdateConversationMeta(id string, lastMessageAt int64, preview string) error {
	_, err := db.Exec(`
		UPDATE conversations SET
			last_message_preview = CASE WHEN ? >= last_message_at THEN ? ELSE last_message_preview END,
			last_message_at = MAX(last_message_at, ?)
		WHERE id = ?`,
		lastMessageAt, preview, lastMessageAt, id)
	return err
}

// ConversationCount returns the total number of conversations.
func (db *DB) ConversationCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}
