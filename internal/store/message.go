package store

import (
	"database/sql"
	"fmt"
)

const messageColumns = `id, COALESCE(server_id, ''), conversation_id, org_id, sender_id, sender_name,
	message_type, content, status, COALESCE(idempotency_key, ''), created_at, updated_at`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ServerID, &m.ConversationID, &m.OrgID, &m.SenderID, &m.SenderName,
		&m.Type, &m.Content, &m.Status, &m.IdempotencyKey, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// InsertLocalMessage stores a locally-created message. Status must be queued
// and the idempotency key must already be assigned.
func (db *DB) InsertLocalMessage(m *Message) error {
	if m.Status != StatusQueued {
		return fmt.Errorf("insert local message: status %q, want queued", m.Status)
	}
	if m.IdempotencyKey == "" {
		return fmt.Errorf("insert local message: idempotency key required")
	}
	_, err := db.Exec(`
		INSERT INTO messages (id, conversation_id, org_id, sender_id, sender_name,
			message_type, content, status, idempotency_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.OrgID, m.SenderID, m.SenderName,
		m.Type, m.Content, m.Status, m.IdempotencyKey, m.CreatedAt, m.UpdatedAt)
	return err
}

// UpsertMessageByServerID updates the local row matching m.ServerID in place,
// or inserts a new one using m.ID as the local id. Returns the local id the
// row ended up with. Remotely-born rows carry no idempotency key.
func (db *DB) UpsertMessageByServerID(m *Message) (string, error) {
	if m.ServerID == "" {
		return "", fmt.Errorf("upsert message: server id required")
	}
	var localID string
	err := db.QueryRow(`SELECT id FROM messages WHERE server_id = ?`, m.ServerID).Scan(&localID)
	if err == sql.ErrNoRows {
		_, err = db.Exec(`
			INSERT INTO messages (id, server_id, conversation_id, org_id, sender_id, sender_name,
				message_type, content, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.ServerID, m.ConversationID, m.OrgID, m.SenderID, m.SenderName,
			m.Type, m.Content, m.Status, m.CreatedAt, m.UpdatedAt)
		if err != nil {
			return "", err
		}
		return m.ID, nil
	}
	if err != nil {
		return "", err
	}
	_, err = db.Exec(`
		UPDATE messages SET
			sender_name = ?, content = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		m.SenderName, m.Content, m.Status, m.UpdatedAt, localID)
	if err != nil {
		return "", err
	}
	return localID, nil
}

// GetMessageByIdempotencyKey returns the locally-created message carrying the
// given key, or nil.
func (db *DB) GetMessageByIdempotencyKey(key string) (*Message, error) {
	m, err := scanMessage(db.QueryRow(
		`SELECT `+messageColumns+` FROM messages WHERE idempotency_key = ?`, key))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// AdoptMessageServer links a locally-created message to the remote row that a
// prior push produced before its ack was lost. The remote status is
// authoritative here.
func (db *DB) AdoptMessageServer(id, serverID, status string, ts int64) error {
	_, err := db.Exec(`
		UPDATE messages SET server_id = ?, status = ?, updated_at = ? WHERE id = ?`,
		serverID, status, ts, id)
	return err
}

// HasMessageServerID reports whether a local row exists for the given remote id.
func (db *DB) HasMessageServerID(serverID string) (bool, error) {
	var one int
	err := db.QueryRow(`SELECT 1 FROM messages WHERE server_id = ?`, serverID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListMessages returns messages for a conversation in ascending creation-time order.
func (db *DB) ListMessages(conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC
		LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// GetMessage returns a message by local id.
func (db *DB) GetMessage(id string) (*Message, error) {
	m, err := scanMessage(db.QueryRow(
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// QueuedMessages returns all messages waiting to be pushed.
func (db *DB) QueuedMessages() ([]Message, error) {
	rows, err := db.Query(
		`SELECT ` + messageColumns + ` FROM messages
		WHERE status = 'queued'
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// MarkMessageSent records a successful push. The queued guard means status
// never regresses once a message reached sent.
func (db *DB) MarkMessageSent(id, serverID string, ts int64) error {
	_, err := db.Exec(`
		UPDATE messages SET status = 'sent', server_id = COALESCE(NULLIF(?, ''), server_id), updated_at = ?
		WHERE id = ? AND status = 'queued'`,
		serverID, ts, id)
	return err
}

// MarkMessageFailed records explicit push abandonment.
func (db *DB) MarkMessageFailed(id string, ts int64) error {
	_, err := db.Exec(
		`UPDATE messages SET status = 'failed', updated_at = ? WHERE id = ? AND status = 'queued'`, ts, id)
	return err
}

// RequeueMessage moves a failed message back to queued for a user-initiated retry.
func (db *DB) RequeueMessage(id string, ts int64) error {
	_, err := db.Exec(
		`UPDATE messages SET status = 'queued', updated_at = ? WHERE id = ? AND status = 'failed'`, ts, id)
	return err
}

// CountUnread counts messages from other senders newer than the given read watermark.
func (db *DB) CountUnread(conversationID, userID string, since int64) (int, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = ? AND sender_id != ? AND created_at > ?`,
		conversationID, userID, since).Scan(&count)
	return count, err
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
