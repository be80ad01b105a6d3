package store

import (
	"database/sql"
	"strconv"
	"time"
)

const watermarkKey = "last_synced_at"

// GetSyncState retrieves a sync checkpoint value. Missing keys return "".
func (db *DB) GetSyncState(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetSyncState stores a sync checkpoint value.
func (db *DB) SetSyncState(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// GetWatermark returns the pull cursor in epoch millis; 0 means never synced.
// A value that fails to parse also reads as 0 rather than blocking a pull.
func (db *DB) GetWatermark() (int64, error) {
	raw, err := db.GetSyncState(watermarkKey)
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return 0, nil
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, nil
	}
	return ts, nil
}

// SetWatermark persists the pull cursor.
func (db *DB) SetWatermark(ts int64) error {
	return db.SetSyncState(watermarkKey, strconv.FormatInt(ts, 10))
}
