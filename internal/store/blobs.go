package store

import (
	"database/sql"
	"fmt"
)

func slotKey(conversation, slot string) string {
	return conversation + "/" + slot
}

// GetBlob returns the decoded blob, or nil when the slot is empty.
func (s *Store) GetBlob(conversation, slot string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRow(`SELECT data FROM conversation_state WHERE conversation = ? AND slot = ?`,
		conversation, slot).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get blob: %w", err)
	}
	return s.decode(slotKey(conversation, slot), payload)
}

// PutBlob replaces the whole blob.
func (s *Store) PutBlob(conversation, slot string, data []byte) error {
	payload, err := s.encode(slotKey(conversation, slot), data)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO conversation_state (conversation, slot, data)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation, slot) DO UPDATE SET
			data = excluded.data,
			updated_at = CURRENT_TIMESTAMP`,
		conversation, slot, payload)
	if err != nil {
		return fmt.Errorf("put blob: %w", err)
	}
	return nil
}

func (s *Store) DeleteBlob(conversation, slot string) error {
	_, err := s.db.Exec(`DELETE FROM conversation_state WHERE conversation = ? AND slot = ?`, conversation, slot)
	if err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// ListConversations returns the conversations holding a blob in slot.
func (s *Store) ListConversations(slot string) ([]string, error) {
	rows, err := s.db.Query(`SELECT conversation FROM conversation_state WHERE slot = ? ORDER BY conversation`, slot)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}
