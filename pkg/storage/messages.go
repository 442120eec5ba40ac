package storage

import "database/sql"

// ===== MESSAGE OPERATIONS =====

// SaveMessage stores a chat message in the history
func (db *ChatDB) SaveMessage(msg *StoredMessage) error {
	query := `
		INSERT INTO messages (contact_key, text, timestamp, is_outgoing)
		VALUES (?, ?, ?, ?)
	`

	result, err := db.db.Exec(
		query,
		msg.ContactKey,
		msg.Text,
		msg.Timestamp,
		boolToInt(msg.IsOutgoing),
	)
	if err != nil {
		return err
	}

	msg.ID, err = result.LastInsertId()
	return err
}

// GetMessages retrieves chat history with a contact in timestamp order.
// limit <= 0 returns the full history.
func (db *ChatDB) GetMessages(contactKey string, limit int) ([]*StoredMessage, error) {
	query := `
		SELECT id, contact_key, text, timestamp, is_outgoing, created_at
		FROM messages WHERE contact_key = ? ORDER BY timestamp, id
	`
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = db.db.Query(query+" LIMIT ?", contactKey, limit)
	} else {
		rows, err = db.db.Query(query, contactKey)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*StoredMessage
	for rows.Next() {
		msg := &StoredMessage{}
		var outgoing int
		if err := rows.Scan(&msg.ID, &msg.ContactKey, &msg.Text, &msg.Timestamp, &outgoing, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.IsOutgoing = outgoing != 0
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// MessageCount returns the number of stored messages with a contact
func (db *ChatDB) MessageCount(contactKey string) (int, error) {
	var count int
	err := db.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE contact_key = ?`, contactKey).Scan(&count)
	return count, err
}
