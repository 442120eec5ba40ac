package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// ===== CONTACT OPERATIONS =====

// SaveContact adds or updates a contact
func (db *ChatDB) SaveContact(contact *Contact) error {
	now := time.Now().Unix()
	if contact.AddedAt == 0 {
		contact.AddedAt = now
	}
	contact.UpdatedAt = now

	query := `
		INSERT INTO contacts (
			key, username, overlay_address, topic, state, greeting, added_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			username = excluded.username,
			overlay_address = excluded.overlay_address,
			topic = excluded.topic,
			state = excluded.state,
			greeting = excluded.greeting,
			updated_at = excluded.updated_at
	`

	_, err := db.db.Exec(
		query,
		contact.Key,
		contact.Username,
		contact.OverlayAddress,
		contact.Topic,
		contact.State,
		contact.Greeting,
		contact.AddedAt,
		contact.UpdatedAt,
	)

	return err
}

// GetContact retrieves a contact by public key
func (db *ChatDB) GetContact(key string) (*Contact, error) {
	query := `
		SELECT key, username, overlay_address, topic, state, greeting, added_at, updated_at
		FROM contacts WHERE key = ?
	`

	contact := &Contact{}
	err := db.db.QueryRow(query, key).Scan(
		&contact.Key,
		&contact.Username,
		&contact.OverlayAddress,
		&contact.Topic,
		&contact.State,
		&contact.Greeting,
		&contact.AddedAt,
		&contact.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return contact, nil
}

// GetAllContacts retrieves all contacts ordered by username
func (db *ChatDB) GetAllContacts() ([]*Contact, error) {
	query := `
		SELECT key, username, overlay_address, topic, state, greeting, added_at, updated_at
		FROM contacts ORDER BY username, key
	`

	rows, err := db.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []*Contact
	for rows.Next() {
		contact := &Contact{}
		if err := rows.Scan(
			&contact.Key,
			&contact.Username,
			&contact.OverlayAddress,
			&contact.Topic,
			&contact.State,
			&contact.Greeting,
			&contact.AddedAt,
			&contact.UpdatedAt,
		); err != nil {
			return nil, err
		}
		contacts = append(contacts, contact)
	}

	return contacts, rows.Err()
}

// DeleteContact removes a contact and its chat history
func (db *ChatDB) DeleteContact(key string) error {
	if _, err := db.db.Exec(`DELETE FROM messages WHERE contact_key = ?`, key); err != nil {
		return err
	}
	_, err := db.db.Exec(`DELETE FROM contacts WHERE key = ?`, key)
	return err
}

// ===== CONTACT STATE FOLD =====

// The protocol layer emits discrete handshake events and keeps no state;
// these transitions are the consumer-side fold from events to contact
// state. Requester: none -> sent_pending -> added | sent_declined.
// Receiver: none -> received_pending -> added | declined.

// FoldRequestSent records an outgoing contact request.
func (db *ChatDB) FoldRequestSent(key, topic, username string) error {
	existing, err := db.GetContact(key)
	if err != nil && err != ErrNotFound {
		return err
	}
	if existing != nil && existing.State != StateNone && existing.State != StateSentDeclined {
		return fmt.Errorf("%w: request sent while %s", ErrInvalidTransition, existing.State)
	}

	return db.SaveContact(&Contact{
		Key:      key,
		Username: username,
		Topic:    topic,
		State:    StateSentPending,
	})
}

// FoldRequestReceived records an inbound contact request.
func (db *ChatDB) FoldRequestReceived(key, topic, overlayAddress, username, greeting string) error {
	existing, err := db.GetContact(key)
	if err != nil && err != ErrNotFound {
		return err
	}
	if existing != nil && existing.State == StateAdded {
		// Already established; a re-request does not regress state.
		return nil
	}

	contact := &Contact{
		Key:            key,
		Username:       username,
		OverlayAddress: overlayAddress,
		Topic:          topic,
		Greeting:       greeting,
		State:          StateReceivedPending,
	}
	if existing != nil {
		contact.AddedAt = existing.AddedAt
	}
	return db.SaveContact(contact)
}

// FoldResponseReceived records the counterparty's answer to our request.
func (db *ChatDB) FoldResponseReceived(key string, accepted bool, overlayAddress, username string) error {
	existing, err := db.GetContact(key)
	if err != nil {
		return err
	}
	if existing.State != StateSentPending {
		return fmt.Errorf("%w: response received while %s", ErrInvalidTransition, existing.State)
	}

	if !accepted {
		existing.State = StateSentDeclined
		return db.SaveContact(existing)
	}

	existing.State = StateAdded
	existing.OverlayAddress = overlayAddress
	if username != "" {
		existing.Username = username
	}
	return db.SaveContact(existing)
}

// FoldResponseSent records our answer to a pending inbound request.
func (db *ChatDB) FoldResponseSent(key string, accepted bool) error {
	existing, err := db.GetContact(key)
	if err != nil {
		return err
	}
	if existing.State != StateReceivedPending {
		return fmt.Errorf("%w: response sent while %s", ErrInvalidTransition, existing.State)
	}

	if accepted {
		existing.State = StateAdded
	} else {
		existing.State = StateDeclined
	}
	return db.SaveContact(existing)
}
