// Package storage persists the application-side view of the protocol:
// contacts with their folded handshake state, and chat history. The
// protocol layer itself keeps no state; this package owns the fold from
// its event stream into durable contact records.
package storage

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid contact state transition")
)

// ContactState is the folded handshake state of one contact.
type ContactState string

const (
	// StateNone is the implicit state of an unknown key.
	StateNone ContactState = "none"
	// StateSentPending: we sent a request, awaiting the response.
	StateSentPending ContactState = "sent_pending"
	// StateReceivedPending: we received a request, not yet answered.
	StateReceivedPending ContactState = "received_pending"
	// StateAdded: handshake completed with acceptance.
	StateAdded ContactState = "added"
	// StateDeclined: we declined the counterparty's request.
	StateDeclined ContactState = "declined"
	// StateSentDeclined: our request was declined.
	StateSentDeclined ContactState = "sent_declined"
)

// ChatDB is the local sqlite store.
type ChatDB struct {
	db *sql.DB
}

// Contact is a contact row. Topic is the shared chat topic agreed during
// the handshake, empty until known.
type Contact struct {
	Key            string
	Username       string
	OverlayAddress string
	Topic          string
	State          ContactState
	Greeting       string
	AddedAt        int64
	UpdatedAt      int64
}

// StoredMessage is one chat history row.
type StoredMessage struct {
	ID         int64
	ContactKey string
	Text       string
	Timestamp  int64
	IsOutgoing bool
	CreatedAt  int64
}

// NewChatDB opens (creating if needed) the chat database at dbPath.
func NewChatDB(dbPath string) (*ChatDB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	// WAL for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %v", err)
	}

	cdb := &ChatDB{db: db}
	if err := cdb.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return cdb, nil
}

func (db *ChatDB) initSchema() error {
	schema := `
	-- Contacts table: one row per counterparty public key
	CREATE TABLE IF NOT EXISTS contacts (
		key TEXT PRIMARY KEY,
		username TEXT NOT NULL DEFAULT '',
		overlay_address TEXT NOT NULL DEFAULT '',
		topic TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		greeting TEXT NOT NULL DEFAULT '',
		added_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	-- Chat history
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		contact_key TEXT NOT NULL,
		text TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		is_outgoing INTEGER NOT NULL,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		FOREIGN KEY (contact_key) REFERENCES contacts(key)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_contact ON messages(contact_key, timestamp);
	CREATE INDEX IF NOT EXISTS idx_contacts_state ON contacts(state);
	`

	if _, err := db.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %v", err)
	}
	return nil
}

// Close closes the database.
func (db *ChatDB) Close() error {
	return db.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
