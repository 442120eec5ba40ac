package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func newTestDB(t *testing.T) *ChatDB {
	t.Helper()
	db, err := NewChatDB(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestContactUpsert(t *testing.T) {
	db := newTestDB(t)

	contact := &Contact{Key: "0xaa", Username: "alice", State: StateSentPending, Topic: "0x01"}
	if err := db.SaveContact(contact); err != nil {
		t.Fatal(err)
	}

	loaded, err := db.GetContact("0xaa")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Username != "alice" || loaded.State != StateSentPending || loaded.Topic != "0x01" {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.AddedAt == 0 {
		t.Error("added_at not set")
	}

	contact.Username = "alice2"
	if err := db.SaveContact(contact); err != nil {
		t.Fatal(err)
	}
	loaded, _ = db.GetContact("0xaa")
	if loaded.Username != "alice2" {
		t.Errorf("username after upsert = %q", loaded.Username)
	}

	if _, err := db.GetContact("0xmissing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestContactFoldRequesterSide(t *testing.T) {
	db := newTestDB(t)

	if err := db.FoldRequestSent("0xbb", "0xt1", "bob"); err != nil {
		t.Fatal(err)
	}
	contact, _ := db.GetContact("0xbb")
	if contact.State != StateSentPending {
		t.Fatalf("state = %s, want sent_pending", contact.State)
	}

	// accept path
	if err := db.FoldResponseReceived("0xbb", true, "0xaddr", "bob"); err != nil {
		t.Fatal(err)
	}
	contact, _ = db.GetContact("0xbb")
	if contact.State != StateAdded {
		t.Errorf("state = %s, want added", contact.State)
	}
	if contact.OverlayAddress != "0xaddr" || contact.Username != "bob" {
		t.Errorf("identity not recorded: %+v", contact)
	}
	if contact.Topic != "0xt1" {
		t.Errorf("topic lost on acceptance: %q", contact.Topic)
	}

	// a second response is a protocol violation, not a state change
	if err := db.FoldResponseReceived("0xbb", false, "", ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestContactFoldDeclinePath(t *testing.T) {
	db := newTestDB(t)

	if err := db.FoldRequestSent("0xcc", "0xt2", ""); err != nil {
		t.Fatal(err)
	}
	if err := db.FoldResponseReceived("0xcc", false, "", ""); err != nil {
		t.Fatal(err)
	}
	contact, _ := db.GetContact("0xcc")
	if contact.State != StateSentDeclined {
		t.Errorf("state = %s, want sent_declined", contact.State)
	}

	// a declined requester may try again
	if err := db.FoldRequestSent("0xcc", "0xt3", ""); err != nil {
		t.Fatal(err)
	}
	contact, _ = db.GetContact("0xcc")
	if contact.State != StateSentPending || contact.Topic != "0xt3" {
		t.Errorf("retry not recorded: %+v", contact)
	}
}

func TestContactFoldReceiverSide(t *testing.T) {
	db := newTestDB(t)

	if err := db.FoldRequestReceived("0xdd", "0xt4", "0xaddr", "carol", "hi there"); err != nil {
		t.Fatal(err)
	}
	contact, _ := db.GetContact("0xdd")
	if contact.State != StateReceivedPending {
		t.Fatalf("state = %s, want received_pending", contact.State)
	}
	if contact.Greeting != "hi there" {
		t.Errorf("greeting = %q", contact.Greeting)
	}

	if err := db.FoldResponseSent("0xdd", true); err != nil {
		t.Fatal(err)
	}
	contact, _ = db.GetContact("0xdd")
	if contact.State != StateAdded {
		t.Errorf("state = %s, want added", contact.State)
	}

	// an established contact does not regress on a duplicate request
	if err := db.FoldRequestReceived("0xdd", "0xother", "", "", ""); err != nil {
		t.Fatal(err)
	}
	contact, _ = db.GetContact("0xdd")
	if contact.State != StateAdded || contact.Topic != "0xt4" {
		t.Errorf("established contact regressed: %+v", contact)
	}
}

func TestFoldResponseSentDecline(t *testing.T) {
	db := newTestDB(t)

	if err := db.FoldRequestReceived("0xee", "0xt5", "", "mallory", ""); err != nil {
		t.Fatal(err)
	}
	if err := db.FoldResponseSent("0xee", false); err != nil {
		t.Fatal(err)
	}
	contact, _ := db.GetContact("0xee")
	if contact.State != StateDeclined {
		t.Errorf("state = %s, want declined", contact.State)
	}

	// declining twice is invalid
	if err := db.FoldResponseSent("0xee", false); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestMessageHistory(t *testing.T) {
	db := newTestDB(t)

	if err := db.SaveContact(&Contact{Key: "0xff", State: StateAdded, Topic: "0xt6"}); err != nil {
		t.Fatal(err)
	}

	inputs := []*StoredMessage{
		{ContactKey: "0xff", Text: "first", Timestamp: 100, IsOutgoing: true},
		{ContactKey: "0xff", Text: "second", Timestamp: 200, IsOutgoing: false},
		{ContactKey: "0xff", Text: "third", Timestamp: 300, IsOutgoing: true},
	}
	for _, msg := range inputs {
		if err := db.SaveMessage(msg); err != nil {
			t.Fatal(err)
		}
		if msg.ID == 0 {
			t.Error("message id not assigned")
		}
	}

	history, err := db.GetMessages("0xff", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	for i, want := range []string{"first", "second", "third"} {
		if history[i].Text != want {
			t.Errorf("history[%d] = %q, want %q", i, history[i].Text, want)
		}
	}
	if !history[0].IsOutgoing || history[1].IsOutgoing {
		t.Error("direction flags wrong")
	}

	limited, err := db.GetMessages("0xff", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("limited length = %d, want 2", len(limited))
	}

	count, err := db.MessageCount("0xff")
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestDeleteContactRemovesHistory(t *testing.T) {
	db := newTestDB(t)

	if err := db.SaveContact(&Contact{Key: "0x11", State: StateAdded}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveMessage(&StoredMessage{ContactKey: "0x11", Text: "x", Timestamp: 1}); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteContact("0x11"); err != nil {
		t.Fatal(err)
	}

	if _, err := db.GetContact("0x11"); !errors.Is(err, ErrNotFound) {
		t.Errorf("contact survived delete: %v", err)
	}
	count, _ := db.MessageCount("0x11")
	if count != 0 {
		t.Errorf("messages survived delete: %d", count)
	}
}
