package session

import (
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestSessionIDRoundTrip(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.SessionID("default"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.SetSessionID("default", "thread_1"); err != nil {
		t.Fatalf("set session: %v", err)
	}
	got, err := store.SessionID("default")
	if err != nil || got != "thread_1" {
		t.Fatalf("got %q, %v", got, err)
	}

	if err := store.SetSessionID("default", "thread_2"); err != nil {
		t.Fatalf("overwrite session: %v", err)
	}
	got, _ = store.SessionID("default")
	if got != "thread_2" {
		t.Fatalf("session not overwritten: %q", got)
	}
}

func TestForget(t *testing.T) {
	store := newTestStore(t)

	if err := store.SetSessionID("slack:C1:1700.1", "thread_1"); err != nil {
		t.Fatal(err)
	}
	if err := store.AddTurn(&Turn{ConversationKey: "slack:C1:1700.1", Role: RoleUser, Content: "hi"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Forget("slack:C1:1700.1"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if _, err := store.SessionID("slack:C1:1700.1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after forget, got %v", err)
	}
	turns, err := store.Turns("slack:C1:1700.1", 0)
	if err != nil || len(turns) != 1 {
		t.Fatalf("transcript must survive forget: %v %v", turns, err)
	}
	if _, err := store.GetConversation("slack:C1:1700.1"); err != nil {
		t.Fatalf("conversation must survive forget: %v", err)
	}
}

func TestTurns(t *testing.T) {
	store := newTestStore(t)

	for _, turn := range []*Turn{
		{ConversationKey: "a", SessionID: "thread_1", Role: RoleUser, Content: "one"},
		{ConversationKey: "b", SessionID: "thread_9", Role: RoleUser, Content: "other"},
		{ConversationKey: "a", SessionID: "thread_1", Role: RoleAssistant, Content: "two"},
		{ConversationKey: "a", SessionID: "thread_1", Role: RoleUser, Content: "three"},
	} {
		if err := store.AddTurn(turn); err != nil {
			t.Fatalf("add turn: %v", err)
		}
		if turn.ID == 0 {
			t.Fatal("turn id not set")
		}
	}

	all, err := store.Turns("a", 0)
	if err != nil {
		t.Fatalf("turns: %v", err)
	}
	if len(all) != 3 || all[0].Content != "one" || all[2].Content != "three" {
		t.Fatalf("unexpected transcript %+v", all)
	}

	last, err := store.Turns("a", 2)
	if err != nil {
		t.Fatalf("turns: %v", err)
	}
	if len(last) != 2 || last[0].Content != "two" || last[1].Role != RoleUser {
		t.Fatalf("unexpected tail %+v", last)
	}
}

func TestListConversations(t *testing.T) {
	store := newTestStore(t)

	for _, key := range []string{"a", "b"} {
		if err := store.SetSessionID(key, "thread_"+key); err != nil {
			t.Fatal(err)
		}
	}
	convs, err := store.ListConversations()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(convs))
	}
}

func TestAddTurnCreatesConversation(t *testing.T) {
	store := newTestStore(t)

	if err := store.AddTurn(&Turn{ConversationKey: "telegram:7", Role: RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("add turn: %v", err)
	}
	c, err := store.GetConversation("telegram:7")
	if err != nil {
		t.Fatalf("conversation not created: %v", err)
	}
	if c.SessionID != "" {
		t.Fatalf("unexpected session %q", c.SessionID)
	}

	if err := store.SetSessionID("telegram:7", "thread_1"); err != nil {
		t.Fatal(err)
	}
	if err := store.AddTurn(&Turn{ConversationKey: "telegram:7", SessionID: "thread_1", Role: RoleAssistant, Content: "hello"}); err != nil {
		t.Fatal(err)
	}
	if got, _ := store.SessionID("telegram:7"); got != "thread_1" {
		t.Fatalf("turn must not clear the session id, got %q", got)
	}
}
