package sync

import (
	"context"
	"testing"
)

func TestResolveDirectCreatesRemoteConversation(t *testing.T) {
	f := &fakeRemote{}
	e, db := testEngine(t, f, nil)

	id, err := e.ResolveDirect(context.Background(), "medic-2")
	if err != nil {
		t.Fatal(err)
	}
	conv, err := db.GetConversation(id)
	if err != nil || conv == nil {
		t.Fatalf("resolved conversation missing: %v", err)
	}
	if conv.ServerID == "" {
		t.Error("resolved conversation has no remote id")
	}
	if len(f.conversations) != 1 {
		t.Fatalf("remote conversation count = %d, want 1", len(f.conversations))
	}

	// Resolving again is a local hit, no second remote row.
	again, err := e.ResolveDirect(context.Background(), "medic-2")
	if err != nil {
		t.Fatal(err)
	}
	if again != id {
		t.Errorf("second resolve = %q, want %q", again, id)
	}
	if len(f.conversations) != 1 {
		t.Errorf("remote conversation count = %d after re-resolve, want 1", len(f.conversations))
	}
}

func TestResolveDirectConvergesOnCreationRace(t *testing.T) {
	f := &fakeRemote{hideDirectUntilConflict: true}
	winner := seedDirect(f, "medic-2")

	e, db := testEngine(t, f, nil)
	id, err := e.ResolveDirect(context.Background(), "medic-2")
	if err != nil {
		t.Fatal(err)
	}
	conv, _ := db.GetConversation(id)
	if conv.ServerID != winner {
		t.Errorf("adopted remote id = %q, want the winner's %q", conv.ServerID, winner)
	}
	if len(f.conversations) != 1 {
		t.Errorf("remote conversation count = %d, want 1", len(f.conversations))
	}
}

func TestResolveDirectOfflineThenLinks(t *testing.T) {
	f := &fakeRemote{failAll: true}
	e, db := testEngine(t, f, nil)

	id, err := e.ResolveDirect(context.Background(), "medic-2")
	if err != nil {
		t.Fatal(err)
	}
	conv, _ := db.GetConversation(id)
	if conv == nil || conv.ServerID != "" {
		t.Fatalf("offline resolve should create an unsynced row, got %+v", conv)
	}

	// Still offline: same local row, no second one.
	again, err := e.ResolveDirect(context.Background(), "medic-2")
	if err != nil {
		t.Fatal(err)
	}
	if again != id {
		t.Errorf("offline re-resolve = %q, want %q", again, id)
	}

	// Back online: the local row is linked, not replaced.
	f.mu.Lock()
	f.failAll = false
	f.mu.Unlock()
	linked, err := e.ResolveDirect(context.Background(), "medic-2")
	if err != nil {
		t.Fatal(err)
	}
	if linked != id {
		t.Errorf("online resolve = %q, want original %q", linked, id)
	}
	conv, _ = db.GetConversation(id)
	if conv.ServerID == "" {
		t.Error("conversation still unsynced after reconnect")
	}
	count, _ := db.ConversationCount()
	if count != 1 {
		t.Errorf("conversation count = %d, want 1", count)
	}
}
