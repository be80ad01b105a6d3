package sync

import (
	"context"
	"testing"
	"time"

	"github.com/lfmartins/fieldsync/internal/bus"
	"github.com/lfmartins/fieldsync/internal/store"
	"go.uber.org/zap"
)

func testPusher(t *testing.T, f *fakeRemote) (*Pusher, *Engine, *store.DB) {
	t.Helper()
	db := testDB(t)
	b := bus.New()
	ser := NewSerializer()
	e := NewEngine(db, f, b, testConfig(), nil, ser, zap.NewNop())
	p := NewPusher(db, f, e, b, ser, 10*time.Millisecond, zap.NewNop())
	return p, e, db
}

func queueMessage(t *testing.T, db *store.DB, convID, id, key, content string, ts int64) {
	t.Helper()
	err := db.InsertLocalMessage(&store.Message{
		ID: id, ConversationID: convID, OrgID: "org-1",
		SenderID: "medic-1", SenderName: "Me", Type: "text", Content: content,
		Status: store.StatusQueued, IdempotencyKey: key, CreatedAt: ts, UpdatedAt: ts,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestPushPendingDeliversAndAcks(t *testing.T) {
	f := &fakeRemote{}
	p, e, db := testPusher(t, f)

	convID, err := e.ResolveDirect(context.Background(), "medic-2")
	if err != nil {
		t.Fatal(err)
	}
	queueMessage(t, db, convID, "m1", "key-1", "Hello", 1000)

	pushed, err := p.PushPending(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if pushed != 1 {
		t.Fatalf("pushed = %d, want 1", pushed)
	}
	if f.messageCount() != 1 {
		t.Fatalf("remote message count = %d, want 1", f.messageCount())
	}

	m, _ := db.GetMessage("m1")
	if m.Status != store.StatusSent {
		t.Errorf("status = %q, want sent", m.Status)
	}
	if m.ServerID != "key-1" {
		t.Errorf("server id = %q, want the idempotency key", m.ServerID)
	}
	conv, _ := db.GetConversation(convID)
	if conv.LastMessagePreview != "Hello" || conv.LastMessageAt != 1000 {
		t.Errorf("conversation meta not updated: %+v", conv)
	}
}

func TestPushRetryAfterLostAckDeliversOnce(t *testing.T) {
	f := &fakeRemote{}
	p, e, db := testPusher(t, f)

	convID, err := e.ResolveDirect(context.Background(), "medic-2")
	if err != nil {
		t.Fatal(err)
	}
	queueMessage(t, db, convID, "m1", "key-1", "Hello", 1000)

	if _, err := p.PushPending(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Simulate a crash between the remote insert and the local ack: the
	// message is back in queued state but the remote row exists.
	if _, err := db.Exec(`UPDATE messages SET status = 'queued' WHERE id = 'm1'`); err != nil {
		t.Fatal(err)
	}

	pushed, err := p.PushPending(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if pushed != 0 {
		t.Fatalf("retry pushed = %d, want 0 (already delivered, conflict is the ack)", pushed)
	}
	if f.messageCount() != 1 {
		t.Fatalf("remote message count = %d, want exactly 1", f.messageCount())
	}
	m, _ := db.GetMessage("m1")
	if m.Status != store.StatusSent {
		t.Errorf("status = %q after retry, want sent", m.Status)
	}
}

func TestPushTransientErrorLeavesQueued(t *testing.T) {
	f := &fakeRemote{}
	p, e, db := testPusher(t, f)

	convID, err := e.ResolveDirect(context.Background(), "medic-2")
	if err != nil {
		t.Fatal(err)
	}
	queueMessage(t, db, convID, "m1", "key-1", "Hello", 1000)

	f.mu.Lock()
	f.insertMessageErr = errOffline
	f.mu.Unlock()
	pushed, err := p.PushPending(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if pushed != 0 {
		t.Fatalf("pushed = %d during outage, want 0", pushed)
	}
	m, _ := db.GetMessage("m1")
	if m.Status != store.StatusQueued {
		t.Fatalf("status = %q during outage, want queued", m.Status)
	}

	f.mu.Lock()
	f.insertMessageErr = nil
	f.mu.Unlock()
	pushed, err = p.PushPending(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if pushed != 1 {
		t.Errorf("pushed = %d after recovery, want 1", pushed)
	}
}

func TestPushResolvesOfflineConversationFirst(t *testing.T) {
	f := &fakeRemote{failAll: true}
	p, e, db := testPusher(t, f)

	// Conversation and message both created while offline.
	convID, err := e.ResolveDirect(context.Background(), "medic-2")
	if err != nil {
		t.Fatal(err)
	}
	queueMessage(t, db, convID, "m1", "key-1", "Hello", 1000)

	pushed, err := p.PushPending(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if pushed != 0 {
		t.Fatalf("pushed = %d while offline, want 0", pushed)
	}

	f.mu.Lock()
	f.failAll = false
	f.mu.Unlock()
	pushed, err = p.PushPending(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if pushed != 1 {
		t.Fatalf("pushed = %d after reconnect, want 1", pushed)
	}
	conv, _ := db.GetConversation(convID)
	if conv.ServerID == "" {
		t.Error("conversation not linked before push")
	}
	if f.messageCount() != 1 {
		t.Errorf("remote message count = %d, want 1", f.messageCount())
	}
}

func TestPusherLoopDrainsOnBusEvent(t *testing.T) {
	f := &fakeRemote{}
	p, e, db := testPusher(t, f)

	convID, err := e.ResolveDirect(context.Background(), "medic-2")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	queueMessage(t, db, convID, "m1", "key-1", "Hello", 1000)
	p.bus.Publish(bus.Event{Kind: "message.created", Timestamp: time.Now()})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m, err := db.GetMessage("m1")
		if err != nil {
			t.Fatal(err)
		}
		if m.Status == store.StatusSent {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("message never left the queue")
}
