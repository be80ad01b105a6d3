package sync

import (
	"context"
	"fmt"
	"sort"
	gosync "sync"

	"github.com/google/uuid"
	"github.com/lfmartins/fieldsync/internal/remote"
)

// fakeRemote is an in-memory remote.Store for engine and pusher tests.
type fakeRemote struct {
	mu            gosync.Mutex
	conversations []remote.ConversationRow
	messages      []remote.MessageRow
	profiles      []remote.Profile
	readStatuses  []remote.ReadStatusRow

	// failAll makes every call fail, simulating a network outage.
	failAll bool
	// insertMessageErr fails only InsertMessage.
	insertMessageErr error
	// blockConversations, when set, stalls ConversationsSince until closed;
	// entered is closed once the stalled call is reached.
	blockConversations chan struct{}
	entered            chan struct{}
	// hideDirectUntilConflict makes FindDirectConversation miss until an
	// InsertConversation attempt conflicts, simulating a creation race lost
	// after the initial lookup.
	hideDirectUntilConflict bool

	insertMessageCalls int
	insertConvCalls    int
}

var errOffline = fmt.Errorf("dial tcp: connection refused")

func (f *fakeRemote) err() error {
	if f.failAll {
		return errOffline
	}
	return nil
}

func (f *fakeRemote) ConversationsSince(_ context.Context, orgID string, updatedAfter int64, limit int) ([]remote.ConversationRow, error) {
	if f.blockConversations != nil {
		if f.entered != nil {
			close(f.entered)
			f.entered = nil
		}
		<-f.blockConversations
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err(); err != nil {
		return nil, err
	}
	var out []remote.ConversationRow
	for _, c := range f.conversations {
		if c.OrgID == orgID && c.UpdatedAt > updatedAfter {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRemote) MessagesSince(_ context.Context, orgID string, updatedAfter int64, limit int) ([]remote.MessageRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err(); err != nil {
		return nil, err
	}
	var out []remote.MessageRow
	for _, m := range f.messages {
		if m.OrgID == orgID && m.UpdatedAt > updatedAfter {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt < out[j].UpdatedAt })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRemote) RecentMessages(_ context.Context, orgID, conversationID string, limit int) ([]remote.MessageRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err(); err != nil {
		return nil, err
	}
	var out []remote.MessageRow
	for _, m := range f.messages {
		if m.OrgID == orgID && m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeRemote) Profiles(_ context.Context, orgID string) ([]remote.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err(); err != nil {
		return nil, err
	}
	return append([]remote.Profile(nil), f.profiles...), nil
}

func (f *fakeRemote) ReadStatuses(_ context.Context, orgID, userID string) ([]remote.ReadStatusRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err(); err != nil {
		return nil, err
	}
	var out []remote.ReadStatusRow
	for _, r := range f.readStatuses {
		if r.OrgID == orgID && r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRemote) FindDirectConversation(_ context.Context, orgID, counterpartyID string) (*remote.ConversationRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err(); err != nil {
		return nil, err
	}
	if f.hideDirectUntilConflict {
		return nil, nil
	}
	for i := range f.conversations {
		c := &f.conversations[i]
		if c.OrgID == orgID && c.Type == "direct" && c.CounterpartyID == counterpartyID {
			row := *c
			return &row, nil
		}
	}
	return nil, nil
}

func (f *fakeRemote) InsertConversation(_ context.Context, ins remote.ConversationInsert) (*remote.ConversationRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertConvCalls++
	if err := f.err(); err != nil {
		return nil, err
	}
	if ins.Type == "direct" {
		for _, c := range f.conversations {
			if c.OrgID == ins.OrgID && c.Type == "direct" && c.CounterpartyID == ins.CounterpartyID {
				f.hideDirectUntilConflict = false
				return nil, remote.ErrConflict
			}
		}
	}
	row := remote.ConversationRow{
		ID:             uuid.NewString(),
		OrgID:          ins.OrgID,
		Type:           ins.Type,
		Subject:        ins.Subject,
		CounterpartyID: ins.CounterpartyID,
		CreatedBy:      ins.CreatedBy,
		CreatedAt:      1,
		UpdatedAt:      1,
	}
	f.conversations = append(f.conversations, row)
	return &row, nil
}

func (f *fakeRemote) InsertMessage(_ context.Context, ins remote.MessageInsert) (*remote.MessageRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertMessageCalls++
	if err := f.err(); err != nil {
		return nil, err
	}
	if f.insertMessageErr != nil {
		return nil, f.insertMessageErr
	}
	for _, m := range f.messages {
		if m.ID == ins.ID {
			return nil, remote.ErrConflict
		}
	}
	row := remote.MessageRow{
		ID:             ins.ID,
		ConversationID: ins.ConversationID,
		OrgID:          ins.OrgID,
		SenderID:       ins.SenderID,
		MessageType:    ins.MessageType,
		Content:        ins.Content,
		Status:         ins.Status,
		CreatedAt:      ins.CreatedAt,
		UpdatedAt:      ins.CreatedAt,
	}
	f.messages = append(f.messages, row)
	return &row, nil
}

func (f *fakeRemote) UpdateConversationMeta(_ context.Context, conversationID string, lastMessageAt int64, preview string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err(); err != nil {
		return err
	}
	for i := range f.conversations {
		if f.conversations[i].ID == conversationID {
			f.conversations[i].LastMessageAt = lastMessageAt
			f.conversations[i].LastMessagePreview = preview
			f.conversations[i].UpdatedAt = lastMessageAt
		}
	}
	return nil
}

func (f *fakeRemote) UpsertReadStatus(_ context.Context, row remote.ReadStatusRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err(); err != nil {
		return err
	}
	for i := range f.readStatuses {
		r := &f.readStatuses[i]
		if r.UserID == row.UserID && r.ConversationID == row.ConversationID {
			if row.LastReadAt > r.LastReadAt {
				r.LastReadAt = row.LastReadAt
			}
			return nil
		}
	}
	f.readStatuses = append(f.readStatuses, row)
	return nil
}

func (f *fakeRemote) messageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

var _ remote.Store = (*fakeRemote)(nil)
