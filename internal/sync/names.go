package sync

import (
	"context"
	"encoding/json"

	"github.com/lfmartins/fieldsync/internal/config"
	"github.com/lfmartins/fieldsync/internal/remote"
	"go.uber.org/zap"
)

const profileCacheKey = "profile_names"

// nameResolver maps user ids to display names under the session's visibility
// rules: a privileged user sees everyone's real name, everyone else sees the
// fixed label for privileged users.
type nameResolver struct {
	privileged bool
	label      string
	names      map[string]string
	roles      map[string]string
}

type profileCache struct {
	Names map[string]string `json:"names"`
	Roles map[string]string `json:"roles"`
}

// fetchNames loads the profile directory from the remote and refreshes the
// sync_state cache that cachedNames serves offline callers from.
func (e *Engine) fetchNames(ctx context.Context) (*nameResolver, error) {
	r := &nameResolver{
		privileged: e.cfg.Privileged(),
		label:      e.cfg.Identity.PrivilegedLabel,
	}
	profiles, err := e.remote.Profiles(ctx, e.cfg.Identity.OrgID)
	if err != nil {
		return nil, err
	}
	r.names = make(map[string]string, len(profiles))
	r.roles = make(map[string]string, len(profiles))
	for _, p := range profiles {
		r.names[p.ID] = p.FullName
		r.roles[p.ID] = p.Role
	}
	e.cacheNames(r)
	return r, nil
}

// cachedNames rebuilds a resolver from the sync_state copy without touching
// the network. A missing or malformed cache yields empty maps, never an error.
func (e *Engine) cachedNames() *nameResolver {
	r := &nameResolver{
		privileged: e.cfg.Privileged(),
		label:      e.cfg.Identity.PrivilegedLabel,
		names:      map[string]string{},
		roles:      map[string]string{},
	}
	raw, err := e.db.GetSyncState(profileCacheKey)
	if err != nil || raw == "" {
		return r
	}
	var cache profileCache
	if err := json.Unmarshal([]byte(raw), &cache); err != nil {
		e.logger.Warn("discarding malformed profile cache", zap.Error(err))
		return r
	}
	if cache.Names != nil {
		r.names = cache.Names
	}
	if cache.Roles != nil {
		r.roles = cache.Roles
	}
	return r
}

func (e *Engine) cacheNames(r *nameResolver) {
	raw, err := json.Marshal(profileCache{Names: r.names, Roles: r.roles})
	if err != nil {
		return
	}
	if err := e.db.SetSyncState(profileCacheKey, string(raw)); err != nil {
		e.logger.Warn("persist profile cache", zap.Error(err))
	}
}

// SelfName resolves the session user's own display name from the cached
// profile directory, falling back to the user id before the first pull.
func (e *Engine) SelfName() string {
	return e.cachedNames().userName(e.cfg.Identity.UserID)
}

// userName resolves a sender's display name.
func (r *nameResolver) userName(userID string) string {
	if !r.privileged && r.roles[userID] == "coordinator" {
		return r.label
	}
	if name := r.names[userID]; name != "" {
		return name
	}
	return userID
}

// conversationName resolves the list title for a conversation.
func (r *nameResolver) conversationName(row *remote.ConversationRow, cfg *config.SessionConfig) string {
	if row.Type == "broadcast" {
		if row.Subject != "" {
			return row.Subject
		}
		return "Broadcast"
	}
	if cfg.Privileged() {
		return r.realName(row.CounterpartyID)
	}
	return r.label
}

func (r *nameResolver) realName(userID string) string {
	if name := r.names[userID]; name != "" {
		return name
	}
	return userID
}
