package api

import (
	"context"

	"github.com/lfmartins/fieldsync/internal/bus"
	"github.com/lfmartins/fieldsync/internal/status"
	"github.com/lfmartins/fieldsync/internal/store"
	"github.com/lfmartins/fieldsync/internal/sync"
)

// SyncService exposes sync control and observability to the embedding app.
type SyncService struct {
	db      *store.DB
	engine  *sync.Engine
	machine *status.Machine
	bus     *bus.Bus
}

// NewSyncService creates a sync service.
func NewSyncService(db *store.DB, engine *sync.Engine, machine *status.Machine, b *bus.Bus) *SyncService {
	return &SyncService{db: db, engine: engine, machine: machine, bus: b}
}

// Pull runs a pull cycle now, e.g. for pull-to-refresh. A pull already in
// flight makes this a no-op with a zero result.
func (s *SyncService) Pull(ctx context.Context) (sync.Result, error) {
	return s.engine.Pull(ctx)
}

// Status is a point-in-time snapshot of the sync machinery.
type Status struct {
	Realtime     status.State
	LastSyncedAt int64
	Queued       int
}

// Status reports the realtime channel state, the pull watermark and the
// outbox depth.
func (s *SyncService) Status() (Status, error) {
	wm, err := s.db.GetWatermark()
	if err != nil {
		return Status{}, err
	}
	queued, err := s.db.QueuedMessages()
	if err != nil {
		return Status{}, err
	}
	return Status{
		Realtime:     s.machine.Current(),
		LastSyncedAt: wm,
		Queued:       len(queued),
	}, nil
}

// Watch subscribes to domain events under the given namespace prefix. The
// returned cancel func must be called to release the subscription.
func (s *SyncService) Watch(namespace string, bufSize int) (<-chan bus.Event, func()) {
	return s.bus.Subscribe(namespace, bufSize)
}
