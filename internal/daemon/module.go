// Package daemon composes the sync engine, pusher, realtime overlay and the
// service surface into one fx application per session.
package daemon

import (
	"context"
	"time"

	"github.com/lfmartins/fieldsync/internal/api"
	"github.com/lfmartins/fieldsync/internal/bus"
	"github.com/lfmartins/fieldsync/internal/config"
	"github.com/lfmartins/fieldsync/internal/lock"
	"github.com/lfmartins/fieldsync/internal/logging"
	"github.com/lfmartins/fieldsync/internal/notify"
	"github.com/lfmartins/fieldsync/internal/realtime"
	"github.com/lfmartins/fieldsync/internal/remote"
	"github.com/lfmartins/fieldsync/internal/session"
	"github.com/lfmartins/fieldsync/internal/status"
	"github.com/lfmartins/fieldsync/internal/store"
	intsync "github.com/lfmartins/fieldsync/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideSessionConfig,
			provideStore,
			provideRemote,
			provideSerializer,
			provideSink,
			provideEngine,
			providePusher,
			provideOverlay,
			provideMessageService,
			provideConversationService,
			provideSyncService,
			provideApp,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideSessionConfig(p Params) (*config.SessionConfig, error) {
	return config.LoadSession(session.SessionConfigPath(p.SessionName))
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRemote(cfg *config.SessionConfig, logger *zap.Logger) remote.Store {
	return remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.APIKey, logger)
}

func provideSerializer() *intsync.Serializer {
	return intsync.NewSerializer()
}

func provideSink(b *bus.Bus) notify.Sink {
	return notify.NewBusSink(b)
}

func provideEngine(db *store.DB, rs remote.Store, b *bus.Bus, cfg *config.SessionConfig, sink notify.Sink, ser *intsync.Serializer, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, rs, b, cfg, sink, ser, logger)
}

func providePusher(db *store.DB, rs remote.Store, engine *intsync.Engine, b *bus.Bus, ser *intsync.Serializer, cfg *config.SessionConfig, logger *zap.Logger) *intsync.Pusher {
	tick := time.Duration(cfg.Sync.PushTickMillis) * time.Millisecond
	return intsync.NewPusher(db, rs, engine, b, ser, tick, logger)
}

func provideOverlay(cfg *config.SessionConfig, engine *intsync.Engine, machine *status.Machine, logger *zap.Logger) (*realtime.Overlay, error) {
	if !cfg.Realtime.Enabled {
		return nil, nil
	}
	onConnect := func() {
		if _, err := engine.Pull(context.Background()); err != nil {
			logger.Warn("pull on reconnect", zap.Error(err))
		}
	}
	return realtime.NewOverlay(cfg.Remote.BaseURL, cfg.Remote.APIKey,
		cfg.Identity.OrgID, cfg.Identity.UserID, engine, machine, onConnect, logger)
}

func provideMessageService(db *store.DB, cfg *config.SessionConfig, b *bus.Bus, ser *intsync.Serializer, engine *intsync.Engine, logger *zap.Logger) *api.MessageService {
	return api.NewMessageService(db, cfg, b, ser, engine, logger)
}

func provideConversationService(db *store.DB, rs remote.Store, engine *intsync.Engine, cfg *config.SessionConfig, ser *intsync.Serializer, b *bus.Bus, logger *zap.Logger) *api.ConversationService {
	return api.NewConversationService(db, rs, engine, cfg, ser, b, logger)
}

func provideSyncService(db *store.DB, engine *intsync.Engine, machine *status.Machine, b *bus.Bus) *api.SyncService {
	return api.NewSyncService(db, engine, machine, b)
}

// App aggregates the service surface the embedding application consumes,
// typically extracted with fx.Populate.
type App struct {
	Messages      *api.MessageService
	Conversations *api.ConversationService
	Sync          *api.SyncService
}

func provideApp(msgs *api.MessageService, convs *api.ConversationService, syncs *api.SyncService) *App {
	return &App{Messages: msgs, Conversations: convs, Sync: syncs}
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, cfg *config.SessionConfig, app *App, engine *intsync.Engine, pusher *intsync.Pusher, overlay *realtime.Overlay, logger *zap.Logger) {
	runCtx, cancel := context.WithCancel(context.Background())
	var pullDone chan struct{}

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Initial pull in the background so startup is not gated on the
			// network; the UI reads whatever is already local.
			go func() {
				if _, err := engine.Pull(runCtx); err != nil {
					logger.Warn("initial pull", zap.Error(err))
				}
			}()

			pusher.Start(runCtx)

			if overlay != nil {
				overlay.Start(runCtx)
			}

			// Periodic pull as the safety net under the realtime overlay.
			pullDone = make(chan struct{})
			interval := time.Duration(cfg.Sync.PullIntervalSeconds) * time.Second
			go func() {
				defer close(pullDone)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-runCtx.Done():
						return
					case <-ticker.C:
						if _, err := engine.Pull(runCtx); err != nil {
							logger.Warn("periodic pull", zap.Error(err))
						}
					}
				}
			}()

			if st, err := app.Sync.Status(); err == nil {
				logger.Info("daemon started",
					zap.Int("outbox_depth", st.Queued),
					zap.Int64("last_synced_at", st.LastSyncedAt))
			} else {
				logger.Info("daemon started")
			}
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			if overlay != nil {
				overlay.Stop()
			}
			pusher.Stop()
			if pullDone != nil {
				<-pullDone
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
