package daemon

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/connectivity"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/profile"
	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/scope"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	chatsync "github.com/matheus3301/chatsync/internal/sync"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string // optional override for testing; empty = use default
	Config     *config.Config
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	if p.Config == nil {
		p.Config = config.Default()
	}
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideCache,
			provideScopeLocks,
			provideRemote,
			provideMonitor,
			provideProber,
			provideReconciler,
			provideDrainer,
			provideEngine,
			provideService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile, p.Config.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(lc fx.Lifecycle, p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	lc.Append(fx.StopHook(func() {
		if err := l.Release(); err != nil {
			logger.Warn("error releasing lock", zap.Error(err))
		}
	}))
	return l, nil
}

// provideStore opens the configured backend. It takes the lock so the
// database is never opened by a second daemon.
func provideStore(lc fx.Lifecycle, p Params, _ *lock.Lock, logger *zap.Logger) (store.KV, error) {
	cfg := p.Config.Store
	switch cfg.Backend {
	case config.BackendMemory:
		logger.Info("store initialized", zap.String("backend", cfg.Backend))
		return store.NewMemory(), nil

	case config.BackendRedis:
		r, err := store.OpenRedis(context.Background(), cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.StopHook(r.Close))
		logger.Info("store initialized", zap.String("backend", cfg.Backend), zap.String("addr", cfg.RedisAddr))
		return r, nil

	case config.BackendSQLite, "":
		dbPath := profile.DBPath(p.Profile)
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
		lc.Append(fx.StopHook(db.Close))
		logger.Info("store initialized", zap.String("backend", config.BackendSQLite), zap.String("path", dbPath))
		return db, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

func provideCache(kv store.KV, logger *zap.Logger) *cache.Manager {
	return cache.NewManager(kv, logger)
}

func provideScopeLocks() *scope.Locks {
	return scope.NewLocks()
}

func provideRemote(p Params, logger *zap.Logger) *remote.Client {
	rc := p.Config.Remote
	return remote.NewClient(rc.BaseURL, rc.Token, rc.Timeout.Duration, logger)
}

// The daemon assumes it is offline until the first probe succeeds.
func provideMonitor(b *bus.Bus, logger *zap.Logger) *connectivity.Monitor {
	return connectivity.NewMonitor(false, b, logger)
}

func provideProber(p Params, client *remote.Client, m *connectivity.Monitor, logger *zap.Logger) *connectivity.Prober {
	return connectivity.NewProber(client, m, p.Config.Probe.Interval.Duration, logger)
}

func provideReconciler(c *cache.Manager, client *remote.Client, m *connectivity.Monitor, locks *scope.Locks, b *bus.Bus, logger *zap.Logger) *chatsync.Reconciler {
	return chatsync.NewReconciler(c, client, m, locks, b, logger)
}

func provideDrainer(c *cache.Manager, client *remote.Client, m *connectivity.Monitor, locks *scope.Locks, b *bus.Bus, logger *zap.Logger) *outbox.Drainer {
	return outbox.NewDrainer(c, client, m, locks, b, logger)
}

func provideEngine(r *chatsync.Reconciler, d *outbox.Drainer, m *connectivity.Monitor, logger *zap.Logger) *chatsync.Engine {
	return chatsync.NewEngine(r, d, m, logger)
}

func provideService(p Params, c *cache.Manager, e *chatsync.Engine, d *outbox.Drainer, m *connectivity.Monitor, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *api.Service {
	return api.NewService(api.Options{
		Profile:     p.Profile,
		UserID:      p.Config.UserID,
		WindowLimit: p.Config.WindowLimit,
	}, c, e, d, m, machine, b, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	p Params,
	srv *Server,
	prober *connectivity.Prober,
	monitor *connectivity.Monitor,
	drainer *outbox.Drainer,
	engine *chatsync.Engine,
	machine *status.Machine,
	b *bus.Bus,
	logger *zap.Logger,
) {
	runCtx, cancel := context.WithCancel(context.Background())
	var unsubscribe func()

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			_ = machine.Transition(status.Offline)

			// Auth failures and recoveries arrive over the bus.
			go machine.Follow(runCtx, b)

			// Connectivity edges are applied synchronously so no transition
			// is missed before Follow subscribes.
			unsubscribe = monitor.Subscribe(func(online bool) {
				if online {
					_ = machine.Transition(status.Online)
					drainer.Kick()
				} else {
					_ = machine.Transition(status.Offline)
				}
			})

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			prober.Start(runCtx)
			drainer.Start(runCtx, p.Config.Outbox.Interval.Duration, p.Config.Outbox.MaxBackoff.Duration)
			logger.Info("daemon started",
				zap.String("remote", p.Config.Remote.BaseURL),
				zap.String("store", p.Config.Store.Backend),
			)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			prober.Stop()
			drainer.Stop()
			if unsubscribe != nil {
				unsubscribe()
			}
			engine.Wait()
			cancel()
			logger.Info("daemon stopped")
			return nil
		},
	})
}
