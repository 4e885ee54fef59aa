package sync

import (
	"context"
	gosync "sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Drainer replays pending uploads of a scope.
type Drainer interface {
	Drain(ctx context.Context, conv, user string) int
}

// Subscriber delivers connectivity transitions.
type Subscriber interface {
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// Engine re-syncs watched scopes whenever connectivity comes back.
type Engine struct {
	reconciler *Reconciler
	drainer    Drainer
	net        Subscriber
	logger     *zap.Logger

	wg gosync.WaitGroup
}

// NewEngine creates a new sync engine.
func NewEngine(r *Reconciler, d Drainer, net Subscriber, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		reconciler: r,
		drainer:    d,
		net:        net,
		logger:     logger,
	}
}

// Sync runs a one-off reconciliation.
func (e *Engine) Sync(ctx context.Context, conv, user string, windowLimit int) Result {
	return e.reconciler.Sync(ctx, conv, user, windowLimit)
}

// Watch drains and re-syncs the scope on every online transition, passing
// each Result to onResult. The returned stop func is idempotent; once it
// returns no further results are delivered. It waits for a delivery in
// progress, so onResult must not block on the goroutine calling stop.
func (e *Engine) Watch(ctx context.Context, conv, user string, windowLimit int, onResult func(Result)) (stop func()) {
	var (
		stopped atomic.Bool
		deliver gosync.Mutex
	)
	log := e.logger.With(zap.String("conversation", conv), zap.String("user", user))

	unsub := e.net.Subscribe(func(online bool) {
		if !online || stopped.Load() || ctx.Err() != nil {
			return
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if e.drainer != nil {
				if n := e.drainer.Drain(ctx, conv, user); n > 0 {
					log.Info("drained pending messages on reconnect", zap.Int("uploaded", n))
				}
			}
			res := e.reconciler.Sync(ctx, conv, user, windowLimit)
			if onResult == nil {
				return
			}
			deliver.Lock()
			defer deliver.Unlock()
			if stopped.Load() {
				return
			}
			onResult(res)
		}()
	})

	var once gosync.Once
	return func() {
		once.Do(func() {
			deliver.Lock()
			stopped.Store(true)
			deliver.Unlock()
			unsub()
		})
	}
}

// Clear drops a scope's cached messages, waiting for any sync or drain of
// that scope to finish first.
func (e *Engine) Clear(ctx context.Context, conv, user string) error {
	return e.reconciler.Clear(ctx, conv, user)
}

// Wait blocks until every reconnect run started by Watch has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}
