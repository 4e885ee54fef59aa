package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Defaults for the background loop.
const (
	DefaultInterval   = 30 * time.Second
	DefaultMaxBackoff = 5 * time.Minute
)

// DrainAll drains every scope holding cached messages. It returns the total
// number of uploads acknowledged and failed.
func (d *Drainer) DrainAll(ctx context.Context) (uploaded, failed int) {
	if !d.net.IsOnline() {
		return 0, 0
	}
	for _, k := range d.cache.Scopes(ctx) {
		if ctx.Err() != nil {
			break
		}
		u, f := d.drain(ctx, k.Conversation, k.User)
		uploaded += u
		failed += f
	}
	return uploaded, failed
}

// Kick asks the background loop to run a round now. It never blocks.
func (d *Drainer) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Start runs DrainAll every interval until Stop. Rounds with failures back
// off exponentially up to maxBackoff. Non-positive values use the defaults.
func (d *Drainer) Start(ctx context.Context, interval, maxBackoff time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxBackoff <= 0 {
		maxBackoff = DefaultMaxBackoff
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	go d.loop(ctx, d.done, Backoff{Initial: interval, Multiplier: 2, Max: maxBackoff})
}

// Stop halts the background loop and waits for the current round.
func (d *Drainer) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	d.Wait()
}

func (d *Drainer) loop(ctx context.Context, done chan struct{}, backoff Backoff) {
	defer close(done)

	failures := 0
	timer := time.NewTimer(backoff.Initial)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-d.kick:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		uploaded, failed := d.DrainAll(ctx)
		if failed > 0 {
			failures++
		} else {
			failures = 0
		}
		if uploaded > 0 || failed > 0 {
			d.logger.Info("outbox round",
				zap.Int("uploaded", uploaded),
				zap.Int("failed", failed),
			)
		}
		timer.Reset(backoff.Next(failures))
	}
}
