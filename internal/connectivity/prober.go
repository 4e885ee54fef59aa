package connectivity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultProbeInterval is used when no interval is configured.
const DefaultProbeInterval = 10 * time.Second

// Pinger checks reachability of the remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober periodically pings the remote service and feeds the result into a
// Monitor.
type Prober struct {
	pinger   Pinger
	monitor  *Monitor
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewProber creates a prober. A non-positive interval uses
// DefaultProbeInterval.
func NewProber(pinger Pinger, monitor *Monitor, interval time.Duration, logger *zap.Logger) *Prober {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		pinger:   pinger,
		monitor:  monitor,
		interval: interval,
		logger:   logger,
	}
}

// Probe pings once and updates the monitor. Each ping is bounded by the
// probe interval.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	err := p.pinger.Ping(ctx)
	online := err == nil
	if err != nil {
		p.logger.Debug("probe failed", zap.Error(err))
	}
	p.monitor.Set(online)
	return online
}

// Start probes immediately and then on every interval until Stop.
func (p *Prober) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
}

func (p *Prober) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}

// Stop halts probing and waits for the loop to exit.
func (p *Prober) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
