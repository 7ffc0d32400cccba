// Package collector runs the user-toggled telemetry collection loop: one
// NetworkMetric sampled and persisted per tick while running.
package collector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/polaris-net/polaris-agent/internal/models"
	"github.com/polaris-net/polaris-agent/internal/sampler"
	"github.com/polaris-net/polaris-agent/internal/settings"
	"github.com/polaris-net/polaris-agent/internal/storage"
)

// Status describes the loop's lifecycle state.
type Status string

const (
	StatusStopped    Status = "stopped"
	StatusCollecting Status = "collecting"
)

// Snapshot is a read-only view of the loop's state for UI consumers. The
// loop owns the state; consumers only ever get copies.
type Snapshot struct {
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"startedAt,omitzero"`
	Samples   int64     `json:"samples"`
	LastError string    `json:"lastError,omitempty"`
}

// Loop samples the telemetry sampler on the settings-supplied cadence and
// persists one metric per tick. Tick failures are logged and never stop the
// loop; the next tick is always attempted.
type Loop struct {
	sampler  sampler.Sampler
	store    *storage.Storage
	settings *settings.Store
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	state  Snapshot
}

// NewLoop creates a stopped collector loop.
func NewLoop(s sampler.Sampler, store *storage.Storage, settings *settings.Store, logger *slog.Logger) *Loop {
	return &Loop{
		sampler:  s,
		store:    store,
		settings: settings,
		logger:   logger,
		state:    Snapshot{Status: StatusStopped},
	}
}

// Start launches the loop. A second Start while running is a no-op.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.logger.Debug("collector already running")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.state = Snapshot{Status: StatusCollecting, StartedAt: time.Now()}

	go l.run(runCtx, l.done)
	l.logger.Info("collector started")
}

// Stop cancels the loop's wait promptly. A write already in flight
// completes or fails on its own; Stop does not wait for it.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.cancel == nil {
		l.mu.Unlock()
		return
	}
	cancel, done := l.cancel, l.done
	l.cancel = nil
	l.mu.Unlock()

	cancel()
	<-done

	l.mu.Lock()
	l.state.Status = StatusStopped
	l.mu.Unlock()
	l.logger.Info("collector stopped")
}

// Snapshot returns a copy of the current state.
func (l *Loop) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	// First sample immediately, then tick. The interval is re-read from
	// settings every tick so changes apply without a restart.
	l.tick(ctx)

	timer := time.NewTimer(l.settings.SampleInterval(ctx))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			l.tick(ctx)
			timer.Reset(l.settings.SampleInterval(ctx))
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	metric, err := l.sampler.Sample(ctx)
	if err != nil {
		l.recordError("sample failed", err)
		return
	}
	if metric == nil {
		metric = models.NewNetworkMetric("UNKNOWN", models.SignalStrengthUnknown)
	}

	if err := l.store.InsertMetric(ctx, metric); err != nil {
		l.recordError("metric insert failed", err)
		return
	}

	l.mu.Lock()
	l.state.Samples++
	l.state.LastError = ""
	l.mu.Unlock()

	l.logger.Debug("metric collected",
		"network_type", metric.NetworkType,
		"signal", metric.SignalStrength)
}

func (l *Loop) recordError(msg string, err error) {
	if err == context.Canceled || err == context.DeadlineExceeded {
		return
	}
	l.logger.Error(msg, "error", err)
	l.mu.Lock()
	l.state.LastError = err.Error()
	l.mu.Unlock()
}
