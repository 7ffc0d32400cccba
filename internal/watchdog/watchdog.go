// Package watchdog keeps systemd informed that the agent is alive. On hosts
// without a systemd watchdog it degrades to a no-op.
package watchdog

import (
	"context"
	"log/slog"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Pinger sends keepalive notifications at half the configured watchdog
// timeout, plus the ready/stopping lifecycle notifications.
type Pinger struct {
	enabled  bool
	interval time.Duration
	logger   *slog.Logger
}

// NewPinger detects the systemd watchdog. When WatchdogSec is unset or the
// process is not under systemd, the pinger stays disabled.
func NewPinger(logger *slog.Logger) *Pinger {
	timeout, err := daemon.SdWatchdogEnabled(false)
	if err != nil || timeout == 0 {
		logger.Info("systemd watchdog not enabled")
		return &Pinger{logger: logger}
	}

	interval := timeout / 2
	logger.Info("systemd watchdog enabled",
		"timeout", timeout, "ping_interval", interval)
	return &Pinger{enabled: true, interval: interval, logger: logger}
}

// Run pings until the context is cancelled, then sends the stopping
// notification. Returns immediately when the watchdog is disabled.
func (p *Pinger) Run(ctx context.Context) {
	if !p.enabled {
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
			return
		case <-ticker.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				p.logger.Error("watchdog ping failed", "error", err)
			}
		}
	}
}

// NotifyReady tells systemd initialization is complete. Call once, after
// every component has started.
func (p *Pinger) NotifyReady() {
	if !p.enabled {
		return
	}
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		p.logger.Error("ready notification failed", "error", err)
	}
}

// Enabled reports whether a systemd watchdog was detected.
func (p *Pinger) Enabled() bool { return p.enabled }
