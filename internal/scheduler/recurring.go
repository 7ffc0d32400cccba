package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Policy controls what Register does when a job name is already registered.
type Policy int

const (
	// KeepExisting leaves the current registration in place.
	KeepExisting Policy = iota
	// ReplaceExisting cancels the current registration and installs the new one.
	ReplaceExisting
)

// Recurring manages named constant-interval background jobs on a shared cron
// runner. Names make registrations idempotent across restarts of the
// components that own them.
type Recurring struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

func NewRecurring(logger *slog.Logger) *Recurring {
	return &Recurring{
		cron:    cron.New(),
		logger:  logger,
		entries: make(map[string]cron.EntryID),
	}
}

// Register schedules job to run every interval. With KeepExisting a second
// registration under the same name is a no-op; with ReplaceExisting it
// supersedes the first.
func (r *Recurring) Register(name string, every time.Duration, policy Policy, job func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.entries[name]; ok {
		if policy == KeepExisting {
			r.logger.Debug("recurring job already registered", "job", name)
			return
		}
		r.cron.Remove(id)
	}

	r.entries[name] = r.cron.Schedule(cron.Every(every), cron.FuncJob(job))
	r.logger.Info("recurring job registered", "job", name, "interval", every.String())
}

// Cancel removes a named job. Unknown names are a no-op.
func (r *Recurring) Cancel(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.entries[name]
	if !ok {
		return
	}
	r.cron.Remove(id)
	delete(r.entries, name)
	r.logger.Info("recurring job cancelled", "job", name)
}

// Registered reports whether a job name currently has a registration.
func (r *Recurring) Registered(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[name]
	return ok
}

// Start begins running registered jobs in the background.
func (r *Recurring) Start() { r.cron.Start() }

// Stop halts scheduling and waits for running jobs to finish.
func (r *Recurring) Stop() {
	<-r.cron.Stop().Done()
}
