package collector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/polaris-net/polaris-agent/internal/models"
	"github.com/polaris-net/polaris-agent/internal/settings"
	"github.com/polaris-net/polaris-agent/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSampler struct {
	calls atomic.Int64
	err   error
}

func (f *fakeSampler) Sample(ctx context.Context) (*models.NetworkMetric, error) {
	n := f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &models.NetworkMetric{
		TimestampMs:    time.Now().UnixMilli() + n, // distinct rows per tick
		NetworkType:    "LTE",
		SignalStrength: -85,
	}, nil
}

func setupLoop(t *testing.T, s *fakeSampler) (*Loop, *storage.Storage) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := settings.NewStore(store.DB())
	return NewLoop(s, store, cfg, testLogger()), store
}

func TestStartSamplesImmediately(t *testing.T) {
	sampler := &fakeSampler{}
	loop, store := setupLoop(t, sampler)

	loop.Start(context.Background())
	defer loop.Stop()

	deadline := time.After(2 * time.Second)
	for sampler.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("no sample within 2s of Start")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// The first tick's metric must be persisted.
	var count int64
	deadline = time.After(2 * time.Second)
	for count == 0 {
		select {
		case <-deadline:
			t.Fatal("no metric persisted within 2s")
		case <-time.After(10 * time.Millisecond):
		}
		var err error
		count, err = store.MetricCount(context.Background())
		if err != nil {
			t.Fatalf("MetricCount failed: %v", err)
		}
	}

	snap := loop.Snapshot()
	if snap.Status != StatusCollecting {
		t.Errorf("status = %s, want collecting", snap.Status)
	}
	if snap.Samples == 0 {
		t.Error("snapshot sample count not incremented")
	}
}

func TestStartIsIdempotent(t *testing.T) {
	sampler := &fakeSampler{}
	loop, _ := setupLoop(t, sampler)

	loop.Start(context.Background())
	loop.Start(context.Background())
	defer loop.Stop()

	// Give the single loop a moment; a second loop would double the rate.
	time.Sleep(50 * time.Millisecond)
	if got := sampler.calls.Load(); got != 1 {
		t.Errorf("sample calls = %d, want 1 (one immediate tick, 15s interval)", got)
	}
}

func TestStopHaltsLoop(t *testing.T) {
	sampler := &fakeSampler{}
	loop, _ := setupLoop(t, sampler)

	loop.Start(context.Background())
	loop.Stop()

	if got := loop.Snapshot().Status; got != StatusStopped {
		t.Errorf("status after stop = %s, want stopped", got)
	}

	calls := sampler.calls.Load()
	time.Sleep(50 * time.Millisecond)
	if sampler.calls.Load() != calls {
		t.Error("sampler still running after Stop")
	}

	// Stop on a stopped loop is a no-op.
	loop.Stop()
}

func TestSampleFailureKeepsLoopAlive(t *testing.T) {
	sampler := &fakeSampler{err: errors.New("modem unreachable")}
	loop, store := setupLoop(t, sampler)

	loop.Start(context.Background())
	defer loop.Stop()

	deadline := time.After(2 * time.Second)
	for sampler.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("sampler never called")
		case <-time.After(10 * time.Millisecond):
		}
	}

	snap := loop.Snapshot()
	if snap.Status != StatusCollecting {
		t.Errorf("status = %s, want still collecting after a failed tick", snap.Status)
	}
	if snap.LastError == "" {
		t.Error("failed tick not recorded in snapshot")
	}

	count, err := store.MetricCount(context.Background())
	if err != nil {
		t.Fatalf("MetricCount failed: %v", err)
	}
	if count != 0 {
		t.Errorf("metric count = %d, want 0 when sampling fails", count)
	}
}

func TestRestartAfterStop(t *testing.T) {
	sampler := &fakeSampler{}
	loop, _ := setupLoop(t, sampler)

	loop.Start(context.Background())
	loop.Stop()

	loop.Start(context.Background())
	defer loop.Stop()

	if got := loop.Snapshot().Status; got != StatusCollecting {
		t.Errorf("status after restart = %s, want collecting", got)
	}
}
