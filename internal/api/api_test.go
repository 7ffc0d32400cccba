package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/polaris-net/polaris-agent/internal/collector"
	"github.com/polaris-net/polaris-agent/internal/models"
	"github.com/polaris-net/polaris-agent/internal/sampler"
	"github.com/polaris-net/polaris-agent/internal/scheduler"
	"github.com/polaris-net/polaris-agent/internal/settings"
	"github.com/polaris-net/polaris-agent/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubSampler struct{}

func (stubSampler) Sample(ctx context.Context) (*models.NetworkMetric, error) {
	return models.NewNetworkMetric("LTE", -85), nil
}

var _ sampler.Sampler = stubSampler{}

type stubExecutor struct{ ran []int64 }

func (s *stubExecutor) Execute(ctx context.Context, task *models.Task) *models.TaskResult {
	s.ran = append(s.ran, task.ID)
	target := "stub"
	return &models.TaskResult{TaskID: task.ID, TimestampMs: time.Now().UnixMilli(),
		TaskType: task.Type, TargetHost: &target, ResultValue: "1.00 ms", Success: true}
}

func setupAPI(t *testing.T) (*httptest.Server, *storage.Storage, *stubExecutor) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := settings.NewStore(store.DB())
	exec := &stubExecutor{}
	loop := collector.NewLoop(stubSampler{}, store, cfg, testLogger())
	t.Cleanup(loop.Stop)
	sched := scheduler.New(store, exec, testLogger())

	s := NewServer("127.0.0.1:0", store, cfg, loop, sched, exec, nil, testLogger())
	srv := httptest.NewServer(s.routes())
	t.Cleanup(srv.Close)
	return srv, store, exec
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode from %s failed: %v", url, err)
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, body, out any) int {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode from %s failed: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestStatusEndpoint(t *testing.T) {
	srv, store, _ := setupAPI(t)

	m := models.NewNetworkMetric("LTE", -85)
	if err := store.InsertMetric(context.Background(), m); err != nil {
		t.Fatalf("InsertMetric failed: %v", err)
	}

	var status statusResponse
	if code := getJSON(t, srv.URL+"/api/status", &status); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if status.Collector.Status != collector.StatusStopped {
		t.Errorf("collector status = %s, want stopped", status.Collector.Status)
	}
	if status.MetricCount != 1 || status.UnsyncedMetrics != 1 {
		t.Errorf("counts = %d/%d, want 1/1", status.MetricCount, status.UnsyncedMetrics)
	}
	if status.Sync != nil {
		t.Error("sync status must be absent when the engine is disabled")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, store, _ := setupAPI(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m := &models.NetworkMetric{TimestampMs: int64(1000 + i),
			NetworkType: "LTE", SignalStrength: -80}
		if err := store.InsertMetric(ctx, m); err != nil {
			t.Fatalf("InsertMetric failed: %v", err)
		}
	}

	var metrics []metricView
	if code := getJSON(t, srv.URL+"/api/metrics?limit=2", &metrics); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if len(metrics) != 2 {
		t.Fatalf("page size = %d, want 2", len(metrics))
	}
	if metrics[0].TimestampMs != 1002 {
		t.Errorf("first metric timestamp = %d, want newest 1002", metrics[0].TimestampMs)
	}

	// Clear and verify empty list (not null).
	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/metrics", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}

	metrics = nil
	getJSON(t, srv.URL+"/api/metrics", &metrics)
	if metrics == nil || len(metrics) != 0 {
		t.Errorf("metrics after clear = %v, want empty array", metrics)
	}
}

func TestTaskCreateAndList(t *testing.T) {
	srv, _, _ := setupAPI(t)

	var created taskView
	code := postJSON(t, srv.URL+"/api/tasks", createTaskRequest{
		Name:           "My Ping",
		Type:           "PING",
		ParametersJSON: `{"host": "1.1.1.1"}`,
	}, &created)
	if code != http.StatusCreated {
		t.Fatalf("create status = %d", code)
	}
	if created.ID == 0 || created.ScheduleState != "manual" {
		t.Errorf("created = %+v", created)
	}

	var tasks []taskView
	if code := getJSON(t, srv.URL+"/api/tasks?filter=manual", &tasks); code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	if len(tasks) != 1 || tasks[0].Name != "My Ping" {
		t.Errorf("manual tasks = %+v", tasks)
	}
}

func TestTaskCreateRejectsBadParameters(t *testing.T) {
	srv, _, _ := setupAPI(t)

	code := postJSON(t, srv.URL+"/api/tasks", createTaskRequest{
		Name:           "broken",
		Type:           "PING",
		ParametersJSON: `{"count": 4}`,
	}, nil)
	if code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for missing host", code)
	}

	code = postJSON(t, srv.URL+"/api/tasks", createTaskRequest{
		Type:           "PING",
		ParametersJSON: `{"host": "a"}`,
	}, nil)
	if code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for missing name", code)
	}
}

func TestTaskRunPersistsResultWithoutCompleting(t *testing.T) {
	srv, store, exec := setupAPI(t)
	ctx := context.Background()

	due := time.Now().UnixMilli() - 1000
	task := &models.Task{Name: "one-shot", Type: models.TaskTypePing,
		ParametersJSON: `{"host": "a"}`, Enabled: true, ScheduledAtMs: &due}
	if err := store.InsertTask(ctx, task); err != nil {
		t.Fatalf("InsertTask failed: %v", err)
	}

	var result resultView
	code := postJSON(t, srv.URL+"/api/tasks/"+strconv.FormatInt(task.ID, 10)+"/run", nil, &result)
	if code != http.StatusOK {
		t.Fatalf("run status = %d", code)
	}
	if len(exec.ran) != 1 || exec.ran[0] != task.ID {
		t.Errorf("executor ran %v", exec.ran)
	}
	if !result.Success {
		t.Errorf("result = %+v", result)
	}

	// On-demand execution must not consume the one-shot.
	got, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Completed {
		t.Error("manual run marked the one-shot completed")
	}

	var results []resultView
	getJSON(t, srv.URL+"/api/tasks/"+strconv.FormatInt(task.ID, 10)+"/results", &results)
	if len(results) != 1 {
		t.Errorf("history length = %d, want 1", len(results))
	}
}

func TestTaskRunUnknownID(t *testing.T) {
	srv, _, _ := setupAPI(t)

	if code := postJSON(t, srv.URL+"/api/tasks/999/run", nil, nil); code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", code)
	}
	if code := getJSON(t, srv.URL+"/api/tasks/999/results", nil); code != http.StatusNotFound {
		t.Errorf("results status = %d, want 404", code)
	}
}

func TestCollectorStartStopEndpoints(t *testing.T) {
	srv, _, _ := setupAPI(t)

	var snap collector.Snapshot
	if code := postJSON(t, srv.URL+"/api/collector/start", nil, &snap); code != http.StatusOK {
		t.Fatalf("start status = %d", code)
	}
	if snap.Status != collector.StatusCollecting {
		t.Errorf("status after start = %s", snap.Status)
	}

	if code := postJSON(t, srv.URL+"/api/collector/stop", nil, &snap); code != http.StatusOK {
		t.Fatalf("stop status = %d", code)
	}
	if snap.Status != collector.StatusStopped {
		t.Errorf("status after stop = %s", snap.Status)
	}
}

func TestSyncNowWithoutEngine(t *testing.T) {
	srv, _, _ := setupAPI(t)

	if code := postJSON(t, srv.URL+"/api/sync", nil, nil); code != http.StatusConflict {
		t.Errorf("status = %d, want 409 when the server is disabled", code)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	srv, _, _ := setupAPI(t)

	var view settingsView
	if code := getJSON(t, srv.URL+"/api/settings", &view); code != http.StatusOK {
		t.Fatalf("get status = %d", code)
	}
	if view.SampleIntervalSeconds != 15 || !view.AutoSyncEnabled ||
		view.SyncIntervalMinutes != 60 || view.ThemePreference != "System" {
		t.Errorf("defaults = %+v", view)
	}

	interval := 30
	theme := "Dark"
	payload, _ := json.Marshal(settingsUpdate{
		SampleIntervalSeconds: &interval,
		ThemePreference:       &theme,
	})
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/settings",
		bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put status = %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if view.SampleIntervalSeconds != 30 || view.ThemePreference != "Dark" {
		t.Errorf("after update = %+v", view)
	}
	// Untouched fields keep their values.
	if view.SyncIntervalMinutes != 60 {
		t.Errorf("sync interval changed to %d", view.SyncIntervalMinutes)
	}
}

func TestTasksListUnknownFilter(t *testing.T) {
	srv, _, _ := setupAPI(t)

	if code := getJSON(t, srv.URL+"/api/tasks?filter=bogus", nil); code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
}
