package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/polaris-net/polaris-agent/internal/collector"
	"github.com/polaris-net/polaris-agent/internal/models"
	"github.com/polaris-net/polaris-agent/internal/storage"
	syncpkg "github.com/polaris-net/polaris-agent/internal/sync"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

type statusResponse struct {
	Collector       collector.Snapshot `json:"collector"`
	Sync            *syncpkg.Status    `json:"sync,omitempty"`
	MetricCount     int64              `json:"metricCount"`
	UnsyncedMetrics int64              `json:"unsyncedMetrics"`
	UnsyncedResults int64              `json:"unsyncedResults"`
}

func (s *Server) statusSnapshot(ctx context.Context) statusResponse {
	resp := statusResponse{Collector: s.collector.Snapshot()}
	if s.engine != nil {
		st := s.engine.Status()
		resp.Sync = &st
	}
	// Count failures degrade the snapshot, they do not fail the request.
	resp.MetricCount, _ = s.store.MetricCount(ctx)
	resp.UnsyncedMetrics, _ = s.store.UnsyncedMetricCount(ctx)
	resp.UnsyncedResults, _ = s.store.UnsyncedResultCount(ctx)
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.statusSnapshot(r.Context()))
}

func (s *Server) handleMetricsList(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultPageLimit)
	if limit <= 0 || limit > maxPageLimit {
		limit = defaultPageLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	metrics, err := s.store.MetricsPaged(r.Context(), limit, offset)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	views := make([]metricView, 0, len(metrics))
	for _, m := range metrics {
		views = append(views, toMetricView(m))
	}
	writeJSON(w, http.StatusOK, views)
}

type metricView struct {
	ID                 int64    `json:"id"`
	TimestampMs        int64    `json:"timestampMs"`
	NetworkType        string   `json:"networkType"`
	SignalStrength     int      `json:"signalStrength"`
	Latitude           *float64 `json:"latitude"`
	Longitude          *float64 `json:"longitude"`
	PLMNID             *string  `json:"plmnId"`
	CellID             *string  `json:"cellId"`
	LAC                *int     `json:"lac"`
	TAC                *int     `json:"tac"`
	RAC                *int     `json:"rac"`
	ARFCN              *int     `json:"arfcn"`
	FrequencyBand      *string  `json:"frequencyBand"`
	ActualFrequencyMhz *float64 `json:"actualFrequencyMhz"`
	RSRP               *int     `json:"rsrp"`
	RSRQ               *int     `json:"rsrq"`
	RSCP               *int     `json:"rscp"`
	RxLev              *int     `json:"rxlev"`
	Ecno               *float64 `json:"ecno"`
	Uploaded           bool     `json:"uploaded"`
}

func toMetricView(m *models.NetworkMetric) metricView {
	return metricView{
		ID:                 m.ID,
		TimestampMs:        m.TimestampMs,
		NetworkType:        m.NetworkType,
		SignalStrength:     m.SignalStrength,
		Latitude:           m.Latitude,
		Longitude:          m.Longitude,
		PLMNID:             m.PLMNID,
		CellID:             m.CellID,
		LAC:                m.LAC,
		TAC:                m.TAC,
		RAC:                m.RAC,
		ARFCN:              m.ARFCN,
		FrequencyBand:      m.FrequencyBand,
		ActualFrequencyMhz: m.ActualFrequencyMhz,
		RSRP:               m.RSRP,
		RSRQ:               m.RSRQ,
		RSCP:               m.RSCP,
		RxLev:              m.RxLev,
		Ecno:               m.Ecno,
		Uploaded:           m.Uploaded,
	}
}

func (s *Server) handleMetricsClear(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ClearMetrics(r.Context()); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// taskView augments the stored task with its derived schedule state so
// clients never re-implement the state rules.
type taskView struct {
	ID              int64   `json:"id"`
	ServerID        *string `json:"serverId"`
	Name            string  `json:"name"`
	Type            string  `json:"type"`
	ParametersJSON  string  `json:"parametersJson"`
	Enabled         bool    `json:"enabled"`
	ScheduledAtMs   *int64  `json:"scheduledAtMs"`
	IntervalSeconds *int    `json:"intervalSeconds"`
	Completed       bool    `json:"completed"`
	ScheduleState   string  `json:"scheduleState"`
}

func toTaskView(t *models.Task, nowMs int64) taskView {
	return taskView{
		ID:              t.ID,
		ServerID:        t.ServerID,
		Name:            t.Name,
		Type:            t.Type,
		ParametersJSON:  t.ParametersJSON,
		Enabled:         t.Enabled,
		ScheduledAtMs:   t.ScheduledAtMs,
		IntervalSeconds: t.IntervalSeconds,
		Completed:       t.Completed,
		ScheduleState:   t.ScheduleStateAt(nowMs).String(),
	}
}

func (s *Server) handleTasksList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	nowMs := time.Now().UnixMilli()

	var (
		tasks []*models.Task
		err   error
	)
	switch filter := r.URL.Query().Get("filter"); filter {
	case "", "all":
		tasks, err = s.store.AllTasks(ctx)
	case "manual":
		tasks, err = s.store.ManualTasks(ctx)
	case "pending":
		tasks, err = s.store.PendingOneShotTasks(ctx, nowMs)
	case "due":
		tasks, err = s.store.DueOneShotTasks(ctx, nowMs)
	case "periodic":
		tasks, err = s.store.PeriodicTasks(ctx)
	case "completed":
		tasks, err = s.store.CompletedTasks(ctx)
	default:
		s.fail(w, http.StatusBadRequest, errors.New("unknown filter: "+filter))
		return
	}
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	views := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, toTaskView(t, nowMs))
	}
	writeJSON(w, http.StatusOK, views)
}

type createTaskRequest struct {
	Name            string `json:"name"`
	Type            string `json:"type"`
	ParametersJSON  string `json:"parametersJson"`
	ScheduledAtMs   *int64 `json:"scheduledAtMs"`
	IntervalSeconds *int   `json:"intervalSeconds"`
}

func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" {
		s.fail(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}
	// Reject malformed definitions at the door instead of at execution time.
	if _, err := models.ParseProbe(req.Type, req.ParametersJSON); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}

	task := &models.Task{
		Name:            req.Name,
		Type:            req.Type,
		ParametersJSON:  req.ParametersJSON,
		Enabled:         true,
		ScheduledAtMs:   req.ScheduledAtMs,
		IntervalSeconds: req.IntervalSeconds,
	}
	if err := s.store.InsertTask(r.Context(), task); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTaskView(task, time.Now().UnixMilli()))
}

// handleTaskRun executes one task immediately, outside the scheduler. The
// completion flag is untouched; on-demand runs never consume a one-shot.
func (s *Server) handleTaskRun(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.fail(w, http.StatusBadRequest, errors.New("invalid task id"))
		return
	}

	task, err := s.store.GetTask(r.Context(), id)
	if errors.Is(err, storage.ErrTaskNotFound) {
		s.fail(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	result := s.executor.Execute(r.Context(), task)
	if err := s.store.InsertResult(r.Context(), result); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultView(result))
}

type resultView struct {
	ID          int64   `json:"id"`
	TaskID      int64   `json:"taskId"`
	TimestampMs int64   `json:"timestampMs"`
	TaskType    string  `json:"taskType"`
	TargetHost  *string `json:"targetHost"`
	ResultValue string  `json:"resultValue"`
	Success     bool    `json:"success"`
	Details     *string `json:"details"`
	Uploaded    bool    `json:"uploaded"`
}

func toResultView(r *models.TaskResult) resultView {
	return resultView{
		ID:          r.ID,
		TaskID:      r.TaskID,
		TimestampMs: r.TimestampMs,
		TaskType:    r.TaskType,
		TargetHost:  r.TargetHost,
		ResultValue: r.ResultValue,
		Success:     r.Success,
		Details:     r.Details,
		Uploaded:    r.Uploaded,
	}
}

func (s *Server) handleTaskResults(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.fail(w, http.StatusBadRequest, errors.New("invalid task id"))
		return
	}

	if _, err := s.store.GetTask(r.Context(), id); errors.Is(err, storage.ErrTaskNotFound) {
		s.fail(w, http.StatusNotFound, err)
		return
	} else if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	results, err := s.store.ResultsForTask(r.Context(), id)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]resultView, 0, len(results))
	for _, res := range results {
		views = append(views, toResultView(res))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleCollectorStart(w http.ResponseWriter, r *http.Request) {
	// The loop must outlive this request; tie it to the process, not r.
	s.collector.Start(context.Background())
	writeJSON(w, http.StatusOK, s.collector.Snapshot())
}

func (s *Server) handleCollectorStop(w http.ResponseWriter, r *http.Request) {
	s.collector.Stop()
	writeJSON(w, http.StatusOK, s.collector.Snapshot())
}

func (s *Server) handleSyncNow(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		s.fail(w, http.StatusConflict, errors.New("remote server is disabled"))
		return
	}
	if err := s.engine.RunCycle(r.Context()); err != nil {
		// Partial cycles still update counters; report both.
		st := s.engine.Status()
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":  err.Error(),
			"status": st,
		})
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Status())
}

type settingsView struct {
	SampleIntervalSeconds int    `json:"sampleIntervalSeconds"`
	AutoSyncEnabled       bool   `json:"autoSyncEnabled"`
	SyncIntervalMinutes   int    `json:"syncIntervalMinutes"`
	ThemePreference       string `json:"themePreference"`
}

func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	writeJSON(w, http.StatusOK, settingsView{
		SampleIntervalSeconds: int(s.settings.SampleInterval(ctx) / time.Second),
		AutoSyncEnabled:       s.settings.AutoSyncEnabled(ctx),
		SyncIntervalMinutes:   int(s.settings.SyncInterval(ctx) / time.Minute),
		ThemePreference:       s.settings.ThemePreference(ctx),
	})
}

type settingsUpdate struct {
	SampleIntervalSeconds *int    `json:"sampleIntervalSeconds"`
	AutoSyncEnabled       *bool   `json:"autoSyncEnabled"`
	SyncIntervalMinutes   *int    `json:"syncIntervalMinutes"`
	ThemePreference       *string `json:"themePreference"`
}

// handleSettingsPut applies a partial update; absent fields keep their
// stored values. Sync-related changes re-arm the auto-sync job immediately.
func (s *Server) handleSettingsPut(w http.ResponseWriter, r *http.Request) {
	var req settingsUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}

	ctx := r.Context()
	if req.SampleIntervalSeconds != nil {
		d := time.Duration(*req.SampleIntervalSeconds) * time.Second
		if err := s.settings.SetSampleInterval(ctx, d); err != nil {
			s.fail(w, http.StatusBadRequest, err)
			return
		}
	}
	if req.AutoSyncEnabled != nil {
		if err := s.settings.SetAutoSyncEnabled(ctx, *req.AutoSyncEnabled); err != nil {
			s.fail(w, http.StatusInternalServerError, err)
			return
		}
	}
	if req.SyncIntervalMinutes != nil {
		d := time.Duration(*req.SyncIntervalMinutes) * time.Minute
		if err := s.settings.SetSyncInterval(ctx, d); err != nil {
			s.fail(w, http.StatusBadRequest, err)
			return
		}
	}
	if req.ThemePreference != nil {
		if err := s.settings.SetThemePreference(ctx, *req.ThemePreference); err != nil {
			s.fail(w, http.StatusInternalServerError, err)
			return
		}
	}

	if s.engine != nil && (req.AutoSyncEnabled != nil || req.SyncIntervalMinutes != nil) {
		s.engine.Arm(ctx)
	}

	s.handleSettingsGet(w, r)
}

func (s *Server) fail(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
