package sync

import (
	"strconv"

	"github.com/polaris-net/polaris-agent/internal/models"
)

// measurementDTO is the wire form of one telemetry sample.
type measurementDTO struct {
	TimeStamp          int64    `json:"timeStamp"`
	Latitude           *float64 `json:"latitude"`
	Longitude          *float64 `json:"longitude"`
	NetworkType        string   `json:"networkType"`
	PLMNID             *string  `json:"plmnId"`
	LAC                *int     `json:"lac"`
	TAC                *int     `json:"tac"`
	RAC                *int     `json:"rac"`
	CellID             *string  `json:"cellId"`
	ARFCN              *int     `json:"arfcn"`
	FrequencyBand      *string  `json:"frequencyBand"`
	ActualFrequencyMhz *float64 `json:"actualFrequencyMhz"`
	SignalStrength     int      `json:"signalStrength"`
	RSRP               *int     `json:"rsrp"`
	RSRQ               *int     `json:"rsrq"`
	RSCP               *int     `json:"rscp"`
	RxLev              *int     `json:"rxlev"`
	Ecno               *float64 `json:"ecno"`
}

type saveMeasurementsRequest struct {
	Measurements []measurementDTO `json:"measurements"`
}

func toMeasurementDTO(m *models.NetworkMetric) measurementDTO {
	return measurementDTO{
		TimeStamp:          m.TimestampMs,
		Latitude:           m.Latitude,
		Longitude:          m.Longitude,
		NetworkType:        m.NetworkType,
		PLMNID:             m.PLMNID,
		LAC:                m.LAC,
		TAC:                m.TAC,
		RAC:                m.RAC,
		CellID:             m.CellID,
		ARFCN:              m.ARFCN,
		FrequencyBand:      m.FrequencyBand,
		ActualFrequencyMhz: m.ActualFrequencyMhz,
		SignalStrength:     m.SignalStrength,
		RSRP:               m.RSRP,
		RSRQ:               m.RSRQ,
		RSCP:               m.RSCP,
		RxLev:              m.RxLev,
		Ecno:               m.Ecno,
	}
}

// resultDTO is the wire form of one probe outcome. TestID carries the
// server's task id when the task was server-assigned, nil for local tasks.
type resultDTO struct {
	Timestamp   int64   `json:"timestamp"`
	TestType    string  `json:"testType"`
	TargetHost  *string `json:"targetHost"`
	ResultValue string  `json:"resultValue"`
	IsSuccess   bool    `json:"isSuccess"`
	Details     *string `json:"details"`
	TestID      *string `json:"testId"`
}

type saveResultsRequest struct {
	TestResults []resultDTO `json:"testResults"`
}

func toResultDTO(r *models.TaskResult) resultDTO {
	return resultDTO{
		Timestamp:   r.TimestampMs,
		TestType:    r.TaskType,
		TargetHost:  r.TargetHost,
		ResultValue: r.ResultValue,
		IsSuccess:   r.Success,
		Details:     r.Details,
		TestID:      r.ServerTaskID,
	}
}

type pullTasksRequest struct {
	ExcludedIDs []string `json:"excludedIds"`
}

// taskDTO is the server's task definition. The id is the server's own and
// never becomes a local row id.
type taskDTO struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	Type               string `json:"type"`
	ParametersJSON     string `json:"parametersJson"`
	IsEnabled          bool   `json:"isEnabled"`
	ScheduledTimestamp *int64 `json:"scheduledTimestamp"`
	IntervalSeconds    *int   `json:"intervalSeconds"`
	IsCompleted        bool   `json:"isCompleted"`
}

func (d taskDTO) toTask() *models.Task {
	serverID := strconv.FormatInt(d.ID, 10)
	return &models.Task{
		ServerID:        &serverID,
		Name:            d.Name,
		Type:            d.Type,
		ParametersJSON:  d.ParametersJSON,
		Enabled:         d.IsEnabled,
		ScheduledAtMs:   d.ScheduledTimestamp,
		IntervalSeconds: d.IntervalSeconds,
		Completed:       d.IsCompleted,
	}
}

type pullTasksResponse struct {
	Success bool      `json:"success"`
	Code    int       `json:"code"`
	Message string    `json:"message"`
	Tasks   []taskDTO `json:"tasks"`
}

type deletedTasksResponse struct {
	Success        bool     `json:"success"`
	Code           int      `json:"code"`
	Message        string   `json:"message"`
	DeletedTestIDs []string `json:"deletedTestIds"`
}
