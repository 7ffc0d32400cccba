package models

// Task types understood by the executor.
const (
	TaskTypePing          = "PING"
	TaskTypeDNS           = "DNS"
	TaskTypeWeb           = "WEB"
	TaskTypeDownloadSpeed = "DOWNLOAD_SPEED"
	TaskTypeUploadSpeed   = "UPLOAD_SPEED"
	TaskTypeSMS           = "SMS"
)

// Task is a stored definition of one diagnostic probe: what to run, with
// which parameters, and on what schedule.
//
// Exactly one of three schedule shapes holds:
//   - manual: no scheduled time, no interval; run only on demand
//   - one-shot: ScheduledAtMs set, no interval; runs at most once
//   - periodic: IntervalSeconds set; eligible on every scheduler wake
//     (a stray ScheduledAtMs is ignored for repeat purposes)
type Task struct {
	ID              int64
	ServerID        *string // set once the definition came from (or is known to) the server
	Name            string
	Type            string
	ParametersJSON  string
	Enabled         bool
	ScheduledAtMs   *int64
	IntervalSeconds *int

	// Completed is set exactly once for a one-shot task, after its single
	// execution attempt. It carries no meaning for manual or periodic tasks.
	Completed bool
}

// IsPeriodic reports whether the task repeats. Interval presence wins over
// any scheduled timestamp.
func (t *Task) IsPeriodic() bool {
	return t.IntervalSeconds != nil && *t.IntervalSeconds != 0
}

// IsOneShot reports whether the task runs at most once at a due time.
func (t *Task) IsOneShot() bool {
	return !t.IsPeriodic() && t.ScheduledAtMs != nil
}

// IsManual reports whether the task only runs on demand.
func (t *Task) IsManual() bool {
	return !t.IsPeriodic() && t.ScheduledAtMs == nil
}

// ScheduleState is the derived scheduling state of a task. It is computed,
// never stored: the store queries and the scheduler both derive it from the
// same fields through ScheduleStateAt.
type ScheduleState int

const (
	ScheduleDisabled ScheduleState = iota
	ScheduleManual
	ScheduleOneShotPending
	ScheduleOneShotDue
	ScheduleOneShotCompleted
	SchedulePeriodic
)

func (s ScheduleState) String() string {
	switch s {
	case ScheduleDisabled:
		return "disabled"
	case ScheduleManual:
		return "manual"
	case ScheduleOneShotPending:
		return "one-shot-pending"
	case ScheduleOneShotDue:
		return "one-shot-due"
	case ScheduleOneShotCompleted:
		return "one-shot-completed"
	case SchedulePeriodic:
		return "periodic"
	default:
		return "unknown"
	}
}

// ScheduleStateAt derives the scheduling state at the given wall-clock time
// (Unix milliseconds).
func (t *Task) ScheduleStateAt(nowMs int64) ScheduleState {
	if !t.Enabled {
		return ScheduleDisabled
	}
	if t.IsPeriodic() {
		return SchedulePeriodic
	}
	if t.ScheduledAtMs == nil {
		return ScheduleManual
	}
	if t.Completed {
		return ScheduleOneShotCompleted
	}
	if *t.ScheduledAtMs <= nowMs {
		return ScheduleOneShotDue
	}
	return ScheduleOneShotPending
}

// TaskResult is one immutable record of a single task execution. A new row
// is produced per execution; nothing is ever updated in place except the
// Uploaded flag, which follows the same false->true-only invariant as
// NetworkMetric.
type TaskResult struct {
	ID     int64
	TaskID int64 // local parent id, cascade-deleted with the task

	// ServerTaskID snapshots the parent's server-assigned id at execution
	// time so the server can correlate the result even if the task is later
	// deleted locally.
	ServerTaskID *string

	TimestampMs int64
	TaskType    string
	TargetHost  *string
	ResultValue string
	Success     bool
	Details     *string

	Uploaded bool
}
