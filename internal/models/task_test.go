package models

import "testing"

func int64Ptr(v int64) *int64 { return &v }
func intPtr(v int) *int       { return &v }

func TestScheduleStateAt(t *testing.T) {
	const now = int64(1_700_000_000_000)

	tests := []struct {
		name string
		task Task
		want ScheduleState
	}{
		{
			name: "disabled wins over everything",
			task: Task{Enabled: false, ScheduledAtMs: int64Ptr(now - 1000)},
			want: ScheduleDisabled,
		},
		{
			name: "manual task has no schedule",
			task: Task{Enabled: true},
			want: ScheduleManual,
		},
		{
			name: "one-shot in the future is pending",
			task: Task{Enabled: true, ScheduledAtMs: int64Ptr(now + 60_000)},
			want: ScheduleOneShotPending,
		},
		{
			name: "one-shot at exactly now is due",
			task: Task{Enabled: true, ScheduledAtMs: int64Ptr(now)},
			want: ScheduleOneShotDue,
		},
		{
			name: "one-shot in the past is due",
			task: Task{Enabled: true, ScheduledAtMs: int64Ptr(now - 1)},
			want: ScheduleOneShotDue,
		},
		{
			name: "executed one-shot stays completed even when past due",
			task: Task{Enabled: true, ScheduledAtMs: int64Ptr(now - 1000), Completed: true},
			want: ScheduleOneShotCompleted,
		},
		{
			name: "interval makes a task periodic",
			task: Task{Enabled: true, IntervalSeconds: intPtr(300)},
			want: SchedulePeriodic,
		},
		{
			name: "interval wins over a stray scheduled time",
			task: Task{Enabled: true, IntervalSeconds: intPtr(300), ScheduledAtMs: int64Ptr(now - 1000)},
			want: SchedulePeriodic,
		},
		{
			name: "zero interval is not periodic",
			task: Task{Enabled: true, IntervalSeconds: intPtr(0)},
			want: ScheduleManual,
		},
		{
			name: "completed flag means nothing for periodic tasks",
			task: Task{Enabled: true, IntervalSeconds: intPtr(60), Completed: true},
			want: SchedulePeriodic,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.task.ScheduleStateAt(now); got != tt.want {
				t.Errorf("ScheduleStateAt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScheduleShapePredicates(t *testing.T) {
	periodic := Task{Enabled: true, IntervalSeconds: intPtr(60), ScheduledAtMs: int64Ptr(1)}
	if !periodic.IsPeriodic() || periodic.IsOneShot() || periodic.IsManual() {
		t.Error("task with interval must be periodic only")
	}

	oneShot := Task{Enabled: true, ScheduledAtMs: int64Ptr(1)}
	if oneShot.IsPeriodic() || !oneShot.IsOneShot() || oneShot.IsManual() {
		t.Error("task with only a scheduled time must be one-shot only")
	}

	manual := Task{Enabled: true}
	if manual.IsPeriodic() || manual.IsOneShot() || !manual.IsManual() {
		t.Error("task with no schedule must be manual only")
	}
}
