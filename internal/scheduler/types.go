// Package scheduler runs the proactive jobs: the daily morning
// briefing and the weekly memory decay sweep. Every attempt is logged
// as a ScheduledTask record for observability; the records are a log,
// not a work queue.
package scheduler

import "time"

// TaskType identifies which job produced a record.
type TaskType string

const (
	TaskMorningBriefing TaskType = "morning_briefing"
	TaskMemoryDecay     TaskType = "memory_decay"
)

// TaskStatus tracks a task attempt through its lifecycle.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

// Task is one logged job attempt.
type Task struct {
	ID          string     `json:"id"` // UUIDv7
	UserID      string     `json:"user_id,omitempty"`
	Type        TaskType   `json:"type"`
	Status      TaskStatus `json:"status"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	Result      string     `json:"result,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
