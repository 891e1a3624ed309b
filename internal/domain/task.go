package domain

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a generation task as reported by the
// Generation Service.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether no further polling should happen for s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Known reports whether s is one of the five documented states. The service
// also reports intermediate step names such as generating_cv, which the
// tracker keeps polling through.
func (s Status) Known() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// TaskStatus is the body of a task-status poll. Result stays raw here and is
// decoded into a typed model.Result by the caller once the task completes.
type TaskStatus struct {
	TaskID    string          `json:"task_id"`
	Status    Status          `json:"status"`
	Progress  float64         `json:"progress"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt string          `json:"created_at,omitempty"`
}

// StartResponse is the body returned when a generation job is accepted.
type StartResponse struct {
	TaskID  string `json:"task_id"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	PollURL string `json:"poll_url,omitempty"`
}

// TaskSummary is one entry of the task listing endpoint.
type TaskSummary struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Status    Status    `json:"status"`
	Progress  float64   `json:"progress"`
	CreatedAt time.Time `json:"created_at"`
}
