package usecase

import (
	"time"

	"github.com/CemRoot/cv-genius-project/internal/domain"
	"github.com/CemRoot/cv-genius-project/internal/model"
)

// Messages stored in State.Error when the service gives none of its own.
const (
	MsgStartFailed       = "Failed to start CV generation"
	MsgGenerationFailed  = "CV generation failed"
	MsgStatusCheckFailed = "Failed to check generation status"
	MsgCancelled         = "Generation cancelled"
	MsgCancelFailed      = "Failed to cancel generation"
	MsgTimedOut          = "Generation timed out"
)

// State is the consumer view of the tracked job. The zero value is Idle.
// Progress is stored as reported; see DisplayProgress. ResultKind names the
// concrete type behind Result.
type State struct {
	TaskID       string           `json:"task_id,omitempty"`
	Status       domain.Status    `json:"status,omitempty"`
	IsGenerating bool             `json:"is_generating"`
	Progress     int              `json:"progress"`
	Error        string           `json:"error,omitempty"`
	Result       model.Result     `json:"result,omitempty"`
	ResultKind   model.ResultKind `json:"result_kind,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// DisplayProgress is Progress clamped to [0, 100].
func (s State) DisplayProgress() int {
	switch {
	case s.Progress < 0:
		return 0
	case s.Progress > 100:
		return 100
	}
	return s.Progress
}

// Terminal reports whether the job this state describes has finished.
func (s State) Terminal() bool {
	return !s.IsGenerating && s.Status.IsTerminal()
}

func (s State) idle() bool {
	return s.TaskID == "" && s.Status == "" && !s.IsGenerating &&
		s.Progress == 0 && s.Error == "" && s.Result == nil
}
