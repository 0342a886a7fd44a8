package workflows

import "github.com/okralabs/boardsync/internal/events"

// TaskKind selects which reconciliation activity a workflow runs.
type TaskKind string

const (
	TaskBoardEvent      TaskKind = "board_event"
	TaskDeleteCard      TaskKind = "delete_card"
	TaskUpdateLabel     TaskKind = "update_label"
	TaskTrackerEvent    TaskKind = "tracker_event"
	TaskTrackerState    TaskKind = "tracker_state"
	TaskHookTeamBoard   TaskKind = "hook_teamboard"
	TaskUnhookTeamBoard TaskKind = "unhook_teamboard"
	TaskUnhookAll       TaskKind = "unhook_all"
)

// Task is the single envelope queued for every webhook delivery and
// operator command. Exactly one of Board, Tracker, or BoardID is populated
// depending on Kind.
type Task struct {
	Kind             TaskKind             `json:"kind"`
	GoverningBoardID string               `json:"governing_board_id,omitempty"`
	Board            *events.BoardEvent   `json:"board,omitempty"`
	Tracker          *events.TrackerEvent `json:"tracker,omitempty"`
	BoardID          string               `json:"board_id,omitempty"`

	// TimeoutSeconds and MaxAttempts carry the retry configuration into
	// the workflow, which cannot read config itself.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
	MaxAttempts    int `json:"max_attempts,omitempty"`
}
