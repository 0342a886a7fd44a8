package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	defaultTaskTimeout = 2 * time.Minute
	defaultMaxAttempts = 3
)

// ReconcileWorkflow runs exactly one reconciliation activity for the task it
// carries. Retries live entirely in the activity retry policy; activities
// are written to be safely re-runnable.
func ReconcileWorkflow(ctx workflow.Context, task Task) error {
	logger := workflow.GetLogger(ctx)
	logger.Info("processing task", "kind", task.Kind)

	timeout := defaultTaskTimeout
	if task.TimeoutSeconds > 0 {
		timeout = time.Duration(task.TimeoutSeconds) * time.Second
	}
	attempts := defaultMaxAttempts
	if task.MaxAttempts > 0 {
		attempts = task.MaxAttempts
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    int32(attempts),
		},
	})

	var err error
	switch task.Kind {
	case TaskBoardEvent:
		err = workflow.ExecuteActivity(ctx, "ReconcileBoardEvent", task.GoverningBoardID, task.Board).Get(ctx, nil)
	case TaskDeleteCard:
		err = workflow.ExecuteActivity(ctx, "ReconcileDeleteCard", task.GoverningBoardID, task.Board).Get(ctx, nil)
	case TaskUpdateLabel:
		err = workflow.ExecuteActivity(ctx, "ReconcileUpdateLabel", task.GoverningBoardID, task.Board).Get(ctx, nil)
	case TaskTrackerEvent:
		err = workflow.ExecuteActivity(ctx, "ReconcileTrackerEvent", task.Tracker).Get(ctx, nil)
	case TaskTrackerState:
		err = workflow.ExecuteActivity(ctx, "ReconcileTrackerState", task.Tracker).Get(ctx, nil)
	case TaskHookTeamBoard:
		err = workflow.ExecuteActivity(ctx, "HookTeamBoard", task.BoardID).Get(ctx, nil)
	case TaskUnhookTeamBoard:
		err = workflow.ExecuteActivity(ctx, "UnhookTeamBoard", task.BoardID).Get(ctx, nil)
	case TaskUnhookAll:
		err = workflow.ExecuteActivity(ctx, "UnhookAll").Get(ctx, nil)
	default:
		return fmt.Errorf("unknown task kind: %s", task.Kind)
	}

	if err != nil {
		logger.Error("task failed", "kind", task.Kind, "error", err)
		return err
	}
	logger.Info("task completed", "kind", task.Kind)
	return nil
}
