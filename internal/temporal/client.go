// Package temporal wraps the Temporal client with the queue routing and
// workflow-ID scheme used for webhook deliveries and operator commands.
package temporal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/okralabs/boardsync/internal/events"
	"github.com/okralabs/boardsync/internal/temporal/workflows"
)

// Task queues, in priority order. State changes and governing-board label
// events go to high, ordinary content sync to default, operator commands and
// backfills to low.
const (
	QueueHigh    = "boardsync-high"
	QueueDefault = "boardsync-default"
	QueueLow     = "boardsync-low"
)

// WorkerOptions configures a queue worker for strictly sequential execution:
// one task in flight per worker process. The lost delete/recreate analysis
// assumes no in-process parallelism.
func WorkerOptions() worker.Options {
	return worker.Options{
		MaxConcurrentActivityExecutionSize:     1,
		MaxConcurrentWorkflowTaskExecutionSize: 1,
	}
}

// Client wraps Temporal client functionality.
type Client struct {
	temporalClient client.Client
	logger         *zap.Logger
	taskTimeout    time.Duration
	maxAttempts    int
}

// NewClient dials the Temporal server.
func NewClient(address, namespace string, taskTimeout time.Duration, maxAttempts int, logger *zap.Logger) (*Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  address,
		Namespace: namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create temporal client: %w", err)
	}

	return &Client{
		temporalClient: c,
		logger:         logger,
		taskTimeout:    taskTimeout,
		maxAttempts:    maxAttempts,
	}, nil
}

// EnqueueBoardEvent queues a board webhook event. The workflow ID is derived
// from the Trello action ID, so a redelivered webhook collides with the
// running workflow instead of reconciling twice.
func (c *Client) EnqueueBoardEvent(ctx context.Context, governingBoardID string, ev *events.BoardEvent) (string, error) {
	kind := workflows.TaskBoardEvent
	queue := QueueDefault
	switch ev.Action {
	case events.ActionDeleteCard:
		kind = workflows.TaskDeleteCard
	case events.ActionUpdateLabel:
		kind = workflows.TaskUpdateLabel
		queue = QueueHigh
	}

	task := workflows.Task{
		Kind:             kind,
		GoverningBoardID: governingBoardID,
		Board:            ev,
	}
	return c.enqueue(ctx, queue, "trello-"+ev.EventID, task)
}

// EnqueueTrackerEvent queues a tracker webhook event. Close and reopen
// transitions take the high queue so state lands before content churn.
func (c *Client) EnqueueTrackerEvent(ctx context.Context, ev *events.TrackerEvent) (string, error) {
	kind := workflows.TaskTrackerEvent
	queue := QueueDefault
	if ev.StateChange() {
		kind = workflows.TaskTrackerState
		queue = QueueHigh
	}

	task := workflows.Task{
		Kind:    kind,
		Tracker: ev,
	}
	return c.enqueue(ctx, queue, "gitlab-"+ev.EventID, task)
}

// EnqueueOp queues an operator command. Each invocation gets a fresh
// workflow ID; operator commands are not deduplicated.
func (c *Client) EnqueueOp(ctx context.Context, kind workflows.TaskKind, boardID string) (string, error) {
	task := workflows.Task{
		Kind:    kind,
		BoardID: boardID,
	}
	return c.enqueue(ctx, QueueLow, fmt.Sprintf("%s-%s", kind, uuid.NewString()), task)
}

func (c *Client) enqueue(ctx context.Context, queue, workflowID string, task workflows.Task) (string, error) {
	task.TimeoutSeconds = int(c.taskTimeout / time.Second)
	task.MaxAttempts = c.maxAttempts

	opts := client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: queue,
	}
	we, err := c.temporalClient.ExecuteWorkflow(ctx, opts, workflows.ReconcileWorkflow, task)
	if err != nil {
		var already *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &already) {
			c.logger.Info("duplicate delivery dropped", zap.String("workflow_id", workflowID))
			return workflowID, nil
		}
		return "", fmt.Errorf("failed to start workflow: %w", err)
	}

	c.logger.Info("queued task",
		zap.String("workflow_id", we.GetID()),
		zap.String("run_id", we.GetRunID()),
		zap.String("queue", queue),
		zap.String("kind", string(task.Kind)),
	)
	return we.GetID(), nil
}

// JobStatus reports the lifecycle state of a queued task.
func (c *Client) JobStatus(ctx context.Context, workflowID string) (string, error) {
	resp, err := c.temporalClient.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		return "", fmt.Errorf("failed to describe workflow: %w", err)
	}
	return resp.GetWorkflowExecutionInfo().GetStatus().String(), nil
}

// Close closes the Temporal client.
func (c *Client) Close() {
	c.temporalClient.Close()
}
