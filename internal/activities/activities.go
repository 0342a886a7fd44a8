// Package activities exposes the reconciliation engine to Temporal workers,
// one activity per task kind.
package activities

import (
	"context"

	"go.uber.org/zap"

	"github.com/okralabs/boardsync/internal/engine"
	"github.com/okralabs/boardsync/internal/events"
)

// Activities holds the dependencies shared by every activity method.
type Activities struct {
	engine *engine.Engine
	logger *zap.Logger
}

// New creates the activity set backed by an engine.
func New(eng *engine.Engine, logger *zap.Logger) *Activities {
	return &Activities{engine: eng, logger: logger}
}

// logResult surfaces partial failures. Remote and stale failures are part of
// normal operation and do not fail the activity; the caller already returned
// an error for anything that should retry.
func (a *Activities) logResult(op string, res *engine.Result) {
	if res == nil || !res.Failed() {
		return
	}
	for _, e := range res.Errors {
		a.logger.Warn("partial failure",
			zap.String("op", op),
			zap.String("category", e.Category.String()),
			zap.Error(e),
		)
	}
}

// ReconcileBoardEvent runs the generic card reconciliation for one webhook
// delivery from a team or main board.
func (a *Activities) ReconcileBoardEvent(ctx context.Context, governingBoardID string, ev *events.BoardEvent) error {
	res, err := a.engine.HandleBoardEvent(ctx, governingBoardID, ev)
	a.logResult("board event", res)
	return err
}

// ReconcileDeleteCard tears down the mapping state of a deleted card.
func (a *Activities) ReconcileDeleteCard(ctx context.Context, governingBoardID string, ev *events.BoardEvent) error {
	res, err := a.engine.HandleDeleteCard(ctx, ev)
	a.logResult("delete card", res)
	return err
}

// ReconcileUpdateLabel renames the matching parent card and rewrites stored
// label references after a governing-board label rename.
func (a *Activities) ReconcileUpdateLabel(ctx context.Context, governingBoardID string, ev *events.BoardEvent) error {
	res, err := a.engine.HandleUpdateLabel(ctx, governingBoardID, ev)
	a.logResult("update label", res)
	return err
}

// ReconcileTrackerEvent mirrors a tracker open/update onto matching
// team-board cards.
func (a *Activities) ReconcileTrackerEvent(ctx context.Context, ev *events.TrackerEvent) error {
	res, err := a.engine.HandleTrackerEvent(ctx, ev)
	a.logResult("tracker event", res)
	return err
}

// ReconcileTrackerState propagates a close or reopen onto every linked
// checklist item.
func (a *Activities) ReconcileTrackerState(ctx context.Context, ev *events.TrackerEvent) error {
	res, err := a.engine.HandleTrackerStateChange(ctx, ev)
	a.logResult("tracker state", res)
	return err
}

// HookTeamBoard subscribes a team board and backfills its labeled cards.
func (a *Activities) HookTeamBoard(ctx context.Context, boardID string) error {
	res, err := a.engine.HookTeamBoard(ctx, boardID)
	a.logResult("hook team board", res)
	return err
}

// UnhookTeamBoard removes a team board's webhooks and persisted row.
func (a *Activities) UnhookTeamBoard(ctx context.Context, boardID string) error {
	res, err := a.engine.UnhookTeamBoard(ctx, boardID)
	a.logResult("unhook team board", res)
	return err
}

// UnhookAll removes every webhook registered for the token.
func (a *Activities) UnhookAll(ctx context.Context) error {
	res, err := a.engine.UnhookAll(ctx)
	a.logResult("unhook all", res)
	return err
}
