package engine

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/okralabs/boardsync/internal/models"
	"github.com/okralabs/boardsync/internal/trello"
)

// propagateOKRLabel pushes an OKR label event on a governing-board parent
// card down to every team-board child card linked under it, and onto every
// tracker target linked under those children. Failures on one child never
// stop the sweep.
func (e *Engine) propagateOKRLabel(ctx context.Context, res *Result, parentCardID, label, color string, add bool) error {
	links, err := e.store.ListCardLinksByParent(parentCardID)
	if err != nil {
		return err
	}
	teamBoards, err := e.store.ListBoardsByRole(models.RoleTeam)
	if err != nil {
		return err
	}

	e.logger.Info("propagating OKR label",
		zap.String("label", label),
		zap.Bool("add", add),
		zap.Int("children", len(links)),
	)

	labelsByBoard := make(map[string]string)
	for _, b := range teamBoards {
		labelID, err := e.lookupBoardLabel(ctx, b.TrelloID, label)
		if err != nil {
			e.record(res, remoteError("list labels on board "+b.TrelloID, err))
			continue
		}
		if labelID == "" && add {
			created, err := e.board.CreateLabel(ctx, b.TrelloID, label, color)
			if err != nil {
				e.record(res, remoteError("create label on board "+b.TrelloID, err))
				continue
			}
			labelID = created.ID
		}
		if labelID != "" {
			labelsByBoard[b.TrelloID] = labelID
		}
	}

	for _, link := range links {
		if labelID := labelsByBoard[link.BoardID]; labelID != "" {
			var err error
			if add {
				err = e.board.AddLabelToCard(ctx, link.CardID, labelID)
			} else {
				err = e.board.RemoveLabelFromCard(ctx, link.CardID, labelID)
			}
			if err != nil && !isNotFound(err) {
				e.record(res, remoteError("update label on card "+link.CardID, err))
			}
		}
		e.labelTrackerTargets(ctx, res, link.CardID, label, add)
	}
	return nil
}

// inheritParentOKRLabel applies the parent card's existing OKR label to a
// freshly linked child card and its tracker targets.
func (e *Engine) inheritParentOKRLabel(ctx context.Context, res *Result, parent, child *trello.Card) {
	var okr *trello.Label
	for i := range parent.Labels {
		if strings.HasPrefix(parent.Labels[i].Name, TopBoardPrefix) {
			okr = &parent.Labels[i]
		}
	}
	if okr == nil {
		return
	}

	labelID, err := e.lookupBoardLabel(ctx, child.BoardID, okr.Name)
	if err != nil {
		e.record(res, remoteError("list labels on board "+child.BoardID, err))
		return
	}
	if labelID == "" {
		created, err := e.board.CreateLabel(ctx, child.BoardID, okr.Name, okr.Color)
		if err != nil {
			e.record(res, remoteError("create label on board "+child.BoardID, err))
			return
		}
		labelID = created.ID
	}

	if err := e.board.AddLabelToCard(ctx, child.ID, labelID); err != nil {
		e.record(res, remoteError("add OKR label to card "+child.ID, err))
	}
	e.labelTrackerTargets(ctx, res, child.ID, okr.Name, true)
}

// labelTrackerTargets adds or removes a label on every tracker target linked
// under a card. Label creation on the tracker is idempotent.
func (e *Engine) labelTrackerTargets(ctx context.Context, res *Result, parentCardID, label string, add bool) {
	rows, err := e.store.ListIssueLinksByParent(parentCardID)
	if err != nil {
		e.logger.Warn("failed to list issue links", zap.String("parent_card_id", parentCardID), zap.Error(err))
		return
	}

	for _, row := range rows {
		if add {
			if err := e.tracker.CreateLabel(ctx, row.ProjectID, label); err != nil {
				e.record(res, remoteError("create tracker label on project "+row.ProjectID, err))
				continue
			}
			if err := e.tracker.AddTargetLabel(ctx, row.ProjectID, row.TargetKind, row.IssueID, label); err != nil {
				e.record(res, remoteError("add tracker label to "+row.TargetKind+" "+row.IssueID, err))
			}
		} else {
			if err := e.tracker.RemoveTargetLabel(ctx, row.ProjectID, row.TargetKind, row.IssueID, label); err != nil && !isNotFound(err) {
				e.record(res, remoteError("remove tracker label from "+row.TargetKind+" "+row.IssueID, err))
			}
		}
	}
}

// lookupBoardLabel finds a board label by exact name. Empty when absent.
func (e *Engine) lookupBoardLabel(ctx context.Context, boardID, name string) (string, error) {
	labels, err := e.board.ListLabels(ctx, boardID)
	if err != nil {
		return "", err
	}
	for _, l := range labels {
		if l.Name == name {
			return l.ID, nil
		}
	}
	return "", nil
}
