package engine

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/okralabs/boardsync/internal/desc"
	"github.com/okralabs/boardsync/internal/gitlab"
	"github.com/okralabs/boardsync/internal/models"
	"github.com/okralabs/boardsync/internal/trello"
)

// issuesKey is the structured-description key listing the tracker back-link
// URLs on a card that embeds target references.
const issuesKey = "issues"

func targetKey(projectID, kind, iid string) string {
	return projectID + "/" + kind + "/" + iid
}

// reconcileTargets diffs the $GLIS/$GLMR references embedded in a card's
// free text against the stored issue links for that card. New references
// gain checklist items and rows, vanished ones lose them, and both the card
// and each affected target get their back-links rewritten.
func (e *Engine) reconcileTargets(ctx context.Context, res *Result, card *trello.Card) error {
	refs := desc.ParseTargets(card.Desc)

	rows, err := e.store.ListIssueLinksByParent(card.ID)
	if err != nil {
		return err
	}
	if len(refs) == 0 && len(rows) == 0 {
		return nil
	}

	rowsByKey := make(map[string]*models.IssueLink, len(rows))
	for i := range rows {
		rowsByKey[targetKey(rows[i].ProjectID, rows[i].TargetKind, rows[i].IssueID)] = &rows[i]
	}

	kept := make(map[string]bool)
	var backlinks []string
	for _, ref := range refs {
		key := targetKey(ref.ProjectID, ref.Kind, ref.TargetIID)
		if kept[key] {
			continue
		}
		kept[key] = true

		target, err := e.tracker.GetTarget(ctx, ref.ProjectID, ref.Kind, ref.TargetIID)
		if err != nil {
			// unresolvable reference: leave any existing row untouched
			e.record(res, remoteError("get target "+key, err))
			continue
		}

		projectName := ""
		if proj, err := e.tracker.GetProject(ctx, ref.ProjectID); err != nil {
			e.record(res, remoteError("get project "+ref.ProjectID, err))
		} else {
			projectName = proj.DisplayName()
		}

		title := targetTitle(projectName, target.Title, target.WebURL)
		checked := target.Closed()

		row := rowsByKey[key]
		if row == nil {
			itemID, hookID, hookURL, ok := e.addChecklistItem(ctx, res, card.ID, title, checked)
			if !ok {
				continue
			}
			row = &models.IssueLink{
				IssueID:      ref.TargetIID,
				ProjectID:    ref.ProjectID,
				ParentCardID: card.ID,
				ItemID:       itemID,
				ItemName:     title,
				Checked:      checked,
				HookID:       hookID,
				HookURL:      hookURL,
				TargetKind:   ref.Kind,
			}
			if err := e.store.CreateIssueLink(row); err != nil {
				return err
			}
			e.logger.Info("linked embedded target",
				zap.String("target", key),
				zap.String("card_id", card.ID),
			)
		} else if err := e.updateIssueItem(ctx, res, row, title, checked, row.Label, row.Milestone); err != nil {
			return err
		}

		backlinks = append(backlinks, target.WebURL)
		e.setTargetBacklink(ctx, res, target, ref.ProjectID, ref.Kind, ref.TargetIID, cardURL(card), true)
	}

	for key, row := range rowsByKey {
		if kept[key] {
			continue
		}
		e.removeChecklistItem(ctx, res, row.ParentCardID, row.ItemID, row.HookID)
		if err := e.store.DeleteIssueLink(row); err != nil {
			return err
		}
		e.logger.Info("unlinked embedded target",
			zap.String("target", key),
			zap.String("card_id", card.ID),
		)

		target, err := e.tracker.GetTarget(ctx, row.ProjectID, row.TargetKind, row.IssueID)
		if err != nil {
			if !isNotFound(err) {
				e.record(res, remoteError("get target "+key, err))
			}
			continue
		}
		e.setTargetBacklink(ctx, res, target, row.ProjectID, row.TargetKind, row.IssueID, cardURL(card), false)
	}

	// re-read the card: its description may have been rewritten earlier in
	// this same reconciliation
	fresh, err := e.board.GetCard(ctx, card.ID)
	if err != nil {
		e.record(res, remoteError("get card "+card.ID, err))
		return nil
	}
	cd := desc.ParseCard(fresh.Desc)
	before, _ := cd.Value(issuesKey)
	after := strings.Join(backlinks, ", ")
	if len(backlinks) > 0 || before != "" {
		if before != after {
			cd.SetValue(issuesKey, after)
			if err := e.board.UpdateCardDesc(ctx, card.ID, cd.Encode()); err != nil {
				e.record(res, remoteError("update card description "+card.ID, err))
			}
		}
	}
	return nil
}

// setTargetBacklink adds or removes one card URL in a target's "Trello
// Cards" trailer, leaving the rest of the description alone.
func (e *Engine) setTargetBacklink(ctx context.Context, res *Result, target *gitlab.Target, projectID, kind, iid, url string, add bool) {
	body, urls := desc.ParseTrackerDescription(target.Description)

	var next []string
	present := false
	for _, u := range urls {
		if u == url {
			present = true
			if !add {
				continue
			}
		}
		next = append(next, u)
	}
	if add {
		if present {
			return
		}
		next = append(next, url)
	} else if !present {
		return
	}

	encoded := desc.EncodeTrackerDescription(body, next)
	if err := e.tracker.UpdateTargetDescription(ctx, projectID, kind, iid, encoded); err != nil {
		e.record(res, remoteError("update target description "+iid, err))
	}
}
