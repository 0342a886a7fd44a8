package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/okralabs/boardsync/internal/desc"
	"github.com/okralabs/boardsync/internal/events"
	"github.com/okralabs/boardsync/internal/models"
	"github.com/okralabs/boardsync/internal/trello"
)

// targetTitle renders the checklist item title for a tracker target as a
// markdown link.
func targetTitle(projectName, title, url string) string {
	if projectName == "" {
		return fmt.Sprintf("[%s](%s)", title, url)
	}
	return fmt.Sprintf("[%s / %s](%s)", projectName, title, url)
}

func cardURL(card *trello.Card) string {
	if card.URL != "" {
		return card.URL
	}
	return card.ShortURL
}

// HandleTrackerEvent reconciles an open/update tracker event: team-board
// cards matching the target's label or milestone get a mirrored checklist
// item; rows whose card no longer matches are torn down; the target's
// description trailer is rewritten with the surviving card URLs.
func (e *Engine) HandleTrackerEvent(ctx context.Context, ev *events.TrackerEvent) (*Result, error) {
	res := &Result{}

	label := ""
	if len(ev.Labels) > 0 {
		label = ev.Labels[0]
	}

	milestone := ""
	if ev.MilestoneID != "" {
		m, err := e.tracker.GetMilestone(ctx, ev.ProjectID, ev.MilestoneID)
		if err != nil {
			e.record(res, remoteError("get milestone "+ev.MilestoneID, err))
		} else {
			milestone = m.Title
		}
	}

	projectName := ""
	proj, err := e.tracker.GetProject(ctx, ev.ProjectID)
	if err != nil {
		e.record(res, remoteError("get project "+ev.ProjectID, err))
	} else {
		projectName = proj.DisplayName()
	}

	title := targetTitle(projectName, ev.Title, ev.URL)
	checked := ev.Closed

	rows, err := e.store.ListIssueLinks(ev.ProjectID, ev.IID, ev.Kind)
	if err != nil {
		return res, err
	}
	rowByParent := make(map[string]*models.IssueLink, len(rows))
	orphaned := make(map[string]*models.IssueLink, len(rows))
	for i := range rows {
		rowByParent[rows[i].ParentCardID] = &rows[i]
		orphaned[rows[i].ParentCardID] = &rows[i]
	}

	var cards []trello.Card
	if label != "" || milestone != "" {
		cards = e.matchTeamCards(ctx, res, label, milestone)
	}
	if len(cards) == 0 && len(rows) == 0 {
		e.logger.Info("no team-board card matches tracker target",
			zap.String("label", label),
			zap.String("milestone", milestone),
			zap.String("iid", ev.IID),
		)
		return res, nil
	}

	var cardURLs []string
	for i := range cards {
		card := &cards[i]
		row := rowByParent[card.ID]
		if row == nil {
			itemID, hookID, hookURL, ok := e.addChecklistItem(ctx, res, card.ID, title, checked)
			if !ok {
				continue
			}
			row = &models.IssueLink{
				IssueID:      ev.IID,
				ProjectID:    ev.ProjectID,
				ParentCardID: card.ID,
				ItemID:       itemID,
				ItemName:     title,
				Label:        label,
				Milestone:    milestone,
				Checked:      checked,
				HookID:       hookID,
				HookURL:      hookURL,
				TargetKind:   ev.Kind,
			}
			if err := e.store.CreateIssueLink(row); err != nil {
				return res, err
			}
			e.logger.Info("linked tracker target",
				zap.String("iid", ev.IID),
				zap.String("parent_card_id", card.ID),
			)
		} else {
			delete(orphaned, card.ID)
			if err := e.updateIssueItem(ctx, res, row, title, checked, label, milestone); err != nil {
				return res, err
			}
		}
		cardURLs = append(cardURLs, cardURL(card))
	}

	for _, row := range orphaned {
		e.removeChecklistItem(ctx, res, row.ParentCardID, row.ItemID, row.HookID)
		if err := e.store.DeleteIssueLink(row); err != nil {
			return res, err
		}
		e.logger.Info("unlinked tracker target",
			zap.String("iid", ev.IID),
			zap.String("parent_card_id", row.ParentCardID),
		)
	}

	usernames := desc.ParseMentions(ev.Description)
	if ev.AssigneeUsername != "" {
		usernames = append([]string{ev.AssigneeUsername}, usernames...)
	}
	if len(usernames) > 0 {
		for i := range cards {
			e.foldMembers(ctx, res, cards[i].ID, usernames)
		}
	}

	body, existing := desc.ParseTrackerDescription(ev.Description)
	newDesc := desc.EncodeTrackerDescription(body, cardURLs)
	if newDesc != desc.EncodeTrackerDescription(body, existing) {
		if err := e.tracker.UpdateTargetDescription(ctx, ev.ProjectID, ev.Kind, ev.IID, newDesc); err != nil {
			e.record(res, remoteError("update target description "+ev.IID, err))
		}
	}

	return res, nil
}

// HandleTrackerStateChange propagates a close/reopen onto every checklist
// item linked to the target, across all parent cards, in one invocation.
func (e *Engine) HandleTrackerStateChange(ctx context.Context, ev *events.TrackerEvent) (*Result, error) {
	res := &Result{}

	rows, err := e.store.ListIssueLinks(ev.ProjectID, ev.IID, ev.Kind)
	if err != nil {
		return res, err
	}

	checked := ev.Closed
	for i := range rows {
		row := &rows[i]
		if row.Checked == checked {
			continue
		}
		if err := e.board.UpdateChecklistItemState(ctx, row.ParentCardID, row.ItemID, checked); err != nil {
			e.record(res, remoteError("set checklist item state "+row.ItemID, err))
			continue
		}
		row.Checked = checked
		if err := e.store.SaveIssueLink(row); err != nil {
			return res, err
		}
	}
	return res, nil
}

// matchTeamCards returns the open cards across all subscribed team boards
// carrying a label matching the target's label or milestone.
func (e *Engine) matchTeamCards(ctx context.Context, res *Result, label, milestone string) []trello.Card {
	boards, err := e.store.ListBoardsByRole(models.RoleTeam)
	if err != nil {
		e.logger.Warn("failed to list team boards", zap.Error(err))
		return nil
	}

	var matched []trello.Card
	seen := make(map[string]bool)
	for _, b := range boards {
		cards, err := e.board.ListOpenCards(ctx, b.TrelloID)
		if err != nil {
			e.record(res, remoteError("list cards "+b.TrelloID, err))
			continue
		}
		for _, card := range cards {
			for _, l := range card.Labels {
				if (label != "" && l.Name == label) || (milestone != "" && l.Name == milestone) {
					if !seen[card.ID] {
						seen[card.ID] = true
						matched = append(matched, card)
					}
					break
				}
			}
		}
	}
	return matched
}

// updateIssueItem diffs a linked item's display fields against the target's
// current state and patches only what changed.
func (e *Engine) updateIssueItem(ctx context.Context, res *Result, row *models.IssueLink, title string, checked bool, label, milestone string) error {
	changed := false
	if row.ItemName != title {
		if err := e.board.UpdateChecklistItemName(ctx, row.ParentCardID, row.ItemID, title); err != nil {
			e.record(res, remoteError("rename checklist item "+row.ItemID, err))
		} else {
			row.ItemName = title
			changed = true
		}
	}
	if row.Checked != checked {
		if err := e.board.UpdateChecklistItemState(ctx, row.ParentCardID, row.ItemID, checked); err != nil {
			e.record(res, remoteError("set checklist item state "+row.ItemID, err))
		} else {
			row.Checked = checked
			changed = true
		}
	}
	if row.Label != label || row.Milestone != milestone {
		row.Label = label
		row.Milestone = milestone
		changed = true
	}
	if changed {
		return e.store.SaveIssueLink(row)
	}
	return nil
}
