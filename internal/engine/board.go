package engine

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/okralabs/boardsync/internal/desc"
	"github.com/okralabs/boardsync/internal/events"
	"github.com/okralabs/boardsync/internal/models"
	"github.com/okralabs/boardsync/internal/trello"
)

// childParentKey is the structured-description key on a team-board card
// pointing at the parent card it is mirrored on.
const childParentKey = "parent card"

// membersKey is the structured-description key holding the merged member
// list on a parent card.
const membersKey = "members"

// itemState is the derived display state of a mirrored card: the checklist
// item title and checked flag it should have on its parent.
type itemState struct {
	Title   string
	Checked bool
}

// HandleBoardEvent reconciles a generic board-tool event (label add/remove,
// card update, checklist state change, member add) for the card it names.
// governingBoardID is the board parent cards live on for this event source.
func (e *Engine) HandleBoardEvent(ctx context.Context, governingBoardID string, ev *events.BoardEvent) (*Result, error) {
	res := &Result{}

	link, err := e.store.GetCardLink(ev.CardID)
	if err != nil {
		return res, err
	}

	card, err := e.board.GetCard(ctx, ev.CardID)
	if err != nil {
		if isNotFound(err) {
			// card vanished between delivery and processing
			if link != nil {
				e.removeChecklistItem(ctx, res, link.ParentCardID, link.ItemID, link.HookID)
				if err := e.store.DeleteCardLink(link); err != nil {
					return res, err
				}
			}
			return res, nil
		}
		e.record(res, remoteError("get card "+ev.CardID, err))
		return res, nil
	}

	prefix := e.labelPrefix(governingBoardID)
	labelText := governingLabel(card.Labels, prefix)

	if link != nil && link.Label != labelText {
		// governing label removed or swapped: unlink before relinking
		e.removeChecklistItem(ctx, res, link.ParentCardID, link.ItemID, link.HookID)
		e.setChildParentRef(ctx, res, card, "")
		if err := e.store.DeleteCardLink(link); err != nil {
			return res, err
		}
		link = nil
	}

	if labelText != "" {
		state := e.childState(ctx, res, card)

		if link == nil {
			parent := e.findOrCreateParentCard(ctx, res, governingBoardID, labelText)
			if parent == nil {
				return res, nil
			}

			itemID, hookID, hookURL, ok := e.addChecklistItem(ctx, res, parent.ID, state.Title, state.Checked)
			if !ok {
				return res, nil
			}

			link = &models.CardLink{
				CardID:       card.ID,
				BoardID:      card.BoardID,
				ParentCardID: parent.ID,
				ItemID:       itemID,
				ItemName:     state.Title,
				Checked:      state.Checked,
				Label:        labelText,
				HookID:       hookID,
				HookURL:      hookURL,
			}
			if err := e.store.CreateCardLink(link); err != nil {
				return res, err
			}
			e.logger.Info("linked card",
				zap.String("card_id", card.ID),
				zap.String("parent_card_id", parent.ID),
				zap.String("label", labelText),
			)

			e.setChildParentRef(ctx, res, card, parent.URL)

			if governingBoardID == e.cfg.MainBoardID {
				e.inheritParentOKRLabel(ctx, res, parent, card)
			}
		} else {
			changed := false
			if state.Title != link.ItemName {
				err := e.board.UpdateChecklistItemName(ctx, link.ParentCardID, link.ItemID, state.Title)
				if err != nil {
					e.record(res, remoteError("rename checklist item "+link.ItemID, err))
				} else {
					link.ItemName = state.Title
					changed = true
				}
			}
			if state.Checked != link.Checked {
				err := e.board.UpdateChecklistItemState(ctx, link.ParentCardID, link.ItemID, state.Checked)
				if err != nil {
					e.record(res, remoteError("set checklist item state "+link.ItemID, err))
				} else {
					link.Checked = state.Checked
					changed = true
				}
			}
			if changed {
				if err := e.store.SaveCardLink(link); err != nil {
					return res, err
				}
			}
		}
	}

	if link != nil && ev.MemberUsername != "" {
		e.foldMembers(ctx, res, link.ParentCardID, []string{ev.MemberUsername})
	}

	if ev.Action == events.ActionUpdateCard && ev.HasOldDesc {
		if rerr := e.reconcileTargets(ctx, res, card); rerr != nil {
			return res, rerr
		}
	}

	if governingBoardID == e.cfg.TopBoardID && strings.HasPrefix(ev.LabelName, TopBoardPrefix) {
		switch ev.Action {
		case events.ActionAddLabelToCard:
			if err := e.propagateOKRLabel(ctx, res, ev.CardID, ev.LabelName, ev.LabelColor, true); err != nil {
				return res, err
			}
		case events.ActionRemoveLabelFromCard:
			if err := e.propagateOKRLabel(ctx, res, ev.CardID, ev.LabelName, ev.LabelColor, false); err != nil {
				return res, err
			}
		}
	}

	return res, nil
}

// HandleDeleteCard tears down the mapping for a deleted card: checklist item
// and item-level webhook best-effort, mapping row hard-deleted.
func (e *Engine) HandleDeleteCard(ctx context.Context, ev *events.BoardEvent) (*Result, error) {
	res := &Result{}

	link, err := e.store.GetCardLink(ev.CardID)
	if err != nil {
		return res, err
	}
	if link == nil {
		return res, nil
	}

	e.removeChecklistItem(ctx, res, link.ParentCardID, link.ItemID, link.HookID)
	if err := e.store.DeleteCardLink(link); err != nil {
		return res, err
	}

	e.logger.Info("unlinked deleted card", zap.String("card_id", ev.CardID))
	return res, nil
}

// HandleUpdateLabel renames the matched parent card once and bulk-updates
// every mapping row sharing the old label in a single pass.
func (e *Engine) HandleUpdateLabel(ctx context.Context, governingBoardID string, ev *events.BoardEvent) (*Result, error) {
	res := &Result{}

	prefix := e.labelPrefix(governingBoardID)
	oldText := strings.TrimSpace(strings.TrimPrefix(ev.OldLabelName, prefix))
	newText := strings.TrimSpace(strings.TrimPrefix(ev.LabelName, prefix))
	if oldText == "" || newText == "" || oldText == newText {
		return res, nil
	}

	cards, err := e.board.ListOpenCards(ctx, governingBoardID)
	if err != nil {
		e.record(res, remoteError("list cards "+governingBoardID, err))
		return res, nil
	}
	for _, card := range cards {
		if card.Name == oldText {
			if err := e.board.UpdateCardName(ctx, card.ID, newText); err != nil {
				e.record(res, remoteError("rename card "+card.ID, err))
			}
			break
		}
	}

	updated, err := e.store.RenameLabel(oldText, newText)
	if err != nil {
		return res, err
	}
	e.logger.Info("renamed label",
		zap.String("old", oldText),
		zap.String("new", newText),
		zap.Int64("rows", updated),
	)
	return res, nil
}

// childState derives the checklist item title and checked flag for a card
// from its own checklist completion, falling back to the (#NN) marker in its
// list name.
func (e *Engine) childState(ctx context.Context, res *Result, card *trello.Card) itemState {
	listName := ""
	if card.ListID != "" {
		list, err := e.board.GetList(ctx, card.ListID)
		if err != nil {
			e.record(res, remoteError("get list "+card.ListID, err))
		} else {
			listName = list.Name
		}
	}

	percent, hasPercent := 0, false
	checklists, err := e.board.ListChecklists(ctx, card.ID)
	if err != nil {
		e.record(res, remoteError("list checklists "+card.ID, err))
	} else {
		total, done := 0, 0
		for _, cl := range checklists {
			for _, item := range cl.Items {
				total++
				if item.Checked() {
					done++
				}
			}
		}
		if total > 0 {
			percent = done * 100 / total
			hasPercent = true
		}
	}
	if !hasPercent {
		percent, hasPercent = desc.ListProgress(listName)
	}

	url := card.ShortURL
	if url == "" {
		url = card.URL
	}
	return itemState{
		Title:   desc.ItemTitle(percent, hasPercent, url, listName),
		Checked: hasPercent && percent == 100,
	}
}

// findOrCreateParentCard locates the open card named after the label on the
// governing board, creating one in the inbox list when absent.
func (e *Engine) findOrCreateParentCard(ctx context.Context, res *Result, boardID, name string) *trello.Card {
	cards, err := e.board.ListOpenCards(ctx, boardID)
	if err != nil {
		e.record(res, remoteError("list cards "+boardID, err))
		return nil
	}
	for i := range cards {
		if cards[i].Name == name {
			return &cards[i]
		}
	}

	lists, err := e.board.ListOpenLists(ctx, boardID)
	if err != nil {
		e.record(res, remoteError("list lists "+boardID, err))
		return nil
	}
	var inbox *trello.List
	for i := range lists {
		if strings.ToLower(lists[i].Name) == InboxListName {
			inbox = &lists[i]
			break
		}
	}
	if inbox == nil {
		e.record(res, &Error{
			Category: CategoryInvariant,
			Op:       "find inbox list on board " + boardID,
			Err:      errNoInboxList,
		})
		return nil
	}

	card, err := e.board.CreateCard(ctx, inbox.ID, name, desc.InitDescription)
	if err != nil {
		e.record(res, remoteError("create parent card "+name, err))
		return nil
	}
	e.logger.Info("created parent card",
		zap.String("card_id", card.ID),
		zap.String("board_id", boardID),
		zap.String("name", name),
	)
	return card
}

// addChecklistItem appends an item to the parent card's checklist (creating
// the checklist when missing) and registers the item-level webhook. A failed
// webhook registration is recorded but does not fail the link.
func (e *Engine) addChecklistItem(ctx context.Context, res *Result, parentCardID, title string, checked bool) (itemID, hookID, hookURL string, ok bool) {
	checklists, err := e.board.ListChecklists(ctx, parentCardID)
	if err != nil {
		e.record(res, remoteError("list checklists "+parentCardID, err))
		return "", "", "", false
	}

	var checklistID string
	if len(checklists) > 0 {
		checklistID = checklists[0].ID
	} else {
		cl, err := e.board.CreateChecklist(ctx, parentCardID, ChecklistTitle)
		if err != nil {
			e.record(res, remoteError("create checklist on "+parentCardID, err))
			return "", "", "", false
		}
		checklistID = cl.ID
	}

	item, err := e.board.AddChecklistItem(ctx, checklistID, title, checked)
	if err != nil {
		e.record(res, remoteError("add checklist item on "+parentCardID, err))
		return "", "", "", false
	}

	hookURL = e.cardWebhookURL(parentCardID, item.ID)
	hook, err := e.board.CreateWebhook(ctx, hookURL, item.ID, "")
	if err != nil {
		e.record(res, remoteError("register item webhook "+item.ID, err))
		return item.ID, "", "", true
	}
	return item.ID, hook.ID, hook.CallbackURL, true
}

// removeChecklistItem deletes the mirrored item and its webhook, swallowing
// not-found responses. This is always best-effort.
func (e *Engine) removeChecklistItem(ctx context.Context, res *Result, parentCardID, itemID, hookID string) {
	checklists, err := e.board.ListChecklists(ctx, parentCardID)
	if err != nil {
		if !isNotFound(err) {
			e.record(res, remoteError("list checklists "+parentCardID, err))
		}
	} else {
		for _, cl := range checklists {
			for _, item := range cl.Items {
				if item.ID == itemID {
					if err := e.board.DeleteChecklistItem(ctx, cl.ID, itemID); err != nil && !isNotFound(err) {
						e.record(res, remoteError("delete checklist item "+itemID, err))
					}
					break
				}
			}
		}
	}

	if hookID != "" {
		if err := e.board.DeleteWebhook(ctx, hookID); err != nil && !isNotFound(err) {
			e.record(res, remoteError("delete item webhook "+hookID, err))
		}
	}
}

// setChildParentRef points the child card's structured description at its
// parent card, or clears the pointer when unlinking.
func (e *Engine) setChildParentRef(ctx context.Context, res *Result, card *trello.Card, parentURL string) {
	cd := desc.ParseCard(card.Desc)
	current, present := cd.Value(childParentKey)
	if parentURL == "" {
		if !present {
			return
		}
		cd.DeleteValue(childParentKey)
	} else {
		if current == parentURL {
			return
		}
		cd.SetValue(childParentKey, parentURL)
	}
	if err := e.board.UpdateCardDesc(ctx, card.ID, cd.Encode()); err != nil {
		e.record(res, remoteError("update card description "+card.ID, err))
	}
}

// foldMembers resolves usernames through the email directory and merges them
// into the parent card's members list. Unknown usernames are kept as-is.
func (e *Engine) foldMembers(ctx context.Context, res *Result, parentCardID string, usernames []string) {
	var members []string
	for _, username := range usernames {
		if username == "" {
			continue
		}
		email, err := e.store.LookupEmail(username)
		if err != nil {
			e.logger.Warn("email lookup failed", zap.String("username", username), zap.Error(err))
			continue
		}
		if email == "" {
			members = append(members, username)
		} else {
			members = append(members, email)
		}
	}
	if len(members) == 0 {
		return
	}

	parent, err := e.board.GetCard(ctx, parentCardID)
	if err != nil {
		e.record(res, remoteError("get parent card "+parentCardID, err))
		return
	}

	cd := desc.ParseCard(parent.Desc)
	before, _ := cd.Value(membersKey)
	cd.SetListValue(membersKey, members)
	after, _ := cd.Value(membersKey)
	if before == after {
		return
	}
	if err := e.board.UpdateCardDesc(ctx, parentCardID, cd.Encode()); err != nil {
		e.record(res, remoteError("update parent description "+parentCardID, err))
	}
}
