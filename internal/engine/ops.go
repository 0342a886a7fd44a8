package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/okralabs/boardsync/internal/events"
	"github.com/okralabs/boardsync/internal/models"
)

// EnsureMainBoardHook registers the main-board webhook when absent. Called
// at startup; a failure here aborts the process.
func (e *Engine) EnsureMainBoardHook(ctx context.Context) error {
	hooks, err := e.board.ListWebhooks(ctx)
	if err != nil {
		return fmt.Errorf("failed to list webhooks: %w", err)
	}
	for _, h := range hooks {
		if h.ModelID == e.cfg.MainBoardID {
			return nil
		}
	}

	_, err = e.board.CreateWebhook(ctx, e.mainBoardWebhookURL(), e.cfg.MainBoardID, "mainboard: "+e.cfg.MainBoardID)
	if err != nil {
		return fmt.Errorf("failed to register main board webhook: %w", err)
	}
	return nil
}

// HookTeamBoard subscribes a team board, persists it, then replays its open
// cards through the generic handler to backfill mapping state.
func (e *Engine) HookTeamBoard(ctx context.Context, boardID string) (*Result, error) {
	res := &Result{}

	existing, err := e.store.GetBoard(boardID)
	if err != nil {
		return res, err
	}

	if existing == nil {
		board, err := e.board.GetBoard(ctx, boardID)
		if err != nil {
			e.record(res, remoteError("get board "+boardID, err))
			return res, nil
		}

		hookID, hookURL := "", ""
		hooks, err := e.board.ListWebhooks(ctx)
		if err != nil {
			e.record(res, remoteError("list webhooks", err))
			return res, nil
		}
		for _, h := range hooks {
			if h.ModelID == boardID {
				hookID, hookURL = h.ID, h.CallbackURL
				break
			}
		}
		if hookID == "" {
			hook, err := e.board.CreateWebhook(ctx, e.teamBoardWebhookURL(), boardID, "teamboard: "+boardID)
			if err != nil {
				e.record(res, remoteError("register team board webhook "+boardID, err))
				return res, nil
			}
			hookID, hookURL = hook.ID, hook.CallbackURL
		}

		if err := e.store.CreateBoard(&models.Board{
			TrelloID: boardID,
			Name:     board.Name,
			Role:     models.RoleTeam,
			HookID:   hookID,
			HookURL:  hookURL,
		}); err != nil {
			return res, err
		}
		e.logger.Info("hooked team board",
			zap.String("board_id", boardID),
			zap.String("hook_id", hookID),
		)
	}

	cards, err := e.board.ListOpenCards(ctx, boardID)
	if err != nil {
		e.record(res, remoteError("list cards "+boardID, err))
		return res, nil
	}
	for i := range cards {
		if len(cards[i].Labels) == 0 {
			continue
		}
		ev := &events.BoardEvent{
			Action:  events.ActionUpdateCard,
			CardID:  cards[i].ID,
			BoardID: boardID,
		}
		sub, err := e.HandleBoardEvent(ctx, e.cfg.MainBoardID, ev)
		res.Errors = append(res.Errors, sub.Errors...)
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

// UnhookTeamBoard deletes the board's webhook registrations and its
// persisted row.
func (e *Engine) UnhookTeamBoard(ctx context.Context, boardID string) (*Result, error) {
	res := &Result{}

	hooks, err := e.board.ListWebhooks(ctx)
	if err != nil {
		e.record(res, remoteError("list webhooks", err))
	} else {
		for _, h := range hooks {
			if h.ModelID != boardID {
				continue
			}
			if err := e.board.DeleteWebhook(ctx, h.ID); err != nil && !isNotFound(err) {
				e.record(res, remoteError("delete webhook "+h.ID, err))
			}
		}
	}

	if err := e.store.DeleteBoard(boardID); err != nil {
		return res, err
	}
	e.logger.Info("unhooked team board", zap.String("board_id", boardID))
	return res, nil
}

// UnhookAll deletes every webhook registered for the token and the board
// rows they belong to.
func (e *Engine) UnhookAll(ctx context.Context) (*Result, error) {
	res := &Result{}

	boards, err := e.store.ListBoards()
	if err != nil {
		return res, err
	}
	boardByHook := make(map[string]string, len(boards))
	for _, b := range boards {
		boardByHook[b.HookID] = b.TrelloID
	}

	hooks, err := e.board.ListWebhooks(ctx)
	if err != nil {
		e.record(res, remoteError("list webhooks", err))
		return res, nil
	}
	for _, h := range hooks {
		if err := e.board.DeleteWebhook(ctx, h.ID); err != nil && !isNotFound(err) {
			e.record(res, remoteError("delete webhook "+h.ID, err))
			continue
		}
		e.logger.Info("deleted webhook",
			zap.String("hook_id", h.ID),
			zap.String("model_id", h.ModelID),
		)
		if trelloID, ok := boardByHook[h.ID]; ok {
			if err := e.store.DeleteBoard(trelloID); err != nil {
				return res, err
			}
		}
	}
	return res, nil
}
