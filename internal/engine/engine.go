// Package engine implements the reconciliation core: it receives normalized
// webhook events, reconciles them against persisted mapping state, and
// issues corrective calls to whichever platform is out of date. Handlers are
// idempotent with respect to the mapping store; remote failures are recorded
// and the handler continues best-effort for independent sub-operations.
package engine

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/okralabs/boardsync/internal/gitlab"
	"github.com/okralabs/boardsync/internal/store"
	"github.com/okralabs/boardsync/internal/trello"
)

// ChecklistTitle names the checklist mirrored items are placed on.
const ChecklistTitle = "Issues"

// Label prefixes per governing board role.
const (
	MainBoardPrefix = "#"
	TopBoardPrefix  = "OKR:"
)

// InboxListName is the list newly created parent cards land in.
const InboxListName = "inbox"

// BoardClient is the capability bundle the engine needs from the card-board
// platform.
type BoardClient interface {
	GetBoard(ctx context.Context, boardID string) (*trello.Board, error)
	ListOpenLists(ctx context.Context, boardID string) ([]trello.List, error)
	ListOpenCards(ctx context.Context, boardID string) ([]trello.Card, error)
	GetCard(ctx context.Context, cardID string) (*trello.Card, error)
	GetList(ctx context.Context, listID string) (*trello.List, error)
	CreateCard(ctx context.Context, listID, name, description string) (*trello.Card, error)
	UpdateCardName(ctx context.Context, cardID, name string) error
	UpdateCardDesc(ctx context.Context, cardID, description string) error
	ListLabels(ctx context.Context, boardID string) ([]trello.Label, error)
	CreateLabel(ctx context.Context, boardID, name, color string) (*trello.Label, error)
	AddLabelToCard(ctx context.Context, cardID, labelID string) error
	RemoveLabelFromCard(ctx context.Context, cardID, labelID string) error
	ListChecklists(ctx context.Context, cardID string) ([]trello.Checklist, error)
	CreateChecklist(ctx context.Context, cardID, name string) (*trello.Checklist, error)
	AddChecklistItem(ctx context.Context, checklistID, name string, checked bool) (*trello.ChecklistItem, error)
	UpdateChecklistItemName(ctx context.Context, cardID, itemID, name string) error
	UpdateChecklistItemState(ctx context.Context, cardID, itemID string, checked bool) error
	DeleteChecklistItem(ctx context.Context, checklistID, itemID string) error
	CreateWebhook(ctx context.Context, callbackURL, modelID, description string) (*trello.Webhook, error)
	ListWebhooks(ctx context.Context) ([]trello.Webhook, error)
	DeleteWebhook(ctx context.Context, hookID string) error
}

// TrackerClient is the capability bundle the engine needs from the issue
// tracker.
type TrackerClient interface {
	GetProject(ctx context.Context, projectID string) (*gitlab.Project, error)
	GetMilestone(ctx context.Context, projectID, milestoneID string) (*gitlab.Milestone, error)
	GetTarget(ctx context.Context, projectID, targetKind, iid string) (*gitlab.Target, error)
	UpdateTargetDescription(ctx context.Context, projectID, targetKind, iid, description string) error
	CreateLabel(ctx context.Context, projectID, name string) error
	AddTargetLabel(ctx context.Context, projectID, targetKind, iid, label string) error
	RemoveTargetLabel(ctx context.Context, projectID, targetKind, iid, label string) error
}

// Config carries the board topology and callback addressing the engine
// reconciles against.
type Config struct {
	MainBoardID     string
	TopBoardID      string
	CallbackBaseURL string
}

// Engine is the reconciliation core. It owns all writes to the mapping
// store.
type Engine struct {
	board   BoardClient
	tracker TrackerClient
	store   *store.Store
	cfg     Config
	logger  *zap.Logger
}

// New composes an engine from its collaborators.
func New(board BoardClient, tracker TrackerClient, st *store.Store, cfg Config, logger *zap.Logger) *Engine {
	return &Engine{
		board:   board,
		tracker: tracker,
		store:   st,
		cfg:     cfg,
		logger:  logger,
	}
}

// labelPrefix returns the reserved label prefix governed by a board.
func (e *Engine) labelPrefix(governingBoardID string) string {
	if governingBoardID == e.cfg.TopBoardID {
		return TopBoardPrefix
	}
	return MainBoardPrefix
}

// governingLabel picks the label on a card that is governed by the given
// prefix and returns it with the prefix stripped. The last matching label
// wins. Empty when the card carries none.
func governingLabel(labels []trello.Label, prefix string) string {
	text := ""
	for _, l := range labels {
		if strings.HasPrefix(l.Name, prefix) {
			text = strings.TrimPrefix(l.Name, prefix)
		}
	}
	return strings.TrimSpace(text)
}

// record logs a sub-step failure and appends it to the result.
func (e *Engine) record(res *Result, rerr *Error) {
	e.logger.Warn("reconcile sub-step failed",
		zap.String("op", rerr.Op),
		zap.String("category", rerr.Category.String()),
		zap.Error(rerr.Err),
	)
	res.Errors = append(res.Errors, rerr)
}

// cardWebhookURL addresses the item-level callback for a linked card.
func (e *Engine) cardWebhookURL(parentCardID, itemID string) string {
	return e.cfg.CallbackBaseURL + "/callback/trello/card/" + parentCardID + "/" + itemID
}

// teamBoardWebhookURL addresses the team-board callback.
func (e *Engine) teamBoardWebhookURL() string {
	return e.cfg.CallbackBaseURL + "/callback/trello/teamboard"
}

// mainBoardWebhookURL addresses the main-board callback.
func (e *Engine) mainBoardWebhookURL() string {
	return e.cfg.CallbackBaseURL + "/callback/trello/mainboard"
}
