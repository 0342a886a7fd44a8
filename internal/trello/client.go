// Package trello wraps the Trello REST API surface used by the sync.
package trello

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	retry "github.com/avast/retry-go"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.trello.com/1"

// ErrNotFound marks a 404 or 410 from the remote API. The engine treats
// these as best-effort no-ops.
var ErrNotFound = errors.New("trello: resource not found")

// ErrUnauthorized marks revoked or invalid credentials for a resource.
var ErrUnauthorized = errors.New("trello: unauthorized")

// Client wraps Trello API client functionality.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	token      string
	logger     *zap.Logger
}

// NewClient creates a new Trello client.
func NewClient(apiKey, token string, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		token:      token,
		logger:     logger,
	}
}

// SetBaseURL overrides the API endpoint. Used by tests.
func (c *Client) SetBaseURL(base string) {
	c.baseURL = base
}

// do executes one API request with key/token auth, retrying rate limits and
// transient server errors.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("key", c.apiKey)
	params.Set("token", c.token)
	endpoint := c.baseURL + path + "?" + params.Encode()

	var body []byte
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("failed to reach trello: %w", err)
			}
			defer resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
				return retry.Unrecoverable(fmt.Errorf("%w: %s %s", ErrNotFound, method, path))
			case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
				return retry.Unrecoverable(fmt.Errorf("%w: %s %s", ErrUnauthorized, method, path))
			case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
				return fmt.Errorf("trello returned %s for %s %s", resp.Status, method, path)
			case resp.StatusCode >= 400:
				data, _ := io.ReadAll(resp.Body)
				return retry.Unrecoverable(
					fmt.Errorf("trello returned %s for %s %s: %s", resp.Status, method, path, string(data)))
			}

			body, err = io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("failed to read response: %w", err)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode trello response: %w", err)
	}
	return nil
}

// GetBoard fetches a board by id.
func (c *Client) GetBoard(ctx context.Context, boardID string) (*Board, error) {
	var board Board
	if err := c.do(ctx, http.MethodGet, "/boards/"+boardID, nil, &board); err != nil {
		return nil, err
	}
	return &board, nil
}

// ListOpenLists returns the open lists on a board.
func (c *Client) ListOpenLists(ctx context.Context, boardID string) ([]List, error) {
	params := url.Values{"filter": {"open"}}
	var lists []List
	if err := c.do(ctx, http.MethodGet, "/boards/"+boardID+"/lists", params, &lists); err != nil {
		return nil, err
	}
	return lists, nil
}

// ListOpenCards returns the open cards on a board with their labels.
func (c *Client) ListOpenCards(ctx context.Context, boardID string) ([]Card, error) {
	params := url.Values{"filter": {"open"}}
	var cards []Card
	if err := c.do(ctx, http.MethodGet, "/boards/"+boardID+"/cards", params, &cards); err != nil {
		return nil, err
	}
	return cards, nil
}

// GetCard fetches a card by id.
func (c *Client) GetCard(ctx context.Context, cardID string) (*Card, error) {
	var card Card
	if err := c.do(ctx, http.MethodGet, "/cards/"+cardID, nil, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

// GetList fetches a list by id.
func (c *Client) GetList(ctx context.Context, listID string) (*List, error) {
	var list List
	if err := c.do(ctx, http.MethodGet, "/lists/"+listID, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// CreateCard creates a card at the bottom of a list.
func (c *Client) CreateCard(ctx context.Context, listID, name, description string) (*Card, error) {
	params := url.Values{
		"idList": {listID},
		"name":   {name},
		"desc":   {description},
		"pos":    {"bottom"},
	}
	var card Card
	if err := c.do(ctx, http.MethodPost, "/cards", params, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

// UpdateCardName renames a card.
func (c *Client) UpdateCardName(ctx context.Context, cardID, name string) error {
	params := url.Values{"value": {name}}
	return c.do(ctx, http.MethodPut, "/cards/"+cardID+"/name", params, nil)
}

// UpdateCardDesc replaces a card's description.
func (c *Client) UpdateCardDesc(ctx context.Context, cardID, description string) error {
	params := url.Values{"value": {description}}
	return c.do(ctx, http.MethodPut, "/cards/"+cardID+"/desc", params, nil)
}

// ListLabels returns the labels defined on a board.
func (c *Client) ListLabels(ctx context.Context, boardID string) ([]Label, error) {
	var labels []Label
	if err := c.do(ctx, http.MethodGet, "/boards/"+boardID+"/labels", nil, &labels); err != nil {
		return nil, err
	}
	return labels, nil
}

// CreateLabel defines a new label on a board.
func (c *Client) CreateLabel(ctx context.Context, boardID, name, color string) (*Label, error) {
	params := url.Values{
		"idBoard": {boardID},
		"name":    {name},
		"color":   {color},
	}
	var label Label
	if err := c.do(ctx, http.MethodPost, "/labels", params, &label); err != nil {
		return nil, err
	}
	return &label, nil
}

// AddLabelToCard attaches an existing board label to a card.
func (c *Client) AddLabelToCard(ctx context.Context, cardID, labelID string) error {
	params := url.Values{"value": {labelID}}
	return c.do(ctx, http.MethodPost, "/cards/"+cardID+"/idLabels", params, nil)
}

// RemoveLabelFromCard detaches a label from a card.
func (c *Client) RemoveLabelFromCard(ctx context.Context, cardID, labelID string) error {
	return c.do(ctx, http.MethodDelete, "/cards/"+cardID+"/idLabels/"+labelID, nil, nil)
}

// ListChecklists returns the checklists on a card with their items.
func (c *Client) ListChecklists(ctx context.Context, cardID string) ([]Checklist, error) {
	var checklists []Checklist
	if err := c.do(ctx, http.MethodGet, "/cards/"+cardID+"/checklists", nil, &checklists); err != nil {
		return nil, err
	}
	return checklists, nil
}

// CreateChecklist adds a checklist to a card.
func (c *Client) CreateChecklist(ctx context.Context, cardID, name string) (*Checklist, error) {
	params := url.Values{
		"idCard": {cardID},
		"name":   {name},
	}
	var checklist Checklist
	if err := c.do(ctx, http.MethodPost, "/checklists", params, &checklist); err != nil {
		return nil, err
	}
	return &checklist, nil
}

// AddChecklistItem appends an item to a checklist.
func (c *Client) AddChecklistItem(ctx context.Context, checklistID, name string, checked bool) (*ChecklistItem, error) {
	params := url.Values{
		"name":    {name},
		"checked": {strconv.FormatBool(checked)},
	}
	var item ChecklistItem
	if err := c.do(ctx, http.MethodPost, "/checklists/"+checklistID+"/checkItems", params, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateChecklistItemName renames an item in place.
func (c *Client) UpdateChecklistItemName(ctx context.Context, cardID, itemID, name string) error {
	params := url.Values{"name": {name}}
	return c.do(ctx, http.MethodPut, "/cards/"+cardID+"/checkItem/"+itemID, params, nil)
}

// UpdateChecklistItemState checks or unchecks an item in place.
func (c *Client) UpdateChecklistItemState(ctx context.Context, cardID, itemID string, checked bool) error {
	state := "incomplete"
	if checked {
		state = "complete"
	}
	params := url.Values{"state": {state}}
	return c.do(ctx, http.MethodPut, "/cards/"+cardID+"/checkItem/"+itemID, params, nil)
}

// DeleteChecklistItem removes an item from a checklist.
func (c *Client) DeleteChecklistItem(ctx context.Context, checklistID, itemID string) error {
	return c.do(ctx, http.MethodDelete, "/checklists/"+checklistID+"/checkItems/"+itemID, nil, nil)
}

// CreateWebhook registers a webhook for a model (board, card or checklist
// item).
func (c *Client) CreateWebhook(ctx context.Context, callbackURL, modelID, description string) (*Webhook, error) {
	params := url.Values{
		"callbackURL": {callbackURL},
		"idModel":     {modelID},
		"description": {description},
	}
	var hook Webhook
	if err := c.do(ctx, http.MethodPost, "/webhooks", params, &hook); err != nil {
		return nil, err
	}
	c.logger.Info("registered webhook",
		zap.String("hook_id", hook.ID),
		zap.String("model_id", modelID),
	)
	return &hook, nil
}

// ListWebhooks returns every webhook registered for the configured token.
func (c *Client) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	var hooks []Webhook
	if err := c.do(ctx, http.MethodGet, "/tokens/"+c.token+"/webhooks", nil, &hooks); err != nil {
		return nil, err
	}
	return hooks, nil
}

// DeleteWebhook removes a webhook registration.
func (c *Client) DeleteWebhook(ctx context.Context, hookID string) error {
	return c.do(ctx, http.MethodDelete, "/webhooks/"+hookID, nil, nil)
}
