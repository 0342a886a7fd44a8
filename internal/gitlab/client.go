// Package gitlab wraps the GitLab REST API surface used by the sync.
package gitlab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// LabelColor is the fixed color applied to labels the sync creates.
const LabelColor = "#5843AD"

// ErrNotFound marks a 404 from the remote API.
var ErrNotFound = errors.New("gitlab: resource not found")

// ErrUnauthorized marks revoked or invalid credentials for a resource.
var ErrUnauthorized = errors.New("gitlab: unauthorized")

// Client wraps GitLab API client functionality.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *zap.Logger
}

// NewClient creates a new GitLab client. baseURL points at the API root,
// e.g. https://gitlab.example.com/api/v4.
func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(context.Background(), src)
	httpClient.Timeout = 30 * time.Second

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		logger:     logger,
	}
}

// SetBaseURL overrides the API endpoint. Used by tests.
func (c *Client) SetBaseURL(base string) {
	c.baseURL = strings.TrimSuffix(base, "/")
}

func kindPath(targetKind string) string {
	if targetKind == "merge_request" {
		return "merge_requests"
	}
	return "issues"
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, out interface{}) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.send(req, method, path, out)
}

// doForm sends params form-encoded in the request body instead of the query
// string. Free-text fields like descriptions can exceed URL length limits.
func (c *Client) doForm(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.send(req, method, path, out)
}

func (c *Client) send(req *http.Request, method, path string, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach gitlab: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s %s", ErrUnauthorized, method, path)
	case resp.StatusCode >= 400:
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gitlab returned %s for %s %s: %s", resp.Status, method, path, string(data))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode gitlab response: %w", err)
	}
	return nil
}

// GetProject fetches a project by id.
func (c *Client) GetProject(ctx context.Context, projectID string) (*Project, error) {
	var project Project
	if err := c.do(ctx, http.MethodGet, "/projects/"+projectID, nil, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// GetMilestone fetches a project milestone by id.
func (c *Client) GetMilestone(ctx context.Context, projectID, milestoneID string) (*Milestone, error) {
	var milestone Milestone
	path := "/projects/" + projectID + "/milestones/" + milestoneID
	if err := c.do(ctx, http.MethodGet, path, nil, &milestone); err != nil {
		return nil, err
	}
	return &milestone, nil
}

// GetTarget fetches an issue or merge request by project and iid.
func (c *Client) GetTarget(ctx context.Context, projectID, targetKind, iid string) (*Target, error) {
	var target Target
	path := "/projects/" + projectID + "/" + kindPath(targetKind) + "/" + iid
	if err := c.do(ctx, http.MethodGet, path, nil, &target); err != nil {
		return nil, err
	}
	return &target, nil
}

// UpdateTargetDescription replaces the description of an issue or merge
// request.
func (c *Client) UpdateTargetDescription(ctx context.Context, projectID, targetKind, iid, description string) error {
	form := url.Values{"description": {description}}
	path := "/projects/" + projectID + "/" + kindPath(targetKind) + "/" + iid
	return c.doForm(ctx, http.MethodPut, path, form, nil)
}

// CreateLabel defines a project label. A label that already exists is not an
// error.
func (c *Client) CreateLabel(ctx context.Context, projectID, name string) error {
	params := url.Values{
		"name":  {name},
		"color": {LabelColor},
	}
	err := c.do(ctx, http.MethodPost, "/projects/"+projectID+"/labels", params, nil)
	if err != nil && strings.Contains(err.Error(), "already exists") {
		c.logger.Debug("label already exists",
			zap.String("project_id", projectID),
			zap.String("label", name),
		)
		return nil
	}
	return err
}

// AddTargetLabel attaches a label to an issue or merge request, keeping its
// existing labels.
func (c *Client) AddTargetLabel(ctx context.Context, projectID, targetKind, iid, label string) error {
	params := url.Values{"add_labels": {label}}
	path := "/projects/" + projectID + "/" + kindPath(targetKind) + "/" + iid
	return c.do(ctx, http.MethodPut, path, params, nil)
}

// RemoveTargetLabel detaches a label from an issue or merge request.
func (c *Client) RemoveTargetLabel(ctx context.Context, projectID, targetKind, iid, label string) error {
	params := url.Values{"remove_labels": {label}}
	path := "/projects/" + projectID + "/" + kindPath(targetKind) + "/" + iid
	return c.do(ctx, http.MethodPut, path, params, nil)
}
