// Package events normalizes inbound webhook payloads into the small internal
// event vocabulary consumed by the reconciliation engine. Payloads outside
// the per-source allow-lists, and payloads missing required fields, are
// dropped; the inbound request is always acknowledged regardless.
package events

import "strconv"

// Board-tool actions the sync reacts to.
const (
	ActionAddChecklistToCard         = "addChecklistToCard"
	ActionAddLabelToCard             = "addLabelToCard"
	ActionAddMemberToCard            = "addMemberToCard"
	ActionDeleteCard                 = "deleteCard"
	ActionRemoveLabelFromCard        = "removeLabelFromCard"
	ActionUpdateCard                 = "updateCard"
	ActionUpdateCheckItemStateOnCard = "updateCheckItemStateOnCard"
	ActionUpdateLabel                = "updateLabel"
)

var allowedBoardActions = map[string]bool{
	ActionAddChecklistToCard:         true,
	ActionAddLabelToCard:             true,
	ActionAddMemberToCard:            true,
	ActionDeleteCard:                 true,
	ActionRemoveLabelFromCard:        true,
	ActionUpdateCard:                 true,
	ActionUpdateCheckItemStateOnCard: true,
	ActionUpdateLabel:                true,
}

var allowedTrackerActions = map[string]bool{
	"open":   true,
	"update": true,
	"close":  true,
	"reopen": true,
}

// BoardPayload is the envelope Trello posts to webhook callbacks. Only the
// picked fields are declared.
type BoardPayload struct {
	Action struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Card struct {
				ID        string `json:"id"`
				Name      string `json:"name"`
				Desc      string `json:"desc"`
				ShortLink string `json:"shortLink"`
			} `json:"card"`
			Board struct {
				ID string `json:"id"`
			} `json:"board"`
			Label struct {
				ID    string `json:"id"`
				Name  string `json:"name"`
				Color string `json:"color"`
			} `json:"label"`
			Old struct {
				Name string  `json:"name"`
				Desc *string `json:"desc"`
			} `json:"old"`
		} `json:"data"`
		Member struct {
			Username string `json:"username"`
		} `json:"member"`
	} `json:"action"`
}

// BoardEvent is the normalized snapshot of a board-tool webhook delivery.
// It is the serializable task payload; the raw envelope never crosses the
// queue.
type BoardEvent struct {
	EventID        string `json:"event_id"`
	Action         string `json:"action"`
	CardID         string `json:"card_id"`
	CardName       string `json:"card_name"`
	BoardID        string `json:"board_id"`
	LabelID        string `json:"label_id"`
	LabelName      string `json:"label_name"`
	LabelColor     string `json:"label_color"`
	OldLabelName   string `json:"old_label_name"`
	OldDesc        string `json:"old_desc"`
	HasOldDesc     bool   `json:"has_old_desc"`
	MemberUsername string `json:"member_username"`
}

// NormalizeBoard maps a raw board payload into a BoardEvent. ok is false for
// actions outside the allow-list and for payloads missing the fields the
// action requires.
func NormalizeBoard(p *BoardPayload) (*BoardEvent, bool) {
	action := p.Action.Type
	if !allowedBoardActions[action] {
		return nil, false
	}

	ev := &BoardEvent{
		EventID:        p.Action.ID,
		Action:         action,
		CardID:         p.Action.Data.Card.ID,
		CardName:       p.Action.Data.Card.Name,
		BoardID:        p.Action.Data.Board.ID,
		LabelID:        p.Action.Data.Label.ID,
		LabelName:      p.Action.Data.Label.Name,
		LabelColor:     p.Action.Data.Label.Color,
		OldLabelName:   p.Action.Data.Old.Name,
		MemberUsername: p.Action.Member.Username,
	}
	if p.Action.Data.Old.Desc != nil {
		ev.OldDesc = *p.Action.Data.Old.Desc
		ev.HasOldDesc = true
	}

	switch action {
	case ActionUpdateLabel:
		if ev.LabelName == "" || ev.OldLabelName == "" {
			return nil, false
		}
	default:
		if ev.CardID == "" {
			return nil, false
		}
	}
	return ev, true
}

// TrackerPayload is the envelope GitLab posts for issue and merge request
// events.
type TrackerPayload struct {
	ObjectKind       string `json:"object_kind"`
	ObjectAttributes struct {
		ID              int    `json:"id"`
		IID             int    `json:"iid"`
		Action          string `json:"action"`
		Title           string `json:"title"`
		URL             string `json:"url"`
		State           string `json:"state"`
		Description     string `json:"description"`
		MilestoneID     *int   `json:"milestone_id"`
		ProjectID       int    `json:"project_id"`
		SourceProjectID int    `json:"source_project_id"`
	} `json:"object_attributes"`
	Assignees []struct {
		Username string `json:"username"`
	} `json:"assignees"`
	Labels []struct {
		Title string `json:"title"`
	} `json:"labels"`
}

// TrackerEvent is the normalized snapshot of a tracker webhook delivery.
type TrackerEvent struct {
	EventID          string   `json:"event_id"`
	Action           string   `json:"action"`
	Kind             string   `json:"kind"` // "issue" or "merge_request"
	IID              string   `json:"iid"`
	ProjectID        string   `json:"project_id"`
	Title            string   `json:"title"`
	URL              string   `json:"url"`
	Description      string   `json:"description"`
	MilestoneID      string   `json:"milestone_id"`
	Closed           bool     `json:"closed"`
	AssigneeUsername string   `json:"assignee_username"`
	Labels           []string `json:"labels"`
}

// StateChange reports whether the event is a close/reopen transition rather
// than a content change.
func (e *TrackerEvent) StateChange() bool {
	return e.Action == "close" || e.Action == "reopen"
}

// NormalizeTracker maps a raw tracker payload into a TrackerEvent.
func NormalizeTracker(p *TrackerPayload) (*TrackerEvent, bool) {
	attrs := p.ObjectAttributes
	if !allowedTrackerActions[attrs.Action] {
		return nil, false
	}
	if attrs.IID == 0 {
		return nil, false
	}

	kind := "issue"
	if p.ObjectKind == "merge_request" {
		kind = "merge_request"
	}

	projectID := attrs.ProjectID
	if kind == "merge_request" && attrs.SourceProjectID != 0 {
		projectID = attrs.SourceProjectID
	}
	if projectID == 0 {
		return nil, false
	}

	ev := &TrackerEvent{
		EventID:     kind + "-" + strconv.Itoa(attrs.ID) + "-" + attrs.Action,
		Action:      attrs.Action,
		Kind:        kind,
		IID:         strconv.Itoa(attrs.IID),
		ProjectID:   strconv.Itoa(projectID),
		Title:       attrs.Title,
		URL:         attrs.URL,
		Description: attrs.Description,
		Closed:      attrs.State != "opened" && attrs.State != "reopened",
	}
	if attrs.MilestoneID != nil {
		ev.MilestoneID = strconv.Itoa(*attrs.MilestoneID)
	}
	if len(p.Assignees) > 0 {
		ev.AssigneeUsername = p.Assignees[0].Username
	}
	for _, l := range p.Labels {
		if l.Title != "" {
			ev.Labels = append(ev.Labels, l.Title)
		}
	}
	return ev, true
}
