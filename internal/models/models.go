package models

// BoardRole classifies a subscribed board. The top board carries OKR labels,
// the main board aggregates team work, team boards hold the child cards.
type BoardRole int

const (
	RoleTop  BoardRole = 1
	RoleMain BoardRole = 2
	RoleTeam BoardRole = 3
)

// TargetKind values for IssueLink rows.
const (
	TargetIssue        = "issue"
	TargetMergeRequest = "merge_request"
)

// Board is a subscribed Trello board together with its webhook registration.
// At most one active webhook registration exists per board.
type Board struct {
	ID       uint      `gorm:"primaryKey"`
	TrelloID string    `gorm:"uniqueIndex;size:45;not null"`
	Name     string    `gorm:"size:100;not null"`
	Role     BoardRole `gorm:"default:3;not null"`
	HookID   string    `gorm:"size:45;not null"`
	HookURL  string    `gorm:"size:400;not null"`
}

// CardLink maps a team-board card to the checklist item mirroring it on a
// parent card, with denormalized copies of the fields the engine diffs
// against. A card has at most one mapping row.
type CardLink struct {
	ID           uint   `gorm:"primaryKey"`
	CardID       string `gorm:"uniqueIndex;size:45;not null"`
	BoardID      string `gorm:"index;size:45;not null"`
	ParentCardID string `gorm:"index;size:45;not null"`
	ItemID       string `gorm:"index;size:45;not null"`
	ItemName     string `gorm:"size:400;not null"`
	Checked      bool   `gorm:"default:false;not null"`
	Label        string `gorm:"size:100;not null"`
	HookID       string `gorm:"size:45;not null"`
	HookURL      string `gorm:"size:400"`
}

// IssueLink maps a GitLab issue or merge request to the checklist item
// mirroring it on a parent card. One tracker target may be linked under
// several parent cards, one row each.
type IssueLink struct {
	ID           uint   `gorm:"primaryKey"`
	IssueID      string `gorm:"index;size:45;not null"`
	ProjectID    string `gorm:"index;size:45;not null"`
	ParentCardID string `gorm:"index;size:45;not null"`
	ItemID       string `gorm:"index;size:45;not null"`
	ItemName     string `gorm:"size:400;not null"`
	Label        string `gorm:"size:100;not null"`
	Milestone    string `gorm:"size:100;default:'';not null"`
	HookID       string `gorm:"size:45;not null"`
	HookURL      string `gorm:"size:400;not null"`
	Checked      bool   `gorm:"default:false;not null"`
	TargetKind   string `gorm:"size:10;default:'issue';not null"`
}

// EmailEntry resolves a Trello username to an email address. Populated by
// bulk import, read-only during reconciliation.
type EmailEntry struct {
	ID       uint   `gorm:"primaryKey"`
	Username string `gorm:"uniqueIndex;size:45;not null"`
	Email    string `gorm:"size:45;not null"`
}
