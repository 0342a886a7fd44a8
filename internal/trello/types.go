package trello

// Board is the subset of the Trello board resource the sync reads.
type Board struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// List is an open list on a board.
type List struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Label is a board-level label.
type Label struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Card is the subset of the card resource the sync reads and mutates.
type Card struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Desc     string  `json:"desc"`
	Closed   bool    `json:"closed"`
	BoardID  string  `json:"idBoard"`
	ListID   string  `json:"idList"`
	ShortURL string  `json:"shortUrl"`
	URL      string  `json:"url"`
	Labels   []Label `json:"labels"`
}

// ChecklistItem is one entry of a checklist. State is "complete" or
// "incomplete" on the wire.
type ChecklistItem struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
}

// Checked reports whether the item is complete.
func (i ChecklistItem) Checked() bool {
	return i.State == "complete"
}

// Checklist is a checklist on a card.
type Checklist struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	CardID string          `json:"idCard"`
	Items  []ChecklistItem `json:"checkItems"`
}

// Webhook is a webhook registration.
type Webhook struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	ModelID     string `json:"idModel"`
	CallbackURL string `json:"callbackURL"`
	Active      bool   `json:"active"`
}
