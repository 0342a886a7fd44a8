package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/okralabs/boardsync/internal/gitlab"
	"github.com/okralabs/boardsync/internal/store"
	"github.com/okralabs/boardsync/internal/trello"
)

// fakeBoard is an in-memory BoardClient. Mutator calls are counted so tests
// can assert that an idempotent replay touches nothing.
type fakeBoard struct {
	cards      map[string]*trello.Card
	lists      map[string][]trello.List      // board ID -> lists
	listBoard  map[string]string             // list ID -> board ID
	labels     map[string][]trello.Label     // board ID -> labels
	checklists map[string][]trello.Checklist // card ID -> checklists
	webhooks   []trello.Webhook

	deleteWebhookErr error
	calls            map[string]int
	seq              int
}

func newFakeBoard() *fakeBoard {
	return &fakeBoard{
		cards:      make(map[string]*trello.Card),
		lists:      make(map[string][]trello.List),
		listBoard:  make(map[string]string),
		labels:     make(map[string][]trello.Label),
		checklists: make(map[string][]trello.Checklist),
		calls:      make(map[string]int),
	}
}

func (f *fakeBoard) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s%d", prefix, f.seq)
}

func (f *fakeBoard) addList(boardID, name string) trello.List {
	l := trello.List{ID: f.nextID("list"), Name: name}
	f.lists[boardID] = append(f.lists[boardID], l)
	f.listBoard[l.ID] = boardID
	return l
}

func (f *fakeBoard) addCard(boardID, listID, name string, labels ...trello.Label) *trello.Card {
	c := &trello.Card{
		ID:       f.nextID("card"),
		Name:     name,
		BoardID:  boardID,
		ListID:   listID,
		Labels:   labels,
		ShortURL: "https://trello.com/c/" + name,
		URL:      "https://trello.com/c/" + name + "/full",
	}
	f.cards[c.ID] = c
	return c
}

// mutations sums every call that would write to the remote board.
func (f *fakeBoard) mutations() int {
	total := 0
	for _, op := range []string{
		"CreateCard", "UpdateCardName", "UpdateCardDesc", "CreateLabel",
		"AddLabelToCard", "RemoveLabelFromCard", "CreateChecklist",
		"AddChecklistItem", "UpdateChecklistItemName", "UpdateChecklistItemState",
		"DeleteChecklistItem", "CreateWebhook", "DeleteWebhook",
	} {
		total += f.calls[op]
	}
	return total
}

func (f *fakeBoard) GetBoard(_ context.Context, boardID string) (*trello.Board, error) {
	return &trello.Board{ID: boardID, Name: "Board " + boardID}, nil
}

func (f *fakeBoard) ListOpenLists(_ context.Context, boardID string) ([]trello.List, error) {
	return f.lists[boardID], nil
}

func (f *fakeBoard) ListOpenCards(_ context.Context, boardID string) ([]trello.Card, error) {
	var out []trello.Card
	for _, c := range f.cards {
		if c.BoardID == boardID && !c.Closed {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeBoard) GetCard(_ context.Context, cardID string) (*trello.Card, error) {
	c, ok := f.cards[cardID]
	if !ok {
		return nil, trello.ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (f *fakeBoard) GetList(_ context.Context, listID string) (*trello.List, error) {
	boardID, ok := f.listBoard[listID]
	if !ok {
		return nil, trello.ErrNotFound
	}
	for _, l := range f.lists[boardID] {
		if l.ID == listID {
			return &l, nil
		}
	}
	return nil, trello.ErrNotFound
}

func (f *fakeBoard) CreateCard(_ context.Context, listID, name, description string) (*trello.Card, error) {
	f.calls["CreateCard"]++
	c := &trello.Card{
		ID:       f.nextID("card"),
		Name:     name,
		Desc:     description,
		BoardID:  f.listBoard[listID],
		ListID:   listID,
		ShortURL: "https://trello.com/c/" + name,
		URL:      "https://trello.com/c/" + name + "/full",
	}
	f.cards[c.ID] = c
	return c, nil
}

func (f *fakeBoard) UpdateCardName(_ context.Context, cardID, name string) error {
	f.calls["UpdateCardName"]++
	c, ok := f.cards[cardID]
	if !ok {
		return trello.ErrNotFound
	}
	c.Name = name
	return nil
}

func (f *fakeBoard) UpdateCardDesc(_ context.Context, cardID, description string) error {
	f.calls["UpdateCardDesc"]++
	c, ok := f.cards[cardID]
	if !ok {
		return trello.ErrNotFound
	}
	c.Desc = description
	return nil
}

func (f *fakeBoard) ListLabels(_ context.Context, boardID string) ([]trello.Label, error) {
	return f.labels[boardID], nil
}

func (f *fakeBoard) CreateLabel(_ context.Context, boardID, name, color string) (*trello.Label, error) {
	f.calls["CreateLabel"]++
	l := trello.Label{ID: f.nextID("label"), Name: name, Color: color}
	f.labels[boardID] = append(f.labels[boardID], l)
	return &l, nil
}

func (f *fakeBoard) AddLabelToCard(_ context.Context, cardID, labelID string) error {
	f.calls["AddLabelToCard"]++
	c, ok := f.cards[cardID]
	if !ok {
		return trello.ErrNotFound
	}
	for _, labels := range f.labels {
		for _, l := range labels {
			if l.ID == labelID {
				c.Labels = append(c.Labels, l)
				return nil
			}
		}
	}
	return trello.ErrNotFound
}

func (f *fakeBoard) RemoveLabelFromCard(_ context.Context, cardID, labelID string) error {
	f.calls["RemoveLabelFromCard"]++
	c, ok := f.cards[cardID]
	if !ok {
		return trello.ErrNotFound
	}
	var kept []trello.Label
	for _, l := range c.Labels {
		if l.ID != labelID {
			kept = append(kept, l)
		}
	}
	c.Labels = kept
	return nil
}

func (f *fakeBoard) ListChecklists(_ context.Context, cardID string) ([]trello.Checklist, error) {
	return f.checklists[cardID], nil
}

func (f *fakeBoard) CreateChecklist(_ context.Context, cardID, name string) (*trello.Checklist, error) {
	f.calls["CreateChecklist"]++
	cl := trello.Checklist{ID: f.nextID("cl"), Name: name, CardID: cardID}
	f.checklists[cardID] = append(f.checklists[cardID], cl)
	return &cl, nil
}

func (f *fakeBoard) AddChecklistItem(_ context.Context, checklistID, name string, checked bool) (*trello.ChecklistItem, error) {
	f.calls["AddChecklistItem"]++
	state := "incomplete"
	if checked {
		state = "complete"
	}
	item := trello.ChecklistItem{ID: f.nextID("item"), Name: name, State: state}
	for cardID, cls := range f.checklists {
		for i := range cls {
			if cls[i].ID == checklistID {
				f.checklists[cardID][i].Items = append(f.checklists[cardID][i].Items, item)
				return &item, nil
			}
		}
	}
	return nil, trello.ErrNotFound
}

func (f *fakeBoard) UpdateChecklistItemName(_ context.Context, cardID, itemID, name string) error {
	f.calls["UpdateChecklistItemName"]++
	return f.patchItem(cardID, itemID, func(item *trello.ChecklistItem) { item.Name = name })
}

func (f *fakeBoard) UpdateChecklistItemState(_ context.Context, cardID, itemID string, checked bool) error {
	f.calls["UpdateChecklistItemState"]++
	state := "incomplete"
	if checked {
		state = "complete"
	}
	return f.patchItem(cardID, itemID, func(item *trello.ChecklistItem) { item.State = state })
}

func (f *fakeBoard) patchItem(cardID, itemID string, patch func(*trello.ChecklistItem)) error {
	for i, cl := range f.checklists[cardID] {
		for j := range cl.Items {
			if cl.Items[j].ID == itemID {
				patch(&f.checklists[cardID][i].Items[j])
				return nil
			}
		}
	}
	return trello.ErrNotFound
}

func (f *fakeBoard) DeleteChecklistItem(_ context.Context, checklistID, itemID string) error {
	f.calls["DeleteChecklistItem"]++
	for cardID, cls := range f.checklists {
		for i := range cls {
			if cls[i].ID != checklistID {
				continue
			}
			var kept []trello.ChecklistItem
			for _, item := range cls[i].Items {
				if item.ID != itemID {
					kept = append(kept, item)
				}
			}
			f.checklists[cardID][i].Items = kept
			return nil
		}
	}
	return trello.ErrNotFound
}

func (f *fakeBoard) CreateWebhook(_ context.Context, callbackURL, modelID, description string) (*trello.Webhook, error) {
	f.calls["CreateWebhook"]++
	h := trello.Webhook{
		ID:          f.nextID("hook"),
		ModelID:     modelID,
		CallbackURL: callbackURL,
		Description: description,
		Active:      true,
	}
	f.webhooks = append(f.webhooks, h)
	return &h, nil
}

func (f *fakeBoard) ListWebhooks(_ context.Context) ([]trello.Webhook, error) {
	return f.webhooks, nil
}

func (f *fakeBoard) DeleteWebhook(_ context.Context, hookID string) error {
	f.calls["DeleteWebhook"]++
	if f.deleteWebhookErr != nil {
		return f.deleteWebhookErr
	}
	var kept []trello.Webhook
	for _, h := range f.webhooks {
		if h.ID != hookID {
			kept = append(kept, h)
		}
	}
	f.webhooks = kept
	return nil
}

// fakeTracker is an in-memory TrackerClient.
type fakeTracker struct {
	projects   map[string]*gitlab.Project
	milestones map[string]*gitlab.Milestone // projectID/milestoneID
	targets    map[string]*gitlab.Target    // projectID/kind/iid
	calls      map[string]int
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		projects:   make(map[string]*gitlab.Project),
		milestones: make(map[string]*gitlab.Milestone),
		targets:    make(map[string]*gitlab.Target),
		calls:      make(map[string]int),
	}
}

func (f *fakeTracker) addTarget(projectID, kind, iid string, t *gitlab.Target) {
	f.targets[projectID+"/"+kind+"/"+iid] = t
}

func (f *fakeTracker) GetProject(_ context.Context, projectID string) (*gitlab.Project, error) {
	p, ok := f.projects[projectID]
	if !ok {
		return nil, gitlab.ErrNotFound
	}
	return p, nil
}

func (f *fakeTracker) GetMilestone(_ context.Context, projectID, milestoneID string) (*gitlab.Milestone, error) {
	m, ok := f.milestones[projectID+"/"+milestoneID]
	if !ok {
		return nil, gitlab.ErrNotFound
	}
	return m, nil
}

func (f *fakeTracker) GetTarget(_ context.Context, projectID, targetKind, iid string) (*gitlab.Target, error) {
	t, ok := f.targets[projectID+"/"+targetKind+"/"+iid]
	if !ok {
		return nil, gitlab.ErrNotFound
	}
	copied := *t
	return &copied, nil
}

func (f *fakeTracker) UpdateTargetDescription(_ context.Context, projectID, targetKind, iid, description string) error {
	f.calls["UpdateTargetDescription"]++
	t, ok := f.targets[projectID+"/"+targetKind+"/"+iid]
	if !ok {
		return gitlab.ErrNotFound
	}
	t.Description = description
	return nil
}

func (f *fakeTracker) CreateLabel(_ context.Context, projectID, name string) error {
	f.calls["CreateLabel"]++
	return nil
}

func (f *fakeTracker) AddTargetLabel(_ context.Context, projectID, targetKind, iid, label string) error {
	f.calls["AddTargetLabel"]++
	t, ok := f.targets[projectID+"/"+targetKind+"/"+iid]
	if !ok {
		return gitlab.ErrNotFound
	}
	t.Labels = append(t.Labels, label)
	return nil
}

func (f *fakeTracker) RemoveTargetLabel(_ context.Context, projectID, targetKind, iid, label string) error {
	f.calls["RemoveTargetLabel"]++
	t, ok := f.targets[projectID+"/"+targetKind+"/"+iid]
	if !ok {
		return gitlab.ErrNotFound
	}
	var kept []string
	for _, l := range t.Labels {
		if l != label {
			kept = append(kept, l)
		}
	}
	t.Labels = kept
	return nil
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open("file:"+t.Name()+"?mode=memory&cache=shared", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testEngine(t *testing.T, board *fakeBoard, tracker *fakeTracker) (*Engine, *store.Store) {
	t.Helper()
	st := testStore(t)
	eng := New(board, tracker, st, Config{
		MainBoardID:     "main",
		TopBoardID:      "top",
		CallbackBaseURL: "https://sync.example.com",
	}, zap.NewNop())
	return eng, st
}
