package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okralabs/boardsync/internal/events"
	"github.com/okralabs/boardsync/internal/gitlab"
	"github.com/okralabs/boardsync/internal/models"
	"github.com/okralabs/boardsync/internal/trello"
)

func issueEvent(action string) *events.TrackerEvent {
	return &events.TrackerEvent{
		EventID:   "issue-99-" + action,
		Action:    action,
		Kind:      models.TargetIssue,
		IID:       "7",
		ProjectID: "42",
		Title:     "Fix flaky test",
		URL:       "https://gitlab.example.com/g/p/-/issues/7",
		Labels:    []string{"backend"},
	}
}

func TestTrackerEventLinksMatchingCards(t *testing.T) {
	board := newFakeBoard()
	doing := board.addList("team1", "Doing")
	matching := board.addCard("team1", doing.ID, "task", trello.Label{ID: "l1", Name: "backend"})
	board.addCard("team1", doing.ID, "unrelated")

	tracker := newFakeTracker()
	tracker.projects["42"] = &gitlab.Project{ID: 42, NameWithNamespace: "group / proj"}
	tracker.addTarget("42", models.TargetIssue, "7", &gitlab.Target{
		IID: 7, ProjectID: 42, State: "opened",
		WebURL: "https://gitlab.example.com/g/p/-/issues/7",
	})

	eng, st := testEngine(t, board, tracker)
	require.NoError(t, st.CreateBoard(&models.Board{TrelloID: "team1", Role: models.RoleTeam}))

	res, err := eng.HandleTrackerEvent(context.Background(), issueEvent("open"))
	require.NoError(t, err)
	assert.False(t, res.Failed())

	rows, err := st.ListIssueLinks("42", "7", models.TargetIssue)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, matching.ID, rows[0].ParentCardID)
	assert.Equal(t, "backend", rows[0].Label)
	assert.Equal(t, "[group / proj / Fix flaky test](https://gitlab.example.com/g/p/-/issues/7)", rows[0].ItemName)

	// the card gained the mirrored checklist item
	require.Len(t, board.checklists[matching.ID], 1)
	require.Len(t, board.checklists[matching.ID][0].Items, 1)

	// the target description gained the card back-link
	assert.Contains(t, tracker.targets["42/issue/7"].Description, matching.URL)
}

func TestTrackerEventReplayIsIdempotent(t *testing.T) {
	board := newFakeBoard()
	doing := board.addList("team1", "Doing")
	board.addCard("team1", doing.ID, "task", trello.Label{ID: "l1", Name: "backend"})

	tracker := newFakeTracker()
	tracker.projects["42"] = &gitlab.Project{ID: 42, NameWithNamespace: "group / proj"}
	tracker.addTarget("42", models.TargetIssue, "7", &gitlab.Target{
		IID: 7, ProjectID: 42, State: "opened",
		WebURL: "https://gitlab.example.com/g/p/-/issues/7",
	})

	eng, st := testEngine(t, board, tracker)
	require.NoError(t, st.CreateBoard(&models.Board{TrelloID: "team1", Role: models.RoleTeam}))
	ctx := context.Background()

	_, err := eng.HandleTrackerEvent(ctx, issueEvent("open"))
	require.NoError(t, err)

	boardBefore := board.mutations()
	descBefore := tracker.calls["UpdateTargetDescription"]

	// GitLab redelivers with the description the first pass wrote
	ev := issueEvent("update")
	ev.Description = tracker.targets["42/issue/7"].Description
	res, err := eng.HandleTrackerEvent(ctx, ev)
	require.NoError(t, err)
	assert.False(t, res.Failed())

	assert.Equal(t, boardBefore, board.mutations())
	assert.Equal(t, descBefore, tracker.calls["UpdateTargetDescription"])
}

func TestTrackerCloseChecksEveryParent(t *testing.T) {
	board := newFakeBoard()
	doing := board.addList("team1", "Doing")
	p1 := board.addCard("team1", doing.ID, "task-a")
	p2 := board.addCard("team1", doing.ID, "task-b")
	board.checklists[p1.ID] = []trello.Checklist{{ID: "cl1", CardID: p1.ID,
		Items: []trello.ChecklistItem{{ID: "i1", State: "incomplete"}}}}
	board.checklists[p2.ID] = []trello.Checklist{{ID: "cl2", CardID: p2.ID,
		Items: []trello.ChecklistItem{{ID: "i2", State: "incomplete"}}}}

	eng, st := testEngine(t, board, newFakeTracker())

	for card, item := range map[string]string{p1.ID: "i1", p2.ID: "i2"} {
		require.NoError(t, st.CreateIssueLink(&models.IssueLink{
			IssueID: "7", ProjectID: "42", ParentCardID: card,
			ItemID: item, TargetKind: models.TargetIssue,
		}))
	}

	ev := issueEvent("close")
	ev.Closed = true
	res, err := eng.HandleTrackerStateChange(context.Background(), ev)
	require.NoError(t, err)
	assert.False(t, res.Failed())

	assert.Equal(t, 2, board.calls["UpdateChecklistItemState"])
	rows, err := st.ListIssueLinks("42", "7", models.TargetIssue)
	require.NoError(t, err)
	for _, row := range rows {
		assert.True(t, row.Checked)
	}

	// replaying the close touches nothing
	before := board.mutations()
	_, err = eng.HandleTrackerStateChange(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, before, board.mutations())
}

func TestTrackerEventTearsDownOrphanedRows(t *testing.T) {
	board := newFakeBoard()
	doing := board.addList("team1", "Doing")
	card := board.addCard("team1", doing.ID, "task") // label no longer present
	board.checklists[card.ID] = []trello.Checklist{{ID: "cl1", CardID: card.ID,
		Items: []trello.ChecklistItem{{ID: "i1", State: "incomplete"}}}}

	tracker := newFakeTracker()
	tracker.projects["42"] = &gitlab.Project{ID: 42, Name: "proj"}
	tracker.addTarget("42", models.TargetIssue, "7", &gitlab.Target{
		IID: 7, ProjectID: 42, State: "opened",
		WebURL: "https://gitlab.example.com/g/p/-/issues/7",
	})

	eng, st := testEngine(t, board, tracker)
	require.NoError(t, st.CreateBoard(&models.Board{TrelloID: "team1", Role: models.RoleTeam}))
	require.NoError(t, st.CreateIssueLink(&models.IssueLink{
		IssueID: "7", ProjectID: "42", ParentCardID: card.ID,
		ItemID: "i1", Label: "backend", TargetKind: models.TargetIssue,
	}))

	res, err := eng.HandleTrackerEvent(context.Background(), issueEvent("update"))
	require.NoError(t, err)
	assert.False(t, res.Failed())

	rows, err := st.ListIssueLinks("42", "7", models.TargetIssue)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Empty(t, board.checklists[card.ID][0].Items)
}

func TestTrackerAssigneeFoldsIntoCardMembers(t *testing.T) {
	board := newFakeBoard()
	doing := board.addList("team1", "Doing")
	card := board.addCard("team1", doing.ID, "task", trello.Label{ID: "l1", Name: "backend"})

	tracker := newFakeTracker()
	tracker.projects["42"] = &gitlab.Project{ID: 42, Name: "proj"}
	tracker.addTarget("42", models.TargetIssue, "7", &gitlab.Target{
		IID: 7, ProjectID: 42, State: "opened",
		WebURL: "https://gitlab.example.com/g/p/-/issues/7",
	})

	eng, st := testEngine(t, board, tracker)
	require.NoError(t, st.CreateBoard(&models.Board{TrelloID: "team1", Role: models.RoleTeam}))
	require.NoError(t, st.ImportEmails([]models.EmailEntry{
		{Username: "alice", Email: "alice@example.com"},
	}))

	ev := issueEvent("update")
	ev.AssigneeUsername = "alice"
	ev.Description = "needs review from @bob"
	_, err := eng.HandleTrackerEvent(context.Background(), ev)
	require.NoError(t, err)

	got, err := board.GetCard(context.Background(), card.ID)
	require.NoError(t, err)
	assert.Contains(t, got.Desc, "members: alice@example.com, bob")
}
