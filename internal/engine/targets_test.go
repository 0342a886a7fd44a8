package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okralabs/boardsync/internal/desc"
	"github.com/okralabs/boardsync/internal/events"
	"github.com/okralabs/boardsync/internal/gitlab"
	"github.com/okralabs/boardsync/internal/models"
	"github.com/okralabs/boardsync/internal/trello"
)

func TestEmbeddedTargetRefsReconcile(t *testing.T) {
	board := newFakeBoard()
	board.addList("main", "inbox")
	doing := board.addList("team1", "Doing (#50)")
	child := board.addCard("team1", doing.ID, "task", trello.Label{ID: "l1", Name: "#backend"})
	board.cards[child.ID].Desc = "Tracking:\n<\n$GLIS:42:7\n>"

	tracker := newFakeTracker()
	tracker.projects["42"] = &gitlab.Project{ID: 42, Name: "proj"}
	tracker.addTarget("42", models.TargetIssue, "7", &gitlab.Target{
		IID: 7, ProjectID: 42, Title: "Fix it", State: "opened",
		WebURL: "https://gitlab.example.com/g/p/-/issues/7",
	})

	eng, st := testEngine(t, board, tracker)
	ctx := context.Background()

	olddesc := ""
	ev := &events.BoardEvent{
		Action:     events.ActionUpdateCard,
		CardID:     child.ID,
		BoardID:    "team1",
		OldDesc:    olddesc,
		HasOldDesc: true,
	}
	res, err := eng.HandleBoardEvent(ctx, "main", ev)
	require.NoError(t, err)
	assert.False(t, res.Failed())

	// a row keyed to the embedding card, plus a checklist item on it
	rows, err := st.ListIssueLinksByParent(child.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "7", rows[0].IssueID)
	assert.Equal(t, "42", rows[0].ProjectID)
	assert.Equal(t, models.TargetIssue, rows[0].TargetKind)

	// back-links were written on both sides
	assert.Contains(t, tracker.targets["42/issue/7"].Description, board.cards[child.ID].URL)
	cd := desc.ParseCard(board.cards[child.ID].Desc)
	issues, ok := cd.Value("issues")
	require.True(t, ok)
	assert.Equal(t, "https://gitlab.example.com/g/p/-/issues/7", issues)

	// the reference is removed from the card text: row, item and back-links go
	trimmed := desc.ParseCard(board.cards[child.ID].Desc)
	board.cards[child.ID].Desc = "Tracking:\n\n---\nissues: " + issues + "\nparent card: " + mustValue(t, trimmed, "parent card")

	res, err = eng.HandleBoardEvent(ctx, "main", ev)
	require.NoError(t, err)
	assert.False(t, res.Failed())

	rows, err = st.ListIssueLinksByParent(child.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.NotContains(t, tracker.targets["42/issue/7"].Description, board.cards[child.ID].URL)

	cd = desc.ParseCard(board.cards[child.ID].Desc)
	issues, _ = cd.Value("issues")
	assert.Empty(t, issues)
}

func mustValue(t *testing.T, d *desc.CardDescription, key string) string {
	t.Helper()
	v, ok := d.Value(key)
	require.True(t, ok, key)
	return v
}

func TestUnresolvableRefLeavesRowUntouched(t *testing.T) {
	board := newFakeBoard()
	board.addList("main", "inbox")
	doing := board.addList("team1", "Doing (#50)")
	child := board.addCard("team1", doing.ID, "task", trello.Label{ID: "l1", Name: "#backend"})
	board.cards[child.ID].Desc = "<\n$GLIS:42:7\n>"

	tracker := newFakeTracker() // target never registered

	eng, st := testEngine(t, board, tracker)
	require.NoError(t, st.CreateIssueLink(&models.IssueLink{
		IssueID: "7", ProjectID: "42", ParentCardID: child.ID,
		ItemID: "i1", TargetKind: models.TargetIssue,
	}))

	res, err := eng.HandleBoardEvent(context.Background(), "main", &events.BoardEvent{
		Action:     events.ActionUpdateCard,
		CardID:     child.ID,
		BoardID:    "team1",
		HasOldDesc: true,
	})
	require.NoError(t, err)
	assert.True(t, res.Failed(), "unresolvable reference is reported")

	rows, err := st.ListIssueLinksByParent(child.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 1, "row survives until the target resolves")
}
