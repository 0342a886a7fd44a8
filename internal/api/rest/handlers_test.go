package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/okralabs/boardsync/internal/events"
	"github.com/okralabs/boardsync/internal/store"
	"github.com/okralabs/boardsync/internal/temporal/workflows"
)

type fakeQueue struct {
	boardEvents   []*events.BoardEvent
	governingIDs  []string
	trackerEvents []*events.TrackerEvent
	ops           []workflows.TaskKind
}

func (f *fakeQueue) EnqueueBoardEvent(_ context.Context, governingBoardID string, ev *events.BoardEvent) (string, error) {
	f.boardEvents = append(f.boardEvents, ev)
	f.governingIDs = append(f.governingIDs, governingBoardID)
	return "wf-" + ev.EventID, nil
}

func (f *fakeQueue) EnqueueTrackerEvent(_ context.Context, ev *events.TrackerEvent) (string, error) {
	f.trackerEvents = append(f.trackerEvents, ev)
	return "wf-" + ev.EventID, nil
}

func (f *fakeQueue) EnqueueOp(_ context.Context, kind workflows.TaskKind, boardID string) (string, error) {
	f.ops = append(f.ops, kind)
	return "wf-op", nil
}

func (f *fakeQueue) JobStatus(_ context.Context, workflowID string) (string, error) {
	return "Completed", nil
}

func testRouter(t *testing.T) (*chi.Mux, *fakeQueue, *store.Store) {
	t.Helper()
	st, err := store.Open("file:"+t.Name()+"?mode=memory&cache=shared", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	queue := &fakeQueue{}
	h := NewHandler(queue, st, "main", "top", "admin", "secret", zap.NewNop())
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r, queue, st
}

func TestWebhookVerificationProbe(t *testing.T) {
	r, _, _ := testRouter(t)

	for _, method := range []string{http.MethodGet, http.MethodHead} {
		req := httptest.NewRequest(method, "/callback/trello/teamboard", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, method)
	}
}

func TestTeamBoardWebhookQueuesWithMainGoverning(t *testing.T) {
	r, queue, _ := testRouter(t)

	body := `{"action": {"id": "act1", "type": "addLabelToCard", "data": {
		"card": {"id": "card1"}, "board": {"id": "team1"},
		"label": {"name": "#backend"}
	}}}`
	req := httptest.NewRequest(http.MethodPost, "/callback/trello/teamboard", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, queue.boardEvents, 1)
	assert.Equal(t, "main", queue.governingIDs[0])
	assert.Equal(t, "card1", queue.boardEvents[0].CardID)
}

func TestMainBoardWebhookQueuesWithTopGoverning(t *testing.T) {
	r, queue, _ := testRouter(t)

	body := `{"action": {"id": "act2", "type": "addLabelToCard", "data": {
		"card": {"id": "parent1"}, "board": {"id": "main"},
		"label": {"name": "OKR: Growth"}
	}}}`
	req := httptest.NewRequest(http.MethodPost, "/callback/trello/mainboard", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, queue.boardEvents, 1)
	assert.Equal(t, "top", queue.governingIDs[0])
}

func TestWebhookAcksUndecodableAndUnlistedPayloads(t *testing.T) {
	r, queue, _ := testRouter(t)

	for _, body := range []string{
		"not json",
		`{"action": {"type": "commentCard", "data": {"card": {"id": "c1"}}}}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/callback/trello/teamboard", strings.NewReader(body))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Empty(t, queue.boardEvents)
}

func TestTrackerWebhookQueues(t *testing.T) {
	r, queue, _ := testRouter(t)

	body := `{"object_kind": "issue", "object_attributes": {
		"id": 99, "iid": 7, "action": "open", "state": "opened", "project_id": 42
	}}`
	req := httptest.NewRequest(http.MethodPost, "/callback/gitlab", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, queue.trackerEvents, 1)
	assert.Equal(t, "7", queue.trackerEvents[0].IID)
}

func TestAdminRequiresBasicAuth(t *testing.T) {
	r, _, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodDelete, "/admin/hooks", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/admin/hooks", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHookTeamBoardsQueuesOps(t *testing.T) {
	r, queue, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/teamboards",
		strings.NewReader(`{"board_ids": ["b1", "b2"]}`))
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []workflows.TaskKind{workflows.TaskHookTeamBoard, workflows.TaskHookTeamBoard}, queue.ops)
	assert.Contains(t, rec.Body.String(), "job_ids")

	// empty list is rejected
	req = httptest.NewRequest(http.MethodPost, "/admin/teamboards", strings.NewReader(`{}`))
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImportEmails(t *testing.T) {
	r, _, st := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/emails",
		strings.NewReader(`{"entries": [
			{"username": "alice", "email": "alice@example.com"},
			{"username": "", "email": "skipped@example.com"}
		]}`))
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	email, err := st.LookupEmail("alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", email)
}
