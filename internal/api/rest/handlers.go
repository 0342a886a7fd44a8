// Package rest exposes the webhook callbacks and the operator API.
package rest

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/okralabs/boardsync/internal/events"
	"github.com/okralabs/boardsync/internal/models"
	"github.com/okralabs/boardsync/internal/store"
	"github.com/okralabs/boardsync/internal/temporal/workflows"
)

// Queue is the task-queue capability the handler needs. Satisfied by
// *temporal.Client.
type Queue interface {
	EnqueueBoardEvent(ctx context.Context, governingBoardID string, ev *events.BoardEvent) (string, error)
	EnqueueTrackerEvent(ctx context.Context, ev *events.TrackerEvent) (string, error)
	EnqueueOp(ctx context.Context, kind workflows.TaskKind, boardID string) (string, error)
	JobStatus(ctx context.Context, workflowID string) (string, error)
}

// Handler handles webhook callbacks and admin requests. Callbacks always
// answer 200; the reconciliation work happens on the task queues.
type Handler struct {
	queue         Queue
	store         *store.Store
	mainBoardID   string
	topBoardID    string
	adminUser     string
	adminPassword string
	logger        *zap.Logger
}

// NewHandler creates the REST handler.
func NewHandler(queue Queue, st *store.Store, mainBoardID, topBoardID, adminUser, adminPassword string, logger *zap.Logger) *Handler {
	return &Handler{
		queue:         queue,
		store:         st,
		mainBoardID:   mainBoardID,
		topBoardID:    topBoardID,
		adminUser:     adminUser,
		adminPassword: adminPassword,
		logger:        logger,
	}
}

// RegisterRoutes registers the callback and admin routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)

	// Trello issues a HEAD/GET probe when a webhook is registered.
	for _, path := range []string{
		"/callback/trello/teamboard",
		"/callback/trello/mainboard",
		"/callback/trello/card/{cardID}/{itemID}",
		"/callback/gitlab",
	} {
		r.Get(path, h.ack)
		r.Head(path, h.ack)
	}

	r.Post("/callback/trello/teamboard", h.TeamBoardWebhook)
	r.Post("/callback/trello/mainboard", h.MainBoardWebhook)
	r.Post("/callback/trello/card/{cardID}/{itemID}", h.CardWebhook)
	r.Post("/callback/gitlab", h.TrackerWebhook)

	r.Route("/admin", func(r chi.Router) {
		creds := map[string]string{h.adminUser: h.adminPassword}
		r.Use(middleware.BasicAuth("boardsync", creds))
		r.Post("/teamboards", h.HookTeamBoards)
		r.Delete("/teamboards", h.UnhookTeamBoards)
		r.Delete("/hooks", h.UnhookAll)
		r.Get("/jobs/{id}", h.JobStatus)
		r.Post("/emails", h.ImportEmails)
	})
}

func (h *Handler) ack(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// TeamBoardWebhook handles deliveries from team-board webhooks. Events on a
// team board reconcile against the main board's label namespace.
func (h *Handler) TeamBoardWebhook(w http.ResponseWriter, r *http.Request) {
	h.boardWebhook(w, r, h.mainBoardID)
}

// MainBoardWebhook handles deliveries from the main-board webhook. Events
// there reconcile against the top board's OKR label namespace.
func (h *Handler) MainBoardWebhook(w http.ResponseWriter, r *http.Request) {
	h.boardWebhook(w, r, h.topBoardID)
}

func (h *Handler) boardWebhook(w http.ResponseWriter, r *http.Request, governingBoardID string) {
	defer w.WriteHeader(http.StatusOK)

	var payload events.BoardPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.logger.Debug("undecodable board payload", zap.Error(err))
		return
	}
	ev, ok := events.NormalizeBoard(&payload)
	if !ok {
		return
	}

	if _, err := h.queue.EnqueueBoardEvent(r.Context(), governingBoardID, ev); err != nil {
		h.logger.Error("failed to queue board event",
			zap.String("action", ev.Action),
			zap.String("event_id", ev.EventID),
			zap.Error(err),
		)
	}
}

// CardWebhook handles deliveries from per-card webhooks. These exist so
// Trello keeps the card hooks alive; the item state they report is already
// owned by the tracker side, so the delivery is acknowledged and dropped.
func (h *Handler) CardWebhook(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("card webhook delivery",
		zap.String("card_id", chi.URLParam(r, "cardID")),
		zap.String("item_id", chi.URLParam(r, "itemID")),
	)
	w.WriteHeader(http.StatusOK)
}

// TrackerWebhook handles GitLab issue and merge request hook deliveries.
func (h *Handler) TrackerWebhook(w http.ResponseWriter, r *http.Request) {
	defer w.WriteHeader(http.StatusOK)

	var payload events.TrackerPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.logger.Debug("undecodable tracker payload", zap.Error(err))
		return
	}
	ev, ok := events.NormalizeTracker(&payload)
	if !ok {
		return
	}

	if _, err := h.queue.EnqueueTrackerEvent(r.Context(), ev); err != nil {
		h.logger.Error("failed to queue tracker event",
			zap.String("event_id", ev.EventID),
			zap.Error(err),
		)
	}
}

// TeamBoardsRequest lists the boards an admin call operates on.
type TeamBoardsRequest struct {
	BoardIDs []string `json:"board_ids"`
}

// JobsResponse returns the queued job IDs for an admin command.
type JobsResponse struct {
	JobIDs []string `json:"job_ids"`
}

// HookTeamBoards handles POST /admin/teamboards.
func (h *Handler) HookTeamBoards(w http.ResponseWriter, r *http.Request) {
	h.enqueueBoardOps(w, r, workflows.TaskHookTeamBoard)
}

// UnhookTeamBoards handles DELETE /admin/teamboards.
func (h *Handler) UnhookTeamBoards(w http.ResponseWriter, r *http.Request) {
	h.enqueueBoardOps(w, r, workflows.TaskUnhookTeamBoard)
}

func (h *Handler) enqueueBoardOps(w http.ResponseWriter, r *http.Request, kind workflows.TaskKind) {
	var req TeamBoardsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.BoardIDs) == 0 {
		http.Error(w, "board_ids is required", http.StatusBadRequest)
		return
	}

	resp := JobsResponse{}
	for _, boardID := range req.BoardIDs {
		jobID, err := h.queue.EnqueueOp(r.Context(), kind, boardID)
		if err != nil {
			h.logger.Error("failed to queue board op", zap.String("board_id", boardID), zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		resp.JobIDs = append(resp.JobIDs, jobID)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(resp)
}

// UnhookAll handles DELETE /admin/hooks.
func (h *Handler) UnhookAll(w http.ResponseWriter, r *http.Request) {
	jobID, err := h.queue.EnqueueOp(r.Context(), workflows.TaskUnhookAll, "")
	if err != nil {
		h.logger.Error("failed to queue unhook-all", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(JobsResponse{JobIDs: []string{jobID}})
}

// JobStatusResponse reports one queued job's lifecycle state.
type JobStatusResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// JobStatus handles GET /admin/jobs/{id}.
func (h *Handler) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	status, err := h.queue.JobStatus(r.Context(), jobID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(JobStatusResponse{JobID: jobID, Status: status})
}

// ImportEmailsRequest carries a username to email directory upload.
type ImportEmailsRequest struct {
	Entries []struct {
		Username string `json:"username"`
		Email    string `json:"email"`
	} `json:"entries"`
}

// ImportEmails handles POST /admin/emails, upserting the directory used to
// resolve tracker usernames into card member emails.
func (h *Handler) ImportEmails(w http.ResponseWriter, r *http.Request) {
	var req ImportEmailsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entries := make([]models.EmailEntry, 0, len(req.Entries))
	for _, e := range req.Entries {
		if e.Username == "" || e.Email == "" {
			continue
		}
		entries = append(entries, models.EmailEntry{Username: e.Username, Email: e.Email})
	}
	if err := h.store.ImportEmails(entries); err != nil {
		h.logger.Error("failed to import emails", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"imported": len(entries)})
}
