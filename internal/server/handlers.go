package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kirokuhq/kiroku/internal/ctxutil"
	"github.com/kirokuhq/kiroku/internal/model"
	"github.com/kirokuhq/kiroku/internal/notify"
	"github.com/kirokuhq/kiroku/internal/reasoner"
	"github.com/kirokuhq/kiroku/internal/service/decisions"
	"github.com/kirokuhq/kiroku/internal/storage"
)

type handlers struct {
	db      *storage.DB
	svc     *decisions.Service
	broker  *notify.Broker
	logger  *slog.Logger
	version string
}

// decisionView adds the derived progress percentage to the API response.
type decisionView struct {
	model.Decision
	ProgressPercentage int `json:"progress_percentage"`
}

func viewOf(d model.Decision) decisionView {
	return decisionView{Decision: d, ProgressPercentage: d.Progress()}
}

func (h *handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.version})
}

func (h *handlers) handleCreate(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(w, r)
	if !ok {
		return
	}
	var req struct {
		RawInput string `json:"raw_input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	d, err := h.svc.Create(r.Context(), ownerID, req.RawInput)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	// 202: drafting continues asynchronously.
	writeJSON(w, http.StatusAccepted, viewOf(d))
}

func (h *handlers) handleList(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(w, r)
	if !ok {
		return
	}
	list, err := h.svc.List(r.Context(), ownerID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	views := make([]decisionView, len(list))
	for i, d := range list {
		views[i] = viewOf(d)
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handlers) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	d, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(d))
}

func (h *handlers) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) handleConfirmPlan(w http.ResponseWriter, r *http.Request) {
	h.planUpdate(w, r, h.svc.ConfirmPlan)
}

func (h *handlers) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	h.planUpdate(w, r, h.svc.UpdatePlan)
}

func (h *handlers) planUpdate(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, id uuid.UUID, plan []model.PlanStep) error) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Plan []model.PlanStep `json:"plan"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := apply(r.Context(), id, req.Plan); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) handleComplete(w http.ResponseWriter, r *http.Request) {
	h.complete(w, r, h.svc.Complete)
}

func (h *handlers) handleFastTrack(w http.ResponseWriter, r *http.Request) {
	h.complete(w, r, h.svc.FastTrackComplete)
}

func (h *handlers) complete(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, id uuid.UUID, outcome, reflection string) error) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Outcome    string `json:"outcome"`
		Reflection string `json:"reflection"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := apply(r.Context(), id, req.Outcome, req.Reflection); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) handleChat(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Messages []reasoner.Message `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages is required")
		return
	}

	reply, err := h.svc.ChatAboutPlan(r.Context(), id, req.Messages)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (h *handlers) handleStream(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, http.StatusServiceUnavailable, "live updates unavailable")
		return
	}
	h.broker.SSEHandler()(w, r)
}

// identity resolves the calling user from the X-User-Id header and stores
// the owner id in the request context.
func (h *handlers) identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-User-Id")
		if raw == "" {
			writeError(w, http.StatusBadRequest, "X-User-Id header is required")
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "X-User-Id must be a UUID")
			return
		}
		next.ServeHTTP(w, r.WithContext(ctxutil.WithOwnerID(r.Context(), id)))
	})
}

// ownerID reads the owner id the identity middleware stored.
func (h *handlers) ownerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id := ctxutil.OwnerIDFromContext(r.Context())
	if id == uuid.Nil {
		writeError(w, http.StatusBadRequest, "X-User-Id header is required")
		return uuid.Nil, false
	}
	return id, true
}

func (h *handlers) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid decision id")
		return uuid.Nil, false
	}
	return id, true
}

// writeServiceError maps service and storage errors to HTTP statuses.
func (h *handlers) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "decision not found")
	case errors.Is(err, storage.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, decisions.ErrEmptyInput),
		errors.Is(err, decisions.ErrEmptyPlan),
		errors.Is(err, decisions.ErrInvalidOutcome),
		errors.Is(err, decisions.ErrPendingSteps):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("server: internal error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
