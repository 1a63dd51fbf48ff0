package http

import (
	"encoding/json"
	"net/http"

	"github.com/openfederation/centralid/internal/central/service"
	"github.com/openfederation/centralid/internal/central/store"
	"github.com/openfederation/centralid/pkg/httpx"
	"github.com/openfederation/centralid/pkg/slogx"
)

type RenameHandler struct {
	Queue    *service.RenameQueueService
	Identity *service.IdentityService
}

// HandleCreate files a self-service rename request.
func (h *RenameHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req renameRequestCreate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body.")
		return
	}

	created, err := h.Queue.Create(ctx, req.OldName, req.NewName, req.OriginSite, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, toRenameRequestView(created))
}

// HandleGet returns one request.
func (h *RenameHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	req, err := h.Queue.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toRenameRequestView(req))
}

// HandleCancel withdraws a still-pending request.
func (h *RenameHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if err := h.Queue.Cancel(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListOpen returns the pending queue.
func (h *RenameHandler) HandleListOpen(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Queue.ListOpen(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	views := make([]renameRequestView, 0, len(reqs))
	for _, req := range reqs {
		views = append(views, toRenameRequestView(req))
	}
	httpx.WriteJSON(w, http.StatusOK, views)
}

// HandleListClosed returns recently decided requests.
func (h *RenameHandler) HandleListClosed(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Queue.ListClosed(r.Context(), 50)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	views := make([]renameRequestView, 0, len(reqs))
	for _, req := range reqs {
		views = append(views, toRenameRequestView(req))
	}
	httpx.WriteJSON(w, http.StatusOK, views)
}

// HandleApprove runs the rename saga and records the decision.
func (h *RenameHandler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	performerName, performerID, ok := h.performer(w, r)
	if !ok {
		return
	}

	var req renameDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body.")
		return
	}

	err := h.Queue.Approve(ctx, r.PathValue("id"), performerID, performerName, req.Comments,
		service.RenameOptions{
			MovePages:         req.MovePages,
			SuppressRedirects: req.SuppressRedirects,
		})
	if err != nil {
		log.Warn("rename approval failed", "id", r.PathValue("id"), "err", err)
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleReject records a terminal rejection.
func (h *RenameHandler) HandleReject(w http.ResponseWriter, r *http.Request) {
	_, performerID, ok := h.performer(w, r)
	if !ok {
		return
	}

	var req renameDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body.")
		return
	}

	if err := h.Queue.Reject(r.Context(), r.PathValue("id"), performerID, req.Comments); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// performer resolves the deciding steward's identity from the session.
func (h *RenameHandler) performer(w http.ResponseWriter, r *http.Request) (string, int64, bool) {
	ctx := r.Context()

	username := httpx.UserNameFromCtx(ctx)
	if username == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Authentication required.")
		return "", 0, false
	}

	g, err := h.Identity.Lookup(ctx, username, store.Cached)
	if err != nil {
		writeServiceError(w, err)
		return "", 0, false
	}
	return g.Name, g.ID, true
}
