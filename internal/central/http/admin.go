package http

import (
	"encoding/json"
	"net/http"

	"github.com/openfederation/centralid/internal/central/domain"
	"github.com/openfederation/centralid/internal/central/service"
	"github.com/openfederation/centralid/pkg/httpx"
)

type AdminHandler struct {
	Identity      *service.IdentityService
	TokenSessions *service.TokenSessionService
	Orchestrator  *service.RenameOrchestrator
}

// HandleStatus sets the lock flag and hidden level. The submitted state
// hash must match the current status, or the change is rejected as
// stale.
func (h *AdminHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req adminStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body.")
		return
	}

	caps := capsFromScopes(httpx.ScopesFromCtx(ctx))
	actor := httpx.UserNameFromCtx(ctx)

	result, err := h.Identity.AdminLockHide(ctx, r.PathValue("name"),
		req.Locked, domain.HiddenLevel(req.Hidden), req.Reason, actor, req.StateHash, caps)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	// Locking kills outstanding token sessions.
	if req.Locked {
		_ = h.TokenSessions.InvalidateSessionsForUser(ctx, r.PathValue("name"))
	}

	httpx.WriteJSON(w, http.StatusOK, result)
}

// HandleDelete removes a global identity, leaving local accounts behind
// as unattached.
func (h *AdminHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	caps := capsFromScopes(httpx.ScopesFromCtx(ctx))
	actor := httpx.UserNameFromCtx(ctx)
	reason := r.URL.Query().Get("reason")

	// Kill sessions before the identity disappears.
	_ = h.TokenSessions.PreventSessionsForUser(ctx, r.PathValue("name"))

	result, err := h.Identity.AdminDelete(ctx, r.PathValue("name"), reason, actor, caps)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, result)
}

// HandleRenameResubmit re-dispatches the site tasks of a stalled
// rename, identified by either of its names.
func (h *AdminHandler) HandleRenameResubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := httpx.UserNameFromCtx(ctx)

	dispatched, err := h.Orchestrator.ResubmitSiteTasks(ctx, r.PathValue("name"), actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, renameResubmitResponse{Dispatched: dispatched})
}

// HandleUnattach removes attachment rows for the listed sites.
func (h *AdminHandler) HandleUnattach(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req adminUnattachRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body.")
		return
	}
	if len(req.Sites) == 0 {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "sites is required.")
		return
	}

	caps := capsFromScopes(httpx.ScopesFromCtx(ctx))

	result, err := h.Identity.AdminUnattach(ctx, r.PathValue("name"), req.Sites, caps)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, result)
}
