package http

import (
	"encoding/json"
	"net/http"

	"github.com/openfederation/centralid/internal/central/service"
	"github.com/openfederation/centralid/internal/central/store"
	"github.com/openfederation/centralid/pkg/httpx"
)

type IdentityHandler struct {
	Identity *service.IdentityService
}

// HandleGet returns a global identity with its attachment list.
func (h *IdentityHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	g, err := h.Identity.Lookup(ctx, r.PathValue("name"), store.Cached)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	// Hidden identities are invisible to unauthenticated callers.
	if g.IsHidden() && httpx.UserNameFromCtx(ctx) == "" {
		writeServiceError(w, service.ErrNotFound)
		return
	}

	attachments, err := h.Identity.QueryAttached(ctx, g.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	view := identityView{
		ID:           g.ID,
		Name:         g.Name,
		Locked:       g.Locked,
		Hidden:       string(g.Hidden),
		RegisteredAt: g.RegisteredAt,
		StateHash:    service.StateHash(g.Locked, g.Hidden),
	}
	for _, a := range attachments {
		view.Attached = append(view.Attached, attachmentView{
			Site:       a.SiteID,
			Name:       a.Name,
			Method:     string(a.Method),
			AttachedAt: a.AttachedAt,
			EditCount:  a.EditCount,
			Blocked:    a.Blocked,
		})
	}

	httpx.WriteJSON(w, http.StatusOK, view)
}

// HandleUnattached lists same-named local accounts lacking attachments.
// Unreachable sites are omitted; incomplete flags the omission.
func (h *IdentityHandler) HandleUnattached(w http.ResponseWriter, r *http.Request) {
	accounts, incomplete, err := h.Identity.QueryUnattached(r.Context(), r.PathValue("name"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	view := unattachedView{Incomplete: incomplete}
	for _, a := range accounts {
		view.Accounts = append(view.Accounts, unattachedAccountView{
			Site:         a.SiteID,
			Name:         a.Name,
			RegisteredAt: a.RegisteredAt,
			EditCount:    a.EditCount,
		})
	}

	httpx.WriteJSON(w, http.StatusOK, view)
}

// HandleRegister creates a new global identity.
func (h *IdentityHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body.")
		return
	}
	if req.Username == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "username and password are required.")
		return
	}

	g, err := h.Identity.Register(r.Context(), req.Username, req.Password, req.Email, req.Site)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"id":   g.ID,
		"name": g.Name,
	})
}
