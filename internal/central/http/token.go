package http

import (
	"encoding/json"
	"net/http"

	"github.com/openfederation/centralid/internal/central/service"
	"github.com/openfederation/centralid/pkg/httpx"
	"github.com/openfederation/centralid/pkg/jwtx"
	"github.com/openfederation/centralid/pkg/slogx"
)

type TokenHandler struct {
	TokenSessions *service.TokenSessionService
	Signer        *jwtx.Signer
	Issuer        string
}

// HandleIssue mints a one-time token for the authenticated caller.
// Requires a session on an attached identity.
func (h *TokenHandler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	username := httpx.UserNameFromCtx(ctx)
	if username == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Authentication required.")
		return
	}

	var req tokenIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body.")
		return
	}
	if req.Site == "" || req.SessionID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "site and session_id are required.")
		return
	}

	token, err := h.TokenSessions.Issue(ctx, username, req.Site, req.SessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, tokenIssueResponse{CentralAuthToken: token})
}

// HandleExchange consumes a one-time token and materializes a session on
// the presenting site.
func (h *TokenHandler) HandleExchange(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req tokenExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body.")
		return
	}
	if req.Token == "" || req.Site == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "centralauthtoken and site are required.")
		return
	}

	session, err := h.TokenSessions.Exchange(ctx, req.Token, req.Site)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	claims := jwtx.NewSessionClaims(
		session.Username, session.ID, session.Origin,
		[]string{"session:read"},
		h.Issuer, jwtx.DefaultSessionTTL, timeNow(),
	)
	signed, err := h.Signer.Sign(claims)
	if err != nil {
		log.Error("session signing failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Internal server error.")
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, tokenExchangeResponse{
		Token:     signed,
		SessionID: session.ID,
		Username:  session.Username,
		Origin:    session.Origin,
	})
}
