package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/openfederation/centralid/internal/central/service"
	"github.com/openfederation/centralid/pkg/httpx"
	"github.com/openfederation/centralid/pkg/jwtx"
	"github.com/openfederation/centralid/pkg/slogx"
)

var timeNow = time.Now

type LoginHandler struct {
	AuthService *service.AuthService
	Signer      *jwtx.Signer
	Issuer      string
}

func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body.")
		return
	}
	if req.Site == "" || req.Username == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "site and username are required.")
		return
	}

	result, err := h.AuthService.Login(ctx, req.Site, req.Username, req.Password, req.SessionID)
	if err != nil {
		log.Error("login failed internally", "err", err)
		writeServiceError(w, err)
		return
	}

	h.writeResult(w, r, result, req.Site)
}

// HandleContinue resolves an outstanding rename confirmation.
func (h *LoginHandler) HandleContinue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req loginContinueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body.")
		return
	}
	if req.SessionID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "session_id is required.")
		return
	}

	result, err := h.AuthService.LoginContinue(ctx, req.SessionID, req.Accept)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.writeResult(w, r, result, "")
}

func (h *LoginHandler) writeResult(w http.ResponseWriter, r *http.Request, result service.LoginResult, site string) {
	resp := loginResponse{
		Status:      string(result.Status),
		LocalOnly:   result.LocalOnly,
		RenamedFrom: result.RenamedFrom,
		RenamedTo:   result.RenamedTo,
		Reason:      result.Reason,
	}

	status := http.StatusOK
	switch result.Status {
	case service.LoginFail:
		status = http.StatusUnauthorized
	case service.LoginPass:
		if !result.LocalOnly {
			resp.Username = result.Identity.Name
			token, err := h.signSession(r, result, site)
			if err != nil {
				slogx.FromContext(r.Context()).Error("session signing failed", "err", err)
				httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Internal server error.")
				return
			}
			resp.Token = token
		}
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, status, resp)
}

func (h *LoginHandler) signSession(r *http.Request, result service.LoginResult, site string) (string, error) {
	claims := jwtx.NewSessionClaims(
		result.Identity.Name, "", site,
		[]string{"session:read"},
		h.Issuer, jwtx.DefaultSessionTTL, timeNow(),
	)
	return h.Signer.Sign(claims)
}
