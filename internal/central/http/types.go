package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/openfederation/centralid/internal/central/domain"
	"github.com/openfederation/centralid/internal/central/service"
	"github.com/openfederation/centralid/pkg/httpx"
)

type loginRequest struct {
	Site      string `json:"site"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	SessionID string `json:"session_id"`
}

type loginContinueRequest struct {
	SessionID string `json:"session_id"`
	Accept    bool   `json:"accept"`
}

type loginResponse struct {
	Status      string `json:"status"`
	Token       string `json:"token,omitempty"`
	Username    string `json:"username,omitempty"`
	LocalOnly   bool   `json:"local_only,omitempty"`
	RenamedFrom string `json:"renamed_from,omitempty"`
	RenamedTo   string `json:"renamed_to,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type tokenIssueRequest struct {
	Site      string `json:"site"`
	SessionID string `json:"session_id"`
}

type tokenIssueResponse struct {
	CentralAuthToken string `json:"centralauthtoken"`
}

type tokenExchangeRequest struct {
	Token string `json:"centralauthtoken"`
	Site  string `json:"site"`
}

type tokenExchangeResponse struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Username  string `json:"username"`
	Origin    string `json:"origin"`
}

type renameRequestCreate struct {
	OldName    string `json:"old_name"`
	NewName    string `json:"new_name"`
	OriginSite string `json:"origin_site,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type renameDecisionRequest struct {
	Comments          string `json:"comments,omitempty"`
	MovePages         bool   `json:"movepages,omitempty"`
	SuppressRedirects bool   `json:"suppressredirects,omitempty"`
}

type renameRequestView struct {
	ID          string     `json:"id"`
	OldName     string     `json:"old_name"`
	NewName     string     `json:"new_name"`
	OriginSite  string     `json:"origin_site,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	Status      string     `json:"status"`
	RequestedAt time.Time  `json:"requested_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	PerformerID *int64     `json:"performer_id,omitempty"`
	Comments    string     `json:"comments,omitempty"`
}

func toRenameRequestView(r domain.RenameRequest) renameRequestView {
	return renameRequestView{
		ID:          r.ID,
		OldName:     r.OldName,
		NewName:     r.NewName,
		OriginSite:  r.OriginSite,
		Reason:      r.Reason,
		Status:      string(r.Status),
		RequestedAt: r.RequestedAt,
		CompletedAt: r.CompletedAt,
		PerformerID: r.PerformerID,
		Comments:    r.Comments,
	}
}

type attachmentView struct {
	Site       string    `json:"site"`
	Name       string    `json:"name"`
	Method     string    `json:"method"`
	AttachedAt time.Time `json:"attached_at"`
	EditCount  int64     `json:"edit_count"`
	Blocked    bool      `json:"blocked"`
}

type identityView struct {
	ID           int64            `json:"id"`
	Name         string           `json:"name"`
	Locked       bool             `json:"locked"`
	Hidden       string           `json:"hidden"`
	RegisteredAt time.Time        `json:"registered_at"`
	StateHash    string           `json:"state_hash"`
	Attached     []attachmentView `json:"attached"`
}

type unattachedView struct {
	Accounts   []unattachedAccountView `json:"accounts"`
	Incomplete bool                    `json:"incomplete"`
}

type unattachedAccountView struct {
	Site         string    `json:"site"`
	Name         string    `json:"name"`
	RegisteredAt time.Time `json:"registered_at"`
	EditCount    int64     `json:"edit_count"`
}

type adminStatusRequest struct {
	Locked    bool   `json:"locked"`
	Hidden    string `json:"hidden"`
	Reason    string `json:"reason,omitempty"`
	StateHash string `json:"state_hash,omitempty"`
}

type adminUnattachRequest struct {
	Sites []string `json:"sites"`
}

type renameResubmitResponse struct {
	Dispatched int `json:"dispatched"`
}

type registerRequest struct {
	Site     string `json:"site"`
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Version string `json:"version"`
}

// writeServiceError maps the service error taxonomy onto HTTP statuses
// with {error, error_description} bodies.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", "The requested resource does not exist.")
	case errors.Is(err, service.ErrInvalidName):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_name", "The submitted name is not usable.")
	case errors.Is(err, service.ErrConflict):
		httpx.WriteError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, service.ErrStateMismatch):
		httpx.WriteError(w, http.StatusConflict, "state_mismatch", "The status changed while the form was open. Reload and retry.")
	case errors.Is(err, service.ErrRaceLost):
		httpx.WriteError(w, http.StatusConflict, "race_lost", "A concurrent operation won; retry if appropriate.")
	case errors.Is(err, service.ErrRenameInProgress):
		httpx.WriteError(w, http.StatusConflict, "rename_in_progress", "The identity is mid-rename; retry later.")
	case errors.Is(err, service.ErrBadToken):
		httpx.WriteError(w, http.StatusUnauthorized, "bad_token", "The token is invalid or expired.")
	case errors.Is(err, service.ErrUnauthorized):
		httpx.WriteError(w, http.StatusForbidden, "unauthorized", "The operation is not permitted.")
	case errors.Is(err, service.ErrEffectsNotRecorded):
		httpx.WriteError(w, http.StatusInternalServerError, "effects_not_recorded",
			"The rename ran but its status could not be recorded. Operator attention required.")
	default:
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Internal server error.")
	}
}

// capsFromScopes resolves the capability set once per request from the
// caller's token scopes.
func capsFromScopes(scopes []string) domain.CapabilitySet {
	var caps domain.CapabilitySet
	for _, s := range scopes {
		switch s {
		case "admin:lock":
			caps.CanLock = true
		case "admin:oversight":
			caps.CanOversight = true
		case "admin:unmerge":
			caps.CanUnmerge = true
		case "admin:groups":
			caps.CanChangeGroups = true
		}
	}
	return caps
}
