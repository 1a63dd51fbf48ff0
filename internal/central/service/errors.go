package service

import "errors"

var (
	// ErrNotFound means the identity or request does not exist.
	ErrNotFound = errors.New("not_found")

	// ErrConflict covers duplicate pending requests and names that are
	// already globally registered.
	ErrConflict = errors.New("conflict")

	// ErrRaceLost means a concurrent actor won: token consumption lost,
	// or a concurrent identity creation committed first.
	ErrRaceLost = errors.New("race_lost")

	// ErrUnauthorized covers wrong passwords, locked identities, and
	// insufficient privilege for admin actions.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRenameInProgress is raised instead of returning partial data for
	// an identity that is mid-rename.
	ErrRenameInProgress = errors.New("rename_in_progress")

	// ErrInvalidName means the submitted name does not canonicalize into
	// a usable username.
	ErrInvalidName = errors.New("invalid_name")

	// ErrBadToken is the fail-closed signal for any defect in a one-time
	// token: absent, malformed, or missing required fields.
	ErrBadToken = errors.New("bad_token")

	// ErrStateMismatch means a lock/hide submission carried a stale state
	// hash; someone else changed the status in between.
	ErrStateMismatch = errors.New("state_mismatch")

	// ErrEffectsNotRecorded means rename effects ran but persisting the
	// decision failed. Operators must be able to tell this apart from
	// "effects failed".
	ErrEffectsNotRecorded = errors.New("effects_not_recorded")
)

// SiteOutcome is one site's result within a multi-site operation.
type SiteOutcome struct {
	Site string `json:"site"`
	OK   bool   `json:"ok"`
	Err  string `json:"error,omitempty"`
}

// MultiSiteResult reports a cross-site mutation. Partial success is
// normal: the operation is all-or-nothing per site, never overall.
type MultiSiteResult struct {
	SuccessCount int           `json:"success_count"`
	Outcomes     []SiteOutcome `json:"outcomes"`
}

func (r *MultiSiteResult) add(site string, err error) {
	if err != nil {
		r.Outcomes = append(r.Outcomes, SiteOutcome{Site: site, Err: err.Error()})
		return
	}
	r.SuccessCount++
	r.Outcomes = append(r.Outcomes, SiteOutcome{Site: site, OK: true})
}
