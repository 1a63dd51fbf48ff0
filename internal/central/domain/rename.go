package domain

import "time"

// RenameStatus is the state of a rename request. Pending is the only
// non-terminal state; a decision never reverts.
type RenameStatus string

const (
	RenamePending  RenameStatus = "pending"
	RenameApproved RenameStatus = "approved"
	RenameRejected RenameStatus = "rejected"
)

// Terminal reports whether a decision has been recorded.
func (s RenameStatus) Terminal() bool {
	return s == RenameApproved || s == RenameRejected
}

// RenameRequest is a durable entry in the rename queue. At most one
// pending request exists per old name.
type RenameRequest struct {
	ID      string // ULID
	OldName string
	NewName string
	// OriginSite is empty when the subject is already global.
	OriginSite  string
	Reason      string
	Status      RenameStatus
	RequestedAt time.Time
	CompletedAt *time.Time
	// PerformerID is the steward who decided the request.
	PerformerID *int64
	Comments    string
	Deleted     bool
}

// Pending reports whether the request is still awaiting a decision.
func (r RenameRequest) Pending() bool {
	return r.Status == RenamePending && !r.Deleted
}

// RenameState tracks one site's progress through an in-flight rename.
type RenameState string

const (
	RenameQueued     RenameState = "queued"
	RenameInProgress RenameState = "inprogress"
)

// RenameProgress is one row of in-flight rename tracking. The saga seeds
// a row per attached site before dispatch; task completion deletes it.
// Any surviving row for a name means "rename in progress".
type RenameProgress struct {
	OldName   string
	NewName   string
	SiteID    string
	State     RenameState
	UpdatedAt time.Time
}

// RenameTask is the per-site unit of rename work handed to the job
// runner. Tasks are idempotent: re-running one for a site that has
// already been renamed is a no-op.
type RenameTask struct {
	From              string `json:"from"`
	To                string `json:"to"`
	Performer         string `json:"performer"`
	MovePages         bool   `json:"movepages"`
	SuppressRedirects bool   `json:"suppressredirects"`
	// PromoteToGlobal marks the local-only path: rename one site's
	// account and promote it into a fresh global identity.
	PromoteToGlobal bool   `json:"promotetoglobal"`
	Site            string `json:"site"`
	Reason          string `json:"reason,omitempty"`
}
