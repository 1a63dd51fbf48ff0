package store

import (
	"context"
	"errors"
	"time"

	"github.com/openfederation/centralid/internal/central/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// ReadMode selects which view of the central database a read goes
// through. Cached reads may be served from a replica or cache; Primary
// reads must observe all committed writes. Every lookup takes the mode
// explicitly so callers that just wrote state can insist on seeing it.
type ReadMode int

const (
	Cached ReadMode = iota
	Primary
)

// Store is the root data access interface for the central database.
// Concrete drivers (sqlite) implement this. It exposes sub-repositories
// to keep concerns tidy and testable, and to stop callers from
// accidentally nesting transactions.
type Store interface {
	Identities() Identities
	Attachments() Attachments
	RenameRequests() RenameRequests
	RenameProgress() RenameProgress
	AuditLog() AuditLog

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds
// Commit/Rollback. Reads inside a transaction are always Primary.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Identities interface {
	// GetByName returns the global identity for a canonical name.
	GetByName(ctx context.Context, name string, mode ReadMode) (domain.GlobalIdentity, error)

	// GetByID returns a global identity by its numeric id.
	GetByID(ctx context.Context, id int64, mode ReadMode) (domain.GlobalIdentity, error)

	// Create inserts a new identity and returns its assigned id.
	// Returns ErrAlreadyExists when the name is taken.
	Create(ctx context.Context, g domain.GlobalIdentity) (int64, error)

	// UpdateName retargets the identity's canonical name.
	UpdateName(ctx context.Context, id int64, newName string) error

	// UpdatePasswordHash sets the credential and bumps updated_at.
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error

	// UpdateAuthToken replaces the auth-token, invalidating token sessions.
	UpdateAuthToken(ctx context.Context, id int64, token string) error

	// UpdateEmail sets email and its verification timestamp.
	UpdateEmail(ctx context.Context, id int64, email string, verified *time.Time) error

	// UpdateLockHidden sets the lock flag and hidden level together.
	UpdateLockHidden(ctx context.Context, id int64, locked bool, hidden domain.HiddenLevel) error

	// Delete removes the identity row. Attachments cascade per schema.
	Delete(ctx context.Context, id int64) error

	// ListGroups returns the identity's global group memberships.
	ListGroups(ctx context.Context, id int64) ([]domain.GroupMembership, error)

	// AddGroup inserts or refreshes a membership.
	AddGroup(ctx context.Context, m domain.GroupMembership) error

	// RemoveGroup deletes a membership.
	RemoveGroup(ctx context.Context, id int64, group string) error

	// DeleteExpiredGroups removes lapsed memberships (housekeeping).
	DeleteExpiredGroups(ctx context.Context, now time.Time) error
}

type Attachments interface {
	// Get returns the attachment for an (identity, site) pair.
	Get(ctx context.Context, identityID int64, siteID string) (domain.Attachment, error)

	// ListByIdentity returns all attachments for an identity, ordered by
	// attachment time.
	ListByIdentity(ctx context.Context, identityID int64) ([]domain.Attachment, error)

	// Attach inserts an attachment row. Inserting for a pair that already
	// has one leaves the existing row untouched and reports created=false.
	Attach(ctx context.Context, a domain.Attachment) (created bool, err error)

	// Unattach removes the attachment for a pair.
	Unattach(ctx context.Context, identityID int64, siteID string) error

	// UpdateNames rewrites the mirrored local name on every attachment row
	// of an identity.
	UpdateNames(ctx context.Context, identityID int64, newName string) error

	// UpdateSiteName rewrites the mirrored local name for one site only.
	UpdateSiteName(ctx context.Context, identityID int64, siteID, newName string) error

	// UpdateSnapshot refreshes the local edit-count/block/group snapshot.
	UpdateSnapshot(ctx context.Context, identityID int64, siteID string, editCount int64, blocked bool, groups []string) error
}

type RenameRequests interface {
	// Create inserts a pending request. Returns ErrAlreadyExists when a
	// pending request for the same old name exists (partial unique index).
	Create(ctx context.Context, r domain.RenameRequest) error

	// GetByID returns a request, including soft-deleted ones.
	GetByID(ctx context.Context, id string) (domain.RenameRequest, error)

	// GetPendingByOldName returns the live pending request for a name.
	GetPendingByOldName(ctx context.Context, oldName string) (domain.RenameRequest, error)

	// ListOpen returns live pending requests, oldest first.
	ListOpen(ctx context.Context) ([]domain.RenameRequest, error)

	// ListClosed returns decided requests, newest decision first.
	ListClosed(ctx context.Context, limit int) ([]domain.RenameRequest, error)

	// Decide records a terminal status in one statement. It only matches a
	// row still pending; deciding an already-decided request returns
	// ErrNotFound.
	Decide(ctx context.Context, id string, status domain.RenameStatus, performerID int64, comments string, completedAt time.Time) error

	// SoftDelete hides a still-pending request (requester cancel).
	SoftDelete(ctx context.Context, id string) error

	// PurgeDeleted removes soft-deleted rows older than the cutoff.
	PurgeDeleted(ctx context.Context, cutoff time.Time) error
}

type RenameProgress interface {
	// Seed inserts queued rows for every site in one transaction scope.
	Seed(ctx context.Context, rows []domain.RenameProgress) error

	// SetState moves one site's row to the given state.
	SetState(ctx context.Context, oldName, siteID string, state domain.RenameState) error

	// Complete deletes one site's row; the last deletion ends the rename.
	Complete(ctx context.Context, oldName, siteID string) error

	// ListByName returns rows whose old or new name matches.
	ListByName(ctx context.Context, name string) ([]domain.RenameProgress, error)

	// InProgress reports whether any row references the name.
	InProgress(ctx context.Context, name string) (bool, error)
}

type AuditLog interface {
	// Record appends one audit event.
	Record(ctx context.Context, e domain.AuditEvent) error

	// ListByTarget returns events for a target, newest first.
	ListByTarget(ctx context.Context, target string, limit int) ([]domain.AuditEvent, error)
}
