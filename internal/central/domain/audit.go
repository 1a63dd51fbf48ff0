package domain

import "time"

// AuditAction distinguishes recorded event types.
type AuditAction string

const (
	AuditRename  AuditAction = "rename"
	AuditPromote AuditAction = "promote"
	AuditLock    AuditAction = "lock"
	AuditDelete  AuditAction = "delete"
)

// AuditEvent is one durable audit-log entry. Target is derived from the
// new name for rename/promote events.
type AuditEvent struct {
	ID        string // ULID
	Action    AuditAction
	Performer string
	Target    string
	OldName   string
	NewName   string
	Site      string
	Reason    string
	// Params carries action-specific flags, e.g. movepages.
	Params    map[string]any
	CreatedAt time.Time
}
