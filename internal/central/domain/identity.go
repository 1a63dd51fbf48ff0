package domain

import (
	"strings"
	"time"
)

// HiddenLevel controls how visible a global identity is to other users.
// Raising the level requires oversight privilege; the data model does not
// enforce the policy itself.
type HiddenLevel string

const (
	HiddenNone HiddenLevel = "none"
	// HiddenLists suppresses the identity from public listings only.
	HiddenLists HiddenLevel = "lists"
	// HiddenOversight suppresses the identity everywhere.
	HiddenOversight HiddenLevel = "oversight"
)

// AttachMethod records how a local account came to be unified with its
// global identity.
type AttachMethod string

const (
	AttachPrimary  AttachMethod = "primary"
	AttachEmpty    AttachMethod = "empty"
	AttachPassword AttachMethod = "password"
	AttachMail     AttachMethod = "mail"
	AttachAdmin    AttachMethod = "admin"
	AttachNew      AttachMethod = "new"
	AttachLogin    AttachMethod = "login"
)

// GlobalIdentity is the unified account record shared across sites.
// Exactly one exists per canonical name; the id is immutable once assigned.
type GlobalIdentity struct {
	ID            int64
	Name          string
	PasswordHash  string // argon2 PHC encoded; empty means no password set
	Email         string
	EmailVerified *time.Time
	Locked        bool
	Hidden        HiddenLevel
	// AuthToken backs token-based session validation. Regenerating it
	// invalidates every outstanding token session for the identity.
	AuthToken    string
	RegisteredAt time.Time
	UpdatedAt    time.Time
}

// HasPassword reports whether a credential is set at all.
func (g GlobalIdentity) HasPassword() bool {
	return g.PasswordHash != ""
}

// IsHidden reports whether the identity is suppressed at any level.
func (g GlobalIdentity) IsHidden() bool {
	return g.Hidden != "" && g.Hidden != HiddenNone
}

// GroupMembership is one global group a identity belongs to, with an
// optional expiry.
type GroupMembership struct {
	IdentityID int64
	Group      string
	ExpiresAt  *time.Time
}

// Expired reports whether the membership has lapsed at the given instant.
func (m GroupMembership) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !m.ExpiresAt.After(now)
}

// Attachment proves that a site's local account is unified with a global
// identity. At most one exists per (identity, site).
type Attachment struct {
	IdentityID int64
	SiteID     string
	// Name mirrors the identity's name on the local site. The rename saga
	// updates it as per-site tasks complete.
	Name       string
	Method     AttachMethod
	AttachedAt time.Time
	// Local snapshots, refreshed opportunistically.
	EditCount   int64
	Blocked     bool
	LocalGroups []string
}

// LocalAccount is a site-scoped account row as seen through a site's own
// store. It exists whether or not the account is attached.
type LocalAccount struct {
	SiteID        string
	Name          string
	PasswordHash  string
	Email         string
	EmailVerified *time.Time
	RegisteredAt  time.Time
	EditCount     int64
	Blocked       bool
	Groups        []string
}

// UnattachedAccount is a local account matching a name but lacking an
// Attachment row. It is discovered by querying sites, never stored.
type UnattachedAccount struct {
	SiteID       string
	Name         string
	RegisteredAt time.Time
	EditCount    int64
}

// CanonicalizeName normalizes a username into its canonical form:
// trimmed, underscores to spaces, first letter upper-cased.
func CanonicalizeName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "_", " "))
	if name == "" {
		return ""
	}
	r := []rune(name)
	r[0] = []rune(strings.ToUpper(string(r[0])))[0]
	return string(r)
}

// ValidName reports whether a canonical name is usable. Names containing
// path or wire separators are rejected outright.
func ValidName(name string) bool {
	if name == "" || len(name) > 255 {
		return false
	}
	return !strings.ContainsAny(name, "#/|[]{}<>")
}
