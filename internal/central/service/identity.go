package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openfederation/centralid/internal/central/domain"
	"github.com/openfederation/centralid/internal/central/sites"
	"github.com/openfederation/centralid/internal/central/store"
	"github.com/openfederation/centralid/pkg/cryptox"
	"github.com/openfederation/centralid/pkg/slogx"
)

// AuthStatus is the outcome of a password check against one identity.
type AuthStatus int

const (
	AuthOK AuthStatus = iota
	AuthWrongPassword
	AuthLocked
	AuthNoPassword
)

// HomeTieBreak selects the precedence rule for the designated home site
// among multiple matching local accounts.
type HomeTieBreak string

const (
	// TieBreakRegistration picks the site with the oldest registration.
	TieBreakRegistration HomeTieBreak = "registration"
	// TieBreakEdits picks the site with the highest edit count.
	TieBreakEdits HomeTieBreak = "edits"
)

// IdentityService owns the GlobalIdentity aggregate: it is the only
// writer of identities and their attachments.
type IdentityService struct {
	Store     store.Store
	Registry  *sites.Registry
	Connector sites.Connector
	Audit     *AuditService

	// FanOutTimeout bounds each per-site call during scatter/gather.
	FanOutTimeout time.Duration
	// FanOutLimit bounds concurrent per-site calls.
	FanOutLimit int
	// HomeTieBreak picks the home site among matching local accounts.
	HomeTieBreak HomeTieBreak
	// PreventUnattached refuses registration when same-named unattached
	// local accounts exist anywhere.
	PreventUnattached bool
	// AutoNew attaches the origin site with method "new" on registration.
	AutoNew bool
	// DryRun disables actual merging; migration only reports what it
	// would have done.
	DryRun bool
}

func (s *IdentityService) fanOutTimeout() time.Duration {
	if s.FanOutTimeout <= 0 {
		return 3 * time.Second
	}
	return s.FanOutTimeout
}

func (s *IdentityService) fanOutLimit() int {
	if s.FanOutLimit <= 0 {
		return 8
	}
	return s.FanOutLimit
}

// Lookup returns the global identity for a canonical name. Callers that
// just wrote state must pass store.Primary.
func (s *IdentityService) Lookup(ctx context.Context, name string, mode store.ReadMode) (domain.GlobalIdentity, error) {
	g, err := s.Store.Identities().GetByName(ctx, domain.CanonicalizeName(name), mode)
	if errors.Is(err, store.ErrNotFound) {
		return domain.GlobalIdentity{}, ErrNotFound
	}
	return g, err
}

// LookupByID returns a global identity by numeric id.
func (s *IdentityService) LookupByID(ctx context.Context, id int64, mode store.ReadMode) (domain.GlobalIdentity, error) {
	g, err := s.Store.Identities().GetByID(ctx, id, mode)
	if errors.Is(err, store.ErrNotFound) {
		return domain.GlobalIdentity{}, ErrNotFound
	}
	return g, err
}

// Authenticate checks a plaintext password against one identity. Locked
// identities fail closed regardless of password correctness; comparison
// is constant-time with respect to password content.
func (s *IdentityService) Authenticate(ctx context.Context, g domain.GlobalIdentity, password string) AuthStatus {
	if g.Locked {
		return AuthLocked
	}
	if !g.HasPassword() {
		return AuthNoPassword
	}
	if err := cryptox.VerifyPassword(password, g.PasswordHash); err != nil {
		return AuthWrongPassword
	}
	return AuthOK
}

// AuthenticateWithToken compares a carried auth-token against the
// identity's current one. Used exclusively by the token session path.
func (s *IdentityService) AuthenticateWithToken(g domain.GlobalIdentity, token string) bool {
	if g.AuthToken == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(g.AuthToken), []byte(token)) == 1
}

// ResetAuthToken regenerates the identity's auth-token, invalidating
// every outstanding token-based session for it.
func (s *IdentityService) ResetAuthToken(ctx context.Context, id int64) error {
	token, err := cryptox.GenerateHex(cryptox.TokenSize128)
	if err != nil {
		return err
	}
	return s.Store.Identities().UpdateAuthToken(ctx, id, token)
}

// Register creates a GlobalIdentity iff the name is free centrally. The
// uniqueness check runs against the primary store via the insert itself,
// so two concurrent registrations cannot both win.
func (s *IdentityService) Register(ctx context.Context, name, password, email, originSite string) (domain.GlobalIdentity, error) {
	name = domain.CanonicalizeName(name)
	if !domain.ValidName(name) {
		return domain.GlobalIdentity{}, ErrInvalidName
	}

	// 1. A name with a pending rename request cannot be registered.
	if _, err := s.Store.RenameRequests().GetPendingByOldName(ctx, name); err == nil {
		return domain.GlobalIdentity{}, fmt.Errorf("%w: name has a pending rename request", ErrConflict)
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.GlobalIdentity{}, err
	}

	// 2. Optionally refuse names with stray unattached local accounts.
	if s.PreventUnattached {
		locals, _ := s.collectLocalAccounts(ctx, name)
		if len(locals) > 0 {
			return domain.GlobalIdentity{}, fmt.Errorf("%w: unattached local accounts exist", ErrConflict)
		}
	}

	// 3. Hash the credential and mint the auth-token.
	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return domain.GlobalIdentity{}, err
	}
	authToken, err := cryptox.GenerateHex(cryptox.TokenSize128)
	if err != nil {
		return domain.GlobalIdentity{}, err
	}

	now := time.Now().UTC()
	g := domain.GlobalIdentity{
		Name:         name,
		PasswordHash: hash,
		Email:        email,
		Hidden:       domain.HiddenNone,
		AuthToken:    authToken,
		RegisteredAt: now,
		UpdatedAt:    now,
	}

	// 4. Insert; a losing concurrent registration observes the unique
	// constraint, never a duplicate row.
	id, err := s.Store.Identities().Create(ctx, g)
	if errors.Is(err, store.ErrAlreadyExists) {
		return domain.GlobalIdentity{}, fmt.Errorf("%w: name already registered", ErrConflict)
	}
	if err != nil {
		return domain.GlobalIdentity{}, err
	}
	g.ID = id

	// 5. Newly registered names become global immediately; attach the
	// origin site with method "new" when enabled.
	if s.AutoNew && originSite != "" {
		if _, err := s.Attach(ctx, g.ID, originSite, name, domain.AttachNew); err != nil {
			slogx.FromContext(ctx).Warn("auto-new attach failed",
				"name", name, "site", originSite, "err", err)
		}
	}

	return g, nil
}

// Attach creates an Attachment, idempotent per (identity, site).
// Re-attaching never overwrites an existing row. The local snapshot is
// seeded best-effort from the site's store.
func (s *IdentityService) Attach(ctx context.Context, identityID int64, siteID, name string, method domain.AttachMethod) (bool, error) {
	a := domain.Attachment{
		IdentityID: identityID,
		SiteID:     siteID,
		Name:       name,
		Method:     method,
		AttachedAt: time.Now().UTC(),
	}

	if ls, err := s.Connector.Connect(ctx, siteID); err == nil {
		if local, err := ls.GetAccount(ctx, name); err == nil {
			a.EditCount = local.EditCount
			a.Blocked = local.Blocked
			a.LocalGroups = local.Groups
		}
	}

	return s.Store.Attachments().Attach(ctx, a)
}

// QueryAttached lists the attachment rows for an identity.
func (s *IdentityService) QueryAttached(ctx context.Context, identityID int64) ([]domain.Attachment, error) {
	return s.Store.Attachments().ListByIdentity(ctx, identityID)
}

// QueryUnattached fans out to every registered site looking for local
// accounts bearing the name without an Attachment row. Unreachable sites
// are omitted and flagged via incomplete rather than failing the call.
// A mid-rename identity raises ErrRenameInProgress instead of returning
// misleading partial data.
func (s *IdentityService) QueryUnattached(ctx context.Context, name string) (accounts []domain.UnattachedAccount, incomplete bool, err error) {
	name = domain.CanonicalizeName(name)

	inProgress, err := s.Store.RenameProgress().InProgress(ctx, name)
	if err != nil {
		return nil, false, err
	}
	if inProgress {
		return nil, false, ErrRenameInProgress
	}

	attached := make(map[string]bool)
	if g, err := s.Lookup(ctx, name, store.Cached); err == nil {
		rows, err := s.Store.Attachments().ListByIdentity(ctx, g.ID)
		if err != nil {
			return nil, false, err
		}
		for _, a := range rows {
			attached[a.SiteID] = true
		}
	} else if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	locals, incomplete := s.collectLocalAccounts(ctx, name)
	for _, l := range locals {
		if attached[l.SiteID] {
			continue
		}
		accounts = append(accounts, domain.UnattachedAccount{
			SiteID:       l.SiteID,
			Name:         l.Name,
			RegisteredAt: l.RegisteredAt,
			EditCount:    l.EditCount,
		})
	}
	return accounts, incomplete, nil
}

// collectLocalAccounts is the bounded scatter/gather over the Site
// Registry. Each per-site call gets its own timeout; failures omit the
// site and mark the result incomplete.
func (s *IdentityService) collectLocalAccounts(ctx context.Context, name string) (locals []domain.LocalAccount, incomplete bool) {
	var (
		mu   sync.Mutex
		g    errgroup.Group
		miss bool
	)
	g.SetLimit(s.fanOutLimit())

	for _, site := range s.Registry.List() {
		g.Go(func() error {
			siteCtx, cancel := context.WithTimeout(ctx, s.fanOutTimeout())
			defer cancel()

			ls, err := s.Connector.Connect(siteCtx, site.ID)
			if err != nil {
				fanOutOmissions.WithLabelValues(site.ID).Inc()
				mu.Lock()
				miss = true
				mu.Unlock()
				return nil
			}

			account, err := ls.GetAccount(siteCtx, name)
			if errors.Is(err, sites.ErrAccountNotFound) {
				return nil
			}
			if err != nil {
				fanOutOmissions.WithLabelValues(site.ID).Inc()
				mu.Lock()
				miss = true
				mu.Unlock()
				return nil
			}

			mu.Lock()
			locals = append(locals, account)
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait() // closures never return errors; failures become omissions
	return locals, miss
}

// homeSite picks the designated home among local accounts. Oldest
// registration wins by default; the tie-break is configurable.
func (s *IdentityService) homeSite(locals []domain.LocalAccount) string {
	if len(locals) == 0 {
		return ""
	}
	best := locals[0]
	for _, l := range locals[1:] {
		switch s.HomeTieBreak {
		case TieBreakEdits:
			if l.EditCount > best.EditCount {
				best = l
			}
		default:
			if l.RegisteredAt.Before(best.RegisteredAt) {
				best = l
			}
		}
	}
	return best.SiteID
}

// StoreAndMigrate implements opportunistic global-account creation from
// matching local accounts. It reads the primary view, creates the
// identity guarded by the primary uniqueness check, attaches every
// matching site with method "password", and leaves non-matching sites
// unattached. Losing a concurrent creation race fails closed: the caller
// falls back to local auth.
func (s *IdentityService) StoreAndMigrate(ctx context.Context, name string, candidatePasswords []string, sendToRecentChanges, safeMode, checkHomeSite bool) (bool, error) {
	log := slogx.FromContext(ctx)
	name = domain.CanonicalizeName(name)
	migrationAttempts.Inc()

	// 1. Primary read: abstain when a global identity already exists.
	if _, err := s.Lookup(ctx, name, store.Primary); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return false, err
	}

	// 2. Discover every local account bearing the name.
	locals, incomplete := s.collectLocalAccounts(ctx, name)
	if len(locals) == 0 || incomplete {
		// An unreachable site could hide a non-matching account; abstain.
		return false, nil
	}

	// 3. Find the sites whose account accepts one of the candidates. In
	// safe mode only trusted hash schemes participate.
	var (
		matched         []domain.LocalAccount
		matchedPassword string
	)
	for _, l := range locals {
		if l.PasswordHash == "" {
			continue
		}
		if safeMode && !cryptox.TrustedScheme(l.PasswordHash) {
			continue
		}
		for _, candidate := range candidatePasswords {
			if cryptox.VerifyPassword(candidate, l.PasswordHash) == nil {
				matched = append(matched, l)
				matchedPassword = candidate
				break
			}
		}
	}
	if len(matched) == 0 {
		return false, nil
	}

	// 4. The home site must be among the matches when required.
	if checkHomeSite {
		home := s.homeSite(locals)
		found := false
		for _, m := range matched {
			if m.SiteID == home {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}

	if s.DryRun {
		log.Info("dry run: would migrate",
			"name", name, "matched_sites", len(matched), "total_sites", len(locals))
		return false, nil
	}

	// 5. Create the global identity, guarded by the primary uniqueness
	// check. A losing concurrent creation abstains.
	hash, err := cryptox.HashPassword(matchedPassword)
	if err != nil {
		return false, err
	}
	authToken, err := cryptox.GenerateHex(cryptox.TokenSize128)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	g := domain.GlobalIdentity{
		Name:          name,
		PasswordHash:  hash,
		Email:         matched[0].Email,
		EmailVerified: matched[0].EmailVerified,
		Hidden:        domain.HiddenNone,
		AuthToken:     authToken,
		RegisteredAt:  now,
		UpdatedAt:     now,
	}
	id, err := s.Store.Identities().Create(ctx, g)
	if errors.Is(err, store.ErrAlreadyExists) {
		log.Info("migration lost creation race", "name", name)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	// 6. Attach every matching site; non-matching sites stay unattached.
	for _, m := range matched {
		if _, err := s.Attach(ctx, id, m.SiteID, name, domain.AttachPassword); err != nil {
			log.Warn("migration attach failed", "name", name, "site", m.SiteID, "err", err)
		}
	}

	migrationSuccesses.Inc()
	log.Info("opportunistic migration created global identity",
		"name", name,
		"attached", len(matched),
		"unattached", len(locals)-len(matched),
		"announce", sendToRecentChanges,
	)
	return true, nil
}

// StateHash is the concurrency check carried by lock/hide submissions: a
// mismatch means someone else changed the status in between.
func StateHash(locked bool, hidden domain.HiddenLevel) string {
	if hidden == "" {
		hidden = domain.HiddenNone
	}
	return cryptox.FingerprintToken(fmt.Sprintf("%t:%s", locked, hidden))
}

// AdminLockHide sets the lock flag and hidden level, then refreshes the
// local snapshot on every attached site. Per-site failures surface in
// the outcome list; the central update is never rolled back for them.
func (s *IdentityService) AdminLockHide(ctx context.Context, name string, lock bool, hidden domain.HiddenLevel, reason, actor, stateHash string, caps domain.CapabilitySet) (MultiSiteResult, error) {
	if !caps.CanLock || !caps.AllowsHide(hidden) {
		return MultiSiteResult{}, ErrUnauthorized
	}

	g, err := s.Lookup(ctx, name, store.Primary)
	if err != nil {
		return MultiSiteResult{}, err
	}

	// Stale form submission: the status changed under the actor.
	if stateHash != "" && stateHash != StateHash(g.Locked, g.Hidden) {
		return MultiSiteResult{}, ErrStateMismatch
	}

	if hidden == "" {
		hidden = domain.HiddenNone
	}
	if err := s.Store.Identities().UpdateLockHidden(ctx, g.ID, lock, hidden); err != nil {
		return MultiSiteResult{}, err
	}

	if s.Audit != nil {
		_ = s.Audit.Lock(ctx, actor, g.Name, reason, lock, hidden)
	}

	attachments, err := s.Store.Attachments().ListByIdentity(ctx, g.ID)
	if err != nil {
		return MultiSiteResult{}, err
	}

	var result MultiSiteResult
	for _, a := range attachments {
		result.add(a.SiteID, s.refreshSnapshot(ctx, g.ID, a.SiteID, a.Name))
	}
	return result, nil
}

// refreshSnapshot re-reads one site's local account and stores the
// snapshot on the attachment row. All-or-nothing for that site.
func (s *IdentityService) refreshSnapshot(ctx context.Context, identityID int64, siteID, name string) error {
	siteCtx, cancel := context.WithTimeout(ctx, s.fanOutTimeout())
	defer cancel()

	ls, err := s.Connector.Connect(siteCtx, siteID)
	if err != nil {
		return err
	}
	local, err := ls.GetAccount(siteCtx, name)
	if err != nil {
		return err
	}
	return s.Store.Attachments().UpdateSnapshot(ctx, identityID, siteID, local.EditCount, local.Blocked, local.Groups)
}

// AdminDelete removes a global identity, leaving every site's local
// account behind as unattached.
func (s *IdentityService) AdminDelete(ctx context.Context, name, reason, actor string, caps domain.CapabilitySet) (MultiSiteResult, error) {
	if !caps.CanUnmerge {
		return MultiSiteResult{}, ErrUnauthorized
	}

	g, err := s.Lookup(ctx, name, store.Primary)
	if err != nil {
		return MultiSiteResult{}, err
	}

	attachments, err := s.Store.Attachments().ListByIdentity(ctx, g.ID)
	if err != nil {
		return MultiSiteResult{}, err
	}

	var result MultiSiteResult
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		for _, a := range attachments {
			if err := tx.Attachments().Unattach(ctx, g.ID, a.SiteID); err != nil {
				return err
			}
			result.add(a.SiteID, nil)
		}
		return tx.Identities().Delete(ctx, g.ID)
	})
	if err != nil {
		return MultiSiteResult{}, err
	}

	if s.Audit != nil {
		_ = s.Audit.Delete(ctx, actor, g.Name, reason)
	}
	return result, nil
}

// AdminUnattach removes attachment rows for the listed sites. Each site
// is all-or-nothing; failures never abort the rest.
func (s *IdentityService) AdminUnattach(ctx context.Context, name string, siteList []string, caps domain.CapabilitySet) (MultiSiteResult, error) {
	if !caps.CanUnmerge {
		return MultiSiteResult{}, ErrUnauthorized
	}

	g, err := s.Lookup(ctx, name, store.Primary)
	if err != nil {
		return MultiSiteResult{}, err
	}

	var result MultiSiteResult
	for _, siteID := range siteList {
		if _, err := s.Store.Attachments().Get(ctx, g.ID, siteID); errors.Is(err, store.ErrNotFound) {
			result.add(siteID, fmt.Errorf("not attached"))
			continue
		} else if err != nil {
			result.add(siteID, err)
			continue
		}
		result.add(siteID, s.Store.Attachments().Unattach(ctx, g.ID, siteID))
	}
	return result, nil
}

// PropagateEmail pushes the global email authority down to one site's
// local snapshot. Used as a deferred update after login.
func (s *IdentityService) PropagateEmail(ctx context.Context, g domain.GlobalIdentity, siteID string) error {
	ls, err := s.Connector.Connect(ctx, siteID)
	if err != nil {
		return err
	}
	return ls.UpdateEmail(ctx, g.Name, g.Email, g.EmailVerified)
}
