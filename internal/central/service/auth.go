package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openfederation/centralid/internal/central/domain"
	"github.com/openfederation/centralid/internal/central/jobs"
	"github.com/openfederation/centralid/internal/central/sites"
	"github.com/openfederation/centralid/internal/central/store"
	"github.com/openfederation/centralid/internal/central/tokenstore"
	"github.com/openfederation/centralid/pkg/cryptox"
	"github.com/openfederation/centralid/pkg/slogx"
)

// LoginStatus is the terminal state of one login attempt.
type LoginStatus string

const (
	LoginPass LoginStatus = "pass"
	LoginFail LoginStatus = "fail"
	// LoginNeedsRenameConfirmation means the password matched a renamed
	// identity; an explicit confirmation round trip is required before
	// the final pass.
	LoginNeedsRenameConfirmation LoginStatus = "needs_rename_confirmation"
)

// LoginResult is the outcome handed back to the HTTP surface.
type LoginResult struct {
	Status   LoginStatus
	Identity domain.GlobalIdentity
	// LocalOnly marks a pass that authenticated against the site's local
	// account without a unified identity behind it.
	LocalOnly bool
	// RenamedFrom/RenamedTo carry the detected rename pair while a
	// confirmation is outstanding.
	RenamedFrom string
	RenamedTo   string
	Reason      string
}

// renameConfirmState is the session-scoped state parked between the
// rename-detection pass and the user's explicit confirmation.
type renameConfirmState struct {
	From string `json:"from"`
	To   string `json:"to"`
	Site string `json:"site"`
}

const renameConfirmPrefix = "renameconfirm:"

// AuthService orchestrates one login attempt over the identity record.
type AuthService struct {
	Identity *IdentityService
	Store    store.Store
	// Sessions holds session-scoped confirmation state, keyed by a
	// stable session identifier and cleared on final pass/fail.
	Sessions tokenstore.Store
	Deferred *jobs.DeferredRunner

	// AutoMigrate enables the synchronous migration attempt at login.
	AutoMigrate bool
	// AutoMigrateNonGlobal queues deferred migration for local accounts
	// that could not be migrated synchronously.
	AutoMigrateNonGlobal bool
	// Strict rejects unattached local logins outright.
	Strict bool
	// RenameDetection enables the derived-prior-name retry.
	RenameDetection bool

	// ConfirmTTL bounds how long a rename confirmation may stay pending.
	ConfirmTTL time.Duration
}

func (s *AuthService) confirmTTL() time.Duration {
	if s.ConfirmTTL <= 0 {
		return 10 * time.Minute
	}
	return s.ConfirmTTL
}

// Login runs the authentication state machine for one attempt from one
// site. sessionID keys the confirmation state when rename detection
// fires.
func (s *AuthService) Login(ctx context.Context, siteID, username, password, sessionID string) (LoginResult, error) {
	log := slogx.FromContext(ctx)

	name := domain.CanonicalizeName(username)
	if !domain.ValidName(name) {
		return s.fail("invalid username"), nil
	}

	// Any earlier confirmation state for this session is stale now.
	_ = s.Sessions.Delete(ctx, renameConfirmPrefix+sessionID)

	// 1. Global path: an existing identity is the authority for every
	// attached site.
	g, err := s.Identity.Lookup(ctx, name, store.Cached)
	switch {
	case err == nil:
		attachments, err := s.Identity.QueryAttached(ctx, g.ID)
		if err != nil {
			return LoginResult{}, err
		}

		status := s.Identity.Authenticate(ctx, g, password)
		if status == AuthOK && len(attachments) > 0 {
			return s.passAttached(ctx, g, attachments, siteID, name, password)
		}
		if status == AuthLocked {
			log.Info("login rejected: identity locked", "name", name)
			return s.fail("account locked"), nil
		}
		if status == AuthOK {
			// Global identity with no attachments behaves like an
			// unattached account.
			return s.passUnattached(ctx, name, password, siteID)
		}

		if s.attachedOn(attachments, siteID) {
			// The site is unified: local credentials no longer exist, so
			// a wrong global password is terminal, except for a detected
			// rename.
			return s.tryRenameDetection(ctx, siteID, name, password, sessionID)
		}

	case !errors.Is(err, ErrNotFound):
		return LoginResult{}, err
	}

	// 2. Local path: no identity, or this site is not attached.
	local, localErr := s.localAccount(ctx, siteID, name)
	if localErr == nil && local.PasswordHash != "" &&
		cryptox.VerifyPassword(password, local.PasswordHash) == nil {

		// 3. Synchronous migration attempt, current login only.
		if s.AutoMigrate {
			created, err := s.Identity.StoreAndMigrate(ctx, name, []string{password}, true, true, true)
			if err != nil {
				log.Warn("migration attempt errored", "name", name, "err", err)
			}
			if created {
				migrated, err := s.Identity.Lookup(ctx, name, store.Primary)
				if err == nil {
					loginsTotal.WithLabelValues("pass").Inc()
					return LoginResult{Status: LoginPass, Identity: migrated}, nil
				}
			}
		}

		return s.passUnattached(ctx, name, password, siteID)
	}

	// 4. Ordinary authentication failed everywhere; try the rename
	// pattern before giving up.
	return s.tryRenameDetection(ctx, siteID, name, password, sessionID)
}

// LoginContinue resolves an outstanding rename confirmation. accept
// finishes the login as the renamed identity; decline fails it. Either
// way the session state is cleared.
func (s *AuthService) LoginContinue(ctx context.Context, sessionID string, accept bool) (LoginResult, error) {
	raw, err := s.Sessions.Consume(ctx, renameConfirmPrefix+sessionID)
	if err != nil {
		return s.fail("no rename confirmation pending"), nil
	}

	var state renameConfirmState
	if err := json.Unmarshal(raw, &state); err != nil {
		return s.fail("no rename confirmation pending"), nil
	}

	if !accept {
		loginsTotal.WithLabelValues("fail").Inc()
		return LoginResult{Status: LoginFail, Reason: "rename not confirmed"}, nil
	}

	g, err := s.Identity.Lookup(ctx, state.To, store.Cached)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return s.fail("renamed identity no longer exists"), nil
		}
		return LoginResult{}, err
	}

	loginsTotal.WithLabelValues("pass").Inc()
	return LoginResult{
		Status:      LoginPass,
		Identity:    g,
		RenamedFrom: state.From,
		RenamedTo:   state.To,
	}, nil
}

// passAttached finishes a successful login on a unified identity:
// absorb the current site's local account if its own credentials also
// match, and queue the deferred updates that must stay off the critical
// path.
func (s *AuthService) passAttached(ctx context.Context, g domain.GlobalIdentity, attachments []domain.Attachment, siteID, name, password string) (LoginResult, error) {
	log := slogx.FromContext(ctx)

	if !s.attachedOn(attachments, siteID) {
		local, err := s.localAccount(ctx, siteID, name)
		switch {
		case err == nil:
			// An unattached local account under this name belongs to
			// whoever holds its local password. The global credential
			// alone must never absorb it.
			if local.PasswordHash == "" ||
				cryptox.VerifyPassword(password, local.PasswordHash) != nil {
				log.Info("login rejected: local account credentials differ",
					"name", name, "site", siteID)
				return s.fail("account not unified on this site"), nil
			}
			if _, err := s.Identity.Attach(ctx, g.ID, siteID, name, domain.AttachLogin); err != nil {
				log.Warn("login attach failed", "name", name, "site", siteID, "err", err)
			}
		case errors.Is(err, sites.ErrAccountNotFound):
			// Nothing local to absorb; the identity stands on its own.
		default:
			log.Warn("local account check failed", "name", name, "site", siteID, "err", err)
		}
	}

	// The global email is the authority; refresh the local snapshot
	// after the response is out.
	if s.Deferred != nil {
		identity := g
		site := siteID
		s.Deferred.Defer("propagate-email", func(ctx context.Context) error {
			return s.Identity.PropagateEmail(ctx, identity, site)
		})
	}

	loginsTotal.WithLabelValues("pass").Inc()
	return LoginResult{Status: LoginPass, Identity: g}, nil
}

// passUnattached decides the fate of a login that only matched local
// credentials. Strict mode rejects it; otherwise the pass is local-only
// and migration is deferred to asynchronous processing.
func (s *AuthService) passUnattached(ctx context.Context, name, password, siteID string) (LoginResult, error) {
	if s.Strict {
		slogx.FromContext(ctx).Info("strict mode rejected unattached login",
			"name", name, "site", siteID)
		return s.fail("account not unified"), nil
	}

	if s.AutoMigrateNonGlobal && s.Deferred != nil {
		s.Deferred.Defer("deferred-migration", func(ctx context.Context) error {
			_, err := s.Identity.StoreAndMigrate(ctx, name, []string{password}, true, true, true)
			return err
		})
	}

	loginsTotal.WithLabelValues("pass_local").Inc()
	return LoginResult{Status: LoginPass, LocalOnly: true}, nil
}

// tryRenameDetection derives the per-site prior-name pattern and retries
// authentication against it. A forced rename must not silently log the
// user into an identity they did not request, so success parks the pair
// in session state and demands an explicit confirmation.
func (s *AuthService) tryRenameDetection(ctx context.Context, siteID, name, password, sessionID string) (LoginResult, error) {
	if !s.RenameDetection || sessionID == "" {
		return s.fail("authentication failed"), nil
	}

	derived := domain.CanonicalizeName(
		fmt.Sprintf("%s~%s", name, strings.ReplaceAll(siteID, "_", "-")))

	g, err := s.Identity.Lookup(ctx, derived, store.Cached)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return s.fail("authentication failed"), nil
		}
		return LoginResult{}, err
	}

	if s.Identity.Authenticate(ctx, g, password) != AuthOK {
		return s.fail("authentication failed"), nil
	}

	state, err := json.Marshal(renameConfirmState{From: name, To: derived, Site: siteID})
	if err != nil {
		return LoginResult{}, err
	}
	if err := s.Sessions.Set(ctx, renameConfirmPrefix+sessionID, state, s.confirmTTL()); err != nil {
		return LoginResult{}, err
	}

	loginsTotal.WithLabelValues("needs_confirmation").Inc()
	return LoginResult{
		Status:      LoginNeedsRenameConfirmation,
		RenamedFrom: name,
		RenamedTo:   derived,
	}, nil
}

func (s *AuthService) fail(reason string) LoginResult {
	loginsTotal.WithLabelValues("fail").Inc()
	return LoginResult{Status: LoginFail, Reason: reason}
}

func (s *AuthService) attachedOn(attachments []domain.Attachment, siteID string) bool {
	for _, a := range attachments {
		if a.SiteID == siteID {
			return true
		}
	}
	return false
}

func (s *AuthService) localAccount(ctx context.Context, siteID, name string) (domain.LocalAccount, error) {
	ls, err := s.Identity.Connector.Connect(ctx, siteID)
	if err != nil {
		return domain.LocalAccount{}, err
	}
	return ls.GetAccount(ctx, name)
}
