package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openfederation/centralid/internal/central/domain"
	"github.com/openfederation/centralid/internal/central/store"
	"github.com/openfederation/centralid/internal/central/tokenstore"
	"github.com/openfederation/centralid/pkg/cryptox"
	"github.com/openfederation/centralid/pkg/slogx"
)

const (
	tokenPrefix     = "catoken:"
	blacklistPrefix = "blacklist:"
)

// tokenPayload is what a one-time token stores. Every field participates
// in the derived session id.
type tokenPayload struct {
	UserName        string `json:"userName"`
	AuthToken       string `json:"authToken"`
	Origin          string `json:"origin"`
	OriginSessionID string `json:"originSessionId"`
}

func (p tokenPayload) complete() bool {
	return p.UserName != "" && p.AuthToken != "" && p.Origin != "" && p.OriginSessionID != ""
}

// Session is a materialized cross-site session. The id is a pure
// function of the token payload, so re-deriving it from the same token
// can never mint two distinct live sessions.
type Session struct {
	ID         string
	IdentityID int64
	Username   string
	Origin     string
}

// TokenSessionService issues one-time tokens on the origin site and
// exchanges them for trusted sessions on foreign sites.
type TokenSessionService struct {
	Identity *IdentityService
	Tokens   tokenstore.Store

	// TokenTTL bounds a one-time token's life; order of 60 seconds.
	TokenTTL time.Duration
	// BlacklistTTL bounds the per-identity session-kill entries.
	BlacklistTTL time.Duration
}

func (s *TokenSessionService) tokenTTL() time.Duration {
	if s.TokenTTL <= 0 {
		return 60 * time.Second
	}
	return s.TokenTTL
}

func (s *TokenSessionService) blacklistTTL() time.Duration {
	if s.BlacklistTTL <= 0 {
		return 24 * time.Hour
	}
	return s.BlacklistTTL
}

// Issue mints a one-time token for an authenticated caller on an
// attached identity. The token value embeds random hex plus the identity
// id, so collisions across identities are impossible.
func (s *TokenSessionService) Issue(ctx context.Context, username, originSite, originSessionID string) (string, error) {
	name := domain.CanonicalizeName(username)

	g, err := s.Identity.Lookup(ctx, name, store.Cached)
	if err != nil {
		return "", err
	}

	if _, err := s.Identity.Store.Attachments().Get(ctx, g.ID, originSite); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("%w: identity not attached on origin site", ErrUnauthorized)
		}
		return "", err
	}

	random, err := cryptox.GenerateHex(cryptox.TokenSize128)
	if err != nil {
		return "", err
	}
	token := fmt.Sprintf("%s%x", random, g.ID)

	payload, err := json.Marshal(tokenPayload{
		UserName:        name,
		AuthToken:       g.AuthToken,
		Origin:          originSite,
		OriginSessionID: originSessionID,
	})
	if err != nil {
		return "", err
	}

	if err := s.Tokens.Set(ctx, tokenPrefix+token, payload, s.tokenTTL()); err != nil {
		return "", err
	}
	return token, nil
}

// Exchange turns a one-time token into a trusted session on a foreign
// site. Every step fails closed; consumption is the last check before
// the session exists, so a racing consumer can never observe a false
// success.
func (s *TokenSessionService) Exchange(ctx context.Context, token, localSiteID string) (Session, error) {
	log := slogx.FromContext(ctx)

	// 1. Look up the token's data without consuming it yet.
	raw, err := s.Tokens.Get(ctx, tokenPrefix+token)
	if err != nil {
		tokenExchanges.WithLabelValues("bad_token").Inc()
		return Session{}, ErrBadToken
	}
	var payload tokenPayload
	if err := json.Unmarshal(raw, &payload); err != nil || !payload.complete() {
		tokenExchanges.WithLabelValues("bad_token").Inc()
		return Session{}, ErrBadToken
	}

	// 2. Canonicalize and validate the carried username.
	name := domain.CanonicalizeName(payload.UserName)
	if !domain.ValidName(name) {
		tokenExchanges.WithLabelValues("bad_token").Inc()
		return Session{}, ErrBadToken
	}

	// 3. The identity must exist, not be mid-rename, and not collide
	// with an unattached local account on this site.
	if inProgress, err := s.Identity.Store.RenameProgress().InProgress(ctx, name); err != nil {
		return Session{}, err
	} else if inProgress {
		tokenExchanges.WithLabelValues("rename_in_progress").Inc()
		return Session{}, ErrRenameInProgress
	}

	g, err := s.Identity.Lookup(ctx, name, store.Cached)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			tokenExchanges.WithLabelValues("bad_token").Inc()
			return Session{}, ErrBadToken
		}
		return Session{}, err
	}

	if _, err := s.Identity.Store.Attachments().Get(ctx, g.ID, localSiteID); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return Session{}, err
		}
		// Unattached here: a same-named local account must not be
		// hijackable through the token path.
		if ls, cerr := s.Identity.Connector.Connect(ctx, localSiteID); cerr == nil {
			if exists, _ := ls.AccountExists(ctx, name); exists {
				tokenExchanges.WithLabelValues("collision").Inc()
				return Session{}, fmt.Errorf("%w: local account collision", ErrUnauthorized)
			}
		}
	}

	// 4. Session-kill blacklist, keyed by identity id.
	if blocked, err := s.Tokens.Exists(ctx, blacklistKey(g.ID)); err != nil {
		return Session{}, err
	} else if blocked {
		tokenExchanges.WithLabelValues("blacklisted").Inc()
		return Session{}, fmt.Errorf("%w: sessions disabled for identity", ErrUnauthorized)
	}

	// 5. The carried auth-token must match the identity's current one.
	if !s.Identity.AuthenticateWithToken(g, payload.AuthToken) {
		tokenExchanges.WithLabelValues("stale_auth_token").Inc()
		return Session{}, fmt.Errorf("%w: auth token mismatch", ErrUnauthorized)
	}

	// 6. Atomic one-time consumption. Losing the race fails the whole
	// exchange.
	if _, err := s.Tokens.Consume(ctx, tokenPrefix+token); err != nil {
		tokenExchanges.WithLabelValues("race_lost").Inc()
		return Session{}, ErrRaceLost
	}

	// 7. Only now materialize the session.
	sid := sessionID(payload)
	log.Info("token exchange succeeded",
		"name", name, "origin", payload.Origin, "site", localSiteID)
	tokenExchanges.WithLabelValues("ok").Inc()

	return Session{
		ID:         sid,
		IdentityID: g.ID,
		Username:   name,
		Origin:     payload.Origin,
	}, nil
}

// InvalidateSessionsForUser kills every token-based session for an
// identity: the auth-token is rotated and new exchanges are refused for
// the blacklist window.
func (s *TokenSessionService) InvalidateSessionsForUser(ctx context.Context, name string) error {
	g, err := s.Identity.Lookup(ctx, name, store.Primary)
	if err != nil {
		return err
	}
	if err := s.Identity.ResetAuthToken(ctx, g.ID); err != nil {
		return err
	}
	return s.Tokens.Set(ctx, blacklistKey(g.ID), []byte("1"), s.blacklistTTL())
}

// PreventSessionsForUser refuses new exchanges without rotating the
// auth-token.
func (s *TokenSessionService) PreventSessionsForUser(ctx context.Context, name string) error {
	g, err := s.Identity.Lookup(ctx, name, store.Primary)
	if err != nil {
		return err
	}
	return s.Tokens.Set(ctx, blacklistKey(g.ID), []byte("1"), s.blacklistTTL())
}

func blacklistKey(identityID int64) string {
	return fmt.Sprintf("%s%d", blacklistPrefix, identityID)
}

// sessionID derives the session identifier from all stored token fields.
// Same payload, same id: re-presenting a consumed token cannot produce
// two callers sharing a fresh session id.
func sessionID(p tokenPayload) string {
	return cryptox.FingerprintToken(strings.Join([]string{
		p.UserName, p.AuthToken, p.Origin, p.OriginSessionID,
	}, "\n"))
}
