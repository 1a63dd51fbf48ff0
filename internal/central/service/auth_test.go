package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openfederation/centralid/internal/central/domain"
	"github.com/openfederation/centralid/internal/central/jobs"
	"github.com/openfederation/centralid/internal/central/store"
	"github.com/openfederation/centralid/internal/central/tokenstore"
)

func newAuthService(env *testEnv) *AuthService {
	return &AuthService{
		Identity:        env.identity,
		Store:           env.store,
		Sessions:        tokenstore.NewMemory(),
		AutoMigrate:     true,
		RenameDetection: true,
	}
}

func TestLoginAttachedIdentity(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, "enwiki")
	auth := newAuthService(env)
	env.locals["enwiki"].add(domain.LocalAccount{Name: "Alice"})

	g, err := env.identity.Register(ctx, "Alice", "correct-password", "", "enwiki")
	require.NoError(t, err)

	t.Run("correct password passes", func(t *testing.T) {
		result, err := auth.Login(ctx, "enwiki", "Alice", "correct-password", "sess-1")
		require.NoError(t, err)
		require.Equal(t, LoginPass, result.Status)
		require.False(t, result.LocalOnly)
		require.Equal(t, g.ID, result.Identity.ID)
	})

	t.Run("wrong password on a unified site is terminal", func(t *testing.T) {
		result, err := auth.Login(ctx, "enwiki", "Alice", "wrong", "sess-1")
		require.NoError(t, err)
		require.Equal(t, LoginFail, result.Status)
	})

	t.Run("locked identity fails even with the right password", func(t *testing.T) {
		require.NoError(t, env.store.Identities().UpdateLockHidden(ctx, g.ID, true, domain.HiddenNone))
		result, err := auth.Login(ctx, "enwiki", "Alice", "correct-password", "sess-1")
		require.NoError(t, err)
		require.Equal(t, LoginFail, result.Status)
	})
}

func TestLoginMigratesMatchingLocals(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, "enwiki", "dewiki")
	auth := newAuthService(env)

	// Alice exists locally on both sites with the same password and no
	// global identity yet.
	hash := mustHash(t, "shared-password")
	base := time.Date(2019, 6, 1, 0, 0, 0, 0, time.UTC)
	env.locals["enwiki"].add(domain.LocalAccount{Name: "Alice", PasswordHash: hash, RegisteredAt: base})
	env.locals["dewiki"].add(domain.LocalAccount{Name: "Alice", PasswordHash: hash, RegisteredAt: base.AddDate(0, 3, 0)})

	result, err := auth.Login(ctx, "enwiki", "Alice", "shared-password", "sess-1")
	require.NoError(t, err)
	require.Equal(t, LoginPass, result.Status)
	require.False(t, result.LocalOnly)

	g, err := env.identity.Lookup(ctx, "Alice", store.Primary)
	require.NoError(t, err)
	attachments, err := env.identity.QueryAttached(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, attachments, 2)

	// The next login from the other site authenticates globally.
	result, err = auth.Login(ctx, "dewiki", "Alice", "shared-password", "sess-2")
	require.NoError(t, err)
	require.Equal(t, LoginPass, result.Status)
	require.False(t, result.LocalOnly)
}

func TestLoginNeverAbsorbsForeignLocalAccounts(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, "enwiki", "dewiki")
	auth := newAuthService(env)

	t.Run("global password alone cannot claim an unattached local account", func(t *testing.T) {
		// "Victim" is global on enwiki only; dewiki's local "Victim"
		// belongs to someone else with their own password.
		g, err := env.identity.Register(ctx, "Victim", "global-pw", "", "enwiki")
		require.NoError(t, err)
		env.locals["enwiki"].add(domain.LocalAccount{Name: "Victim"})
		env.locals["dewiki"].add(domain.LocalAccount{
			Name:         "Victim",
			PasswordHash: mustHash(t, "their-own-pw"),
			Email:        "owner@example.org",
		})

		result, err := auth.Login(ctx, "dewiki", "Victim", "global-pw", "sess-1")
		require.NoError(t, err)
		require.Equal(t, LoginFail, result.Status)

		// No attachment row appeared and the local email is untouched.
		_, err = env.store.Attachments().Get(ctx, g.ID, "dewiki")
		require.ErrorIs(t, err, store.ErrNotFound)
		local, err := env.locals["dewiki"].GetAccount(ctx, "Victim")
		require.NoError(t, err)
		require.Equal(t, "owner@example.org", local.Email)
	})

	t.Run("matching local credentials attach on login", func(t *testing.T) {
		g, err := env.identity.Register(ctx, "Shared", "same-pw", "", "enwiki")
		require.NoError(t, err)
		env.locals["dewiki"].add(domain.LocalAccount{
			Name:         "Shared",
			PasswordHash: mustHash(t, "same-pw"),
		})

		result, err := auth.Login(ctx, "dewiki", "Shared", "same-pw", "sess-2")
		require.NoError(t, err)
		require.Equal(t, LoginPass, result.Status)

		a, err := env.store.Attachments().Get(ctx, g.ID, "dewiki")
		require.NoError(t, err)
		require.Equal(t, domain.AttachLogin, a.Method)
	})

	t.Run("no local account passes globally without attaching", func(t *testing.T) {
		g, err := env.identity.Register(ctx, "Roaming", "roam-pw", "", "enwiki")
		require.NoError(t, err)

		result, err := auth.Login(ctx, "dewiki", "Roaming", "roam-pw", "sess-3")
		require.NoError(t, err)
		require.Equal(t, LoginPass, result.Status)

		_, err = env.store.Attachments().Get(ctx, g.ID, "dewiki")
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestLoginUnattached(t *testing.T) {
	ctx := context.Background()

	t.Run("strict mode rejects local-only logins", func(t *testing.T) {
		env := newTestEnv(t, "enwiki", "dewiki")
		auth := newAuthService(env)
		auth.AutoMigrate = false
		auth.Strict = true
		env.locals["enwiki"].add(domain.LocalAccount{Name: "Ivan", PasswordHash: mustHash(t, "pw")})

		result, err := auth.Login(ctx, "enwiki", "Ivan", "pw", "sess-1")
		require.NoError(t, err)
		require.Equal(t, LoginFail, result.Status)
	})

	t.Run("otherwise the pass is local-only", func(t *testing.T) {
		env := newTestEnv(t, "enwiki", "dewiki")
		auth := newAuthService(env)
		auth.AutoMigrate = false
		env.locals["enwiki"].add(domain.LocalAccount{Name: "Ivan", PasswordHash: mustHash(t, "pw")})

		result, err := auth.Login(ctx, "enwiki", "Ivan", "pw", "sess-1")
		require.NoError(t, err)
		require.Equal(t, LoginPass, result.Status)
		require.True(t, result.LocalOnly)
	})

	t.Run("deferred migration runs off the critical path", func(t *testing.T) {
		env := newTestEnv(t, "enwiki")
		auth := newAuthService(env)
		auth.AutoMigrate = false
		auth.AutoMigrateNonGlobal = true
		auth.Deferred = jobs.NewDeferredRunner(8)
		auth.Deferred.Start(ctx)
		env.locals["enwiki"].add(domain.LocalAccount{Name: "Ivan", PasswordHash: mustHash(t, "pw")})

		result, err := auth.Login(ctx, "enwiki", "Ivan", "pw", "sess-1")
		require.NoError(t, err)
		require.Equal(t, LoginPass, result.Status)
		require.True(t, result.LocalOnly)

		// Stop drains the queue; the migration has run by the time it
		// returns.
		auth.Deferred.Stop()

		g, err := env.identity.Lookup(ctx, "Ivan", store.Primary)
		require.NoError(t, err)
		attachments, err := env.identity.QueryAttached(ctx, g.ID)
		require.NoError(t, err)
		require.Len(t, attachments, 1)
	})
}

func TestLoginRenameDetection(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, "enwiki")
	auth := newAuthService(env)

	// Jack was force-renamed to the per-site pattern during a migration.
	_, err := env.identity.Register(ctx, "Jack~enwiki", "old-password", "", "")
	require.NoError(t, err)

	t.Run("detection demands confirmation, never a silent pass", func(t *testing.T) {
		result, err := auth.Login(ctx, "enwiki", "Jack", "old-password", "sess-1")
		require.NoError(t, err)
		require.Equal(t, LoginNeedsRenameConfirmation, result.Status)
		require.Equal(t, "Jack", result.RenamedFrom)
		require.Equal(t, "Jack~enwiki", result.RenamedTo)
	})

	t.Run("accepting finishes the login as the renamed identity", func(t *testing.T) {
		_, err := auth.Login(ctx, "enwiki", "Jack", "old-password", "sess-2")
		require.NoError(t, err)

		result, err := auth.LoginContinue(ctx, "sess-2", true)
		require.NoError(t, err)
		require.Equal(t, LoginPass, result.Status)
		require.Equal(t, "Jack~enwiki", result.Identity.Name)
		require.Equal(t, "Jack", result.RenamedFrom)
	})

	t.Run("declining fails the login and clears the state", func(t *testing.T) {
		_, err := auth.Login(ctx, "enwiki", "Jack", "old-password", "sess-3")
		require.NoError(t, err)

		result, err := auth.LoginContinue(ctx, "sess-3", false)
		require.NoError(t, err)
		require.Equal(t, LoginFail, result.Status)

		// The confirmation is one-shot.
		result, err = auth.LoginContinue(ctx, "sess-3", true)
		require.NoError(t, err)
		require.Equal(t, LoginFail, result.Status)
	})

	t.Run("no pending confirmation fails", func(t *testing.T) {
		result, err := auth.LoginContinue(ctx, "sess-unknown", true)
		require.NoError(t, err)
		require.Equal(t, LoginFail, result.Status)
	})

	t.Run("wrong password never reaches confirmation", func(t *testing.T) {
		result, err := auth.Login(ctx, "enwiki", "Jack", "wrong", "sess-4")
		require.NoError(t, err)
		require.Equal(t, LoginFail, result.Status)
	})
}
