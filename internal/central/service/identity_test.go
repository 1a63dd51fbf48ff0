package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openfederation/centralid/internal/central/domain"
	"github.com/openfederation/centralid/internal/central/store"
)

func TestRegister(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, "enwiki")
	env.locals["enwiki"].add(domain.LocalAccount{Name: "Alice"})

	g, err := env.identity.Register(ctx, "alice", "hunter2hunter2", "alice@example.org", "enwiki")
	require.NoError(t, err)
	require.Equal(t, "Alice", g.Name) // canonicalized
	require.NotZero(t, g.ID)
	require.NotEmpty(t, g.AuthToken)

	t.Run("origin site attached with method new", func(t *testing.T) {
		a, err := env.store.Attachments().Get(ctx, g.ID, "enwiki")
		require.NoError(t, err)
		require.Equal(t, domain.AttachNew, a.Method)
	})

	t.Run("duplicate name conflicts", func(t *testing.T) {
		_, err := env.identity.Register(ctx, "Alice", "other-password", "", "enwiki")
		require.ErrorIs(t, err, ErrConflict)
	})

	t.Run("invalid name rejected", func(t *testing.T) {
		_, err := env.identity.Register(ctx, "no|pipes", "pw", "", "enwiki")
		require.ErrorIs(t, err, ErrInvalidName)
	})
}

func TestRegisterBlockedByPendingRename(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, "enwiki")

	require.NoError(t, env.store.RenameRequests().Create(ctx, domain.RenameRequest{
		ID:          "req-1",
		OldName:     "Taken",
		NewName:     "Other",
		Status:      domain.RenamePending,
		RequestedAt: time.Now().UTC(),
	}))

	_, err := env.identity.Register(ctx, "Taken", "password123", "", "enwiki")
	require.ErrorIs(t, err, ErrConflict)
}

func TestRegisterPreventUnattached(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, "enwiki", "dewiki")
	env.identity.PreventUnattached = true
	env.locals["dewiki"].add(domain.LocalAccount{Name: "Squatter"})

	_, err := env.identity.Register(ctx, "Squatter", "password123", "", "enwiki")
	require.ErrorIs(t, err, ErrConflict)
}

func TestAttachIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, "enwiki")

	g, err := env.identity.Register(ctx, "Bob", "password123", "", "")
	require.NoError(t, err)

	created, err := env.identity.Attach(ctx, g.ID, "enwiki", "Bob", domain.AttachPassword)
	require.NoError(t, err)
	require.True(t, created)

	// Re-attaching must not overwrite the existing row.
	created, err = env.identity.Attach(ctx, g.ID, "enwiki", "Bob", domain.AttachAdmin)
	require.NoError(t, err)
	require.False(t, created)

	a, err := env.store.Attachments().Get(ctx, g.ID, "enwiki")
	require.NoError(t, err)
	require.Equal(t, domain.AttachPassword, a.Method)
}

func TestAuthenticateLockedFailsClosed(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, "enwiki")

	g, err := env.identity.Register(ctx, "Mallory", "correct-password", "", "")
	require.NoError(t, err)

	require.Equal(t, AuthOK, env.identity.Authenticate(ctx, g, "correct-password"))
	require.Equal(t, AuthWrongPassword, env.identity.Authenticate(ctx, g, "wrong"))

	// The correct password must not help once the identity is locked.
	require.NoError(t, env.store.Identities().UpdateLockHidden(ctx, g.ID, true, domain.HiddenNone))
	locked, err := env.identity.Lookup(ctx, "Mallory", store.Primary)
	require.NoError(t, err)
	require.Equal(t, AuthLocked, env.identity.Authenticate(ctx, locked, "correct-password"))
}

func TestResetAuthTokenInvalidatesTokenAuth(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, "enwiki")

	g, err := env.identity.Register(ctx, "Carol", "password123", "", "")
	require.NoError(t, err)
	oldToken := g.AuthToken
	require.True(t, env.identity.AuthenticateWithToken(g, oldToken))

	require.NoError(t, env.identity.ResetAuthToken(ctx, g.ID))

	fresh, err := env.identity.Lookup(ctx, "Carol", store.Primary)
	require.NoError(t, err)
	require.False(t, env.identity.AuthenticateWithToken(fresh, oldToken))
	require.True(t, env.identity.AuthenticateWithToken(fresh, fresh.AuthToken))
}

func TestStoreAndMigrate(t *testing.T) {
	ctx := context.Background()

	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	later := base.AddDate(1, 0, 0)

	t.Run("attaches matching sites and leaves the rest", func(t *testing.T) {
		env := newTestEnv(t, "enwiki", "dewiki", "frwiki")
		hash := mustHash(t, "shared-password")
		env.locals["enwiki"].add(domain.LocalAccount{Name: "Alice", PasswordHash: hash, RegisteredAt: base, Email: "alice@example.org"})
		env.locals["dewiki"].add(domain.LocalAccount{Name: "Alice", PasswordHash: hash, RegisteredAt: later})
		env.locals["frwiki"].add(domain.LocalAccount{Name: "Alice", PasswordHash: mustHash(t, "someone-else"), RegisteredAt: later})

		created, err := env.identity.StoreAndMigrate(ctx, "Alice", []string{"shared-password"}, false, true, true)
		require.NoError(t, err)
		require.True(t, created)

		g, err := env.identity.Lookup(ctx, "Alice", store.Primary)
		require.NoError(t, err)
		require.Equal(t, "alice@example.org", g.Email)

		attachments, err := env.identity.QueryAttached(ctx, g.ID)
		require.NoError(t, err)
		require.Len(t, attachments, 2)
		for _, a := range attachments {
			require.Equal(t, domain.AttachPassword, a.Method)
			require.NotEqual(t, "frwiki", a.SiteID)
		}

		// The new global password works; the frwiki holder's does not.
		require.Equal(t, AuthOK, env.identity.Authenticate(ctx, g, "shared-password"))
		require.Equal(t, AuthWrongPassword, env.identity.Authenticate(ctx, g, "someone-else"))
	})

	t.Run("abstains when an identity already exists", func(t *testing.T) {
		env := newTestEnv(t, "enwiki")
		_, err := env.identity.Register(ctx, "Alice", "password123", "", "")
		require.NoError(t, err)

		created, err := env.identity.StoreAndMigrate(ctx, "Alice", []string{"password123"}, false, true, true)
		require.NoError(t, err)
		require.False(t, created)
	})

	t.Run("abstains when a site is unreachable", func(t *testing.T) {
		env := newTestEnv(t, "enwiki")
		env.addDarkSite("dewiki")
		env.locals["enwiki"].add(domain.LocalAccount{Name: "Alice", PasswordHash: mustHash(t, "pw"), RegisteredAt: base})

		// The dark site could hide a non-matching account.
		created, err := env.identity.StoreAndMigrate(ctx, "Alice", []string{"pw"}, false, true, true)
		require.NoError(t, err)
		require.False(t, created)
	})

	t.Run("abstains when the home site does not match", func(t *testing.T) {
		env := newTestEnv(t, "enwiki", "dewiki")
		// enwiki is home (oldest) but holds a different password.
		env.locals["enwiki"].add(domain.LocalAccount{Name: "Alice", PasswordHash: mustHash(t, "home-password"), RegisteredAt: base})
		env.locals["dewiki"].add(domain.LocalAccount{Name: "Alice", PasswordHash: mustHash(t, "pw"), RegisteredAt: later})

		created, err := env.identity.StoreAndMigrate(ctx, "Alice", []string{"pw"}, false, true, true)
		require.NoError(t, err)
		require.False(t, created)
	})

	t.Run("edits tie-break picks the busiest site as home", func(t *testing.T) {
		env := newTestEnv(t, "enwiki", "dewiki")
		env.identity.HomeTieBreak = TieBreakEdits
		// dewiki is newer but has the edits; with the edits tie-break it is
		// home and it matches.
		env.locals["enwiki"].add(domain.LocalAccount{Name: "Alice", PasswordHash: mustHash(t, "home-password"), RegisteredAt: base, EditCount: 3})
		env.locals["dewiki"].add(domain.LocalAccount{Name: "Alice", PasswordHash: mustHash(t, "pw"), RegisteredAt: later, EditCount: 5000})

		created, err := env.identity.StoreAndMigrate(ctx, "Alice", []string{"pw"}, false, true, true)
		require.NoError(t, err)
		require.True(t, created)
	})

	t.Run("dry run reports without creating", func(t *testing.T) {
		env := newTestEnv(t, "enwiki")
		env.identity.DryRun = true
		env.locals["enwiki"].add(domain.LocalAccount{Name: "Alice", PasswordHash: mustHash(t, "pw"), RegisteredAt: base})

		created, err := env.identity.StoreAndMigrate(ctx, "Alice", []string{"pw"}, false, true, true)
		require.NoError(t, err)
		require.False(t, created)

		_, err = env.identity.Lookup(ctx, "Alice", store.Primary)
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestQueryUnattached(t *testing.T) {
	ctx := context.Background()

	t.Run("filters attached sites", func(t *testing.T) {
		env := newTestEnv(t, "enwiki", "dewiki")
		env.locals["enwiki"].add(domain.LocalAccount{Name: "Dana"})
		env.locals["dewiki"].add(domain.LocalAccount{Name: "Dana", EditCount: 12})

		_, err := env.identity.Register(ctx, "Dana", "password123", "", "enwiki")
		require.NoError(t, err)

		accounts, incomplete, err := env.identity.QueryUnattached(ctx, "Dana")
		require.NoError(t, err)
		require.False(t, incomplete)
		require.Len(t, accounts, 1)
		require.Equal(t, "dewiki", accounts[0].SiteID)
		require.EqualValues(t, 12, accounts[0].EditCount)
	})

	t.Run("unreachable sites flag the result incomplete", func(t *testing.T) {
		env := newTestEnv(t, "enwiki")
		env.addDarkSite("dewiki")
		env.locals["enwiki"].add(domain.LocalAccount{Name: "Dana"})

		accounts, incomplete, err := env.identity.QueryUnattached(ctx, "Dana")
		require.NoError(t, err)
		require.True(t, incomplete)
		require.Len(t, accounts, 1)
	})

	t.Run("mid-rename identities refuse the query", func(t *testing.T) {
		env := newTestEnv(t, "enwiki")
		require.NoError(t, env.store.RenameProgress().Seed(ctx, []domain.RenameProgress{{
			OldName: "Dana", NewName: "Diana", SiteID: "enwiki", State: domain.RenameQueued,
		}}))

		_, _, err := env.identity.QueryUnattached(ctx, "Dana")
		require.ErrorIs(t, err, ErrRenameInProgress)
	})
}

func TestAdminLockHide(t *testing.T) {
	ctx := context.Background()
	steward := domain.CapabilitySet{CanLock: true, CanOversight: true}

	t.Run("central update stands when one site is unreachable", func(t *testing.T) {
		env := newTestEnv(t, "enwiki", "dewiki")
		env.addDarkSite("frwiki")
		env.locals["enwiki"].add(domain.LocalAccount{Name: "Eve", EditCount: 7})
		env.locals["dewiki"].add(domain.LocalAccount{Name: "Eve"})

		g, err := env.identity.Register(ctx, "Eve", "password123", "", "enwiki")
		require.NoError(t, err)
		_, err = env.identity.Attach(ctx, g.ID, "dewiki", "Eve", domain.AttachPassword)
		require.NoError(t, err)
		_, err = env.store.Attachments().Attach(ctx, domain.Attachment{
			IdentityID: g.ID, SiteID: "frwiki", Name: "Eve",
			Method: domain.AttachAdmin, AttachedAt: time.Now().UTC(),
		})
		require.NoError(t, err)

		result, err := env.identity.AdminLockHide(ctx, "Eve", true, domain.HiddenLists,
			"spam", "steward", StateHash(false, domain.HiddenNone), steward)
		require.NoError(t, err)
		require.Equal(t, 2, result.SuccessCount)
		require.Len(t, result.Outcomes, 3)

		locked, err := env.identity.Lookup(ctx, "Eve", store.Primary)
		require.NoError(t, err)
		require.True(t, locked.Locked)
		require.Equal(t, domain.HiddenLists, locked.Hidden)
	})

	t.Run("stale state hash rejected", func(t *testing.T) {
		env := newTestEnv(t, "enwiki")
		_, err := env.identity.Register(ctx, "Eve", "password123", "", "")
		require.NoError(t, err)

		_, err = env.identity.AdminLockHide(ctx, "Eve", true, domain.HiddenNone,
			"", "steward", StateHash(true, domain.HiddenOversight), steward)
		require.ErrorIs(t, err, ErrStateMismatch)
	})

	t.Run("hiding beyond lists needs oversight", func(t *testing.T) {
		env := newTestEnv(t, "enwiki")
		_, err := env.identity.Register(ctx, "Eve", "password123", "", "")
		require.NoError(t, err)

		lockOnly := domain.CapabilitySet{CanLock: true}
		_, err = env.identity.AdminLockHide(ctx, "Eve", false, domain.HiddenOversight,
			"", "steward", "", lockOnly)
		require.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestAdminDelete(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, "enwiki", "dewiki")
	env.locals["enwiki"].add(domain.LocalAccount{Name: "Frank"})
	env.locals["dewiki"].add(domain.LocalAccount{Name: "Frank"})

	g, err := env.identity.Register(ctx, "Frank", "password123", "", "enwiki")
	require.NoError(t, err)
	_, err = env.identity.Attach(ctx, g.ID, "dewiki", "Frank", domain.AttachPassword)
	require.NoError(t, err)

	t.Run("requires unmerge capability", func(t *testing.T) {
		_, err := env.identity.AdminDelete(ctx, "Frank", "", "steward", domain.CapabilitySet{CanLock: true})
		require.ErrorIs(t, err, ErrUnauthorized)
	})

	result, err := env.identity.AdminDelete(ctx, "Frank", "cleanup", "steward",
		domain.CapabilitySet{CanUnmerge: true})
	require.NoError(t, err)
	require.Equal(t, 2, result.SuccessCount)

	// The identity is gone; the local accounts survive as unattached.
	_, err = env.identity.Lookup(ctx, "Frank", store.Primary)
	require.ErrorIs(t, err, ErrNotFound)

	accounts, incomplete, err := env.identity.QueryUnattached(ctx, "Frank")
	require.NoError(t, err)
	require.False(t, incomplete)
	require.Len(t, accounts, 2)
}

func TestAdminUnattach(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, "enwiki", "dewiki")
	env.locals["enwiki"].add(domain.LocalAccount{Name: "Grace"})

	g, err := env.identity.Register(ctx, "Grace", "password123", "", "enwiki")
	require.NoError(t, err)

	result, err := env.identity.AdminUnattach(ctx, "Grace", []string{"enwiki", "dewiki"},
		domain.CapabilitySet{CanUnmerge: true})
	require.NoError(t, err)
	require.Equal(t, 1, result.SuccessCount)
	require.Len(t, result.Outcomes, 2)

	_, err = env.store.Attachments().Get(ctx, g.ID, "enwiki")
	require.ErrorIs(t, err, store.ErrNotFound)
}
