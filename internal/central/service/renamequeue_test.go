package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openfederation/centralid/internal/central/domain"
	"github.com/openfederation/centralid/internal/central/store"
)

func newQueueEnv(t *testing.T, siteIDs ...string) (*testEnv, *RenameQueueService) {
	t.Helper()

	env := newTestEnv(t, siteIDs...)
	orch := &RenameOrchestrator{
		Store:     env.store,
		Identity:  env.identity,
		Connector: env.connector,
		Audit:     env.identity.Audit,
	}
	orch.Dispatcher = &inlineDispatcher{exec: orch.ExecuteSiteTask}

	return env, &RenameQueueService{Store: env.store, Orchestrator: orch}
}

func TestRenameRequestQueue(t *testing.T) {
	ctx := context.Background()

	t.Run("one pending request per old name", func(t *testing.T) {
		_, queue := newQueueEnv(t, "enwiki")

		_, err := queue.Create(ctx, "Bob", "Robert", "", "tired of Bob")
		require.NoError(t, err)

		_, err = queue.Create(ctx, "Bob", "Bobby", "", "changed my mind")
		require.ErrorIs(t, err, ErrConflict)
	})

	t.Run("same old and new name rejected", func(t *testing.T) {
		_, queue := newQueueEnv(t, "enwiki")
		_, err := queue.Create(ctx, "Bob", "bob", "", "")
		require.ErrorIs(t, err, ErrInvalidName)
	})

	t.Run("cancel frees the name for a new request", func(t *testing.T) {
		_, queue := newQueueEnv(t, "enwiki")

		req, err := queue.Create(ctx, "Bob", "Robert", "", "")
		require.NoError(t, err)
		require.NoError(t, queue.Cancel(ctx, req.ID))

		_, err = queue.Create(ctx, "Bob", "Bobby", "", "")
		require.NoError(t, err)
	})
}

func TestApproveRenamesEverywhere(t *testing.T) {
	ctx := context.Background()
	env, queue := newQueueEnv(t, "enwiki", "dewiki")
	env.locals["enwiki"].add(domain.LocalAccount{Name: "Bob"})
	env.locals["dewiki"].add(domain.LocalAccount{Name: "Bob"})

	g, err := env.identity.Register(ctx, "Bob", "password123", "", "enwiki")
	require.NoError(t, err)
	_, err = env.identity.Attach(ctx, g.ID, "dewiki", "Bob", domain.AttachPassword)
	require.NoError(t, err)

	req, err := queue.Create(ctx, "Bob", "Robert", "", "legal name change")
	require.NoError(t, err)

	require.NoError(t, queue.Approve(ctx, req.ID, 42, "Steward", "looks fine", RenameOptions{MovePages: true}))

	t.Run("global record renamed", func(t *testing.T) {
		renamed, err := env.identity.Lookup(ctx, "Robert", store.Primary)
		require.NoError(t, err)
		require.Equal(t, g.ID, renamed.ID)

		_, err = env.identity.Lookup(ctx, "Bob", store.Primary)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("attachment rows carry the new name", func(t *testing.T) {
		attachments, err := env.identity.QueryAttached(ctx, g.ID)
		require.NoError(t, err)
		require.Len(t, attachments, 2)
		for _, a := range attachments {
			require.Equal(t, "Robert", a.Name)
		}
	})

	t.Run("local accounts renamed on both sites", func(t *testing.T) {
		for _, siteID := range []string{"enwiki", "dewiki"} {
			exists, err := env.locals[siteID].AccountExists(ctx, "Robert")
			require.NoError(t, err)
			require.True(t, exists, siteID)
		}
	})

	t.Run("progress rows are gone", func(t *testing.T) {
		for _, name := range []string{"Bob", "Robert"} {
			inProgress, err := env.store.RenameProgress().InProgress(ctx, name)
			require.NoError(t, err)
			require.False(t, inProgress, name)
		}
	})

	t.Run("decision is durable with performer and completion time", func(t *testing.T) {
		decided, err := queue.Get(ctx, req.ID)
		require.NoError(t, err)
		require.Equal(t, domain.RenameApproved, decided.Status)
		require.NotNil(t, decided.CompletedAt)
		require.NotNil(t, decided.PerformerID)
		require.EqualValues(t, 42, *decided.PerformerID)
		require.Equal(t, "looks fine", decided.Comments)
	})

	t.Run("decisions are one-way", func(t *testing.T) {
		require.ErrorIs(t, queue.Approve(ctx, req.ID, 42, "Steward", "", RenameOptions{}), ErrConflict)
		require.ErrorIs(t, queue.Reject(ctx, req.ID, 42, ""), ErrConflict)
		require.ErrorIs(t, queue.Cancel(ctx, req.ID), ErrConflict)
	})
}

func TestResubmitRecoversUndispatchedTasks(t *testing.T) {
	ctx := context.Background()
	env, queue := newQueueEnv(t, "enwiki", "dewiki")
	env.locals["enwiki"].add(domain.LocalAccount{Name: "Bob"})
	env.locals["dewiki"].add(domain.LocalAccount{Name: "Bob"})

	g, err := env.identity.Register(ctx, "Bob", "password123", "", "enwiki")
	require.NoError(t, err)
	_, err = env.identity.Attach(ctx, g.ID, "dewiki", "Bob", domain.AttachPassword)
	require.NoError(t, err)

	// The dispatcher refuses everything at approval time.
	working := queue.Orchestrator.Dispatcher
	queue.Orchestrator.Dispatcher = refusingDispatcher{}

	req, err := queue.Create(ctx, "Bob", "Robert", "", "")
	require.NoError(t, err)
	require.NoError(t, queue.Approve(ctx, req.ID, 42, "Steward", "", RenameOptions{}))

	// The global side committed but both sites stay pinned mid-rename.
	inProgress, err := env.store.RenameProgress().InProgress(ctx, "Robert")
	require.NoError(t, err)
	require.True(t, inProgress)
	exists, err := env.locals["enwiki"].AccountExists(ctx, "Bob")
	require.NoError(t, err)
	require.True(t, exists)

	// Resubmission from the progress rows finishes the job.
	queue.Orchestrator.Dispatcher = working
	dispatched, err := queue.Orchestrator.ResubmitSiteTasks(ctx, "Robert", "Steward")
	require.NoError(t, err)
	require.Equal(t, 2, dispatched)

	for _, siteID := range []string{"enwiki", "dewiki"} {
		exists, err := env.locals[siteID].AccountExists(ctx, "Robert")
		require.NoError(t, err)
		require.True(t, exists, siteID)
	}
	inProgress, err = env.store.RenameProgress().InProgress(ctx, "Robert")
	require.NoError(t, err)
	require.False(t, inProgress)

	// Nothing left to resubmit once the rows are gone.
	_, err = queue.Orchestrator.ResubmitSiteTasks(ctx, "Robert", "Steward")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestApprovePromotesLocalAccount(t *testing.T) {
	ctx := context.Background()
	env, queue := newQueueEnv(t, "enwiki")
	env.locals["enwiki"].add(domain.LocalAccount{
		Name:         "Old timer",
		PasswordHash: mustHash(t, "their-password"),
		Email:        "old@example.org",
		EditCount:    812,
	})

	req, err := queue.Create(ctx, "Old timer", "Newname", "enwiki", "global account wanted")
	require.NoError(t, err)
	require.NoError(t, queue.Approve(ctx, req.ID, 7, "Steward", "", RenameOptions{}))

	g, err := env.identity.Lookup(ctx, "Newname", store.Primary)
	require.NoError(t, err)
	require.Equal(t, "old@example.org", g.Email)

	// The local credential carried over unchanged.
	require.Equal(t, AuthOK, env.identity.Authenticate(ctx, g, "their-password"))

	a, err := env.store.Attachments().Get(ctx, g.ID, "enwiki")
	require.NoError(t, err)
	require.Equal(t, domain.AttachPrimary, a.Method)
	require.EqualValues(t, 812, a.EditCount)

	exists, err := env.locals["enwiki"].AccountExists(ctx, "Newname")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestApproveConflicts(t *testing.T) {
	ctx := context.Background()

	t.Run("taken target name fails and leaves the request pending", func(t *testing.T) {
		env, queue := newQueueEnv(t, "enwiki")
		_, err := env.identity.Register(ctx, "Bob", "password123", "", "")
		require.NoError(t, err)
		_, err = env.identity.Register(ctx, "Robert", "password123", "", "")
		require.NoError(t, err)

		req, err := queue.Create(ctx, "Bob", "Robert", "", "")
		require.NoError(t, err)

		require.ErrorIs(t, queue.Approve(ctx, req.ID, 1, "Steward", "", RenameOptions{}), ErrConflict)

		pending, err := queue.Get(ctx, req.ID)
		require.NoError(t, err)
		require.True(t, pending.Pending())
	})

	t.Run("reject records without running effects", func(t *testing.T) {
		env, queue := newQueueEnv(t, "enwiki")
		_, err := env.identity.Register(ctx, "Bob", "password123", "", "")
		require.NoError(t, err)

		req, err := queue.Create(ctx, "Bob", "Robert", "", "")
		require.NoError(t, err)
		require.NoError(t, queue.Reject(ctx, req.ID, 1, "no"))

		_, err = env.identity.Lookup(ctx, "Bob", store.Primary)
		require.NoError(t, err) // untouched

		decided, err := queue.Get(ctx, req.ID)
		require.NoError(t, err)
		require.Equal(t, domain.RenameRejected, decided.Status)
	})
}
