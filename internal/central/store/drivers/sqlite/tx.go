package sqlite

import (
	"context"
	"database/sql"

	"github.com/openfederation/centralid/internal/central/store"
)

type txStore struct {
	tx *sql.Tx
}

func newTx(tx *sql.Tx) *txStore {
	return &txStore{tx: tx}
}

func (t *txStore) Commit() error   { return t.tx.Commit() }
func (t *txStore) Rollback() error { return t.tx.Rollback() }

func (t *txStore) Close() error { return nil } // caller commits/rollbacks; outer DB stays open

// Ping is a no-op for transactions; the connection already exists.
func (t *txStore) Ping(ctx context.Context) error {
	return nil
}

func (t *txStore) Tx(ctx context.Context) (store.Tx, error) {
	// Nested tx not supported; could emulate with SAVEPOINT if needed
	return nil, sql.ErrTxDone
}

func (t *txStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return sql.ErrTxDone
}

func (t *txStore) Identities() store.Identities         { return &identitiesRepo{q: t.tx} }
func (t *txStore) Attachments() store.Attachments       { return &attachmentsRepo{q: t.tx} }
func (t *txStore) RenameRequests() store.RenameRequests { return &renameRequestsRepo{q: t.tx} }
func (t *txStore) RenameProgress() store.RenameProgress { return &renameProgressRepo{q: t.tx} }
func (t *txStore) AuditLog() store.AuditLog             { return &auditLogRepo{q: t.tx} }

func (t *txStore) ApplyMigrations() error { return nil } // migrations run before any tx starts
