package sites

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/openfederation/centralid/internal/central/domain"
	_ "modernc.org/sqlite"
)

// localSchema is the per-site account table. Site databases are owned by
// their site's own software; this schema is just what the federation
// reads and writes of it.
const localSchema = `
CREATE TABLE IF NOT EXISTS local_accounts (
    name           TEXT PRIMARY KEY,
    password_hash  TEXT NOT NULL DEFAULT '',
    email          TEXT NOT NULL DEFAULT '',
    email_verified TIMESTAMP,
    registered_at  TIMESTAMP NOT NULL,
    edit_count     INTEGER NOT NULL DEFAULT 0,
    blocked        BOOLEAN NOT NULL DEFAULT 0,
    groups         TEXT NOT NULL DEFAULT ''
);`

// SQLiteLocal is a LocalStore over one site's sqlite database.
type SQLiteLocal struct {
	db     *sql.DB
	siteID string
}

func OpenSQLiteLocal(siteID, dsn string) (*SQLiteLocal, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	for _, stmt := range []string{
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA busy_timeout = 5000;`,
		localSchema,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return &SQLiteLocal{db: db, siteID: siteID}, nil
}

func (s *SQLiteLocal) Close() error { return s.db.Close() }

func (s *SQLiteLocal) GetAccount(ctx context.Context, name string) (domain.LocalAccount, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, password_hash, email, email_verified, registered_at,
		       edit_count, blocked, groups
		FROM local_accounts WHERE name = ?`, name)

	var (
		a        domain.LocalAccount
		verified sql.NullTime
		groups   string
	)
	err := row.Scan(&a.Name, &a.PasswordHash, &a.Email, &verified,
		&a.RegisteredAt, &a.EditCount, &a.Blocked, &groups)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LocalAccount{}, ErrAccountNotFound
	}
	if err != nil {
		return domain.LocalAccount{}, err
	}

	a.SiteID = s.siteID
	if verified.Valid {
		v := verified.Time
		a.EmailVerified = &v
	}
	if g := strings.TrimSpace(groups); g != "" {
		a.Groups = strings.Fields(g)
	}
	return a, nil
}

func (s *SQLiteLocal) AccountExists(ctx context.Context, name string) (bool, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM local_accounts WHERE name = ?`, name).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *SQLiteLocal) CreateAccount(ctx context.Context, a domain.LocalAccount) error {
	var verified sql.NullTime
	if a.EmailVerified != nil {
		verified = sql.NullTime{Time: *a.EmailVerified, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO local_accounts
			(name, password_hash, email, email_verified, registered_at, edit_count, blocked, groups)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Name, a.PasswordHash, a.Email, verified, a.RegisteredAt,
		a.EditCount, a.Blocked, strings.Join(a.Groups, " "))
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrAccountExists
	}
	return err
}

func (s *SQLiteLocal) RenameAccount(ctx context.Context, oldName, newName string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE local_accounts SET name = ? WHERE name = ?`, newName, oldName)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrAccountExists
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *SQLiteLocal) UpdateEmail(ctx context.Context, name, email string, verified *time.Time) error {
	var v sql.NullTime
	if verified != nil {
		v = sql.NullTime{Time: *verified, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE local_accounts SET email = ?, email_verified = ? WHERE name = ?`,
		email, v, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}
