package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/openfederation/centralid/internal/central/domain"
	"github.com/openfederation/centralid/internal/central/store"
)

type identitiesRepo struct {
	q querier
}

const identityColumns = `id, name, password_hash, email, email_verified,
	locked, hidden, auth_token, registered_at, updated_at`

func scanIdentity(row *sql.Row) (domain.GlobalIdentity, error) {
	var (
		g        domain.GlobalIdentity
		verified sql.NullTime
		hidden   string
	)
	err := row.Scan(
		&g.ID, &g.Name, &g.PasswordHash, &g.Email, &verified,
		&g.Locked, &hidden, &g.AuthToken, &g.RegisteredAt, &g.UpdatedAt,
	)
	if err != nil {
		return domain.GlobalIdentity{}, mapNotFound(err)
	}
	g.EmailVerified = mapNullTimePtr(verified)
	g.Hidden = domain.HiddenLevel(hidden)
	return g, nil
}

// Single sqlite database: Cached and Primary hit the same rows, but the
// mode stays part of the contract so callers declare their intent and a
// replicated driver can honor it.
func (r *identitiesRepo) GetByName(ctx context.Context, name string, _ store.ReadMode) (domain.GlobalIdentity, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM global_identities WHERE name = ?`, name)
	return scanIdentity(row)
}

func (r *identitiesRepo) GetByID(ctx context.Context, id int64, _ store.ReadMode) (domain.GlobalIdentity, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM global_identities WHERE id = ?`, id)
	return scanIdentity(row)
}

func (r *identitiesRepo) Create(ctx context.Context, g domain.GlobalIdentity) (int64, error) {
	hidden := g.Hidden
	if hidden == "" {
		hidden = domain.HiddenNone
	}
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO global_identities
			(name, password_hash, email, email_verified, locked, hidden,
			 auth_token, registered_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.Name, g.PasswordHash, g.Email, mapOptionalTime(g.EmailVerified),
		g.Locked, string(hidden), g.AuthToken, g.RegisteredAt, g.RegisteredAt,
	)
	if err != nil {
		return 0, mapConstraint(err)
	}
	return res.LastInsertId()
}

func (r *identitiesRepo) UpdateName(ctx context.Context, id int64, newName string) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE global_identities SET name = ?, updated_at = ? WHERE id = ?`,
		newName, time.Now().UTC(), id)
	return mapConstraint(err)
}

func (r *identitiesRepo) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE global_identities SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, time.Now().UTC(), id)
	return err
}

func (r *identitiesRepo) UpdateAuthToken(ctx context.Context, id int64, token string) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE global_identities SET auth_token = ?, updated_at = ? WHERE id = ?`,
		token, time.Now().UTC(), id)
	return err
}

func (r *identitiesRepo) UpdateEmail(ctx context.Context, id int64, email string, verified *time.Time) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE global_identities SET email = ?, email_verified = ?, updated_at = ? WHERE id = ?`,
		email, mapOptionalTime(verified), time.Now().UTC(), id)
	return err
}

func (r *identitiesRepo) UpdateLockHidden(ctx context.Context, id int64, locked bool, hidden domain.HiddenLevel) error {
	if hidden == "" {
		hidden = domain.HiddenNone
	}
	_, err := r.q.ExecContext(ctx, `
		UPDATE global_identities SET locked = ?, hidden = ?, updated_at = ? WHERE id = ?`,
		locked, string(hidden), time.Now().UTC(), id)
	return err
}

func (r *identitiesRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM global_identities WHERE id = ?`, id)
	return err
}

func (r *identitiesRepo) ListGroups(ctx context.Context, id int64) ([]domain.GroupMembership, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT identity_id, grp, expires_at FROM global_groups
		WHERE identity_id = ? ORDER BY grp`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.GroupMembership
	for rows.Next() {
		var (
			m   domain.GroupMembership
			exp sql.NullTime
		)
		if err := rows.Scan(&m.IdentityID, &m.Group, &exp); err != nil {
			return nil, err
		}
		m.ExpiresAt = mapNullTimePtr(exp)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *identitiesRepo) AddGroup(ctx context.Context, m domain.GroupMembership) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO global_groups (identity_id, grp, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT (identity_id, grp) DO UPDATE SET expires_at = excluded.expires_at`,
		m.IdentityID, m.Group, mapOptionalTime(m.ExpiresAt))
	return err
}

func (r *identitiesRepo) RemoveGroup(ctx context.Context, id int64, group string) error {
	_, err := r.q.ExecContext(ctx, `
		DELETE FROM global_groups WHERE identity_id = ? AND grp = ?`, id, group)
	return err
}

func (r *identitiesRepo) DeleteExpiredGroups(ctx context.Context, now time.Time) error {
	_, err := r.q.ExecContext(ctx, `
		DELETE FROM global_groups WHERE expires_at IS NOT NULL AND expires_at <= ?`, now)
	return err
}
