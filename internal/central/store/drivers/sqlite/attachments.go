package sqlite

import (
	"context"

	"github.com/openfederation/centralid/internal/central/domain"
)

type attachmentsRepo struct {
	q querier
}

const attachmentColumns = `identity_id, site_id, name, method, attached_at,
	edit_count, blocked, local_groups`

func (r *attachmentsRepo) Get(ctx context.Context, identityID int64, siteID string) (domain.Attachment, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+attachmentColumns+` FROM attachments
		WHERE identity_id = ? AND site_id = ?`, identityID, siteID)

	var (
		a      domain.Attachment
		method string
		groups string
	)
	err := row.Scan(&a.IdentityID, &a.SiteID, &a.Name, &method, &a.AttachedAt,
		&a.EditCount, &a.Blocked, &groups)
	if err != nil {
		return domain.Attachment{}, mapNotFound(err)
	}
	a.Method = domain.AttachMethod(method)
	a.LocalGroups = splitGroups(groups)
	return a, nil
}

func (r *attachmentsRepo) ListByIdentity(ctx context.Context, identityID int64) ([]domain.Attachment, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+attachmentColumns+` FROM attachments
		WHERE identity_id = ? ORDER BY attached_at, site_id`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Attachment
	for rows.Next() {
		var (
			a      domain.Attachment
			method string
			groups string
		)
		if err := rows.Scan(&a.IdentityID, &a.SiteID, &a.Name, &method,
			&a.AttachedAt, &a.EditCount, &a.Blocked, &groups); err != nil {
			return nil, err
		}
		a.Method = domain.AttachMethod(method)
		a.LocalGroups = splitGroups(groups)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Attach is idempotent per (identity, site): a conflicting insert leaves
// the existing row untouched and reports created=false.
func (r *attachmentsRepo) Attach(ctx context.Context, a domain.Attachment) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO attachments
			(identity_id, site_id, name, method, attached_at, edit_count, blocked, local_groups)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (identity_id, site_id) DO NOTHING`,
		a.IdentityID, a.SiteID, a.Name, string(a.Method), a.AttachedAt,
		a.EditCount, a.Blocked, joinGroups(a.LocalGroups))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *attachmentsRepo) Unattach(ctx context.Context, identityID int64, siteID string) error {
	_, err := r.q.ExecContext(ctx, `
		DELETE FROM attachments WHERE identity_id = ? AND site_id = ?`,
		identityID, siteID)
	return err
}

func (r *attachmentsRepo) UpdateNames(ctx context.Context, identityID int64, newName string) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE attachments SET name = ? WHERE identity_id = ?`, newName, identityID)
	return err
}

func (r *attachmentsRepo) UpdateSiteName(ctx context.Context, identityID int64, siteID, newName string) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE attachments SET name = ? WHERE identity_id = ? AND site_id = ?`,
		newName, identityID, siteID)
	return err
}

func (r *attachmentsRepo) UpdateSnapshot(ctx context.Context, identityID int64, siteID string, editCount int64, blocked bool, groups []string) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE attachments SET edit_count = ?, blocked = ?, local_groups = ?
		WHERE identity_id = ? AND site_id = ?`,
		editCount, blocked, joinGroups(groups), identityID, siteID)
	return err
}
