package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/openfederation/centralid/internal/central/domain"
	"github.com/openfederation/centralid/internal/central/store"
)

type renameRequestsRepo struct {
	q querier
}

const renameRequestColumns = `id, old_name, new_name, origin_site, reason,
	status, requested_at, completed_at, performer_id, comments, deleted`

func scanRenameRequest(scan func(dest ...any) error) (domain.RenameRequest, error) {
	var (
		r         domain.RenameRequest
		status    string
		completed sql.NullTime
		performer sql.NullInt64
	)
	err := scan(&r.ID, &r.OldName, &r.NewName, &r.OriginSite, &r.Reason,
		&status, &r.RequestedAt, &completed, &performer, &r.Comments, &r.Deleted)
	if err != nil {
		return domain.RenameRequest{}, err
	}
	r.Status = domain.RenameStatus(status)
	r.CompletedAt = mapNullTimePtr(completed)
	r.PerformerID = mapNullInt64Ptr(performer)
	return r, nil
}

// Create relies on the partial unique index over (old_name) WHERE
// status='pending' AND deleted=0 to enforce at most one live pending
// request per old name.
func (r *renameRequestsRepo) Create(ctx context.Context, req domain.RenameRequest) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO rename_requests
			(id, old_name, new_name, origin_site, reason, status,
			 requested_at, completed_at, performer_id, comments, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.OldName, req.NewName, req.OriginSite, req.Reason,
		string(req.Status), req.RequestedAt, mapOptionalTime(req.CompletedAt),
		mapOptionalInt64(req.PerformerID), req.Comments, req.Deleted)
	return mapConstraint(err)
}

func (r *renameRequestsRepo) GetByID(ctx context.Context, id string) (domain.RenameRequest, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+renameRequestColumns+` FROM rename_requests WHERE id = ?`, id)
	req, err := scanRenameRequest(row.Scan)
	if err != nil {
		return domain.RenameRequest{}, mapNotFound(err)
	}
	return req, nil
}

func (r *renameRequestsRepo) GetPendingByOldName(ctx context.Context, oldName string) (domain.RenameRequest, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+renameRequestColumns+` FROM rename_requests
		WHERE old_name = ? AND status = 'pending' AND deleted = 0`, oldName)
	req, err := scanRenameRequest(row.Scan)
	if err != nil {
		return domain.RenameRequest{}, mapNotFound(err)
	}
	return req, nil
}

func (r *renameRequestsRepo) ListOpen(ctx context.Context) ([]domain.RenameRequest, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+renameRequestColumns+` FROM rename_requests
		WHERE status = 'pending' AND deleted = 0
		ORDER BY requested_at`)
	if err != nil {
		return nil, err
	}
	return collectRenameRequests(rows)
}

func (r *renameRequestsRepo) ListClosed(ctx context.Context, limit int) ([]domain.RenameRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+renameRequestColumns+` FROM rename_requests
		WHERE status != 'pending' AND deleted = 0
		ORDER BY completed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return collectRenameRequests(rows)
}

func collectRenameRequests(rows *sql.Rows) ([]domain.RenameRequest, error) {
	defer rows.Close()
	var out []domain.RenameRequest
	for rows.Next() {
		req, err := scanRenameRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// Decide only matches a row still pending, so a second decision affects
// zero rows and reports ErrNotFound: terminal states are one-way.
func (r *renameRequestsRepo) Decide(ctx context.Context, id string, status domain.RenameStatus, performerID int64, comments string, completedAt time.Time) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE rename_requests
		SET status = ?, performer_id = ?, comments = ?, completed_at = ?
		WHERE id = ? AND status = 'pending' AND deleted = 0`,
		string(status), performerID, comments, completedAt, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *renameRequestsRepo) SoftDelete(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE rename_requests SET deleted = 1
		WHERE id = ? AND status = 'pending' AND deleted = 0`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *renameRequestsRepo) PurgeDeleted(ctx context.Context, cutoff time.Time) error {
	_, err := r.q.ExecContext(ctx, `
		DELETE FROM rename_requests WHERE deleted = 1 AND requested_at <= ?`, cutoff)
	return err
}
