package sqlite

import (
	"context"
	"time"

	"github.com/openfederation/centralid/internal/central/domain"
)

type renameProgressRepo struct {
	q querier
}

func (r *renameProgressRepo) Seed(ctx context.Context, rows []domain.RenameProgress) error {
	for _, row := range rows {
		state := row.State
		if state == "" {
			state = domain.RenameQueued
		}
		_, err := r.q.ExecContext(ctx, `
			INSERT INTO rename_progress (old_name, new_name, site_id, state, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (old_name, site_id) DO UPDATE
				SET new_name = excluded.new_name, state = excluded.state,
				    updated_at = excluded.updated_at`,
			row.OldName, row.NewName, row.SiteID, string(state), time.Now().UTC())
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *renameProgressRepo) SetState(ctx context.Context, oldName, siteID string, state domain.RenameState) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE rename_progress SET state = ?, updated_at = ?
		WHERE old_name = ? AND site_id = ?`,
		string(state), time.Now().UTC(), oldName, siteID)
	return err
}

func (r *renameProgressRepo) Complete(ctx context.Context, oldName, siteID string) error {
	_, err := r.q.ExecContext(ctx, `
		DELETE FROM rename_progress WHERE old_name = ? AND site_id = ?`,
		oldName, siteID)
	return err
}

func (r *renameProgressRepo) ListByName(ctx context.Context, name string) ([]domain.RenameProgress, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT old_name, new_name, site_id, state, updated_at
		FROM rename_progress
		WHERE old_name = ? OR new_name = ?
		ORDER BY site_id`, name, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RenameProgress
	for rows.Next() {
		var (
			p     domain.RenameProgress
			state string
		)
		if err := rows.Scan(&p.OldName, &p.NewName, &p.SiteID, &state, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.State = domain.RenameState(state)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *renameProgressRepo) InProgress(ctx context.Context, name string) (bool, error) {
	var count int64
	err := r.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM rename_progress WHERE old_name = ? OR new_name = ?`,
		name, name).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
