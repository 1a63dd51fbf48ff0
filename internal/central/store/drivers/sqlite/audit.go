package sqlite

import (
	"context"
	"encoding/json"

	"github.com/openfederation/centralid/internal/central/domain"
)

type auditLogRepo struct {
	q querier
}

func (r *auditLogRepo) Record(ctx context.Context, e domain.AuditEvent) error {
	params := "{}"
	if len(e.Params) > 0 {
		raw, err := json.Marshal(e.Params)
		if err != nil {
			return err
		}
		params = string(raw)
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO audit_log
			(id, action, performer, target, old_name, new_name, site, reason, params, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Action), e.Performer, e.Target, e.OldName, e.NewName,
		e.Site, e.Reason, params, e.CreatedAt)
	return err
}

func (r *auditLogRepo) ListByTarget(ctx context.Context, target string, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, action, performer, target, old_name, new_name, site, reason, params, created_at
		FROM audit_log WHERE target = ?
		ORDER BY created_at DESC LIMIT ?`, target, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEvent
	for rows.Next() {
		var (
			e      domain.AuditEvent
			action string
			params string
		)
		if err := rows.Scan(&e.ID, &action, &e.Performer, &e.Target, &e.OldName,
			&e.NewName, &e.Site, &e.Reason, &params, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Action = domain.AuditAction(action)
		if params != "" && params != "{}" {
			if err := json.Unmarshal([]byte(params), &e.Params); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
