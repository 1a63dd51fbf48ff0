package service

import (
	"context"
	"time"

	"github.com/openfederation/centralid/internal/central/domain"
	"github.com/openfederation/centralid/internal/central/store"
	"github.com/openfederation/centralid/pkg/idx"
	"github.com/openfederation/centralid/pkg/slogx"
)

// AuditService records rename/promotion and admin events durably and
// mirrors them to the structured log.
type AuditService struct {
	Store store.Store
}

// Rename records a completed global rename.
func (s *AuditService) Rename(ctx context.Context, performer, oldName, newName, reason string, movePages, suppressRedirects bool) error {
	e := domain.AuditEvent{
		ID:        idx.New().String(),
		Action:    domain.AuditRename,
		Performer: performer,
		Target:    newName,
		OldName:   oldName,
		NewName:   newName,
		Reason:    reason,
		Params: map[string]any{
			"movepages":         movePages,
			"suppressredirects": suppressRedirects,
		},
		CreatedAt: time.Now().UTC(),
	}
	return s.record(ctx, e)
}

// Promote records a local account promoted into a fresh global identity.
func (s *AuditService) Promote(ctx context.Context, performer, oldName, site, newName, reason string) error {
	e := domain.AuditEvent{
		ID:        idx.New().String(),
		Action:    domain.AuditPromote,
		Performer: performer,
		Target:    newName,
		OldName:   oldName,
		NewName:   newName,
		Site:      site,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	return s.record(ctx, e)
}

// Lock records a lock/hide status change.
func (s *AuditService) Lock(ctx context.Context, performer, target, reason string, locked bool, hidden domain.HiddenLevel) error {
	e := domain.AuditEvent{
		ID:        idx.New().String(),
		Action:    domain.AuditLock,
		Performer: performer,
		Target:    target,
		Reason:    reason,
		Params: map[string]any{
			"locked": locked,
			"hidden": string(hidden),
		},
		CreatedAt: time.Now().UTC(),
	}
	return s.record(ctx, e)
}

// Delete records a global identity deletion.
func (s *AuditService) Delete(ctx context.Context, performer, target, reason string) error {
	e := domain.AuditEvent{
		ID:        idx.New().String(),
		Action:    domain.AuditDelete,
		Performer: performer,
		Target:    target,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	return s.record(ctx, e)
}

// History returns recent audit events for a target name.
func (s *AuditService) History(ctx context.Context, target string, limit int) ([]domain.AuditEvent, error) {
	return s.Store.AuditLog().ListByTarget(ctx, target, limit)
}

func (s *AuditService) record(ctx context.Context, e domain.AuditEvent) error {
	slogx.FromContext(ctx).Info("audit event",
		"action", string(e.Action),
		"performer", e.Performer,
		"target", e.Target,
		"old_name", e.OldName,
		"new_name", e.NewName,
		"site", e.Site,
	)
	return s.Store.AuditLog().Record(ctx, e)
}
