package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openfederation/centralid/internal/central/domain"
	"github.com/openfederation/centralid/internal/central/store"
	"github.com/openfederation/centralid/pkg/idx"
	"github.com/openfederation/centralid/pkg/slogx"
)

// Notifier is told about decided requests after the decision is durable.
// Notification failures are logged, never propagated: the decision
// already stands.
type Notifier interface {
	RenameDecided(ctx context.Context, req domain.RenameRequest)
}

// LogNotifier is the default Notifier; real deployments plug a mailer in
// here.
type LogNotifier struct{}

func (LogNotifier) RenameDecided(ctx context.Context, req domain.RenameRequest) {
	slogx.FromContext(ctx).Info("rename request decided",
		"id", req.ID,
		"old_name", req.OldName,
		"new_name", req.NewName,
		"status", string(req.Status),
	)
}

// RenameQueueService is the durable queue of rename requests with its
// pending -> approved|rejected state machine.
type RenameQueueService struct {
	Store        store.Store
	Orchestrator *RenameOrchestrator
	Notifier     Notifier
}

func (s *RenameQueueService) notifier() Notifier {
	if s.Notifier == nil {
		return LogNotifier{}
	}
	return s.Notifier
}

// Create files a pending request. At most one pending request may exist
// per old name at a time.
func (s *RenameQueueService) Create(ctx context.Context, oldName, newName, originSite, reason string) (domain.RenameRequest, error) {
	oldName = domain.CanonicalizeName(oldName)
	newName = domain.CanonicalizeName(newName)
	if !domain.ValidName(oldName) || !domain.ValidName(newName) || oldName == newName {
		return domain.RenameRequest{}, ErrInvalidName
	}

	req := domain.RenameRequest{
		ID:          idx.New().String(),
		OldName:     oldName,
		NewName:     newName,
		OriginSite:  originSite,
		Reason:      reason,
		Status:      domain.RenamePending,
		RequestedAt: time.Now().UTC(),
	}

	if err := s.Store.RenameRequests().Create(ctx, req); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.RenameRequest{}, fmt.Errorf("%w: pending request exists for name", ErrConflict)
		}
		return domain.RenameRequest{}, err
	}
	return req, nil
}

// Get returns one request.
func (s *RenameQueueService) Get(ctx context.Context, id string) (domain.RenameRequest, error) {
	req, err := s.Store.RenameRequests().GetByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.RenameRequest{}, ErrNotFound
	}
	return req, err
}

// ListOpen returns the pending queue, oldest first.
func (s *RenameQueueService) ListOpen(ctx context.Context) ([]domain.RenameRequest, error) {
	return s.Store.RenameRequests().ListOpen(ctx)
}

// ListClosed returns decided requests, newest decision first.
func (s *RenameQueueService) ListClosed(ctx context.Context, limit int) ([]domain.RenameRequest, error) {
	return s.Store.RenameRequests().ListClosed(ctx, limit)
}

// Approve runs the rename effects, then persists the decision, then
// notifies. The effects are idempotent and dispatch-based, so they run
// first; a persistence failure afterwards surfaces as
// ErrEffectsNotRecorded so an operator can tell the saga already ran.
func (s *RenameQueueService) Approve(ctx context.Context, id string, performerID int64, performerName, comments string, opts RenameOptions) error {
	req, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !req.Pending() {
		return fmt.Errorf("%w: request already decided", ErrConflict)
	}

	// 1. Effects. A failure here leaves the request pending and
	// retriable; nothing has been recorded yet.
	if req.OriginSite == "" {
		err = s.Orchestrator.RenameGlobal(ctx, req.OldName, req.NewName,
			performerName, req.Reason, opts)
	} else {
		err = s.Orchestrator.PromoteLocal(ctx, req.OriginSite, req.OldName,
			req.NewName, performerName, req.Reason, opts)
	}
	if err != nil {
		return err
	}

	// 2. Persist the terminal status. The saga has already committed, so
	// this failure mode gets its own distinguishable error.
	if err := s.Store.RenameRequests().Decide(ctx, id, domain.RenameApproved,
		performerID, comments, time.Now().UTC()); err != nil {
		return fmt.Errorf("%w: %v", ErrEffectsNotRecorded, err)
	}

	// 3. Notify last.
	req.Status = domain.RenameApproved
	s.notifier().RenameDecided(ctx, req)
	return nil
}

// Reject records a terminal rejection. No effects run.
func (s *RenameQueueService) Reject(ctx context.Context, id string, performerID int64, comments string) error {
	err := s.Store.RenameRequests().Decide(ctx, id, domain.RenameRejected,
		performerID, comments, time.Now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		// Absent or already decided; either way the transition is
		// unavailable.
		return fmt.Errorf("%w: request not pending", ErrConflict)
	}
	if err != nil {
		return err
	}

	req, err := s.Get(ctx, id)
	if err == nil {
		s.notifier().RenameDecided(ctx, req)
	}
	return nil
}

// Cancel lets a requester withdraw a request that is still pending.
// Decided requests cannot be cancelled.
func (s *RenameQueueService) Cancel(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	err := s.Store.RenameRequests().SoftDelete(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: request not pending", ErrConflict)
	}
	return err
}
