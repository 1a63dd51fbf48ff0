package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/openfederation/centralid/internal/central/store"
	"github.com/openfederation/centralid/internal/central/tokenstore"
)

// HousekeepingService periodically prunes expired tokens, lapsed group
// memberships, and stale soft-deleted rename requests.
type HousekeepingService struct {
	Store    store.Store
	Tokens   tokenstore.Store
	Logger   *slog.Logger
	Interval time.Duration

	// RequestRetention bounds how long soft-deleted requests linger.
	RequestRetention time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates the service. A non-positive interval
// defaults to 1 hour.
func NewHousekeepingService(st store.Store, tokens tokenstore.Store, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}

	return &HousekeepingService{
		Store:            st,
		Tokens:           tokens,
		Logger:           logger,
		Interval:         interval,
		RequestRetention: 30 * 24 * time.Hour,
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
}

// Start begins the background worker. Non-blocking; call Stop to shut it
// down gracefully.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop blocks until any in-progress cleanup has finished.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on startup
	s.cleanup()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// cleanup performs the actual pruning. Each step is independent;
// failures in one never stop the others.
func (s *HousekeepingService) cleanup() {
	ctx := context.Background()
	now := time.Now().UTC()

	pruned := s.Tokens.PruneExpired(ctx)
	if pruned > 0 {
		s.Logger.Debug("pruned expired token entries", "count", pruned)
	}

	if err := s.Store.Identities().DeleteExpiredGroups(ctx, now); err != nil {
		s.Logger.Error("failed to delete expired group memberships", "error", err)
	}

	cutoff := now.Add(-s.RequestRetention)
	if err := s.Store.RenameRequests().PurgeDeleted(ctx, cutoff); err != nil {
		s.Logger.Error("failed to purge deleted rename requests", "error", err)
	}

	s.Logger.Info("housekeeping cleanup completed")
}
