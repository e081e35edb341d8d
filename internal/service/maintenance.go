package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/philmcc/dbdash-backend/internal/config"
	"github.com/philmcc/dbdash-backend/internal/pkg/metrics"
	"github.com/philmcc/dbdash-backend/internal/repository"
)

// MaintenanceService runs retention pruning and duplicate reconciliation
// out-of-band, independent of any polling loop.
type MaintenanceService struct {
	store  repository.SampleStore
	cfg    *config.Config
	log    *slog.Logger
	stopCh chan struct{}
}

// NewMaintenanceService creates a new maintenance service
func NewMaintenanceService(store repository.SampleStore, cfg *config.Config, log *slog.Logger) *MaintenanceService {
	return &MaintenanceService{
		store:  store,
		cfg:    cfg,
		log:    log,
		stopCh: make(chan struct{}),
	}
}

// Start starts the maintenance background goroutine
func (s *MaintenanceService) Start(ctx context.Context) {
	interval := time.Duration(s.cfg.MaintenanceIntervalSec) * time.Second
	if interval <= 0 {
		interval = 1 * time.Hour
	}

	s.log.Info("Starting maintenance service",
		"interval", interval, "retention", s.cfg.Retention(), "reconcile", s.cfg.ReconcileEnabled)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		// Run immediately on start
		s.runMaintenance(ctx)

		for {
			select {
			case <-ticker.C:
				s.runMaintenance(ctx)
			case <-s.stopCh:
				s.log.Info("Maintenance service stopped")
				return
			case <-ctx.Done():
				s.log.Info("Maintenance service context cancelled")
				return
			}
		}
	}()
}

// Stop stops the maintenance service
func (s *MaintenanceService) Stop() {
	close(s.stopCh)
}

// runMaintenance performs one prune pass and, when enabled, one
// reconciliation pass over every known target.
func (s *MaintenanceService) runMaintenance(ctx context.Context) {
	start := time.Now()

	deleted, err := s.store.PruneSamples(ctx, s.cfg.Retention())
	if err != nil {
		s.log.Error("Retention prune failed", "error", err)
	} else if deleted > 0 {
		metrics.PruneDeletedTotal.Add(float64(deleted))
		s.log.Info("Retention prune completed", "deleted", deleted)
	} else {
		s.log.Debug("Retention prune completed", "deleted", deleted)
	}

	if s.cfg.ReconcileEnabled {
		merged := s.reconcileAll(ctx)
		if merged > 0 {
			metrics.ReconcileMergedTotal.Add(float64(merged))
			s.log.Info("Reconciliation merged duplicate canonicals", "groups", merged)
		}
	}

	s.log.Debug("Maintenance completed", "duration_ms", time.Since(start).Milliseconds())
}

func (s *MaintenanceService) reconcileAll(ctx context.Context) int {
	targets, err := s.store.ListTargets(ctx)
	if err != nil {
		s.log.Error("Failed to list targets for reconciliation", "error", err)
		return 0
	}

	total := 0
	for _, targetID := range targets {
		merged, err := s.store.ReconcileDuplicates(ctx, targetID)
		total += merged
		if err != nil {
			// Partial failure: merged groups were committed, failed
			// groups rolled back alone and will retry next pass.
			s.log.Error("Reconciliation incomplete for target",
				"target_id", targetID, "merged", merged, "error", err)
		}
	}
	return total
}
