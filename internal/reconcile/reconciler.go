// Package reconcile repairs completion latches the live detector missed,
// e.g. after a crash between the counting write and the latch write.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/terra-clan/challenge-board/internal/live"
	"github.com/terra-clan/challenge-board/internal/models"
	"github.com/terra-clan/challenge-board/internal/storage"
)

// Reconciler periodically sweeps the participant collection for records
// at full count with no completion latched, and latches them. The latch
// itself is the same guarded write the detector uses, so a concurrent
// detector firing on the same participant is harmless.
type Reconciler struct {
	repo     storage.Repository
	hub      *live.Hub
	catalog  *models.Catalog
	interval time.Duration
}

// NewReconciler creates a reconciliation worker.
func NewReconciler(repo storage.Repository, hub *live.Hub, cat *models.Catalog, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}

	return &Reconciler{
		repo:     repo,
		hub:      hub,
		catalog:  cat,
		interval: interval,
	}
}

// Start begins the reconciliation worker in a goroutine
func (r *Reconciler) Start(ctx context.Context) {
	go r.run(ctx)
}

// run is the main loop for the reconciliation worker
func (r *Reconciler) run(ctx context.Context) {
	slog.Info("reconciliation worker started", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Run immediately on start
	r.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("reconciliation worker stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep finds and latches missed completions.
func (r *Reconciler) sweep(ctx context.Context) {
	slog.Debug("running reconciliation sweep")

	participants, err := r.repo.ListParticipants(ctx)
	if err != nil {
		slog.Error("failed to list participants", "error", err)
		return
	}

	size := r.catalog.Size()
	for _, p := range participants {
		if !p.IsComplete(size) || p.CompletedAt != nil {
			continue
		}

		entry, won, err := r.repo.MarkCompleted(ctx, p.ID, time.Now())
		if err != nil {
			slog.Error("failed to latch missed completion",
				"error", err,
				"participant", p.ID,
			)
			continue
		}
		if !won {
			continue
		}

		slog.Warn("latched missed completion",
			"participant", p.ID,
			"display_name", entry.DisplayName,
		)

		snapshot, err := r.repo.GetParticipant(ctx, p.ID)
		if err != nil {
			snapshot = p
		}
		r.hub.Publish(live.Event{Participant: snapshot.Clone(), Completion: entry})
	}
}
