package progress

import (
	"context"
	"log/slog"
	"time"

	"github.com/terra-clan/challenge-board/internal/live"
	"github.com/terra-clan/challenge-board/internal/models"
	"github.com/terra-clan/challenge-board/internal/storage"
)

// Detector watches participant snapshots and latches completion exactly
// once. The latch is guarded at the storage layer, so any number of
// detectors (multiple instances, replayed snapshots, reconnects) observing
// the same transition produce a single leaderboard entry.
//
// A participant who later unchecks an item keeps their completion; the
// latch is one-way.
type Detector struct {
	repo    storage.Repository
	hub     *live.Hub
	catalog *models.Catalog
	now     func() time.Time
}

// NewDetector creates a completion detector.
func NewDetector(repo storage.Repository, hub *live.Hub, cat *models.Catalog) *Detector {
	return &Detector{
		repo:    repo,
		hub:     hub,
		catalog: cat,
		now:     time.Now,
	}
}

// Start begins observing in a goroutine until ctx is done.
func (d *Detector) Start(ctx context.Context) {
	go d.run(ctx)
}

func (d *Detector) run(ctx context.Context) {
	sub := d.hub.SubscribeAll()
	defer sub.Cancel()

	slog.Info("completion detector started", "catalog_size", d.catalog.Size())

	for {
		select {
		case <-ctx.Done():
			slog.Info("completion detector stopped")
			return
		case ev, ok := <-sub.C:
			if !ok {
				slog.Info("completion detector feed closed")
				return
			}
			if ev.Participant == nil {
				continue
			}
			d.Observe(ctx, ev.Participant)
		}
	}
}

// Observe checks one snapshot and, when it shows a first-time completion,
// performs the guarded latch write. Safe to call from any number of
// goroutines; a lost latch race is a no-op.
func (d *Detector) Observe(ctx context.Context, p *models.Participant) {
	if !p.IsComplete(d.catalog.Size()) || p.CompletedAt != nil {
		return
	}

	entry, won, err := d.repo.MarkCompleted(ctx, p.ID, d.now())
	if err != nil {
		slog.Error("failed to record completion", "participant", p.ID, "error", err)
		return
	}
	if !won {
		// Another observer latched first.
		return
	}

	slog.Info("challenge completed",
		"participant", p.ID,
		"display_name", entry.DisplayName,
		"completed_count", entry.CompletedCount,
	)

	snapshot, err := d.repo.GetParticipant(ctx, p.ID)
	if err != nil {
		snapshot = p
	}
	d.hub.Publish(live.Event{Participant: snapshot.Clone(), Completion: entry})
}
