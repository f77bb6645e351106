package view

import (
	"context"

	"github.com/terra-clan/challenge-board/internal/live"
	"github.com/terra-clan/challenge-board/internal/models"
	"github.com/terra-clan/challenge-board/internal/storage"
)

// Aggregator reduces the full participant collection into summary
// statistics, recomputed from scratch on every upstream change.
type Aggregator struct {
	repo    storage.Repository
	hub     *live.Hub
	catalog *models.Catalog
}

// NewAggregator creates a stats aggregator.
func NewAggregator(repo storage.Repository, hub *live.Hub, cat *models.Catalog) *Aggregator {
	return &Aggregator{repo: repo, hub: hub, catalog: cat}
}

// Snapshot computes current statistics.
func (a *Aggregator) Snapshot(ctx context.Context) (models.Stats, error) {
	participants, err := a.repo.ListParticipants(ctx)
	if err != nil {
		return models.Stats{}, err
	}
	return reduce(participants, a.catalog.Size()), nil
}

// SubscribeStats returns a live feed of statistics: an initial snapshot
// followed by a recomputed reduction after every record change. The feed
// is conflating, like the leaderboard's.
func (a *Aggregator) SubscribeStats(ctx context.Context) (<-chan models.Stats, func(), error) {
	// Subscribe before reading the seed so a write settling during the
	// read still reaches the feed.
	sub := a.hub.SubscribeAll()

	seed, err := a.repo.ListParticipants(ctx)
	if err != nil {
		sub.Cancel()
		return nil, nil, err
	}

	byID := make(map[string]*models.Participant, len(seed))
	for _, p := range seed {
		byID[p.ID] = p
	}

	out := make(chan models.Stats, 1)
	feedCtx, cancel := context.WithCancel(ctx)
	size := a.catalog.Size()

	go func() {
		defer close(out)
		defer sub.Cancel()

		send(out, reduceMap(byID, size))

		for {
			select {
			case <-feedCtx.Done():
				return
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				if ev.Participant == nil {
					continue
				}
				byID[ev.Participant.ID] = ev.Participant
				send(out, reduceMap(byID, size))
			}
		}
	}()

	return out, cancel, nil
}

func reduce(participants []*models.Participant, catalogSize int) models.Stats {
	stats := models.Stats{TotalParticipants: len(participants)}

	sum := 0
	for _, p := range participants {
		if p.IsComplete(catalogSize) {
			stats.TotalCompletions++
		}
		stats.TotalPhotos += p.PhotoCount
		sum += p.CompletedCount
	}
	if stats.TotalParticipants > 0 {
		stats.AverageProgress = float64(sum) / float64(stats.TotalParticipants)
	}
	return stats
}

func reduceMap(byID map[string]*models.Participant, catalogSize int) models.Stats {
	participants := make([]*models.Participant, 0, len(byID))
	for _, p := range byID {
		participants = append(participants, p)
	}
	return reduce(participants, catalogSize)
}
