// Package view holds the live read-only projections over the participant
// collection: the ranked leaderboard and the admin statistics. Both are
// derived state; they hold nothing the store does not.
package view

import (
	"context"
	"sort"

	"github.com/terra-clan/challenge-board/internal/live"
	"github.com/terra-clan/challenge-board/internal/models"
	"github.com/terra-clan/challenge-board/internal/storage"
)

// Leaderboard is a live ranked projection over all participant records,
// ordered by completed count descending. Tie order among equal counts is
// stable but deliberately unspecified.
type Leaderboard struct {
	repo storage.Repository
	hub  *live.Hub
}

// NewLeaderboard creates a leaderboard view over the given store.
func NewLeaderboard(repo storage.Repository, hub *live.Hub) *Leaderboard {
	return &Leaderboard{repo: repo, hub: hub}
}

// Snapshot returns the current ranking, truncated to limit when limit > 0.
func (l *Leaderboard) Snapshot(ctx context.Context, limit int) ([]*models.Participant, error) {
	participants, err := l.repo.ListParticipants(ctx)
	if err != nil {
		return nil, err
	}
	return rank(participants, limit), nil
}

// SubscribeRanked returns a live feed of rankings: an initial snapshot
// followed by a fresh ranking after every record change. The feed is
// conflating; a lagging consumer skips straight to the latest ranking.
// The returned cancel func ends the feed and closes the channel.
func (l *Leaderboard) SubscribeRanked(ctx context.Context, limit int) (<-chan []*models.Participant, func(), error) {
	// Subscribe before reading the seed: a write settling during the read
	// then lands in the feed instead of falling between the two. The
	// duplicate snapshot this can produce is absorbed by conflation.
	sub := l.hub.SubscribeAll()

	seed, err := l.repo.ListParticipants(ctx)
	if err != nil {
		sub.Cancel()
		return nil, nil, err
	}

	byID := make(map[string]*models.Participant, len(seed))
	order := make([]string, 0, len(seed))
	for _, p := range seed {
		byID[p.ID] = p
		order = append(order, p.ID)
	}

	out := make(chan []*models.Participant, 1)
	feedCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(out)
		defer sub.Cancel()

		send(out, rankMap(byID, order, limit))

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
				if _, known := byID[ev.Participant.ID]; !known {
					order = append(order, ev.Participant.ID)
				}
				byID[ev.Participant.ID] = ev.Participant
				send(out, rankMap(byID, order, limit))
			}
		}
	}()

	return out, cancel, nil
}

// rank sorts by completed count descending. The sort is stable so ties
// keep their incoming order, whatever that was.
func rank(participants []*models.Participant, limit int) []*models.Participant {
	ranked := make([]*models.Participant, len(participants))
	copy(ranked, participants)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].CompletedCount > ranked[j].CompletedCount
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

func rankMap(byID map[string]*models.Participant, order []string, limit int) []*models.Participant {
	participants := make([]*models.Participant, 0, len(order))
	for _, id := range order {
		participants = append(participants, byID[id])
	}
	return rank(participants, limit)
}

// send replaces any pending ranking so the consumer always reads the
// freshest one.
func send[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
