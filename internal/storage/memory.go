package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/terra-clan/challenge-board/internal/models"
)

// MemoryRepository is an in-memory Repository with the same conditional
// update semantics as the PostgreSQL implementation. It backs tests and a
// zero-dependency development mode.
type MemoryRepository struct {
	mu           sync.RWMutex
	participants map[string]*models.Participant
	completions  map[string]*models.LeaderboardEntry
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		participants: make(map[string]*models.Participant),
		completions:  make(map[string]*models.LeaderboardEntry),
	}
}

func (r *MemoryRepository) UpsertParticipant(ctx context.Context, id, displayName string, startedAt time.Time) (*models.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.participants[id]; ok {
		existing.DisplayName = displayName
		existing.Version++
		return existing.Clone(), nil
	}

	p := &models.Participant{
		ID:          id,
		DisplayName: displayName,
		StartedAt:   startedAt,
		Progress:    make(map[string]models.ProgressEntry),
		Version:     1,
	}
	r.participants[id] = p
	return p.Clone(), nil
}

func (r *MemoryRepository) GetParticipant(ctx context.Context, id string) (*models.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.participants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (r *MemoryRepository) ListParticipants(ctx context.Context) ([]*models.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	participants := make([]*models.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		participants = append(participants, p.Clone())
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].StartedAt.Before(participants[j].StartedAt)
	})
	return participants, nil
}

func (r *MemoryRepository) UpdateParticipantCAS(ctx context.Context, p *models.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.participants[p.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != p.Version {
		return ErrWriteConflict
	}

	next := p.Clone()
	next.CompletedAt = stored.CompletedAt // completion state is owned by MarkCompleted
	next.Version = stored.Version + 1
	r.participants[p.ID] = next
	p.Version = next.Version
	return nil
}

func (r *MemoryRepository) MarkCompleted(ctx context.Context, id string, at time.Time) (*models.LeaderboardEntry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if p.CompletedAt != nil {
		return nil, false, nil
	}

	stamp := at
	p.CompletedAt = &stamp
	p.Version++

	entry := &models.LeaderboardEntry{
		ParticipantID:  id,
		DisplayName:    p.DisplayName,
		CompletedCount: p.CompletedCount,
		CompletedAt:    at,
	}
	r.completions[id] = entry

	e := *entry
	return &e, true, nil
}

func (r *MemoryRepository) ListCompletions(ctx context.Context) ([]*models.LeaderboardEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*models.LeaderboardEntry, 0, len(r.completions))
	for _, e := range r.completions {
		cp := *e
		entries = append(entries, &cp)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CompletedAt.Before(entries[j].CompletedAt)
	})
	return entries, nil
}

func (r *MemoryRepository) Ping(ctx context.Context) error { return nil }

func (r *MemoryRepository) Close() error { return nil }
