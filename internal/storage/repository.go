package storage

import (
	"context"
	"errors"
	"time"

	"github.com/terra-clan/challenge-board/internal/models"
)

var (
	// ErrNotFound is returned when a participant does not exist.
	ErrNotFound = errors.New("participant not found")

	// ErrWriteConflict is returned by UpdateParticipantCAS when the
	// record changed underneath the caller. Callers re-read and retry.
	ErrWriteConflict = errors.New("write conflict")
)

// Repository defines the interface for challenge persistence.
//
// All mutations of a single participant record go through either the
// upsert or the conditional update; there are no blind writes.
type Repository interface {
	// UpsertParticipant creates the record with zeroed counters if
	// absent, otherwise refreshes only the display name. Progress,
	// counters and completion state are never touched by an upsert.
	UpsertParticipant(ctx context.Context, id, displayName string, startedAt time.Time) (*models.Participant, error)

	GetParticipant(ctx context.Context, id string) (*models.Participant, error)
	ListParticipants(ctx context.Context) ([]*models.Participant, error)

	// UpdateParticipantCAS writes the full record conditioned on the
	// stored version matching p.Version. On success the stored version
	// is bumped and p reflects it. Returns ErrWriteConflict if the
	// record changed since p was read.
	UpdateParticipantCAS(ctx context.Context, p *models.Participant) error

	// MarkCompleted latches completion: sets completed_at only if it is
	// still unset, and creates the leaderboard entry at most once, as
	// one atomic operation. Returns the entry and true when this call
	// won the latch; (nil, false) when completion was already recorded.
	MarkCompleted(ctx context.Context, id string, at time.Time) (*models.LeaderboardEntry, bool, error)

	// ListCompletions returns leaderboard entries ordered by completion
	// time ascending (first finisher first).
	ListCompletions(ctx context.Context) ([]*models.LeaderboardEntry, error)

	Ping(ctx context.Context) error
	Close() error
}
