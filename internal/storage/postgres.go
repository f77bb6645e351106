package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/terra-clan/challenge-board/internal/models"
)

// PostgresRepository implements Repository using PostgreSQL. The progress
// map lives in a jsonb column; conditional updates are guarded by a
// version column so a lost race surfaces as ErrWriteConflict instead of a
// silent overwrite.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// PostgresConfig holds PostgreSQL connection configuration. When
// MigrationsDir is set, pending schema migrations are applied on connect.
type PostgresConfig struct {
	DSN           string
	MaxOpenConns  int32
	MaxIdleConns  int32
	MaxLifetime   time.Duration
	MigrationsDir string
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (*PostgresRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.MaxOpenConns
	} else {
		poolConfig.MaxConns = 25 // default
	}

	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = cfg.MaxIdleConns
	} else {
		poolConfig.MinConns = 5 // default
	}

	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxLifetime
	} else {
		poolConfig.MaxConnLifetime = 30 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.MigrationsDir != "" {
		if err := applyMigrations(ctx, pool, cfg.MigrationsDir); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return &PostgresRepository{pool: pool}, nil
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// UpsertParticipant creates the record if absent, else refreshes only the
// display name. Existing progress, counters and completion state survive.
func (r *PostgresRepository) UpsertParticipant(ctx context.Context, id, displayName string, startedAt time.Time) (*models.Participant, error) {
	query := `
		INSERT INTO participants (id, display_name, started_at, progress, completed_count, photo_count, version)
		VALUES ($1, $2, $3, '{}'::jsonb, 0, 0, 1)
		ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, version = participants.version + 1
		RETURNING id, display_name, started_at, progress, completed_count, photo_count, completed_at, version
	`

	row := r.pool.QueryRow(ctx, query, id, displayName, startedAt)
	return scanParticipant(row)
}

// GetParticipant retrieves a participant by ID
func (r *PostgresRepository) GetParticipant(ctx context.Context, id string) (*models.Participant, error) {
	query := `
		SELECT id, display_name, started_at, progress, completed_count, photo_count, completed_at, version
		FROM participants
		WHERE id = $1
	`

	p, err := scanParticipant(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}

	return p, nil
}

// ListParticipants returns all participant records.
func (r *PostgresRepository) ListParticipants(ctx context.Context) ([]*models.Participant, error) {
	query := `
		SELECT id, display_name, started_at, progress, completed_count, photo_count, completed_at, version
		FROM participants
		ORDER BY started_at
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var participants []*models.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}

	return participants, rows.Err()
}

// UpdateParticipantCAS writes the record conditioned on the stored version.
func (r *PostgresRepository) UpdateParticipantCAS(ctx context.Context, p *models.Participant) error {
	progressJSON, err := json.Marshal(p.Progress)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	query := `
		UPDATE participants
		SET display_name = $2, progress = $3, completed_count = $4, photo_count = $5, version = version + 1
		WHERE id = $1 AND version = $6
	`

	result, err := r.pool.Exec(ctx, query,
		p.ID,
		p.DisplayName,
		progressJSON,
		p.CompletedCount,
		p.PhotoCount,
		p.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update participant: %w", err)
	}

	if result.RowsAffected() == 0 {
		// Either the record is gone or another writer got there first.
		if _, err := r.GetParticipant(ctx, p.ID); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrWriteConflict
	}

	p.Version++
	return nil
}

// MarkCompleted latches completion atomically: completed_at is set only
// while still NULL, and the leaderboard row is created at most once.
func (r *PostgresRepository) MarkCompleted(ctx context.Context, id string, at time.Time) (*models.LeaderboardEntry, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	latch := `
		UPDATE participants
		SET completed_at = $2, version = version + 1
		WHERE id = $1 AND completed_at IS NULL
		RETURNING display_name, completed_count
	`

	var displayName string
	var completedCount int
	err = tx.QueryRow(ctx, latch, id, at).Scan(&displayName, &completedCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Already latched by another observer, or unknown id.
			if _, getErr := r.GetParticipant(ctx, id); errors.Is(getErr, ErrNotFound) {
				return nil, false, ErrNotFound
			}
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to latch completion: %w", err)
	}

	insert := `
		INSERT INTO leaderboard (participant_id, display_name, completed_count, completed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (participant_id) DO NOTHING
	`

	if _, err := tx.Exec(ctx, insert, id, displayName, completedCount, at); err != nil {
		return nil, false, fmt.Errorf("failed to create leaderboard entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit completion: %w", err)
	}

	return &models.LeaderboardEntry{
		ParticipantID:  id,
		DisplayName:    displayName,
		CompletedCount: completedCount,
		CompletedAt:    at,
	}, true, nil
}

// ListCompletions returns leaderboard entries, first finisher first.
func (r *PostgresRepository) ListCompletions(ctx context.Context) ([]*models.LeaderboardEntry, error) {
	query := `
		SELECT participant_id, display_name, completed_count, completed_at
		FROM leaderboard
		ORDER BY completed_at
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list completions: %w", err)
	}
	defer rows.Close()

	var entries []*models.LeaderboardEntry
	for rows.Next() {
		var e models.LeaderboardEntry
		if err := rows.Scan(&e.ParticipantID, &e.DisplayName, &e.CompletedCount, &e.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard entry: %w", err)
		}
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanParticipant(row rowScanner) (*models.Participant, error) {
	var p models.Participant
	var progressJSON []byte

	err := row.Scan(
		&p.ID,
		&p.DisplayName,
		&p.StartedAt,
		&progressJSON,
		&p.CompletedCount,
		&p.PhotoCount,
		&p.CompletedAt,
		&p.Version,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(progressJSON, &p.Progress); err != nil {
		return nil, fmt.Errorf("failed to unmarshal progress: %w", err)
	}

	return &p, nil
}
