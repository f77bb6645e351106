// Package progress implements the checklist mutation and completion
// detection logic around the participant store.
package progress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/terra-clan/challenge-board/internal/live"
	"github.com/terra-clan/challenge-board/internal/models"
	"github.com/terra-clan/challenge-board/internal/photos"
	"github.com/terra-clan/challenge-board/internal/storage"
)

// ErrUploadFailed is returned when the blob store rejected an upload.
// The participant record is left untouched in that case.
var ErrUploadFailed = errors.New("photo upload failed")

// casRetries bounds the optimistic retry loop. Conflicts only occur when
// two sessions of the same participant race, so contention is tiny.
const casRetries = 10

// Mutator applies checklist toggles and photo attachments to participant
// records. Every mutation is a single conditional read-modify-write per
// record; counters are recomputed from the entry map on each write so
// they cannot drift.
type Mutator struct {
	repo    storage.Repository
	photos  photos.Store
	hub     *live.Hub
	catalog *models.Catalog
	now     func() time.Time
}

// NewMutator creates a mutator publishing settled snapshots to hub.
func NewMutator(repo storage.Repository, store photos.Store, hub *live.Hub, cat *models.Catalog) *Mutator {
	return &Mutator{
		repo:    repo,
		photos:  store,
		hub:     hub,
		catalog: cat,
		now:     time.Now,
	}
}

// ToggleItem flips the checked state of one checklist item, stamping the
// check time and re-deriving the completed count. Lost races against
// concurrent sessions are retried with a fresh read.
func (m *Mutator) ToggleItem(ctx context.Context, participantID, itemID string) (*models.Participant, error) {
	if m.catalog.Item(itemID) == nil {
		return nil, fmt.Errorf("unknown checklist item %q", itemID)
	}

	p, err := m.mutate(ctx, participantID, func(p *models.Participant) {
		entry := p.Entry(itemID)
		entry.Checked = !entry.Checked
		now := m.now()
		entry.CheckedAt = &now
		p.SetEntry(itemID, entry)
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("item toggled",
		"participant", participantID,
		"item", itemID,
		"completed_count", p.CompletedCount,
	)
	return p, nil
}

// AttachPhoto uploads photo evidence for one item and records its URL.
// The upload happens before any record mutation, so a failed upload
// leaves the record unchanged. The photo count only grows when the item
// had no photo before; replacing a photo never double-counts.
func (m *Mutator) AttachPhoto(ctx context.Context, participantID, itemID string, blob io.Reader, ext string) (string, error) {
	if m.catalog.Item(itemID) == nil {
		return "", fmt.Errorf("unknown checklist item %q", itemID)
	}

	// The participant must exist before we spend an upload on it.
	if _, err := m.repo.GetParticipant(ctx, participantID); err != nil {
		return "", err
	}

	key := photos.ObjectKey(m.catalog.ID, participantID, itemID, ext, m.now())
	url, err := m.photos.Put(ctx, key, blob)
	if err != nil {
		slog.Error("photo upload failed",
			"participant", participantID,
			"item", itemID,
			"error", err,
		)
		return "", fmt.Errorf("%w: %s", ErrUploadFailed, err)
	}

	p, err := m.mutate(ctx, participantID, func(p *models.Participant) {
		entry := p.Entry(itemID)
		entry.PhotoURL = url
		p.SetEntry(itemID, entry)
	})
	if err != nil {
		return "", err
	}

	slog.Info("photo attached",
		"participant", participantID,
		"item", itemID,
		"photo_count", p.PhotoCount,
	)
	return url, nil
}

// mutate runs one bounded conditional read-modify-write cycle: fresh
// read, apply, recount, conditional write. After a successful write p is
// the settled state (the CAS bumped its version), so it is published and
// returned as-is.
func (m *Mutator) mutate(ctx context.Context, participantID string, apply func(*models.Participant)) (*models.Participant, error) {
	var p *models.Participant
	for attempt := 0; ; attempt++ {
		var err error
		p, err = m.repo.GetParticipant(ctx, participantID)
		if err != nil {
			return nil, err
		}

		apply(p)
		p.RecountTotals()

		err = m.repo.UpdateParticipantCAS(ctx, p)
		if err == nil {
			break
		}
		if !errors.Is(err, storage.ErrWriteConflict) {
			return nil, err
		}
		if attempt+1 >= casRetries {
			return nil, fmt.Errorf("update lost %d races for participant %s: %w", casRetries, participantID, err)
		}
	}

	m.hub.Publish(live.Event{Participant: p.Clone()})
	return p, nil
}
