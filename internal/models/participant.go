package models

import (
	"time"
)

// ProgressEntry is the per-item state within a participant's record.
// An absent entry is equivalent to the zero value.
type ProgressEntry struct {
	Checked   bool       `json:"checked"`
	CheckedAt *time.Time `json:"checked_at,omitempty"`
	PhotoURL  string     `json:"photo_url,omitempty"`
}

// Participant is the canonical record of one participant's progress
// through the challenge checklist.
type Participant struct {
	ID             string                   `json:"id"`
	DisplayName    string                   `json:"display_name"`
	StartedAt      time.Time                `json:"started_at"`
	Progress       map[string]ProgressEntry `json:"progress"`
	CompletedCount int                      `json:"completed_count"`
	PhotoCount     int                      `json:"photo_count"`
	CompletedAt    *time.Time               `json:"completed_at,omitempty"`

	// Version is the optimistic concurrency token maintained by storage.
	// Every successful conditional update bumps it.
	Version int64 `json:"-"`
}

// Entry returns the progress entry for an item, zero-valued if absent.
func (p *Participant) Entry(itemID string) ProgressEntry {
	if p.Progress == nil {
		return ProgressEntry{}
	}
	return p.Progress[itemID]
}

// SetEntry stores an entry, allocating the map on first use.
func (p *Participant) SetEntry(itemID string, e ProgressEntry) {
	if p.Progress == nil {
		p.Progress = make(map[string]ProgressEntry)
	}
	p.Progress[itemID] = e
}

// RecountTotals derives CompletedCount and PhotoCount from the progress
// map. Counters are never maintained independently of the entries, so
// they cannot drift from the true counts.
func (p *Participant) RecountTotals() {
	checked, photos := 0, 0
	for _, e := range p.Progress {
		if e.Checked {
			checked++
		}
		if e.PhotoURL != "" {
			photos++
		}
	}
	p.CompletedCount = checked
	p.PhotoCount = photos
}

// IsComplete reports whether the participant has checked every item of a
// catalog with the given size.
func (p *Participant) IsComplete(catalogSize int) bool {
	return catalogSize > 0 && p.CompletedCount >= catalogSize
}

// Clone returns a deep copy safe to hand to other goroutines.
func (p *Participant) Clone() *Participant {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Progress = make(map[string]ProgressEntry, len(p.Progress))
	for id, e := range p.Progress {
		if e.CheckedAt != nil {
			t := *e.CheckedAt
			e.CheckedAt = &t
		}
		cp.Progress[id] = e
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// JoinRequest is the payload for creating or refreshing a participant.
type JoinRequest struct {
	ParticipantID string `json:"participant_id,omitempty"`
	DisplayName   string `json:"display_name"`
}
