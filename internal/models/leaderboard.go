package models

import "time"

// LeaderboardEntry records a completed challenge. Its existence is the
// authoritative signal that the participant finished; it is created at
// most once and never mutated afterwards.
type LeaderboardEntry struct {
	ParticipantID  string    `json:"participant_id"`
	DisplayName    string    `json:"display_name"`
	CompletedCount int       `json:"completed_count"`
	CompletedAt    time.Time `json:"completed_at"`
}

// Stats is the admin summary over all participant records.
type Stats struct {
	TotalParticipants int     `json:"total_participants"`
	TotalCompletions  int     `json:"total_completions"`
	TotalPhotos       int     `json:"total_photos"`
	AverageProgress   float64 `json:"average_progress"`
}
