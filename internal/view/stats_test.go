package view

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/terra-clan/challenge-board/internal/live"
	"github.com/terra-clan/challenge-board/internal/models"
	"github.com/terra-clan/challenge-board/internal/storage"
)

func statsCatalog() *models.Catalog {
	c := &models.Catalog{ID: "testchallenge", Name: "Test Challenge"}
	for i := 0; i < 10; i++ {
		c.Items = append(c.Items, models.ChecklistItem{
			ID:          itemID(i),
			DisplayName: fmt.Sprintf("Item %d", i),
			Category:    "beer",
		})
	}
	return c
}

func TestStatsSnapshot(t *testing.T) {
	repo := storage.NewMemoryRepository()
	hub := live.NewHub()
	defer hub.Close()

	// Three participants with completed counts 10, 5, 0.
	seedParticipant(t, repo, "alice", 10)
	seedParticipant(t, repo, "bob", 5)
	seedParticipant(t, repo, "carol", 0)

	agg := NewAggregator(repo, hub, statsCatalog())
	stats, err := agg.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	if stats.TotalParticipants != 3 {
		t.Errorf("total participants = %d, want 3", stats.TotalParticipants)
	}
	if stats.TotalCompletions != 1 {
		t.Errorf("total completions = %d, want 1", stats.TotalCompletions)
	}
	if stats.AverageProgress != 5.0 {
		t.Errorf("average progress = %v, want 5.0", stats.AverageProgress)
	}
}

func TestStatsEmptyCollection(t *testing.T) {
	repo := storage.NewMemoryRepository()
	hub := live.NewHub()
	defer hub.Close()

	agg := NewAggregator(repo, hub, statsCatalog())
	stats, err := agg.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	if stats.TotalParticipants != 0 || stats.AverageProgress != 0 {
		t.Errorf("empty collection stats should be zeroed, got %+v", stats)
	}
}

func TestStatsCountsPhotos(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryRepository()
	hub := live.NewHub()
	defer hub.Close()

	seedParticipant(t, repo, "alice", 2)
	p, _ := repo.GetParticipant(ctx, "alice")
	e := p.Entry(itemID(0))
	e.PhotoURL = "https://photos.test/a.jpg"
	p.SetEntry(itemID(0), e)
	p.RecountTotals()
	if err := repo.UpdateParticipantCAS(ctx, p); err != nil {
		t.Fatalf("UpdateParticipantCAS failed: %v", err)
	}

	agg := NewAggregator(repo, hub, statsCatalog())
	stats, err := agg.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if stats.TotalPhotos != 1 {
		t.Errorf("total photos = %d, want 1", stats.TotalPhotos)
	}
}

func TestSubscribeStatsRecomputesOnChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := storage.NewMemoryRepository()
	hub := live.NewHub()
	defer hub.Close()

	seedParticipant(t, repo, "alice", 5)

	agg := NewAggregator(repo, hub, statsCatalog())
	feed, cancelFeed, err := agg.SubscribeStats(ctx)
	if err != nil {
		t.Fatalf("SubscribeStats failed: %v", err)
	}
	defer cancelFeed()

	initial := waitStats(t, feed)
	if initial.TotalParticipants != 1 || initial.AverageProgress != 5.0 {
		t.Fatalf("unexpected initial stats: %+v", initial)
	}

	seedParticipant(t, repo, "bob", 10)
	p, _ := repo.GetParticipant(ctx, "bob")
	hub.Publish(live.Event{Participant: p})

	deadline := time.After(5 * time.Second)
	for {
		var stats models.Stats
		select {
		case <-deadline:
			t.Fatal("timed out waiting for recomputed stats")
		case stats = <-feed:
		}
		if stats.TotalParticipants == 2 {
			if stats.TotalCompletions != 1 {
				t.Errorf("total completions = %d, want 1", stats.TotalCompletions)
			}
			if stats.AverageProgress != 7.5 {
				t.Errorf("average progress = %v, want 7.5", stats.AverageProgress)
			}
			return
		}
	}
}

func TestSubscribeStatsSeesWriteSettlingDuringSeed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := storage.NewMemoryRepository()
	hub := live.NewHub()
	defer hub.Close()

	seedParticipant(t, mem, "alice", 0)

	fresh, _ := mem.GetParticipant(ctx, "alice")
	now := time.Now()
	fresh.SetEntry(itemID(0), models.ProgressEntry{Checked: true, CheckedAt: &now})
	fresh.RecountTotals()

	repo := &seedRaceRepo{Repository: mem, hub: hub, fresh: fresh}
	agg := NewAggregator(repo, hub, statsCatalog())

	feed, cancelFeed, err := agg.SubscribeStats(ctx)
	if err != nil {
		t.Fatalf("SubscribeStats failed: %v", err)
	}
	defer cancelFeed()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("feed never delivered the write that settled during seeding")
		case stats, ok := <-feed:
			if !ok {
				t.Fatal("feed closed before delivering the settled write")
			}
			if stats.AverageProgress == 1.0 {
				return
			}
		}
	}
}

func waitStats(t *testing.T, feed <-chan models.Stats) models.Stats {
	t.Helper()
	select {
	case stats := <-feed:
		return stats
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for stats")
		return models.Stats{}
	}
}
