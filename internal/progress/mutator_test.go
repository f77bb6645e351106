package progress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/terra-clan/challenge-board/internal/live"
	"github.com/terra-clan/challenge-board/internal/models"
	"github.com/terra-clan/challenge-board/internal/storage"
)

func testCatalog(size int) *models.Catalog {
	c := &models.Catalog{ID: "testchallenge", Name: "Test Challenge"}
	for i := 1; i <= size; i++ {
		c.Items = append(c.Items, models.ChecklistItem{
			ID:          fmt.Sprintf("item%d", i),
			DisplayName: fmt.Sprintf("Item %d", i),
			Category:    "beer",
		})
	}
	return c
}

// fakePhotoStore records uploads and can be told to fail.
type fakePhotoStore struct {
	mu      sync.Mutex
	uploads []string
	fail    bool
}

func (f *fakePhotoStore) Put(ctx context.Context, key string, blob io.Reader) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", errors.New("blob store down")
	}
	f.uploads = append(f.uploads, key)
	return "https://photos.test/" + key, nil
}

func newTestMutator(t *testing.T, size int) (*Mutator, storage.Repository, *fakePhotoStore) {
	t.Helper()
	repo := storage.NewMemoryRepository()
	store := &fakePhotoStore{}
	hub := live.NewHub()
	t.Cleanup(hub.Close)
	return NewMutator(repo, store, hub, testCatalog(size)), repo, store
}

func TestToggleItemCountsMatchCheckedState(t *testing.T) {
	ctx := context.Background()
	m, repo, _ := newTestMutator(t, 10)

	if _, err := repo.UpsertParticipant(ctx, "alice", "Alice", time.Now()); err != nil {
		t.Fatalf("UpsertParticipant failed: %v", err)
	}

	// Check, uncheck, re-check one item and check a second.
	steps := []string{"item1", "item1", "item1", "item2"}
	var p *models.Participant
	var err error
	for _, itemID := range steps {
		p, err = m.ToggleItem(ctx, "alice", itemID)
		if err != nil {
			t.Fatalf("ToggleItem(%s) failed: %v", itemID, err)
		}

		checked := 0
		for _, e := range p.Progress {
			if e.Checked {
				checked++
			}
		}
		if p.CompletedCount != checked {
			t.Fatalf("completed count %d != checked entries %d", p.CompletedCount, checked)
		}
		if p.CompletedCount < 0 || p.CompletedCount > 10 {
			t.Fatalf("completed count out of range: %d", p.CompletedCount)
		}
	}

	if p.CompletedCount != 2 {
		t.Errorf("expected 2 items checked at the end, got %d", p.CompletedCount)
	}
	if e := p.Entry("item1"); !e.Checked || e.CheckedAt == nil {
		t.Error("item1 should be checked with a timestamp")
	}
}

func TestToggleItemUnknownParticipant(t *testing.T) {
	m, _, _ := newTestMutator(t, 10)
	if _, err := m.ToggleItem(context.Background(), "nobody", "item1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestToggleItemUnknownItem(t *testing.T) {
	ctx := context.Background()
	m, repo, _ := newTestMutator(t, 10)
	if _, err := repo.UpsertParticipant(ctx, "alice", "Alice", time.Now()); err != nil {
		t.Fatalf("UpsertParticipant failed: %v", err)
	}
	if _, err := m.ToggleItem(ctx, "alice", "item99"); err == nil {
		t.Fatal("expected error for unknown item")
	}
}

func TestConcurrentTogglesSettleConsistently(t *testing.T) {
	ctx := context.Background()
	m, repo, _ := newTestMutator(t, 10)

	if _, err := repo.UpsertParticipant(ctx, "alice", "Alice", time.Now()); err != nil {
		t.Fatalf("UpsertParticipant failed: %v", err)
	}

	// Two sessions race to flip the same item an even number of times,
	// while others hammer distinct items.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.ToggleItem(ctx, "alice", "item1"); err != nil {
				t.Errorf("racing toggle failed: %v", err)
			}
		}()
	}
	for i := 2; i <= 6; i++ {
		wg.Add(1)
		go func(itemID string) {
			defer wg.Done()
			if _, err := m.ToggleItem(ctx, "alice", itemID); err != nil {
				t.Errorf("toggle %s failed: %v", itemID, err)
			}
		}(fmt.Sprintf("item%d", i))
	}
	wg.Wait()

	final, err := repo.GetParticipant(ctx, "alice")
	if err != nil {
		t.Fatalf("GetParticipant failed: %v", err)
	}

	checked := 0
	for _, e := range final.Progress {
		if e.Checked {
			checked++
		}
	}
	if final.CompletedCount != checked {
		t.Errorf("counter drifted: count %d, checked entries %d", final.CompletedCount, checked)
	}
	// item1 was flipped exactly twice, so it must be unchecked again and
	// the five distinct items checked once each.
	if final.Entry("item1").Checked {
		t.Error("item1 flipped twice should be unchecked")
	}
	if final.CompletedCount != 5 {
		t.Errorf("expected 5 checked items, got %d", final.CompletedCount)
	}
}

// readCountingRepo counts GetParticipant calls.
type readCountingRepo struct {
	storage.Repository
	mu    sync.Mutex
	reads int
}

func (r *readCountingRepo) GetParticipant(ctx context.Context, id string) (*models.Participant, error) {
	r.mu.Lock()
	r.reads++
	r.mu.Unlock()
	return r.Repository.GetParticipant(ctx, id)
}

func TestToggleItemPublishesWrittenStateWithoutReread(t *testing.T) {
	ctx := context.Background()
	repo := &readCountingRepo{Repository: storage.NewMemoryRepository()}
	hub := live.NewHub()
	t.Cleanup(hub.Close)
	m := NewMutator(repo, &fakePhotoStore{}, hub, testCatalog(10))

	if _, err := repo.UpsertParticipant(ctx, "alice", "Alice", time.Now()); err != nil {
		t.Fatalf("UpsertParticipant failed: %v", err)
	}

	sub := hub.Subscribe("alice")
	defer sub.Cancel()

	p, err := m.ToggleItem(ctx, "alice", "item1")
	if err != nil {
		t.Fatalf("ToggleItem failed: %v", err)
	}

	// An uncontended toggle is exactly one read and one conditional write.
	repo.mu.Lock()
	reads := repo.reads
	repo.mu.Unlock()
	if reads != 1 {
		t.Errorf("toggle performed %d reads, want 1", reads)
	}

	// The published event carries the same settled state the caller got.
	select {
	case ev := <-sub.C:
		if ev.Participant == nil || ev.Participant.CompletedCount != p.CompletedCount {
			t.Errorf("published snapshot diverges from returned record: %+v", ev.Participant)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the published snapshot")
	}

	stored, _ := repo.GetParticipant(ctx, "alice")
	if stored.Version != p.Version {
		t.Errorf("returned version %d != stored version %d", p.Version, stored.Version)
	}
}

func TestAttachPhotoIdempotentCount(t *testing.T) {
	ctx := context.Background()
	m, repo, store := newTestMutator(t, 10)

	if _, err := repo.UpsertParticipant(ctx, "alice", "Alice", time.Now()); err != nil {
		t.Fatalf("UpsertParticipant failed: %v", err)
	}

	url1, err := m.AttachPhoto(ctx, "alice", "item1", strings.NewReader("img-a"), "jpg")
	if err != nil {
		t.Fatalf("first AttachPhoto failed: %v", err)
	}
	if url1 == "" {
		t.Fatal("expected a photo URL")
	}

	p, _ := repo.GetParticipant(ctx, "alice")
	if p.PhotoCount != 1 {
		t.Fatalf("photo count after first upload = %d, want 1", p.PhotoCount)
	}

	// Replacing the photo must not double-count.
	url2, err := m.AttachPhoto(ctx, "alice", "item1", strings.NewReader("img-b"), "jpg")
	if err != nil {
		t.Fatalf("second AttachPhoto failed: %v", err)
	}

	p, _ = repo.GetParticipant(ctx, "alice")
	if p.PhotoCount != 1 {
		t.Errorf("photo count after replacement = %d, want 1", p.PhotoCount)
	}
	if p.Entry("item1").PhotoURL != url2 {
		t.Error("last photo upload should win")
	}
	if len(store.uploads) != 2 {
		t.Errorf("expected 2 distinct upload keys, got %d", len(store.uploads))
	}
	if store.uploads[0] == store.uploads[1] {
		t.Error("upload keys must not collide across attempts")
	}

	// A photo on a second item does count.
	if _, err := m.AttachPhoto(ctx, "alice", "item2", strings.NewReader("img-c"), "png"); err != nil {
		t.Fatalf("AttachPhoto on second item failed: %v", err)
	}
	p, _ = repo.GetParticipant(ctx, "alice")
	if p.PhotoCount != 2 {
		t.Errorf("photo count after second item = %d, want 2", p.PhotoCount)
	}
}

func TestAttachPhotoUploadFailureLeavesRecordUnchanged(t *testing.T) {
	ctx := context.Background()
	m, repo, store := newTestMutator(t, 10)

	if _, err := repo.UpsertParticipant(ctx, "alice", "Alice", time.Now()); err != nil {
		t.Fatalf("UpsertParticipant failed: %v", err)
	}
	before, _ := repo.GetParticipant(ctx, "alice")

	store.fail = true
	_, err := m.AttachPhoto(ctx, "alice", "item1", strings.NewReader("img"), "jpg")
	if !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed, got %v", err)
	}

	after, _ := repo.GetParticipant(ctx, "alice")
	if after.PhotoCount != before.PhotoCount {
		t.Error("failed upload changed the photo count")
	}
	if after.Entry("item1").PhotoURL != "" {
		t.Error("failed upload left a photo URL behind")
	}
	if after.Version != before.Version {
		t.Error("failed upload wrote to the record")
	}
}
