package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/terra-clan/challenge-board/internal/config"
	"github.com/terra-clan/challenge-board/internal/live"
	"github.com/terra-clan/challenge-board/internal/models"
	"github.com/terra-clan/challenge-board/internal/photos"
	"github.com/terra-clan/challenge-board/internal/progress"
	"github.com/terra-clan/challenge-board/internal/storage"
	"github.com/terra-clan/challenge-board/internal/view"
)

const testAdminToken = "test-admin-token"

func newTestServer(t *testing.T) (*httptest.Server, storage.Repository, *progress.Detector) {
	t.Helper()

	cat := &models.Catalog{ID: "testchallenge", Name: "Test Challenge"}
	for i := 1; i <= 3; i++ {
		cat.Items = append(cat.Items, models.ChecklistItem{
			ID:          fmt.Sprintf("item%d", i),
			DisplayName: fmt.Sprintf("Item %d", i),
			Category:    "beer",
		})
	}

	repo := storage.NewMemoryRepository()
	hub := live.NewHub()
	t.Cleanup(hub.Close)

	mutator := progress.NewMutator(repo, photos.Disabled{}, hub, cat)
	detector := progress.NewDetector(repo, hub, cat)
	leaderboard := view.NewLeaderboard(repo, hub)
	aggregator := view.NewAggregator(repo, hub, cat)

	s := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0},
		repo, mutator, leaderboard, aggregator, cat, hub, testAdminToken)

	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return ts, repo, detector
}

func decodeData(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()

	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !env.Success {
		code := "<none>"
		if env.Error != nil {
			code = env.Error.Code
		}
		t.Fatalf("request failed with status %d, error code %s", resp.StatusCode, code)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			t.Fatalf("failed to decode data: %v", err)
		}
	}
}

func TestJoinToggleAndLeaderboardFlow(t *testing.T) {
	ts, repo, detector := newTestServer(t)

	// Join without an id: the server mints one.
	resp, err := http.Post(ts.URL+"/api/v1/participants", "application/json",
		strings.NewReader(`{"display_name":"Alice"}`))
	if err != nil {
		t.Fatalf("join request failed: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("join status = %d, want 201", resp.StatusCode)
	}

	var alice models.Participant
	decodeData(t, resp, &alice)
	if alice.ID == "" || alice.DisplayName != "Alice" {
		t.Fatalf("unexpected participant: %+v", alice)
	}

	// Toggle all three items; the record comes back with fresh counts.
	var last models.Participant
	for i := 1; i <= 3; i++ {
		resp, err := http.Post(fmt.Sprintf("%s/api/v1/participants/%s/items/item%d/toggle", ts.URL, alice.ID, i), "", nil)
		if err != nil {
			t.Fatalf("toggle request failed: %v", err)
		}
		decodeData(t, resp, &last)
	}
	if last.CompletedCount != 3 {
		t.Fatalf("completed count = %d, want 3", last.CompletedCount)
	}

	// The detector latches completion on the settled snapshot.
	snapshot, _ := repo.GetParticipant(context.Background(), alice.ID)
	detector.Observe(context.Background(), snapshot)

	resp, err = http.Get(ts.URL + "/api/v1/completions")
	if err != nil {
		t.Fatalf("completions request failed: %v", err)
	}
	var completions struct {
		Completions []models.LeaderboardEntry `json:"completions"`
	}
	decodeData(t, resp, &completions)
	if len(completions.Completions) != 1 || completions.Completions[0].ParticipantID != alice.ID {
		t.Fatalf("unexpected completions: %+v", completions.Completions)
	}

	// Ranked leaderboard has alice on top.
	resp, err = http.Get(ts.URL + "/api/v1/leaderboard?limit=2")
	if err != nil {
		t.Fatalf("leaderboard request failed: %v", err)
	}
	var board struct {
		Leaderboard []models.Participant `json:"leaderboard"`
	}
	decodeData(t, resp, &board)
	if len(board.Leaderboard) != 1 || board.Leaderboard[0].ID != alice.ID {
		t.Fatalf("unexpected leaderboard: %+v", board.Leaderboard)
	}
}

func TestToggleUnknownParticipantReturns404(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/participants/nobody/items/item1/toggle", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestToggleUnknownItemReturns404(t *testing.T) {
	ts, repo, _ := newTestServer(t)

	if _, err := repo.UpsertParticipant(context.Background(), "alice", "Alice", time.Now()); err != nil {
		t.Fatalf("UpsertParticipant failed: %v", err)
	}

	resp, err := http.Post(ts.URL+"/api/v1/participants/alice/items/item99/toggle", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAttachPhotoWithDisabledStoreReturns502(t *testing.T) {
	ts, repo, _ := newTestServer(t)

	if _, err := repo.UpsertParticipant(context.Background(), "alice", "Alice", time.Now()); err != nil {
		t.Fatalf("UpsertParticipant failed: %v", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("photo", "beer.jpg")
	if err != nil {
		t.Fatalf("failed to build multipart body: %v", err)
	}
	part.Write([]byte("not really a jpeg"))
	mw.Close()

	resp, err := http.Post(ts.URL+"/api/v1/participants/alice/items/item1/photo",
		mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}

	// The record stayed untouched.
	p, _ := repo.GetParticipant(context.Background(), "alice")
	if p.PhotoCount != 0 || p.Entry("item1").PhotoURL != "" {
		t.Errorf("failed upload mutated the record: %+v", p)
	}
}

func TestAdminStatsRequiresToken(t *testing.T) {
	ts, repo, _ := newTestServer(t)

	if _, err := repo.UpsertParticipant(context.Background(), "alice", "Alice", time.Now()); err != nil {
		t.Fatalf("UpsertParticipant failed: %v", err)
	}

	resp, err := http.Get(ts.URL + "/api/v1/admin/stats")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/admin/stats", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	var stats models.Stats
	decodeData(t, resp, &stats)
	if stats.TotalParticipants != 1 {
		t.Errorf("total participants = %d, want 1", stats.TotalParticipants)
	}
}

func TestGetCatalog(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/catalog")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	var cat models.Catalog
	decodeData(t, resp, &cat)
	if cat.Size() != 3 {
		t.Errorf("catalog size = %d, want 3", cat.Size())
	}
}
