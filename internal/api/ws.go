package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/terra-clan/challenge-board/internal/live"
	"github.com/terra-clan/challenge-board/internal/models"
	"github.com/terra-clan/challenge-board/internal/storage"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// feedMessage is the envelope for all live feed frames.
type feedMessage struct {
	Type        string                   `json:"type"`
	Participant *models.Participant      `json:"participant,omitempty"`
	Completion  *models.LeaderboardEntry `json:"completion,omitempty"`
	Leaderboard []*models.Participant    `json:"leaderboard,omitempty"`
	Stats       *models.Stats            `json:"stats,omitempty"`
	Message     string                   `json:"message,omitempty"`
}

func (s *Server) publishParticipant(p *models.Participant) {
	s.hub.Publish(live.Event{Participant: p.Clone()})
}

// handleParticipantWS streams one participant's record: an initial
// snapshot, then every subsequent change.
func (s *Server) handleParticipantWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "participant id required", http.StatusBadRequest)
		return
	}

	// Subscribe before reading the snapshot: a write settling during the
	// read is then queued on the subscription instead of lost, and the
	// client never renders a stale snapshot with no follow-up.
	sub := s.hub.Subscribe(id)
	defer sub.Cancel()

	snapshot, err := s.repo.GetParticipant(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "participant not found", http.StatusNotFound)
			return
		}
		slog.Error("failed to get participant", "id", id, "error", err)
		http.Error(w, "failed to get participant", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade to websocket", "error", err)
		return
	}
	defer conn.Close()

	slog.Info("participant feed connected", "participant", id)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go watchClose(conn, cancel)

	if err := conn.WriteJSON(feedMessage{Type: "snapshot", Participant: snapshot}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("participant feed disconnected", "participant", id)
			return
		case ev, ok := <-sub.C:
			if !ok {
				sendFeedError(conn, "subscription closed")
				return
			}
			msg := feedMessage{Type: "update", Participant: ev.Participant}
			if ev.Completion != nil {
				msg.Type = "completed"
				msg.Completion = ev.Completion
			}
			if err := conn.WriteJSON(msg); err != nil {
				slog.Debug("participant feed write failed", "error", err)
				return
			}
		}
	}
}

// handleLeaderboardWS streams the ranked leaderboard: an initial ranking,
// then a fresh one after every record change.
func (s *Server) handleLeaderboardWS(w http.ResponseWriter, r *http.Request) {
	limit := 50 // default
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	feed, cancelFeed, err := s.leaderboard.SubscribeRanked(r.Context(), limit)
	if err != nil {
		slog.Error("failed to subscribe leaderboard", "error", err)
		http.Error(w, "failed to subscribe", http.StatusInternalServerError)
		return
	}
	defer cancelFeed()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade to websocket", "error", err)
		return
	}
	defer conn.Close()

	slog.Info("leaderboard feed connected", "limit", limit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go watchClose(conn, cancel)

	for {
		select {
		case <-ctx.Done():
			slog.Info("leaderboard feed disconnected")
			return
		case ranked, ok := <-feed:
			if !ok {
				sendFeedError(conn, "subscription closed")
				return
			}
			if err := conn.WriteJSON(feedMessage{Type: "leaderboard", Leaderboard: ranked}); err != nil {
				slog.Debug("leaderboard feed write failed", "error", err)
				return
			}
		}
	}
}

// handleStatsWS streams admin statistics, recomputed on every change.
func (s *Server) handleStatsWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeAdmin(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	feed, cancelFeed, err := s.aggregator.SubscribeStats(r.Context())
	if err != nil {
		slog.Error("failed to subscribe stats", "error", err)
		http.Error(w, "failed to subscribe", http.StatusInternalServerError)
		return
	}
	defer cancelFeed()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade to websocket", "error", err)
		return
	}
	defer conn.Close()

	slog.Info("stats feed connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go watchClose(conn, cancel)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stats feed disconnected")
			return
		case stats, ok := <-feed:
			if !ok {
				sendFeedError(conn, "subscription closed")
				return
			}
			if err := conn.WriteJSON(feedMessage{Type: "stats", Stats: &stats}); err != nil {
				slog.Debug("stats feed write failed", "error", err)
				return
			}
		}
	}
}

// watchClose drains client frames so we notice a closed connection and
// cancel the writer loop.
func watchClose(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read error", "error", err)
			}
			return
		}
	}
}

func sendFeedError(conn *websocket.Conn, message string) {
	if err := conn.WriteJSON(feedMessage{Type: "error", Message: message}); err != nil {
		slog.Debug("failed to send feed error", "error", err)
	}
}
