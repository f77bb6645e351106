package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/terra-clan/challenge-board/internal/progress"
	"github.com/terra-clan/challenge-board/internal/storage"
)

// Response helpers

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "service not ready")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

// Catalog handlers

func (s *Server) handleGetCatalog(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.catalog)
}

// Participant handlers

type joinRequest struct {
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	id := strings.TrimSpace(req.ParticipantID)
	if id == "" {
		id = uuid.NewString()
	}

	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = "Guest " + id[:min(6, len(id))]
	}

	p, err := s.repo.UpsertParticipant(r.Context(), id, displayName, time.Now())
	if err != nil {
		slog.Error("failed to upsert participant", "error", err, "id", id)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to join challenge")
		return
	}

	s.publishParticipant(p)
	respondJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetParticipant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "participant id is required")
		return
	}

	p, err := s.repo.GetParticipant(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "participant not found")
			return
		}
		slog.Error("failed to get participant", "error", err, "id", id)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to get participant")
		return
	}

	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleToggleItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	itemID := chi.URLParam(r, "itemID")
	if id == "" || itemID == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "participant id and item id are required")
		return
	}

	if s.catalog.Item(itemID) == nil {
		respondError(w, http.StatusNotFound, "not_found", "unknown checklist item")
		return
	}

	p, err := s.mutator.ToggleItem(r.Context(), id, itemID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			respondError(w, http.StatusNotFound, "not_found", "participant not found")
		case errors.Is(err, storage.ErrWriteConflict):
			respondError(w, http.StatusConflict, "conflict", "record is contended, retry")
		default:
			slog.Error("failed to toggle item", "error", err, "id", id, "item", itemID)
			respondError(w, http.StatusInternalServerError, "internal_error", "failed to toggle item")
		}
		return
	}

	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleAttachPhoto(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	itemID := chi.URLParam(r, "itemID")
	if id == "" || itemID == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "participant id and item id are required")
		return
	}

	if s.catalog.Item(itemID) == nil {
		respondError(w, http.StatusNotFound, "not_found", "unknown checklist item")
		return
	}

	file, header, err := r.FormFile("photo")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "multipart field 'photo' is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(header.Filename), "."))
	if ext == "" {
		ext = "jpg"
	}

	url, err := s.mutator.AttachPhoto(r.Context(), id, itemID, file, ext)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			respondError(w, http.StatusNotFound, "not_found", "participant not found")
		case errors.Is(err, progress.ErrUploadFailed):
			respondError(w, http.StatusBadGateway, "upload_failed", "photo upload failed")
		case errors.Is(err, storage.ErrWriteConflict):
			respondError(w, http.StatusConflict, "conflict", "record is contended, retry")
		default:
			slog.Error("failed to attach photo", "error", err, "id", id, "item", itemID)
			respondError(w, http.StatusInternalServerError, "internal_error", "failed to attach photo")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"photo_url": url,
	})
}

// Leaderboard handlers

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 50 // default
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	ranked, err := s.leaderboard.Snapshot(r.Context(), limit)
	if err != nil {
		slog.Error("failed to rank participants", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to load leaderboard")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"leaderboard": ranked,
		"total":       len(ranked),
	})
}

func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	entries, err := s.repo.ListCompletions(r.Context())
	if err != nil {
		slog.Error("failed to list completions", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to load completions")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"completions": entries,
		"total":       len(entries),
	})
}

// Admin handlers

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.aggregator.Snapshot(r.Context())
	if err != nil {
		slog.Error("failed to compute stats", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to compute stats")
		return
	}

	respondJSON(w, http.StatusOK, stats)
}
