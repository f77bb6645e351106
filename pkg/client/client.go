// Package client is a Go SDK for the challenge-board API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is a Go SDK for the challenge-board API
type Client struct {
	baseURL    string
	adminToken string
	httpClient *http.Client
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithAdminToken sets the bearer token for admin endpoints
func WithAdminToken(token string) Option {
	return func(c *Client) {
		c.adminToken = token
	}
}

// NewClient creates a new challenge-board client
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ProgressEntry mirrors the per-item state in API responses.
type ProgressEntry struct {
	Checked   bool       `json:"checked"`
	CheckedAt *time.Time `json:"checked_at,omitempty"`
	PhotoURL  string     `json:"photo_url,omitempty"`
}

// Participant mirrors the participant record in API responses.
type Participant struct {
	ID             string                   `json:"id"`
	DisplayName    string                   `json:"display_name"`
	StartedAt      time.Time                `json:"started_at"`
	Progress       map[string]ProgressEntry `json:"progress"`
	CompletedCount int                      `json:"completed_count"`
	PhotoCount     int                      `json:"photo_count"`
	CompletedAt    *time.Time               `json:"completed_at,omitempty"`
}

// LeaderboardEntry mirrors a completion record.
type LeaderboardEntry struct {
	ParticipantID  string    `json:"participant_id"`
	DisplayName    string    `json:"display_name"`
	CompletedCount int       `json:"completed_count"`
	CompletedAt    time.Time `json:"completed_at"`
}

// Stats mirrors the admin statistics.
type Stats struct {
	TotalParticipants int     `json:"total_participants"`
	TotalCompletions  int     `json:"total_completions"`
	TotalPhotos       int     `json:"total_photos"`
	AverageProgress   float64 `json:"average_progress"`
}

// ChecklistItem mirrors one catalog entry.
type ChecklistItem struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
}

// Catalog mirrors the challenge definition.
type Catalog struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Date  string          `json:"date,omitempty"`
	Venue string          `json:"venue,omitempty"`
	Items []ChecklistItem `json:"items"`
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Join creates or refreshes a participant. An empty participantID lets
// the server mint one.
func (c *Client) Join(ctx context.Context, participantID, displayName string) (*Participant, error) {
	body := map[string]string{
		"participant_id": participantID,
		"display_name":   displayName,
	}

	var p Participant
	if err := c.do(ctx, http.MethodPost, "/api/v1/participants", body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Participant fetches one participant record.
func (c *Client) Participant(ctx context.Context, id string) (*Participant, error) {
	var p Participant
	if err := c.do(ctx, http.MethodGet, "/api/v1/participants/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ToggleItem flips one checklist item and returns the settled record.
func (c *Client) ToggleItem(ctx context.Context, participantID, itemID string) (*Participant, error) {
	path := fmt.Sprintf("/api/v1/participants/%s/items/%s/toggle",
		url.PathEscape(participantID), url.PathEscape(itemID))

	var p Participant
	if err := c.do(ctx, http.MethodPost, path, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// AttachPhoto uploads photo evidence for one item and returns its URL.
func (c *Client) AttachPhoto(ctx context.Context, participantID, itemID, filename string, blob io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("photo", filename)
	if err != nil {
		return "", fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := io.Copy(part, blob); err != nil {
		return "", fmt.Errorf("failed to read photo: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finish multipart body: %w", err)
	}

	path := fmt.Sprintf("/api/v1/participants/%s/items/%s/photo",
		url.PathEscape(participantID), url.PathEscape(itemID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out struct {
		PhotoURL string `json:"photo_url"`
	}
	if err := c.send(req, &out); err != nil {
		return "", err
	}
	return out.PhotoURL, nil
}

// Catalog fetches the challenge definition.
func (c *Client) Catalog(ctx context.Context) (*Catalog, error) {
	var cat Catalog
	if err := c.do(ctx, http.MethodGet, "/api/v1/catalog", nil, &cat); err != nil {
		return nil, err
	}
	return &cat, nil
}

// Leaderboard fetches the current ranking.
func (c *Client) Leaderboard(ctx context.Context, limit int) ([]*Participant, error) {
	path := "/api/v1/leaderboard"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var out struct {
		Leaderboard []*Participant `json:"leaderboard"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Leaderboard, nil
}

// Completions fetches the completion records, first finisher first.
func (c *Client) Completions(ctx context.Context) ([]*LeaderboardEntry, error) {
	var out struct {
		Completions []*LeaderboardEntry `json:"completions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/completions", nil, &out); err != nil {
		return nil, err
	}
	return out.Completions, nil
}

// Stats fetches the admin statistics. Requires an admin token.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	if err := c.do(ctx, http.MethodGet, "/api/v1/admin/stats", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	if c.adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}

	if !env.Success {
		if env.Error != nil {
			return fmt.Errorf("api error %s: %s", env.Error.Code, env.Error.Message)
		}
		return fmt.Errorf("api error: status %d", resp.StatusCode)
	}

	if out != nil && env.Data != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}

	return nil
}
