// Package httpapi implements the network-http backend: a REST client for the
// screwnoted collaboration server.
//
// The server offers no push channel, so this backend has no realtime
// capability; collaborative sessions on it stay current by reloading the full
// note set on demand or on a timer. Every call carries the client's bounded
// timeout and surfaces a typed error rather than hanging.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/h0pes/screw.nvim-sub001/pkg/models"
	"github.com/h0pes/screw.nvim-sub001/pkg/store"
)

// DefaultTimeout bounds every request issued by the client.
const DefaultTimeout = 10 * time.Second

// APIError is returned for non-2xx server responses.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("httpapi: server returned %d: %s", e.Status, e.Body)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Store is the REST client backend.
type Store struct {
	baseURL    string
	project    string
	userEmail  string
	httpClient *http.Client
	logger     zerolog.Logger
	connected  bool
}

var _ store.Store = (*Store)(nil)

func New(baseURL, projectName, userEmail string, logger zerolog.Logger) *Store {
	return &Store{
		baseURL:   baseURL,
		project:   projectName,
		userEmail: userEmail,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: logger.With().Str("store", "httpapi").Logger(),
	}
}

func (s *Store) Kind() store.Kind { return store.KindNetworkHTTP }

// Connect verifies the server is reachable via its health endpoint.
func (s *Store) Connect(ctx context.Context) error {
	if s.connected {
		return nil
	}
	var health struct {
		Status string `json:"status"`
	}
	if err := s.do(ctx, http.MethodGet, "/api/health", nil, &health); err != nil {
		return fmt.Errorf("httpapi: health check: %w", err)
	}
	s.connected = true
	s.logger.Debug().Str("url", s.baseURL).Msg("connected")
	return nil
}

func (s *Store) Close() error {
	s.connected = false
	s.httpClient.CloseIdleConnections()
	return nil
}

func (s *Store) LoadAll(ctx context.Context) ([]*models.Note, error) {
	var resp struct {
		Notes []*models.Note `json:"notes"`
	}
	path := "/api/notes/" + url.PathEscape(s.project)
	if err := s.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Notes, nil
}

// Save upserts by id: notes unknown to the server are created, known ones
// updated. The server refreshes updated_at on update.
func (s *Store) Save(ctx context.Context, note *models.Note) error {
	if err := note.Validate(); err != nil {
		return fmt.Errorf("httpapi: %w", err)
	}

	payload := note.Clone()
	if payload.ProjectName == "" {
		payload.ProjectName = s.project
	}
	if payload.UserID == "" {
		payload.UserID = s.userEmail
	}

	existing, err := s.Get(ctx, note.ID)
	if err != nil {
		return err
	}

	var resp struct {
		Note *models.Note `json:"note"`
	}
	if existing == nil {
		if err := s.do(ctx, http.MethodPost, "/api/notes", payload, &resp); err != nil {
			return err
		}
	} else {
		path := "/api/notes/" + url.PathEscape(note.ID.String())
		if err := s.do(ctx, http.MethodPut, path, payload, &resp); err != nil {
			return err
		}
	}
	if resp.Note != nil {
		note.UpdatedAt = resp.Note.UpdatedAt
		note.Version = resp.Note.Version
	}
	return nil
}

// Delete maps the server's 404 on unknown ids to a no-op success, per the
// store contract.
func (s *Store) Delete(ctx context.Context, id models.NoteID) error {
	path := "/api/notes/" + url.PathEscape(id.String())
	err := s.do(ctx, http.MethodDelete, path, nil, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}

func (s *Store) Get(ctx context.Context, id models.NoteID) (*models.Note, error) {
	var resp struct {
		Note *models.Note `json:"note"`
	}
	path := "/api/notes/note/" + url.PathEscape(id.String())
	err := s.do(ctx, http.MethodGet, path, nil, &resp)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return resp.Note, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var resp struct {
		TotalNotes  int    `json:"total_notes"`
		ProjectName string `json:"project_name"`
	}
	path := "/api/stats/" + url.PathEscape(s.project)
	if err := s.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.TotalNotes, nil
}

// CreateReply posts a reply under its parent note.
func (s *Store) CreateReply(ctx context.Context, reply *models.Reply) (*models.Reply, error) {
	if err := reply.Validate(); err != nil {
		return nil, fmt.Errorf("httpapi: %w", err)
	}
	var resp struct {
		Reply *models.Reply `json:"reply"`
	}
	path := "/api/notes/" + url.PathEscape(reply.ParentID.String()) + "/replies"
	if err := s.do(ctx, http.MethodPost, path, reply, &resp); err != nil {
		return nil, err
	}
	return resp.Reply, nil
}

// ReplaceAll swaps the project's entire note set server-side. Bulk import
// uses it to avoid per-record round trips.
func (s *Store) ReplaceAll(ctx context.Context, notes []*models.Note) (int, error) {
	body := map[string][]*models.Note{"notes": notes}
	var resp struct {
		Success bool `json:"success"`
		Count   int  `json:"count"`
	}
	path := "/api/notes/" + url.PathEscape(s.project) + "/replace"
	if err := s.do(ctx, http.MethodPut, path, body, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (s *Store) do(ctx context.Context, method, path string, body, target any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("httpapi: marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("httpapi: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("httpapi: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return &APIError{Status: resp.StatusCode, Body: string(data)}
	}

	if target != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("httpapi: decode response: %w", err)
		}
	}
	return nil
}
