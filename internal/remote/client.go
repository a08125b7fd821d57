package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/offlinehq/eventsync/internal/models"
	"github.com/sirupsen/logrus"
)

// ErrTransport marks a request that got no usable response out of the
// authority: dial failures, timeouts, 5xx. These abort a sync pass without
// touching local bookkeeping and are retried on the next trigger.
var ErrTransport = errors.New("authority unreachable")

// APIError is an application-level rejection from the authority.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("authority rejected request (%d): %s", e.Status, e.Message)
}

// TokenFunc supplies the current bearer token, or "" when no authenticated
// session exists.
type TokenFunc func(ctx context.Context) string

// Client talks to the remote authority over HTTP/JSON.
type Client struct {
	baseURL string
	http    *http.Client
	token   TokenFunc
	log     *logrus.Entry
}

func NewClient(baseURL string, timeout time.Duration, token TokenFunc, log *logrus.Entry) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		token:   token,
		log:     log,
	}
}

// UploadBatch sends the whole batch as one request. The authority processes
// accounts before registrations before attendances and mints identifiers for
// items whose id is null, mapping them through the local refs.
func (c *Client) UploadBatch(ctx context.Context, batch *models.SyncBatch) (*models.SyncResponse, error) {
	var response models.SyncResponse
	if err := c.do(ctx, http.MethodPost, "/sync/upload", batch, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// LoginResponse is the authority's answer to a credential login.
type LoginResponse struct {
	Token     string    `json:"token"`
	AccountID string    `json:"accountId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	body := map[string]string{"email": email, "password": password}
	var response LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func (c *Client) FetchEvents(ctx context.Context) ([]models.Event, error) {
	var events []models.Event
	if err := c.do(ctx, http.MethodGet, "/events", nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *Client) FetchEvent(ctx context.Context, id string) (*models.Event, error) {
	var event models.Event
	if err := c.do(ctx, http.MethodGet, "/events/"+id, nil, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// FetchRegistrations lists the authenticated user's registrations. The Bearer
// token scopes the result server-side.
func (c *Client) FetchRegistrations(ctx context.Context) ([]models.Registration, error) {
	var registrations []models.Registration
	if err := c.do(ctx, http.MethodGet, "/registrations", nil, &registrations); err != nil {
		return nil, err
	}
	return registrations, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != nil {
		if token := c.token(ctx); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %s %s returned %d", ErrTransport, method, path, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
			apiErr.Message = payload.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
