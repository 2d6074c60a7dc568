package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrBaseURLRequired = errors.New("homeassistant: base url required")
	ErrTokenRequired   = errors.New("homeassistant: token required")
	ErrEntityRequired  = errors.New("homeassistant: entity id required")
)

// maxErrorBody bounds how much of a failed response is kept on StatusError.
const maxErrorBody = 4 << 10

// StatusError captures a non-2xx reply from the Core REST API.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("homeassistant: unexpected status %d: %s", e.StatusCode, strings.TrimSpace(string(e.Body)))
}

// EntityState is the subset of /api/states/<entity> the bridge reads.
type EntityState struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
}

// On reports whether the entity is in the "on" state.
func (s EntityState) On() bool {
	return strings.EqualFold(s.State, "on")
}

// Client calls the Home Assistant Core REST API with a long-lived token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a REST client on a copy of httpClient, so the caller's
// client is never modified. A nil httpClient gets a default.
func NewClient(baseURL, token string, httpClient *http.Client, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("homeassistant: parse base url: %w", err)
	}
	if strings.TrimSpace(token) == "" {
		return nil, ErrTokenRequired
	}
	client := &http.Client{}
	if httpClient != nil {
		copied := *httpClient
		client = &copied
	}
	if timeout > 0 && client.Timeout == 0 {
		client.Timeout = timeout
	}
	return &Client{baseURL: baseURL, token: strings.TrimSpace(token), http: client}, nil
}

// CallService invokes POST /api/services/<domain>/<service> with data as body.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("homeassistant: encode service data: %w", err)
	}
	path := "/api/services/" + url.PathEscape(domain) + "/" + url.PathEscape(service)
	resp, err := c.do(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("homeassistant: call %s.%s: %w", domain, service, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// SetInputBoolean turns an input_boolean entity on or off.
func (c *Client) SetInputBoolean(ctx context.Context, entityID string, on bool) error {
	if strings.TrimSpace(entityID) == "" {
		return ErrEntityRequired
	}
	service := "turn_off"
	if on {
		service = "turn_on"
	}
	return c.CallService(ctx, "input_boolean", service, map[string]any{"entity_id": entityID})
}

// State reads the current state of one entity.
func (c *Client) State(ctx context.Context, entityID string) (EntityState, error) {
	if strings.TrimSpace(entityID) == "" {
		return EntityState{}, ErrEntityRequired
	}
	resp, err := c.do(ctx, http.MethodGet, "/api/states/"+url.PathEscape(entityID), nil)
	if err != nil {
		return EntityState{}, fmt.Errorf("homeassistant: state %s: %w", entityID, err)
	}
	defer resp.Body.Close()

	var state EntityState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return EntityState{}, fmt.Errorf("homeassistant: decode state %s: %w", entityID, err)
	}
	return state, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: data}
	}
	return resp, nil
}
