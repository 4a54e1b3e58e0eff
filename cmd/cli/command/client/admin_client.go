package client

// admin_client.go = talks to the admin API of a running ptz server.

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ptzserver/internal/microservices/tcp"
)

type AdminClient struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

type AnnouncerStatus struct {
	Active bool   `json:"active"`
	Sent   uint64 `json:"sent"`
	Error  string `json:"error,omitempty"`
}

type StatusResponse struct {
	Serving         bool              `json:"serving"`
	Port            int               `json:"port"`
	ProtocolVersion float64           `json:"protocol_version"`
	Clients         int               `json:"clients"`
	Subsystems      map[string]string `json:"subsystems"`
	Announcer       *AnnouncerStatus  `json:"announcer,omitempty"`
}

type ClientsResponse struct {
	Clients []tcp.SessionInfo `json:"clients"`
	Count   int               `json:"count"`
}

type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type HandshakesResponse struct {
	Stats  map[string]int64      `json:"stats"`
	Events []*tcp.HandshakeEvent `json:"events"`
}

// APIError is returned for any non-2xx answer.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("admin api returned %d: %s", e.StatusCode, e.Message)
}

func NewAdminClient(baseURL, token string) *AdminClient {
	return &AdminClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		token: token,
	}
}

// Login trades the operator password for an admin token.
func (c *AdminClient) Login(subject, password string) (*LoginResponse, error) {
	body, err := json.Marshal(map[string]string{"subject": subject, "password": password})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	var result LoginResponse
	if err := c.doWithBody(http.MethodPost, "/login", bytes.NewReader(body), http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *AdminClient) Status() (*StatusResponse, error) {
	var result StatusResponse
	if err := c.do(http.MethodGet, "/status", http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *AdminClient) Clients() (*ClientsResponse, error) {
	var result ClientsResponse
	if err := c.do(http.MethodGet, "/clients", http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *AdminClient) Handshakes(limit int) (*HandshakesResponse, error) {
	var result HandshakesResponse
	path := fmt.Sprintf("/handshakes?limit=%d", limit)
	if err := c.do(http.MethodGet, path, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Disconnect closes the session with the given id. Needs an admin token.
func (c *AdminClient) Disconnect(id string) error {
	return c.do(http.MethodDelete, "/clients/"+url.PathEscape(id), http.StatusNoContent, nil)
}

// Shutdown asks the server to stop. Needs an admin token.
func (c *AdminClient) Shutdown() error {
	return c.do(http.MethodPost, "/shutdown", http.StatusAccepted, nil)
}

func (c *AdminClient) do(method, path string, want int, out any) error {
	return c.doWithBody(method, path, nil, want, out)
}

func (c *AdminClient) doWithBody(method, path string, body io.Reader, want int, out any) error {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
