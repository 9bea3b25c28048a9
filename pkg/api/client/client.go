package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client provides typed access to the anymessage API for interactive tools.
type Client struct {
	baseURL    string
	origin     string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithOrigin sets the Origin header sent on every request. Tenant-scoped
// endpoints resolve the team from the origin's leading label.
func WithOrigin(origin string) Option {
	return func(c *Client) {
		c.origin = strings.TrimSpace(origin)
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}
	if c.origin != "" {
		req.Header.Set("Origin", c.origin)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg := extractError(resp.Body)
		return APIError{Status: resp.StatusCode, Message: msg}
	}

	if v == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// AuthResponse captures the user and token payload emitted by the API.
type AuthResponse struct {
	User   User      `json:"user"`
	Tokens TokenPair `json:"tokens"`
}

// User reflects API user payloads.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// TokenPair includes access and refresh tokens.
type TokenPair struct {
	AccessToken  string        `json:"AccessToken"`
	RefreshToken string        `json:"RefreshToken"`
	ExpiresIn    time.Duration `json:"ExpiresIn"`
}

// Signup registers an account and returns the initial token pair.
func (c *Client) Signup(ctx context.Context, email, password string) (AuthResponse, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
	}
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/signup", body, "", &resp); err != nil {
		return AuthResponse{}, err
	}
	return resp, nil
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (AuthResponse, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
	}
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, "", &resp); err != nil {
		return AuthResponse{}, err
	}
	return resp, nil
}

// Team represents a tenant workspace keyed by its subdomain.
type Team struct {
	ID         int64     `json:"ID"`
	Subdomain  string    `json:"Subdomain"`
	CustomerID *string   `json:"CustomerID"`
	CreatedAt  time.Time `json:"CreatedAt"`
	UpdatedAt  time.Time `json:"UpdatedAt"`
}

// CreateTeam registers a team under the subdomain.
func (c *Client) CreateTeam(ctx context.Context, token, subdomain string) (Team, error) {
	body := map[string]string{"subdomain": subdomain}
	var team Team
	if err := c.do(ctx, http.MethodPost, "/teams", body, token, &team); err != nil {
		return Team{}, err
	}
	return team, nil
}

// SubdomainAvailable reports whether the subdomain is unclaimed.
func (c *Client) SubdomainAvailable(ctx context.Context, subdomain string) (bool, error) {
	path := fmt.Sprintf("/teams/available?subdomain=%s", url.QueryEscape(subdomain))
	var payload struct {
		Available bool `json:"available"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, "", &payload); err != nil {
		return false, err
	}
	return payload.Available, nil
}

// CurrentTeam returns the team resolved from the client origin.
func (c *Client) CurrentTeam(ctx context.Context, token string) (Team, error) {
	var team Team
	if err := c.do(ctx, http.MethodGet, "/teams/current", nil, token, &team); err != nil {
		return Team{}, err
	}
	return team, nil
}

// UpdateTeamURL moves the current team to a new subdomain.
func (c *Client) UpdateTeamURL(ctx context.Context, token, newURL string) (Team, error) {
	body := map[string]string{"newURL": newURL}
	var team Team
	if err := c.do(ctx, http.MethodPost, "/teams/url", body, token, &team); err != nil {
		return Team{}, err
	}
	return team, nil
}

// SubscriptionActive reports the current team's billing state.
func (c *Client) SubscriptionActive(ctx context.Context, token string) (bool, error) {
	var payload struct {
		Active bool `json:"active"`
	}
	if err := c.do(ctx, http.MethodGet, "/billing/subscription", nil, token, &payload); err != nil {
		return false, err
	}
	return payload.Active, nil
}

// SaveIntegrationInput captures the payload for storing provider credentials.
type SaveIntegrationInput struct {
	Name           string          `json:"name"`
	Authentication json.RawMessage `json:"authentication"`
	Providers      []string        `json:"providers"`
}

// SaveIntegration stores provider credentials for the current team.
func (c *Client) SaveIntegration(ctx context.Context, token string, input SaveIntegrationInput) error {
	return c.do(ctx, http.MethodPost, "/integration/save", input, token, nil)
}

// Integration describes a stored provider connection.
type Integration struct {
	Name      string    `json:"name"`
	Providers []string  `json:"providers"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListIntegrations returns the current team's provider connections.
func (c *Client) ListIntegrations(ctx context.Context, token string) ([]Integration, error) {
	var integrations []Integration
	if err := c.do(ctx, http.MethodGet, "/integrations", nil, token, &integrations); err != nil {
		return nil, err
	}
	return integrations, nil
}
