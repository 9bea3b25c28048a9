package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Tyav/anymessage/internal/config"
	"github.com/Tyav/anymessage/internal/domain"
	"github.com/Tyav/anymessage/internal/repository"
	"github.com/Tyav/anymessage/internal/service/auth"
	"github.com/Tyav/anymessage/internal/service/integration"
	"github.com/Tyav/anymessage/internal/service/team"
	"github.com/Tyav/anymessage/pkg/crypto"
	jwtpkg "github.com/Tyav/anymessage/pkg/jwt"
)

const (
	testJWTSecret      = "router-test-secret"
	testCredentialsKey = "router-test-credentials-key"
)

type userRepoStub struct {
	mu      sync.Mutex
	byEmail map[string]*domain.User
	byID    map[string]*domain.User
}

func newUserRepoStub() *userRepoStub {
	return &userRepoStub{
		byEmail: make(map[string]*domain.User),
		byID:    make(map[string]*domain.User),
	}
}

func (s *userRepoStub) CreateUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[user.Email]; exists {
		return repository.ErrConflict
	}
	snapshot := *user
	s.byEmail[user.Email] = &snapshot
	s.byID[user.ID] = &snapshot
	return nil
}

func (s *userRepoStub) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byEmail[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	snapshot := *user
	return &snapshot, nil
}

func (s *userRepoStub) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	snapshot := *user
	return &snapshot, nil
}

func (s *userRepoStub) SetUserTeam(_ context.Context, userID string, teamID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byID[userID]
	if !ok {
		return repository.ErrNotFound
	}
	user.TeamID = &teamID
	return nil
}

type teamRepoStub struct {
	mu         sync.Mutex
	nextID     int64
	bySub      map[string]*domain.Team
	byID       map[int64]*domain.Team
	members    map[string][]string
	forUserErr error
}

func newTeamRepoStub() *teamRepoStub {
	return &teamRepoStub{
		bySub:   make(map[string]*domain.Team),
		byID:    make(map[int64]*domain.Team),
		members: make(map[string][]string),
	}
}

func (s *teamRepoStub) CreateTeam(_ context.Context, subdomain string) (*domain.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bySub[subdomain]; exists {
		return nil, repository.ErrConflict
	}
	s.nextID++
	now := time.Now().UTC()
	t := &domain.Team{ID: s.nextID, Subdomain: subdomain, CreatedAt: now, UpdatedAt: now}
	s.bySub[subdomain] = t
	s.byID[t.ID] = t
	snapshot := *t
	return &snapshot, nil
}

func (s *teamRepoStub) GetTeamByID(_ context.Context, id int64) (*domain.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	snapshot := *t
	return &snapshot, nil
}

func (s *teamRepoStub) GetTeamBySubdomain(_ context.Context, subdomain string) (*domain.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.bySub[subdomain]
	if !ok {
		return nil, repository.ErrNotFound
	}
	snapshot := *t
	return &snapshot, nil
}

func (s *teamRepoStub) GetTeamForUser(_ context.Context, subdomain, email string) (*domain.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forUserErr != nil {
		return nil, s.forUserErr
	}
	t, ok := s.bySub[subdomain]
	if !ok {
		return nil, repository.ErrNotFound
	}
	for _, member := range s.members[subdomain] {
		if member == email {
			snapshot := *t
			return &snapshot, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *teamRepoStub) SubdomainTaken(_ context.Context, subdomain string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, taken := s.bySub[subdomain]
	return taken, nil
}

func (s *teamRepoStub) UpdateTeamSubdomain(_ context.Context, id int64, subdomain string) (*domain.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if existing, taken := s.bySub[subdomain]; taken && existing.ID != id {
		return nil, repository.ErrConflict
	}
	oldSub := t.Subdomain
	delete(s.bySub, oldSub)
	t.Subdomain = subdomain
	t.UpdatedAt = time.Now().UTC()
	s.bySub[subdomain] = t
	if members, ok := s.members[oldSub]; ok {
		delete(s.members, oldSub)
		s.members[subdomain] = members
	}
	snapshot := *t
	return &snapshot, nil
}

func (s *teamRepoStub) UpdateTeamCustomerID(_ context.Context, id int64, customerID *string) (*domain.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	t.CustomerID = customerID
	t.UpdatedAt = time.Now().UTC()
	snapshot := *t
	return &snapshot, nil
}

type integrationRepoStub struct {
	mu        sync.Mutex
	stored    []*domain.Integration
	createErr error
	listErr   error
}

func (s *integrationRepoStub) CreateIntegration(_ context.Context, item *domain.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	for _, existing := range s.stored {
		if existing.TeamID == item.TeamID && existing.Name == item.Name {
			return repository.ErrConflict
		}
	}
	snapshot := *item
	s.stored = append(s.stored, &snapshot)
	return nil
}

func (s *integrationRepoStub) GetIntegration(_ context.Context, teamID int64, name string) (*domain.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.stored {
		if existing.TeamID == teamID && existing.Name == name {
			snapshot := *existing
			return &snapshot, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *integrationRepoStub) ListIntegrationsByTeam(_ context.Context, teamID int64) ([]domain.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []domain.Integration
	for _, existing := range s.stored {
		if existing.TeamID == teamID {
			out = append(out, *existing)
		}
	}
	return out, nil
}

type billingStub struct {
	mu     sync.Mutex
	active bool
	err    error
	calls  int
}

func (b *billingStub) HasActiveSubscription(_ context.Context, _ string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return b.active, b.err
}

func (b *billingStub) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type rateCall struct {
	key    string
	limit  int
	window time.Duration
}

type rateLimiterStub struct {
	mu      sync.Mutex
	calls   []rateCall
	allowFn func(key string, limit int, window time.Duration) rateDecision
	closed  bool
}

func (s *rateLimiterStub) Allow(key string, limit int, window time.Duration) rateDecision {
	s.mu.Lock()
	s.calls = append(s.calls, rateCall{key: key, limit: limit, window: window})
	fn := s.allowFn
	s.mu.Unlock()
	if fn != nil {
		return fn(key, limit, window)
	}
	return rateDecision{allowed: true, count: 1, windowEnd: time.Now().Add(window)}
}

func (s *rateLimiterStub) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *rateLimiterStub) lastCall() (rateCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return rateCall{}, false
	}
	return s.calls[len(s.calls)-1], true
}

type testEnv struct {
	users        *userRepoStub
	teams        *teamRepoStub
	integrations *integrationRepoStub
	billing      *billingStub
	limiter      *rateLimiterStub
	router       *Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		users:        newUserRepoStub(),
		teams:        newTeamRepoStub(),
		integrations: &integrationRepoStub{},
		billing:      &billingStub{},
		limiter:      &rateLimiterStub{},
	}
	authSvc := auth.New(env.users, log, config.AuthConfig{
		JWTSecret:       testJWTSecret,
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	})
	teamSvc := team.New(env.teams, env.users, env.billing, log)
	integrationSvc := integration.New(env.integrations, log, config.CryptoConfig{CredentialsKey: testCredentialsKey})
	env.router = NewRouter(log, authSvc, teamSvc, integrationSvc, env.limiter, nil)
	t.Cleanup(env.router.Close)
	return env
}

func (e *testEnv) seedUser(t *testing.T, email string) (*domain.User, string) {
	t.Helper()
	hash, err := crypto.HashPassword("hunter22")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.users.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	token, err := jwtpkg.GenerateToken(user.ID, 0, testJWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return user, token
}

func (e *testEnv) seedTeam(t *testing.T, subdomain string, memberEmails ...string) *domain.Team {
	t.Helper()
	created, err := e.teams.CreateTeam(context.Background(), subdomain)
	if err != nil {
		t.Fatalf("seed team: %v", err)
	}
	e.teams.mu.Lock()
	e.teams.members[subdomain] = append(e.teams.members[subdomain], memberEmails...)
	e.teams.mu.Unlock()
	return created
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func jsonRequest(t *testing.T, method, target string, payload any) *http.Request {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func authed(req *http.Request, token, origin string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	return req
}

func errorBody(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	return payload.Error
}

func TestSignupAndLoginFlow(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(jsonRequest(t, http.MethodPost, "/auth/signup", map[string]string{
		"email":    "owner@example.com",
		"password": "hunter22",
	}))
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup status = %d, body %s", rr.Code, rr.Body.String())
	}
	var signup struct {
		User struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
		Tokens struct {
			AccessToken string
		} `json:"tokens"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &signup); err != nil {
		t.Fatalf("decode signup response: %v", err)
	}
	if signup.User.Email != "owner@example.com" || signup.Tokens.AccessToken == "" {
		t.Fatalf("unexpected signup payload: %s", rr.Body.String())
	}

	rr = env.do(jsonRequest(t, http.MethodPost, "/auth/login", map[string]string{
		"email":    "owner@example.com",
		"password": "hunter22",
	}))
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rr.Code, rr.Body.String())
	}

	rr = env.do(jsonRequest(t, http.MethodPost, "/auth/login", map[string]string{
		"email":    "owner@example.com",
		"password": "wrong",
	}))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d", rr.Code)
	}
	if got := errorBody(t, rr); got != "invalid credentials" {
		t.Fatalf("unexpected error %q", got)
	}
}

func TestCreateTeamEndpoint(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.seedUser(t, "owner@example.com")

	rr := env.do(authed(jsonRequest(t, http.MethodPost, "/teams", map[string]string{"subdomain": "acme"}), token, ""))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create team status = %d, body %s", rr.Code, rr.Body.String())
	}
	var created struct {
		ID        int64
		Subdomain string
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode team: %v", err)
	}
	if created.Subdomain != "acme" || created.ID == 0 {
		t.Fatalf("unexpected team payload: %s", rr.Body.String())
	}

	stored, err := env.users.GetUserByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("load user: %v", err)
	}
	if stored.TeamID == nil || *stored.TeamID != created.ID {
		t.Fatalf("expected owner bound to team %d, got %v", created.ID, stored.TeamID)
	}

	rr = env.do(authed(jsonRequest(t, http.MethodPost, "/teams", map[string]string{"subdomain": "acme"}), token, ""))
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate team status = %d", rr.Code)
	}
	if got := errorBody(t, rr); got != "subdomain already taken" {
		t.Fatalf("unexpected error %q", got)
	}

	rr = env.do(authed(jsonRequest(t, http.MethodPost, "/teams", map[string]string{"subdomain": "Bad!"}), token, ""))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid subdomain status = %d", rr.Code)
	}
}

func TestCreateTeamRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(jsonRequest(t, http.MethodPost, "/teams", map[string]string{"subdomain": "acme"}))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := errorBody(t, rr); got != "authentication required" {
		t.Fatalf("unexpected error %q", got)
	}

	req := jsonRequest(t, http.MethodPost, "/teams", map[string]string{"subdomain": "acme"})
	req.Header.Set("Authorization", "Bearer garbage")
	rr = env.do(req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := errorBody(t, rr); got != "authentication failed" {
		t.Fatalf("unexpected error %q", got)
	}
}

func TestTeamAvailableEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/teams/available?subdomain=acme", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var payload map[string]bool
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !payload["available"] {
		t.Fatal("expected unused subdomain to be available")
	}

	env.seedTeam(t, "acme")
	rr = env.do(httptest.NewRequest(http.MethodGet, "/teams/available?subdomain=acme", nil))
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["available"] {
		t.Fatal("expected taken subdomain to be unavailable")
	}

	rr = env.do(httptest.NewRequest(http.MethodGet, "/teams/available", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing param status = %d", rr.Code)
	}
}

func TestCurrentTeamResolvesTenant(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.seedUser(t, "owner@example.com")
	seeded := env.seedTeam(t, "acme", user.Email)

	req := authed(httptest.NewRequest(http.MethodGet, "/teams/current", nil), token, "https://acme.example.com")
	rr := env.do(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var current struct {
		ID        int64
		Subdomain string
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &current); err != nil {
		t.Fatalf("decode team: %v", err)
	}
	if current.ID != seeded.ID || current.Subdomain != "acme" {
		t.Fatalf("unexpected team payload: %s", rr.Body.String())
	}
}

func TestCurrentTeamDeniesNonMember(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seedUser(t, "stranger@example.com")
	env.seedTeam(t, "acme", "owner@example.com")

	req := authed(httptest.NewRequest(http.MethodGet, "/teams/current", nil), token, "https://acme.example.com")
	rr := env.do(req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Fatalf("expected empty body, got %q", rr.Body.String())
	}
}

func TestCurrentTeamWithoutOriginLacksTenant(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.seedUser(t, "owner@example.com")
	env.seedTeam(t, "acme", user.Email)

	rr := env.do(authed(httptest.NewRequest(http.MethodGet, "/teams/current", nil), token, ""))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Fatalf("expected empty body, got %q", rr.Body.String())
	}

	rr = env.do(authed(httptest.NewRequest(http.MethodGet, "/teams/current", nil), token, "https://www.example.com"))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("reserved label status = %d", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Fatalf("expected empty body, got %q", rr.Body.String())
	}
}

func TestUpdateTeamURLEndpoint(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.seedUser(t, "owner@example.com")
	seeded := env.seedTeam(t, "acme", user.Email)

	req := authed(jsonRequest(t, http.MethodPost, "/teams/url", map[string]string{"newURL": "acme-inc"}), token, "https://acme.example.com")
	rr := env.do(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var updated struct {
		ID        int64
		Subdomain string
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode team: %v", err)
	}
	if updated.ID != seeded.ID || updated.Subdomain != "acme-inc" {
		t.Fatalf("unexpected team payload: %s", rr.Body.String())
	}

	if _, err := env.teams.GetTeamBySubdomain(context.Background(), "acme-inc"); err != nil {
		t.Fatalf("renamed team not resolvable: %v", err)
	}
}

func TestUpdateTeamURLValidation(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.seedUser(t, "owner@example.com")
	env.seedTeam(t, "acme", user.Email)

	cases := []struct {
		name    string
		body    any
		wantErr string
	}{
		{"missing field", map[string]string{}, "newURL is required"},
		{"empty", map[string]string{"newURL": ""}, "newURL is required"},
		{"uppercase", map[string]string{"newURL": "Acme"}, "newURL may only contain characters in [0-9a-z-]"},
		{"whitespace", map[string]string{"newURL": " "}, "newURL may only contain characters in [0-9a-z-]"},
		{"dots", map[string]string{"newURL": "acme.io"}, "newURL may only contain characters in [0-9a-z-]"},
		{"non-string", map[string]any{"newURL": 42}, "newURL must be a string"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := authed(jsonRequest(t, http.MethodPost, "/teams/url", tc.body), token, "https://acme.example.com")
			rr := env.do(req)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
			}
			if got := errorBody(t, rr); got != tc.wantErr {
				t.Fatalf("error = %q, want %q", got, tc.wantErr)
			}
		})
	}

	if _, err := env.teams.GetTeamBySubdomain(context.Background(), "acme"); err != nil {
		t.Fatalf("team should be untouched after rejected updates: %v", err)
	}
}

func TestIntegrationSaveReturnsEmptyBody(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.seedUser(t, "owner@example.com")
	seeded := env.seedTeam(t, "acme", user.Email)

	req := authed(jsonRequest(t, http.MethodPost, "/integration/save", map[string]any{
		"name":           "Twilio",
		"authentication": map[string]string{"accountSid": "AC123", "authToken": "super-secret"},
		"providers":      []string{"sms"},
	}), token, "https://acme.example.com")
	rr := env.do(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if rr.Body.Len() != 0 {
		t.Fatalf("expected empty body, got %q", rr.Body.String())
	}

	stored, err := env.integrations.GetIntegration(context.Background(), seeded.ID, "twilio")
	if err != nil {
		t.Fatalf("integration not stored: %v", err)
	}
	if bytes.Contains(stored.Credentials, []byte("super-secret")) {
		t.Fatal("expected credentials stored encrypted")
	}
}

func TestIntegrationSaveDuplicate(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.seedUser(t, "owner@example.com")
	env.seedTeam(t, "acme", user.Email)

	payload := map[string]any{
		"name":           "twilio",
		"authentication": map[string]string{"authToken": "tok"},
	}
	rr := env.do(authed(jsonRequest(t, http.MethodPost, "/integration/save", payload), token, "https://acme.example.com"))
	if rr.Code != http.StatusOK {
		t.Fatalf("first save status = %d, body %s", rr.Code, rr.Body.String())
	}

	rr = env.do(authed(jsonRequest(t, http.MethodPost, "/integration/save", payload), token, "https://acme.example.com"))
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate save status = %d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != `{"error":"duplicate"}` {
		t.Fatalf("unexpected body %q", got)
	}
}

func TestIntegrationSaveStoreFailure(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.seedUser(t, "owner@example.com")
	env.seedTeam(t, "acme", user.Email)
	env.integrations.createErr = errors.New("connection reset")

	req := authed(jsonRequest(t, http.MethodPost, "/integration/save", map[string]any{
		"name":           "twilio",
		"authentication": map[string]string{"authToken": "tok"},
	}), token, "https://acme.example.com")
	rr := env.do(req)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Fatalf("expected empty body, got %q", rr.Body.String())
	}
}

func TestIntegrationSaveWithoutTenant(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seedUser(t, "owner@example.com")

	req := authed(jsonRequest(t, http.MethodPost, "/integration/save", map[string]any{
		"name":           "twilio",
		"authentication": map[string]string{"authToken": "tok"},
	}), token, "")
	rr := env.do(req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Fatalf("expected empty body, got %q", rr.Body.String())
	}
}

func TestIntegrationListEndpoint(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.seedUser(t, "owner@example.com")
	env.seedTeam(t, "acme", user.Email)

	rr := env.do(authed(jsonRequest(t, http.MethodPost, "/integration/save", map[string]any{
		"name":           "twilio",
		"authentication": map[string]string{"authToken": "tok"},
		"providers":      []string{"sms", "voice"},
	}), token, "https://acme.example.com"))
	if rr.Code != http.StatusOK {
		t.Fatalf("save status = %d", rr.Code)
	}

	rr = env.do(authed(httptest.NewRequest(http.MethodGet, "/integrations", nil), token, "https://acme.example.com"))
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d, body %s", rr.Code, rr.Body.String())
	}
	var connections []struct {
		Name      string   `json:"name"`
		Providers []string `json:"providers"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &connections); err != nil {
		t.Fatalf("decode connections: %v", err)
	}
	if len(connections) != 1 || connections[0].Name != "twilio" || len(connections[0].Providers) != 2 {
		t.Fatalf("unexpected connections: %s", rr.Body.String())
	}
	if strings.Contains(rr.Body.String(), "tok") {
		t.Fatalf("list leaks credential material: %s", rr.Body.String())
	}
}

func TestSubscriptionEndpoint(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.seedUser(t, "owner@example.com")
	seeded := env.seedTeam(t, "acme", user.Email)

	rr := env.do(authed(httptest.NewRequest(http.MethodGet, "/billing/subscription", nil), token, "https://acme.example.com"))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var payload map[string]bool
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["active"] {
		t.Fatal("expected team without billing customer to be inactive")
	}
	if env.billing.callCount() != 0 {
		t.Fatal("billing should not be contacted without a customer reference")
	}

	customer := "cus_123"
	if _, err := env.teams.UpdateTeamCustomerID(context.Background(), seeded.ID, &customer); err != nil {
		t.Fatalf("set customer: %v", err)
	}
	env.billing.active = true

	rr = env.do(authed(httptest.NewRequest(http.MethodGet, "/billing/subscription", nil), token, "https://acme.example.com"))
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !payload["active"] {
		t.Fatal("expected active subscription")
	}
	if env.billing.callCount() != 1 {
		t.Fatalf("expected one billing call, got %d", env.billing.callCount())
	}
}

func TestRateLimitExceeded(t *testing.T) {
	env := newTestEnv(t)
	window := time.Now().Add(time.Minute)
	env.limiter.allowFn = func(_ string, limit int, _ time.Duration) rateDecision {
		return rateDecision{allowed: false, count: limit, windowEnd: window}
	}

	rr := env.do(jsonRequest(t, http.MethodPost, "/auth/signup", map[string]string{
		"email":    "owner@example.com",
		"password": "hunter22",
	}))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := errorBody(t, rr); got != "rate limit exceeded" {
		t.Fatalf("unexpected error %q", got)
	}
	if rr.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("unexpected remaining header %q", rr.Header().Get("X-RateLimit-Remaining"))
	}

	call, ok := env.limiter.lastCall()
	if !ok {
		t.Fatal("expected limiter to be consulted")
	}
	if call.limit != rateLimitSignup || !strings.HasPrefix(call.key, "ip:") {
		t.Fatalf("unexpected limiter call %+v", call)
	}
}

func TestAuthedRoutesUseUserRateKey(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.seedUser(t, "owner@example.com")
	env.seedTeam(t, "acme", user.Email)

	rr := env.do(authed(httptest.NewRequest(http.MethodGet, "/teams/current", nil), token, "https://acme.example.com"))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	call, ok := env.limiter.lastCall()
	if !ok {
		t.Fatal("expected limiter to be consulted")
	}
	if call.key != "user:"+user.ID {
		t.Fatalf("unexpected rate key %q", call.key)
	}
	if call.limit != rateLimitUserRead {
		t.Fatalf("unexpected limit %d", call.limit)
	}
}

func TestHealthzEndpoint(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	authSvc := auth.New(newUserRepoStub(), log, config.AuthConfig{JWTSecret: testJWTSecret, AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	teamSvc := team.New(newTeamRepoStub(), newUserRepoStub(), &billingStub{}, log)
	integrationSvc := integration.New(&integrationRepoStub{}, log, config.CryptoConfig{CredentialsKey: testCredentialsKey})
	degraded := NewRouter(log, authSvc, teamSvc, integrationSvc, &rateLimiterStub{}, func(context.Context) error {
		return errors.New("connection refused")
	})
	t.Cleanup(degraded.Close)

	rr = httptest.NewRecorder()
	degraded.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "degraded") {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/auth/signup", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rr.Code)
	}
}
