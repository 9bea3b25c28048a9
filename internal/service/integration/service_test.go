package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"

	"github.com/Tyav/anymessage/internal/config"
	"github.com/Tyav/anymessage/internal/domain"
	"github.com/Tyav/anymessage/internal/repository"
)

type integrationKey struct {
	teamID int64
	name   string
}

type integrationRepoStub struct {
	mu        sync.Mutex
	stored    map[integrationKey]*domain.Integration
	createErr error
	listErr   error
}

func newIntegrationRepoStub() *integrationRepoStub {
	return &integrationRepoStub{stored: make(map[integrationKey]*domain.Integration)}
}

func (s *integrationRepoStub) CreateIntegration(_ context.Context, integration *domain.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	k := integrationKey{teamID: integration.TeamID, name: integration.Name}
	if _, exists := s.stored[k]; exists {
		return repository.ErrConflict
	}
	snapshot := *integration
	s.stored[k] = &snapshot
	return nil
}

func (s *integrationRepoStub) GetIntegration(_ context.Context, teamID int64, name string) (*domain.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	integration, ok := s.stored[integrationKey{teamID: teamID, name: name}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	snapshot := *integration
	return &snapshot, nil
}

func (s *integrationRepoStub) ListIntegrationsByTeam(_ context.Context, teamID int64) ([]domain.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []domain.Integration
	for _, integration := range s.stored {
		if integration.TeamID == teamID {
			out = append(out, *integration)
		}
	}
	return out, nil
}

func newTestService(repo *integrationRepoStub) Service {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(repo, log, config.CryptoConfig{CredentialsKey: "test-credentials-key"})
}

func TestSaveEncryptsCredentials(t *testing.T) {
	repo := newIntegrationRepoStub()
	svc := newTestService(repo)

	auth := json.RawMessage(`{"accountSid":"AC123","authToken":"secret"}`)
	err := svc.Save(context.Background(), SaveInput{
		TeamID:         1,
		Name:           " Twilio ",
		Authentication: auth,
		Providers:      []string{"SMS", "sms", " voice ", ""},
	})
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	stored, err := repo.GetIntegration(context.Background(), 1, "twilio")
	if err != nil {
		t.Fatalf("GetIntegration returned error: %v", err)
	}
	if bytes.Contains(stored.Credentials, []byte("secret")) {
		t.Fatal("expected credentials stored encrypted")
	}
	if got, want := stored.Providers, []string{"sms", "voice"}; len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("unexpected providers: %v", got)
	}

	plain, err := svc.Credentials(context.Background(), 1, "TWILIO")
	if err != nil {
		t.Fatalf("Credentials returned error: %v", err)
	}
	if !bytes.Equal(plain, auth) {
		t.Fatalf("expected decrypted payload %s, got %s", auth, plain)
	}
}

func TestSaveDuplicateNameConflicts(t *testing.T) {
	repo := newIntegrationRepoStub()
	svc := newTestService(repo)

	input := SaveInput{TeamID: 1, Name: "twilio", Authentication: json.RawMessage(`{"k":"v"}`)}
	if err := svc.Save(context.Background(), input); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	err := svc.Save(context.Background(), input)
	var se *domain.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Status != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", se.Status)
	}
	if se.Message != "duplicate" {
		t.Fatalf("expected message %q, got %q", "duplicate", se.Message)
	}
}

func TestSaveValidatesInput(t *testing.T) {
	svc := newTestService(newIntegrationRepoStub())

	err := svc.Save(context.Background(), SaveInput{TeamID: 1, Name: "  ", Authentication: json.RawMessage(`{}`)})
	var se *domain.StatusError
	if !errors.As(err, &se) || se.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank name, got %v", err)
	}

	err = svc.Save(context.Background(), SaveInput{TeamID: 1, Name: "twilio"})
	if !errors.As(err, &se) || se.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing authentication, got %v", err)
	}
}

func TestSavePassesThroughStoreErrors(t *testing.T) {
	repo := newIntegrationRepoStub()
	repo.createErr = errors.New("connection reset")
	svc := newTestService(repo)

	err := svc.Save(context.Background(), SaveInput{TeamID: 1, Name: "twilio", Authentication: json.RawMessage(`{}`)})
	if err == nil {
		t.Fatal("expected error")
	}
	var se *domain.StatusError
	if errors.As(err, &se) {
		t.Fatalf("expected plain error, got StatusError %v", se)
	}
}

func TestListOmitsCredentials(t *testing.T) {
	repo := newIntegrationRepoStub()
	svc := newTestService(repo)

	if err := svc.Save(context.Background(), SaveInput{
		TeamID:         7,
		Name:           "nexmo",
		Authentication: json.RawMessage(`{"apiKey":"k"}`),
		Providers:      []string{"sms"},
	}); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	connections, err := svc.List(context.Background(), 7)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(connections) != 1 {
		t.Fatalf("expected one connection, got %d", len(connections))
	}
	if connections[0].Name != "nexmo" {
		t.Fatalf("unexpected name %q", connections[0].Name)
	}

	body, err := json.Marshal(connections[0])
	if err != nil {
		t.Fatalf("marshal connection: %v", err)
	}
	if bytes.Contains(body, []byte("apiKey")) || bytes.Contains(body, []byte("redentials")) {
		t.Fatalf("connection payload leaks credential material: %s", body)
	}

	other, err := svc.List(context.Background(), 8)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected no connections for other team, got %d", len(other))
	}
}

func TestCredentialsMissingIntegration(t *testing.T) {
	svc := newTestService(newIntegrationRepoStub())

	_, err := svc.Credentials(context.Background(), 1, "twilio")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
