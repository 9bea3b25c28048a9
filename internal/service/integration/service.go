package integration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/Tyav/anymessage/internal/config"
	"github.com/Tyav/anymessage/internal/domain"
	"github.com/Tyav/anymessage/internal/repository"
	"github.com/Tyav/anymessage/pkg/crypto"
)

// SaveInput encapsulates integration attributes from the request body.
type SaveInput struct {
	TeamID         int64
	Name           string
	Authentication json.RawMessage
	Providers      []string
}

// Connection describes a stored integration without credential material.
type Connection struct {
	Name      string    `json:"name"`
	Providers []string  `json:"providers"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Service persists third-party provider connections for a team.
type Service struct {
	integrations repository.IntegrationRepository
	logger       *slog.Logger
	cfg          config.CryptoConfig
}

// New returns an integration service.
func New(integrations repository.IntegrationRepository, logger *slog.Logger, cfg config.CryptoConfig) Service {
	return Service{integrations: integrations, logger: logger, cfg: cfg}
}

var (
	errNameRequired = &domain.StatusError{Status: http.StatusBadRequest, Message: "name is required"}
	errAuthRequired = &domain.StatusError{Status: http.StatusBadRequest, Message: "authentication is required"}
)

// Save encrypts the authentication payload and stores the integration
// under the tenant. Saving a name the team already uses fails with a
// conflict.
func (s Service) Save(ctx context.Context, input SaveInput) error {
	name := strings.ToLower(strings.TrimSpace(input.Name))
	if name == "" {
		return errNameRequired
	}
	if len(input.Authentication) == 0 {
		return errAuthRequired
	}
	ciphertext, err := crypto.Encrypt(s.cfg.CredentialsKey, input.Authentication)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	integration := &domain.Integration{
		ID:          uuid.NewString(),
		TeamID:      input.TeamID,
		Name:        name,
		Credentials: ciphertext,
		Providers:   normalizeProviders(input.Providers),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.integrations.CreateIntegration(ctx, integration); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return &domain.StatusError{Status: http.StatusConflict, Message: "duplicate", Err: err}
		}
		return err
	}
	s.logger.Info("integration saved", "team_id", input.TeamID, "name", name)
	return nil
}

// List returns the team's integrations for API responses.
func (s Service) List(ctx context.Context, teamID int64) ([]Connection, error) {
	stored, err := s.integrations.ListIntegrationsByTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	connections := make([]Connection, 0, len(stored))
	for _, item := range stored {
		connections = append(connections, Connection{
			Name:      item.Name,
			Providers: item.Providers,
			CreatedAt: item.CreatedAt,
			UpdatedAt: item.UpdatedAt,
		})
	}
	return connections, nil
}

// Credentials decrypts the stored authentication payload for a named
// integration. Callers sending to providers use this; it is never
// exposed over HTTP.
func (s Service) Credentials(ctx context.Context, teamID int64, name string) (json.RawMessage, error) {
	integration, err := s.integrations.GetIntegration(ctx, teamID, strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return nil, err
	}
	plain, err := crypto.Decrypt(s.cfg.CredentialsKey, integration.Credentials)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(plain), nil
}

func normalizeProviders(providers []string) []string {
	out := make([]string, 0, len(providers))
	seen := make(map[string]struct{}, len(providers))
	for _, provider := range providers {
		provider = strings.ToLower(strings.TrimSpace(provider))
		if provider == "" {
			continue
		}
		if _, ok := seen[provider]; ok {
			continue
		}
		seen[provider] = struct{}{}
		out = append(out, provider)
	}
	return out
}
