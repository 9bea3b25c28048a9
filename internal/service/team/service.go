package team

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"log/slog"

	"github.com/Tyav/anymessage/internal/domain"
	"github.com/Tyav/anymessage/internal/repository"
)

// BillingChecker reports subscription state for a billing customer.
type BillingChecker interface {
	HasActiveSubscription(ctx context.Context, customerID string) (bool, error)
}

// Service handles team workflows. Operations that load or mutate a team
// return immutable snapshots reflecting the persisted row.
type Service struct {
	teams   repository.TeamRepository
	users   repository.UserRepository
	billing BillingChecker
	logger  *slog.Logger
}

// New constructs a Service.
func New(teams repository.TeamRepository, users repository.UserRepository, billing BillingChecker, logger *slog.Logger) Service {
	return Service{teams: teams, users: users, billing: billing, logger: logger}
}

var (
	errSubdomainRequired = &domain.StatusError{Status: http.StatusBadRequest, Message: "subdomain is required"}
	errSubdomainCharset  = &domain.StatusError{Status: http.StatusBadRequest, Message: "subdomain may only contain characters in [0-9a-z-]"}
	errSubdomainReserved = &domain.StatusError{Status: http.StatusBadRequest, Message: "subdomain is reserved"}
)

// SubdomainFromHost returns the leading DNS label of host.
func SubdomainFromHost(host string) string {
	host = strings.TrimSpace(host)
	if idx := strings.Index(host, "."); idx >= 0 {
		return host[:idx]
	}
	return host
}

// Available reports whether no team currently uses the subdomain.
func (s Service) Available(ctx context.Context, subdomain string) (bool, error) {
	taken, err := s.teams.SubdomainTaken(ctx, subdomain)
	if err != nil {
		return false, fmt.Errorf("check subdomain availability: %w", err)
	}
	return !taken, nil
}

// ResolveHost maps a request host to the team owning its leading label.
func (s Service) ResolveHost(ctx context.Context, host string) (*domain.Team, error) {
	return s.teams.GetTeamBySubdomain(ctx, SubdomainFromHost(host))
}

// Create registers a team under the subdomain and makes the owner a member.
func (s Service) Create(ctx context.Context, ownerID, subdomain string) (*domain.Team, error) {
	subdomain = strings.TrimSpace(subdomain)
	if err := validateSubdomain(subdomain); err != nil {
		return nil, err
	}
	team, err := s.teams.CreateTeam(ctx, subdomain)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, &domain.StatusError{Status: http.StatusConflict, Message: "subdomain already taken", Err: err}
		}
		return nil, err
	}
	if err := s.users.SetUserTeam(ctx, ownerID, team.ID); err != nil {
		return nil, err
	}
	s.logger.Info("team created", "team_id", team.ID, "subdomain", team.Subdomain, "owner_id", ownerID)
	return team, nil
}

// Get loads a team snapshot by id.
func (s Service) Get(ctx context.Context, id int64) (*domain.Team, error) {
	return s.teams.GetTeamByID(ctx, id)
}

// UpdateSubdomain persists a new subdomain and returns the fresh snapshot.
func (s Service) UpdateSubdomain(ctx context.Context, id int64, subdomain string) (*domain.Team, error) {
	subdomain = strings.TrimSpace(subdomain)
	if err := validateSubdomain(subdomain); err != nil {
		return nil, err
	}
	team, err := s.teams.UpdateTeamSubdomain(ctx, id, subdomain)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, &domain.StatusError{Status: http.StatusConflict, Message: "subdomain already taken", Err: err}
		}
		return nil, err
	}
	s.logger.Info("team subdomain updated", "team_id", team.ID, "subdomain", team.Subdomain)
	return team, nil
}

// UpdateCustomerID persists a new billing reference and returns the fresh
// snapshot. A nil customerID clears the reference.
func (s Service) UpdateCustomerID(ctx context.Context, id int64, customerID *string) (*domain.Team, error) {
	team, err := s.teams.UpdateTeamCustomerID(ctx, id, customerID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("team customer updated", "team_id", team.ID)
	return team, nil
}

// ResolveTenant joins the subdomain against the user's email and returns
// the request-scoped tenant identity. A missing join row surfaces as
// repository.ErrNotFound.
func (s Service) ResolveTenant(ctx context.Context, subdomain, email string) (*domain.TenantInfo, error) {
	team, err := s.teams.GetTeamForUser(ctx, subdomain, email)
	if err != nil {
		return nil, err
	}
	return &domain.TenantInfo{ID: team.ID, Subdomain: team.Subdomain}, nil
}

// HasActiveSubscription reports whether the team's billing customer holds
// an active subscription. Teams without a billing reference are inactive
// and the billing service is not contacted.
func (s Service) HasActiveSubscription(ctx context.Context, team *domain.Team) (bool, error) {
	customer := team.Customer()
	if customer == "" {
		return false, nil
	}
	if s.billing == nil {
		return false, errors.New("billing checker not configured")
	}
	return s.billing.HasActiveSubscription(ctx, customer)
}

func validateSubdomain(subdomain string) error {
	if subdomain == "" {
		return errSubdomainRequired
	}
	if !domain.ValidSubdomain(subdomain) {
		return errSubdomainCharset
	}
	if subdomain == domain.ReservedSubdomain {
		return errSubdomainReserved
	}
	return nil
}
