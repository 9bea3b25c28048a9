package repository

import (
	"context"

	"github.com/Tyav/anymessage/internal/domain"
)

// UserRepository persists users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	SetUserTeam(ctx context.Context, userID string, teamID int64) error
}

// TeamRepository manages tenant rows keyed by subdomain. Every method
// returning a *domain.Team yields a fresh snapshot scanned from the
// store; update methods persist and return in one round trip.
type TeamRepository interface {
	CreateTeam(ctx context.Context, subdomain string) (*domain.Team, error)
	GetTeamByID(ctx context.Context, id int64) (*domain.Team, error)
	GetTeamBySubdomain(ctx context.Context, subdomain string) (*domain.Team, error)
	GetTeamForUser(ctx context.Context, subdomain, email string) (*domain.Team, error)
	SubdomainTaken(ctx context.Context, subdomain string) (bool, error)
	UpdateTeamSubdomain(ctx context.Context, id int64, subdomain string) (*domain.Team, error)
	UpdateTeamCustomerID(ctx context.Context, id int64, customerID *string) (*domain.Team, error)
}

// IntegrationRepository persists provider connections.
type IntegrationRepository interface {
	CreateIntegration(ctx context.Context, integration *domain.Integration) error
	GetIntegration(ctx context.Context, teamID int64, name string) (*domain.Integration, error)
	ListIntegrationsByTeam(ctx context.Context, teamID int64) ([]domain.Integration, error)
}
