package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Tyav/anymessage/internal/domain"
	"github.com/Tyav/anymessage/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository        = (*Repository)(nil)
	_ repository.TeamRepository        = (*Repository)(nil)
	_ repository.IntegrationRepository = (*Repository)(nil)
)

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, user.ID, user.Email, user.PasswordHash, user.CreatedAt)
	return mapPgError(err)
}

// GetUserByEmail fetches a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT id, email, password_hash, team_id, created_at FROM users WHERE email = $1`
	return r.scanUser(r.pool.QueryRow(ctx, query, email))
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT id, email, password_hash, team_id, created_at FROM users WHERE id = $1`
	return r.scanUser(r.pool.QueryRow(ctx, query, id))
}

// SetUserTeam binds a user to a team.
func (r *Repository) SetUserTeam(ctx context.Context, userID string, teamID int64) error {
	const query = `UPDATE users SET team_id = $2 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, userID, teamID)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *Repository) scanUser(row pgx.Row) (*domain.User, error) {
	var (
		u      domain.User
		teamID sql.NullInt64
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &teamID, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if teamID.Valid {
		value := teamID.Int64
		u.TeamID = &value
	}
	return &u, nil
}

// CreateTeam inserts a tenant row; the store assigns the id.
func (r *Repository) CreateTeam(ctx context.Context, subdomain string) (*domain.Team, error) {
	const query = `INSERT INTO teams (subdomain)
		VALUES ($1)
		RETURNING id, subdomain, customer_id, created_at, updated_at`
	return r.scanTeam(r.pool.QueryRow(ctx, query, subdomain))
}

// GetTeamByID returns a team snapshot by identifier.
func (r *Repository) GetTeamByID(ctx context.Context, id int64) (*domain.Team, error) {
	const query = `SELECT id, subdomain, customer_id, created_at, updated_at FROM teams WHERE id = $1`
	return r.scanTeam(r.pool.QueryRow(ctx, query, id))
}

// GetTeamBySubdomain returns a team snapshot by its subdomain label.
func (r *Repository) GetTeamBySubdomain(ctx context.Context, subdomain string) (*domain.Team, error) {
	const query = `SELECT id, subdomain, customer_id, created_at, updated_at FROM teams WHERE subdomain = $1`
	return r.scanTeam(r.pool.QueryRow(ctx, query, subdomain))
}

// GetTeamForUser resolves the tenant join: the team with the given
// subdomain that the user identified by email belongs to.
func (r *Repository) GetTeamForUser(ctx context.Context, subdomain, email string) (*domain.Team, error) {
	const query = `SELECT t.id, t.subdomain, t.customer_id, t.created_at, t.updated_at
		FROM teams t
		INNER JOIN users u ON u.team_id = t.id
		WHERE t.subdomain = $1 AND u.email = $2`
	return r.scanTeam(r.pool.QueryRow(ctx, query, subdomain, email))
}

// SubdomainTaken reports whether any team row holds the subdomain.
func (r *Repository) SubdomainTaken(ctx context.Context, subdomain string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM teams WHERE subdomain = $1)`
	var taken bool
	if err := r.pool.QueryRow(ctx, query, subdomain).Scan(&taken); err != nil {
		return false, err
	}
	return taken, nil
}

// UpdateTeamSubdomain persists a new subdomain and returns the fresh snapshot.
func (r *Repository) UpdateTeamSubdomain(ctx context.Context, id int64, subdomain string) (*domain.Team, error) {
	const query = `UPDATE teams SET subdomain = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id, subdomain, customer_id, created_at, updated_at`
	return r.scanTeam(r.pool.QueryRow(ctx, query, id, subdomain))
}

// UpdateTeamCustomerID persists the billing reference; nil clears it.
func (r *Repository) UpdateTeamCustomerID(ctx context.Context, id int64, customerID *string) (*domain.Team, error) {
	const query = `UPDATE teams SET customer_id = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id, subdomain, customer_id, created_at, updated_at`
	return r.scanTeam(r.pool.QueryRow(ctx, query, id, customerID))
}

func (r *Repository) scanTeam(row pgx.Row) (*domain.Team, error) {
	var (
		t        domain.Team
		customer sql.NullString
	)
	if err := row.Scan(&t.ID, &t.Subdomain, &customer, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, mapPgError(err)
	}
	if customer.Valid {
		value := customer.String
		t.CustomerID = &value
	}
	return &t, nil
}

// CreateIntegration inserts a provider connection.
func (r *Repository) CreateIntegration(ctx context.Context, integration *domain.Integration) error {
	const query = `INSERT INTO integrations (id, team_id, name, credentials, providers, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query,
		integration.ID,
		integration.TeamID,
		integration.Name,
		integration.Credentials,
		integration.Providers,
		integration.CreatedAt,
		integration.UpdatedAt,
	)
	return mapPgError(err)
}

// GetIntegration fetches one provider connection by team and name.
func (r *Repository) GetIntegration(ctx context.Context, teamID int64, name string) (*domain.Integration, error) {
	const query = `SELECT id, team_id, name, credentials, providers, created_at, updated_at
		FROM integrations WHERE team_id = $1 AND name = $2`
	row := r.pool.QueryRow(ctx, query, teamID, name)
	var in domain.Integration
	if err := row.Scan(&in.ID, &in.TeamID, &in.Name, &in.Credentials, &in.Providers, &in.CreatedAt, &in.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &in, nil
}

// ListIntegrationsByTeam returns a team's provider connections.
func (r *Repository) ListIntegrationsByTeam(ctx context.Context, teamID int64) ([]domain.Integration, error) {
	const query = `SELECT id, team_id, name, credentials, providers, created_at, updated_at
		FROM integrations WHERE team_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	integrations := make([]domain.Integration, 0)
	for rows.Next() {
		var in domain.Integration
		if err := rows.Scan(&in.ID, &in.TeamID, &in.Name, &in.Credentials, &in.Providers, &in.CreatedAt, &in.UpdatedAt); err != nil {
			return nil, err
		}
		integrations = append(integrations, in)
	}
	return integrations, rows.Err()
}

// mapPgError translates postgres fault codes into sentinel errors so
// callers never match on driver internals.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return repository.ErrConflict
		case "23503":
			return repository.ErrNotFound
		case "23514", "22P02":
			return repository.ErrInvalidArgument
		}
	}
	return err
}
