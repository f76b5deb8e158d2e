package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/avissapr/signflow/internal/database"
	"github.com/avissapr/signflow/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrUserNotFound is returned when a user lookup matches no row.
var ErrUserNotFound = errors.New("user not found")

// UserRepository handles lookups of collection owners for authentication and authorization.
//
// Database Table: users
type UserRepository struct {
	db database.Querier
}

// NewUserRepository creates a repository bound to db.
func NewUserRepository(db database.Querier) *UserRepository {
	return &UserRepository{db: db}
}

// FindByEmail retrieves a user by email address, including the password hash.
// Used by owner login to verify credentials.
//
// Returns:
//   - *models.User: User with password hash
//   - error: ErrUserNotFound if the email doesn't exist, database error otherwise
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT id, company_id, group_id, email, name, role, password_hash, created_at FROM users WHERE email = $1`
	return r.scan(r.db.QueryRow(ctx, query, email))
}

// FindByID retrieves a user by id.
func (r *UserRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `SELECT id, company_id, group_id, email, name, role, password_hash, created_at FROM users WHERE id = $1`
	return r.scan(r.db.QueryRow(ctx, query, id))
}

// Create inserts a new user. The password must already be bcrypt hashed.
//
// Side Effects: Populates user.CreatedAt with the database timestamp
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, company_id, group_id, email, name, role, password_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	return r.db.QueryRow(ctx, query,
		user.ID, user.CompanyID, user.GroupID, user.Email, user.Name, user.Role, user.PasswordHash,
	).Scan(&user.CreatedAt)
}

func (r *UserRepository) scan(row pgx.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID, &user.CompanyID, &user.GroupID, &user.Email, &user.Name, &user.Role, &user.PasswordHash, &user.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user: %w", err)
	}
	return &user, nil
}
