package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a member of a company group who owns document collections.
//
// Database: users table
// Security Note: PasswordHash is never exposed in API responses or logs
type User struct {
	ID           uuid.UUID `db:"id"`
	CompanyID    uuid.UUID `db:"company_id"`
	GroupID      uuid.UUID `db:"group_id"`
	Email        string    `db:"email"`
	Name         string    `db:"name"`
	Role         string    `db:"role"` // "admin" or "user"
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
}
