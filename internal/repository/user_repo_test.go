package repository_test

import (
	"context"
	"testing"

	"github.com/avissapr/signflow/internal/models"
	"github.com/avissapr/signflow/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userRow() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "company_id", "group_id", "email", "name", "role", "password_hash", "created_at"}).
		AddRow(userID, companyID, groupID, "owner@example.com", "Owner", "admin", "$2a$12$hash", testTime)
}

// TestUserRepository_FindByEmail tests user retrieval by email address.
func TestUserRepository_FindByEmail(t *testing.T) {
	tests := []struct {
		name          string
		mockSetup     func(pgxmock.PgxPoolIface)
		expectedError error
	}{
		{
			name: "user found",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("SELECT (.+) FROM users WHERE email").
					WithArgs("owner@example.com").
					WillReturnRows(userRow())
			},
		},
		{
			name: "user not found",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("FROM users WHERE email").
					WithArgs("owner@example.com").
					WillReturnError(pgx.ErrNoRows)
			},
			expectedError: repository.ErrUserNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			tt.mockSetup(mock)

			user, err := repository.NewUserRepository(mock).FindByEmail(context.Background(), "owner@example.com")

			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
				assert.Nil(t, user)
			} else {
				require.NoError(t, err)
				assert.Equal(t, companyID, user.CompanyID)
				assert.Equal(t, "admin", user.Role)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUserRepository_FindByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM users WHERE id").
		WithArgs(userID).
		WillReturnRows(userRow())

	user, err := repository.NewUserRepository(mock).FindByID(context.Background(), userID)

	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", user.Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestUserRepository_Create verifies a missing id is generated before insert.
func TestUserRepository_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	user := &models.User{CompanyID: companyID, GroupID: groupID, Email: "new@example.com", Name: "New", Role: "user", PasswordHash: "$2a$12$x"}

	mock.ExpectQuery("INSERT INTO users").
		WithArgs(pgxmock.AnyArg(), companyID, groupID, "new@example.com", "New", "user", "$2a$12$x").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(testTime))

	err = repository.NewUserRepository(mock).Create(context.Background(), user)

	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, user.ID)
	assert.Equal(t, testTime, user.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
