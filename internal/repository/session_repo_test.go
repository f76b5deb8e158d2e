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

// TestSessionRepository_Read verifies token lookup, including the unknown-token case.
func TestSessionRepository_Read(t *testing.T) {
	token := uuid.New()

	tests := []struct {
		name          string
		mockSetup     func(pgxmock.PgxPoolIface)
		expectMapping bool
	}{
		{
			name: "known token",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				rows := pgxmock.NewRows([]string{"token", "signer_id", "collection_id", "jwt", "auth_token", "created_at"}).
					AddRow(token, signerID, collectionID, "signed.jwt.value", "", testTime)
				mock.ExpectQuery("SELECT token, signer_id, collection_id(.+)FROM signer_token_mappings(.+)WHERE token").
					WithArgs(token).
					WillReturnRows(rows)
			},
			expectMapping: true,
		},
		{
			name: "unknown token",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("FROM signer_token_mappings").
					WithArgs(token).
					WillReturnError(pgx.ErrNoRows)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			// Arrange
			tt.mockSetup(mock)

			// Act
			m, err := repository.NewSessionRepository(mock).Read(context.Background(), token)

			// Assert
			require.NoError(t, err)
			if tt.expectMapping {
				require.NotNil(t, m)
				assert.Equal(t, signerID, m.SignerID)
				assert.Equal(t, collectionID, m.CollectionID)
				assert.False(t, m.Authenticated())
			} else {
				assert.Nil(t, m)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

// TestSessionRepository_Create verifies a new mapping supersedes the signer's previous one.
func TestSessionRepository_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	m := &models.SignerTokenMapping{Token: uuid.New(), SignerID: signerID, CollectionID: collectionID, JWT: "jwt"}

	mock.ExpectQuery("INSERT INTO signer_token_mappings(.+)ON CONFLICT \\(signer_id\\) DO UPDATE").
		WithArgs(m.Token, signerID, collectionID, "jwt", "").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(testTime))

	err = repository.NewSessionRepository(mock).Create(context.Background(), m)

	assert.NoError(t, err)
	assert.Equal(t, testTime, m.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_Update(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	m := &models.SignerTokenMapping{Token: uuid.New(), SignerID: signerID, JWT: "jwt", AuthToken: "auth"}

	mock.ExpectExec("UPDATE signer_token_mappings SET jwt").
		WithArgs("jwt", "auth", m.Token).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = repository.NewSessionRepository(mock).Update(context.Background(), m)

	assert.Error(t, err, "updating a superseded mapping must fail")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_Delete(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	token := uuid.New()
	mock.ExpectExec("DELETE FROM signer_token_mappings WHERE token").
		WithArgs(token).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM signer_token_mappings WHERE collection_id").
		WithArgs(collectionID).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	repo := repository.NewSessionRepository(mock)

	assert.NoError(t, repo.Delete(context.Background(), token))
	assert.NoError(t, repo.DeleteByCollection(context.Background(), collectionID))
	assert.NoError(t, mock.ExpectationsWereMet())
}
