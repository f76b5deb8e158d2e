//go:build integration

package repository_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/avissapr/signflow/internal/database"
	"github.com/avissapr/signflow/internal/models"
	"github.com/avissapr/signflow/internal/ports"
	"github.com/avissapr/signflow/internal/repository"
	"github.com/golang-migrate/migrate/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres runs a disposable PostgreSQL, applies the migrations and returns a pool to it.
func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := startDatabase(t)
	require.NoError(t, database.RunMigrations(url, zerolog.Nop()))

	pool, err := database.Connect(context.Background(), database.Config{URL: url, MaxConns: 4, MinConns: 1}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

// startDatabase runs a disposable, empty PostgreSQL and returns its URL.
func startDatabase(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "signflow",
				"POSTGRES_PASSWORD": "signflow",
				"POSTGRES_DB":       "signflow",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate postgres: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://signflow:signflow@%s:%s/signflow?sslmode=disable", host, port.Port())
}

// seedCollection inserts a tenant, an ordered collection with one document and two signers
// sharing the document's fields.
func seedCollection(t *testing.T, pool *pgxpool.Pool) (collection uuid.UUID, first, second uuid.UUID, doc uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	company, group, user, contact, template := uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New()
	collection, first, second, doc = uuid.New(), uuid.New(), uuid.New(), uuid.New()

	stmts := []struct {
		sql  string
		args []interface{}
	}{
		{`INSERT INTO companies (id, name) VALUES ($1, 'Acme')`, []interface{}{company}},
		{`INSERT INTO groups (id, company_id, name) VALUES ($1, $2, 'Legal')`, []interface{}{group, company}},
		{`INSERT INTO users (id, company_id, group_id, email, name, password_hash) VALUES ($1, $2, $3, $4, 'Owner', 'x')`,
			[]interface{}{user, company, group, user.String() + "@example.com"}},
		{`INSERT INTO contacts (id, group_id, name, email) VALUES ($1, $2, 'Dana', 'dana@example.com')`, []interface{}{contact, group}},
		{`INSERT INTO templates (id, group_id, name) VALUES ($1, $2, 'Lease')`, []interface{}{template, group}},
		{`INSERT INTO document_collections (id, name, status, mode, user_id, group_id, company_id) VALUES ($1, 'Lease', 'Sent', $2, $3, $4, $5)`,
			[]interface{}{collection, models.OrderedGroupSign, user, group, company}},
		{`INSERT INTO documents (id, collection_id, template_id, name) VALUES ($1, $2, $3, 'lease.pdf')`, []interface{}{doc, collection, template}},
		{`INSERT INTO signers (id, collection_id, contact_id, signing_order, status) VALUES ($1, $2, $3, 0, 'Sent')`, []interface{}{first, collection, contact}},
		{`INSERT INTO signers (id, collection_id, contact_id, signing_order, status) VALUES ($1, $2, $3, 1, 'Created')`, []interface{}{second, collection, contact}},
		{`INSERT INTO signer_fields (id, signer_id, document_id, field_name, mandatory) VALUES ($1, $2, $3, 'tenant_name', TRUE)`,
			[]interface{}{uuid.New(), first, doc}},
		{`INSERT INTO signer_fields (id, signer_id, document_id, field_name, mandatory) VALUES ($1, $2, $3, 'landlord_name', TRUE)`,
			[]interface{}{uuid.New(), second, doc}},
	}
	for _, s := range stmts {
		_, err := pool.Exec(ctx, s.sql, s.args...)
		require.NoError(t, err, s.sql)
	}
	return collection, first, second, doc
}

// TestIntegration_CollectionRoundTrip writes signer state in a unit of work and reads it back.
func TestIntegration_CollectionRoundTrip(t *testing.T) {
	pool := startPostgres(t)
	collectionID, first, second, doc := seedCollection(t, pool)
	ctx := context.Background()

	uow := repository.NewUnitOfWork(pool, database.DefaultRetryPolicy(), zerolog.Nop())

	err := uow.Do(ctx, func(ctx context.Context, tx ports.Stores) error {
		c, err := tx.Collections.ReadForUpdate(ctx, collectionID)
		if err != nil {
			return err
		}
		s := c.Signer(first)
		now := time.Now().UTC()
		s.Status = models.SignerSigned
		s.TimeSigned = &now
		if err := tx.Signers.UpdateSignerStatus(ctx, s); err != nil {
			return err
		}
		return tx.Signers.UpdateSignerFields(ctx, first, []models.SignerField{
			{DocumentID: doc, FieldName: "tenant_name", FieldValue: "Dana Levi"},
			{DocumentID: doc, FieldName: "landlord_name", FieldValue: "overwritten"},
		})
	})
	require.NoError(t, err)

	c, err := uow.Stores().Collections.Read(ctx, collectionID)
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Len(t, c.Signers, 2)

	assert.Equal(t, models.SignerSigned, c.Signer(first).Status)
	assert.NotNil(t, c.Signer(first).TimeSigned)
	assert.Equal(t, "Dana Levi", c.Signer(first).Field("tenant_name").FieldValue)
	assert.Empty(t, c.Signer(second).Field("landlord_name").FieldValue, "a field owned by another signer is never overwritten")
	assert.Contains(t, c.OwnerEmail, "@example.com")
}

// TestIntegration_SessionSupersede verifies a signer keeps at most one live mapping.
func TestIntegration_SessionSupersede(t *testing.T) {
	pool := startPostgres(t)
	collectionID, first, _, _ := seedCollection(t, pool)
	ctx := context.Background()
	sessions := repository.NewSessionRepository(pool)

	old := &models.SignerTokenMapping{Token: uuid.New(), SignerID: first, CollectionID: collectionID, JWT: "old", AuthToken: "passed"}
	require.NoError(t, sessions.Create(ctx, old))
	fresh := &models.SignerTokenMapping{Token: uuid.New(), SignerID: first, CollectionID: collectionID, JWT: "new"}
	require.NoError(t, sessions.Create(ctx, fresh))

	m, err := sessions.Read(ctx, old.Token)
	require.NoError(t, err)
	assert.Nil(t, m, "the superseded token no longer resolves")

	m, err = sessions.ReadBySigner(ctx, first)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, fresh.Token, m.Token)
	assert.False(t, m.Authenticated())

	require.NoError(t, sessions.DeleteByCollection(ctx, collectionID))
	m, err = sessions.Read(ctx, fresh.Token)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestIntegration_MigrateUpAndDown(t *testing.T) {
	url := startDatabase(t)

	require.NoError(t, database.RunMigrations(url, zerolog.Nop()))
	version, dirty, err := database.MigrationVersion(url)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// applying again is a no-op
	require.NoError(t, database.RunMigrations(url, zerolog.Nop()))

	require.NoError(t, database.RollbackMigration(url, zerolog.Nop()))
	_, _, err = database.MigrationVersion(url)
	assert.ErrorIs(t, err, migrate.ErrNilVersion)
}
