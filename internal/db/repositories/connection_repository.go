// Package repositories contains the database access layer. Repositories are
// thin structs over sqlx; not-found reads return (nil, nil) rather than an
// error so the service layer decides what absence means.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/assetdock/assetdock/internal/db/models"
)

// ConnectionRepository persists provider connections.
type ConnectionRepository struct {
	db *sqlx.DB
}

// NewConnectionRepository creates a new ConnectionRepository.
func NewConnectionRepository(db *sqlx.DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

// Upsert inserts the connection or, when the user already has one for this
// provider, replaces its stored secrets in place. On conflict the row keeps
// its original id and created_at; both are written back into conn.
func (r *ConnectionRepository) Upsert(ctx context.Context, conn *models.ProviderConnection) error {
	if conn.ID == uuid.Nil {
		conn.ID = uuid.New()
	}
	now := time.Now()
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	conn.UpdatedAt = now

	query := `
		INSERT INTO provider_connections (
			id, user_id, provider, client_id_encrypted, client_secret_encrypted,
			access_token_encrypted, token_expires_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		) ON CONFLICT (user_id, provider) DO UPDATE SET
			client_id_encrypted = $4, client_secret_encrypted = $5,
			access_token_encrypted = $6, token_expires_at = $7, updated_at = $9
		RETURNING id, created_at`

	return r.db.QueryRowxContext(ctx, query,
		conn.ID, conn.UserID, conn.Provider, conn.ClientIDEncrypted,
		conn.ClientSecretEncrypted, conn.AccessTokenEncrypted,
		conn.TokenExpiresAt, conn.CreatedAt, conn.UpdatedAt,
	).Scan(&conn.ID, &conn.CreatedAt)
}

// Get retrieves a user's connection for a provider, or (nil, nil) when the
// user has none.
func (r *ConnectionRepository) Get(ctx context.Context, userID, provider string) (*models.ProviderConnection, error) {
	var conn models.ProviderConnection
	query := `SELECT * FROM provider_connections WHERE user_id = $1 AND provider = $2`
	err := r.db.GetContext(ctx, &conn, query, userID, provider)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

// GetByID retrieves a connection by primary key, or (nil, nil).
func (r *ConnectionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ProviderConnection, error) {
	var conn models.ProviderConnection
	query := `SELECT * FROM provider_connections WHERE id = $1`
	err := r.db.GetContext(ctx, &conn, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

// List returns summaries of a user's connections. The projection never
// includes secret columns.
func (r *ConnectionRepository) List(ctx context.Context, userID string) ([]*models.ConnectionSummary, error) {
	summaries := make([]*models.ConnectionSummary, 0)
	query := `
		SELECT id, provider, created_at, updated_at
		FROM provider_connections
		WHERE user_id = $1
		ORDER BY created_at DESC`
	err := r.db.SelectContext(ctx, &summaries, query, userID)
	return summaries, err
}

// Delete removes a user's connection for a provider. Deleting a connection
// that does not exist is a no-op, not an error.
func (r *ConnectionRepository) Delete(ctx context.Context, userID, provider string) error {
	query := `DELETE FROM provider_connections WHERE user_id = $1 AND provider = $2`
	_, err := r.db.ExecContext(ctx, query, userID, provider)
	return err
}

// UpdateToken overwrites the stored access token and its expiry after a
// refresh. Nothing else on the row changes.
func (r *ConnectionRepository) UpdateToken(ctx context.Context, id uuid.UUID, accessTokenEncrypted string, expiresAt time.Time) error {
	query := `
		UPDATE provider_connections
		SET access_token_encrypted = $2, token_expires_at = $3, updated_at = $4
		WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, accessTokenEncrypted, expiresAt, time.Now())
	return err
}
