package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/assetdock/assetdock/internal/db/models"
)

// MappingRepository persists asset-to-credential mappings.
type MappingRepository struct {
	db *sqlx.DB
}

// NewMappingRepository creates a new MappingRepository.
func NewMappingRepository(db *sqlx.DB) *MappingRepository {
	return &MappingRepository{db: db}
}

// MappingFilters narrows List results. Nil fields are ignored.
type MappingFilters struct {
	AssetType *string
	AssetID   *string
}

// Upsert inserts the mapping or, when the same (connection, item, asset)
// link already exists, refreshes its display fields. On conflict the row
// keeps its original id and created_at; both are written back into m.
func (r *MappingRepository) Upsert(ctx context.Context, m *models.CredentialMapping) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO credential_mappings (
			id, user_id, connection_id, provider_item_id, provider_item_name,
			provider_item_url, asset_type, asset_id, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		) ON CONFLICT (connection_id, provider_item_id, asset_type, asset_id) DO UPDATE SET
			provider_item_name = $5, provider_item_url = $6
		RETURNING id, created_at`

	return r.db.QueryRowxContext(ctx, query,
		m.ID, m.UserID, m.ConnectionID, m.ProviderItemID, m.ProviderItemName,
		m.ProviderItemURL, m.AssetType, m.AssetID, m.CreatedAt,
	).Scan(&m.ID, &m.CreatedAt)
}

// List returns a user's mappings, optionally narrowed to one asset type or
// one specific asset.
func (r *MappingRepository) List(ctx context.Context, userID string, filters MappingFilters) ([]*models.CredentialMapping, error) {
	mappings := make([]*models.CredentialMapping, 0)

	query := `SELECT * FROM credential_mappings WHERE user_id = $1`
	args := []interface{}{userID}

	if filters.AssetType != nil {
		args = append(args, *filters.AssetType)
		query += ` AND asset_type = $2`
	}
	if filters.AssetID != nil {
		args = append(args, *filters.AssetID)
		if filters.AssetType != nil {
			query += ` AND asset_id = $3`
		} else {
			query += ` AND asset_id = $2`
		}
	}

	query += ` ORDER BY created_at DESC`

	err := r.db.SelectContext(ctx, &mappings, query, args...)
	return mappings, err
}

// Delete removes a mapping scoped to its owner. A mapping id that does not
// exist, or belongs to another user, deletes nothing and returns nil.
func (r *MappingRepository) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	query := `DELETE FROM credential_mappings WHERE id = $1 AND user_id = $2`
	_, err := r.db.ExecContext(ctx, query, id, userID)
	return err
}
