package models

import (
	"time"

	"github.com/google/uuid"
)

// CredentialMapping links one vault item to one documented business asset
// (e.g. a server, SaaS account, or domain). The same item may be linked to
// many assets; linking the same (connection, item, asset) twice is an upsert.
type CredentialMapping struct {
	ID               uuid.UUID `db:"id" json:"id"`
	UserID           string    `db:"user_id" json:"user_id"`
	ConnectionID     uuid.UUID `db:"connection_id" json:"connection_id"`
	ProviderItemID   string    `db:"provider_item_id" json:"provider_item_id"`
	ProviderItemName *string   `db:"provider_item_name" json:"provider_item_name,omitempty"`
	ProviderItemURL  *string   `db:"provider_item_url" json:"provider_item_url,omitempty"`
	AssetType        string    `db:"asset_type" json:"asset_type"`
	AssetID          string    `db:"asset_id" json:"asset_id"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}
