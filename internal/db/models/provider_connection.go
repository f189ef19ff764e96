// Package models defines the persistence types shared by the repositories
// and the service layer.
package models

import (
	"time"

	"github.com/google/uuid"
)

// ProviderBitwarden is the only credential provider currently supported. The
// provider column exists so additional vaults can be added without a schema
// change.
const ProviderBitwarden = "bitwarden"

// ProviderConnection is a user's stored link to a credential provider. All
// secret columns hold encrypted blobs; plaintext never touches this struct.
type ProviderConnection struct {
	ID                    uuid.UUID `db:"id" json:"id"`
	UserID                string    `db:"user_id" json:"user_id"`
	Provider              string    `db:"provider" json:"provider"`
	ClientIDEncrypted     string    `db:"client_id_encrypted" json:"-"`
	ClientSecretEncrypted string    `db:"client_secret_encrypted" json:"-"`
	AccessTokenEncrypted  string    `db:"access_token_encrypted" json:"-"`
	TokenExpiresAt        time.Time `db:"token_expires_at" json:"token_expires_at"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time `db:"updated_at" json:"updated_at"`
}

// ConnectionSummary is the list-view projection of a connection. It carries
// no secret columns at all, encrypted or otherwise.
type ConnectionSummary struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Provider  string    `db:"provider" json:"provider"`
	CreatedAt time.Time `db:"created_at" json:"connected_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
