// Package credentials implements the service layer between the HTTP handlers
// and the provider client, secret storage, and repositories. All plaintext
// secret handling happens here: secrets are decrypted just long enough to
// call the provider or build a reveal response, and are never logged or
// persisted unencrypted.
package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/assetdock/assetdock/internal/bitwarden"
	"github.com/assetdock/assetdock/internal/crypto"
	"github.com/assetdock/assetdock/internal/db/models"
	"github.com/assetdock/assetdock/internal/db/repositories"
	"github.com/assetdock/assetdock/internal/telemetry"
)

// tokenStaleMargin is how close to expiry a stored access token may get
// before it is refreshed ahead of use. A token expiring in under five
// minutes could lapse mid-operation.
const tokenStaleMargin = 5 * time.Minute

// RevealTTLSeconds is the advisory lifetime attached to every revealed
// credential. The server does not track or invalidate revealed values;
// auto-hiding after the TTL is the presentation layer's responsibility.
const RevealTTLSeconds = 30

// ConnectionStore is the persistence surface for provider connections,
// implemented by repositories.ConnectionRepository.
type ConnectionStore interface {
	Upsert(ctx context.Context, conn *models.ProviderConnection) error
	Get(ctx context.Context, userID, provider string) (*models.ProviderConnection, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.ProviderConnection, error)
	List(ctx context.Context, userID string) ([]*models.ConnectionSummary, error)
	Delete(ctx context.Context, userID, provider string) error
	UpdateToken(ctx context.Context, id uuid.UUID, accessTokenEncrypted string, expiresAt time.Time) error
}

// MappingStore is the persistence surface for asset-credential mappings,
// implemented by repositories.MappingRepository.
type MappingStore interface {
	Upsert(ctx context.Context, m *models.CredentialMapping) error
	List(ctx context.Context, userID string, filters repositories.MappingFilters) ([]*models.CredentialMapping, error)
	Delete(ctx context.Context, userID string, id uuid.UUID) error
}

// ProviderClient is the provider API surface the service depends on,
// implemented by bitwarden.Client.
type ProviderClient interface {
	ExchangeClientCredentials(ctx context.Context, clientID, clientSecret, scope string) (*bitwarden.TokenGrant, error)
	ListItems(ctx context.Context, accessToken string) ([]bitwarden.Item, error)
	GetItem(ctx context.Context, accessToken, itemID string) (*bitwarden.Item, error)
}

// Service implements the credential integration operations.
type Service struct {
	connections ConnectionStore
	mappings    MappingStore
	box         *crypto.SecretBox
	provider    ProviderClient

	now func() time.Time
}

// NewService creates the credentials service.
func NewService(connections ConnectionStore, mappings MappingStore, box *crypto.SecretBox, provider ProviderClient) *Service {
	return &Service{
		connections: connections,
		mappings:    mappings,
		box:         box,
		provider:    provider,
		now:         time.Now,
	}
}

// Connect validates the supplied client credentials against the provider and
// stores the connection. A user reconnecting to the same provider replaces
// their stored secrets in place. Nothing is persisted when the exchange
// fails.
func (s *Service) Connect(ctx context.Context, userID, provider, clientID, clientSecret string) (*models.ProviderConnection, error) {
	scope := bitwarden.ScopeForClientID(clientID)

	grant, err := s.provider.ExchangeClientCredentials(ctx, clientID, clientSecret, scope)
	if err != nil {
		telemetry.ProviderErrorsTotal.WithLabelValues("exchange").Inc()
		return nil, err
	}

	clientIDEnc, err := s.box.Encrypt(clientID)
	if err != nil {
		return nil, fmt.Errorf("encrypting client id: %w", err)
	}
	clientSecretEnc, err := s.box.Encrypt(clientSecret)
	if err != nil {
		return nil, fmt.Errorf("encrypting client secret: %w", err)
	}
	tokenEnc, err := s.box.Encrypt(grant.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypting access token: %w", err)
	}

	conn := &models.ProviderConnection{
		UserID:                userID,
		Provider:              provider,
		ClientIDEncrypted:     clientIDEnc,
		ClientSecretEncrypted: clientSecretEnc,
		AccessTokenEncrypted:  tokenEnc,
		TokenExpiresAt:        s.now().Add(time.Duration(grant.ExpiresIn) * time.Second),
	}

	if err := s.connections.Upsert(ctx, conn); err != nil {
		return nil, fmt.Errorf("storing connection: %w", err)
	}

	slog.Info("credential provider connected", "user_id", userID, "provider", provider, "scope", scope)
	return conn, nil
}

// Disconnect removes the user's connection for a provider. Disconnecting
// when no connection exists is a no-op. Mappings referencing the connection
// are removed by the schema's cascade.
func (s *Service) Disconnect(ctx context.Context, userID, provider string) error {
	if err := s.connections.Delete(ctx, userID, provider); err != nil {
		return fmt.Errorf("deleting connection: %w", err)
	}
	slog.Info("credential provider disconnected", "user_id", userID, "provider", provider)
	return nil
}

// Connections lists the user's connections without any secret fields.
func (s *Service) Connections(ctx context.Context, userID string) ([]*models.ConnectionSummary, error) {
	return s.connections.List(ctx, userID)
}

// Items lists the login-type vault items visible through the user's
// connection, refreshing the stored access token first if it is stale. The
// owning connection's id is returned alongside the items so callers can link
// an item without a second lookup.
func (s *Service) Items(ctx context.Context, userID, provider string) ([]bitwarden.Item, uuid.UUID, error) {
	conn, err := s.connections.Get(ctx, userID, provider)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("loading connection: %w", err)
	}
	if conn == nil {
		return nil, uuid.Nil, ErrNotConnected
	}

	token, err := s.ensureFreshAccessToken(ctx, conn)
	if err != nil {
		return nil, uuid.Nil, err
	}

	items, err := s.provider.ListItems(ctx, token)
	if err != nil {
		telemetry.ProviderErrorsTotal.WithLabelValues("list_items").Inc()
		return nil, uuid.Nil, err
	}
	return items, conn.ID, nil
}

// LinkItemParams describes one item-to-asset link request.
type LinkItemParams struct {
	ConnectionID     uuid.UUID
	ProviderItemID   string
	ProviderItemName *string
	ProviderItemURL  *string
	AssetType        string
	AssetID          string
}

// LinkItem associates a vault item with a documented asset. Linking the same
// (connection, item, asset) again refreshes the display fields on the
// existing mapping. The referenced connection must belong to the caller.
func (s *Service) LinkItem(ctx context.Context, userID string, p LinkItemParams) (*models.CredentialMapping, error) {
	conn, err := s.connections.GetByID(ctx, p.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("loading connection: %w", err)
	}
	if conn == nil || conn.UserID != userID {
		return nil, ErrConnectionNotFound
	}

	m := &models.CredentialMapping{
		UserID:           userID,
		ConnectionID:     p.ConnectionID,
		ProviderItemID:   p.ProviderItemID,
		ProviderItemName: p.ProviderItemName,
		ProviderItemURL:  p.ProviderItemURL,
		AssetType:        p.AssetType,
		AssetID:          p.AssetID,
	}
	if err := s.mappings.Upsert(ctx, m); err != nil {
		return nil, fmt.Errorf("storing mapping: %w", err)
	}
	return m, nil
}

// Mappings lists the user's mappings, optionally filtered by asset.
func (s *Service) Mappings(ctx context.Context, userID string, filters repositories.MappingFilters) ([]*models.CredentialMapping, error) {
	return s.mappings.List(ctx, userID, filters)
}

// Unlink removes a mapping owned by the caller. An unknown id, or one owned
// by another user, is a no-op.
func (s *Service) Unlink(ctx context.Context, userID string, mappingID uuid.UUID) error {
	return s.mappings.Delete(ctx, userID, mappingID)
}

// RevealedCredential is the ephemeral plaintext view of a vault item. It is
// never persisted. ExpiresInSeconds is advisory: the caller is expected to
// hide the value after the TTL; the server does not enforce it.
type RevealedCredential struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Username         *string `json:"username"`
	Password         *string `json:"password"`
	URL              *string `json:"url"`
	Notes            *string `json:"notes"`
	ExpiresInSeconds int     `json:"expiresInSeconds"`
}

// Reveal fetches a vault item's secret fields for time-boxed display. Every
// successful reveal is recorded in the operational log before the value is
// returned, unconditionally.
func (s *Service) Reveal(ctx context.Context, userID, provider, itemID string) (*RevealedCredential, error) {
	conn, err := s.connections.Get(ctx, userID, provider)
	if err != nil {
		return nil, fmt.Errorf("loading connection: %w", err)
	}
	if conn == nil {
		return nil, ErrNotConnected
	}

	token, err := s.ensureFreshAccessToken(ctx, conn)
	if err != nil {
		return nil, err
	}

	item, err := s.provider.GetItem(ctx, token, itemID)
	if err != nil {
		telemetry.ProviderErrorsTotal.WithLabelValues("get_item").Inc()
		return nil, err
	}

	slog.Info("credential revealed",
		"user_id", userID,
		"item_id", itemID,
		"provider", provider,
		"revealed_at", s.now().UTC().Format(time.RFC3339),
	)
	telemetry.CredentialRevealsTotal.WithLabelValues(provider).Inc()

	return &RevealedCredential{
		ID:               item.ID,
		Name:             item.Name,
		Username:         item.Username(),
		Password:         item.Password(),
		URL:              item.PrimaryURI(),
		Notes:            item.Notes,
		ExpiresInSeconds: RevealTTLSeconds,
	}, nil
}

// ensureFreshAccessToken returns a usable plaintext access token for the
// connection, refreshing and persisting it first when the stored one expires
// within tokenStaleMargin.
//
// Refresh is not serialized across replicas: two instances refreshing the
// same connection both obtain valid tokens and the last write wins, which is
// harmless. On refresh failure nothing is written, so a later attempt starts
// from the same stored state.
func (s *Service) ensureFreshAccessToken(ctx context.Context, conn *models.ProviderConnection) (string, error) {
	if conn.TokenExpiresAt.Sub(s.now()) >= tokenStaleMargin {
		token, err := s.box.Decrypt(conn.AccessTokenEncrypted)
		if err != nil {
			return "", fmt.Errorf("decrypting access token: %w", err)
		}
		return token, nil
	}

	clientID, err := s.box.Decrypt(conn.ClientIDEncrypted)
	if err != nil {
		return "", fmt.Errorf("decrypting client id: %w", err)
	}
	clientSecret, err := s.box.Decrypt(conn.ClientSecretEncrypted)
	if err != nil {
		return "", fmt.Errorf("decrypting client secret: %w", err)
	}

	// TODO: refresh always requests the personal scope, so organization
	// connections come back with narrower privileges than the original
	// grant until the user reconnects. Decide whether refresh should reuse
	// ScopeForClientID before adding a second organization-scoped feature.
	grant, err := s.provider.ExchangeClientCredentials(ctx, clientID, clientSecret, bitwarden.ScopeAPI)
	if err != nil {
		telemetry.TokenRefreshesTotal.WithLabelValues("failure").Inc()
		return "", fmt.Errorf("%w: %v", ErrTokenRefreshFailed, err)
	}

	tokenEnc, err := s.box.Encrypt(grant.AccessToken)
	if err != nil {
		return "", fmt.Errorf("encrypting refreshed token: %w", err)
	}

	expiresAt := s.now().Add(time.Duration(grant.ExpiresIn) * time.Second)
	if err := s.connections.UpdateToken(ctx, conn.ID, tokenEnc, expiresAt); err != nil {
		telemetry.TokenRefreshesTotal.WithLabelValues("failure").Inc()
		return "", fmt.Errorf("%w: persisting refreshed token: %v", ErrTokenRefreshFailed, err)
	}

	conn.AccessTokenEncrypted = tokenEnc
	conn.TokenExpiresAt = expiresAt
	telemetry.TokenRefreshesTotal.WithLabelValues("success").Inc()

	return grant.AccessToken, nil
}
