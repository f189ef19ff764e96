// Package credentials exposes the credential-provider integration endpoints:
// connecting a vault provider, browsing its items, linking items to
// documented assets, and time-boxed reveals.
package credentials

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/assetdock/assetdock/internal/bitwarden"
	"github.com/assetdock/assetdock/internal/credentials"
	"github.com/assetdock/assetdock/internal/db/models"
	"github.com/assetdock/assetdock/internal/db/repositories"
	"github.com/assetdock/assetdock/internal/middleware"
)

// Handlers holds the dependencies for the credential endpoints.
type Handlers struct {
	service *credentials.Service
	audits  *repositories.AuditRepository
}

// NewHandlers creates the credential endpoint handlers.
func NewHandlers(service *credentials.Service, audits *repositories.AuditRepository) *Handlers {
	return &Handlers{service: service, audits: audits}
}

// RegisterRoutes mounts the credential endpoints on an authenticated group.
func (h *Handlers) RegisterRoutes(rg *gin.RouterGroup) {
	creds := rg.Group("/credentials")
	{
		creds.POST("/connect", h.Connect)
		creds.GET("/connect", h.ListConnections)
		creds.DELETE("/disconnect", h.Disconnect)
		creds.GET("/items", h.ListItems)
		creds.POST("/mappings", h.CreateMapping)
		creds.GET("/mappings", h.ListMappings)
		creds.DELETE("/mappings", h.DeleteMapping)
		creds.POST("/reveal", h.Reveal)
		creds.GET("/audit", h.ListAuditHistory)
	}
}

// providerOrDefault normalizes the optional provider field.
func providerOrDefault(provider string) string {
	if provider == "" {
		return models.ProviderBitwarden
	}
	return provider
}

// handleServiceError translates service-layer sentinel errors into HTTP
// responses. Provider-side detail is logged, never returned: response bodies
// must not echo anything derived from stored secrets.
func handleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, bitwarden.ErrInvalidCredentials):
		slog.Warn("provider rejected credentials", "user_id", middleware.GetUserID(c), "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Provider rejected the supplied credentials"})
	case errors.Is(err, credentials.ErrConnectionNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid connection"})
	case errors.Is(err, credentials.ErrNotConnected):
		c.JSON(http.StatusNotFound, gin.H{"error": "No connection for this provider"})
	case errors.Is(err, credentials.ErrTokenRefreshFailed), errors.Is(err, bitwarden.ErrProviderUnavailable):
		slog.Error("credential provider unavailable", "user_id", middleware.GetUserID(c), "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Credential provider is unavailable"})
	default:
		slog.Error("credential operation failed", "user_id", middleware.GetUserID(c), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

type connectRequest struct {
	ClientID     string `json:"clientId" binding:"required"`
	ClientSecret string `json:"clientSecret" binding:"required"`
	Provider     string `json:"provider"`
}

// Connect validates client credentials against the provider and stores the
// encrypted connection. Reconnecting replaces the stored secrets in place.
func (h *Handlers) Connect(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "clientId and clientSecret are required"})
		return
	}

	userID := middleware.GetUserID(c)
	provider := providerOrDefault(req.Provider)

	conn, err := h.service.Connect(c.Request.Context(), userID, provider, req.ClientID, req.ClientSecret)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.Set(middleware.AuditResourceTypeKey, "provider_connection")
	c.Set(middleware.AuditResourceIDKey, conn.ID.String())

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"connection": gin.H{
			"id":           conn.ID,
			"provider":     conn.Provider,
			"connected_at": conn.CreatedAt,
		},
	})
}

// ListConnections returns the caller's connections without secret fields.
func (h *Handlers) ListConnections(c *gin.Context) {
	userID := middleware.GetUserID(c)

	summaries, err := h.service.Connections(c.Request.Context(), userID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"connections": summaries})
}

// Disconnect removes the caller's connection for a provider. Disconnecting a
// provider that was never connected succeeds.
func (h *Handlers) Disconnect(c *gin.Context) {
	userID := middleware.GetUserID(c)
	provider := providerOrDefault(c.Query("provider"))

	if err := h.service.Disconnect(c.Request.Context(), userID, provider); err != nil {
		handleServiceError(c, err)
		return
	}

	c.Set(middleware.AuditResourceTypeKey, "provider_connection")
	c.Set(middleware.AuditResourceIDKey, provider)

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// vaultItemResponse is the non-secret projection of a vault item returned by
// the items listing. Passwords are only ever returned by Reveal.
type vaultItemResponse struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Username *string `json:"username"`
	URL      *string `json:"url"`
	FolderID *string `json:"folderId"`
}

// ListItems lists the login-type items visible through the caller's
// connection.
func (h *Handlers) ListItems(c *gin.Context) {
	userID := middleware.GetUserID(c)
	provider := providerOrDefault(c.Query("provider"))

	items, connectionID, err := h.service.Items(c.Request.Context(), userID, provider)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	out := make([]vaultItemResponse, 0, len(items))
	for i := range items {
		item := &items[i]
		out = append(out, vaultItemResponse{
			ID:       item.ID,
			Name:     item.Name,
			Username: item.Username(),
			URL:      item.PrimaryURI(),
			FolderID: item.FolderID,
		})
	}

	// connection_id lets the caller build a mapping request without a second
	// connections lookup.
	c.JSON(http.StatusOK, gin.H{"items": out, "connection_id": connectionID})
}

type createMappingRequest struct {
	ConnectionID     string  `json:"connectionId" binding:"required"`
	ProviderItemID   string  `json:"providerItemId" binding:"required"`
	ProviderItemName *string `json:"providerItemName"`
	ProviderItemURL  *string `json:"providerItemUrl"`
	AssetType        string  `json:"assetType" binding:"required"`
	AssetID          string  `json:"assetId" binding:"required"`
}

// CreateMapping links a vault item to a documented asset. Linking the same
// item to the same asset again refreshes the stored display fields.
func (h *Handlers) CreateMapping(c *gin.Context) {
	var req createMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "connectionId, providerItemId, assetType, and assetId are required"})
		return
	}

	connectionID, err := uuid.Parse(req.ConnectionID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "connectionId must be a valid UUID"})
		return
	}

	userID := middleware.GetUserID(c)

	mapping, err := h.service.LinkItem(c.Request.Context(), userID, credentials.LinkItemParams{
		ConnectionID:     connectionID,
		ProviderItemID:   req.ProviderItemID,
		ProviderItemName: req.ProviderItemName,
		ProviderItemURL:  req.ProviderItemURL,
		AssetType:        req.AssetType,
		AssetID:          req.AssetID,
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.Set(middleware.AuditResourceTypeKey, "credential_mapping")
	c.Set(middleware.AuditResourceIDKey, mapping.ID.String())

	c.JSON(http.StatusCreated, gin.H{"success": true, "mapping": mapping})
}

// ListMappings lists the caller's mappings, optionally filtered by asset.
func (h *Handlers) ListMappings(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var filters repositories.MappingFilters
	if v := c.Query("assetType"); v != "" {
		filters.AssetType = &v
	}
	if v := c.Query("assetId"); v != "" {
		filters.AssetID = &v
	}

	mappings, err := h.service.Mappings(c.Request.Context(), userID, filters)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"mappings": mappings})
}

// DeleteMapping removes a mapping owned by the caller. Unknown or foreign ids
// are a no-op so the endpoint leaks nothing about other users' mappings.
func (h *Handlers) DeleteMapping(c *gin.Context) {
	id, err := uuid.Parse(c.Query("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a valid UUID"})
		return
	}

	userID := middleware.GetUserID(c)
	if err := h.service.Unlink(c.Request.Context(), userID, id); err != nil {
		handleServiceError(c, err)
		return
	}

	c.Set(middleware.AuditResourceTypeKey, "credential_mapping")
	c.Set(middleware.AuditResourceIDKey, id.String())

	c.JSON(http.StatusOK, gin.H{"success": true})
}

type revealRequest struct {
	ItemID   string `json:"itemId" binding:"required"`
	Provider string `json:"provider"`
}

// Reveal returns a vault item's plaintext fields for time-boxed display.
// Every successful reveal is recorded before the response is sent.
func (h *Handlers) Reveal(c *gin.Context) {
	var req revealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "itemId is required"})
		return
	}

	userID := middleware.GetUserID(c)
	provider := providerOrDefault(req.Provider)

	revealed, err := h.service.Reveal(c.Request.Context(), userID, provider, req.ItemID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.Set(middleware.AuditResourceTypeKey, "vault_item")
	c.Set(middleware.AuditResourceIDKey, req.ItemID)

	c.JSON(http.StatusOK, revealed)
}

// ListAuditHistory returns the caller's own audit trail, newest first.
func (h *Handlers) ListAuditHistory(c *gin.Context) {
	userID := middleware.GetUserID(c)

	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	offset := 0
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	entries, total, err := h.audits.ListAuditLogs(c.Request.Context(), repositories.AuditFilters{UserID: &userID}, limit, offset)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}
