package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/assetdock/assetdock/internal/bitwarden"
	"github.com/assetdock/assetdock/internal/credentials"
	"github.com/assetdock/assetdock/internal/crypto"
	"github.com/assetdock/assetdock/internal/db/models"
	"github.com/assetdock/assetdock/internal/db/repositories"
	"github.com/assetdock/assetdock/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---------------------------------------------------------------------------
// In-memory stores and a scripted provider client
// ---------------------------------------------------------------------------

type fakeConnStore struct {
	conns map[uuid.UUID]*models.ProviderConnection
}

func newFakeConnStore() *fakeConnStore {
	return &fakeConnStore{conns: make(map[uuid.UUID]*models.ProviderConnection)}
}

func (s *fakeConnStore) Upsert(ctx context.Context, conn *models.ProviderConnection) error {
	for _, existing := range s.conns {
		if existing.UserID == conn.UserID && existing.Provider == conn.Provider {
			conn.ID = existing.ID
			conn.CreatedAt = existing.CreatedAt
			s.conns[conn.ID] = conn
			return nil
		}
	}
	conn.ID = uuid.New()
	conn.CreatedAt = time.Now().UTC()
	s.conns[conn.ID] = conn
	return nil
}

func (s *fakeConnStore) Get(ctx context.Context, userID, provider string) (*models.ProviderConnection, error) {
	for _, c := range s.conns {
		if c.UserID == userID && c.Provider == provider {
			return c, nil
		}
	}
	return nil, nil
}

func (s *fakeConnStore) GetByID(ctx context.Context, id uuid.UUID) (*models.ProviderConnection, error) {
	return s.conns[id], nil
}

func (s *fakeConnStore) List(ctx context.Context, userID string) ([]*models.ConnectionSummary, error) {
	out := []*models.ConnectionSummary{}
	for _, c := range s.conns {
		if c.UserID == userID {
			out = append(out, &models.ConnectionSummary{ID: c.ID, Provider: c.Provider, CreatedAt: c.CreatedAt})
		}
	}
	return out, nil
}

func (s *fakeConnStore) Delete(ctx context.Context, userID, provider string) error {
	for id, c := range s.conns {
		if c.UserID == userID && c.Provider == provider {
			delete(s.conns, id)
		}
	}
	return nil
}

func (s *fakeConnStore) UpdateToken(ctx context.Context, id uuid.UUID, enc string, expiresAt time.Time) error {
	if c, ok := s.conns[id]; ok {
		c.AccessTokenEncrypted = enc
		c.TokenExpiresAt = expiresAt
	}
	return nil
}

type fakeMapStore struct {
	mappings map[uuid.UUID]*models.CredentialMapping
}

func newFakeMapStore() *fakeMapStore {
	return &fakeMapStore{mappings: make(map[uuid.UUID]*models.CredentialMapping)}
}

func (s *fakeMapStore) Upsert(ctx context.Context, m *models.CredentialMapping) error {
	for _, existing := range s.mappings {
		if existing.ConnectionID == m.ConnectionID && existing.ProviderItemID == m.ProviderItemID &&
			existing.AssetType == m.AssetType && existing.AssetID == m.AssetID {
			m.ID = existing.ID
			m.CreatedAt = existing.CreatedAt
			s.mappings[m.ID] = m
			return nil
		}
	}
	m.ID = uuid.New()
	m.CreatedAt = time.Now().UTC()
	s.mappings[m.ID] = m
	return nil
}

func (s *fakeMapStore) List(ctx context.Context, userID string, filters repositories.MappingFilters) ([]*models.CredentialMapping, error) {
	out := []*models.CredentialMapping{}
	for _, m := range s.mappings {
		if m.UserID != userID {
			continue
		}
		if filters.AssetType != nil && m.AssetType != *filters.AssetType {
			continue
		}
		if filters.AssetID != nil && m.AssetID != *filters.AssetID {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *fakeMapStore) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	if m, ok := s.mappings[id]; ok && m.UserID == userID {
		delete(s.mappings, id)
	}
	return nil
}

type fakeProvider struct {
	grant       *bitwarden.TokenGrant
	exchangeErr error
	items       []bitwarden.Item
	listErr     error
	item        *bitwarden.Item
	getErr      error
}

func (p *fakeProvider) ExchangeClientCredentials(ctx context.Context, clientID, clientSecret, scope string) (*bitwarden.TokenGrant, error) {
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	return p.grant, nil
}

func (p *fakeProvider) ListItems(ctx context.Context, accessToken string) ([]bitwarden.Item, error) {
	return p.items, p.listErr
}

func (p *fakeProvider) GetItem(ctx context.Context, accessToken, itemID string) (*bitwarden.Item, error) {
	return p.item, p.getErr
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type handlerFixture struct {
	router   *gin.Engine
	conns    *fakeConnStore
	mappings *fakeMapStore
	provider *fakeProvider
	sqlMock  sqlmock.Sqlmock
}

// newFixture wires the handlers behind a stub auth middleware that always
// authenticates as the given user.
func newFixture(t *testing.T, userID string) *handlerFixture {
	t.Helper()

	box, err := crypto.NewSecretBox("handler-test-master-secret")
	if err != nil {
		t.Fatalf("NewSecretBox: %v", err)
	}

	conns := newFakeConnStore()
	mappings := newFakeMapStore()
	provider := &fakeProvider{
		grant: &bitwarden.TokenGrant{AccessToken: "tok-1", ExpiresIn: 3600, TokenType: "Bearer", Scope: "api"},
	}
	service := credentials.NewService(conns, mappings, box, provider)

	rawDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { rawDB.Close() })
	auditRepo := repositories.NewAuditRepository(sqlx.NewDb(rawDB, "sqlmock"))

	r := gin.New()
	group := r.Group("/api/v1")
	group.Use(func(c *gin.Context) { c.Set(middleware.UserIDKey, userID) })
	NewHandlers(service, auditRepo).RegisterRoutes(group)

	return &handlerFixture{router: r, conns: conns, mappings: mappings, provider: provider, sqlMock: mock}
}

func jsonBody(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewReader(data)
}

func (f *handlerFixture) do(t *testing.T, method, path string, body *bytes.Reader) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, body)
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

// connect establishes a bitwarden connection for the fixture user and
// returns its id.
func (f *handlerFixture) connect(t *testing.T) uuid.UUID {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/v1/credentials/connect", jsonBody(t, gin.H{
		"clientId":     "user.abc123",
		"clientSecret": "s3cret",
	}))
	if w.Code != http.StatusCreated {
		t.Fatalf("connect status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Connection struct {
			ID uuid.UUID `json:"id"`
		} `json:"connection"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal connect response: %v", err)
	}
	return resp.Connection.ID
}

// ---------------------------------------------------------------------------
// Connect / Disconnect
// ---------------------------------------------------------------------------

func TestConnect_Success(t *testing.T) {
	f := newFixture(t, "user-1")

	w := f.do(t, http.MethodPost, "/api/v1/credentials/connect", jsonBody(t, gin.H{
		"clientId":     "user.abc123",
		"clientSecret": "s3cret",
	}))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Success    bool                   `json:"success"`
		Connection map[string]interface{} `json:"connection"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Success {
		t.Error("success = false, want true")
	}
	if resp.Connection["provider"] != "bitwarden" {
		t.Errorf("provider = %v, want bitwarden (default)", resp.Connection["provider"])
	}
	if resp.Connection["id"] == nil || resp.Connection["connected_at"] == nil {
		t.Errorf("connection missing id/connected_at: %v", resp.Connection)
	}
	// Secrets must never appear in the response.
	if strings.Contains(w.Body.String(), "s3cret") {
		t.Error("response leaked the client secret")
	}
}

func TestConnect_MissingFields(t *testing.T) {
	f := newFixture(t, "user-1")

	w := f.do(t, http.MethodPost, "/api/v1/credentials/connect", jsonBody(t, gin.H{
		"clientId": "user.abc123",
	}))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestConnect_RejectedCredentials(t *testing.T) {
	f := newFixture(t, "user-1")
	f.provider.exchangeErr = &bitwarden.APIError{
		StatusCode: 400,
		Message:    `{"error":"invalid_client","client":"user.abc123"}`,
		Err:        bitwarden.ErrInvalidCredentials,
	}

	w := f.do(t, http.MethodPost, "/api/v1/credentials/connect", jsonBody(t, gin.H{
		"clientId":     "user.abc123",
		"clientSecret": "wrong",
	}))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	// The provider's raw error body is logged server side, never echoed.
	if strings.Contains(w.Body.String(), "invalid_client") {
		t.Errorf("response leaked provider error detail: %s", w.Body.String())
	}
	if len(f.conns.conns) != 0 {
		t.Error("connection was stored despite rejected credentials")
	}
}

func TestConnect_ProviderUnavailable(t *testing.T) {
	f := newFixture(t, "user-1")
	f.provider.exchangeErr = bitwarden.ErrProviderUnavailable

	w := f.do(t, http.MethodPost, "/api/v1/credentials/connect", jsonBody(t, gin.H{
		"clientId":     "user.abc123",
		"clientSecret": "s3cret",
	}))

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
}

func TestListConnections(t *testing.T) {
	f := newFixture(t, "user-1")
	f.connect(t)

	w := f.do(t, http.MethodGet, "/api/v1/credentials/connect", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Connections []map[string]interface{} `json:"connections"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Connections) != 1 {
		t.Fatalf("connections = %d, want 1", len(resp.Connections))
	}
	if strings.Contains(w.Body.String(), "encrypted") {
		t.Error("connection listing leaked secret columns")
	}
}

func TestDisconnect_NoConnectionIsNoOp(t *testing.T) {
	f := newFixture(t, "user-1")

	w := f.do(t, http.MethodDelete, "/api/v1/credentials/disconnect?provider=bitwarden", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"success":true`) {
		t.Errorf("body = %s, want success:true", w.Body.String())
	}
}

func TestDisconnect_RemovesConnection(t *testing.T) {
	f := newFixture(t, "user-1")
	f.connect(t)

	w := f.do(t, http.MethodDelete, "/api/v1/credentials/disconnect", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(f.conns.conns) != 0 {
		t.Error("connection still stored after disconnect")
	}
}

// ---------------------------------------------------------------------------
// Items
// ---------------------------------------------------------------------------

func strPtr(s string) *string { return &s }

func TestListItems_NotConnected(t *testing.T) {
	f := newFixture(t, "user-1")

	w := f.do(t, http.MethodGet, "/api/v1/credentials/items", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestListItems_OmitsSecrets(t *testing.T) {
	f := newFixture(t, "user-1")
	connID := f.connect(t)
	f.provider.items = []bitwarden.Item{
		{
			ID: "item-1", Name: "prod db", Type: 1,
			Login: &bitwarden.ItemLogin{
				Username: strPtr("admin"),
				Password: strPtr("super-secret-pw"),
				URIs:     []bitwarden.LoginURI{{URI: "https://db.example.com"}},
			},
		},
	}

	w := f.do(t, http.MethodGet, "/api/v1/credentials/items", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Items        []vaultItemResponse `json:"items"`
		ConnectionID uuid.UUID           `json:"connection_id"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(resp.Items))
	}
	if resp.Items[0].Username == nil || *resp.Items[0].Username != "admin" {
		t.Errorf("username = %v, want admin", resp.Items[0].Username)
	}
	if resp.ConnectionID != connID {
		t.Errorf("connection_id = %s, want %s", resp.ConnectionID, connID)
	}
	if strings.Contains(w.Body.String(), "super-secret-pw") {
		t.Error("items listing leaked a password")
	}
}

func TestListItems_ProviderFailure(t *testing.T) {
	f := newFixture(t, "user-1")
	f.connect(t)
	f.provider.listErr = bitwarden.ErrProviderUnavailable

	w := f.do(t, http.MethodGet, "/api/v1/credentials/items", nil)
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Mappings
// ---------------------------------------------------------------------------

func TestCreateMapping_Success(t *testing.T) {
	f := newFixture(t, "user-1")
	connID := f.connect(t)

	w := f.do(t, http.MethodPost, "/api/v1/credentials/mappings", jsonBody(t, gin.H{
		"connectionId":     connID.String(),
		"providerItemId":   "item-1",
		"providerItemName": "prod db",
		"assetType":        "server",
		"assetId":          "srv-42",
	}))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Success bool                     `json:"success"`
		Mapping models.CredentialMapping `json:"mapping"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Success {
		t.Error("success = false, want true")
	}
	if resp.Mapping.AssetID != "srv-42" {
		t.Errorf("mapping asset id = %q, want srv-42", resp.Mapping.AssetID)
	}
	if len(f.mappings.mappings) != 1 {
		t.Errorf("stored mappings = %d, want 1", len(f.mappings.mappings))
	}
}

func TestCreateMapping_InvalidConnectionID(t *testing.T) {
	f := newFixture(t, "user-1")

	w := f.do(t, http.MethodPost, "/api/v1/credentials/mappings", jsonBody(t, gin.H{
		"connectionId":   "not-a-uuid",
		"providerItemId": "item-1",
		"assetType":      "server",
		"assetId":        "srv-42",
	}))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreateMapping_ForeignConnection(t *testing.T) {
	other := newFixture(t, "user-2")
	foreignID := other.connect(t)

	f := newFixture(t, "user-1")
	// Same store is not shared between fixtures, so user-1 sees an unknown
	// id; the response must not distinguish unknown from foreign.
	_ = foreignID

	w := f.do(t, http.MethodPost, "/api/v1/credentials/mappings", jsonBody(t, gin.H{
		"connectionId":   foreignID.String(),
		"providerItemId": "item-1",
		"assetType":      "server",
		"assetId":        "srv-42",
	}))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if len(f.mappings.mappings) != 0 {
		t.Error("mapping was stored for a connection the caller does not own")
	}
}

func TestListMappings_FilteredByAsset(t *testing.T) {
	f := newFixture(t, "user-1")
	connID := f.connect(t)

	for _, asset := range []string{"srv-1", "srv-2"} {
		w := f.do(t, http.MethodPost, "/api/v1/credentials/mappings", jsonBody(t, gin.H{
			"connectionId":   connID.String(),
			"providerItemId": "item-1",
			"assetType":      "server",
			"assetId":        asset,
		}))
		if w.Code != http.StatusCreated {
			t.Fatalf("seed mapping failed: %d", w.Code)
		}
	}

	w := f.do(t, http.MethodGet, "/api/v1/credentials/mappings?assetType=server&assetId=srv-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Mappings []models.CredentialMapping `json:"mappings"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Mappings) != 1 {
		t.Fatalf("mappings = %d, want 1", len(resp.Mappings))
	}
	if resp.Mappings[0].AssetID != "srv-1" {
		t.Errorf("asset id = %q, want srv-1", resp.Mappings[0].AssetID)
	}
}

func TestDeleteMapping_BadID(t *testing.T) {
	f := newFixture(t, "user-1")

	w := f.do(t, http.MethodDelete, "/api/v1/credentials/mappings?id=nope", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestDeleteMapping_Success(t *testing.T) {
	f := newFixture(t, "user-1")
	connID := f.connect(t)

	w := f.do(t, http.MethodPost, "/api/v1/credentials/mappings", jsonBody(t, gin.H{
		"connectionId":   connID.String(),
		"providerItemId": "item-1",
		"assetType":      "server",
		"assetId":        "srv-42",
	}))
	var created struct {
		Mapping models.CredentialMapping `json:"mapping"`
	}
	json.Unmarshal(w.Body.Bytes(), &created)

	w = f.do(t, http.MethodDelete, "/api/v1/credentials/mappings?id="+created.Mapping.ID.String(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"success":true`) {
		t.Errorf("body = %s, want success:true", w.Body.String())
	}
	if len(f.mappings.mappings) != 0 {
		t.Error("mapping still stored after delete")
	}
}

// ---------------------------------------------------------------------------
// Reveal
// ---------------------------------------------------------------------------

func TestReveal_Success(t *testing.T) {
	f := newFixture(t, "user-1")
	f.connect(t)
	f.provider.item = &bitwarden.Item{
		ID: "item-9", Name: "prod db", Type: 1,
		Notes: strPtr("rotate quarterly"),
		Login: &bitwarden.ItemLogin{
			Username: strPtr("admin"),
			Password: strPtr("super-secret-pw"),
			URIs:     []bitwarden.LoginURI{{URI: "https://db.example.com"}},
		},
	}

	w := f.do(t, http.MethodPost, "/api/v1/credentials/reveal", jsonBody(t, gin.H{
		"itemId": "item-9",
	}))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}

	var resp credentials.RevealedCredential
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Password == nil || *resp.Password != "super-secret-pw" {
		t.Errorf("password = %v, want the item's password", resp.Password)
	}
	if resp.ExpiresInSeconds != credentials.RevealTTLSeconds {
		t.Errorf("expiresInSeconds = %d, want %d", resp.ExpiresInSeconds, credentials.RevealTTLSeconds)
	}
	if !strings.Contains(w.Body.String(), `"expiresInSeconds"`) {
		t.Errorf("body = %s, want an expiresInSeconds key", w.Body.String())
	}
}

func TestReveal_MissingItemID(t *testing.T) {
	f := newFixture(t, "user-1")

	w := f.do(t, http.MethodPost, "/api/v1/credentials/reveal", jsonBody(t, gin.H{}))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestReveal_NotConnected(t *testing.T) {
	f := newFixture(t, "user-1")

	w := f.do(t, http.MethodPost, "/api/v1/credentials/reveal", jsonBody(t, gin.H{
		"itemId": "item-9",
	}))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestReveal_ProviderFailure(t *testing.T) {
	f := newFixture(t, "user-1")
	f.connect(t)
	f.provider.getErr = bitwarden.ErrProviderUnavailable

	w := f.do(t, http.MethodPost, "/api/v1/credentials/reveal", jsonBody(t, gin.H{
		"itemId": "item-9",
	}))
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Audit history
// ---------------------------------------------------------------------------

func TestListAuditHistory(t *testing.T) {
	f := newFixture(t, "user-1")

	countRows := sqlmock.NewRows([]string{"count"}).AddRow(1)
	f.sqlMock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM audit_logs").
		WithArgs("user-1").
		WillReturnRows(countRows)

	entryRows := sqlmock.NewRows([]string{"id", "user_id", "action", "resource_type", "resource_id", "metadata", "ip_address", "created_at"}).
		AddRow(uuid.New().String(), "user-1", "credentials.revealed", "vault_item", "item-9", []byte(`{"status_code":200}`), "10.0.0.1", time.Now().UTC())
	f.sqlMock.ExpectQuery("SELECT (.+) FROM audit_logs").
		WithArgs("user-1", 10, 0).
		WillReturnRows(entryRows)

	w := f.do(t, http.MethodGet, "/api/v1/credentials/audit?limit=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Entries []models.AuditLog `json:"entries"`
		Total   int               `json:"total"`
		Limit   int               `json:"limit"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 1 || len(resp.Entries) != 1 {
		t.Fatalf("total = %d entries = %d, want 1/1", resp.Total, len(resp.Entries))
	}
	if resp.Entries[0].Action != "credentials.revealed" {
		t.Errorf("action = %q", resp.Entries[0].Action)
	}
	if resp.Limit != 10 {
		t.Errorf("limit = %d, want 10", resp.Limit)
	}

	if err := f.sqlMock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sqlmock expectations: %v", err)
	}
}
