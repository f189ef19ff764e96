package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/assetdock/assetdock/internal/db/models"
)

var errDB = errors.New("db failure")

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newConnectionRepo(t *testing.T) (*ConnectionRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewConnectionRepository(sqlx.NewDb(db, "sqlmock")), mock
}

var connectionCols = []string{
	"id", "user_id", "provider",
	"client_id_encrypted", "client_secret_encrypted", "access_token_encrypted",
	"token_expires_at", "created_at", "updated_at",
}

func sampleConnectionRow(id uuid.UUID) *sqlmock.Rows {
	return sqlmock.NewRows(connectionCols).
		AddRow(id, "user-1", models.ProviderBitwarden,
			"enc-client-id", "enc-client-secret", "enc-access-token",
			time.Now().Add(time.Hour), time.Now(), time.Now())
}

func sampleConnection() *models.ProviderConnection {
	return &models.ProviderConnection{
		UserID:                "user-1",
		Provider:              models.ProviderBitwarden,
		ClientIDEncrypted:     "enc-client-id",
		ClientSecretEncrypted: "enc-client-secret",
		AccessTokenEncrypted:  "enc-access-token",
		TokenExpiresAt:        time.Now().Add(time.Hour),
	}
}

// ---------------------------------------------------------------------------
// Upsert
// ---------------------------------------------------------------------------

func TestConnectionUpsert_Insert(t *testing.T) {
	repo, mock := newConnectionRepo(t)

	conn := sampleConnection()
	rowID := uuid.New()
	created := time.Now()

	mock.ExpectQuery("INSERT INTO provider_connections").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(rowID, created))

	if err := repo.Upsert(context.Background(), conn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conn.ID != rowID {
		t.Errorf("ID not taken from RETURNING: got %s, want %s", conn.ID, rowID)
	}
}

func TestConnectionUpsert_ConflictKeepsOriginalRow(t *testing.T) {
	repo, mock := newConnectionRepo(t)

	// On conflict the database returns the pre-existing row's id and
	// created_at, not the ones generated for the insert attempt.
	existingID := uuid.New()
	existingCreated := time.Now().Add(-24 * time.Hour)

	mock.ExpectQuery("INSERT INTO provider_connections").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(existingID, existingCreated))

	conn := sampleConnection()
	if err := repo.Upsert(context.Background(), conn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conn.ID != existingID {
		t.Errorf("expected existing row id %s, got %s", existingID, conn.ID)
	}
	if !conn.CreatedAt.Equal(existingCreated) {
		t.Errorf("expected existing created_at %v, got %v", existingCreated, conn.CreatedAt)
	}
}

func TestConnectionUpsert_Error(t *testing.T) {
	repo, mock := newConnectionRepo(t)
	mock.ExpectQuery("INSERT INTO provider_connections").
		WillReturnError(errDB)

	if err := repo.Upsert(context.Background(), sampleConnection()); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// Get / GetByID
// ---------------------------------------------------------------------------

func TestConnectionGet_Found(t *testing.T) {
	repo, mock := newConnectionRepo(t)
	id := uuid.New()
	mock.ExpectQuery("SELECT \\* FROM provider_connections").
		WithArgs("user-1", models.ProviderBitwarden).
		WillReturnRows(sampleConnectionRow(id))

	conn, err := repo.Get(context.Background(), "user-1", models.ProviderBitwarden)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conn == nil || conn.ID != id {
		t.Fatalf("unexpected connection: %+v", conn)
	}
}

func TestConnectionGet_NotFound(t *testing.T) {
	repo, mock := newConnectionRepo(t)
	mock.ExpectQuery("SELECT \\* FROM provider_connections").
		WillReturnRows(sqlmock.NewRows(connectionCols))

	conn, err := repo.Get(context.Background(), "user-1", models.ProviderBitwarden)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conn != nil {
		t.Errorf("expected nil for missing connection, got %+v", conn)
	}
}

func TestConnectionGetByID_NotFound(t *testing.T) {
	repo, mock := newConnectionRepo(t)
	mock.ExpectQuery("SELECT \\* FROM provider_connections").
		WillReturnRows(sqlmock.NewRows(connectionCols))

	conn, err := repo.GetByID(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conn != nil {
		t.Errorf("expected nil for missing connection, got %+v", conn)
	}
}

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

func TestConnectionList_ProjectionExcludesSecrets(t *testing.T) {
	repo, mock := newConnectionRepo(t)
	mock.ExpectQuery("SELECT id, provider, created_at, updated_at").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "provider", "created_at", "updated_at"}).
			AddRow(uuid.New(), models.ProviderBitwarden, time.Now(), time.Now()))

	summaries, err := repo.List(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("got %d summaries, want 1", len(summaries))
	}
}

func TestConnectionList_Empty(t *testing.T) {
	repo, mock := newConnectionRepo(t)
	mock.ExpectQuery("SELECT id, provider, created_at, updated_at").
		WillReturnRows(sqlmock.NewRows([]string{"id", "provider", "created_at", "updated_at"}))

	summaries, err := repo.List(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summaries == nil || len(summaries) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", summaries)
	}
}

// ---------------------------------------------------------------------------
// Delete / UpdateToken
// ---------------------------------------------------------------------------

func TestConnectionDelete_MissingRowIsNoOp(t *testing.T) {
	repo, mock := newConnectionRepo(t)
	mock.ExpectExec("DELETE FROM provider_connections").
		WithArgs("user-1", models.ProviderBitwarden).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.Delete(context.Background(), "user-1", models.ProviderBitwarden); err != nil {
		t.Errorf("delete of missing connection should be a no-op, got %v", err)
	}
}

func TestConnectionUpdateToken(t *testing.T) {
	repo, mock := newConnectionRepo(t)
	id := uuid.New()
	mock.ExpectExec("UPDATE provider_connections").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateToken(context.Background(), id, "enc-new-token", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestConnectionUpdateToken_Error(t *testing.T) {
	repo, mock := newConnectionRepo(t)
	mock.ExpectExec("UPDATE provider_connections").
		WillReturnError(errDB)

	err := repo.UpdateToken(context.Background(), uuid.New(), "enc-new-token", time.Now())
	if err == nil {
		t.Error("expected error, got nil")
	}
}
