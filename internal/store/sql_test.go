package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/haasonsaas/tandem/pkg/models"
)

func setupMockDB(t *testing.T) (sqlmock.Sqlmock, *SQLStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s := newSQLStore(db, postgresDialect)
	s.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return mock, s
}

func TestDialectRebind(t *testing.T) {
	query := "SELECT a FROM t WHERE b = ? AND c = ?"
	if got := postgresDialect.rebind(query); got != "SELECT a FROM t WHERE b = $1 AND c = $2" {
		t.Errorf("postgres rebind = %q", got)
	}
	if got := sqliteDialect.rebind(query); got != query {
		t.Errorf("sqlite rebind = %q", got)
	}
}

func TestSQLStore_Get(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		wantErr   error
		wantName  string
	}{
		{
			name: "found",
			setupMock: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"name", "data", "revision", "updated_by", "created_at", "updated_at"}).
					AddRow("Invoice 7", `{"price":100}`, int64(3), "u1", int64(1700000000000), int64(1700000001000))
				mock.ExpectQuery(`SELECT name, data, revision, updated_by, created_at, updated_at\s+FROM tandem_resources\s+WHERE resource_type = \$1 AND id = \$2`).
					WithArgs("invoice", "7").
					WillReturnRows(rows)
			},
			wantName: "Invoice 7",
		},
		{
			name: "not found",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT name, data").WithArgs("invoice", "7").WillReturnError(sql.ErrNoRows)
			},
			wantErr: ErrNotFound,
		},
		{
			name: "database error",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT name, data").WithArgs("invoice", "7").WillReturnError(errors.New("boom"))
			},
			wantErr: errors.New("boom"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, s := setupMockDB(t)
			tt.setupMock(mock)

			res, err := s.Get(context.Background(), "invoice", "7")
			switch {
			case tt.wantErr == nil && err != nil:
				t.Fatalf("Get() error = %v", err)
			case tt.wantErr != nil && err == nil:
				t.Fatal("expected error")
			case errors.Is(tt.wantErr, ErrNotFound) && !errors.Is(err, ErrNotFound):
				t.Fatalf("Get() error = %v, want ErrNotFound", err)
			}
			if tt.wantErr == nil {
				if res.Name != tt.wantName || res.Revision != 3 || res.UpdatedBy != "u1" {
					t.Errorf("unexpected resource %+v", res)
				}
				if res.Data["price"] != float64(100) {
					t.Errorf("price = %v", res.Data["price"])
				}
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestSQLStore_Save(t *testing.T) {
	mock, s := setupMockDB(t)
	mock.ExpectQuery("INSERT INTO tandem_resources").
		WithArgs("invoice", "7", "Invoice 7", `{"price":150}`, "u2", int64(1700000000000), int64(1700000000000)).
		WillReturnRows(sqlmock.NewRows([]string{"revision", "created_at"}).AddRow(int64(4), int64(1690000000000)))

	saved, err := s.Save(context.Background(), &models.Resource{
		Type:      "invoice",
		ID:        "7",
		Name:      "Invoice 7",
		Data:      map[string]any{"price": 150},
		UpdatedBy: "u2",
	})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if saved.Revision != 4 {
		t.Errorf("Revision = %d, want 4", saved.Revision)
	}
	if saved.CreatedAt.UnixMilli() != 1690000000000 {
		t.Errorf("CreatedAt = %v", saved.CreatedAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSQLStore_LastModifiedBy(t *testing.T) {
	mock, s := setupMockDB(t)
	mock.ExpectQuery("SELECT updated_by FROM tandem_resources").
		WithArgs("invoice", "7").
		WillReturnRows(sqlmock.NewRows([]string{"updated_by"}).AddRow("u1"))
	mock.ExpectQuery("SELECT email, name, created_at, updated_at FROM tandem_users").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"email", "name", "created_at", "updated_at"}).
			AddRow("ada@example.com", "Ada", int64(1), int64(2)))

	user, err := s.LastModifiedBy(context.Background(), "invoice", "7")
	if err != nil {
		t.Fatalf("LastModifiedBy() error = %v", err)
	}
	if user.ID != "u1" || user.Name != "Ada" {
		t.Errorf("unexpected user %+v", user)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSQLStore_UpsertUser(t *testing.T) {
	mock, s := setupMockDB(t)
	mock.ExpectExec("INSERT INTO tandem_users").
		WithArgs("u1", "ada@example.com", "Ada", int64(1700000000000), int64(1700000000000)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.UpsertUser(context.Background(), &models.User{ID: "u1", Email: "ada@example.com", Name: "Ada"}); err != nil {
		t.Fatalf("UpsertUser() error = %v", err)
	}
	if err := s.UpsertUser(context.Background(), nil); err == nil {
		t.Error("expected error for nil user")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSQLStore_Migrate(t *testing.T) {
	mock, s := setupMockDB(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS tandem_users").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS tandem_resources").WillReturnError(errors.New("denied"))

	if err := s.Migrate(context.Background()); err == nil {
		t.Fatal("expected migrate error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestOpenValidatesConfig(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, Config{Driver: DriverSQLite}); err == nil {
		t.Error("expected error for empty url")
	}
	if _, err := Open(ctx, Config{Driver: "mysql", URL: "x"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Config{Driver: DriverSQLite, URL: filepath.Join(t.TempDir(), "tandem.db")})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	if err := s.UpsertUser(ctx, &models.User{ID: "u1", Name: "Ada"}); err != nil {
		t.Fatalf("UpsertUser() error = %v", err)
	}
	if _, err := s.Get(ctx, "task", "1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}

	first, err := s.Save(ctx, &models.Resource{Type: "task", ID: "1", Name: "Task", Data: map[string]any{"title": "draft"}, UpdatedBy: "u1"})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	second, err := s.Save(ctx, &models.Resource{Type: "task", ID: "1", Name: "Task", Data: map[string]any{"title": "final"}, UpdatedBy: "u1"})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if first.Revision != 1 || second.Revision != 2 {
		t.Errorf("revisions = %d, %d; want 1, 2", first.Revision, second.Revision)
	}

	got, err := s.Get(ctx, "task", "1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Data["title"] != "final" {
		t.Errorf("title = %v, want final", got.Data["title"])
	}

	user, err := s.LastModifiedBy(ctx, "task", "1")
	if err != nil {
		t.Fatalf("LastModifiedBy() error = %v", err)
	}
	if user.Name != "Ada" {
		t.Errorf("Name = %q, want Ada", user.Name)
	}
}
