package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/haasonsaas/tandem/pkg/models"
)

// Supported SQL drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds SQL connection settings.
type Config struct {
	Driver          string
	URL             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

type dialect struct {
	name       string
	positional bool
}

var (
	postgresDialect = dialect{name: DriverPostgres, positional: true}
	sqliteDialect   = dialect{name: DriverSQLite}
)

// rebind rewrites ? placeholders into $n for dialects that need them.
func (d dialect) rebind(query string) string {
	if !d.positional {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore implements Store over database/sql for Postgres and SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, cfg Config) (*SQLStore, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("database url is required")
	}
	var d dialect
	switch cfg.Driver {
	case DriverPostgres:
		d = postgresDialect
	case DriverSQLite:
		d = sqliteDialect
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	db, err := sql.Open(d.name, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if d == sqliteDialect {
		// SQLite serializes writers; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return newSQLStore(db, d), nil
}

func newSQLStore(db *sql.DB, d dialect) *SQLStore {
	return &SQLStore{db: db, dialect: d, now: time.Now}
}

// Close releases database resources.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS tandem_users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tandem_resources (
		resource_type TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		data TEXT NOT NULL,
		revision BIGINT NOT NULL DEFAULT 1,
		updated_by TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (resource_type, id)
	)`,
}

// Migrate creates the tables if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, resourceType, id string) (*models.Resource, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`
		SELECT name, data, revision, updated_by, created_at, updated_at
		FROM tandem_resources
		WHERE resource_type = ? AND id = ?
	`), resourceType, id)

	res := &models.Resource{Type: resourceType, ID: id}
	var data string
	var createdAt, updatedAt int64
	if err := row.Scan(&res.Name, &data, &res.Revision, &res.UpdatedBy, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get resource: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &res.Data); err != nil {
		return nil, fmt.Errorf("decode resource data: %w", err)
	}
	if res.Data == nil {
		res.Data = map[string]any{}
	}
	res.CreatedAt = time.UnixMilli(createdAt).UTC()
	res.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return res, nil
}

func (s *SQLStore) Save(ctx context.Context, resource *models.Resource) (*models.Resource, error) {
	if err := validateResource(resource); err != nil {
		return nil, err
	}
	data, err := json.Marshal(resource.Data)
	if err != nil {
		return nil, fmt.Errorf("encode resource data: %w", err)
	}
	now := s.now().UTC().UnixMilli()

	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`
		INSERT INTO tandem_resources (resource_type, id, name, data, revision, updated_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT (resource_type, id) DO UPDATE SET
			name = excluded.name,
			data = excluded.data,
			revision = tandem_resources.revision + 1,
			updated_by = excluded.updated_by,
			updated_at = excluded.updated_at
		RETURNING revision, created_at
	`), resource.Type, resource.ID, resource.Name, string(data), resource.UpdatedBy, now, now)

	var revision, createdAt int64
	if err := row.Scan(&revision, &createdAt); err != nil {
		return nil, fmt.Errorf("save resource: %w", err)
	}
	out, err := cloneResource(resource)
	if err != nil {
		return nil, err
	}
	out.Revision = revision
	out.CreatedAt = time.UnixMilli(createdAt).UTC()
	out.UpdatedAt = time.UnixMilli(now).UTC()
	return out, nil
}

func (s *SQLStore) LastModifiedBy(ctx context.Context, resourceType, id string) (*models.User, error) {
	var updatedBy string
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`
		SELECT updated_by FROM tandem_resources WHERE resource_type = ? AND id = ?
	`), resourceType, id).Scan(&updatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("last modified by: %w", err)
	}
	return lastModifier(ctx, s, updatedBy)
}

func (s *SQLStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	user := &models.User{ID: id}
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`
		SELECT email, name, created_at, updated_at FROM tandem_users WHERE id = ?
	`), id).Scan(&user.Email, &user.Name, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	user.CreatedAt = time.UnixMilli(createdAt).UTC()
	user.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return user, nil
}

func (s *SQLStore) UpsertUser(ctx context.Context, user *models.User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("upsert user: id required")
	}
	now := s.now().UTC().UnixMilli()
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO tandem_users (id, email, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			email = excluded.email,
			name = excluded.name,
			updated_at = excluded.updated_at
	`), user.ID, user.Email, user.Name, now, now)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}
