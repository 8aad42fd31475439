package admin

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	// Register Postgres SQL driver.
	_ "github.com/lib/pq"
	// Register SQLite SQL driver.
	_ "modernc.org/sqlite"
)

type sqlDialect string

const (
	dialectSQLite   sqlDialect = "sqlite"
	dialectPostgres sqlDialect = "postgres"
)

// SQLStore persists API keys in SQL backends (SQLite or Postgres).
type SQLStore struct {
	db      *sql.DB
	dialect sqlDialect
}

// NewSQLiteStore creates a SQLite-backed key store. dsn may be a file
// path or SQLite DSN; empty uses a local default.
func NewSQLiteStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "arouter-keys.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	store := &SQLStore{db: db, dialect: dialectSQLite}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStore creates a Postgres-backed key store.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	store := &SQLStore{db: db, dialect: dialectPostgres}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) init() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("ping %s store: %w", s.dialect, err)
	}

	var ddl string
	switch s.dialect {
	case dialectPostgres:
		ddl = `
CREATE TABLE IF NOT EXISTS api_keys (
	id TEXT PRIMARY KEY,
	key TEXT UNIQUE NOT NULL,
	name TEXT NOT NULL,
	scopes TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	revoked_at TIMESTAMPTZ NULL,
	expires_at TIMESTAMPTZ NULL,
	active BOOLEAN NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_api_keys_key ON api_keys(key);`
	default:
		ddl = `
CREATE TABLE IF NOT EXISTS api_keys (
	id TEXT PRIMARY KEY,
	key TEXT UNIQUE NOT NULL,
	name TEXT NOT NULL,
	scopes TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	revoked_at DATETIME NULL,
	expires_at DATETIME NULL,
	active BOOLEAN NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_api_keys_key ON api_keys(key);`
	}

	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize %s store schema: %w", s.dialect, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error { return s.db.Close() }

// Create generates and persists a new API key.
func (s *SQLStore) Create(name string, scopes []string, expiresAt *time.Time) (*APIKey, error) {
	key, err := newSecret()
	if err != nil {
		return nil, err
	}
	id, err := newID()
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		scopes = []string{ScopeAdmin}
	}
	scopesJSON, err := json.Marshal(scopes)
	if err != nil {
		return nil, fmt.Errorf("encode scopes: %w", err)
	}

	apiKey := &APIKey{
		ID:        id,
		Key:       key,
		Name:      name,
		Scopes:    scopes,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
		Active:    true,
	}

	_, err = s.db.Exec(s.rebind(
		`INSERT INTO api_keys (id, key, name, scopes, created_at, revoked_at, expires_at, active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		apiKey.ID, apiKey.Key, apiKey.Name, string(scopesJSON),
		apiKey.CreatedAt, nil, apiKey.ExpiresAt, apiKey.Active)
	if err != nil {
		return nil, fmt.Errorf("insert api key: %w", err)
	}
	return apiKey, nil
}

// Get retrieves an API key by ID.
func (s *SQLStore) Get(id string) (*APIKey, bool) {
	row := s.db.QueryRow(s.rebind(
		`SELECT id, key, name, scopes, created_at, revoked_at, expires_at, active
		 FROM api_keys WHERE id = ?`), id)
	k, err := scanKey(row)
	if err != nil {
		return nil, false
	}
	return k, true
}

// List returns all keys with the secret masked.
func (s *SQLStore) List() []*APIKey {
	rows, err := s.db.Query(
		`SELECT id, key, name, scopes, created_at, revoked_at, expires_at, active
		 FROM api_keys ORDER BY created_at`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			continue
		}
		keys = append(keys, k.masked())
	}
	return keys
}

// Revoke marks an API key as revoked and inactive.
func (s *SQLStore) Revoke(id string) error {
	res, err := s.db.Exec(s.rebind(
		`UPDATE api_keys SET revoked_at = ?, active = ? WHERE id = ?`),
		time.Now().UTC(), false, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("key not found: %s", id)
	}
	return nil
}

// Delete removes an API key.
func (s *SQLStore) Delete(id string) error {
	res, err := s.db.Exec(s.rebind(`DELETE FROM api_keys WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("key not found: %s", id)
	}
	return nil
}

// ValidateKey looks up a key by its full secret and returns it if active
// and unexpired.
func (s *SQLStore) ValidateKey(key string) (*APIKey, bool) {
	row := s.db.QueryRow(s.rebind(
		`SELECT id, key, name, scopes, created_at, revoked_at, expires_at, active
		 FROM api_keys WHERE key = ?`), key)
	k, err := scanKey(row)
	if err != nil {
		return nil, false
	}
	if !k.Active || k.RevokedAt != nil {
		return nil, false
	}
	if k.ExpiresAt != nil && time.Now().After(*k.ExpiresAt) {
		return nil, false
	}
	return k, true
}

// rebind rewrites ? placeholders to $N for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (*APIKey, error) {
	var (
		k          APIKey
		scopesJSON string
		revokedAt  sql.NullTime
		expiresAt  sql.NullTime
	)
	if err := row.Scan(&k.ID, &k.Key, &k.Name, &scopesJSON,
		&k.CreatedAt, &revokedAt, &expiresAt, &k.Active); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(scopesJSON), &k.Scopes); err != nil {
		return nil, fmt.Errorf("decode scopes: %w", err)
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		k.RevokedAt = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		k.ExpiresAt = &t
	}
	return &k, nil
}
