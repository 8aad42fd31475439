package admin

import "time"

// Store defines the interface for API key storage. KeyStore keeps keys
// in memory; SQLStore persists them in SQLite or Postgres.
type Store interface {
	Create(name string, scopes []string, expiresAt *time.Time) (*APIKey, error)
	Get(id string) (*APIKey, bool)
	List() []*APIKey
	Revoke(id string) error
	Delete(id string) error
	ValidateKey(key string) (*APIKey, bool)
}
