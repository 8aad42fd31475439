package admin

import (
	"strings"
	"testing"
	"time"
)

func TestKeyStoreCreateAndValidate(t *testing.T) {
	store := NewKeyStore()
	key, err := store.Create("ci", []string{ScopeReadOnly}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.HasPrefix(key.Key, "ar-") {
		t.Fatalf("expected ar- prefix, got %q", key.Key)
	}
	if !key.Active {
		t.Fatal("new key must be active")
	}

	got, ok := store.ValidateKey(key.Key)
	if !ok || got.ID != key.ID {
		t.Fatalf("ValidateKey failed for fresh key")
	}
	if _, ok := store.ValidateKey("ar-bogus"); ok {
		t.Fatal("bogus key validated")
	}
}

func TestKeyStoreDefaultScope(t *testing.T) {
	store := NewKeyStore()
	key, err := store.Create("ops", nil, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(key.Scopes) != 1 || key.Scopes[0] != ScopeAdmin {
		t.Fatalf("expected default admin scope, got %v", key.Scopes)
	}
}

func TestKeyStoreRevoke(t *testing.T) {
	store := NewKeyStore()
	key, _ := store.Create("ci", nil, nil)

	if err := store.Revoke(key.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, ok := store.ValidateKey(key.Key); ok {
		t.Fatal("revoked key validated")
	}
	if err := store.Revoke("missing"); err == nil {
		t.Fatal("expected error for unknown id")
	}
}

func TestKeyStoreExpiry(t *testing.T) {
	store := NewKeyStore()
	past := time.Now().Add(-time.Hour)
	key, _ := store.Create("expired", nil, &past)
	if _, ok := store.ValidateKey(key.Key); ok {
		t.Fatal("expired key validated")
	}
}

func TestKeyStoreListMasksSecrets(t *testing.T) {
	store := NewKeyStore()
	key, _ := store.Create("ci", nil, nil)

	for _, listed := range store.List() {
		if listed.Key == key.Key {
			t.Fatal("listed key exposes full secret")
		}
		if !strings.HasSuffix(listed.Key, "...") {
			t.Fatalf("expected masked key, got %q", listed.Key)
		}
	}
}

func TestKeyStoreDelete(t *testing.T) {
	store := NewKeyStore()
	key, _ := store.Create("ci", nil, nil)
	if err := store.Delete(key.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := store.Get(key.ID); ok {
		t.Fatal("deleted key still retrievable")
	}
	if _, ok := store.ValidateKey(key.Key); ok {
		t.Fatal("deleted key still validates")
	}
}
