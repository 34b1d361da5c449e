package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedOrg(t *testing.T, store *MemoryStore, id string) *Organization {
	t.Helper()
	now := time.Now().UTC()
	org := &Organization{ID: id, Name: "org " + id, CreatedAt: now, UpdatedAt: now}
	if err := store.CreateOrganization(context.Background(), org); err != nil {
		t.Fatalf("CreateOrganization(%s): %v", id, err)
	}
	return org
}

func TestMemoryStoreUserRequiresOrganization(t *testing.T) {
	store := NewMemoryStore()
	err := store.CreateUser(context.Background(), &User{
		ID:             "u1",
		OrganizationID: "no-such-org",
		Email:          "a@b.example",
		Role:           RoleStaff,
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestMemoryStoreEmailUniqueAcrossOrganizations(t *testing.T) {
	store := NewMemoryStore()
	seedOrg(t, store, "org1")
	seedOrg(t, store, "org2")

	if err := store.CreateUser(context.Background(), &User{
		ID: "u1", OrganizationID: "org1", Email: "dup@b.example", Role: RoleStaff,
	}); err != nil {
		t.Fatalf("first user: %v", err)
	}
	err := store.CreateUser(context.Background(), &User{
		ID: "u2", OrganizationID: "org2", Email: "dup@b.example", Role: RoleStaff,
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestMemoryStoreLedgerTenantUnique(t *testing.T) {
	store := NewMemoryStore()
	seedOrg(t, store, "org1")
	seedOrg(t, store, "org2")

	tenant := "ledger-tenant-1"
	if _, err := store.UpdateOrganization(context.Background(), "org1", OrganizationUpdate{LedgerTenantID: &tenant}); err != nil {
		t.Fatalf("first binding: %v", err)
	}
	if _, err := store.UpdateOrganization(context.Background(), "org2", OrganizationUpdate{LedgerTenantID: &tenant}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	// Rebinding the same tenant to its own organization is not a conflict.
	if _, err := store.UpdateOrganization(context.Background(), "org1", OrganizationUpdate{LedgerTenantID: &tenant}); err != nil {
		t.Fatalf("self rebind: %v", err)
	}
}

func TestMemoryStoreRedactsAPIKeyOnReads(t *testing.T) {
	store := NewMemoryStore()
	seedOrg(t, store, "org1")

	tenant, key := "ledger-tenant-1", "secret-key"
	if _, err := store.UpdateOrganization(context.Background(), "org1", OrganizationUpdate{
		LedgerTenantID: &tenant,
		LedgerAPIKey:   &key,
	}); err != nil {
		t.Fatalf("UpdateOrganization: %v", err)
	}

	org, err := store.FindOrganization(context.Background(), "org1")
	if err != nil {
		t.Fatalf("FindOrganization: %v", err)
	}
	if org.LedgerAPIKey != "" {
		t.Fatal("FindOrganization returned the API key")
	}
	if org.LedgerTenantID != tenant {
		t.Fatalf("tenant = %s, want %s", org.LedgerTenantID, tenant)
	}
}

func TestMemoryStoreRotateIsCompareAndSwap(t *testing.T) {
	store := NewMemoryStore()
	seedOrg(t, store, "org1")
	if err := store.CreateUser(context.Background(), &User{
		ID: "u1", OrganizationID: "org1", Email: "a@b.example", Role: RoleStaff, Active: true,
	}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	now := time.Now().UTC()
	cur := &RefreshToken{ID: "t1", UserID: "u1", TokenHash: "hash-1", ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	if err := store.CreateRefreshToken(context.Background(), cur); err != nil {
		t.Fatalf("CreateRefreshToken: %v", err)
	}

	next := &RefreshToken{ID: "t2", UserID: "u1", TokenHash: "hash-2", ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	if err := store.RotateRefreshToken(context.Background(), "t1", "wrong-hash", next); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("stale hash: expected ErrInvalidToken, got %v", err)
	}
	if err := store.RotateRefreshToken(context.Background(), "t1", "hash-1", next); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	// The old record is revoked, so a second swap on it loses.
	if err := store.RotateRefreshToken(context.Background(), "t1", "hash-1", next); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("second swap: expected ErrInvalidToken, got %v", err)
	}
	old, err := store.FindRefreshToken(context.Background(), "t1")
	if err != nil {
		t.Fatalf("FindRefreshToken: %v", err)
	}
	if !old.Revoked {
		t.Fatal("rotated token not revoked")
	}
}
