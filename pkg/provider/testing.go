package provider

import (
	"context"
	"errors"
	"testing"
)

// StoreContract describes how to build a SecretStore for the contract suite
type StoreContract struct {
	// CreateStore returns a fresh, empty store.
	CreateStore func(t *testing.T) SecretStore

	// SeedSecret stores a text value under name outside of the store API.
	SeedSecret func(t *testing.T, store SecretStore, name, value string)
}

// RunStoreContract runs the standard store contract test suite
func RunStoreContract(t *testing.T, contract StoreContract) {
	t.Run("Contract", func(t *testing.T) {
		t.Run("FetchSeeded", func(t *testing.T) {
			testFetchSeeded(t, contract)
		})

		t.Run("FetchNotFound", func(t *testing.T) {
			testFetchNotFound(t, contract)
		})

		t.Run("ExistsReflectsState", func(t *testing.T) {
			testExists(t, contract)
		})

		t.Run("CreateThenUpdate", func(t *testing.T) {
			testCreateThenUpdate(t, contract)
		})
	})
}

func testFetchSeeded(t *testing.T, contract StoreContract) {
	store := contract.CreateStore(t)
	contract.SeedSecret(t, store, "contract/seeded", "seeded-value")

	secret, err := store.Fetch(context.Background(), "contract/seeded")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if secret.Value != "seeded-value" {
		t.Errorf("Fetch() value = %q, want %q", secret.Value, "seeded-value")
	}
	if secret.Binary {
		t.Error("Fetch() reported a text secret as binary")
	}
	if secret.Size != len("seeded-value") {
		t.Errorf("Fetch() size = %d, want %d", secret.Size, len("seeded-value"))
	}
}

func testFetchNotFound(t *testing.T, contract StoreContract) {
	store := contract.CreateStore(t)

	_, err := store.Fetch(context.Background(), "contract/missing")
	if err == nil {
		t.Fatal("Fetch() of a missing secret returned no error")
	}
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("Fetch() error = %T, want *NotFoundError", err)
	}
}

func testExists(t *testing.T, contract StoreContract) {
	store := contract.CreateStore(t)
	ctx := context.Background()

	exists, err := store.Exists(ctx, "contract/exists")
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if exists {
		t.Error("Exists() = true for a missing secret")
	}

	contract.SeedSecret(t, store, "contract/exists", "v")
	exists, err = store.Exists(ctx, "contract/exists")
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if !exists {
		t.Error("Exists() = false for a seeded secret")
	}
}

func testCreateThenUpdate(t *testing.T, contract StoreContract) {
	store := contract.CreateStore(t)
	ctx := context.Background()

	v1, err := store.Create(ctx, "contract/written", "first", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if v1 == "" {
		t.Error("Create() returned an empty version")
	}

	v2, err := store.Update(ctx, "contract/written", "second", "")
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if v2 == v1 {
		t.Errorf("Update() version %q did not change", v2)
	}

	secret, err := store.Fetch(ctx, "contract/written")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if secret.Value != "second" {
		t.Errorf("Fetch() after Update() = %q, want %q", secret.Value, "second")
	}
}
