// Copyright 2025 TenantGate
// SPDX-License-Identifier: Apache-2.0

package tenant

import (
	"context"
	"fmt"
	"os"

	"tenantgate/platform/vault"
)

// DemoConnectionEnvVar names the connection string used for the reserved
// demo tenant. When unset, resolving "demo" fails with ErrNotFound.
const DemoConnectionEnvVar = "DEMO_DB_CONNECTION_STRING"

// Getter is the slice of the store the resolver needs.
type Getter interface {
	Get(ctx context.Context, tenantID string) (*Tenant, error)
}

// StoreResolver resolves tenant ids against the store, serving the reserved
// demo tenant from local configuration. The demo record mirrors stored
// tenants exactly: its secret is encrypted on the fly so downstream code has
// a single decryption path.
type StoreResolver struct {
	store   Getter
	vault   *vault.Vault
	demoURI string
}

// NewStoreResolver creates a resolver over store. The demo connection string
// is read from the environment once at construction.
func NewStoreResolver(store Getter, v *vault.Vault) *StoreResolver {
	return &StoreResolver{
		store:   store,
		vault:   v,
		demoURI: os.Getenv(DemoConnectionEnvVar),
	}
}

// Resolve returns the tenant record for tenantID, or ErrNotFound.
func (r *StoreResolver) Resolve(ctx context.Context, tenantID string) (*Tenant, error) {
	if tenantID == DemoTenantID {
		return r.demoTenant()
	}
	return r.store.Get(ctx, tenantID)
}

func (r *StoreResolver) demoTenant() (*Tenant, error) {
	if r.demoURI == "" {
		return nil, fmt.Errorf("%w: demo tenant is not configured", ErrNotFound)
	}

	encrypted, err := r.vault.Encrypt(r.demoURI)
	if err != nil {
		return nil, fmt.Errorf("encrypt demo secret: %w", err)
	}

	return &Tenant{
		EncryptedSecret: encrypted,
		Database:        DemoTenantID,
		Hostname:        "local",
		DisplayConfig: map[string][]string{
			"default": {"name"},
			"users":   {"name", "email"},
		},
	}, nil
}
