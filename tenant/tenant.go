// Copyright 2025 TenantGate
// SPDX-License-Identifier: Apache-2.0

// Package tenant holds the tenant registry: the record describing each
// tenant's target database, a Mongo-backed store for tenant CRUD, and a
// resolver that maps tenant ids to records (including the reserved demo
// tenant).
package tenant

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DemoTenantID is the reserved tenant id served from local configuration
// instead of the tenant store.
const DemoTenantID = "demo"

// ErrNotFound is returned when no tenant exists for a given id.
var ErrNotFound = errors.New("tenant not found")

// Tenant is the stored record for one tenant. The connection secret is held
// only in encrypted form; plaintext exists transiently during connection
// establishment.
type Tenant struct {
	ID              primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	EncryptedSecret string              `bson:"encryptedDbConnectionString" json:"-"`
	Database        string              `bson:"dbName" json:"dbName"`
	Hostname        string              `bson:"hostname" json:"hostname"`
	UserID          string              `bson:"userId" json:"-"`
	DisplayConfig   map[string][]string `bson:"displayConfig" json:"displayConfig"`
}

// TenantID returns the external string form of the tenant's id.
func (t *Tenant) TenantID() string {
	if t.ID.IsZero() {
		return DemoTenantID
	}
	return t.ID.Hex()
}

// Resolver maps a tenant id to its record. Implementations return
// ErrNotFound when the id is unknown.
type Resolver interface {
	Resolve(ctx context.Context, tenantID string) (*Tenant, error)
}
