// Copyright 2025 TenantGate
// SPDX-License-Identifier: Apache-2.0

package tenant

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tenantgate/platform/shared/logger"
	"tenantgate/platform/vault"
)

const (
	tenantsCollection = "tenants"

	// validateTimeout bounds the dial+ping performed before a tenant is
	// persisted.
	validateTimeout = 10 * time.Second
)

// Store persists tenant records in the gateway's manager database.
// Connection secrets are encrypted with the vault before they are written.
type Store struct {
	col   *mongo.Collection
	vault *vault.Vault
	log   *logger.Logger

	// validate is swapped out in tests to avoid dialing real databases.
	validate func(ctx context.Context, uri, database string) error
}

// NewStore creates a Store on the manager database.
func NewStore(managerDB *mongo.Database, v *vault.Vault) *Store {
	return &Store{
		col:      managerDB.Collection(tenantsCollection),
		vault:    v,
		log:      logger.New("tenant-store"),
		validate: validateConnection,
	}
}

// Get loads a tenant by its id. Unknown or malformed ids yield ErrNotFound.
func (s *Store) Get(ctx context.Context, tenantID string) (*Tenant, error) {
	oid, err := primitive.ObjectIDFromHex(tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, tenantID)
	}

	var t Tenant
	err = s.col.FindOne(ctx, bson.M{"_id": oid}).Decode(&t)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("load tenant %s: %w", tenantID, err)
	}

	return &t, nil
}

// List returns all tenants owned by userID.
func (s *Store) List(ctx context.Context, userID string) ([]Tenant, error) {
	cursor, err := s.col.Find(ctx, bson.M{"userId": userID})
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer cursor.Close(ctx)

	var tenants []Tenant
	if err := cursor.All(ctx, &tenants); err != nil {
		return nil, fmt.Errorf("decode tenants: %w", err)
	}

	return tenants, nil
}

// CreateParams holds the inputs for registering a tenant.
type CreateParams struct {
	UserID           string
	ConnectionString string
	Database         string
	DisplayConfig    map[string][]string
}

// Create validates the supplied connection by dialing and pinging the target
// database, then encrypts the connection string and persists the record.
// The plaintext secret is never stored or logged.
func (s *Store) Create(ctx context.Context, p CreateParams) (*Tenant, error) {
	if err := s.validate(ctx, p.ConnectionString, p.Database); err != nil {
		return nil, fmt.Errorf("invalid database connection: %w", err)
	}

	hostname, err := HostnameFromURI(p.ConnectionString)
	if err != nil {
		return nil, err
	}

	encrypted, err := s.vault.Encrypt(p.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("encrypt connection secret: %w", err)
	}

	t := Tenant{
		EncryptedSecret: encrypted,
		Database:        p.Database,
		Hostname:        hostname,
		UserID:          p.UserID,
		DisplayConfig:   p.DisplayConfig,
	}

	result, err := s.col.InsertOne(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("insert tenant: %w", err)
	}
	t.ID = result.InsertedID.(primitive.ObjectID)

	s.log.Info(t.ID.Hex(), "", "Tenant created", map[string]interface{}{
		"database": t.Database,
		"hostname": t.Hostname,
	})

	return &t, nil
}

// Delete removes a tenant owned by userID. It reports whether a record was
// deleted.
func (s *Store) Delete(ctx context.Context, tenantID, userID string) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(tenantID)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrNotFound, tenantID)
	}

	result, err := s.col.DeleteOne(ctx, bson.M{"_id": oid, "userId": userID})
	if err != nil {
		return false, fmt.Errorf("delete tenant %s: %w", tenantID, err)
	}

	return result.DeletedCount > 0, nil
}

// validateConnection dials the URI and pings the target database, then
// closes the probe client.
func validateConnection(ctx context.Context, uri, database string) error {
	dialCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	client, err := mongo.Connect(dialCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Disconnect(context.Background())
	}()

	return client.Database(database).RunCommand(dialCtx, bson.D{{Key: "ping", Value: 1}}).Err()
}
