// Copyright 2025 TenantGate
// SPDX-License-Identifier: Apache-2.0

package conncache

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	// DefaultConnectTimeout is the default connection timeout
	DefaultConnectTimeout = 10 * time.Second
	// DefaultMaxPoolSize is the default maximum connection pool size
	DefaultMaxPoolSize = 100
	// DefaultMinPoolSize is the default minimum connection pool size
	DefaultMinPoolSize = 10
)

// MongoDialer opens MongoDB clients with production pool settings.
type MongoDialer struct {
	connectTimeout time.Duration
}

// NewMongoDialer creates a dialer with default timeouts.
func NewMongoDialer() *MongoDialer {
	return &MongoDialer{connectTimeout: DefaultConnectTimeout}
}

// Dial connects to uri and scopes the connection to database.
func (d *MongoDialer) Dial(ctx context.Context, uri, database string) (Conn, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(DefaultMaxPoolSize).
		SetMinPoolSize(DefaultMinPoolSize).
		SetConnectTimeout(d.connectTimeout).
		SetRetryWrites(true).
		SetRetryReads(true).
		SetAppName("TenantGate-Gateway")

	dialCtx, cancel := context.WithTimeout(ctx, d.connectTimeout)
	defer cancel()

	client, err := mongo.Connect(dialCtx, opts)
	if err != nil {
		return nil, err
	}

	return &mongoConn{client: client, db: client.Database(database)}, nil
}

// mongoConn adapts *mongo.Client to Conn. The driver's client is safe for
// concurrent use, so one mongoConn serves all callers for a tenant.
type mongoConn struct {
	client *mongo.Client
	db     *mongo.Database
}

func (c *mongoConn) Database() *mongo.Database { return c.db }

func (c *mongoConn) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

func (c *mongoConn) Disconnect(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}
