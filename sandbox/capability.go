// Copyright 2025 TenantGate
// SPDX-License-Identifier: Apache-2.0

package sandbox

import "context"

// FindOptions carries the chainable modifiers of a find.
type FindOptions struct {
	Projection interface{}
	Sort       interface{}
	Skip       *int64
	Limit      *int64
}

// Database is the only capability an expression can reach: named collections
// of one tenant's target database. Nothing outside the supplied Database is
// addressable from an expression.
type Database interface {
	Collection(name string) Collection
}

// Collection exposes the allow-listed operations. The mongo adapter
// implements it for production; tests use fakes.
type Collection interface {
	Find(ctx context.Context, filter interface{}, opts FindOptions) ([]interface{}, error)
	FindOne(ctx context.Context, filter interface{}, opts FindOptions) (interface{}, error)
	Aggregate(ctx context.Context, pipeline interface{}) ([]interface{}, error)
	CountDocuments(ctx context.Context, filter interface{}) (int64, error)
	InsertOne(ctx context.Context, document interface{}) (interface{}, error)
	InsertMany(ctx context.Context, documents []interface{}) (interface{}, error)
	UpdateOne(ctx context.Context, filter, update interface{}) (interface{}, error)
	UpdateMany(ctx context.Context, filter, update interface{}) (interface{}, error)
	DeleteOne(ctx context.Context, filter interface{}) (int64, error)
	DeleteMany(ctx context.Context, filter interface{}) (int64, error)
}
