// Copyright 2025 TenantGate
// SPDX-License-Identifier: Apache-2.0

// Package dataops is the direct data surface of the gateway: collection
// listing, batch expression execution, and single-document operations, each
// producing its audit record.
package dataops

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"tenantgate/platform/audit"
	"tenantgate/platform/conncache"
	"tenantgate/platform/sandbox"
	"tenantgate/platform/shared/logger"
)

// ErrDocumentNotFound is returned by document operations when no document
// matches the id.
var ErrDocumentNotFound = errors.New("document not found")

// DocumentCollection is the single-document surface of one collection.
type DocumentCollection interface {
	FindByID(ctx context.Context, id interface{}) (interface{}, error)
	UpdateByID(ctx context.Context, id interface{}, fields interface{}) (interface{}, error)
	DeleteByID(ctx context.Context, id interface{}) (int64, error)
}

// Database is everything dataops needs from a tenant database: the sandbox
// capability for expressions plus listing and document access.
type Database interface {
	sandbox.Database
	ListCollectionNames(ctx context.Context) ([]string, error)
	Docs(name string) DocumentCollection
}

// Service executes data operations against tenant databases.
type Service struct {
	cache    *conncache.Cache
	recorder *audit.Recorder
	log      *logger.Logger

	// databaseFor is replaced in tests.
	databaseFor func(ctx context.Context, tenantID string) (Database, error)
}

// NewService creates a Service over the connection cache.
func NewService(cache *conncache.Cache, recorder *audit.Recorder) *Service {
	s := &Service{
		cache:    cache,
		recorder: recorder,
		log:      logger.New("dataops"),
	}
	s.databaseFor = func(ctx context.Context, tenantID string) (Database, error) {
		handle, err := cache.Acquire(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		return NewMongoDatabase(handle.Conn.Database()), nil
	}
	return s
}

// ListCollections returns the collection names of the tenant's database.
func (s *Service) ListCollections(ctx context.Context, tenantID string) ([]string, error) {
	db, err := s.databaseFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return db.ListCollectionNames(ctx)
}

// RunQueries evaluates a batch of expressions and writes one QUERY audit
// record for the whole batch. Outcomes are returned in input order; a
// failing expression never aborts its siblings.
func (s *Service) RunQueries(ctx context.Context, tenantID string, queries []string) ([]sandbox.Outcome, error) {
	db, err := s.databaseFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	outcomes := sandbox.EvaluateBatch(ctx, db, queries)

	sizes := make([]int, len(outcomes))
	for i, o := range outcomes {
		sizes[i] = resultSize(o)
	}

	if err := s.recorder.RecordQuery(ctx, tenantID, audit.QueryDetails{
		Queries:     queries,
		ResultSizes: sizes,
	}); err != nil {
		return nil, err
	}

	return outcomes, nil
}

// GetDocument loads one document by id.
func (s *Service) GetDocument(ctx context.Context, tenantID, collection, id string) (interface{}, error) {
	db, err := s.databaseFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	doc, err := db.Docs(collection).FindByID(ctx, CoerceID(id))
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}

	return sandbox.Normalize(doc)
}

// UpdateDocument applies a $set of fields to one document and returns the
// updated document, recording an UPDATE audit entry. The _id field is never
// updatable.
func (s *Service) UpdateDocument(ctx context.Context, tenantID, collection, id string, fields map[string]interface{}) (interface{}, error) {
	db, err := s.databaseFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	delete(fields, "_id")

	doc, err := db.Docs(collection).UpdateByID(ctx, CoerceID(id), fields)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}

	normalized, err := sandbox.Normalize(doc)
	if err != nil {
		return nil, err
	}

	if err := s.recorder.RecordUpdate(ctx, tenantID, audit.UpdateDetails{
		Collection:     collection,
		ID:             id,
		AppliedFields:  fields,
		ResultDocument: normalized,
	}); err != nil {
		return nil, err
	}

	return normalized, nil
}

// DeleteDocument removes one document by id, recording a DELETE audit
// entry.
func (s *Service) DeleteDocument(ctx context.Context, tenantID, collection, id string) (int64, error) {
	db, err := s.databaseFor(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	deleted, err := db.Docs(collection).DeleteByID(ctx, CoerceID(id))
	if err != nil {
		return 0, err
	}
	if deleted == 0 {
		return 0, ErrDocumentNotFound
	}

	if err := s.recorder.RecordDelete(ctx, tenantID, audit.DeleteDetails{
		Collection:   collection,
		ID:           id,
		DeletedCount: deleted,
	}); err != nil {
		return 0, err
	}

	return deleted, nil
}

// CoerceID maps a 24-hex-character id to an ObjectID and leaves every other
// id as the raw string.
func CoerceID(id string) interface{} {
	if len(id) == 24 {
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			return oid
		}
	}
	return id
}

// resultSize summarizes one outcome for the audit record: element count for
// arrays, 1 for a value, 0 for a failure.
func resultSize(o sandbox.Outcome) int {
	if o.Err != nil {
		return 0
	}
	switch v := o.Value.(type) {
	case []interface{}:
		return len(v)
	case bson.A:
		return len(v)
	case nil:
		return 0
	default:
		return 1
	}
}
