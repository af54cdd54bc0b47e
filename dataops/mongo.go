// Copyright 2025 TenantGate
// SPDX-License-Identifier: Apache-2.0

package dataops

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tenantgate/platform/sandbox"
)

// NewMongoDatabase adapts a driver database to the dataops surface,
// delegating expression dispatch to the sandbox's own adapter.
func NewMongoDatabase(db *mongo.Database) Database {
	return &mongoDatabase{
		Database: sandbox.NewMongoDatabase(db),
		db:       db,
	}
}

type mongoDatabase struct {
	sandbox.Database
	db *mongo.Database
}

func (d *mongoDatabase) ListCollectionNames(ctx context.Context) ([]string, error) {
	names, err := d.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

func (d *mongoDatabase) Docs(name string) DocumentCollection {
	return &mongoDocs{col: d.db.Collection(name)}
}

type mongoDocs struct {
	col *mongo.Collection
}

func (c *mongoDocs) FindByID(ctx context.Context, id interface{}) (interface{}, error) {
	var doc bson.D
	err := c.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (c *mongoDocs) UpdateByID(ctx context.Context, id interface{}, fields interface{}) (interface{}, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc bson.D
	err := c.col.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": fields}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (c *mongoDocs) DeleteByID(ctx context.Context, id interface{}) (int64, error) {
	result, err := c.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}
