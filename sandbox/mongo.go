// Copyright 2025 TenantGate
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// NewMongoDatabase adapts a driver database to the sandbox capability
// interface.
func NewMongoDatabase(db *mongo.Database) Database {
	return &mongoDatabase{db: db}
}

type mongoDatabase struct {
	db *mongo.Database
}

func (d *mongoDatabase) Collection(name string) Collection {
	return &mongoCollection{col: d.db.Collection(name)}
}

type mongoCollection struct {
	col *mongo.Collection
}

func (c *mongoCollection) Find(ctx context.Context, filter interface{}, opts FindOptions) ([]interface{}, error) {
	findOpts := options.Find()
	if opts.Projection != nil {
		findOpts.SetProjection(opts.Projection)
	}
	if opts.Sort != nil {
		findOpts.SetSort(opts.Sort)
	}
	if opts.Skip != nil {
		findOpts.SetSkip(*opts.Skip)
	}
	if opts.Limit != nil {
		findOpts.SetLimit(*opts.Limit)
	}

	cursor, err := c.col.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var results []interface{}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, err
	}
	if results == nil {
		results = []interface{}{}
	}
	return results, nil
}

func (c *mongoCollection) FindOne(ctx context.Context, filter interface{}, opts FindOptions) (interface{}, error) {
	findOpts := options.FindOne()
	if opts.Projection != nil {
		findOpts.SetProjection(opts.Projection)
	}

	var result bson.D
	err := c.col.FindOne(ctx, filter, findOpts).Decode(&result)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *mongoCollection) Aggregate(ctx context.Context, pipeline interface{}) ([]interface{}, error) {
	cursor, err := c.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var results []interface{}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, err
	}
	if results == nil {
		results = []interface{}{}
	}
	return results, nil
}

func (c *mongoCollection) CountDocuments(ctx context.Context, filter interface{}) (int64, error) {
	return c.col.CountDocuments(ctx, filter)
}

func (c *mongoCollection) InsertOne(ctx context.Context, document interface{}) (interface{}, error) {
	result, err := c.col.InsertOne(ctx, document)
	if err != nil {
		return nil, err
	}
	return bson.D{{Key: "insertedId", Value: result.InsertedID}}, nil
}

func (c *mongoCollection) InsertMany(ctx context.Context, documents []interface{}) (interface{}, error) {
	result, err := c.col.InsertMany(ctx, documents)
	if err != nil {
		return nil, err
	}
	return bson.D{{Key: "insertedIds", Value: result.InsertedIDs}}, nil
}

func (c *mongoCollection) UpdateOne(ctx context.Context, filter, update interface{}) (interface{}, error) {
	result, err := c.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, err
	}
	return updateResult(result), nil
}

func (c *mongoCollection) UpdateMany(ctx context.Context, filter, update interface{}) (interface{}, error) {
	result, err := c.col.UpdateMany(ctx, filter, update)
	if err != nil {
		return nil, err
	}
	return updateResult(result), nil
}

func (c *mongoCollection) DeleteOne(ctx context.Context, filter interface{}) (int64, error) {
	result, err := c.col.DeleteOne(ctx, filter)
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

func (c *mongoCollection) DeleteMany(ctx context.Context, filter interface{}) (int64, error) {
	result, err := c.col.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

func updateResult(r *mongo.UpdateResult) bson.D {
	return bson.D{
		{Key: "matchedCount", Value: r.MatchedCount},
		{Key: "modifiedCount", Value: r.ModifiedCount},
	}
}
