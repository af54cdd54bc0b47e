// Copyright 2025 TenantGate
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
)

const (
	eventLogCollection  = "eventLog"
	promptLogCollection = "promptLog"
)

// MongoSink appends audit records to the gateway's manager database.
// Conversations land in promptLog, data mutations and query batches in
// eventLog, mirroring how downstream tooling reads them.
type MongoSink struct {
	events  *mongo.Collection
	prompts *mongo.Collection
}

// NewMongoSink creates a sink on the manager database.
func NewMongoSink(managerDB *mongo.Database) *MongoSink {
	return &MongoSink{
		events:  managerDB.Collection(eventLogCollection),
		prompts: managerDB.Collection(promptLogCollection),
	}
}

// Append inserts the record. Insert-only; there is no update or delete path.
func (s *MongoSink) Append(ctx context.Context, record Record) error {
	col := s.events
	if record.Kind == KindPrompt {
		col = s.prompts
	}

	if _, err := col.InsertOne(ctx, record); err != nil {
		return fmt.Errorf("append %s audit record: %w", record.Kind, err)
	}
	return nil
}
