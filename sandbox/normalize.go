// Copyright 2025 TenantGate
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bytes"
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// Normalize converts an evaluation result to its canonical extended-JSON
// representation, decoded back into plain Go values. BSON-specific types
// (ObjectID, int64, Decimal128, dates, binary) survive as their extended-JSON
// forms instead of being silently truncated to doubles.
func Normalize(value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}

	// Wrap so scalars and documents share one marshal path.
	raw, err := bson.MarshalExtJSON(bson.D{{Key: "v", Value: value}}, true, false)
	if err != nil {
		return nil, fmt.Errorf("marshal extended JSON: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var wrapper map[string]interface{}
	if err := dec.Decode(&wrapper); err != nil {
		return nil, fmt.Errorf("decode extended JSON: %w", err)
	}

	return wrapper["v"], nil
}
