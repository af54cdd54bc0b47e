// Copyright 2025 TenantGate
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"tenantgate/platform/correlation"
	"tenantgate/platform/sandbox"
)

// ToolContext is the request-scoped state a tool runs with. Tools see only
// the conversation's tenant database and correlation slot.
type ToolContext struct {
	TenantID    string
	Database    sandbox.Database
	ReferenceID string
}

// Tool is one callable exposed to the model.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Invoke(ctx context.Context, tc ToolContext, input json.RawMessage) (string, error)
}

// stringSchema builds the single-string-field input schema all built-in
// tools share.
func stringSchema(field, description string) map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			field: map[string]interface{}{
				"type":        "string",
				"description": description,
			},
		},
		"required": []string{field},
	}
}

// SampleDocTool returns one random document from a collection so the model
// can discover its shape before writing queries.
type SampleDocTool struct{}

func (t *SampleDocTool) Name() string { return "get_sample_doc" }

func (t *SampleDocTool) Description() string {
	return "Get a sample document to view what kind of fields are available in the collection"
}

func (t *SampleDocTool) InputSchema() map[string]interface{} {
	return stringSchema("collectionName", "Collection name")
}

func (t *SampleDocTool) Invoke(ctx context.Context, tc ToolContext, input json.RawMessage) (string, error) {
	var args struct {
		CollectionName string `json:"collectionName"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}

	docs, err := tc.Database.Collection(args.CollectionName).Aggregate(ctx, []interface{}{
		map[string]interface{}{"$sample": map[string]interface{}{"size": 1}},
	})
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "null", nil
	}

	normalized, err := sandbox.Normalize(docs[0])
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(normalized)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// RunQueryTool evaluates a model-authored expression in the sandbox and
// records the query with its result in the conversation's correlation slot.
type RunQueryTool struct {
	Correlations *correlation.Store
}

func (t *RunQueryTool) Name() string { return "run_mongo_query" }

func (t *RunQueryTool) Description() string {
	return "Run mongo query and return back the result"
}

func (t *RunQueryTool) InputSchema() map[string]interface{} {
	return stringSchema("mongoQuery", "mongo query to run")
}

func (t *RunQueryTool) Invoke(ctx context.Context, tc ToolContext, input json.RawMessage) (string, error) {
	var args struct {
		MongoQuery string `json:"mongoQuery"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}

	value, err := sandbox.Evaluate(ctx, tc.Database, args.MongoQuery)
	if err != nil {
		out, _ := json.Marshal(map[string]interface{}{
			"status": "failed",
			"error":  err.Error(),
		})
		return string(out), nil
	}

	t.Correlations.Append(tc.ReferenceID, correlation.Payload{
		Query:  args.MongoQuery,
		Result: value,
	})

	out, err := json.Marshal(map[string]interface{}{
		"status": "success",
		"query":  args.MongoQuery,
		"result": value,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// DecisionRule maps an event-name fragment to predefined guidance.
type DecisionRule struct {
	Contains string
	Advice   string
}

// DefaultDecisionRules is the built-in event rule set.
var DefaultDecisionRules = []DecisionRule{
	{Contains: "GAME_FINISHED", Advice: "Make sure ratings are calculated for users based on game results"},
	{Contains: "GAME", Advice: "Store games information optimal way"},
}

const decisionFallback = "AI_DECISION_REQUIRED: No predefined handlers exist for this event. " +
	"You should analyze the event data and determine appropriate actions based on the event type, " +
	"data structure, and business logic. Consider what database operations or actions would be " +
	"meaningful for this event. Decide yourself, without human."

// DecisionMakerTool answers event-handling questions from a fixed rule set,
// falling back to an explicit decide-yourself instruction.
type DecisionMakerTool struct {
	Rules []DecisionRule
}

func (t *DecisionMakerTool) Name() string { return "decision_maker" }

func (t *DecisionMakerTool) Description() string {
	return "Make decision what to do based on the event data"
}

func (t *DecisionMakerTool) InputSchema() map[string]interface{} {
	return stringSchema("eventName", "name of the event")
}

func (t *DecisionMakerTool) Invoke(_ context.Context, _ ToolContext, input json.RawMessage) (string, error) {
	var args struct {
		EventName string `json:"eventName"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}

	rules := t.Rules
	if rules == nil {
		rules = DefaultDecisionRules
	}

	var advice []string
	for _, rule := range rules {
		if strings.Contains(args.EventName, rule.Contains) {
			advice = append(advice, rule.Advice)
		}
	}

	if len(advice) == 0 {
		return decisionFallback, nil
	}
	return strings.Join(advice, ". "), nil
}
