// Copyright 2025 TenantGate
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenantgate/platform/audit"
	"tenantgate/platform/correlation"
	"tenantgate/platform/orchestrator/llm"
	"tenantgate/platform/sandbox"
)

// scriptedClient replays canned model responses in order.
type scriptedClient struct {
	responses []*llm.Response
	requests  []llm.Request
	err       error
}

func (c *scriptedClient) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	c.requests = append(c.requests, req)
	if c.err != nil {
		return nil, c.err
	}
	i := len(c.requests) - 1
	if i >= len(c.responses) {
		i = len(c.responses) - 1
	}
	return c.responses[i], nil
}

type memorySink struct {
	records []audit.Record
}

func (s *memorySink) Append(_ context.Context, record audit.Record) error {
	s.records = append(s.records, record)
	return nil
}

// stubDatabase serves fixed data through the sandbox capability interface.
type stubDatabase struct {
	count     int64
	sampleDoc interface{}
}

func (d *stubDatabase) Collection(string) sandbox.Collection { return &stubCollection{db: d} }

type stubCollection struct {
	db *stubDatabase
}

func (c *stubCollection) Find(context.Context, interface{}, sandbox.FindOptions) ([]interface{}, error) {
	return []interface{}{}, nil
}
func (c *stubCollection) FindOne(context.Context, interface{}, sandbox.FindOptions) (interface{}, error) {
	return nil, nil
}
func (c *stubCollection) Aggregate(context.Context, interface{}) ([]interface{}, error) {
	if c.db.sampleDoc == nil {
		return []interface{}{}, nil
	}
	return []interface{}{c.db.sampleDoc}, nil
}
func (c *stubCollection) CountDocuments(context.Context, interface{}) (int64, error) {
	return c.db.count, nil
}
func (c *stubCollection) InsertOne(context.Context, interface{}) (interface{}, error) {
	return nil, errors.New("not supported")
}
func (c *stubCollection) InsertMany(context.Context, []interface{}) (interface{}, error) {
	return nil, errors.New("not supported")
}
func (c *stubCollection) UpdateOne(context.Context, interface{}, interface{}) (interface{}, error) {
	return nil, errors.New("not supported")
}
func (c *stubCollection) UpdateMany(context.Context, interface{}, interface{}) (interface{}, error) {
	return nil, errors.New("not supported")
}
func (c *stubCollection) DeleteOne(context.Context, interface{}) (int64, error) {
	return 0, errors.New("not supported")
}
func (c *stubCollection) DeleteMany(context.Context, interface{}) (int64, error) {
	return 0, errors.New("not supported")
}

func toolUseResponse(id, name, input string) *llm.Response {
	return &llm.Response{
		StopReason: llm.StopToolUse,
		Content: []llm.ContentBlock{
			llm.TextBlock("let me check"),
			{Type: llm.BlockToolUse, ID: id, Name: name, Input: []byte(input)},
		},
	}
}

func endTurnResponse(text string) *llm.Response {
	return &llm.Response{
		StopReason: llm.StopEndTurn,
		Content:    []llm.ContentBlock{llm.TextBlock(text)},
	}
}

func newTestOrchestrator(client llm.Client, sink audit.Sink, opts Options) (*Orchestrator, *correlation.Store) {
	store := correlation.NewStore()
	o := New(client, nil, store, audit.NewRecorder(sink), opts)
	o.databaseFor = func(context.Context, string) (sandbox.Database, error) {
		return &stubDatabase{count: 12}, nil
	}
	return o, store
}

func TestRunTerminalConversationWithToolPayload(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{
		toolUseResponse("tu_1", "run_mongo_query", `{"mongoQuery": "db.users.countDocuments({})"}`),
		endTurnResponse("There are 12 users."),
	}}
	sink := &memorySink{}
	o, _ := newTestOrchestrator(client, sink, Options{})

	var steps []string
	result, err := o.Run(t.Context(), RunParams{
		TenantID: "t1",
		Prompt:   "how many users are there?",
		OnStep:   func(step, _ string) { steps = append(steps, step) },
	})
	require.NoError(t, err)

	assert.Equal(t, "There are 12 users.", result.Narrative)

	// The tool's payload was drained into the result.
	require.Len(t, result.Payloads, 1)
	assert.Equal(t, `db.users.countDocuments({})`, result.Payloads[0].Query)

	// Transcript covers every step in order with increasing indexes.
	require.Len(t, result.Transcript, 3)
	assert.Equal(t, "model", result.Transcript[0].Step)
	assert.Equal(t, "run_mongo_query (tool)", result.Transcript[1].Step)
	assert.Equal(t, "model", result.Transcript[2].Step)
	for i, e := range result.Transcript {
		assert.Equal(t, i+1, e.Index)
	}

	// The callback saw the same steps.
	assert.Equal(t, []string{"model", "run_mongo_query (tool)", "model"}, steps)

	// Exactly one PROMPT audit record.
	require.Len(t, sink.records, 1)
	rec := sink.records[0]
	assert.Equal(t, audit.KindPrompt, rec.Kind)
	assert.Equal(t, "t1", rec.TenantID)
	require.NotNil(t, rec.Prompt)
	assert.Equal(t, "how many users are there?", rec.Prompt.Prompt)
	assert.Len(t, rec.Prompt.Payloads, 1)
	assert.Len(t, rec.Prompt.Transcript, 3)

	// The second model call carried the tool result back.
	require.Len(t, client.requests, 2)
	last := client.requests[1].Messages
	toolMsg := last[len(last)-1]
	require.Len(t, toolMsg.Content, 1)
	assert.Equal(t, llm.BlockToolResult, toolMsg.Content[0].Type)
	assert.Equal(t, "tu_1", toolMsg.Content[0].ToolUseID)
	assert.False(t, toolMsg.Content[0].IsError)
}

func TestRunStepBudgetExhausted(t *testing.T) {
	// The model keeps asking for tools forever.
	client := &scriptedClient{responses: []*llm.Response{
		toolUseResponse("tu_x", "decision_maker", `{"eventName": "GAME_FINISHED"}`),
	}}
	sink := &memorySink{}
	o, store := newTestOrchestrator(client, sink, Options{MaxSteps: 3})

	_, err := o.Run(t.Context(), RunParams{TenantID: "t1", Prompt: "loop forever"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAbnormalTermination))
	assert.Len(t, client.requests, 3)

	// No audit record, no leaked correlation slots.
	assert.Empty(t, sink.records)
	assertNoSlots(t, store)
}

func TestRunUnexpectedStopReason(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{
		{StopReason: llm.StopMaxTokens, Content: []llm.ContentBlock{llm.TextBlock("truncated...")}},
	}}
	sink := &memorySink{}
	o, _ := newTestOrchestrator(client, sink, Options{})

	_, err := o.Run(t.Context(), RunParams{TenantID: "t1", Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAbnormalTermination))
	assert.Empty(t, sink.records, "a truncated run must not be reported as success")
}

func TestRunModelError(t *testing.T) {
	client := &scriptedClient{err: errors.New("api down")}
	sink := &memorySink{}
	o, _ := newTestOrchestrator(client, sink, Options{})

	_, err := o.Run(t.Context(), RunParams{TenantID: "t1", Prompt: "hi"})
	require.Error(t, err)
	assert.Empty(t, sink.records)
}

func TestRunUnknownToolReportedToModel(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{
		toolUseResponse("tu_1", "no_such_tool", `{}`),
		endTurnResponse("done"),
	}}
	sink := &memorySink{}
	o, _ := newTestOrchestrator(client, sink, Options{})

	result, err := o.Run(t.Context(), RunParams{TenantID: "t1", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "done", result.Narrative)

	require.Len(t, client.requests, 2)
	last := client.requests[1].Messages
	toolMsg := last[len(last)-1]
	require.Len(t, toolMsg.Content, 1)
	assert.True(t, toolMsg.Content[0].IsError)
}

func TestRunRequiresPrompt(t *testing.T) {
	o, _ := newTestOrchestrator(&scriptedClient{}, &memorySink{}, Options{})

	_, err := o.Run(t.Context(), RunParams{TenantID: "t1"})
	assert.Error(t, err)
}

func TestSampleDocTool(t *testing.T) {
	tool := &SampleDocTool{}
	tc := ToolContext{Database: &stubDatabase{sampleDoc: map[string]interface{}{"name": "ada"}}}

	out, err := tool.Invoke(t.Context(), tc, []byte(`{"collectionName": "users"}`))
	require.NoError(t, err)
	assert.Contains(t, out, "ada")
}

func TestSampleDocToolEmptyCollection(t *testing.T) {
	tool := &SampleDocTool{}
	tc := ToolContext{Database: &stubDatabase{}}

	out, err := tool.Invoke(t.Context(), tc, []byte(`{"collectionName": "users"}`))
	require.NoError(t, err)
	assert.Equal(t, "null", out)
}

func TestRunQueryToolRecordsPayload(t *testing.T) {
	store := correlation.NewStore()
	tool := &RunQueryTool{Correlations: store}
	tc := ToolContext{Database: &stubDatabase{count: 7}, ReferenceID: correlation.NewReference()}

	out, err := tool.Invoke(t.Context(), tc, []byte(`{"mongoQuery": "db.users.countDocuments({})"}`))
	require.NoError(t, err)
	assert.Contains(t, out, `"status":"success"`)

	payloads := store.Drain(tc.ReferenceID)
	require.Len(t, payloads, 1)
	assert.Equal(t, `db.users.countDocuments({})`, payloads[0].Query)
}

func TestRunQueryToolDisallowedExpression(t *testing.T) {
	store := correlation.NewStore()
	tool := &RunQueryTool{Correlations: store}
	tc := ToolContext{Database: &stubDatabase{}, ReferenceID: correlation.NewReference()}

	out, err := tool.Invoke(t.Context(), tc, []byte(`{"mongoQuery": "db.users.drop()"}`))
	require.NoError(t, err, "a rejected expression is a tool-level failure, not a run failure")
	assert.Contains(t, out, `"status":"failed"`)

	assert.Empty(t, store.Drain(tc.ReferenceID), "failed expressions leave no payload")
}

func TestDecisionMakerRules(t *testing.T) {
	tool := &DecisionMakerTool{}

	tests := []struct {
		event string
		want  string
	}{
		{"GAME_FINISHED", "Make sure ratings are calculated for users based on game results. Store games information optimal way"},
		{"GAME_STARTED", "Store games information optimal way"},
		{"USER_SIGNUP", decisionFallback},
	}

	for _, tt := range tests {
		out, err := tool.Invoke(t.Context(), ToolContext{}, []byte(fmt.Sprintf(`{"eventName": %q}`, tt.event)))
		require.NoError(t, err)
		assert.Equal(t, tt.want, out, "event %s", tt.event)
	}
}

// assertNoSlots drains a sentinel id to confirm the store is reachable, and
// relies on the run discarding its own slot.
func assertNoSlots(t *testing.T, store *correlation.Store) {
	t.Helper()
	assert.Empty(t, store.Drain("sentinel"))
}
