// Copyright 2025 TenantGate
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator drives model conversations over tenant data. A run
// walks a bounded loop of model calls and tool dispatches, collects a full
// transcript, and on clean termination pairs the model's narrative with the
// structured payloads its tools produced.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"tenantgate/platform/audit"
	"tenantgate/platform/conncache"
	"tenantgate/platform/correlation"
	"tenantgate/platform/orchestrator/llm"
	"tenantgate/platform/sandbox"
	"tenantgate/platform/shared/logger"
)

// DefaultMaxSteps bounds the conversation loop.
const DefaultMaxSteps = 16

// DefaultSystemPrompt steers the model toward sandbox-evaluable MongoDB
// expressions.
const DefaultSystemPrompt = `You are a MongoDB query generation specialist. Your sole responsibility is to generate valid MongoDB queries.

IMPORTANT CONSTRAINTS:
- Generate ONLY MongoDB queries - do not generate SQL, PostgreSQL, or any other database query language
- Never reveal the actual database queries to users
- Only use MongoDB query syntax and operators (e.g., find(), aggregate(), updateOne(), etc.)
- Try to avoid asking additional questions - find answers by yourself or use the decision maker tool

REQUIRED PRACTICES:
- Always maintain createdAt and updatedAt timestamp fields for every collection entry
- For find queries, always append .toArray() at the end to return results as an array
- Use proper MongoDB operators: $set, $inc, $push, $pull, $match, $group, etc.
- Always use English for collection names

QUERY GENERATION GUIDELINES:
- Ensure all queries are syntactically correct MongoDB operations
- Use proper error handling and validation
- Consider indexes and performance implications
- Follow MongoDB best practices for data modeling and querying`

// ErrAbnormalTermination is returned when a conversation ends any way other
// than a clean end-of-turn: step budget exhausted, truncation, or an
// unexpected stop signal. A partial narrative is never reported as success.
var ErrAbnormalTermination = errors.New("conversation terminated abnormally")

// State is the conversation loop state.
type State string

const (
	StateRunning  State = "RUNNING"
	StateToolStep State = "TOOL_STEP"
	StateTerminal State = "TERMINAL"
)

// StepFunc mirrors per-step progress to the caller while a run is in
// flight.
type StepFunc func(step, content string)

// RunParams describes one conversation run.
type RunParams struct {
	TenantID string
	Prompt   string
	OnStep   StepFunc
}

// Result is a cleanly terminated conversation.
type Result struct {
	Narrative  string
	Payloads   []correlation.Payload
	Transcript []audit.TranscriptEntry
}

// Orchestrator runs conversations. Construct with New; all dependencies are
// injected so tests run with fakes end to end.
type Orchestrator struct {
	client       llm.Client
	cache        *conncache.Cache
	correlations *correlation.Store
	recorder     *audit.Recorder
	tools        []Tool
	log          *logger.Logger

	model        string
	systemPrompt string
	maxSteps     int

	// databaseFor is replaced in tests to avoid a live connection.
	databaseFor func(ctx context.Context, tenantID string) (sandbox.Database, error)
}

// Options tunes an Orchestrator.
type Options struct {
	Model        string
	SystemPrompt string
	MaxSteps     int
	Tools        []Tool // defaults to the built-in tool set
}

// New creates an Orchestrator with the built-in tools.
func New(client llm.Client, cache *conncache.Cache, correlations *correlation.Store, recorder *audit.Recorder, opts Options) *Orchestrator {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}

	tools := opts.Tools
	if tools == nil {
		tools = []Tool{
			&SampleDocTool{},
			&RunQueryTool{Correlations: correlations},
			&DecisionMakerTool{},
		}
	}

	o := &Orchestrator{
		client:       client,
		cache:        cache,
		correlations: correlations,
		recorder:     recorder,
		tools:        tools,
		log:          logger.New("orchestrator"),
		model:        opts.Model,
		systemPrompt: opts.SystemPrompt,
		maxSteps:     opts.MaxSteps,
	}
	o.databaseFor = o.acquireDatabase
	return o
}

func (o *Orchestrator) acquireDatabase(ctx context.Context, tenantID string) (sandbox.Database, error) {
	handle, err := o.cache.Acquire(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return sandbox.NewMongoDatabase(handle.Conn.Database()), nil
}

func (o *Orchestrator) toolByName(name string) Tool {
	for _, t := range o.tools {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

func (o *Orchestrator) toolDefs() []llm.Tool {
	defs := make([]llm.Tool, 0, len(o.tools))
	for _, t := range o.tools {
		defs = append(defs, llm.Tool{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return defs
}

// Run executes one conversation to completion. On clean termination it
// drains the run's correlation slot, writes exactly one PROMPT audit
// record, and returns the narrative with its structured payloads. Any other
// ending returns ErrAbnormalTermination.
func (o *Orchestrator) Run(ctx context.Context, params RunParams) (*Result, error) {
	if params.Prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	db, err := o.databaseFor(ctx, params.TenantID)
	if err != nil {
		return nil, err
	}

	referenceID := correlation.NewReference()
	tc := ToolContext{
		TenantID:    params.TenantID,
		Database:    db,
		ReferenceID: referenceID,
	}

	messages := []llm.Message{{
		Role:    llm.RoleUser,
		Content: []llm.ContentBlock{llm.TextBlock(params.Prompt)},
	}}

	var transcript []audit.TranscriptEntry
	record := func(step, content string) {
		transcript = append(transcript, audit.TranscriptEntry{
			Index:   len(transcript) + 1,
			Step:    step,
			Content: content,
		})
		if params.OnStep != nil {
			params.OnStep(step, content)
		}
	}

	state := StateRunning
	var narrative string

	for step := 0; step < o.maxSteps; step++ {
		resp, err := o.client.Complete(ctx, llm.Request{
			Model:    o.model,
			System:   o.systemPrompt,
			Messages: messages,
			Tools:    o.toolDefs(),
		})
		if err != nil {
			o.drainDiscard(referenceID)
			return nil, err
		}

		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
		record("model", modelStepContent(resp))

		switch resp.StopReason {
		case llm.StopEndTurn:
			state = StateTerminal
			narrative = resp.Text()

		case llm.StopToolUse:
			state = StateToolStep
			results, err := o.dispatchTools(ctx, tc, resp.ToolUses(), record)
			if err != nil {
				o.drainDiscard(referenceID)
				return nil, err
			}
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: results})

		default:
			o.drainDiscard(referenceID)
			return nil, fmt.Errorf("%w: stop reason %q", ErrAbnormalTermination, resp.StopReason)
		}

		if state == StateTerminal {
			break
		}
	}

	if state != StateTerminal {
		o.drainDiscard(referenceID)
		return nil, fmt.Errorf("%w: step budget of %d exhausted", ErrAbnormalTermination, o.maxSteps)
	}

	payloads := o.correlations.Drain(referenceID)

	if err := o.recorder.RecordPrompt(ctx, params.TenantID, audit.PromptDetails{
		Prompt:     params.Prompt,
		Narrative:  narrative,
		Payloads:   payloads,
		Transcript: transcript,
	}); err != nil {
		return nil, fmt.Errorf("record prompt audit: %w", err)
	}

	o.log.Info(params.TenantID, referenceID, "Conversation completed", map[string]interface{}{
		"steps":    len(transcript),
		"payloads": len(payloads),
	})

	return &Result{
		Narrative:  narrative,
		Payloads:   payloads,
		Transcript: transcript,
	}, nil
}

// dispatchTools invokes each requested tool and packages the results for
// the next model turn. A failing tool is reported back to the model as an
// error result rather than aborting the run.
func (o *Orchestrator) dispatchTools(ctx context.Context, tc ToolContext, uses []llm.ContentBlock, record func(step, content string)) ([]llm.ContentBlock, error) {
	if len(uses) == 0 {
		return nil, fmt.Errorf("%w: tool_use stop with no tool calls", ErrAbnormalTermination)
	}

	var results []llm.ContentBlock
	for _, use := range uses {
		tool := o.toolByName(use.Name)
		if tool == nil {
			record(use.Name+" (tool)", "unknown tool")
			results = append(results, llm.ToolResultBlock(use.ID, fmt.Sprintf("unknown tool %q", use.Name), true))
			continue
		}

		out, err := tool.Invoke(ctx, tc, use.Input)
		if err != nil {
			record(use.Name+" (tool)", err.Error())
			results = append(results, llm.ToolResultBlock(use.ID, err.Error(), true))
			continue
		}

		record(use.Name+" (tool)", out)
		results = append(results, llm.ToolResultBlock(use.ID, out, false))
	}

	return results, nil
}

// drainDiscard empties an abandoned correlation slot so failed runs leave
// no state behind.
func (o *Orchestrator) drainDiscard(referenceID string) {
	_ = o.correlations.Drain(referenceID)
}

// modelStepContent renders a model response for the transcript: plain text
// for narrative turns, serialized blocks when tools are requested.
func modelStepContent(resp *llm.Response) string {
	if uses := resp.ToolUses(); len(uses) > 0 {
		raw, err := json.Marshal(resp.Content)
		if err != nil {
			return resp.Text()
		}
		return string(raw)
	}
	return resp.Text()
}
