// Copyright 2025 TenantGate
// SPDX-License-Identifier: Apache-2.0

// Package audit records every data mutation and every conversation the
// gateway performs. Records are append-only: nothing in the gateway core
// updates or deletes them.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tenantgate/platform/correlation"
)

// Kind discriminates audit record payloads.
type Kind string

const (
	KindQuery  Kind = "QUERY"
	KindUpdate Kind = "UPDATE"
	KindDelete Kind = "DELETE"
	KindPrompt Kind = "PROMPT"
)

// TranscriptEntry is one step of a conversation, kept for audit replay.
type TranscriptEntry struct {
	Index   int    `bson:"index" json:"index"`
	Step    string `bson:"step" json:"step"`
	Content string `bson:"content" json:"content"`
}

// QueryDetails records a batch of sandbox expressions. Result sizes stand in
// for result bodies so the log does not duplicate tenant data.
type QueryDetails struct {
	Queries     []string `bson:"queries" json:"queries"`
	ResultSizes []int    `bson:"results" json:"results"`
}

// UpdateDetails records a single-document update.
type UpdateDetails struct {
	Collection     string      `bson:"collection" json:"collection"`
	ID             string      `bson:"id" json:"id"`
	AppliedFields  interface{} `bson:"data" json:"data"`
	ResultDocument interface{} `bson:"result" json:"result"`
}

// DeleteDetails records a single-document delete.
type DeleteDetails struct {
	Collection   string `bson:"collection" json:"collection"`
	ID           string `bson:"id" json:"id"`
	DeletedCount int64  `bson:"deletedCount" json:"deletedCount"`
}

// PromptDetails records one full conversation: the prompt, the model's
// narrative answer, the structured payloads drained from the correlation
// store, and the step-by-step transcript.
type PromptDetails struct {
	Prompt     string                `bson:"prompt" json:"prompt"`
	Narrative  string                `bson:"result" json:"result"`
	Payloads   []correlation.Payload `bson:"data" json:"data"`
	Transcript []TranscriptEntry     `bson:"debug" json:"debug"`
}

// Record is one audit entry. Exactly one detail field is set, matching Kind.
type Record struct {
	ID        string    `bson:"_id" json:"id"`
	Kind      Kind      `bson:"type" json:"type"`
	TenantID  string    `bson:"tenantId" json:"tenantId"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`

	Query  *QueryDetails  `bson:"query,omitempty" json:"query,omitempty"`
	Update *UpdateDetails `bson:"update,omitempty" json:"update,omitempty"`
	Delete *DeleteDetails `bson:"delete,omitempty" json:"delete,omitempty"`
	Prompt *PromptDetails `bson:"promptDetails,omitempty" json:"promptDetails,omitempty"`
}

// Sink persists audit records.
type Sink interface {
	Append(ctx context.Context, record Record) error
}

// Recorder builds and appends audit records.
type Recorder struct {
	sink Sink
	now  func() time.Time
}

// NewRecorder creates a Recorder over sink.
func NewRecorder(sink Sink) *Recorder {
	return &Recorder{sink: sink, now: time.Now}
}

func (r *Recorder) append(ctx context.Context, tenantID string, kind Kind, fill func(*Record)) error {
	record := Record{
		ID:        uuid.NewString(),
		Kind:      kind,
		TenantID:  tenantID,
		Timestamp: r.now().UTC(),
	}
	fill(&record)
	return r.sink.Append(ctx, record)
}

// RecordQuery appends one QUERY record covering a whole expression batch.
func (r *Recorder) RecordQuery(ctx context.Context, tenantID string, d QueryDetails) error {
	return r.append(ctx, tenantID, KindQuery, func(rec *Record) { rec.Query = &d })
}

// RecordUpdate appends one UPDATE record.
func (r *Recorder) RecordUpdate(ctx context.Context, tenantID string, d UpdateDetails) error {
	return r.append(ctx, tenantID, KindUpdate, func(rec *Record) { rec.Update = &d })
}

// RecordDelete appends one DELETE record.
func (r *Recorder) RecordDelete(ctx context.Context, tenantID string, d DeleteDetails) error {
	return r.append(ctx, tenantID, KindDelete, func(rec *Record) { rec.Delete = &d })
}

// RecordPrompt appends one PROMPT record for a completed conversation.
func (r *Recorder) RecordPrompt(ctx context.Context, tenantID string, d PromptDetails) error {
	return r.append(ctx, tenantID, KindPrompt, func(rec *Record) { rec.Prompt = &d })
}
