// Copyright 2025 TenantGate
// SPDX-License-Identifier: Apache-2.0

// Package llm provides the model client used by the conversation
// orchestrator: provider-neutral message and tool types plus an Anthropic
// messages-API implementation with tool-use support.
package llm

import (
	"context"
	"encoding/json"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Content block types.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// Stop reasons reported by the model.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// ContentBlock is one piece of a message: model text, a tool invocation, or
// a tool result fed back to the model.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TextBlock builds a plain text block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolResultBlock builds a tool_result block answering a tool_use block.
func ToolResultBlock(toolUseID, content string, isErr bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isErr}
}

// Message is one turn of the conversation.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// Tool describes a callable tool advertised to the model.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Request is one model call.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []Tool
	MaxTokens int
}

// UsageStats contains token usage statistics
type UsageStats struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Response is the model's reply to one Request.
type Response struct {
	Content    []ContentBlock
	StopReason string
	Model      string
	Usage      UsageStats
}

// Text concatenates the response's text blocks.
func (r *Response) Text() string {
	var out string
	for _, b := range r.Content {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolUses returns the response's tool_use blocks in order.
func (r *Response) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, b := range r.Content {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// Client is the model interface the orchestrator drives. Implementations
// must be safe for concurrent use.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
