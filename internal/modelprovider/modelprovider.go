// Package modelprovider defines the streaming LLM request/response
// contract the Orchestrator and AgentRunner are built against (spec
// §6 ModelProvider).
package modelprovider

import "context"

// Actor identifies who authored a transcript message.
type Actor string

const (
	ActorSystem Actor = "system"
	ActorUser   Actor = "user"
	ActorAI     Actor = "ai"
)

// MessageType distinguishes plain text turns from tool-protocol turns.
type MessageType string

const (
	MessageText       MessageType = "text"
	MessageToolUse    MessageType = "tool_use"
	MessageToolResult MessageType = "tool_result"
)

// Message is one transcript entry.
type Message struct {
	Actor       Actor
	Type        MessageType
	Content     string
	ToolUseID   string
	ToolName    string
	ToolArgs    string
	IsError     bool
}

// ToolSchema advertises one callable tool to the model.
type ToolSchema struct {
	ID          string
	Name        string
	Description string
	Parameters  map[string]interface{} // JSON Schema
}

// ResponseFormatType constrains how the model must shape its reply.
type ResponseFormatType string

const (
	ResponseFormatText ResponseFormatType = "text"
	ResponseFormatJSON ResponseFormatType = "json_object"
)

// Request carries one model call.
type Request struct {
	SessionID       string
	RequestID       string
	AgentID         string
	Messages        []Message
	Tools           []ToolSchema
	ResponseFormat  ResponseFormatType
}

// ToolCall is one requested invocation inside a streamed response.
type ToolCall struct {
	ID       string
	Name     string
	Arguments string
	Finished bool
}

// Usage reports token counts for a completed request. Providers attach
// it to the final streamed Part once the response closes.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
}

// Part is one piece of a streamed response: either text or a batch of
// tool calls. Usage is non-nil only on the terminal part of a response.
type Part struct {
	Text      string
	ToolCalls []ToolCall
	Usage     *Usage
}

// Provider issues streaming model requests.
type Provider interface {
	// Stream issues req and invokes onPart for each streamed part in
	// arrival order. Stream returns when the model closes the response
	// or ctx is cancelled.
	Stream(ctx context.Context, req Request, onPart func(Part)) error
}
