// Package agent implements the streaming client for the remote AutoML agent
// service and the HTTP relay that exposes it to the browser.
package agent

import (
	"encoding/json"
	"time"
)

// EventType names an AG-UI protocol event.
type EventType string

const (
	EventTextMessageStart   EventType = "TEXT_MESSAGE_START"
	EventTextMessageContent EventType = "TEXT_MESSAGE_CONTENT"
	EventTextMessageEnd     EventType = "TEXT_MESSAGE_END"
	EventToolCallStart      EventType = "TOOL_CALL_START"
	EventToolCallArgs       EventType = "TOOL_CALL_ARGS"
	EventToolCallEnd        EventType = "TOOL_CALL_END"
	EventStateSnapshot      EventType = "STATE_SNAPSHOT"
	EventStateDelta         EventType = "STATE_DELTA"
	EventMessagesSnapshot   EventType = "MESSAGES_SNAPSHOT"
	EventRunStarted         EventType = "RUN_STARTED"
	EventRunFinished        EventType = "RUN_FINISHED"
	EventRunError           EventType = "RUN_ERROR"
)

// doneSentinel is the data payload that ends an event stream.
const doneSentinel = "[DONE]"

// Event is one decoded stream record. Fields not used by a given type are
// left empty.
type Event struct {
	Type         EventType       `json:"type"`
	MessageID    string          `json:"messageId,omitempty"`
	Content      string          `json:"content,omitempty"`
	ToolCallID   string          `json:"toolCallId,omitempty"`
	ToolCallName string          `json:"toolCallName,omitempty"`
	Args         string          `json:"args,omitempty"`
	Snapshot     json.RawMessage `json:"snapshot,omitempty"`
	Delta        json.RawMessage `json:"delta,omitempty"`
	Error        string          `json:"error,omitempty"`
	RunID        string          `json:"runId,omitempty"`
	ThreadID     string          `json:"threadId,omitempty"`
	Messages     json.RawMessage `json:"messages,omitempty"`

	// Raw is the record exactly as received, including fields not
	// modelled above.
	Raw json.RawMessage `json:"-"`
}

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a complete chat message.
type Message struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"createdAt"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
}

// ToolCall is a tool invocation attached to a message.
type ToolCall struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Args   map[string]any  `json:"args"`
	Result json.RawMessage `json:"result,omitempty"`
}

// SendOptions configures SendMessage. An empty ThreadID creates a thread.
type SendOptions struct {
	ThreadID string
}

type wireMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type runRequest struct {
	ThreadID string        `json:"thread_id"`
	Messages []wireMessage `json:"messages"`
}

type createThreadRequest struct {
	Name string `json:"name"`
}

type createThreadResponse struct {
	ID string `json:"id"`
}

type invokeResponse struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
	Response  string `json:"response"`
}

type historyMessage struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	CreatedAt string     `json:"created_at"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}
