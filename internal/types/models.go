// Package types defines shared data structures for the friday agent core.
package types

import (
	"fmt"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message represents a message in the conversation history.
// Name and ToolCallID are only set on tool-role messages.
type Message struct {
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Name       string    `json:"name,omitempty"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content, Timestamp: time.Now()}
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, Timestamp: time.Now()}
}

// AssistantMessage builds an assistant-role message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content, Timestamp: time.Now()}
}

// ToolMessage builds a tool-role message carrying the result of one dispatch.
func ToolMessage(name, callID, content string) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		Name:       name,
		ToolCallID: callID,
		Timestamp:  time.Now(),
	}
}

// Validate reports messages that break the role invariants.
func (m Message) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant:
		if m.Name != "" || m.ToolCallID != "" {
			return fmt.Errorf("%s message must not carry name or tool_call_id", m.Role)
		}
	case RoleTool:
		if m.Name == "" || m.ToolCallID == "" {
			return fmt.Errorf("tool message requires name and tool_call_id")
		}
	default:
		return fmt.Errorf("unknown role %q", m.Role)
	}
	return nil
}

// ParamType is the JSON type of a tool parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamInteger ParamType = "integer"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamArray   ParamType = "array"
	ParamObject  ParamType = "object"

	// ParamAny accepts any JSON value. Used for remote schemas whose
	// property types cannot be expressed as a single JSON type.
	ParamAny ParamType = "any"
)

// Valid reports whether t is one of the supported parameter types.
func (t ParamType) Valid() bool {
	switch t {
	case ParamString, ParamInteger, ParamNumber, ParamBoolean, ParamArray, ParamObject, ParamAny:
		return true
	}
	return false
}

// ToolParameter describes a tool parameter.
type ToolParameter struct {
	Name        string    `json:"name" yaml:"name"`
	Type        ParamType `json:"type" yaml:"type"`
	Required    bool      `json:"required" yaml:"required"`
	Description string    `json:"description" yaml:"description"`
	Default     any       `json:"default,omitempty" yaml:"default,omitempty"`
	Enum        []string  `json:"enum,omitempty" yaml:"enum,omitempty"`
}

// ToolInfo contains metadata about a tool for display.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Atomic      bool            `json:"atomic"`
	Source      string          `json:"source"`
}

// AgentState represents the current state of the orchestrator.
type AgentState int

const (
	StatePlanning AgentState = iota
	StateExecutingPlan
	StateDirectExecution
	StateErrorRecovery
	StateCompletion
)

// String returns a human-readable state name.
func (s AgentState) String() string {
	names := [...]string{
		"Planning",
		"Executing plan",
		"Direct execution",
		"Error recovery",
		"Completion",
	}
	if s >= 0 && int(s) < len(names) {
		return names[s]
	}
	return "Unknown"
}

// IsTerminal reports whether no further model calls happen in this state.
func (s AgentState) IsTerminal() bool {
	return s == StateCompletion
}
