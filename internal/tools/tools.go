// Package tools provides the tool registry and the built-in diagnostic tools.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ashutoshrp06/friday/internal/types"
	"go.uber.org/zap"
)

// Handler executes one tool call with validated arguments and returns a
// JSON-serializable result.
type Handler interface {
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, args map[string]any) (any, error)

func (f HandlerFunc) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return f(ctx, args)
}

// ToolDefinition describes one callable tool.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  []types.ToolParameter
	Handler     Handler

	// Atomic tools finish a unit of context gathering in one step. The
	// registry does not treat them differently; the prompt layer does.
	Atomic bool

	// Source is "builtin", "manifest" or "mcp:<server>".
	Source string

	// InputSchema overrides the schema derived from Parameters when the tool
	// came with its own JSON schema (MCP tools).
	InputSchema map[string]any
}

// Info returns display metadata for the tool.
func (d ToolDefinition) Info() types.ToolInfo {
	return types.ToolInfo{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  d.Parameters,
		Atomic:      d.Atomic,
		Source:      d.Source,
	}
}

// ToolSchema is the per-tool description sent with every model call.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Atomic      bool           `json:"atomic,omitempty"`
}

// Schema renders the JSON parameter schema for the tool.
func (d ToolDefinition) Schema() ToolSchema {
	params := d.InputSchema
	if params == nil {
		params = ParametersSchema(d.Parameters)
	}
	return ToolSchema{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  params,
		Atomic:      d.Atomic,
	}
}

// ParametersSchema converts a parameter list to a JSON object schema.
func ParametersSchema(params []types.ToolParameter) map[string]any {
	properties := make(map[string]any, len(params))
	required := make([]string, 0)
	for _, p := range params {
		prop := map[string]any{}
		if p.Type != types.ParamAny {
			prop["type"] = string(p.Type)
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// Registry manages tool registration and dispatch.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]ToolDefinition
	logger   *zap.Logger
	readOnly bool
}

// NewRegistry creates a new tool registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tools:  make(map[string]ToolDefinition),
		logger: logger,
	}
}

// Register adds a tool. A tool with the same name is replaced.
func (r *Registry) Register(def ToolDefinition) error {
	if strings.TrimSpace(def.Name) == "" {
		return errors.New("tool name is empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %s has no handler", def.Name)
	}
	for _, p := range def.Parameters {
		if !p.Type.Valid() {
			return fmt.Errorf("tool %s: parameter %s has unsupported type %q", def.Name, p.Name, p.Type)
		}
	}
	if def.Source == "" {
		def.Source = "builtin"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.readOnly {
		return fmt.Errorf("registry snapshot is read-only: cannot register %s", def.Name)
	}
	if prev, exists := r.tools[def.Name]; exists {
		r.logger.Warn("Replacing registered tool",
			zap.String("tool", def.Name),
			zap.String("previous_source", prev.Source),
			zap.String("source", def.Source))
	}
	r.tools[def.Name] = def
	return nil
}

// MustRegister adds a tool to the registry, panicking on error.
func (r *Registry) MustRegister(def ToolDefinition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Unregister removes a tool and reports whether it existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.readOnly {
		return false
	}
	_, exists := r.tools[name]
	delete(r.tools, name)
	return exists
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, exists := r.tools[name]
	return def, exists
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns all tool definitions sorted by name.
func (r *Registry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, def := range r.tools {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// ListTools returns display metadata for every tool.
func (r *Registry) ListTools() []types.ToolInfo {
	defs := r.Definitions()
	infos := make([]types.ToolInfo, 0, len(defs))
	for _, def := range defs {
		infos = append(infos, def.Info())
	}
	return infos
}

// Schemas returns the model-facing schema of every tool.
func (r *Registry) Schemas() []ToolSchema {
	defs := r.Definitions()
	schemas := make([]ToolSchema, 0, len(defs))
	for _, def := range defs {
		schemas = append(schemas, def.Schema())
	}
	return schemas
}

// Snapshot returns a read-only copy that can be shared between agents.
func (r *Registry) Snapshot() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := &Registry{
		tools:    make(map[string]ToolDefinition, len(r.tools)),
		logger:   r.logger,
		readOnly: true,
	}
	for name, def := range r.tools {
		snap.tools[name] = def
	}
	return snap
}

// ReadOnly reports whether r is a snapshot.
func (r *Registry) ReadOnly() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.readOnly
}

// Clone returns a writable copy of the registry.
func (r *Registry) Clone() *Registry {
	snap := r.Snapshot()
	snap.readOnly = false
	return snap
}

// Validate checks args against the tool's parameters and returns the
// coerced arguments with defaults applied.
func (r *Registry) Validate(name string, args map[string]any) (map[string]any, error) {
	def, exists := r.Get(name)
	if !exists {
		return nil, unknownTool(name)
	}
	coerced, err := validateArgs(def.Parameters, args)
	if err != nil {
		return nil, validationError(name, err)
	}
	return coerced, nil
}

// Dispatch validates and runs a tool. Every failure is a *ToolError; the
// registry never retries.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (result json.RawMessage, err error) {
	def, exists := r.Get(name)
	if !exists {
		return nil, unknownTool(name)
	}

	coerced, err := validateArgs(def.Parameters, args)
	if err != nil {
		return nil, validationError(name, err)
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Tool handler panicked",
				zap.String("tool", name),
				zap.Any("panic", rec))
			result = nil
			err = executionError(name, fmt.Errorf("panic: %v", rec))
		}
	}()

	out, err := def.Handler.Invoke(ctx, coerced)
	if err != nil {
		return nil, executionError(name, err)
	}

	raw, err := encodeResult(out)
	if err != nil {
		return nil, executionError(name, err)
	}
	return raw, nil
}

func encodeResult(out any) (json.RawMessage, error) {
	switch v := out.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if json.Valid(v) {
			return v, nil
		}
		return json.Marshal(string(v))
	case []byte:
		if json.Valid(v) {
			return json.RawMessage(v), nil
		}
		return json.Marshal(string(v))
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		return data, nil
	}
}

// ResultText renders a dispatch result for a tool message: JSON strings are
// unquoted, everything else is kept as JSON.
func ResultText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// GenerateToolsPrompt creates the tools description for the system prompt.
func (r *Registry) GenerateToolsPrompt() string {
	defs := r.Definitions()
	if len(defs) == 0 {
		return "No tools available."
	}

	var sb strings.Builder
	for _, def := range defs {
		sb.WriteString(fmt.Sprintf("### %s\n%s\n", def.Name, def.Description))
		if def.Atomic {
			sb.WriteString("(atomic: completes in one step, no follow-up planning needed)\n")
		}
		if len(def.Parameters) > 0 {
			sb.WriteString("Parameters:\n")
			for _, p := range def.Parameters {
				req := ""
				if p.Required {
					req = ", required"
				}
				line := fmt.Sprintf("  - %s (%s%s)", p.Name, p.Type, req)
				if p.Description != "" {
					line += ": " + p.Description
				}
				if p.Default != nil {
					line += fmt.Sprintf(" [default: %v]", p.Default)
				}
				if len(p.Enum) > 0 {
					line += fmt.Sprintf(" [one of: %s]", strings.Join(p.Enum, ", "))
				}
				sb.WriteString(line + "\n")
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// RegisterBuiltins registers every built-in diagnostic tool.
func RegisterBuiltins(r *Registry) {
	RegisterNetworkingTools(r)
	RegisterGRPCTools(r)
	RegisterSystemTools(r, ProcReader{})
}
