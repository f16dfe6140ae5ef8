package llm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ashutoshrp06/friday/internal/tools"
	"github.com/ashutoshrp06/friday/internal/types"
)

const systemPrompt = `You are Friday, a debugging assistant for network, gRPC and Linux systems issues.
You work in steps. At every step reply with exactly ONE JSON object and nothing else.

To call one tool:
{"thought": "why this tool", "goal": "what you want to learn", "tool": "<tool name>", "tool_args": {"param": "value"}}

To run several tools in order:
{"thought": "...", "goal": "...", "plan": [{"tool": "<name>", "tool_args": {...}}, {"tool": "<name>", "tool_args": {...}}]}
A later plan step can use an earlier result: "${1.field}" is the result of step 1,
"${dns-lookup.0.value}" the result of the dns-lookup step.

To finish:
{"thought": "...", "answer": "<final answer for the user>"}

Rules:
- Only use tools from the tool list. Use the exact parameter names.
- Tool results arrive as messages starting with "Result of". Read them before the next step.
- Tools marked atomic return everything they can in one call; do not call them again with the same arguments.
- Never repeat a call that already returned a result. If you have enough information, answer.`

// SystemPrompt returns the instructions that open every conversation.
func SystemPrompt() string {
	return systemPrompt
}

// ToolsPrompt renders the tool list for the model.
func ToolsPrompt(schemas []tools.ToolSchema) string {
	if len(schemas) == 0 {
		return "No tools available. Answer directly."
	}

	var sb strings.Builder
	sb.WriteString("Available tools:\n\n")
	for _, s := range schemas {
		sb.WriteString(fmt.Sprintf("- %s: %s", s.Name, s.Description))
		if s.Atomic {
			sb.WriteString(" (atomic)")
		}
		sb.WriteString("\n")

		props, _ := s.Parameters["properties"].(map[string]any)
		if len(props) == 0 {
			continue
		}
		required := requiredSet(s.Parameters["required"])

		names := make([]string, 0, len(props))
		for name := range props {
			names = append(names, name)
		}
		sort.Strings(names)

		sb.WriteString("  Parameters:\n")
		for _, name := range names {
			prop, _ := props[name].(map[string]any)
			typ, _ := prop["type"].(string)
			if typ == "" {
				typ = "any"
			}
			req := "optional"
			if required[name] {
				req = "required"
			}
			line := fmt.Sprintf("    - %s (%s, %s)", name, typ, req)
			if desc, _ := prop["description"].(string); desc != "" {
				line += ": " + desc
			}
			if def, ok := prop["default"]; ok {
				line += fmt.Sprintf(" [default: %v]", def)
			}
			sb.WriteString(line + "\n")
		}
	}
	return sb.String()
}

func requiredSet(v any) map[string]bool {
	set := map[string]bool{}
	switch list := v.(type) {
	case []string:
		for _, name := range list {
			set[name] = true
		}
	case []any:
		for _, name := range list {
			if s, ok := name.(string); ok {
				set[s] = true
			}
		}
	}
	return set
}

// ChatMessage is one message in the chat completions format.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatMessages converts the history for a chat endpoint. The tool list goes
// in a system message right after the leading system messages. Tool results
// are sent as user messages since the model never issues native tool calls.
func ChatMessages(history []types.Message, schemas []tools.ToolSchema) []ChatMessage {
	out := make([]ChatMessage, 0, len(history)+1)
	toolsMsg := ChatMessage{Role: string(types.RoleSystem), Content: ToolsPrompt(schemas)}
	inserted := false

	for _, msg := range history {
		if !inserted && msg.Role != types.RoleSystem {
			out = append(out, toolsMsg)
			inserted = true
		}
		switch msg.Role {
		case types.RoleTool:
			out = append(out, ChatMessage{
				Role:    string(types.RoleUser),
				Content: fmt.Sprintf("Result of %s:\n%s", msg.Name, msg.Content),
			})
		default:
			out = append(out, ChatMessage{Role: string(msg.Role), Content: msg.Content})
		}
	}
	if !inserted {
		out = append(out, toolsMsg)
	}
	return out
}
