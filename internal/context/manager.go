// Package context holds the conversation history of one agent session.
package context

import (
	"sync"

	"github.com/ashutoshrp06/friday/internal/types"
)

// Manager is an append-only message store. Clear is the only other mutation.
type Manager struct {
	messages     []types.Message
	systemPrompt string
	mu           sync.RWMutex
}

// NewManager creates a store seeded with the system prompt, if any.
func NewManager(systemPrompt string) *Manager {
	m := &Manager{systemPrompt: systemPrompt}
	m.reset()
	return m
}

func (m *Manager) reset() {
	m.messages = make([]types.Message, 0, 16)
	if m.systemPrompt != "" {
		m.messages = append(m.messages, types.SystemMessage(m.systemPrompt))
	}
}

// Append adds msg to the end of the history.
func (m *Manager) Append(msg types.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = append(m.messages, msg)
}

// History returns a copy of the ordered history.
func (m *Manager) History() []types.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]types.Message, len(m.messages))
	copy(result, m.messages)
	return result
}

// Last returns the most recent message.
func (m *Manager) Last() (types.Message, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.messages) == 0 {
		return types.Message{}, false
	}
	return m.messages[len(m.messages)-1], true
}

// Len returns the number of stored messages.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}

// ToolMessages returns the tool-role messages in dispatch order.
func (m *Manager) ToolMessages() []types.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []types.Message
	for _, msg := range m.messages {
		if msg.Role == types.RoleTool {
			out = append(out, msg)
		}
	}
	return out
}

// SetSystemPrompt replaces the prompt used by future resets. The current
// history is left untouched.
func (m *Manager) SetSystemPrompt(prompt string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.systemPrompt = prompt
}

// Clear resets the history to its system-only state.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
}
