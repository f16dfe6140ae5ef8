package executor

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

var varPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// VariableResolver substitutes ${name.path} references in plan step
// arguments with values taken from earlier step results.
type VariableResolver struct {
	mu      sync.RWMutex
	results map[string]any
}

func NewVariableResolver() *VariableResolver {
	return &VariableResolver{
		results: make(map[string]any),
	}
}

// AddResult stores a step output under name. JSON output is decoded so its
// fields can be addressed; anything else is stored under "value". Empty
// output is ignored.
func (vr *VariableResolver) AddResult(name, output string) {
	output = strings.TrimSpace(output)
	if output == "" {
		return
	}

	var decoded any
	if err := json.Unmarshal([]byte(output), &decoded); err != nil {
		decoded = map[string]any{"value": output}
	} else if s, ok := decoded.(string); ok {
		decoded = map[string]any{"value": s}
	}

	vr.mu.Lock()
	vr.results[name] = decoded
	vr.mu.Unlock()
}

func (vr *VariableResolver) HasResult(name string) bool {
	vr.mu.RLock()
	defer vr.mu.RUnlock()
	_, ok := vr.results[name]
	return ok
}

// Resolve interpolates every reference in value.
func (vr *VariableResolver) Resolve(value string) (string, error) {
	var firstErr error
	out := varPattern.ReplaceAllStringFunc(value, func(match string) string {
		ref := match[2 : len(match)-1]
		resolved, err := vr.lookup(ref)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return match
		}
		return format(resolved)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// ResolveParams returns a copy of params with references resolved. A string
// that is exactly one reference keeps the referenced value's native type.
func (vr *VariableResolver) ResolveParams(params map[string]any) (map[string]any, error) {
	if params == nil {
		return nil, nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		resolved, err := vr.resolveValue(v)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}

func (vr *VariableResolver) resolveValue(v any) (any, error) {
	switch t := v.(type) {
	case string:
		if m := varPattern.FindStringSubmatch(t); m != nil && m[0] == t {
			return vr.lookup(m[1])
		}
		return vr.Resolve(t)
	case map[string]any:
		return vr.ResolveParams(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			resolved, err := vr.resolveValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	}
	return v, nil
}

// lookup walks a dotted reference such as "scan.open_ports.0". The first
// segment names the result; numeric segments index arrays.
func (vr *VariableResolver) lookup(ref string) (any, error) {
	parts := strings.Split(strings.TrimSpace(ref), ".")

	vr.mu.RLock()
	current, ok := vr.results[parts[0]]
	vr.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unresolved reference ${%s}: no result for %q", ref, parts[0])
	}

	for _, part := range parts[1:] {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("unresolved reference ${%s}: no field %q", ref, part)
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("unresolved reference ${%s}: index %q out of range", ref, part)
			}
			current = node[idx]
		default:
			return nil, fmt.Errorf("unresolved reference ${%s}: %q is not addressable", ref, part)
		}
	}
	return current, nil
}

func format(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any, []any:
		data, _ := json.Marshal(t)
		return string(data)
	}
	return fmt.Sprint(v)
}

// ContainsVariables reports whether any value in params holds a reference.
func ContainsVariables(params map[string]any) bool {
	for _, v := range params {
		if containsVariable(v) {
			return true
		}
	}
	return false
}

func containsVariable(v any) bool {
	switch t := v.(type) {
	case string:
		return varPattern.MatchString(t)
	case map[string]any:
		return ContainsVariables(t)
	case []any:
		for _, item := range t {
			if containsVariable(item) {
				return true
			}
		}
	}
	return false
}
