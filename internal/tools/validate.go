package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/ashutoshrp06/friday/internal/types"
)

// validateArgs checks required parameters, types and enum values, and
// returns a new map with values coerced and defaults filled in. Arguments
// that are not declared are passed through untouched.
func validateArgs(params []types.ToolParameter, args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args)+len(params))
	for k, v := range args {
		out[k] = v
	}

	for _, p := range params {
		value, exists := out[p.Name]
		if exists && value == nil {
			delete(out, p.Name)
			exists = false
		}

		if !exists {
			if p.Default != nil {
				def, err := coerce(p.Type, p.Default)
				if err != nil {
					return nil, fmt.Errorf("default for %s: %w", p.Name, err)
				}
				out[p.Name] = def
				continue
			}
			if p.Required {
				return nil, fmt.Errorf("missing required parameter: %s", p.Name)
			}
			continue
		}

		coerced, err := coerce(p.Type, value)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", p.Name, err)
		}

		if len(p.Enum) > 0 && !inEnum(p.Enum, coerced) {
			return nil, fmt.Errorf("invalid value for %s: must be one of %v", p.Name, p.Enum)
		}
		out[p.Name] = coerced
	}
	return out, nil
}

func inEnum(allowed []string, value any) bool {
	s := fmt.Sprint(value)
	for _, a := range allowed {
		if a == s {
			return true
		}
	}
	return false
}

// coerce converts value to the Go shape used for t. Models often send
// numbers and booleans as strings, so those are accepted when they parse.
func coerce(t types.ParamType, value any) (any, error) {
	switch t {
	case types.ParamString:
		switch v := value.(type) {
		case string:
			return v, nil
		case bool:
			return strconv.FormatBool(v), nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case int, int32, int64, json.Number:
			return fmt.Sprint(v), nil
		}
		return nil, fmt.Errorf("expected string, got %T", value)

	case types.ParamInteger:
		return toInt(value)

	case types.ParamNumber:
		return toFloat(value)

	case types.ParamBoolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("expected boolean, got %q", v)
			}
			return b, nil
		}
		return nil, fmt.Errorf("expected boolean, got %T", value)

	case types.ParamArray:
		kind := reflect.TypeOf(value).Kind()
		if kind == reflect.Slice || kind == reflect.Array {
			return value, nil
		}
		return nil, fmt.Errorf("expected array, got %T", value)

	case types.ParamObject:
		if reflect.TypeOf(value).Kind() == reflect.Map {
			return value, nil
		}
		return nil, fmt.Errorf("expected object, got %T", value)
	}
	return value, nil
}

func toInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("expected integer, got %v", v)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("expected integer, got %s", v)
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("expected integer, got %q", v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("expected integer, got %T", value)
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("expected number, got %q", v)
		}
		return f, nil
	}
	return 0, fmt.Errorf("expected number, got %T", value)
}

// StringArg returns args[key] as a string, or fallback when absent.
func StringArg(args map[string]any, key, fallback string) string {
	if v, ok := args[key]; ok && v != nil {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return fallback
}

// IntArg returns args[key] as an int, or fallback when absent or invalid.
func IntArg(args map[string]any, key string, fallback int) int {
	if v, ok := args[key]; ok && v != nil {
		if n, err := toInt(v); err == nil {
			return n
		}
	}
	return fallback
}

// BoolArg returns args[key] as a bool, or fallback when absent or invalid.
func BoolArg(args map[string]any, key string, fallback bool) bool {
	if v, ok := args[key]; ok && v != nil {
		if b, err := coerce(types.ParamBoolean, v); err == nil {
			return b.(bool)
		}
	}
	return fallback
}
