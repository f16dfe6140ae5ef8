package tools

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownTool = errors.New("unknown tool")
	ErrValidation  = errors.New("tool validation failed")
	ErrExecution   = errors.New("tool execution failed")
)

// ErrorKind classifies a ToolError.
type ErrorKind int

const (
	KindUnknownTool ErrorKind = iota
	KindValidation
	KindExecution
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnknownTool:
		return "unknown_tool"
	case KindValidation:
		return "validation"
	case KindExecution:
		return "execution"
	}
	return "unknown"
}

// ToolError is returned by Registry.Dispatch for every tool-level failure.
type ToolError struct {
	Kind ErrorKind
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	switch e.Kind {
	case KindUnknownTool:
		return fmt.Sprintf("unknown tool: %s", e.Tool)
	case KindValidation:
		return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Err)
	default:
		return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
	}
}

func (e *ToolError) Unwrap() error { return e.Err }

// Is matches the package sentinels by kind.
func (e *ToolError) Is(target error) bool {
	switch target {
	case ErrUnknownTool:
		return e.Kind == KindUnknownTool
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrExecution:
		return e.Kind == KindExecution
	}
	return false
}

func unknownTool(name string) error {
	return &ToolError{Kind: KindUnknownTool, Tool: name}
}

func validationError(name string, err error) error {
	return &ToolError{Kind: KindValidation, Tool: name, Err: err}
}

func executionError(name string, err error) error {
	return &ToolError{Kind: KindExecution, Tool: name, Err: err}
}

// KindOf returns the kind of a tool error, or false if err is not one.
func KindOf(err error) (ErrorKind, bool) {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return 0, false
}
