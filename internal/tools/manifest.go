package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ashutoshrp06/friday/internal/types"
	"gopkg.in/yaml.v3"
)

const defaultCommandTimeout = 30 * time.Second

// Manifest is a YAML file declaring command-backed tools.
type Manifest struct {
	Tools []CommandTool `yaml:"tools"`
}

// CommandTool runs an external command. Args may contain {{param}}
// placeholders; each placeholder becomes exactly one argv entry, no shell
// is involved.
type CommandTool struct {
	Name           string                `yaml:"name"`
	Description    string                `yaml:"description"`
	Atomic         bool                  `yaml:"atomic"`
	Command        string                `yaml:"command"`
	Args           []string              `yaml:"args"`
	Parameters     []types.ToolParameter `yaml:"parameters"`
	TimeoutSeconds int                   `yaml:"timeout_seconds"`
}

// CommandOutput is the result of a command tool.
type CommandOutput struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr,omitempty"`
}

// LoadManifest reads and validates a tool manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes manifest YAML.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	seen := make(map[string]bool, len(m.Tools))
	for i, t := range m.Tools {
		if t.Name == "" {
			return nil, fmt.Errorf("tool %d: name is required", i)
		}
		if t.Command == "" {
			return nil, fmt.Errorf("tool %s: command is required", t.Name)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("tool %s declared twice", t.Name)
		}
		seen[t.Name] = true
	}
	return &m, nil
}

// Register adds every manifest tool to r.
func (m *Manifest) Register(r *Registry) error {
	for _, t := range m.Tools {
		if err := r.Register(t.Definition()); err != nil {
			return err
		}
	}
	return nil
}

// Definition converts the command tool into a registry entry.
func (t CommandTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  t.Parameters,
		Atomic:      t.Atomic,
		Source:      "manifest",
		Handler:     HandlerFunc(t.run),
	}
}

// expandArgs substitutes {{param}} placeholders from args.
func (t CommandTool) expandArgs(args map[string]any) ([]string, error) {
	out := make([]string, 0, len(t.Args))
	for _, a := range t.Args {
		var missing error
		expanded := placeholder(a, func(name string) string {
			v, ok := args[name]
			if !ok || v == nil {
				missing = fmt.Errorf("no value for placeholder {{%s}}", name)
				return ""
			}
			return StringArg(args, name, "")
		})
		if missing != nil {
			return nil, missing
		}
		out = append(out, expanded)
	}
	return out, nil
}

func placeholder(s string, lookup func(string) string) string {
	var sb strings.Builder
	for {
		start := strings.Index(s, "{{")
		if start < 0 {
			break
		}
		end := strings.Index(s[start:], "}}")
		if end < 0 {
			break
		}
		sb.WriteString(s[:start])
		sb.WriteString(lookup(strings.TrimSpace(s[start+2 : start+end])))
		s = s[start+end+2:]
	}
	sb.WriteString(s)
	return sb.String()
}

func (t CommandTool) run(ctx context.Context, args map[string]any) (any, error) {
	argv, err := t.expandArgs(args)
	if err != nil {
		return nil, err
	}

	timeout := defaultCommandTimeout
	if t.TimeoutSeconds > 0 {
		timeout = time.Duration(t.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.Command, argv...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	out := CommandOutput{
		Stdout: truncate(stdout.String(), 8000),
		Stderr: truncate(stderr.String(), 2000),
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitCode()
	default:
		return nil, fmt.Errorf("run %s: %w", t.Command, err)
	}
	return out, nil
}
