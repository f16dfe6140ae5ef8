package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ashutoshrp06/friday/internal/types"
)

// only net.* kernel parameters may be read
var sysctlParamRegex = regexp.MustCompile(`^net\.[a-z0-9_.]+$`)

const (
	recommendedCoreMax = 128 * 1024 * 1024
	recommendedTCPMax  = 64 * 1024 * 1024
)

// BufferReport holds kernel network buffer limits and tuning hints.
type BufferReport struct {
	RMemMax         int      `json:"rmem_max"`
	WMemMax         int      `json:"wmem_max"`
	TCPRMem         []int    `json:"tcp_rmem"`
	TCPWMem         []int    `json:"tcp_wmem"`
	Status          string   `json:"status"`
	Warnings        []string `json:"warnings,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// ProcReader reads kernel parameters below a /proc root.
type ProcReader struct {
	Root string
}

func (p ProcReader) path(parameter string) string {
	return filepath.Join(p.Root, "sys", filepath.FromSlash(strings.ReplaceAll(parameter, ".", "/")))
}

// Ints reads a whitespace-separated list of integers for a dotted parameter.
func (p ProcReader) Ints(parameter string) ([]int, error) {
	path := p.path(parameter)
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	fields := strings.Fields(string(content))
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty content from %s", path)
	}
	values := make([]int, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("cannot parse value %q from %s: %w", f, path, err)
		}
		values = append(values, v)
	}
	return values, nil
}

// Buffers inspects socket buffer limits and compares them against values
// suited to high-bandwidth links.
func (p ProcReader) Buffers() (*BufferReport, error) {
	report := &BufferReport{Status: "ok"}

	for _, item := range []struct {
		param string
		dst   *int
	}{
		{"net.core.rmem_max", &report.RMemMax},
		{"net.core.wmem_max", &report.WMemMax},
	} {
		vals, err := p.Ints(item.param)
		if err != nil {
			return nil, err
		}
		*item.dst = vals[0]
	}

	var err error
	if report.TCPRMem, err = p.tuple("net.ipv4.tcp_rmem"); err != nil {
		return nil, err
	}
	if report.TCPWMem, err = p.tuple("net.ipv4.tcp_wmem"); err != nil {
		return nil, err
	}

	warn := func(name string, have, want int, fix string) {
		if have >= want {
			return
		}
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("%s is too low (%d bytes vs recommended %d bytes)", name, have, want))
		report.Recommendations = append(report.Recommendations, fix)
	}
	warn("rmem_max", report.RMemMax, recommendedCoreMax,
		fmt.Sprintf("sysctl -w net.core.rmem_max=%d", recommendedCoreMax))
	warn("wmem_max", report.WMemMax, recommendedCoreMax,
		fmt.Sprintf("sysctl -w net.core.wmem_max=%d", recommendedCoreMax))
	warn("tcp_rmem max", report.TCPRMem[2], recommendedTCPMax,
		fmt.Sprintf("sysctl -w 'net.ipv4.tcp_rmem=%d %d %d'", report.TCPRMem[0], report.TCPRMem[1], recommendedTCPMax))
	warn("tcp_wmem max", report.TCPWMem[2], recommendedTCPMax,
		fmt.Sprintf("sysctl -w 'net.ipv4.tcp_wmem=%d %d %d'", report.TCPWMem[0], report.TCPWMem[1], recommendedTCPMax))

	if len(report.Warnings) > 0 {
		report.Status = "warning"
	}
	return report, nil
}

func (p ProcReader) tuple(parameter string) ([]int, error) {
	vals, err := p.Ints(parameter)
	if err != nil {
		return nil, err
	}
	if len(vals) < 3 {
		return nil, fmt.Errorf("%s: expected min/default/max, got %v", parameter, vals)
	}
	return vals, nil
}

// RegisterSystemTools registers the read-only kernel inspection tools.
func RegisterSystemTools(r *Registry, proc ProcReader) {
	if proc.Root == "" {
		proc.Root = "/proc"
	}

	r.MustRegister(ToolDefinition{
		Name:        "net-buffers",
		Description: "Inspect Linux socket buffer limits (rmem/wmem, tcp_rmem/tcp_wmem) and suggest tuning.",
		Atomic:      true,
		Handler: HandlerFunc(func(context.Context, map[string]any) (any, error) {
			return proc.Buffers()
		}),
	})

	r.MustRegister(ToolDefinition{
		Name:        "sysctl-read",
		Description: "Read the current value of a net.* kernel parameter, e.g. net.core.somaxconn.",
		Atomic:      true,
		Parameters: []types.ToolParameter{
			{Name: "parameter", Type: types.ParamString, Description: "Dotted parameter name under net.", Required: true},
		},
		Handler: HandlerFunc(func(_ context.Context, args map[string]any) (any, error) {
			param := StringArg(args, "parameter", "")
			if !sysctlParamRegex.MatchString(param) {
				return nil, fmt.Errorf("invalid parameter %q: must match net.<path>", param)
			}
			vals, err := proc.Ints(param)
			if err != nil {
				return nil, err
			}
			return map[string]any{"parameter": param, "value": vals}, nil
		}),
	})
}
