package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/ashutoshrp06/friday/internal/config"
	"github.com/ashutoshrp06/friday/internal/mcp"
	"github.com/ashutoshrp06/friday/internal/tools"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	toolsWithMCP bool
	callArgs     string
	callTimeout  time.Duration
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List available tools",
	Long: `List all tools the agent can call.

Built-in tools are always present; manifests and MCP servers come from
the config file.

Examples:
  friday tools              # List all tools
  friday tools --verbose    # Show parameters
  friday tools --mcp        # Include tools from configured MCP servers`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(func(ctx context.Context, r *tools.Registry) error {
			printTools(r)
			return nil
		})
	},
}

var toolsCallCmd = &cobra.Command{
	Use:   "call <tool>",
	Short: "Run a single tool directly",
	Example: `  friday tools call dns-lookup --args '{"domain":"example.com"}'
  friday tools call --mcp mcp__files__read_file --args '{"path":"/etc/hosts"}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var params map[string]any
		if callArgs != "" {
			if err := json.Unmarshal([]byte(callArgs), &params); err != nil {
				return fmt.Errorf("--args must be a JSON object: %w", err)
			}
		}
		return withRegistry(func(ctx context.Context, r *tools.Registry) error {
			ctx, cancel := context.WithTimeout(ctx, callTimeout)
			defer cancel()

			raw, err := r.Dispatch(ctx, args[0], params)
			if err != nil {
				printError("Tool failed", err)
				return err
			}
			fmt.Println(tools.ResultText(raw))
			return nil
		})
	},
}

func init() {
	toolsCmd.PersistentFlags().BoolVar(&toolsWithMCP, "mcp", false, "Connect configured MCP servers")
	toolsCallCmd.Flags().StringVar(&callArgs, "args", "", "Tool arguments as a JSON object")
	toolsCallCmd.Flags().DurationVar(&callTimeout, "timeout", time.Minute, "Tool timeout")
	toolsCmd.AddCommand(toolsCallCmd)
}

// withRegistry builds the registry from config, optionally with MCP tools,
// and runs fn with it.
func withRegistry(fn func(context.Context, *tools.Registry) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := createLogger(false)
	defer logger.Sync()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Warning: Could not load config: %v\n", err)
		cfg = config.DefaultConfig()
	}
	registry := buildRegistry(cfg, logger)

	if toolsWithMCP && len(cfg.MCP.Servers) > 0 {
		bridge := mcp.NewBridge(registry, logger)
		defer bridge.DisconnectAll()
		if err := bridge.ConnectAll(ctx, cfg.MCP.Servers); err != nil {
			printError("Some MCP servers failed to connect", err)
		}
		logger.Debug("MCP servers connected", zap.Strings("servers", bridge.Servers()))
	}

	return fn(ctx, registry)
}

func printTools(registry *tools.Registry) {
	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#7C3AED")).
		Bold(true)

	toolStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#F59E0B")).
		Bold(true)

	descStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#9CA3AF"))

	paramStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#06B6D4"))

	sourceStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#10B981")).
		Bold(true)

	fmt.Println(headerStyle.Render("Available Tools"))
	fmt.Println()

	// Group tools by where they came from
	bySource := make(map[string][]string)
	for _, info := range registry.ListTools() {
		source := info.Source
		if source == "" {
			source = "builtin"
		}
		bySource[source] = append(bySource[source], info.Name)
	}
	sources := make([]string, 0, len(bySource))
	for s := range bySource {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	for _, source := range sources {
		fmt.Printf("  %s\n", sourceStyle.Render(source))

		names := bySource[source]
		sort.Strings(names)
		for _, name := range names {
			def, _ := registry.Get(name)

			label := def.Name
			if def.Atomic {
				label += " (atomic)"
			}
			fmt.Printf("    %s\n", toolStyle.Render(label))
			fmt.Printf("      %s\n", descStyle.Render(def.Description))

			if verbose && len(def.Parameters) > 0 {
				fmt.Println("      Parameters:")
				for _, p := range def.Parameters {
					req := ""
					if p.Required {
						req = " (required)"
					}
					fmt.Printf("        %s %s%s\n", paramStyle.Render(p.Name), descStyle.Render(string(p.Type)), req)
					if p.Description != "" {
						fmt.Printf("          %s\n", descStyle.Render(p.Description))
					}
				}
			}
		}
		fmt.Println()
	}

	fmt.Println(descStyle.Render(fmt.Sprintf("  Total: %d tools available", registry.Len())))
	if !verbose {
		fmt.Println(descStyle.Render("  Use --verbose for parameter details"))
	}
}
