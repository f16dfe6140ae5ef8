package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ashutoshrp06/friday/internal/agent"
	"github.com/ashutoshrp06/friday/internal/config"
	"github.com/ashutoshrp06/friday/internal/llm"
	"github.com/ashutoshrp06/friday/internal/metrics"
	"github.com/ashutoshrp06/friday/internal/ollama"
	"github.com/ashutoshrp06/friday/internal/tools"
	"github.com/ashutoshrp06/friday/internal/ui"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath  string
	verbose     bool
	interactive bool
	modelFlag   string
	maxSteps    int
)

var rootCmd = &cobra.Command{
	Use:   "friday [query]",
	Short: "Tool-using debugging assistant",
	Long: `
███████╗██████╗ ██╗██████╗  █████╗ ██╗   ██╗
██╔════╝██╔══██╗██║██╔══██╗██╔══██╗╚██╗ ██╔╝
█████╗  ██████╔╝██║██║  ██║███████║ ╚████╔╝
██╔══╝  ██╔══██╗██║██║  ██║██╔══██║  ╚██╔╝
██║     ██║  ██║██║██████╔╝██║  ██║   ██║
╚═╝     ╚═╝  ╚═╝╚═╝╚═════╝ ╚═╝  ╚═╝   ╚═╝

  CLI assistant that plans, runs diagnostic tools and answers.
  Tools come built in, from YAML manifests, or from MCP servers.

Usage:
  friday "Check gRPC health on port 50051"
  friday --it`,

	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if interactive {
			return runInteractive()
		}
		if len(args) > 0 {
			return runOneShot(args)
		}
		return cmd.Help()
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolVar(&interactive, "it", false, "Start interactive mode")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&modelFlag, "model", "", "Override llm.model")
	rootCmd.Flags().IntVar(&maxSteps, "max-steps", 0, "Override agent.max_steps")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(versionCmd)
}

func runInteractive() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	// the TUI owns the terminal, so logs are only kept with --verbose
	logger := createLogger(!verbose)
	defer logger.Sync()

	events := ui.NewEvents()
	a, cfg, err := initAgent(ctx, events, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	serveMetrics(ctx, cfg, a, logger)
	return ui.Run(ctx, a, events)
}

func runOneShot(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := createLogger(false)
	defer logger.Sync()

	printer := ui.NewPrinter(os.Stdout)
	printer.Verbose = verbose

	a, _, err := initAgent(ctx, printer, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	_, err = ui.RunOneShot(ctx, a, strings.Join(args, " "), os.Stdout)
	return err
}

// initAgent loads config, builds the tool registry, checks model
// connectivity and connects configured MCP servers.
func initAgent(ctx context.Context, out agent.OutputHandler, logger *zap.Logger) (*agent.Agent, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Warning: Could not load config: %v\n", err)
		cfg = config.DefaultConfig()
	}
	if modelFlag != "" {
		cfg.LLM.Model = modelFlag
	}
	if maxSteps > 0 {
		cfg.Agent.MaxSteps = maxSteps
	}

	model, info := newModel(cfg)
	registry := buildRegistry(cfg, logger)

	var m *metrics.Metrics
	if cfg.Metrics.Address != "" {
		m = metrics.New()
	}

	a, err := agent.New(agent.Config{
		Settings: cfg.AgentConfig(),
		Model:    model,
		Registry: registry,
		Output:   out,
		Logger:   logger,
		Metrics:  m,
	})
	if err != nil {
		printError("Failed to initialize agent", err)
		return nil, nil, err
	}

	fmt.Print(lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")).Render("Connecting to LLM... "))
	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = a.Ping(pingCtx)
	cancel()
	if err != nil {
		fmt.Println(lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Render("✗"))
		fmt.Println()
		printConnectionHelp(cfg)
		a.Close()
		return nil, nil, err
	}
	fmt.Println(lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Render("✓"))
	fmt.Printf("Using model: %s\n", info)

	if len(cfg.MCP.Servers) > 0 {
		if err := a.ConnectMCPServers(ctx, cfg.MCP.Servers); err != nil {
			printError("Some MCP servers failed to connect", err)
		}
		if names := a.MCPServers(); len(names) > 0 {
			fmt.Printf("MCP servers: %s\n", strings.Join(names, ", "))
		}
	}

	return a, cfg, nil
}

type modelClient interface {
	agent.Model
	ModelInfo() string
}

// newModel builds the model client for the configured provider.
func newModel(cfg *config.Config) (agent.Model, string) {
	var client modelClient
	switch cfg.LLM.Provider {
	case config.ProviderOpenAI:
		client = llm.NewClient(
			cfg.LLM.Endpoint,
			cfg.LLM.Model,
			cfg.LLM.Timeout(),
			float32(cfg.LLM.Temperature),
			cfg.LLM.MaxTokens,
		).WithAPIKey(cfg.LLM.APIKey)
	default:
		client = ollama.NewClient(ollama.Config{
			BaseURL:     cfg.LLM.Endpoint,
			Model:       cfg.LLM.Model,
			Timeout:     cfg.LLM.Timeout(),
			ContextSize: cfg.Agent.ContextSize,
			Temperature: cfg.LLM.Temperature,
			Stream:      cfg.Agent.Streaming,
		})
	}
	return client, client.ModelInfo()
}

// buildRegistry registers the built-in tools and every configured manifest.
// A manifest that fails to load is reported and skipped.
func buildRegistry(cfg *config.Config, logger *zap.Logger) *tools.Registry {
	registry := tools.NewRegistry(logger)
	tools.RegisterBuiltins(registry)

	for _, path := range cfg.Tools.Manifests {
		manifest, err := tools.LoadManifest(path)
		if err == nil {
			err = manifest.Register(registry)
		}
		if err != nil {
			printError("Skipping tool manifest "+path, err)
			continue
		}
		logger.Info("Loaded tool manifest",
			zap.String("path", path),
			zap.Int("tools", len(manifest.Tools)))
	}
	return registry
}

func serveMetrics(ctx context.Context, cfg *config.Config, a *agent.Agent, logger *zap.Logger) {
	if cfg.Metrics.Address == "" {
		return
	}
	m := a.Metrics()
	go func() {
		if err := m.Serve(ctx, cfg.Metrics.Address, logger); err != nil {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.LoadFromPaths(
		"config.local.yaml",
		"config.yaml",
	)
}

func createLogger(quiet bool) *zap.Logger {
	if verbose {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	if quiet {
		return zap.NewNop()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func printError(msg string, err error) {
	fmt.Println(lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).
		Render(fmt.Sprintf("Error: %s: %v", msg, err)))
}

func printConnectionHelp(cfg *config.Config) {
	helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
	cmdStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#06B6D4"))
	errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))

	fmt.Println(errStyle.Render("Could not connect to LLM at " + cfg.LLM.Endpoint))
	fmt.Println()
	if cfg.LLM.Provider == config.ProviderOllama {
		fmt.Println(helpStyle.Render("Make sure Ollama is running:"))
		fmt.Println(cmdStyle.Render("  ollama serve"))
		fmt.Println()
	}
	fmt.Println(helpStyle.Render("Or configure a different endpoint:"))
	fmt.Println(cmdStyle.Render("  Edit config.yaml and set llm.endpoint, or export FRIDAY_LLM_ENDPOINT"))
}
