package main

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ashutoshrp06/friday/internal/agent"
	"github.com/ashutoshrp06/friday/internal/config"
	"github.com/ashutoshrp06/friday/internal/llm"
	"github.com/ashutoshrp06/friday/internal/ollama"
	"github.com/ashutoshrp06/friday/internal/tools"
	"github.com/ashutoshrp06/friday/internal/types"
	"go.uber.org/zap"
)

func TestNewModel_SelectsProvider(t *testing.T) {
	cfg := config.DefaultConfig()

	m, info := newModel(cfg)
	if _, ok := m.(*ollama.Client); !ok {
		t.Fatalf("default provider should be ollama, got %T", m)
	}
	if !strings.Contains(info, cfg.LLM.Model) {
		t.Fatalf("info = %q", info)
	}

	cfg.LLM.Provider = config.ProviderOpenAI
	cfg.LLM.Endpoint = "http://localhost:8000/v1"
	if m, _ := newModel(cfg); m == nil {
		t.Fatal("nil model")
	} else if _, ok := m.(*llm.Client); !ok {
		t.Fatalf("openai provider should use llm.Client, got %T", m)
	}
}

func TestBuildRegistry_LoadsManifests(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "tools.yaml")
	manifest := `
tools:
  - name: say
    description: Print a word
    command: echo
    args: ["{{word}}"]
    parameters:
      - name: word
        type: string
        required: true
`
	if err := os.WriteFile(good, []byte(manifest), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.Tools.Manifests = []string{filepath.Join(dir, "missing.yaml"), good}

	registry := buildRegistry(cfg, zap.NewNop())
	def, ok := registry.Get("say")
	if !ok || def.Source != "manifest" {
		t.Fatalf("manifest tool not registered: %+v", def)
	}
	if _, ok := registry.Get("ping"); !ok {
		t.Fatal("builtins should be registered")
	}
}

// TestE2E_QueryThroughManifestTool runs a query from model output through
// a command tool and back to the final answer.
func TestE2E_QueryThroughManifestTool(t *testing.T) {
	if _, err := exec.LookPath("echo"); err != nil {
		t.Skip("echo not available")
	}

	registry := tools.NewRegistry(zap.NewNop())
	manifest, err := tools.ParseManifest([]byte(`
tools:
  - name: say
    command: echo
    args: ["{{word}}"]
    parameters:
      - name: word
        type: string
        required: true
`))
	if err != nil {
		t.Fatal(err)
	}
	if err := manifest.Register(registry); err != nil {
		t.Fatal(err)
	}

	replies := []string{
		`{"thought":"ask the tool","tool":"say","tool_args":{"word":"pong"}}`,
		`{"answer":"the tool said pong"}`,
	}
	calls := 0
	model := agent.ModelFunc(func(_ context.Context, history []types.Message, schemas []tools.ToolSchema) (string, error) {
		if len(schemas) != 1 || schemas[0].Name != "say" {
			t.Errorf("unexpected schemas %+v", schemas)
		}
		reply := replies[calls]
		calls++
		return reply, nil
	})

	a, err := agent.New(agent.Config{Model: model, Registry: registry})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	res, err := a.ProcessQuery(context.Background(), "say pong")
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if res.Result != "the tool said pong" || res.StepsTaken != 2 {
		t.Fatalf("unexpected result %+v", res)
	}

	var toolOutput string
	for _, m := range a.History() {
		if m.Role == types.RoleTool {
			toolOutput = m.Content
		}
	}
	if !strings.Contains(toolOutput, "pong") {
		t.Fatalf("tool output not in history: %q", toolOutput)
	}
}
