package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/ashutoshrp06/friday/internal/tools"
	"github.com/ashutoshrp06/friday/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultHandshakeTimeout = 30 * time.Second
	connectConcurrency      = 4
	toolPrefix              = "mcp__"
)

// ServerConfig describes one tool server to spawn.
type ServerConfig struct {
	Name    string   `mapstructure:"name" yaml:"name"`
	Command string   `mapstructure:"command" yaml:"command"`
	Args    []string `mapstructure:"args" yaml:"args,omitempty"`
	Env     []string `mapstructure:"env" yaml:"env,omitempty"`
}

// server is the bridge's handle on one connected process.
type server struct {
	name   string
	client *Client
	tools  []string
}

// Bridge spawns tool servers and registers their tools in a registry. A
// Bridge belongs to one agent.
type Bridge struct {
	mu       sync.Mutex
	servers  map[string]*server
	registry *tools.Registry
	logger   *zap.Logger

	ClientName       string
	ClientVersion    string
	HandshakeTimeout time.Duration
}

// NewBridge creates a bridge that registers remote tools into registry.
func NewBridge(registry *tools.Registry, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		servers:          make(map[string]*server),
		registry:         registry,
		logger:           logger,
		ClientName:       "friday",
		ClientVersion:    "dev",
		HandshakeTimeout: defaultHandshakeTimeout,
	}
}

// Connect spawns a server and registers its tools. Failures are logged and
// reported as false.
func (b *Bridge) Connect(ctx context.Context, name, command string, args []string) bool {
	err := b.ConnectServer(ctx, ServerConfig{Name: name, Command: command, Args: args})
	if err != nil {
		b.logger.Warn("MCP server connection failed", zap.String("server", name), zap.Error(err))
		return false
	}
	return true
}

// ConnectServer spawns cfg.Command, runs the handshake and registers every
// advertised tool as mcp__<server>__<tool>. Connecting a name that is
// already connected replaces the old session.
func (b *Bridge) ConnectServer(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return &ConnectionError{Server: cfg.Name, Op: "configure", Err: errors.New("server name is required")}
	}
	if cfg.Command == "" {
		return &ConnectionError{Server: cfg.Name, Op: "configure", Err: errors.New("command is required")}
	}

	b.Disconnect(cfg.Name)

	if _, ok := ctx.Deadline(); !ok && b.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.HandshakeTimeout)
		defer cancel()
	}

	logger := b.logger.With(zap.String("server", cfg.Name))
	transport, err := StartStdio(cfg.Name, cfg.Command, cfg.Args, cfg.Env, logger)
	if err != nil {
		return err
	}
	client := NewClient(transport)

	// the process must not outlive a failed handshake
	ok := false
	defer func() {
		if !ok {
			_ = client.Close()
		}
	}()

	info, err := client.Initialize(ctx, b.ClientName, b.ClientVersion)
	if err != nil {
		return &ConnectionError{Server: cfg.Name, Op: "initialize", Err: err}
	}
	remote, err := client.ListTools(ctx)
	if err != nil {
		return &ConnectionError{Server: cfg.Name, Op: "tools/list", Err: err}
	}

	srv := &server{name: cfg.Name, client: client}
	for _, rt := range remote {
		if rt.Name == "" {
			logger.Debug("Skipping unnamed remote tool")
			continue
		}
		def := b.definition(cfg.Name, rt, client)
		if err := b.registry.Register(def); err != nil {
			logger.Warn("Skipping remote tool", zap.String("tool", rt.Name), zap.Error(err))
			continue
		}
		srv.tools = append(srv.tools, def.Name)
	}
	ok = true

	b.mu.Lock()
	b.servers[cfg.Name] = srv
	b.mu.Unlock()

	go b.watch(srv, transport.Done())

	logger.Info("MCP server connected",
		zap.String("remote_name", info.ServerInfo.Name),
		zap.Int("pid", transport.Pid()),
		zap.Int("tools", len(srv.tools)))
	return nil
}

// watch logs a server that exits while still connected. Its tools stay
// registered and fail with ErrConnectionClosed until it is disconnected.
func (b *Bridge) watch(srv *server, done <-chan struct{}) {
	<-done
	b.mu.Lock()
	current := b.servers[srv.name] == srv
	b.mu.Unlock()
	if current {
		b.logger.Warn("MCP server exited unexpectedly", zap.String("server", srv.name))
	}
}

// ConnectAll connects every configured server concurrently. Servers that
// fail are skipped; their errors are joined in the result.
func (b *Bridge) ConnectAll(ctx context.Context, configs []ServerConfig) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(connectConcurrency)

	for _, cfg := range configs {
		cfg := cfg
		g.Go(func() error {
			if err := b.ConnectServer(ctx, cfg); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Disconnect stops one server and removes its tools. Unknown names are a
// no-op.
func (b *Bridge) Disconnect(name string) bool {
	b.mu.Lock()
	srv, ok := b.servers[name]
	delete(b.servers, name)
	b.mu.Unlock()
	if !ok {
		return false
	}
	b.shutdown(srv)
	return true
}

// DisconnectAll stops every server. Safe to call repeatedly.
func (b *Bridge) DisconnectAll() {
	b.mu.Lock()
	servers := make([]*server, 0, len(b.servers))
	for _, srv := range b.servers {
		servers = append(servers, srv)
	}
	b.servers = make(map[string]*server)
	b.mu.Unlock()

	var g errgroup.Group
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			b.shutdown(srv)
			return nil
		})
	}
	_ = g.Wait()
}

func (b *Bridge) shutdown(srv *server) {
	source := sourceOf(srv.name)
	for _, name := range srv.tools {
		// a later registration under the same name belongs to someone else
		if def, ok := b.registry.Get(name); ok && def.Source == source {
			b.registry.Unregister(name)
		}
	}
	if err := srv.client.Close(); err != nil {
		b.logger.Debug("MCP server exit status", zap.String("server", srv.name), zap.Error(err))
	}
	b.logger.Info("MCP server disconnected", zap.String("server", srv.name))
}

// Servers returns the connected server names, sorted.
func (b *Bridge) Servers() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.servers))
	for name := range b.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tools returns the registered tool names for one server.
func (b *Bridge) Tools(serverName string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	srv, ok := b.servers[serverName]
	if !ok {
		return nil
	}
	return append([]string(nil), srv.tools...)
}

func sourceOf(serverName string) string { return "mcp:" + serverName }

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// ToolName is the registry name for a remote tool.
func ToolName(serverName, toolName string) string {
	return toolPrefix + unsafeName.ReplaceAllString(serverName, "_") +
		"__" + unsafeName.ReplaceAllString(toolName, "_")
}

func (b *Bridge) definition(serverName string, rt RemoteTool, client *Client) tools.ToolDefinition {
	schema := normalizeSchema(rt.InputSchema)
	remoteName := rt.Name
	desc := rt.Description
	if desc == "" {
		desc = fmt.Sprintf("%s (from %s)", rt.Name, serverName)
	}

	return tools.ToolDefinition{
		Name:        ToolName(serverName, rt.Name),
		Description: desc,
		Parameters:  parametersFromSchema(schema),
		InputSchema: schema,
		Source:      sourceOf(serverName),
		Handler: tools.HandlerFunc(func(ctx context.Context, args map[string]any) (any, error) {
			result, err := client.CallTool(ctx, remoteName, args)
			if err != nil {
				return nil, err
			}
			text := result.Text()
			if result.IsError {
				if text == "" {
					text = "remote tool reported an error"
				}
				return nil, errors.New(text)
			}
			if len(result.Content) == 1 && json.Valid([]byte(text)) {
				return json.RawMessage(text), nil
			}
			return text, nil
		}),
	}
}

// normalizeSchema returns an object schema. Missing or malformed schemas
// become an empty object schema; non-string entries in required are dropped.
func normalizeSchema(raw json.RawMessage) map[string]any {
	var schema map[string]any
	if len(raw) == 0 || json.Unmarshal(raw, &schema) != nil || schema == nil {
		schema = map[string]any{}
	}
	schema["type"] = "object"

	if _, ok := schema["properties"].(map[string]any); !ok {
		schema["properties"] = map[string]any{}
	}

	var required []string
	if list, ok := schema["required"].([]any); ok {
		for _, v := range list {
			if s, ok := v.(string); ok && s != "" {
				required = append(required, s)
			}
		}
	}
	if required == nil {
		required = []string{}
	}
	schema["required"] = required
	return schema
}

func parametersFromSchema(schema map[string]any) []types.ToolParameter {
	props, _ := schema["properties"].(map[string]any)
	required := map[string]bool{}
	if list, ok := schema["required"].([]string); ok {
		for _, name := range list {
			required[name] = true
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]types.ToolParameter, 0, len(names))
	for _, name := range names {
		param := types.ToolParameter{Name: name, Type: types.ParamAny, Required: required[name]}
		if prop, ok := props[name].(map[string]any); ok {
			if t, ok := prop["type"].(string); ok && types.ParamType(t).Valid() {
				param.Type = types.ParamType(t)
			}
			param.Description, _ = prop["description"].(string)
			param.Enum = stringEnum(prop["enum"])
		}
		params = append(params, param)
	}
	return params
}

// stringEnum keeps an enum only when every value is a string. Defaults are
// left to the server.
func stringEnum(v any) []string {
	values, ok := v.([]any)
	if !ok || len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, value := range values {
		s, ok := value.(string)
		if !ok {
			return nil
		}
		out = append(out, s)
	}
	return out
}
