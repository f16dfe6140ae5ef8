package mcp

import (
	"context"
	"encoding/json"
	"fmt"
)

// maxListPages bounds tools/list pagination against servers that keep
// returning a cursor.
const maxListPages = 100

// Client issues MCP requests over a transport.
type Client struct {
	transport Transport
	info      ServerInfo
}

// NewClient wraps an already started transport.
func NewClient(t Transport) *Client {
	return &Client{transport: t}
}

// ServerInfo returns what the server reported during Initialize.
func (c *Client) ServerInfo() ServerInfo { return c.info }

// Initialize runs the handshake and acknowledges it with the initialized
// notification.
func (c *Client) Initialize(ctx context.Context, clientName, clientVersion string) (*InitializeResult, error) {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    clientName,
			"version": clientVersion,
		},
	}
	raw, err := c.transport.Call(ctx, "initialize", params)
	if err != nil {
		return nil, err
	}

	var result InitializeResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("decode initialize result: %w", err)
		}
	}
	c.info = result.ServerInfo

	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListTools returns every tool the server advertises, following nextCursor.
func (c *Client) ListTools(ctx context.Context) ([]RemoteTool, error) {
	var all []RemoteTool
	cursor := ""

	for page := 0; page < maxListPages; page++ {
		var params any
		if cursor != "" {
			params = map[string]any{"cursor": cursor}
		}
		raw, err := c.transport.Call(ctx, "tools/list", params)
		if err != nil {
			return nil, err
		}

		var result struct {
			Tools      []json.RawMessage `json:"tools"`
			NextCursor string            `json:"nextCursor,omitempty"`
		}
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("decode tools/list result: %w", err)
		}
		// entries that do not decode are skipped, not fatal
		for _, entry := range result.Tools {
			var tool RemoteTool
			if err := json.Unmarshal(entry, &tool); err != nil {
				continue
			}
			all = append(all, tool)
		}

		if result.NextCursor == "" || result.NextCursor == cursor {
			return all, nil
		}
		cursor = result.NextCursor
	}
	return all, nil
}

// CallTool invokes one remote tool.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := c.transport.Call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}

	var result CallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode tools/call result: %w", err)
	}
	return &result, nil
}

// Close shuts down the transport.
func (c *Client) Close() error {
	return c.transport.Close()
}

// Text joins the text content items of a call result.
func (r *CallResult) Text() string {
	var out string
	for _, item := range r.Content {
		if item.Type != "" && item.Type != "text" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += item.Text
	}
	return out
}
