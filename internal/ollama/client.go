// Package ollama provides a model client for the Ollama chat API.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ashutoshrp06/friday/internal/llm"
	"github.com/ashutoshrp06/friday/internal/tools"
	"github.com/ashutoshrp06/friday/internal/types"
)

// Client handles communication with the Ollama API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	model       string
	contextSize int
	temperature float64
	stream      bool
}

// Config holds client configuration.
type Config struct {
	BaseURL     string        // e.g., "http://localhost:11434" or remote endpoint
	Model       string        // e.g., "qwen2.5:7b"
	Timeout     time.Duration // Request timeout
	ContextSize int           // num_ctx; 0 keeps the server default
	Temperature float64
	Stream      bool // read the reply as a stream of chunks
}

// DefaultConfig returns sensible defaults for local development.
func DefaultConfig() Config {
	return Config{
		BaseURL:     "http://localhost:11434",
		Model:       "qwen2.5:7b",
		Timeout:     120 * time.Second,
		ContextSize: 8192,
		Temperature: 0.1,
	}
}

// NewClient creates a new Ollama client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		contextSize: cfg.ContextSize,
		temperature: cfg.Temperature,
		stream:      cfg.Stream,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Options controls generation parameters.
type Options struct {
	Temperature float64 `json:"temperature"`
	NumCtx      int     `json:"num_ctx,omitempty"`
}

// ChatRequest is the request body for the /api/chat endpoint.
type ChatRequest struct {
	Model    string            `json:"model"`
	Messages []llm.ChatMessage `json:"messages"`
	Stream   bool              `json:"stream"`
	Format   string            `json:"format,omitempty"`
	Options  *Options          `json:"options,omitempty"`
}

// ChatResponse is one response object from /api/chat. When streaming, each
// line carries a fragment of Message.Content and the last one has Done set.
type ChatResponse struct {
	Model     string          `json:"model"`
	Message   llm.ChatMessage `json:"message"`
	Done      bool            `json:"done"`
	CreatedAt string          `json:"created_at"`
	Error     string          `json:"error,omitempty"`

	TotalDuration   int64 `json:"total_duration,omitempty"`
	PromptEvalCount int   `json:"prompt_eval_count,omitempty"`
	EvalCount       int   `json:"eval_count,omitempty"`
}

// Complete sends the conversation and returns the full reply text.
func (c *Client) Complete(ctx context.Context, messages []types.Message, schemas []tools.ToolSchema) (string, error) {
	resp, err := c.Chat(ctx, llm.ChatMessages(messages, schemas))
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

// Chat sends a conversation to the model. Streamed replies are aggregated
// into a single response.
func (c *Client) Chat(ctx context.Context, messages []llm.ChatMessage) (*ChatResponse, error) {
	req := ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   c.stream,
		Options: &Options{
			Temperature: c.temperature,
			NumCtx:      c.contextSize,
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	if c.stream {
		return readStream(resp.Body)
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if chatResp.Error != "" {
		return nil, fmt.Errorf("ollama: %s", chatResp.Error)
	}
	return &chatResp, nil
}

// readStream joins the content of every chunk up to the done marker.
func readStream(r io.Reader) (*ChatResponse, error) {
	var (
		content strings.Builder
		last    ChatResponse
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return nil, fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Error != "" {
			return nil, fmt.Errorf("ollama: %s", chunk.Error)
		}
		content.WriteString(chunk.Message.Content)
		last = chunk
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}
	if !last.Done {
		return nil, fmt.Errorf("stream ended before done")
	}

	last.Message.Role = string(types.RoleAssistant)
	last.Message.Content = content.String()
	return &last, nil
}

// Ping checks if the Ollama server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.ListModels(ctx); err != nil {
		return fmt.Errorf("ollama not reachable: %w", err)
	}
	return nil
}

// ListModels returns the available models.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	names := make([]string, len(result.Models))
	for i, m := range result.Models {
		names[i] = m.Name
	}

	return names, nil
}

// ModelInfo returns information about the configured model.
func (c *Client) ModelInfo() string {
	return fmt.Sprintf("%s @ %s", c.model, c.baseURL)
}
