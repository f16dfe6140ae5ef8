package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	maxLineSize   = 10 * 1024 * 1024
	shutdownGrace = 2 * time.Second
)

// StdioTransport speaks line-delimited JSON-RPC to a child process over its
// stdin and stdout.
type StdioTransport struct {
	server string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	logger *zap.Logger

	writeMu sync.Mutex
	mu      sync.Mutex
	pending map[int64]chan *Response
	nextID  atomic.Int64

	closed    chan struct{} // Close was called
	exited    chan struct{} // reader saw EOF; no more responses
	closeOnce sync.Once
	waitErr   error
}

// StartStdio spawns command and starts reading its stdout. The process is
// not tied to ctx; it lives until Close.
func StartStdio(server, command string, args, env []string, logger *zap.Logger) (*StdioTransport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cmd := exec.Command(command, args...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	cmd.Stderr = &stderrLogger{logger: logger.With(zap.String("server", server))}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &ConnectionError{Server: server, Op: "stdin pipe", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &ConnectionError{Server: server, Op: "stdout pipe", Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &ConnectionError{Server: server, Op: "spawn", Err: err}
	}

	t := &StdioTransport{
		server:  server,
		cmd:     cmd,
		stdin:   stdin,
		stdout:  stdout,
		logger:  logger,
		pending: make(map[int64]chan *Response),
		closed:  make(chan struct{}),
		exited:  make(chan struct{}),
	}
	go t.recvLoop()
	return t, nil
}

// Done is closed when the server stops producing output.
func (t *StdioTransport) Done() <-chan struct{} { return t.exited }

// Pid returns the child process id.
func (t *StdioTransport) Pid() int {
	if t.cmd.Process == nil {
		return 0
	}
	return t.cmd.Process.Pid
}

func (t *StdioTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	case <-t.exited:
		return true
	default:
		return false
	}
}

func (t *StdioTransport) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.stdin.Write(data); err != nil {
		return fmt.Errorf("%w: write: %v", ErrConnectionClosed, err)
	}
	return nil
}

// Call sends a request and blocks until its response arrives, ctx ends, or
// the connection goes away.
func (t *StdioTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if t.isClosed() {
		return nil, ErrConnectionClosed
	}

	id := t.nextID.Add(1)
	ch := make(chan *Response, 1)

	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	if err := t.write(&Request{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: params}); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		return resultOf(resp)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.exited:
		// a response may have raced with EOF
		select {
		case resp := <-ch:
			return resultOf(resp)
		default:
			return nil, ErrConnectionClosed
		}
	case <-t.closed:
		return nil, ErrConnectionClosed
	}
}

func resultOf(resp *Response) (json.RawMessage, error) {
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// Notify sends a notification.
func (t *StdioTransport) Notify(_ context.Context, method string, params any) error {
	if t.isClosed() {
		return ErrConnectionClosed
	}
	return t.write(&Notification{JSONRPC: jsonRPCVersion, Method: method, Params: params})
}

// Close ends the session: stdin is closed so the server can exit on its own,
// and the process is killed if it is still running after a grace period.
// Safe to call more than once.
func (t *StdioTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.stdin.Close()

		select {
		case <-t.exited:
		case <-time.After(shutdownGrace):
			t.logger.Warn("MCP server did not exit, killing",
				zap.String("server", t.server), zap.Int("pid", t.Pid()))
			_ = t.cmd.Process.Kill()
			select {
			case <-t.exited:
			case <-time.After(shutdownGrace):
				// a grandchild may still hold stdout; Wait closes our end
				t.logger.Warn("MCP server output still open after kill",
					zap.String("server", t.server))
			}
		}
		t.waitErr = t.cmd.Wait()
	})
	return t.waitErr
}

// recvLoop routes responses to their waiters by id. Lines that are not
// JSON-RPC responses are logged and skipped.
func (t *StdioTransport) recvLoop() {
	defer close(t.exited)

	scanner := bufio.NewScanner(t.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			t.logger.Debug("Skipping non-JSON line from MCP server",
				zap.String("server", t.server),
				zap.ByteString("line", truncateBytes(line, 200)))
			continue
		}
		if len(resp.ID) == 0 || resp.Method != "" {
			t.logger.Debug("Ignoring MCP server message",
				zap.String("server", t.server),
				zap.String("method", resp.Method))
			continue
		}

		id, ok := parseID(resp.ID)
		if !ok {
			continue
		}
		// each id is delivered at most once; duplicates find no waiter
		t.mu.Lock()
		ch, found := t.pending[id]
		delete(t.pending, id)
		t.mu.Unlock()
		if !found {
			t.logger.Debug("Dropping MCP response with no waiter",
				zap.String("server", t.server), zap.Int64("id", id))
			continue
		}
		select {
		case ch <- &resp:
		default:
		}
	}

	if err := scanner.Err(); err != nil {
		t.logger.Warn("MCP server stream ended with error",
			zap.String("server", t.server), zap.Error(err))
	}
}

func parseID(raw json.RawMessage) (int64, bool) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

func truncateBytes(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}

// stderrLogger forwards server stderr lines to the debug log.
type stderrLogger struct {
	logger *zap.Logger
	buf    []byte
	mu     sync.Mutex
}

func (w *stderrLogger) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimSpace(w.buf[:i]); len(line) > 0 {
			w.logger.Debug("MCP server stderr", zap.ByteString("line", line))
		}
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > 64*1024 {
		w.buf = w.buf[:0]
	}
	return len(p), nil
}
