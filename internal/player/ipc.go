package player

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"
)

const (
	socketDialTimeout = 5 * time.Second
	socketPollDelay   = 100 * time.Millisecond
	requestTimeout    = 2 * time.Second
)

// ipcClient speaks mpv's line-delimited JSON protocol over the control
// socket. Requests are serialized; asynchronous events interleaved in the
// stream are skipped while waiting for the matching response.
type ipcClient struct {
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	nextID int64
}

// dialIPC connects to the control socket, polling until mpv has created it
// or the deadline passes.
func dialIPC(ctx context.Context, socketPath string) (*ipcClient, error) {
	deadline := time.Now().Add(socketDialTimeout)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("unix", socketPath, time.Second)
		if err == nil {
			return &ipcClient{conn: conn, reader: bufio.NewReader(conn)}, nil
		}
		lastErr = err
		select {
		case <-time.After(socketPollDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("dial %s: %w", socketPath, lastErr)
}

type ipcRequest struct {
	Command   []any `json:"command"`
	RequestID int64 `json:"request_id"`
}

type ipcResponse struct {
	Error     string          `json:"error"`
	RequestID int64           `json:"request_id"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
}

func (c *ipcClient) command(ctx context.Context, args ...any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, fmt.Errorf("ipc connection closed")
	}

	c.nextID++
	request := ipcRequest{Command: args, RequestID: c.nextID}
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("encode ipc request: %w", err)
	}
	payload = append(payload, '\n')

	deadline := time.Now().Add(requestTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set ipc deadline: %w", err)
	}

	if _, err := c.conn.Write(payload); err != nil {
		return nil, fmt.Errorf("write ipc request: %w", err)
	}

	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			return nil, fmt.Errorf("read ipc response: %w", err)
		}
		var response ipcResponse
		if err := json.Unmarshal(line, &response); err != nil {
			continue
		}
		if response.Event != "" || response.RequestID != request.RequestID {
			continue
		}
		if response.Error != "success" {
			return nil, fmt.Errorf("ipc command rejected: %s", response.Error)
		}
		return response.Data, nil
	}
}

// SetProperty applies one mpv property change.
func (c *ipcClient) SetProperty(ctx context.Context, name string, value any) error {
	_, err := c.command(ctx, "set_property", name, value)
	return err
}

// GetFloat reads one numeric mpv property.
func (c *ipcClient) GetFloat(ctx context.Context, name string) (float64, error) {
	data, err := c.command(ctx, "get_property", name)
	if err != nil {
		return 0, err
	}
	var value float64
	if err := json.Unmarshal(data, &value); err != nil {
		return 0, fmt.Errorf("property %s is not numeric: %w", name, err)
	}
	return value, nil
}

// Quit asks mpv to exit.
func (c *ipcClient) Quit(ctx context.Context) error {
	_, err := c.command(ctx, "quit")
	return err
}

// Close tears down the socket connection.
func (c *ipcClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
