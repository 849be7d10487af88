package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// ErrClientClosed is returned for commands on a closed or broken connection
var ErrClientClosed = errors.New("cdp client closed")

// Client is a browser-level DevTools connection. Commands for pages are
// routed through flattened target sessions.
type Client struct {
	wsURL  string
	conn   *websocket.Conn
	nextID atomic.Int64
	logger *slog.Logger

	wmu sync.Mutex // one writer at a time

	mu      sync.Mutex
	pending map[int64]chan Response
	err     error

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a client for the given browser WebSocket URL
func NewClient(wsURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		wsURL:   wsURL,
		pending: make(map[int64]chan Response),
		done:    make(chan struct{}),
		logger:  logger.With("component", "cdp"),
	}
}

// Connect dials the browser and starts reading responses
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", c.wsURL, err)
	}
	c.conn = conn

	go c.readLoop()
	return nil
}

// readLoop dispatches responses to their waiting callers until the connection fails
func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}

		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			c.logger.Warn("failed to decode cdp message", "error", err)
			continue
		}

		// Events have no id; nothing here subscribes to them
		if resp.ID == 0 {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()

		if ok {
			ch <- resp
		}
	}
}

// fail wakes every waiting caller with err
func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = fmt.Errorf("%w: %v", ErrClientClosed, err)
	}
	pending := c.pending
	c.pending = make(map[int64]chan Response)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	c.closeOnce.Do(func() { close(c.done) })
}

// Send issues method on the browser (sessionID empty) or on an attached target
// and waits for its result
func (c *Client) Send(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	if c.conn == nil {
		return nil, ErrClientClosed
	}

	id := c.nextID.Add(1)
	ch := make(chan Response, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	cmd := Command{ID: id, Method: method, Params: params, SessionID: sessionID}
	c.wmu.Lock()
	err := c.conn.WriteJSON(cmd)
	c.wmu.Unlock()
	if err != nil {
		// A failed write leaves the connection unusable
		c.fail(err)
		return nil, fmt.Errorf("failed to send %s: %w", method, c.closedErr())
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, c.closedErr()
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("%s: %w", method, resp.Error)
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.forget(id)
		return nil, fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

// SendCommand issues a browser-level command
func (c *Client) SendCommand(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.Send(ctx, "", method, params)
}

// SendCommandToTarget issues a command on an attached target session
func (c *Client) SendCommandToTarget(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	return c.Send(ctx, sessionID, method, params)
}

func (c *Client) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	return ErrClientClosed
}

// CreateTarget opens a new page and returns its target id
func (c *Client) CreateTarget(ctx context.Context, url, browserContextID string) (string, error) {
	params := map[string]any{"url": url}
	if browserContextID != "" {
		params["browserContextId"] = browserContextID
	}

	result, err := c.SendCommand(ctx, "Target.createTarget", params)
	if err != nil {
		return "", err
	}

	var response struct {
		TargetID string `json:"targetId"`
	}
	if err := json.Unmarshal(result, &response); err != nil {
		return "", fmt.Errorf("failed to parse createTarget response: %w", err)
	}
	return response.TargetID, nil
}

// AttachToTarget attaches a flattened session to targetID and returns the session id
func (c *Client) AttachToTarget(ctx context.Context, targetID string) (string, error) {
	result, err := c.SendCommand(ctx, "Target.attachToTarget", map[string]any{
		"targetId": targetID,
		"flatten":  true,
	})
	if err != nil {
		return "", err
	}

	var response struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(result, &response); err != nil {
		return "", fmt.Errorf("failed to parse attachToTarget response: %w", err)
	}
	return response.SessionID, nil
}

// CloseTarget closes a page
func (c *Client) CloseTarget(ctx context.Context, targetID string) error {
	_, err := c.SendCommand(ctx, "Target.closeTarget", map[string]any{"targetId": targetID})
	return err
}

// Done is closed once the connection is gone
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection and fails every waiting command
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.fail(errors.New("closed by caller"))
	return err
}
