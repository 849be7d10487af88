package gateway

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dhruvsoni1802/browser-gateway/internal/metrics"
	"github.com/dhruvsoni1802/browser-gateway/internal/registry"
)

const (
	// DefaultPort is used for the listener and for peers whose URI has no port
	DefaultPort = 3000

	// DefaultHandshakeTimeout bounds Connect
	DefaultHandshakeTimeout = 10 * time.Second
)

// DefaultCapabilities are advertised when the config names none
var DefaultCapabilities = []string{"chat", "tools", "memory"}

// Options configures a Manager
type Options struct {
	Config ServerConfig

	// Host is the interface the listener binds, empty means all
	Host             string
	HandshakeTimeout time.Duration
	Tools            []Tool
	Info             mcp.Implementation
	History          *History
	Logger           *slog.Logger
}

// Manager owns the protocol listener, the connection table and the message history
type Manager struct {
	mu       sync.Mutex // guards everything up to pumps
	config   ServerConfig
	listener net.Listener
	accepted map[string]Transport
	outbound map[string]Transport
	closed   bool

	acceptLoop  sync.WaitGroup
	pumps       sync.WaitGroup
	clientPumps sync.WaitGroup

	host             string
	handshakeTimeout time.Duration
	info             mcp.Implementation
	connections      *registry.Registry[Connection]
	history          *History
	dispatcher       *Dispatcher
	upgrader         websocket.Upgrader
	logger           *slog.Logger
}

// NewManager creates a stopped connection manager
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.Config.Port == 0 {
		opts.Config.Port = DefaultPort
	}
	if len(opts.Config.Capabilities) == 0 {
		opts.Config.Capabilities = DefaultCapabilities
	}
	if opts.Tools == nil {
		opts.Tools = DefaultTools()
	}
	if opts.History == nil {
		opts.History = NewHistory(DefaultHistoryLimit, nil, opts.Logger)
	}

	logger := opts.Logger.With("component", "gateway")
	m := &Manager{
		config:           cloneConfig(opts.Config),
		accepted:         make(map[string]Transport),
		outbound:         make(map[string]Transport),
		host:             opts.Host,
		handshakeTimeout: opts.HandshakeTimeout,
		info:             opts.Info,
		connections:      registry.New[Connection](),
		history:          opts.History,
		logger:           logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	m.config.IsEnabled = false
	m.dispatcher = NewDispatcher(opts.Tools, opts.Info, m.Config, opts.Logger)
	return m
}

func cloneConfig(cfg ServerConfig) ServerConfig {
	cfg.Capabilities = slices.Clone(cfg.Capabilities)
	if cfg.Authentication != nil {
		auth := *cfg.Authentication
		auth.Parameters = maps.Clone(auth.Parameters)
		cfg.Authentication = &auth
	}
	return cfg
}

func cloneConnection(c Connection) Connection {
	c.Metadata = maps.Clone(c.Metadata)
	if c.Metadata == nil {
		c.Metadata = map[string]string{}
	}
	if c.LastConnected != nil {
		t := *c.LastConnected
		c.LastConnected = &t
	}
	return c
}

// Config returns a copy of the server config
func (m *Manager) Config() ServerConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneConfig(m.config)
}

// Tools returns the advertised tools
func (m *Manager) Tools() []Tool {
	return m.dispatcher.Tools()
}

// Configure replaces the server config. Only allowed while the listener is stopped.
func (m *Manager) Configure(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("%w: port must be between 1 and 65535, got %d", ErrInvalidArgument, cfg.Port)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listener != nil {
		return fmt.Errorf("%w: cannot change config while the server is running", ErrConflict)
	}

	cfg = cloneConfig(cfg)
	cfg.IsEnabled = false
	m.config = cfg
	m.logger.Info("server config updated", "port", cfg.Port, "capabilities", cfg.Capabilities)
	return nil
}

// Running reports whether the listener is accepting connections
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listener != nil
}

// Addr returns the bound listener address, or nil when stopped
func (m *Manager) Addr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

// StartListening binds the configured port and starts accepting peers
func (m *Manager) StartListening() error {
	m.mu.Lock()
	if m.listener != nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: server is already running", ErrConflict)
	}

	port := m.config.Port
	ln, err := net.Listen("tcp", net.JoinHostPort(m.host, strconv.Itoa(port)))
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("%w on port %d: %v", ErrBindFailed, port, err)
	}

	m.listener = ln
	m.config.IsEnabled = true
	m.acceptLoop.Add(1)
	go m.accept(ln)
	m.mu.Unlock()

	m.logger.Info("server started", "port", port, "addr", ln.Addr().String())
	m.notify("server_start", Outbound, map[string]any{
		"port": port,
		"uri":  fmt.Sprintf("%s://localhost:%d", Scheme, port),
	}, "")
	return nil
}

// StopListening closes the listener and every accepted peer, then waits for their pumps
func (m *Manager) StopListening() error {
	m.mu.Lock()
	if m.listener == nil {
		m.mu.Unlock()
		return nil
	}

	ln := m.listener
	port := m.config.Port
	accepted := m.accepted
	m.listener = nil
	m.accepted = make(map[string]Transport)
	m.config.IsEnabled = false
	m.mu.Unlock()

	if err := ln.Close(); err != nil {
		m.logger.Warn("failed to close listener", "error", err)
	}
	m.acceptLoop.Wait()

	for id, t := range accepted {
		if err := t.Close(); err != nil {
			m.logger.Debug("failed to close peer", "connection_id", id, "error", err)
		}
	}
	m.pumps.Wait()

	m.logger.Info("server stopped", "port", port)
	m.notify("server_stop", Outbound, map[string]any{"port": port}, "")
	return nil
}

// accept runs until ln is closed
func (m *Manager) accept(ln net.Listener) {
	defer m.acceptLoop.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				m.logger.Error("accept failed", "error", err)
			}
			return
		}
		m.serve(newLineTransport(conn))
	}
}

// ServeWebSocket upgrades r to a websocket peer while the listener is running
func (m *Manager) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	if !m.Running() {
		http.Error(w, "server is not running", http.StatusServiceUnavailable)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	m.serve(newWSTransport(conn))
}

// serve registers an accepted transport and starts its pump
func (m *Manager) serve(t Transport) {
	id := uuid.NewString()
	remote := t.RemoteAddr()
	now := time.Now().UTC()

	m.mu.Lock()
	if m.listener == nil {
		m.mu.Unlock()
		_ = t.Close()
		return
	}
	m.accepted[id] = t
	m.pumps.Add(1)
	m.connections.Put(id, Connection{
		ID:            id,
		Name:          "client-" + id[:8],
		URI:           fmt.Sprintf("%s://%s", Scheme, remote),
		Status:        StatusConnected,
		Type:          TypeClient,
		LastConnected: &now,
		Metadata: map[string]string{
			"remoteAddr": remote,
			"transport":  t.Kind(),
		},
	})
	m.mu.Unlock()

	m.logger.Info("peer connected", "connection_id", id, "remote_addr", remote, "transport", t.Kind())
	go m.pump(id, t, true)
}

// pump reads frames from t until it fails, answering each in order
func (m *Manager) pump(id string, t Transport, accepted bool) {
	metrics.ConnectionOpened(t.Kind())
	defer metrics.ConnectionClosed(t.Kind())

	if accepted {
		defer m.pumps.Done()
		defer m.dropAccepted(id, t)
	} else {
		defer m.clientPumps.Done()
		defer m.dropOutbound(id, t)
	}

	for {
		frame, err := t.ReadFrame()
		if err != nil {
			if !isClosed(err) {
				m.logger.Debug("read failed", "connection_id", id, "error", err)
			}
			return
		}
		m.handleFrame(id, t, frame)
	}
}

// handleFrame records one inbound frame and writes the response to it, if any
func (m *Manager) handleFrame(id string, t Transport, frame []byte) {
	msg, err := Decode(frame)
	if err != nil {
		metrics.RecordDecodeFailure()
		m.logger.Warn("discarding undecodable frame", "connection_id", id, "error", err)
		return
	}
	msg = stamp(msg, id)
	m.history.Append(msg)

	// Only requests are answered, so two gateways never echo each other
	if msg.Type != TypeRequest && msg.Type != "" {
		return
	}

	resp, ok := m.dispatcher.Dispatch(msg)
	if !ok {
		return
	}
	if err := write(t, resp); err != nil {
		m.logger.Warn("failed to write response",
			"connection_id", id,
			"method", resp.Method,
			"error", err)
		return
	}
	m.history.Append(resp)
}

func write(t Transport, msg Message) error {
	frame, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return t.WriteFrame(frame)
}

// dropAccepted forgets an accepted peer once its pump ends
func (m *Manager) dropAccepted(id string, t Transport) {
	m.mu.Lock()
	if m.accepted[id] == t {
		delete(m.accepted, id)
	}
	m.mu.Unlock()

	_ = t.Close()
	m.connections.Remove(id)
	m.logger.Info("peer disconnected", "connection_id", id)
}

// dropOutbound marks an outbound connection disconnected when the peer goes away
func (m *Manager) dropOutbound(id string, t Transport) {
	m.mu.Lock()
	current := m.outbound[id] == t
	if current {
		delete(m.outbound, id)
		m.connections.Update(id, func(c Connection) Connection {
			c.Status = StatusDisconnected
			return c
		})
	}
	m.mu.Unlock()

	_ = t.Close()
	if current {
		m.logger.Info("peer closed connection", "connection_id", id)
	}
}

// notify records a notification generated by the manager itself
func (m *Manager) notify(method string, direction Direction, content any, connectionID string) {
	msg, err := newMessage(TypeNotification, method, content, connectionID)
	if err != nil {
		m.logger.Error("failed to build notification", "method", method, "error", err)
		return
	}
	msg.Direction = direction
	m.history.Append(msg)
}

// validateSpec checks name, URI and type of a connection spec
func validateSpec(spec ConnectionSpec) (ConnectionSpec, error) {
	spec.Name = strings.TrimSpace(spec.Name)
	if spec.Name == "" {
		return spec, fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}
	if spec.URI == "" {
		return spec, fmt.Errorf("%w: uri is required", ErrInvalidArgument)
	}

	u, err := url.Parse(spec.URI)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return spec, fmt.Errorf("%w: uri %q is not an absolute URI", ErrInvalidArgument, spec.URI)
	}
	if !strings.EqualFold(u.Scheme, Scheme) {
		return spec, fmt.Errorf("%w: uri must use the %s:// scheme", ErrInvalidArgument, Scheme)
	}
	if u.Port() != "" {
		if port, err := strconv.Atoi(u.Port()); err != nil || port < 1 || port > 65535 {
			return spec, fmt.Errorf("%w: uri port must be between 1 and 65535", ErrInvalidArgument)
		}
	}

	switch spec.Type {
	case "":
		spec.Type = TypeClient
	case TypeClient, TypeServer:
	default:
		return spec, fmt.Errorf("%w: unknown connection type %q", ErrInvalidArgument, spec.Type)
	}
	return spec, nil
}

// CreateConnection registers a disconnected connection
func (m *Manager) CreateConnection(spec ConnectionSpec) (Connection, error) {
	spec, err := validateSpec(spec)
	if err != nil {
		return Connection{}, err
	}

	c := Connection{
		ID:       uuid.NewString(),
		Name:     spec.Name,
		URI:      spec.URI,
		Status:   StatusDisconnected,
		Type:     spec.Type,
		Metadata: maps.Clone(spec.Metadata),
	}
	c = cloneConnection(c)
	m.connections.Put(c.ID, c)

	m.logger.Info("connection created", "connection_id", c.ID, "name", c.Name, "uri", c.URI)
	return cloneConnection(c), nil
}

// UpdateConnection replaces name, URI, type and metadata of a connection
func (m *Manager) UpdateConnection(id string, spec ConnectionSpec) (Connection, error) {
	spec, err := validateSpec(spec)
	if err != nil {
		return Connection{}, err
	}

	updated, ok := m.connections.Update(id, func(c Connection) Connection {
		c.Name = spec.Name
		c.URI = spec.URI
		c.Type = spec.Type
		c.Metadata = maps.Clone(spec.Metadata)
		return c
	})
	if !ok {
		return Connection{}, fmt.Errorf("%w: connection %s", ErrNotFound, id)
	}
	return cloneConnection(updated), nil
}

// GetConnection returns a copy of the connection
func (m *Manager) GetConnection(id string) (Connection, bool) {
	c, ok := m.connections.Get(id)
	if !ok {
		return Connection{}, false
	}
	return cloneConnection(c), true
}

// ListConnections returns every connection ordered by name
func (m *Manager) ListConnections() []Connection {
	all := m.connections.List()
	for i := range all {
		all[i] = cloneConnection(all[i])
	}
	slices.SortFunc(all, func(a, b Connection) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return all
}

// Connect performs an initialize handshake with the connection's peer
func (m *Manager) Connect(ctx context.Context, id string) (Connection, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return Connection{}, fmt.Errorf("%w: manager is closed", ErrConflict)
	}

	var previous ConnectionStatus
	c, ok := m.connections.Update(id, func(c Connection) Connection {
		previous = c.Status
		if c.Status == StatusConnected || c.Status == StatusConnecting {
			return c
		}
		c.Status = StatusConnecting
		return c
	})
	if !ok {
		return Connection{}, fmt.Errorf("%w: connection %s", ErrNotFound, id)
	}
	if previous == StatusConnected || previous == StatusConnecting {
		return Connection{}, fmt.Errorf("%w: connection %s is already %s", ErrConflict, id, previous)
	}

	m.logger.Info("connecting", "connection_id", id, "uri", c.URI)

	t, err := m.handshake(ctx, id, c.URI)
	if err != nil {
		m.connections.Update(id, func(c Connection) Connection {
			if c.Status == StatusConnecting {
				c.Status = StatusError
			}
			return c
		})
		m.logger.Warn("handshake failed", "connection_id", id, "uri", c.URI, "error", err)
		return Connection{}, fmt.Errorf("%w: %v", ErrResourceFault, err)
	}

	// Promote only if nothing moved the connection off connecting meanwhile
	now := time.Now().UTC()
	m.mu.Lock()
	closed = m.closed
	var current ConnectionStatus
	c, ok = m.connections.Update(id, func(c Connection) Connection {
		current = c.Status
		switch {
		case c.Status != StatusConnecting:
		case closed:
			c.Status = StatusDisconnected
		default:
			c.Status = StatusConnected
			c.LastConnected = &now
		}
		return c
	})
	promoted := ok && !closed && current == StatusConnecting
	if promoted {
		m.outbound[id] = t
		m.clientPumps.Add(1)
	}
	m.mu.Unlock()

	if !promoted {
		_ = t.Close()
		switch {
		case !ok:
			return Connection{}, fmt.Errorf("%w: connection %s", ErrNotFound, id)
		case closed:
			return Connection{}, fmt.Errorf("%w: manager is closed", ErrConflict)
		default:
			m.logger.Info("handshake interrupted", "connection_id", id, "status", current)
			return Connection{}, fmt.Errorf("%w: connection %s was %s during the handshake", ErrConflict, id, current)
		}
	}

	m.notify(MethodInitialize, Inbound, map[string]any{
		"status": StatusConnected,
		"uri":    c.URI,
	}, id)
	m.logger.Info("connected", "connection_id", id, "uri", c.URI)

	go m.pump(id, t, false)
	return cloneConnection(c), nil
}

// handshake dials the peer, sends initialize and waits for its response
func (m *Manager) handshake(ctx context.Context, id, uri string) (Transport, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	port := u.Port()
	if port == "" {
		port = strconv.Itoa(DefaultPort)
	}

	ctx, cancel := context.WithTimeout(ctx, m.handshakeTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(u.Hostname(), port))
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", uri, err)
	}
	t := newLineTransport(conn)

	// Unblock the read below when ctx ends
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})

	fail := func(err error) (Transport, error) {
		stop()
		_ = conn.Close()
		return nil, err
	}

	req, err := newMessage(TypeRequest, MethodInitialize, map[string]any{
		"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
		"clientInfo":      m.info,
		"capabilities":    m.Config().Capabilities,
	}, id)
	if err != nil {
		return fail(err)
	}
	if err := write(t, req); err != nil {
		return fail(fmt.Errorf("failed to send initialize: %w", err))
	}

	for {
		frame, err := t.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return fail(fmt.Errorf("no initialize response within %s", m.handshakeTimeout))
			}
			return fail(fmt.Errorf("failed to read initialize response: %w", err))
		}
		msg, err := Decode(frame)
		if err != nil {
			m.logger.Debug("ignoring frame during handshake", "connection_id", id, "error", err)
			continue
		}
		if msg.Type == TypeResponse && strings.EqualFold(msg.Method, MethodInitialize) {
			break
		}
	}

	if !stop() {
		// The deadline fired after the response arrived; clear it
		_ = conn.SetReadDeadline(time.Time{})
	}
	return t, nil
}

// Disconnect closes the connection's transport, if any, and marks it disconnected
func (m *Manager) Disconnect(id string) (Connection, error) {
	if _, ok := m.connections.Get(id); !ok {
		return Connection{}, fmt.Errorf("%w: connection %s", ErrNotFound, id)
	}

	// The status changes under mu so a concurrent Connect sees it before promoting
	m.mu.Lock()
	t := m.outbound[id]
	delete(m.outbound, id)
	if t == nil {
		// An accepted peer: closing it ends its pump, which drops the record
		t = m.accepted[id]
	}
	c, ok := m.connections.Update(id, func(c Connection) Connection {
		c.Status = StatusDisconnected
		return c
	})
	m.mu.Unlock()

	if t != nil {
		if err := t.Close(); err != nil {
			m.logger.Debug("failed to close transport", "connection_id", id, "error", err)
		}
	}
	if !ok {
		c = Connection{ID: id, Status: StatusDisconnected}
	}

	m.notify("disconnect", Outbound, map[string]any{"status": StatusDisconnected}, id)
	m.logger.Info("disconnected", "connection_id", id)
	return cloneConnection(c), nil
}

// RemoveConnection disconnects the connection if needed and deletes it
func (m *Manager) RemoveConnection(id string) bool {
	c, ok := m.connections.Get(id)
	if !ok {
		return false
	}
	if c.Status == StatusConnected || c.Status == StatusConnecting {
		if _, err := m.Disconnect(id); err != nil {
			m.logger.Warn("failed to disconnect before removal", "connection_id", id, "error", err)
		}
	}
	return m.connections.Remove(id)
}

// SendMessage writes a message to the connection's live transport, if any, and records it
func (m *Manager) SendMessage(ctx context.Context, req SendRequest) (Message, error) {
	if strings.TrimSpace(req.Method) == "" {
		return Message{}, fmt.Errorf("%w: method is required", ErrInvalidArgument)
	}
	if req.ConnectionID == "" {
		return Message{}, fmt.Errorf("%w: connectionId is required", ErrInvalidArgument)
	}
	if len(req.Content) > 0 && !json.Valid(req.Content) {
		return Message{}, fmt.Errorf("%w: content is not valid JSON", ErrInvalidArgument)
	}
	if _, ok := m.connections.Get(req.ConnectionID); !ok {
		return Message{}, fmt.Errorf("%w: connection %s", ErrNotFound, req.ConnectionID)
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	typ := req.Type
	if typ == "" {
		typ = TypeRequest
	}
	msg := Message{
		ID:           uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Type:         typ,
		Method:       req.Method,
		Content:      req.Content,
		Direction:    Outbound,
		ConnectionID: req.ConnectionID,
	}

	if t := m.transport(req.ConnectionID); t != nil {
		if err := write(t, msg); err != nil {
			return Message{}, fmt.Errorf("%w: failed to write to %s: %v", ErrResourceFault, req.ConnectionID, err)
		}
	}

	m.history.Append(msg)
	return msg, nil
}

func (m *Manager) transport(id string) Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.outbound[id]; ok {
		return t
	}
	return m.accepted[id]
}

// ListMessages returns recorded messages newest first. A limit of 0 means DefaultListLimit.
func (m *Manager) ListMessages(connectionID string, limit int) ([]Message, error) {
	if limit == 0 {
		limit = DefaultListLimit
	}
	if limit < 1 || limit > MaxListLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidArgument, MaxListLimit)
	}
	return m.history.List(connectionID, limit), nil
}

// Close stops the listener and drops every outbound connection
func (m *Manager) Close() error {
	err := m.StopListening()

	m.mu.Lock()
	m.closed = true
	ids := slices.Collect(maps.Keys(m.outbound))
	m.mu.Unlock()

	for _, id := range ids {
		if _, derr := m.Disconnect(id); derr != nil {
			m.logger.Warn("failed to disconnect", "connection_id", id, "error", derr)
		}
	}
	m.clientPumps.Wait()
	m.history.Close()
	return err
}
