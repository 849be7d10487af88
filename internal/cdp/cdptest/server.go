// Package cdptest runs a scripted DevTools endpoint for tests.
package cdptest

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/dhruvsoni1802/browser-gateway/internal/cdp"
)

// Call is one command received by the server
type Call struct {
	Method    string
	Params    json.RawMessage
	SessionID string
}

// Handler answers one command. A nil result is sent as {}.
type Handler func(call Call) (any, *cdp.ResponseError)

// Server speaks enough of the DevTools protocol to drive a cdp.Client
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]Handler
	calls    []Call
	conns    []*websocket.Conn
}

// NewServer starts a server answering /json/version and one browser websocket
func NewServer() *Server {
	s := &Server{handlers: make(map[string]Handler)}
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"Browser":              "HeadlessChrome/0.0",
			"Protocol-Version":     "1.3",
			"webSocketDebuggerUrl": s.WebSocketURL(),
		})
	})
	mux.HandleFunc("/devtools/browser/test", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		s.serve(conn)
	})

	s.Server = httptest.NewServer(mux)
	return s
}

// WebSocketURL is the browser endpoint advertised by /json/version
func (s *Server) WebSocketURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/devtools/browser/test"
}

// Host and Port of the HTTP endpoint
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Listener.Addr().String())
	return host
}

func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Listener.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// Handle registers h for method, replacing any previous handler
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Calls returns every command received so far
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Methods returns the method names of every call received so far
func (s *Server) Methods() []string {
	calls := s.Calls()
	methods := make([]string, len(calls))
	for i, call := range calls {
		methods[i] = call.Method
	}
	return methods
}

// DropConnections closes every open browser websocket
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}

// Close stops the server and every connection
func (s *Server) Close() {
	s.DropConnections()
	s.Server.Close()
}

func (s *Server) serve(conn *websocket.Conn) {
	var wmu sync.Mutex
	for {
		var cmd struct {
			ID        int64           `json:"id"`
			Method    string          `json:"method"`
			Params    json.RawMessage `json:"params"`
			SessionID string          `json:"sessionId"`
		}
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}

		call := Call{Method: cmd.Method, Params: cmd.Params, SessionID: cmd.SessionID}
		s.mu.Lock()
		s.calls = append(s.calls, call)
		h := s.handlers[cmd.Method]
		s.mu.Unlock()

		var result any
		var rerr *cdp.ResponseError
		if h != nil {
			result, rerr = h(call)
		}
		if result == nil {
			result = map[string]any{}
		}

		resp := map[string]any{"id": cmd.ID}
		if cmd.SessionID != "" {
			resp["sessionId"] = cmd.SessionID
		}
		if rerr != nil {
			resp["error"] = rerr
		} else {
			resp["result"] = result
		}

		wmu.Lock()
		err := conn.WriteJSON(resp)
		wmu.Unlock()
		if err != nil {
			return
		}
	}
}
