package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dhruvsoni1802/browser-gateway/internal/gateway"
)

// MCPHandlers exposes the connection manager over HTTP
type MCPHandlers struct {
	gateway *gateway.Manager
}

func NewMCPHandlers(manager *gateway.Manager) *MCPHandlers {
	return &MCPHandlers{gateway: manager}
}

// GetServerConfig handles GET /api/mcp/server/config
func (h *MCPHandlers) GetServerConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.gateway.Config())
}

// UpdateServerConfig handles PUT /api/mcp/server/config
func (h *MCPHandlers) UpdateServerConfig(w http.ResponseWriter, r *http.Request) {
	var cfg gateway.ServerConfig
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	if err := h.gateway.Configure(cfg); err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.gateway.Config())
}

// StartServer handles POST /api/mcp/server/start
func (h *MCPHandlers) StartServer(w http.ResponseWriter, r *http.Request) {
	if err := h.gateway.StartListening(); err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.gateway.Config())
}

// StopServer handles POST /api/mcp/server/stop
func (h *MCPHandlers) StopServer(w http.ResponseWriter, r *http.Request) {
	if err := h.gateway.StopListening(); err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.gateway.Config())
}

// ListConnections handles GET /api/mcp/connections
func (h *MCPHandlers) ListConnections(w http.ResponseWriter, r *http.Request) {
	connections := h.gateway.ListConnections()
	writeJSON(w, http.StatusOK, ListConnectionsResponse{
		Connections: connections,
		Count:       len(connections),
	})
}

// CreateConnection handles POST /api/mcp/connections
func (h *MCPHandlers) CreateConnection(w http.ResponseWriter, r *http.Request) {
	var spec gateway.ConnectionSpec
	if err := decodeJSON(r, &spec); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	c, err := h.gateway.CreateConnection(spec)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// GetConnection handles GET /api/mcp/connections/{id}
func (h *MCPHandlers) GetConnection(w http.ResponseWriter, r *http.Request) {
	c, ok := h.gateway.GetConnection(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "connection not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// UpdateConnection handles PUT /api/mcp/connections/{id}
func (h *MCPHandlers) UpdateConnection(w http.ResponseWriter, r *http.Request) {
	var spec gateway.ConnectionSpec
	if err := decodeJSON(r, &spec); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	c, err := h.gateway.UpdateConnection(chi.URLParam(r, "id"), spec)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// DeleteConnection handles DELETE /api/mcp/connections/{id}
func (h *MCPHandlers) DeleteConnection(w http.ResponseWriter, r *http.Request) {
	if !h.gateway.RemoveConnection(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "connection not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Connect handles POST /api/mcp/connections/{id}/connect
func (h *MCPHandlers) Connect(w http.ResponseWriter, r *http.Request) {
	c, err := h.gateway.Connect(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Disconnect handles POST /api/mcp/connections/{id}/disconnect
func (h *MCPHandlers) Disconnect(w http.ResponseWriter, r *http.Request) {
	c, err := h.gateway.Disconnect(chi.URLParam(r, "id"))
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ListMessages handles GET /api/mcp/messages?connectionId=&limit=
func (h *MCPHandlers) ListMessages(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	messages, err := h.gateway.ListMessages(query.Get("connectionId"), limit)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListMessagesResponse{
		Messages: messages,
		Count:    len(messages),
	})
}

// SendMessage handles POST /api/mcp/messages
func (h *MCPHandlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req gateway.SendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	msg, err := h.gateway.SendMessage(r.Context(), req)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// ListTools handles GET /api/mcp/tools
func (h *MCPHandlers) ListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ToolsResponse{Tools: h.gateway.Tools()})
}
