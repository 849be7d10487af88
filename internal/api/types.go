package api

import (
	"github.com/dhruvsoni1802/browser-gateway/internal/engine"
	"github.com/dhruvsoni1802/browser-gateway/internal/gateway"
	"github.com/dhruvsoni1802/browser-gateway/internal/session"
)

// Request Types

// CreateSessionRequest for POST /api/browser/sessions
type CreateSessionRequest struct {
	Name       string            `json:"name"`
	InitialURL string            `json:"initialUrl,omitempty"`
	Viewport   *engine.Viewport  `json:"viewport,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ActionRequest for POST /api/browser/sessions/{id}/actions
type ActionRequest struct {
	Action     session.ActionType `json:"action"`
	Parameters map[string]any     `json:"parameters,omitempty"`
}

// NavigateRequest for POST /api/browser/sessions/{id}/navigate
type NavigateRequest struct {
	URL string `json:"url"`
}

// ExecuteJSRequest for POST /api/browser/sessions/{id}/execute
type ExecuteJSRequest struct {
	Script string `json:"script"`
}

// Response Types

// ListSessionsResponse returned with all sessions
type ListSessionsResponse struct {
	Sessions []session.Session `json:"sessions"`
	Count    int               `json:"count"`
}

// ListConnectionsResponse returned with all connections
type ListConnectionsResponse struct {
	Connections []gateway.Connection `json:"connections"`
	Count       int                  `json:"count"`
}

// ListMessagesResponse returned with recorded messages, newest first
type ListMessagesResponse struct {
	Messages []gateway.Message `json:"messages"`
	Count    int               `json:"count"`
}

// ToolsResponse lists the tools the listener advertises
type ToolsResponse struct {
	Tools []gateway.Tool `json:"tools"`
}

// HealthResponse for GET /healthz
type HealthResponse struct {
	Status       string `json:"status"`
	Sessions     int    `json:"sessions"`
	MCPListening bool   `json:"mcpListening"`
	Redis        string `json:"redis,omitempty"`
}

// Error Types

// ErrorResponse for all error cases
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string `json:"code"`    // Machine-readable error code
	Message string `json:"message"` // Human-readable message
}

// Common error codes
const (
	ErrCodeSessionNotFound = "SESSION_NOT_FOUND"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodeConflict        = "CONFLICT"
	ErrCodeResourceFault   = "RESOURCE_FAULT"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)
