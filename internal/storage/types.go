package storage

import (
	"time"

	"github.com/dhruvsoni1802/browser-gateway/internal/engine"
)

// SessionState is the mirrored view of one browser session
type SessionState struct {
	SessionID    string            `json:"session_id"`
	SessionName  string            `json:"session_name"`
	Status       string            `json:"status"`
	CurrentURL   string            `json:"current_url"`
	LastError    string            `json:"last_error,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActivity time.Time         `json:"last_activity"`
	Viewport     *engine.Viewport  `json:"viewport,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}
