package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// Scheme is the URI scheme every connection must use
const Scheme = "mcp"

// MessageType classifies a protocol message
type MessageType string

const (
	TypeRequest      MessageType = "Request"
	TypeResponse     MessageType = "Response"
	TypeNotification MessageType = "Notification"
	TypeError        MessageType = "Error"
)

// UnmarshalText accepts the type in any letter case
func (t *MessageType) UnmarshalText(text []byte) error {
	for _, known := range []MessageType{TypeRequest, TypeResponse, TypeNotification, TypeError} {
		if strings.EqualFold(string(text), string(known)) {
			*t = known
			return nil
		}
	}
	if len(text) == 0 {
		*t = ""
		return nil
	}
	return fmt.Errorf("unknown message type %q", text)
}

// Direction tells whether a message was received or sent
type Direction string

const (
	Inbound  Direction = "Inbound"
	Outbound Direction = "Outbound"
)

// UnmarshalText accepts the direction in any letter case
func (d *Direction) UnmarshalText(text []byte) error {
	switch {
	case strings.EqualFold(string(text), string(Inbound)):
		*d = Inbound
	case strings.EqualFold(string(text), string(Outbound)):
		*d = Outbound
	case len(text) == 0:
		*d = ""
	default:
		return fmt.Errorf("unknown direction %q", text)
	}
	return nil
}

// Message is one protocol envelope. Recorded messages are never modified.
type Message struct {
	ID           string          `json:"id"`
	Timestamp    time.Time       `json:"timestamp"`
	Type         MessageType     `json:"type"`
	Method       string          `json:"method"`
	Content      json.RawMessage `json:"content,omitempty"`
	Direction    Direction       `json:"direction"`
	ConnectionID string          `json:"connectionId,omitempty"`
}

// ConnectionStatus is the lifecycle state of a connection
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
)

// ConnectionType tells who opened the connection
type ConnectionType string

const (
	TypeClient ConnectionType = "client"
	TypeServer ConnectionType = "server"
)

// Connection is a tracked peer
type Connection struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	URI           string            `json:"uri"`
	Status        ConnectionStatus  `json:"status"`
	Type          ConnectionType    `json:"type"`
	LastConnected *time.Time        `json:"lastConnected"`
	Metadata      map[string]string `json:"metadata"`
}

// ConnectionSpec describes a connection to create or update
type ConnectionSpec struct {
	Name     string            `json:"name"`
	URI      string            `json:"uri"`
	Type     ConnectionType    `json:"type"`
	Metadata map[string]string `json:"metadata"`
}

// AuthConfig is stored with the server config but not enforced
type AuthConfig struct {
	Type       string            `json:"type" yaml:"type"`
	APIKey     string            `json:"apiKey" yaml:"apiKey"`
	Parameters map[string]string `json:"parameters" yaml:"parameters"`
}

// ServerConfig is the process-wide listener configuration
type ServerConfig struct {
	IsEnabled      bool        `json:"isEnabled"`
	Port           int         `json:"port"`
	Capabilities   []string    `json:"capabilities"`
	Authentication *AuthConfig `json:"authentication,omitempty"`
}

// Tool is a capability advertised to peers through list_tools
type Tool struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Schema      mcp.ToolInputSchema `json:"schema"`
	IsEnabled   bool                `json:"isEnabled"`
}

// SendRequest asks the manager to send a message to a connection
type SendRequest struct {
	ConnectionID string          `json:"connectionId"`
	Method       string          `json:"method"`
	Type         MessageType     `json:"type"`
	Content      json.RawMessage `json:"content"`
}
