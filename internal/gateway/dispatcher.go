package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

// Method names the dispatcher answers
const (
	MethodInitialize = "initialize"
	MethodListTools  = "list_tools"
	MethodCallTool   = "call_tool"
)

// Dispatcher decodes inbound frames and builds the responses to them
type Dispatcher struct {
	tools  []Tool
	info   mcp.Implementation
	config func() ServerConfig
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher advertising tools. config is read on every
// initialize so capability changes show up without a restart.
func NewDispatcher(tools []Tool, info mcp.Implementation, config func() ServerConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		tools:  slices.Clone(tools),
		info:   info,
		config: config,
		logger: logger.With("component", "dispatcher"),
	}
}

// Tools returns the advertised tool descriptors
func (d *Dispatcher) Tools() []Tool {
	return slices.Clone(d.tools)
}

// Decode parses one frame into a message
func Decode(frame []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	return msg, nil
}

// stamp marks msg as received now on connectionID
func stamp(msg Message, connectionID string) Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Timestamp = time.Now().UTC()
	msg.Direction = Inbound
	msg.ConnectionID = connectionID
	return msg
}

// Dispatch routes msg by method and returns the response to send, if any
func (d *Dispatcher) Dispatch(msg Message) (Message, bool) {
	var content any

	switch strings.ToLower(msg.Method) {
	case MethodInitialize:
		cfg := d.config()
		content = map[string]any{
			"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
			"capabilities":    cfg.Capabilities,
			"serverInfo":      d.info,
		}

	case MethodListTools:
		content = map[string]any{"tools": d.tools}

	case MethodCallTool:
		content = d.callTool(msg)

	default:
		d.logger.Warn("dropping message with unknown method",
			"method", msg.Method,
			"connection_id", msg.ConnectionID)
		return Message{}, false
	}

	resp, err := newMessage(TypeResponse, msg.Method, content, msg.ConnectionID)
	if err != nil {
		d.logger.Error("failed to build response", "method", msg.Method, "error", err)
		return Message{}, false
	}
	return resp, true
}

// callTool answers every tool call with a structured "not implemented" result
func (d *Dispatcher) callTool(msg Message) *mcp.CallToolResult {
	var params struct {
		Name string `json:"name"`
	}
	if len(msg.Content) > 0 {
		if err := json.Unmarshal(msg.Content, &params); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid call_tool content: %v", err))
		}
	}

	known := slices.ContainsFunc(d.tools, func(t Tool) bool { return t.Name == params.Name })
	if !known {
		return mcp.NewToolResultError(fmt.Sprintf("unknown tool: %s", params.Name))
	}
	return mcp.NewToolResultError(fmt.Sprintf("tool %s is not implemented", params.Name))
}

// newMessage builds an outbound message with a fresh id
func newMessage(typ MessageType, method string, content any, connectionID string) (Message, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return Message{}, err
	}
	return Message{
		ID:           uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Type:         typ,
		Method:       method,
		Content:      raw,
		Direction:    Outbound,
		ConnectionID: connectionID,
	}, nil
}
