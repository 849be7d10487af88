package gateway

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dhruvsoni1802/browser-gateway/internal/session"
)

// toTool converts an mcp-go tool definition into an advertised descriptor
func toTool(t mcp.Tool) Tool {
	return Tool{
		Name:        t.Name,
		Description: t.Description,
		Schema:      t.InputSchema,
		IsEnabled:   true,
	}
}

// DefaultTools returns the tools advertised to every peer
func DefaultTools() []Tool {
	return []Tool{
		toTool(mcp.NewTool("chat",
			mcp.WithDescription("Send a chat message to the AI"),
			mcp.WithString("message",
				mcp.Required(),
				mcp.Description("The message to send"),
			),
		)),
		toTool(mcp.NewTool("search_memory",
			mcp.WithDescription("Search through conversation memory"),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("Search query"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum results"),
				mcp.DefaultNumber(10),
			),
		)),
		toTool(mcp.NewTool("get_conversation_history",
			mcp.WithDescription("Retrieve conversation history"),
			mcp.WithString("conversationId",
				mcp.Description("Conversation ID"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum messages"),
				mcp.DefaultNumber(50),
			),
		)),
		toTool(mcp.NewTool("browser_action",
			mcp.WithDescription("Run an action in a browser session"),
			mcp.WithString("sessionId",
				mcp.Required(),
				mcp.Description("Browser session ID"),
			),
			mcp.WithString("action",
				mcp.Required(),
				mcp.Description("Action to run"),
				mcp.Enum(session.ActionTypes()...),
			),
			mcp.WithObject("parameters",
				mcp.Description("Action parameters such as url, selector, text or script"),
			),
		)),
	}
}
