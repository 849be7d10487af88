package session

import (
	"maps"
	"strings"
	"time"

	"github.com/dhruvsoni1802/browser-gateway/internal/engine"
)

// Status represents the current state of a session
type Status string

const (
	StatusClosed   Status = "closed"   // No browser held
	StatusStarting Status = "starting" // Browser being acquired
	StatusActive   Status = "active"   // Page ready for actions
	StatusLoading  Status = "loading"  // An action is running
	StatusError    Status = "error"    // Last start or action failed
)

// Session is a browser-automation context as seen by callers
type Session struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	CurrentURL   string            `json:"currentUrl"`
	Status       Status            `json:"status"`
	CreatedAt    time.Time         `json:"createdAt"`
	LastActiveAt time.Time         `json:"lastActiveAt"`
	Viewport     *engine.Viewport  `json:"viewport,omitempty"`
	Metadata     map[string]string `json:"metadata"`
	LastError    string            `json:"lastError,omitempty"`
}

// clone returns a deep copy so callers never share the manager's record
func (s Session) clone() Session {
	if s.Viewport != nil {
		viewport := *s.Viewport
		s.Viewport = &viewport
	}
	s.Metadata = maps.Clone(s.Metadata)
	if s.Metadata == nil {
		s.Metadata = map[string]string{}
	}
	return s
}

// ActionType names one page operation
type ActionType string

const (
	ActionNavigate       ActionType = "navigate"
	ActionClick          ActionType = "click"
	ActionTypeText       ActionType = "type"
	ActionScroll         ActionType = "scroll"
	ActionScreenshot     ActionType = "screenshot"
	ActionGetContent     ActionType = "get_content"
	ActionGetTitle       ActionType = "get_title"
	ActionWaitForElement ActionType = "wait_for_element"
	ActionExecuteScript  ActionType = "execute_script"
	ActionBack           ActionType = "back"
	ActionForward        ActionType = "forward"
	ActionRefresh        ActionType = "refresh"
	ActionClose          ActionType = "close"
)

var actionTypes = []ActionType{
	ActionNavigate, ActionClick, ActionTypeText, ActionScroll, ActionScreenshot,
	ActionGetContent, ActionGetTitle, ActionWaitForElement, ActionExecuteScript,
	ActionBack, ActionForward, ActionRefresh, ActionClose,
}

// ActionTypes returns the names of every known action
func ActionTypes() []string {
	names := make([]string, len(actionTypes))
	for i, action := range actionTypes {
		names[i] = string(action)
	}
	return names
}

// squash lower-cases s and drops '_' and '-' so "WaitForElement" and "wait-for-element" compare equal
func squash(s string) string {
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(s))
}

// ParseActionType resolves name to a known action. Unknown names are returned as-is with ok=false.
func ParseActionType(name string) (ActionType, bool) {
	key := squash(name)
	for _, action := range actionTypes {
		if squash(string(action)) == key {
			return action, true
		}
	}
	return ActionType(name), false
}

// UnmarshalText accepts any spelling ParseActionType understands
func (a *ActionType) UnmarshalText(text []byte) error {
	*a, _ = ParseActionType(string(text))
	return nil
}

// ActionRequest asks for one action against a session
type ActionRequest struct {
	SessionID  string         `json:"sessionId"`
	Action     ActionType     `json:"action"`
	Parameters map[string]any `json:"parameters"`
}

// ActionResponse is the uniform outcome of an action
type ActionResponse struct {
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func succeeded(data map[string]any) ActionResponse {
	return ActionResponse{Success: true, Data: data, Timestamp: time.Now().UTC()}
}

func failed(msg string) ActionResponse {
	return ActionResponse{Success: false, Error: msg, Timestamp: time.Now().UTC()}
}
