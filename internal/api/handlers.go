package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dhruvsoni1802/browser-gateway/internal/session"
)

// Handlers contains the browser session handlers
type Handlers struct {
	sessionManager *session.Manager
	executor       *session.Executor
}

// NewHandlers creates a new Handlers instance
func NewHandlers(manager *session.Manager, executor *session.Executor) *Handlers {
	return &Handlers{
		sessionManager: manager,
		executor:       executor,
	}
}

func sessionNotFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, ErrCodeSessionNotFound, session.ErrSessionNotFound.Error())
}

// CreateSession handles POST /api/browser/sessions
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "name is required")
		return
	}
	if v := req.Viewport; v != nil && (v.Width <= 0 || v.Height <= 0) {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "viewport width and height must be positive")
		return
	}

	sess := h.sessionManager.Create(req.Name, req.InitialURL, req.Viewport, req.Metadata)

	// Return 201 Created
	writeJSON(w, http.StatusCreated, sess)
}

// ListSessions handles GET /api/browser/sessions
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.sessionManager.List()
	writeJSON(w, http.StatusOK, ListSessionsResponse{
		Sessions: sessions,
		Count:    len(sessions),
	})
}

// GetSession handles GET /api/browser/sessions/{id}
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessionManager.Get(chi.URLParam(r, "id"))
	if !ok {
		sessionNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// DeleteSession handles DELETE /api/browser/sessions/{id}
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if !h.sessionManager.Delete(chi.URLParam(r, "id")) {
		sessionNotFound(w)
		return
	}

	// Return 204 No Content
	w.WriteHeader(http.StatusNoContent)
}

// StartSession handles POST /api/browser/sessions/{id}/start. A failed start
// still answers 200; the session's status and lastError carry the failure.
func (h *Handlers) StartSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessionManager.Start(r.Context(), chi.URLParam(r, "id"))
	if !ok {
		sessionNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// StopSession handles POST /api/browser/sessions/{id}/stop
func (h *Handlers) StopSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessionManager.Stop(chi.URLParam(r, "id"))
	if !ok {
		sessionNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// execute runs one action and writes the executor's response as is
func (h *Handlers) execute(w http.ResponseWriter, r *http.Request, action session.ActionType, params map[string]any) {
	sessionID := chi.URLParam(r, "id")
	if _, ok := h.sessionManager.Get(sessionID); !ok {
		sessionNotFound(w)
		return
	}

	resp := h.executor.Execute(r.Context(), session.ActionRequest{
		SessionID:  sessionID,
		Action:     action,
		Parameters: params,
	})
	writeJSON(w, http.StatusOK, resp)
}

// ExecuteAction handles POST /api/browser/sessions/{id}/actions
func (h *Handlers) ExecuteAction(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	if req.Action == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "action is required")
		return
	}
	h.execute(w, r, req.Action, req.Parameters)
}

// Navigate handles POST /api/browser/sessions/{id}/navigate
func (h *Handlers) Navigate(w http.ResponseWriter, r *http.Request) {
	var req NavigateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "url is required")
		return
	}
	h.execute(w, r, session.ActionNavigate, map[string]any{"url": req.URL})
}

// ExecuteJS handles POST /api/browser/sessions/{id}/execute
func (h *Handlers) ExecuteJS(w http.ResponseWriter, r *http.Request) {
	var req ExecuteJSRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	if req.Script == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "script is required")
		return
	}
	h.execute(w, r, session.ActionExecuteScript, map[string]any{"script": req.Script})
}

// CaptureScreenshot handles POST /api/browser/sessions/{id}/screenshot
func (h *Handlers) CaptureScreenshot(w http.ResponseWriter, r *http.Request) {
	h.execute(w, r, session.ActionScreenshot, nil)
}

// GetPageContent handles GET /api/browser/sessions/{id}/content
func (h *Handlers) GetPageContent(w http.ResponseWriter, r *http.Request) {
	h.execute(w, r, session.ActionGetContent, nil)
}
