package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dhruvsoni1802/browser-gateway/internal/engine"
	"github.com/dhruvsoni1802/browser-gateway/internal/metrics"
)

// Executor runs page actions against the sessions of a Manager
type Executor struct {
	manager *Manager
	timeout time.Duration
	logger  *slog.Logger
}

// NewExecutor creates an executor bound to manager. A zero timeout uses DefaultActionTimeout.
func NewExecutor(manager *Manager, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultActionTimeout
	}
	return &Executor{
		manager: manager,
		timeout: timeout,
		logger:  manager.logger.With("component", "executor"),
	}
}

// Execute runs one action and reports its outcome. It never returns an error:
// every failure is carried in the response.
func (x *Executor) Execute(ctx context.Context, req ActionRequest) ActionResponse {
	start := time.Now()
	action, known := ParseActionType(string(req.Action))

	resp := x.execute(ctx, req.SessionID, action, req.Parameters)

	// Keep arbitrary caller input out of metric labels
	label := string(action)
	if !known {
		label = "unknown"
	}
	metrics.RecordAction(label, resp.Success, time.Since(start))
	if !resp.Success {
		x.logger.Debug("action failed",
			"session_id", req.SessionID,
			"action", action,
			"error", resp.Error)
	}
	return resp
}

func (x *Executor) execute(ctx context.Context, id string, action ActionType, params map[string]any) ActionResponse {
	// Preconditions apply to every action type, close included
	e, _, err := x.manager.borrow(id)
	if err != nil {
		return failed(err.Error())
	}

	if action == ActionClose {
		s, ok := x.manager.Stop(id)
		if !ok {
			return failed(ErrSessionNotFound.Error())
		}
		return succeeded(map[string]any{"sessionId": s.ID, "status": s.Status})
	}

	op, known := operations[action]
	if !known {
		return failed(fmt.Sprintf("unknown action: %s", action))
	}

	// Wait for our turn on this session
	e.actions.Lock()
	defer e.actions.Unlock()

	// The session may have been stopped or restarted while we waited
	e.mu.Lock()
	if e.removed || e.handle == nil {
		e.mu.Unlock()
		return failed(ErrNoActivePage.Error())
	}
	h := e.handle
	e.setStatus(StatusLoading)
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	data, err := run(ctx, op, h.page, params)

	e.mu.Lock()

	// Stopped underneath us: leave the closed record alone
	if e.handle != h {
		e.mu.Unlock()
		if err == nil {
			err = fmt.Errorf("session stopped during %s", action)
		}
		return failed(err.Error())
	}

	switch {
	case err == nil:
		switch action {
		case ActionNavigate, ActionBack, ActionForward:
			if url, ok := data["url"].(string); ok {
				e.session.CurrentURL = url
			}
		}
		e.setStatus(StatusActive)
	case errIsFault(err):
		e.session.LastError = err.Error()
		e.setStatus(StatusError)
	default:
		e.setStatus(StatusActive)
	}
	s := e.session.clone()
	e.mu.Unlock()

	x.manager.notify(s)
	if err != nil {
		return failed(err.Error())
	}
	return succeeded(data)
}

// run invokes op, turning a driver panic into an error
func run(ctx context.Context, op operation, page engine.Page, params map[string]any) (data map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("browser driver panic: %v", r)
		}
	}()
	return op(ctx, page, params)
}
