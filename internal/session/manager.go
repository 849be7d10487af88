package session

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/dhruvsoni1802/browser-gateway/internal/engine"
	"github.com/dhruvsoni1802/browser-gateway/internal/metrics"
	"github.com/dhruvsoni1802/browser-gateway/internal/registry"
)

// handle is the browser and page pair a started session owns
type handle struct {
	browser engine.Browser
	page    engine.Page
}

// entry is the manager's private record of one session
type entry struct {
	lifecycle sync.Mutex // start, stop, delete
	actions   sync.Mutex // one action in flight

	mu         sync.Mutex // guards everything below
	session    Session
	initialURL string
	handle     *handle
	removed    bool
}

// Observer is told about session changes after they happen. Calls are made
// without any session lock held.
type Observer interface {
	SessionChanged(s Session)
	SessionRemoved(id string)
}

// Options tunes a Manager
type Options struct {
	// MaxBrowsers caps concurrently held browsers, 0 means unlimited
	MaxBrowsers  int
	StartTimeout time.Duration
	Observer     Observer
	Logger       *slog.Logger
}

// Manager owns every browser session and the browser each one holds
type Manager struct {
	sessions     *registry.Registry[*entry]
	launcher     engine.Launcher
	browsers     *semaphore.Weighted
	startTimeout time.Duration
	observer     Observer
	logger       *slog.Logger
}

// NewManager creates a session manager that acquires browsers from launcher
func NewManager(launcher engine.Launcher, opts Options) *Manager {
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = DefaultStartTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	m := &Manager{
		sessions:     registry.New[*entry](),
		launcher:     launcher,
		startTimeout: opts.StartTimeout,
		observer:     opts.Observer,
		logger:       opts.Logger.With("component", "session"),
	}
	if opts.MaxBrowsers > 0 {
		m.browsers = semaphore.NewWeighted(int64(opts.MaxBrowsers))
	}
	return m
}

// generateSessionID creates a unique session identifier
func generateSessionID() string {
	return SessionIDPrefix + uuid.NewString()
}

// setStatus must be called with e.mu held
func (e *entry) setStatus(status Status) {
	e.session.Status = status
	e.session.LastActiveAt = time.Now().UTC()
	metrics.RecordSessionStatus(string(status))
}

func (m *Manager) notify(s Session) {
	if m.observer != nil {
		m.observer.SessionChanged(s)
	}
}

func (e *entry) snapshot() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.clone()
}

// Create registers a closed session without acquiring a browser
func (m *Manager) Create(name, initialURL string, viewport *engine.Viewport, metadata map[string]string) Session {
	if initialURL == "" {
		initialURL = engine.BlankURL
	}

	now := time.Now().UTC()
	e := &entry{
		initialURL: initialURL,
		session: Session{
			ID:           generateSessionID(),
			Name:         name,
			CurrentURL:   initialURL,
			Status:       StatusClosed,
			CreatedAt:    now,
			LastActiveAt: now,
			Viewport:     viewport,
			Metadata:     metadata,
		},
	}
	// Store our own copies of the caller's viewport and metadata
	e.session = e.session.clone()
	m.sessions.Put(e.session.ID, e)

	m.logger.Info("session created",
		"session_id", e.session.ID,
		"session_name", name,
		"initial_url", initialURL)

	s := e.session.clone()
	m.notify(s)
	return s
}

// Get returns a copy of the session
func (m *Manager) Get(id string) (Session, bool) {
	e, ok := m.sessions.Get(id)
	if !ok {
		return Session{}, false
	}
	return e.snapshot(), true
}

// List returns every session ordered by creation time
func (m *Manager) List() []Session {
	entries := m.sessions.List()
	sessions := make([]Session, 0, len(entries))
	for _, e := range entries {
		sessions = append(sessions, e.snapshot())
	}
	slices.SortFunc(sessions, func(a, b Session) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return sessions
}

// Start acquires a browser and page for the session and opens its initial URL.
// A failure is reported through the returned session's status, not as an error.
func (m *Manager) Start(ctx context.Context, id string) (Session, bool) {
	e, ok := m.sessions.Get(id)
	if !ok {
		return Session{}, false
	}

	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return Session{}, false
	}
	// Already started, hand back the existing session
	if e.handle != nil {
		s := e.session.clone()
		e.mu.Unlock()
		return s, true
	}
	e.session.LastError = ""
	e.setStatus(StatusStarting)
	initialURL := e.initialURL
	var viewport *engine.Viewport
	if e.session.Viewport != nil {
		v := *e.session.Viewport
		viewport = &v
	}
	e.mu.Unlock()

	h, err := m.acquire(ctx, id, initialURL, viewport)

	e.mu.Lock()
	if err != nil {
		e.session.LastError = err.Error()
		e.setStatus(StatusError)
		m.logger.Error("failed to start session", "session_id", id, "error", err)
	} else {
		e.handle = h
		e.setStatus(StatusActive)
		m.logger.Info("session started", "session_id", id, "url", initialURL)
	}
	s := e.session.clone()
	e.mu.Unlock()

	m.notify(s)
	return s, true
}

// acquire launches a browser, opens a page, applies the viewport and navigates
func (m *Manager) acquire(ctx context.Context, id, initialURL string, viewport *engine.Viewport) (h *handle, err error) {
	if m.browsers != nil && !m.browsers.TryAcquire(1) {
		return nil, ErrBrowserLimitReached
	}

	ctx, cancel := context.WithTimeout(ctx, m.startTimeout)
	defer cancel()

	var browser engine.Browser
	var page engine.Page
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("browser driver panic: %v", r)
		}
		if err == nil {
			return
		}
		if browser != nil {
			m.release(id, &handle{browser: browser, page: page})
		} else if m.browsers != nil {
			m.browsers.Release(1)
		}
	}()

	browser, err = m.launcher.Launch(ctx)
	if err != nil {
		browser = nil
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	metrics.BrowserOpened()

	page, err = browser.NewPage(ctx)
	if err != nil {
		page = nil
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	if viewport != nil {
		if err = page.SetViewport(ctx, *viewport); err != nil {
			return nil, fmt.Errorf("failed to set viewport: %w", err)
		}
	}

	if initialURL != engine.BlankURL {
		if err = page.Goto(ctx, initialURL); err != nil {
			return nil, fmt.Errorf("failed to navigate to %s: %w", initialURL, err)
		}
	}

	return &handle{browser: browser, page: page}, nil
}

// release closes the page and browser of h. Failures are only logged.
func (m *Manager) release(id string, h *handle) {
	if h == nil || h.browser == nil {
		return
	}
	if h.page != nil {
		if err := h.page.Close(); err != nil {
			m.logger.Warn("failed to close page", "session_id", id, "error", err)
		}
	}
	if err := h.browser.Close(); err != nil {
		m.logger.Warn("failed to close browser", "session_id", id, "error", err)
	}
	metrics.BrowserClosed()
	if m.browsers != nil {
		m.browsers.Release(1)
	}
}

// Stop releases the session's browser if it holds one and marks it closed
func (m *Manager) Stop(id string) (Session, bool) {
	e, ok := m.sessions.Get(id)
	if !ok {
		return Session{}, false
	}

	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	return m.stopEntry(e), true
}

// stopEntry must be called with e.lifecycle held. It never waits for an
// in-flight action; the action observes a closed page instead.
func (m *Manager) stopEntry(e *entry) Session {
	e.mu.Lock()
	h := e.handle
	e.handle = nil
	if e.session.Status != StatusClosed {
		e.setStatus(StatusClosed)
	}
	s := e.session.clone()
	e.mu.Unlock()

	if h != nil {
		m.release(s.ID, h)
		m.logger.Info("session stopped", "session_id", s.ID)
	}
	m.notify(s)
	return s
}

// Delete stops the session if needed and removes it
func (m *Manager) Delete(id string) bool {
	e, ok := m.sessions.Get(id)
	if !ok {
		return false
	}

	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return false
	}
	e.removed = true
	held := e.handle != nil
	e.mu.Unlock()

	if held {
		m.stopEntry(e)
	}

	m.sessions.Remove(id)
	if m.observer != nil {
		m.observer.SessionRemoved(id)
	}
	m.logger.Info("session deleted", "session_id", id)
	return true
}

// Close stops every session
func (m *Manager) Close() {
	for _, e := range m.sessions.List() {
		e.lifecycle.Lock()
		m.stopEntry(e)
		e.lifecycle.Unlock()
	}
}

// Count returns the number of registered sessions
func (m *Manager) Count() int {
	return m.sessions.Len()
}

// borrow returns the entry of id and the handle it currently holds
func (m *Manager) borrow(id string) (*entry, *handle, error) {
	e, ok := m.sessions.Get(id)
	if !ok {
		return nil, nil, ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil, nil, ErrSessionNotFound
	}
	if e.handle == nil {
		return e, nil, ErrNoActivePage
	}
	return e, e.handle, nil
}

// errIsFault reports whether err came from the browser rather than from the request
func errIsFault(err error) bool {
	var invalid *ParameterError
	return !errors.As(err, &invalid)
}
