package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhruvsoni1802/browser-gateway/internal/engine"
	"github.com/dhruvsoni1802/browser-gateway/internal/engine/enginetest"
)

// Test helper: manager backed by the in-memory engine
func newTestManager(t *testing.T, opts Options) (*Manager, *enginetest.Launcher) {
	t.Helper()

	launcher := enginetest.NewLauncher()
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	manager := NewManager(launcher, opts)
	t.Cleanup(manager.Close)
	return manager, launcher
}

func TestCreateAndGet(t *testing.T) {
	manager, launcher := newTestManager(t, Options{})

	created := manager.Create("s1", "", nil, nil)
	assert.True(t, len(created.ID) > len(SessionIDPrefix))
	assert.Equal(t, StatusClosed, created.Status)
	assert.Equal(t, engine.BlankURL, created.CurrentURL)

	got, ok := manager.Get(created.ID)
	require.True(t, ok)
	assert.Equal(t, "s1", got.Name)
	assert.Equal(t, StatusClosed, got.Status)
	assert.Equal(t, 0, launcher.Launched(), "create must not acquire a browser")
}

func TestGetReturnsCopy(t *testing.T) {
	manager, _ := newTestManager(t, Options{})

	created := manager.Create("s1", "", &engine.Viewport{Width: 800, Height: 600}, map[string]string{"k": "v"})
	created.Metadata["k"] = "changed"
	created.Viewport.Width = 1

	got, ok := manager.Get(created.ID)
	require.True(t, ok)
	assert.Equal(t, "v", got.Metadata["k"])
	assert.Equal(t, 800, got.Viewport.Width)
}

func TestUnknownSession(t *testing.T) {
	manager, _ := newTestManager(t, Options{})

	_, ok := manager.Get("sess_missing")
	assert.False(t, ok)
	_, ok = manager.Start(context.Background(), "sess_missing")
	assert.False(t, ok)
	_, ok = manager.Stop("sess_missing")
	assert.False(t, ok)
	assert.False(t, manager.Delete("sess_missing"))
}

func TestStartNavigatesToInitialURL(t *testing.T) {
	manager, launcher := newTestManager(t, Options{})

	created := manager.Create("Main", "https://example.com", &engine.Viewport{Width: 1280, Height: 720, DeviceScaleFactor: 1}, nil)
	started, ok := manager.Start(context.Background(), created.ID)
	require.True(t, ok)

	assert.Equal(t, StatusActive, started.Status)
	assert.Equal(t, "https://example.com", started.CurrentURL)
	assert.Empty(t, started.LastError)

	page := launcher.LastPage()
	require.NotNil(t, page)
	url, err := page.URL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", url)
	require.NotNil(t, page.Viewport())
	assert.Equal(t, 1280, page.Viewport().Width)
}

func TestStartBlankDoesNotNavigate(t *testing.T) {
	manager, launcher := newTestManager(t, Options{})
	launcher.OnNewPage(func(p *enginetest.Page) {
		p.Fail("Goto", errors.New("should not navigate"))
	})

	created := manager.Create("blank", "", nil, nil)
	started, ok := manager.Start(context.Background(), created.ID)
	require.True(t, ok)
	assert.Equal(t, StatusActive, started.Status)
}

func TestStartTwiceHoldsOneBrowser(t *testing.T) {
	manager, launcher := newTestManager(t, Options{})

	created := manager.Create("s1", "", nil, nil)
	_, ok := manager.Start(context.Background(), created.ID)
	require.True(t, ok)
	again, ok := manager.Start(context.Background(), created.ID)
	require.True(t, ok)

	assert.Equal(t, StatusActive, again.Status)
	assert.Equal(t, 1, launcher.Launched())
	assert.Equal(t, 1, launcher.Open())
}

func TestConcurrentStartHoldsOneBrowser(t *testing.T) {
	manager, launcher := newTestManager(t, Options{})
	created := manager.Create("s1", "", nil, nil)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			manager.Start(context.Background(), created.ID)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, launcher.Open())
}

func TestStartFailureSetsError(t *testing.T) {
	manager, launcher := newTestManager(t, Options{})
	launcher.FailLaunch(errors.New("no chromium"))

	created := manager.Create("s1", "", nil, nil)
	started, ok := manager.Start(context.Background(), created.ID)
	require.True(t, ok)

	assert.Equal(t, StatusError, started.Status)
	assert.Contains(t, started.LastError, "no chromium")
	assert.Equal(t, 0, launcher.Open())
}

func TestStartNavigationFailureReleasesBrowser(t *testing.T) {
	manager, launcher := newTestManager(t, Options{})
	launcher.OnNewPage(func(p *enginetest.Page) {
		p.Fail("Goto", errors.New("net::ERR_NAME_NOT_RESOLVED"))
	})

	created := manager.Create("s1", "https://nowhere.invalid", nil, nil)
	started, ok := manager.Start(context.Background(), created.ID)
	require.True(t, ok)

	assert.Equal(t, StatusError, started.Status)
	assert.Contains(t, started.LastError, "ERR_NAME_NOT_RESOLVED")
	assert.Equal(t, 1, launcher.Launched())
	assert.Equal(t, 0, launcher.Open())

	// A later start retries from scratch and clears the error
	launcher.OnNewPage(nil)
	started, ok = manager.Start(context.Background(), created.ID)
	require.True(t, ok)
	assert.Equal(t, StatusActive, started.Status)
	assert.Empty(t, started.LastError)
}

func TestStartPanicIsRecovered(t *testing.T) {
	manager, launcher := newTestManager(t, Options{})
	launcher.OnNewPage(func(p *enginetest.Page) { p.Panic("SetViewport") })

	created := manager.Create("s1", "", &engine.Viewport{Width: 10, Height: 10}, nil)
	started, ok := manager.Start(context.Background(), created.ID)
	require.True(t, ok)
	assert.Equal(t, StatusError, started.Status)
	assert.Contains(t, started.LastError, "panic")
	assert.Equal(t, 0, launcher.Open())
}

func TestMaxBrowsers(t *testing.T) {
	manager, launcher := newTestManager(t, Options{MaxBrowsers: 1})

	first := manager.Create("first", "", nil, nil)
	second := manager.Create("second", "", nil, nil)

	s, _ := manager.Start(context.Background(), first.ID)
	require.Equal(t, StatusActive, s.Status)

	s, _ = manager.Start(context.Background(), second.ID)
	assert.Equal(t, StatusError, s.Status)
	assert.Equal(t, ErrBrowserLimitReached.Error(), s.LastError)

	// Freeing the slot lets the second session start
	manager.Stop(first.ID)
	s, _ = manager.Start(context.Background(), second.ID)
	assert.Equal(t, StatusActive, s.Status)
	assert.Equal(t, 1, launcher.Open())
}

func TestStopIsIdempotent(t *testing.T) {
	manager, launcher := newTestManager(t, Options{})

	created := manager.Create("s1", "", nil, nil)
	manager.Start(context.Background(), created.ID)

	stopped, ok := manager.Stop(created.ID)
	require.True(t, ok)
	assert.Equal(t, StatusClosed, stopped.Status)
	assert.Equal(t, 0, launcher.Open())
	assert.True(t, launcher.LastPage().Closed())

	stopped, ok = manager.Stop(created.ID)
	require.True(t, ok)
	assert.Equal(t, StatusClosed, stopped.Status)
}

func TestStopIgnoresCloseFailure(t *testing.T) {
	manager, launcher := newTestManager(t, Options{})
	launcher.FailClose(errors.New("already gone"))

	created := manager.Create("s1", "", nil, nil)
	manager.Start(context.Background(), created.ID)

	stopped, ok := manager.Stop(created.ID)
	require.True(t, ok)
	assert.Equal(t, StatusClosed, stopped.Status)
}

func TestDeleteActiveSession(t *testing.T) {
	manager, launcher := newTestManager(t, Options{})

	created := manager.Create("s1", "https://example.com", nil, nil)
	manager.Start(context.Background(), created.ID)
	require.Equal(t, 1, launcher.Open())

	assert.True(t, manager.Delete(created.ID))

	_, ok := manager.Get(created.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, launcher.Open())
	assert.False(t, manager.Delete(created.ID))
}

func TestDeleteRacingStart(t *testing.T) {
	manager, launcher := newTestManager(t, Options{})

	for range 20 {
		created := manager.Create("racer", "", nil, nil)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			manager.Start(context.Background(), created.ID)
		}()
		go func() {
			defer wg.Done()
			manager.Delete(created.ID)
		}()
		wg.Wait()

		_, ok := manager.Get(created.ID)
		assert.False(t, ok)
	}
	assert.Equal(t, 0, launcher.Open())
}

func TestListOrderedByCreation(t *testing.T) {
	manager, _ := newTestManager(t, Options{})

	a := manager.Create("a", "", nil, nil)
	b := manager.Create("b", "", nil, nil)
	c := manager.Create("c", "", nil, nil)

	sessions := manager.List()
	require.Len(t, sessions, 3)
	ids := map[string]bool{a.ID: true, b.ID: true, c.ID: true}
	for i, s := range sessions {
		assert.True(t, ids[s.ID])
		if i > 0 {
			assert.False(t, s.CreatedAt.Before(sessions[i-1].CreatedAt))
		}
	}
	assert.Equal(t, 3, manager.Count())
}

func TestCloseStopsEverything(t *testing.T) {
	launcher := enginetest.NewLauncher()
	manager := NewManager(launcher, Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	for range 3 {
		s := manager.Create("s", "", nil, nil)
		manager.Start(context.Background(), s.ID)
	}
	require.Equal(t, 3, launcher.Open())

	manager.Close()
	assert.Equal(t, 0, launcher.Open())
	for _, s := range manager.List() {
		assert.Equal(t, StatusClosed, s.Status)
	}
}

func TestParseActionType(t *testing.T) {
	tests := []struct {
		in    string
		want  ActionType
		known bool
	}{
		{"navigate", ActionNavigate, true},
		{"Navigate", ActionNavigate, true},
		{"WaitForElement", ActionWaitForElement, true},
		{"wait_for_element", ActionWaitForElement, true},
		{"get-content", ActionGetContent, true},
		{"EXECUTE_SCRIPT", ActionExecuteScript, true},
		{"Type", ActionTypeText, true},
		{"teleport", ActionType("teleport"), false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, known := ParseActionType(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.known, known)
		})
	}
}

// recordingObserver keeps every notification in order
type recordingObserver struct {
	mu      sync.Mutex
	changed []Session
	removed []string
}

func (o *recordingObserver) SessionChanged(s Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.changed = append(o.changed, s)
}

func (o *recordingObserver) SessionRemoved(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removed = append(o.removed, id)
}

func (o *recordingObserver) statuses() []Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Status, len(o.changed))
	for i, s := range o.changed {
		out[i] = s.Status
	}
	return out
}

func TestObserverSeesLifecycle(t *testing.T) {
	observer := &recordingObserver{}
	manager, _ := newTestManager(t, Options{Observer: observer})
	executor := NewExecutor(manager, 0)

	s := manager.Create("observed", "", nil, nil)
	_, ok := manager.Start(context.Background(), s.ID)
	require.True(t, ok)

	resp := executor.Execute(context.Background(), ActionRequest{
		SessionID:  s.ID,
		Action:     ActionNavigate,
		Parameters: map[string]any{"url": "https://example.com"},
	})
	require.True(t, resp.Success, resp.Error)

	require.True(t, manager.Delete(s.ID))

	assert.Equal(t, []Status{StatusClosed, StatusActive, StatusActive, StatusClosed}, observer.statuses())
	assert.Equal(t, []string{s.ID}, observer.removed)

	observer.mu.Lock()
	defer observer.mu.Unlock()
	assert.Equal(t, "https://example.com", observer.changed[2].CurrentURL)
}
