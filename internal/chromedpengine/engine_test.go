package chromedpengine

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhruvsoni1802/browser-gateway/internal/engine"
)

func TestCombineFollowsCaller(t *testing.T) {
	tab, cancelTab := context.WithCancel(context.Background())
	defer cancelTab()
	p := &Page{ctx: tab, cancel: cancelTab}

	caller, cancelCaller := context.WithCancel(context.Background())
	runCtx, done := p.combine(caller)
	defer done()

	cancelCaller()
	select {
	case <-runCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("run context outlived the caller")
	}
	assert.NoError(t, tab.Err(), "the tab must survive its caller")
}

func TestCombineKeepsDeadline(t *testing.T) {
	p := &Page{ctx: context.Background(), cancel: func() {}}

	caller, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	runCtx, done := p.combine(caller)
	defer done()

	want, _ := caller.Deadline()
	got, ok := runCtx.Deadline()
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestCombineFollowsTab(t *testing.T) {
	tab, cancelTab := context.WithCancel(context.Background())
	p := &Page{ctx: tab, cancel: cancelTab}

	runCtx, done := p.combine(context.Background())
	defer done()

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.ErrorIs(t, runCtx.Err(), context.Canceled)
}

func TestAllocatorOptions(t *testing.T) {
	base := len(allocatorOptions(Options{}))

	opts := allocatorOptions(Options{
		ExecPath: "/usr/bin/chromium",
		Headful:  true,
		Flags:    []string{"--lang=en-US", "mute-audio", "--"},
	})
	// ExecPath, headful and two usable flags
	assert.Equal(t, base+4, len(opts))
}

// findChromium returns a local Chromium or skips the test
func findChromium(t *testing.T) string {
	t.Helper()
	for _, name := range []string{"chromium", "chromium-browser", "google-chrome"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	t.Skip("no chromium binary on PATH")
	return ""
}

func TestPageAgainstRealBrowser(t *testing.T) {
	if testing.Short() {
		t.Skip("launches a browser")
	}
	execPath := findChromium(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	b, err := NewLauncher(Options{ExecPath: execPath}).Launch(ctx)
	require.NoError(t, err)
	defer b.Close()

	p, err := b.NewPage(ctx)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.SetViewport(ctx, engine.Viewport{Width: 800, Height: 600}))
	require.NoError(t, p.Goto(ctx, `data:text/html,<title>Hello</title><input id="q"><button id="b">go</button>`))

	title, err := p.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Hello", title)

	require.NoError(t, p.Type(ctx, "#q", "gopher"))
	value, err := p.Evaluate(ctx, `document.querySelector("#q").value`)
	require.NoError(t, err)
	assert.Equal(t, "gopher", value)

	assert.ErrorIs(t, p.Click(ctx, "#missing"), engine.ErrElementNotFound)
	require.NoError(t, p.Click(ctx, "#b"))

	err = p.WaitForSelector(ctx, ".never", 200*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")

	png, err := p.Screenshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])

	require.NoError(t, p.GoBack(ctx))
	url, err := p.URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.BlankURL, url)

	require.NoError(t, p.GoForward(ctx))
	// Already at the newest entry
	require.NoError(t, p.GoForward(ctx))
}
