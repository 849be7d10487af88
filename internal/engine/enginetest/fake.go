// Package enginetest provides an in-memory engine for tests.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dhruvsoni1802/browser-gateway/internal/engine"
)

// FakePNG is the image every fake screenshot returns
var FakePNG = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// Launcher hands out fake browsers and keeps count of what is still open
type Launcher struct {
	mu        sync.Mutex
	launchErr error
	pageErr   error
	closeErr  error
	configure func(*Page)
	launched  int
	closed    int
	pages     []*Page
}

// NewLauncher creates a launcher with no scripted failures
func NewLauncher() *Launcher {
	return &Launcher{}
}

// FailLaunch makes every following Launch return err
func (l *Launcher) FailLaunch(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launchErr = err
}

// FailNewPage makes every following NewPage return err
func (l *Launcher) FailNewPage(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pageErr = err
}

// FailClose makes browser Close return err (the browser still counts as closed)
func (l *Launcher) FailClose(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeErr = err
}

// OnNewPage registers a hook applied to every page before it is handed out
func (l *Launcher) OnNewPage(fn func(*Page)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.configure = fn
}

// Launch implements engine.Launcher
func (l *Launcher) Launch(ctx context.Context) (engine.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.launchErr != nil {
		return nil, l.launchErr
	}
	l.launched++
	return &Browser{launcher: l}, nil
}

// Launched returns how many browsers were launched
func (l *Launcher) Launched() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launched
}

// Open returns how many launched browsers have not been closed
func (l *Launcher) Open() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launched - l.closed
}

// LastPage returns the most recently created page
func (l *Launcher) LastPage() *Page {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pages) == 0 {
		return nil
	}
	return l.pages[len(l.pages)-1]
}

// Browser is a fake engine.Browser
type Browser struct {
	launcher *Launcher
	once     sync.Once
}

// NewPage implements engine.Browser
func (b *Browser) NewPage(ctx context.Context) (engine.Page, error) {
	l := b.launcher
	l.mu.Lock()
	if l.pageErr != nil {
		err := l.pageErr
		l.mu.Unlock()
		return nil, err
	}
	page := newPage()
	l.pages = append(l.pages, page)
	configure := l.configure
	l.mu.Unlock()

	if configure != nil {
		configure(page)
	}
	return page, nil
}

// Close implements engine.Browser
func (b *Browser) Close() error {
	l := b.launcher
	var err error
	b.once.Do(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.closed++
		err = l.closeErr
	})
	return err
}

// Page is a fake engine.Page with a linear history and scriptable failures
type Page struct {
	mu       sync.Mutex
	history  []string
	index    int
	titles   map[string]string
	missing  map[string]bool
	results  map[string]any
	failures map[string]error
	panics   map[string]bool
	gates    map[string]chan struct{}
	typed    map[string]string
	clicks   []string
	scripts  []string
	viewport *engine.Viewport
	closed   bool
}

func newPage() *Page {
	return &Page{
		history:  []string{engine.BlankURL},
		titles:   make(map[string]string),
		missing:  make(map[string]bool),
		results:  make(map[string]any),
		failures: make(map[string]error),
		panics:   make(map[string]bool),
		gates:    make(map[string]chan struct{}),
		typed:    make(map[string]string),
	}
}

// SetTitle sets the title reported while the page is at url
func (p *Page) SetTitle(url, title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.titles[url] = title
}

// RemoveElement makes selector match nothing
func (p *Page) RemoveElement(selector string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.missing[selector] = true
}

// SetResult sets the value Evaluate returns for script
func (p *Page) SetResult(script string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[script] = value
}

// Fail makes the named method (e.g. "Goto") return err
func (p *Page) Fail(method string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[method] = err
}

// Panic makes the named method panic
func (p *Page) Panic(method string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.panics[method] = true
}

// Hold blocks the named method until the returned release func is called
// or the call's context ends. entered is closed once a call is blocked.
func (p *Page) Hold(method string) (entered <-chan struct{}, release func()) {
	gate := make(chan struct{})
	in := make(chan struct{})
	p.mu.Lock()
	p.gates[method] = gate
	p.gates[method+"#entered"] = in
	p.mu.Unlock()

	var once sync.Once
	return in, func() { once.Do(func() { close(gate) }) }
}

// Typed returns the text typed into selector
func (p *Page) Typed(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typed[selector]
}

// Clicks returns every clicked selector in order
func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

// Scripts returns every evaluated script in order
func (p *Page) Scripts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.scripts...)
}

// Viewport returns the last applied viewport
func (p *Page) Viewport() *engine.Viewport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewport
}

// Closed reports whether Close was called
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// enter runs the scripted behaviour for method: panic, hold, then failure
func (p *Page) enter(ctx context.Context, method string) error {
	p.mu.Lock()
	shouldPanic := p.panics[method]
	gate := p.gates[method]
	entered := p.gates[method+"#entered"]
	if gate != nil {
		delete(p.gates, method)
		delete(p.gates, method+"#entered")
	}
	closed := p.closed
	p.mu.Unlock()

	if shouldPanic {
		panic(fmt.Sprintf("fake page: %s exploded", method))
	}
	if gate != nil {
		close(entered)
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if closed || p.closed {
		return errors.New("target closed")
	}
	return p.failures[method]
}

func (p *Page) current() string {
	return p.history[p.index]
}

// Goto implements engine.Page
func (p *Page) Goto(ctx context.Context, url string) error {
	if err := p.enter(ctx, "Goto"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = append(p.history[:p.index+1], url)
	p.index = len(p.history) - 1
	return nil
}

// Click implements engine.Page
func (p *Page) Click(ctx context.Context, selector string) error {
	if err := p.enter(ctx, "Click"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.missing[selector] {
		return fmt.Errorf("%w: %s", engine.ErrElementNotFound, selector)
	}
	p.clicks = append(p.clicks, selector)
	return nil
}

// Type implements engine.Page
func (p *Page) Type(ctx context.Context, selector, text string) error {
	if err := p.enter(ctx, "Type"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.missing[selector] {
		return fmt.Errorf("%w: %s", engine.ErrElementNotFound, selector)
	}
	p.typed[selector] += text
	return nil
}

// WaitForSelector implements engine.Page
func (p *Page) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	if err := p.enter(ctx, "WaitForSelector"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.missing[selector] {
		return fmt.Errorf("timed out after %s waiting for %q", timeout, selector)
	}
	return nil
}

// Screenshot implements engine.Page
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	if err := p.enter(ctx, "Screenshot"); err != nil {
		return nil, err
	}
	return append([]byte(nil), FakePNG...), nil
}

// Content implements engine.Page
func (p *Page) Content(ctx context.Context) (string, error) {
	if err := p.enter(ctx, "Content"); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("<html><head><title>%s</title></head><body>%s</body></html>", p.titleLocked(), p.current()), nil
}

// Title implements engine.Page
func (p *Page) Title(ctx context.Context) (string, error) {
	if err := p.enter(ctx, "Title"); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.titleLocked(), nil
}

func (p *Page) titleLocked() string {
	if title, ok := p.titles[p.current()]; ok {
		return title
	}
	return ""
}

// URL implements engine.Page
func (p *Page) URL(ctx context.Context) (string, error) {
	if err := p.enter(ctx, "URL"); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current(), nil
}

// Evaluate implements engine.Page
func (p *Page) Evaluate(ctx context.Context, script string) (any, error) {
	if err := p.enter(ctx, "Evaluate"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts = append(p.scripts, script)
	return p.results[script], nil
}

// GoBack implements engine.Page
func (p *Page) GoBack(ctx context.Context) error {
	if err := p.enter(ctx, "GoBack"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.index > 0 {
		p.index--
	}
	return nil
}

// GoForward implements engine.Page
func (p *Page) GoForward(ctx context.Context) error {
	if err := p.enter(ctx, "GoForward"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.index < len(p.history)-1 {
		p.index++
	}
	return nil
}

// Reload implements engine.Page
func (p *Page) Reload(ctx context.Context) error {
	return p.enter(ctx, "Reload")
}

// SetViewport implements engine.Page
func (p *Page) SetViewport(ctx context.Context, viewport engine.Viewport) error {
	if err := p.enter(ctx, "SetViewport"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.viewport = &viewport
	return nil
}

// Close implements engine.Page
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
