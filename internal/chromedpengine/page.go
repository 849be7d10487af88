package chromedpengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/dhruvsoni1802/browser-gateway/internal/engine"
)

// Page is one chromedp tab
type Page struct {
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

var _ engine.Page = (*Page)(nil)

// combine returns a context that carries the tab from p.ctx and ends when
// either p.ctx or ctx does. Cancelling it never closes the tab.
func (p *Page) combine(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(p.ctx)
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		prev := cancel
		cancel = func() { cancelDeadline(); prev() }
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := p.combine(ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func byValue(params *runtime.EvaluateParams) *runtime.EvaluateParams {
	return params.WithReturnByValue(true).WithAwaitPromise(true)
}

// evaluate returns the raw JSON value of script, nil for undefined
func (p *Page) evaluate(ctx context.Context, script string) ([]byte, error) {
	var obj *runtime.RemoteObject
	if err := p.run(ctx, chromedp.Evaluate(script, &obj, byValue)); err != nil {
		return nil, err
	}
	if obj == nil || len(obj.Value) == 0 {
		return nil, nil
	}
	return []byte(obj.Value), nil
}

// exists reports whether selector matches anything right now
func (p *Page) exists(ctx context.Context, selector string) (bool, error) {
	quoted, _ := json.Marshal(selector)
	raw, err := p.evaluate(ctx, fmt.Sprintf("document.querySelector(%s) !== null", quoted))
	if err != nil {
		return false, err
	}
	var found bool
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &found); err != nil {
			return false, err
		}
	}
	return found, nil
}

func (p *Page) requireElement(ctx context.Context, selector string) error {
	found, err := p.exists(ctx, selector)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", engine.ErrElementNotFound, selector)
	}
	return nil
}

func (p *Page) Goto(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *Page) Click(ctx context.Context, selector string) error {
	if err := p.requireElement(ctx, selector); err != nil {
		return err
	}
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

func (p *Page) Type(ctx context.Context, selector, text string) error {
	if err := p.requireElement(ctx, selector); err != nil {
		return err
	}
	return p.run(ctx, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

func (p *Page) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := p.run(waitCtx, chromedp.WaitReady(selector, chromedp.ByQuery))
	if err != nil && ctx.Err() == nil && waitCtx.Err() != nil {
		return fmt.Errorf("waiting for %s: timed out after %s", selector, timeout)
	}
	return err
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	// Quality 100 selects PNG
	if err := p.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *Page) Content(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (p *Page) Title(ctx context.Context) (string, error) {
	var title string
	err := p.run(ctx, chromedp.Title(&title))
	return title, err
}

func (p *Page) URL(ctx context.Context) (string, error) {
	var url string
	err := p.run(ctx, chromedp.Location(&url))
	return url, err
}

func (p *Page) Evaluate(ctx context.Context, script string) (any, error) {
	raw, err := p.evaluate(ctx, script)
	if err != nil || raw == nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode script result: %w", err)
	}
	return out, nil
}

func (p *Page) GoBack(ctx context.Context) error {
	return p.stepHistory(ctx, -1, chromedp.NavigateBack())
}

func (p *Page) GoForward(ctx context.Context) error {
	return p.stepHistory(ctx, 1, chromedp.NavigateForward())
}

// stepHistory runs move unless it would leave the navigation history
func (p *Page) stepHistory(ctx context.Context, delta int64, move chromedp.Action) error {
	var current int64
	var entries []*page.NavigationEntry
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		current, entries, err = page.GetNavigationHistory().Do(ctx)
		return err
	}))
	if err != nil {
		return err
	}

	target := current + delta
	if target < 0 || target >= int64(len(entries)) {
		return nil
	}
	return p.run(ctx, move)
}

func (p *Page) Reload(ctx context.Context) error {
	return p.run(ctx, chromedp.Reload())
}

func (p *Page) SetViewport(ctx context.Context, viewport engine.Viewport) error {
	scale := viewport.DeviceScaleFactor
	if scale <= 0 {
		scale = 1
	}
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return emulation.SetDeviceMetricsOverride(
			int64(viewport.Width), int64(viewport.Height), scale, viewport.IsMobile,
		).Do(ctx)
	}))
}

// Close closes the tab
func (p *Page) Close() error {
	p.closeOnce.Do(p.cancel)
	return nil
}
