package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dhruvsoni1802/browser-gateway/internal/cdp"
	"github.com/dhruvsoni1802/browser-gateway/internal/engine"
)

// DefaultPollInterval is how often load state and selectors are re-checked
const DefaultPollInterval = 100 * time.Millisecond

// closeTimeout bounds Target.closeTarget during teardown
const closeTimeout = 5 * time.Second

// Page drives one attached target over the browser's DevTools connection
type Page struct {
	client    *cdp.Client
	targetID  string
	sessionID string
	poll      time.Duration
	closeOnce sync.Once
	closeErr  error
}

var _ engine.Page = (*Page)(nil)

func (p *Page) send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return p.client.SendCommandToTarget(ctx, p.sessionID, method, params)
}

// evaluate runs expression and returns the raw JSON of its value. An
// undefined result comes back as nil.
func (p *Page) evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	result, err := p.send(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expression,
		"returnByValue": true,
		"awaitPromise":  true,
	})
	if err != nil {
		return nil, err
	}

	var response struct {
		Result struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text      string `json:"text"`
			Exception *struct {
				Description string `json:"description"`
			} `json:"exception"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(result, &response); err != nil {
		return nil, fmt.Errorf("failed to parse evaluate response: %w", err)
	}

	if details := response.ExceptionDetails; details != nil {
		if details.Exception != nil && details.Exception.Description != "" {
			return nil, fmt.Errorf("script error: %s", details.Exception.Description)
		}
		return nil, fmt.Errorf("script error: %s", details.Text)
	}
	return response.Result.Value, nil
}

// evaluateInto runs expression and decodes its value into out
func (p *Page) evaluateInto(ctx context.Context, expression string, out any) error {
	value, err := p.evaluate(ctx, expression)
	if err != nil {
		return err
	}
	if len(value) == 0 {
		return nil
	}
	return json.Unmarshal(value, out)
}

// quote renders s as a JavaScript string literal
func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// waitLoaded polls document.readyState until the document is complete
func (p *Page) waitLoaded(ctx context.Context) error {
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	for {
		var state string
		if err := p.evaluateInto(ctx, "document.readyState", &state); err != nil {
			return err
		}
		if state == "complete" {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Page) Goto(ctx context.Context, url string) error {
	result, err := p.send(ctx, "Page.navigate", map[string]any{"url": url})
	if err != nil {
		return err
	}

	var response struct {
		FrameID   string `json:"frameId"`
		ErrorText string `json:"errorText"`
	}
	if err := json.Unmarshal(result, &response); err != nil {
		return fmt.Errorf("failed to parse navigate response: %w", err)
	}
	if response.ErrorText != "" {
		return fmt.Errorf("navigation to %s failed: %s", url, response.ErrorText)
	}

	return p.waitLoaded(ctx)
}

func (p *Page) Click(ctx context.Context, selector string) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return null;
		el.scrollIntoView({block: "center", inline: "center"});
		const r = el.getBoundingClientRect();
		return {x: r.left + r.width / 2, y: r.top + r.height / 2};
	})()`, quote(selector))

	var point *struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := p.evaluateInto(ctx, script, &point); err != nil {
		return err
	}
	if point == nil {
		return fmt.Errorf("%w: %s", engine.ErrElementNotFound, selector)
	}

	for _, typ := range []string{"mousePressed", "mouseReleased"} {
		if _, err := p.send(ctx, "Input.dispatchMouseEvent", map[string]any{
			"type":       typ,
			"x":          point.X,
			"y":          point.Y,
			"button":     "left",
			"clickCount": 1,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Page) Type(ctx context.Context, selector, text string) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		el.focus();
		return true;
	})()`, quote(selector))

	var focused bool
	if err := p.evaluateInto(ctx, script, &focused); err != nil {
		return err
	}
	if !focused {
		return fmt.Errorf("%w: %s", engine.ErrElementNotFound, selector)
	}

	_, err := p.send(ctx, "Input.insertText", map[string]any{"text": text})
	return err
}

func (p *Page) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	script := fmt.Sprintf("document.querySelector(%s) !== null", quote(selector))
	for {
		var found bool
		err := p.evaluateInto(waitCtx, script, &found)
		if err == nil && found {
			return nil
		}
		if err != nil && waitCtx.Err() == nil {
			return err
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("waiting for %s: timed out after %s", selector, timeout)
		case <-ticker.C:
		}
	}
}

// Screenshot captures the whole document, not just the viewport
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	params := map[string]any{
		"format":                "png",
		"captureBeyondViewport": true,
	}

	metrics, err := p.send(ctx, "Page.getLayoutMetrics", nil)
	if err != nil {
		return nil, err
	}
	var layout struct {
		CSSContentSize struct {
			Width  float64 `json:"width"`
			Height float64 `json:"height"`
		} `json:"cssContentSize"`
	}
	if err := json.Unmarshal(metrics, &layout); err != nil {
		return nil, fmt.Errorf("failed to parse layout metrics: %w", err)
	}
	if size := layout.CSSContentSize; size.Width > 0 && size.Height > 0 {
		params["clip"] = map[string]any{
			"x":      0,
			"y":      0,
			"width":  size.Width,
			"height": size.Height,
			"scale":  1,
		}
	}

	result, err := p.send(ctx, "Page.captureScreenshot", params)
	if err != nil {
		return nil, err
	}
	var response struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(result, &response); err != nil {
		return nil, fmt.Errorf("failed to parse screenshot response: %w", err)
	}

	png, err := base64.StdEncoding.DecodeString(response.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}
	return png, nil
}

func (p *Page) Content(ctx context.Context) (string, error) {
	result, err := p.send(ctx, "DOM.getDocument", map[string]any{"depth": 0})
	if err != nil {
		return "", err
	}
	var document struct {
		Root struct {
			NodeID int64 `json:"nodeId"`
		} `json:"root"`
	}
	if err := json.Unmarshal(result, &document); err != nil {
		return "", fmt.Errorf("failed to parse document: %w", err)
	}

	result, err = p.send(ctx, "DOM.getOuterHTML", map[string]any{"nodeId": document.Root.NodeID})
	if err != nil {
		return "", err
	}
	var response struct {
		OuterHTML string `json:"outerHTML"`
	}
	if err := json.Unmarshal(result, &response); err != nil {
		return "", fmt.Errorf("failed to parse outer html: %w", err)
	}
	return response.OuterHTML, nil
}

func (p *Page) Title(ctx context.Context) (string, error) {
	var title string
	err := p.evaluateInto(ctx, "document.title", &title)
	return title, err
}

func (p *Page) URL(ctx context.Context) (string, error) {
	var url string
	err := p.evaluateInto(ctx, "window.location.href", &url)
	return url, err
}

func (p *Page) Evaluate(ctx context.Context, script string) (any, error) {
	value, err := p.evaluate(ctx, script)
	if err != nil {
		return nil, err
	}
	if len(value) == 0 {
		return nil, nil
	}

	var out any
	if err := json.Unmarshal(value, &out); err != nil {
		return nil, fmt.Errorf("failed to decode script result: %w", err)
	}
	return out, nil
}

func (p *Page) GoBack(ctx context.Context) error {
	return p.stepHistory(ctx, -1)
}

func (p *Page) GoForward(ctx context.Context) error {
	return p.stepHistory(ctx, 1)
}

// stepHistory moves delta entries through the navigation history. Moving
// past either end is a no-op.
func (p *Page) stepHistory(ctx context.Context, delta int) error {
	result, err := p.send(ctx, "Page.getNavigationHistory", nil)
	if err != nil {
		return err
	}

	var history struct {
		CurrentIndex int `json:"currentIndex"`
		Entries      []struct {
			ID  int64  `json:"id"`
			URL string `json:"url"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(result, &history); err != nil {
		return fmt.Errorf("failed to parse navigation history: %w", err)
	}

	target := history.CurrentIndex + delta
	if target < 0 || target >= len(history.Entries) {
		return nil
	}

	if _, err := p.send(ctx, "Page.navigateToHistoryEntry", map[string]any{
		"entryId": history.Entries[target].ID,
	}); err != nil {
		return err
	}
	return p.waitLoaded(ctx)
}

func (p *Page) Reload(ctx context.Context) error {
	if _, err := p.send(ctx, "Page.reload", nil); err != nil {
		return err
	}
	return p.waitLoaded(ctx)
}

func (p *Page) SetViewport(ctx context.Context, viewport engine.Viewport) error {
	scale := viewport.DeviceScaleFactor
	if scale <= 0 {
		scale = 1
	}
	_, err := p.send(ctx, "Emulation.setDeviceMetricsOverride", map[string]any{
		"width":             viewport.Width,
		"height":            viewport.Height,
		"deviceScaleFactor": scale,
		"mobile":            viewport.IsMobile,
	})
	return err
}

// Close closes the target. Closing twice is a no-op.
func (p *Page) Close() error {
	p.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()

		err := p.client.CloseTarget(ctx, p.targetID)
		// The target goes away with the browser connection anyway
		if errors.Is(err, cdp.ErrClientClosed) {
			err = nil
		}
		p.closeErr = err
	})
	return p.closeErr
}
