package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"time"

	"github.com/spf13/cast"

	"github.com/dhruvsoni1802/browser-gateway/internal/engine"
)

// ParameterError reports a missing or malformed action parameter
type ParameterError struct {
	Name   string
	Reason string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("parameter %q %s", e.Name, e.Reason)
}

// stringParam returns a required, non-empty string parameter
func stringParam(params map[string]any, name string) (string, error) {
	raw, ok := params[name]
	if !ok || raw == nil {
		return "", &ParameterError{Name: name, Reason: "is required"}
	}
	value, ok := raw.(string)
	if !ok {
		return "", &ParameterError{Name: name, Reason: "must be a string"}
	}
	if value == "" {
		return "", &ParameterError{Name: name, Reason: "is required"}
	}
	return value, nil
}

// intParam returns an optional integer parameter. JSON numbers, Go ints and
// numeric strings are accepted; fractions and booleans are not.
func intParam(params map[string]any, name string, def int) (int, error) {
	raw, ok := params[name]
	if !ok || raw == nil {
		return def, nil
	}

	switch v := raw.(type) {
	case bool:
		return 0, &ParameterError{Name: name, Reason: "must be an integer"}
	case float64:
		if v != math.Trunc(v) {
			return 0, &ParameterError{Name: name, Reason: "must be an integer"}
		}
	case float32:
		if float64(v) != math.Trunc(float64(v)) {
			return 0, &ParameterError{Name: name, Reason: "must be an integer"}
		}
	}

	value, err := cast.ToIntE(raw)
	if err != nil {
		return 0, &ParameterError{Name: name, Reason: "must be an integer"}
	}
	return value, nil
}

func navigate(ctx context.Context, page engine.Page, params map[string]any) (map[string]any, error) {
	url, err := stringParam(params, "url")
	if err != nil {
		return nil, err
	}

	if err := page.Goto(ctx, url); err != nil {
		return nil, fmt.Errorf("failed to navigate to %s: %w", url, err)
	}

	title, err := page.Title(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read title: %w", err)
	}

	return map[string]any{"url": url, "title": title}, nil
}

func click(ctx context.Context, page engine.Page, params map[string]any) (map[string]any, error) {
	selector, err := stringParam(params, "selector")
	if err != nil {
		return nil, err
	}

	if err := page.Click(ctx, selector); err != nil {
		return nil, fmt.Errorf("failed to click %s: %w", selector, err)
	}
	return map[string]any{"selector": selector}, nil
}

func typeText(ctx context.Context, page engine.Page, params map[string]any) (map[string]any, error) {
	selector, err := stringParam(params, "selector")
	if err != nil {
		return nil, err
	}
	text, err := stringParam(params, "text")
	if err != nil {
		return nil, err
	}

	if err := page.Type(ctx, selector, text); err != nil {
		return nil, fmt.Errorf("failed to type into %s: %w", selector, err)
	}
	return map[string]any{"selector": selector, "text": text}, nil
}

func waitForElement(ctx context.Context, page engine.Page, params map[string]any) (map[string]any, error) {
	selector, err := stringParam(params, "selector")
	if err != nil {
		return nil, err
	}
	timeout, err := intParam(params, "timeout", int(DefaultWaitTimeout/time.Millisecond))
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		return nil, &ParameterError{Name: "timeout", Reason: "must be positive"}
	}
	if int64(timeout) > MaxWaitTimeout.Milliseconds() {
		return nil, &ParameterError{Name: "timeout", Reason: fmt.Sprintf("must be at most %d", MaxWaitTimeout.Milliseconds())}
	}

	wait := time.Duration(timeout) * time.Millisecond
	if err := page.WaitForSelector(ctx, selector, wait); err != nil {
		return nil, fmt.Errorf("failed waiting for %s: %w", selector, err)
	}
	return map[string]any{"selector": selector, "timeout": timeout}, nil
}

func scroll(ctx context.Context, page engine.Page, params map[string]any) (map[string]any, error) {
	x, err := intParam(params, "x", 0)
	if err != nil {
		return nil, err
	}
	y, err := intParam(params, "y", 0)
	if err != nil {
		return nil, err
	}

	if _, err := page.Evaluate(ctx, fmt.Sprintf("window.scrollTo(%d, %d)", x, y)); err != nil {
		return nil, fmt.Errorf("failed to scroll: %w", err)
	}
	return map[string]any{"x": x, "y": y}, nil
}

func screenshot(ctx context.Context, page engine.Page, _ map[string]any) (map[string]any, error) {
	image, err := page.Screenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return map[string]any{
		"screenshot": base64.StdEncoding.EncodeToString(image),
		"format":     "png",
	}, nil
}

func getContent(ctx context.Context, page engine.Page, _ map[string]any) (map[string]any, error) {
	content, err := page.Content(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}
	title, err := page.Title(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read title: %w", err)
	}
	url, err := page.URL(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read url: %w", err)
	}
	return map[string]any{"title": title, "content": content, "url": url}, nil
}

func getTitle(ctx context.Context, page engine.Page, _ map[string]any) (map[string]any, error) {
	title, err := page.Title(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read title: %w", err)
	}
	return map[string]any{"title": title}, nil
}

func executeScript(ctx context.Context, page engine.Page, params map[string]any) (map[string]any, error) {
	script, err := stringParam(params, "script")
	if err != nil {
		return nil, err
	}

	result, err := page.Evaluate(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("failed to execute script: %w", err)
	}
	return map[string]any{"script": script, "result": result}, nil
}

// history runs a history move and reports where the page ended up
func history(move func(engine.Page, context.Context) error) operation {
	return func(ctx context.Context, page engine.Page, _ map[string]any) (map[string]any, error) {
		if err := move(page, ctx); err != nil {
			return nil, err
		}
		url, err := page.URL(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read url: %w", err)
		}
		return map[string]any{"url": url}, nil
	}
}

// operation runs one action against a borrowed page
type operation func(ctx context.Context, page engine.Page, params map[string]any) (map[string]any, error)

var operations = map[ActionType]operation{
	ActionNavigate:       navigate,
	ActionClick:          click,
	ActionTypeText:       typeText,
	ActionWaitForElement: waitForElement,
	ActionScroll:         scroll,
	ActionScreenshot:     screenshot,
	ActionGetContent:     getContent,
	ActionGetTitle:       getTitle,
	ActionExecuteScript:  executeScript,
	ActionBack:           history(engine.Page.GoBack),
	ActionForward:        history(engine.Page.GoForward),
	ActionRefresh:        history(engine.Page.Reload),
}
