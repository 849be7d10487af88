// Package engine defines the contract a browser-automation driver must satisfy.
package engine

import (
	"context"
	"errors"
	"time"
)

// BlankURL is the placeholder address of a page that has not navigated anywhere
const BlankURL = "about:blank"

// ErrElementNotFound is returned when a selector matches nothing on the page
var ErrElementNotFound = errors.New("element not found")

// Viewport describes the emulated screen of a page
type Viewport struct {
	Width             int     `json:"width" yaml:"width"`
	Height            int     `json:"height" yaml:"height"`
	DeviceScaleFactor float64 `json:"deviceScaleFactor" yaml:"deviceScaleFactor"`
	IsMobile          bool    `json:"isMobile" yaml:"isMobile"`
}

// Launcher acquires a fresh browser instance
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// Browser is one running browser instance
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is a single tab of a Browser
type Page interface {
	Goto(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error

	// Screenshot captures the full page as PNG
	Screenshot(ctx context.Context) ([]byte, error)
	Content(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)

	// Evaluate runs script in the page and returns its JSON-decoded value
	Evaluate(ctx context.Context, script string) (any, error)

	GoBack(ctx context.Context) error
	GoForward(ctx context.Context) error
	Reload(ctx context.Context) error

	SetViewport(ctx context.Context, viewport Viewport) error
	Close() error
}
