// Package chromedpengine drives Chromium through chromedp. It satisfies the
// same engine contract as the raw DevTools driver in package browser.
package chromedpengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/chromedp/chromedp"

	"github.com/dhruvsoni1802/browser-gateway/internal/engine"
)

// Options configures the allocator every browser is launched from
type Options struct {
	// ExecPath is the Chromium binary. Empty lets chromedp search for one.
	ExecPath string
	// Headful shows a window; the default is headless
	Headful bool
	// Flags are extra command-line switches, with or without leading dashes
	Flags  []string
	Logger *slog.Logger
}

// Launcher starts one chromedp-managed browser per Launch
type Launcher struct {
	allocOpts []chromedp.ExecAllocatorOption
	logger    *slog.Logger
}

var _ engine.Launcher = (*Launcher)(nil)

func NewLauncher(opts Options) *Launcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Launcher{
		allocOpts: allocatorOptions(opts),
		logger:    opts.Logger.With("component", "chromedp"),
	}
}

// allocatorOptions translates Options into chromedp allocator options
func allocatorOptions(opts Options) []chromedp.ExecAllocatorOption {
	// Start with chromedp defaults
	out := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	out = append(out,
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.DisableGPU,
	)

	if opts.Headful {
		out = append(out, chromedp.Flag("headless", false))
	}
	if opts.ExecPath != "" {
		out = append(out, chromedp.ExecPath(opts.ExecPath))
	}

	for _, flag := range opts.Flags {
		name, value, hasValue := strings.Cut(strings.TrimLeft(flag, "-"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			out = append(out, chromedp.Flag(name, value))
		} else {
			out = append(out, chromedp.Flag(name, true))
		}
	}
	return out
}

// Launch allocates a browser process. The process is owned by the returned
// Browser, not by ctx: ctx only bounds how long starting may take.
func (l *Launcher) Launch(ctx context.Context) (engine.Browser, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), l.allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			l.logger.Debug("chromedp error", "detail", fmt.Sprintf(format, args...))
		}),
	)

	if err := start(ctx, browserCtx, browserCancel); err != nil {
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	l.logger.Info("browser started")
	return &Browser{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		logger:      l.logger,
	}, nil
}

// start performs the first Run on target, which allocates what target stands
// for. target itself must carry no deadline or the allocation dies with it,
// so ctx is watched separately.
func start(ctx, target context.Context, cancel context.CancelFunc) error {
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(target)
	}()

	select {
	case err := <-done:
		if err != nil {
			cancel()
		}
		return err
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

// Browser is one chromedp browser context
type Browser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

var _ engine.Browser = (*Browser)(nil)

// NewPage opens a new tab
func (b *Browser) NewPage(ctx context.Context) (engine.Page, error) {
	tabCtx, tabCancel := chromedp.NewContext(b.ctx)
	if err := start(ctx, tabCtx, tabCancel); err != nil {
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	return &Page{ctx: tabCtx, cancel: tabCancel}, nil
}

// Close shuts the browser down gracefully and then kills the process
func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		if err := chromedp.Cancel(b.ctx); err != nil && !errors.Is(err, context.Canceled) {
			b.closeErr = err
		}
		b.cancel()
		b.allocCancel()
		b.logger.Info("browser closed")
	})
	return b.closeErr
}
