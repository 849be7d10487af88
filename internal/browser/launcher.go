package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dhruvsoni1802/browser-gateway/internal/cdp"
	"github.com/dhruvsoni1802/browser-gateway/internal/engine"
)

// DefaultStartupTimeout bounds how long a new process has to expose DevTools
const DefaultStartupTimeout = 30 * time.Second

const debugHost = "127.0.0.1"

// LauncherOptions configures a Launcher
type LauncherOptions struct {
	BinaryPath     string
	Ports          *PortPool
	StartupTimeout time.Duration
	ExtraFlags     []string
	Logger         *slog.Logger
}

// Launcher starts one Chromium process per browser and speaks raw DevTools to it
type Launcher struct {
	binaryPath     string
	ports          *PortPool
	startupTimeout time.Duration
	extraFlags     []string
	logger         *slog.Logger
}

var _ engine.Launcher = (*Launcher)(nil)

// NewLauncher creates a launcher. A nil port pool uses the default range.
func NewLauncher(opts LauncherOptions) *Launcher {
	if opts.Ports == nil {
		opts.Ports = NewPortPool(MinPortRange, MaxPortRange)
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = DefaultStartupTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Launcher{
		binaryPath:     opts.BinaryPath,
		ports:          opts.Ports,
		startupTimeout: opts.StartupTimeout,
		extraFlags:     opts.ExtraFlags,
		logger:         opts.Logger.With("component", "browser"),
	}
}

// Launch starts a process on a free port and connects to it
func (l *Launcher) Launch(ctx context.Context) (engine.Browser, error) {
	if l.binaryPath == "" {
		return nil, errors.New("chromium binary path is not configured")
	}

	port, err := l.ports.Acquire()
	if err != nil {
		return nil, err
	}

	proc, err := NewProcess(l.binaryPath, port, l.extraFlags...)
	if err != nil {
		l.ports.Release(port)
		return nil, err
	}
	if err := proc.Start(); err != nil {
		l.ports.Release(port)
		return nil, err
	}

	cleanup := func() {
		if err := proc.Stop(); err != nil {
			l.logger.Warn("failed to stop browser process", "pid", proc.GetPID(), "error", err)
		}
		l.ports.Release(port)
	}

	startCtx, cancel := context.WithTimeout(ctx, l.startupTimeout)
	defer cancel()

	info, err := waitForDebugger(startCtx, proc)
	if err != nil {
		cleanup()
		return nil, err
	}

	b, err := Attach(startCtx, info.WebSocketDebuggerURL, l.logger)
	if err != nil {
		cleanup()
		return nil, err
	}
	b.cleanup = cleanup

	l.logger.Info("browser process started", "pid", proc.GetPID(), "port", port, "version", info.Browser)
	return b, nil
}

// waitForDebugger polls /json/version until the process answers
func waitForDebugger(ctx context.Context, proc *Process) (cdp.VersionInfo, error) {
	ticker := time.NewTicker(DefaultPollInterval)
	defer ticker.Stop()

	for {
		info, err := cdp.GetVersion(ctx, debugHost, proc.DebugPort)
		if err == nil && info.WebSocketDebuggerURL != "" {
			return info, nil
		}

		select {
		case <-proc.Exited():
			if tail := proc.Stderr(); tail != "" {
				return cdp.VersionInfo{}, fmt.Errorf("browser process exited before exposing devtools on port %d: %s", proc.DebugPort, tail)
			}
			return cdp.VersionInfo{}, fmt.Errorf("browser process exited before exposing devtools on port %d", proc.DebugPort)
		case <-ctx.Done():
			return cdp.VersionInfo{}, fmt.Errorf("devtools on port %d not ready: %w", proc.DebugPort, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Browser is a DevTools connection plus whatever owns the process behind it
type Browser struct {
	client  *cdp.Client
	logger  *slog.Logger
	cleanup func()

	closeOnce sync.Once
	closeErr  error
}

var _ engine.Browser = (*Browser)(nil)

// Attach connects to an already running browser at wsURL. Closing the
// returned Browser only closes the connection.
func Attach(ctx context.Context, wsURL string, logger *slog.Logger) (*Browser, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := cdp.NewClient(wsURL, logger)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return &Browser{client: client, logger: logger}, nil
}

// NewPage opens a blank target and enables the domains pages rely on
func (b *Browser) NewPage(ctx context.Context) (engine.Page, error) {
	targetID, err := b.client.CreateTarget(ctx, engine.BlankURL, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create target: %w", err)
	}

	page := &Page{client: b.client, targetID: targetID, poll: DefaultPollInterval}

	sessionID, err := b.client.AttachToTarget(ctx, targetID)
	if err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("failed to attach to target: %w", err)
	}
	page.sessionID = sessionID

	for _, method := range []string{"Page.enable", "Runtime.enable"} {
		if _, err := page.send(ctx, method, nil); err != nil {
			_ = page.Close()
			return nil, err
		}
	}

	b.logger.Debug("page opened", "target_id", targetID)
	return page, nil
}

// Close drops the connection and stops the process when one was launched
func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		b.closeErr = b.client.Close()
		if b.cleanup != nil {
			b.cleanup()
		}
	})
	return b.closeErr
}
