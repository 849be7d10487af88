package browser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

type ProcessStatus string

const (
	StatusStarting ProcessStatus = "starting"
	StatusRunning  ProcessStatus = "running"
	StatusStopped  ProcessStatus = "stopped"
	StatusFailed   ProcessStatus = "failed" // failed to start or exited on its own
)

const (
	// stopGrace is how long Stop waits after SIGTERM before killing
	stopGrace = 5 * time.Second

	// stderrTail is how much of the process's stderr is kept for diagnostics
	stderrTail = 2048
)

// Process is one Chromium child process with its own profile directory
type Process struct {
	BinaryPath  string
	DebugPort   int
	UserDataDir string
	ExtraFlags  []string // appended after the default flags
	StartedAt   time.Time

	mu     sync.Mutex
	status ProcessStatus
	cmd    *exec.Cmd
	cancel context.CancelFunc
	exited chan struct{}
	stderr tailWriter
}

// NewProcess prepares a process on debugPort with a fresh profile directory.
// Nothing runs until Start.
func NewProcess(binaryPath string, debugPort int, extraFlags ...string) (*Process, error) {
	userDataDir, err := os.MkdirTemp("", "chromium-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	return &Process{
		BinaryPath:  binaryPath,
		DebugPort:   debugPort,
		UserDataDir: userDataDir,
		ExtraFlags:  extraFlags,
		status:      StatusStarting,
		exited:      make(chan struct{}),
		stderr:      tailWriter{limit: stderrTail},
	}, nil
}

// buildFlags constructs the command-line flags for Chromium
func (p *Process) buildFlags() []string {
	flags := []string{
		"--headless=new",
		fmt.Sprintf("--remote-debugging-port=%d", p.DebugPort),
		"--remote-debugging-address=127.0.0.1", // never expose DevTools beyond loopback
		"--no-sandbox",                         // needed in containers
		"--disable-gpu",
		"--disable-dev-shm-usage",
		"--no-first-run",
		"--no-default-browser-check",
		"--user-data-dir=" + p.UserDataDir,
	}
	flags = append(flags, p.ExtraFlags...)
	return append(flags, "about:blank")
}

func (p *Process) setStatus(status ProcessStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
}

// Status returns the current lifecycle state
func (p *Process) Status() ProcessStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Start launches the process. Cancelling it sends SIGTERM; the process is
// killed if it is still around stopGrace later.
func (p *Process) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, p.BinaryPath, p.buildFlags()...)
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = stopGrace
	cmd.Stderr = &p.stderr

	if err := cmd.Start(); err != nil {
		cancel()
		p.setStatus(StatusFailed)
		_ = os.RemoveAll(p.UserDataDir)
		return fmt.Errorf("failed to start browser process: %w", err)
	}

	p.mu.Lock()
	p.cmd = cmd
	p.cancel = cancel
	p.status = StatusRunning
	p.StartedAt = time.Now()
	p.mu.Unlock()

	go func() {
		_ = cmd.Wait()
		p.mu.Lock()
		if p.status == StatusRunning {
			p.status = StatusFailed
		}
		p.mu.Unlock()
		close(p.exited)
	}()
	return nil
}

// Exited is closed once a started process has exited
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// Stderr returns the tail of what the process wrote to stderr
func (p *Process) Stderr() string {
	return strings.TrimSpace(p.stderr.String())
}

// Stop terminates the process and removes its profile directory. It is safe
// to call more than once.
func (p *Process) Stop() error {
	p.mu.Lock()
	cancel := p.cancel
	if p.status != StatusFailed {
		p.status = StatusStopped
	}
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-p.exited
	}
	p.setStatus(StatusStopped)

	if err := os.RemoveAll(p.UserDataDir); err != nil {
		return fmt.Errorf("failed to remove user data directory: %w", err)
	}
	return nil
}

// IsAlive reports whether the process was started and has not exited
func (p *Process) IsAlive() bool {
	p.mu.Lock()
	started := p.cmd != nil
	p.mu.Unlock()
	if !started {
		return false
	}

	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// GetPID returns the process ID, 0 before Start
func (p *Process) GetPID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil && p.cmd.Process != nil {
		return p.cmd.Process.Pid
	}
	return 0
}

// tailWriter keeps the last limit bytes written to it
type tailWriter struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (w *tailWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, b...)
	if over := len(w.buf) - w.limit; over > 0 {
		w.buf = append(w.buf[:0], w.buf[over:]...)
	}
	return len(b), nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.buf)
}
