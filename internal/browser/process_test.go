package browser

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFlags(t *testing.T) {
	proc, err := NewProcess("/usr/bin/chromium", 9333, "--lang=en-US")
	require.NoError(t, err)
	defer os.RemoveAll(proc.UserDataDir)

	flags := proc.buildFlags()
	assert.Contains(t, flags, "--headless=new")
	assert.Contains(t, flags, "--remote-debugging-port=9333")
	assert.Contains(t, flags, "--user-data-dir="+proc.UserDataDir)
	assert.Contains(t, flags, "--lang=en-US")
	assert.Equal(t, "about:blank", flags[len(flags)-1])
	assert.Equal(t, StatusStarting, proc.Status())
}

func TestStartMissingBinary(t *testing.T) {
	proc, err := NewProcess("/nonexistent/chromium", 9333)
	require.NoError(t, err)

	require.Error(t, proc.Start())
	assert.Equal(t, StatusFailed, proc.Status())
	assert.NoDirExists(t, proc.UserDataDir)
	assert.False(t, proc.IsAlive())
}

func TestStopWithoutStart(t *testing.T) {
	proc, err := NewProcess("/usr/bin/chromium", 9333)
	require.NoError(t, err)

	require.NoError(t, proc.Stop())
	assert.Equal(t, StatusStopped, proc.Status())
	assert.NoDirExists(t, proc.UserDataDir)
	assert.Zero(t, proc.GetPID())
}

func TestLaunchRequiresBinary(t *testing.T) {
	l := NewLauncher(LauncherOptions{})
	_, err := l.Launch(context.Background())
	assert.Error(t, err)
}

func TestLaunchReleasesPortWhenDevToolsNeverAppears(t *testing.T) {
	if _, err := os.Stat("/bin/false"); err != nil {
		t.Skip("/bin/false not available")
	}

	min := freeRange(t, 1)
	pool := NewPortPool(min, min+1)
	l := NewLauncher(LauncherOptions{
		BinaryPath:     "/bin/false",
		Ports:          pool,
		StartupTimeout: 10 * time.Second,
	})

	_, err := l.Launch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited before exposing devtools")

	_, available := pool.Stats()
	assert.Equal(t, 1, available)
}

// fakeChromium writes a script that ignores its flags and idles until signalled
func fakeChromium(t *testing.T) string {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	path := filepath.Join(t.TempDir(), "chromium")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexec sleep 30\n"), 0o755))
	return path
}

func TestProcessLifecycle(t *testing.T) {
	proc, err := NewProcess(fakeChromium(t), 9333)
	require.NoError(t, err)

	require.NoError(t, proc.Start())
	assert.NotZero(t, proc.GetPID())
	assert.True(t, proc.IsAlive())
	assert.Equal(t, StatusRunning, proc.Status())

	require.NoError(t, proc.Stop())
	assert.False(t, proc.IsAlive())
	assert.Equal(t, StatusStopped, proc.Status())
	assert.NoDirExists(t, proc.UserDataDir)

	// A second Stop is harmless
	require.NoError(t, proc.Stop())
}

func TestTailWriterKeepsEnd(t *testing.T) {
	w := tailWriter{limit: 4}
	_, _ = w.Write([]byte("abc"))
	_, _ = w.Write([]byte("def"))
	assert.Equal(t, "cdef", w.String())
}
