package main

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhruvsoni1802/browser-gateway/internal/browser"
	"github.com/dhruvsoni1802/browser-gateway/internal/chromedpengine"
	"github.com/dhruvsoni1802/browser-gateway/internal/config"
)

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCmd()
	for _, name := range []string{"config", "port", "mcp-port", "driver", "autostart"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}

	require.NoError(t, cmd.Flags().Parse([]string{"--port", "9090", "--driver", "chromedp"}))
	assert.True(t, cmd.Flags().Changed("port"))
	assert.False(t, cmd.Flags().Changed("mcp-port"))
}

func TestRootCommandRejectsBadConfig(t *testing.T) {
	t.Setenv("SERVER_PORT", "")
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--driver", "webkit"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown browser driver")
}

func TestSetupLoggerLevel(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = "warn"
	logger := setupLogger(cfg)
	assert.False(t, logger.Enabled(t.Context(), slog.LevelInfo))
	assert.True(t, logger.Enabled(t.Context(), slog.LevelWarn))
}

func TestNewLauncherFollowsDriver(t *testing.T) {
	cfg := config.Default()
	assert.IsType(t, &browser.Launcher{}, newLauncher(cfg, slog.Default()))

	cfg.Browser.Driver = config.DriverChromedp
	assert.IsType(t, &chromedpengine.Launcher{}, newLauncher(cfg, slog.Default()))
}
