package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Browser drivers
const (
	DriverCDP      = "cdp"      // raw DevTools over a process we launch
	DriverChromedp = "chromedp" // chromedp allocator
)

// Config holds all service configuration
type Config struct {
	Env      string `yaml:"env"`
	LogLevel string `yaml:"logLevel"`

	Server  ServerConfig  `yaml:"server"`
	Browser BrowserConfig `yaml:"browser"`
	MCP     MCPConfig     `yaml:"mcp"`
	Redis   RedisConfig   `yaml:"redis"`
}

// ServerConfig is the HTTP control API
type ServerConfig struct {
	Port string `yaml:"port"`
}

// BrowserConfig controls the browser session manager
type BrowserConfig struct {
	Driver         string        `yaml:"driver"`
	ChromiumPath   string        `yaml:"chromiumPath"`
	MaxBrowsers    int           `yaml:"maxBrowsers"`
	ActionTimeout  time.Duration `yaml:"actionTimeout"`
	StartupTimeout time.Duration `yaml:"startupTimeout"`
}

// MCPConfig controls the protocol listener and outbound connections
type MCPConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	Capabilities     []string      `yaml:"capabilities"`
	Autostart        bool          `yaml:"autostart"`
	HandshakeTimeout time.Duration `yaml:"handshakeTimeout"`
	HistoryLimit     int           `yaml:"historyLimit"`
}

// RedisConfig enables the message mirror when Addr is set
type RedisConfig struct {
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	Channel      string `yaml:"channel"`
	HistoryLimit int    `yaml:"historyLimit"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Env:      "development",
		LogLevel: "info",
		Server:   ServerConfig{Port: "8080"},
		Browser: BrowserConfig{
			Driver:         DriverCDP,
			MaxBrowsers:    5,
			ActionTimeout:  60 * time.Second,
			StartupTimeout: 30 * time.Second,
		},
		MCP: MCPConfig{
			Host:             "0.0.0.0",
			Port:             3000,
			Capabilities:     []string{"chat", "tools", "memory"},
			HandshakeTimeout: 10 * time.Second,
			HistoryLimit:     10000,
		},
		Redis: RedisConfig{
			Channel:      "browser-gateway:messages",
			HistoryLimit: 1000,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at path
// and the environment, in that order. A missing Chromium binary is not an
// error here; drivers that need one fail when they launch.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.Browser.ChromiumPath == "" {
		if found, err := findChromium(); err == nil {
			cfg.Browser.ChromiumPath = found
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.Env = getEnv("ENV", cfg.Env)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Server.Port = getEnv("SERVER_PORT", cfg.Server.Port)

	cfg.Browser.Driver = getEnv("BROWSER_DRIVER", cfg.Browser.Driver)
	cfg.Browser.ChromiumPath = getEnv("CHROMIUM_PATH", cfg.Browser.ChromiumPath)

	cfg.MCP.Host = getEnv("MCP_HOST", cfg.MCP.Host)
	if val := os.Getenv("MCP_CAPABILITIES"); val != "" {
		cfg.MCP.Capabilities = splitList(val)
	}

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.Channel = getEnv("REDIS_CHANNEL", cfg.Redis.Channel)

	return errors.Join(
		getEnvAsInt("MAX_BROWSERS", &cfg.Browser.MaxBrowsers),
		getEnvAsDuration("ACTION_TIMEOUT", &cfg.Browser.ActionTimeout),
		getEnvAsDuration("BROWSER_STARTUP_TIMEOUT", &cfg.Browser.StartupTimeout),
		getEnvAsInt("MCP_PORT", &cfg.MCP.Port),
		getEnvAsBool("MCP_AUTOSTART", &cfg.MCP.Autostart),
		getEnvAsDuration("HANDSHAKE_TIMEOUT", &cfg.MCP.HandshakeTimeout),
		getEnvAsInt("HISTORY_LIMIT", &cfg.MCP.HistoryLimit),
		getEnvAsInt("REDIS_DB", &cfg.Redis.DB),
		getEnvAsInt("REDIS_HISTORY_LIMIT", &cfg.Redis.HistoryLimit),
	)
}

// Validate checks every value Load could not have defaulted away
func (c *Config) Validate() error {
	var errs []error

	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Errorf("server port must be between 1 and 65535, got %q", c.Server.Port))
	}
	if c.MCP.Port < 1 || c.MCP.Port > 65535 {
		errs = append(errs, fmt.Errorf("mcp port must be between 1 and 65535, got %d", c.MCP.Port))
	}

	switch c.Browser.Driver {
	case DriverCDP, DriverChromedp:
	default:
		errs = append(errs, fmt.Errorf("unknown browser driver %q (want %s or %s)", c.Browser.Driver, DriverCDP, DriverChromedp))
	}
	if c.Browser.MaxBrowsers < 1 {
		errs = append(errs, fmt.Errorf("max browsers must be at least 1, got %d", c.Browser.MaxBrowsers))
	}
	if c.Browser.ActionTimeout <= 0 {
		errs = append(errs, errors.New("action timeout must be positive"))
	}
	if c.Browser.StartupTimeout <= 0 {
		errs = append(errs, errors.New("browser startup timeout must be positive"))
	}

	if c.MCP.HandshakeTimeout <= 0 {
		errs = append(errs, errors.New("handshake timeout must be positive"))
	}
	if c.MCP.HistoryLimit < 1 {
		errs = append(errs, fmt.Errorf("history limit must be at least 1, got %d", c.MCP.HistoryLimit))
	}
	if c.Redis.Addr != "" && c.Redis.Channel == "" {
		errs = append(errs, errors.New("redis channel is required when redis is enabled"))
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.LogLevel))
	}

	return errors.Join(errs...)
}

// Level returns the configured slog level, info when unparseable
func (c *Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// IsProduction reports whether logs should be machine-readable
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key string, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsInt(key string, target *int) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	intVal, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("%s: %q is not an integer", key, val)
	}
	*target = intVal
	return nil
}

func getEnvAsBool(key string, target *bool) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	boolVal, err := strconv.ParseBool(val)
	if err != nil {
		return fmt.Errorf("%s: %q is not a boolean", key, val)
	}
	*target = boolVal
	return nil
}

func getEnvAsDuration(key string, target *time.Duration) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("%s: %q is not a duration", key, val)
	}

	*target = duration
	return nil
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Function to find the Chromium binary path
func findChromium() (string, error) {
	// Get current operating system
	currentOS := runtime.GOOS

	// Get common paths for this OS
	paths := getChromiumPaths(currentOS)

	// Search through common paths
	for _, path := range paths {
		if fileExists(path) && isExecutable(path) {
			return path, nil
		}
	}

	// If we get here, chromium wasn't found anywhere
	return "", fmt.Errorf("chromium not found in common paths for %s, set CHROMIUM_PATH environment variable", currentOS)
}

// getChromiumPaths returns common Chromium installation paths based on OS.
func getChromiumPaths(operatingSystem string) []string {
	// macOS paths
	if operatingSystem == "darwin" {
		return []string{
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		}
	}

	// Linux paths
	if operatingSystem == "linux" {
		return []string{
			"/usr/bin/chromium-browser",
			"/usr/bin/chromium",
			"/usr/bin/google-chrome",
			"/snap/bin/chromium",
		}
	}

	// Unsupported OS
	return []string{}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode()&0o111 != 0
}
