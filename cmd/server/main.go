package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhruvsoni1802/browser-gateway/internal/config"
)

// Version is set at build time with -ldflags "-X main.Version=..."
var Version = "dev"

// Function to initialize the logger
func setupLogger(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	if cfg.IsProduction() {
		// Initialize JSON handler for production environment
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()})
	} else {
		// Initialize Text handler for development environment with better formatting
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: cfg.Level(),
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				// Format timestamp to be more readable
				if a.Key == slog.TimeKey {
					t := a.Value.Time()
					return slog.String("time", t.Format(time.DateTime))
				}
				return a
			},
		})
	}

	return slog.New(handler)
}

type flags struct {
	configPath string
	port       string
	mcpPort    int
	driver     string
	autostart  bool
}

func newRootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:           "browser-gateway",
		Short:         "Browser sessions and MCP connections behind one HTTP API",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(f.configPath)
			if err != nil {
				return err
			}

			// Flags win over the file and the environment
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = f.port
			}
			if cmd.Flags().Changed("mcp-port") {
				cfg.MCP.Port = f.mcpPort
			}
			if cmd.Flags().Changed("driver") {
				cfg.Browser.Driver = f.driver
			}
			if cmd.Flags().Changed("autostart") {
				cfg.MCP.Autostart = f.autostart
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := setupLogger(cfg)
			slog.SetDefault(logger)

			return run(cmd.Context(), cfg, logger)
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "YAML config file")
	cmd.Flags().StringVarP(&f.port, "port", "p", "", "HTTP API port")
	cmd.Flags().IntVar(&f.mcpPort, "mcp-port", 0, "MCP listener port")
	cmd.Flags().StringVar(&f.driver, "driver", "", "browser driver: cdp or chromedp")
	cmd.Flags().BoolVar(&f.autostart, "autostart", false, "start the MCP listener at boot")
	cmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	return cmd
}

// Main entry point of the program
func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
