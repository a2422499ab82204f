// Command server runs the pyrelay playground.
//
// The main package stays small: it parses flags, loads configuration, builds
// a logger and hands off to internal/server. All behaviour lives in the
// internal packages so it can be tested without a process.
//
//	pyrelay               # same as "pyrelay serve"
//	pyrelay serve --port 9090
//	pyrelay exec hello.star
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sakif/pyrelay/internal/config"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "pyrelay",
	Short: "Interactive code playground server",
	Long: `pyrelay runs submitted programs and relays interactive input to them.

A program that calls input() blocks until a value arrives through
POST /input (or the WebSocket) for the same session ID.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default ./pyrelay.yaml if present)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads configuration and builds the logger every subcommand uses.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, newLogger(cfg), nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel()}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
