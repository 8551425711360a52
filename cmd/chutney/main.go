// Package main provides the chutney CLI: validate and run scenarios, steer
// executions from a console or TUI, and serve the engine over MCP.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/NathanRodet/chutney/pkg/config"
	"github.com/NathanRodet/chutney/pkg/engine"
	"github.com/NathanRodet/chutney/pkg/metrics"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	loadDotEnv()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadDotEnv reads KEY=VALUE lines from ./.env into the environment without
// overwriting variables that are already set. exec steps inherit them.
func loadDotEnv() {
	f, err := os.Open(".env")
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if _, set := os.LookupEnv(k); !set {
			os.Setenv(k, strings.Trim(strings.TrimSpace(v), `"'`))
		}
	}
}

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "chutney",
	Short:         "Scenario execution engine",
	Long:          "chutney runs given/when/then scenario trees with retry strategies, live reports and pause/resume/stop control.",
	Version:       version + " (" + commit + ")",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "engine configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
}

// loadConfig reads --config over the defaults and applies flag overrides.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadFile(configPath); err != nil {
			return cfg, err
		}
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

// newEngine builds an engine from the command's configuration. The returned
// stop function shuts down the metrics listener and the engine.
func newEngine(ctx context.Context, mutate func(*config.Config)) (*engine.Engine, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if mutate != nil {
		mutate(&cfg)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	eng, err := engine.New(cfg, engine.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}

	stopMetrics := func() {}
	if _, g := eng.Metrics(); g != nil && cfg.Metrics.Address != "" {
		stopMetrics = serveMetrics(ctx, cfg.Metrics.Address, metrics.Handler(g), logger)
	}
	return eng, func() {
		stopMetrics()
		if err := eng.Close(); err != nil {
			logger.Warn("engine close", "error", err)
		}
	}, nil
}

// serveMetrics exposes /metrics on addr until the returned function is called.
func serveMetrics(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("serving metrics", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

// parseVars turns repeated --var key=value flags into context variables.
func parseVars(pairs []string) (map[string]any, error) {
	vars := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --var %q: expected key=value", p)
		}
		vars[k] = v
	}
	return vars, nil
}
