// Reeve is an autonomous workspace agent daemon.
//
// It exposes an HTTP API (SSE chat, WebSocket event feed) over a
// tool-using reasoning loop with durable sessions and long-term memory.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	reeve [-config path]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/reeve-agent/reeve/internal/agent"
	"github.com/reeve-agent/reeve/internal/api"
	"github.com/reeve-agent/reeve/internal/assemble"
	"github.com/reeve-agent/reeve/internal/budget"
	"github.com/reeve-agent/reeve/internal/compact"
	"github.com/reeve-agent/reeve/internal/config"
	"github.com/reeve-agent/reeve/internal/llm"
	"github.com/reeve-agent/reeve/internal/memory"
	"github.com/reeve-agent/reeve/internal/policy"
	"github.com/reeve-agent/reeve/internal/session"
	"github.com/reeve-agent/reeve/internal/tools"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: search standard locations)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer, configPath string) error {
	path, err := config.FindConfig(configPath)
	if err != nil && configPath != "" {
		// An explicitly requested file must exist; an empty search is
		// fine, the daemon then runs on defaults.
		return err
	}
	var cfg *config.Config
	if path != "" {
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	} else {
		cfg = config.Default()
	}

	logger := newLogger(stdout, cfg.LogLevel)
	slog.SetDefault(logger)
	if path != "" {
		logger.Info("loaded configuration", "path", path)
	} else {
		logger.Warn("no config file found, using defaults")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	store, err := session.NewSQLiteStore(filepath.Join(cfg.DataDir, "sessions.db"))
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	defer store.Close()

	facts, err := memory.NewStore(filepath.Join(cfg.DataDir, "facts.db"))
	if err != nil {
		return fmt.Errorf("opening fact store: %w", err)
	}
	defer facts.Close()

	client := buildClient(cfg, logger)

	engine := policy.New(cfg.Policy, logger.With("component", "policy"))

	registry := tools.NewRegistry()
	registry.RegisterSystemTools()
	registry.RegisterMemoryTools(facts)
	if cfg.Workspace.Path != "" {
		ft, err := tools.NewFileTools(cfg.Workspace.Path)
		if err != nil {
			return fmt.Errorf("configuring file tools: %w", err)
		}
		registry.RegisterFileTools(ft)
		registry.RegisterShellTool(tools.NewShellTool(ft.Root()))
	} else {
		logger.Warn("no workspace configured; file and shell tools disabled")
	}

	executor := tools.NewExecutor(registry, engine, cfg.Tools, logger.With("component", "executor"))

	persona := ""
	if cfg.PersonaFile != "" {
		raw, err := os.ReadFile(cfg.PersonaFile)
		if err != nil {
			return fmt.Errorf("reading persona file: %w", err)
		}
		persona = string(raw)
	}
	assembler, err := assemble.New(persona, facts, cfg.Context, logger.With("component", "assemble"))
	if err != nil {
		return err
	}

	accountant := budget.New(cfg.Budget, client, logger.With("component", "budget"))
	compactor := compact.New(client, cfg.Providers.DefaultModel, facts, cfg.Compaction,
		logger.With("component", "compact"))

	ag := agent.New(agent.Options{
		Client:          client,
		Model:           cfg.Providers.DefaultModel,
		Store:           store,
		Registry:        registry,
		Executor:        executor,
		Assembler:       assembler,
		Accountant:      accountant,
		Compactor:       compactor,
		MaxIterations:   cfg.Loop.MaxIterations,
		ProviderTimeout: time.Duration(cfg.Loop.ProviderTimeoutSec) * time.Second,
		Retry: llm.RetryConfig{
			Attempts:  cfg.Loop.ProviderRetries,
			BaseDelay: time.Second,
			MaxDelay:  30 * time.Second,
		},
		Logger: logger.With("component", "agent"),
	})

	limiter := api.NewRateLimiter(cfg.Listen.RatePerSecond, cfg.Listen.RateBurst)
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, ag, store, limiter,
		logger.With("component", "api"))

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// buildClient wires the configured providers behind one routing client.
func buildClient(cfg *config.Config, logger *slog.Logger) llm.Client {
	var fallback llm.Client

	var anthropic *llm.AnthropicClient
	if cfg.Providers.Anthropic.APIKey != "" {
		anthropic = llm.NewAnthropicClient(cfg.Providers.Anthropic.APIKey,
			logger.With("provider", "anthropic"))
		fallback = anthropic
	}
	ollama := llm.NewOllamaClient(cfg.Providers.Ollama.URL)
	if fallback == nil {
		fallback = ollama
	}

	multi := llm.NewMultiClient(fallback)
	if anthropic != nil {
		multi.AddProvider("anthropic", anthropic)
		for _, m := range cfg.Providers.Anthropic.Models {
			multi.AddModel(m, "anthropic")
		}
	}
	multi.AddProvider("ollama", ollama)
	for _, m := range cfg.Providers.Ollama.Models {
		multi.AddModel(m, "ollama")
	}
	return multi
}

// newLogger builds the process logger. Invalid levels fall back to
// info; config validation already warned about them.
func newLogger(w io.Writer, level string) *slog.Logger {
	lvl, err := config.ParseLogLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       lvl,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}
