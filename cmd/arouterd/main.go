package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	agentrouter "github.com/relay-labs/agent-router"
	"github.com/relay-labs/agent-router/admin"
	"github.com/relay-labs/agent-router/agents"
	"github.com/relay-labs/agent-router/audit"
	"github.com/relay-labs/agent-router/internal/logging"
	"github.com/relay-labs/agent-router/internal/ratelimit"
	"github.com/relay-labs/agent-router/internal/version"
	"github.com/relay-labs/agent-router/orchestrator"
	"github.com/relay-labs/agent-router/providers"

	// Register built-in plugins so they can be loaded from config.
	_ "github.com/relay-labs/agent-router/internal/plugins/maxtoken"
	_ "github.com/relay-labs/agent-router/internal/plugins/wordfilter"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "arouterd",
		Short:        "Agent request router and model gateway",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (yaml or json); defaults to $ROUTER_CONFIG")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	ver := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}

	root.AddCommand(serve, ver)
	return root
}

func runServe(ctx context.Context, configPath string) error {
	log := logging.Logger

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	gw, err := agentrouter.New(*cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	n, err := registerProvidersFromEnv(gw)
	if err != nil {
		return err
	}
	if n == 0 {
		log.Warn("no providers configured; AI reasoning and /v1/generate are unavailable",
			"hint", "set OPENAI_API_KEY, ANTHROPIC_API_KEY, BEDROCK_REGION, or OLLAMA_HOST")
	}
	if len(cfg.Plugins) > 0 {
		if err := gw.LoadPlugins(); err != nil {
			return fmt.Errorf("load plugins: %w", err)
		}
		log.Info("plugins loaded", "count", len(cfg.Plugins))
	}

	registry := agents.NewRegistry()
	auditor := audit.New(audit.Config{
		Enabled:   cfg.Audit.Enabled,
		Dir:       cfg.Audit.Dir,
		SQLDriver: cfg.Audit.SQLDriver,
		SQLDSN:    cfg.Audit.SQLDSN,
	})
	orch := orchestrator.New(*cfg, registry, gw, auditor)

	keyStore, err := newKeyStore()
	if err != nil {
		return err
	}
	// A fresh in-memory store has no keys, which would lock the admin
	// surface out entirely. Mint one and print it once.
	if len(keyStore.List()) == 0 {
		boot, err := keyStore.Create("bootstrap", []string{admin.ScopeAdmin}, nil)
		if err != nil {
			return fmt.Errorf("bootstrap admin key: %w", err)
		}
		log.Info("bootstrap admin key created; store it now, it is not shown again", "key", boot.Key)
	}

	var limiter *ratelimit.Store
	if cfg.RateLimit.RPS > 0 {
		limiter = ratelimit.NewStore(cfg.RateLimit.RPS, float64(cfg.RateLimit.Burst))
	}

	addr := cfg.Server.Addr
	if p := os.Getenv("PORT"); p != "" {
		addr = ":" + p
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      newRouter(orch, gw, keyStore, limiter),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown error", "error", err.Error())
		}
	}()

	log.Info("listening", "addr", addr, "version", version.Short(), "providers", n)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	log.Info("server stopped")
	return nil
}

// loadConfig resolves the config path from the flag or ROUTER_CONFIG and
// falls back to defaults when neither is set.
func loadConfig(path string) (*agentrouter.Config, error) {
	if path == "" {
		path = os.Getenv("ROUTER_CONFIG")
	}
	if path == "" {
		cfg := agentrouter.DefaultConfig()
		logging.Logger.Info("no config file; using defaults")
		return &cfg, nil
	}
	cfg, err := agentrouter.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := agentrouter.ValidateConfig(*cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logging.Logger.Info("config loaded", "path", path)
	return cfg, nil
}

// registerProvidersFromEnv registers every provider whose environment
// variables are present and returns how many were registered.
func registerProvidersFromEnv(gw *agentrouter.Gateway) (int, error) {
	log := logging.Logger
	n := 0
	register := func(name string, p providers.Provider, err error) error {
		if err != nil {
			return fmt.Errorf("%s provider: %w", name, err)
		}
		gw.RegisterProvider(p)
		log.Info("provider registered", "provider", name)
		n++
		return nil
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		p, err := providers.NewOpenAI(key, "")
		if err := register("openai", p, err); err != nil {
			return n, err
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		p, err := providers.NewAnthropic(key, "")
		if err := register("anthropic", p, err); err != nil {
			return n, err
		}
	}
	// Bedrock authenticates through the ambient AWS credential chain.
	if region := firstEnv("BEDROCK_REGION", "AWS_REGION"); region != "" {
		p, err := providers.NewBedrock(region)
		if err := register("bedrock", p, err); err != nil {
			return n, err
		}
	}
	// Ollama is local and needs no API key.
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		var models []string
		if m := os.Getenv("OLLAMA_MODELS"); m != "" {
			models = strings.Split(m, ",")
		}
		p, err := providers.NewOllama(host, models)
		if err := register("ollama", p, err); err != nil {
			return n, err
		}
	}
	return n, nil
}

// newKeyStore picks the admin key store backend from the environment:
// ADMIN_DB_DRIVER is "sqlite" or "postgres" (with ADMIN_DB_DSN), anything
// else falls back to the in-memory store.
func newKeyStore() (admin.Store, error) {
	switch driver := os.Getenv("ADMIN_DB_DRIVER"); driver {
	case "sqlite":
		store, err := admin.NewSQLiteStore(os.Getenv("ADMIN_DB_DSN"))
		if err != nil {
			return nil, fmt.Errorf("sqlite key store: %w", err)
		}
		return store, nil
	case "postgres":
		store, err := admin.NewPostgresStore(os.Getenv("ADMIN_DB_DSN"))
		if err != nil {
			return nil, fmt.Errorf("postgres key store: %w", err)
		}
		return store, nil
	case "":
		return admin.NewKeyStore(), nil
	default:
		return nil, fmt.Errorf("unknown ADMIN_DB_DRIVER %q", driver)
	}
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}
