// Command server exposes the papergraph engine over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brunobiangulo/papergraph"
)

func main() {
	configPath := flag.String("config", os.Getenv(papergraph.EnvPrefix+"_CONFIG"), "Path to config file (YAML or JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	cfg, err := papergraph.LoadConfig(*configPath)
	if err != nil {
		slog.Error("server: loading config", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))

	// Fallback: well-known provider env vars for API keys.
	cfg.Chat.APIKey = providerKey(cfg.Chat.Provider, cfg.Chat.APIKey)
	cfg.Embedding.APIKey = providerKey(cfg.Embedding.Provider, cfg.Embedding.APIKey)

	if err := cfg.Validate(); err != nil {
		slog.Error("server: invalid config", "error", err)
		os.Exit(1)
	}

	apiKey := os.Getenv(papergraph.EnvPrefix + "_API_KEY")
	corsOrigins := os.Getenv(papergraph.EnvPrefix + "_CORS_ORIGINS")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := papergraph.New(ctx, cfg, papergraph.WithRegisterer(reg))
	if err != nil {
		slog.Error("server: creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	srv := &http.Server{
		Addr:         *addr,
		Handler:      newServer(engine, cfg, reg, apiKey, corsOrigins),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // ingest and validate can be long
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server: starting", "addr", *addr, "backend", cfg.Storage.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server: listen failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("server: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server: shutdown error", "error", err)
	}

	slog.Info("server: stopped")
}

// newServer builds the routed handler.
// Middleware chain: recovery -> cors -> auth -> logging -> metrics -> mux
func newServer(engine papergraph.Engine, cfg papergraph.Config, reg *prometheus.Registry, apiKey, corsOrigins string) http.Handler {
	h := newHandler(engine, cfg.Validation.Policy())
	mux := http.NewServeMux()

	mux.HandleFunc("POST /ingest", h.handleIngest)
	mux.HandleFunc("POST /prior", h.handlePrior)
	mux.HandleFunc("POST /validate", h.handleValidate)
	mux.HandleFunc("POST /validate/entity", h.handleValidateEntity)
	mux.HandleFunc("POST /validate/relationship", h.handleValidateRelationship)
	mux.HandleFunc("GET /papers", h.handleListPapers)
	mux.HandleFunc("GET /papers/{id}", h.handleGetPaper)
	mux.HandleFunc("GET /papers/{id}/relationships", h.handlePaperRelationships)
	mux.HandleFunc("GET /papers/{id}/similar", h.handleSimilar)
	mux.HandleFunc("GET /papers/{id}/lineage", h.handleLineage)
	mux.HandleFunc("GET /search", h.handleSearch)
	mux.HandleFunc("GET /clusters", h.handleClusters)
	mux.HandleFunc("GET /stats", h.handleStats)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	var handler http.Handler = newHTTPMetrics(reg).middleware(mux)
	handler = logMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)
	return handler
}

// providerKey returns key, or the provider's conventional environment
// variable when key is empty.
func providerKey(provider, key string) string {
	if key != "" {
		return key
	}
	switch provider {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "groq":
		return os.Getenv("GROQ_API_KEY")
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openrouter":
		return os.Getenv("OPENROUTER_API_KEY")
	}
	return ""
}
