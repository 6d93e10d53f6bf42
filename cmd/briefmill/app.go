package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/briefmill/briefmill/citation"
	"github.com/briefmill/briefmill/config"
	"github.com/briefmill/briefmill/engine"
	"github.com/briefmill/briefmill/llm"
	"github.com/briefmill/briefmill/storage"
	"github.com/briefmill/briefmill/violation"
	"github.com/briefmill/briefmill/workflow/gap"
)

// engineMetrics is registered once for the process; cobra commands may
// construct more than one app against the same registry.
var engineMetrics = engine.NewMetrics(prometheus.DefaultRegisterer)

// app bundles the wired subsystems behind one construction path so every
// command sees the same topology.
type app struct {
	cfg       *config.Config
	store     *storage.Store
	nc        *nats.Conn
	engine    *engine.Engine
	citations *citation.Service
}

func newApp(configPath string) (*app, error) {
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg.Merge(loaded)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbPath, err := cfg.StorePath()
	if err != nil {
		return nil, fmt.Errorf("resolve store path: %w", err)
	}
	store, err := storage.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	// NATS is optional: violation events and checkpoint notifications
	// degrade to log-only when no broker is reachable.
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = nats.Connect(cfg.NATS.URL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second))
		if err != nil {
			slog.Warn("NATS unavailable; events will be log-only",
				"url", cfg.NATS.URL, "error", err)
			nc = nil
		}
	}

	for _, ep := range cfg.Completion.Endpoints {
		if llm.GetProvider(ep.Provider) == nil {
			store.Close()
			return nil, fmt.Errorf("unknown completion provider %q (available: %s)",
				ep.Provider, strings.Join(llm.ListProviders(), ", "))
		}
	}
	client := llm.NewClient(cfg.Completion.Endpoints,
		llm.WithHTTPClient(&http.Client{Timeout: cfg.Completion.Timeout}))

	citationOpts := []citation.ServiceOption{}
	if cfg.Verifier.URL != "" {
		citationOpts = append(citationOpts,
			citation.WithVerifier(citation.NewHTTPVerifier(cfg.Verifier.URL, cfg.Verifier.APIKey)))
	}
	citations := citation.NewService(store.Citations, citationOpts...)

	reporterOpts := []violation.Option{
		violation.WithProductionMode(cfg.Engine.Production),
	}
	if nc != nil {
		reporterOpts = append(reporterOpts, violation.WithNATS(nc))
	}
	reporter := violation.NewReporter(store.NewAuditStore(), reporterOpts...)

	resolver := gap.NewResolver(store.Gaps, reporter)

	var temperature *float64
	if cfg.Completion.Temperature > 0 {
		t := cfg.Completion.Temperature
		temperature = &t
	}
	handlers := engine.NewHandlers(client, engine.HandlersConfig{
		Temperature:     temperature,
		ReasoningBudget: cfg.Completion.ReasoningBudget,
		Jurisdiction:    cfg.Engine.Jurisdiction,
		WordLimit:       cfg.Engine.WordLimit,
	})

	engineOpts := []engine.Option{
		engine.WithMetrics(engineMetrics),
		engine.WithWordLimit(cfg.Engine.WordLimit),
		engine.WithJurisdiction(cfg.Engine.Jurisdiction),
	}
	if nc != nil {
		engineOpts = append(engineOpts,
			engine.WithNotifier(engine.NewNATSNotifier(nc, slog.Default())))
	}

	eng, err := engine.NewEngine(engine.Deps{
		Workflows:   store.Workflows,
		Phases:      store.Phases,
		Checkpoints: store.Checkpoints,
		Citations:   citations,
		Ledger:      store.Citations,
		Gaps:        resolver,
		Reporter:    reporter,
		Policy:      cfg.Quality,
		Handlers:    handlers,
	}, engineOpts...)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build engine: %w", err)
	}

	return &app{cfg: cfg, store: store, nc: nc, engine: eng, citations: citations}, nil
}

func (a *app) close() {
	if a.nc != nil {
		a.nc.Close()
	}
	if err := a.store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}
}

// startMetrics exposes the prometheus endpoint when an address is given.
func startMetrics(addr string) {
	if addr == "" {
		return
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("metrics server stopped", "error", err)
		}
	}()
}
