package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/finagents/loanflow/agent/evaluator"
	"github.com/finagents/loanflow/agent/guardrails"
	"github.com/finagents/loanflow/agent/handoff"
	"github.com/finagents/loanflow/agent/intent"
	"github.com/finagents/loanflow/agent/profiler"
	"github.com/finagents/loanflow/api/handlers"
	"github.com/finagents/loanflow/config"
	"github.com/finagents/loanflow/internal/audit"
	"github.com/finagents/loanflow/internal/metrics"
	"github.com/finagents/loanflow/internal/server"
	"github.com/finagents/loanflow/internal/telemetry"
	"github.com/finagents/loanflow/llm"
	"github.com/finagents/loanflow/llm/openaicompat"
	"github.com/finagents/loanflow/llm/retry"
	"github.com/finagents/loanflow/session"
)

// Server wires the orchestrator behind the HTTP surface.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	httpManager    *server.Manager
	metricsManager *server.Manager

	controller *handoff.Controller
	store      session.Store
	provider   llm.Provider

	healthHandler  *handlers.HealthHandler
	turnHandler    *handlers.TurnHandler
	sessionHandler *handlers.SessionHandler

	metricsCollector *metrics.Collector
	otelProviders    *telemetry.Providers

	rateLimiterCancel context.CancelFunc
}

// NewServer creates the server.
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) *Server {
	return &Server{
		cfg:           cfg,
		logger:        logger,
		otelProviders: otelProviders,
	}
}

// Start builds the orchestrator and starts the HTTP and metrics servers.
func (s *Server) Start() error {
	s.metricsCollector = metrics.NewCollector("loanflow", s.logger)

	controller, store, provider, err := buildOrchestrator(s.cfg, s.logger, s.metricsCollector)
	if err != nil {
		return fmt.Errorf("failed to build orchestrator: %w", err)
	}
	s.controller = controller
	s.store = store
	s.provider = provider

	s.initHandlers()

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("all servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	return nil
}

// buildOrchestrator assembles the gate, agents, store, and controller from
// configuration. Shared by serve and chat.
func buildOrchestrator(cfg *config.Config, logger *zap.Logger, collector *metrics.Collector) (*handoff.Controller, session.Store, llm.Provider, error) {
	var provider llm.Provider
	if cfg.LLM.APIKey != "" {
		provider = openaicompat.New(openaicompat.Config{
			ProviderName: cfg.LLM.Provider,
			APIKey:       cfg.LLM.APIKey,
			BaseURL:      cfg.LLM.BaseURL,
			Timeout:      cfg.LLM.Timeout,
		}, logger)
	} else {
		logger.Warn("LLM API key not configured; model-backed agents will fail until one is provided")
		provider = openaicompat.New(openaicompat.Config{ProviderName: cfg.LLM.Provider}, logger)
	}

	// Guardrail gate: local validators plus the semantic classifier.
	var classifier guardrails.Classifier
	if cfg.LLM.APIKey != "" {
		classifier = guardrails.NewLLMClassifier(provider, cfg.Guardrails.ClassifierModel, cfg.Guardrails.ClassifierTimeout, logger)
	}
	gate := guardrails.NewGate(guardrails.GateConfig{
		MaxInputLength:      cfg.Guardrails.MaxInputLength,
		BlockedKeywords:     cfg.Guardrails.BlockedKeywords,
		PIIDetection:        cfg.Guardrails.PIIDetection,
		InjectionDetection:  cfg.Guardrails.InjectionDetection,
		Parallel:            cfg.Guardrails.Parallel,
		AllowOffTopicStates: []string{"", string(handoff.StateRouting)},
	}, classifier, logger)

	agents := handoff.Agents{
		Router: intent.New(provider, intent.Config{
			Model:         cfg.Router.Model,
			MaxTokens:     cfg.Router.MaxTokens,
			Temperature:   cfg.Router.Temperature,
			Timeout:       cfg.Router.Timeout,
			HistoryBudget: cfg.Router.HistoryBudget,
		}, logger),
		Profiler: profiler.New(provider, profiler.Config{
			Model:         cfg.Profiler.Model,
			MaxTokens:     cfg.Profiler.MaxTokens,
			Temperature:   cfg.Profiler.Temperature,
			Timeout:       cfg.Profiler.Timeout,
			HistoryBudget: cfg.Profiler.HistoryBudget,
		}, nil, logger),
		Evaluator: evaluator.New(nil, logger),
	}

	store, err := session.New(context.Background(), session.Config{
		Type: session.StoreType(cfg.Session.Type),
		Redis: session.RedisConfig{
			Addr:      cfg.Session.Redis.Addr,
			Password:  cfg.Session.Redis.Password,
			DB:        cfg.Session.Redis.DB,
			PoolSize:  cfg.Session.Redis.PoolSize,
			KeyPrefix: cfg.Session.Redis.KeyPrefix,
			TTL:       cfg.Session.Redis.TTL,
		},
		Database: session.DatabaseConfig{
			Driver: cfg.Session.Database.Driver,
			DSN:    cfg.Session.Database.DSN(),
		},
	}, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	sinks := handoff.MultiSink{audit.NewZapSink(logger)}
	if collector != nil {
		sinks = append(sinks, audit.NewMetricsSink(collector))
	}
	if cfg.Telemetry.Enabled {
		sinks = append(sinks, audit.NewSpanSink())
	}

	policy := retry.DefaultPolicy()
	if cfg.LLM.MaxRetries > 0 {
		policy.MaxRetries = cfg.LLM.MaxRetries
	}

	controller := handoff.NewController(gate, agents, store,
		handoff.WithAuditSink(sinks),
		handoff.WithRetryer(retry.NewBackoffRetryer(policy, logger)),
		handoff.WithLogger(logger),
	)
	return controller, store, provider, nil
}

func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("session_store", s.store.Ping))
	if s.cfg.LLM.APIKey != "" {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("llm_provider", func(ctx context.Context) error {
			_, err := s.provider.HealthCheck(ctx)
			return err
		}))
	}

	s.turnHandler = handlers.NewTurnHandler(s.controller, s.logger)
	s.sessionHandler = handlers.NewSessionHandler(s.controller, s.logger)
}

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	mux.HandleFunc("POST /v1/sessions/{session_id}/turns", s.turnHandler.HandleSubmit)
	mux.HandleFunc("GET /v1/sessions/{session_id}", s.sessionHandler.HandleGet)

	skipAuthPaths := []string{"/healthz", "/readyz", "/version", "/metrics"}
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
	}
	if s.cfg.Telemetry.Enabled {
		middlewares = append(middlewares, OTelTracing())
	}
	if s.cfg.RateLimit.Enabled {
		middlewares = append(middlewares, RateLimiter(rateLimiterCtx, s.cfg.RateLimit.RPS, s.cfg.RateLimit.Burst, s.logger))
	}
	if s.cfg.Auth.Enabled {
		middlewares = append(middlewares, JWTAuth(s.cfg.Auth, skipAuthPaths, s.logger))
	}
	handler := Chain(mux, middlewares...)

	s.httpManager = server.NewManager(handler, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}
	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsManager = server.NewManager(mux, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}
	s.logger.Info("metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// WaitForShutdown blocks until termination, then cleans up.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown closes all components gracefully.
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")
	ctx := context.Background()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("session store close error", zap.Error(err))
		}
	}
	if s.otelProviders != nil {
		if err := s.otelProviders.Shutdown(ctx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("graceful shutdown completed")
}
