package daemon

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"go.uber.org/zap"

	"github.com/nimbus-chat/nimbus/internal/config"
	"github.com/nimbus-chat/nimbus/internal/engine"
	"github.com/nimbus-chat/nimbus/internal/llm/configbuilder"
	"github.com/nimbus-chat/nimbus/internal/observability"
	"github.com/nimbus-chat/nimbus/internal/rpc/chat"
	"github.com/nimbus-chat/nimbus/internal/session"
	"github.com/nimbus-chat/nimbus/internal/store"
	"github.com/nimbus-chat/nimbus/internal/tools"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server hosts the conversation daemon: the ask stream, the conversation
// surface, and health/metrics endpoints.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   *store.Store
	emitter *session.Emitter
	metrics *observability.Metrics
}

// NewServer constructs a daemon instance.
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	registry, err := configbuilder.BuildRegistryFromConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}

	metrics := observability.NewMetrics()
	weather := tools.NewWeather(cfg.Tools.WeatherUnits, cfg.Tools.EnableForecast, cfg.Tools.ForecastDays)
	toolRegistry := tools.NewRegistry(weather)

	eng := engine.New(registry, toolRegistry, engine.Config{
		MaxSteps:     cfg.Agent.MaxSteps,
		MaxTokens:    cfg.Agent.MaxTokens,
		Temperature:  cfg.Agent.Temperature,
		SystemPrompt: cfg.Agent.SystemPrompt,
	}, logger, metrics)

	st := store.New()
	emitter := session.NewEmitter(st, eng, logger, metrics)

	return &Server{cfg: cfg, logger: logger, store: st, emitter: emitter, metrics: metrics}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/metrics", s.metricsHandler)
	mux.Handle("/ask", chat.NewAskHandler(s.emitter, s.metrics, s.logger))
	chat.NewConversationsHandler(s.store).Mount(mux)

	handler := http.Handler(mux)
	if strings.ToLower(strings.TrimSpace(s.cfg.Server.Transport)) == "connect" {
		path, connectHandler := chat.NewConnectHandler(s.emitter, s.metrics)
		mux.Handle(path, connectHandler)
		handler = h2c.NewHandler(handler, &http2.Server{})
	}

	server := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting nimbus daemon", zap.String("addr", s.cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down nimbus daemon")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Server.MetricsEnabled {
		http.NotFound(w, r)
		return
	}

	promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP(w, r)
}
