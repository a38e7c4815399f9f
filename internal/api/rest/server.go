package rest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/caresentry/caregiver-safeguard-backend/internal/api/websocket"
	"github.com/caresentry/caregiver-safeguard-backend/internal/infrastructure/config"
)

// Server is the HTTP front of the safeguard engine.
type Server struct {
	cfg        *config.Config
	httpServer *http.Server
	handler    *Handler
	wsHandler  *websocket.Handler
	logger     *slog.Logger
}

// NewServer builds the server with its full middleware chain. wsHandler may
// be nil when websocket streaming is disabled.
func NewServer(cfg *config.Config, handler *Handler, wsHandler *websocket.Handler, logger *slog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		handler:   handler,
		wsHandler: wsHandler,
		logger:    logger,
	}

	mux := s.setupRoutes()

	var root http.Handler = mux
	root = corsMiddleware(root)
	if cfg.Server.RateLimit.RequestsPerSecond > 0 {
		root = rateLimitMiddleware(cfg.Server.RateLimit.RequestsPerSecond, cfg.Server.RateLimit.BurstSize)(root)
	}
	root = loggingMiddleware(logger)(root)
	root = recoveryMiddleware(logger)(root)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      root,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() *http.ServeMux {
	v1 := http.NewServeMux()

	// Evaluation and assessments
	v1.HandleFunc("POST /caregivers/{caregiverID}/users/{userID}/evaluations", s.handler.handleEvaluateCaregiver)
	v1.HandleFunc("GET /caregivers/{caregiverID}/users/{userID}/assessments", s.handler.handleListAssessments)
	v1.HandleFunc("GET /assessments/{id}", s.handler.handleGetAssessment)
	v1.HandleFunc("GET /caregivers/{caregiverID}/users/{userID}/risk", s.handler.handleGetCurrentRisk)

	// Detection rules
	v1.HandleFunc("POST /rules", s.handler.handleCreateRule)
	v1.HandleFunc("GET /rules", s.handler.handleListRules)
	v1.HandleFunc("PATCH /rules/{id}/config", s.handler.handleUpdateRuleConfig)
	v1.HandleFunc("POST /rules/{id}/enable", s.handler.handleEnableRule)
	v1.HandleFunc("POST /rules/{id}/disable", s.handler.handleDisableRule)

	// Alerts
	v1.HandleFunc("GET /alerts/{id}", s.handler.handleGetAlert)
	v1.HandleFunc("POST /alerts/{id}/resolve", s.handler.handleResolveAlert)
	v1.HandleFunc("POST /alerts/{id}/dismiss", s.handler.handleDismissAlert)
	v1.HandleFunc("GET /users/{userID}/alerts", s.handler.handleListActiveAlerts)
	v1.HandleFunc("GET /users/{userID}/alerts/immediate", s.handler.handleListImmediateAlerts)
	v1.HandleFunc("GET /caregivers/{caregiverID}/users/{userID}/escalation", s.handler.handleDetectEscalation)

	// Analytics
	v1.HandleFunc("GET /users/{userID}/statistics", s.handler.handleGetStatistics)
	v1.HandleFunc("GET /caregivers/{caregiverID}/users/{userID}/trend", s.handler.handleGetRiskTrend)
	v1.HandleFunc("GET /caregivers/{caregiverID}/users/{userID}/factors", s.handler.handleGetFrequentFactors)

	// Administration
	v1.HandleFunc("POST /admin/retention/cleanup", s.handler.handleRetentionCleanup)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/", http.StripPrefix("/api/v1", v1))
	mux.HandleFunc("GET /health", s.handler.handleHealth)
	mux.HandleFunc("GET /ready", s.handler.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	if s.wsHandler != nil {
		mux.HandleFunc("GET /ws/alerts", s.wsHandler.HandleAlertEvents)
	}
	return mux
}

// Start runs the listener until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown() error {
	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}
