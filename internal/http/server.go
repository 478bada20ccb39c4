// Package http serves the reqgate gate and session lifecycle over a local
// HTTP API, for agent runtimes that prefer a long-lived daemon to spawning
// the CLI on every hook.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reqgate/internal/config"
	"github.com/fyrsmithlabs/reqgate/internal/engine"
	"github.com/fyrsmithlabs/reqgate/internal/gate"
	"github.com/fyrsmithlabs/reqgate/internal/hooks"
	"github.com/fyrsmithlabs/reqgate/internal/learning"
	"github.com/fyrsmithlabs/reqgate/internal/logging"
	"github.com/fyrsmithlabs/reqgate/internal/requirements"
	"github.com/fyrsmithlabs/reqgate/internal/sessions"
	"github.com/fyrsmithlabs/reqgate/internal/storage"
	"github.com/fyrsmithlabs/reqgate/internal/telemetry"
)

// Engine is the subset of the reqgate engine the server needs.
type Engine interface {
	HandleEvent(ctx context.Context, ev gate.Event) (*gate.Decision, error)
	HandlePayload(ctx context.Context, p *hooks.Payload) (*engine.HookResult, error)
	Status(ctx context.Context, branch, sessionID string) ([]engine.RequirementStatus, error)
	EndSession(ctx context.Context, sessionID string) (*learning.Report, error)
	Reload(ctx context.Context) (*config.Policy, error)
}

// Server provides HTTP endpoints for reqgate.
type Server struct {
	echo    *echo.Echo
	engine  Engine
	logger  *logging.Logger
	config  *Config
	metrics *HTTPMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration

	// Telemetry, when set, is reported under /health.
	Telemetry *telemetry.Telemetry
}

// NewServer creates a new HTTP server.
func NewServer(eng Engine, logger *logging.Logger, cfg *Config, metrics *HTTPMetrics) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 9191
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if metrics == nil {
		metrics = NewHTTPMetrics(nil, logger)
	}
	logger = logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(metrics.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Debug(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{echo: e, engine: eng, logger: logger, config: cfg, metrics: metrics}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/evaluate", s.handleEvaluate)
	v1.POST("/hook", s.handleHook)
	v1.GET("/status", s.handleStatus)
	v1.POST("/sessions/:id/end", s.handleEndSession)
	v1.POST("/reload", s.handleReload)
}

// handleHealth always answers 200 while the server runs. Failed telemetry
// export is reported as "degraded" since gating still works without it.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	if s.config.Telemetry != nil {
		h := s.config.Telemetry.Health()
		resp.Telemetry = &h
		if h.Degraded {
			resp.Status = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// handleEvaluate decides a gate event. A block is a successful response;
// the decision field carries it.
func (s *Server) handleEvaluate(c echo.Context) error {
	var ev gate.Event
	if err := c.Bind(&ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if ev.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id field is required")
	}
	if ev.Hook == "" {
		ev.Hook = hooks.HookPreToolUse
	}
	hook, err := hooks.ParseHookType(string(ev.Hook))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ev.Hook = hook

	d, err := s.engine.HandleEvent(c.Request().Context(), ev)
	if err != nil {
		return err
	}
	markDecision(c, d)
	return c.JSON(http.StatusOK, d)
}

// handleHook accepts a raw agent hook payload.
func (s *Server) handleHook(c echo.Context) error {
	p, err := hooks.ParsePayload(c.Request().Body)
	if err != nil {
		return err
	}
	res, err := s.engine.HandlePayload(c.Request().Context(), p)
	if err != nil {
		return err
	}
	markDecision(c, res.Decision)
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleStatus(c echo.Context) error {
	rows, err := s.engine.Status(c.Request().Context(), c.QueryParam("branch"), c.QueryParam("session_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, StatusResponse{Branch: c.QueryParam("branch"), Requirements: rows})
}

func (s *Server) handleEndSession(c echo.Context) error {
	report, err := s.engine.EndSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, EndSessionResponse{SessionID: c.Param("id"), Report: report})
}

func (s *Server) handleReload(c echo.Context) error {
	policy, err := s.engine.Reload(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ReloadResponse{Sources: policy.Sources, Requirements: len(policy.Requirements)})
}

// errorHandler maps domain errors onto status codes.
func errorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code, msg := statusFor(err)
		if code >= http.StatusInternalServerError {
			logger.Error(c.Request().Context(), "request failed", zap.String("path", c.Path()), zap.Error(err))
		}
		if err := c.JSON(code, ErrorResponse{Error: msg}); err != nil {
			logger.Warn(c.Request().Context(), "writing error response failed", zap.Error(err))
		}
	}
}

func statusFor(err error) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, fmt.Sprint(he.Message)
	}
	switch {
	case errors.Is(err, hooks.ErrInvalidPayload),
		errors.Is(err, sessions.ErrInvalidSessionID),
		errors.Is(err, requirements.ErrInvalidScope):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, sessions.ErrSessionNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, sessions.ErrSessionClosed):
		return http.StatusConflict, err.Error()
	case errors.Is(err, config.ErrConfig):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, storage.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, err.Error()
	}
	return http.StatusInternalServerError, "internal error"
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	return s.echo.Shutdown(ctx)
}
