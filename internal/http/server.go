package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/specd/internal/docstore"
	"github.com/fyrsmithlabs/specd/internal/logging"
	"github.com/fyrsmithlabs/specd/internal/telemetry"
)

// Config holds HTTP server configuration.
type Config struct {
	Addr    string
	Version string
}

// Server provides the operator HTTP API.
type Server struct {
	echo      *echo.Echo
	api       API
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	config    Config
}

// Option configures a Server.
type Option func(*Server)

// WithTelemetry reports tel's health on /health.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(s *Server) { s.telemetry = tel }
}

// NewServer creates a server over api.
func NewServer(api API, logger *logging.Logger, cfg Config, opts ...Option) (*Server, error) {
	if api == nil {
		return nil, errors.New("api is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required for request tracking and debugging")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:7420"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		api:    api,
		logger: logger.Named("http"),
		config: cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	e.HTTPErrorHandler = s.errorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger)
	e.Use(NewMetrics().Middleware())

	s.registerRoutes()
	return s, nil
}

// requestLogger puts request and spec ids on the request context and logs
// each request once it completes.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		ctx := logging.WithRequestID(c.Request().Context(), c.Response().Header().Get(echo.HeaderXRequestID))
		if id := c.Param("id"); id != "" {
			ctx = logging.WithSpecID(ctx, id)
		}
		c.SetRequest(c.Request().WithContext(ctx))

		err := next(c)

		status := c.Response().Status
		if err != nil {
			status, _ = toResponse(err)
		}
		s.logger.Info(ctx, "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
		)
		return err
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/specs", s.handleList)
	v1.POST("/specs", s.handleCreate)
	v1.GET("/specs/:id", s.handleGet)
	v1.GET("/specs/:id/status", s.handleStatus)
	v1.POST("/specs/:id/advance", s.handleAdvance)
	v1.POST("/specs/:id/approve", s.handleApprove)
	v1.POST("/specs/:id/abort", s.handleAbort)
	v1.POST("/specs/:id/tasks", s.handleAddTask)
	v1.POST("/specs/:id/artifacts/:kind", s.handleAttach)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string                  `json:"status"`
	Version   string                  `json:"version,omitempty"`
	Telemetry *telemetry.HealthStatus `json:"telemetry,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Version: s.config.Version}
	if s.telemetry != nil {
		h := s.telemetry.Health()
		resp.Telemetry = &h
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleList(c echo.Context) error {
	specs, err := s.api.List(c.Request().Context())
	if err != nil {
		return err
	}
	if specs == nil {
		specs = []*docstore.Specification{}
	}
	return c.JSON(http.StatusOK, ListResponse{Specs: specs})
}

func (s *Server) handleCreate(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	spec, err := s.api.Create(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, spec)
}

func (s *Server) handleGet(c echo.Context) error {
	spec, err := s.api.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, spec)
}

func (s *Server) handleStatus(c echo.Context) error {
	info, err := s.api.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) handleAdvance(c echo.Context) error {
	action, err := s.api.Advance(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, action)
}

func (s *Server) handleApprove(c echo.Context) error {
	spec, err := s.api.Approve(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, spec)
}

func (s *Server) handleAbort(c echo.Context) error {
	aborted, err := s.api.Abort(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, AbortResponse{Aborted: aborted})
}

func (s *Server) handleAddTask(c echo.Context) error {
	var req TaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	task, err := s.api.AddTask(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, task)
}

func (s *Server) handleAttach(c echo.Context) error {
	var req ArtifactRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	kind := docstore.ArtifactKind(c.Param("kind"))
	if err := s.api.Attach(c.Request().Context(), c.Param("id"), kind, req); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", s.config.Addr))
	if err := s.echo.Start(s.config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
