// Package server exposes the job queue and retrieval engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/code-sleuth/ike-rag/internal/manager/generators"
	"github.com/code-sleuth/ike-rag/internal/manager/interfaces"
	"github.com/code-sleuth/ike-rag/internal/manager/repository"
	"github.com/code-sleuth/ike-rag/internal/manager/services"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

// Server is the HTTP API.
type Server struct {
	echo      *echo.Echo
	queue     *services.JobQueue
	retrieval *services.RetrievalEngine
	docs      *repository.DocumentRepository
	chats     *repository.ChatRepository
	metrics   *services.Metrics
	logger    zerolog.Logger
}

// New builds the API and registers its routes. metrics may be nil, in which
// case /metrics is not served.
func New(
	queue *services.JobQueue,
	retrieval *services.RetrievalEngine,
	docs *repository.DocumentRepository,
	chats *repository.ChatRepository,
	metrics *services.Metrics,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		echo:      echo.New(),
		queue:     queue,
		retrieval: retrieval,
		docs:      docs,
		chats:     chats,
		metrics:   metrics,
		logger:    logger,
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("Request")
			return nil
		},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	}

	e.POST("/ingest", s.ingest)
	e.GET("/jobs", s.listJobs)
	e.GET("/jobs/:id", s.getJob)
	e.POST("/jobs/:id/cancel", s.cancelJob)
	e.POST("/ask", s.ask)
	e.GET("/chats", s.listChats)
	e.GET("/documents", s.listDocuments)
	e.GET("/documents/:id/chunks", s.listChunks)

	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("HTTP server listening")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// handleError renders every error as {"error": message} with a status
// derived from the error kind.
func (s *Server) handleError(err error, c echo.Context) {
	code := statusFor(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) && he.Message != nil {
		msg = fmt.Sprint(he.Message)
	}

	req := c.Request()
	event := s.logger.Warn()
	if code >= http.StatusInternalServerError {
		event = s.logger.Error()
	}
	event.Err(err).Int("status", code).Str("method", req.Method).Str("path", req.URL.Path).Msg("Request failed")

	if code == http.StatusServiceUnavailable {
		c.Response().Header().Set("Retry-After", retryAfter)
	}
	if !c.Response().Committed {
		_ = c.JSON(code, errorResponse{Error: msg})
	}
}

// retryAfter is sent with 503s, in seconds.
const retryAfter = "5"

func statusFor(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, interfaces.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrJobNotFound), errors.Is(err, repository.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrJobFinished):
		return http.StatusConflict
	case errors.Is(err, interfaces.ErrNoContent):
		return http.StatusUnprocessableEntity
	case errors.Is(err, interfaces.ErrBusy), errors.Is(err, interfaces.ErrQueueClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, interfaces.ErrEmbedding), errors.Is(err, generators.ErrGenerationFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
