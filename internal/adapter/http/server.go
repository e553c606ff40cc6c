// Package http serves the map query API, the geocode report and the
// health, readiness and metrics endpoints.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	"github.com/couchcryptid/ham-neighbors/internal/domain"
	"github.com/couchcryptid/ham-neighbors/internal/report"
	"github.com/couchcryptid/ham-neighbors/internal/search"
)

// Searcher answers map queries.
type Searcher interface {
	Query(ctx context.Context, queryType, value string) (*search.Result, error)
}

// Reporter returns the geocode status report.
type Reporter interface {
	Get(ctx context.Context) (*report.Report, error)
}

// Server exposes the API and operational endpoints over HTTP.
type Server struct {
	httpServer *http.Server
	searcher   Searcher
	reports    Reporter
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /api/map-query, /api/geocode-report,
// /healthz, /readyz and /metrics routes.
func NewServer(addr string, searcher Searcher, reports Reporter, ready sharedobs.ReadinessChecker, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		searcher: searcher,
		reports:  reports,
		logger:   logger,
	}

	api := router.Group("/api")
	api.GET("/map-query", s.handleMapQuery)
	api.POST("/map-query", s.handleMapQuery)
	api.GET("/geocode-report", s.handleReport)

	router.GET("/healthz", gin.WrapF(sharedobs.LivenessHandler()))
	router.GET("/readyz", gin.WrapF(sharedobs.ReadinessHandler(ready)))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type mapQueryRequest struct {
	QueryType string `form:"queryType" json:"queryType"`
	Value     string `form:"value" json:"value"`
}

// handleMapQuery handles GET and POST /api/map-query. Lookups that find
// nothing answer 200 with {"error": message} for the map UI to show inline.
func (s *Server) handleMapQuery(c *gin.Context) {
	var req mapQueryRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request"})
		return
	}

	res, err := s.searcher.Query(c.Request.Context(), req.QueryType, req.Value)
	if err != nil {
		var se *domain.SearchError
		switch {
		case errors.As(err, &se) && (se.Kind == domain.UnknownQueryType || se.Kind == domain.InvalidCoordinates):
			c.JSON(http.StatusBadRequest, gin.H{"error": se.Error()})
		case se != nil:
			c.JSON(http.StatusOK, gin.H{"error": se.Error()})
		default:
			s.logger.Error("map query failed", "query_type", req.QueryType, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		}
		return
	}

	c.JSON(http.StatusOK, res)
}

func (s *Server) handleReport(c *gin.Context) {
	r, err := s.reports.Get(c.Request.Context())
	if err != nil {
		s.logger.Error("geocode report failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, r)
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
