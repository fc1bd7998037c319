// Package httpapi exposes the session command surface, its read side and
// exports over HTTP.
package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"varianthunter/internal/core"
	"varianthunter/internal/export"
	"varianthunter/internal/lineage"
	"varianthunter/internal/rowsort"
	"varianthunter/pkg/domain"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// CommandResponse is returned by the command endpoint.
type CommandResponse struct {
	Result     any                `json:"result"`
	Violations []domain.Violation `json:"violations,omitempty"`
}

// Options configures the router.
type Options struct {
	// Metrics mounts the Prometheus handler at /metrics.
	Metrics bool
}

// Server wires HTTP handlers to the session service.
type Server struct {
	svc      *core.Service
	exporter *export.Exporter
	worker   *export.Worker
	logger   core.Logger
	validate *validator.Validate
}

// NewServer builds a server. worker may be nil, which disables queued exports.
func NewServer(svc *core.Service, exporter *export.Exporter, worker *export.Worker, logger core.Logger) *Server {
	if logger == nil {
		logger = core.NewNoopLogger()
	}
	return &Server{
		svc:      svc,
		exporter: exporter,
		worker:   worker,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Router returns the gin engine serving every route.
func (s *Server) Router(opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.GET("/healthz", s.handleHealth)
	if opts.Metrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	s.RegisterRoutes(r.Group("/v1"))
	return r
}

// RegisterRoutes mounts the API under rg.
//
//	GET  /operations
//	POST /commands/:op
//	GET  /analyses
//	GET  /analyses/current
//	GET  /analyses/:id
//	GET  /analyses/:id/opt
//	GET  /analyses/:id/rows?view=filtered|sorted|selected
//	GET  /analyses/:id/plot
//	GET  /analyses/:id/export?format=csv|json|yaml&selection=sorted|selected
//	GET  /tags
//	GET  /panel
//	POST /lineages/compact
//	POST /exports
//	GET  /exports/:id
//	DELETE /exports/:id
//	GET  /exports/:id/artifacts/:name
func (s *Server) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/operations", s.handleOperations)
	rg.POST("/commands/:op", s.handleCommand)

	analyses := rg.Group("/analyses")
	analyses.GET("", s.handleListAnalyses)
	analyses.GET("/current", s.handleCurrentAnalysis)
	analyses.GET("/:id", s.handleAnalysis)
	analyses.GET("/:id/opt", s.handleEffectiveOpt)
	analyses.GET("/:id/rows", s.handleRows)
	analyses.GET("/:id/plot", s.handlePlot)
	analyses.GET("/:id/export", s.handleDownload)

	rg.GET("/tags", s.handleTags)
	rg.GET("/panel", s.handlePanel)
	rg.POST("/lineages/compact", s.handleCompactLineages)
	rg.POST("/exports", s.handleExportCreate)
	rg.GET("/exports/:id", s.handleExportGet)
	rg.DELETE("/exports/:id", s.handleExportDelete)
	rg.GET("/exports/:id/artifacts/:name", s.handleArtifactStat)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func classify(err error) (int, string) {
	var violation domain.RuleViolationError
	switch {
	case errors.As(err, &violation):
		return http.StatusUnprocessableEntity, "RULE_VIOLATION"
	case errors.Is(err, core.ErrUnknownOperation):
		return http.StatusNotFound, "UNKNOWN_OPERATION"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, core.ErrInvalidPayload),
		errors.Is(err, core.ErrInvalidOpt),
		errors.Is(err, rowsort.ErrUnsupportedField),
		errors.Is(err, lineage.ErrInvalidLevel),
		errors.Is(err, export.ErrInvalidArtifactName):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, core.ErrNoCurrentAnalysis),
		errors.Is(err, core.ErrNoTag),
		errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, export.ErrExportBusy):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, export.ErrQueueFull):
		return http.StatusServiceUnavailable, "QUEUE_FULL"
	}
	return http.StatusInternalServerError, "INTERNAL"
}
