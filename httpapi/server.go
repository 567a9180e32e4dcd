// Package httpapi serves the analysis service: an upload endpoint
// returning the preflight report, report retrieval by id, health and
// Prometheus metrics.
package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	ginprometheus "github.com/zsais/go-gin-prometheus"

	"github.com/prepress/preflight/analysis"
	"github.com/prepress/preflight/rules"
	"github.com/prepress/preflight/store"
)

// DefaultMaxUploadBytes caps uploads at 64 MB.
const DefaultMaxUploadBytes = 64 << 20

// Config wires the server's collaborators. Rules and Store are
// optional; without a store every upload is analyzed fresh and
// /reports/:id always misses.
type Config struct {
	Analyzer       *analysis.Analyzer
	Rules          *rules.Engine
	Store          *store.Store
	Logger         *logrus.Logger
	MaxUploadBytes int64

	// EnableMetrics attaches the gin Prometheus middleware and the
	// /metrics endpoint, registering on the default registry.
	EnableMetrics bool
	// Registry overrides where the service metrics register. Leave nil
	// outside of tests.
	Registry prometheus.Registerer
}

type Server struct {
	cfg     Config
	router  *gin.Engine
	metrics *metrics
}

func NewServer(cfg Config) *Server {
	if cfg.Analyzer == nil {
		cfg.Analyzer = analysis.New(analysis.Config{})
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	reg := cfg.Registry
	if reg == nil {
		if cfg.EnableMetrics {
			reg = prometheus.DefaultRegisterer
		} else {
			reg = prometheus.NewRegistry()
		}
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{cfg: cfg, router: router, metrics: newMetrics(reg)}
	router.Use(s.requestLogger())

	if cfg.EnableMetrics {
		p := ginprometheus.NewPrometheus("gin")
		p.Use(router)
	}

	router.POST("/analyze", s.handleAnalyze)
	router.GET("/reports/:id", s.handleGetReport)
	router.GET("/healthz", s.handleHealthz)
	return s
}

// Router exposes the gin engine for http.Server wiring and tests.
func (s *Server) Router() *gin.Engine { return s.router }

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.cfg.Logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
			"client":  c.ClientIP(),
		}).Info("request")
	}
}
