// Package server exposes the recognizer over HTTP for the web frontend.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	emotion "github.com/ieee0824/emotion-go"
	"github.com/ieee0824/emotion-go/internal/metrics"
	"github.com/ieee0824/emotion-go/internal/store"
)

// Predictor classifies an audio file.
type Predictor interface {
	PredictFile(ctx context.Context, path string) (*emotion.Prediction, error)
	Labels() []string
}

// PredictionStore keeps the history of served predictions.
type PredictionStore interface {
	RecordPrediction(ctx context.Context, p *store.Prediction) error
	RecentPredictions(ctx context.Context, limit int) ([]store.Prediction, error)
}

type Server struct {
	predictor Predictor
	store     PredictionStore
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
	maxUpload int64
	tempDir   string
	debug     bool
	router    *gin.Engine
}

type Option func(*Server)

// WithStore records every prediction in s.
func WithStore(s PredictionStore) Option {
	return func(srv *Server) { srv.store = s }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(srv *Server) { srv.metrics = m }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(srv *Server) { srv.log = l }
}

// WithMaxUpload limits the request body to n bytes.
func WithMaxUpload(n int64) Option {
	return func(srv *Server) { srv.maxUpload = n }
}

// WithTempDir sets where uploads are staged.
func WithTempDir(dir string) Option {
	return func(srv *Server) { srv.tempDir = dir }
}

// WithDebug enables gin's debug mode.
func WithDebug(debug bool) Option {
	return func(srv *Server) { srv.debug = debug }
}

func New(p Predictor, opts ...Option) *Server {
	s := &Server{
		predictor: p,
		log:       logrus.StandardLogger(),
		maxUpload: 32 << 20,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery(), s.requestLogger())
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type"}
	s.router.Use(cors.New(corsConfig))
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.health)
	s.router.POST("/predict", s.predict)
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/labels", s.labels)
		v1.GET("/predictions", s.recentPredictions)
	}
}

// requestLogger logs one line per request through logrus.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"latency": time.Since(start),
			"client":  c.ClientIP(),
		}).Debug("request")
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("prediction server listening")
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
