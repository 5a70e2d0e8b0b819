// Package gateway exposes the publication engine over HTTP: SSE streams for
// named publications, document CRUD feeding the store, and a metrics
// endpoint.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/panjf2000/ants/v2"

	"github.com/kartikbazzad/bunpub/internal/config"
	"github.com/kartikbazzad/bunpub/internal/logger"
	"github.com/kartikbazzad/bunpub/internal/metrics"
	"github.com/kartikbazzad/bunpub/internal/session"
	"github.com/kartikbazzad/bunpub/internal/store"
)

type Server struct {
	cfg      *config.Config
	log      *logger.Logger
	store    *store.Store
	registry *session.Registry
	metrics  *metrics.Collector
	sessions *ants.Pool
	router   *gin.Engine
	http     *http.Server
}

func NewServer(cfg *config.Config, st *store.Store, reg *session.Registry, m *metrics.Collector, log *logger.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		log:      log,
		store:    st,
		registry: reg,
		metrics:  m,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(cfg.HTTP.CORSOrigin))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", func(c *gin.Context) {
		c.String(http.StatusOK, s.metrics.Export())
	})

	router.GET("/publications", s.handlePublications)
	router.GET("/subscribe/:name", s.handleSubscribe)

	router.GET("/collections", s.handleCollections)
	docs := router.Group("/collections/:collection/documents")
	{
		docs.GET("", s.handleList)
		docs.GET("/:id", s.handleGet)

		writes := docs.Group("", writeRateLimit(cfg.HTTP.WriteRPM, cfg.HTTP.WriteBurst))
		writes.POST("", s.handleInsert)
		writes.PUT("/:id", s.handleUpdate)
		writes.PATCH("/:id", s.handlePatch)
		writes.DELETE("/:id", s.handleDelete)
	}

	s.router = router
	s.http = &http.Server{Addr: cfg.HTTP.Addr, Handler: router}
	return s
}

// initSessionPool sizes the session pool from config. Nonblocking so a
// saturated pool rejects the submit instead of parking the request
// goroutine, which the subscribe handler turns into a 503.
func (s *Server) initSessionPool() error {
	if s.cfg.Session.MaxSessions <= 0 {
		return nil
	}
	pool, err := ants.NewPool(s.cfg.Session.MaxSessions,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(v any) {
			s.log.Error("session loop panic: %v", v)
		}))
	if err != nil {
		return err
	}
	s.sessions = pool
	return nil
}

// Start begins serving. It does not block.
func (s *Server) Start() error {
	if err := s.initSessionPool(); err != nil {
		return err
	}

	s.log.Info("gateway listening on %s", s.cfg.HTTP.Addr)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("http server: %v", err)
		}
	}()
	return nil
}

// Stop shuts the HTTP server down, which ends every SSE request and thereby
// every session, then releases the session pool.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	err := s.http.Shutdown(ctx)

	if s.sessions != nil {
		_ = s.sessions.ReleaseTimeout(3 * time.Second)
		s.sessions = nil
	}
	s.log.Info("gateway stopped")
	return err
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func corsMiddleware(origin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
