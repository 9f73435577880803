// Package api exposes the gating pipeline over HTTP: request handling,
// stats, status, audit queries, and the privileged reset.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gateline/gateline/internal/logger"
	"github.com/gateline/gateline/internal/pipeline"
	"github.com/gateline/gateline/internal/telemetry"
)

var log = logger.New("api")

// Server wires the pipeline coordinator and optional audit storage to HTTP.
type Server struct {
	coordinator *pipeline.Coordinator
	storage     *telemetry.Storage // may be nil
	adminToken  string
	httpServer  *http.Server
}

// New creates a Server. storage may be nil when auditing is disabled.
func New(coordinator *pipeline.Coordinator, storage *telemetry.Storage, adminToken string) *Server {
	return &Server{
		coordinator: coordinator,
		storage:     storage,
		adminToken:  adminToken,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(SecurityHeadersMiddleware())
	router.Use(BodySizeLimitMiddleware(MaxBodySize))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/handle", s.handleRequest)
		v1.GET("/stats", s.handleStats)
		v1.GET("/status", s.handleStatus)
		v1.GET("/rules", s.handleRules)
		v1.GET("/audit", s.handleAudit)
		v1.GET("/export", s.handleExport)
		v1.POST("/reset", AdminAuthMiddleware(s.adminToken), s.handleReset)
	}
	return router
}

// ListenAndServe starts the HTTP server and blocks until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("API listening on %s", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

type handleRequestBody struct {
	Input string `json:"input" binding:"required"`
}

func (s *Server) handleRequest(c *gin.Context) {
	var body handleRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		Error(c, http.StatusBadRequest, err.Error())
		return
	}
	Success(c, s.coordinator.Handle(body.Input))
}

func (s *Server) handleStats(c *gin.Context) {
	resp := gin.H{"components": s.coordinator.Stats()}
	if s.storage != nil {
		auditStats, err := s.storage.Stats()
		if err != nil {
			Error(c, http.StatusInternalServerError, "failed to aggregate audit records")
			return
		}
		resp["audit"] = auditStats
	}
	Success(c, resp)
}

func (s *Server) handleStatus(c *gin.Context) {
	Success(c, s.coordinator.Engine().Status())
}

func (s *Server) handleRules(c *gin.Context) {
	Success(c, gin.H{"rules": s.coordinator.Engine().Rules()})
}

type auditQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=1000"`
}

func (s *Server) handleAudit(c *gin.Context) {
	if s.storage == nil {
		Error(c, http.StatusNotFound, "audit storage disabled")
		return
	}
	var query auditQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		Error(c, http.StatusBadRequest, err.Error())
		return
	}
	if query.Limit == 0 {
		query.Limit = 100
	}
	records, err := s.storage.Recent(query.Limit)
	if err != nil {
		Error(c, http.StatusInternalServerError, "failed to list audit records")
		return
	}
	if records == nil {
		records = []pipeline.Record{}
	}
	Success(c, gin.H{"records": records})
}

func (s *Server) handleExport(c *gin.Context) {
	c.Header("Content-Type", "application/json")
	if err := s.coordinator.Engine().ExportLog(c.Writer); err != nil {
		log.Error("Export failed: %v", err)
	}
}

func (s *Server) handleReset(c *gin.Context) {
	receipt := s.coordinator.Engine().Reset()
	log.Warn("Safety state reset via API")
	Success(c, receipt)
}
