package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"vpe/config"
	"vpe/database"
	"vpe/monitoring"
	"vpe/order"
)

// Submitter validates a job description and records it as queued
type Submitter interface {
	Submit(payload []byte) (order.Spec, error)
}

// Enqueuer hands a job description to the queue
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string, payload []byte) (*asynq.TaskInfo, error)
}

// HealthSource reports resource usage of the worker host
type HealthSource interface {
	Snapshot() (monitoring.ResourceUsage, error)
}

type Server struct {
	config    config.Config
	db        database.Database
	submitter Submitter
	queue     Enqueuer
	health    HealthSource
	started   time.Time
	http      *http.Server
}

func NewServer(cfg config.Config, db database.Database, submitter Submitter, queue Enqueuer, health HealthSource) *Server {
	return &Server{
		config:    cfg,
		db:        db,
		submitter: submitter,
		queue:     queue,
		health:    health,
		started:   time.Now(),
	}
}

// Start serves the API until ctx is done
func (s *Server) Start(ctx context.Context) error {
	r := gin.Default()
	s.setupCORS(r)
	s.setupRoutes(r)

	portAddr := ":" + s.config.ServerPort
	s.http = &http.Server{Addr: portAddr, Handler: r}
	log.Printf("[api] Starting API server on %s", portAddr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Println("[api] Shutting down API server")
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) setupCORS(r *gin.Engine) {
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})
}

func (s *Server) setupRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.POST("/jobs", s.submitJob)
		api.GET("/jobs", s.listJobs)
		api.GET("/jobs/:id", s.getJob)
		api.GET("/jobs/:id/publications", s.getPublications)
		api.GET("/system_health", s.getSystemHealth)
	}
}
