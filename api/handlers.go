package api

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"vpe/database"
	"vpe/queue"
)

// POST /api/jobs
func (s *Server) submitJob(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request: %v", err)})
		return
	}

	spec, err := s.submitter.Submit(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payload, err := spec.Payload()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	info, err := s.queue.Enqueue(c.Request.Context(), spec.JobID, payload)
	if errors.Is(err, queue.ErrDuplicateJob) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "jobId": spec.JobID})
		return
	}
	if err != nil {
		log.Printf("[api] enqueue of job %s failed: %v", spec.JobID, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": fmt.Sprintf("Failed to queue job: %v", err), "jobId": spec.JobID})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"jobId":  spec.JobID,
		"bucket": spec.BucketName(),
		"queue":  info.Queue,
		"status": database.StatusQueued,
	})
}

// GET /api/jobs?status=&limit=&offset=
func (s *Server) listJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var (
		jobs []database.JobRecord
		err  error
	)
	if status := c.Query("status"); status != "" {
		jobs, err = s.db.GetJobsByStatus(database.JobStatus(status), limit, offset)
	} else {
		jobs, err = s.db.ListJobs(limit, offset)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to list jobs: %v", err)})
		return
	}
	if jobs == nil {
		jobs = []database.JobRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// GET /api/jobs/:id
func (s *Server) getJob(c *gin.Context) {
	job, err := s.db.GetJob(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to get job: %v", err)})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// GET /api/jobs/:id/publications
func (s *Server) getPublications(c *gin.Context) {
	pubs, err := s.db.GetPublications(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to get publications: %v", err)})
		return
	}
	if pubs == nil {
		pubs = []database.Publication{}
	}
	c.JSON(http.StatusOK, gin.H{"publications": pubs})
}

// GET /api/system_health
func (s *Server) getSystemHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "resource monitor unavailable"})
		return
	}
	usage, err := s.health.Snapshot()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"cpu":            usage.CPUPercent,
		"memory_used":    usage.MemoryUsedMB,
		"memory_total":   usage.MemoryTotalMB,
		"memory_percent": usage.MemoryPercent,
		"goroutines":     usage.NumGoroutines,
		"disk_free_gb":   usage.DiskFreeGB,
		"disk_used_pct":  usage.DiskUsedPct,
		"uptime":         time.Since(s.started).Round(time.Second).String(),
	})
}
