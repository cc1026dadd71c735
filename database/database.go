package database

import (
	"time"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	StatusQueued      JobStatus = "queued"      // Job accepted, waiting for a worker
	StatusRunning     JobStatus = "running"     // Job is being processed
	StatusPublished   JobStatus = "published"   // Every artifact was uploaded
	StatusPartial     JobStatus = "partial"     // Some uploads failed
	StatusFailed      JobStatus = "failed"      // Job aborted with an error
	StatusInterrupted JobStatus = "interrupted" // Job stopped by operator shutdown
	StatusSkipped     JobStatus = "skipped"     // Redelivered job that was already published
)

// Terminal reports whether no further processing is expected for status.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusPublished, StatusPartial, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// JobRecord represents one processing order and its latest run
type JobRecord struct {
	ID           string     `json:"id"`
	RunID        string     `json:"runId"`     // Identifier of the latest execution attempt
	OrderPK      int        `json:"orderPk"`   // Primary key of the order in the intake system
	Bucket       string     `json:"bucket"`    // Remote bucket derived from the order identity
	OrderName    string     `json:"orderName"` // Deterministic order name
	Source       string     `json:"source"`    // "stored" or "live"
	Status       JobStatus  `json:"status"`
	Attempts     int        `json:"attempts"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt"`
	FinishedAt   *time.Time `json:"finishedAt"`
	ErrorMessage string     `json:"errorMessage"`
	RawJSON      string     `json:"rawJson"`
}

// Publication maps one published artifact to its public URL
type Publication struct {
	ID            int64     `json:"id"`
	JobID         string    `json:"jobId"`
	OrderPK       int       `json:"orderPk"`
	VideoID       string    `json:"videoId"` // File stem of the artifact
	VideoURL      string    `json:"videoUrl"`
	VideoFileName string    `json:"videoFileName"`
	Position      int       `json:"position"` // Order of the artifact within its job
	CreatedAt     time.Time `json:"createdAt"`
}

// Database defines the interface for database operations
type Database interface {
	// Job operations
	CreateJob(job JobRecord) error
	GetJob(id string) (*JobRecord, error)
	ListJobs(limit, offset int) ([]JobRecord, error)
	GetJobsByStatus(status JobStatus, limit, offset int) ([]JobRecord, error)
	StartJobRun(id, runID string) error
	UpdateJobStatus(id string, status JobStatus, errorMsg string) error

	// Publication operations
	RecordPublications(jobID string, pubs []Publication) error
	GetPublications(jobID string) ([]Publication, error)
	HasPublications(jobID string) (bool, error)

	Close() error
}
