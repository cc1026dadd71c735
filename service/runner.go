package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"vpe/database"
	"vpe/logging"
	"vpe/metrics"
	"vpe/order"
)

// Outcome is the result of one job execution
type Outcome struct {
	JobID   string             `json:"jobId"`
	RunID   string             `json:"runId,omitempty"`
	Bucket  string             `json:"bucket,omitempty"`
	Order   string             `json:"order,omitempty"`
	Status  database.JobStatus `json:"status"`
	URLs    []string           `json:"urls,omitempty"`
	Elapsed time.Duration      `json:"elapsed"`
}

// IsPermanent reports whether retrying the job cannot succeed
func IsPermanent(err error) bool {
	return errors.Is(err, ErrSourceNotFound) ||
		errors.Is(err, ErrAcquisitionFailed) ||
		errors.Is(err, order.ErrInvalidSpec)
}

// Runner executes jobs with bounded concurrency and records their status
type Runner struct {
	turntable *Turntable
	db        database.Database
	sem       *semaphore.Weighted
	logsDir   string
	collector *metrics.MetricsCollector
	now       func() time.Time
}

// NewRunner creates a runner allowing at most concurrency jobs at a time
func NewRunner(turntable *Turntable, db database.Database, concurrency int, logsDir string, collector *metrics.MetricsCollector) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	if collector == nil {
		collector = metrics.NewMetricsCollector()
	}
	return &Runner{
		turntable: turntable,
		db:        db,
		sem:       semaphore.NewWeighted(int64(concurrency)),
		logsDir:   logsDir,
		collector: collector,
		now:       time.Now,
	}
}

// Metrics returns the collector holding per-job stage timings
func (r *Runner) Metrics() *metrics.MetricsCollector {
	return r.collector
}

// Submit records a job description as queued and returns the parsed spec
func (r *Runner) Submit(payload []byte) (order.Spec, error) {
	spec, err := order.Parse(payload)
	if err != nil {
		return spec, err
	}
	if err := r.db.CreateJob(newJobRecord(spec, r.now())); err != nil {
		return spec, err
	}
	return spec, nil
}

// HandlePayload parses and runs one job description
func (r *Runner) HandlePayload(ctx context.Context, payload []byte) (Outcome, error) {
	spec, err := order.Parse(payload)
	if err != nil {
		log.Printf("[runner] rejected job description: %v", err)
		return Outcome{Status: database.StatusFailed}, err
	}
	return r.Run(ctx, spec)
}

// Run executes one job. A job id that already published is acknowledged without work.
func (r *Runner) Run(ctx context.Context, spec order.Spec) (outcome Outcome, err error) {
	outcome = Outcome{JobID: spec.JobID}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		outcome.Status = database.StatusInterrupted
		return outcome, err
	}
	defer r.sem.Release(1)

	start := r.now()
	if err := r.db.CreateJob(newJobRecord(spec, start)); err != nil {
		return outcome, err
	}
	if done, err := r.alreadyPublished(spec.JobID); err != nil {
		return outcome, err
	} else if done {
		log.Printf("[runner] job %s already published, skipping redelivery", spec.JobID)
		outcome.Status = database.StatusSkipped
		return outcome, nil
	}

	job := NewJob(spec, uuid.NewString(), start)
	outcome.RunID, outcome.Bucket, outcome.Order = job.RunID, job.Bucket, job.OrderName
	if err := r.db.StartJobRun(spec.JobID, job.RunID); err != nil {
		return outcome, err
	}

	job.Metrics = r.collector.StartJob(spec.JobID)
	if r.logsDir != "" {
		audit, err := logging.OpenAudit(r.logsDir, job.Bucket, job.OrderName, spec.JobID)
		if err != nil {
			log.Printf("[runner] audit log unavailable for %s: %v", spec.JobID, err)
		} else {
			job.Audit = audit
			defer audit.Close()
		}
	}

	var failures string
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[runner] job %s panic recovered: %v", spec.JobID, p)
			err = fmt.Errorf("panic while processing job %s: %v", spec.JobID, p)
			outcome.Status = database.StatusFailed
		}
		outcome.Elapsed = job.Metrics.Finalize()
		r.finish(job, &outcome, err, failures)
	}()

	result, err := r.turntable.Run(ctx, job)
	outcome.URLs = result.URLs
	failures = result.FailureSummary()
	switch {
	case err != nil && ctx.Err() != nil:
		outcome.Status = database.StatusInterrupted
	case err != nil:
		outcome.Status = database.StatusFailed
	default:
		outcome.Status = result.Status()
		if outcome.Status == database.StatusFailed {
			err = fmt.Errorf("no artifact of job %s could be uploaded", spec.JobID)
		}
	}
	return outcome, err
}

func (r *Runner) alreadyPublished(jobID string) (bool, error) {
	has, err := r.db.HasPublications(jobID)
	if err != nil || has {
		return has, err
	}
	rec, err := r.db.GetJob(jobID)
	if err != nil {
		return false, err
	}
	return rec != nil && rec.Status == database.StatusPublished, nil
}

// finish stores the final status. The error message carries the run error and the
// uploads that failed, if any.
func (r *Runner) finish(job *Job, outcome *Outcome, runErr error, failures string) {
	var parts []string
	if runErr != nil {
		parts = append(parts, runErr.Error())
	}
	if failures != "" {
		parts = append(parts, failures)
		log.Printf("[runner] job %s: %s", job.Spec.JobID, failures)
		job.Audit.Warn().Str("failures", failures).Msg("upload failures")
	}
	msg := strings.Join(parts, "; ")
	if err := r.db.UpdateJobStatus(job.Spec.JobID, outcome.Status, msg); err != nil {
		log.Printf("[runner] failed to update status of job %s: %v", job.Spec.JobID, err)
	}

	switch outcome.Status {
	case database.StatusInterrupted:
		log.Printf("[runner] job %s interrupted after %s", job.Spec.JobID, outcome.Elapsed)
		job.Audit.Warn().Msg("interrupted by shutdown")
	case database.StatusFailed:
		log.Printf("[runner] job %s failed after %s: %v", job.Spec.JobID, outcome.Elapsed, runErr)
		job.Audit.Error().Str("error", msg).Msg("order failed")
	default:
		log.Printf("[runner] job %s %s with %d urls", job.Spec.JobID, outcome.Status, len(outcome.URLs))
		job.Audit.Info().Str("status", string(outcome.Status)).Strs("urls", outcome.URLs).Msg("order finished")
	}
	log.Printf("[runner] Processing this order took %s", outcome.Elapsed)
}

func newJobRecord(spec order.Spec, at time.Time) database.JobRecord {
	source := "live"
	if spec.UseStored {
		source = "stored"
	}
	raw := string(spec.Raw)
	if raw == "" {
		if b, err := json.Marshal(spec.Identity); err == nil {
			raw = string(b)
		}
	}
	return database.JobRecord{
		ID:        spec.JobID,
		OrderPK:   spec.OrderPK,
		Bucket:    spec.BucketName(),
		OrderName: spec.OrderName(at),
		Source:    source,
		CreatedAt: at,
		RawJSON:   raw,
	}
}
