package service

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"vpe/database"
	"vpe/metrics"
	"vpe/storage"
)

// ObjectStore is the remote storage the publisher uploads to
type ObjectStore interface {
	EnsureBucket(ctx context.Context, bucket string) error
	UploadFile(ctx context.Context, bucket, localPath, key string) (string, error)
}

// PublicationStore persists the published artifacts of a job
type PublicationStore interface {
	RecordPublications(jobID string, pubs []database.Publication) error
}

// ReportWriter appends one row of URLs per run to the bucket report
type ReportWriter interface {
	AppendRow(bucket string, urls []string) error
}

// UploadResult is the outcome of one artifact upload
type UploadResult struct {
	Path string `json:"path"`
	Key  string `json:"key"`
	URL  string `json:"url,omitempty"`
	Err  error  `json:"-"`
}

// PublishResult summarizes a publication run
type PublishResult struct {
	Bucket    string         `json:"bucket"`
	Uploads   []UploadResult `json:"uploads"`
	URLs      []string       `json:"urls"`
	Leftovers []string       `json:"leftovers,omitempty"` // junk files that could not be deleted
}

// Failed returns the artifacts that could not be uploaded
func (r PublishResult) Failed() []UploadResult {
	var failed []UploadResult
	for _, u := range r.Uploads {
		if u.Err != nil {
			failed = append(failed, u)
		}
	}
	return failed
}

// FailureSummary lists the uploads that failed, or "" when none did
func (r PublishResult) FailureSummary() string {
	failed := r.Failed()
	if len(failed) == 0 {
		return ""
	}
	parts := make([]string, len(failed))
	for i, u := range failed {
		parts[i] = fmt.Sprintf("%s: %v", u.Key, u.Err)
	}
	return fmt.Sprintf("%d of %d uploads failed: %s", len(failed), len(r.Uploads), strings.Join(parts, "; "))
}

// Status maps the upload outcome to a job status
func (r PublishResult) Status() database.JobStatus {
	switch {
	case len(r.Uploads) == 0 || len(r.URLs) == 0:
		return database.StatusFailed
	case len(r.URLs) < len(r.Uploads):
		return database.StatusPartial
	default:
		return database.StatusPublished
	}
}

// Publisher uploads the artifacts of a job, records their URLs and purges the junk list
type Publisher struct {
	store   ObjectStore
	pubs    PublicationStore
	reports ReportWriter
}

// NewPublisher creates a new publisher
func NewPublisher(store ObjectStore, pubs PublicationStore, reports ReportWriter) *Publisher {
	return &Publisher{store: store, pubs: pubs, reports: reports}
}

// Publish uploads artifacts in order. A failed upload does not stop the remaining ones;
// only a bucket that cannot be ensured aborts the run. Junk files are deleted on every path.
func (p *Publisher) Publish(ctx context.Context, job *Job, artifacts, junk []string) (result PublishResult, err error) {
	result.Bucket = job.Bucket
	defer func() {
		result.Leftovers = storage.RemoveFiles(junk)
		if len(result.Leftovers) > 0 {
			log.Printf("[publish] failed to delete %d junk files: %s", len(result.Leftovers), strings.Join(result.Leftovers, ", "))
		}
	}()

	job.Metrics.StartStage(metrics.StagePublish)
	defer job.Metrics.EndStage(metrics.StagePublish)

	if len(artifacts) == 0 {
		return result, fmt.Errorf("nothing to publish for %s/%s", job.Bucket, job.OrderName)
	}
	if err := p.store.EnsureBucket(ctx, job.Bucket); err != nil {
		job.Audit.Error().Err(err).Str("stage", metrics.StagePublish).Msg("bucket unavailable")
		return result, fmt.Errorf("failed to ensure bucket %s: %w", job.Bucket, err)
	}

	var pubs []database.Publication
	for _, path := range artifacts {
		key := filepath.Base(path)
		upload := UploadResult{Path: path, Key: key}
		upload.URL, upload.Err = p.store.UploadFile(ctx, job.Bucket, path, key)
		result.Uploads = append(result.Uploads, upload)

		if upload.Err != nil {
			log.Printf("[publish] upload of %s to %s failed: %v", key, job.Bucket, upload.Err)
			job.Audit.Error().Err(upload.Err).Str("file", key).Msg("upload failed")
			continue
		}
		log.Printf("[publish] %s -> %s", key, upload.URL)
		job.Audit.Info().Str("file", key).Str("url", upload.URL).Msg("published")

		result.URLs = append(result.URLs, upload.URL)
		pubs = append(pubs, database.Publication{
			OrderPK:       job.Spec.OrderPK,
			VideoID:       strings.TrimSuffix(key, filepath.Ext(key)),
			VideoURL:      upload.URL,
			VideoFileName: key,
			Position:      len(pubs),
		})
	}

	if len(result.URLs) == 0 {
		return result, nil
	}
	if err := p.reports.AppendRow(job.Bucket, result.URLs); err != nil {
		log.Printf("[publish] failed to append report row for %s: %v", job.Bucket, err)
		job.Audit.Error().Err(err).Msg("report row not written")
	}
	if err := p.pubs.RecordPublications(job.Spec.JobID, pubs); err != nil {
		return result, fmt.Errorf("failed to record publications: %w", err)
	}
	return result, nil
}
