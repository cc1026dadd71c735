package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vpe/analysis"
	"vpe/fetch"
	"vpe/logging"
	"vpe/metrics"
	"vpe/order"
	"vpe/process"
	"vpe/recording"
	"vpe/storage"
)

var (
	// ErrSourceNotFound is returned when a stored source cannot be resolved
	ErrSourceNotFound = fetch.ErrSourceNotFound
	// ErrAcquisitionFailed is returned when a live capture produced no usable recording
	ErrAcquisitionFailed = errors.New("acquisition failed")
)

// SourceResolver resolves a stored source to a local file
type SourceResolver interface {
	Resolve(ctx context.Context, src order.StoredSource) (string, error)
}

// LiveCapturer records a live camera into a single file
type LiveCapturer interface {
	Run(ctx context.Context, req recording.LiveRequest) (recording.LiveResult, error)
}

// Job is one execution of an order
type Job struct {
	Spec      order.Spec
	RunID     string
	StartedAt time.Time
	Bucket    string
	OrderName string
	Audit     *logging.Audit
	Metrics   *metrics.JobMetrics
}

// NewJob derives the bucket and order names of a run started at the given instant
func NewJob(spec order.Spec, runID string, at time.Time) *Job {
	return &Job{
		Spec:      spec,
		RunID:     runID,
		StartedAt: at,
		Bucket:    spec.BucketName(),
		OrderName: spec.OrderName(at),
		Audit:     logging.Discard(),
		Metrics:   metrics.NewJobMetrics(spec.JobID),
	}
}

// Artifact is the current file of a job. Owned files live in the work directory and
// may be moved or deleted; the others belong to someone else and are only read.
type Artifact struct {
	Path  string
	Owned bool
}

// Stages holds the collaborators of the turntable. Nil stages are skipped.
type Stages struct {
	Resolver   SourceResolver
	Capture    LiveCapturer
	Archiver   *process.Archiver
	Sampler    *process.Sampler
	Motion     analysis.Analyzer
	Face       analysis.Analyzer
	Compressor *process.Compressor
	Trimmer    *process.Trimmer
}

// Turntable runs the fixed stage sequence of an order and publishes the result
type Turntable struct {
	stages    Stages
	publisher *Publisher
	workRoot  string
}

// NewTurntable creates a turntable working below workRoot
func NewTurntable(stages Stages, publisher *Publisher, workRoot string) *Turntable {
	return &Turntable{stages: stages, publisher: publisher, workRoot: workRoot}
}

// WorkDir returns the working directory of a job
func (t *Turntable) WorkDir(job *Job) string {
	return filepath.Join(t.workRoot, job.Bucket+"_"+job.OrderName)
}

// Run executes acquire, archive, sample, analysis, rename, compress and trim in that
// order, then publishes. The work directory is removed on every exit path.
func (t *Turntable) Run(ctx context.Context, job *Job) (PublishResult, error) {
	workDir, err := storage.EnsurePath(t.workRoot, filepath.Base(t.WorkDir(job)))
	if err != nil {
		return PublishResult{}, fmt.Errorf("failed to create work directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Printf("[turntable] failed to remove work directory %s: %v", workDir, err)
		}
	}()

	log.Printf("[turntable] %s: processing %s/%s", job.Spec.JobID, job.Bucket, job.OrderName)
	job.Audit.Info().Str("run", job.RunID).Bool("stored", job.Spec.UseStored).Msg("order started")

	current, err := t.acquire(ctx, job, workDir)
	if err != nil {
		job.Audit.Error().Err(err).Str("stage", metrics.StageAcquire).Msg("acquisition aborted")
		return PublishResult{}, err
	}

	if err := t.archive(job, current); err != nil {
		return PublishResult{}, err
	}

	var junk []string
	if sample := t.sample(ctx, job, current, workDir); sample != "" {
		junk = append(junk, sample)
	}

	for _, stage := range []struct {
		name     string
		enabled  bool
		analyzer analysis.Analyzer
	}{
		{analysis.StageMotion, job.Spec.AnalyzeMotion, t.stages.Motion},
		{analysis.StageFace, job.Spec.AnalyzeFace, t.stages.Face},
	} {
		if err := ctx.Err(); err != nil {
			return PublishResult{}, err
		}
		if !stage.enabled {
			continue
		}
		next, superseded := t.analyze(ctx, job, stage.name, stage.analyzer, current, workDir)
		junk = append(junk, superseded...)
		current = next
	}

	if err := ctx.Err(); err != nil {
		return PublishResult{}, err
	}
	primary, err := t.rename(job, current, workDir)
	if err != nil {
		return PublishResult{}, err
	}
	junk = append(junk, primary.Path)

	artifacts, produced, err := t.transform(ctx, job, primary, workDir)
	junk = append(junk, produced...)
	if err != nil {
		return PublishResult{}, err
	}

	return t.publisher.Publish(ctx, job, artifacts, junk)
}

func (t *Turntable) acquire(ctx context.Context, job *Job, workDir string) (Artifact, error) {
	job.Metrics.StartStage(metrics.StageAcquire)
	defer job.Metrics.EndStage(metrics.StageAcquire)

	spec := job.Spec
	if spec.UseStored {
		if t.stages.Resolver == nil {
			return Artifact{}, fmt.Errorf("%w: no stored source resolver", ErrSourceNotFound)
		}
		path, err := t.stages.Resolver.Resolve(ctx, spec.Stored)
		if err != nil {
			if errors.Is(err, fetch.ErrSourceNotFound) {
				return Artifact{}, err
			}
			return Artifact{}, fmt.Errorf("%w: %v", ErrSourceNotFound, err)
		}
		log.Printf("[turntable] %s: using stored file %s", spec.JobID, path)
		job.Audit.Info().Str("stage", metrics.StageAcquire).Str("file", path).Msg("stored source resolved")
		return Artifact{Path: path}, nil
	}

	if t.stages.Capture == nil {
		return Artifact{}, fmt.Errorf("%w: live capture is not configured", ErrAcquisitionFailed)
	}
	duration, forceClose, err := spec.Window.Schedule(spec.Live.RunDate, spec.Live.Timezone, time.Now())
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %v", ErrAcquisitionFailed, err)
	}
	log.Printf("[turntable] %s: recording %v from %s until %s", spec.JobID, duration,
		recording.CameraAddress(spec.Live.Camera), forceClose.Format(time.RFC3339))

	res, err := t.stages.Capture.Run(ctx, recording.LiveRequest{
		Camera:     spec.Live.Camera,
		Duration:   duration,
		ForceClose: forceClose,
		Dir:        filepath.Join(workDir, "segments"),
		Prefix:     job.OrderName,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Artifact{}, ctxErr
		}
		return Artifact{}, fmt.Errorf("%w: %v", ErrAcquisitionFailed, err)
	}
	job.Audit.Info().Str("stage", metrics.StageAcquire).Str("file", res.Path).
		Int("segments", len(res.Segments)).Msg("live capture finished")
	return Artifact{Path: res.Path, Owned: true}, nil
}

func (t *Turntable) archive(job *Job, current Artifact) error {
	if t.stages.Archiver == nil {
		return nil
	}
	job.Metrics.StartStage(metrics.StageArchive)
	defer job.Metrics.EndStage(metrics.StageArchive)

	copyPath, err := t.stages.Archiver.Archive(current.Path, job.Bucket, job.OrderName)
	if err != nil {
		job.Audit.Error().Err(err).Str("stage", metrics.StageArchive).Msg("archive copy failed")
		return fmt.Errorf("failed to archive %s: %w", current.Path, err)
	}
	job.Audit.Info().Str("stage", metrics.StageArchive).Str("file", copyPath).Msg("archived")
	return nil
}

// sample is best effort; the clip is never published.
func (t *Turntable) sample(ctx context.Context, job *Job, current Artifact, workDir string) string {
	if t.stages.Sampler == nil || !job.Spec.SelectSample || job.Spec.SamplingRate <= 0 {
		return ""
	}
	job.Metrics.StartStage(metrics.StageSample)
	defer job.Metrics.EndStage(metrics.StageSample)

	path, err := t.stages.Sampler.Sample(ctx, current.Path, job.Spec.SamplingRate, workDir)
	if err != nil {
		log.Printf("[turntable] %s: sample failed: %v", job.Spec.JobID, err)
		job.Audit.Warn().Err(err).Str("stage", metrics.StageSample).Msg("sample skipped")
		return ""
	}
	return path
}

// analyze runs one opaque stage. On failure the prior artifact is kept. It returns
// the new current artifact and the files that became junk.
func (t *Turntable) analyze(ctx context.Context, job *Job, name string, analyzer analysis.Analyzer, current Artifact, workDir string) (Artifact, []string) {
	if analyzer == nil {
		log.Printf("[turntable] %s: %s stage requested but not configured", job.Spec.JobID, name)
		return current, nil
	}
	job.Metrics.StartStage(name)
	defer job.Metrics.EndStage(name)

	out := filepath.Join(workDir, fmt.Sprintf("%s_%s.mp4", stem(current.Path), name))
	if err := analyzer.Analyze(ctx, current.Path, out); err != nil {
		log.Printf("[turntable] %s: %s stage failed, keeping %s: %v", job.Spec.JobID, name, filepath.Base(current.Path), err)
		job.Audit.Warn().Err(err).Str("stage", name).Msg("analysis failed, prior file kept")
		return current, []string{out}
	}
	job.Audit.Info().Str("stage", name).Str("file", out).Msg("analysis finished")

	var superseded []string
	if current.Owned {
		superseded = append(superseded, current.Path)
	}
	return Artifact{Path: out, Owned: true}, superseded
}

// rename gives the current artifact its publication name inside the work directory.
func (t *Turntable) rename(job *Job, current Artifact, workDir string) (Artifact, error) {
	name := job.Bucket + job.OrderName + job.Spec.VideoType() + ".mp4"
	target := filepath.Join(workDir, name)

	if current.Owned {
		if err := os.Rename(current.Path, target); err != nil {
			return Artifact{}, fmt.Errorf("failed to rename %s: %w", current.Path, err)
		}
	} else if err := process.CopyFile(current.Path, target); err != nil {
		return Artifact{}, fmt.Errorf("failed to copy %s into the work directory: %w", current.Path, err)
	}
	log.Printf("[turntable] %s: working file is %s", job.Spec.JobID, name)
	return Artifact{Path: target, Owned: true}, nil
}

// transform runs compression and trimming. It returns the artifacts to publish and
// every file it wrote. A compressed file supersedes the primary; clips supersede both.
func (t *Turntable) transform(ctx context.Context, job *Job, primary Artifact, workDir string) ([]string, []string, error) {
	spec := job.Spec
	publish := primary.Path
	var produced []string

	compressed := ""
	if spec.PerformCompression && t.stages.Compressor != nil {
		job.Metrics.StartStage(metrics.StageCompress)
		out, err := t.stages.Compressor.Compress(ctx, primary.Path, workDir, spec.CompressionBitrate)
		job.Metrics.EndStage(metrics.StageCompress)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, produced, ctxErr
			}
			log.Printf("[turntable] %s: compression failed, publishing the original: %v", spec.JobID, err)
			job.Audit.Warn().Err(err).Str("stage", metrics.StageCompress).Msg("compression failed, trimming skipped")
			return []string{publish}, produced, nil
		}
		compressed = out
		produced = append(produced, out)
		publish = out
		job.Audit.Info().Str("stage", metrics.StageCompress).Str("file", out).Int("bitrate", spec.CompressionBitrate).Msg("compressed")
	}

	if !spec.PerformTrimming || t.stages.Trimmer == nil {
		return []string{publish}, produced, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, produced, err
	}

	source := primary.Path
	if spec.TrimCompressed && compressed != "" {
		source = compressed
	}
	job.Metrics.StartStage(metrics.StageTrim)
	clips, err := t.stages.Trimmer.Trim(ctx, source, spec.Trim, workDir)
	job.Metrics.EndStage(metrics.StageTrim)
	produced = append(produced, clips...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, produced, ctxErr
		}
		log.Printf("[turntable] %s: trimming failed, publishing %s: %v", spec.JobID, filepath.Base(publish), err)
		job.Audit.Warn().Err(err).Str("stage", metrics.StageTrim).Msg("trim failed, clips discarded")
		return []string{publish}, produced, nil
	}
	if len(clips) == 0 {
		return []string{publish}, produced, nil
	}

	names := make([]string, len(clips))
	for i, c := range clips {
		names[i] = filepath.Base(c)
	}
	job.Audit.Info().Str("stage", metrics.StageTrim).Str("strategy", string(spec.Trim.Kind())).
		Strs("clips", names).Msg("trimmed")
	return clips, produced, nil
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
