package service

import (
	"fmt"
	"log"

	"vpe/analysis"
	"vpe/config"
	"vpe/database"
	"vpe/fetch"
	"vpe/mediatool"
	"vpe/metrics"
	"vpe/monitoring"
	"vpe/process"
	"vpe/recording"
	"vpe/storage"
)

// Worker bundles the long-lived components shared by the daemon and the CLI
type Worker struct {
	DB      *database.SQLiteDB
	Store   *storage.S3Storage
	Runner  *Runner
	Monitor *monitoring.Monitor
	Metrics *metrics.MetricsCollector
}

// OpenWorker validates cfg and opens the database, object storage and pipeline
func OpenWorker(cfg config.Config) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := config.EnsurePaths(cfg); err != nil {
		return nil, err
	}

	db, err := database.NewSQLiteDB(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite database: %w", err)
	}

	store, err := storage.NewS3Storage(storage.S3Config{
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Region:    cfg.S3Region,
		Endpoint:  cfg.S3Endpoint,
		BaseURL:   cfg.S3BaseURL,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize object storage: %w", err)
	}

	monitor, err := monitoring.NewMonitor(cfg.WorkRoot)
	if err != nil {
		log.Printf("[worker] resource monitor unavailable: %v", err)
		monitor = nil
	}

	collector := metrics.NewMetricsCollector()
	runner := NewRunner(BuildTurntable(cfg, store, db), db, cfg.WorkerConcurrency, cfg.LogsDir, collector)
	return &Worker{DB: db, Store: store, Runner: runner, Monitor: monitor, Metrics: collector}, nil
}

// Close releases the database
func (w *Worker) Close() error {
	return w.DB.Close()
}

// BuildTurntable wires the production stages from configuration
func BuildTurntable(cfg config.Config, store *storage.S3Storage, db database.Database) *Turntable {
	runner := mediatool.ExecRunner{}
	gateway := mediatool.NewFFmpegWithRunner(mediatool.Config{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
	}, runner)

	cutCodec := mediatool.StreamCopy
	if !cfg.CopyCuts {
		cutCodec = mediatool.CodecParams{Codec: "libx264", Preset: "ultrafast", Audio: true}
	}

	concat := recording.NewConcatenator(gateway, cfg.DegenerateSize, true)
	capture := recording.NewLiveCaptureLoop(gateway, recording.TCPProber{}, concat, recording.RetryPolicy{
		MaxAttempts: cfg.CaptureMaxAttempts,
		MaxOverrun:  cfg.CaptureMaxOverrun,
	}, cfg.DegenerateSize)

	stages := Stages{
		Resolver:   fetch.NewResolver(cfg.DownloadsDir, fetch.NewS3Source(store), fetch.NewAzureSource()),
		Capture:    capture,
		Archiver:   process.NewArchiver(cfg.ArchiveDir),
		Sampler:    process.NewSampler(gateway, cutCodec),
		Compressor: process.NewCompressor(gateway, cfg.CompressFPS),
		Trimmer:    process.NewTrimmer(gateway, cutCodec),
	}
	// Typed nil analyzers must not leak into the interface fields.
	if a := analysis.NewCommandAnalyzer(analysis.StageMotion, cfg.MotionCommand, runner); a != nil {
		stages.Motion = a
	}
	if a := analysis.NewCommandAnalyzer(analysis.StageFace, cfg.FaceCommand, runner); a != nil {
		stages.Face = a
	}
	log.Printf("[turntable] motion stage configured: %v, face stage configured: %v", stages.Motion != nil, stages.Face != nil)

	publisher := NewPublisher(store, db, storage.NewReporter(cfg.ReportsDir))
	return NewTurntable(stages, publisher, cfg.WorkRoot)
}
