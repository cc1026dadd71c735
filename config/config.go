package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config contains all configuration for the application
type Config struct {
	// Path Configuration
	WorkRoot     string // Per-order working directories live below this root
	DownloadsDir string // Stored sources are resolved and downloaded here
	ArchiveDir   string // Archive copies of every acquired source
	ReportsDir   string // Append-only report files, one per bucket
	LogsDir      string // Process log and per-order audit logs
	DatabasePath string

	// Media Tool Configuration
	FFmpegPath     string
	FFprobePath    string
	DegenerateSize int64 // Files of exactly this size are treated as failed captures
	CopyCuts       bool  // Cut without re-encoding
	CompressFPS    int

	// Analysis Configuration
	MotionCommand string // External classifier for motion, empty disables the stage
	FaceCommand   string // External classifier for faces, empty disables the stage

	// Capture Configuration
	CaptureMaxAttempts int           // 0 means retry until the force-close deadline
	CaptureMaxOverrun  time.Duration // 0 means unlimited

	// Worker Concurrency Configuration
	WorkerConcurrency int

	// Queue Configuration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	QueueName     string
	LockTTL       time.Duration

	// S3 Storage Configuration
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3Endpoint  string
	S3BaseURL   string

	// Server Configuration
	ServerPort string

	// Log Rotation Configuration
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool

	// Cron Configuration
	SweepCron     string
	SweepMaxAge   time.Duration
	ResourceCron  string
	MetricsMaxAge time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() Config {
	root := getEnv("VPE_ROOT", "./data")

	cfg := Config{
		WorkRoot:     getEnv("WORK_ROOT", filepath.Join(root, "work")),
		DownloadsDir: getEnv("DOWNLOADS_DIR", filepath.Join(root, "downloads")),
		ArchiveDir:   getEnv("ARCHIVE_DIR", filepath.Join(root, "archive")),
		ReportsDir:   getEnv("REPORTS_DIR", filepath.Join(root, "reports")),
		LogsDir:      getEnv("LOGS_DIR", filepath.Join(root, "logs")),
		DatabasePath: getEnv("DATABASE_PATH", filepath.Join(root, "vpe.db")),

		FFmpegPath:     getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:    getEnv("FFPROBE_PATH", "ffprobe"),
		DegenerateSize: int64(getEnvInt("DEGENERATE_FILE_SIZE", 300)),
		CopyCuts:       getEnvBool("COPY_CUTS", true),
		CompressFPS:    getEnvInt("COMPRESS_FPS", 24),

		MotionCommand: getEnv("MOTION_COMMAND", ""),
		FaceCommand:   getEnv("FACE_COMMAND", ""),

		CaptureMaxAttempts: getEnvInt("CAPTURE_MAX_ATTEMPTS", 0),
		CaptureMaxOverrun:  getEnvDuration("CAPTURE_MAX_OVERRUN", 0),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 2),

		RedisAddr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		QueueName:     getEnv("QUEUE_NAME", "orders"),
		LockTTL:       getEnvDuration("ORDER_LOCK_TTL", 6*time.Hour),

		S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("S3_SECRET_KEY", ""),
		S3Region:    getEnv("S3_REGION", "ap-south-1"),
		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3BaseURL:   getEnv("S3_BASE_URL", ""),

		ServerPort: getEnv("SERVER_PORT", "3000"),

		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 30),
		LogCompress:   getEnvBool("LOG_COMPRESS", true),

		SweepCron:     getEnv("SWEEP_CRON", "0 0 * * * *"),
		SweepMaxAge:   getEnvDuration("SWEEP_MAX_AGE", 24*time.Hour),
		ResourceCron:  getEnv("RESOURCE_CRON", "0 */5 * * * *"),
		MetricsMaxAge: getEnvDuration("METRICS_MAX_AGE", 24*time.Hour),
	}

	if cfg.WorkerConcurrency < 1 {
		log.Printf("Invalid WORKER_CONCURRENCY %d, using 1", cfg.WorkerConcurrency)
		cfg.WorkerConcurrency = 1
	}

	log.Printf("Work root: %s, downloads: %s, archive: %s", cfg.WorkRoot, cfg.DownloadsDir, cfg.ArchiveDir)
	log.Printf("Worker concurrency: %d, queue %q on %s", cfg.WorkerConcurrency, cfg.QueueName, cfg.RedisAddr)
	log.Printf("S3 endpoint: %q, region: %s", cfg.S3Endpoint, cfg.S3Region)

	return cfg
}

// Validate checks settings that cannot be defaulted
func (cfg Config) Validate() error {
	var missing []string
	if cfg.S3AccessKey == "" {
		missing = append(missing, "S3_ACCESS_KEY")
	}
	if cfg.S3SecretKey == "" {
		missing = append(missing, "S3_SECRET_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// getEnv returns environment variable or fallback value
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: invalid integer for %s: %q, using %d", key, value, fallback)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("Warning: invalid boolean for %s: %q, using %v", key, value, fallback)
		return fallback
	}
	return b
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90")
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	log.Printf("Warning: invalid duration for %s: %q, using %v", key, value, fallback)
	return fallback
}

// EnsurePaths creates necessary paths
func EnsurePaths(config Config) error {
	dirs := []string{
		config.WorkRoot,
		config.DownloadsDir,
		config.ArchiveDir,
		config.ReportsDir,
		config.LogsDir,
		filepath.Dir(config.DatabasePath),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %v", dir, err)
		}
	}
	return nil
}
