package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("VPE_ROOT", "/srv/vpe")
	cfg := LoadConfig()

	if cfg.WorkRoot != filepath.Join("/srv/vpe", "work") {
		t.Errorf("Unexpected work root %s", cfg.WorkRoot)
	}
	if cfg.DegenerateSize != 300 {
		t.Errorf("Expected degenerate size 300, got %d", cfg.DegenerateSize)
	}
	if cfg.CaptureMaxAttempts != 0 || cfg.CaptureMaxOverrun != 0 {
		t.Error("Capture retry should default to unlimited")
	}
	if cfg.CompressFPS != 24 {
		t.Errorf("Expected 24 fps, got %d", cfg.CompressFPS)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	tests := []struct {
		key   string
		value string
		check func(Config) bool
	}{
		{"CAPTURE_MAX_OVERRUN", "90", func(c Config) bool { return c.CaptureMaxOverrun == 90*time.Second }},
		{"CAPTURE_MAX_OVERRUN", "2m", func(c Config) bool { return c.CaptureMaxOverrun == 2*time.Minute }},
		{"CAPTURE_MAX_ATTEMPTS", "5", func(c Config) bool { return c.CaptureMaxAttempts == 5 }},
		{"WORKER_CONCURRENCY", "0", func(c Config) bool { return c.WorkerConcurrency == 1 }},
		{"WORKER_CONCURRENCY", "abc", func(c Config) bool { return c.WorkerConcurrency == 2 }},
		{"COPY_CUTS", "false", func(c Config) bool { return !c.CopyCuts }},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if cfg := LoadConfig(); !tt.check(cfg) {
				t.Errorf("%s=%s not applied", tt.key, tt.value)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := Config{}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for missing S3 credentials")
	}
	cfg.S3AccessKey, cfg.S3SecretKey = "a", "b"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestEnsurePaths(t *testing.T) {
	root := t.TempDir()
	cfg := Config{
		WorkRoot:     filepath.Join(root, "work"),
		DownloadsDir: filepath.Join(root, "downloads"),
		ArchiveDir:   filepath.Join(root, "archive"),
		ReportsDir:   filepath.Join(root, "reports"),
		LogsDir:      filepath.Join(root, "logs"),
		DatabasePath: filepath.Join(root, "db", "vpe.db"),
	}
	if err := EnsurePaths(cfg); err != nil {
		t.Fatalf("EnsurePaths failed: %v", err)
	}
	for _, dir := range []string{cfg.WorkRoot, cfg.DownloadsDir, cfg.ArchiveDir, cfg.ReportsDir, cfg.LogsDir, filepath.Join(root, "db")} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("Directory %s not created", dir)
		}
	}
}
