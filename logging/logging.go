package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

// Options controls the process log file rotation
type Options struct {
	Dir        string // "" = stdout only
	FileName   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Setup routes the standard logger to stdout and a rotating file.
// The returned closer flushes the file; it is a no-op without a directory.
func Setup(opts Options) (io.Closer, error) {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	if opts.Dir == "" {
		log.SetOutput(os.Stdout)
		return io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %v", err)
	}
	name := opts.FileName
	if name == "" {
		name = "vpe.log"
	}
	file := &lumberjack.Logger{
		Filename:   filepath.Join(opts.Dir, name),
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, file))
	return file, nil
}

// Audit is the JSON audit trail of one order, kept at <dir>/<bucket>/<order>.log
type Audit struct {
	zerolog.Logger
	file *os.File
	path string
}

// OpenAudit opens (or appends to) the audit log of an order
func OpenAudit(dir, bucket, orderName, jobID string) (*Audit, error) {
	bucketDir := filepath.Join(dir, bucket)
	if err := os.MkdirAll(bucketDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %v", err)
	}
	path := filepath.Join(bucketDir, orderName+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %v", err)
	}
	logger := zerolog.New(f).With().
		Timestamp().
		Str("job", jobID).
		Str("bucket", bucket).
		Str("order", orderName).
		Logger()
	return &Audit{Logger: logger, file: f, path: path}, nil
}

// Discard returns an audit that writes nowhere
func Discard() *Audit {
	return &Audit{Logger: zerolog.Nop()}
}

// Path returns the location of the audit file
func (a *Audit) Path() string {
	return a.path
}

// Close closes the underlying file
func (a *Audit) Close() error {
	if a.file == nil {
		return nil
	}
	return a.file.Close()
}
