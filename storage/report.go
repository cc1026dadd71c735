package storage

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Reporter appends one row of public URLs per job run to reports/<bucket>.csv.
// Fields of a row are separated by newlines and rows end with CRLF.
type Reporter struct {
	dir string
	mu  sync.Mutex
}

// NewReporter creates a Reporter writing into dir.
func NewReporter(dir string) *Reporter {
	return &Reporter{dir: dir}
}

// Path returns the report file of bucket.
func (r *Reporter) Path(bucket string) string {
	return filepath.Join(r.dir, bucket+".csv")
}

// AppendRow appends urls as one row. Existing rows are never rewritten.
func (r *Reporter) AppendRow(bucket string, urls []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := EnsurePath(r.dir); err != nil {
		return fmt.Errorf("failed to create reports directory: %w", err)
	}
	f, err := os.OpenFile(r.Path(bucket), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open report for %s: %w", bucket, err)
	}
	if _, err := f.WriteString(FormatRow(urls)); err != nil {
		f.Close()
		return fmt.Errorf("failed to append report row for %s: %w", bucket, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	log.Printf("[report] appended %d URLs to %s", len(urls), filepath.Base(r.Path(bucket)))
	return nil
}

// FormatRow renders fields with minimal quoting: a field is quoted only when it holds
// a quote, CR or LF, and quotes inside it are doubled.
func FormatRow(fields []string) string {
	if len(fields) == 1 && fields[0] == "" {
		return "\"\"\r\n"
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		if strings.ContainsAny(f, "\"\r\n") {
			f = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
		}
		quoted[i] = f
	}
	return strings.Join(quoted, "\n") + "\r\n"
}
