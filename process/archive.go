package process

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// Archiver keeps a reference copy of every acquired source. Copies are never removed
// by the pipeline.
type Archiver struct {
	dir string
}

// NewArchiver creates an Archiver rooted at dir.
func NewArchiver(dir string) *Archiver {
	return &Archiver{dir: dir}
}

// Archive copies src to <dir>/<bucket>/<name><ext> and returns the copy's path.
// An existing copy is never overwritten.
func (a *Archiver) Archive(src, bucket, name string) (string, error) {
	dstDir := filepath.Join(a.dir, bucket)
	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	ext := filepath.Ext(src)
	dst := filepath.Join(dstDir, name+ext)
	for i := 1; ; i++ {
		if _, err := os.Stat(dst); os.IsNotExist(err) {
			break
		}
		dst = filepath.Join(dstDir, fmt.Sprintf("%s_%d%s", name, i, ext))
	}

	if err := CopyFile(src, dst); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("failed to archive %s: %w", src, err)
	}
	log.Printf("[archive] %s -> %s", filepath.Base(src), dst)
	return dst, nil
}

// CopyFile copies a file from src to dst
func CopyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		destFile.Close()
		return err
	}
	return destFile.Close()
}
