package fetch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"vpe/order"
)

// ErrSourceNotFound is returned when a stored source cannot be found locally or remotely.
var ErrSourceNotFound = errors.New("source not found")

// Access types that trigger a download before resolution.
const (
	AccessS3        = "s3"
	AccessMicrosoft = "microsoft"
)

// Source downloads a stored file to a local path.
type Source interface {
	Download(ctx context.Context, src order.StoredSource, dst string) error
}

// Resolver maps a stored source onto a local file, downloading it first when the job
// names a remote location.
type Resolver struct {
	dir     string
	sources map[string]Source
}

// NewResolver creates a Resolver for files kept in dir. Nil sources are skipped.
func NewResolver(dir string, s3 Source, azure Source) *Resolver {
	r := &Resolver{dir: dir, sources: map[string]Source{}}
	if s3 != nil {
		r.sources[AccessS3] = s3
	}
	if azure != nil {
		r.sources[AccessMicrosoft] = azure
	}
	return r
}

// LocalPath returns where a stored file is expected on disk. Names without an
// extension are taken to be mp4 files. Names that leave the downloads directory
// are rejected.
func (r *Resolver) LocalPath(src order.StoredSource) (string, error) {
	name := src.Filename
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: stored file %q is outside the downloads directory", ErrSourceNotFound, name)
	}
	if filepath.Ext(name) == "" {
		name += ".mp4"
	}
	path := filepath.Join(r.dir, name)
	if rel, err := filepath.Rel(r.dir, path); err != nil || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: stored file %q is outside the downloads directory", ErrSourceNotFound, src.Filename)
	}
	return path, nil
}

// Resolve returns the local path of src, downloading it if needed.
func (r *Resolver) Resolve(ctx context.Context, src order.StoredSource) (string, error) {
	path, err := r.LocalPath(src)
	if err != nil {
		return "", err
	}
	if exists(path) {
		return path, nil
	}

	access := strings.ToLower(strings.TrimSpace(src.AccessType))
	if access != "" {
		source, ok := r.sources[access]
		if !ok {
			return "", fmt.Errorf("%w: no downloader configured for access type %q", ErrSourceNotFound, src.AccessType)
		}
		log.Printf("[fetch] downloading %s via %s", filepath.Base(path), access)
		if err := source.Download(ctx, src, path); err != nil {
			if errors.Is(err, ErrSourceNotFound) {
				return "", err
			}
			return "", fmt.Errorf("%w: download of %s failed: %v", ErrSourceNotFound, src.Filename, err)
		}
	}

	if !exists(path) {
		return "", fmt.Errorf("%w: %s", ErrSourceNotFound, path)
	}
	return path, nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
