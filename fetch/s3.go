package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"vpe/order"
)

// ObjectDownloader fetches one object of an S3 bucket.
type ObjectDownloader interface {
	DownloadFile(ctx context.Context, bucket, key, localPath string) error
}

// S3Source downloads stored files from S3.
type S3Source struct {
	store ObjectDownloader
}

// NewS3Source creates an S3Source on top of store.
func NewS3Source(store ObjectDownloader) *S3Source {
	return &S3Source{store: store}
}

// Download fetches the object named by src into dst.
func (s *S3Source) Download(ctx context.Context, src order.StoredSource, dst string) error {
	bucket, key, err := S3Location(src)
	if err != nil {
		return err
	}
	return s.store.DownloadFile(ctx, bucket, key, dst)
}

// S3Location extracts the bucket and key of a stored source. s3_url may be a plain key
// or a virtual-hosted URL such as https://bucket.s3.amazonaws.com/key.
func S3Location(src order.StoredSource) (string, string, error) {
	bucket, key := src.S3Bucket, src.S3Key
	if strings.Contains(key, "://") {
		u, err := url.Parse(key)
		if err != nil {
			return "", "", fmt.Errorf("invalid s3_url %q: %v", key, err)
		}
		if bucket == "" {
			if i := strings.Index(u.Host, ".s3"); i > 0 {
				bucket = u.Host[:i]
			}
		}
		key = strings.ReplaceAll(strings.TrimPrefix(u.Path, "/"), "+", " ")
	}
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("stored source %q has no S3 bucket or key", src.Filename)
	}
	return bucket, key, nil
}
