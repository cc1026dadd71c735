package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// ErrUploadFailed is returned when an artifact could not be uploaded.
var ErrUploadFailed = errors.New("upload failed")

const (
	// Number of attempts for UploadFile retry loop
	maxUploadAttempts = 3

	defaultRegion = "ap-south-1"
	publicReadACL = "public-read"
)

// S3Config holds configuration for S3-compatible object storage
type S3Config struct {
	AccessKey string
	SecretKey string
	Region    string
	// Endpoint selects an S3-compatible service instead of AWS. Path-style addressing is used.
	Endpoint string
	// BaseURL overrides public URLs. A "{bucket}" placeholder is replaced with the bucket name.
	BaseURL string
}

// S3Storage handles bucket creation, uploads and downloads.
type S3Storage struct {
	config     S3Config
	session    *session.Session
	client     s3iface.S3API
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	backoff    func(attempt int) time.Duration
}

// NewS3Storage creates a new S3Storage instance
func NewS3Storage(config S3Config) (*S3Storage, error) {
	if config.Region == "" {
		config.Region = defaultRegion
	}

	awsConfig := &aws.Config{
		Credentials: credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, ""),
		Region:      aws.String(config.Region),
	}
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
		// Force path style addressing for compatibility with S3 API
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %v", err)
	}
	client := s3.New(sess)

	// Parts are uploaded one at a time so a job never saturates the uplink.
	uploader := s3manager.NewUploaderWithClient(client, func(u *s3manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024
		u.Concurrency = 1
	})

	return &S3Storage{
		config:     config,
		session:    sess,
		client:     client,
		uploader:   uploader,
		downloader: s3manager.NewDownloaderWithClient(client),
		backoff: func(attempt int) time.Duration {
			return time.Duration(1<<uint(attempt)) * time.Second
		},
	}, nil
}

// EnsureBucket creates bucket if it does not exist yet. A bucket that already exists is not an error.
func (s *S3Storage) EnsureBucket(ctx context.Context, bucket string) error {
	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if s.config.Endpoint == "" && s.config.Region != "us-east-1" {
		input.CreateBucketConfiguration = &s3.CreateBucketConfiguration{
			LocationConstraint: aws.String(s.config.Region),
		}
	}

	_, err := s.client.CreateBucketWithContext(ctx, input)
	if err == nil {
		log.Printf("[storage] created bucket %s", bucket)
		return nil
	}

	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeBucketAlreadyOwnedByYou, s3.ErrCodeBucketAlreadyExists:
			log.Printf("[storage] bucket %s already exists, skipped bucket creation", bucket)
			return nil
		}
	}
	return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
}

// UploadFile uploads localPath to bucket/key with a public-read ACL and returns its public URL.
func (s *S3Storage) UploadFile(ctx context.Context, bucket, localPath, key string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("%w: failed to open file %s: %v", ErrUploadFailed, localPath, err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("%w: failed to get file info: %v", ErrUploadFailed, err)
	}

	metadata := map[string]*string{
		"OriginalFileName": aws.String(filepath.Base(localPath)),
		"UploadedAt":       aws.String(time.Now().Format(time.RFC3339)),
		"FileSize":         aws.String(fmt.Sprintf("%d", fileInfo.Size())),
	}

	log.Printf("[storage] uploading %s (%.2f MB) to %s/%s", filepath.Base(localPath), float64(fileInfo.Size())/1024/1024, bucket, key)

	var lastErr error
	for attempt := 1; attempt <= maxUploadAttempts; attempt++ {
		// Ensure we start reading from the beginning each attempt
		if _, err := file.Seek(0, 0); err != nil {
			return "", fmt.Errorf("%w: failed to seek to beginning of file: %v", ErrUploadFailed, err)
		}

		_, lastErr = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
			Bucket:      aws.String(bucket),
			Key:         aws.String(key),
			Body:        file,
			ACL:         aws.String(publicReadACL),
			ContentType: aws.String(ContentType(localPath)),
			Metadata:    metadata,
		})
		if lastErr == nil {
			break
		}

		log.Printf("[storage] upload attempt %d/%d failed for %s: %v", attempt, maxUploadAttempts, localPath, lastErr)
		if attempt == maxUploadAttempts || ctx.Err() != nil {
			break
		}
		select {
		case <-time.After(s.backoff(attempt)):
		case <-ctx.Done():
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("%w: %s after %d attempts: %v", ErrUploadFailed, filepath.Base(localPath), maxUploadAttempts, lastErr)
	}

	publicURL := s.PublicURL(bucket, key)
	log.Printf("[storage] file uploaded successfully, public URL: %s", publicURL)
	return publicURL, nil
}

// DownloadFile fetches bucket/key into localPath.
func (s *S3Storage) DownloadFile(ctx context.Context, bucket, key, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("failed to create download directory: %v", err)
	}
	tmp := localPath + ".download"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %v", tmp, err)
	}

	n, err := s.downloader.DownloadWithContext(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	f.Close()
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to download s3://%s/%s: %w", bucket, key, err)
	}
	if err := os.Rename(tmp, localPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move download into place: %v", err)
	}
	log.Printf("[storage] downloaded s3://%s/%s (%.2f MB)", bucket, key, float64(n)/1024/1024)
	return nil
}

// PublicURL returns the public address of bucket/key.
func (s *S3Storage) PublicURL(bucket, key string) string {
	escaped := escapeKey(key)
	switch {
	case s.config.BaseURL != "":
		base := strings.TrimRight(s.config.BaseURL, "/")
		if strings.Contains(base, "{bucket}") {
			return strings.ReplaceAll(base, "{bucket}", bucket) + "/" + escaped
		}
		return fmt.Sprintf("%s/%s/%s", base, bucket, escaped)
	case s.config.Endpoint != "":
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.config.Endpoint, "/"), bucket, escaped)
	default:
		return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", bucket, escaped)
	}
}

// ContentType determines the content type based on file extension
func ContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4":
		return "video/mp4"
	case ".ts":
		return "video/mp2t"
	case ".mkv":
		return "video/x-matroska"
	case ".csv":
		return "text/csv"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	}
	return "application/octet-stream"
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = strings.ReplaceAll(url.PathEscape(p), "%20", "+")
	}
	return strings.Join(parts, "/")
}
