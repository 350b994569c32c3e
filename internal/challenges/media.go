package challenges

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// MediaStore persists uploaded proof evidence and returns a public URL.
type MediaStore interface {
	Store(ctx context.Context, key, contentType string, body io.Reader) (string, error)
}

// S3StoreConfig configures the object-storage backed media store. Endpoint
// supports S3-compatible providers.
type S3StoreConfig struct {
	Bucket    string
	Endpoint  string
	BaseURL   string
	AccessKey string
	SecretKey string
}

// S3Store uploads proof media to an S3-compatible bucket.
type S3Store struct {
	client  *s3.Client
	bucket  string
	baseURL string
}

// NewS3Store constructs the object-storage media store.
func NewS3Store(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("challenges: media bucket is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey, cfg.SecretKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("challenges: failed to load media config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(options *s3.Options) {
		if cfg.Endpoint != "" {
			options.BaseEndpoint = aws.String(cfg.Endpoint)
			options.UsePathStyle = true
		}
	})

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = strings.TrimSuffix(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}

	return &S3Store{client: client, bucket: cfg.Bucket, baseURL: baseURL}, nil
}

// Store uploads the body and returns the public URL for the key.
func (s *S3Store) Store(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("challenges: failed to upload media: %w", err)
	}
	return s.baseURL + "/" + key, nil
}

// DirStore writes proof media to a local directory. Used in development and
// tests where no bucket is configured.
type DirStore struct {
	dir string
}

// NewDirStore constructs a local-disk media store rooted at dir.
func NewDirStore(dir string) (*DirStore, error) {
	if dir == "" {
		return nil, errors.New("challenges: media directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DirStore{dir: dir}, nil
}

// Store writes the body under dir/key and returns a file URL.
func (d *DirStore) Store(_ context.Context, key, _ string, body io.Reader) (string, error) {
	path := filepath.Join(d.dir, filepath.Clean(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	file, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	if _, err := io.Copy(file, body); err != nil {
		return "", err
	}
	return "file://" + path, nil
}
