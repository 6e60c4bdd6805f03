package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/docutag/interlinker/models"
)

// S3Config contains S3 storage configuration
type S3Config struct {
	Endpoint        string // Optional: Custom endpoint for MinIO or DigitalOcean Spaces
	Region          string // AWS region or DO region (e.g., "us-east-1" or "sfo3")
	Bucket          string // S3 bucket name
	AccessKeyID     string // AWS access key ID
	SecretAccessKey string // AWS secret access key
	UsePathStyle    bool   // Use path-style addressing (required for MinIO)
}

// S3Storage handles S3-compatible object storage operations
type S3Storage struct {
	client *s3.Client
	bucket string
	config S3Config
}

// NewS3Storage creates a new S3Storage instance
func NewS3Storage(ctx context.Context, cfg S3Config) (*S3Storage, error) {
	// Validate required configuration
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("S3 region is required")
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("S3 credentials are required")
	}

	// Build AWS config
	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Create S3 client with custom options
	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		// Set custom endpoint if provided (for MinIO or DigitalOcean Spaces)
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Storage{
		client: client,
		bucket: cfg.Bucket,
		config: cfg,
	}, nil
}

// SaveViews uploads the views under views/YYYY/MM/name and returns the key prefix.
// Keys are overwritten; callers pass a unique name such as a run slug.
func (s *S3Storage) SaveViews(ctx context.Context, name string, views models.RenderedViews) (string, error) {
	files, err := viewFiles(views)
	if err != nil {
		return "", err
	}

	// Generate key prefix: views/YYYY/MM/name
	prefix := viewPrefix(time.Now(), name)
	for file, data := range files {
		// Determine content type from the file
		contentType := "text/html; charset=utf-8"
		if file == FileStats {
			contentType = "application/json"
		}
		// Upload to S3
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(path.Join(prefix, file)),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentType),
		})
		if err != nil {
			return "", fmt.Errorf("failed to upload %s to S3: %w", file, err)
		}
	}
	return prefix, nil
}

// ReadView downloads one view
func (s *S3Storage) ReadView(ctx context.Context, prefix, view string) (string, error) {
	file, err := viewFile(view)
	if err != nil {
		return "", err
	}
	// Get object from S3
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path.Join(prefix, file)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get view from S3: %w", err)
	}
	defer result.Body.Close()

	// Read object data
	data, err := io.ReadAll(result.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read view data from S3: %w", err)
	}
	return string(data), nil
}

// DeleteViews deletes the four objects under prefix
func (s *S3Storage) DeleteViews(ctx context.Context, prefix string) error {
	for _, file := range []string{FileOriginal, FileLinked, FileModified, FileStats} {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(path.Join(prefix, file)),
		})
		if err != nil {
			return fmt.Errorf("failed to delete %s from S3: %w", file, err)
		}
	}
	return nil
}

// GetFullPath returns the s3:// URL for a key
func (s *S3Storage) GetFullPath(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, strings.TrimPrefix(key, "/"))
}
