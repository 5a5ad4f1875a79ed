package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/clinova/hookbridge/internal/config"
	"github.com/clinova/hookbridge/internal/models"
)

// ArchiveService exports expired webhook logs to S3-compatible object
// storage before the cleanup pass deletes them.
type ArchiveService struct {
	client  *s3.Client
	bucket  string
	enabled bool
	logger  *slog.Logger
}

// NewArchiveService creates a new archive service.
func NewArchiveService(cfg *appconfig.Config, logger *slog.Logger) (*ArchiveService, error) {
	if !cfg.StorageEnabled {
		logger.Info("archive service disabled - no bucket configured")
		return &ArchiveService{
			enabled: false,
			logger:  logger,
		}, nil
	}

	// Load AWS config with static credentials
	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(cfg.StorageRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.StorageAccessKey,
			cfg.StorageSecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Custom endpoint supports S3-compatible storage (Tigris, MinIO, etc.)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.StorageEndpoint)
		o.UsePathStyle = true
	})

	logger.Info("archive service initialized",
		"bucket", cfg.StorageBucket,
		"endpoint", cfg.StorageEndpoint,
	)

	return &ArchiveService{
		client:  client,
		bucket:  cfg.StorageBucket,
		enabled: true,
		logger:  logger,
	}, nil
}

// IsEnabled returns whether archival is configured and available.
func (s *ArchiveService) IsEnabled() bool {
	return s.enabled
}

// Client returns the underlying S3 client (may be nil if storage is disabled).
func (s *ArchiveService) Client() *s3.Client {
	return s.client
}

// Bucket returns the configured bucket name.
func (s *ArchiveService) Bucket() string {
	return s.bucket
}

// LogArchive is one stored batch of expired logs.
type LogArchive struct {
	ArchivedAt time.Time            `json:"archived_at"`
	Before     time.Time            `json:"before"` // retention cutoff that expired these logs
	Count      int                  `json:"count"`
	Logs       []*models.WebhookLog `json:"logs"`
}

// ArchiveLogs stores a batch of expired logs as a single JSON object.
func (s *ArchiveService) ArchiveLogs(ctx context.Context, before time.Time, logs []*models.WebhookLog) (string, error) {
	if !s.enabled || len(logs) == 0 {
		return "", nil
	}

	archive := &LogArchive{
		ArchivedAt: time.Now().UTC(),
		Before:     before,
		Count:      len(logs),
		Logs:       logs,
	}
	data, err := json.Marshal(archive)
	if err != nil {
		return "", fmt.Errorf("failed to marshal log archive: %w", err)
	}

	key := fmt.Sprintf("archive/webhook-logs/%s.json", archive.ArchivedAt.Format("2006-01-02T15-04-05"))

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to store log archive: %w", err)
	}

	s.logger.Info("archived webhook logs",
		"key", key,
		"log_count", len(logs),
		"size_bytes", len(data),
	)

	return key, nil
}

// GetArchive retrieves a stored archive batch by key.
func (s *ArchiveService) GetArchive(ctx context.Context, key string) (*LogArchive, error) {
	if !s.enabled {
		return nil, fmt.Errorf("storage is not enabled")
	}

	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get log archive: %w", err)
	}
	defer func() { _ = output.Body.Close() }()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read log archive: %w", err)
	}

	var archive LogArchive
	if err := json.Unmarshal(data, &archive); err != nil {
		return nil, fmt.Errorf("failed to unmarshal log archive: %w", err)
	}

	return &archive, nil
}

// ListArchives returns the keys of all stored archive batches.
func (s *ArchiveService) ListArchives(ctx context.Context) ([]string, error) {
	if !s.enabled {
		return nil, nil
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String("archive/webhook-logs/"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return keys, fmt.Errorf("failed to list archives: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}

	return keys, nil
}
