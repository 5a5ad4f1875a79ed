package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/clinova/hookbridge/internal/models"
	"github.com/clinova/hookbridge/internal/repository"
)

// LogArchiver exports expired logs to durable storage before the cleanup
// pass deletes them. *ArchiveService implements it.
type LogArchiver interface {
	IsEnabled() bool
	ArchiveLogs(ctx context.Context, before time.Time, logs []*models.WebhookLog) (string, error)
}

// CleanupService enforces the webhook log retention window. Expired logs
// are exported to object storage first when archival is configured.
type CleanupService struct {
	logRepo    repository.WebhookLogRepository
	archiveSvc LogArchiver
	logger     *slog.Logger
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(logRepo repository.WebhookLogRepository, archiveSvc LogArchiver, logger *slog.Logger) *CleanupService {
	return &CleanupService{
		logRepo:    logRepo,
		archiveSvc: archiveSvc,
		logger:     logger.With("component", "cleanup"),
	}
}

// CleanupResult contains the results of one retention pass.
type CleanupResult struct {
	LogsDeleted int
	ArchiveKey  string
	Errors      []error
}

// CleanupOldLogs removes webhook logs older than the retention window.
func (s *CleanupService) CleanupOldLogs(ctx context.Context, retention time.Duration) (*CleanupResult, error) {
	result := &CleanupResult{}
	cutoff := time.Now().Add(-retention)

	s.logger.Info("starting log cleanup",
		"retention", retention.String(),
		"cutoff", cutoff.Format(time.RFC3339),
	)

	expired, err := s.logRepo.ListOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("failed to list expired logs", "error", err)
		result.Errors = append(result.Errors, err)
		return result, err
	}
	if len(expired) == 0 {
		s.logger.Info("cleanup completed", "logs_deleted", 0)
		return result, nil
	}

	// Archive before deleting. If the export fails the rows stay put and
	// the next pass retries them.
	if s.archiveSvc != nil && s.archiveSvc.IsEnabled() {
		key, err := s.archiveSvc.ArchiveLogs(ctx, cutoff, expired)
		if err != nil {
			s.logger.Error("failed to archive expired logs, keeping rows", "count", len(expired), "error", err)
			result.Errors = append(result.Errors, err)
			return result, err
		}
		result.ArchiveKey = key
	}

	deleted, err := s.logRepo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("failed to delete expired logs", "error", err)
		result.Errors = append(result.Errors, err)
		return result, err
	}
	result.LogsDeleted = deleted

	s.logger.Info("cleanup completed",
		"logs_deleted", result.LogsDeleted,
		"archive_key", result.ArchiveKey,
		"errors", len(result.Errors),
	)

	return result, nil
}

// RunScheduledCleanup runs the retention pass as a background goroutine.
// It runs immediately on start and then at the specified interval.
func (s *CleanupService) RunScheduledCleanup(ctx context.Context, retention, interval time.Duration) {
	s.logger.Info("starting scheduled cleanup",
		"retention", retention.String(),
		"interval", interval.String(),
	)

	// Run immediately on start
	if _, err := s.CleanupOldLogs(ctx, retention); err != nil {
		s.logger.Error("initial cleanup failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduled cleanup stopped")
			return
		case <-ticker.C:
			if _, err := s.CleanupOldLogs(ctx, retention); err != nil {
				s.logger.Error("scheduled cleanup failed", "error", err)
			}
		}
	}
}
