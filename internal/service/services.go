// Package service contains the business logic layer.
package service

import (
	"fmt"
	"log/slog"

	"github.com/clinova/hookbridge/internal/config"
	"github.com/clinova/hookbridge/internal/crypto"
	"github.com/clinova/hookbridge/internal/mapping"
	"github.com/clinova/hookbridge/internal/repository"
	"github.com/clinova/hookbridge/internal/security"
)

// Services holds all service instances.
type Services struct {
	Registry *RegistryService
	Ingest   *IngestService
	Dispatch *DispatchService
	Harness  *HarnessService
	Archive  *ArchiveService
	Cleanup  *CleanupService
}

// NewServices creates all service instances.
func NewServices(cfg *config.Config, repos *repository.Repositories, logger *slog.Logger) (*Services, error) {
	// Create encryptor first - needed for webhook credential storage
	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	// Create archive service first (needed by cleanup for log export)
	archiveSvc, err := NewArchiveService(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive service: %w", err)
	}

	registrySvc := NewRegistryService(repos, encryptor, cfg.DefaultRateLimit, logger)

	gate := security.NewRateGate(nil, nil)
	evaluator := security.NewEvaluator(gate, logger)
	engine := mapping.NewEngine(nil, nil)

	dispatchSvc := NewDispatchService(registrySvc, repos, cfg.DispatchTimeout, cfg.DispatchMaxAttempts, logger)
	ingestSvc := NewIngestService(registrySvc, evaluator, engine, repos, dispatchSvc, logger)
	harnessSvc := NewHarnessService(registrySvc, engine, repos, cfg.BaseURL, cfg.HarnessPollInterval, cfg.HarnessRequestTimeout, logger)
	cleanupSvc := NewCleanupService(repos.WebhookLog, archiveSvc, logger)

	return &Services{
		Registry: registrySvc,
		Ingest:   ingestSvc,
		Dispatch: dispatchSvc,
		Harness:  harnessSvc,
		Archive:  archiveSvc,
		Cleanup:  cleanupSvc,
	}, nil
}
