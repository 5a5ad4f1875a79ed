package mw

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	logfilter "github.com/jmylchreest/slog-logfilter"
)

// LogFiltersConfig holds configuration for the log filters loader.
type LogFiltersConfig struct {
	S3Client     *s3.Client
	Bucket       string
	Key          string        // Default: "config/logfilters.json"
	CacheTTL     time.Duration // How often to check for updates (default: 5 min)
	ErrorBackoff time.Duration // How long to wait after an error (default: 1 min)
	Logger       *slog.Logger
}

// LogFiltersLoader loads log filters from S3 and applies them to slog-logfilter.
// Features:
// - Etag caching: only downloads when filters change
// - Error backoff: waits before retrying on S3 errors
// - Fail safe: keeps existing filters if update fails
type LogFiltersLoader struct {
	s3Client *s3.Client
	bucket   string
	key      string

	mu           sync.Mutex
	etag         string
	lastError    time.Time
	cacheTTL     time.Duration
	errorBackoff time.Duration
	logger       *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewLogFiltersLoader creates a new log filters loader.
func NewLogFiltersLoader(cfg LogFiltersConfig) *LogFiltersLoader {
	if cfg.Key == "" {
		cfg.Key = "config/logfilters.json"
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.ErrorBackoff == 0 {
		cfg.ErrorBackoff = 1 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &LogFiltersLoader{
		s3Client:     cfg.S3Client,
		bucket:       cfg.Bucket,
		key:          cfg.Key,
		cacheTTL:     cfg.CacheTTL,
		errorBackoff: cfg.ErrorBackoff,
		logger:       cfg.Logger,
		stopCh:       make(chan struct{}),
	}
}

// Start begins the periodic refresh of log filters.
// It immediately fetches the filters and then periodically checks for updates.
func (l *LogFiltersLoader) Start(ctx context.Context) {
	if l.s3Client == nil {
		l.logger.Info("log filters loader disabled (no S3 client)")
		return
	}

	l.refresh(ctx)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.cacheTTL)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				l.refresh(context.Background())
			case <-l.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	l.logger.Info("log filters loader started",
		"bucket", l.bucket,
		"key", l.key,
		"cache_ttl", l.cacheTTL.String(),
	)
}

// Stop stops the periodic refresh.
func (l *LogFiltersLoader) Stop() {
	close(l.stopCh)
	l.wg.Wait()
}

// refresh fetches the log filters from S3.
func (l *LogFiltersLoader) refresh(ctx context.Context) {
	l.mu.Lock()
	if !l.lastError.IsZero() && time.Since(l.lastError) < l.errorBackoff {
		l.mu.Unlock()
		return
	}
	currentEtag := l.etag
	l.mu.Unlock()

	input := &s3.GetObjectInput{
		Bucket: &l.bucket,
		Key:    &l.key,
	}
	if currentEtag != "" {
		quotedEtag := "\"" + currentEtag + "\""
		input.IfNoneMatch = &quotedEtag
	}

	resp, err := l.s3Client.GetObject(ctx, input)
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			l.mu.Lock()
			l.lastError = time.Now()
			l.mu.Unlock()
			l.logger.Info("log filters file not found in S3 (using default filters)",
				"bucket", l.bucket,
				"key", l.key,
			)
			return
		}

		// Check for 304 Not Modified
		var notModified interface{ ErrorCode() string }
		if errors.As(err, &notModified) && notModified.ErrorCode() == "NotModified" {
			return
		}

		l.mu.Lock()
		l.lastError = time.Now()
		l.mu.Unlock()
		l.logger.Error("failed to fetch log filters from S3",
			"error", err,
			"bucket", l.bucket,
			"key", l.key,
		)
		return
	}
	defer resp.Body.Close()

	var filters []logfilter.LogFilter
	if err := json.NewDecoder(resp.Body).Decode(&filters); err != nil {
		l.mu.Lock()
		l.lastError = time.Now()
		l.mu.Unlock()
		l.logger.Error("failed to parse log filters JSON", "error", err)
		return
	}

	logfilter.SetFilters(filters)

	newEtag := ""
	if resp.ETag != nil {
		newEtag = *resp.ETag
		if len(newEtag) >= 2 && newEtag[0] == '"' && newEtag[len(newEtag)-1] == '"' {
			newEtag = newEtag[1 : len(newEtag)-1]
		}
	}

	l.mu.Lock()
	l.lastError = time.Time{}
	l.etag = newEtag
	l.mu.Unlock()

	activeCount := 0
	for _, f := range filters {
		if f.IsActive() {
			activeCount++
		}
	}

	l.logger.Info("log filters loaded from S3",
		"bucket", l.bucket,
		"key", l.key,
		"etag", newEtag,
		"total_filters", len(filters),
		"active_filters", activeCount,
	)
}
