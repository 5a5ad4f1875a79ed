package mw

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// IPDenylist blocks inbound requests from denied IPs using an S3-backed list.
// Features:
// - Lazy loading: doesn't fetch until first request
// - Etag caching: only downloads when the list changes
// - Error backoff: waits before retrying on S3 errors
// - Fail open: allows requests if the list is unavailable
type IPDenylist struct {
	s3Client *s3.Client
	bucket   string
	key      string

	mu           sync.RWMutex
	denied       map[string]bool // exact IP matches
	deniedCIDRs  []*net.IPNet    // CIDR ranges
	etag         string
	lastCheck    time.Time
	lastError    time.Time
	initialized  bool
	cacheTTL     time.Duration
	errorBackoff time.Duration
	logger       *slog.Logger
}

// DenylistConfig holds configuration for the IP denylist.
type DenylistConfig struct {
	S3Client     *s3.Client
	Bucket       string
	Key          string
	CacheTTL     time.Duration // How often to check for updates (default: 5 min)
	ErrorBackoff time.Duration // How long to wait after an error (default: 1 min)
	Logger       *slog.Logger
}

// NewIPDenylist creates a new IP denylist middleware.
// The list is lazy-loaded on first request.
func NewIPDenylist(cfg DenylistConfig) *IPDenylist {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.ErrorBackoff == 0 {
		cfg.ErrorBackoff = 1 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &IPDenylist{
		s3Client:     cfg.S3Client,
		bucket:       cfg.Bucket,
		key:          cfg.Key,
		denied:       make(map[string]bool),
		deniedCIDRs:  make([]*net.IPNet, 0),
		cacheTTL:     cfg.CacheTTL,
		errorBackoff: cfg.ErrorBackoff,
		logger:       cfg.Logger,
	}
}

// Middleware returns the HTTP middleware handler.
func (d *IPDenylist) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip if no S3 client configured (denylist disabled)
			if d.s3Client == nil {
				next.ServeHTTP(w, r)
				return
			}

			// Lazy load / refresh denylist (non-blocking on error)
			d.maybeRefresh(r.Context())

			clientIP := extractIP(r)
			if d.isDenied(clientIP) {
				d.logger.Warn("blocked request from denylisted IP",
					"ip", clientIP,
					"path", r.URL.Path,
				)
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// maybeRefresh checks if we need to refresh the denylist from S3.
// It's non-blocking and fails open on errors.
func (d *IPDenylist) maybeRefresh(ctx context.Context) {
	d.mu.RLock()
	needsRefresh := !d.initialized || time.Since(d.lastCheck) > d.cacheTTL
	inErrorBackoff := !d.lastError.IsZero() && time.Since(d.lastError) < d.errorBackoff
	d.mu.RUnlock()

	if !needsRefresh || inErrorBackoff {
		return
	}

	// Refresh in background to not block requests
	go d.refresh(ctx)
}

// refresh fetches the denylist from S3. The object is plain text with one
// IP or CIDR per line; blank lines and lines starting with # are skipped.
func (d *IPDenylist) refresh(ctx context.Context) {
	d.mu.Lock()
	// Double-check after acquiring lock
	if d.initialized && time.Since(d.lastCheck) < d.cacheTTL {
		d.mu.Unlock()
		return
	}
	currentEtag := d.etag
	d.mu.Unlock()

	input := &s3.GetObjectInput{
		Bucket: &d.bucket,
		Key:    &d.key,
	}
	if currentEtag != "" {
		input.IfNoneMatch = &currentEtag
	}

	resp, err := d.s3Client.GetObject(ctx, input)
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			// Denylist file doesn't exist - that's OK, just mark as checked
			d.mu.Lock()
			d.initialized = true
			d.lastCheck = time.Now()
			d.lastError = time.Now() // Backoff before checking again
			d.mu.Unlock()
			d.logger.Debug("denylist file not found in S3, will retry later",
				"bucket", d.bucket,
				"key", d.key,
			)
			return
		}

		// Check for 304 Not Modified (etag match)
		var notModified interface{ ErrorCode() string }
		if errors.As(err, &notModified) && notModified.ErrorCode() == "NotModified" {
			d.mu.Lock()
			d.lastCheck = time.Now()
			d.mu.Unlock()
			return
		}

		// Other error - log and backoff
		d.mu.Lock()
		d.lastError = time.Now()
		d.initialized = true // Don't keep blocking on init
		d.mu.Unlock()
		d.logger.Error("failed to fetch denylist from S3",
			"error", err,
			"bucket", d.bucket,
			"key", d.key,
		)
		return
	}
	defer resp.Body.Close()

	denied := make(map[string]bool)
	var cidrs []*net.IPNet

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		entry := strings.TrimSpace(scanner.Text())
		if entry == "" || strings.HasPrefix(entry, "#") {
			continue
		}

		if strings.Contains(entry, "/") {
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				d.logger.Warn("invalid CIDR in denylist", "entry", entry, "error", err)
				continue
			}
			cidrs = append(cidrs, ipNet)
		} else {
			if ip := net.ParseIP(entry); ip != nil {
				denied[ip.String()] = true
			} else {
				d.logger.Warn("invalid IP in denylist", "entry", entry)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		d.mu.Lock()
		d.lastError = time.Now()
		d.initialized = true
		d.mu.Unlock()
		d.logger.Error("failed to read denylist", "error", err)
		return
	}

	// Update cache
	d.mu.Lock()
	d.denied = denied
	d.deniedCIDRs = cidrs
	d.initialized = true
	d.lastCheck = time.Now()
	d.lastError = time.Time{} // Clear error state
	if resp.ETag != nil {
		d.etag = *resp.ETag
	}
	d.mu.Unlock()

	d.logger.Info("denylist refreshed",
		"exactIPs", len(denied),
		"cidrRanges", len(cidrs),
	)
}

// isDenied checks if an IP is in the denylist.
func (d *IPDenylist) isDenied(ipStr string) bool {
	if ipStr == "" {
		return false
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.denied[ip.String()] {
		return true
	}

	for _, cidr := range d.deniedCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}

	return false
}

// extractIP gets the client IP from the request.
// Assumes middleware.RealIP has already been applied.
func extractIP(r *http.Request) string {
	// chi's RealIP middleware sets RemoteAddr to the real IP
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr might not have a port
		return r.RemoteAddr
	}
	return ip
}
