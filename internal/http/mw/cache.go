// Package mw provides HTTP middleware for the HookBridge API.
package mw

import (
	"net/http"
	"strings"
)

// CachePolicy defines caching behavior for a route pattern.
type CachePolicy struct {
	// Pattern is the route pattern to match (prefix match by default).
	Pattern string
	// CacheControl is the Cache-Control header value to set.
	CacheControl string
}

// CacheConfig holds the cache middleware configuration.
type CacheConfig struct {
	// Policies are the cache policies to apply, matched in order.
	Policies []CachePolicy
	// DefaultPolicy is applied when no policy matches (empty = no header set).
	DefaultPolicy string
}

// DefaultCacheConfig returns sensible cache defaults for the API.
// The health endpoint gets CDN-friendly caching, K8s probes are never
// cached, and everything touching webhook state stays uncached.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		DefaultPolicy: "private, no-cache",
		Policies: []CachePolicy{
			// Public endpoints - CDN cacheable
			{Pattern: "/api/v1/health", CacheControl: "public, max-age=60"},

			// K8s probes - never cache (must reflect real-time state)
			{Pattern: "/healthz", CacheControl: "no-store"},
			{Pattern: "/readyz", CacheControl: "no-store"},

			// Schema catalog is stable between deployments
			{Pattern: "/api/v1/schemas", CacheControl: "private, max-age=300"},

			// Webhook state and logs - dynamic data (no cache)
			{Pattern: "/api/v1/webhooks", CacheControl: "private, no-cache"},
		},
	}
}

// Cache returns middleware that sets Cache-Control headers based on route patterns.
// For non-GET/HEAD requests, it sets "no-store" to prevent caching of mutations.
// For GET/HEAD requests, it matches against configured policies in order.
func Cache(cfg CacheConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Non-GET/HEAD requests should never be cached
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				w.Header().Set("Cache-Control", "no-store")
				next.ServeHTTP(w, r)
				return
			}

			// Find matching policy (first match wins)
			path := r.URL.Path
			for _, policy := range cfg.Policies {
				if matchesPattern(path, policy.Pattern) {
					w.Header().Set("Cache-Control", policy.CacheControl)
					next.ServeHTTP(w, r)
					return
				}
			}

			// Apply default policy if no match and default is set
			if cfg.DefaultPolicy != "" {
				w.Header().Set("Cache-Control", cfg.DefaultPolicy)
			}

			next.ServeHTTP(w, r)
		})
	}
}

// matchesPattern checks if the path matches the pattern.
// Supports prefix matching and substring matching for patterns like "/listen".
func matchesPattern(path, pattern string) bool {
	if path == pattern || strings.HasPrefix(path, pattern) {
		return true
	}
	if strings.Contains(path, pattern) {
		return true
	}
	return false
}
