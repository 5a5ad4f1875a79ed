package security

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"net/netip"
	"net/url"
	"strings"

	"github.com/clinova/hookbridge/internal/models"
)

// Reason classifies why a request was denied.
type Reason string

const (
	ReasonMethodNotAllowed Reason = "method_not_allowed"
	ReasonIPRejected       Reason = "ip_rejected"
	ReasonRateLimited      Reason = "rate_limited"
	ReasonUnauthorized     Reason = "unauthorized"
)

// Decision is the outcome of evaluating an inbound request. It is a value,
// never an error: the HTTP layer picks the status code.
type Decision struct {
	Allowed bool
	Reason  Reason
	Detail  string
}

// Authorized is the passing decision.
var Authorized = Decision{Allowed: true}

// Denied builds a failing decision.
func Denied(reason Reason, detail string) Decision {
	return Decision{Reason: reason, Detail: detail}
}

// Secrets carries the decrypted credentials for one definition. Decryption
// happens at the registry boundary; this package never sees ciphertext.
type Secrets struct {
	Token     string // bearer
	SecretKey string // hmac
	APIKey    string // api_key
}

// Request is the slice of an inbound HTTP request the evaluator needs.
type Request struct {
	Method   string
	SourceIP string
	Headers  http.Header
	Body     []byte
	Query    url.Values
}

// DefaultAPIKeyHeader is used when a definition does not name its own.
const DefaultAPIKeyHeader = "X-API-Key"

// Evaluator authorizes inbound webhook calls. Checks run in a fixed order
// and short-circuit on the first failure: method, IP allowlist, rate limit,
// then credential check. The rate counter is incremented before the
// credential check, so requests denied on auth still consume quota.
type Evaluator struct {
	gate   *RateGate
	logger *slog.Logger
}

// NewEvaluator creates an evaluator over the given rate gate.
func NewEvaluator(gate *RateGate, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{gate: gate, logger: logger}
}

// Authorize evaluates one inbound request against a definition.
func (e *Evaluator) Authorize(def *models.WebhookDefinition, secrets Secrets, req *Request) Decision {
	if !def.AllowsMethod(req.Method) {
		return Denied(ReasonMethodNotAllowed, "method "+req.Method+" not allowed")
	}

	if len(def.IPAllowlist) > 0 && !ipAllowed(req.SourceIP, def.IPAllowlist) {
		return Denied(ReasonIPRejected, "source IP not in allowlist")
	}

	allowed, err := e.gate.Allow("webhook:"+def.ID, def.RateLimitPerMinute)
	if err != nil {
		// A broken counter store must not open the gate.
		e.logger.Error("rate gate failure", "webhook_id", def.ID, "error", err)
		return Denied(ReasonRateLimited, "rate limiter unavailable")
	}
	if !allowed {
		return Denied(ReasonRateLimited, "rate limit exceeded")
	}

	switch def.AuthType {
	case models.AuthTypeNone, "":
		return Authorized

	case models.AuthTypeBearer:
		if !constantTimeEqual(bearerToken(req.Headers.Get("Authorization")), secrets.Token) || secrets.Token == "" {
			return Denied(ReasonUnauthorized, "invalid bearer token")
		}
		return Authorized

	case models.AuthTypeHMAC:
		signer := NewSigner(secrets.SecretKey)
		message := req.Body
		if req.Method == http.MethodGet {
			message = []byte(CanonicalQuery(req.Query))
		}
		if !signer.Verify(message, req.Headers.Get("X-Signature")) {
			return Denied(ReasonUnauthorized, "invalid signature")
		}
		return Authorized

	case models.AuthTypeAPIKey:
		header := def.APIKeyHeader
		if header == "" {
			header = DefaultAPIKeyHeader
		}
		if !constantTimeEqual(req.Headers.Get(header), secrets.APIKey) || secrets.APIKey == "" {
			return Denied(ReasonUnauthorized, "invalid API key")
		}
		return Authorized

	default:
		return Denied(ReasonUnauthorized, "unknown auth type")
	}
}

// constantTimeEqual compares two credential strings in constant time.
func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// bearerToken extracts the token from an Authorization header.
func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return header[len(prefix):]
}

// ipAllowed checks a source IP against allowlist entries, which may be
// literal addresses or CIDR ranges.
func ipAllowed(sourceIP string, allowlist []string) bool {
	addr, err := netip.ParseAddr(sourceIP)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	for _, entry := range allowlist {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				continue
			}
			if prefix.Contains(addr) {
				return true
			}
			continue
		}
		if allowed, err := netip.ParseAddr(entry); err == nil && allowed.Unmap() == addr {
			return true
		}
	}
	return false
}
