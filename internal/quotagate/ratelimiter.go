package quotagate

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/httprate"

	"github.com/x402fac/facilitator/internal/config"
	"github.com/x402fac/facilitator/internal/metrics"
)

// RateLimitMiddleware builds the per-minute limiter (layer 1) as chi
// middleware on httprate's sliding-window counter, so counts are not reset
// at fixed minute boundaries. It is keyed by payer address when the caller identifies
// itself and by remote IP otherwise. The limit applied is the payer's
// subscription tier's rate_limit_per_minute, resolved through the same
// TierStore the monthly QuotaGate (layer 2) uses; payers who don't
// identify themselves, or whose tier carries no override, fall back to
// cfg.DefaultLimit. Parsing the request body to recover a payer this early
// would cost a JSON decode on every request regardless of outcome, so
// identification stays header/query based, same tradeoff the teacher's
// wallet limiter makes.
func RateLimitMiddleware(cfg config.RateLimitConfig, tiers TierStore, tierLimits map[string]int, m *metrics.Metrics) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	window := cfg.Window.Duration
	if window <= 0 {
		window = time.Minute
	}
	defaultLimit := cfg.DefaultLimit
	if defaultLimit <= 0 {
		defaultLimit = 60
	}

	tl := &tieredLimiter{
		window:       window,
		defaultLimit: defaultLimit,
		tierLimits:   tierLimits,
		tiers:        tiers,
		limiters:     make(map[int]*httprate.RateLimiter),
		handler:      rateLimitedHandler(m),
	}
	return tl.middleware
}

// tieredLimiter dispatches each request to one of several httprate
// limiters, one per distinct requests-per-minute value seen across
// configured tiers, so a payer's limit actually reflects their tier
// instead of one limit applied uniformly to everyone.
type tieredLimiter struct {
	window       time.Duration
	defaultLimit int
	tierLimits   map[string]int // tier name -> requests/min; 0 or absent falls back to defaultLimit
	tiers        TierStore
	handler      http.HandlerFunc

	mu       sync.Mutex
	limiters map[int]*httprate.RateLimiter
}

func (t *tieredLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.limiterFor(t.resolveLimit(r)).Handler(next).ServeHTTP(w, r)
	})
}

func (t *tieredLimiter) resolveLimit(r *http.Request) int {
	payer := payerFromRequest(r)
	if payer == "" || t.tiers == nil {
		return t.defaultLimit
	}
	assignment, err := t.tiers.Resolve(r.Context(), payer)
	if err != nil {
		return t.defaultLimit
	}
	if limit, ok := t.tierLimits[assignment.Tier]; ok && limit > 0 {
		return limit
	}
	return t.defaultLimit
}

func (t *tieredLimiter) limiterFor(limit int) *httprate.RateLimiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	rl, ok := t.limiters[limit]
	if !ok {
		rl = httprate.NewRateLimiter(limit, t.window,
			httprate.WithKeyFuncs(payerOrIPKey),
			httprate.WithLimitHandler(t.handler),
		)
		t.limiters[limit] = rl
	}
	return rl
}

func payerOrIPKey(r *http.Request) (string, error) {
	if payer := payerFromRequest(r); payer != "" {
		return "payer:" + payer, nil
	}
	return httprate.KeyByIP(r)
}

// payerFromRequest looks for an explicit payer identity a well-behaved
// client can supply; a malicious caller gains nothing by omitting it since
// they fall back to IP limiting instead.
func payerFromRequest(r *http.Request) string {
	if payer := r.Header.Get("X-Payer-Address"); payer != "" {
		return payer
	}
	if payer := r.URL.Query().Get("payer"); payer != "" {
		return payer
	}
	return ""
}

type rateLimitedBody struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retryAfterSeconds"`
}

func rateLimitedHandler(m *metrics.Metrics) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if m != nil {
			m.RateLimitHitsTotal.WithLabelValues(r.URL.Path).Inc()
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(rateLimitedBody{
			Error:             "rate_limited",
			Message:           fmt.Sprintf("rate limit exceeded for %s", r.URL.Path),
			RetryAfterSeconds: 60,
		})
	}
}

// TierLimitsFromConfig extracts each tier's per-minute limit for
// RateLimitMiddleware from the monthly-quota tier config, so the two
// layers read their tier budgets from the same config.QuotaConfig.Tiers
// source instead of duplicating it.
func TierLimitsFromConfig(cfg config.QuotaConfig) map[string]int {
	limits := make(map[string]int, len(cfg.Tiers))
	for name, tier := range cfg.Tiers {
		limits[name] = tier.RateLimitPerMinute
	}
	return limits
}
