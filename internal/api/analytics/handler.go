package analytics

import (
	"context"
	"net/http"
	"sort"
	"time"

	"onboardr/internal/api/response"
	"onboardr/pkg/errors"
	"onboardr/pkg/logger"
)

const (
	cacheControl       = "public, s-maxage=30, stale-while-revalidate=60"
	defaultTimeout     = 3 * time.Second
	slowResponseWarnAt = time.Second
)

// Options configures the handler
type Options struct {
	// RateLimit is requests per minute per client; 0 disables limiting
	RateLimit int
	Timeout   time.Duration
	// Required maps environment variable names to their loaded values.
	// Any empty value fails every request with CONFIG_ERROR.
	Required map[string]string
}

// Handler serves GET /api/analytics
type Handler struct {
	svc      *Service
	limiter  *ClientLimiter
	timeout  time.Duration
	required map[string]string
	log      *logger.Logger
}

// NewHandler creates the handler
func NewHandler(svc *Service, opts Options, log *logger.Logger) *Handler {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Handler{
		svc:      svc,
		limiter:  NewClientLimiter(opts.RateLimit),
		timeout:  opts.Timeout,
		required: opts.Required,
		log:      log.Component("analytics_api"),
	}
}

func (h *Handler) missingConfig() []string {
	var missing []string
	for name, value := range h.required {
		if value == "" {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// ServeHTTP validates config, rate limits per client, then builds the dashboard
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if missing := h.missingConfig(); len(missing) > 0 {
		h.log.Warnw("Missing environment variables", "missing", missing)
		response.FromError(w, errors.Wrapf(errors.ErrConfig, "missing %v", missing))
		return
	}

	if !h.limiter.Allow(ClientIP(r)) {
		h.log.Warnw("Rate limit exceeded")
		response.Error(w, http.StatusTooManyRequests, errors.CodeRateLimited,
			"Rate limit exceeded. Please try again later.")
		return
	}

	tf, err := ParseTimeframe(r.URL.Query().Get("tf"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, errors.CodeInvalidInput, "Invalid parameters")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	dashboard, err := h.svc.Dashboard(ctx, tf)
	if err != nil {
		h.log.Errorw("Analytics request failed", "timeframe", tf, "error", err)
		if errors.Is(err, context.DeadlineExceeded) {
			response.Error(w, http.StatusRequestTimeout, errors.CodeTimeout, "Request timeout")
			return
		}
		response.FromError(w, err)
		return
	}

	w.Header().Set("Cache-Control", cacheControl)
	response.Success(w, http.StatusOK, dashboard)

	if d := time.Since(start); d > slowResponseWarnAt {
		h.log.Warnw("Slow analytics response", "duration", d, "timeframe", tf)
	}
}
