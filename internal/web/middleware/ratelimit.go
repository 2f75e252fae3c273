package middleware

import (
	"net/http"
	"path"

	"github.com/rs/zerolog/log"
	"github.com/ulule/limiter/v3"
	stdlib "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/staffhub/staffhub/internal/rpc"
)

// NewIPRateLimiter returns middleware that limits by client IP (in-memory store).
// rateFormatted: "600-M", "1000-H", "50-S". Empty disables limiting.
func NewIPRateLimiter(rateFormatted string) (func(next http.Handler) http.Handler, error) {
	if rateFormatted == "" {
		return noopMiddleware, nil
	}
	rate, err := limiter.NewRateFromFormatted(rateFormatted)
	if err != nil {
		return nil, err
	}
	instance := limiter.New(memory.NewStore(), rate)
	mw := stdlib.NewMiddleware(instance,
		stdlib.WithLimitReachedHandler(limitReached),
		stdlib.WithErrorHandler(limiterError),
	)
	return mw.Handler, nil
}

// NewProcedureRateLimiter limits only calls to the named procedures, keyed by
// client IP. Every other request passes through untouched.
func NewProcedureRateLimiter(rateFormatted string, procedures ...string) (func(next http.Handler) http.Handler, error) {
	limit, err := NewIPRateLimiter(rateFormatted)
	if err != nil {
		return nil, err
	}

	names := make(map[string]bool, len(procedures))
	for _, p := range procedures {
		names[p] = true
	}

	return func(next http.Handler) http.Handler {
		limited := limit(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if names[path.Base(r.URL.Path)] {
				limited.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}

func limitReached(w http.ResponseWriter, r *http.Request) {
	log.Warn().Str("remote", r.RemoteAddr).Str("path", r.URL.Path).Msg("Rate limit exceeded")
	rpc.WriteError(w, r, rpc.Errorf(rpc.CodeTooManyRequests, "too many requests, try again later"))
}

func limiterError(w http.ResponseWriter, r *http.Request, err error) {
	rpc.WriteError(w, r, rpc.Internal(err))
}

func noopMiddleware(next http.Handler) http.Handler {
	return next
}
