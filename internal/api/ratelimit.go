package api

import (
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	domainerrors "github.com/listenupapp/audiocache/internal/errors"
	"github.com/listenupapp/audiocache/internal/ratelimit"
)

// RateLimiter throttles requests per client.
type RateLimiter = ratelimit.KeyedRateLimiter

// NewRateLimiter creates a per-client limiter allowing rps requests per
// second with the given burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return ratelimit.New(rps, burst)
}

// rateLimited returns the operation middlewares for a throttled route. A nil
// limiter leaves the route unthrottled.
func (s *Server) rateLimited() huma.Middlewares {
	if s.limiter == nil {
		return nil
	}
	return huma.Middlewares{s.rateLimit}
}

// rateLimit rejects requests over the client's budget with 429.
func (s *Server) rateLimit(ctx huma.Context, next func(huma.Context)) {
	key := clientIP(ctx.Header, ctx.RemoteAddr())

	if !s.limiter.Allow(key) {
		s.logger.Warn("Rate limit exceeded",
			"ip", key,
			"path", ctx.URL().Path,
		)
		_ = huma.WriteErr(s.api, ctx, http.StatusTooManyRequests, "Too many requests. Please try again later.",
			&domainerrors.Error{Code: domainerrors.CodeRateLimited, Message: "Too many requests. Please try again later."})
		return
	}

	next(ctx)
}

// clientIP extracts the client IP from the request.
// Checks X-Forwarded-For and X-Real-IP headers before falling back to the remote address.
func clientIP(header func(string) string, remoteAddr string) string {
	if xff := header("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := header("X-Real-IP"); xri != "" {
		return xri
	}

	if i := strings.LastIndexByte(remoteAddr, ':'); i >= 0 {
		return remoteAddr[:i]
	}
	return remoteAddr
}
