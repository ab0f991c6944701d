package rest

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DexBinion/nuscape-backend/internal/metrics"
	"github.com/DexBinion/nuscape-backend/internal/security"
)

type AuthOptions struct {
	// If set (non-empty), enforce exact issuer match.
	ExpectedIssuer string
}

func AuthMiddleware(verifier security.AccessTokenVerifier, opt AuthOptions) func(next http.Handler) http.Handler {
	if verifier == nil {
		panic("AuthMiddleware: nil verifier")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := strings.TrimSpace(r.Header.Get("Authorization"))
			if h == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(h, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			raw := strings.TrimSpace(parts[1])
			if raw == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := verifier.VerifyAccessToken(raw)
			if err != nil {
				// Expired and invalid read the same from outside.
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if opt.ExpectedIssuer != "" && claims.Issuer != opt.ExpectedIssuer {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			did, err := uuid.Parse(strings.TrimSpace(claims.DeviceID))
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := withAuth(r.Context(), AuthContext{
				DeviceID: did,
				Account:  strings.TrimSpace(claims.Account),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimiter gates requests per client IP over a fixed window.
type RateLimiter interface {
	AllowRequest(ctx context.Context, ip string, limit int, window time.Duration) (bool, error)
}

func RateLimitMiddleware(limiter RateLimiter, limit int, window time.Duration) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			allowed, _ := limiter.AllowRequest(r.Context(), ip, limit, window)
			if !allowed {
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP keeps it simple: RemoteAddr host part.
// Trusting X-Forwarded-For blindly is a spoofing risk, so we don't.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

// Instrument records request counts and latency per route pattern.
func Instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next(rec, r)
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CSP for API: restrictive policy suitable for JSON-only endpoints
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'; form-action 'none'")

		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=(), usb=(), bluetooth=()")

		next.ServeHTTP(w, r)
	})
}
