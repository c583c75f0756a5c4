package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// KeyStore holds the admin API key.
type KeyStore interface {
	APIKey() (string, error)
	RegenerateAPIKey() (string, error)
}

// AdminAuth protects the admin API when a password is configured. Either
// HTTP basic auth with the password or the admin API key (Bearer or
// x-api-key header) is accepted.
func AdminAuth(password string, keys KeyStore) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if password == "" {
				next.ServeHTTP(w, r)
				return
			}

			if _, pass, ok := r.BasicAuth(); ok && equal(pass, password) {
				next.ServeHTTP(w, r)
				return
			}

			if keys != nil {
				if expected, err := keys.APIKey(); err == nil && expected != "" {
					token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
					if equal(token, expected) || equal(r.Header.Get("x-api-key"), expected) {
						next.ServeHTTP(w, r)
						return
					}
				}
			}

			w.Header().Set("WWW-Authenticate", `Basic realm="Nexus Admin"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}

func equal(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// RateLimit rejects requests beyond rps with a burst of burst. A zero rps
// disables limiting.
func RateLimit(rps float64, burst int) func(next http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger logs each request through zerolog.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(started)).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
