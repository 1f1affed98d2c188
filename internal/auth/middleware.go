// Package auth implements optional HTTP basic authentication against
// bcrypt password hashes.
package auth

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/alexjbarnes/gallery-sync/internal/metrics"
)

// Realm is advertised in the WWW-Authenticate challenge.
const Realm = "gallery-sync"

// UserCredentials maps usernames to bcrypt hashes.
type UserCredentials map[string]string

type contextKey int

const (
	ctxUserID contextKey = iota
	ctxRemoteIP
)

// RequestUserID returns the authenticated user from the context, or "".
func RequestUserID(ctx context.Context) string {
	v, _ := ctx.Value(ctxUserID).(string)
	return v
}

// RequestRemoteIP returns the client IP from the context, or "".
func RequestRemoteIP(ctx context.Context) string {
	v, _ := ctx.Value(ctxRemoteIP).(string)
	return v
}

// remoteIP extracts the IP address from r.RemoteAddr, stripping the
// port. Falls back to the raw value if parsing fails.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

// dummyHash is compared against for unknown users so a miss costs the
// same bcrypt work as a wrong password.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("\x00invalid"), bcrypt.DefaultCost)

// Middleware returns HTTP middleware requiring basic auth credentials
// that match users. With no users configured every request passes.
// Repeated failures from one IP are rejected with 429 for a while.
func Middleware(users UserCredentials, logger *slog.Logger) func(http.Handler) http.Handler {
	if len(users) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	limiter := newFailureLimiter()
	challenge := `Basic realm="` + Realm + `", charset="UTF-8"`

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteIP(r)

			if limiter.blocked(ip) {
				logger.Warn("login rate limited", slog.String("ip", ip))
				http.Error(w, "too many failed login attempts, try again later", http.StatusTooManyRequests)

				return
			}

			username, password, ok := r.BasicAuth()
			if !ok {
				logger.Debug("middleware: no credentials",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", challenge)
				http.Error(w, "unauthorized", http.StatusUnauthorized)

				return
			}

			hash, known := users[username]
			if !known {
				hash = string(dummyHash)
			}

			if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil || !known {
				logger.Warn("login failed",
					slog.String("username", username),
					slog.String("ip", ip),
				)
				limiter.fail(ip)
				metrics.RecordAuthAttempt(false)

				w.Header().Set("WWW-Authenticate", challenge)
				http.Error(w, "unauthorized", http.StatusUnauthorized)

				return
			}

			limiter.forget(ip)
			metrics.RecordAuthAttempt(true)

			ctx := r.Context()
			ctx = context.WithValue(ctx, ctxUserID, username)
			ctx = context.WithValue(ctx, ctxRemoteIP, ip)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
