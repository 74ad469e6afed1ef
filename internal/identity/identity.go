// Package identity provides anonymous per-device operator identity and
// per-request conversation session ids.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	OperatorCookieName   = "fleet_operator"
	SessionHeaderName    = "X-Fleet-Session-ID"
	operatorCookieMaxAge = 30 * 24 * time.Hour
)

type contextKey int

const (
	operatorKey contextKey = iota
	sessionIDKey
	sessionGeneratedKey
)

var (
	operatorIDPattern = regexp.MustCompile(`^op_[a-f0-9]{32}$`)
	sessionIDPattern  = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// OperatorFromContext extracts the operator id from the request context.
func OperatorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(operatorKey).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext extracts the conversation session id from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// SessionIDGenerated reports whether the request carried no usable session id
// and one was minted for it.
func SessionIDGenerated(ctx context.Context) bool {
	v, _ := ctx.Value(sessionGeneratedKey).(bool)
	return v
}

// WithOperator returns ctx carrying operator; used by non-HTTP entry points.
func WithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, operatorKey, operator)
}

func generateOperatorID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate operator id: %w", err)
	}
	return "op_" + hex.EncodeToString(buf), nil
}

// ValidSessionID reports whether id is an acceptable session id.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

func setOperatorCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     OperatorCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(operatorCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(operatorCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateOperator(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(OperatorCookieName); err == nil && operatorIDPattern.MatchString(c.Value) {
		setOperatorCookie(w, c.Value, isDev)
		return c.Value, nil
	}
	id, err := generateOperatorID()
	if err != nil {
		return "", err
	}
	setOperatorCookie(w, id, isDev)
	return id, nil
}

func sessionIDFromRequest(r *http.Request) (string, bool) {
	sid := strings.TrimSpace(r.Header.Get(SessionHeaderName))
	if sid == "" {
		sid = strings.TrimSpace(r.URL.Query().Get("session_id"))
	}
	if sid != "" && ValidSessionID(sid) {
		return sid, false
	}
	return uuid.NewString(), true
}

// Middleware injects the operator identity and the conversation session id.
// The session id comes from the X-Fleet-Session-ID header, then the
// session_id query parameter; otherwise a fresh one is generated and echoed
// back in the response header.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			operator, err := getOrCreateOperator(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish operator identity"}`, http.StatusInternalServerError)
				return
			}

			sessionID, generated := sessionIDFromRequest(r)
			w.Header().Set(SessionHeaderName, sessionID)

			ctx := context.WithValue(r.Context(), operatorKey, operator)
			ctx = context.WithValue(ctx, sessionIDKey, sessionID)
			ctx = context.WithValue(ctx, sessionGeneratedKey, generated)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for rate limiting and tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
