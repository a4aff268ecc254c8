// Package middleware provides HTTP middleware for the fleet dispatch gateway.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// RequestIDHeader carries the correlation ID in both directions.
const RequestIDHeader = "X-Request-Id"

// maxRequestIDLength bounds caller-supplied IDs before they reach logs and spans.
const maxRequestIDLength = 64

type requestIDKey struct{}

// requestInfo is shared by every middleware layer of one request. Auth runs deep in
// the chain, so it records the subject here for the outer logger and tracer to read.
type requestInfo struct {
	id     string
	userID atomic.Pointer[string]
}

// RequestID assigns each request a correlation ID, reusing a well-formed X-Request-Id
// from the caller, and echoes it in the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if !validRequestID(id) {
			id = newRequestID()
		}

		w.Header().Set(RequestIDHeader, id)

		ctx := context.WithValue(r.Context(), requestIDKey{}, &requestInfo{id: id})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newRequestID() string {
	return "req_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.' || c == ':':
		default:
			return false
		}
	}
	return true
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if info, ok := ctx.Value(requestIDKey{}).(*requestInfo); ok {
		return info.id
	}
	return ""
}

func noteUser(ctx context.Context, userID string) {
	if info, ok := ctx.Value(requestIDKey{}).(*requestInfo); ok {
		info.userID.Store(&userID)
	}
}

// requestUser returns the subject Auth recorded for this request, if any.
func requestUser(ctx context.Context) string {
	if info, ok := ctx.Value(requestIDKey{}).(*requestInfo); ok {
		if id := info.userID.Load(); id != nil {
			return *id
		}
	}
	return GetUserID(ctx)
}
