package server

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

type rateLimitContextKey struct{}

// RateLimitInfo is the caller's daily chat allowance, written as
// x-ratelimit-* response headers.
type RateLimitInfo struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// rateLimitSlot is installed by the middleware and filled by handlers.
type rateLimitSlot struct {
	mu   sync.Mutex
	info *RateLimitInfo
}

// SetRateLimits records rl for the current request. No-op outside
// RateLimitMiddleware.
func SetRateLimits(ctx context.Context, rl *RateLimitInfo) {
	if slot, ok := ctx.Value(rateLimitContextKey{}).(*rateLimitSlot); ok {
		slot.mu.Lock()
		slot.info = rl
		slot.mu.Unlock()
	}
}

// GetRateLimits returns the info recorded for the request, or nil.
func GetRateLimits(ctx context.Context) *RateLimitInfo {
	if slot, ok := ctx.Value(rateLimitContextKey{}).(*rateLimitSlot); ok {
		slot.mu.Lock()
		defer slot.mu.Unlock()
		return slot.info
	}
	return nil
}

// RateLimitMiddleware writes the headers for whatever the handler recorded
// with SetRateLimits, just before the response header is sent.
func RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slot := &rateLimitSlot{}
		wrapped := &rateLimitResponseWriter{ResponseWriter: w, slot: slot}
		next.ServeHTTP(wrapped, r.WithContext(context.WithValue(r.Context(), rateLimitContextKey{}, slot)))
	})
}

type rateLimitResponseWriter struct {
	http.ResponseWriter
	slot        *rateLimitSlot
	wroteHeader bool
}

func (rw *rateLimitResponseWriter) WriteHeader(code int) {
	rw.writeHeaders()
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *rateLimitResponseWriter) Write(b []byte) (int, error) {
	rw.writeHeaders()
	return rw.ResponseWriter.Write(b)
}

func (rw *rateLimitResponseWriter) Flush() {
	rw.writeHeaders()
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *rateLimitResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (rw *rateLimitResponseWriter) writeHeaders() {
	if rw.wroteHeader {
		return
	}
	rw.wroteHeader = true

	rw.slot.mu.Lock()
	rl := rw.slot.info
	rw.slot.mu.Unlock()
	if rl == nil {
		return
	}

	h := rw.Header()
	h.Set("x-ratelimit-limit-requests", strconv.Itoa(rl.Limit))
	h.Set("x-ratelimit-remaining-requests", strconv.Itoa(rl.Remaining))
	if !rl.Reset.IsZero() {
		h.Set("x-ratelimit-reset-requests", rl.Reset.UTC().Format(time.RFC3339))
	}
}
