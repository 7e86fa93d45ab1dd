// Package security holds request hardening middleware shared by the API routes.
package security

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/noah-isme/toko-admin/internal/common"
)

// BodyLimit enforces a maximum request payload size.
type BodyLimit struct {
	Max int64
}

func tooLarge(w http.ResponseWriter, max int64) {
	common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large",
		map[string]any{"maxBytes": max})
}

// Middleware rejects requests exceeding the configured limit with HTTP 413.
// Bodies of unknown length are buffered up to Max+1 bytes.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.Max <= 0 || r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > b.Max {
			tooLarge(w, b.Max)
			return
		}

		buf, err := io.ReadAll(io.LimitReader(r.Body, b.Max+1))
		if err != nil && !errors.Is(err, io.EOF) {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
			return
		}
		if int64(len(buf)) > b.Max {
			tooLarge(w, b.Max)
			return
		}
		_ = r.Body.Close()

		r.Body = io.NopCloser(bytes.NewReader(buf))
		r.ContentLength = int64(len(buf))
		next.ServeHTTP(w, r)
	})
}

// Headers attaches the response headers every JSON endpoint carries.
type Headers struct {
	HSTSMaxAge int
}

// Middleware sets nosniff, frame and referrer headers. Cart and admin
// responses hold per-visitor prices, so they are never cached by proxies.
func (h Headers) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("X-Frame-Options", "DENY")
		headers.Set("Referrer-Policy", "no-referrer")
		headers.Set("Cache-Control", "no-store")
		if h.HSTSMaxAge > 0 && r.TLS != nil {
			headers.Set("Strict-Transport-Security", "max-age="+strconv.Itoa(h.HSTSMaxAge)+"; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}
