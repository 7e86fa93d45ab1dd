package obs

import (
	"context"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
)

type routePatternKey struct{}

type requestInfoKey struct{}

// requestInfo carries values that handlers learn after routing so outer
// middleware can read them once the handler returns.
type requestInfo struct {
	mu     sync.Mutex
	cartID string
}

// WithRoutePattern stores the matched router pattern on the context.
func WithRoutePattern(ctx context.Context, pattern string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, routePatternKey{}, pattern)
}

// RoutePatternFromContext extracts the route pattern from context if present.
func RoutePatternFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(routePatternKey{}).(string); ok {
		return v
	}
	return ""
}

// routeOf resolves the route label of r: an explicit pattern, then the chi
// pattern matched so far, then fallback.
func routeOf(r *http.Request, fallback string) string {
	if route := RoutePatternFromContext(r.Context()); route != "" {
		return route
	}
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if route := rc.RoutePattern(); route != "" {
			return route
		}
	}
	return fallback
}

func withRequestInfo(ctx context.Context) context.Context {
	if _, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		return ctx
	}
	return context.WithValue(ctx, requestInfoKey{}, &requestInfo{})
}

// SetCartID records the cart a request operates on. Request logs and server
// spans pick it up after the handler returns. It is a no-op outside a request
// wrapped by RoutePatternMiddleware.
func SetCartID(ctx context.Context, cartID string) {
	if ctx == nil {
		return
	}
	info, ok := ctx.Value(requestInfoKey{}).(*requestInfo)
	if !ok {
		return
	}
	info.mu.Lock()
	info.cartID = cartID
	info.mu.Unlock()
}

// CartIDFromContext returns the cart recorded with SetCartID.
func CartIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	info, ok := ctx.Value(requestInfoKey{}).(*requestInfo)
	if !ok {
		return ""
	}
	info.mu.Lock()
	defer info.mu.Unlock()
	return info.cartID
}
