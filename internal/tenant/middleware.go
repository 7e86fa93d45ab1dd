package tenant

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrUnknownTenant is returned by a LookupFunc when no tenant matches.
var ErrUnknownTenant = errors.New("unknown tenant")

// LookupFunc maps a tenant slug to its canonical id.
type LookupFunc func(ctx context.Context, slug string) (string, error)

// Resolver resolves tenant identifiers from HTTP requests using either headers or subdomains.
//
// Values that are already UUIDs are used as is. Anything else is treated as a
// slug and passed through Lookup when one is configured.
type Resolver struct {
	HeaderName    string
	RootDomain    string
	DefaultTenant string
	Lookup        LookupFunc
	Logger        zerolog.Logger
}

// NewResolver returns a resolver configured with the provided header name, root domain, and default tenant slug.
// If headerName is empty, "X-Tenant-ID" is used.
func NewResolver(headerName, rootDomain, defaultTenant string) *Resolver {
	if headerName == "" {
		headerName = "X-Tenant-ID"
	}
	return &Resolver{
		HeaderName:    headerName,
		RootDomain:    strings.ToLower(strings.TrimSpace(rootDomain)),
		DefaultTenant: strings.TrimSpace(defaultTenant),
	}
}

// Middleware resolves the tenant from the request and injects it into the context passed downstream.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	if r == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		tenantID := r.Resolve(req)
		if tenantID == "" {
			tenantID = r.DefaultTenant
		}
		tenantID, err := r.canonical(req.Context(), tenantID)
		if err != nil {
			if !errors.Is(err, ErrUnknownTenant) {
				r.Logger.Error().Err(err).Msg("tenant lookup failed")
			}
			tenantID = ""
		}
		if tenantID != "" {
			ctx := WithTenant(req.Context(), tenantID)
			req = req.WithContext(ctx)
		}
		next.ServeHTTP(w, req)
	})
}

// Resolve attempts to find the tenant identifier from the configured header or the request subdomain.
func (r *Resolver) Resolve(req *http.Request) string {
	if r == nil || req == nil {
		return ""
	}
	if tenantID := strings.TrimSpace(req.Header.Get(r.HeaderName)); tenantID != "" {
		return tenantID
	}

	host := hostWithoutPort(req.Host)
	if host == "" {
		return ""
	}
	subdomain := r.subdomainFromHost(host)
	return strings.TrimSpace(subdomain)
}

func (r *Resolver) subdomainFromHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return ""
	}

	if r.RootDomain != "" {
		if host == r.RootDomain {
			return ""
		}
		suffix := "." + r.RootDomain
		if strings.HasSuffix(host, suffix) {
			host = strings.TrimSuffix(host, suffix)
		} else {
			return ""
		}
	}

	parts := strings.Split(host, ".")
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

func hostWithoutPort(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if strings.HasPrefix(hostport, "[") {
		if idx := strings.Index(hostport, "]"); idx != -1 {
			host := hostport[1:idx]
			if host != "" {
				return host
			}
		}
	}
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return h
	}
	if idx := strings.Index(hostport, ":"); idx != -1 && strings.Count(hostport, ":") == 1 {
		return hostport[:idx]
	}
	return hostport
}

func (r *Resolver) canonical(ctx context.Context, value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if parsed, err := uuid.Parse(value); err == nil {
		return parsed.String(), nil
	}
	if r.Lookup == nil {
		return value, nil
	}
	return r.Lookup(ctx, strings.ToLower(value))
}

// RequireTenant rejects requests whose context carries no tenant.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if _, ok := FromContext(req.Context()); !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":"TENANT_REQUIRED","message":"tenant could not be resolved"}}`))
			return
		}
		next.ServeHTTP(w, req)
	})
}
