// Package audit keeps a per-tenant trail of admin changes to promotions and
// products.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-admin/internal/common"
	"github.com/noah-isme/toko-admin/internal/obs"
)

// ActorKind represents the source of an audited action.
type ActorKind string

const (
	// ActorKindUser represents an authenticated staff member.
	ActorKindUser ActorKind = "user"
	// ActorKindSystem represents internal automated actions.
	ActorKindSystem ActorKind = "system"
	// ActorKindAnonymous represents unauthenticated actors.
	ActorKindAnonymous ActorKind = "anonymous"
)

// Actor describes the entity performing the action.
type Actor struct {
	Kind   ActorKind
	UserID string
}

// Entry is one audited request.
type Entry struct {
	ID           string          `json:"id"`
	ActorKind    ActorKind       `json:"actorKind"`
	ActorUserID  string          `json:"actorUserId,omitempty"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resourceType"`
	ResourceID   string          `json:"resourceId,omitempty"`
	Method       string          `json:"method"`
	Path         string          `json:"path"`
	Route        string          `json:"route,omitempty"`
	Status       int             `json:"status"`
	IP           string          `json:"ip,omitempty"`
	UserAgent    string          `json:"userAgent,omitempty"`
	RequestID    string          `json:"requestId,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Store persists entries for the tenant in context.
type Store interface {
	Insert(ctx context.Context, e Entry) error
	List(ctx context.Context, limit, offset int) ([]Entry, int, error)
}

// Service persists audit entries for admin flows.
type Service struct {
	Store   Store
	Enabled bool
}

// Record persists an audit entry when auditing is enabled.
func (s Service) Record(ctx context.Context, actor Actor, action, resourceType, resourceID string, req *http.Request, status int, metadata []byte) error {
	if !s.Enabled {
		return nil
	}
	if req == nil {
		return errors.New("audit: request is required")
	}
	if s.Store == nil {
		return errors.New("audit: store not configured")
	}

	route := obs.RoutePatternFromContext(req.Context())
	if rc := chi.RouteContext(req.Context()); route == "" && rc != nil {
		route = rc.RoutePattern()
	}
	if route == "" {
		route = strings.TrimSpace(req.URL.Path)
	}
	if status == 0 {
		status = http.StatusOK
	}
	kind := normalizeActorKind(actor.Kind)
	userID := strings.TrimSpace(actor.UserID)
	if kind != ActorKindUser {
		userID = ""
	}

	return s.Store.Insert(ctx, Entry{
		ActorKind:    kind,
		ActorUserID:  userID,
		Action:       buildAction(action, req.Method, route),
		ResourceType: buildResource(resourceType, route),
		ResourceID:   strings.TrimSpace(resourceID),
		Method:       req.Method,
		Path:         req.URL.Path,
		Route:        route,
		Status:       status,
		IP:           common.ClientIP(req),
		UserAgent:    strings.TrimSpace(req.UserAgent()),
		RequestID:    strings.TrimSpace(req.Header.Get("X-Request-ID")),
		Metadata:     toJSONB(metadata, req.URL.RawQuery),
	})
}

func buildAction(action, method, route string) string {
	trimmed := strings.TrimSpace(action)
	if trimmed != "" {
		return trimmed
	}
	target := route
	if target == "" {
		target = "/"
	}
	return strings.ToUpper(strings.TrimSpace(method)) + " " + target
}

// buildResource derives "admin.promotions" style names from the route.
// Path parameters are dropped.
func buildResource(resourceType, route string) string {
	trimmed := strings.TrimSpace(resourceType)
	if trimmed != "" {
		return trimmed
	}
	route = strings.Trim(strings.TrimSpace(route), "/")
	if route == "" {
		return "unknown"
	}
	segments := strings.Split(route, "/")
	if len(segments) >= 3 && segments[0] == "api" && segments[1] == "v1" {
		segments = segments[2:]
	}
	kept := segments[:0]
	for _, seg := range segments {
		if strings.HasPrefix(seg, "{") {
			continue
		}
		kept = append(kept, seg)
	}
	return strings.Join(kept, ".")
}

func normalizeActorKind(kind ActorKind) ActorKind {
	switch kind {
	case ActorKindUser, ActorKindSystem:
		return kind
	default:
		return ActorKindAnonymous
	}
}

func toJSONB(metadata []byte, query string) json.RawMessage {
	if len(metadata) > 0 {
		return metadata
	}
	if strings.TrimSpace(query) == "" {
		return nil
	}
	data, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil
	}
	return data
}
