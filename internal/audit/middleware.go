package audit

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-admin/internal/common"
)

// HTTPRecorder records HTTP requests after they have been handled.
type HTTPRecorder struct {
	Service   *Service
	OnError   func(error)
	ActorFunc func(*http.Request) Actor
}

// HTTPConfig customises how the audit entry is produced for a route.
type HTTPConfig struct {
	Action          string
	ResourceType    string
	ResourceIDParam string
	MetadataFunc    func(*http.Request, int) map[string]any
}

// Middleware records an entry once the wrapped handler has responded.
func (r HTTPRecorder) Middleware(cfg HTTPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if r.Service == nil || !r.Service.Enabled {
				next.ServeHTTP(w, req)
				return
			}

			recorder := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(recorder, req)

			resourceID := ""
			if cfg.ResourceIDParam != "" {
				resourceID = chi.URLParam(req, cfg.ResourceIDParam)
			}

			var metadata []byte
			if cfg.MetadataFunc != nil {
				if payload := cfg.MetadataFunc(req, recorder.Status()); payload != nil {
					if data, err := json.Marshal(payload); err == nil {
						metadata = data
					}
				}
			}

			err := r.Service.Record(req.Context(), r.actor(req), cfg.Action, cfg.ResourceType, resourceID, req, recorder.Status(), metadata)
			if err != nil && r.OnError != nil {
				r.OnError(err)
			}
		})
	}
}

func (r HTTPRecorder) actor(req *http.Request) Actor {
	if r.ActorFunc != nil {
		return r.ActorFunc(req)
	}
	if userID, ok := common.UserID(req.Context()); ok && userID != "" {
		return Actor{Kind: ActorKindUser, UserID: userID}
	}
	return Actor{Kind: ActorKindAnonymous}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Status() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}
