package promotion

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-admin/internal/common"
)

// Handler exposes promotion administration over HTTP.
type Handler struct {
	Svc *Service
}

type previewRequest struct {
	Items []PreviewItem `json:"items" validate:"required,min=1,max=200,dive"`
	Draft *Input        `json:"draft"`
}

// List returns a page of promotions.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, 20, 100)
	items, total, err := h.Svc.List(r.Context(), page, perPage)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if items == nil {
		items = []Promotion{}
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       items,
		"pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: total},
	})
}

// Get returns a single promotion.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.Svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": p})
}

// Create stores a new promotion.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var payload Input
	if err := common.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	p, err := h.Svc.Create(r.Context(), payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": p})
}

// Update replaces a promotion.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var payload Input
	if err := common.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	p, err := h.Svc.Update(r.Context(), chi.URLParam(r, "id"), payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": p})
}

// Delete removes a promotion.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Preview prices a hypothetical cart, optionally with a draft promotion.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	var payload previewRequest
	if err := common.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	if err := common.Validate(payload); err != nil {
		h.writeError(w, err)
		return
	}
	result, err := h.Svc.Preview(r.Context(), payload.Items, payload.Draft)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": result})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if common.WriteAppError(w, err) {
		return
	}
	switch {
	case errors.Is(err, ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "promotion not found", nil)
	case errors.Is(err, ErrConflict):
		common.JSONError(w, http.StatusConflict, "CONFLICT", err.Error(), nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to process promotion", nil)
	}
}
