package catalog

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-admin/internal/common"
)

// Handler exposes product administration over HTTP.
type Handler struct {
	Svc *Service
}

type createProductRequest struct {
	Name   string          `json:"name" validate:"required,max=200"`
	Slug   string          `json:"slug" validate:"required,max=200"`
	Price  decimal.Decimal `json:"price"`
	Active *bool           `json:"active"`
}

type updatePriceRequest struct {
	Price decimal.Decimal `json:"price"`
}

// Create registers a product for the tenant.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var payload createProductRequest
	if err := common.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	if err := common.Validate(payload); err != nil {
		h.writeError(w, err)
		return
	}
	active := true
	if payload.Active != nil {
		active = *payload.Active
	}
	p, err := h.Svc.Create(r.Context(), Product{Name: payload.Name, Slug: payload.Slug, Price: payload.Price, Active: active})
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": p})
}

// Get returns a single product.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.Svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": p})
}

// UpdatePrice changes the base price of a product.
func (h *Handler) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	var payload updatePriceRequest
	if err := common.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	p, err := h.Svc.UpdatePrice(r.Context(), chi.URLParam(r, "id"), payload.Price)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": p})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if common.WriteAppError(w, err) {
		return
	}
	switch {
	case errors.Is(err, ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, ErrConflict):
		common.JSONError(w, http.StatusConflict, "CONFLICT", err.Error(), nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to process product", nil)
	}
}
