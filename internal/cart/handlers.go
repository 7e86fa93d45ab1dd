package cart

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/toko-admin/internal/common"
	"github.com/noah-isme/toko-admin/internal/lock"
	"github.com/noah-isme/toko-admin/internal/obs"
)

// FingerprintHeader carries the visitor fingerprint when the body omits it.
const FingerprintHeader = "X-Cart-Fingerprint"

// Handler wires cart services to HTTP.
type Handler struct {
	Svc *Service
}

type createCartRequest struct {
	Fingerprint string `json:"fingerprint" validate:"omitempty,max=200"`
}

type addItemRequest struct {
	ProductID string `json:"productId" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"gt=0,lte=1000"`
}

type updateItemRequest struct {
	Quantity *int `json:"quantity" validate:"required,gte=0,lte=1000"`
}

// cartParam returns the cart id of the route and tags the request with it.
func cartParam(r *http.Request) string {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	obs.SetCartID(r.Context(), id)
	return id
}

// Create loads or creates the cart for the visitor fingerprint. A fingerprint
// is generated when the client sends none.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var payload createCartRequest
	if r.ContentLength != 0 {
		if err := common.DecodeJSON(r, &payload); err != nil {
			h.writeError(w, err)
			return
		}
		if err := common.Validate(payload); err != nil {
			h.writeError(w, err)
			return
		}
	}
	fingerprint := strings.TrimSpace(payload.Fingerprint)
	if fingerprint == "" {
		fingerprint = strings.TrimSpace(r.Header.Get(FingerprintHeader))
	}
	if fingerprint == "" {
		fingerprint = uuid.NewString()
	}
	c, err := h.Svc.EnsureCart(r.Context(), fingerprint)
	if err != nil {
		h.writeError(w, err)
		return
	}
	obs.SetCartID(r.Context(), c.ID)
	common.JSON(w, http.StatusCreated, map[string]any{
		"data": map[string]any{
			"cartId":      c.ID,
			"fingerprint": c.Fingerprint,
			"expiresAt":   c.ExpiresAt,
		},
	})
}

// Get returns cart contents and pricing.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.Svc.View(r.Context(), cartParam(r))
	h.respond(w, view, err)
}

// Delete removes the cart.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.Delete(r.Context(), cartParam(r)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddItem adds a product to the cart.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var payload addItemRequest
	if err := common.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	if err := common.Validate(payload); err != nil {
		h.writeError(w, err)
		return
	}
	view, err := h.Svc.AddItem(r.Context(), cartParam(r), payload.ProductID, payload.Quantity)
	h.respond(w, view, err)
}

// UpdateItem changes the quantity of a line.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var payload updateItemRequest
	if err := common.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	if err := common.Validate(payload); err != nil {
		h.writeError(w, err)
		return
	}
	view, err := h.Svc.UpdateQty(r.Context(), cartParam(r), chi.URLParam(r, "itemId"), *payload.Quantity)
	h.respond(w, view, err)
}

// RemoveItem deletes a line.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	view, err := h.Svc.RemoveItem(r.Context(), cartParam(r), chi.URLParam(r, "itemId"))
	h.respond(w, view, err)
}

// Recalculate reprices the cart on demand.
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	view, err := h.Svc.Recalculate(r.Context(), cartParam(r))
	h.respond(w, view, err)
}

func (h *Handler) respond(w http.ResponseWriter, view View, err error) {
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if common.WriteAppError(w, err) {
		return
	}
	switch {
	case errors.Is(err, ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "cart not found", nil)
	case errors.Is(err, lock.ErrNotAcquired):
		common.JSONError(w, http.StatusConflict, "CART_BUSY", "cart is being updated, retry shortly", nil)
	case errors.Is(err, ErrTenantRequired):
		common.JSONError(w, http.StatusBadRequest, "TENANT_REQUIRED", "tenant required", nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to process cart", nil)
	}
}
