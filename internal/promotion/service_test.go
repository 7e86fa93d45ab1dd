package promotion_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-admin/internal/common"
	"github.com/noah-isme/toko-admin/internal/promotion"
	"github.com/noah-isme/toko-admin/internal/tenant"
)

const (
	tenantID  = "2f6c1c3e-1d2b-4a8e-9c7a-5b1e0f3d4a21"
	productA  = "0b7e4f5a-3c21-4d8e-8f6a-1a2b3c4d5e6f"
	productB  = "9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d"
	productUp = "0B7E4F5A-3C21-4D8E-8F6A-1A2B3C4D5E6F"
)

type memStore struct {
	items  map[string]promotion.Promotion
	order  []string
	nextID int
}

func newMemStore() *memStore {
	return &memStore{items: map[string]promotion.Promotion{}}
}

func (m *memStore) List(_ context.Context, limit, offset int) ([]promotion.Promotion, int, error) {
	out := []promotion.Promotion{}
	for i, id := range m.order {
		if i < offset || len(out) == limit {
			continue
		}
		out = append(out, m.items[id])
	}
	return out, len(m.order), nil
}

func (m *memStore) ListActive(_ context.Context, now time.Time) ([]promotion.Promotion, error) {
	var out []promotion.Promotion
	for _, id := range m.order {
		if p := m.items[id]; p.LiveAt(now) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) Get(_ context.Context, id string) (promotion.Promotion, error) {
	p, ok := m.items[id]
	if !ok {
		return promotion.Promotion{}, promotion.ErrNotFound
	}
	return p, nil
}

func (m *memStore) Create(_ context.Context, p promotion.Promotion) (promotion.Promotion, error) {
	for _, existing := range m.items {
		if existing.Name == p.Name {
			return promotion.Promotion{}, promotion.ErrConflict
		}
	}
	m.nextID++
	p.ID = "promo-" + string(rune('0'+m.nextID))
	p.TenantID = tenantID
	m.items[p.ID] = p
	m.order = append(m.order, p.ID)
	return p, nil
}

func (m *memStore) Update(_ context.Context, p promotion.Promotion) (promotion.Promotion, error) {
	if _, ok := m.items[p.ID]; !ok {
		return promotion.Promotion{}, promotion.ErrNotFound
	}
	m.items[p.ID] = p
	return p, nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	if _, ok := m.items[id]; !ok {
		return promotion.ErrNotFound
	}
	delete(m.items, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

type priceStub map[string]decimal.Decimal

func (p priceStub) Prices(_ context.Context, ids []string) (promotion.Prices, error) {
	out := promotion.Prices{}
	for _, id := range ids {
		if v, ok := p[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

type recalcStub struct {
	reasons []string
	err     error
}

func (r *recalcStub) EnqueueTenantRecalculation(_ context.Context, reason string) error {
	r.reasons = append(r.reasons, reason)
	return r.err
}

func newService() (*promotion.Service, *memStore, *recalcStub) {
	store := newMemStore()
	recalc := &recalcStub{}
	svc := &promotion.Service{
		Store:  store,
		Prices: priceStub{productA: decimal.RequireFromString("100"), productB: decimal.RequireFromString("40")},
		Recalc: recalc,
		Now:    func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
	return svc, store, recalc
}

func ctxWithTenant() context.Context {
	return tenant.With(context.Background(), tenantID)
}

func TestBuildNormalizesIDs(t *testing.T) {
	p, err := promotion.Build(promotion.Input{
		Name:       "  Weekend  ",
		Kind:       "Percentage",
		Value:      decimal.RequireFromString("12.345"),
		ProductIDs: []string{productUp, " " + productA + " ", ""},
	})
	require.NoError(t, err)
	require.Equal(t, "Weekend", p.Name)
	require.Equal(t, promotion.KindPercentage, p.Kind)
	require.Equal(t, []string{productA}, p.ProductIDs)
	require.Equal(t, "12.35", p.Value.StringFixed(2))
	require.True(t, p.Active)
}

func TestBuildKindRules(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	until := from.Add(-time.Hour)

	cases := []struct {
		name string
		in   promotion.Input
	}{
		{"unknown kind", promotion.Input{Name: "x", Kind: "mystery", ProductIDs: []string{productA}}},
		{"percentage over 100", promotion.Input{Name: "x", Kind: promotion.KindPercentage, Value: decimal.NewFromInt(150), ProductIDs: []string{productA}}},
		{"negative value", promotion.Input{Name: "x", Kind: promotion.KindFixedAmount, Value: decimal.NewFromInt(-1), ProductIDs: []string{productA}}},
		{"no targets", promotion.Input{Name: "x", Kind: promotion.KindFixedPrice, Value: decimal.NewFromInt(5)}},
		{"single product bundle without quantity", promotion.Input{Name: "x", Kind: promotion.KindBundlePrice, Value: decimal.NewFromInt(5), ProductIDs: []string{productA}}},
		{"free without triggers", promotion.Input{Name: "x", Kind: promotion.KindBuyXGetYFree, ProductIDs: []string{productA}, FreeQuantityPerTrigger: 1}},
		{"free without per trigger", promotion.Input{Name: "x", Kind: promotion.KindBuyXGetYFree, ProductIDs: []string{productA}, TriggerProductIDs: []string{productB}}},
		{"window inverted", promotion.Input{Name: "x", Kind: promotion.KindPercentage, Value: decimal.NewFromInt(5), ProductIDs: []string{productA}, ValidFrom: &from, ValidUntil: &until}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := promotion.Build(tc.in)
			require.ErrorIs(t, err, promotion.ErrInvalidInput)
		})
	}
}

func TestBuildRejectsMalformedIDs(t *testing.T) {
	_, err := promotion.Build(promotion.Input{Name: "x", Kind: promotion.KindPercentage, ProductIDs: []string{"not-a-uuid"}})
	require.Error(t, err)
	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, "VALIDATION_FAILED", appErr.Code)
}

func TestBuildFreeAndBadgeNormalization(t *testing.T) {
	free, err := promotion.Build(promotion.Input{
		Name: "b2g1", Kind: promotion.KindBuyXGetYFree, Value: decimal.NewFromInt(9),
		ProductIDs: []string{productA}, TriggerProductIDs: []string{productA, productA}, FreeQuantityPerTrigger: 1,
	})
	require.NoError(t, err)
	require.True(t, free.Value.IsZero())
	require.Equal(t, []string{productA}, free.TriggerProductIDs)

	badge, err := promotion.Build(promotion.Input{
		Name: "launch", Kind: promotion.KindEventBadge, Value: decimal.NewFromInt(9), ApplyAutomatically: true,
	})
	require.NoError(t, err)
	require.True(t, badge.Value.IsZero())
	require.False(t, badge.ApplyAutomatically)
}

func TestServiceMutationsEnqueueRecalculation(t *testing.T) {
	svc, _, recalc := newService()
	ctx := ctxWithTenant()

	created, err := svc.Create(ctx, promotion.Input{
		Name: "ten off", Kind: promotion.KindPercentage, Value: decimal.NewFromInt(10),
		ProductIDs: []string{productA}, ApplyAutomatically: true,
	})
	require.NoError(t, err)

	_, err = svc.Create(ctx, promotion.Input{
		Name: "ten off", Kind: promotion.KindPercentage, Value: decimal.NewFromInt(5), ProductIDs: []string{productA},
	})
	require.ErrorIs(t, err, promotion.ErrConflict)

	_, err = svc.Update(ctx, created.ID, promotion.Input{
		Name: "ten off", Kind: promotion.KindPercentage, Value: decimal.NewFromInt(15), ProductIDs: []string{productA},
	})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, created.ID))
	require.ErrorIs(t, svc.Delete(ctx, created.ID), promotion.ErrNotFound)

	require.Equal(t, []string{"promotion_created", "promotion_updated", "promotion_deleted"}, recalc.reasons)
}

func TestServiceEnqueueFailureDoesNotFailMutation(t *testing.T) {
	svc, _, recalc := newService()
	recalc.err = errors.New("redis down")

	_, err := svc.Create(ctxWithTenant(), promotion.Input{
		Name: "x", Kind: promotion.KindFixedAmount, Value: decimal.NewFromInt(1), ProductIDs: []string{productA},
	})
	require.NoError(t, err)
	require.Len(t, recalc.reasons, 1)
}

func TestPreviewWithDraft(t *testing.T) {
	svc, _, _ := newService()
	svc.TaxBps = 1000
	ctx := ctxWithTenant()

	_, err := svc.Create(ctx, promotion.Input{
		Name: "ten off", Kind: promotion.KindPercentage, Value: decimal.NewFromInt(10),
		ProductIDs: []string{productA}, ApplyAutomatically: true, Priority: 2,
	})
	require.NoError(t, err)

	items := []promotion.PreviewItem{{ProductID: productUp, Quantity: 2}, {ProductID: productB, Quantity: 3}}
	res, err := svc.Preview(ctx, items, nil)
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	require.Equal(t, productA, res.Items[0].ProductID)
	require.Equal(t, "300", res.Summary.Subtotal.String())
	require.Equal(t, "20", res.Summary.Savings.String())
	require.Equal(t, "30", res.Summary.Tax.String())
	require.Equal(t, "330", res.Summary.Total.String())
	require.Equal(t, 5, res.Summary.Items)
	require.Len(t, res.Applied, 1)

	draft := &promotion.Input{
		Name: "b2g1", Kind: promotion.KindBuyXGetYFree,
		ProductIDs: []string{productB}, TriggerProductIDs: []string{productB},
		TriggerQuantity: 2, FreeQuantityPerTrigger: 1,
	}
	res, err = svc.Preview(ctx, items, draft)
	require.NoError(t, err)
	require.Equal(t, 1, res.Items[1].QuantityFree)
	require.Equal(t, 2, res.Items[1].PaidQuantity)
	require.Equal(t, "260", res.Summary.Subtotal.String())
	require.Equal(t, "60", res.Summary.Savings.String())
	require.Equal(t, "286", res.Summary.Total.String())
}

func TestPreviewMergesRepeatedProducts(t *testing.T) {
	svc, _, _ := newService()
	ctx := ctxWithTenant()

	draft := &promotion.Input{
		Name: "b2g1", Kind: promotion.KindBuyXGetYFree,
		ProductIDs: []string{productB}, TriggerProductIDs: []string{productB},
		TriggerQuantity: 2, FreeQuantityPerTrigger: 1,
	}
	items := []promotion.PreviewItem{{ProductID: productB, Quantity: 1}, {ProductID: productB, Quantity: 2}}
	res, err := svc.Preview(ctx, items, draft)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	require.Equal(t, 3, res.Items[0].Quantity)
	require.Equal(t, 1, res.Items[0].QuantityFree)
	require.Equal(t, "80", res.Summary.Subtotal.String())
}

func TestPreviewRejectsBadItems(t *testing.T) {
	svc, _, _ := newService()
	_, err := svc.Preview(ctxWithTenant(), []promotion.PreviewItem{{ProductID: productA, Quantity: 0}}, nil)
	require.Error(t, err)
	require.True(t, common.IsAppError(err))
}

func TestHandlers(t *testing.T) {
	svc, _, _ := newService()
	h := &promotion.Handler{Svc: svc}
	r := chi.NewRouter()
	r.Get("/promotions", h.List)
	r.Post("/promotions", h.Create)
	r.Post("/promotions/preview", h.Preview)
	r.Get("/promotions/{id}", h.Get)
	r.Put("/promotions/{id}", h.Update)
	r.Delete("/promotions/{id}", h.Delete)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		var req *http.Request
		if body == "" {
			req = httptest.NewRequest(method, path, nil)
		} else {
			req = httptest.NewRequest(method, path, strings.NewReader(body))
		}
		req = req.WithContext(tenant.With(req.Context(), tenantID))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	body := `{"name":"ten off","type":"percentage","value":"10","productIds":["` + productA + `"],"applyAutomatically":true}`
	rec := do(http.MethodPost, "/promotions", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Data promotion.Promotion `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.Data.ID)

	rec = do(http.MethodPost, "/promotions", body)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(http.MethodPost, "/promotions", `{"name":"bad","type":"percentage","value":"150","productIds":["`+productA+`"]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodPost, "/promotions", `{"name":"bad","unknown":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodGet, "/promotions?page=1&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"total_items":1`)

	rec = do(http.MethodGet, "/promotions/"+created.Data.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(http.MethodPost, "/promotions/preview", `{"items":[{"productId":"`+productA+`","quantity":1}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"priceSnapshot":"90"`)
	require.Contains(t, rec.Body.String(), `"lineTotal":"90"`)

	rec = do(http.MethodPost, "/promotions/preview", `{"items":[]}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(http.MethodDelete, "/promotions/"+created.Data.ID, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(http.MethodGet, "/promotions/"+created.Data.ID, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}
