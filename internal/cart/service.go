package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/toko-admin/internal/obs"
	"github.com/noah-isme/toko-admin/internal/promotion"
	"github.com/noah-isme/toko-admin/internal/tenant"
)

const maxFingerprintLen = 200

// Service encapsulates cart domain operations. Every mutation and the
// recalculation that follows it run under a per-cart lock.
type Service struct {
	Store      Store
	Promotions Promotions
	Catalog    Catalog
	Locker     Locker
	TTL        time.Duration
	LockTTL    time.Duration
	TaxBps     int
	Currency   string
	Options    promotion.Options
	Logger     zerolog.Logger
	Now        func() time.Time
}

func (s *Service) ttl() time.Duration {
	if s == nil || s.TTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return s.TTL
}

func (s *Service) lockTTL() time.Duration {
	if s == nil || s.LockTTL <= 0 {
		return 10 * time.Second
	}
	return s.LockTTL
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) configured() error {
	if s == nil || s.Store == nil || s.Promotions == nil || s.Catalog == nil || s.Locker == nil {
		return errors.New("cart service not configured")
	}
	return nil
}

// EnsureCart loads or creates the cart for a visitor fingerprint and extends
// its expiry.
func (s *Service) EnsureCart(ctx context.Context, fingerprint string) (Cart, error) {
	if err := s.configured(); err != nil {
		return Cart{}, err
	}
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" || len(fingerprint) > maxFingerprintLen {
		return Cart{}, fmt.Errorf("fingerprint must be 1-%d characters: %w", maxFingerprintLen, ErrInvalidInput)
	}
	now := s.now()
	return s.Store.Ensure(ctx, fingerprint, now.Add(s.ttl()), now)
}

// View returns the cart with its stored pricing and a summary.
func (s *Service) View(ctx context.Context, cartID string) (View, error) {
	if err := s.configured(); err != nil {
		return View{}, err
	}
	c, err := s.Store.Get(ctx, strings.TrimSpace(cartID), s.now())
	if err != nil {
		return View{}, err
	}
	lines, err := s.Store.Items(ctx, c.ID)
	if err != nil {
		return View{}, fmt.Errorf("load cart items: %w", err)
	}
	items := make([]promotion.Priced, 0, len(lines))
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		items = append(items, promotion.Priced{Line: line, PaidQuantity: line.Quantity - line.QuantityFree})
		ids = append(ids, line.ProductID)
	}
	base, err := s.Catalog.Prices(ctx, ids)
	if err != nil {
		return View{}, fmt.Errorf("load prices: %w", err)
	}
	return View{
		Cart:     c,
		Items:    items,
		Summary:  promotion.Summarize(items, base, s.TaxBps),
		Currency: s.Currency,
	}, nil
}

// AddItem adds qty units of productID, incrementing an existing line.
func (s *Service) AddItem(ctx context.Context, cartID, productID string, qty int) (View, error) {
	if err := s.configured(); err != nil {
		return View{}, err
	}
	if qty <= 0 {
		return View{}, fmt.Errorf("quantity must be positive: %w", ErrInvalidInput)
	}
	productID = strings.ToLower(strings.TrimSpace(productID))
	ok, err := s.Catalog.ProductExists(ctx, productID)
	if err != nil {
		return View{}, fmt.Errorf("check product: %w", err)
	}
	if !ok {
		return View{}, fmt.Errorf("unknown product %q: %w", productID, ErrInvalidInput)
	}
	err = s.mutate(ctx, cartID, TriggerItemAdded, func(ctx context.Context, c Cart) error {
		_, err := s.Store.AddItem(ctx, c.ID, productID, qty)
		return err
	})
	if err != nil {
		return View{}, err
	}
	return s.View(ctx, cartID)
}

// UpdateQty sets the quantity of a line. A quantity of zero removes it.
func (s *Service) UpdateQty(ctx context.Context, cartID, itemID string, qty int) (View, error) {
	if err := s.configured(); err != nil {
		return View{}, err
	}
	if qty < 0 {
		return View{}, fmt.Errorf("quantity must not be negative: %w", ErrInvalidInput)
	}
	if qty == 0 {
		return s.RemoveItem(ctx, cartID, itemID)
	}
	err := s.mutate(ctx, cartID, TriggerItemUpdated, func(ctx context.Context, c Cart) error {
		return s.Store.UpdateQty(ctx, c.ID, strings.TrimSpace(itemID), qty)
	})
	if err != nil {
		return View{}, err
	}
	return s.View(ctx, cartID)
}

// RemoveItem deletes a line from the cart.
func (s *Service) RemoveItem(ctx context.Context, cartID, itemID string) (View, error) {
	if err := s.configured(); err != nil {
		return View{}, err
	}
	err := s.mutate(ctx, cartID, TriggerItemRemoved, func(ctx context.Context, c Cart) error {
		return s.Store.RemoveItem(ctx, c.ID, strings.TrimSpace(itemID))
	})
	if err != nil {
		return View{}, err
	}
	return s.View(ctx, cartID)
}

// Delete removes the cart and its lines.
func (s *Service) Delete(ctx context.Context, cartID string) error {
	if err := s.configured(); err != nil {
		return err
	}
	return s.withLock(ctx, cartID, func(ctx context.Context) error {
		return s.Store.Delete(ctx, strings.TrimSpace(cartID))
	})
}

// Recalculate reprices the cart against current promotions and prices.
func (s *Service) Recalculate(ctx context.Context, cartID string) (View, error) {
	if err := s.configured(); err != nil {
		return View{}, err
	}
	if err := s.mutate(ctx, cartID, TriggerManual, nil); err != nil {
		return View{}, err
	}
	return s.View(ctx, cartID)
}

// RecalculateTenant reprices every live cart of the tenant in context. Carts
// that expire or disappear while the run is in progress are skipped.
func (s *Service) RecalculateTenant(ctx context.Context) (int, error) {
	if err := s.configured(); err != nil {
		return 0, err
	}
	ids, err := s.Store.LiveIDs(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("list carts: %w", err)
	}
	var (
		done int
		errs []error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		err := s.withLock(ctx, id, func(ctx context.Context) error {
			return s.recalculate(ctx, id, TriggerJob)
		})
		switch {
		case err == nil:
			done++
		case errors.Is(err, ErrNotFound):
		default:
			errs = append(errs, fmt.Errorf("cart %s: %w", id, err))
		}
	}
	return done, errors.Join(errs...)
}

// mutate applies fn to a live cart and recalculates it, all under the cart
// lock. A nil fn only recalculates.
func (s *Service) mutate(ctx context.Context, cartID, trigger string, fn func(context.Context, Cart) error) error {
	cartID = strings.TrimSpace(cartID)
	return s.withLock(ctx, cartID, func(ctx context.Context) error {
		now := s.now()
		c, err := s.Store.Get(ctx, cartID, now)
		if err != nil {
			return err
		}
		if fn != nil {
			if err := fn(ctx, c); err != nil {
				return err
			}
		}
		if err := s.recalculate(ctx, c.ID, trigger); err != nil {
			return err
		}
		if err := s.Store.Touch(ctx, c.ID, now.Add(s.ttl())); err != nil {
			s.Logger.Warn().Err(err).Str("cart_id", c.ID).Msg("extend cart expiry")
		}
		return nil
	})
}

func (s *Service) withLock(ctx context.Context, cartID string, fn func(context.Context) error) error {
	tenantID, ok := tenant.From(ctx)
	if !ok {
		return ErrTenantRequired
	}
	if cartID == "" {
		return ErrNotFound
	}
	return s.Locker.WithLock(ctx, tenant.PrefixKey(tenantID, "cart-lock:"+cartID), s.lockTTL(), fn)
}

// recalculate must be called with the cart lock held.
func (s *Service) recalculate(ctx context.Context, cartID, trigger string) (err error) {
	start := time.Now()
	ctx, span := obs.StartSpan(ctx, "cart.recalculate",
		attribute.String("cart.id", cartID),
		attribute.String("cart.trigger", trigger),
	)
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		obs.RecordRecalculation(trigger, result, time.Since(start))
		obs.EndSpan(span, err)
	}()

	lines, err := s.Store.Items(ctx, cartID)
	if err != nil {
		return fmt.Errorf("load cart items: %w", err)
	}
	promos, err := s.Promotions.ListActive(ctx, s.now())
	if err != nil {
		return fmt.Errorf("load promotions: %w", err)
	}
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	prices, err := s.Catalog.Prices(ctx, ids)
	if err != nil {
		return fmt.Errorf("load prices: %w", err)
	}

	priced := promotion.RecalculateWith(s.Options, lines, promos, prices)
	if err := s.Store.SaveLines(ctx, cartID, priced); err != nil {
		return fmt.Errorf("save cart items: %w", err)
	}

	kinds := make(map[string]promotion.Kind, len(promos))
	for _, p := range promos {
		kinds[p.ID] = p.Kind
	}
	var free int
	for _, line := range priced {
		free += line.QuantityFree
		if line.PromotionID != nil {
			obs.RecordPromotionApplied(string(kinds[*line.PromotionID]))
		}
	}
	obs.RecordFreeUnits(free)
	s.Logger.Debug().
		Str("cart_id", cartID).
		Str("trigger", trigger).
		Int("lines", len(priced)).
		Int("free_units", free).
		Msg("cart recalculated")
	return nil
}
