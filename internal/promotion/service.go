package promotion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-admin/internal/common"
	"github.com/noah-isme/toko-admin/internal/obs"
	"github.com/noah-isme/toko-admin/internal/pricing"
)

var (
	// ErrNotFound indicates the promotion does not exist for the tenant.
	ErrNotFound = errors.New("promotion not found")
	// ErrInvalidInput is returned when a promotion payload breaks a kind rule.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict indicates another promotion of the tenant already uses the name.
	ErrConflict = errors.New("promotion name already exists")
)

// Store persists tenant scoped promotions. The tenant is taken from the context.
type Store interface {
	List(ctx context.Context, limit, offset int) ([]Promotion, int, error)
	ListActive(ctx context.Context, now time.Time) ([]Promotion, error)
	Get(ctx context.Context, id string) (Promotion, error)
	Create(ctx context.Context, p Promotion) (Promotion, error)
	Update(ctx context.Context, p Promotion) (Promotion, error)
	Delete(ctx context.Context, id string) error
}

// PriceSource returns base prices for products of the tenant in context.
type PriceSource interface {
	Prices(ctx context.Context, ids []string) (Prices, error)
}

// Recalculator schedules cart recalculation for the tenant in context.
type Recalculator interface {
	EnqueueTenantRecalculation(ctx context.Context, reason string) error
}

// Input is the writable shape of a promotion.
type Input struct {
	Name                   string          `json:"name" validate:"required,max=200"`
	Kind                   Kind            `json:"type" validate:"required"`
	Value                  decimal.Decimal `json:"value"`
	Quantity               int             `json:"quantity" validate:"gte=0"`
	ProductIDs             []string        `json:"productIds" validate:"dive,uuid"`
	BundleProductIDs       []string        `json:"bundleProductIds" validate:"dive,uuid"`
	ApplyAutomatically     bool            `json:"applyAutomatically"`
	Priority               int             `json:"priority"`
	TriggerProductIDs      []string        `json:"triggerProductIds" validate:"dive,uuid"`
	TriggerQuantity        int             `json:"triggerQuantity" validate:"gte=0"`
	FreeQuantityPerTrigger int             `json:"freeQuantityPerTrigger" validate:"gte=0"`
	FreeQuantityMax        *int            `json:"freeQuantityMax" validate:"omitempty,gte=0"`
	Active                 *bool           `json:"active"`
	ValidFrom              *time.Time      `json:"validFrom"`
	ValidUntil             *time.Time      `json:"validUntil"`
}

// PreviewItem is a hypothetical cart line.
type PreviewItem struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}

// PreviewResult is the engine output for a hypothetical cart.
type PreviewResult struct {
	Items   []Priced        `json:"items"`
	Summary pricing.Summary `json:"pricing"`
	Applied []string        `json:"appliedPromotionIds"`
}

// Service manages promotions and previews their effect.
type Service struct {
	Store   Store
	Prices  PriceSource
	Recalc  Recalculator
	Options Options
	TaxBps  int
	Logger  zerolog.Logger
	Now     func() time.Time
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// List returns a page of the tenant's promotions and the total count.
func (s *Service) List(ctx context.Context, page, perPage int) ([]Promotion, int, error) {
	if s == nil || s.Store == nil {
		return nil, 0, errors.New("promotion service not configured")
	}
	if perPage <= 0 {
		perPage = 20
	}
	return s.Store.List(ctx, perPage, common.Offset(page, perPage))
}

// Get returns a single promotion.
func (s *Service) Get(ctx context.Context, id string) (Promotion, error) {
	if s == nil || s.Store == nil {
		return Promotion{}, errors.New("promotion service not configured")
	}
	return s.Store.Get(ctx, strings.TrimSpace(id))
}

// Create validates in, stores it and schedules a recalculation of every cart
// of the tenant.
func (s *Service) Create(ctx context.Context, in Input) (Promotion, error) {
	if s == nil || s.Store == nil {
		return Promotion{}, errors.New("promotion service not configured")
	}
	p, err := Build(in)
	if err != nil {
		return Promotion{}, err
	}
	created, err := s.Store.Create(ctx, p)
	if err != nil {
		return Promotion{}, err
	}
	s.changed(ctx, "created", created.ID)
	return created, nil
}

// Update replaces the promotion identified by id with in.
func (s *Service) Update(ctx context.Context, id string, in Input) (Promotion, error) {
	if s == nil || s.Store == nil {
		return Promotion{}, errors.New("promotion service not configured")
	}
	p, err := Build(in)
	if err != nil {
		return Promotion{}, err
	}
	p.ID = strings.TrimSpace(id)
	updated, err := s.Store.Update(ctx, p)
	if err != nil {
		return Promotion{}, err
	}
	s.changed(ctx, "updated", updated.ID)
	return updated, nil
}

// Delete removes the promotion identified by id.
func (s *Service) Delete(ctx context.Context, id string) error {
	if s == nil || s.Store == nil {
		return errors.New("promotion service not configured")
	}
	id = strings.TrimSpace(id)
	if err := s.Store.Delete(ctx, id); err != nil {
		return err
	}
	s.changed(ctx, "deleted", id)
	return nil
}

func (s *Service) changed(ctx context.Context, action, id string) {
	obs.RecordPromotionChange(action)
	s.Logger.Info().Str("promotion_id", id).Str("action", action).Msg("promotion changed")
	if s.Recalc == nil {
		return
	}
	if err := s.Recalc.EnqueueTenantRecalculation(ctx, "promotion_"+action); err != nil {
		s.Logger.Error().Err(err).Str("promotion_id", id).Msg("enqueue cart recalculation")
	}
}

// Preview prices items against current base prices and the live promotions
// of the tenant. When draft is non-nil it is validated and evaluated as if it
// were already live.
func (s *Service) Preview(ctx context.Context, items []PreviewItem, draft *Input) (PreviewResult, error) {
	if s == nil || s.Store == nil || s.Prices == nil {
		return PreviewResult{}, errors.New("promotion service not configured")
	}
	lines := make([]Line, 0, len(items))
	productIDs := make([]string, 0, len(items))
	index := make(map[string]int, len(items))
	for _, it := range items {
		if err := common.Validate(it); err != nil {
			return PreviewResult{}, err
		}
		productID := strings.ToLower(strings.TrimSpace(it.ProductID))
		// A cart holds one line per product; repeated ids are merged the same way.
		if i, ok := index[productID]; ok {
			lines[i].Quantity += it.Quantity
			continue
		}
		index[productID] = len(lines)
		lines = append(lines, Line{ID: fmt.Sprintf("preview-%d", len(lines)+1), ProductID: productID, Quantity: it.Quantity})
		productIDs = append(productIDs, productID)
	}

	promos, err := s.Store.ListActive(ctx, s.now())
	if err != nil {
		return PreviewResult{}, fmt.Errorf("load promotions: %w", err)
	}
	if draft != nil {
		p, err := Build(*draft)
		if err != nil {
			return PreviewResult{}, err
		}
		p.ID = "draft"
		promos = append(promos, p)
	}
	prices, err := s.Prices.Prices(ctx, productIDs)
	if err != nil {
		return PreviewResult{}, fmt.Errorf("load prices: %w", err)
	}

	priced := RecalculateWith(s.Options, lines, promos, prices)
	result := PreviewResult{
		Items:   priced,
		Summary: Summarize(priced, prices, s.TaxBps),
		Applied: []string{},
	}
	seen := map[string]bool{}
	for _, line := range priced {
		if line.PromotionID != nil && !seen[*line.PromotionID] {
			seen[*line.PromotionID] = true
			result.Applied = append(result.Applied, *line.PromotionID)
		}
	}
	return result, nil
}

// Build validates in and converts it to a Promotion. Id lists are trimmed,
// lower-cased and deduplicated before validation.
func Build(in Input) (Promotion, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Kind = Kind(strings.ToLower(strings.TrimSpace(string(in.Kind))))
	in.ProductIDs = normalizeIDs(in.ProductIDs)
	in.BundleProductIDs = normalizeIDs(in.BundleProductIDs)
	in.TriggerProductIDs = normalizeIDs(in.TriggerProductIDs)

	if err := common.Validate(in); err != nil {
		return Promotion{}, err
	}
	if err := checkKindRules(&in); err != nil {
		return Promotion{}, err
	}

	active := true
	if in.Active != nil {
		active = *in.Active
	}
	return Promotion{
		Name:                   in.Name,
		Kind:                   in.Kind,
		Value:                  in.Value.Round(2),
		Quantity:               in.Quantity,
		ProductIDs:             in.ProductIDs,
		BundleProductIDs:       in.BundleProductIDs,
		ApplyAutomatically:     in.ApplyAutomatically,
		Priority:               in.Priority,
		TriggerProductIDs:      in.TriggerProductIDs,
		TriggerQuantity:        in.TriggerQuantity,
		FreeQuantityPerTrigger: in.FreeQuantityPerTrigger,
		FreeQuantityMax:        in.FreeQuantityMax,
		Active:                 active,
		ValidFrom:              in.ValidFrom,
		ValidUntil:             in.ValidUntil,
	}, nil
}

func checkKindRules(in *Input) error {
	if !in.Kind.Valid() {
		return fmt.Errorf("unknown promotion type %q: %w", in.Kind, ErrInvalidInput)
	}
	if in.ValidFrom != nil && in.ValidUntil != nil && !in.ValidUntil.After(*in.ValidFrom) {
		return fmt.Errorf("validUntil must be after validFrom: %w", ErrInvalidInput)
	}
	if in.Value.IsNegative() {
		return fmt.Errorf("value must not be negative: %w", ErrInvalidInput)
	}
	targets := len(in.ProductIDs) + len(in.BundleProductIDs)

	switch in.Kind {
	case KindPercentage:
		if in.Value.GreaterThan(hundred) {
			return fmt.Errorf("percentage must be between 0 and 100: %w", ErrInvalidInput)
		}
	case KindBundlePrice:
		if len(dedup(in.ProductIDs, in.BundleProductIDs)) == 1 && in.Quantity < 1 {
			return fmt.Errorf("single product bundles need quantity >= 1: %w", ErrInvalidInput)
		}
	case KindBuyXGetYFree:
		if len(in.TriggerProductIDs) == 0 {
			return fmt.Errorf("triggerProductIds is required: %w", ErrInvalidInput)
		}
		if len(in.ProductIDs) == 0 {
			return fmt.Errorf("productIds is required: %w", ErrInvalidInput)
		}
		if in.FreeQuantityPerTrigger < 1 {
			return fmt.Errorf("freeQuantityPerTrigger must be at least 1: %w", ErrInvalidInput)
		}
		in.Value = decimal.Zero
		return nil
	case KindEventBadge:
		in.Value = decimal.Zero
		in.ApplyAutomatically = false
		return nil
	}
	if targets == 0 {
		return fmt.Errorf("productIds or bundleProductIds is required: %w", ErrInvalidInput)
	}
	return nil
}

func normalizeIDs(ids []string) []string {
	cleaned := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.ToLower(strings.TrimSpace(id))
		if id != "" {
			cleaned = append(cleaned, id)
		}
	}
	return dedup(cleaned)
}
