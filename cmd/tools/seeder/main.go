package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-admin/internal/catalog"
	"github.com/noah-isme/toko-admin/internal/promotion"
	"github.com/noah-isme/toko-admin/internal/repo"
	"github.com/noah-isme/toko-admin/internal/tenant"
)

type seedProduct struct {
	Slug  string
	Name  string
	Price string
}

var products = []seedProduct{
	{"kopi-arabika-250g", "Kopi Arabika 250g", "85000"},
	{"kopi-robusta-250g", "Kopi Robusta 250g", "65000"},
	{"teh-melati-100g", "Teh Melati 100g", "30000"},
	{"gula-aren-500g", "Gula Aren 500g", "42000"},
	{"tumbler-500ml", "Tumbler 500ml", "120000"},
}

func main() {
	_ = godotenv.Load()
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("component", "seeder").Logger()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := repo.Migrate(dbURL); err != nil {
		logger.Fatal().Err(err).Msg("apply migrations")
	}
	pool, err := repo.NewPool(ctx, repo.PoolConfig{URL: dbURL, ApplicationName: "toko-admin-seeder"})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	tenantID, err := repo.TenantStore{DB: pool}.Upsert(ctx, "default", "Default Tenant")
	if err != nil {
		logger.Fatal().Err(err).Msg("upsert default tenant")
	}
	ctx = tenant.With(ctx, tenantID)
	logger.Info().Str("tenant_id", tenantID).Msg("seeding tenant")

	ids, err := seedCatalog(ctx, repo.ProductStore{DB: pool})
	if err != nil {
		logger.Fatal().Err(err).Msg("seed catalog")
	}
	n, err := seedPromotions(ctx, repo.PromotionStore{DB: pool}, ids)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed promotions")
	}
	logger.Info().Int("products", len(ids)).Int("promotions", n).Msg("seeding completed")
}

func seedCatalog(ctx context.Context, store repo.ProductStore) (map[string]string, error) {
	ids := make(map[string]string, len(products))
	for _, p := range products {
		created, err := store.Create(ctx, catalog.Product{
			Name:   p.Name,
			Slug:   p.Slug,
			Price:  decimal.RequireFromString(p.Price),
			Active: true,
		})
		if err != nil {
			if errors.Is(err, catalog.ErrConflict) {
				continue
			}
			return nil, fmt.Errorf("product %s: %w", p.Slug, err)
		}
		ids[p.Slug] = created.ID
	}
	return ids, nil
}

func seedPromotions(ctx context.Context, store repo.PromotionStore, ids map[string]string) (int, error) {
	if len(ids) < len(products) {
		// Catalog existed already; promotions were seeded with it.
		return 0, nil
	}
	maxFree := 2
	inputs := []promotion.Input{
		{
			Name: "Diskon Kopi 10%", Kind: promotion.KindPercentage, Value: decimal.NewFromInt(10),
			ProductIDs: []string{ids["kopi-arabika-250g"], ids["kopi-robusta-250g"]}, ApplyAutomatically: true, Priority: 10,
		},
		{
			Name: "Potongan Teh", Kind: promotion.KindFixedAmount, Value: decimal.NewFromInt(5000),
			ProductIDs: []string{ids["teh-melati-100g"]}, ApplyAutomatically: true, Priority: 5,
		},
		{
			Name: "Tumbler Harga Spesial", Kind: promotion.KindFixedPrice, Value: decimal.NewFromInt(99000),
			ProductIDs: []string{ids["tumbler-500ml"]}, ApplyAutomatically: true, Priority: 1,
		},
		{
			Name: "Paket Kopi Gula", Kind: promotion.KindBundlePrice, Value: decimal.NewFromInt(115000), Quantity: 1,
			BundleProductIDs: []string{ids["kopi-arabika-250g"], ids["gula-aren-500g"]},
		},
		{
			Name: "Beli 2 Gratis 1 Gula Aren", Kind: promotion.KindBuyXGetYFree,
			ProductIDs: []string{ids["gula-aren-500g"]}, TriggerProductIDs: []string{ids["gula-aren-500g"]},
			TriggerQuantity: 2, FreeQuantityPerTrigger: 1, FreeQuantityMax: &maxFree, ApplyAutomatically: true,
		},
		{
			Name: "Ramadan Sale", Kind: promotion.KindEventBadge,
			ProductIDs: []string{ids["kopi-arabika-250g"]}, ApplyAutomatically: true,
		},
	}
	for _, in := range inputs {
		p, err := promotion.Build(in)
		if err != nil {
			return 0, fmt.Errorf("build %s: %w", in.Name, err)
		}
		if _, err := store.Create(ctx, p); err != nil {
			return 0, fmt.Errorf("create %s: %w", in.Name, err)
		}
	}
	return len(inputs), nil
}
