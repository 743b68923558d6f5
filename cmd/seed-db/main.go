// Command seed-db populates a storefront database with demo data: a demo
// user with an API key, products with variants, shipping methods, pricing
// settings, and a couple of coupons. Safe to re-run; every insert is
// conflict-tolerant.
package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-api/internal/postgres"
)

func main() {
	var (
		databaseURL  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&apiKey, "api-key", "", "API key for the demo user (or STOREFRONT_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or STOREFRONT_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("STOREFRONT_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or STOREFRONT_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("STOREFRONT_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	for name, seed := range map[string]func(context.Context, *pgxpool.Pool) error{
		"settings":         seedSettings,
		"shipping methods": seedShippingMethods,
		"products":         seedProducts,
		"coupons":          seedCoupons,
	} {
		slog.Info("seeding", slog.String("step", name))
		if err := seed(ctx, pool); err != nil {
			return errors.Wrap(err, "seed "+name)
		}
	}

	if err := seedDemoUser(ctx, pool, apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed demo user")
	}

	if err := seedRushUsers(ctx, pool, apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed rush users")
	}

	return nil
}

func seedSettings(ctx context.Context, pool *pgxpool.Pool) error {
	settings := map[string]string{
		"tax_rate":                "0.08",
		"free_shipping_threshold": "50",
		"flat_shipping_rate":      "9.99",
	}
	for key, value := range settings {
		_, err := pool.Exec(ctx,
			`INSERT INTO settings (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
			key, value)
		if err != nil {
			return errors.Wrapf(err, "setting %s", key)
		}
	}
	return nil
}

func seedShippingMethods(ctx context.Context, pool *pgxpool.Pool) error {
	methods := []struct {
		id, name string
		price    string
	}{
		{"shm_standard", "Standard Shipping", "9.99"},
		{"shm_express", "Express Shipping", "19.99"},
		{"shm_pickup", "Store Pickup", "0"},
	}
	for _, m := range methods {
		_, err := pool.Exec(ctx,
			`INSERT INTO shipping_methods (id, name, price, active)
			 VALUES ($1, $2, $3, TRUE) ON CONFLICT (id) DO NOTHING`,
			m.id, m.name, m.price)
		if err != nil {
			return errors.Wrapf(err, "method %s", m.id)
		}
	}
	return nil
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool) error {
	products := []struct {
		id, name string
		price    string
		stock    int
	}{
		{"prod_espresso", "Espresso Blend Coffee Beans 1kg", "24.50", 120},
		{"prod_grinder", "Burr Coffee Grinder", "89.00", 35},
		{"prod_kettle", "Gooseneck Pour-Over Kettle", "54.90", 48},
		{"prod_mug", "Double-Wall Ceramic Mug", "14.00", 200},
		{"prod_filters", "Paper Filters (100 pack)", "6.75", 500},
		{"prod_limited", "Hand-Thrown Ceramic Dripper", "39.00", 3},
	}
	for _, p := range products {
		_, err := pool.Exec(ctx,
			`INSERT INTO products (id, name, price, stock, active)
			 VALUES ($1, $2, $3, $4, TRUE) ON CONFLICT (id) DO NOTHING`,
			p.id, p.name, p.price, p.stock)
		if err != nil {
			return errors.Wrapf(err, "product %s", p.id)
		}
	}

	variants := []struct {
		id, productID, name string
		price               string
		stock               int
	}{
		{"var_espresso_dark", "prod_espresso", "Dark Roast", "24.50", 60},
		{"var_espresso_medium", "prod_espresso", "Medium Roast", "24.50", 60},
		{"var_mug_black", "prod_mug", "Matte Black", "15.50", 100},
		{"var_mug_white", "prod_mug", "Glossy White", "14.00", 100},
	}
	for _, v := range variants {
		_, err := pool.Exec(ctx,
			`INSERT INTO product_variants (id, product_id, name, price, stock)
			 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`,
			v.id, v.productID, v.name, v.price, v.stock)
		if err != nil {
			return errors.Wrapf(err, "variant %s", v.id)
		}
	}
	return nil
}

func seedCoupons(ctx context.Context, pool *pgxpool.Pool) error {
	coupons := []struct {
		id, code, discountType string
		value                  string
		maxUses                any
		maxUsesPerUser         any
		minAmount              any
	}{
		{"cpn_welcome10", "WELCOME10", "percentage", "10", nil, 1, nil},
		{"cpn_save20", "SAVE20", "percentage", "20", 1000, nil, "50"},
		{"cpn_fiveoff", "FIVEOFF", "fixed", "5", nil, nil, "25"},
		{"cpn_onetime", "ONETIME", "percentage", "10", 1, nil, nil},
	}
	for _, c := range coupons {
		_, err := pool.Exec(ctx,
			`INSERT INTO coupons (id, code, discount_type, value, max_uses, max_uses_per_user, min_amount, active)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE) ON CONFLICT (id) DO NOTHING`,
			c.id, c.code, c.discountType, c.value, c.maxUses, c.maxUsesPerUser, c.minAmount)
		if err != nil {
			return errors.Wrapf(err, "coupon %s", c.code)
		}
	}
	return nil
}

// seedRushUsers creates a small pool of extra customers, each with their own
// API key derived from the base one ("<key>-rush<N>"). Load and concurrency
// checks need independent carts racing for the same rows.
func seedRushUsers(ctx context.Context, pool *pgxpool.Pool, apiKey, pepper string) error {
	for i := 1; i <= 4; i++ {
		userID := fmt.Sprintf("usr_rush%d", i)
		_, err := pool.Exec(ctx,
			`INSERT INTO users (id, email, name, role)
			 VALUES ($1, $2, $3, 'customer')
			 ON CONFLICT (id) DO NOTHING`,
			userID, fmt.Sprintf("rush%d@example.com", i), fmt.Sprintf("Rush Customer %d", i))
		if err != nil {
			return errors.Wrapf(err, "user %s", userID)
		}

		_, err = pool.Exec(ctx,
			`INSERT INTO api_keys (id, key_hash, user_id, name)
			 VALUES ($1, $2, $3, 'seeded rush key')
			 ON CONFLICT (key_hash) DO NOTHING`,
			uuid.New().String(), hashKey(fmt.Sprintf("%s-rush%d", apiKey, i), pepper), userID)
		if err != nil {
			return errors.Wrapf(err, "api key for %s", userID)
		}
	}
	return nil
}

func seedDemoUser(ctx context.Context, pool *pgxpool.Pool, apiKey, pepper string) error {
	const userID = "usr_demo"

	_, err := pool.Exec(ctx,
		`INSERT INTO users (id, email, name, role)
		 VALUES ($1, 'demo@example.com', 'Demo Customer', 'customer')
		 ON CONFLICT (id) DO NOTHING`,
		userID)
	if err != nil {
		return errors.Wrap(err, "user")
	}

	_, err = pool.Exec(ctx,
		`INSERT INTO api_keys (id, key_hash, user_id, name)
		 VALUES ($1, $2, $3, 'seeded demo key')
		 ON CONFLICT (key_hash) DO NOTHING`,
		uuid.New().String(), hashKey(apiKey, pepper), userID)
	if err != nil {
		return errors.Wrap(err, "api key")
	}

	_, err = pool.Exec(ctx,
		`INSERT INTO addresses (id, user_id, line1, city, region, postcode, country)
		 VALUES ('addr_demo', $1, '1 Market Street', 'Melbourne', 'VIC', '3000', 'AU')
		 ON CONFLICT (id) DO NOTHING`,
		userID)
	if err != nil {
		return errors.Wrap(err, "address")
	}

	slog.Info("demo user ready", slog.String("user_id", userID))
	return nil
}

// hashKey mirrors the server's API key hashing: HMAC-SHA256 with the pepper.
func hashKey(apiKey, pepper string) string {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(apiKey))
	return hex.EncodeToString(mac.Sum(nil))
}
