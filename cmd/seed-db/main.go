package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cartflow/checkout/internal/domain/auth"
	"github.com/cartflow/checkout/internal/repository"
)

type productJSON struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Category string          `json:"category"`
	Colors   []string        `json:"colors"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
		seedToken    string
		tokenPepper  string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&seedToken, "session-token", "", "demo shopper session token to seed (or CARTFLOW_SEED_TOKEN env)")
	flag.StringVar(&tokenPepper, "token-pepper", "", "HMAC pepper for session token hashing (or CARTFLOW_API_TOKEN_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if seedToken == "" {
		seedToken = os.Getenv("CARTFLOW_SEED_TOKEN")
	}
	if seedToken == "" {
		slog.Error("session token is required: set --session-token or CARTFLOW_SEED_TOKEN")
		os.Exit(1)
	}
	if tokenPepper == "" {
		tokenPepper = os.Getenv("CARTFLOW_API_TOKEN_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, seedToken, tokenPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, seedToken, pepper string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, pool, productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedCoupons(ctx, pool); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	if err := seedSession(ctx, pool, seedToken, pepper); err != nil {
		return errors.Wrap(err, "seed session")
	}

	return nil
}

const upsertProductSQL = `INSERT INTO products (id, name, price, category, colors)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE
	SET name = EXCLUDED.name, price = EXCLUDED.price,
	    category = EXCLUDED.category, colors = EXCLUDED.colors`

func seedProducts(ctx context.Context, pool *pgxpool.Pool, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		colors := p.Colors
		if colors == nil {
			colors = []string{}
		}
		if _, err := pool.Exec(ctx, upsertProductSQL, p.ID, p.Name, p.Price, p.Category, colors); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

const insertCouponSQL = `INSERT INTO coupons (code, discount_percent, expires_at, owner_id, active)
	SELECT $1, $2, $3, NULLIF($4, ''), TRUE
	WHERE NOT EXISTS (SELECT 1 FROM coupons WHERE UPPER(code) = UPPER($1))`

func seedCoupons(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding demo coupons")

	coupons := []struct {
		code    string
		percent int
		expires time.Time
		ownerID string
	}{
		{code: "SAVE10", percent: 10, expires: time.Now().AddDate(1, 0, 0)},
		{code: "WELCOME25", percent: 25, expires: time.Now().AddDate(0, 3, 0)},
		{code: "EXPIRED5", percent: 5, expires: time.Now().AddDate(0, 0, -1)},
	}

	for _, c := range coupons {
		if _, err := pool.Exec(ctx, insertCouponSQL, c.code, c.percent, c.expires, c.ownerID); err != nil {
			return errors.Wrapf(err, "insert coupon %s", c.code)
		}

		slog.Info("seeded coupon", slog.String("code", c.code), slog.Int("percent", c.percent))
	}

	return nil
}

const upsertSessionSQL = `INSERT INTO shopper_sessions (token_hash, shopper_id, expires_at)
	VALUES ($1, $2, $3)
	ON CONFLICT (token_hash) DO UPDATE
	SET shopper_id = EXCLUDED.shopper_id, expires_at = EXCLUDED.expires_at`

func seedSession(ctx context.Context, pool *pgxpool.Pool, token, pepper string) error {
	slog.Info("seeding demo shopper session")

	hash := auth.HashToken([]byte(pepper), token)
	expiresAt := time.Now().AddDate(0, 1, 0)

	if _, err := pool.Exec(ctx, upsertSessionSQL, hash, "demo-shopper", expiresAt); err != nil {
		return errors.Wrap(err, "upsert session")
	}

	slog.Info("seeded session",
		slog.String("shopper_id", "demo-shopper"),
		slog.Time("expires_at", expiresAt),
	)

	return nil
}
