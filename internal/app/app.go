package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cartflow/checkout/internal/domain/auth"
	"github.com/cartflow/checkout/internal/domain/cart"
	"github.com/cartflow/checkout/internal/domain/checkout"
	"github.com/cartflow/checkout/internal/domain/coupon"
	"github.com/cartflow/checkout/internal/domain/order"
	"github.com/cartflow/checkout/internal/domain/payment"
	"github.com/cartflow/checkout/internal/httpapi"
	"github.com/cartflow/checkout/internal/listener"
	"github.com/cartflow/checkout/internal/redisstore"
	"github.com/cartflow/checkout/internal/repository"
	"github.com/cartflow/checkout/pkg/health"
	"github.com/cartflow/checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the payment
// confirmation listener, and handles graceful shutdown. It is the single
// wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Redis holds checkout sessions and pending-order slots.
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return errors.Wrap(err, "parse redis URL")
	}
	rdb := redis.NewClient(redisOpts)
	defer func() {
		_ = rdb.Close()
	}()

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddReadinessCheck("redis", 5*time.Second, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.SetReady(true)

	// Repositories.
	productRepo := repository.NewProductRepository(pool)
	couponRepo := repository.NewCouponRepository(pool)
	cartRepo := repository.NewCartRepository(pool, func() string {
		return uuid.New().String()
	})
	orderRepo := repository.NewOrderRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)

	sessionStore := redisstore.NewSessionStore(rdb, cfg.Checkout.SessionTTL)
	pendingStore := redisstore.NewPendingOrderStore(rdb, cfg.Checkout.PendingTTL)

	// Domain services.
	cartSvc := cart.NewService(cartRepo, productRepo, sessionStore)
	couponValidator := coupon.NewRepoValidator(couponRepo)
	ledger := order.NewLedger(orderRepo)

	initiators := map[payment.Method]payment.Initiator{
		payment.MethodCOD: payment.CODInitiator{},
		payment.MethodGateway: payment.NewRedirectInitiator(payment.GatewayConfig{
			BaseURL:     cfg.Gateway.BaseURL,
			StoreID:     cfg.Gateway.StoreID,
			StoreSecret: cfg.Gateway.StoreSecret,
		}, &http.Client{Timeout: 10 * time.Second}),
	}

	orch := checkout.NewOrchestrator(
		checkout.Config{
			DeliveryCharge: decimal.NewFromInt(int64(cfg.DeliveryCharge)),
			Currency:       cfg.Currency,
		},
		sessionStore, cartSvc, couponValidator, ledger, initiators, pendingStore,
	)

	confirmations := listener.New(
		cfg.SignalBuffer, ledger, cartSvc, pendingStore, orch,
		lg.Named("listener"),
	)

	verifier := auth.NewVerifier(sessionRepo, []byte(cfg.APITokenPepper))

	// HTTP handler + mux: health endpoints and API routes on one server.
	h := httpapi.NewHandler(
		productRepo, cartSvc, orch, ledger, confirmations, verifier,
		[]byte(cfg.Gateway.StoreSecret),
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	h.Routes(mux)

	routeFinder := httpmiddleware.MakeRouteFinder(mux)
	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				KeyFunc: httpmiddleware.KeyBySessionToken,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("checkout-api", routeFinder, m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(routeFinder),
		),
	}

	// The listener drains confirmation signals until shutdown.
	listenerDone := make(chan struct{})
	go func() {
		defer close(listenerDone)
		if err := confirmations.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("confirmation listener stopped", zap.Error(err))
		}
	}()

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	<-listenerDone
	return nil
}
