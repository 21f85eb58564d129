package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iliyamo/slot-reservation/internal/config"
	"github.com/iliyamo/slot-reservation/internal/handler"
	"github.com/iliyamo/slot-reservation/internal/middleware"
	"github.com/iliyamo/slot-reservation/internal/payment"
	"github.com/iliyamo/slot-reservation/internal/repository"
	"github.com/iliyamo/slot-reservation/internal/router"
	"github.com/iliyamo/slot-reservation/internal/service"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd starts the HTTP API and, unless REAPER_ENABLED=false, the
// hold expiry reaper in the same process.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signalContext()
			defer stop()

			if err := a.migrate(ctx); err != nil {
				return err
			}
			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	cfg := a.cfg
	rdb := a.redisClient()

	listing := a.listingCache()
	sink := a.events(service.CacheInvalidator(listing))
	arb := a.arbiter(sink)

	var sessions service.CheckoutStore = repository.NewMemoryCheckoutStore()
	if rdb != nil {
		sessions = repository.NewRedisCheckoutStore(rdb, cfg.HoldTTL+time.Hour)
	}
	var gateway payment.Gateway = payment.NewSandbox()
	if cfg.PaymentProvider == "stripe" {
		gateway = payment.NewStripeGateway(cfg.StripeSecretKey, a.log.Named("stripe"))
	}
	coord := service.NewCoordinator(arb, sessions, gateway, a.clock,
		service.WithPricing(a.catalog, cfg.DefaultPriceCents, cfg.PaymentCurrency),
		service.WithFees(service.BasisPointFees{PlatformBps: cfg.PlatformFeeBps, TaxBps: cfg.TaxBps}),
		service.WithPaymentRetry(cfg.PaymentMaxAttempts, cfg.PaymentRetryBackoff),
		service.WithCheckoutEvents(sink),
		service.WithCoordinatorLogger(a.log.Named("checkout")))

	slots := handler.NewSlotHandler(service.NewSlotLister(a.store, listing, a.clock, a.log), arb, a.clock, cfg.HoldWarningThreshold, a.log)
	checkouts := handler.NewCheckoutHandler(coord, a.log)
	provider := handler.NewProviderHandler(a.generator(), a.clock, cfg.GenerationHorizonDays, a.log)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.Logger())
	router.RegisterRoutes(e, slots)
	router.RegisterCustomer(e, slots, checkouts, cfg.JWTSecret, middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))
	router.RegisterProvider(e, provider, cfg.JWTSecret)

	if cfg.ReaperEnabled {
		reaper := a.reaper(arb)
		if err := reaper.Start(ctx); err != nil {
			return err
		}
		defer reaper.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		a.log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env), zap.String("store", cfg.StoreDriver))
		errCh <- e.Start(addr)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	a.log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(sctx)
}
