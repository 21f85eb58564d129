package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/slot-reservation/internal/cache"
	"github.com/iliyamo/slot-reservation/internal/clock"
	"github.com/iliyamo/slot-reservation/internal/config"
	"github.com/iliyamo/slot-reservation/internal/database"
	"github.com/iliyamo/slot-reservation/internal/logger"
	"github.com/iliyamo/slot-reservation/internal/queue"
	"github.com/iliyamo/slot-reservation/internal/repository"
	"github.com/iliyamo/slot-reservation/internal/service"
)

// app holds the infrastructure shared by the commands.
type app struct {
	cfg     config.Config
	log     *zap.Logger
	clock   clock.Clock
	db      *sql.DB
	store   service.SlotStore
	catalog service.Catalog

	rdb       *redis.Client
	publisher *queue.Publisher
}

// newApp loads configuration, builds the logger and opens the Slot Store
// selected by STORE_DRIVER.
func newApp() (*app, error) {
	cfg := config.Load()
	log, err := logger.New(cfg.IsProduction())
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	a := &app{cfg: cfg, log: log, clock: clock.NewSystem()}

	switch cfg.StoreDriver {
	case "mysql":
		db, err := database.Open(cfg)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.db = db
		a.store = repository.NewSlotRepo(db)
		a.catalog = repository.NewCatalogRepo(db)
	case "memory":
		log.Warn("using in-memory slot store; state is lost on exit")
		a.store = repository.NewMemorySlotRepo(a.clock.Now)
		a.catalog = repository.NewMemoryCatalog()
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	return a, nil
}

// migrate applies pending migrations when the store is MySQL.
func (a *app) migrate(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	applied, err := database.Migrate(ctx, a.db)
	if err != nil {
		return err
	}
	for _, name := range applied {
		a.log.Info("migration applied", zap.String("file", name))
	}
	return nil
}

// redisClient connects once; nil means Redis is unavailable.
func (a *app) redisClient() *redis.Client {
	if a.rdb == nil {
		a.rdb = config.NewRedisClient()
		if a.rdb == nil {
			a.log.Warn("redis unavailable, using in-process fallbacks")
		}
	}
	return a.rdb
}

// listingCache returns the Redis listing cache, or nil when disabled or
// Redis is unavailable.  The nil check keeps a nil *SlotCache out of the
// interface.
func (a *app) listingCache() service.ListingCache {
	if sc := cache.NewSlotCache(config.LoadCacheConfig(), a.redisClient(), a.log.Named("cache")); sc != nil {
		return sc
	}
	return nil
}

// events returns the sink every transition is published to.  extra sinks
// are appended after the logger and the broker publisher.
func (a *app) events(extra ...service.EventSink) service.EventSink {
	sinks := service.MultiSink{service.LogSink{Log: a.log}}
	if a.cfg.EventsEnabled {
		if a.publisher == nil {
			a.publisher = queue.NewPublisher(a.cfg.RabbitMQURL, a.log)
		}
		sinks = append(sinks, a.publisher)
	}
	return append(sinks, extra...)
}

func (a *app) arbiter(sink service.EventSink) *service.Arbiter {
	return service.NewArbiter(a.store, a.clock,
		service.WithHoldTTL(a.cfg.HoldTTL),
		service.WithEvents(sink),
		service.WithArbiterLogger(a.log.Named("arbiter")))
}

func (a *app) reaper(arb *service.Arbiter) *service.Reaper {
	return service.NewReaper(a.store, arb, a.clock,
		service.WithReapInterval(a.cfg.ReapInterval),
		service.WithReapBatch(a.cfg.ReapBatchSize),
		service.WithReaperLogger(a.log.Named("reaper")))
}

func (a *app) generator() *service.Generator {
	return service.NewGenerator(a.store, a.clock,
		service.WithGranularity(a.cfg.SlotGranularity),
		service.WithCatalog(a.catalog),
		service.WithGeneratorLogger(a.log.Named("generator")))
}

// close releases everything newApp and its helpers opened.
func (a *app) close() {
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	_ = a.log.Sync()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
