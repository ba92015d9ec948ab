/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the job-work voucher ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (file, JOBWORK_* env vars, defaults)
  2. Build the zap logger
  3. Open the store from database.path (SQLite file, or memory)
  4. Choose the number counter from numbering.backend (sqlite, redis, memory)
  5. Wire allocator, metrics and service
  6. Start the cache-audit scheduler
  7. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Optional config file (yaml, toml or json)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler
  4. Close storage connections
  5. Exit

EXAMPLES:
  # Run with defaults (./data/jobwork.db)
  ./server

  # Run in memory with console logs
  JOBWORK_DATABASE_PATH=":memory:" JOBWORK_NUMBERING_BACKEND=memory JOBWORK_LOG_FORMAT=console ./server

  # Share numbering across instances through Redis
  JOBWORK_NUMBERING_BACKEND=redis JOBWORK_REDIS_ADDR=redis:6379 ./server

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
  - jobwork/service.go: Service wiring
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/jobwork-ledger/api"
	"github.com/warp/jobwork-ledger/config"
	"github.com/warp/jobwork-ledger/generic"
	"github.com/warp/jobwork-ledger/jobwork"
	"github.com/warp/jobwork-ledger/store/memory"
	"github.com/warp/jobwork-ledger/store/redis"
	"github.com/warp/jobwork-ledger/store/sqlite"
	"github.com/warp/jobwork-ledger/telemetry"
)

func main() {
	configPath := flag.String("config", "", "optional config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// No logger yet.
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := telemetry.NewLogger(telemetry.LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format})
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	b, err := openBackends(cfg, logger)
	if err != nil {
		return err
	}

	metrics := telemetry.NewMetrics()
	allocator := generic.NewNumberAllocator(b.counter, generic.NumberFormat{Prefix: cfg.Numbering.Prefix}, nil)
	svc := jobwork.NewService(b.vouchers, b.payments, allocator,
		jobwork.WithLogger(logger.Named("jobwork")),
		jobwork.WithMetrics(metrics),
	)

	scheduler := api.NewAuditScheduler(svc, logger)
	scheduler.Enabled = cfg.Audit.Enabled
	scheduler.Interval = cfg.Audit.Interval
	scheduler.Repair = cfg.Audit.Repair
	scheduler.Start()

	router := api.NewRouter(api.NewHandler(svc, logger.Named("api")), api.RouterOptions{
		Logger:         logger.Named("http"),
		Metrics:        metrics,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		RateLimit:      cfg.HTTP.RateLimit,
		RateBurst:      cfg.HTTP.RateBurst,
		Health:         b.health,
	})

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("env", cfg.App.Env),
			zap.String("numbering", cfg.Numbering.Backend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	scheduler.Stop()

	b.close(logger)

	logger.Info("server stopped")
	return nil
}

// backends holds the storage and counter chosen by configuration.
type backends struct {
	vouchers jobwork.VoucherStore
	payments jobwork.PaymentStore
	counter  generic.Counter
	health   func(context.Context) error
	closers  []func() error
}

// openBackends picks storage from database.path and the number counter from
// numbering.backend. The two settings are independent.
func openBackends(cfg *config.Config, logger *zap.Logger) (*backends, error) {
	b := &backends{}

	// Storage
	var sqlStore *sqlite.Store
	if cfg.InMemoryStorage() {
		mem := memory.NewMemory()
		b.vouchers, b.payments = mem, mem
		logger.Warn("using in-memory storage; data is lost on exit")
	} else {
		if dir := filepath.Dir(cfg.Database.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		store, err := sqlite.New(cfg.Database.Path, sqlite.WithLogger(logger.Named("sqlite")))
		if err != nil {
			return nil, err
		}
		sqlStore = store
		b.closers = append(b.closers, store.Close)
		b.vouchers, b.payments = store, store
		b.health = func(context.Context) error { return store.Ping() }
		logger.Info("sqlite store opened", zap.String("path", cfg.Database.Path))
	}

	// Numbering
	switch cfg.Numbering.Backend {
	case config.BackendRedis:
		rc, err := redis.NewCounter(redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			b.close(logger)
			return nil, err
		}
		b.closers = append(b.closers, rc.Close)
		b.counter = rc
		logger.Info("voucher numbers allocated through redis", zap.String("addr", cfg.Redis.Addr))
	case config.BackendMemory:
		// Seeded from stored numbers on first use, so a restart does not
		// reissue numbers. Safe for a single instance only.
		b.counter = memory.NewMemory()
		logger.Warn("voucher numbers allocated in memory; run one instance only")
	default:
		if sqlStore == nil {
			return nil, errors.New("numbering.backend sqlite needs a database file")
		}
		b.counter = sqlStore
	}
	return b, nil
}

func (b *backends) close(logger *zap.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}
}
