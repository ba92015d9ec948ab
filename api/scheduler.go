/*
scheduler.go - Periodic cache audit

PURPOSE:
  Vouchers cache their status and running totals for list views. Documents
  written by imports or older clients can drift from their events. The
  scheduler periodically re-folds every voucher, logs and counts any
  divergence, and writes the corrected cache back.

DESIGN:
  - Runs a background goroutine with configurable interval
  - Runs once immediately on start
  - Each run is bounded by the interval so a slow store cannot stack runs
  - Stop cancels an in-flight run and waits for it to return

CONFIGURATION:
  - Interval: How often to audit (audit.interval, default 1h)
  - Repair:   Write corrected caches (audit.repair, default true)
  - Enabled:  Whether the scheduler runs at all (audit.enabled)

USAGE:
  scheduler := NewAuditScheduler(service, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunCacheAudit endpoint (manual audit)
  - jobwork/audit.go: AuditCache
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/jobwork-ledger/jobwork"
)

// AuditScheduler runs jobwork.Service.AuditCache on a ticker.
type AuditScheduler struct {
	Service  *jobwork.Service
	Logger   *zap.Logger
	Interval time.Duration
	Repair   bool
	Enabled  bool

	ticker *time.Ticker
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex

	reportMu   sync.Mutex
	lastReport *jobwork.AuditReport
}

// NewAuditScheduler creates an enabled hourly scheduler that repairs caches.
func NewAuditScheduler(svc *jobwork.Service, logger *zap.Logger) *AuditScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditScheduler{
		Service:  svc,
		Logger:   logger.Named("audit"),
		Interval: time.Hour,
		Repair:   true,
		Enabled:  true,
	}
}

// Start begins the scheduler.
func (as *AuditScheduler) Start() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if !as.Enabled {
		as.Logger.Info("scheduler disabled, not starting")
		return
	}
	if as.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	as.cancel = cancel
	as.ticker = time.NewTicker(as.Interval)
	as.wg.Add(1)

	go as.run(ctx)

	as.Logger.Info("scheduler started", zap.Duration("interval", as.Interval))
}

// Stop stops the scheduler.
func (as *AuditScheduler) Stop() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.ticker != nil {
		as.ticker.Stop()
		as.cancel()
		as.wg.Wait()
		as.ticker = nil
		as.Logger.Info("scheduler stopped")
	}
}

// LastReport returns the report of the most recent completed run.
func (as *AuditScheduler) LastReport() *jobwork.AuditReport {
	as.reportMu.Lock()
	defer as.reportMu.Unlock()
	return as.lastReport
}

func (as *AuditScheduler) run(ctx context.Context) {
	defer as.wg.Done()

	// Run immediately on start
	as.RunOnce(ctx)

	for {
		select {
		case <-as.ticker.C:
			as.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs a single audit.
func (as *AuditScheduler) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, as.Interval)
	defer cancel()

	report, err := as.Service.AuditCache(ctx, as.Repair)
	if err != nil {
		as.Logger.Error("cache audit failed", zap.Error(err), zap.Int("checked", report.Checked))
		return
	}

	as.reportMu.Lock()
	as.lastReport = &report
	as.reportMu.Unlock()

	if report.Diverged > 0 {
		as.Logger.Warn("cache audit found divergent vouchers",
			zap.Int("diverged", report.Diverged),
			zap.Int("repaired", report.Repaired),
		)
	}
}
