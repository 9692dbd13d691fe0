/*
scheduler.go - Periodic ledger audit

PURPOSE:
  Runs billing.Auditor on a timer so a broken ledger invariant (an
  over-allocated charge, a frame whose PayStatus drifted from its charges)
  shows up in the logs and on /metrics without anyone asking.

DESIGN:
  - Runs a background goroutine with configurable interval
  - Runs once immediately on Start
  - Only reads; violations are reported, never repaired

CONFIGURATION:
  - Interval: How often to audit (default: 1 hour, AUDIT_INTERVAL)
  - Enabled:  Whether scheduler is active (default: true, AUDIT_ENABLED)

USAGE:
  scheduler := NewAuditScheduler(&billing.Auditor{Store: store}, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - billing/audit.go: the checks
  - handlers.go: GET /api/audit (manual run)
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/table-ledger/billing"
	"github.com/warp/table-ledger/metrics"
)

// AuditScheduler runs the ledger audit periodically.
type AuditScheduler struct {
	Auditor  *billing.Auditor
	Logger   *slog.Logger
	Interval time.Duration
	Enabled  bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu sync.RWMutex
	last   *billing.AuditReport
}

// NewAuditScheduler creates a new scheduler.
func NewAuditScheduler(auditor *billing.Auditor, logger *slog.Logger) *AuditScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditScheduler{
		Auditor:  auditor,
		Logger:   logger.With(slog.String("component", "audit")),
		Interval: time.Hour,
		Enabled:  true,
	}
}

// Start begins the scheduler.
func (s *AuditScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("audit scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run()

	s.Logger.Info("audit scheduler started", slog.Duration("interval", s.Interval))
}

// Stop stops the scheduler and waits for a running audit to finish.
func (s *AuditScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Logger.Info("audit scheduler stopped")
}

func (s *AuditScheduler) run() {
	defer s.wg.Done()

	s.RunNow(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.RunNow(context.Background())
		case <-s.stop:
			return
		}
	}
}

// RunNow audits the ledger immediately and returns the report.
func (s *AuditScheduler) RunNow(ctx context.Context) (*billing.AuditReport, error) {
	start := time.Now()
	report, err := s.Auditor.Audit(ctx)
	metrics.AuditFinished(report, err)
	if err != nil {
		s.Logger.Error("ledger audit failed", slog.String("error", err.Error()))
		return nil, err
	}

	s.lastMu.Lock()
	s.last = report
	s.lastMu.Unlock()

	if report.OK() {
		s.Logger.Info("ledger audit clean",
			slog.Int("customers", report.Customers),
			slog.Int("charges", report.Charges),
			slog.Int("payments", report.Payments),
			slog.Duration("took", time.Since(start)))
		return report, nil
	}
	for _, v := range report.Violations {
		s.Logger.Warn("ledger invariant violated",
			slog.String("customer_id", string(v.CustomerID)),
			slog.String("code", v.Code),
			slog.String("ref", v.Ref),
			slog.String("message", v.Message))
	}
	return report, nil
}

// LastReport returns the most recent successful report, or nil.
func (s *AuditScheduler) LastReport() *billing.AuditReport {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.last
}
