package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/islandd/internal/logging"
	"github.com/fyrsmithlabs/islandd/internal/metadata"
	"github.com/fyrsmithlabs/islandd/internal/scope"
)

// Drift is a partition whose recorded point count was corrected.
type Drift struct {
	Partition string `json:"partition"`
	Recorded  int64  `json:"recorded"`
	Actual    int64  `json:"actual"`
}

// ReconcileReport summarizes one reconcile sweep.
type ReconcileReport struct {
	Checked   int
	Drift     []Drift
	Recreated []string // records whose physical partition was missing
	Orphans   []string // physical partitions without a record, left in place
	Err       error    // per-partition failures joined
}

// Failed reports whether any partition could not be reconciled.
func (r *ReconcileReport) Failed() bool { return r.Err != nil }

// ReconcileAllPointCounts sets every partition record's point count to the
// backend's and repairs divergence between the two stores. A failure on one
// partition is recorded in the report and the sweep moves on. The returned
// error is non-nil only when the sweep could not start.
func (m *Manager) ReconcileAllPointCounts(ctx context.Context) (report *ReconcileReport, err error) {
	ctx, end := m.startSpan(ctx, "reconcile")
	defer end(&err)

	records, err := m.store.ListPartitions(ctx)
	if err != nil {
		reconcileRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("list partition records: %w", err)
	}

	report = &ReconcileReport{}
	var errs []error

	lctx, cancel := m.bounded(ctx)
	physical, listErr := m.backend.ListPartitions(lctx)
	cancel()
	present := make(map[string]bool, len(physical))
	if listErr != nil {
		errs = append(errs, fmt.Errorf("list physical partitions: %w", listErr))
	}
	for _, name := range physical {
		present[name] = true
	}

	recorded := make(map[string]bool, len(records))
	for _, p := range records {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		recorded[p.Name] = true
		report.Checked++

		if err := m.reconcileOne(ctx, p, listErr == nil && !present[p.Name], report); err != nil {
			errs = append(errs, fmt.Errorf("partition %s: %w", p.Name, err))
		}
	}

	if listErr == nil {
		for _, name := range physical {
			if !recorded[name] && name != scope.GlobalPartition && scope.Recognized(name) {
				report.Orphans = append(report.Orphans, name)
			}
		}
		sort.Strings(report.Orphans)
		for _, name := range report.Orphans {
			reconcileRepairs.WithLabelValues("orphan").Inc()
			m.logger.Warn(logging.WithPartition(ctx, name), "physical partition has no record", zap.Bool("orphan", true))
		}
	}

	report.Err = errors.Join(errs...)
	result := "ok"
	if report.Err != nil {
		result = "partial"
	}
	reconcileRuns.WithLabelValues(result).Inc()
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("checked", report.Checked),
		attribute.Int("drift", len(report.Drift)),
	)

	m.logger.Info(ctx, "reconcile finished",
		zap.Int("checked", report.Checked),
		zap.Int("drift", len(report.Drift)),
		zap.Int("recreated", len(report.Recreated)),
		zap.Int("orphans", len(report.Orphans)),
		zap.NamedError("failures", report.Err))
	return report, nil
}

func (m *Manager) reconcileOne(ctx context.Context, p *metadata.Partition, missing bool, report *ReconcileReport) error {
	ctx = logging.WithPartition(ctx, p.Name)
	cctx, cancel := m.bounded(ctx)
	defer cancel()

	if missing {
		return m.recreate(ctx, cctx, p, report)
	}

	stats, err := m.backend.Stats(cctx, p.Name)
	if err != nil {
		return err
	}
	if actual := stats.PointCount; actual != p.PointCount {
		m.recordDrift(ctx, report, p, actual)
	}
	return m.store.SetReconciledCount(ctx, p.ID, stats.PointCount, m.now())
}

// recreate restores a missing physical partition. The new partition is
// empty, so the dataset's file records are dropped with it and the next sync
// re-indexes every file.
func (m *Manager) recreate(ctx, cctx context.Context, p *metadata.Partition, report *ReconcileReport) error {
	if p.Dimension <= 0 {
		return fmt.Errorf("physical partition missing and dimension unknown")
	}
	if _, err := m.ensurePhysical(cctx, p.Name, p.Dimension, p.Hybrid); err != nil {
		return err
	}

	var stale int64
	err := m.store.WithTx(ctx, func(tx *metadata.Tx) error {
		var err error
		if stale, err = tx.DeleteIndexedFiles(ctx, p.DatasetID); err != nil {
			return err
		}
		return tx.SetReconciledCount(ctx, p.ID, 0, m.now())
	})
	if err != nil {
		return fmt.Errorf("reset records of recreated partition: %w", err)
	}

	report.Recreated = append(report.Recreated, p.Name)
	reconcileRepairs.WithLabelValues("recreated").Inc()
	m.logger.Warn(ctx, "recreated missing physical partition",
		zap.String("dataset_id", p.DatasetID),
		zap.Int64("recorded_points", p.PointCount),
		zap.Int64("stale_file_records", stale))
	if p.PointCount != 0 {
		m.recordDrift(ctx, report, p, 0)
	}
	return nil
}

func (m *Manager) recordDrift(ctx context.Context, report *ReconcileReport, p *metadata.Partition, actual int64) {
	report.Drift = append(report.Drift, Drift{Partition: p.Name, Recorded: p.PointCount, Actual: actual})
	reconcileDrift.Inc()
	m.logger.Info(ctx, "point count corrected",
		zap.Int64("recorded", p.PointCount),
		zap.Int64("actual", actual))
}

// Scheduler runs ReconcileAllPointCounts on an interval.
type Scheduler struct {
	manager  *Manager
	interval time.Duration
	logger   *logging.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	last    *ReconcileReport
}

// NewScheduler creates a scheduler. It does not start until Start is called.
func NewScheduler(m *Manager, interval time.Duration) (*Scheduler, error) {
	if m == nil {
		return nil, fmt.Errorf("manager cannot be nil")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("reconcile interval must be positive, got %s", interval)
	}
	return &Scheduler{manager: m, interval: interval, logger: m.logger}, nil
}

// Start launches the background loop. It runs until Stop is called or ctx
// is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.running = true

	s.logger.Info(ctx, "reconcile scheduler started", zap.Duration("interval", s.interval))
	go s.run(ctx, s.done)
	return nil
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
// Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	done := s.done
	s.mu.Unlock()

	<-done
}

// LastReport returns the report of the most recent sweep, or nil.
func (s *Scheduler) LastReport() *ReconcileReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx)
		case <-ctx.Done():
			s.logger.Debug(context.WithoutCancel(ctx), "reconcile scheduler stopped")
			return
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(ctx, "reconcile run panicked, continuing scheduler",
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	report, err := s.manager.ReconcileAllPointCounts(ctx)
	if err != nil {
		s.logger.Error(ctx, "reconcile failed", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.last = report
	s.mu.Unlock()
}
