package poll

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sleuth/internal/investigate"
	"github.com/linnemanlabs/sleuth/internal/signature"
)

// SchedulerConfig carries the cycle cadence and failure backoff bounds.
type SchedulerConfig struct {
	// Interval is the sleep between successful cycle pairs.
	Interval time.Duration

	// MaxBackoff caps the delay grown by consecutive cycle failures.
	MaxBackoff time.Duration
}

// Scheduler re-triggers the poll and investigation cycles on a fixed
// interval. Consecutive cycle-level failures grow the delay
// exponentially up to MaxBackoff; any success resets it. Cancellation
// is cooperative: the running cycle finishes its current item first.
type Scheduler struct {
	svc      *Service
	stats    signature.Store
	notifier investigate.Notifier
	logger   log.Logger
	metrics  *Metrics
	cfg      SchedulerConfig
}

// NewScheduler creates a scheduler over the poll service. notifier may
// be nil to disable summary reports.
func NewScheduler(svc *Service, stats signature.Store, notifier investigate.Notifier, logger log.Logger, metrics *Metrics, cfg SchedulerConfig) *Scheduler {
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 15 * time.Minute
	}
	return &Scheduler{
		svc:      svc,
		stats:    stats,
		notifier: notifier,
		logger:   logger,
		metrics:  metrics,
		cfg:      cfg,
	}
}

// Run loops until ctx is cancelled. It never returns an error: cycle
// failures are logged and absorbed into the backoff.
func (s *Scheduler) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.Interval
	bo.MaxInterval = s.cfg.MaxBackoff

	for {
		ok := s.runOnce(ctx)
		if ctx.Err() != nil {
			s.logger.Info(context.Background(), "scheduler stopped")
			return
		}

		wait := s.cfg.Interval
		if ok {
			bo.Reset()
		} else {
			if next := bo.NextBackOff(); next > 0 {
				wait = next
			} else {
				wait = s.cfg.MaxBackoff
			}
			if s.metrics != nil {
				s.metrics.SchedulerBackoff.Inc()
			}
			s.logger.Warn(ctx, "cycle failed, backing off", "wait", wait.String())
		}

		select {
		case <-ctx.Done():
			s.logger.Info(context.Background(), "scheduler stopped")
			return
		case <-time.After(wait):
		}
	}
}

// runOnce drives one poll cycle and one investigation cycle to
// completion. It reports false on a cycle-level failure; per-item
// failures inside a cycle do not count.
func (s *Scheduler) runOnce(ctx context.Context) bool {
	res, err := s.svc.PollCycle(ctx)
	if err != nil {
		if s.metrics != nil {
			s.metrics.PollCyclesTotal.WithLabelValues("error").Inc()
		}
		s.logger.Error(ctx, err, "poll cycle failed")
		return false
	}
	if s.metrics != nil {
		s.metrics.PollCyclesTotal.WithLabelValues("ok").Inc()
	}

	if _, err := s.svc.InvestigationCycle(ctx); err != nil {
		s.logger.Error(ctx, err, "investigation cycle failed")
		return false
	}

	if s.notifier != nil && res.SignaturesCreated+res.SignaturesUpdated > 0 {
		stats, err := s.stats.Stats(ctx)
		if err != nil {
			s.logger.Error(ctx, err, "stats for summary report")
		} else if err := s.notifier.ReportSummary(ctx, stats); err != nil {
			s.logger.Error(ctx, err, "summary report")
		}
	}

	return true
}
