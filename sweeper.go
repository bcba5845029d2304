package goRotate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// SweepResult reports what one sweep removed.
type SweepResult struct {
	Records      int
	Buckets      int
	IndexEntries int
}

// Sweep removes refresh records that expired more than Sweep.Retention ago, limiter
// buckets whose window and block have lapsed, and revocation entries past their
// deadline. Each step runs even when an earlier one fails; the errors are joined.
//
// Records are kept for the retention period so a late replay of an expired token is
// still recognized rather than reported unknown.
func (e *Engine) Sweep(ctx context.Context) (SweepResult, error) {
	if !e.ready() {
		return SweepResult{}, ErrEngineNotReady
	}

	var (
		res  SweepResult
		errs []error
	)
	cutoff := e.clock.Now().Add(-e.config.Sweep.Retention)

	n, err := e.store.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("records: %w", err))
	}
	res.Records = n

	if e.limiter != nil {
		n, err = e.limiter.Sweep(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("limiter: %w", err))
		}
		res.Buckets = n
	}

	if e.index != nil {
		n, err = e.index.Sweep(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("revocation index: %w", err))
		}
		res.IndexEntries = n
	}

	joined := errors.Join(errs...)
	e.metrics.Add(MetricSweepRecordsDeleted, uint64(res.Records))
	if joined != nil {
		e.metrics.Inc(MetricSweepFailure)
	}
	e.emitAudit(ctx, AuditEvent{
		EventType: EventSweepCompleted,
		Success:   joined == nil,
		Error:     errorString(joined),
		Metadata: map[string]string{
			"records":       strconv.Itoa(res.Records),
			"buckets":       strconv.Itoa(res.Buckets),
			"index_entries": strconv.Itoa(res.IndexEntries),
		},
	})
	return res, joined
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// sweeper runs Engine.Sweep on a ticker until stopped.
type sweeper struct {
	engine   *Engine
	interval time.Duration
	timeout  time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

func newSweeper(e *Engine, interval time.Duration) *sweeper {
	timeout := interval / 2
	if timeout <= 0 || timeout > time.Minute {
		timeout = time.Minute
	}
	return &sweeper{
		engine:   e,
		interval: interval,
		timeout:  timeout,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the loop. An initial sweep runs immediately.
func (s *sweeper) Start() {
	s.startOnce.Do(func() {
		go s.run()
		s.engine.logger.Info().Dur("interval", s.interval).Msg("sweeper started")
	})
}

// Stop ends the loop and waits for an in-flight sweep. It is safe to call before
// Start and more than once.
func (s *sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		started := true
		s.startOnce.Do(func() { started = false })
		if started {
			<-s.done
		}
		s.engine.logger.Info().Msg("sweeper stopped")
	})
}

func (s *sweeper) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	// Close may already have been called; Sweep then reports not ready.
	res, err := s.engine.Sweep(ctx)
	switch {
	case errors.Is(err, ErrEngineNotReady):
		return
	case err != nil:
		s.engine.logger.Error().Err(err).Msg("sweep failed")
	default:
		s.engine.logger.Debug().
			Int("records", res.Records).
			Int("buckets", res.Buckets).
			Int("index_entries", res.IndexEntries).
			Msg("sweep completed")
	}
}
