package delivery

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

/* Scheduler drives retries. Waiting deliveries live in the store's
 * retry schedule, not in sleeping goroutines: the worker wakes on an
 * interval, atomically claims records whose time has come and re-runs
 * them through the dispatcher's attempt pipeline. Claiming keeps the
 * per-record sequencing guarantee: attempt N+1 never starts before
 * attempt N's outcome is recorded.
 */
type Scheduler struct {
	dispatcher *Dispatcher
	store      Repository
	interval   time.Duration
	batchSize  int
	staleAfter time.Duration
	log        zerolog.Logger

	stopCh chan struct{}
}

// NewScheduler creates a retry scheduler polling the store every
// interval, claiming at most batchSize due records per pass.
func NewScheduler(dispatcher *Dispatcher, store Repository, interval time.Duration, batchSize int, staleAfter time.Duration, log zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if staleAfter <= 0 {
		staleAfter = 2 * time.Minute
	}
	return &Scheduler{
		dispatcher: dispatcher,
		store:      store,
		interval:   interval,
		batchSize:  batchSize,
		staleAfter: staleAfter,
		log:        log,
		stopCh:     make(chan struct{}),
	}
}

// Start runs the scheduler loop until the context is cancelled or Stop
// is called.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.pass(ctx)
			}
		}
	}()
}

// Stop stops the scheduler loop
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

// pass claims due retries and reconciles deliveries abandoned mid-attempt
func (s *Scheduler) pass(ctx context.Context) {
	s.reconcileStale(ctx)

	due, err := s.store.ClaimDue(ctx, time.Now(), s.batchSize)
	if err != nil {
		s.log.Error().Err(err).Msg("claiming due retries")
		return
	}

	for _, rec := range due {
		sub, err := s.dispatcher.subs.Get(ctx, rec.WebhookID)
		if err != nil {
			if errNotFound(err) {
				s.dispatcher.settleRemoved(ctx, rec)
				continue
			}
			// Transient lookup failure: push the record back on the
			// schedule rather than losing it
			next := time.Now().Add(s.interval)
			rec.NextAttemptAt = &next
			rec.UpdatedAt = time.Now()
			if uerr := s.store.Update(ctx, rec); uerr != nil {
				s.log.Error().Err(uerr).Str("delivery_id", rec.ID).Msg("rescheduling after lookup failure")
			}
			continue
		}

		// A deactivated subscription still drains its scheduled
		// deliveries; deactivation only stops new fan-out.
		s.dispatcher.wg.Add(1)
		go func(rec Delivery) {
			defer s.dispatcher.wg.Done()
			s.dispatcher.deliver(ctx, sub, rec)
		}(rec)
	}
}

// reconcileStale returns deliveries stuck in Delivering (e.g. the
// process died mid-attempt) to the retry schedule. The interrupted
// attempt never recorded an outcome, so the attempt count is unchanged.
func (s *Scheduler) reconcileStale(ctx context.Context) {
	stale, err := s.store.ReclaimStale(ctx, time.Now().Add(-s.staleAfter), s.batchSize)
	if err != nil {
		s.log.Error().Err(err).Msg("reclaiming stale deliveries")
		return
	}

	for _, rec := range stale {
		next := time.Now().Add(s.dispatcher.policy.NextDelay(rec.AttemptCount))
		rec.Status = Failed
		rec.NextAttemptAt = &next
		rec.UpdatedAt = time.Now()
		if err := s.store.Update(ctx, rec); err != nil {
			s.log.Error().Err(err).Str("delivery_id", rec.ID).Msg("reconciling stale delivery")
			continue
		}
		s.log.Warn().Str("delivery_id", rec.ID).Msg("reconciled stale delivery back to retry schedule")
	}
}
