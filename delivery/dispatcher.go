package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marcelsud/webhook-dispatch/event"
	"github.com/marcelsud/webhook-dispatch/subscription"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

/* Dispatcher fans one domain event out to every active matching
 * subscription. Each delivery proceeds independently: one subscriber's
 * slowness or failure never delays or fails another's. The producer
 * gets its records back as soon as they are durably created; transport
 * happens asynchronously under a bounded in-flight budget.
 */

// UseCase defines the dispatch operations exposed to producers and the
// route layer.
type UseCase interface {
	Dispatch(ctx context.Context, ev event.Event) ([]Delivery, error)
	TestWebhook(ctx context.Context, id, ownerID string, ev *event.Event) (Outcome, error)
}

type Dispatcher struct {
	subs    subscription.Reader
	store   Repository
	sender  *Sender
	policy  *RetryPolicy
	catalog *event.Catalog
	sem     *semaphore.Weighted
	log     zerolog.Logger

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatch engine. maxInFlight caps concurrent
// transport attempts across all deliveries.
func NewDispatcher(subs subscription.Reader, store Repository, sender *Sender, policy *RetryPolicy, catalog *event.Catalog, maxInFlight int64, log zerolog.Logger) *Dispatcher {
	if maxInFlight <= 0 {
		maxInFlight = 64
	}
	return &Dispatcher{
		subs:    subs,
		store:   store,
		sender:  sender,
		policy:  policy,
		catalog: catalog,
		sem:     semaphore.NewWeighted(maxInFlight),
		log:     log,
	}
}

// Dispatch creates one pending delivery record per active matching
// subscription and submits first attempts asynchronously. It fails only
// on internal errors (bad event, store unavailable); subscriber-side
// failures are absorbed into the retry state machine. Duplicate calls
// with the same event id create duplicate records: de-duplication is
// the producer's contract, not this engine's.
func (d *Dispatcher) Dispatch(ctx context.Context, ev event.Event) ([]Delivery, error) {
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("validating event: %w", err)
	}
	if !d.catalog.Recognizes(ev.Type) {
		return nil, fmt.Errorf("unrecognized event type: %s", ev.Type)
	}

	subs, err := d.subs.ActiveByEvent(ctx, ev.Type)
	if err != nil {
		return nil, fmt.Errorf("matching subscriptions: %w", err)
	}

	deliveries := make([]Delivery, 0, len(subs))
	for _, sub := range subs {
		now := time.Now()
		rec := Delivery{
			ID:        uuid.New().String(),
			WebhookID: sub.ID,
			Event:     ev,
			Status:    Pending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if _, err := d.store.Store(ctx, rec); err != nil {
			return nil, fmt.Errorf("storing delivery record: %w", err)
		}
		deliveries = append(deliveries, rec)

		// Detach from the request context so producer cancellation
		// does not abort an already-accepted delivery
		attemptCtx := context.WithoutCancel(ctx)
		d.wg.Add(1)
		go func(sub subscription.Subscription, rec Delivery) {
			defer d.wg.Done()
			d.deliver(attemptCtx, sub, rec)
		}(sub, rec)
	}

	return deliveries, nil
}

// TestWebhook performs a single synchronous attempt outside the retry
// state machine. Nothing is persisted; the raw outcome goes straight
// back to the caller for subscriber-side debugging.
func (d *Dispatcher) TestWebhook(ctx context.Context, id, ownerID string, ev *event.Event) (Outcome, error) {
	sub, err := d.subs.Get(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if sub.OwnerID != ownerID {
		return Outcome{}, subscription.ErrForbidden
	}

	probe := event.Ping()
	if ev != nil {
		probe = *ev
	}

	return d.sender.Attempt(ctx, sub, uuid.New().String(), probe, 1), nil
}

// Wait blocks until all in-flight first attempts have settled.
// Used by graceful shutdown and tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// deliver runs one attempt for a record and settles the result.
// Callers must hold exclusive ownership of the record.
func (d *Dispatcher) deliver(ctx context.Context, sub subscription.Subscription, rec Delivery) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer d.sem.Release(1)

	rec.Status = Delivering
	rec.UpdatedAt = time.Now()
	if err := d.store.Update(ctx, rec); err != nil {
		d.log.Error().Err(err).Str("delivery_id", rec.ID).Msg("marking delivery in flight")
		return
	}

	outcome := d.sender.Attempt(ctx, sub, rec.ID, rec.Event, rec.AttemptCount+1)
	d.settle(ctx, rec, outcome)
}

// settle records the attempt outcome and advances the state machine:
// success is terminal, failure reschedules until the attempt ceiling,
// then the record is exhausted and left for manual intervention.
func (d *Dispatcher) settle(ctx context.Context, rec Delivery, outcome Outcome) {
	now := time.Now()
	rec.RecordAttempt(outcome.Attempt(now))
	rec.UpdatedAt = now

	switch {
	case outcome.Success:
		rec.Status = Succeeded
		rec.NextAttemptAt = nil
		rec.CompletedAt = &now
	case rec.AttemptCount < d.policy.MaxAttempts():
		next := now.Add(d.policy.NextDelay(rec.AttemptCount))
		rec.Status = Failed
		rec.NextAttemptAt = &next
	default:
		rec.Status = Exhausted
		rec.NextAttemptAt = nil
		rec.CompletedAt = &now
	}

	if err := d.store.Update(ctx, rec); err != nil {
		d.log.Error().Err(err).Str("delivery_id", rec.ID).Msg("settling delivery")
		return
	}

	d.log.Info().
		Str("delivery_id", rec.ID).
		Str("webhook_id", rec.WebhookID).
		Str("event_type", rec.Event.Type).
		Str("status", rec.Status.String()).
		Int("attempt", rec.AttemptCount).
		Str("error_kind", string(outcome.ErrorKind)).
		Msg("delivery attempt settled")
}

// settleRemoved terminates a scheduled delivery whose subscription was
// deleted. The record is kept for audit with a dangling webhook id.
func (d *Dispatcher) settleRemoved(ctx context.Context, rec Delivery) {
	now := time.Now()
	rec.RecordAttempt(Attempt{
		At:        now,
		ErrorKind: ErrorKindSubscriptionRemoved,
		Error:     "subscription removed before delivery completed",
	})
	rec.Status = Exhausted
	rec.NextAttemptAt = nil
	rec.CompletedAt = &now
	rec.UpdatedAt = now

	if err := d.store.Update(ctx, rec); err != nil {
		d.log.Error().Err(err).Str("delivery_id", rec.ID).Msg("settling removed delivery")
	}
}

// errNotFound reports whether err means the subscription is gone
func errNotFound(err error) bool {
	return errors.Is(err, subscription.ErrNotFound)
}
