package subscription

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/marcelsud/webhook-dispatch/delivery/signature"
	"github.com/marcelsud/webhook-dispatch/event"
)

/* Service represents the business logic layer of the registry
 * Uses pointer semantics as it's an API, not data
 */

// UseCase defines the registry operations exposed to the route layer.
// Every id-scoped operation checks that ownerID matches the stored
// owner before touching the subscription.
type UseCase interface {
	Register(ctx context.Context, ownerID, rawURL string, events []string, secret, description string, headers map[string]string) (Subscription, error)
	Get(ctx context.Context, id, ownerID string) (Subscription, error)
	List(ctx context.Context, ownerID string, filter Filter) ([]Subscription, error)
	Update(ctx context.Context, id, ownerID string, patch Patch) (Subscription, error)
	Deactivate(ctx context.Context, id, ownerID string) error
	Delete(ctx context.Context, id, ownerID string) error
}

type Service struct {
	Repo    Repository
	Catalog *event.Catalog
}

// NewService creates a new registry service with dependency injection
func NewService(repo Repository, catalog *event.Catalog) *Service {
	return &Service{
		Repo:    repo,
		Catalog: catalog,
	}
}

// Register validates and stores a new subscription. When no secret is
// supplied a fresh Standard Webhooks secret is generated.
func (s *Service) Register(ctx context.Context, ownerID, rawURL string, events []string, secret, description string, headers map[string]string) (Subscription, error) {
	if ownerID == "" {
		return Subscription{}, &ValidationError{Field: "owner", Reason: "owner id is required"}
	}
	if err := validateURL(rawURL); err != nil {
		return Subscription{}, err
	}
	if err := s.Catalog.ValidateSubscribed(events); err != nil {
		return Subscription{}, &ValidationError{Field: "events", Reason: err.Error()}
	}

	if secret == "" {
		generated, err := signature.GenerateSecret(signature.DefaultSecretBytes)
		if err != nil {
			return Subscription{}, fmt.Errorf("generating signing secret: %w", err)
		}
		secret = generated.String()
	} else if _, err := signature.ParseSecret(secret); err != nil {
		return Subscription{}, &ValidationError{Field: "secret", Reason: err.Error()}
	}

	now := time.Now()
	sub := Subscription{
		ID:          uuid.New().String(),
		OwnerID:     ownerID,
		URL:         rawURL,
		Secret:      secret,
		Events:      events,
		Active:      true,
		Description: description,
		Headers:     headers,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if _, err := s.Repo.Store(ctx, sub); err != nil {
		return Subscription{}, fmt.Errorf("storing subscription: %w", err)
	}

	return sub, nil
}

// Get returns the subscription when it exists and belongs to ownerID
func (s *Service) Get(ctx context.Context, id, ownerID string) (Subscription, error) {
	sub, err := s.owned(ctx, id, ownerID)
	if err != nil {
		return Subscription{}, err
	}
	return sub.Redacted(), nil
}

// List returns the caller's subscriptions, never another owner's
func (s *Service) List(ctx context.Context, ownerID string, filter Filter) ([]Subscription, error) {
	subs, err := s.Repo.ListByOwner(ctx, ownerID, filter)
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}
	for i := range subs {
		subs[i] = subs[i].Redacted()
	}
	return subs, nil
}

// Update applies a patch after re-validating changed fields
func (s *Service) Update(ctx context.Context, id, ownerID string, patch Patch) (Subscription, error) {
	sub, err := s.owned(ctx, id, ownerID)
	if err != nil {
		return Subscription{}, err
	}

	if patch.URL != nil {
		if err := validateURL(*patch.URL); err != nil {
			return Subscription{}, err
		}
		sub.URL = *patch.URL
	}
	if patch.Events != nil {
		if err := s.Catalog.ValidateSubscribed(patch.Events); err != nil {
			return Subscription{}, &ValidationError{Field: "events", Reason: err.Error()}
		}
		sub.Events = patch.Events
	}
	if patch.Active != nil {
		sub.Active = *patch.Active
	}
	if patch.Description != nil {
		sub.Description = *patch.Description
	}
	if patch.Headers != nil {
		sub.Headers = patch.Headers
	}
	sub.UpdatedAt = time.Now()

	if err := s.Repo.Update(ctx, sub); err != nil {
		return Subscription{}, fmt.Errorf("updating subscription: %w", err)
	}

	return sub.Redacted(), nil
}

// Deactivate stops new dispatch to the subscription. Deliveries already
// pending or scheduled for retry are not cancelled; they run to success
// or exhaustion so in-flight guarantees are never silently dropped.
func (s *Service) Deactivate(ctx context.Context, id, ownerID string) error {
	active := false
	_, err := s.Update(ctx, id, ownerID, Patch{Active: &active})
	return err
}

// Delete removes the subscription. Delivery history is retained for
// audit; records referencing the deleted id are tolerated.
func (s *Service) Delete(ctx context.Context, id, ownerID string) error {
	if _, err := s.owned(ctx, id, ownerID); err != nil {
		return err
	}
	if err := s.Repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	return nil
}

// owned fetches a subscription and enforces the ownership check
func (s *Service) owned(ctx context.Context, id, ownerID string) (Subscription, error) {
	sub, err := s.Repo.Get(ctx, id)
	if err != nil {
		return Subscription{}, err
	}
	if sub.OwnerID != ownerID {
		return Subscription{}, ErrForbidden
	}
	return sub, nil
}

// validateURL requires a well-formed absolute http(s) URL
func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &ValidationError{Field: "url", Reason: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{Field: "url", Reason: "scheme must be http or https"}
	}
	if u.Host == "" {
		return &ValidationError{Field: "url", Reason: "host is required"}
	}
	return nil
}
