package subscription_test

import (
	"context"
	"strings"
	"testing"

	"github.com/marcelsud/webhook-dispatch/delivery/signature"
	"github.com/marcelsud/webhook-dispatch/event"
	"github.com/marcelsud/webhook-dispatch/subscription"
	"github.com/marcelsud/webhook-dispatch/subscription/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService() *subscription.Service {
	return subscription.NewService(memory.NewRepository(), event.NewCatalog())
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("success - generates a signing secret", func(t *testing.T) {
		s := newService()

		sub, err := s.Register(ctx, "owner-1", "https://example.com/hooks", []string{"bid.created"}, "", "bids", nil)
		require.NoError(t, err)

		assert.NotEmpty(t, sub.ID)
		assert.Equal(t, "owner-1", sub.OwnerID)
		assert.True(t, sub.Active)
		assert.True(t, strings.HasPrefix(sub.Secret, signature.SecretPrefix))
		assert.False(t, sub.CreatedAt.IsZero())
	})

	t.Run("success - caller supplied secret is kept", func(t *testing.T) {
		s := newService()
		secret, err := signature.GenerateSecret(32)
		require.NoError(t, err)

		sub, err := s.Register(ctx, "owner-1", "https://example.com/hooks", []string{"bid.created"}, secret.String(), "", nil)
		require.NoError(t, err)
		assert.Equal(t, secret.String(), sub.Secret)
	})

	t.Run("error - missing owner", func(t *testing.T) {
		s := newService()

		_, err := s.Register(ctx, "", "https://example.com/hooks", []string{"bid.created"}, "", "", nil)
		require.Error(t, err)
		assert.True(t, subscription.IsValidation(err))
	})

	t.Run("error - bad url scheme", func(t *testing.T) {
		s := newService()

		_, err := s.Register(ctx, "owner-1", "ftp://example.com/hooks", []string{"bid.created"}, "", "", nil)
		require.Error(t, err)
		assert.True(t, subscription.IsValidation(err))
		assert.Contains(t, err.Error(), "scheme")
	})

	t.Run("error - url without host", func(t *testing.T) {
		s := newService()

		_, err := s.Register(ctx, "owner-1", "https://", []string{"bid.created"}, "", "", nil)
		require.Error(t, err)
		assert.True(t, subscription.IsValidation(err))
	})

	t.Run("error - unknown event type", func(t *testing.T) {
		s := newService()

		_, err := s.Register(ctx, "owner-1", "https://example.com/hooks", []string{"order.shipped"}, "", "", nil)
		require.Error(t, err)
		assert.True(t, subscription.IsValidation(err))
	})

	t.Run("error - ping is not subscribable", func(t *testing.T) {
		s := newService()

		_, err := s.Register(ctx, "owner-1", "https://example.com/hooks", []string{event.TypePing}, "", "", nil)
		require.Error(t, err)
		assert.True(t, subscription.IsValidation(err))
	})

	t.Run("error - malformed secret", func(t *testing.T) {
		s := newService()

		_, err := s.Register(ctx, "owner-1", "https://example.com/hooks", []string{"bid.created"}, "not-a-secret", "", nil)
		require.Error(t, err)
		assert.True(t, subscription.IsValidation(err))
	})
}

func TestService_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("success - secret is redacted", func(t *testing.T) {
		s := newService()
		created, err := s.Register(ctx, "owner-1", "https://example.com/hooks", []string{"bid.created"}, "", "", nil)
		require.NoError(t, err)

		sub, err := s.Get(ctx, created.ID, "owner-1")
		require.NoError(t, err)
		assert.Equal(t, created.ID, sub.ID)
		assert.Empty(t, sub.Secret, "secret is only returned on creation")
	})

	t.Run("error - another owner's subscription", func(t *testing.T) {
		s := newService()
		created, err := s.Register(ctx, "owner-1", "https://example.com/hooks", []string{"bid.created"}, "", "", nil)
		require.NoError(t, err)

		_, err = s.Get(ctx, created.ID, "owner-2")
		assert.ErrorIs(t, err, subscription.ErrForbidden)
		assert.NotErrorIs(t, err, subscription.ErrNotFound)
	})

	t.Run("error - unknown id", func(t *testing.T) {
		s := newService()

		_, err := s.Get(ctx, "missing", "owner-1")
		assert.ErrorIs(t, err, subscription.ErrNotFound)
	})
}

func TestService_List(t *testing.T) {
	ctx := context.Background()

	t.Run("scoped to the caller", func(t *testing.T) {
		s := newService()
		_, err := s.Register(ctx, "owner-1", "https://example.com/a", []string{"bid.created"}, "", "", nil)
		require.NoError(t, err)
		_, err = s.Register(ctx, "owner-1", "https://example.com/b", []string{"rfq.created"}, "", "", nil)
		require.NoError(t, err)
		_, err = s.Register(ctx, "owner-2", "https://example.com/c", []string{"bid.created"}, "", "", nil)
		require.NoError(t, err)

		subs, err := s.List(ctx, "owner-1", subscription.Filter{})
		require.NoError(t, err)
		assert.Len(t, subs, 2)
		for _, sub := range subs {
			assert.Equal(t, "owner-1", sub.OwnerID)
			assert.Empty(t, sub.Secret)
		}
	})

	t.Run("filters by event type", func(t *testing.T) {
		s := newService()
		_, err := s.Register(ctx, "owner-1", "https://example.com/a", []string{"bid.created"}, "", "", nil)
		require.NoError(t, err)
		_, err = s.Register(ctx, "owner-1", "https://example.com/b", []string{"rfq.created"}, "", "", nil)
		require.NoError(t, err)

		subs, err := s.List(ctx, "owner-1", subscription.Filter{Event: "rfq.created"})
		require.NoError(t, err)
		require.Len(t, subs, 1)
		assert.Equal(t, "https://example.com/b", subs[0].URL)
	})

	t.Run("filters by active", func(t *testing.T) {
		s := newService()
		created, err := s.Register(ctx, "owner-1", "https://example.com/a", []string{"bid.created"}, "", "", nil)
		require.NoError(t, err)
		_, err = s.Register(ctx, "owner-1", "https://example.com/b", []string{"bid.created"}, "", "", nil)
		require.NoError(t, err)

		require.NoError(t, s.Deactivate(ctx, created.ID, "owner-1"))

		active := true
		subs, err := s.List(ctx, "owner-1", subscription.Filter{Active: &active})
		require.NoError(t, err)
		require.Len(t, subs, 1)
		assert.Equal(t, "https://example.com/b", subs[0].URL)
	})
}

func TestService_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("success - partial patch", func(t *testing.T) {
		s := newService()
		created, err := s.Register(ctx, "owner-1", "https://example.com/hooks", []string{"bid.created"}, "", "old", nil)
		require.NoError(t, err)

		url := "https://example.com/v2/hooks"
		sub, err := s.Update(ctx, created.ID, "owner-1", subscription.Patch{
			URL:    &url,
			Events: []string{"bid.created", "bid.accepted"},
		})
		require.NoError(t, err)

		assert.Equal(t, url, sub.URL)
		assert.Equal(t, []string{"bid.created", "bid.accepted"}, sub.Events)
		assert.Equal(t, "old", sub.Description, "untouched fields survive a patch")
		assert.True(t, sub.Active)
	})

	t.Run("error - patch with bad url", func(t *testing.T) {
		s := newService()
		created, err := s.Register(ctx, "owner-1", "https://example.com/hooks", []string{"bid.created"}, "", "", nil)
		require.NoError(t, err)

		url := "not a url"
		_, err = s.Update(ctx, created.ID, "owner-1", subscription.Patch{URL: &url})
		require.Error(t, err)
		assert.True(t, subscription.IsValidation(err))
	})

	t.Run("error - patch with unknown events", func(t *testing.T) {
		s := newService()
		created, err := s.Register(ctx, "owner-1", "https://example.com/hooks", []string{"bid.created"}, "", "", nil)
		require.NoError(t, err)

		_, err = s.Update(ctx, created.ID, "owner-1", subscription.Patch{Events: []string{"nope"}})
		require.Error(t, err)
		assert.True(t, subscription.IsValidation(err))
	})

	t.Run("error - another owner", func(t *testing.T) {
		s := newService()
		created, err := s.Register(ctx, "owner-1", "https://example.com/hooks", []string{"bid.created"}, "", "", nil)
		require.NoError(t, err)

		active := false
		_, err = s.Update(ctx, created.ID, "owner-2", subscription.Patch{Active: &active})
		assert.ErrorIs(t, err, subscription.ErrForbidden)
	})
}

func TestService_Deactivate(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		s := newService()
		created, err := s.Register(ctx, "owner-1", "https://example.com/hooks", []string{"bid.created"}, "", "", nil)
		require.NoError(t, err)

		require.NoError(t, s.Deactivate(ctx, created.ID, "owner-1"))

		sub, err := s.Get(ctx, created.ID, "owner-1")
		require.NoError(t, err)
		assert.False(t, sub.Active)
	})
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		s := newService()
		created, err := s.Register(ctx, "owner-1", "https://example.com/hooks", []string{"bid.created"}, "", "", nil)
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, created.ID, "owner-1"))

		_, err = s.Get(ctx, created.ID, "owner-1")
		assert.ErrorIs(t, err, subscription.ErrNotFound)
	})

	t.Run("error - another owner", func(t *testing.T) {
		s := newService()
		created, err := s.Register(ctx, "owner-1", "https://example.com/hooks", []string{"bid.created"}, "", "", nil)
		require.NoError(t, err)

		err = s.Delete(ctx, created.ID, "owner-2")
		assert.ErrorIs(t, err, subscription.ErrForbidden)

		_, err = s.Get(ctx, created.ID, "owner-1")
		require.NoError(t, err, "subscription survives a forbidden delete")
	})
}
