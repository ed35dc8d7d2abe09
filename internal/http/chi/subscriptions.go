package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/marcelsud/webhook-dispatch/delivery"
	"github.com/marcelsud/webhook-dispatch/event"
	"github.com/marcelsud/webhook-dispatch/subscription"
)

/* HTTP layer DTOs for the registry API
 * Separate from domain entities to avoid leaking internal structure
 */

// headerPrincipal carries the authenticated caller identity, set by the
// gateway in front of this service.
const headerPrincipal = "X-Principal-Id"

// subscriptionRequest represents an incoming registration
type subscriptionRequest struct {
	URL         string            `json:"url"`
	Events      []string          `json:"events"`
	Secret      string            `json:"secret,omitempty"`
	Description string            `json:"description,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// subscriptionPatch represents a partial update. Absent fields are left
// unchanged.
type subscriptionPatch struct {
	URL         *string           `json:"url"`
	Events      []string          `json:"events"`
	Active      *bool             `json:"active"`
	Description *string           `json:"description"`
	Headers     map[string]string `json:"headers"`
}

// subscriptionResponse represents a subscription in the API.
// Secret is populated only on creation.
type subscriptionResponse struct {
	ID          string            `json:"id"`
	URL         string            `json:"url"`
	Events      []string          `json:"events"`
	Active      bool              `json:"active"`
	Description string            `json:"description,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Secret      string            `json:"secret,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func toSubscriptionResponse(sub subscription.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:          sub.ID,
		URL:         sub.URL,
		Events:      sub.Events,
		Active:      sub.Active,
		Description: sub.Description,
		Headers:     sub.Headers,
		Secret:      sub.Secret,
		CreatedAt:   sub.CreatedAt,
		UpdatedAt:   sub.UpdatedAt,
	}
}

// principal extracts the caller identity or rejects the request
func principal(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(headerPrincipal)
	if id == "" {
		http.Error(w, "missing "+headerPrincipal+" header", http.StatusUnauthorized)
		return "", false
	}
	return id, true
}

// writeJSON encodes v with the given status code
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeError maps domain errors onto HTTP status codes
func writeError(w http.ResponseWriter, err error) {
	var verr *subscription.ValidationError
	switch {
	case errors.As(err, &verr):
		http.Error(w, verr.Error(), http.StatusBadRequest)
	case errors.Is(err, subscription.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, subscription.ErrNotFound), errors.Is(err, delivery.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// postSubscription handles POST /v1/webhooks
func postSubscription(service subscription.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, ok := principal(w, r)
		if !ok {
			return
		}

		var req subscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		sub, err := service.Register(r.Context(), owner, req.URL, req.Events, req.Secret, req.Description, req.Headers)
		if err != nil {
			writeError(w, err)
			return
		}

		// The only response that ever carries the signing secret
		writeJSON(w, http.StatusCreated, toSubscriptionResponse(sub))
	})
}

// getSubscriptions handles GET /v1/webhooks
func getSubscriptions(service subscription.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, ok := principal(w, r)
		if !ok {
			return
		}

		var filter subscription.Filter
		if q := r.URL.Query().Get("active"); q != "" {
			active := q == "true"
			filter.Active = &active
		}
		filter.Event = r.URL.Query().Get("event")

		subs, err := service.List(r.Context(), owner, filter)
		if err != nil {
			writeError(w, err)
			return
		}

		responses := make([]subscriptionResponse, 0, len(subs))
		for _, sub := range subs {
			responses = append(responses, toSubscriptionResponse(sub))
		}
		writeJSON(w, http.StatusOK, responses)
	})
}

// getSubscription handles GET /v1/webhooks/:id
func getSubscription(service subscription.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, ok := principal(w, r)
		if !ok {
			return
		}

		sub, err := service.Get(r.Context(), chi.URLParam(r, "id"), owner)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
	})
}

// patchSubscription handles PATCH /v1/webhooks/:id
func patchSubscription(service subscription.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, ok := principal(w, r)
		if !ok {
			return
		}

		var req subscriptionPatch
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		sub, err := service.Update(r.Context(), chi.URLParam(r, "id"), owner, subscription.Patch{
			URL:         req.URL,
			Events:      req.Events,
			Active:      req.Active,
			Description: req.Description,
			Headers:     req.Headers,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
	})
}

// deleteSubscription handles DELETE /v1/webhooks/:id
func deleteSubscription(service subscription.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, ok := principal(w, r)
		if !ok {
			return
		}

		if err := service.Delete(r.Context(), chi.URLParam(r, "id"), owner); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// testRequest optionally overrides the synthetic ping payload
type testRequest struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

// postTest handles POST /v1/webhooks/:id/test
func postTest(dispatcher delivery.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, ok := principal(w, r)
		if !ok {
			return
		}

		var probe *event.Event
		var req testRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.EventType != "" {
			ev, err := event.New(req.EventType, req.Data)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			probe = &ev
		}
		defer r.Body.Close()

		outcome, err := dispatcher.TestWebhook(r.Context(), chi.URLParam(r, "id"), owner, probe)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, outcome)
	})
}
