package chi

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/marcelsud/webhook-dispatch/delivery"
	"github.com/marcelsud/webhook-dispatch/event"
	"github.com/marcelsud/webhook-dispatch/subscription"
)

// deliveryResponse represents a delivery record in the API
type deliveryResponse struct {
	ID            string             `json:"id"`
	WebhookID     string             `json:"webhook_id"`
	EventID       string             `json:"event_id"`
	EventType     string             `json:"event_type"`
	Status        string             `json:"status"`
	AttemptCount  int                `json:"attempt_count"`
	Attempts      []delivery.Attempt `json:"attempts,omitempty"`
	NextAttemptAt *time.Time         `json:"next_attempt_at,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
}

// deliveryPageResponse is one page of delivery records
type deliveryPageResponse struct {
	Deliveries []deliveryResponse `json:"deliveries"`
	Total      int                `json:"total"`
	Page       int                `json:"page"`
	PageSize   int                `json:"page_size"`
}

func toDeliveryResponse(rec delivery.Delivery) deliveryResponse {
	return deliveryResponse{
		ID:            rec.ID,
		WebhookID:     rec.WebhookID,
		EventID:       rec.Event.ID,
		EventType:     rec.Event.Type,
		Status:        rec.Status.String(),
		AttemptCount:  rec.AttemptCount,
		Attempts:      rec.Attempts,
		NextAttemptAt: rec.NextAttemptAt,
		CreatedAt:     rec.CreatedAt,
		CompletedAt:   rec.CompletedAt,
	}
}

// getDeliveries handles GET /v1/webhooks/:id/deliveries
func getDeliveries(service subscription.UseCase, stats *delivery.Aggregator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, ok := principal(w, r)
		if !ok {
			return
		}
		id := chi.URLParam(r, "id")

		// Ownership gate before touching delivery history
		if _, err := service.Get(r.Context(), id, owner); err != nil {
			writeError(w, err)
			return
		}

		filter := delivery.ListFilter{
			Event: r.URL.Query().Get("event"),
		}
		filter.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
		filter.PageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
		if q := r.URL.Query().Get("status"); q != "" {
			status := delivery.NewStatus(q)
			if err := status.Validate(); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			filter.Status = status
		}

		page, err := stats.Deliveries(r.Context(), id, filter)
		if err != nil {
			writeError(w, err)
			return
		}

		resp := deliveryPageResponse{
			Deliveries: make([]deliveryResponse, 0, len(page.Deliveries)),
			Total:      page.Total,
			Page:       page.Page,
			PageSize:   page.PageSize,
		}
		for _, rec := range page.Deliveries {
			resp.Deliveries = append(resp.Deliveries, toDeliveryResponse(rec))
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

// getStats handles GET /v1/webhooks/:id/stats
func getStats(service subscription.UseCase, stats *delivery.Aggregator, defaultWindow time.Duration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, ok := principal(w, r)
		if !ok {
			return
		}
		id := chi.URLParam(r, "id")

		if _, err := service.Get(r.Context(), id, owner); err != nil {
			writeError(w, err)
			return
		}

		to := time.Now()
		from := to.Add(-defaultWindow)
		if q := r.URL.Query().Get("from"); q != "" {
			t, err := time.Parse(time.RFC3339, q)
			if err != nil {
				http.Error(w, "from must be RFC3339", http.StatusBadRequest)
				return
			}
			from = t
		}
		if q := r.URL.Query().Get("to"); q != "" {
			t, err := time.Parse(time.RFC3339, q)
			if err != nil {
				http.Error(w, "to must be RFC3339", http.StatusBadRequest)
				return
			}
			to = t
		}

		result, err := stats.Stats(r.Context(), id, from, to)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})
}

// eventResponse represents an accepted event and its fanned-out deliveries
type eventResponse struct {
	EventID     string   `json:"event_id"`
	EventType   string   `json:"event_type"`
	DeliveryIDs []string `json:"delivery_ids"`
}

// postEvent handles POST /internal/events
func postEvent(dispatcher delivery.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		ev, err := event.Parse(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		records, err := dispatcher.Dispatch(r.Context(), ev)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ids := make([]string, 0, len(records))
		for _, rec := range records {
			ids = append(ids, rec.ID)
		}

		// 202: records are durable, transport is still in flight
		writeJSON(w, http.StatusAccepted, eventResponse{
			EventID:     ev.ID,
			EventType:   ev.Type,
			DeliveryIDs: ids,
		})
	})
}
