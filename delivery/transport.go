package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"github.com/marcelsud/webhook-dispatch/delivery/signature"
	"github.com/marcelsud/webhook-dispatch/event"
	"github.com/marcelsud/webhook-dispatch/subscription"
)

/* Reserved header names on outbound requests. Custom subscription
 * headers are merged in but can never shadow these.
 */
const (
	HeaderID        = "Webhook-Id"
	HeaderTimestamp = "Webhook-Timestamp"
	HeaderSignature = "Webhook-Signature"
	HeaderEventType = "Webhook-Event-Type"
	HeaderAttempt   = "Webhook-Attempt"
)

// maxExcerptBytes bounds how much of a subscriber's response body is
// kept on the attempt record.
const maxExcerptBytes = 512

// Outcome is the structured result of one transport attempt.
// Subscriber-side failures never surface as Go errors.
type Outcome struct {
	Success         bool          `json:"success"`
	StatusCode      int           `json:"status_code,omitempty"`
	ErrorKind       ErrorKind     `json:"error_kind,omitempty"`
	Error           string        `json:"error,omitempty"`
	ResponseTime    time.Duration `json:"response_time"`
	ResponseExcerpt string        `json:"response_excerpt,omitempty"`
}

// Attempt converts the outcome into an attempt record entry
func (o Outcome) Attempt(at time.Time) Attempt {
	return Attempt{
		At:              at,
		StatusCode:      o.StatusCode,
		ErrorKind:       o.ErrorKind,
		Error:           o.Error,
		ResponseTime:    o.ResponseTime,
		ResponseExcerpt: o.ResponseExcerpt,
	}
}

/* Sender builds, signs and performs the outbound HTTP POST.
 * It is the single transport primitive shared by the durable retry
 * pipeline and the ephemeral manual test path.
 */
type Sender struct {
	client *http.Client
}

// NewSender creates a sender with the given per-attempt timeout
func NewSender(timeout time.Duration) *Sender {
	return &Sender{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Attempt serializes the event, signs it with the subscription secret
// and POSTs it to the subscription URL. seq is the 1-based attempt
// sequence number for this delivery.
func (s *Sender) Attempt(ctx context.Context, sub subscription.Subscription, deliveryID string, ev event.Event, seq int) Outcome {
	body, err := ev.Body()
	if err != nil {
		return Outcome{ErrorKind: ErrorKindConnection, Error: fmt.Sprintf("encoding payload: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return Outcome{ErrorKind: ErrorKindConnection, Error: fmt.Sprintf("building request: %v", err)}
	}

	// Custom headers first so reserved ones always win
	for key, value := range sub.Headers {
		req.Header.Set(key, value)
	}

	now := time.Now()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderID, deliveryID)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(now.Unix(), 10))
	req.Header.Set(HeaderEventType, ev.Type)
	req.Header.Set(HeaderAttempt, strconv.Itoa(seq))

	secret, err := signature.ParseSecret(sub.Secret)
	if err != nil {
		return Outcome{ErrorKind: ErrorKindConnection, Error: fmt.Sprintf("parsing signing secret: %v", err)}
	}
	sig, err := signature.Sign(secret, deliveryID, now, body)
	if err != nil {
		return Outcome{ErrorKind: ErrorKindConnection, Error: fmt.Sprintf("signing payload: %v", err)}
	}
	req.Header.Set(HeaderSignature, sig.String())

	start := time.Now()
	resp, err := s.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		kind := classify(err)
		return Outcome{
			ErrorKind:    kind,
			Error:        err.Error(),
			ResponseTime: elapsed,
		}
	}
	defer resp.Body.Close()

	excerpt := readExcerpt(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Outcome{
			StatusCode:      resp.StatusCode,
			ErrorKind:       ErrorKindNon2xx,
			Error:           fmt.Sprintf("non-2xx status: %d", resp.StatusCode),
			ResponseTime:    elapsed,
			ResponseExcerpt: excerpt,
		}
	}

	return Outcome{
		Success:         true,
		StatusCode:      resp.StatusCode,
		ResponseTime:    elapsed,
		ResponseExcerpt: excerpt,
	}
}

// classify maps a transport error to a diagnostic kind
func classify(err error) ErrorKind {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrorKindDNSFailure
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ErrorKindConnectionRefused
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorKindTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}
	return ErrorKindConnection
}

// readExcerpt reads at most maxExcerptBytes of the response body
func readExcerpt(r io.Reader) string {
	excerpt, err := io.ReadAll(io.LimitReader(r, maxExcerptBytes))
	if err != nil {
		return ""
	}
	return string(excerpt)
}
