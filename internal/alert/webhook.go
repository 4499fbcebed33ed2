package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cliniguard/cliniguard/internal/rls"
)

// DeliveryAttempt records one webhook delivery for inspection.
type DeliveryAttempt struct {
	ID         string        `json:"id"`
	AlertID    string        `json:"alert_id"`
	StatusCode int           `json:"status_code"`
	Duration   time.Duration `json:"duration_ns"`
	Attempt    int           `json:"attempt"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// WebhookSink POSTs alerts as JSON to a configured endpoint, signing each
// payload with HMAC-SHA256 in the X-Cliniguard-Signature header. Failed
// deliveries are retried with a short backoff up to maxAttempts.
type WebhookSink struct {
	url         string
	secret      string
	client      *http.Client
	maxAttempts int
	backoff     time.Duration

	mu         sync.Mutex
	deliveries []DeliveryAttempt
}

// WebhookOption configures a WebhookSink.
type WebhookOption func(*WebhookSink)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(s *WebhookSink) { s.client = c }
}

// WithMaxAttempts sets the delivery attempt limit (minimum 1).
func WithMaxAttempts(n int) WebhookOption {
	return func(s *WebhookSink) {
		if n >= 1 {
			s.maxAttempts = n
		}
	}
}

// WithBackoff sets the pause between retries.
func WithBackoff(d time.Duration) WebhookOption {
	return func(s *WebhookSink) { s.backoff = d }
}

// NewWebhookSink creates a WebhookSink targeting the given URL.
func NewWebhookSink(url, secret string, opts ...WebhookOption) *WebhookSink {
	s := &WebhookSink{
		url:         url,
		secret:      secret,
		client:      &http.Client{Timeout: 10 * time.Second},
		maxAttempts: 3,
		backoff:     500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignPayload computes the hex-encoded HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches the HMAC-SHA256 of
// payload under secret. Receivers use this to authenticate deliveries.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// webhookPayload is the wire shape of a delivered alert.
type webhookPayload struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Severity    string    `json:"severity"`
	Description string    `json:"description"`
	UserID      string    `json:"user_id"`
	ClinicID    string    `json:"clinic_id"`
	IPAddress   string    `json:"ip_address,omitempty"`
	ActionTaken string    `json:"action_taken"`
	CreatedAt   time.Time `json:"created_at"`
}

// Dispatch implements rls.AlertSink.
func (s *WebhookSink) Dispatch(ctx context.Context, a rls.Alert) error {
	body, err := json.Marshal(webhookPayload{
		ID:          a.ID.String(),
		Type:        string(a.Type),
		Severity:    string(a.Severity),
		Description: a.Description,
		UserID:      a.Context.UserID,
		ClinicID:    a.Context.ClinicID,
		IPAddress:   a.Context.IPAddress,
		ActionTaken: a.ActionTaken,
		CreatedAt:   a.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode alert payload: %w", err)
	}
	signature := SignPayload(body, s.secret)

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		statusCode, dur, err := s.deliver(ctx, body, signature)

		rec := DeliveryAttempt{
			ID:         uuid.New().String(),
			AlertID:    a.ID.String(),
			StatusCode: statusCode,
			Duration:   dur,
			Attempt:    attempt,
			Success:    err == nil,
			CreatedAt:  time.Now().UTC(),
		}
		if err != nil {
			rec.Error = err.Error()
		}
		s.mu.Lock()
		s.deliveries = append(s.deliveries, rec)
		s.mu.Unlock()

		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < s.maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.backoff):
			}
		}
	}
	return fmt.Errorf("webhook delivery failed after %d attempts: %w", s.maxAttempts, lastErr)
}

func (s *WebhookSink) deliver(ctx context.Context, body []byte, signature string) (int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Cliniguard-Signature", signature)

	start := time.Now()
	resp, err := s.client.Do(req)
	dur := time.Since(start)
	if err != nil {
		return 0, dur, fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, dur, fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, dur, nil
}

// Deliveries returns a copy of the recorded delivery attempts.
func (s *WebhookSink) Deliveries() []DeliveryAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DeliveryAttempt, len(s.deliveries))
	copy(out, s.deliveries)
	return out
}
