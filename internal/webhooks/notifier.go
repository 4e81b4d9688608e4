// Package webhooks delivers signed run notifications to an HTTP endpoint.
package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Notifier posts event bodies to URL, retrying with backoff until a 2xx
// response or MaxAttempts is reached.
type Notifier struct {
	URL         string
	Secret      string
	MaxAttempts int
	HTTP        *http.Client
	Log         logrus.FieldLogger
	// Backoff returns the wait after the given failed attempt (0-based).
	Backoff func(attempt int) time.Duration
}

func NewNotifier(url, secret string, maxAttempts int) *Notifier {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	return &Notifier{
		URL:         url,
		Secret:      secret,
		MaxAttempts: maxAttempts,
		HTTP:        &http.Client{Timeout: 5 * time.Second},
		Log:         quiet,
		Backoff:     nextBackoff,
	}
}

// Deliver sends body as one event of eventType. The body is signed with
// X-Signature when a secret is configured.
func (n *Notifier) Deliver(ctx context.Context, eventType string, body []byte) error {
	var lastErr error
	for attempt := 0; attempt < n.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("deliver %s: %w", eventType, ctx.Err())
			case <-time.After(n.Backoff(attempt - 1)):
			}
		}
		start := time.Now()
		code, err := n.post(ctx, eventType, body)
		log := n.Log.WithFields(logrus.Fields{
			"event":   eventType,
			"attempt": attempt + 1,
			"code":    code,
			"latency": time.Since(start).String(),
		})
		if err == nil {
			log.Debug("webhook delivered")
			return nil
		}
		lastErr = err
		log.WithError(err).Warn("webhook delivery failed")
	}
	return fmt.Errorf("deliver %s after %d attempts: %w", eventType, n.MaxAttempts, lastErr)
}

func (n *Notifier) post(ctx context.Context, eventType string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", eventType)
	if n.Secret != "" {
		req.Header.Set("X-Signature", SignHMAC(n.Secret, body))
	}
	resp, err := n.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Minute {
		base = time.Minute
	}
	return base
}
