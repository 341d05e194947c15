package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"supplyrouter/internal/apperr"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookNotifier POSTs each notification as JSON to a single endpoint that
// forwards it to the chat channel. Calls share a token bucket.
type WebhookNotifier struct {
	URL     string
	Secret  string
	Client  *http.Client
	Limiter *rate.Limiter
}

// NewWebhookNotifier builds a notifier. ratePerSecond <= 0 disables limiting.
func NewWebhookNotifier(url, secret string, timeout time.Duration, ratePerSecond float64, burst int) *WebhookNotifier {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	n := &WebhookNotifier{
		URL:    url,
		Secret: secret,
		Client: &http.Client{Timeout: timeout},
	}
	if ratePerSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		n.Limiter = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	}
	return n
}

func (n *WebhookNotifier) Notify(ctx context.Context, msg Message) error {
	if n.Limiter != nil {
		if err := n.Limiter.Wait(ctx); err != nil {
			return apperr.Notification(fmt.Errorf("rate limit: %w", err))
		}
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return apperr.Notification(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(data))
	if err != nil {
		return apperr.Notification(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Supplyrouter-Event", msg.Event)
	req.Header.Set("X-Supplyrouter-Delivery", uuid.NewString())
	if strings.TrimSpace(n.Secret) != "" {
		req.Header.Set("X-Supplyrouter-Secret", n.Secret)
	}
	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	res, err := client.Do(req)
	if err != nil {
		return apperr.Notification(err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return apperr.Notification(fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes))))
	}
	return nil
}
