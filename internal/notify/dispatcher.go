package notify

import (
	"context"
	"sync"
	"time"

	"supplyrouter/internal/logger"
	"supplyrouter/internal/metrics"
)

const defaultDispatchTimeout = 10 * time.Second

// Hook runs after a write commits. Hooks must not block the caller.
type Hook interface {
	AfterCommit(ctx context.Context, msgs []Message)
}

// Dispatcher is the post-commit hook that fans notifications out to a
// Notifier in the background. Failures are logged and counted, never returned.
type Dispatcher struct {
	Notifier Notifier
	Timeout  time.Duration
	Log      logger.Logger

	wg sync.WaitGroup
}

func NewDispatcher(n Notifier, timeout time.Duration, log logger.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Dispatcher{Notifier: n, Timeout: timeout, Log: log}
}

// AfterCommit delivers msgs asynchronously. Messages without a contact id are
// dropped. The caller's cancellation does not cut delivery short.
func (d *Dispatcher) AfterCommit(ctx context.Context, msgs []Message) {
	if d == nil || d.Notifier == nil {
		return
	}
	base := context.WithoutCancel(ctx)
	for _, msg := range msgs {
		if msg.ContactID == 0 {
			continue
		}
		d.wg.Add(1)
		go func(msg Message) {
			defer d.wg.Done()
			dctx, cancel := context.WithTimeout(base, d.timeout())
			defer cancel()
			if err := d.Notifier.Notify(dctx, msg); err != nil {
				metrics.NotificationsFailed.WithLabelValues(msg.Event).Inc()
				d.log().Warn("notification failed", logger.Fields{
					"event":      msg.Event,
					"order_id":   msg.OrderID,
					"contact_id": msg.ContactID,
					"error":      err,
				})
				return
			}
			metrics.NotificationsSent.WithLabelValues(msg.Event).Inc()
		}(msg)
	}
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

func (d *Dispatcher) timeout() time.Duration {
	if d.Timeout <= 0 {
		return defaultDispatchTimeout
	}
	return d.Timeout
}

func (d *Dispatcher) log() logger.Logger {
	if d.Log == nil {
		return logger.NewNop()
	}
	return d.Log
}

// Hooks runs several hooks in order.
type Hooks []Hook

func (h Hooks) AfterCommit(ctx context.Context, msgs []Message) {
	for _, hook := range h {
		if hook != nil {
			hook.AfterCommit(ctx, msgs)
		}
	}
}

// Recorder is a Hook that keeps every message it sees.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *Recorder) AfterCommit(_ context.Context, msgs []Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		if m.ContactID == 0 {
			continue
		}
		r.msgs = append(r.msgs, m)
	}
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.msgs = nil
	r.mu.Unlock()
}
