package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"supplyrouter/internal/apperr"
	"supplyrouter/internal/domain"
	"supplyrouter/internal/logger"
	"supplyrouter/internal/metrics"
)

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var got Message
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "s3cret", time.Second, 100, 1)
	msg := Message{ContactID: 42, Text: "Order #AB12CD34", Actions: domain.ActionsFor(domain.StatusAssigned), OrderID: "AB12CD34", Event: EventOrderAssigned}
	require.NoError(t, n.Notify(context.Background(), msg))

	assert.Equal(t, msg, got)
	assert.Equal(t, EventOrderAssigned, headers.Get("X-Supplyrouter-Event"))
	assert.Equal(t, "s3cret", headers.Get("X-Supplyrouter-Secret"))
	_, err := uuid.Parse(headers.Get("X-Supplyrouter-Delivery"))
	assert.NoError(t, err)
}

func TestWebhookNotifierNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "chat blocked the bot", http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, "", time.Second, 0, 0).Notify(context.Background(), Message{ContactID: 1, Event: EventOrderMessage})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotification))
	assert.Contains(t, errors.Unwrap(err).Error(), "chat blocked the bot")
}

func TestWebhookNotifierRespectsContextWhileLimited(t *testing.T) {
	n := NewWebhookNotifier("http://127.0.0.1:1", "", time.Second, 0.001, 1)
	n.Limiter.Allow()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := n.Notify(ctx, Message{ContactID: 1})
	assert.True(t, apperr.Is(err, apperr.KindNotification))
}

func TestDispatcherSwallowsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	var mu sync.Mutex
	var delivered []int64
	n := NotifierFunc(func(_ context.Context, msg Message) error {
		if msg.ContactID == 13 {
			return apperr.Notification(errors.New("unreachable"))
		}
		mu.Lock()
		delivered = append(delivered, msg.ContactID)
		mu.Unlock()
		return nil
	})
	d := NewDispatcher(n, time.Second, logger.FromZap(zap.New(core)))
	before := testutil.ToFloat64(metrics.NotificationsFailed.WithLabelValues(EventOrderAccepted))

	ctx, cancel := context.WithCancel(context.Background())
	d.AfterCommit(ctx, []Message{
		{ContactID: 7, Event: EventOrderAccepted},
		{ContactID: 13, Event: EventOrderAccepted, OrderID: "AB12CD34"},
		{ContactID: 0, Event: EventOrderAccepted},
	})
	cancel()
	d.Wait()

	assert.Equal(t, []int64{7}, delivered)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.NotificationsFailed.WithLabelValues(EventOrderAccepted)))
	entries := logs.FilterMessage("notification failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "AB12CD34", entries[0].ContextMap()["order_id"])
}

func TestNilDispatcherIsNoop(t *testing.T) {
	var d *Dispatcher
	d.AfterCommit(context.Background(), []Message{{ContactID: 1}})
	d.Wait()
}

func TestHooksAndRecorder(t *testing.T) {
	rec := &Recorder{}
	Hooks{rec, nil}.AfterCommit(context.Background(), []Message{{ContactID: 1}, {ContactID: 0}})
	assert.Len(t, rec.Messages(), 1)
	rec.Reset()
	assert.Empty(t, rec.Messages())
}

func TestRenderSummary(t *testing.T) {
	o := domain.Order{ID: "AB12CD34", Text: "phone case\nphone charger", Status: domain.StatusAccepted}
	assert.Equal(t, "Order #AB12CD34\n\nphone case\nphone charger\n\nStatus: Order accepted", RenderSummary(o))
}

func TestFormatThread(t *testing.T) {
	assert.Equal(t, "No messages", FormatThread(nil))
	got := FormatThread([]domain.OrderMessage{
		{Kind: domain.MessageSystem, Text: "Reassigned to supplier 2"},
		{Kind: domain.MessageStatusChange, Text: "Order accepted"},
		{Kind: domain.MessageText, Text: "ships friday"},
	})
	assert.Equal(t, "[system] Reassigned to supplier 2\n[status] Order accepted\n[text] ships friday", got)
}

