// Package notify delivers order events to humans. Delivery happens after the
// originating write has committed and its failures never reach the caller.
package notify

import (
	"context"

	"supplyrouter/internal/logger"
)

// Notification events.
const (
	EventOrderAssigned  = "order_assigned"
	EventOrderAccepted  = "order_accepted"
	EventOrderDeclined  = "order_declined"
	EventOrderCompleted = "order_completed"
	EventOrderCancelled = "order_cancelled"
	EventOrderMessage   = "order_message"
)

// Message is one outbound notification. Text is pre-rendered; Actions are
// tokens such as accept or contact_buyer that the channel maps to its own UI.
type Message struct {
	ContactID int64    `json:"contact_id"`
	Text      string   `json:"text"`
	Actions   []string `json:"actions,omitempty"`
	OrderID   string   `json:"order_id,omitempty"`
	Event     string   `json:"event"`
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, msg Message) error

func (f NotifierFunc) Notify(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// LogNotifier writes notifications to the log. It is the channel used when no
// webhook is configured.
type LogNotifier struct {
	Log logger.Logger
}

func (n LogNotifier) Notify(_ context.Context, msg Message) error {
	if n.Log == nil {
		return nil
	}
	n.Log.Info("notification", logger.Fields{
		"event":      msg.Event,
		"contact_id": msg.ContactID,
		"order_id":   msg.OrderID,
		"actions":    msg.Actions,
	})
	return nil
}
