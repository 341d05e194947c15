package events

import (
	"context"
	"database/sql"
	"time"

	"supplyrouter/internal/apperr"
	"supplyrouter/internal/domain"
	"supplyrouter/internal/repo"
)

// Activity log actions.
const (
	OrderCreated        = "order_created"
	OrderReassigned     = "order_reassigned"
	OrderAutoReassigned = "order_auto_reassigned"
	OrderAccepted       = "order_accepted"
	OrderDeclined       = "order_declined"
	OrderCompleted      = "order_completed"
	OrderCancelled      = "order_cancelled"
	OrderDeleted        = "order_deleted"
	OrderUpdated        = "order_updated"

	SupplierCreated     = "supplier_created"
	SupplierUpdated     = "supplier_updated"
	SupplierActivated   = "supplier_activated"
	SupplierDeactivated = "supplier_deactivated"
	SupplierDeleted     = "supplier_deleted"

	FilterCreated      = "filter_created"
	FiltersBulkCreated = "filters_bulk_created"
	FilterUpdated      = "filter_updated"
	FilterActivated    = "filter_activated"
	FilterDeactivated  = "filter_deactivated"
	FilterDeleted      = "filter_deleted"

	APIKeyCreated = "api_key_created"
)

// Writer appends to the activity log and order threads inside the caller's
// transaction. Append failures are storage failures and are never swallowed.
type Writer struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (w Writer) ts() string {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	return now().UTC().Format(time.RFC3339)
}

func (w Writer) AppendActivity(ctx context.Context, tx *sql.Tx, actorID int64, action, details string) error {
	_, err := w.Repo.InsertActivity(ctx, tx, domain.ActivityLogEntry{
		ActorID:   actorID,
		Action:    action,
		Details:   details,
		CreatedAt: w.ts(),
	})
	return err
}

func (w Writer) AppendMessage(ctx context.Context, tx *sql.Tx, orderID string, senderID int64, kind, text string) error {
	switch kind {
	case domain.MessageText, domain.MessageSystem, domain.MessageStatusChange:
	default:
		return apperr.Validation("unknown message kind %q", kind)
	}
	_, err := w.Repo.InsertMessage(ctx, tx, domain.OrderMessage{
		OrderID:   orderID,
		SenderID:  senderID,
		Text:      text,
		Kind:      kind,
		CreatedAt: w.ts(),
	})
	return err
}

// AppendStatusChange records the canonical label for status on the order
// thread as a system-sent message.
func (w Writer) AppendStatusChange(ctx context.Context, tx *sql.Tx, orderID, status string) error {
	return w.AppendMessage(ctx, tx, orderID, domain.SystemSenderID, domain.MessageStatusChange, domain.StatusLabel(status))
}

// AppendSystem records an engine-generated note on the order thread.
func (w Writer) AppendSystem(ctx context.Context, tx *sql.Tx, orderID, text string) error {
	return w.AppendMessage(ctx, tx, orderID, domain.SystemSenderID, domain.MessageSystem, text)
}
