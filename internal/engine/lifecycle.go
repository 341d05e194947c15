package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"supplyrouter/internal/apperr"
	"supplyrouter/internal/domain"
	"supplyrouter/internal/events"
	"supplyrouter/internal/logger"
	"supplyrouter/internal/metrics"
	"supplyrouter/internal/notify"
	"supplyrouter/internal/repo"
)

// Transition is one order row write produced by a lifecycle action. From
// lists the statuses the action is meant to leave.
type Transition struct {
	OrderID string
	Action  string
	Update  repo.OrderUpdate
	From    []string
}

// TransitionApplier performs the row write of a transition inside tx.
type TransitionApplier interface {
	Apply(ctx context.Context, tx *sql.Tx, t Transition) error
}

// BlindApplier overwrites the row whatever its current status; the last
// write wins.
type BlindApplier struct {
	Repo repo.Repo
}

// Apply writes t.Update with no status condition.
func (a BlindApplier) Apply(ctx context.Context, tx *sql.Tx, t Transition) error {
	u := t.Update
	u.ExpectStatus = nil
	return a.Repo.UpdateOrder(ctx, tx, t.OrderID, u)
}

// GuardedApplier only writes rows still in one of t.From and reports a
// Conflict otherwise.
type GuardedApplier struct {
	Repo repo.Repo
}

// Apply writes t.Update only where the order's status is in t.From.
func (a GuardedApplier) Apply(ctx context.Context, tx *sql.Tx, t Transition) error {
	u := t.Update
	u.ExpectStatus = t.From
	return a.Repo.UpdateOrder(ctx, tx, t.OrderID, u)
}

type lifecycleAction struct {
	status   string
	label    string // status whose label is written to the thread
	from     []string
	activity string
	verb     string
	event    string
}

var lifecycle = map[string]lifecycleAction{
	domain.ActionAccept: {
		status:   domain.StatusAccepted,
		label:    domain.StatusAccepted,
		from:     []string{domain.StatusNew, domain.StatusAssigned},
		activity: events.OrderAccepted,
		verb:     "accepted",
		event:    notify.EventOrderAccepted,
	},
	domain.ActionDecline: {
		status:   domain.StatusNew,
		label:    domain.StatusDeclined,
		from:     []string{domain.StatusNew, domain.StatusAssigned},
		activity: events.OrderDeclined,
		verb:     "declined",
		event:    notify.EventOrderDeclined,
	},
	domain.ActionComplete: {
		status:   domain.StatusCompleted,
		label:    domain.StatusCompleted,
		from:     []string{domain.StatusAccepted},
		activity: events.OrderCompleted,
		verb:     "completed",
		event:    notify.EventOrderCompleted,
	},
	domain.ActionCancel: {
		status:   domain.StatusCancelled,
		label:    domain.StatusCancelled,
		from:     []string{domain.StatusAccepted},
		activity: events.OrderCancelled,
		verb:     "cancelled",
		event:    notify.EventOrderCancelled,
	},
}

// Accept marks the order accepted by supplierID and makes it the holder.
// It does not check that supplierID is the supplier the order was assigned to.
func (e Engine) Accept(ctx context.Context, orderID string, supplierID int64) (domain.Order, error) {
	if _, err := e.Repo.GetSupplier(ctx, nil, supplierID); err != nil {
		return domain.Order{}, err
	}
	now := e.ts()
	return e.transition(ctx, domain.ActionAccept, orderID, supplierID, repo.OrderUpdate{
		SupplierID:    int64Ptr(supplierID),
		SetSupplier:   true,
		AssignedAt:    &now,
		SetAssignedAt: true,
	})
}

// Decline returns the order to NEW and then tries to route it to a different
// supplier. The declining supplier is never picked again by that attempt.
func (e Engine) Decline(ctx context.Context, orderID string, supplierID int64) (domain.Order, error) {
	o, err := e.transition(ctx, domain.ActionDecline, orderID, supplierID, repo.OrderUpdate{
		SetSupplier:   true,
		SetAssignedAt: true,
	})
	if err != nil {
		return o, err
	}
	if !e.features().ReassignOnDecline {
		metrics.DeclineReassigned.WithLabelValues("disabled").Inc()
		return o, nil
	}
	return e.reassignAfterDecline(ctx, o, supplierID)
}

// Complete marks an accepted order completed and stamps completed_at.
func (e Engine) Complete(ctx context.Context, orderID string, supplierID int64) (domain.Order, error) {
	now := e.ts()
	return e.transition(ctx, domain.ActionComplete, orderID, supplierID, repo.OrderUpdate{
		CompletedAt:    &now,
		SetCompletedAt: true,
	})
}

// Cancel marks an accepted order cancelled and releases its supplier.
func (e Engine) Cancel(ctx context.Context, orderID string, supplierID int64) (domain.Order, error) {
	return e.transition(ctx, domain.ActionCancel, orderID, supplierID, repo.OrderUpdate{
		SetSupplier:   true,
		SetAssignedAt: true,
	})
}

// Transition dispatches a lifecycle action token (accept, decline, complete,
// cancel) as received from a notification channel or the API.
func (e Engine) Transition(ctx context.Context, action, orderID string, supplierID int64) (domain.Order, error) {
	switch action {
	case domain.ActionAccept:
		return e.Accept(ctx, orderID, supplierID)
	case domain.ActionDecline:
		return e.Decline(ctx, orderID, supplierID)
	case domain.ActionComplete:
		return e.Complete(ctx, orderID, supplierID)
	case domain.ActionCancel:
		return e.Cancel(ctx, orderID, supplierID)
	default:
		return domain.Order{}, apperr.Validation("unknown action %q", action)
	}
}

// transition applies one lifecycle action together with its status_change
// message and activity entry, then notifies the order's creator.
func (e Engine) transition(ctx context.Context, action, orderID string, actorID int64, u repo.OrderUpdate) (domain.Order, error) {
	defer observe("transition_"+action, time.Now())
	spec := lifecycle[action]
	u.Status = spec.status
	u.UpdatedAt = e.ts()

	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	defer tx.Rollback()

	if err := e.applier().Apply(ctx, tx, Transition{OrderID: orderID, Action: action, Update: u, From: spec.from}); err != nil {
		return domain.Order{}, err
	}
	o, err := e.Repo.GetOrder(ctx, tx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	w := e.events()
	if err := w.AppendStatusChange(ctx, tx, o.ID, spec.label); err != nil {
		return domain.Order{}, err
	}
	if err := w.AppendActivity(ctx, tx, actorID, spec.activity, fmt.Sprintf("Order %s %s", o.ID, spec.verb)); err != nil {
		return domain.Order{}, err
	}
	if err := repo.Commit(tx); err != nil {
		return domain.Order{}, err
	}

	metrics.Transitions.WithLabelValues(action).Inc()
	e.registry().InvalidateOrders(ctx, o.ID)
	e.log().Info("order "+spec.verb, logger.Fields{"order_id": o.ID, "supplier_id": actorID})
	// decline resets the row to NEW; the creator still sees the declined label
	notice := o
	notice.Status = spec.label
	e.afterCommit(ctx, creatorMessage(notice, spec.event))
	return o, nil
}

// reassignAfterDecline routes a freshly declined order again. It leaves the
// order unassigned when the matcher finds nobody or picks the supplier who
// just declined.
func (e Engine) reassignAfterDecline(ctx context.Context, o domain.Order, declinedBy int64) (domain.Order, error) {
	snapshot, err := e.registry().ActiveSuppliers(ctx)
	if err != nil {
		return o, err
	}
	next := e.match(o.Text, snapshot)
	if next == nil {
		metrics.DeclineReassigned.WithLabelValues("unassigned").Inc()
		e.log().Info("declined order left unassigned", logger.Fields{"order_id": o.ID})
		return o, nil
	}
	if next.ID == declinedBy {
		metrics.DeclineReassigned.WithLabelValues("same_supplier").Inc()
		e.log().Info("declined order left unassigned", logger.Fields{"order_id": o.ID, "reason": "same supplier"})
		return o, nil
	}

	tx, err := e.begin(ctx)
	if err != nil {
		return o, err
	}
	defer tx.Rollback()

	now := e.ts()
	if err := e.applier().Apply(ctx, tx, Transition{
		OrderID: o.ID,
		Action:  "reassign",
		From:    []string{domain.StatusNew},
		Update: repo.OrderUpdate{
			Status:        domain.StatusAssigned,
			SupplierID:    int64Ptr(next.ID),
			SetSupplier:   true,
			AssignedAt:    &now,
			SetAssignedAt: true,
			UpdatedAt:     now,
		},
	}); err != nil {
		return o, err
	}
	updated, err := e.Repo.GetOrder(ctx, tx, o.ID)
	if err != nil {
		return o, err
	}
	w := e.events()
	if err := w.AppendSystem(ctx, tx, o.ID, fmt.Sprintf("Order reassigned to %s after decline", next.Name)); err != nil {
		return o, err
	}
	if err := w.AppendActivity(ctx, tx, domain.SystemSenderID, events.OrderAutoReassigned,
		fmt.Sprintf("Order %s reassigned to supplier %d after decline", o.ID, next.ID)); err != nil {
		return o, err
	}
	if err := repo.Commit(tx); err != nil {
		return o, err
	}

	metrics.DeclineReassigned.WithLabelValues("reassigned").Inc()
	e.registry().InvalidateOrders(ctx, o.ID)
	e.log().Info("declined order reassigned", logger.Fields{"order_id": o.ID, "supplier_id": next.ID, "declined_by": declinedBy})
	e.afterCommit(ctx, supplierMessage(updated, next.ContactID, notify.EventOrderAssigned))
	return updated, nil
}
