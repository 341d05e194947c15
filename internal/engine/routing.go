package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"supplyrouter/internal/domain"
	"supplyrouter/internal/events"
	"supplyrouter/internal/logger"
	"supplyrouter/internal/matcher"
	"supplyrouter/internal/metrics"
	"supplyrouter/internal/notify"
	"supplyrouter/internal/repo"
)

type CreateOrderOptions struct {
	Text       string `validate:"required"`
	CreatorID  int64
	SupplierID *int64
}

// CreateOrder stores a new order. A forced supplier is assigned directly;
// otherwise the matcher picks one from the current registry. With nobody to
// assign the order stays NEW.
func (e Engine) CreateOrder(ctx context.Context, opts CreateOrderOptions) (domain.Order, error) {
	defer observe("create_order", time.Now())
	opts.Text = strings.TrimSpace(opts.Text)
	if err := validateOptions(opts); err != nil {
		return domain.Order{}, err
	}
	var target *domain.Supplier
	if opts.SupplierID != nil {
		s, err := e.Repo.GetSupplier(ctx, nil, *opts.SupplierID)
		if err != nil {
			return domain.Order{}, err
		}
		target = &s
	} else {
		snapshot, err := e.registry().ActiveSuppliers(ctx)
		if err != nil {
			return domain.Order{}, err
		}
		target = e.match(opts.Text, snapshot)
	}
	return e.createOrder(ctx, opts.Text, opts.CreatorID, target)
}

// CreateOrdersFromBulkText splits text into lines, routes every line against
// one registry snapshot and creates one order per winning supplier holding
// that supplier's lines. Lines nobody can take are dropped.
func (e Engine) CreateOrdersFromBulkText(ctx context.Context, text string, creatorID int64) ([]domain.Order, error) {
	defer observe("create_orders_bulk", time.Now())
	lines := SplitLines(text)
	if len(lines) == 0 {
		return []domain.Order{}, nil
	}
	snapshot, err := e.registry().ActiveSuppliers(ctx)
	if err != nil {
		return nil, err
	}

	type group struct {
		supplier domain.Supplier
		lines    []string
	}
	var groups []*group
	byID := map[int64]*group{}
	for _, line := range lines {
		s := e.match(line, snapshot)
		if s == nil {
			continue
		}
		g, ok := byID[s.ID]
		if !ok {
			g = &group{supplier: *s}
			byID[s.ID] = g
			groups = append(groups, g)
		}
		g.lines = append(g.lines, line)
	}

	orders := make([]domain.Order, 0, len(groups))
	for _, g := range groups {
		o, err := e.createOrder(ctx, strings.Join(g.lines, "\n"), creatorID, &g.supplier)
		if err != nil {
			return orders, err
		}
		orders = append(orders, o)
	}
	if dropped := len(lines) - countLines(orders); dropped > 0 {
		e.log().Info("bulk lines without supplier dropped", logger.Fields{"dropped": dropped, "creator_id": creatorID})
	}
	return orders, nil
}

// SplitLines returns the trimmed non-empty lines of text.
func SplitLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func countLines(orders []domain.Order) int {
	n := 0
	for _, o := range orders {
		n += strings.Count(o.Text, "\n") + 1
	}
	return n
}

// Reassign hands an order to another supplier regardless of its status.
func (e Engine) Reassign(ctx context.Context, orderID string, supplierID, actorID int64) (domain.Order, error) {
	defer observe("reassign", time.Now())
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	defer tx.Rollback()

	o, err := e.Repo.GetOrder(ctx, tx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	s, err := e.Repo.GetSupplier(ctx, tx, supplierID)
	if err != nil {
		return domain.Order{}, err
	}
	now := e.ts()
	if err := e.Repo.UpdateOrder(ctx, tx, o.ID, repo.OrderUpdate{
		Status:        domain.StatusAssigned,
		SupplierID:    int64Ptr(s.ID),
		SetSupplier:   true,
		AssignedAt:    &now,
		SetAssignedAt: true,
		UpdatedAt:     now,
	}); err != nil {
		return domain.Order{}, err
	}
	w := e.events()
	if err := w.AppendSystem(ctx, tx, o.ID, fmt.Sprintf("Order reassigned to %s", s.Name)); err != nil {
		return domain.Order{}, err
	}
	if err := w.AppendActivity(ctx, tx, actorID, events.OrderReassigned, fmt.Sprintf("Order %s reassigned to supplier %d", o.ID, s.ID)); err != nil {
		return domain.Order{}, err
	}
	if err := repo.Commit(tx); err != nil {
		return domain.Order{}, err
	}

	o.Status = domain.StatusAssigned
	o.SupplierID = int64Ptr(s.ID)
	o.AssignedAt = &now
	o.UpdatedAt = now
	e.registry().InvalidateOrders(ctx, o.ID)
	e.log().Info("order reassigned", logger.Fields{"order_id": o.ID, "supplier_id": s.ID, "actor_id": actorID})
	e.afterCommit(ctx, supplierMessage(o, s.ContactID, notify.EventOrderAssigned))
	return o, nil
}

// match applies the configured fallback policy to the matcher.
func (e Engine) match(text string, snapshot []domain.Supplier) *domain.Supplier {
	res := matcher.Best(text, snapshot, matcher.Options{Fallback: e.features().FallbackAssign})
	if res.Supplier != nil && res.Fallback {
		metrics.MatcherFallbacks.Inc()
		e.log().Debug("no filter matched, using default supplier", logger.Fields{"supplier_id": res.Supplier.ID})
	}
	return res.Supplier
}

func (e Engine) createOrder(ctx context.Context, text string, creatorID int64, target *domain.Supplier) (domain.Order, error) {
	now := e.ts()
	o := domain.Order{
		Text:      text,
		Status:    domain.StatusNew,
		CreatorID: creatorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if target != nil {
		o.Status = domain.StatusAssigned
		o.SupplierID = int64Ptr(target.ID)
		o.AssignedAt = &now
	}

	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertOrder(ctx, tx, e.IDs, &o); err != nil {
		return domain.Order{}, err
	}
	if err := e.events().AppendActivity(ctx, tx, creatorID, events.OrderCreated, fmt.Sprintf("Order %s created", o.ID)); err != nil {
		return domain.Order{}, err
	}
	if err := repo.Commit(tx); err != nil {
		return domain.Order{}, err
	}

	metrics.OrdersCreated.WithLabelValues(o.Status).Inc()
	fields := logger.Fields{"order_id": o.ID, "status": o.Status, "creator_id": creatorID}
	if target != nil {
		fields["supplier_id"] = target.ID
	}
	e.log().Info("order created", fields)
	if target != nil && e.features().NotifyOnCreate {
		e.afterCommit(ctx, supplierMessage(o, target.ContactID, notify.EventOrderAssigned))
	}
	return o, nil
}

func supplierMessage(o domain.Order, contactID int64, event string) notify.Message {
	return notify.Message{
		ContactID: contactID,
		Text:      notify.RenderSummary(o),
		Actions:   domain.ActionsFor(o.Status),
		OrderID:   o.ID,
		Event:     event,
	}
}

func creatorMessage(o domain.Order, event string) notify.Message {
	return notify.Message{
		ContactID: o.CreatorID,
		Text:      notify.RenderSummary(o),
		Actions:   []string{domain.ActionMessage},
		OrderID:   o.ID,
		Event:     event,
	}
}
