package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"supplyrouter/internal/apperr"
	"supplyrouter/internal/domain"
	"supplyrouter/internal/events"
	"supplyrouter/internal/repo"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func (e Engine) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Order{}, apperr.Validation("order id is required")
	}
	return e.registry().Order(ctx, id)
}

type ListOrdersOptions struct {
	Status     string `validate:"omitempty,oneof=NEW ASSIGNED ACCEPTED DECLINED COMPLETED CANCELLED"`
	SupplierID *int64
	CreatorID  *int64
	Search     string
	Limit      int `validate:"gte=0"`
	Offset     int `validate:"gte=0"`
}

type OrderPage struct {
	Items []domain.Order `json:"items"`
	Total int            `json:"total"`
}

// ListOrders returns a page of orders, newest first.
func (e Engine) ListOrders(ctx context.Context, opts ListOrdersOptions) (OrderPage, error) {
	opts.Status = strings.ToUpper(strings.TrimSpace(opts.Status))
	if err := validateOptions(opts); err != nil {
		return OrderPage{}, err
	}
	items, total, err := e.Repo.ListOrders(ctx, repo.OrderFilters{
		Status:     opts.Status,
		SupplierID: opts.SupplierID,
		CreatorID:  opts.CreatorID,
		Search:     opts.Search,
		Limit:      pageSize(opts.Limit),
		Offset:     opts.Offset,
	})
	if err != nil {
		return OrderPage{}, err
	}
	if items == nil {
		items = []domain.Order{}
	}
	return OrderPage{Items: items, Total: total}, nil
}

func pageSize(limit int) int {
	switch {
	case limit <= 0:
		return defaultPageSize
	case limit > maxPageSize:
		return maxPageSize
	default:
		return limit
	}
}

// Stats periods.
const (
	PeriodToday = "today"
	PeriodWeek  = "week"
	PeriodMonth = "month"
	PeriodAll   = "all"
)

// Stats summarizes orders created in period and the supplier registry.
func (e Engine) Stats(ctx context.Context, period string) (domain.Stats, error) {
	since, err := e.periodStart(period)
	if err != nil {
		return domain.Stats{}, err
	}
	byStatus, err := e.Repo.CountOrdersByStatus(ctx, since)
	if err != nil {
		return domain.Stats{}, err
	}
	suppliers, err := e.Repo.CountSuppliers(ctx)
	if err != nil {
		return domain.Stats{}, err
	}
	o := domain.OrderStats{ByStatus: byStatus}
	for _, n := range byStatus {
		o.Total += n
	}
	o.Completed = byStatus[domain.StatusCompleted]
	o.Pending = byStatus[domain.StatusNew] + byStatus[domain.StatusAssigned] + byStatus[domain.StatusAccepted]
	o.Cancelled = byStatus[domain.StatusDeclined] + byStatus[domain.StatusCancelled]
	if o.Total > 0 {
		o.CompletionRate = math.Round(float64(o.Completed)/float64(o.Total)*10000) / 100
	}
	return domain.Stats{Orders: o, Suppliers: suppliers}, nil
}

func (e Engine) periodStart(period string) (string, error) {
	now := e.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	var start time.Time
	switch strings.ToLower(strings.TrimSpace(period)) {
	case "", PeriodAll:
		return "", nil
	case PeriodToday:
		start = midnight
	case PeriodWeek:
		start = now.AddDate(0, 0, -7)
	case PeriodMonth:
		start = now.AddDate(0, 0, -30)
	default:
		return "", apperr.Validation("unknown period %q", period)
	}
	return start.Format(time.RFC3339), nil
}

type ListActivityOptions struct {
	ActorID    *int64
	Action     string
	SinceHours int `validate:"gte=0"`
	Limit      int `validate:"gte=0"`
	Offset     int `validate:"gte=0"`
}

type ActivityPage struct {
	Items []domain.ActivityLogEntry `json:"items"`
	Total int                       `json:"total"`
}

func (e Engine) ListActivity(ctx context.Context, opts ListActivityOptions) (ActivityPage, error) {
	if err := validateOptions(opts); err != nil {
		return ActivityPage{}, err
	}
	f := repo.ActivityFilters{
		ActorID: opts.ActorID,
		Action:  strings.TrimSpace(opts.Action),
		Limit:   pageSize(opts.Limit),
		Offset:  opts.Offset,
	}
	if opts.SinceHours > 0 {
		f.Since = e.now().UTC().Add(-time.Duration(opts.SinceHours) * time.Hour).Format(time.RFC3339)
	}
	items, total, err := e.Repo.ListActivity(ctx, f)
	if err != nil {
		return ActivityPage{}, err
	}
	if items == nil {
		items = []domain.ActivityLogEntry{}
	}
	return ActivityPage{Items: items, Total: total}, nil
}

// ListRecentActivity returns the latest limit entries.
func (e Engine) ListRecentActivity(ctx context.Context, limit int) ([]domain.ActivityLogEntry, error) {
	page, err := e.ListActivity(ctx, ListActivityOptions{Limit: limit})
	return page.Items, err
}

func (e Engine) ListActions(ctx context.Context) ([]string, error) {
	return e.Repo.ListActions(ctx)
}

// PurgeOrder deletes an order and its thread.
func (e Engine) PurgeOrder(ctx context.Context, id string, actorID int64) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteOrder(ctx, tx, id); err != nil {
		return err
	}
	if err := e.events().AppendActivity(ctx, tx, actorID, events.OrderDeleted, fmt.Sprintf("Order %s deleted", strings.ToUpper(id))); err != nil {
		return err
	}
	if err := repo.Commit(tx); err != nil {
		return err
	}
	e.registry().InvalidateOrders(ctx, id)
	return nil
}

type UpdateOrderOptions struct {
	ID      string `validate:"required"`
	Text    *string
	Status  *string
	ActorID int64
}

// UpdateOrder edits an order's text and/or status directly, bypassing the
// lifecycle guards. No one is notified.
func (e Engine) UpdateOrder(ctx context.Context, opts UpdateOrderOptions) (domain.Order, error) {
	opts.ID = strings.TrimSpace(opts.ID)
	if err := validateOptions(opts); err != nil {
		return domain.Order{}, err
	}
	var changed []string
	u := repo.OrderUpdate{UpdatedAt: e.ts()}
	if opts.Text != nil {
		trimmed := strings.TrimSpace(*opts.Text)
		if trimmed == "" {
			return domain.Order{}, apperr.Validation("text must not be empty")
		}
		u.Text = &trimmed
		changed = append(changed, "text")
	}
	if opts.Status != nil {
		status := strings.ToUpper(strings.TrimSpace(*opts.Status))
		if !domain.ValidStatus(status) {
			return domain.Order{}, apperr.Validation("unknown status %q", *opts.Status)
		}
		u.Status = status
		changed = append(changed, "status")
	}
	if len(changed) == 0 {
		return e.GetOrder(ctx, opts.ID)
	}

	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateOrder(ctx, tx, opts.ID, u); err != nil {
		return domain.Order{}, err
	}
	o, err := e.Repo.GetOrder(ctx, tx, opts.ID)
	if err != nil {
		return domain.Order{}, err
	}
	details := fmt.Sprintf("Order %s updated: %s", o.ID, strings.Join(changed, ", "))
	if err := e.events().AppendActivity(ctx, tx, opts.ActorID, events.OrderUpdated, details); err != nil {
		return domain.Order{}, err
	}
	if err := repo.Commit(tx); err != nil {
		return domain.Order{}, err
	}
	e.registry().InvalidateOrders(ctx, o.ID)
	return o, nil
}
