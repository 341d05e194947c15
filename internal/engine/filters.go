package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"supplyrouter/internal/apperr"
	"supplyrouter/internal/domain"
	"supplyrouter/internal/events"
	"supplyrouter/internal/repo"
)

type CreateFilterOptions struct {
	SupplierID int64  `validate:"gt=0"`
	Keyword    string `validate:"required,max=200"`
	Priority   int
	ActorID    int64
}

func (e Engine) CreateFilter(ctx context.Context, opts CreateFilterOptions) (domain.Filter, error) {
	opts.Keyword = strings.TrimSpace(opts.Keyword)
	if err := validateOptions(opts); err != nil {
		return domain.Filter{}, err
	}
	filters, err := e.insertFilters(ctx, opts.SupplierID, []string{opts.Keyword}, opts.Priority, opts.ActorID,
		events.FilterCreated, fmt.Sprintf("Filter '%s' created", opts.Keyword))
	if err != nil {
		return domain.Filter{}, err
	}
	return filters[0], nil
}

// BulkCreateFilters adds one priority-0 filter per non-blank keyword.
func (e Engine) BulkCreateFilters(ctx context.Context, supplierID int64, keywords []string, actorID int64) ([]domain.Filter, error) {
	cleaned := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			cleaned = append(cleaned, k)
		}
	}
	if len(cleaned) == 0 {
		return nil, apperr.Validation("keywords must not be empty")
	}
	return e.insertFilters(ctx, supplierID, cleaned, 0, actorID,
		events.FiltersBulkCreated, fmt.Sprintf("Created %d filters", len(cleaned)))
}

func (e Engine) insertFilters(ctx context.Context, supplierID int64, keywords []string, priority int, actorID int64, action, details string) ([]domain.Filter, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetSupplier(ctx, tx, supplierID); err != nil {
		return nil, err
	}
	now := e.ts()
	out := make([]domain.Filter, 0, len(keywords))
	for _, k := range keywords {
		f := domain.Filter{SupplierID: supplierID, Keyword: k, Active: true, Priority: priority, CreatedAt: now}
		id, err := e.Repo.InsertFilter(ctx, tx, f)
		if err != nil {
			return nil, err
		}
		f.ID = id
		out = append(out, f)
	}
	if err := e.events().AppendActivity(ctx, tx, actorID, action, details); err != nil {
		return nil, err
	}
	if err := repo.Commit(tx); err != nil {
		return nil, err
	}
	e.registry().InvalidateSuppliers(ctx)
	return out, nil
}

type UpdateFilterOptions struct {
	ID       int64 `validate:"gt=0"`
	Keyword  *string
	Priority *int
	ActorID  int64
}

func (e Engine) UpdateFilter(ctx context.Context, opts UpdateFilterOptions) (domain.Filter, error) {
	if opts.Keyword != nil {
		k := strings.TrimSpace(*opts.Keyword)
		if k == "" {
			return domain.Filter{}, apperr.Validation("keyword must not be empty")
		}
		opts.Keyword = &k
	}
	if err := validateOptions(opts); err != nil {
		return domain.Filter{}, err
	}
	return e.updateFilter(ctx, opts.ID, opts.ActorID, events.FilterUpdated, fmt.Sprintf("Filter %d updated", opts.ID), func(tx *sql.Tx) error {
		return e.Repo.UpdateFilter(ctx, tx, opts.ID, opts.Keyword, opts.Priority)
	})
}

func (e Engine) SetFilterActive(ctx context.Context, id int64, active bool, actorID int64) (domain.Filter, error) {
	action, verb := events.FilterDeactivated, "deactivated"
	if active {
		action, verb = events.FilterActivated, "activated"
	}
	return e.updateFilter(ctx, id, actorID, action, fmt.Sprintf("Filter %d %s", id, verb), func(tx *sql.Tx) error {
		return e.Repo.UpdateFilterActive(ctx, tx, id, active)
	})
}

func (e Engine) DeleteFilter(ctx context.Context, id, actorID int64) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	f, err := e.Repo.GetFilter(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteFilter(ctx, tx, id); err != nil {
		return err
	}
	if err := e.events().AppendActivity(ctx, tx, actorID, events.FilterDeleted, fmt.Sprintf("Filter '%s' deleted", f.Keyword)); err != nil {
		return err
	}
	if err := repo.Commit(tx); err != nil {
		return err
	}
	e.registry().InvalidateSuppliers(ctx)
	return nil
}

// ListFilters returns a supplier's filters, highest priority first.
func (e Engine) ListFilters(ctx context.Context, supplierID int64, activeOnly bool) ([]domain.Filter, error) {
	if _, err := e.Repo.GetSupplier(ctx, nil, supplierID); err != nil {
		return nil, err
	}
	return e.Repo.ListFilters(ctx, supplierID, activeOnly)
}

func (e Engine) SearchFilters(ctx context.Context, q string, limit int) ([]domain.Filter, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, apperr.Validation("search query must not be empty")
	}
	return e.Repo.SearchFilters(ctx, q, limit)
}

func (e Engine) updateFilter(ctx context.Context, id, actorID int64, action, details string, write func(tx *sql.Tx) error) (domain.Filter, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Filter{}, err
	}
	defer tx.Rollback()
	if err := write(tx); err != nil {
		return domain.Filter{}, err
	}
	f, err := e.Repo.GetFilter(ctx, tx, id)
	if err != nil {
		return domain.Filter{}, err
	}
	if err := e.events().AppendActivity(ctx, tx, actorID, action, details); err != nil {
		return domain.Filter{}, err
	}
	if err := repo.Commit(tx); err != nil {
		return domain.Filter{}, err
	}
	e.registry().InvalidateSuppliers(ctx)
	return f, nil
}
