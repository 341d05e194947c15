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

type CreateSupplierOptions struct {
	Name      string `validate:"required,max=200"`
	Role      string `validate:"omitempty,oneof=supplier admin"`
	ContactID int64  `validate:"gte=0"`
	ActorID   int64
}

func (e Engine) CreateSupplier(ctx context.Context, opts CreateSupplierOptions) (domain.Supplier, error) {
	opts.Name = strings.TrimSpace(opts.Name)
	if err := validateOptions(opts); err != nil {
		return domain.Supplier{}, err
	}
	if opts.Role == "" {
		opts.Role = domain.RoleSupplier
	}
	s := domain.Supplier{
		ContactID: opts.ContactID,
		Name:      opts.Name,
		Active:    true,
		Role:      opts.Role,
		CreatedAt: e.ts(),
	}

	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Supplier{}, err
	}
	defer tx.Rollback()
	id, err := e.Repo.InsertSupplier(ctx, tx, s)
	if err != nil {
		return domain.Supplier{}, err
	}
	s.ID = id
	if err := e.events().AppendActivity(ctx, tx, opts.ActorID, events.SupplierCreated, fmt.Sprintf("Supplier %s created", s.Name)); err != nil {
		return domain.Supplier{}, err
	}
	if err := repo.Commit(tx); err != nil {
		return domain.Supplier{}, err
	}
	e.registry().InvalidateSuppliers(ctx)
	return s, nil
}

// RegisterContact returns the supplier bound to contactID, creating an active
// supplier for it on first contact.
func (e Engine) RegisterContact(ctx context.Context, contactID int64, name string) (domain.Supplier, error) {
	if contactID <= 0 {
		return domain.Supplier{}, apperr.Validation("contact id must be positive")
	}
	s, err := e.Repo.GetSupplierByContact(ctx, nil, contactID)
	if err == nil {
		return s, nil
	}
	if !apperr.Is(err, apperr.KindNotFound) {
		return domain.Supplier{}, err
	}
	if strings.TrimSpace(name) == "" {
		name = fmt.Sprintf("contact %d", contactID)
	}
	s, err = e.CreateSupplier(ctx, CreateSupplierOptions{Name: name, ContactID: contactID, ActorID: contactID})
	if apperr.Is(err, apperr.KindConflict) {
		// registered concurrently
		return e.Repo.GetSupplierByContact(ctx, nil, contactID)
	}
	return s, err
}

// GetSupplier returns a supplier with all of its filters.
func (e Engine) GetSupplier(ctx context.Context, id int64) (domain.Supplier, error) {
	s, err := e.Repo.GetSupplier(ctx, nil, id)
	if err != nil {
		return s, err
	}
	s.Filters, err = e.Repo.ListFilters(ctx, id, false)
	return s, err
}

func (e Engine) GetSupplierByContact(ctx context.Context, contactID int64) (domain.Supplier, error) {
	return e.Repo.GetSupplierByContact(ctx, nil, contactID)
}

func (e Engine) ListSuppliers(ctx context.Context, activeOnly bool) ([]domain.Supplier, error) {
	return e.Repo.ListSuppliers(ctx, activeOnly)
}

// ListActiveSuppliers is the registry snapshot the matcher routes against.
func (e Engine) ListActiveSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return e.registry().ActiveSuppliers(ctx)
}

func (e Engine) SetSupplierActive(ctx context.Context, id int64, active bool, actorID int64) (domain.Supplier, error) {
	action, verb := events.SupplierDeactivated, "deactivated"
	if active {
		action, verb = events.SupplierActivated, "activated"
	}
	return e.updateSupplier(ctx, id, actorID, action, fmt.Sprintf("Supplier %d %s", id, verb), func(tx *sql.Tx) error {
		return e.Repo.UpdateSupplierActive(ctx, tx, id, active)
	})
}

type UpdateSupplierOptions struct {
	ID      int64   `validate:"gt=0"`
	Name    *string `validate:"omitempty,max=200"`
	Role    *string `validate:"omitempty,oneof=supplier admin"`
	ActorID int64
}

// UpdateSupplier renames a supplier and/or changes its role.
func (e Engine) UpdateSupplier(ctx context.Context, opts UpdateSupplierOptions) (domain.Supplier, error) {
	if opts.Name != nil {
		trimmed := strings.TrimSpace(*opts.Name)
		if trimmed == "" {
			return domain.Supplier{}, apperr.Validation("name must not be empty")
		}
		opts.Name = &trimmed
	}
	if opts.Role != nil && *opts.Role == "" {
		return domain.Supplier{}, apperr.Validation("role must not be empty")
	}
	if err := validateOptions(opts); err != nil {
		return domain.Supplier{}, err
	}
	return e.updateSupplier(ctx, opts.ID, opts.ActorID, events.SupplierUpdated, fmt.Sprintf("Supplier %d updated", opts.ID), func(tx *sql.Tx) error {
		if opts.Name != nil {
			if err := e.Repo.UpdateSupplierName(ctx, tx, opts.ID, *opts.Name); err != nil {
				return err
			}
		}
		if opts.Role != nil {
			if err := e.Repo.UpdateSupplierRole(ctx, tx, opts.ID, *opts.Role); err != nil {
				return err
			}
		}
		if opts.Name == nil && opts.Role == nil {
			_, err := e.Repo.GetSupplier(ctx, tx, opts.ID)
			return err
		}
		return nil
	})
}

func (e Engine) RenameSupplier(ctx context.Context, id int64, name string, actorID int64) (domain.Supplier, error) {
	return e.UpdateSupplier(ctx, UpdateSupplierOptions{ID: id, Name: &name, ActorID: actorID})
}

// DeleteSupplier removes a supplier and its filters. Its orders stay, with no
// supplier; orders it had not yet accepted go back to NEW.
func (e Engine) DeleteSupplier(ctx context.Context, id, actorID int64) error {
	held, _, err := e.Repo.ListOrders(ctx, repo.OrderFilters{SupplierID: &id})
	if err != nil {
		return err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	s, err := e.Repo.GetSupplier(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteSupplier(ctx, tx, id); err != nil {
		return err
	}
	if err := e.events().AppendActivity(ctx, tx, actorID, events.SupplierDeleted, fmt.Sprintf("Supplier %s deleted", s.Name)); err != nil {
		return err
	}
	if err := repo.Commit(tx); err != nil {
		return err
	}
	e.registry().InvalidateSuppliers(ctx)
	ids := make([]string, len(held))
	for i, o := range held {
		ids[i] = o.ID
	}
	e.registry().InvalidateOrders(ctx, ids...)
	return nil
}

func (e Engine) updateSupplier(ctx context.Context, id, actorID int64, action, details string, write func(tx *sql.Tx) error) (domain.Supplier, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Supplier{}, err
	}
	defer tx.Rollback()
	if err := write(tx); err != nil {
		return domain.Supplier{}, err
	}
	s, err := e.Repo.GetSupplier(ctx, tx, id)
	if err != nil {
		return domain.Supplier{}, err
	}
	if err := e.events().AppendActivity(ctx, tx, actorID, action, details); err != nil {
		return domain.Supplier{}, err
	}
	if err := repo.Commit(tx); err != nil {
		return domain.Supplier{}, err
	}
	e.registry().InvalidateSuppliers(ctx)
	return s, nil
}
