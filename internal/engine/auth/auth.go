package auth

import (
	"context"
	"fmt"

	"supplyrouter/internal/apperr"
	"supplyrouter/internal/config"
	"supplyrouter/internal/domain"
	"supplyrouter/internal/repo"
)

// Role names reported by Roles.
const (
	RoleAdmin    = domain.RoleAdmin
	RoleSupplier = domain.RoleSupplier
)

// ForbiddenError indicates the actor lacks a role.
type ForbiddenError struct {
	ActorID int64
	Role    string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("actor %d requires role %s", e.ActorID, e.Role)
}

// Service answers who an actor is allowed to act as. Admins come from the
// config admin list or from active suppliers with role admin bound to the
// actor's contact id.
type Service struct {
	Repo   repo.Repo
	Config *config.Config
}

func (s Service) supplierFor(ctx context.Context, actorID int64) (domain.Supplier, bool, error) {
	if actorID == 0 {
		return domain.Supplier{}, false, nil
	}
	sup, err := s.Repo.GetSupplierByContact(ctx, nil, actorID)
	if apperr.Is(err, apperr.KindNotFound) {
		return domain.Supplier{}, false, nil
	}
	if err != nil {
		return domain.Supplier{}, false, err
	}
	return sup, true, nil
}

func (s Service) IsAdmin(ctx context.Context, actorID int64) (bool, error) {
	if s.Config.IsAdmin(actorID) {
		return true, nil
	}
	sup, ok, err := s.supplierFor(ctx, actorID)
	if err != nil || !ok {
		return false, err
	}
	return sup.Active && sup.Role == domain.RoleAdmin, nil
}

// Roles lists the roles held by actorID.
func (s Service) Roles(ctx context.Context, actorID int64) ([]string, error) {
	var roles []string
	admin, err := s.IsAdmin(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if admin {
		roles = append(roles, RoleAdmin)
	}
	sup, ok, err := s.supplierFor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if ok && sup.Active && sup.Role == domain.RoleSupplier {
		roles = append(roles, RoleSupplier)
	}
	return roles, nil
}

// RequireAdmin returns a Forbidden error unless actorID is an admin.
func (s Service) RequireAdmin(ctx context.Context, actorID int64) error {
	admin, err := s.IsAdmin(ctx, actorID)
	if err != nil {
		return err
	}
	if !admin {
		return &apperr.Error{Kind: apperr.KindForbidden, Message: "admin role required", Err: ForbiddenError{ActorID: actorID, Role: RoleAdmin}}
	}
	return nil
}

// RequireSupplier allows admins and the supplier bound to actorID to act on
// behalf of supplierID.
func (s Service) RequireSupplier(ctx context.Context, actorID, supplierID int64) error {
	admin, err := s.IsAdmin(ctx, actorID)
	if err != nil {
		return err
	}
	if admin {
		return nil
	}
	sup, ok, err := s.supplierFor(ctx, actorID)
	if err != nil {
		return err
	}
	if ok && sup.Active && sup.ID == supplierID {
		return nil
	}
	return &apperr.Error{Kind: apperr.KindForbidden, Message: fmt.Sprintf("actor may not act for supplier %d", supplierID), Err: ForbiddenError{ActorID: actorID, Role: RoleSupplier}}
}
