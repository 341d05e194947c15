package repo

import (
	"context"
	"database/sql"

	"supplyrouter/internal/apperr"
	"supplyrouter/internal/domain"
)

const supplierColumns = `id,contact_id,name,active,role,created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSupplier(row rowScanner) (domain.Supplier, error) {
	var s domain.Supplier
	var contactID sql.NullInt64
	if err := row.Scan(&s.ID, &contactID, &s.Name, &s.Active, &s.Role, &s.CreatedAt); err != nil {
		return s, err
	}
	if contactID.Valid {
		s.ContactID = contactID.Int64
	}
	return s, nil
}

// InsertSupplier stores s and returns its assigned id.
func (r Repo) InsertSupplier(ctx context.Context, tx *sql.Tx, s domain.Supplier) (int64, error) {
	var id int64
	err := r.queryRow(ctx, tx, `INSERT INTO suppliers(contact_id,name,active,role,created_at) VALUES (?,?,?,?,?) RETURNING id`,
		nullableID(s.ContactID), s.Name, s.Active, s.Role, s.CreatedAt).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, apperr.Conflict("contact %d already registered", s.ContactID)
		}
		return 0, apperr.Storage(err)
	}
	return id, nil
}

func (r Repo) GetSupplier(ctx context.Context, tx *sql.Tx, id int64) (domain.Supplier, error) {
	s, err := scanSupplier(r.queryRow(ctx, tx, `SELECT `+supplierColumns+` FROM suppliers WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return s, apperr.NotFound("supplier %d not found", id)
	}
	return s, apperr.Storage(err)
}

func (r Repo) GetSupplierByContact(ctx context.Context, tx *sql.Tx, contactID int64) (domain.Supplier, error) {
	s, err := scanSupplier(r.queryRow(ctx, tx, `SELECT `+supplierColumns+` FROM suppliers WHERE contact_id=?`, contactID))
	if err == sql.ErrNoRows {
		return s, apperr.NotFound("no supplier for contact %d", contactID)
	}
	return s, apperr.Storage(err)
}

// ListSuppliers returns suppliers ordered by name.
func (r Repo) ListSuppliers(ctx context.Context, activeOnly bool) ([]domain.Supplier, error) {
	query := `SELECT ` + supplierColumns + ` FROM suppliers`
	var args []any
	if activeOnly {
		query += ` WHERE active=?`
		args = append(args, true)
	}
	query += ` ORDER BY name ASC, id ASC`
	return r.listSuppliers(ctx, nil, query, args...)
}

// ListAdminSuppliers returns active suppliers with role admin.
func (r Repo) ListAdminSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return r.listSuppliers(ctx, nil, `SELECT `+supplierColumns+` FROM suppliers WHERE active=? AND role=? ORDER BY created_at ASC, id ASC`, true, domain.RoleAdmin)
}

func (r Repo) listSuppliers(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]domain.Supplier, error) {
	rows, err := r.query(ctx, tx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Supplier
	for rows.Next() {
		s, err := scanSupplier(rows)
		if err != nil {
			return nil, apperr.Storage(err)
		}
		res = append(res, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(err)
	}
	return res, nil
}

// ListActiveSuppliers returns the registry snapshot: active suppliers ordered
// by creation with their active filters attached. Suppliers and filters are
// read in one transaction.
func (r Repo) ListActiveSuppliers(ctx context.Context, tx *sql.Tx) ([]domain.Supplier, error) {
	if tx == nil {
		own, err := r.BeginTx(ctx)
		if err != nil {
			return nil, err
		}
		defer own.Rollback()
		tx = own
	}
	suppliers, err := r.listSuppliers(ctx, tx, `SELECT `+supplierColumns+` FROM suppliers WHERE active=? ORDER BY created_at ASC, id ASC`, true)
	if err != nil {
		return nil, err
	}
	if len(suppliers) == 0 {
		return nil, nil
	}
	rows, err := r.query(ctx, tx, `SELECT f.id,f.supplier_id,f.keyword,f.active,f.priority,f.created_at FROM filters f JOIN suppliers s ON s.id=f.supplier_id
WHERE s.active=? AND f.active=? ORDER BY f.supplier_id ASC, f.priority DESC, f.id ASC`, true, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	bySupplier := map[int64][]domain.Filter{}
	for rows.Next() {
		f, err := scanFilter(rows)
		if err != nil {
			return nil, apperr.Storage(err)
		}
		bySupplier[f.SupplierID] = append(bySupplier[f.SupplierID], f)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(err)
	}
	for i := range suppliers {
		suppliers[i].Filters = bySupplier[suppliers[i].ID]
	}
	return suppliers, nil
}

func (r Repo) UpdateSupplierActive(ctx context.Context, tx *sql.Tx, id int64, active bool) error {
	res, err := r.exec(ctx, tx, `UPDATE suppliers SET active=? WHERE id=?`, active, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res, "supplier %d not found", id)
}

func (r Repo) UpdateSupplierName(ctx context.Context, tx *sql.Tx, id int64, name string) error {
	res, err := r.exec(ctx, tx, `UPDATE suppliers SET name=? WHERE id=?`, name, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res, "supplier %d not found", id)
}

func (r Repo) UpdateSupplierRole(ctx context.Context, tx *sql.Tx, id int64, role string) error {
	res, err := r.exec(ctx, tx, `UPDATE suppliers SET role=? WHERE id=?`, role, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res, "supplier %d not found", id)
}

// DeleteSupplier detaches filters and orders before removing the supplier row.
func (r Repo) DeleteSupplier(ctx context.Context, tx *sql.Tx, id int64) error {
	if _, err := r.exec(ctx, tx, `DELETE FROM filters WHERE supplier_id=?`, id); err != nil {
		return err
	}
	if _, err := r.exec(ctx, tx, `UPDATE orders SET supplier_id=NULL, assigned_at=NULL, status=CASE WHEN status=? THEN ? ELSE status END WHERE supplier_id=?`,
		domain.StatusAssigned, domain.StatusNew, id); err != nil {
		return err
	}
	res, err := r.exec(ctx, tx, `DELETE FROM suppliers WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res, "supplier %d not found", id)
}
