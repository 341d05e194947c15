package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"supplyrouter/internal/apperr"
	"supplyrouter/internal/domain"
)

const filterColumns = `id,supplier_id,keyword,active,priority,created_at`

func scanFilter(row rowScanner) (domain.Filter, error) {
	var f domain.Filter
	err := row.Scan(&f.ID, &f.SupplierID, &f.Keyword, &f.Active, &f.Priority, &f.CreatedAt)
	return f, err
}

func (r Repo) InsertFilter(ctx context.Context, tx *sql.Tx, f domain.Filter) (int64, error) {
	var id int64
	err := r.queryRow(ctx, tx, `INSERT INTO filters(supplier_id,keyword,active,priority,created_at) VALUES (?,?,?,?,?) RETURNING id`,
		f.SupplierID, f.Keyword, f.Active, f.Priority, f.CreatedAt).Scan(&id)
	if err != nil {
		return 0, apperr.Storage(err)
	}
	return id, nil
}

func (r Repo) GetFilter(ctx context.Context, tx *sql.Tx, id int64) (domain.Filter, error) {
	f, err := scanFilter(r.queryRow(ctx, tx, `SELECT `+filterColumns+` FROM filters WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return f, apperr.NotFound("filter %d not found", id)
	}
	return f, apperr.Storage(err)
}

// ListFilters returns a supplier's filters by priority, highest first.
func (r Repo) ListFilters(ctx context.Context, supplierID int64, activeOnly bool) ([]domain.Filter, error) {
	clauses := []string{"supplier_id=?"}
	args := []any{supplierID}
	if activeOnly {
		clauses = append(clauses, "active=?")
		args = append(args, true)
	}
	query := `SELECT ` + filterColumns + ` FROM filters WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY priority DESC, keyword ASC, id ASC`
	return r.listFilters(ctx, query, args...)
}

// SearchFilters matches keywords containing q, case-insensitively.
func (r Repo) SearchFilters(ctx context.Context, q string, limit int) ([]domain.Filter, error) {
	query := `SELECT ` + filterColumns + ` FROM filters WHERE LOWER(keyword) LIKE ? ESCAPE '\' ORDER BY priority DESC, keyword ASC, id ASC`
	args := []any{likePattern(q)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.listFilters(ctx, query, args...)
}

func (r Repo) listFilters(ctx context.Context, query string, args ...any) ([]domain.Filter, error) {
	rows, err := r.query(ctx, nil, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Filter
	for rows.Next() {
		f, err := scanFilter(rows)
		if err != nil {
			return nil, apperr.Storage(err)
		}
		res = append(res, f)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(err)
	}
	return res, nil
}

// UpdateFilter changes keyword and/or priority; nil fields are left alone.
func (r Repo) UpdateFilter(ctx context.Context, tx *sql.Tx, id int64, keyword *string, priority *int) error {
	var (
		fields []string
		args   []any
	)
	if keyword != nil {
		fields = append(fields, "keyword=?")
		args = append(args, *keyword)
	}
	if priority != nil {
		fields = append(fields, "priority=?")
		args = append(args, *priority)
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.exec(ctx, tx, fmt.Sprintf(`UPDATE filters SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res, "filter %d not found", id)
}

func (r Repo) UpdateFilterActive(ctx context.Context, tx *sql.Tx, id int64, active bool) error {
	res, err := r.exec(ctx, tx, `UPDATE filters SET active=? WHERE id=?`, active, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res, "filter %d not found", id)
}

func (r Repo) DeleteFilter(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := r.exec(ctx, tx, `DELETE FROM filters WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res, "filter %d not found", id)
}
