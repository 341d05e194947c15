package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/lib/pq"

	"supplyrouter/internal/apperr"
	"supplyrouter/internal/db"
)

// Repo is the storage collaborator. Methods taking a *sql.Tx run inside the
// caller's transaction when tx is non-nil and against DB otherwise.
type Repo struct {
	DB     *sql.DB
	Driver string
}

// ErrNotFound matches every NotFound error returned by the repo.
var ErrNotFound = &apperr.Error{Kind: apperr.KindNotFound}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) conn(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func (r Repo) rebind(query string) string {
	return db.Rebind(r.Driver, query)
}

func (r Repo) exec(ctx context.Context, tx *sql.Tx, query string, args ...any) (sql.Result, error) {
	res, err := r.conn(tx).ExecContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	return res, nil
}

func (r Repo) query(ctx context.Context, tx *sql.Tx, query string, args ...any) (*sql.Rows, error) {
	rows, err := r.conn(tx).QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	return rows, nil
}

func (r Repo) queryRow(ctx context.Context, tx *sql.Tx, query string, args ...any) *sql.Row {
	return r.conn(tx).QueryRowContext(ctx, r.rebind(query), args...)
}

// BeginTx opens a transaction, mapping driver failures to StorageUnavailable.
func (r Repo) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	return tx, nil
}

// Commit commits tx, mapping driver failures to StorageUnavailable.
func Commit(tx *sql.Tx) error {
	return apperr.Storage(tx.Commit())
}

func affectedOrNotFound(res sql.Result, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Storage(err)
	}
	if n == 0 {
		return apperr.NotFound(format, args...)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	for ; err != nil; err = errors.Unwrap(err) {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return true
		}
	}
	return false
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

// nullableID stores zero as NULL.
func nullableID(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

// likePattern builds a case-insensitive substring pattern for LOWER(col) LIKE ?.
func likePattern(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(s) + "%"
}
