package repo

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"io"
	"math/big"
	"strings"

	"supplyrouter/internal/apperr"
	"supplyrouter/internal/domain"
)

const (
	DefaultIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	DefaultIDLength   = 8
	defaultIDAttempts = 16
)

// IDGenerator produces order ids. The zero value yields 8 characters drawn
// uniformly from DefaultIDAlphabet using crypto/rand.
type IDGenerator struct {
	Alphabet    string
	Length      int
	MaxAttempts int
	Rand        io.Reader
}

func (g IDGenerator) New() (string, error) {
	alphabet := g.Alphabet
	if alphabet == "" {
		alphabet = DefaultIDAlphabet
	}
	length := g.Length
	if length <= 0 {
		length = DefaultIDLength
	}
	src := g.Rand
	if src == nil {
		src = rand.Reader
	}
	max := big.NewInt(int64(len(alphabet)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(src, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return strings.ToUpper(b.String()), nil
}

func (g IDGenerator) attempts() int {
	if g.MaxAttempts > 0 {
		return g.MaxAttempts
	}
	return defaultIDAttempts
}

const orderColumns = `id,text,status,supplier_id,creator_id,created_at,updated_at,assigned_at,completed_at`

func scanOrder(row rowScanner) (domain.Order, error) {
	var o domain.Order
	var supplierID sql.NullInt64
	var assignedAt, completedAt sql.NullString
	if err := row.Scan(&o.ID, &o.Text, &o.Status, &supplierID, &o.CreatorID, &o.CreatedAt, &o.UpdatedAt, &assignedAt, &completedAt); err != nil {
		return o, err
	}
	if supplierID.Valid {
		id := supplierID.Int64
		o.SupplierID = &id
	}
	if assignedAt.Valid {
		o.AssignedAt = &assignedAt.String
	}
	if completedAt.Valid {
		o.CompletedAt = &completedAt.String
	}
	return o, nil
}

// InsertOrder generates an id for o and stores it, drawing a fresh id when the
// generated one is already taken.
func (r Repo) InsertOrder(ctx context.Context, tx *sql.Tx, gen IDGenerator, o *domain.Order) error {
	for attempt := 0; attempt < gen.attempts(); attempt++ {
		id, err := gen.New()
		if err != nil {
			return fmt.Errorf("generate order id: %w", err)
		}
		res, err := r.exec(ctx, tx, `INSERT INTO orders(`+orderColumns+`) VALUES (?,?,?,?,?,?,?,?,?) ON CONFLICT (id) DO NOTHING`,
			id, o.Text, o.Status, nullableInt64Ptr(o.SupplierID), o.CreatorID, o.CreatedAt, o.UpdatedAt,
			nullableStringPtr(o.AssignedAt), nullableStringPtr(o.CompletedAt))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return apperr.Storage(err)
		}
		if n == 1 {
			o.ID = id
			return nil
		}
	}
	return apperr.Storage(fmt.Errorf("no free order id after %d attempts", gen.attempts()))
}

func (r Repo) GetOrder(ctx context.Context, tx *sql.Tx, id string) (domain.Order, error) {
	o, err := scanOrder(r.queryRow(ctx, tx, `SELECT `+orderColumns+` FROM orders WHERE id=?`, strings.ToUpper(id)))
	if err == sql.ErrNoRows {
		return o, apperr.NotFound("order %s not found", id)
	}
	return o, apperr.Storage(err)
}

type OrderFilters struct {
	Status     string
	SupplierID *int64
	CreatorID  *int64
	Search     string
	Limit      int
	Offset     int
}

// ListOrders returns a page of orders, newest first, plus the total number of
// orders matching f.
func (r Repo) ListOrders(ctx context.Context, f OrderFilters) ([]domain.Order, int, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.SupplierID != nil {
		clauses = append(clauses, "supplier_id=?")
		args = append(args, *f.SupplierID)
	}
	if f.CreatorID != nil {
		clauses = append(clauses, "creator_id=?")
		args = append(args, *f.CreatorID)
	}
	if strings.TrimSpace(f.Search) != "" {
		clauses = append(clauses, `(LOWER(text) LIKE ? ESCAPE '\' OR LOWER(id) LIKE ? ESCAPE '\')`)
		p := likePattern(f.Search)
		args = append(args, p, p)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	var total int
	if err := r.queryRow(ctx, nil, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Storage(err)
	}
	query := `SELECT ` + orderColumns + ` FROM orders` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := r.query(ctx, nil, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var res []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, apperr.Storage(err)
		}
		res = append(res, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Storage(err)
	}
	return res, total, nil
}

// OrderUpdate is a raw field write on one order row. Fields are only written
// when their Set flag is true; a nil value with Set clears the column.
type OrderUpdate struct {
	Text           *string
	Status         string
	SupplierID     *int64
	SetSupplier    bool
	AssignedAt     *string
	SetAssignedAt  bool
	CompletedAt    *string
	SetCompletedAt bool
	UpdatedAt      string
	// ExpectStatus, when non-empty, restricts the write to rows currently in
	// one of these statuses.
	ExpectStatus []string
}

// UpdateOrder applies u to order id as a single-row update. A missing order is
// NotFound; an order outside ExpectStatus is Conflict.
func (r Repo) UpdateOrder(ctx context.Context, tx *sql.Tx, id string, u OrderUpdate) error {
	var (
		fields []string
		args   []any
	)
	if u.Text != nil {
		fields = append(fields, "text=?")
		args = append(args, *u.Text)
	}
	if u.Status != "" {
		fields = append(fields, "status=?")
		args = append(args, u.Status)
	}
	if u.SetSupplier {
		fields = append(fields, "supplier_id=?")
		args = append(args, nullableInt64Ptr(u.SupplierID))
	}
	if u.SetAssignedAt {
		fields = append(fields, "assigned_at=?")
		args = append(args, nullableStringPtr(u.AssignedAt))
	}
	if u.SetCompletedAt {
		fields = append(fields, "completed_at=?")
		args = append(args, nullableStringPtr(u.CompletedAt))
	}
	if u.UpdatedAt != "" {
		fields = append(fields, "updated_at=?")
		args = append(args, u.UpdatedAt)
	}
	if len(fields) == 0 {
		return nil
	}
	clauses := []string{"id=?"}
	args = append(args, strings.ToUpper(id))
	if len(u.ExpectStatus) > 0 {
		marks := make([]string, len(u.ExpectStatus))
		for i, s := range u.ExpectStatus {
			marks[i] = "?"
			args = append(args, s)
		}
		clauses = append(clauses, "status IN ("+strings.Join(marks, ",")+")")
	}
	query := fmt.Sprintf(`UPDATE orders SET %s WHERE %s`, strings.Join(fields, ","), strings.Join(clauses, " AND "))
	res, err := r.exec(ctx, tx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Storage(err)
	}
	if n > 0 {
		return nil
	}
	if len(u.ExpectStatus) == 0 {
		return apperr.NotFound("order %s not found", id)
	}
	current, err := r.GetOrder(ctx, tx, id)
	if err != nil {
		return err
	}
	return apperr.Conflict("order %s is %s, expected one of %s", current.ID, current.Status, strings.Join(u.ExpectStatus, ","))
}

// DeleteOrder purges an order after its messages.
func (r Repo) DeleteOrder(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := r.exec(ctx, tx, `DELETE FROM order_messages WHERE order_id=?`, strings.ToUpper(id)); err != nil {
		return err
	}
	res, err := r.exec(ctx, tx, `DELETE FROM orders WHERE id=?`, strings.ToUpper(id))
	if err != nil {
		return err
	}
	return affectedOrNotFound(res, "order %s not found", id)
}
