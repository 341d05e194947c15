package repo

import (
	"context"
	"database/sql"

	"supplyrouter/internal/apperr"
	"supplyrouter/internal/domain"
)

// CountOrdersByStatus groups orders created at or after since (RFC3339; empty
// means all time) by status.
func (r Repo) CountOrdersByStatus(ctx context.Context, since string) (map[string]int, error) {
	query := `SELECT status, count(*) FROM orders`
	var args []any
	if since != "" {
		query += ` WHERE created_at>=?`
		args = append(args, since)
	}
	rows, err := r.query(ctx, nil, query+` GROUP BY status`, args...)
	return countRows(rows, err)
}

func (r Repo) CountSuppliers(ctx context.Context) (domain.SupplierStats, error) {
	var s domain.SupplierStats
	rows, err := r.query(ctx, nil, `SELECT active, count(*) FROM suppliers GROUP BY active`)
	if err != nil {
		return s, err
	}
	defer rows.Close()
	for rows.Next() {
		var active bool
		var count int
		if err := rows.Scan(&active, &count); err != nil {
			return s, apperr.Storage(err)
		}
		if active {
			s.Active += count
		} else {
			s.Inactive += count
		}
		s.Total += count
	}
	if err := rows.Err(); err != nil {
		return s, apperr.Storage(err)
	}
	return s, nil
}

// CountOrdersByDay groups orders created at or after since by UTC calendar
// day, keyed YYYY-MM-DD.
func (r Repo) CountOrdersByDay(ctx context.Context, since string) (map[string]int, error) {
	rows, err := r.query(ctx, nil, `SELECT SUBSTR(created_at,1,10), count(*) FROM orders WHERE created_at>=? GROUP BY SUBSTR(created_at,1,10)`, since)
	return countRows(rows, err)
}

// SupplierOrderCount is one supplier's share of the orders it currently holds.
type SupplierOrderCount struct {
	SupplierID int64
	Name       string
	Held       int
	Completed  int
}

// SupplierOrderCounts lists every supplier, including those holding no
// orders, ordered by id.
func (r Repo) SupplierOrderCounts(ctx context.Context) ([]SupplierOrderCount, error) {
	rows, err := r.query(ctx, nil, `SELECT s.id, s.name, count(o.id), COALESCE(SUM(CASE WHEN o.status=? THEN 1 ELSE 0 END),0)
FROM suppliers s LEFT JOIN orders o ON o.supplier_id=s.id
GROUP BY s.id, s.name ORDER BY s.id`, domain.StatusCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SupplierOrderCount
	for rows.Next() {
		var c SupplierOrderCount
		if err := rows.Scan(&c.SupplierID, &c.Name, &c.Held, &c.Completed); err != nil {
			return nil, apperr.Storage(err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(err)
	}
	return out, nil
}

// CountActivityByActor counts entries of one action per actor.
func (r Repo) CountActivityByActor(ctx context.Context, action string) (map[int64]int, error) {
	rows, err := r.query(ctx, nil, `SELECT actor_id, count(*) FROM activity_log WHERE action=? GROUP BY actor_id`, action)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[int64]int{}
	for rows.Next() {
		var actor int64
		var count int
		if err := rows.Scan(&actor, &count); err != nil {
			return nil, apperr.Storage(err)
		}
		res[actor] = count
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(err)
	}
	return res, nil
}

// CountActivityByAction groups activity at or after since by action.
func (r Repo) CountActivityByAction(ctx context.Context, since string) (map[string]int, error) {
	rows, err := r.query(ctx, nil, `SELECT action, count(*) FROM activity_log WHERE created_at>=? GROUP BY action`, since)
	return countRows(rows, err)
}

// CountActivityByHour groups activity at or after since by UTC hour, keyed
// YYYY-MM-DDTHH.
func (r Repo) CountActivityByHour(ctx context.Context, since string) (map[string]int, error) {
	rows, err := r.query(ctx, nil, `SELECT SUBSTR(created_at,1,13), count(*) FROM activity_log WHERE created_at>=? GROUP BY SUBSTR(created_at,1,13)`, since)
	return countRows(rows, err)
}

func countRows(rows *sql.Rows, err error) (map[string]int, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, apperr.Storage(err)
		}
		res[key] = count
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(err)
	}
	return res, nil
}
