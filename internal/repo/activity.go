package repo

import (
	"context"
	"database/sql"
	"strings"

	"supplyrouter/internal/apperr"
	"supplyrouter/internal/domain"
)

func (r Repo) InsertActivity(ctx context.Context, tx *sql.Tx, e domain.ActivityLogEntry) (int64, error) {
	var id int64
	err := r.queryRow(ctx, tx, `INSERT INTO activity_log(actor_id,action,details,created_at) VALUES (?,?,?,?) RETURNING id`,
		e.ActorID, e.Action, nullable(e.Details), e.CreatedAt).Scan(&id)
	if err != nil {
		return 0, apperr.Storage(err)
	}
	return id, nil
}

type ActivityFilters struct {
	ActorID *int64
	Action  string
	// Since is an RFC3339 lower bound on created_at.
	Since  string
	Limit  int
	Offset int
}

// ListActivity returns entries newest first.
func (r Repo) ListActivity(ctx context.Context, f ActivityFilters) ([]domain.ActivityLogEntry, int, error) {
	var clauses []string
	var args []any
	if f.ActorID != nil {
		clauses = append(clauses, "actor_id=?")
		args = append(args, *f.ActorID)
	}
	if f.Action != "" {
		clauses = append(clauses, "action=?")
		args = append(args, f.Action)
	}
	if f.Since != "" {
		clauses = append(clauses, "created_at>=?")
		args = append(args, f.Since)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	var total int
	if err := r.queryRow(ctx, nil, `SELECT COUNT(*) FROM activity_log`+where, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Storage(err)
	}
	query := `SELECT id,actor_id,action,COALESCE(details,''),created_at FROM activity_log` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := r.query(ctx, nil, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var res []domain.ActivityLogEntry
	for rows.Next() {
		var e domain.ActivityLogEntry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.Details, &e.CreatedAt); err != nil {
			return nil, 0, apperr.Storage(err)
		}
		res = append(res, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Storage(err)
	}
	return res, total, nil
}

// ListActions returns the distinct action tags present in the log.
func (r Repo) ListActions(ctx context.Context) ([]string, error) {
	rows, err := r.query(ctx, nil, `SELECT DISTINCT action FROM activity_log ORDER BY action ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, apperr.Storage(err)
		}
		res = append(res, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(err)
	}
	return res, nil
}
