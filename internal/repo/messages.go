package repo

import (
	"context"
	"database/sql"
	"strings"

	"supplyrouter/internal/apperr"
	"supplyrouter/internal/domain"
)

func (r Repo) InsertMessage(ctx context.Context, tx *sql.Tx, m domain.OrderMessage) (int64, error) {
	var id int64
	err := r.queryRow(ctx, tx, `INSERT INTO order_messages(order_id,sender_id,text,kind,created_at) VALUES (?,?,?,?,?) RETURNING id`,
		strings.ToUpper(m.OrderID), m.SenderID, m.Text, m.Kind, m.CreatedAt).Scan(&id)
	if err != nil {
		return 0, apperr.Storage(err)
	}
	return id, nil
}

// ListMessages returns an order's thread in canonical order.
func (r Repo) ListMessages(ctx context.Context, orderID string) ([]domain.OrderMessage, error) {
	rows, err := r.query(ctx, nil, `SELECT id,order_id,sender_id,text,kind,created_at FROM order_messages WHERE order_id=? ORDER BY created_at ASC, id ASC`,
		strings.ToUpper(orderID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.OrderMessage
	for rows.Next() {
		var m domain.OrderMessage
		if err := rows.Scan(&m.ID, &m.OrderID, &m.SenderID, &m.Text, &m.Kind, &m.CreatedAt); err != nil {
			return nil, apperr.Storage(err)
		}
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(err)
	}
	return res, nil
}
