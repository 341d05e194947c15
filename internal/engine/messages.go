package engine

import (
	"context"
	"strings"

	"supplyrouter/internal/apperr"
	"supplyrouter/internal/domain"
	"supplyrouter/internal/logger"
	"supplyrouter/internal/notify"
	"supplyrouter/internal/pending"
	"supplyrouter/internal/repo"
)

// AddMessage appends a free-text message to an order thread and notifies the
// other side: the creator when the assigned supplier writes, the assigned
// supplier otherwise.
func (e Engine) AddMessage(ctx context.Context, orderID string, senderID int64, text string) (domain.OrderMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.OrderMessage{}, apperr.Validation("message text must not be empty")
	}
	o, err := e.Repo.GetOrder(ctx, nil, orderID)
	if err != nil {
		return domain.OrderMessage{}, err
	}
	var holder *domain.Supplier
	if o.SupplierID != nil {
		s, err := e.Repo.GetSupplier(ctx, nil, *o.SupplierID)
		if err != nil && !apperr.Is(err, apperr.KindNotFound) {
			return domain.OrderMessage{}, err
		}
		if err == nil {
			holder = &s
		}
	}

	tx, err := e.begin(ctx)
	if err != nil {
		return domain.OrderMessage{}, err
	}
	defer tx.Rollback()
	m := domain.OrderMessage{
		OrderID:   o.ID,
		SenderID:  senderID,
		Text:      text,
		Kind:      domain.MessageText,
		CreatedAt: e.ts(),
	}
	id, err := e.Repo.InsertMessage(ctx, tx, m)
	if err != nil {
		return domain.OrderMessage{}, err
	}
	m.ID = id
	if err := repo.Commit(tx); err != nil {
		return domain.OrderMessage{}, err
	}

	recipient := int64(0)
	switch {
	case holder != nil && holder.ContactID != 0 && holder.ContactID == senderID:
		recipient = o.CreatorID
	case holder != nil:
		recipient = holder.ContactID
	}
	if recipient != 0 && recipient != senderID {
		e.afterCommit(ctx, notify.Message{
			ContactID: recipient,
			Text:      "Order #" + o.ID + "\n\n" + text,
			Actions:   []string{domain.ActionMessage},
			OrderID:   o.ID,
			Event:     notify.EventOrderMessage,
		})
	}
	return m, nil
}

// ListMessages returns an order's thread, oldest first.
func (e Engine) ListMessages(ctx context.Context, orderID string) ([]domain.OrderMessage, error) {
	o, err := e.Repo.GetOrder(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}
	msgs, err := e.Repo.ListMessages(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []domain.OrderMessage{}
	}
	return msgs, nil
}

// Thread renders an order's thread as text.
func (e Engine) Thread(ctx context.Context, orderID string) (string, error) {
	msgs, err := e.ListMessages(ctx, orderID)
	if err != nil {
		return "", err
	}
	return notify.FormatThread(msgs), nil
}

// StartReply remembers that contactID's next free-text message belongs to
// orderID.
func (e Engine) StartReply(ctx context.Context, contactID int64, orderID string) error {
	o, err := e.Repo.GetOrder(ctx, nil, orderID)
	if err != nil {
		return err
	}
	if err := e.pending().Set(ctx, contactID, o.ID); err != nil {
		return apperr.Storage(err)
	}
	return nil
}

// SubmitReply posts text to the order contactID started a reply for.
func (e Engine) SubmitReply(ctx context.Context, contactID int64, text string) (domain.OrderMessage, error) {
	store := e.pending()
	orderID, err := store.Get(ctx, contactID)
	if err != nil {
		return domain.OrderMessage{}, apperr.Storage(err)
	}
	if orderID == "" {
		return domain.OrderMessage{}, apperr.NotFound("no pending reply for contact %d", contactID)
	}
	m, err := e.AddMessage(ctx, orderID, contactID, text)
	if err != nil {
		return m, err
	}
	if err := store.Clear(ctx, contactID); err != nil {
		// the message is committed; a stale entry only expires later
		e.log().Warn("pending reply not cleared", logger.Fields{"contact_id": contactID, "order_id": orderID, "error": err.Error()})
	}
	return m, nil
}

func (e Engine) pending() pending.Store {
	if e.Pending == nil {
		return pending.NewMemoryStore(0)
	}
	return e.Pending
}
