package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supplyrouter/internal/apperr"
	"supplyrouter/internal/config"
	"supplyrouter/internal/db"
	"supplyrouter/internal/domain"
	"supplyrouter/internal/engine"
	"supplyrouter/internal/metrics"
	"supplyrouter/internal/migrate"
	"supplyrouter/internal/notify"
	"supplyrouter/internal/pending"
	"supplyrouter/internal/repo"
)

const adminID int64 = 1000

type testEnv struct {
	Engine   engine.Engine
	Ctx      context.Context
	Recorder *notify.Recorder
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, db.DriverSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Admins = []int64{adminID}
	for _, m := range mutate {
		m(cfg)
	}
	eng := engine.New(conn, db.DriverSQLite, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	rec := &notify.Recorder{}
	eng.Hooks = rec
	return testEnv{Engine: eng, Ctx: context.Background(), Recorder: rec}
}

func (env testEnv) supplier(t *testing.T, name string, contactID int64, keywords map[string]int) domain.Supplier {
	t.Helper()
	s, err := env.Engine.CreateSupplier(env.Ctx, engine.CreateSupplierOptions{Name: name, ContactID: contactID, ActorID: adminID})
	require.NoError(t, err)
	for k, p := range keywords {
		_, err := env.Engine.CreateFilter(env.Ctx, engine.CreateFilterOptions{SupplierID: s.ID, Keyword: k, Priority: p, ActorID: adminID})
		require.NoError(t, err)
	}
	return s
}

func supplierOf(o domain.Order) int64 {
	if o.SupplierID == nil {
		return 0
	}
	return *o.SupplierID
}

func TestCreateOrderPriorityTieBreak(t *testing.T) {
	env := newTestEnv(t)
	a := env.supplier(t, "A", 11, map[string]int{"phone": 1})
	b := env.supplier(t, "B", 12, map[string]int{"phone": 5})

	o, err := env.Engine.CreateOrder(env.Ctx, engine.CreateOrderOptions{Text: "new phone case", CreatorID: 500})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAssigned, o.Status)
	assert.Equal(t, b.ID, supplierOf(o))
	require.NotNil(t, o.AssignedAt)
	assert.Len(t, o.ID, 8)

	_, err = env.Engine.UpdateFilter(env.Ctx, engine.UpdateFilterOptions{ID: mustFilter(t, env, b.ID).ID, Priority: intPtr(1), ActorID: adminID})
	require.NoError(t, err)
	o, err = env.Engine.CreateOrder(env.Ctx, engine.CreateOrderOptions{Text: "new phone case", CreatorID: 500})
	require.NoError(t, err)
	assert.Equal(t, a.ID, supplierOf(o))
}

func mustFilter(t *testing.T, env testEnv, supplierID int64) domain.Filter {
	t.Helper()
	filters, err := env.Engine.ListFilters(env.Ctx, supplierID, false)
	require.NoError(t, err)
	require.NotEmpty(t, filters)
	return filters[0]
}

func intPtr(v int) *int { return &v }

func TestCreateOrderFallbackAndEmptyRegistry(t *testing.T) {
	env := newTestEnv(t)

	o, err := env.Engine.CreateOrder(env.Ctx, engine.CreateOrderOptions{Text: "anything", CreatorID: 500})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNew, o.Status)
	assert.Nil(t, o.SupplierID)
	assert.Nil(t, o.AssignedAt)
	assert.Empty(t, env.Recorder.Messages())

	before := testutil.ToFloat64(metrics.MatcherFallbacks)
	c := env.supplier(t, "C", 13, nil)
	o, err = env.Engine.CreateOrder(env.Ctx, engine.CreateOrderOptions{Text: "anything", CreatorID: 500})
	require.NoError(t, err)
	assert.Equal(t, c.ID, supplierOf(o))
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.MatcherFallbacks))

	msgs := env.Recorder.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(13), msgs[0].ContactID)
	assert.Equal(t, notify.EventOrderAssigned, msgs[0].Event)
	assert.Equal(t, []string{"accept", "decline", "message", "contact_buyer"}, msgs[0].Actions)
	assert.Contains(t, msgs[0].Text, "Order #"+o.ID)
}

func TestCreateOrderWithoutFallback(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Features.FallbackAssign = false })
	env.supplier(t, "C", 13, map[string]int{"laptop": 1})

	o, err := env.Engine.CreateOrder(env.Ctx, engine.CreateOrderOptions{Text: "anything", CreatorID: 500})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNew, o.Status)
}

func TestCreateOrderValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateOrder(env.Ctx, engine.CreateOrderOptions{Text: "   ", CreatorID: 500})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	missing := int64(404)
	_, err = env.Engine.CreateOrder(env.Ctx, engine.CreateOrderOptions{Text: "x", CreatorID: 500, SupplierID: &missing})
	assert.True(t, errors.Is(err, repo.ErrNotFound))
}

func TestCreateOrderForcedSupplier(t *testing.T) {
	env := newTestEnv(t)
	env.supplier(t, "A", 11, map[string]int{"phone": 9})
	b := env.supplier(t, "B", 12, nil)

	o, err := env.Engine.CreateOrder(env.Ctx, engine.CreateOrderOptions{Text: "phone", CreatorID: 500, SupplierID: &b.ID})
	require.NoError(t, err)
	assert.Equal(t, b.ID, supplierOf(o))

	page, err := env.Engine.ListActivity(env.Ctx, engine.ListActivityOptions{Action: "order_created"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, int64(500), page.Items[0].ActorID)
	assert.Equal(t, fmt.Sprintf("Order %s created", o.ID), page.Items[0].Details)
}

func TestBulkSplitGrouping(t *testing.T) {
	env := newTestEnv(t)
	a := env.supplier(t, "A", 11, map[string]int{"phone": 1})
	b := env.supplier(t, "B", 12, map[string]int{"laptop": 1})

	orders, err := env.Engine.CreateOrdersFromBulkText(env.Ctx, "phone case\r\nlaptop bag\n\n  phone charger  ", 500)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, a.ID, supplierOf(orders[0]))
	assert.Equal(t, "phone case\nphone charger", orders[0].Text)
	assert.Equal(t, b.ID, supplierOf(orders[1]))
	assert.Equal(t, "laptop bag", orders[1].Text)
	assert.Len(t, env.Recorder.Messages(), 2)
}

func TestBulkWithoutSuppliersDropsLines(t *testing.T) {
	env := newTestEnv(t)
	orders, err := env.Engine.CreateOrdersFromBulkText(env.Ctx, "phone case\nlaptop bag", 500)
	require.NoError(t, err)
	assert.Empty(t, orders)

	orders, err = env.Engine.CreateOrdersFromBulkText(env.Ctx, " \n\n", 500)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestDeclineReassignsToAnotherSupplier(t *testing.T) {
	env := newTestEnv(t)
	x := env.supplier(t, "X", 11, map[string]int{"phone": 1})
	y := env.supplier(t, "Y", 12, map[string]int{"case": 5})

	o, err := env.Engine.CreateOrder(env.Ctx, engine.CreateOrderOptions{Text: "phone case", CreatorID: 500, SupplierID: &x.ID})
	require.NoError(t, err)
	env.Recorder.Reset()

	o, err = env.Engine.Decline(env.Ctx, o.ID, x.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAssigned, o.Status)
	assert.Equal(t, y.ID, supplierOf(o))

	stored, err := env.Engine.GetOrder(env.Ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAssigned, stored.Status)
	assert.Equal(t, y.ID, supplierOf(stored))

	msgs := env.Recorder.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(500), msgs[0].ContactID)
	assert.Equal(t, notify.EventOrderDeclined, msgs[0].Event)
	assert.Contains(t, msgs[0].Text, "Status: Order declined")
	assert.Equal(t, int64(12), msgs[1].ContactID)
	assert.Equal(t, notify.EventOrderAssigned, msgs[1].Event)

	thread, err := env.Engine.ListMessages(env.Ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, thread, 2)
	assert.Equal(t, domain.MessageStatusChange, thread[0].Kind)
	assert.Equal(t, "Order declined", thread[0].Text)
	assert.Equal(t, domain.MessageSystem, thread[1].Kind)
}

func TestDeclineWithSingleSupplierLeavesOrderUnassigned(t *testing.T) {
	env := newTestEnv(t)
	x := env.supplier(t, "X", 11, nil)

	o, err := env.Engine.CreateOrder(env.Ctx, engine.CreateOrderOptions{Text: "anything", CreatorID: 500})
	require.NoError(t, err)
	require.Equal(t, x.ID, supplierOf(o))

	o, err = env.Engine.Decline(env.Ctx, o.ID, x.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNew, o.Status)
	assert.Nil(t, o.SupplierID)
	assert.Nil(t, o.AssignedAt)
}

func TestDeclineWithoutReassign(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Features.ReassignOnDecline = false })
	x := env.supplier(t, "X", 11, map[string]int{"phone": 1})
	env.supplier(t, "Y", 12, map[string]int{"case": 5})

	o, err := env.Engine.CreateOrder(env.Ctx, engine.CreateOrderOptions{Text: "phone case", CreatorID: 500, SupplierID: &x.ID})
	require.NoError(t, err)
	o, err = env.Engine.Decline(env.Ctx, o.ID, x.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNew, o.Status)
}

func TestLifecycleTransitions(t *testing.T) {
	env := newTestEnv(t)
	x := env.supplier(t, "X", 11, map[string]int{"phone": 1})

	o, err := env.Engine.CreateOrder(env.Ctx, engine.CreateOrderOptions{Text: "phone", CreatorID: 500})
	require.NoError(t, err)

	o, err = env.Engine.Accept(env.Ctx, o.ID, x.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, o.Status)
	assert.Equal(t, x.ID, supplierOf(o))

	o, err = env.Engine.Complete(env.Ctx, o.ID, x.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, o.Status)
	require.NotNil(t, o.CompletedAt)

	// blind overwrite: completing again keeps the status and logs again
	o, err = env.Engine.Complete(env.Ctx, o.ID, x.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, o.Status)

	thread, err := env.Engine.ListMessages(env.Ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, thread, 3)
	for _, m := range thread {
		assert.Equal(t, domain.MessageStatusChange, m.Kind)
		assert.Equal(t, domain.SystemSenderID, m.SenderID)
	}
	assert.Equal(t, "Order accepted", thread[0].Text)
	assert.Equal(t, "Order completed", thread[1].Text)

	for action, want := range map[string]int{"order_accepted": 1, "order_completed": 2} {
		page, err := env.Engine.ListActivity(env.Ctx, engine.ListActivityOptions{Action: action})
		require.NoError(t, err)
		assert.Equal(t, want, page.Total, action)
		assert.Equal(t, x.ID, page.Items[0].ActorID)
	}
}

func TestCancelClearsSupplier(t *testing.T) {
	env := newTestEnv(t)
	x := env.supplier(t, "X", 11, nil)
	o, err := env.Engine.CreateOrder(env.Ctx, engine.CreateOrderOptions{Text: "anything", CreatorID: 500})
	require.NoError(t, err)
	_, err = env.Engine.Transition(env.Ctx, "accept", o.ID, x.ID)
	require.NoError(t, err)
	env.Recorder.Reset()

	o, err = env.Engine.Transition(env.Ctx, "cancel", o.ID, x.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, o.Status)
	assert.Nil(t, o.SupplierID)
	assert.Nil(t, o.AssignedAt)

	msgs := env.Recorder.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(500), msgs[0].ContactID)
	assert.Equal(t, notify.EventOrderCancelled, msgs[0].Event)

	_, err = env.Engine.Transition(env.Ctx, "archive", o.ID, x.ID)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestTransitionOnMissingOrder(t *testing.T) {
	env := newTestEnv(t)
	x := env.supplier(t, "X", 11, nil)
	for _, action := range []string{"accept", "decline", "complete", "cancel"} {
		_, err := env.Engine.Transition(env.Ctx, action, "NOPE0000", x.ID)
		assert.True(t, errors.Is(err, repo.ErrNotFound), action)
	}
	_, err := env.Engine.Accept(env.Ctx, "NOPE0000", 999)
	assert.True(t, errors.Is(err, repo.ErrNotFound))
}

func TestAcceptUnknownSupplierLeavesOrderUntouched(t *testing.T) {
	env := newTestEnv(t)
	x := env.supplier(t, "X", 11, nil)
	o, err := env.Engine.CreateOrder(env.Ctx, engine.CreateOrderOptions{Text: "ink", CreatorID: 500, SupplierID: &x.ID})
	require.NoError(t, err)
	env.Recorder.Reset()

	_, err = env.Engine.Accept(env.Ctx, o.ID, 999)
	assert.True(t, errors.Is(err, repo.ErrNotFound))

	stored, err := env.Engine.GetOrder(env.Ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAssigned, stored.Status)
	assert.Equal(t, x.ID, supplierOf(stored))
	thread, err := env.Engine.ListMessages(env.Ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, thread, 0)
	assert.Empty(t, env.Recorder.Messages())
}

func TestGuardedTransitionsRejectStaleStatus(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Features.GuardedTransitions = true })
	x := env.supplier(t, "X", 11, nil)
	o, err := env.Engine.CreateOrder(env.Ctx, engine.CreateOrderOptions{Text: "anything", CreatorID: 500})
	require.NoError(t, err)

	_, err = env.Engine.Complete(env.Ctx, o.ID, x.ID)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = env.Engine.Accept(env.Ctx, o.ID, x.ID)
	require.NoError(t, err)
	_, err = env.Engine.Complete(env.Ctx, o.ID, x.ID)
	require.NoError(t, err)
	_, err = env.Engine.Complete(env.Ctx, o.ID, x.ID)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	thread, err := env.Engine.ListMessages(env.Ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, thread, 2)
}

func TestReassign(t *testing.T) {
	env := newTestEnv(t)
	x := env.supplier(t, "X", 11, nil)
	y := env.supplier(t, "Y", 12, nil)
	o, err := env.Engine.CreateOrder(env.Ctx, engine.CreateOrderOptions{Text: "anything", CreatorID: 500})
	require.NoError(t, err)
	require.Equal(t, x.ID, supplierOf(o))
	env.Recorder.Reset()

	o, err = env.Engine.Reassign(env.Ctx, o.ID, y.ID, adminID)
	require.NoError(t, err)
	assert.Equal(t, y.ID, supplierOf(o))
	assert.Equal(t, domain.StatusAssigned, o.Status)

	msgs := env.Recorder.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(12), msgs[0].ContactID)

	thread, err := env.Engine.Thread(env.Ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "[system] Order reassigned to Y", thread)

	_, err = env.Engine.Reassign(env.Ctx, o.ID, 999, adminID)
	assert.True(t, errors.Is(err, repo.ErrNotFound))
	_, err = env.Engine.Reassign(env.Ctx, "NOPE0000", y.ID, adminID)
	assert.True(t, errors.Is(err, repo.ErrNotFound))
}

func TestMessagesNotifyCounterpart(t *testing.T) {
	env := newTestEnv(t)
	env.supplier(t, "X", 11, nil)
	o, err := env.Engine.CreateOrder(env.Ctx, engine.CreateOrderOptions{Text: "anything", CreatorID: 500})
	require.NoError(t, err)
	env.Recorder.Reset()

	_, err = env.Engine.AddMessage(env.Ctx, o.ID, 11, "shipping tomorrow")
	require.NoError(t, err)
	_, err = env.Engine.AddMessage(env.Ctx, o.ID, 500, "thanks")
	require.NoError(t, err)

	msgs := env.Recorder.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(500), msgs[0].ContactID)
	assert.Equal(t, int64(11), msgs[1].ContactID)
	assert.Equal(t, notify.EventOrderMessage, msgs[1].Event)

	_, err = env.Engine.AddMessage(env.Ctx, o.ID, 500, " ")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = env.Engine.AddMessage(env.Ctx, "NOPE0000", 500, "hi")
	assert.True(t, errors.Is(err, repo.ErrNotFound))
}

func TestPendingReplyFlow(t *testing.T) {
	env := newTestEnv(t)
	env.supplier(t, "X", 11, nil)
	o, err := env.Engine.CreateOrder(env.Ctx, engine.CreateOrderOptions{Text: "anything", CreatorID: 500})
	require.NoError(t, err)

	_, err = env.Engine.SubmitReply(env.Ctx, 11, "hello")
	assert.True(t, errors.Is(err, repo.ErrNotFound))

	require.NoError(t, env.Engine.StartReply(env.Ctx, 11, o.ID))
	m, err := env.Engine.SubmitReply(env.Ctx, 11, "hello")
	require.NoError(t, err)
	assert.Equal(t, o.ID, m.OrderID)
	assert.Equal(t, domain.MessageText, m.Kind)

	_, err = env.Engine.SubmitReply(env.Ctx, 11, "again")
	assert.True(t, errors.Is(err, repo.ErrNotFound))
}

type stickyStore struct {
	*pending.MemoryStore
}

func (stickyStore) Clear(context.Context, int64) error {
	return errors.New("connection reset")
}

func TestSubmitReplySucceedsWhenClearFails(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Pending = stickyStore{pending.NewMemoryStore(time.Minute)}
	env.supplier(t, "X", 11, nil)
	o, err := env.Engine.CreateOrder(env.Ctx, engine.CreateOrderOptions{Text: "anything", CreatorID: 500})
	require.NoError(t, err)

	require.NoError(t, env.Engine.StartReply(env.Ctx, 11, o.ID))
	m, err := env.Engine.SubmitReply(env.Ctx, 11, "hello")
	require.NoError(t, err)
	assert.Equal(t, o.ID, m.OrderID)

	thread, err := env.Engine.ListMessages(env.Ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, thread, 1)
}

func TestSupplierAdministration(t *testing.T) {
	env := newTestEnv(t)
	x := env.supplier(t, "X", 11, map[string]int{"phone": 1})

	_, err := env.Engine.CreateSupplier(env.Ctx, engine.CreateSupplierOptions{Name: "dup", ContactID: 11})
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	_, err = env.Engine.CreateSupplier(env.Ctx, engine.CreateSupplierOptions{Name: "  "})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = env.Engine.CreateSupplier(env.Ctx, engine.CreateSupplierOptions{Name: "Z", Role: "owner"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	reg, err := env.Engine.RegisterContact(env.Ctx, 11, "ignored")
	require.NoError(t, err)
	assert.Equal(t, x.ID, reg.ID)
	fresh, err := env.Engine.RegisterContact(env.Ctx, 77, "")
	require.NoError(t, err)
	assert.Equal(t, "contact 77", fresh.Name)

	s, err := env.Engine.SetSupplierActive(env.Ctx, x.ID, false, adminID)
	require.NoError(t, err)
	assert.False(t, s.Active)
	active, err := env.Engine.ListActiveSuppliers(env.Ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, fresh.ID, active[0].ID)

	s, err = env.Engine.RenameSupplier(env.Ctx, x.ID, "X prime", adminID)
	require.NoError(t, err)
	assert.Equal(t, "X prime", s.Name)

	_, err = env.Engine.SetSupplierActive(env.Ctx, 999, true, adminID)
	assert.True(t, errors.Is(err, repo.ErrNotFound))

	got, err := env.Engine.GetSupplier(env.Ctx, x.ID)
	require.NoError(t, err)
	require.Len(t, got.Filters, 1)

	actions, err := env.Engine.ListActions(env.Ctx)
	require.NoError(t, err)
	assert.Contains(t, actions, "supplier_deactivated")
	assert.Contains(t, actions, "supplier_updated")
}

func TestDeleteSupplierDetachesOrders(t *testing.T) {
	env := newTestEnv(t)
	x := env.supplier(t, "X", 11, map[string]int{"phone": 1})
	o, err := env.Engine.CreateOrder(env.Ctx, engine.CreateOrderOptions{Text: "phone", CreatorID: 500})
	require.NoError(t, err)

	require.NoError(t, env.Engine.DeleteSupplier(env.Ctx, x.ID, adminID))
	o, err = env.Engine.GetOrder(env.Ctx, o.ID)
	require.NoError(t, err)
	assert.Nil(t, o.SupplierID)
	assert.Equal(t, domain.StatusNew, o.Status)

	err = env.Engine.DeleteSupplier(env.Ctx, x.ID, adminID)
	assert.True(t, errors.Is(err, repo.ErrNotFound))
}

func TestFilterAdministration(t *testing.T) {
	env := newTestEnv(t)
	x := env.supplier(t, "X", 11, nil)

	filters, err := env.Engine.BulkCreateFilters(env.Ctx, x.ID, []string{"Phone", " ", "laptop "}, adminID)
	require.NoError(t, err)
	require.Len(t, filters, 2)
	assert.Equal(t, "laptop", filters[1].Keyword)
	assert.Zero(t, filters[0].Priority)

	_, err = env.Engine.BulkCreateFilters(env.Ctx, x.ID, []string{" ", ""}, adminID)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = env.Engine.BulkCreateFilters(env.Ctx, 999, []string{"tv"}, adminID)
	assert.True(t, errors.Is(err, repo.ErrNotFound))
	_, err = env.Engine.CreateFilter(env.Ctx, engine.CreateFilterOptions{SupplierID: x.ID, Keyword: " "})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	found, err := env.Engine.SearchFilters(env.Ctx, "PHO", 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Phone", found[0].Keyword)

	f, err := env.Engine.SetFilterActive(env.Ctx, found[0].ID, false, adminID)
	require.NoError(t, err)
	assert.False(t, f.Active)
	active, err := env.Engine.ListFilters(env.Ctx, x.ID, true)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	require.NoError(t, env.Engine.DeleteFilter(env.Ctx, found[0].ID, adminID))
	assert.True(t, errors.Is(env.Engine.DeleteFilter(env.Ctx, found[0].ID, adminID), repo.ErrNotFound))

	_, err = env.Engine.ListFilters(env.Ctx, 999, false)
	assert.True(t, errors.Is(err, repo.ErrNotFound))
}

func TestStatsAndListing(t *testing.T) {
	env := newTestEnv(t)
	x := env.supplier(t, "X", 11, nil)
	env.supplier(t, "Y", 12, nil)
	var ids []string
	for i := 0; i < 4; i++ {
		o, err := env.Engine.CreateOrder(env.Ctx, engine.CreateOrderOptions{Text: fmt.Sprintf("item %d", i), CreatorID: 500})
		require.NoError(t, err)
		ids = append(ids, o.ID)
	}
	_, err := env.Engine.Accept(env.Ctx, ids[0], x.ID)
	require.NoError(t, err)
	_, err = env.Engine.Complete(env.Ctx, ids[0], x.ID)
	require.NoError(t, err)
	_, err = env.Engine.Accept(env.Ctx, ids[1], x.ID)
	require.NoError(t, err)
	_, err = env.Engine.Cancel(env.Ctx, ids[1], x.ID)
	require.NoError(t, err)

	stats, err := env.Engine.Stats(env.Ctx, "all")
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Orders.Total)
	assert.Equal(t, 1, stats.Orders.Completed)
	assert.Equal(t, 1, stats.Orders.Cancelled)
	assert.Equal(t, 2, stats.Orders.Pending)
	assert.Equal(t, 25.0, stats.Orders.CompletionRate)
	assert.Equal(t, 2, stats.Suppliers.Active)

	today, err := env.Engine.Stats(env.Ctx, "today")
	require.NoError(t, err)
	assert.Equal(t, 4, today.Orders.Total)
	_, err = env.Engine.Stats(env.Ctx, "decade")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	page, err := env.Engine.ListOrders(env.Ctx, engine.ListOrdersOptions{Status: "assigned", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Len(t, page.Items, 1)

	page, err = env.Engine.ListOrders(env.Ctx, engine.ListOrdersOptions{Search: "ITEM 3"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, ids[3], page.Items[0].ID)

	_, err = env.Engine.ListOrders(env.Ctx, engine.ListOrdersOptions{Status: "LOST"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	recent, err := env.Engine.ListRecentActivity(env.Ctx, 3)
	require.NoError(t, err)
	assert.Len(t, recent, 3)

	require.NoError(t, env.Engine.PurgeOrder(env.Ctx, ids[2], adminID))
	_, err = env.Engine.GetOrder(env.Ctx, ids[2])
	assert.True(t, errors.Is(err, repo.ErrNotFound))
}

func TestReports(t *testing.T) {
	env := newTestEnv(t)
	x := env.supplier(t, "X", 11, nil)
	y := env.supplier(t, "Y", 12, map[string]int{"pen": 5})
	env.supplier(t, "Z", 13, nil)

	create := func(text string, supplierID int64) domain.Order {
		o, err := env.Engine.CreateOrder(env.Ctx, engine.CreateOrderOptions{Text: text, CreatorID: 500, SupplierID: &supplierID})
		require.NoError(t, err)
		return o
	}
	finish := func(o domain.Order, supplierID int64) {
		_, err := env.Engine.Accept(env.Ctx, o.ID, supplierID)
		require.NoError(t, err)
		_, err = env.Engine.Complete(env.Ctx, o.ID, supplierID)
		require.NoError(t, err)
	}
	finish(create("ink", x.ID), x.ID)
	declined, err := env.Engine.Decline(env.Ctx, create("pen", x.ID).ID, x.ID)
	require.NoError(t, err)
	require.Equal(t, y.ID, supplierOf(declined))
	finish(create("paper", y.ID), y.ID)
	finish(create("glue", y.ID), y.ID)

	perf, err := env.Engine.SupplierPerformance(env.Ctx, 2)
	require.NoError(t, err)
	require.Len(t, perf, 2)
	assert.Equal(t, domain.SupplierPerformance{SupplierID: y.ID, Name: "Y", TotalOrders: 3, CompletedOrders: 2, CompletionRate: 66.67}, perf[0])
	assert.Equal(t, domain.SupplierPerformance{SupplierID: x.ID, Name: "X", TotalOrders: 2, CompletedOrders: 1, DeclinedOrders: 1, CompletionRate: 50}, perf[1])
	all, err := env.Engine.SupplierPerformance(env.Ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 0, all[2].TotalOrders)
	_, err = env.Engine.SupplierPerformance(env.Ctx, 51)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	daily, err := env.Engine.DailyOrders(env.Ctx, 0)
	require.NoError(t, err)
	require.Len(t, daily, 7)
	assert.Equal(t, domain.DailyCount{Date: "2026-02-23"}, daily[0])
	assert.Equal(t, domain.DailyCount{Date: "2026-03-01", Count: 4}, daily[6])
	_, err = env.Engine.DailyOrders(env.Ctx, 31)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	activity, err := env.Engine.ActivityStats(env.Ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 24, activity.PeriodHours)
	assert.Equal(t, 4, activity.ActionCounts["order_created"])
	assert.Equal(t, 1, activity.ActionCounts["order_declined"])
	assert.Equal(t, 3, activity.ActionCounts["order_completed"])
	require.Len(t, activity.HourlyActivity, 1)
	assert.Equal(t, "2026-03-01T09:00:00Z", activity.HourlyActivity[0].Hour)
	_, err = env.Engine.ActivityStats(env.Ctx, 169)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	dist, err := env.Engine.StatusDistribution(env.Ctx, "today")
	require.NoError(t, err)
	assert.Equal(t, []domain.StatusCount{
		{Status: domain.StatusAssigned, Count: 1},
		{Status: domain.StatusCompleted, Count: 3},
	}, dist)
	_, err = env.Engine.StatusDistribution(env.Ctx, "decade")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestUpdateOrder(t *testing.T) {
	env := newTestEnv(t)
	x := env.supplier(t, "X", 11, nil)
	o, err := env.Engine.CreateOrder(env.Ctx, engine.CreateOrderOptions{Text: "ink", CreatorID: 500, SupplierID: &x.ID})
	require.NoError(t, err)
	env.Recorder.Reset()
	env.Engine.Now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }

	text := "  blue ink  "
	status := "completed"
	got, err := env.Engine.UpdateOrder(env.Ctx, engine.UpdateOrderOptions{ID: o.ID, Text: &text, Status: &status, ActorID: adminID})
	require.NoError(t, err)
	assert.Equal(t, "blue ink", got.Text)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, "2026-03-01T10:00:00Z", got.UpdatedAt)
	assert.Equal(t, x.ID, supplierOf(got))
	assert.Empty(t, env.Recorder.Messages())

	page, err := env.Engine.ListActivity(env.Ctx, engine.ListActivityOptions{Action: "order_updated"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, fmt.Sprintf("Order %s updated: text, status", o.ID), page.Items[0].Details)

	unchanged, err := env.Engine.UpdateOrder(env.Ctx, engine.UpdateOrderOptions{ID: o.ID, ActorID: adminID})
	require.NoError(t, err)
	assert.Equal(t, "blue ink", unchanged.Text)

	blank := " "
	_, err = env.Engine.UpdateOrder(env.Ctx, engine.UpdateOrderOptions{ID: o.ID, Text: &blank, ActorID: adminID})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	lost := "LOST"
	_, err = env.Engine.UpdateOrder(env.Ctx, engine.UpdateOrderOptions{ID: o.ID, Status: &lost, ActorID: adminID})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = env.Engine.UpdateOrder(env.Ctx, engine.UpdateOrderOptions{ID: "NOPE0000", Text: &text, ActorID: adminID})
	assert.True(t, errors.Is(err, repo.ErrNotFound))
}

func TestStorageUnavailablePropagates(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	eng := engine.New(conn, db.DriverSQLite, config.Default())
	eng.Hooks = &notify.Recorder{}

	mock.ExpectBegin().WillReturnError(errors.New("database is closed"))
	_, err = eng.CreateOrder(context.Background(), engine.CreateOrderOptions{Text: "phone", CreatorID: 1})
	assert.True(t, apperr.Is(err, apperr.KindStorage))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders SET").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()
	_, err = eng.Complete(context.Background(), "ABCD1234", 1)
	assert.True(t, apperr.Is(err, apperr.KindStorage))
	assert.NoError(t, mock.ExpectationsWereMet())
}
