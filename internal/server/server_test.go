package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supplyrouter/internal/apperr"
	"supplyrouter/internal/config"
	"supplyrouter/internal/db"
	"supplyrouter/internal/domain"
	"supplyrouter/internal/engine"
	"supplyrouter/internal/engine/auth"
	"supplyrouter/internal/logger"
	"supplyrouter/internal/migrate"
	"supplyrouter/internal/notify"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	engine engine.Engine
}

func admin() map[string]string { return map[string]string{"X-Actor-Id": "1"} }

func actor(id int64) map[string]string {
	return map[string]string{"X-Actor-Id": fmt.Sprint(id)}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn, db.DriverSQLite))
	cfg := config.Default()
	cfg.Admins = []int64{1}
	e := engine.New(conn, db.DriverSQLite, cfg)
	e.Hooks = &notify.Recorder{}

	handler, err := New(Config{
		Engine:   e,
		Access:   auth.Service{Repo: e.Repo, Config: cfg},
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true},
		Log:      logger.NewTest(t),
	})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
		conn.Close()
	})
	return &testServer{URL: "http://" + ln.Addr().String(), client: &http.Client{}, engine: e}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error.Code
}

func TestHealthIsPublicAndAPIRequiresAuth(t *testing.T) {
	srv := newTestServer(t)

	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/suppliers", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", errorCode(t, data))

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/suppliers", nil, map[string]string{"X-Actor-Id": "abc"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", errorCode(t, data))
}

func TestRouteOrderAndAccept(t *testing.T) {
	srv := newTestServer(t)
	base := srv.URL + "/v1"

	res, data := doJSON(t, srv.client, http.MethodPost, base+"/suppliers", map[string]any{"name": "Acme", "contact_id": 5}, admin())
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	acme := decode[domain.Supplier](t, data)

	res, data = doJSON(t, srv.client, http.MethodPost, base+"/suppliers", map[string]any{"name": "Bolt", "contact_id": 6}, admin())
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	bolt := decode[domain.Supplier](t, data)

	res, data = doJSON(t, srv.client, http.MethodPost, fmt.Sprintf("%s/suppliers/%d/filters", base, bolt.ID), map[string]any{"keyword": "bolts", "priority": 3}, admin())
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodPost, base+"/orders", map[string]any{"text": "200 BOLTS M8", "creator_id": 9}, admin())
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	order := decode[domain.Order](t, data)
	assert.Equal(t, domain.StatusAssigned, order.Status)
	require.NotNil(t, order.SupplierID)
	assert.Equal(t, bolt.ID, *order.SupplierID)

	res, data = doJSON(t, srv.client, http.MethodPost, base+"/orders/"+order.ID+"/accept", map[string]any{"supplier_id": bolt.ID}, actor(5))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
	assert.Equal(t, "forbidden", errorCode(t, data))

	res, data = doJSON(t, srv.client, http.MethodPost, base+"/orders/"+order.ID+"/accept", map[string]any{"supplier_id": bolt.ID}, actor(6))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, domain.StatusAccepted, decode[domain.Order](t, data).Status)

	res, data = doJSON(t, srv.client, http.MethodGet, base+"/orders/"+order.ID+"/messages", nil, actor(9))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	msgs := decode[MessageList](t, data)
	require.Len(t, msgs.Items, 1)
	assert.Equal(t, domain.StatusLabel(domain.StatusAccepted), msgs.Items[0].Text)

	res, data = doJSON(t, srv.client, http.MethodGet, base+"/orders/"+order.ID, nil, actor(5))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodGet, base+"/orders?status=accepted", nil, admin())
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodGet, fmt.Sprintf("%s/orders?supplier_id=%d", base, bolt.ID), nil, admin())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	page := decode[OrderPage](t, data)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 50, page.Limit)

	res, data = doJSON(t, srv.client, http.MethodGet, fmt.Sprintf("%s/orders?supplier_id=%d", base, acme.ID), nil, admin())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, 0, decode[OrderPage](t, data).Total)
}

func TestMessagesAndThread(t *testing.T) {
	srv := newTestServer(t)
	base := srv.URL + "/v1"
	_, data := doJSON(t, srv.client, http.MethodPost, base+"/suppliers", map[string]any{"name": "Acme", "contact_id": 5}, admin())
	acme := decode[domain.Supplier](t, data)
	_, data = doJSON(t, srv.client, http.MethodPost, base+"/orders", map[string]any{"text": "paper", "creator_id": 9, "supplier_id": acme.ID}, admin())
	order := decode[domain.Order](t, data)

	res, data := doJSON(t, srv.client, http.MethodPost, base+"/orders/"+order.ID+"/messages", map[string]any{"text": "when?"}, actor(9))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	assert.Equal(t, int64(9), decode[domain.OrderMessage](t, data).SenderID)

	res, data = doJSON(t, srv.client, http.MethodPost, base+"/orders/"+order.ID+"/messages", map[string]any{"text": "   "}, actor(5))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodGet, base+"/orders/"+order.ID+"/thread", nil, actor(5))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Contains(t, decode[ThreadResponse](t, data).Thread, "when?")
}

func TestAdminChecksAndErrors(t *testing.T) {
	srv := newTestServer(t)
	base := srv.URL + "/v1"

	res, data := doJSON(t, srv.client, http.MethodPost, base+"/suppliers", map[string]any{"name": "Acme"}, actor(7))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodPost, base+"/suppliers", map[string]any{"name": ""}, admin())
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodGet, base+"/orders/0000", nil, admin())
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
	assert.Equal(t, "not_found", errorCode(t, data))

	res, data = doJSON(t, srv.client, http.MethodDelete, base+"/suppliers/42", nil, admin())
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodGet, base+"/stats?period=year", nil, admin())
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodGet, base+"/stats?period=today", nil, admin())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
}

func TestSupplierAndFilterAdmin(t *testing.T) {
	srv := newTestServer(t)
	base := srv.URL + "/v1"
	_, data := doJSON(t, srv.client, http.MethodPost, base+"/suppliers", map[string]any{"name": "Acme", "contact_id": 5}, admin())
	acme := decode[domain.Supplier](t, data)

	res, data := doJSON(t, srv.client, http.MethodPost, fmt.Sprintf("%s/suppliers/%d/filters/bulk", base, acme.ID), map[string]any{"keywords": []string{"paper", " ", "ink"}}, admin())
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	filters := decode[FilterList](t, data)
	require.Len(t, filters.Items, 2)

	res, data = doJSON(t, srv.client, http.MethodPost, fmt.Sprintf("%s/filters/%d/deactivate", base, filters.Items[0].ID), nil, admin())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.False(t, decode[domain.Filter](t, data).Active)

	res, data = doJSON(t, srv.client, http.MethodGet, base+"/filters/search?q=INK", nil, actor(5))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Len(t, decode[FilterList](t, data).Items, 1)

	res, data = doJSON(t, srv.client, http.MethodPatch, fmt.Sprintf("%s/suppliers/%d", base, acme.ID), map[string]any{"name": "Acme Ltd"}, admin())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, "Acme Ltd", decode[domain.Supplier](t, data).Name)

	res, data = doJSON(t, srv.client, http.MethodGet, fmt.Sprintf("%s/suppliers/%d", base, acme.ID), nil, actor(5))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Len(t, decode[domain.Supplier](t, data).Filters, 2)

	res, data = doJSON(t, srv.client, http.MethodDelete, fmt.Sprintf("%s/filters/%d", base, filters.Items[1].ID), nil, admin())
	require.Equal(t, http.StatusNoContent, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodGet, base+"/activity/actions", nil, admin())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	actions := decode[ActionList](t, data).Items
	assert.Contains(t, actions, "filters_bulk_created")
	assert.Contains(t, actions, "filter_deleted")
}

func TestJWTAndAPIKeyAuth(t *testing.T) {
	srv := newTestServer(t)
	base := srv.URL + "/v1"

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	res, data := doJSON(t, srv.client, http.MethodGet, base+"/me", nil, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	me := decode[MeResponse](t, data)
	assert.Equal(t, int64(1), me.ActorID)
	assert.Equal(t, []string{auth.RoleAdmin}, me.Roles)

	bad, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "alice"}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	res, _ = doJSON(t, srv.client, http.MethodGet, base+"/me", nil, map[string]string{"Authorization": "Bearer " + bad})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, data = doJSON(t, srv.client, http.MethodPost, base+"/api-keys", map[string]any{"actor_id": 12, "name": "bot"}, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	key := decode[APIKeyResponse](t, data)
	require.True(t, strings.HasPrefix(key.Key, "sr_"))

	res, data = doJSON(t, srv.client, http.MethodGet, base+"/me", nil, map[string]string{"X-Api-Key": key.Key})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, int64(12), decode[MeResponse](t, data).ActorID)
	assert.Empty(t, decode[MeResponse](t, data).Roles)

	res, _ = doJSON(t, srv.client, http.MethodGet, base+"/me", nil, map[string]string{"X-Api-Key": "sr_unknown"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	_, err := srv.engine.CreateOrder(context.Background(), engine.CreateOrderOptions{Text: "anything", CreatorID: 3})
	require.NoError(t, err)

	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "supplyrouter_orders_created_total")
}

func TestHandleErrorHidesStorageDetails(t *testing.T) {
	se := handleError(apperr.Storage(errors.New("dial tcp 10.0.0.1:5432: connection refused")))
	assert.Equal(t, http.StatusServiceUnavailable, se.GetStatus())
	assert.Equal(t, "storage unavailable", se.Error())

	se = handleError(apperr.Conflict("order is COMPLETED"))
	assert.Equal(t, http.StatusConflict, se.GetStatus())

	se = handleError(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, se.GetStatus())
	assert.Equal(t, "internal error", se.Error())
}

func TestConversationReplyFlow(t *testing.T) {
	srv := newTestServer(t)
	base := srv.URL + "/v1"

	res, data := doJSON(t, srv.client, http.MethodPost, base+"/contacts", map[string]any{"contact_id": 5, "name": "Acme"}, admin())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	acme := decode[domain.Supplier](t, data)
	assert.Equal(t, int64(5), acme.ContactID)

	_, data = doJSON(t, srv.client, http.MethodPost, base+"/contacts", map[string]any{"contact_id": 5, "name": "Other"}, admin())
	assert.Equal(t, acme.ID, decode[domain.Supplier](t, data).ID)

	_, data = doJSON(t, srv.client, http.MethodPost, base+"/orders", map[string]any{"text": "paper", "creator_id": 9, "supplier_id": acme.ID}, admin())
	order := decode[domain.Order](t, data)

	res, data = doJSON(t, srv.client, http.MethodPost, base+"/replies", map[string]any{"text": "hello"}, actor(5))
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodPost, base+"/orders/"+order.ID+"/reply", nil, actor(5))
	require.Equal(t, http.StatusNoContent, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodPost, base+"/replies", map[string]any{"text": "ships monday"}, actor(5))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	m := decode[domain.OrderMessage](t, data)
	assert.Equal(t, order.ID, m.OrderID)
	assert.Equal(t, int64(5), m.SenderID)

	res, _ = doJSON(t, srv.client, http.MethodPost, base+"/replies", map[string]any{"text": "again"}, actor(5))
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, _ = doJSON(t, srv.client, http.MethodPost, base+"/orders/"+order.ID+"/reply", nil, actor(77))
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestDeleteOrder(t *testing.T) {
	srv := newTestServer(t)
	base := srv.URL + "/v1"
	_, data := doJSON(t, srv.client, http.MethodPost, base+"/orders", map[string]any{"text": "paper", "creator_id": 9}, admin())
	order := decode[domain.Order](t, data)

	res, _ := doJSON(t, srv.client, http.MethodDelete, base+"/orders/"+order.ID, nil, actor(9))
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res, data = doJSON(t, srv.client, http.MethodDelete, base+"/orders/"+order.ID, nil, admin())
	require.Equal(t, http.StatusNoContent, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodGet, base+"/orders/"+order.ID, nil, admin())
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "not_found", errorCode(t, data))
}

func TestUpdateOrder(t *testing.T) {
	srv := newTestServer(t)
	base := srv.URL + "/v1"
	_, data := doJSON(t, srv.client, http.MethodPost, base+"/orders", map[string]any{"text": "paper", "creator_id": 9}, admin())
	order := decode[domain.Order](t, data)

	res, data := doJSON(t, srv.client, http.MethodPut, base+"/orders/"+order.ID, map[string]any{"text": "A4 paper"}, actor(9))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodPut, base+"/orders/"+order.ID, map[string]any{"text": "A4 paper", "status": "cancelled"}, admin())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	got := decode[domain.Order](t, data)
	assert.Equal(t, "A4 paper", got.Text)
	assert.Equal(t, domain.StatusCancelled, got.Status)

	res, data = doJSON(t, srv.client, http.MethodPut, base+"/orders/"+order.ID, map[string]any{"text": "   "}, admin())
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodPut, base+"/orders/NOPE0000", map[string]any{"text": "x"}, admin())
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
	assert.Equal(t, "not_found", errorCode(t, data))
}

func TestReportEndpoints(t *testing.T) {
	srv := newTestServer(t)
	base := srv.URL + "/v1"
	ctx := context.Background()
	s, err := srv.engine.CreateSupplier(ctx, engine.CreateSupplierOptions{Name: "Acme", ContactID: 5, ActorID: 1})
	require.NoError(t, err)
	for _, text := range []string{"ink", "toner"} {
		o, err := srv.engine.CreateOrder(ctx, engine.CreateOrderOptions{Text: text, CreatorID: 9, SupplierID: &s.ID})
		require.NoError(t, err)
		_, err = srv.engine.Accept(ctx, o.ID, s.ID)
		require.NoError(t, err)
		if text == "ink" {
			_, err = srv.engine.Complete(ctx, o.ID, s.ID)
			require.NoError(t, err)
		}
	}

	res, data := doJSON(t, srv.client, http.MethodGet, base+"/stats/orders/daily", nil, actor(7))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodGet, base+"/stats/orders/daily?days=3", nil, admin())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	daily := decode[DailyOrderList](t, data)
	require.Len(t, daily.Items, 3)
	total := 0
	for _, d := range daily.Items {
		total += d.Count
	}
	assert.Equal(t, 2, total)

	res, data = doJSON(t, srv.client, http.MethodGet, base+"/stats/orders/daily?days=31", nil, admin())
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodGet, base+"/stats/suppliers/performance", nil, admin())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	perf := decode[SupplierPerformanceList](t, data)
	require.Len(t, perf.Items, 1)
	assert.Equal(t, s.ID, perf.Items[0].SupplierID)
	assert.Equal(t, 2, perf.Items[0].TotalOrders)
	assert.Equal(t, 50.0, perf.Items[0].CompletionRate)

	res, data = doJSON(t, srv.client, http.MethodGet, base+"/stats/activity?hours=2", nil, admin())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	activity := decode[domain.ActivityStats](t, data)
	assert.Equal(t, 2, activity.PeriodHours)
	assert.Equal(t, 2, activity.ActionCounts["order_accepted"])
	assert.Equal(t, 1, activity.ActionCounts["order_completed"])
	assert.NotEmpty(t, activity.HourlyActivity)

	res, data = doJSON(t, srv.client, http.MethodGet, base+"/stats/orders/status-distribution?period=all", nil, admin())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	dist := decode[StatusDistribution](t, data)
	assert.Equal(t, "all", dist.Period)
	assert.Equal(t, []domain.StatusCount{
		{Status: domain.StatusAccepted, Count: 1},
		{Status: domain.StatusCompleted, Count: 1},
	}, dist.Items)

	res, data = doJSON(t, srv.client, http.MethodGet, base+"/stats/orders/status-distribution?period=year", nil, admin())
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
}
