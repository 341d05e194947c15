package supplyroutersdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Supplyrouter HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no credential is set; servers only
	// honor it when the legacy header is enabled.
	ActorID    int64
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

type Supplier struct {
	ID        int64    `json:"id"`
	ContactID int64    `json:"contact_id,omitempty"`
	Name      string   `json:"name"`
	Active    bool     `json:"active"`
	Role      string   `json:"role"`
	CreatedAt string   `json:"created_at"`
	Filters   []Filter `json:"filters,omitempty"`
}

type Filter struct {
	ID         int64  `json:"id"`
	SupplierID int64  `json:"supplier_id"`
	Keyword    string `json:"keyword"`
	Active     bool   `json:"active"`
	Priority   int    `json:"priority"`
}

type Order struct {
	ID          string  `json:"id"`
	Text        string  `json:"text"`
	Status      string  `json:"status"`
	SupplierID  *int64  `json:"supplier_id,omitempty"`
	CreatorID   int64   `json:"creator_id"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
	AssignedAt  *string `json:"assigned_at,omitempty"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

type Message struct {
	ID        int64  `json:"id"`
	OrderID   string `json:"order_id"`
	SenderID  int64  `json:"sender_id"`
	Text      string `json:"text"`
	Kind      string `json:"kind"`
	CreatedAt string `json:"created_at"`
}

type Stats struct {
	Orders struct {
		Total          int            `json:"total"`
		Completed      int            `json:"completed"`
		Pending        int            `json:"pending"`
		Cancelled      int            `json:"cancelled"`
		CompletionRate float64        `json:"completion_rate"`
		ByStatus       map[string]int `json:"by_status"`
	} `json:"orders"`
	Suppliers struct {
		Total    int `json:"total"`
		Active   int `json:"active"`
		Inactive int `json:"inactive"`
	} `json:"suppliers"`
}

// OrderPage wraps offset paginated order listings.
type OrderPage struct {
	Items  []Order `json:"items"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// ListOrdersParams filters ListOrders. Zero values are omitted.
type ListOrdersParams struct {
	Status     string
	SupplierID int64
	CreatorID  int64
	Search     string
	Limit      int
	Offset     int
}

// APIError wraps non-2xx responses. Code is taken from the error envelope
// when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) CreateSupplier(ctx context.Context, name string, contactID int64) (Supplier, error) {
	body := map[string]any{"name": name}
	if contactID != 0 {
		body["contact_id"] = contactID
	}
	var resp Supplier
	err := c.do(ctx, http.MethodPost, "suppliers", body, &resp)
	return resp, err
}

func (c *Client) ListSuppliers(ctx context.Context, activeOnly bool) ([]Supplier, error) {
	var resp struct {
		Items []Supplier `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "suppliers?active="+strconv.FormatBool(activeOnly), nil, &resp)
	return resp.Items, err
}

// AddFilter attaches a keyword filter to a supplier.
func (c *Client) AddFilter(ctx context.Context, supplierID int64, keyword string, priority int) (Filter, error) {
	var resp Filter
	endpoint := fmt.Sprintf("suppliers/%d/filters", supplierID)
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"keyword": keyword, "priority": priority}, &resp)
	return resp, err
}

// CreateOrder creates an order and lets the server route it.
func (c *Client) CreateOrder(ctx context.Context, text string, creatorID int64) (Order, error) {
	body := map[string]any{"text": text}
	if creatorID != 0 {
		body["creator_id"] = creatorID
	}
	var resp Order
	err := c.do(ctx, http.MethodPost, "orders", body, &resp)
	return resp, err
}

func (c *Client) GetOrder(ctx context.Context, id string) (Order, error) {
	var resp Order
	err := c.do(ctx, http.MethodGet, "orders/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) ListOrders(ctx context.Context, p ListOrdersParams) (OrderPage, error) {
	q := url.Values{}
	if p.Status != "" {
		q.Set("status", strings.ToUpper(p.Status))
	}
	if p.SupplierID != 0 {
		q.Set("supplier_id", strconv.FormatInt(p.SupplierID, 10))
	}
	if p.CreatorID != 0 {
		q.Set("creator_id", strconv.FormatInt(p.CreatorID, 10))
	}
	if p.Search != "" {
		q.Set("search", p.Search)
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Offset > 0 {
		q.Set("offset", strconv.Itoa(p.Offset))
	}
	endpoint := "orders"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp OrderPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Transition applies accept, decline, complete or cancel for supplierID.
func (c *Client) Transition(ctx context.Context, action, orderID string, supplierID int64) (Order, error) {
	var resp Order
	endpoint := fmt.Sprintf("orders/%s/%s", url.PathEscape(orderID), url.PathEscape(action))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"supplier_id": supplierID}, &resp)
	return resp, err
}

func (c *Client) Reassign(ctx context.Context, orderID string, supplierID int64) (Order, error) {
	var resp Order
	endpoint := fmt.Sprintf("orders/%s/reassign", url.PathEscape(orderID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"supplier_id": supplierID}, &resp)
	return resp, err
}

func (c *Client) AddMessage(ctx context.Context, orderID, text string) (Message, error) {
	var resp Message
	endpoint := fmt.Sprintf("orders/%s/messages", url.PathEscape(orderID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"text": text}, &resp)
	return resp, err
}

func (c *Client) Messages(ctx context.Context, orderID string) ([]Message, error) {
	var resp struct {
		Items []Message `json:"items"`
	}
	endpoint := fmt.Sprintf("orders/%s/messages", url.PathEscape(orderID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Stats returns counters for period: today, week, month or all.
func (c *Client) Stats(ctx context.Context, period string) (Stats, error) {
	endpoint := "stats"
	if period != "" {
		endpoint += "?period=" + url.QueryEscape(period)
	}
	var resp Stats
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != 0:
		req.Header.Set("X-Actor-Id", strconv.FormatInt(c.ActorID, 10))
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	basePath := strings.Trim(c.BasePath, "/")
	if basePath == "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + basePath
}
