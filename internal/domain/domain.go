package domain

// Order statuses.
const (
	StatusNew       = "NEW"
	StatusAssigned  = "ASSIGNED"
	StatusAccepted  = "ACCEPTED"
	StatusDeclined  = "DECLINED"
	StatusCompleted = "COMPLETED"
	StatusCancelled = "CANCELLED"
)

// Supplier roles.
const (
	RoleSupplier = "supplier"
	RoleAdmin    = "admin"
)

// Order message kinds.
const (
	MessageText         = "text"
	MessageSystem       = "system"
	MessageStatusChange = "status_change"
)

// SystemSenderID marks messages generated by the engine itself.
const SystemSenderID int64 = 0

type Supplier struct {
	ID        int64    `json:"id"`
	ContactID int64    `json:"contact_id,omitempty"`
	Name      string   `json:"name"`
	Active    bool     `json:"active"`
	Role      string   `json:"role" enum:"supplier,admin"`
	CreatedAt string   `json:"created_at" format:"date-time"`
	Filters   []Filter `json:"filters,omitempty"`
}

// IsEligible reports whether the supplier may receive routed orders.
func (s Supplier) IsEligible() bool {
	return s.Active && s.Role == RoleSupplier
}

type Filter struct {
	ID         int64  `json:"id"`
	SupplierID int64  `json:"supplier_id"`
	Keyword    string `json:"keyword"`
	Active     bool   `json:"active"`
	Priority   int    `json:"priority"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type Order struct {
	ID          string  `json:"id"`
	Text        string  `json:"text"`
	Status      string  `json:"status" enum:"NEW,ASSIGNED,ACCEPTED,DECLINED,COMPLETED,CANCELLED"`
	SupplierID  *int64  `json:"supplier_id,omitempty"`
	CreatorID   int64   `json:"creator_id"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
	AssignedAt  *string `json:"assigned_at,omitempty" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

// AssignedTo reports whether the order is currently held by supplierID.
func (o Order) AssignedTo(supplierID int64) bool {
	return o.SupplierID != nil && *o.SupplierID == supplierID
}

type OrderMessage struct {
	ID        int64  `json:"id"`
	OrderID   string `json:"order_id"`
	SenderID  int64  `json:"sender_id"`
	Text      string `json:"text"`
	Kind      string `json:"kind" enum:"text,system,status_change"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ActivityLogEntry struct {
	ID        int64  `json:"id"`
	ActorID   int64  `json:"actor_id"`
	Action    string `json:"action"`
	Details   string `json:"details,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   int64  `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type OrderStats struct {
	Total          int            `json:"total"`
	Completed      int            `json:"completed"`
	Pending        int            `json:"pending"`
	Cancelled      int            `json:"cancelled"`
	CompletionRate float64        `json:"completion_rate"`
	ByStatus       map[string]int `json:"by_status"`
}

type SupplierStats struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
}

type Stats struct {
	Orders    OrderStats    `json:"orders"`
	Suppliers SupplierStats `json:"suppliers"`
}

type DailyCount struct {
	Date  string `json:"date" format:"date"`
	Count int    `json:"count"`
}

type SupplierPerformance struct {
	SupplierID      int64   `json:"supplier_id"`
	Name            string  `json:"name"`
	TotalOrders     int     `json:"total_orders"`
	CompletedOrders int     `json:"completed_orders"`
	DeclinedOrders  int     `json:"declined_orders"`
	CompletionRate  float64 `json:"completion_rate"`
}

type HourlyCount struct {
	Hour  string `json:"hour" format:"date-time"`
	Count int    `json:"count"`
}

// ActivityStats summarizes the activity log over the last PeriodHours.
type ActivityStats struct {
	PeriodHours    int            `json:"period_hours"`
	ActionCounts   map[string]int `json:"action_counts"`
	HourlyActivity []HourlyCount  `json:"hourly_activity"`
}

type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}
