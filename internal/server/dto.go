package server

import (
	"supplyrouter/internal/domain"
)

// Request payloads

type CreateSupplierRequest struct {
	Name      string `json:"name" minLength:"1" maxLength:"200"`
	ContactID int64  `json:"contact_id,omitempty" minimum:"0"`
	Role      string `json:"role,omitempty" enum:"supplier,admin"`
}

type UpdateSupplierRequest struct {
	Name *string `json:"name,omitempty"`
	Role *string `json:"role,omitempty" enum:"supplier,admin"`
}

type CreateFilterRequest struct {
	Keyword  string `json:"keyword" minLength:"1" maxLength:"200"`
	Priority int    `json:"priority,omitempty"`
}

type BulkFiltersRequest struct {
	Keywords []string `json:"keywords" minItems:"1"`
}

type UpdateFilterRequest struct {
	Keyword  *string `json:"keyword,omitempty"`
	Priority *int    `json:"priority,omitempty"`
}

type CreateOrderRequest struct {
	Text       string `json:"text" minLength:"1"`
	CreatorID  int64  `json:"creator_id,omitempty" doc:"Defaults to the authenticated actor"`
	SupplierID int64  `json:"supplier_id,omitempty" doc:"Skip matching and assign to this supplier"`
}

type BulkOrdersRequest struct {
	Text      string `json:"text" minLength:"1" doc:"One order per line"`
	CreatorID int64  `json:"creator_id,omitempty"`
}

type ReassignRequest struct {
	SupplierID int64 `json:"supplier_id" minimum:"1"`
}

type TransitionRequest struct {
	SupplierID int64 `json:"supplier_id" minimum:"1"`
}

type AddMessageRequest struct {
	Text string `json:"text" minLength:"1"`
}

type RegisterContactRequest struct {
	ContactID int64  `json:"contact_id" minimum:"1"`
	Name      string `json:"name,omitempty" maxLength:"200"`
}

type UpdateOrderRequest struct {
	Text   *string `json:"text,omitempty"`
	Status *string `json:"status,omitempty" doc:"Any order status; lifecycle guards are not applied"`
}

type CreateAPIKeyRequest struct {
	ActorID int64  `json:"actor_id" minimum:"1"`
	Name    string `json:"name,omitempty"`
}

// Response payloads

type SupplierResponse = domain.Supplier
type FilterResponse = domain.Filter
type OrderResponse = domain.Order
type MessageResponse = domain.OrderMessage
type ActivityResponse = domain.ActivityLogEntry

type SupplierList struct {
	Items []SupplierResponse `json:"items"`
}

type FilterList struct {
	Items []FilterResponse `json:"items"`
}

type MessageList struct {
	Items []MessageResponse `json:"items"`
}

type ActivityList struct {
	Items []ActivityResponse `json:"items"`
}

type ActionList struct {
	Items []string `json:"items"`
}

type DailyOrderList struct {
	Items []domain.DailyCount `json:"items"`
}

type SupplierPerformanceList struct {
	Items []domain.SupplierPerformance `json:"items"`
}

type StatusDistribution struct {
	Period string               `json:"period"`
	Items  []domain.StatusCount `json:"items"`
}

type APIKeyList struct {
	Items []APIKeyResponse `json:"items"`
}

type OrderPage struct {
	Items  []OrderResponse `json:"items"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

type ActivityPage struct {
	Items  []ActivityResponse `json:"items"`
	Total  int                `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

type ThreadResponse struct {
	OrderID string `json:"order_id"`
	Thread  string `json:"thread"`
}

type BulkOrdersResponse struct {
	Items   []OrderResponse `json:"items"`
	Lines   int             `json:"lines"`
	Created int             `json:"created"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   int64  `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty" doc:"Plaintext key, returned only on creation"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type MeResponse struct {
	ActorID int64    `json:"actor_id"`
	Source  string   `json:"source"`
	Roles   []string `json:"roles"`
}

func apiKeyResponse(k domain.APIKey, plain string) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Name: k.Name, Key: plain, CreatedAt: k.CreatedAt}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
