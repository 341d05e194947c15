package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"supplyrouter/internal/domain"
	"supplyrouter/internal/engine"
)

type orderOutput struct {
	Body OrderResponse `json:"body"`
}

type orderPath struct {
	ID string `path:"id"`
}

func registerOrders(api huma.API, h handlers) {
	e := h.e
	huma.Register(api, huma.Operation{
		OperationID: "list-orders",
		Method:      http.MethodGet,
		Path:        "/orders",
		Summary:     "List orders, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status" enum:"NEW,ASSIGNED,ACCEPTED,DECLINED,COMPLETED,CANCELLED"`
		SupplierID int64  `query:"supplier_id" doc:"0 means any supplier"`
		CreatorID  int64  `query:"creator_id" doc:"0 means any creator"`
		Search     string `query:"search" doc:"Case-insensitive substring of the order text"`
		Limit      int    `query:"limit" default:"50"`
		Offset     int    `query:"offset" minimum:"0"`
	}) (*struct {
		Body OrderPage `json:"body"`
	}, error) {
		if _, err := h.requireAdmin(ctx); err != nil {
			return nil, handleError(err)
		}
		opts := engine.ListOrdersOptions{
			Status: input.Status,
			Search: input.Search,
			Limit:  normalizeLimit(input.Limit),
			Offset: input.Offset,
		}
		if input.SupplierID != 0 {
			opts.SupplierID = &input.SupplierID
		}
		if input.CreatorID != 0 {
			opts.CreatorID = &input.CreatorID
		}
		page, err := e.ListOrders(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrderPage `json:"body"`
		}{Body: OrderPage{Items: nonNil(page.Items), Total: page.Total, Limit: opts.Limit, Offset: opts.Offset}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-order",
		Method:        http.MethodPost,
		Path:          "/orders",
		Summary:       "Create order and route it to a supplier",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateOrderRequest `json:"body"`
	}) (*orderOutput, error) {
		actorID, err := h.requireAdmin(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		opts := engine.CreateOrderOptions{Text: input.Body.Text, CreatorID: input.Body.CreatorID}
		if opts.CreatorID == 0 {
			opts.CreatorID = actorID
		}
		if input.Body.SupplierID != 0 {
			opts.SupplierID = &input.Body.SupplierID
		}
		o, err := e.CreateOrder(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &orderOutput{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "bulk-create-orders",
		Method:        http.MethodPost,
		Path:          "/orders/bulk",
		Summary:       "Create one order per supplier from multi-line text",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body BulkOrdersRequest `json:"body"`
	}) (*struct {
		Body BulkOrdersResponse `json:"body"`
	}, error) {
		actorID, err := h.requireAdmin(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		creatorID := input.Body.CreatorID
		if creatorID == 0 {
			creatorID = actorID
		}
		items, err := e.CreateOrdersFromBulkText(ctx, input.Body.Text, creatorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BulkOrdersResponse `json:"body"`
		}{Body: BulkOrdersResponse{
			Items:   nonNil(items),
			Lines:   len(engine.SplitLines(input.Body.Text)),
			Created: len(items),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-order",
		Method:      http.MethodGet,
		Path:        "/orders/{id}",
		Summary:     "Get order",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *orderPath) (*orderOutput, error) {
		if _, err := h.requireParticipant(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		o, err := e.GetOrder(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &orderOutput{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-order",
		Method:        http.MethodDelete,
		Path:          "/orders/{id}",
		Summary:       "Delete order and its thread",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *orderPath) (*struct{}, error) {
		actorID, err := h.requireAdmin(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.PurgeOrder(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-order",
		Method:      http.MethodPut,
		Path:        "/orders/{id}",
		Summary:     "Edit order text or force its status",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body UpdateOrderRequest `json:"body"`
	}) (*orderOutput, error) {
		actorID, err := h.requireAdmin(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		o, err := e.UpdateOrder(ctx, engine.UpdateOrderOptions{
			ID:      input.ID,
			Text:    input.Body.Text,
			Status:  input.Body.Status,
			ActorID: actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &orderOutput{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reassign-order",
		Method:      http.MethodPost,
		Path:        "/orders/{id}/reassign",
		Summary:     "Assign order to another supplier",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body ReassignRequest `json:"body"`
	}) (*orderOutput, error) {
		actorID, err := h.requireAdmin(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		o, err := e.Reassign(ctx, input.ID, input.Body.SupplierID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &orderOutput{Body: o}, nil
	})

	for _, action := range []string{domain.ActionAccept, domain.ActionDecline, domain.ActionComplete, domain.ActionCancel} {
		huma.Register(api, huma.Operation{
			OperationID: action + "-order",
			Method:      http.MethodPost,
			Path:        "/orders/{id}/" + action,
			Summary:     "Apply the " + action + " transition on behalf of a supplier",
			Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
		}, func(ctx context.Context, input *struct {
			ID   string            `path:"id"`
			Body TransitionRequest `json:"body"`
		}) (*orderOutput, error) {
			if _, err := h.requireSupplier(ctx, input.Body.SupplierID); err != nil {
				return nil, handleError(err)
			}
			o, err := e.Transition(ctx, action, input.ID, input.Body.SupplierID)
			if err != nil {
				return nil, handleError(err)
			}
			return &orderOutput{Body: o}, nil
		})
	}
}

func registerMessages(api huma.API, h handlers) {
	e := h.e
	huma.Register(api, huma.Operation{
		OperationID: "list-messages",
		Method:      http.MethodGet,
		Path:        "/orders/{id}/messages",
		Summary:     "List the order thread in order",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *orderPath) (*struct {
		Body MessageList `json:"body"`
	}, error) {
		if _, err := h.requireParticipant(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListMessages(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MessageList `json:"body"`
		}{Body: MessageList{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-message",
		Method:        http.MethodPost,
		Path:          "/orders/{id}/messages",
		Summary:       "Post a message to the order thread",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body AddMessageRequest `json:"body"`
	}) (*struct {
		Body MessageResponse `json:"body"`
	}, error) {
		actorID, err := h.requireParticipant(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		m, err := e.AddMessage(ctx, input.ID, actorID, input.Body.Text)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MessageResponse `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "order-thread",
		Method:      http.MethodGet,
		Path:        "/orders/{id}/thread",
		Summary:     "Render the order thread as text",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *orderPath) (*struct {
		Body ThreadResponse `json:"body"`
	}, error) {
		if _, err := h.requireParticipant(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		thread, err := e.Thread(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ThreadResponse `json:"body"`
		}{Body: ThreadResponse{OrderID: input.ID, Thread: thread}}, nil
	})
}

func registerActivity(api huma.API, h handlers) {
	e := h.e
	huma.Register(api, huma.Operation{
		OperationID: "list-activity",
		Method:      http.MethodGet,
		Path:        "/activity",
		Summary:     "Query the activity log",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ActorID    int64  `query:"actor_id" doc:"0 means any actor"`
		Action     string `query:"action"`
		SinceHours int    `query:"since_hours" minimum:"0"`
		Limit      int    `query:"limit" default:"50"`
		Offset     int    `query:"offset" minimum:"0"`
	}) (*struct {
		Body ActivityPage `json:"body"`
	}, error) {
		if _, err := h.requireAdmin(ctx); err != nil {
			return nil, handleError(err)
		}
		opts := engine.ListActivityOptions{
			Action:     input.Action,
			SinceHours: input.SinceHours,
			Limit:      normalizeLimit(input.Limit),
			Offset:     input.Offset,
		}
		if input.ActorID != 0 {
			opts.ActorID = &input.ActorID
		}
		page, err := e.ListActivity(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActivityPage `json:"body"`
		}{Body: ActivityPage{Items: nonNil(page.Items), Total: page.Total, Limit: opts.Limit, Offset: opts.Offset}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-activity-actions",
		Method:      http.MethodGet,
		Path:        "/activity/actions",
		Summary:     "Distinct action names in the activity log",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ActionList `json:"body"`
	}, error) {
		if _, err := h.requireAdmin(ctx); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListActions(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActionList `json:"body"`
		}{Body: ActionList{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recent-activity",
		Method:      http.MethodGet,
		Path:        "/activity/recent",
		Summary:     "Latest activity entries",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"20"`
	}) (*struct {
		Body ActivityList `json:"body"`
	}, error) {
		if _, err := h.requireAdmin(ctx); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListRecentActivity(ctx, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActivityList `json:"body"`
		}{Body: ActivityList{Items: nonNil(items)}}, nil
	})
}

func registerStats(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Order and supplier counters",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Period string `query:"period" enum:"today,week,month,all" default:"all"`
	}) (*struct {
		Body domain.Stats `json:"body"`
	}, error) {
		if _, err := h.requireAdmin(ctx); err != nil {
			return nil, handleError(err)
		}
		stats, err := h.e.Stats(ctx, input.Period)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Stats `json:"body"`
		}{Body: stats}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "daily-orders",
		Method:      http.MethodGet,
		Path:        "/stats/orders/daily",
		Summary:     "Orders created per day",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Days int `query:"days" default:"7" doc:"1 to 30"`
	}) (*struct {
		Body DailyOrderList `json:"body"`
	}, error) {
		if _, err := h.requireAdmin(ctx); err != nil {
			return nil, handleError(err)
		}
		items, err := h.e.DailyOrders(ctx, input.Days)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DailyOrderList `json:"body"`
		}{Body: DailyOrderList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "supplier-performance",
		Method:      http.MethodGet,
		Path:        "/stats/suppliers/performance",
		Summary:     "Suppliers ranked by completion rate",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"10" doc:"1 to 50"`
	}) (*struct {
		Body SupplierPerformanceList `json:"body"`
	}, error) {
		if _, err := h.requireAdmin(ctx); err != nil {
			return nil, handleError(err)
		}
		items, err := h.e.SupplierPerformance(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SupplierPerformanceList `json:"body"`
		}{Body: SupplierPerformanceList{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "activity-stats",
		Method:      http.MethodGet,
		Path:        "/stats/activity",
		Summary:     "Activity per action and per hour",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Hours int `query:"hours" default:"24" doc:"1 to 168"`
	}) (*struct {
		Body domain.ActivityStats `json:"body"`
	}, error) {
		if _, err := h.requireAdmin(ctx); err != nil {
			return nil, handleError(err)
		}
		stats, err := h.e.ActivityStats(ctx, input.Hours)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ActivityStats `json:"body"`
		}{Body: stats}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "status-distribution",
		Method:      http.MethodGet,
		Path:        "/stats/orders/status-distribution",
		Summary:     "Order counts per status",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Period string `query:"period" enum:"today,week,month,all" default:"today"`
	}) (*struct {
		Body StatusDistribution `json:"body"`
	}, error) {
		if _, err := h.requireAdmin(ctx); err != nil {
			return nil, handleError(err)
		}
		items, err := h.e.StatusDistribution(ctx, input.Period)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusDistribution `json:"body"`
		}{Body: StatusDistribution{Period: input.Period, Items: items}}, nil
	})
}

func registerAPIKeys(api huma.API, h handlers) {
	e := h.e
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Issue an API key for an actor",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		actorID, err := h.requireAdmin(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		key, plain, err := e.CreateAPIKey(ctx, input.Body.ActorID, input.Body.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: apiKeyResponse(key, plain)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List issued API keys",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ActorID int64 `query:"actor_id"`
	}) (*struct {
		Body APIKeyList `json:"body"`
	}, error) {
		if _, err := h.requireAdmin(ctx); err != nil {
			return nil, handleError(err)
		}
		keys, err := e.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		items := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			items = append(items, apiKeyResponse(k, ""))
		}
		return &struct {
			Body APIKeyList `json:"body"`
		}{Body: APIKeyList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-api-key",
		Method:        http.MethodDelete,
		Path:          "/api-keys/{id}",
		Summary:       "Revoke an API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if _, err := h.requireAdmin(ctx); err != nil {
			return nil, handleError(err)
		}
		if err := e.RevokeAPIKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

// registerConversation serves the chat channel: contacts introduce
// themselves, pick an order to answer, then send free text.
func registerConversation(api huma.API, h handlers) {
	e := h.e
	huma.Register(api, huma.Operation{
		OperationID: "register-contact",
		Method:      http.MethodPost,
		Path:        "/contacts",
		Summary:     "Get or create the supplier bound to a chat contact",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body RegisterContactRequest `json:"body"`
	}) (*supplierOutput, error) {
		if _, err := h.requireAdmin(ctx); err != nil {
			return nil, handleError(err)
		}
		s, err := e.RegisterContact(ctx, input.Body.ContactID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &supplierOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "start-reply",
		Method:        http.MethodPost,
		Path:          "/orders/{id}/reply",
		Summary:       "Route the caller's next reply to this order",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *orderPath) (*struct{}, error) {
		actorID, err := h.requireParticipant(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.StartReply(ctx, actorID, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "submit-reply",
		Method:        http.MethodPost,
		Path:          "/replies",
		Summary:       "Post the caller's pending reply",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body AddMessageRequest `json:"body"`
	}) (*struct {
		Body MessageResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.SubmitReply(ctx, actorID, input.Body.Text)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MessageResponse `json:"body"`
		}{Body: m}, nil
	})
}
