package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"reflect"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"supplyrouter/internal/apperr"
	"supplyrouter/internal/engine"
	"supplyrouter/internal/engine/auth"
	"supplyrouter/internal/logger"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Access   auth.Service
	BasePath string
	Auth     AuthConfig
	Log      logger.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"order 0001 not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope returned by every endpoint.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the admin API under BasePath and
// Prometheus metrics at /metrics.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	basePath = strings.TrimSuffix(basePath, "/")
	if basePath == "" {
		return nil, errors.New("base path must not be /")
	}
	if cfg.Access.Config == nil {
		cfg.Access = auth.Service{Repo: cfg.Engine.Repo, Config: cfg.Engine.Config}
	}
	log := cfg.Log
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.Auth.Log == nil {
		cfg.Auth.Log = log
	}

	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			msgs := make([]string, 0, len(errs))
			for _, err := range errs {
				msgs = append(msgs, err.Error())
			}
			details = map[string]any{"errors": msgs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(log))
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	router.Handle("/metrics", promhttp.Handler())

	hcfg := huma.DefaultConfig("Supplyrouter API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{e: cfg.Engine, access: cfg.Access}
	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group, h)
	registerSuppliers(group, h)
	registerFilters(group, h)
	registerOrders(group, h)
	registerMessages(group, h)
	registerConversation(group, h)
	registerActivity(group, h)
	registerStats(group, h)
	registerAPIKeys(group, h)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

// handlers carries what every route needs.
type handlers struct {
	e      engine.Engine
	access auth.Service
}

func requestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			fields := logger.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			}
			if ww.Status() >= http.StatusInternalServerError {
				log.Warn("request failed", fields)
				return
			}
			log.Debug("request", fields)
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps engine errors onto the envelope. Storage details never
// reach the client.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"role": fe.Role})
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		switch ae.Kind {
		case apperr.KindNotFound, apperr.KindValidation, apperr.KindConflict, apperr.KindForbidden:
			return newAPIError(ae.HTTPStatus(), ae.Kind.String(), ae.Error(), nil)
		case apperr.KindStorage:
			return newAPIError(http.StatusServiceUnavailable, ae.Kind.String(), "storage unavailable", nil)
		}
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusServiceUnavailable:
		return "storage_unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func (h handlers) requireAdmin(ctx context.Context) (int64, error) {
	actorID, authErr := actorIDFromContext(ctx)
	if authErr != nil {
		return 0, authErr
	}
	if err := h.access.RequireAdmin(ctx, actorID); err != nil {
		return 0, err
	}
	return actorID, nil
}

func (h handlers) requireSupplier(ctx context.Context, supplierID int64) (int64, error) {
	actorID, authErr := actorIDFromContext(ctx)
	if authErr != nil {
		return 0, authErr
	}
	if err := h.access.RequireSupplier(ctx, actorID, supplierID); err != nil {
		return 0, err
	}
	return actorID, nil
}

// requireParticipant admits the order's creator, its holder and admins.
func (h handlers) requireParticipant(ctx context.Context, orderID string) (int64, error) {
	actorID, authErr := actorIDFromContext(ctx)
	if authErr != nil {
		return 0, authErr
	}
	o, err := h.e.GetOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	if o.CreatorID == actorID {
		return actorID, nil
	}
	if o.SupplierID != nil {
		return actorID, h.access.RequireSupplier(ctx, actorID, *o.SupplierID)
	}
	return actorID, h.access.RequireAdmin(ctx, actorID)
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	var schema *huma.Schema
	if oas.Components != nil && oas.Components.Schemas != nil {
		schema = oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: schema},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Supplyrouter API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerMe(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		principal, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		roles, err := h.access.Roles(ctx, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: MeResponse{
			ActorID: principal.ActorID,
			Source:  principal.Source,
			Roles:   nonNil(roles),
		}}, nil
	})
}

type supplierOutput struct {
	Body SupplierResponse `json:"body"`
}

type filterOutput struct {
	Body FilterResponse `json:"body"`
}

type supplierPath struct {
	ID int64 `path:"id"`
}

func registerSuppliers(api huma.API, h handlers) {
	e := h.e
	huma.Register(api, huma.Operation{
		OperationID: "list-suppliers",
		Method:      http.MethodGet,
		Path:        "/suppliers",
		Summary:     "List suppliers",
	}, func(ctx context.Context, input *struct {
		Active bool `query:"active" doc:"Only active suppliers"`
	}) (*struct {
		Body SupplierList `json:"body"`
	}, error) {
		items, err := e.ListSuppliers(ctx, input.Active)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SupplierList `json:"body"`
		}{Body: SupplierList{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-supplier",
		Method:        http.MethodPost,
		Path:          "/suppliers",
		Summary:       "Register supplier",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateSupplierRequest `json:"body"`
	}) (*supplierOutput, error) {
		actorID, err := h.requireAdmin(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		s, err := e.CreateSupplier(ctx, engine.CreateSupplierOptions{
			Name:      input.Body.Name,
			Role:      input.Body.Role,
			ContactID: input.Body.ContactID,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &supplierOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-supplier",
		Method:      http.MethodGet,
		Path:        "/suppliers/{id}",
		Summary:     "Get supplier with its filters",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *supplierPath) (*supplierOutput, error) {
		s, err := e.GetSupplier(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &supplierOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-supplier",
		Method:      http.MethodPatch,
		Path:        "/suppliers/{id}",
		Summary:     "Rename supplier or change its role",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   int64                 `path:"id"`
		Body UpdateSupplierRequest `json:"body"`
	}) (*supplierOutput, error) {
		actorID, err := h.requireAdmin(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		s, err := e.UpdateSupplier(ctx, engine.UpdateSupplierOptions{
			ID:      input.ID,
			Name:    input.Body.Name,
			Role:    input.Body.Role,
			ActorID: actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &supplierOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-supplier",
		Method:        http.MethodDelete,
		Path:          "/suppliers/{id}",
		Summary:       "Delete supplier; its orders lose their holder",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *supplierPath) (*struct{}, error) {
		actorID, err := h.requireAdmin(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteSupplier(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	for _, active := range []bool{true, false} {
		verb := "activate"
		if !active {
			verb = "deactivate"
		}
		huma.Register(api, huma.Operation{
			OperationID: verb + "-supplier",
			Method:      http.MethodPost,
			Path:        "/suppliers/{id}/" + verb,
			Summary:     strings.ToUpper(verb[:1]) + verb[1:] + " supplier",
			Errors:      []int{http.StatusForbidden, http.StatusNotFound},
		}, func(ctx context.Context, input *supplierPath) (*supplierOutput, error) {
			actorID, err := h.requireAdmin(ctx)
			if err != nil {
				return nil, handleError(err)
			}
			s, err := e.SetSupplierActive(ctx, input.ID, active, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &supplierOutput{Body: s}, nil
		})
	}
}

func registerFilters(api huma.API, h handlers) {
	e := h.e
	huma.Register(api, huma.Operation{
		OperationID: "list-filters",
		Method:      http.MethodGet,
		Path:        "/suppliers/{id}/filters",
		Summary:     "List a supplier's filters",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID         int64 `path:"id"`
		ActiveOnly bool  `query:"active_only"`
	}) (*struct {
		Body FilterList `json:"body"`
	}, error) {
		items, err := e.ListFilters(ctx, input.ID, input.ActiveOnly)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FilterList `json:"body"`
		}{Body: FilterList{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-filter",
		Method:        http.MethodPost,
		Path:          "/suppliers/{id}/filters",
		Summary:       "Add keyword filter",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   int64               `path:"id"`
		Body CreateFilterRequest `json:"body"`
	}) (*filterOutput, error) {
		actorID, err := h.requireAdmin(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		f, err := e.CreateFilter(ctx, engine.CreateFilterOptions{
			SupplierID: input.ID,
			Keyword:    input.Body.Keyword,
			Priority:   input.Body.Priority,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &filterOutput{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "bulk-create-filters",
		Method:        http.MethodPost,
		Path:          "/suppliers/{id}/filters/bulk",
		Summary:       "Add several keyword filters at priority 0",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   int64              `path:"id"`
		Body BulkFiltersRequest `json:"body"`
	}) (*struct {
		Body FilterList `json:"body"`
	}, error) {
		actorID, err := h.requireAdmin(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.BulkCreateFilters(ctx, input.ID, input.Body.Keywords, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FilterList `json:"body"`
		}{Body: FilterList{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "search-filters",
		Method:      http.MethodGet,
		Path:        "/filters/search",
		Summary:     "Search filters by keyword substring",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Q     string `query:"q" required:"true"`
		Limit int    `query:"limit" default:"50"`
	}) (*struct {
		Body FilterList `json:"body"`
	}, error) {
		items, err := e.SearchFilters(ctx, input.Q, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FilterList `json:"body"`
		}{Body: FilterList{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-filter",
		Method:      http.MethodPatch,
		Path:        "/filters/{id}",
		Summary:     "Change a filter's keyword or priority",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   int64               `path:"id"`
		Body UpdateFilterRequest `json:"body"`
	}) (*filterOutput, error) {
		actorID, err := h.requireAdmin(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		f, err := e.UpdateFilter(ctx, engine.UpdateFilterOptions{
			ID:       input.ID,
			Keyword:  input.Body.Keyword,
			Priority: input.Body.Priority,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &filterOutput{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-filter",
		Method:        http.MethodDelete,
		Path:          "/filters/{id}",
		Summary:       "Delete filter",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct{}, error) {
		actorID, err := h.requireAdmin(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteFilter(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	for _, active := range []bool{true, false} {
		verb := "activate"
		if !active {
			verb = "deactivate"
		}
		huma.Register(api, huma.Operation{
			OperationID: verb + "-filter",
			Method:      http.MethodPost,
			Path:        "/filters/{id}/" + verb,
			Summary:     strings.ToUpper(verb[:1]) + verb[1:] + " filter",
			Errors:      []int{http.StatusForbidden, http.StatusNotFound},
		}, func(ctx context.Context, input *struct {
			ID int64 `path:"id"`
		}) (*filterOutput, error) {
			actorID, err := h.requireAdmin(ctx)
			if err != nil {
				return nil, handleError(err)
			}
			f, err := e.SetFilterActive(ctx, input.ID, active, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &filterOutput{Body: f}, nil
		})
	}
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 500 {
		return 500
	}
	return in
}
