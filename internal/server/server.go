package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"workdesk/internal/domain"
	"workdesk/internal/engine"
	"workdesk/internal/events"
	"workdesk/internal/logging"
	"workdesk/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine      engine.Engine
	BasePath    string
	Auth        AuthConfig
	CORSOrigins []string
	Logger      logging.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"validation_failed"`
	Message string         `json:"message" example:"Actor not eligible for this work item"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the workdesk API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// request schema errors are the caller's fault, not a rejected command
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Workdesk API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerWorkItems(group, cfg.Engine)
	registerCommands(group, cfg.Engine)
	registerHistory(group, cfg.Engine)
	registerOutbox(group, cfg.Engine)
	registerOrg(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	if len(cfg.CORSOrigins) == 0 {
		return router, nil
	}
	return cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Api-Key", "Idempotency-Key", "Business-Key"},
	}).Handler(router), nil
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

// handleError maps the engine error taxonomy onto HTTP statuses.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ae *apiError
	if errors.As(err, &ae) {
		return ae
	}
	msg := err.Error()
	switch domain.KindOf(err) {
	case domain.KindValidationFailure:
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", msg, nil)
	case domain.KindNotFound:
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case domain.KindConcurrencyConflict:
		return newAPIError(http.StatusConflict, "concurrency_conflict", msg, map[string]any{"retryable": true})
	case domain.KindDuplicateRequest:
		return newAPIError(http.StatusConflict, "duplicate_request", msg, nil)
	case domain.KindConfiguration:
		return newAPIError(http.StatusInternalServerError, "configuration_error", msg, nil)
	default:
		return newAPIError(http.StatusServiceUnavailable, "storage_unavailable", "storage unavailable", map[string]any{"error": msg, "retryable": true})
	}
}

// rejected turns a rejected decision into its 4xx envelope.
func rejected(res engine.Result) huma.StatusError {
	status, code := http.StatusUnprocessableEntity, "validation_failed"
	if res.Decision.Kind == domain.KindDuplicateRequest {
		status, code = http.StatusConflict, "duplicate_request"
	}
	return newAPIError(status, code, res.Decision.Reason, map[string]any{
		"decision":     res.Decision,
		"work_item_id": res.WorkItemID,
		"replayed":     res.Replayed,
	})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func requireAdmin(ctx context.Context, e engine.Engine) (string, huma.StatusError) {
	actorID, authErr := actorIDFromContext(ctx)
	if authErr != nil {
		return "", authErr
	}
	if actorID != adminID(e) {
		return "", newAPIError(http.StatusForbidden, "forbidden", "admin only", map[string]any{"actor_id": actorID})
	}
	return actorID, nil
}

func adminID(e engine.Engine) string {
	if e.Config != nil && e.Config.Engine.AdminID != "" {
		return e.Config.Engine.AdminID
	}
	return domain.DefaultAdminID
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	public := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
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

type commandHeaders struct {
	IdempotencyKey string `header:"Idempotency-Key"`
	BusinessKey    string `header:"Business-Key"`
}

type commandOutput struct {
	Status int
	Body   CommandResponse `json:"body"`
}

func commandResult(res engine.Result, err error, status int) (*commandOutput, error) {
	if err != nil {
		return nil, handleError(err)
	}
	if !res.Decision.Accepted {
		return nil, rejected(res)
	}
	if res.Replayed {
		status = http.StatusOK
	}
	return &commandOutput{Status: status, Body: commandResponse(res)}, nil
}

func registerWorkItems(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-work-item",
		Method:      http.MethodPost,
		Path:        "/work-items",
		Summary:     "Create work item",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		commandHeaders
		Body CreateWorkItemRequest `json:"body"`
	}) (*commandOutput, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cmd := input.Body.toCommand(actorID)
		cmd.IdempotencyKey = input.IdempotencyKey
		cmd.BusinessKey = input.BusinessKey
		res, err := e.Create(ctx, cmd)
		return commandResult(res, err, http.StatusCreated)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-work-items",
		Method:      http.MethodGet,
		Path:        "/work-items",
		Summary:     "List work items",
		Errors:      []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		State      string   `query:"state" enum:"OFFERED,CLAIMED,COMPLETED,CANCELLED"`
		User       string   `query:"user"`
		WorkflowID string   `query:"workflow_id"`
		TaskType   string   `query:"task_type"`
		Context    []string `query:"context" doc:"context_data filters as key=value"`
		Limit      int      `query:"limit" default:"50"`
		Offset     int      `query:"offset"`
	}) (*struct {
		Body paginatedWorkItems `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		filters := repo.WorkItemFilters{
			State:      domain.State(input.State),
			User:       input.User,
			WorkflowID: input.WorkflowID,
			TaskType:   input.TaskType,
			Limit:      normalizeLimit(input.Limit),
			Offset:     max(input.Offset, 0),
		}
		if len(input.Context) > 0 {
			filters.Context = map[string]string{}
			for _, kv := range input.Context {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || k == "" {
					return nil, newAPIError(http.StatusBadRequest, "bad_request", "context filters must be key=value", map[string]any{"context": kv})
				}
				filters.Context[k] = v
			}
		}
		items, total, err := e.ListWorkItems(ctx, filters)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedWorkItems{Items: []WorkItemResponse{}, Total: total, Limit: filters.Limit, Offset: filters.Offset}
		for _, wi := range items {
			resp.Items = append(resp.Items, workItemResponse(wi))
		}
		return &struct {
			Body paginatedWorkItems `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-work-item",
		Method:      http.MethodGet,
		Path:        "/work-items/{id}",
		Summary:     "Get work item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body WorkItemResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		wi, err := e.GetWorkItem(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkItemResponse `json:"body"`
		}{Body: workItemResponse(wi)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-candidates",
		Method:      http.MethodPost,
		Path:        "/candidates",
		Summary:     "Resolve who an assignment spec makes eligible",
	}, func(ctx context.Context, input *struct {
		Body AssignmentSpecRequest `json:"body"`
	}) (*struct {
		Body CandidatesResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		cands, err := e.Candidates(ctx, input.Body.toDomain())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CandidatesResponse `json:"body"`
		}{Body: candidatesResponse(cands)}, nil
	})
}

func registerCommands(api huma.API, e engine.Engine) {
	errs := []int{
		http.StatusBadRequest,
		http.StatusNotFound,
		http.StatusConflict,
		http.StatusUnprocessableEntity,
		http.StatusServiceUnavailable,
	}
	huma.Register(api, huma.Operation{
		OperationID: "claim-work-item",
		Method:      http.MethodPost,
		Path:        "/work-items/{id}/claim",
		Summary:     "Claim work item",
		Errors:      errs,
	}, func(ctx context.Context, input *struct {
		commandHeaders
		ID   int64        `path:"id"`
		Body ClaimRequest `json:"body,omitempty" required:"false"`
	}) (*commandOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Claim(ctx, engine.ClaimCommand{
			WorkItemID:      input.ID,
			ActorID:         actorID,
			IdempotencyKey:  input.IdempotencyKey,
			BusinessKey:     input.BusinessKey,
			ExpectedVersion: input.Body.ExpectedVersion,
		})
		return commandResult(res, err, http.StatusOK)
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-work-item",
		Method:      http.MethodPost,
		Path:        "/work-items/{id}/complete",
		Summary:     "Complete work item",
		Errors:      errs,
	}, func(ctx context.Context, input *struct {
		commandHeaders
		ID   int64           `path:"id"`
		Body CompleteRequest `json:"body,omitempty" required:"false"`
	}) (*commandOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Complete(ctx, engine.CompleteCommand{
			WorkItemID:      input.ID,
			ActorID:         actorID,
			Output:          input.Body.Output,
			IdempotencyKey:  input.IdempotencyKey,
			BusinessKey:     input.BusinessKey,
			ExpectedVersion: input.Body.ExpectedVersion,
		})
		return commandResult(res, err, http.StatusOK)
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-work-item",
		Method:      http.MethodPost,
		Path:        "/work-items/{id}/cancel",
		Summary:     "Cancel work item",
		Errors:      errs,
	}, func(ctx context.Context, input *struct {
		commandHeaders
		ID   int64         `path:"id"`
		Body CancelRequest `json:"body,omitempty" required:"false"`
	}) (*commandOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Cancel(ctx, engine.CancelCommand{
			WorkItemID:      input.ID,
			ActorID:         actorID,
			Reason:          input.Body.Reason,
			IdempotencyKey:  input.IdempotencyKey,
			BusinessKey:     input.BusinessKey,
			ExpectedVersion: input.Body.ExpectedVersion,
		})
		return commandResult(res, err, http.StatusOK)
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-idempotency-record",
		Method:      http.MethodGet,
		Path:        "/idempotency/{key}",
		Summary:     "Look up the stored outcome of an idempotency key",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Key string `path:"key"`
	}) (*struct {
		Body domain.IdempotencyRecord `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		rec, err := e.GetIdempotencyRecord(ctx, input.Key)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.IdempotencyRecord `json:"body"`
		}{Body: rec}, nil
	})
}

func registerHistory(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/work-items/{id}/audit",
		Summary:     "Audit trail of a work item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body []AuditEntryResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		entries, err := e.ListAudit(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := []AuditEntryResponse{}
		for _, entry := range entries {
			resp = append(resp, auditEntryResponse(entry))
		}
		return &struct {
			Body []AuditEntryResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-participants",
		Method:      http.MethodGet,
		Path:        "/work-items/{id}/participants",
		Summary:     "Participants of a work item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body []ParticipantResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		ps, err := e.ListParticipants(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := []ParticipantResponse{}
		for _, p := range ps {
			resp = append(resp, participantResponse(p))
		}
		return &struct {
			Body []ParticipantResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerOutbox(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-outbox",
		Method:      http.MethodGet,
		Path:        "/outbox",
		Summary:     "List outbox events",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status      string `query:"status" enum:"PENDING,PUBLISHED,FAILED"`
		AggregateID int64  `query:"aggregate_id"`
		EventType   string `query:"event_type"`
		Limit       int    `query:"limit" default:"50"`
	}) (*struct {
		Body []OutboxEventResponse `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		evts, err := e.ListOutbox(ctx, repo.OutboxFilters{
			Status:      domain.OutboxStatus(input.Status),
			AggregateID: input.AggregateID,
			EventType:   input.EventType,
			Limit:       normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := []OutboxEventResponse{}
		for _, evt := range evts {
			resp = append(resp, outboxEventResponse(evt))
		}
		return &struct {
			Body []OutboxEventResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "relay-outbox",
		Method:      http.MethodPost,
		Path:        "/outbox/relay",
		Summary:     "Publish one batch of pending outbox events",
		Errors:      []int{http.StatusForbidden, http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body events.RelayReport `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		report, err := e.Relay(e.Publisher()).RunOnce(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body events.RelayReport `json:"body"`
		}{Body: report}, nil
	})
}

func registerOrg(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "apply-org-changes",
		Method:        http.MethodPost,
		Path:          "/org/changes",
		Summary:       "Edit org units, positions and groups",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body []OrgChangeRequest `json:"body"`
	}) (*struct{}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		changes := make([]engine.OrgChange, 0, len(input.Body))
		for _, c := range input.Body {
			changes = append(changes, engine.OrgChange{
				Kind:     engine.OrgChangeKind(c.Kind),
				ID:       c.ID,
				Name:     c.Name,
				ParentID: c.ParentID,
				UserID:   c.UserID,
			})
		}
		if err := e.ApplyOrgChanges(ctx, changes...); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok || p.ActorID == "" {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{ActorID: p.ActorID, Source: p.Source, Admin: p.ActorID == adminID(e)}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if !authCfg.AllowActorHeader || authCfg.JWTSecret == "" {
			return nil, newAPIError(http.StatusNotFound, "not_found", "dev login disabled", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := SignToken(authCfg.JWTSecret, actor, 12*time.Hour, time.Now())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

// ListenAndServe serves handler on addr until ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, logger logging.Logger) error {
	logger = logging.Or(logger)
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("serve %s: %w", addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
