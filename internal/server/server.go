// Package server exposes the engine over HTTP. Routing and auth are a
// thin adapter: every behavior lives in the engine and the packages
// below it, and errors map onto a single JSON envelope.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"issuelab/internal/domain"
	"issuelab/internal/engine"
	"issuelab/internal/jql"
	"issuelab/internal/ledger"
	"issuelab/internal/ratelimit"
	"issuelab/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"transition_not_allowed"`
	Message string         `json:"message" example:"transition 31 not allowed for DEMO-1"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the issuelab API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/rest"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Issuelab API", "0.1.0")
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerIssues(group, cfg.Engine)
	registerSearch(group, cfg.Engine)
	registerBoards(group, cfg.Engine)
	registerRequests(group, cfg.Engine)
	registerWebhooks(group, cfg.Engine)
	registerDeliveries(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerSettings(group, cfg.Engine)

	return router, nil
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve *store.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ve.Field})
	}
	var se *jql.SyntaxError
	if errors.As(err, &se) {
		return newAPIError(http.StatusBadRequest, "query_syntax", err.Error(), map[string]any{"clause": se.Clause})
	}
	var te *store.TransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "transition_not_allowed", err.Error(), map[string]any{"transition": te.TransitionID})
	}
	var le *ratelimit.LimitError
	if errors.As(err, &le) {
		return newAPIError(http.StatusTooManyRequests, "rate_limited", err.Error(), map[string]any{
			"retry_after": int(le.RetryAfter.Seconds()),
			"remaining":   le.Remaining,
			"reset_at":    le.ResetAt.Format(time.RFC3339),
		})
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, ledger.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
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

func registerIssues(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-issue",
		Method:        http.MethodPost,
		Path:          "/api/2/issue",
		Summary:       "Create issue",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateIssueRequest `json:"body"`
	}) (*struct {
		Body domain.Issue `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		reporter := input.Body.Reporter
		if reporter == "" {
			reporter = actorID
		}
		is, err := e.CreateIssue(ctx, actorID, store.IssueCreateOptions{
			Project:     input.Body.Project,
			Type:        input.Body.Type,
			Summary:     input.Body.Summary,
			Description: input.Body.Description,
			Reporter:    reporter,
			Assignee:    input.Body.Assignee,
			Labels:      input.Body.Labels,
			Fields:      input.Body.Fields,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Issue `json:"body"`
		}{Body: is}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-issue",
		Method:      http.MethodGet,
		Path:        "/api/2/issue/{key}",
		Summary:     "Get issue",
	}, func(ctx context.Context, input *struct {
		Key string `path:"key"`
	}) (*struct {
		Body domain.Issue `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		is, err := e.GetIssue(ctx, actorID, input.Key)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Issue `json:"body"`
		}{Body: is}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-issue",
		Method:      http.MethodPut,
		Path:        "/api/2/issue/{key}",
		Summary:     "Update issue fields",
	}, func(ctx context.Context, input *struct {
		Key  string             `path:"key"`
		Body UpdateIssueRequest `json:"body"`
	}) (*struct {
		Body domain.Issue `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		is, err := e.UpdateIssue(ctx, actorID, input.Key, store.IssueUpdateOptions{
			Summary:     input.Body.Summary,
			Description: input.Body.Description,
			Assignee:    input.Body.Assignee,
			Labels:      input.Body.Labels,
			Fields:      input.Body.Fields,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Issue `json:"body"`
		}{Body: is}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-transitions",
		Method:      http.MethodGet,
		Path:        "/api/2/issue/{key}/transitions",
		Summary:     "List available transitions",
	}, func(ctx context.Context, input *struct {
		Key string `path:"key"`
	}) (*struct {
		Body struct {
			Transitions []domain.Transition `json:"transitions"`
		} `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		trs, err := e.ListTransitions(ctx, actorID, input.Key)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Transitions []domain.Transition `json:"transitions"`
			} `json:"body"`
		}{}
		out.Body.Transitions = trs
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "apply-transition",
		Method:      http.MethodPost,
		Path:        "/api/2/issue/{key}/transitions",
		Summary:     "Apply a workflow transition",
	}, func(ctx context.Context, input *struct {
		Key  string            `path:"key"`
		Body TransitionRequest `json:"body"`
	}) (*struct {
		Body domain.Issue `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		is, err := e.ApplyTransition(ctx, actorID, input.Key, input.Body.Transition.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Issue `json:"body"`
		}{Body: is}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/api/2/issue/{key}/comment",
		Summary:       "Add a comment",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Key  string         `path:"key"`
		Body CommentRequest `json:"body"`
	}) (*struct {
		Body domain.Comment `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddComment(ctx, actorID, input.Key, actorID, input.Body.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Comment `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-issue-link",
		Method:        http.MethodPost,
		Path:          "/api/2/issueLink",
		Summary:       "Link two issues",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body LinkRequest `json:"body"`
	}) (*struct {
		Body struct {
			ID int64 `json:"id"`
		} `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		id, err := e.CreateLink(ctx, actorID, input.Body.Type, input.Body.OutwardIssue, input.Body.InwardIssue)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				ID int64 `json:"id"`
			} `json:"body"`
		}{}
		out.Body.ID = id
		return out, nil
	})
}

func registerSearch(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "search",
		Method:      http.MethodGet,
		Path:        "/api/2/search",
		Summary:     "Search issues with a JQL filter",
	}, func(ctx context.Context, input *struct {
		JQL        string `query:"jql"`
		StartAt    int    `query:"startAt"`
		MaxResults int    `query:"maxResults"`
	}) (*struct {
		Body SearchResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		issues, total, err := e.Search(ctx, actorID, input.JQL, actorID, input.StartAt, input.MaxResults)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SearchResponse `json:"body"`
		}{Body: SearchResponse{
			Issues:     issues,
			Total:      total,
			StartAt:    input.StartAt,
			MaxResults: input.MaxResults,
		}}, nil
	})
}

func registerBoards(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-board",
		Method:        http.MethodPost,
		Path:          "/agile/1.0/board",
		Summary:       "Create board",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body BoardRequest `json:"body"`
	}) (*struct {
		Body domain.Board `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.CreateBoard(ctx, actorID, input.Body.Project, input.Body.Type)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Board `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-sprint",
		Method:        http.MethodPost,
		Path:          "/agile/1.0/sprint",
		Summary:       "Create sprint",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body SprintRequest `json:"body"`
	}) (*struct {
		Body SprintResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sp, err := e.CreateSprint(ctx, actorID, input.Body.BoardID, input.Body.Name, input.Body.Goal, input.Body.Start, input.Body.End)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SprintResponse `json:"body"`
		}{Body: sprintResponse(sp, e.Now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-sprint",
		Method:      http.MethodGet,
		Path:        "/agile/1.0/sprint/{id}",
		Summary:     "Get sprint",
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body SprintResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Limiter.Admit(actorID, engine.OpGetIssue.Cost()); err != nil {
			return nil, handleError(err)
		}
		sp, err := e.Store.GetSprint(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SprintResponse `json:"body"`
		}{Body: sprintResponse(sp, e.Now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-issues-to-sprint",
		Method:      http.MethodPost,
		Path:        "/agile/1.0/sprint/{id}/issue",
		Summary:     "Move issues into a sprint",
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body struct {
			Issues []string `json:"issues"`
		} `json:"body"`
	}) (*struct {
		Body struct {
			Issues []domain.Issue `json:"issues"`
		} `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		moved, err := e.MoveIssuesToSprint(ctx, actorID, input.ID, input.Body.Issues)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Issues []domain.Issue `json:"issues"`
			} `json:"body"`
		}{}
		out.Body.Issues = moved
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sprint-issues",
		Method:      http.MethodGet,
		Path:        "/agile/1.0/sprint/{id}/issue",
		Summary:     "List issues in a sprint",
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body struct {
			Issues []domain.Issue `json:"issues"`
		} `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		issues, err := e.SprintIssues(ctx, actorID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Issues []domain.Issue `json:"issues"`
			} `json:"body"`
		}{}
		out.Body.Issues = issues
		return out, nil
	})
}

func registerRequests(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-service-request",
		Method:        http.MethodPost,
		Path:          "/servicedeskapi/request",
		Summary:       "Open a service request for an issue",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body struct {
			IssueKey string `json:"issue_key"`
		} `json:"body"`
	}) (*struct {
		Body domain.ServiceRequest `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		r, err := e.CreateServiceRequest(ctx, actorID, input.Body.IssueKey)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ServiceRequest `json:"body"`
		}{Body: r}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-service-request",
		Method:      http.MethodGet,
		Path:        "/servicedeskapi/request/{id}",
		Summary:     "Get service request",
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body domain.ServiceRequest `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Limiter.Admit(actorID, engine.OpGetIssue.Cost()); err != nil {
			return nil, handleError(err)
		}
		r, err := e.Store.GetServiceRequest(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ServiceRequest `json:"body"`
		}{Body: r}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "answer-approval",
		Method:        http.MethodPost,
		Path:          "/servicedeskapi/request/{id}/approval",
		Summary:       "Record an approval decision",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body struct {
			Decision string `json:"decision" enum:"approved,declined"`
		} `json:"body"`
	}) (*struct {
		Body domain.ServiceRequest `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		r, err := e.AnswerApproval(ctx, actorID, input.ID, actorID, input.Body.Decision)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ServiceRequest `json:"body"`
		}{Body: r}, nil
	})
}

func registerWebhooks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-webhooks",
		Method:        http.MethodPost,
		Path:          "/webhooks",
		Summary:       "Register webhooks in batch",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body struct {
			Webhooks []engine.WebhookInput `json:"webhooks"`
		} `json:"body"`
	}) (*struct {
		Body struct {
			Results []engine.WebhookResult `json:"results"`
		} `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		results, err := e.RegisterWebhooks(ctx, actorID, input.Body.Webhooks)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Results []engine.WebhookResult `json:"results"`
			} `json:"body"`
		}{}
		out.Body.Results = results
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-webhooks",
		Method:      http.MethodGet,
		Path:        "/webhooks",
		Summary:     "List webhooks",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Webhooks []domain.WebhookRegistration `json:"webhooks"`
		} `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		hooks, err := e.ListWebhooks(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Webhooks []domain.WebhookRegistration `json:"webhooks"`
			} `json:"body"`
		}{}
		out.Body.Webhooks = hooks
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-webhook",
		Method:        http.MethodDelete,
		Path:          "/webhooks/{id}",
		Summary:       "Delete webhook",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteWebhook(ctx, actorID, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerDeliveries(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-deliveries",
		Method:      http.MethodGet,
		Path:        "/deliveries",
		Summary:     "List delivery records",
	}, func(ctx context.Context, input *struct {
		WebhookID int64 `query:"webhook_id"`
		Limit     int   `query:"limit"`
	}) (*struct {
		Body struct {
			Deliveries []domain.DeliveryRecord `json:"deliveries"`
		} `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		recs, err := e.ListDeliveries(ctx, actorID, input.WebhookID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Deliveries []domain.DeliveryRecord `json:"deliveries"`
			} `json:"body"`
		}{}
		out.Body.Deliveries = recs
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-delivery",
		Method:      http.MethodGet,
		Path:        "/deliveries/{id}",
		Summary:     "Get delivery record",
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body domain.DeliveryRecord `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rec, err := e.GetDelivery(ctx, actorID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.DeliveryRecord `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "replay-delivery",
		Method:        http.MethodPost,
		Path:          "/deliveries/{id}/replay",
		Summary:       "Replay a delivery from its snapshot",
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body domain.DeliveryRecord `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rec, err := e.ReplayDelivery(ctx, actorID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.DeliveryRecord `json:"body"`
		}{Body: rec}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Read the audit event log",
	}, func(ctx context.Context, input *struct {
		After int64 `query:"after"`
		Limit int   `query:"limit"`
	}) (*struct {
		Body struct {
			Events []domain.Event `json:"events"`
		} `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		evts, err := e.ListEvents(ctx, actorID, input.After, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Events []domain.Event `json:"events"`
			} `json:"body"`
		}{}
		out.Body.Events = evts
		return out, nil
	})
}

func registerSettings(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "set-delivery-jitter",
		Method:      http.MethodPut,
		Path:        "/settings/delivery/jitter",
		Summary:     "Adjust delivery jitter range",
	}, func(ctx context.Context, input *struct {
		Body JitterRequest `json:"body"`
	}) (*struct {
		Body JitterRequest `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		err := e.SetJitterRange(
			time.Duration(input.Body.MinMS)*time.Millisecond,
			time.Duration(input.Body.MaxMS)*time.Millisecond,
		)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		return &struct {
			Body JitterRequest `json:"body"`
		}{Body: input.Body}, nil
	})
}
