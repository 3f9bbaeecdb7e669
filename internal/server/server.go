// Package server exposes the editorial workflow over HTTP. All business
// rules live in the engine; handlers translate transport to engine calls and
// fault types to status codes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"scholarflow/internal/domain"
	"scholarflow/internal/engine"
	"scholarflow/internal/fault"
	"scholarflow/internal/policy"
	"scholarflow/internal/repo"
	"scholarflow/internal/status"
	"scholarflow/internal/storage"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Files    storage.FSStore
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"forbidden"`
	Message string         `json:"message" example:"journal j-2 outside caller scope"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the ScholarFlow API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
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
			// Schema validation errors are the caller's input problem.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("ScholarFlow API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerJournals(group, cfg.Engine)
	registerManuscripts(group, cfg.Engine)
	registerDecisions(group, cfg.Engine)
	registerProduction(group, cfg.Engine)
	registerScopes(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	registerFiles(router, basePath, cfg.Files)
	registerOpenAPI(router, api, basePath)

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

// handleError maps the engine's fault taxonomy to transport status codes.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var (
		validation    fault.ValidationError
		conflict      fault.ConflictError
		forbidden     fault.ForbiddenError
		notFound      fault.NotFoundError
		unprocessable fault.UnprocessableError
	)
	switch {
	case errors.As(err, &validation):
		return newAPIError(http.StatusBadRequest, "bad_request", validation.Msg, nil)
	case errors.As(err, &conflict):
		return newAPIError(http.StatusConflict, "conflict", conflict.Msg, nil)
	case errors.As(err, &forbidden):
		return newAPIError(http.StatusForbidden, "forbidden", forbidden.Msg, nil)
	case errors.As(err, &notFound):
		return newAPIError(http.StatusNotFound, "not_found", notFound.Msg, nil)
	case errors.As(err, &unprocessable):
		return newAPIError(http.StatusUnprocessableEntity, "unprocessable", unprocessable.Msg, nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "unprocessable"
	case http.StatusForbidden:
		return "forbidden"
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

func registerJournals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "journals-list",
		Method:      http.MethodGet,
		Path:        "/journals",
		Summary:     "List journals",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Journal `json:"body"`
	}, error) {
		if _, authErr := enginePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		journals, err := e.Repo.ListJournals(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Journal `json:"body"`
		}{Body: nonNilSlice(journals)}, nil
	})
}

func registerManuscripts(api huma.API, e engine.Engine) {
	// Exported so reflection can set the promoted path field when embedded.
	type ManuscriptPath struct {
		ManuscriptID string `path:"manuscript_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "manuscripts-list",
		Method:      http.MethodGet,
		Path:        "/manuscripts",
		Summary:     "List manuscripts",
	}, func(ctx context.Context, input *struct {
		JournalID string `query:"journal_id"`
		Status    string `query:"status"`
		Limit     int    `query:"limit"`
	}) (*struct {
		Body []domain.Manuscript `json:"body"`
	}, error) {
		actor, authErr := enginePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rows, err := e.ListManuscripts(ctx, repo.ManuscriptFilters{
			JournalID: input.JournalID,
			Status:    input.Status,
			Limit:     input.Limit,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Manuscript `json:"body"`
		}{Body: nonNilSlice(rows)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "manuscripts-get",
		Method:      http.MethodGet,
		Path:        "/manuscripts/{manuscript_id}",
		Summary:     "Get a manuscript",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *ManuscriptPath) (*struct {
		Body domain.Manuscript `json:"body"`
	}, error) {
		actor, authErr := enginePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.GetManuscript(ctx, input.ManuscriptID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Manuscript `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "manuscripts-transitions",
		Method:      http.MethodGet,
		Path:        "/manuscripts/{manuscript_id}/transitions",
		Summary:     "Statuses reachable from the current one",
	}, func(ctx context.Context, input *ManuscriptPath) (*struct {
		Body AllowedTransitionsResponse `json:"body"`
	}, error) {
		actor, authErr := enginePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		next, err := e.AllowedTransitions(ctx, input.ManuscriptID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AllowedTransitionsResponse `json:"body"`
		}{Body: AllowedTransitionsResponse{AllowedNext: nonNilSlice(next)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "manuscripts-update-status",
		Method:      http.MethodPost,
		Path:        "/manuscripts/{manuscript_id}/status",
		Summary:     "Apply a lifecycle transition",
		Errors:      []int{http.StatusConflict, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ManuscriptPath
		Body StatusUpdateRequest `json:"body"`
	}) (*struct {
		Body domain.Manuscript `json:"body"`
	}, error) {
		actor, authErr := enginePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.UpdateStatus(ctx, engine.StatusUpdateOptions{
			ManuscriptID: input.ManuscriptID,
			ToStatus:     input.Body.ToStatus,
			Actor:        actor,
			Comment:      input.Body.Comment,
			AllowSkip:    input.Body.AllowSkip,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Manuscript `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "manuscripts-publish",
		Method:      http.MethodPost,
		Path:        "/manuscripts/{manuscript_id}/publish",
		Summary:     "Publish a manuscript through the payment and production gates",
		Errors:      []int{http.StatusConflict, http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ManuscriptPath
		Body struct {
			Comment   string `json:"comment,omitempty"`
			AllowSkip bool   `json:"allow_skip,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Manuscript `json:"body"`
	}, error) {
		actor, authErr := enginePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.UpdateStatus(ctx, engine.StatusUpdateOptions{
			ManuscriptID: input.ManuscriptID,
			ToStatus:     status.Published,
			Actor:        actor,
			Comment:      input.Body.Comment,
			AllowSkip:    input.Body.AllowSkip,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Manuscript `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "manuscripts-update-invoice",
		Method:      http.MethodPost,
		Path:        "/manuscripts/{manuscript_id}/invoice",
		Summary:     "Correct invoice details without a lifecycle transition",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ManuscriptPath
		Body InvoiceUpdateRequest `json:"body"`
	}) (*struct {
		Body domain.Invoice `json:"body"`
	}, error) {
		actor, authErr := enginePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		inv, err := e.UpdateInvoiceInfo(ctx, engine.InvoiceUpdateOptions{
			ManuscriptID:  input.ManuscriptID,
			Actor:         actor,
			AmountCents:   input.Body.AmountCents,
			InvoiceStatus: input.Body.Status,
			MarkConfirmed: input.Body.MarkConfirmed,
			Metadata:      input.Body.Metadata,
			Comment:       input.Body.Comment,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Invoice `json:"body"`
		}{Body: inv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "manuscripts-logs",
		Method:      http.MethodGet,
		Path:        "/manuscripts/{manuscript_id}/logs",
		Summary:     "Status transition audit trail",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ManuscriptPath
		Limit int `query:"limit"`
	}) (*struct {
		Body []domain.StatusTransitionLog `json:"body"`
	}, error) {
		actor, authErr := enginePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rows, err := e.TransitionLogs(ctx, input.ManuscriptID, input.Limit, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.StatusTransitionLog `json:"body"`
		}{Body: nonNilSlice(rows)}, nil
	})
}

func registerDecisions(api huma.API, e engine.Engine) {
	type ManuscriptPath struct {
		ManuscriptID string `path:"manuscript_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "decisions-submit",
		Method:      http.MethodPost,
		Path:        "/manuscripts/{manuscript_id}/decisions",
		Summary:     "Record or update a decision letter",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ManuscriptPath
		Body DecisionSubmitRequest `json:"body"`
	}) (*struct {
		Body domain.DecisionLetter `json:"body"`
	}, error) {
		actor, authErr := enginePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		letter, err := e.SubmitDecision(ctx, engine.DecisionSubmitOptions{
			ManuscriptID:   input.ManuscriptID,
			Actor:          actor,
			Content:        input.Body.Content,
			Decision:       input.Body.Decision,
			IsFinal:        input.Body.IsFinal,
			DecisionStage:  input.Body.DecisionStage,
			AttachmentRefs: input.Body.AttachmentRefs,
			LastUpdatedAt:  input.Body.LastUpdatedAt,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.DecisionLetter `json:"body"`
		}{Body: letter}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decisions-list",
		Method:      http.MethodGet,
		Path:        "/manuscripts/{manuscript_id}/decisions",
		Summary:     "List decision letters visible to the caller",
	}, func(ctx context.Context, input *ManuscriptPath) (*struct {
		Body []domain.DecisionLetter `json:"body"`
	}, error) {
		actor, authErr := enginePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		letters, err := e.ListDecisions(ctx, input.ManuscriptID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.DecisionLetter `json:"body"`
		}{Body: nonNilSlice(letters)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decisions-upload-attachment",
		Method:      http.MethodPost,
		Path:        "/manuscripts/{manuscript_id}/decisions/attachments",
		Summary:     "Upload a decision letter attachment",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ManuscriptPath
		Body AttachmentUploadRequest `json:"body"`
	}) (*struct {
		Body AttachmentUploadResponse `json:"body"`
	}, error) {
		actor, authErr := enginePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, ref, err := e.UploadDecisionAttachment(ctx, engine.AttachmentUploadOptions{
			ManuscriptID: input.ManuscriptID,
			Actor:        actor,
			Filename:     input.Body.Filename,
			ContentType:  input.Body.ContentType,
			Data:         input.Body.Data,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AttachmentUploadResponse `json:"body"`
		}{Body: AttachmentUploadResponse{Attachment: a, Ref: ref}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decisions-attachment-url",
		Method:      http.MethodGet,
		Path:        "/decision-attachments/{attachment_id}/url",
		Summary:     "Signed download link for an attachment",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AttachmentID string `path:"attachment_id"`
	}) (*struct {
		Body SignedURLResponse `json:"body"`
	}, error) {
		actor, authErr := enginePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		url, err := e.DecisionAttachmentURL(ctx, input.AttachmentID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SignedURLResponse `json:"body"`
		}{Body: SignedURLResponse{URL: url}}, nil
	})
}

func registerProduction(api huma.API, e engine.Engine) {
	type CyclePath struct {
		CycleID string `path:"cycle_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "cycles-create",
		Method:      http.MethodPost,
		Path:        "/manuscripts/{manuscript_id}/cycles",
		Summary:     "Open a production cycle",
		Errors:      []int{http.StatusConflict, http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ManuscriptID string             `path:"manuscript_id"`
		Body         CycleCreateRequest `json:"body"`
	}) (*struct {
		Body domain.ProductionCycle `json:"body"`
	}, error) {
		actor, authErr := enginePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateCycle(ctx, engine.CycleCreateOptions{
			ManuscriptID:  input.ManuscriptID,
			Actor:         actor,
			ProofreaderID: input.Body.ProofreaderID,
			DueDate:       input.Body.DueDate,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProductionCycle `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cycles-list",
		Method:      http.MethodGet,
		Path:        "/manuscripts/{manuscript_id}/cycles",
		Summary:     "List production cycles",
	}, func(ctx context.Context, input *struct {
		ManuscriptID string `path:"manuscript_id"`
	}) (*struct {
		Body []domain.ProductionCycle `json:"body"`
	}, error) {
		actor, authErr := enginePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cycles, err := e.ListCycles(ctx, input.ManuscriptID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ProductionCycle `json:"body"`
		}{Body: nonNilSlice(cycles)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cycles-upload-galley",
		Method:      http.MethodPost,
		Path:        "/cycles/{cycle_id}/galley",
		Summary:     "Upload a galley and hand the cycle to the author",
		Errors:      []int{http.StatusConflict, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		CyclePath
		Body GalleyUploadRequest `json:"body"`
	}) (*struct {
		Body domain.ProductionCycle `json:"body"`
	}, error) {
		actor, authErr := enginePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.UploadGalley(ctx, engine.GalleyUploadOptions{
			CycleID:     input.CycleID,
			Actor:       actor,
			Filename:    input.Body.Filename,
			ContentType: input.Body.ContentType,
			Data:        input.Body.Data,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProductionCycle `json:"body"`
		}{Body: c}, nil
	})

	type cycleAction struct {
		id      string
		path    string
		summary string
		call    func(ctx context.Context, cycleID string, actor engine.Principal) (domain.ProductionCycle, error)
	}
	for _, action := range []cycleAction{
		{"cycles-submit-corrections", "/cycles/{cycle_id}/corrections", "Author submits correction items", e.SubmitCorrections},
		{"cycles-confirm-clean", "/cycles/{cycle_id}/confirm", "Author confirms the galley is clean", e.ConfirmClean},
		{"cycles-start-revision", "/cycles/{cycle_id}/revision", "Reopen the layout pass", e.StartRevision},
		{"cycles-approve", "/cycles/{cycle_id}/approve", "Approve the cycle for publication", e.ApproveCycle},
		{"cycles-cancel", "/cycles/{cycle_id}/cancel", "Cancel the cycle", e.CancelCycle},
	} {
		call := action.call
		huma.Register(api, huma.Operation{
			OperationID: action.id,
			Method:      http.MethodPost,
			Path:        action.path,
			Summary:     action.summary,
			Errors:      []int{http.StatusConflict, http.StatusForbidden, http.StatusUnprocessableEntity},
		}, func(ctx context.Context, input *CyclePath) (*struct {
			Body domain.ProductionCycle `json:"body"`
		}, error) {
			actor, authErr := enginePrincipal(ctx)
			if authErr != nil {
				return nil, authErr
			}
			c, err := call(ctx, input.CycleID, actor)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body domain.ProductionCycle `json:"body"`
			}{Body: c}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "cycles-galley-url",
		Method:      http.MethodGet,
		Path:        "/cycles/{cycle_id}/galley-url",
		Summary:     "Signed download link for the cycle's galley",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *CyclePath) (*struct {
		Body SignedURLResponse `json:"body"`
	}, error) {
		actor, authErr := enginePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		url, err := e.GalleySignedURL(ctx, input.CycleID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SignedURLResponse `json:"body"`
		}{Body: SignedURLResponse{URL: url}}, nil
	})
}

func registerScopes(api huma.API, e engine.Engine) {
	type JournalPath struct {
		JournalID string `path:"journal_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "scopes-grant",
		Method:      http.MethodPost,
		Path:        "/journals/{journal_id}/scopes",
		Summary:     "Grant or revoke a journal role scope",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JournalPath
		Body ScopeGrantRequest `json:"body"`
	}) (*struct {
		Body domain.JournalRoleScope `json:"body"`
	}, error) {
		actor, authErr := enginePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !e.Policy.CanPerform(policy.CapScopeManage, actor.Roles) {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "scope management requires an administrator", nil)
		}
		if input.Body.UserID == "" || input.Body.Role == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id and role are required", nil)
		}
		if _, err := e.Repo.GetJournal(ctx, input.JournalID); err != nil {
			return nil, handleError(err)
		}
		s := domain.JournalRoleScope{
			UserID:    input.Body.UserID,
			JournalID: input.JournalID,
			Role:      input.Body.Role,
			IsActive:  input.Body.IsActive,
		}
		if err := e.Repo.UpsertScope(ctx, s); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.JournalRoleScope `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "scopes-list",
		Method:      http.MethodGet,
		Path:        "/journals/{journal_id}/scopes",
		Summary:     "List journal role scopes",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *JournalPath) (*struct {
		Body []domain.JournalRoleScope `json:"body"`
	}, error) {
		actor, authErr := enginePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !e.Policy.CanPerform(policy.CapScopeManage, actor.Roles) {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "scope management requires an administrator", nil)
		}
		rows, err := e.Repo.ListScopesForJournal(ctx, input.JournalID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.JournalRoleScope `json:"body"`
		}{Body: nonNilSlice(rows)}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal and resolved capabilities",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		actor, authErr := enginePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		caps := e.Policy.ListAllowed(actor.Roles)
		tokens := make([]string, 0, len(caps))
		for token := range caps {
			tokens = append(tokens, token)
		}
		sort.Strings(tokens)
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			UserID:       actor.UserID,
			Roles:        nonNilSlice(actor.Roles),
			Capabilities: tokens,
		}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		userID := strings.TrimSpace(input.Body.UserID)
		if userID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, userID, input.Body.Roles)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

// registerFiles serves signed downloads. The token in the query string is
// the sole credential; the auth middleware skips this path.
func registerFiles(r chi.Router, basePath string, files storage.FSStore) {
	r.Get(path.Join(basePath, "files"), func(w http.ResponseWriter, req *http.Request) {
		token := req.URL.Query().Get("token")
		if token == "" {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "token is required", nil))
			return
		}
		objectPath, err := files.VerifyToken(token)
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusForbidden, "forbidden", "invalid or expired download token", nil))
			return
		}
		f, err := files.Open(req.Context(), objectPath)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				respondStatusError(w, newAPIError(http.StatusNotFound, "not_found", "object not found", nil))
				return
			}
			respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil))
			return
		}
		defer f.Close()
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(objectPath)))
		_, _ = io.Copy(w, f)
	})
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
	open := map[string]bool{
		joinRoute(basePath, "health"):         true,
		joinRoute(basePath, "auth/dev/login"): true,
		joinRoute(basePath, "files"):          true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func joinRoute(basePath, p string) string {
	route := path.Join(basePath, p)
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	return route
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>ScholarFlow API Docs</title>
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
