package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"trackline/internal/domain"
	"trackline/internal/engine"
	"trackline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"state_conflict"`
	Message string         `json:"message" example:"session 7 is rejected, only pending sessions can be confirmed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Trackline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// schema failures are the caller's input, not a state problem
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
	hcfg := huma.DefaultConfig("Trackline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerSessions(group, cfg.Engine)
	registerTracks(group, cfg.Engine)
	registerNotifications(group, cfg.Engine)
	registerActions(group, cfg.Engine)

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
	var verr *engine.ValidationError
	if errors.As(err, &verr) {
		var details map[string]any
		if verr.Field != "" {
			details = map[string]any{"field": verr.Field}
		}
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), details)
	}
	var serr *engine.InvalidStateError
	if errors.As(err, &serr) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_state", err.Error(), map[string]any{"state": serr.State})
	}
	var ferr *engine.ForbiddenError
	if errors.As(err, &ferr) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	}
	var nrerr *engine.NotResponsibleError
	if errors.As(err, &nrerr) {
		return newAPIError(http.StatusForbidden, "not_responsible", err.Error(), map[string]any{"track_id": nrerr.TrackID})
	}
	var acerr *engine.AlreadyClaimedError
	if errors.As(err, &acerr) {
		return newAPIError(http.StatusConflict, "already_claimed", err.Error(), map[string]any{"track_id": acerr.TrackID})
	}
	var nperr *engine.NotAPoolStateError
	if errors.As(err, &nperr) {
		return newAPIError(http.StatusConflict, "not_a_pool_state", err.Error(), map[string]any{"state": string(nperr.State)})
	}
	var iterr *engine.InvalidTransitionError
	if errors.As(err, &iterr) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{"from": string(iterr.From)})
	}
	var cerr *engine.StateConflictError
	if errors.As(err, &cerr) {
		return newAPIError(http.StatusConflict, "state_conflict", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
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
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

var stdErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
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

func registerSessions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-session",
		Method:        http.MethodPost,
		Path:          "/sessions",
		Summary:       "Schedule a session",
		DefaultStatus: http.StatusCreated,
		Errors:        stdErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateSessionRequest `json:"body"`
	}) (*struct {
		Body domain.Session `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.CreateSession(ctx, engine.SessionCreateOptions{
			ClassGroupID:    input.Body.ClassGroupID,
			MentorID:        input.Body.MentorID,
			ActivityID:      input.Body.ActivityID,
			TrackID:         input.Body.TrackID,
			Kind:            input.Body.Kind,
			StartsAt:        input.Body.StartsAt,
			DurationMinutes: input.Body.DurationMinutes,
			Location:        input.Body.Location,
			Theme:           input.Body.Theme,
			Objectives:      input.Body.Objectives,
			Notes:           input.Body.Notes,
			Autonomous:      input.Body.Autonomous,
			ActorID:         principal.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Session `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}",
		Summary:     "Get session",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body domain.Session `json:"body"`
	}, error) {
		s, err := e.GetSession(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Session `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List sessions",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *struct {
		State    string `query:"state"`
		MentorID int64  `query:"mentor_id"`
		Limit    int    `query:"limit"`
	}) (*struct {
		Body []domain.SessionListItem `json:"body"`
	}, error) {
		items, err := e.ListSessions(ctx, repo.SessionFilters{
			State:    domain.SessionState(input.State),
			MentorID: input.MentorID,
			Limit:    input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.SessionListItem `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-pending-sessions",
		Method:      http.MethodGet,
		Path:        "/mentors/{id}/pending-sessions",
		Summary:     "Sessions awaiting a mentor's confirmation",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body []domain.SessionListItem `json:"body"`
	}, error) {
		items, err := e.ListPendingByMentor(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.SessionListItem `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-session",
		Method:      http.MethodPatch,
		Path:        "/sessions/{id}",
		Summary:     "Update session fields",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64                `path:"id"`
		Body UpdateSessionRequest `json:"body"`
	}) (*struct {
		Body domain.Session `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.UpdateSession(ctx, input.ID, engine.SessionUpdateOptions{
			ClassGroupID:    input.Body.ClassGroupID,
			ActivityID:      input.Body.ActivityID,
			TrackID:         input.Body.TrackID,
			Kind:            input.Body.Kind,
			StartsAt:        input.Body.StartsAt,
			DurationMinutes: input.Body.DurationMinutes,
			Location:        input.Body.Location,
			Theme:           input.Body.Theme,
			Objectives:      input.Body.Objectives,
			Notes:           input.Body.Notes,
			Realized:        input.Body.Realized,
			ActorID:         principal.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Session `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-mentor",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/mentor",
		Summary:     "Assign a mentor",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64               `path:"id"`
		Body AssignMentorRequest `json:"body"`
	}) (*struct {
		Body domain.Session `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.AssignMentor(ctx, input.ID, input.Body.MentorID, principal.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Session `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-session-state",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/state",
		Summary:     "Change session state",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64              `path:"id"`
		Body ChangeStateRequest `json:"body"`
	}) (*struct {
		Body domain.Session `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.ChangeState(ctx, input.ID, domain.SessionState(input.Body.State), principal.UserID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Session `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "terminate-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/terminate",
		Summary:     "Close out a realized session",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64                   `path:"id"`
		Body TerminateSessionRequest `json:"body"`
	}) (*struct {
		Body domain.Session `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.Terminate(ctx, input.ID, input.Body.Rating, input.Body.Note, principal.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Session `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-session",
		Method:        http.MethodDelete,
		Path:          "/sessions/{id}",
		Summary:       "Delete session",
		DefaultStatus: http.StatusNoContent,
		Errors:        stdErrors,
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct{}, error) {
		if err := e.DeleteSession(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerTracks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-track",
		Method:        http.MethodPost,
		Path:          "/tracks",
		Summary:       "Register a track",
		DefaultStatus: http.StatusCreated,
		Errors:        stdErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTrackRequest `json:"body"`
	}) (*struct {
		Body domain.Track `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTrack(ctx, engine.TrackCreateOptions{
			Title:        input.Body.Title,
			ClassGroupID: input.Body.ClassGroupID,
			Discipline:   input.Body.Discipline,
			DemoLink:     input.Body.DemoLink,
			CreatorID:    principal.UserID,
			Role:         principal.Role,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Track `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-track",
		Method:      http.MethodGet,
		Path:        "/tracks/{id}",
		Summary:     "Get track",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body domain.Track `json:"body"`
	}, error) {
		t, err := e.GetTrack(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Track `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tracks",
		Method:      http.MethodGet,
		Path:        "/tracks",
		Summary:     "List tracks",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *struct {
		Archived bool   `query:"archived"`
		State    string `query:"state"`
		Limit    int    `query:"limit"`
	}) (*struct {
		Body []domain.TrackListItem `json:"body"`
	}, error) {
		items, err := e.ListTracks(ctx, repo.TrackFilters{
			Archived: input.Archived,
			State:    domain.TrackState(input.State),
			Limit:    input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TrackListItem `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pipeline-counts",
		Method:      http.MethodGet,
		Path:        "/tracks/pipeline",
		Summary:     "Track counts per pipeline state",
		Errors:      stdErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		counts, err := e.PipelineCounts(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: counts}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-track",
		Method:      http.MethodPost,
		Path:        "/tracks/{id}/advance",
		Summary:     "Advance a track to its next phase",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64               `path:"id"`
		Body AdvanceTrackRequest `json:"body"`
	}) (*struct {
		Body domain.Track `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.AdvancePhase(ctx, input.ID, principal.UserID, input.Body.Feedback)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Track `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-track",
		Method:      http.MethodPost,
		Path:        "/tracks/{id}/claim",
		Summary:     "Claim a pooled track",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body domain.Track `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ClaimTask(ctx, input.ID, principal.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Track `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-track",
		Method:      http.MethodPost,
		Path:        "/tracks/{id}/archive",
		Summary:     "Archive a finished track",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body domain.Track `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ArchiveTrack(ctx, input.ID, principal.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Track `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unarchive-track",
		Method:      http.MethodPost,
		Path:        "/tracks/{id}/unarchive",
		Summary:     "Restore an archived track",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body domain.Track `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UnarchiveTrack(ctx, input.ID, principal.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Track `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-demo-link",
		Method:      http.MethodPut,
		Path:        "/tracks/{id}/demo-link",
		Summary:     "Set the demo link",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64           `path:"id"`
		Body DemoLinkRequest `json:"body"`
	}) (*struct {
		Body domain.Track `json:"body"`
	}, error) {
		t, err := e.SetDemoLink(ctx, input.ID, input.Body.DemoLink)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Track `json:"body"`
		}{Body: t}, nil
	})
}

func registerNotifications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "List the caller's notifications",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *struct {
		Unread bool `query:"unread"`
		Limit  int  `query:"limit"`
	}) (*struct {
		Body []domain.Notification `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListNotifications(ctx, principal.UserID, input.Unread, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Notification `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "count-unread-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications/unread-count",
		Summary:     "Count the caller's unread notifications",
		Errors:      stdErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.Repo.CountUnreadNotifications(ctx, principal.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: map[string]int{"unread": n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "read-notification",
		Method:        http.MethodPost,
		Path:          "/notifications/{id}/read",
		Summary:       "Mark a notification read",
		DefaultStatus: http.StatusNoContent,
		Errors:        stdErrors,
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct{}, error) {
		if err := e.Repo.MarkNotificationRead(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-notification",
		Method:        http.MethodDelete,
		Path:          "/notifications/{id}",
		Summary:       "Delete a notification",
		DefaultStatus: http.StatusNoContent,
		Errors:        stdErrors,
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct{}, error) {
		if err := e.Repo.DeleteNotification(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerActions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-actions",
		Method:      http.MethodGet,
		Path:        "/actions",
		Summary:     "List the action log for an entity",
		Errors:      stdErrors,
	}, func(ctx context.Context, input *struct {
		EntityKind string `query:"entity_kind" enum:"session,track" required:"true"`
		EntityID   int64  `query:"entity_id" required:"true"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body []domain.ActionEntry `json:"body"`
	}, error) {
		items, err := e.Repo.ListActions(ctx, input.EntityKind, input.EntityID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ActionEntry `json:"body"`
		}{Body: items}, nil
	})
}
