package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"focusquest/internal/app"
	"focusquest/internal/domain"
	"focusquest/internal/engine"
	"focusquest/internal/logging"
	"focusquest/internal/repo"
	focusquestsdk "focusquest/sdk/go"
)

// Config for the bridge handler.
type Config struct {
	App      *app.App
	BasePath string
	Auth     AuthConfig
	Logger   *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"session_conflict"`
	Message string         `json:"message" example:"session state conflict"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the bridge API.
func New(cfg Config) (http.Handler, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := logging.OrNop(cfg.Logger)
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
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(log))
	router.Use(newAuthMiddleware(basePath, cfg.Auth, log))

	hcfg := huma.DefaultConfig("FocusQuest Bridge API", "0.1.0")
	hcfg.OpenAPIPath = basePath + "/openapi"
	hcfg.DocsPath = basePath + "/docs"
	if cfg.Auth.enabled() {
		hcfg.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
			"bearerAuth": {Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
		}
		hcfg.Security = []map[string][]string{{"bearerAuth": {}}}
	}
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	a := cfg.App
	registerHealth(group)
	registerSessions(group, a)
	registerSessionActions(group, a)
	registerFocus(group, a)
	registerSync(group, a)
	registerPlayer(group, a)
	registerNotifications(group, a)
	registerOverlays(group, a)
	registerJournal(group, a)
	registerJournalEntry(group, a)
	registerStream(group, a)
	registerDevAuth(group, cfg.Auth)
	registerWhoami(group)

	return router, nil
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
			)
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case errors.Is(err, engine.ErrInvalidDuration):
		return newAPIError(http.StatusBadRequest, "invalid_duration", msg, nil)
	case errors.Is(err, engine.ErrBusy):
		return newAPIError(http.StatusConflict, "request_in_flight", msg, nil)
	case errors.Is(err, engine.ErrConflict):
		return newAPIError(http.StatusConflict, "session_conflict", msg, nil)
	case errors.Is(err, engine.ErrSessionNotFound), errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newAPIError(http.StatusGatewayTimeout, "upstream_timeout", msg, nil)
	}
	if status := focusquestsdk.StatusCode(err); status != 0 {
		return newAPIError(http.StatusBadGateway, "upstream_error", msg, map[string]any{"status": status})
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
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
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

type sessionPath struct {
	ID int64 `path:"id"`
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

func registerSessions(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "Live sessions known to this client",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body RegistryResponse `json:"body"`
	}, error) {
		return &struct {
			Body RegistryResponse `json:"body"`
		}{Body: registryResponse(a.Time, a.Registry.Snapshot())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "current-session",
		Method:      http.MethodGet,
		Path:        "/sessions/current",
		Summary:     "The single session shown by one-timer views",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		s, ok := a.Registry.Current()
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "no_active_session", "no active session", nil)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(a.Time, s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-by-task",
		Method:      http.MethodGet,
		Path:        "/sessions/by-task/{task_id}",
		Summary:     "Live session bound to a task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID int64 `path:"task_id"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		s, ok := a.Registry.FindByTaskID(input.TaskID)
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "no live session for task", map[string]any{"task_id": input.TaskID})
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(a.Time, s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-clock",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/clock",
		Summary:     "Timer readings for a session",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body ClockResponse `json:"body"`
	}, error) {
		s, ok := a.Registry.Get(input.ID)
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "session not found", map[string]any{"id": input.ID})
		}
		return &struct {
			Body ClockResponse `json:"body"`
		}{Body: sessionResponse(a.Time, s).Clock}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-session",
		Method:      http.MethodPost,
		Path:        "/sessions",
		Summary:     "Start a focus session",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Body StartSessionRequest `json:"body"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		s, err := a.Engine.Start(ctx, engine.StartOptions{
			TaskID:          input.Body.TaskID,
			SubtaskID:       input.Body.SubtaskID,
			DurationMinutes: input.Body.DurationMinutes,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(a.Time, s)}, nil
	})
}

// guardStatus rejects an action the local state already rules out. Sessions
// this client does not know are passed through and left to the server.
func guardStatus(a *app.App, id int64, want domain.SessionStatus, action string) error {
	s, ok := a.Registry.Get(id)
	if !ok || s.Status == want {
		return nil
	}
	return newAPIError(http.StatusConflict, "invalid_state",
		fmt.Sprintf("cannot %s a %s session", action, s.Status),
		map[string]any{"id": id, "status": s.Status})
}

func registerSessionActions(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "pause-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/pause",
		Summary:     "Pause a running session",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		if err := guardStatus(a, input.ID, domain.StatusActive, "pause"); err != nil {
			return nil, err
		}
		s, err := a.Engine.Pause(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(a.Time, s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resume-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/resume",
		Summary:     "Resume a paused session",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		if err := guardStatus(a, input.ID, domain.StatusPaused, "resume"); err != nil {
			return nil, err
		}
		s, err := a.Engine.Resume(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(a.Time, s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/complete",
		Summary:     "Complete a session and queue its XP",
		Errors:      []int{http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		ID   int64                   `path:"id"`
		Body *CompleteSessionRequest `json:"body" required:"false"`
	}) (*struct {
		Body CompleteSessionResponse `json:"body"`
	}, error) {
		completeSubtask := input.Body != nil && input.Body.CompleteSubtask
		out, err := a.Engine.Complete(ctx, input.ID, completeSubtask)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CompleteSessionResponse `json:"body"`
		}{Body: completeResponse(out)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/cancel",
		Summary:     "Abandon a session",
		Errors:      []int{http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if err := a.Engine.Cancel(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{"id": input.ID, "status": domain.StatusCancelled}}, nil
	})
}

func registerFocus(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "focus-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/focus",
		Summary:     "Start, resume or return the timer of a task",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		TaskID int64            `path:"task_id"`
		Body   FocusTaskRequest `json:"body"`
	}) (*struct {
		Body FocusTaskResponse `json:"body"`
	}, error) {
		s, action, err := a.Engine.FocusTask(ctx, input.TaskID, input.Body.DurationMinutes)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FocusTaskResponse `json:"body"`
		}{Body: FocusTaskResponse{Action: string(action), Session: sessionResponse(a.Time, s)}}, nil
	})
}

func registerSync(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "sync",
		Method:      http.MethodPost,
		Path:        "/sync",
		Summary:     "Reload sessions and player totals from the server",
		Errors:      []int{http.StatusBadGateway},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SyncResponse `json:"body"`
	}, error) {
		if err := a.Sync(ctx); err != nil {
			return nil, handleError(err)
		}
		resp := SyncResponse{Sessions: a.Registry.Len()}
		if p, ok := a.Engine.Player(); ok {
			resp.Player = &p
		}
		return &struct {
			Body SyncResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerPlayer(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "player",
		Method:      http.MethodGet,
		Path:        "/player",
		Summary:     "Last known player totals",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.PlayerStats `json:"body"`
	}, error) {
		p, ok := a.Engine.Player()
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "player not loaded; POST /sync first", nil)
		}
		return &struct {
			Body domain.PlayerStats `json:"body"`
		}{Body: p}, nil
	})
}

func registerNotifications(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "Toast on screen and how many wait behind it",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body NotificationsResponse `json:"body"`
	}, error) {
		return &struct {
			Body NotificationsResponse `json:"body"`
		}{Body: notificationsResponse(a.Queue.State())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dismiss-notification",
		Method:      http.MethodPost,
		Path:        "/notifications/dismiss",
		Summary:     "Dismiss the toast on screen",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body NotificationsResponse `json:"body"`
	}, error) {
		a.Queue.DismissCurrent()
		return &struct {
			Body NotificationsResponse `json:"body"`
		}{Body: notificationsResponse(a.Queue.State())}, nil
	})
}

func registerOverlays(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "open-overlay",
		Method:      http.MethodPost,
		Path:        "/overlays/open",
		Summary:     "Register a blocking overlay",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body OverlayResponse `json:"body"`
	}, error) {
		a.Overlays.Open()
		return &struct {
			Body OverlayResponse `json:"body"`
		}{Body: overlayResponse(a.Overlays)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "close-overlay",
		Method:      http.MethodPost,
		Path:        "/overlays/close",
		Summary:     "Release a blocking overlay",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body OverlayResponse `json:"body"`
	}, error) {
		a.Overlays.Close()
		return &struct {
			Body OverlayResponse `json:"body"`
		}{Body: overlayResponse(a.Overlays)}, nil
	})
}

func registerJournal(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-journal",
		Method:      http.MethodGet,
		Path:        "/journal",
		Summary:     "Recent journal entries, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Type      string `query:"type"`
		SessionID int64  `query:"session_id"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedJournal `json:"body"`
	}, error) {
		if a.DB == nil {
			return nil, newAPIError(http.StatusNotFound, "journal_disabled", "journal is disabled", nil)
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := a.Journal.LatestEntriesFrom(ctx, limit+1, cursorID, repo.EntryFilters{Type: input.Type, SessionID: input.SessionID})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedJournal{Items: []JournalEntryResponse{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		for _, e := range items {
			resp.Items = append(resp.Items, journalEntryResponse(e))
		}
		return &struct {
			Body paginatedJournal `json:"body"`
		}{Body: resp}, nil
	})
}

func registerJournalEntry(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "get-journal-entry",
		Method:      http.MethodGet,
		Path:        "/journal/{id}",
		Summary:     "One journal entry",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body JournalEntryResponse `json:"body"`
	}, error) {
		if a.DB == nil {
			return nil, newAPIError(http.StatusNotFound, "journal_disabled", "journal is disabled", nil)
		}
		e, err := a.Journal.GetEntry(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JournalEntryResponse `json:"body"`
		}{Body: journalEntryResponse(e)}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a bridge token",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if !authCfg.enabled() {
			return nil, newAPIError(http.StatusBadRequest, "auth_disabled", "bridge auth is disabled; no token needed", nil)
		}
		subject := strings.TrimSpace(input.Body.Subject)
		if subject == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "subject is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, subject, authCfg.TokenTTL, time.Now())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func registerWhoami(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "whoami",
		Method:      http.MethodGet,
		Path:        "/auth/whoami",
		Summary:     "Caller identity",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"subject": p.Subject, "source": p.Source}}, nil
	})
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
