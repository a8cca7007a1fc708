// Package app wires the process-wide state: one registry, one notification
// queue and one overlay counter per signed-in user, plus the engine that
// writes to them.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"focusquest/internal/config"
	"focusquest/internal/db"
	"focusquest/internal/engine"
	"focusquest/internal/events"
	"focusquest/internal/logging"
	"focusquest/internal/migrate"
	"focusquest/internal/notify"
	"focusquest/internal/registry"
	"focusquest/internal/repo"
	"focusquest/internal/timesource"
	focusquestsdk "focusquest/sdk/go"
)

type Options struct {
	Workspace string
	Config    *config.Config
	// API overrides the HTTP client built from Config and Credentials.
	API         engine.SessionAPI
	Credentials Credentials
	Clock       clock.Clock
	Logger      *zap.Logger
}

// Credentials authenticate against the remote API. BearerToken wins over
// InitData when both are set.
type Credentials struct {
	BearerToken string
	InitData    string
}

type App struct {
	Config   *config.Config
	Log      *zap.Logger
	Time     timesource.Source
	Registry *registry.Registry
	Overlays *notify.Overlays
	Queue    *notify.Queue
	Engine   *engine.Engine

	// DB is nil when the journal is disabled.
	DB      *sql.DB
	Journal repo.Repo
}

// NewClient builds the remote API client from config.
func NewClient(cfg *config.Config, creds Credentials) *focusquestsdk.Client {
	c := focusquestsdk.New(cfg.API.BaseURL)
	if cfg.API.Timeout > 0 {
		c.Timeout = cfg.API.Timeout
	}
	c.BearerToken = creds.BearerToken
	c.InitData = creds.InitData
	c.HTTPClient = &http.Client{Timeout: c.Timeout}
	return c
}

func New(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	log := logging.OrNop(opts.Logger)
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	api := opts.API
	if api == nil {
		api = engine.NewRemote(NewClient(cfg, opts.Credentials))
	}

	a := &App{
		Config:   cfg,
		Log:      log,
		Time:     timesource.New(clk),
		Registry: registry.New(),
		Overlays: notify.NewOverlays(),
	}
	a.Queue = notify.New(a.Overlays, notify.Options{
		Clock:       clk,
		AutoDismiss: cfg.Notifications.AutoDismiss,
		Logger:      log.Named("notify"),
	})
	a.Engine = engine.New(api, a.Registry, a.Queue, cfg)
	a.Engine.Time = a.Time
	a.Engine.Log = log.Named("engine")

	if cfg.Journal.Enabled {
		conn, err := db.Open(db.Config{Workspace: opts.Workspace})
		if err != nil {
			a.Queue.Close()
			return nil, fmt.Errorf("open journal: %w", err)
		}
		applied, err := migrate.Migrate(ctx, conn)
		if err != nil {
			conn.Close()
			a.Queue.Close()
			return nil, fmt.Errorf("migrate journal: %w", err)
		}
		if len(applied) > 0 {
			log.Debug("journal migrated", zap.Strings("applied", applied))
		}
		a.DB = conn
		a.Journal = repo.Repo{DB: conn}
		a.Engine.Journal = events.Writer{DB: conn, Now: clk.Now}
	}
	return a, nil
}

// Sync reloads the server's view: the live sessions and the player's totals.
// It runs whenever a view (re)attaches.
func (a *App) Sync(ctx context.Context) error {
	var errs []error
	if err := a.Engine.Reconcile(ctx); err != nil {
		errs = append(errs, err)
	}
	if _, err := a.Engine.RefreshPlayer(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Logout drops everything tied to the signed-in user.
func (a *App) Logout() {
	a.Engine.Reset()
	a.Overlays.Reset()
	a.Log.Debug("state cleared")
}

func (a *App) Close() error {
	a.Queue.Close()
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}
