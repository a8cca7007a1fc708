package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"focusquest/internal/app"
	"focusquest/internal/config"
	"focusquest/internal/db"
	"focusquest/internal/logging"
	"focusquest/internal/repo"
	"focusquest/internal/server"
	"focusquest/internal/tui"
)

var rootCmd = &cobra.Command{
	Use:   "fq",
	Short: "FocusQuest CLI",
	Long: `FocusQuest runs timed focus sessions against your FocusQuest account and
turns the XP they earn into progress toasts.
- Sessions: started for a number of minutes, optionally bound to a task or subtask; they can be paused, resumed, completed or abandoned.
- XP: completing a session, task or subtask awards player XP and sometimes companion card XP; each award is shown as a toast with a progress bar.
- Workspace: holds focusquest.yml and the .focusquest journal of everything this client did ('fq log tail').
- Credentials: FOCUSQUEST_API_TOKEN (bearer) or FOCUSQUEST_INIT_DATA (Telegram init data).`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FOCUSQUEST")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("api-url", "", "FocusQuest API base URL (overrides config)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("api-url", rootCmd.PersistentFlags().Lookup("api-url"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(subtaskCmd())
	rootCmd.AddCommand(xpCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Open the terminal focus view",
		Long:  "Shows the live countdown of the current session and plays XP toasts as they arrive. Press ? for keys.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				model := tui.New(ctx, tui.Deps{
					Sessions: a.Engine,
					Registry: a.Registry,
					Queue:    a.Queue,
					Overlays: a.Overlays,
					Time:     a.Time,
				})
				final, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
				if m, ok := final.(tui.Model); ok {
					m.Close()
				}
				if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
					return fmt.Errorf("TUI error: %w", err)
				}
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the local bridge API",
		Long:  "Serves the session registry, notification queue and lifecycle actions over HTTP for a web view. Set FOCUSQUEST_JWT_SECRET to require bearer tokens.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				if addr == "" {
					addr = a.Config.Bridge.Addr
				}
				if basePath == "" {
					basePath = a.Config.Bridge.BasePath
				}
				if err := a.Sync(ctx); err != nil {
					a.Log.Warn("initial sync failed; POST /sync to retry", zap.Error(err))
				}
				authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt-secret")}
				handler, err := server.New(server.Config{App: a, BasePath: basePath, Auth: authCfg, Logger: a.Log.Named("bridge")})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Log.Info("serving bridge API",
					zap.String("url", fmt.Sprintf("http://%s%s", addr, basePath)),
					zap.String("docs", basePath+"/docs"),
					zap.Bool("auth", authCfg.JWTSecret != ""),
				)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default bridge.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default bridge.base_path)")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Inspect the local activity journal"}
	lg.AddCommand(logTailCmd())
	lg.AddCommand(logStatsCmd())
	return lg
}

func logStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count journal entries by type",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				if a.DB == nil {
					return errJournalDisabled
				}
				counts, err := a.Journal.CountByType(ctx)
				if err != nil {
					return err
				}
				return printCounts(cmd.OutOrStdout(), counts)
			})
		},
	}
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType string
	var sessionID int64
	var follow bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest journal entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				if a.DB == nil {
					return errJournalDisabled
				}
				filters := repo.EntryFilters{Type: evtType, SessionID: sessionID}
				cursor, err := a.Journal.LatestEntryID(ctx)
				if err != nil {
					return err
				}
				entries, err := a.Journal.LatestEntries(ctx, n, filters)
				if err != nil {
					return err
				}
				if err := printEntries(cmd.OutOrStdout(), entries); err != nil {
					return err
				}
				if !follow {
					return nil
				}
				return followJournal(ctx, cmd.OutOrStdout(), a.Journal, cursor, filters)
			})
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 20, "number of entries")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new entries")
	cmd.Flags().StringVar(&evtType, "type", "", "entry type filter")
	cmd.Flags().Int64Var(&sessionID, "session", 0, "session id filter")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage focusquest.yml",
		Long:  "Config holds the API address, session length bounds, toast timing, journal and bridge settings. Credentials stay in the environment.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default focusquest.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(viper.GetString("api-url"))), 0o644); err != nil {
				return err
			}
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(cmd.OutOrStdout(), cfg)
			}
			b, err := cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate focusquest.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config OK")
			return nil
		},
	}
}

// --- helpers ---

var errJournalDisabled = errors.New("journal is disabled (journal.enabled: false)")

var followInterval = time.Second

// followJournal polls for entries past cursor until ctx ends. Another fq
// process writing the same workspace shows up here.
func followJournal(ctx context.Context, w io.Writer, r repo.Repo, cursor int64, filters repo.EntryFilters) error {
	ticker := time.NewTicker(followInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		entries, err := r.EntriesAfter(ctx, 100, cursor, filters)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			continue
		}
		cursor = entries[len(entries)-1].ID
		if err := printEntries(w, entries); err != nil {
			return err
		}
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if u := strings.TrimSpace(viper.GetString("api-url")); u != "" {
		cfg.API.BaseURL = u
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level := cfg.Log.Level
	if viper.GetBool("verbose") {
		level = "debug"
	}
	return logging.New(level, cfg.Log.Format)
}

// withApp builds the process state for one command. With sync set it first
// reloads live sessions and player totals, the way every view does on load.
func withApp(ctx context.Context, sync bool, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()
	workspace := viper.GetString("workspace")
	if cfg.Journal.Enabled {
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
	}
	a, err := app.New(ctx, app.Options{
		Workspace: workspace,
		Config:    cfg,
		Credentials: app.Credentials{
			BearerToken: viper.GetString("api-token"),
			InitData:    viper.GetString("init-data"),
		},
		Logger: log,
	})
	if err != nil {
		return err
	}
	defer a.Close()
	if sync {
		if err := a.Sync(ctx); err != nil {
			return fmt.Errorf("sync: %w", err)
		}
	}
	return fn(ctx, a)
}
