package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"focusquest/internal/app"
	"focusquest/internal/domain"
	"focusquest/internal/engine"
	"focusquest/internal/progression"
)

func sessionCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "session",
		Short: "Run focus sessions",
		Long:  "A session counts down its planned minutes; paused time does not count. Completing it awards XP, abandoning it never does.",
	}
	s.AddCommand(sessionStartCmd())
	s.AddCommand(sessionPauseCmd())
	s.AddCommand(sessionResumeCmd())
	s.AddCommand(sessionCompleteCmd())
	s.AddCommand(sessionCancelCmd())
	s.AddCommand(sessionListCmd())
	s.AddCommand(sessionHistoryCmd())
	s.AddCommand(sessionFocusCmd())
	return s
}

func sessionStartCmd() *cobra.Command {
	var taskID, subtaskID int64
	var minutes int
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.StartOptions{DurationMinutes: minutes}
			if cmd.Flags().Changed("task") {
				opts.TaskID = &taskID
			}
			if cmd.Flags().Changed("subtask") {
				opts.SubtaskID = &subtaskID
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				sess, err := a.Engine.Start(ctx, opts)
				if err != nil {
					return err
				}
				return printSessions(cmd.OutOrStdout(), a, []domain.Session{sess})
			})
		},
	}
	cmd.Flags().Int64Var(&taskID, "task", 0, "task id")
	cmd.Flags().Int64Var(&subtaskID, "subtask", 0, "subtask id")
	cmd.Flags().IntVarP(&minutes, "minutes", "m", 25, "planned duration in minutes")
	return cmd
}

func parseSessionID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid session id %q", arg)
	}
	return id, nil
}

// requireStatus refuses an action the registry already rules out. Unknown ids
// are left for the server to judge.
func requireStatus(a *app.App, id int64, want domain.SessionStatus, action string) error {
	if s, ok := a.Registry.Get(id); ok && s.Status != want {
		return fmt.Errorf("cannot %s session %d: it is %s", action, id, s.Status)
	}
	return nil
}

func sessionPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <id>",
		Short: "Pause a running session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				if err := requireStatus(a, id, domain.StatusActive, "pause"); err != nil {
					return err
				}
				sess, err := a.Engine.Pause(ctx, id)
				if err != nil {
					return err
				}
				return printSessions(cmd.OutOrStdout(), a, []domain.Session{sess})
			})
		},
	}
}

func sessionResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <id>",
		Short: "Resume a paused session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				if err := requireStatus(a, id, domain.StatusPaused, "resume"); err != nil {
					return err
				}
				sess, err := a.Engine.Resume(ctx, id)
				if err != nil {
					return err
				}
				return printSessions(cmd.OutOrStdout(), a, []domain.Session{sess})
			})
		},
	}
}

func sessionCompleteCmd() *cobra.Command {
	var completeSubtask bool
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete a session and collect its XP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				out, err := a.Engine.Complete(ctx, id, completeSubtask)
				if err != nil {
					return err
				}
				if out.AlreadyCompleted {
					return printMessage(cmd.OutOrStdout(), map[string]any{"session_id": id, "already_completed": true},
						fmt.Sprintf("session %d was already finished", id))
				}
				return printEvents(cmd.OutOrStdout(), a.Queue.Drain())
			})
		},
	}
	cmd.Flags().BoolVar(&completeSubtask, "complete-subtask", false, "also mark the session's subtask done")
	return cmd
}

func sessionCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Abandon a session (no XP)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				if err := a.Engine.Cancel(ctx, id); err != nil {
					return err
				}
				return printMessage(cmd.OutOrStdout(), map[string]any{"session_id": id, "status": domain.StatusCancelled},
					fmt.Sprintf("session %d abandoned", id))
			})
		},
	}
}

func sessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List live sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				return printSessions(cmd.OutOrStdout(), a, a.Registry.All())
			})
		},
	}
}

func sessionHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently ended sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				sessions, err := a.Engine.History(ctx, limit)
				if err != nil {
					return err
				}
				return printSessions(cmd.OutOrStdout(), a, sessions)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of sessions")
	return cmd
}

func sessionFocusCmd() *cobra.Command {
	var taskID int64
	var minutes int
	cmd := &cobra.Command{
		Use:   "focus",
		Short: "Put a timer on a task",
		Long:  "Resumes the task's paused session, shows its running one, or starts a new session.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				sess, action, err := a.Engine.FocusTask(ctx, taskID, minutes)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(cmd.OutOrStdout(), map[string]any{"action": action, "session": sess})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s session %d\n", action, sess.ID)
				return printSessions(cmd.OutOrStdout(), a, []domain.Session{sess})
			})
		},
	}
	cmd.Flags().Int64Var(&taskID, "task", 0, "task id")
	cmd.Flags().IntVarP(&minutes, "minutes", "m", 25, "duration for a new session")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Complete tasks"}
	t.AddCommand(&cobra.Command{
		Use:   "done <id>",
		Short: "Mark a task done and collect its XP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				if _, err := a.Engine.CompleteTask(ctx, id); err != nil {
					return err
				}
				return printEvents(cmd.OutOrStdout(), a.Queue.Drain())
			})
		},
	})
	return t
}

func subtaskCmd() *cobra.Command {
	t := &cobra.Command{Use: "subtask", Short: "Complete subtasks"}
	t.AddCommand(&cobra.Command{
		Use:   "done <id>",
		Short: "Mark a subtask done and collect its XP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid subtask id %q", args[0])
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				if _, err := a.Engine.CompleteSubtask(ctx, id); err != nil {
					return err
				}
				return printEvents(cmd.OutOrStdout(), a.Queue.Drain())
			})
		},
	})
	return t
}

func xpCmd() *cobra.Command {
	x := &cobra.Command{
		Use:   "xp",
		Short: "Preview XP toasts offline",
		Long:  "Computes the progress bar a toast would show for a given award without contacting the API.",
	}
	x.AddCommand(xpPlayerCmd())
	x.AddCommand(xpCompanionCmd())
	return x
}

func xpPlayerCmd() *cobra.Command {
	var xp, level, amount int
	cmd := &cobra.Command{
		Use:   "player",
		Short: "Player toast for an award",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("level") {
				level = progression.LevelForXP(xp)
			}
			levelUp := progression.LevelForXP(xp+amount) > level
			ev := progression.PlayerEvent(amount, xp, level, levelUp, time.Now())
			return printEvents(cmd.OutOrStdout(), []domain.ProgressionEvent{ev})
		},
	}
	cmd.Flags().IntVar(&xp, "xp", 0, "total XP before the award")
	cmd.Flags().IntVar(&level, "level", 0, "level before the award (default: derived from --xp)")
	cmd.Flags().IntVar(&amount, "amount", 0, "XP awarded")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func xpCompanionCmd() *cobra.Command {
	var c domain.CompanionAward
	cmd := &cobra.Command{
		Use:   "companion",
		Short: "Companion card toast for an award",
		RunE: func(cmd *cobra.Command, args []string) error {
			ev := progression.CompanionEvent(c, time.Now())
			return printEvents(cmd.OutOrStdout(), []domain.ProgressionEvent{ev})
		},
	}
	cmd.Flags().IntVar(&c.CardXP, "card-xp", 0, "card XP within its level, after the award")
	cmd.Flags().IntVar(&c.CardXPForNext, "for-next", 0, "card XP needed for the next level")
	cmd.Flags().IntVar(&c.XPEarned, "amount", 0, "XP awarded")
	cmd.Flags().IntVar(&c.Level, "level", 1, "card level after the award")
	cmd.Flags().BoolVar(&c.LevelUp, "level-up", false, "the award levelled the card up")
	cmd.Flags().StringVar(&c.Name, "name", "", "card name")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}
