package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"
	"github.com/samber/lo"
	"github.com/spf13/viper"

	"focusquest/internal/app"
	"focusquest/internal/domain"
	"focusquest/internal/tui"
)

// jsonOutput is on with --json or when stdout is not a terminal.
func jsonOutput() bool {
	if viper.GetBool("json") {
		return true
	}
	fd := os.Stdout.Fd()
	return !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printMessage(w io.Writer, v any, text string) error {
	if jsonOutput() {
		return printJSON(w, v)
	}
	_, err := fmt.Fprintln(w, text)
	return err
}

func printSessions(w io.Writer, a *app.App, sessions []domain.Session) error {
	if jsonOutput() {
		return printJSON(w, nonNil(sessions))
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Task", "Status", "Planned", "Focused", "Remaining"})
	for _, s := range sessions {
		task := ""
		if s.TaskID != nil {
			task = fmt.Sprintf("#%d", *s.TaskID)
		}
		remaining := ""
		if s.Live() {
			remaining = tui.FormatClock(a.Time.RemainingSeconds(s))
			if a.Time.Overdue(s) {
				remaining = "overdue"
			}
		}
		focused := tui.FormatClock(a.Time.ActiveSeconds(s))
		if s.ActualDurationMinutes != nil {
			focused = fmt.Sprintf("%dm", *s.ActualDurationMinutes)
		}
		tw.AppendRow(table.Row{s.ID, task, s.Status, fmt.Sprintf("%dm", s.DurationMinutes), focused, remaining})
	}
	tw.Render()
	return nil
}

func printEvents(w io.Writer, events []domain.ProgressionEvent) error {
	if jsonOutput() {
		return printJSON(w, nonNil(events))
	}
	if len(events) == 0 {
		_, err := fmt.Fprintln(w, "no XP awarded")
		return err
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"For", "XP", "Level", "Progress"})
	for _, ev := range events {
		who := "you"
		if ev.Target == domain.TargetCompanion {
			who = strings.TrimSpace(ev.CardEmoji + " " + ev.CardName)
			if who == "" {
				who = "companion"
			}
		}
		level := fmt.Sprint(ev.Level)
		if ev.LevelUp {
			level += " ↑"
		}
		tw.AppendRow(table.Row{who, fmt.Sprintf("+%d", ev.Amount), level, bar(ev.FromPercent, ev.ToPercent)})
	}
	tw.Render()
	return nil
}

// bar renders a 20-cell gauge: filled up to from, '+' for the gain.
func bar(from, to float64) string {
	const cells = 20
	f := int(from / 100 * cells)
	t := int(to / 100 * cells)
	if t < f {
		t = f
	}
	return fmt.Sprintf("[%s%s%s] %3.0f%% → %3.0f%%",
		strings.Repeat("#", f), strings.Repeat("+", t-f), strings.Repeat(".", cells-t), from, to)
}

func printEntries(w io.Writer, entries []domain.JournalEntry) error {
	if jsonOutput() {
		return printJSON(w, nonNil(entries))
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Time", "Type", "Session", "Task", "Payload"})
	for _, e := range entries {
		tw.AppendRow(table.Row{e.ID, e.TS, e.Type, optionalID(e.SessionID), optionalID(e.TaskID), e.Payload})
	}
	tw.Render()
	return nil
}

func printCounts(w io.Writer, counts map[string]int) error {
	if jsonOutput() {
		return printJSON(w, counts)
	}
	keys := lo.Keys(counts)
	sort.Strings(keys)
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Type", "Entries"})
	for _, k := range keys {
		tw.AppendRow(table.Row{k, counts[k]})
	}
	tw.Render()
	return nil
}

func optionalID(id *int64) string {
	if id == nil {
		return ""
	}
	return fmt.Sprint(*id)
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
