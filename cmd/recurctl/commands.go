package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/warp/habit-engine/config"
	"github.com/warp/habit-engine/factory"
	"github.com/warp/habit-engine/habit"
	"github.com/warp/habit-engine/recurrence"
	"github.com/warp/habit-engine/store/sqlite"
)

// app carries the global flags and the lazily opened database.
type app struct {
	configPath string
	dbPath     string

	cfg     *config.Config
	store   *sqlite.Store
	tracker *habit.Tracker
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:          "recurctl",
		Short:        "Inspect and drive the habit engine from the command line",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return fmt.Errorf("load config %s: %w", a.configPath, err)
			}
			if a.dbPath != "" {
				cfg.DBPath = a.dbPath
			}
			a.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "habits.yaml", "YAML config path")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "SQLite database path (overrides config)")

	root.AddCommand(
		a.expandCmd(),
		a.addCmd(),
		a.listCmd(),
		a.checkCmd(),
		a.uncheckCmd(),
		a.historyCmd(),
		a.statsCmd(),
		a.dayCmd(),
		a.importCmd(),
		a.exportCmd(),
		a.refreshCmd(),
	)
	return root
}

// open connects to the database. Callers defer close.
func (a *app) open(cmd *cobra.Command) (*habit.Tracker, error) {
	store, err := sqlite.New(a.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", a.cfg.DBPath, err)
	}
	a.store = store
	a.tracker = habit.NewTracker(store, habit.Config{
		Expand:        a.cfg.ExpandConfig(),
		Horizon:       a.cfg.Horizon(),
		AdherenceDays: a.cfg.AdherenceDays,
		Logger:        a.cfg.NewLogger(cmd.ErrOrStderr()),
	})
	return a.tracker, nil
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
		a.store = nil
	}
}

func (a *app) factory() *factory.SpecFactory {
	if a.tracker != nil {
		f := factory.NewSpecFactory(a.tracker.Expander)
		f.Logger = a.tracker.Logger
		return f
	}
	return factory.NewSpecFactory(recurrence.NewExpander(a.cfg.ExpandConfig()))
}

// =============================================================================
// SPECS AND HABITS
// =============================================================================

func (a *app) expandCmd() *cobra.Command {
	var specArg, from, to string
	cmd := &cobra.Command{
		Use:   "expand",
		Short: "Preview the occurrences of a spec",
		Example: `  recurctl expand --spec '{"anchor_local":"2024-01-01T09:00:00","timezone":"UTC","rule":"FREQ=DAILY"}' --from 2024-01-01 --to 2024-01-07
  recurctl expand --spec habit.json --from 2024-03-01 --to 2024-03-31`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := a.readSpec(cmd, specArg)
			if err != nil {
				return err
			}
			start, end, err := parseWindow(from, to)
			if err != nil {
				return err
			}
			if !spec.Usable() {
				fmt.Fprintln(cmd.OutOrStdout(), "spec has no rule; nothing to expand")
				return nil
			}

			occurrences, err := a.factory().Expander.Expand(spec, start, end)
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout(), "KEY", "UTC", "LOCAL")
			for _, t := range occurrences {
				local, err := recurrence.ToLocal(t, spec.Timezone)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", recurrence.EncodeKey(t), t.Format(time.RFC3339), local)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&specArg, "spec", "", "spec JSON, a file path, or - for stdin")
	cmd.Flags().StringVar(&from, "from", "", "window start (RFC 3339 or 2006-01-02, UTC)")
	cmd.Flags().StringVar(&to, "to", "", "window end (RFC 3339 or 2006-01-02, UTC)")
	cmd.MarkFlagRequired("spec")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
	return cmd
}

func (a *app) addCmd() *cobra.Command {
	var specArg string
	cmd := &cobra.Command{
		Use:   "add [title]",
		Short: "Create a habit from a JSON spec",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			spec, err := a.readSpec(cmd, specArg)
			if err != nil {
				return err
			}
			h, err := tr.CreateHabit(cmd.Context(), args[0], spec)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", h.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&specArg, "spec", "", "spec JSON, a file path, or - for stdin")
	cmd.MarkFlagRequired("spec")
	return cmd
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List habits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			habits, err := tr.ListHabits(cmd.Context())
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout(), "ID", "TITLE", "ACTIVE", "TIMEZONE", "RULE")
			for _, h := range habits {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", h.ID, h.Title, h.Active, h.Spec.Timezone, h.Spec.Rule)
			}
			return tw.Flush()
		},
	}
}

// =============================================================================
// COMPLETIONS
// =============================================================================

func (a *app) checkCmd() *cobra.Command {
	var quantity, note string
	cmd := &cobra.Command{
		Use:   "check [habit] [key|local]",
		Short: "Record a completion",
		Long: `Record a completion for an occurrence, named either by its key
(20240101T090000Z) or by local wall clock time in the habit's timezone
(2024-01-01T09:00:00).`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			q, err := decimal.NewFromString(quantity)
			if err != nil {
				return fmt.Errorf("%w: %s", recurrence.ErrInvalidQuantity, quantity)
			}
			ctx := cmd.Context()
			id := recurrence.ItemID(args[0])
			key, err := resolveKey(ctx, tr, id, args[1])
			if err != nil {
				return err
			}
			c, err := tr.Check(ctx, id, key, q, note)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked %s %s (quantity %s)\n", c.ItemID, c.Key, c.Quantity)
			return nil
		},
	}
	cmd.Flags().StringVar(&quantity, "quantity", "1", "completion quantity")
	cmd.Flags().StringVar(&note, "note", "", "free-form note")
	return cmd
}

func (a *app) uncheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uncheck [habit] [key|local]",
		Short: "Remove a completion",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			id := recurrence.ItemID(args[0])
			key, err := resolveKey(ctx, tr, id, args[1])
			if err != nil {
				return err
			}
			if err := tr.Uncheck(ctx, id, key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unchecked %s %s\n", id, key)
			return nil
		},
	}
}

func (a *app) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history [habit]",
		Short: "List completions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			history, err := tr.History(cmd.Context(), recurrence.ItemID(args[0]))
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout(), "KEY", "QUANTITY", "NOTE")
			for _, c := range history {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Key, c.Quantity, c.Note)
			}
			return tw.Flush()
		},
	}
}

// resolveKey accepts an occurrence key or a local wall clock time.
func resolveKey(ctx context.Context, tr *habit.Tracker, id recurrence.ItemID, arg string) (recurrence.OccurrenceKey, error) {
	if key := recurrence.OccurrenceKey(arg); recurrence.ValidKey(key) {
		return key, nil
	}
	return tr.KeyAt(ctx, id, arg)
}

// =============================================================================
// QUERIES
// =============================================================================

func (a *app) statsCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "stats [habit]",
		Short: "Streaks and adherence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			s, err := tr.Stats(cmd.Context(), recurrence.ItemID(args[0]), days)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "current streak: %d\n", s.CurrentStreak)
			fmt.Fprintf(out, "longest streak: %d\n", s.LongestStreak)
			fmt.Fprintf(out, "adherence: %.1f%% (%d/%d over %d days)\n", s.Adherence, s.Completed, s.Total, s.WindowDays)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "adherence window in days (default from config)")
	return cmd
}

func (a *app) dayCmd() *cobra.Command {
	var tz string
	cmd := &cobra.Command{
		Use:   "day [2006-01-02]",
		Short: "Pending and done occurrences of one local day (default today)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if tz == "" {
				tz = a.cfg.Timezone
			}
			day := ""
			if len(args) == 1 {
				day = args[0]
			} else {
				loc, err := recurrence.LoadZone(tz)
				if err != nil {
					return err
				}
				day = tr.Now().In(loc).Format("2006-01-02")
			}

			agenda, err := tr.Day(cmd.Context(), day, tz)
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout(), "STATUS", "HABIT", "LOCAL", "KEY")
			for _, inst := range agenda.Pending {
				local, _ := recurrence.ToLocal(inst.StartUTC, tz)
				fmt.Fprintf(tw, "pending\t%s\t%s\t%s\n", inst.ItemID, local, inst.Key)
			}
			for _, d := range agenda.Done {
				local, _ := recurrence.ToLocal(d.StartUTC, tz)
				fmt.Fprintf(tw, "done\t%s\t%s\t%s\n", d.ItemID, local, d.Key)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&tz, "tz", "", "IANA timezone (default from config)")
	return cmd
}

// =============================================================================
// CALENDARS
// =============================================================================

func (a *app) importCmd() *cobra.Command {
	var tz string
	cmd := &cobra.Command{
		Use:   "import [file.ics]",
		Short: "Create habits from the events of an iCalendar file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			if tz == "" {
				tz = a.cfg.Timezone
			}
			res, err := a.factory().ParseICS(f, tz)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, s := range res.Skipped {
				fmt.Fprintf(out, "skipped %q: %s\n", s.UID, s.Reason)
			}
			for _, imp := range res.Specs {
				title := imp.Summary
				if strings.TrimSpace(title) == "" {
					title = imp.UID
				}
				if _, err := tr.CreateHabit(cmd.Context(), title, imp.Spec); err != nil {
					fmt.Fprintf(out, "skipped %q: %v\n", imp.UID, err)
					continue
				}
				fmt.Fprintf(out, "created %s\n", imp.UID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tz, "tz", "", "timezone of floating times (default from config)")
	return cmd
}

func (a *app) exportCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "export [habit]",
		Short: "Write the cached instances of a habit as iCalendar",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			id := recurrence.ItemID(args[0])
			h, err := tr.GetHabit(ctx, id)
			if err != nil {
				return err
			}

			now := tr.Now()
			start, end := now, now.AddDate(0, 0, 7)
			if from != "" || to != "" {
				if start, end, err = parseWindow(from, to); err != nil {
					return err
				}
			}
			instances, err := tr.Instances(ctx, id, start, end)
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), factory.ExportICS(instances, map[recurrence.ItemID]string{id: h.Title}, now))
			return err
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "window start (default now)")
	cmd.Flags().StringVar(&to, "to", "", "window end (default now + 7 days)")
	return cmd
}

func (a *app) refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Roll the horizon of every active habit forward",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			n, err := tr.RefreshAll(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "refreshed %d habits\n", n)
			return err
		},
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// readSpec reads a spec from inline JSON, a file, or stdin ("-").
func (a *app) readSpec(cmd *cobra.Command, arg string) (recurrence.Spec, error) {
	var raw string
	switch {
	case strings.HasPrefix(strings.TrimSpace(arg), "{"):
		raw = arg
	case arg == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return recurrence.Spec{}, err
		}
		raw = string(data)
	default:
		data, err := os.ReadFile(arg)
		if err != nil {
			return recurrence.Spec{}, err
		}
		raw = string(data)
	}
	return a.factory().ParseSpec(raw)
}

func parseWindow(from, to string) (time.Time, time.Time, error) {
	start, err := parseInstant(from)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parseInstant(to)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// parseInstant accepts RFC 3339 or a UTC calendar date.
func parseInstant(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, &recurrence.TimestampError{Field: "window", Value: s}
	}
	return t, nil
}

func newTable(w io.Writer, headers ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	return tw
}
