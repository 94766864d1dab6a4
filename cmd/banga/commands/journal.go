package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kaoskorobase/banga/pkg/engine"
	"github.com/kaoskorobase/banga/pkg/journal"
)

func newJournalCommand() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the journal of sent bundles",
		Long: `Inspect the SQLite journal written while the journal is enabled in the
configuration (journal.enabled, or BANGA_JOURNAL_PATH).`,
	}

	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "journal database (default: journal.path from the config)")

	open := func(ctx context.Context) (*journal.SQLiteStore, error) {
		path := dbPath
		if path == "" {
			cfg, err := loadConfig()
			if err != nil {
				return nil, err
			}
			path = cfg.Journal.Path
		}
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("journal %s: %w", path, err)
		}
		return openJournal(ctx, path)
	}

	cmd.AddCommand(newJournalSessionsCommand(open))
	cmd.AddCommand(newJournalListCommand(open))
	cmd.AddCommand(newJournalPruneCommand(open))

	return cmd
}

type storeOpener func(context.Context) (*journal.SQLiteStore, error)

func newJournalSessionsCommand(open storeOpener) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List engine sessions, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := open(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			sessions, err := store.ListSessions(ctx, limit, offset)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), sessions)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tSAMPLE RATE\tBLOCK SIZE\tOPENED\tCLOSED")
			for _, s := range sessions {
				closed := "-"
				if s.ClosedAt != nil {
					closed = s.ClosedAt.Local().Format(time.DateTime)
				}
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n",
					s.ID, s.SampleRate, s.BlockSize, s.OpenedAt.Local().Format(time.DateTime), closed)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of sessions (0 for all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of sessions to skip")

	return cmd
}

func newJournalListCommand(open storeOpener) *cobra.Command {
	var (
		session string
		status  string
		limit   int
		offset  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List journaled bundles",
		Example: `  # Failed bundles of one session
  banga journal list --session 6f1c... --status failed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			filter := journal.Filter{Limit: limit, Offset: offset}
			if session != "" {
				filter.SessionID = &session
			}
			switch journal.Status(status) {
			case "":
			case journal.StatusSent, journal.StatusFailed:
				st := journal.Status(status)
				filter.Status = &st
			default:
				return fmt.Errorf("invalid status %q: want %s or %s", status, journal.StatusSent, journal.StatusFailed)
			}

			store, err := open(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.ListBundles(ctx, filter)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), entries)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tSEQ\tTIME\tMESSAGES\tBYTES\tSTATUS\tADDRESSES")
			for _, e := range entries {
				st := string(e.Status)
				if e.Error != nil {
					st += ": " + *e.Error
				}
				fmt.Fprintf(w, "%s\t%d\t%.6f\t%d\t%d\t%s\t%s\n",
					shortID(e.SessionID), e.Sequence, float64(engine.TimetagToTime(e.Timetag)),
					e.Messages, e.Bytes, st, strings.Join(e.Addresses, ","))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "only bundles of this session")
	cmd.Flags().StringVar(&status, "status", "", "only bundles with this status (sent, failed)")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of bundles (0 for all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of bundles to skip")

	return cmd
}

func newJournalPruneCommand(open storeOpener) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete sessions opened before a cutoff with their bundles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}

			store, err := open(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Prune(ctx, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d bundles\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "age of the sessions to delete")

	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
