package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/crowdeval/mapseval/internal/model"
	"github.com/crowdeval/mapseval/internal/store"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect evaluation session history",
	Long:  "Commands for listing, viewing, and summarizing evaluation sessions.",
}

// -- sessions list --

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List evaluation sessions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		sessions, err := st.ListSessions(ctx, store.SessionFilter{
			Status: model.SessionStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "sessions list")
		}

		if len(sessions) == 0 {
			fmt.Fprintln(os.Stderr, "No sessions found.")
			return nil
		}

		formatSessionsList(os.Stdout, sessions)
		return nil
	},
}

// -- sessions show --

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session with its rating breakdown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sess, err := st.GetSession(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "sessions show")
		}
		counts, err := st.RatingCounts(ctx, sess.ID)
		if err != nil {
			return eris.Wrap(err, "rating counts")
		}

		out := struct {
			*model.Session
			RatingCounts map[model.Rating]int `json:"rating_counts"`
		}{sess, counts}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

// -- sessions stats --

var sessionsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate session statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")

		sessions, err := st.ListSessions(ctx, store.SessionFilter{Limit: 10000})
		if err != nil {
			return eris.Wrap(err, "sessions stats")
		}

		var cutoff time.Time
		if since > 0 {
			cutoff = time.Now().Add(-since)
		}
		formatSessionStats(os.Stdout, computeSessionStats(sessions, cutoff))
		return nil
	},
}

func init() {
	sessionsListCmd.Flags().String("status", "", "filter by session status (running, stopped, complete)")
	sessionsListCmd.Flags().Int("limit", 50, "max number of sessions to display")

	sessionsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsStatsCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// sessionStats holds aggregate statistics computed from a set of sessions.
type sessionStats struct {
	Total      int
	Running    int
	Complete   int
	Stopped    int
	Tasks      int
	AvgTasks   float64
	AvgDurSecs float64
}

func computeSessionStats(sessions []model.Session, cutoff time.Time) sessionStats {
	var s sessionStats

	var totalDur time.Duration
	var durCount int

	for _, sess := range sessions {
		if !cutoff.IsZero() && sess.StartedAt.Before(cutoff) {
			continue
		}
		s.Total++
		s.Tasks += sess.TasksLogged

		switch sess.Status {
		case model.SessionStatusRunning:
			s.Running++
		case model.SessionStatusComplete:
			s.Complete++
		case model.SessionStatusStopped:
			s.Stopped++
		}

		if sess.StoppedAt != nil {
			totalDur += sess.StoppedAt.Sub(sess.StartedAt)
			durCount++
		}
	}

	if s.Total > 0 {
		s.AvgTasks = float64(s.Tasks) / float64(s.Total)
	}
	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	return s
}

// formatSessionsList writes a tabular list of sessions to w.
func formatSessionsList(out io.Writer, sessions []model.Session) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tRATE\tTASKS\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t----\t-----\t-------\t--------")

	for _, s := range sessions {
		dur := ""
		if s.StoppedAt != nil {
			dur = s.StoppedAt.Sub(s.StartedAt).Round(time.Second).String()
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%d/hr\t%d\t%s\t%s\n",
			truncateID(s.ID),
			s.Status,
			s.TargetRate,
			s.TasksLogged,
			s.StartedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatSessionStats writes aggregate stats to w.
func formatSessionStats(out io.Writer, s sessionStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total sessions:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Running:\t%d\n", s.Running)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.Complete)
	_, _ = fmt.Fprintf(w, "Stopped:\t%d\n", s.Stopped)
	_, _ = fmt.Fprintf(w, "Tasks logged:\t%d\n", s.Tasks)
	if s.AvgTasks > 0 {
		_, _ = fmt.Fprintf(w, "Avg tasks/session:\t%.1f\n", s.AvgTasks)
	}
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
