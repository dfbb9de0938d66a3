package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bazelment/cursorbridge/session"
)

var cleanupDays int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and prune stored sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recently active first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return printSessions(cmd.OutOrStdout(), a.sessions.List(), time.Now())
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete sessions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		for _, id := range args {
			if err := a.sessions.DeleteSession(cmd.Context(), id); err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	},
}

var sessionsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove sessions idle longer than the retention window",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		days := a.cfg.Sessions.RetentionDays
		if cleanupDays > 0 {
			days = cleanupDays
		}
		ids, err := a.sessions.CleanupStale(cmd.Context(), days)
		for _, id := range ids {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return err
	},
}

func init() {
	sessionsCleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "Retention window in days (default: sessions.retention_days)")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsDeleteCmd, sessionsCleanupCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func printSessions(w io.Writer, sessions []session.Session, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMODE\tMODEL\tRESUMABLE\tLAST ACTIVE\tCWD")
	for _, s := range sessions {
		resumable := "no"
		if s.ResumeID != "" {
			resumable = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.Mode, dash(s.Model), resumable, since(now, s.LastActivity), dash(s.Cwd))
	}
	return tw.Flush()
}

func since(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
