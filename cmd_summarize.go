package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	logging "traitpair/internal/logging"
	"traitpair/internal/metrics"
	"traitpair/internal/models"
	"traitpair/internal/repository"
)

func newSummarizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summarize <data-file>",
		Short: "Recompute the session summary from a trial data file",
		Long: `Read a session data file (CSV or JSON) and recompute its summary:
completion counts, high-video choice rate, response times per trait.

Examples:
  traitpair summarize data/pairwise_P01_20250314_093000.csv
  traitpair summarize data/pairwise_P01_20250314_093000.json --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			log := logging.NewConsole(cmd.ErrOrStderr())
			defer log.Sync()

			data, err := repository.LoadTrialRecords(args[0])
			if err != nil {
				return err
			}
			summary := summarizeRecords(data)
			log.Info("Summary computed", zap.String("file", args[0]), zap.Int("records", len(data.Trials)))

			if jsonOut {
				return printJSON(cmd.OutOrStdout(), summary)
			}
			printSummary(cmd, summary)
			return nil
		},
	}
	return cmd
}

// summarizeRecords rebuilds a summary from records read back from disk.
// Start and end times are not stored per row and stay zero.
func summarizeRecords(data *repository.SessionData) models.SessionSummary {
	seen := make(map[string]bool)
	var traits []string
	for _, r := range data.Trials {
		if !seen[r.Trait] {
			seen[r.Trait] = true
			traits = append(traits, r.Trait)
		}
	}
	sort.Strings(traits)
	return metrics.Summarize(data.Trials, metrics.SessionInfo{
		ParticipantID: data.ParticipantID,
		Session:       data.Session,
		TotalTrials:   len(data.Trials),
		Traits:        traits,
	})
}

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions stored in the archive",
		Long: `List archived sessions, newest first, or show the trials of one session.

Examples:
  traitpair sessions
  traitpair sessions --participant P01
  traitpair sessions --show 1b4e28ba-2fa1-11d2-883f-0016d3cca427 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			participant, _ := cmd.Flags().GetString("participant")
			show, _ := cmd.Flags().GetString("show")

			cfg, log, err := loadProject(cmd)
			if err != nil {
				return err
			}
			defer log.Sync()

			archive, closeArchive, err := openArchive(cfg, log)
			if err != nil {
				return err
			}
			defer closeArchive()

			ctx := cmd.Context()
			if show != "" {
				return showSession(cmd, archive, show, jsonOut)
			}

			rows, err := archive.ListSessions(ctx, participant)
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), rows)
			}
			w := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(w, "No archived sessions")
				return nil
			}
			for _, r := range rows {
				status := ""
				if r.Aborted {
					status = " (aborted)"
				}
				fmt.Fprintf(w, "%s  %-10s s%d  %s  %d/%d trials  high %.1f%%%s\n",
					r.SessionID, r.ParticipantID, r.Session, r.StartTime.Format("2006-01-02 15:04"),
					r.CompletedTrials, r.TotalTrials, r.HighChoiceRate*100, status)
			}
			return nil
		},
	}

	cmd.Flags().String("participant", "", "Only list sessions of this participant")
	cmd.Flags().String("show", "", "Show the trials of the session with this ID")

	return cmd
}

func showSession(cmd *cobra.Command, archive *repository.Archive, sessionID string, jsonOut bool) error {
	ctx := cmd.Context()
	row, err := archive.FindSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("session %s: %w", sessionID, err)
	}
	trials, err := archive.SessionTrials(ctx, row.ID)
	if err != nil {
		return err
	}
	events, err := archive.SessionEvents(ctx, row.ID)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"session": row,
			"trials":  trials,
			"events":  len(events),
		})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Session %s: participant %s, session %d, %d events\n", row.SessionID, row.ParticipantID, row.Session, len(events))
	for _, t := range trials {
		rt := "-"
		if t.ResponseTime != nil {
			rt = fmt.Sprintf("%.3fs", *t.ResponseTime)
		}
		fmt.Fprintf(w, "  %3d  %-20s high=%-5s response=%-5s %-9s RT %s\n",
			t.TrialID, t.Trait, t.HighPosition, t.Response, t.Status, rt)
	}
	return nil
}
