package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"

	"github.com/spf13/cobra"

	"traitpair/internal/config"
	"traitpair/internal/models"
	"traitpair/internal/services"
)

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a full session with a simulated participant",
		Long: `Run a complete session on a virtual clock: practice trials, main trials,
breaks, eye tracker messages and all data files. Ctrl+C aborts the session;
everything recorded so far is still saved.

Examples:
  traitpair simulate --participant P01
  traitpair simulate --participant P01 --session 2 --seed 7 --pace 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			participant, _ := cmd.Flags().GetString("participant")
			session, _ := cmd.Flags().GetInt("session")
			seed, _ := cmd.Flags().GetInt64("seed")
			pace, _ := cmd.Flags().GetFloat64("pace")
			accuracy, _ := cmd.Flags().GetFloat64("accuracy")

			if accuracy < 0 || accuracy > 1 {
				return fmt.Errorf("--accuracy must be between 0 and 1, got %g", accuracy)
			}

			cfg, log, err := loadProject(cmd)
			if err != nil {
				return err
			}
			defer log.Sync()
			config.Watch(cfg, log)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			sigCh := make(chan os.Signal, 1)
			notifySignals(sigCh)
			defer signal.Stop(sigCh)
			go func() {
				select {
				case <-sigCh:
					log.Warn("Interrupt received; aborting session")
					cancel()
				case <-ctx.Done():
				}
			}()

			params := services.SessionParams{
				ParticipantID: participant,
				Session:       session,
				Seed:          seed,
				Pace:          pace,
				Accuracy:      accuracy,
			}

			res, err := services.RunSession(ctx, cfg, params, log)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"session_id":   res.SessionID,
					"seed":         res.Seed,
					"trials_file":  res.Paths.Trials,
					"events_file":  res.Paths.Events,
					"summary_file": res.Paths.Summary,
					"tracker_file": res.TrackerFile,
					"archive_id":   res.ArchiveID,
					"summary":      res.Summary,
				})
			}
			printSummary(cmd, res.Summary)
			fmt.Fprintf(cmd.OutOrStdout(), "Data: %s\n", res.Paths.Trials)
			return nil
		},
	}

	cmd.Flags().String("participant", "", "Participant ID (required)")
	cmd.Flags().Int("session", 1, "Session number")
	cmd.Flags().Int64("seed", 0, "Random seed (0 uses design.seed, then the clock)")
	cmd.Flags().Float64("pace", 0, "Run at this multiple of real time (0 runs instantly)")
	cmd.Flags().Float64("accuracy", 0.7, "Probability that the simulated participant picks the high video")
	cmd.MarkFlagRequired("participant")

	return cmd
}

func printSummary(cmd *cobra.Command, s models.SessionSummary) {
	w := cmd.OutOrStdout()
	status := "completed"
	if s.Aborted {
		status = "aborted"
	}
	fmt.Fprintf(w, "Participant %s, session %d: %s\n", s.ParticipantID, s.Session, status)
	fmt.Fprintf(w, "Trials: %d/%d completed, %d aborted\n", s.CompletedTrials, s.TotalTrials, s.AbortedTrials)
	fmt.Fprintf(w, "High video chosen: %d (%.1f%%)\n", s.HighChoiceCount, s.HighChoiceRate*100)
	fmt.Fprintf(w, "Response time: mean %.3fs, sd %.3fs\n", s.MeanResponseTime, s.StdResponseTime)
	if s.MeanConfidence > 0 {
		fmt.Fprintf(w, "Mean confidence: %.2f\n", s.MeanConfidence)
	}
	names := make([]string, 0, len(s.Traits))
	for name := range s.Traits {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := s.Traits[name]
		fmt.Fprintf(w, "  %-20s %d/%d high (%.1f%%), RT %.3fs\n", name, t.Correct, t.Completed, t.Accuracy*100, t.MeanResponseTime)
	}
}
