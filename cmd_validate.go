package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"traitpair/internal/config"
	"traitpair/internal/database"
	"traitpair/internal/design"
	"traitpair/internal/repository"
	"traitpair/internal/services"
	"traitpair/internal/tracker"
)

type validateReport struct {
	ConfigFile string         `json:"config_file"`
	Traits     map[string]int `json:"stimuli_per_trait"`
	Trials     int            `json:"trials"`
	Relaxed    bool           `json:"spacing_relaxed"`
	Missing    []string       `json:"missing_stimuli,omitempty"`
	Tracker    string         `json:"tracker"`
	Archive    string         `json:"archive"`
}

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration, stimulus files, tracker and archive",
		Long: `Validate the experiment setup before running a participant.

This command checks:
  - the configuration file and trait definitions
  - that every stimulus video of the trial list exists
  - that the eye tracker is reachable (when enabled)
  - that the session archive can be opened (when enabled)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, log, err := loadProject(cmd)
			if err != nil {
				return err
			}
			defer log.Sync()

			report := validateReport{ConfigFile: cfg.File, Traits: make(map[string]int)}
			for _, t := range cfg.Traits {
				report.Traits[t.Name] = len(t.High) + len(t.Low)
			}

			opts, err := cfg.DesignOptions()
			if err != nil {
				return err
			}
			res, err := design.Generate(cfg.Traits, opts, rand.New(rand.NewSource(1)))
			if err != nil {
				return err
			}
			report.Trials = len(res.Trials)
			report.Relaxed = res.Relaxed
			report.Missing = design.MissingStimuli(res.Trials, opts.StimulusDir)

			report.Tracker = checkTracker(cmd.Context(), cfg, log)
			report.Archive = checkArchive(cfg, log)

			if jsonOut {
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			} else {
				printValidate(cmd, report)
			}
			if len(report.Missing) > 0 {
				return fmt.Errorf("%d stimulus files are missing", len(report.Missing))
			}
			return nil
		},
	}
	return cmd
}

func checkTracker(ctx context.Context, cfg *config.Config, log *zap.Logger) string {
	if !cfg.EyeTracker.Enabled {
		return "disabled"
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	link := tracker.Open(ctx, cfg.TrackerOptions(), log)
	defer link.Close()
	if !link.Live() {
		return "unreachable at " + cfg.EyeTracker.Address + " (sessions fall back to simulation)"
	}
	return "connected to " + cfg.EyeTracker.Address
}

func checkArchive(cfg *config.Config, log *zap.Logger) string {
	if !cfg.Archive.Enabled {
		return "disabled"
	}
	_, closeArchive, err := openArchive(cfg, log)
	if err != nil {
		return "error: " + err.Error()
	}
	closeArchive()
	return "ok (" + cfg.Archive.Driver + ")"
}

// openArchive opens the configured archive database.
func openArchive(cfg *config.Config, log *zap.Logger) (*repository.Archive, func(), error) {
	db, err := database.Open(cfg.Archive.Driver, services.ArchiveDSN(cfg), log)
	if err != nil {
		return nil, nil, err
	}
	return repository.NewArchive(db), func() {
		if err := database.Close(db); err != nil {
			log.Warn("Failed to close archive", zap.Error(err))
		}
	}, nil
}

func printValidate(cmd *cobra.Command, r validateReport) {
	w := cmd.OutOrStdout()
	file := r.ConfigFile
	if file == "" {
		file = "(defaults)"
	}
	fmt.Fprintf(w, "Config:  %s\n", file)
	fmt.Fprintf(w, "Traits:  %d, %d trials\n", len(r.Traits), r.Trials)
	if r.Relaxed {
		fmt.Fprintln(w, "Spacing: relaxed for seed 1; other seeds may satisfy it")
	}
	fmt.Fprintf(w, "Tracker: %s\n", r.Tracker)
	fmt.Fprintf(w, "Archive: %s\n", r.Archive)
	if len(r.Missing) == 0 {
		fmt.Fprintln(w, "Stimuli: all present")
		return
	}
	fmt.Fprintf(w, "Stimuli: %d missing\n", len(r.Missing))
	for _, m := range r.Missing {
		fmt.Fprintf(w, "  %s\n", m)
	}
}
