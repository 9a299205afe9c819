package main

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"traitpair/internal/design"
	apperrors "traitpair/internal/errors"
	"traitpair/internal/repository"
	"traitpair/internal/utils"
)

type generateOutput struct {
	Path       string             `json:"path"`
	Seed       int64              `json:"seed"`
	Summary    design.ListSummary `json:"summary"`
	Relaxed    bool               `json:"relaxed"`
	Violations []design.Violation `json:"violations,omitempty"`
	Attempts   int                `json:"attempts"`
	Missing    []string           `json:"missing_stimuli,omitempty"`
}

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate and save the trial list for a participant",
		Long: `Generate the ordered trial list from the configured traits and design
settings and save it as CSV.

Examples:
  traitpair generate --participant P01 --seed 42
  traitpair generate --participant P01 --out lists/P01.csv --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			participant, _ := cmd.Flags().GetString("participant")
			seed, _ := cmd.Flags().GetInt64("seed")
			out, _ := cmd.Flags().GetString("out")

			cfg, log, err := loadProject(cmd)
			if err != nil {
				return err
			}
			defer log.Sync()

			participant = utils.NormalizeParticipantID(participant)
			if !utils.IsValidParticipantID(participant) {
				return apperrors.InvalidInput("invalid participant id %q", participant)
			}
			if seed == 0 {
				seed = cfg.Design.Seed
			}
			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			opts, err := cfg.DesignOptions()
			if err != nil {
				return err
			}
			res, err := design.Generate(cfg.Traits, opts, rand.New(rand.NewSource(seed)))
			if err != nil {
				return err
			}

			if out == "" {
				out = repository.NewSessionPaths(cfg.Path(cfg.Data.Directory), cfg.Data.Prefix, participant, cfg.Data.Format, time.Now()).TrialList
			} else {
				out = cfg.Path(out)
			}
			if err := repository.SaveTrialList(out, res.Trials); err != nil {
				return err
			}
			log.Info("Trial list saved", zap.String("path", out), zap.Int("trials", len(res.Trials)), zap.Int64("seed", seed))

			result := generateOutput{
				Path:       out,
				Seed:       seed,
				Summary:    design.Describe(res.Trials),
				Relaxed:    res.Relaxed,
				Violations: res.Violations,
				Attempts:   res.Attempts,
				Missing:    design.MissingStimuli(res.Trials, opts.StimulusDir),
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), result)
			}
			printGenerate(cmd, result)
			return nil
		},
	}

	cmd.Flags().String("participant", "", "Participant ID (required)")
	cmd.Flags().Int64("seed", 0, "Random seed (0 uses design.seed, then the clock)")
	cmd.Flags().String("out", "", "Output CSV path (default: data directory)")
	cmd.MarkFlagRequired("participant")

	return cmd
}

func printGenerate(cmd *cobra.Command, r generateOutput) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Generated %d trials (seed %d)\n", r.Summary.Total, r.Seed)
	traits := make([]string, 0, len(r.Summary.PerTrait))
	for t := range r.Summary.PerTrait {
		traits = append(traits, t)
	}
	sort.Strings(traits)
	for _, t := range traits {
		fmt.Fprintf(w, "  %-20s %d\n", t, r.Summary.PerTrait[t])
	}
	fmt.Fprintf(w, "High video left/right: %d/%d\n", r.Summary.HighLeft, r.Summary.HighRight)
	if r.Relaxed {
		fmt.Fprintf(w, "Trait spacing relaxed after %d attempts: %d violations\n", r.Attempts, len(r.Violations))
	}
	if len(r.Missing) > 0 {
		fmt.Fprintf(w, "Missing stimulus files: %d\n", len(r.Missing))
	}
	fmt.Fprintf(w, "Saved to %s\n", r.Path)
}
