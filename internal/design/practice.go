package design

import (
	"math/rand"

	"traitpair/internal/models"
)

// PracticeTrials builds up to n practice trials, each from a different
// randomly chosen trait, using the first high and first low stimulus.
func PracticeTrials(traits []models.TraitSpec, n int, stimulusDir string, rng *rand.Rand) []models.TrialDescriptor {
	if n <= 0 || len(traits) == 0 {
		return nil
	}
	if n > len(traits) {
		n = len(traits)
	}

	var out []models.TrialDescriptor
	for _, idx := range rng.Perm(len(traits))[:n] {
		t := traits[idx]
		if len(t.High) == 0 || len(t.Low) == 0 {
			continue
		}
		d := newDescriptor(t.Name, pair{high: t.High[0], low: t.Low[0]}, rng.Intn(2) == 0, stimulusDir)
		d.TrialID = len(out) + 1
		d.Practice = true
		out = append(out, d)
	}
	return out
}

// ListSummary describes the composition of a trial list.
type ListSummary struct {
	Total     int            `json:"total_trials"`
	PerTrait  map[string]int `json:"trials_per_trait"`
	HighLeft  int            `json:"high_left_count"`
	HighRight int            `json:"high_right_count"`
}

// Describe counts trials per trait and per high-video side.
func Describe(trials []models.TrialDescriptor) ListSummary {
	s := ListSummary{Total: len(trials), PerTrait: make(map[string]int)}
	for _, t := range trials {
		s.PerTrait[t.Trait]++
		if t.HighPosition == models.PositionLeft {
			s.HighLeft++
		} else {
			s.HighRight++
		}
	}
	return s
}

// ShouldTakeBreak reports whether a break screen belongs before the trial at
// index completed. There is no break before the first trial or before the
// last one.
func ShouldTakeBreak(completed, total, every int) bool {
	if every <= 0 {
		return false
	}
	if completed == 0 || completed >= total-1 {
		return false
	}
	return completed%every == 0
}
