// Package design builds the ordered trial list of a session from the trait
// definitions: pair construction, left/right counterbalancing and a
// randomized order that keeps trials of the same trait apart.
package design

import (
	"math/rand"
	"path/filepath"

	apperrors "traitpair/internal/errors"
	"traitpair/internal/models"
)

// PairingKind selects how high and low stimuli of a trait are paired.
type PairingKind string

const (
	FullFactorial  PairingKind = "full_factorial"
	Matched        PairingKind = "matched"
	BalancedSample PairingKind = "balanced_sample"
)

// PairingPolicy is a pairing kind plus the sample size used by BalancedSample.
type PairingPolicy struct {
	Kind       PairingKind
	SampleSize int
}

// ParsePairing validates a pairing kind read from configuration.
func ParsePairing(kind string, sampleSize int) (PairingPolicy, error) {
	switch PairingKind(kind) {
	case FullFactorial, Matched:
		return PairingPolicy{Kind: PairingKind(kind)}, nil
	case BalancedSample:
		if sampleSize <= 0 {
			return PairingPolicy{}, apperrors.Configuration("balanced_sample needs a positive sample size, got %d", sampleSize)
		}
		return PairingPolicy{Kind: BalancedSample, SampleSize: sampleSize}, nil
	}
	return PairingPolicy{}, apperrors.Configuration("unknown pairing policy %q", kind)
}

// DefaultMaxAttempts bounds the constrained shuffle retries.
const DefaultMaxAttempts = 100

// Options controls trial list generation.
type Options struct {
	Pairing         PairingPolicy
	RandomizeOrder  bool
	MinTraitGap     int // trials of other traits required between two trials of one trait
	BalancePosition bool
	MaxAttempts     int
	Strict          bool   // fail instead of relaxing the gap
	StimulusDir     string // optional; fills VideoLeftPath/VideoRightPath
}

// Violation is a pair of same-trait trials closer than the configured gap.
type Violation struct {
	Trait  string
	First  int
	Second int
}

// Result is a generated trial list. Relaxed is set when the gap could not be
// honoured and the best found ordering was returned instead.
type Result struct {
	Trials     []models.TrialDescriptor
	Relaxed    bool
	Violations []Violation
	Attempts   int
}

type pair struct {
	high string
	low  string
}

// Generate produces the trial list for the given traits. It is a pure
// function of its inputs and rng.
func Generate(traits []models.TraitSpec, opts Options, rng *rand.Rand) (*Result, error) {
	if err := models.ValidateTraits(traits); err != nil {
		return nil, err
	}
	if opts.MinTraitGap < 0 {
		return nil, apperrors.Configuration("minimum trait gap must not be negative, got %d", opts.MinTraitGap)
	}
	if opts.Pairing.Kind == "" {
		opts.Pairing.Kind = FullFactorial
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}

	blocks := make([][]models.TrialDescriptor, 0, len(traits))
	for _, t := range traits {
		pairs, err := buildPairs(t, opts.Pairing, rng)
		if err != nil {
			return nil, err
		}
		block := make([]models.TrialDescriptor, 0, len(pairs))
		for _, p := range pairs {
			highLeft := true
			if opts.BalancePosition {
				highLeft = rng.Intn(2) == 0
			}
			block = append(block, newDescriptor(t.Name, p, highLeft, opts.StimulusDir))
		}
		blocks = append(blocks, block)
	}

	res := &Result{Attempts: 1}
	if !opts.RandomizeOrder {
		for _, b := range blocks {
			res.Trials = append(res.Trials, b...)
		}
		numberTrials(res.Trials)
		return res, nil
	}

	attempts := opts.MaxAttempts
	if !feasible(blocks, opts.MinTraitGap) {
		attempts = 1
	}

	var best []models.TrialDescriptor
	bestViolations := -1
	for a := 1; a <= attempts; a++ {
		res.Attempts = a
		order, violations := arrange(blocks, opts.MinTraitGap, rng)
		if bestViolations < 0 || violations < bestViolations {
			best, bestViolations = order, violations
		}
		if violations == 0 {
			break
		}
	}

	numberTrials(best)
	res.Trials = best
	if bestViolations > 0 {
		if opts.Strict {
			return nil, apperrors.ConstraintUnsatisfiable(
				"no ordering keeps %d trials between same-trait trials after %d attempts", opts.MinTraitGap, res.Attempts)
		}
		res.Relaxed = true
		res.Violations = SpacingViolations(best, opts.MinTraitGap)
	}
	return res, nil
}

func buildPairs(t models.TraitSpec, policy PairingPolicy, rng *rand.Rand) ([]pair, error) {
	switch policy.Kind {
	case FullFactorial:
		return crossProduct(t), nil
	case Matched:
		if len(t.High) != len(t.Low) {
			return nil, apperrors.Configuration("matched pairing for %q needs equal high and low counts, got %d and %d",
				t.Name, len(t.High), len(t.Low))
		}
		pairs := make([]pair, len(t.High))
		for i := range t.High {
			pairs[i] = pair{high: t.High[i], low: t.Low[i]}
		}
		return pairs, nil
	case BalancedSample:
		total := len(t.High) * len(t.Low)
		if policy.SampleSize < 1 || policy.SampleSize > total {
			return nil, apperrors.Configuration("balanced sample of %d pairs for %q must be between 1 and %d",
				policy.SampleSize, t.Name, total)
		}
		return balancedSample(t, policy.SampleSize, rng), nil
	}
	return nil, apperrors.Configuration("unknown pairing policy %q", policy.Kind)
}

func crossProduct(t models.TraitSpec) []pair {
	pairs := make([]pair, 0, len(t.High)*len(t.Low))
	for _, h := range t.High {
		for _, l := range t.Low {
			pairs = append(pairs, pair{high: h, low: l})
		}
	}
	return pairs
}

// balancedSample draws n distinct pairs, always taking the candidate whose
// stimuli have been used least so far.
func balancedSample(t models.TraitSpec, n int, rng *rand.Rand) []pair {
	candidates := crossProduct(t)
	rng.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })

	useHigh := make(map[string]int, len(t.High))
	useLow := make(map[string]int, len(t.Low))
	out := make([]pair, 0, n)
	for len(out) < n {
		best, bestScore := -1, 0
		for i, c := range candidates {
			score := useHigh[c.high] + useLow[c.low]
			if best < 0 || score < bestScore {
				best, bestScore = i, score
			}
		}
		chosen := candidates[best]
		candidates = append(candidates[:best], candidates[best+1:]...)
		useHigh[chosen.high]++
		useLow[chosen.low]++
		out = append(out, chosen)
	}
	return out
}

func newDescriptor(trait string, p pair, highLeft bool, stimulusDir string) models.TrialDescriptor {
	d := models.TrialDescriptor{
		Trait:     trait,
		HighVideo: p.high,
		LowVideo:  p.low,
	}
	leftLevel, rightLevel := "low", "high"
	if highLeft {
		d.VideoLeft, d.VideoRight = p.high, p.low
		d.HighPosition = models.PositionLeft
		leftLevel, rightLevel = "high", "low"
	} else {
		d.VideoLeft, d.VideoRight = p.low, p.high
		d.HighPosition = models.PositionRight
	}
	if stimulusDir != "" {
		folder := models.TraitFolder(trait)
		d.VideoLeftPath = filepath.Join(stimulusDir, folder, leftLevel, d.VideoLeft)
		d.VideoRightPath = filepath.Join(stimulusDir, folder, rightLevel, d.VideoRight)
	}
	return d
}

func numberTrials(trials []models.TrialDescriptor) {
	for i := range trials {
		trials[i].TrialID = i + 1
	}
}

// feasible applies the necessary condition (m-1)*gap <= N-m for the trait
// with the most trials m out of N.
func feasible(blocks [][]models.TrialDescriptor, gap int) bool {
	total, most := 0, 0
	for _, b := range blocks {
		total += len(b)
		if len(b) > most {
			most = len(b)
		}
	}
	if most == 0 {
		return true
	}
	return (most-1)*gap <= total-most
}

// arrange runs one randomized greedy pass. At each position it picks among
// the traits whose last trial is far enough back, weighted by how many
// trials they have left. When no trait is eligible it takes the trait used
// longest ago and counts a violation.
func arrange(blocks [][]models.TrialDescriptor, gap int, rng *rand.Rand) ([]models.TrialDescriptor, int) {
	queues := make([][]models.TrialDescriptor, len(blocks))
	total := 0
	for i, b := range blocks {
		q := append([]models.TrialDescriptor(nil), b...)
		rng.Shuffle(len(q), func(a, c int) { q[a], q[c] = q[c], q[a] })
		queues[i] = q
		total += len(q)
	}

	last := make([]int, len(blocks))
	for i := range last {
		last[i] = -1
	}

	order := make([]models.TrialDescriptor, 0, total)
	violations := 0
	for pos := 0; pos < total; pos++ {
		weight := 0
		for i, q := range queues {
			if len(q) > 0 && spaced(last[i], pos, gap) {
				weight += len(q)
			}
		}

		chosen := -1
		if weight > 0 {
			r := rng.Intn(weight)
			for i, q := range queues {
				if len(q) == 0 || !spaced(last[i], pos, gap) {
					continue
				}
				if r < len(q) {
					chosen = i
					break
				}
				r -= len(q)
			}
		} else {
			violations++
			for i, q := range queues {
				if len(q) == 0 {
					continue
				}
				if chosen < 0 || last[i] < last[chosen] {
					chosen = i
				}
			}
		}

		q := queues[chosen]
		order = append(order, q[len(q)-1])
		queues[chosen] = q[:len(q)-1]
		last[chosen] = pos
	}
	return order, violations
}

func spaced(last, pos, gap int) bool {
	return last < 0 || pos-last-1 >= gap
}

// SpacingViolations lists consecutive same-trait trials with fewer than gap
// other trials between them.
func SpacingViolations(trials []models.TrialDescriptor, gap int) []Violation {
	var out []Violation
	lastIdx := make(map[string]int)
	for i, t := range trials {
		if j, ok := lastIdx[t.Trait]; ok && i-j-1 < gap {
			out = append(out, Violation{Trait: t.Trait, First: trials[j].TrialID, Second: t.TrialID})
		}
		lastIdx[t.Trait] = i
	}
	return out
}
