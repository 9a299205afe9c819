package design

import (
	stderrors "errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	apperrors "traitpair/internal/errors"
	"traitpair/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trait(name string, nHigh, nLow int) models.TraitSpec {
	t := models.TraitSpec{Name: name}
	prefix := models.TraitFolder(name)
	for i := 1; i <= nHigh; i++ {
		t.High = append(t.High, fmt.Sprintf("%s_high_%02d.mp4", prefix, i))
	}
	for i := 1; i <= nLow; i++ {
		t.Low = append(t.Low, fmt.Sprintf("%s_low_%02d.mp4", prefix, i))
	}
	return t
}

func bigFive(n int) []models.TraitSpec {
	var out []models.TraitSpec
	for _, name := range models.KnownTraits {
		out = append(out, trait(name, n, n))
	}
	return out
}

func assertDenseIDs(t *testing.T, trials []models.TrialDescriptor) {
	t.Helper()
	for i, tr := range trials {
		assert.Equal(t, i+1, tr.TrialID, "trial at index %d", i)
	}
}

func assertPairsReproduced(t *testing.T, traits []models.TraitSpec, trials []models.TrialDescriptor) {
	t.Helper()
	got := make(map[string]int)
	for _, tr := range trials {
		got[tr.Trait+"|"+tr.HighVideo+"|"+tr.LowVideo]++
	}
	want := 0
	for _, tt := range traits {
		for _, h := range tt.High {
			for _, l := range tt.Low {
				want++
				assert.Equal(t, 1, got[tt.Name+"|"+h+"|"+l], "pair %s %s/%s", tt.Name, h, l)
			}
		}
	}
	assert.Len(t, trials, want)
}

func TestGenerateScenarioA(t *testing.T) {
	traits := []models.TraitSpec{{
		Name: models.TraitExtraversion,
		High: []string{"h1", "h2"},
		Low:  []string{"l1", "l2"},
	}}

	res, err := Generate(traits, Options{
		Pairing:         PairingPolicy{Kind: FullFactorial},
		RandomizeOrder:  true,
		MinTraitGap:     0,
		BalancePosition: true,
	}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	require.Len(t, res.Trials, 4)
	assert.False(t, res.Relaxed)
	assertDenseIDs(t, res.Trials)
	assertPairsReproduced(t, traits, res.Trials)
}

func TestGeneratePositionsAreConsistent(t *testing.T) {
	res, err := Generate(bigFive(3), Options{BalancePosition: true, RandomizeOrder: true, MinTraitGap: 1},
		rand.New(rand.NewSource(7)))
	require.NoError(t, err)

	for _, tr := range res.Trials {
		switch tr.HighPosition {
		case models.PositionLeft:
			assert.Equal(t, tr.HighVideo, tr.VideoLeft)
			assert.Equal(t, tr.LowVideo, tr.VideoRight)
		case models.PositionRight:
			assert.Equal(t, tr.HighVideo, tr.VideoRight)
			assert.Equal(t, tr.LowVideo, tr.VideoLeft)
		default:
			t.Fatalf("trial %d has no high position", tr.TrialID)
		}
	}

	summary := Describe(res.Trials)
	assert.Equal(t, 45, summary.Total)
	assert.Equal(t, 45, summary.HighLeft+summary.HighRight)
	assert.NotZero(t, summary.HighLeft)
	assert.NotZero(t, summary.HighRight)
}

func TestGenerateFixedPosition(t *testing.T) {
	res, err := Generate(bigFive(2), Options{}, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	for _, tr := range res.Trials {
		assert.Equal(t, models.PositionLeft, tr.HighPosition)
	}
}

func TestGenerateBlockedOrderWithoutRandomization(t *testing.T) {
	traits := bigFive(2)
	res, err := Generate(traits, Options{MinTraitGap: 3}, rand.New(rand.NewSource(3)))
	require.NoError(t, err)

	assertDenseIDs(t, res.Trials)
	for i, tr := range res.Trials {
		assert.Equal(t, traits[i/4].Name, tr.Trait)
	}
	assert.False(t, res.Relaxed)
}

func TestGenerateFullFactorialCounts(t *testing.T) {
	traits := []models.TraitSpec{
		trait(models.TraitExtraversion, 5, 5),
		trait(models.TraitOpenness, 3, 2),
		trait(models.TraitAgreeableness, 1, 4),
	}
	res, err := Generate(traits, Options{RandomizeOrder: true, BalancePosition: true, MinTraitGap: 0},
		rand.New(rand.NewSource(11)))
	require.NoError(t, err)

	summary := Describe(res.Trials)
	assert.Equal(t, 25, summary.PerTrait[models.TraitExtraversion])
	assert.Equal(t, 6, summary.PerTrait[models.TraitOpenness])
	assert.Equal(t, 4, summary.PerTrait[models.TraitAgreeableness])
	assertDenseIDs(t, res.Trials)
	assertPairsReproduced(t, traits, res.Trials)
}

func TestGenerateHonoursGap(t *testing.T) {
	traits := bigFive(2)
	for seed := int64(1); seed <= 50; seed++ {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			res, err := Generate(traits, Options{
				RandomizeOrder:  true,
				MinTraitGap:     2,
				BalancePosition: true,
			}, rand.New(rand.NewSource(seed)))
			require.NoError(t, err)

			assert.False(t, res.Relaxed)
			assert.Empty(t, SpacingViolations(res.Trials, 2))
			assertDenseIDs(t, res.Trials)
			assertPairsReproduced(t, traits, res.Trials)
		})
	}
}

func TestGenerateIsReproducible(t *testing.T) {
	opts := Options{RandomizeOrder: true, MinTraitGap: 2, BalancePosition: true}
	a, err := Generate(bigFive(3), opts, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	b, err := Generate(bigFive(3), opts, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	assert.Equal(t, a.Trials, b.Trials)
}

func TestGenerateRelaxesImpossibleGap(t *testing.T) {
	traits := []models.TraitSpec{
		trait(models.TraitExtraversion, 2, 2),
		trait(models.TraitOpenness, 1, 1),
	}
	res, err := Generate(traits, Options{RandomizeOrder: true, MinTraitGap: 2}, rand.New(rand.NewSource(5)))
	require.NoError(t, err)

	assert.True(t, res.Relaxed)
	assert.NotEmpty(t, res.Violations)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, SpacingViolations(res.Trials, 2), res.Violations)
	assertDenseIDs(t, res.Trials)
	assertPairsReproduced(t, traits, res.Trials)
}

func TestGenerateStrictFailsOnImpossibleGap(t *testing.T) {
	traits := []models.TraitSpec{trait(models.TraitExtraversion, 2, 2)}
	_, err := Generate(traits, Options{RandomizeOrder: true, MinTraitGap: 1, Strict: true}, rand.New(rand.NewSource(5)))
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, apperrors.ErrConstraintUnsatisfiable))
}

func TestGenerateRejectsBadInput(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	_, err := Generate(nil, Options{}, rng)
	assert.True(t, stderrors.Is(err, apperrors.ErrConfiguration))

	_, err = Generate(bigFive(1), Options{MinTraitGap: -1}, rng)
	assert.True(t, stderrors.Is(err, apperrors.ErrConfiguration))

	overlap := []models.TraitSpec{{Name: models.TraitOpenness, High: []string{"a"}, Low: []string{"a"}}}
	_, err = Generate(overlap, Options{}, rng)
	assert.True(t, stderrors.Is(err, apperrors.ErrConfiguration))
}

func TestMatchedPairing(t *testing.T) {
	traits := []models.TraitSpec{trait(models.TraitConscientiousness, 3, 3)}
	res, err := Generate(traits, Options{Pairing: PairingPolicy{Kind: Matched}}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	require.Len(t, res.Trials, 3)
	for i, tr := range res.Trials {
		assert.Equal(t, traits[0].High[i], tr.HighVideo)
		assert.Equal(t, traits[0].Low[i], tr.LowVideo)
	}

	_, err = Generate([]models.TraitSpec{trait(models.TraitOpenness, 2, 3)},
		Options{Pairing: PairingPolicy{Kind: Matched}}, rand.New(rand.NewSource(1)))
	assert.True(t, stderrors.Is(err, apperrors.ErrConfiguration))
}

func TestBalancedSamplePairing(t *testing.T) {
	traits := []models.TraitSpec{trait(models.TraitAgreeableness, 3, 3)}
	res, err := Generate(traits, Options{Pairing: PairingPolicy{Kind: BalancedSample, SampleSize: 3}},
		rand.New(rand.NewSource(9)))
	require.NoError(t, err)
	require.Len(t, res.Trials, 3)

	highs := make(map[string]int)
	lows := make(map[string]int)
	for _, tr := range res.Trials {
		highs[tr.HighVideo]++
		lows[tr.LowVideo]++
	}
	assert.Len(t, highs, 3)
	assert.Len(t, lows, 3)

	_, err = Generate(traits, Options{Pairing: PairingPolicy{Kind: BalancedSample, SampleSize: 10}},
		rand.New(rand.NewSource(9)))
	assert.True(t, stderrors.Is(err, apperrors.ErrConfiguration))
}

func TestParsePairing(t *testing.T) {
	p, err := ParsePairing("balanced_sample", 4)
	require.NoError(t, err)
	assert.Equal(t, PairingPolicy{Kind: BalancedSample, SampleSize: 4}, p)

	_, err = ParsePairing("balanced_sample", 0)
	assert.Error(t, err)
	_, err = ParsePairing("latin_square", 0)
	assert.Error(t, err)
}

func TestStimulusPaths(t *testing.T) {
	traits := []models.TraitSpec{{Name: models.TraitEmotionalStability, High: []string{"h.mp4"}, Low: []string{"l.mp4"}}}
	res, err := Generate(traits, Options{StimulusDir: "stimuli"}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	tr := res.Trials[0]
	assert.Equal(t, filepath.Join("stimuli", "emotional_stability", "high", "h.mp4"), tr.VideoLeftPath)
	assert.Equal(t, filepath.Join("stimuli", "emotional_stability", "low", "l.mp4"), tr.VideoRightPath)
}

func TestSpacingViolations(t *testing.T) {
	trials := []models.TrialDescriptor{
		{TrialID: 1, Trait: "A"},
		{TrialID: 2, Trait: "B"},
		{TrialID: 3, Trait: "A"},
		{TrialID: 4, Trait: "A"},
	}
	assert.Empty(t, SpacingViolations(trials, 0))
	assert.Equal(t, []Violation{{Trait: "A", First: 3, Second: 4}}, SpacingViolations(trials, 1))
	assert.Len(t, SpacingViolations(trials, 2), 2)
}

func TestPracticeTrials(t *testing.T) {
	traits := bigFive(2)
	practice := PracticeTrials(traits, 3, "", rand.New(rand.NewSource(2)))
	require.Len(t, practice, 3)

	seen := make(map[string]bool)
	for i, p := range practice {
		assert.True(t, p.Practice)
		assert.Equal(t, i+1, p.TrialID)
		assert.False(t, seen[p.Trait])
		seen[p.Trait] = true
	}

	assert.Len(t, PracticeTrials(traits, 10, "", rand.New(rand.NewSource(2))), 5)
	assert.Nil(t, PracticeTrials(traits, 0, "", rand.New(rand.NewSource(2))))
}

func TestShouldTakeBreak(t *testing.T) {
	tests := []struct {
		completed, total, every int
		want                    bool
	}{
		{0, 100, 20, false},
		{20, 100, 20, true},
		{21, 100, 20, false},
		{40, 41, 20, false},
		{20, 100, 0, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ShouldTakeBreak(tt.completed, tt.total, tt.every), "%+v", tt)
	}
}

func TestLoadStimuliDir(t *testing.T) {
	base := t.TempDir()
	touch := func(parts ...string) {
		p := filepath.Join(append([]string{base}, parts...)...)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, nil, 0o644))
	}
	touch("extraversion", "high", "b.mp4")
	touch("extraversion", "high", "a.mp4")
	touch("extraversion", "low", "c.mp4")
	touch("extraversion", "low", "notes.txt")
	touch("openness", "high", "o.mp4")

	traits, warnings, err := LoadStimuliDir(base, []string{models.TraitExtraversion, models.TraitOpenness}, "")
	require.NoError(t, err)
	require.Len(t, traits, 1)
	assert.Equal(t, []string{"a.mp4", "b.mp4"}, traits[0].High)
	assert.Equal(t, []string{"c.mp4"}, traits[0].Low)
	assert.Len(t, warnings, 1)

	_, _, err = LoadStimuliDir(filepath.Join(base, "empty"), []string{models.TraitOpenness}, ".mp4")
	assert.True(t, stderrors.Is(err, apperrors.ErrConfiguration))
}

func TestMissingStimuli(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(base, "present.mp4"), nil, 0o644))

	trials := []models.TrialDescriptor{
		{TrialID: 1, VideoLeft: "present.mp4", VideoRight: "gone.mp4"},
		{TrialID: 2, VideoLeft: "gone.mp4", VideoRight: "present.mp4"},
	}
	assert.Equal(t, []string{filepath.Join(base, "gone.mp4")}, MissingStimuli(trials, base))
}
