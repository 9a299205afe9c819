package models

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	apperrors "traitpair/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraitValidate(t *testing.T) {
	tests := []struct {
		name    string
		trait   TraitSpec
		wantErr bool
	}{
		{"valid", TraitSpec{Name: TraitExtraversion, High: []string{"h1"}, Low: []string{"l1"}}, false},
		{"unknown trait", TraitSpec{Name: "Humour", High: []string{"h1"}, Low: []string{"l1"}}, true},
		{"no high", TraitSpec{Name: TraitOpenness, Low: []string{"l1"}}, true},
		{"no low", TraitSpec{Name: TraitOpenness, High: []string{"h1"}}, true},
		{"overlap", TraitSpec{Name: TraitOpenness, High: []string{"a", "b"}, Low: []string{"b"}}, true},
		{"duplicate high", TraitSpec{Name: TraitOpenness, High: []string{"a", "a"}, Low: []string{"b"}}, true},
		{"empty name", TraitSpec{Name: TraitOpenness, High: []string{""}, Low: []string{"b"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.trait.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, stderrors.Is(err, apperrors.ErrConfiguration))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateTraitsRejectsDuplicates(t *testing.T) {
	tr := TraitSpec{Name: TraitAgreeableness, High: []string{"h"}, Low: []string{"l"}}
	err := ValidateTraits([]TraitSpec{tr, tr})
	assert.True(t, stderrors.Is(err, apperrors.ErrConfiguration))

	assert.Error(t, ValidateTraits(nil))
}

func TestLoadTraits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "traits.yaml")
	content := `traits:
  - name: Extraversion
    high: [h1.mp4, h2.mp4]
    low: [l1.mp4, l2.mp4]
  - name: Openness
    question: "Who seems more curious?"
    high: [o_h.mp4]
    low: [o_l.mp4]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	traits, err := LoadTraits(path)
	require.NoError(t, err)
	require.Len(t, traits, 2)
	assert.Equal(t, DefaultQuestions[TraitExtraversion], traits[0].Question)
	assert.Equal(t, "Who seems more curious?", traits[1].Question)
	assert.Equal(t, []string{"h1.mp4", "h2.mp4"}, traits[0].High)
}

func TestLoadTraitsMissingFile(t *testing.T) {
	_, err := LoadTraits(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.True(t, stderrors.Is(err, apperrors.ErrConfiguration))
}

func TestTraitFolder(t *testing.T) {
	assert.Equal(t, "emotional_stability", TraitFolder(TraitEmotionalStability))
	assert.Equal(t, "openness", TraitFolder(TraitOpenness))
}

func TestParsePosition(t *testing.T) {
	p, err := ParsePosition("left")
	require.NoError(t, err)
	assert.Equal(t, PositionLeft, p)

	_, err = ParsePosition("up")
	assert.True(t, stderrors.Is(err, apperrors.ErrInvalidInput))
}
