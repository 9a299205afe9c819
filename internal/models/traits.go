// traits.go
package models

import (
	"fmt"
	"os"
	"strings"

	apperrors "traitpair/internal/errors"

	"gopkg.in/yaml.v3"
)

// The five traits studied. Trait names outside this set are rejected.
const (
	TraitExtraversion       = "Extraversion"
	TraitAgreeableness      = "Agreeableness"
	TraitConscientiousness  = "Conscientiousness"
	TraitEmotionalStability = "Emotional Stability"
	TraitOpenness           = "Openness"
)

// KnownTraits lists the trait labels in their canonical presentation order.
var KnownTraits = []string{
	TraitExtraversion,
	TraitAgreeableness,
	TraitConscientiousness,
	TraitEmotionalStability,
	TraitOpenness,
}

// DefaultQuestions holds the question shown after the videos of each trait.
var DefaultQuestions = map[string]string{
	TraitExtraversion:       "Which person appears more outgoing, sociable, and energetic?",
	TraitAgreeableness:      "Which person appears more friendly, cooperative, and warm?",
	TraitConscientiousness:  "Which person appears more organized, responsible, and reliable?",
	TraitEmotionalStability: "Which person appears more calm, emotionally stable, and resilient?",
	TraitOpenness:           "Which person appears more open to new experiences, creative, and curious?",
}

// TraitSpec struct to match the YAML structure
type TraitSpec struct {
	Name     string   `yaml:"name"`
	Question string   `yaml:"question,omitempty"`
	High     []string `yaml:"high"`
	Low      []string `yaml:"low"`
}

// TraitFile holds all trait definitions of a study
type TraitFile struct {
	Traits []TraitSpec `yaml:"traits"`
}

// IsKnownTrait reports whether name is one of the studied traits.
func IsKnownTrait(name string) bool {
	for _, t := range KnownTraits {
		if t == name {
			return true
		}
	}
	return false
}

// TraitFolder converts a trait name to its stimulus folder name,
// e.g. "Emotional Stability" -> "emotional_stability".
func TraitFolder(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_")
}

// LoadTraits reads and parses a traits YAML file. Missing questions are
// filled from DefaultQuestions and the result is validated.
func LoadTraits(path string) ([]TraitSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.WithCode(apperrors.CodeConfiguration, fmt.Errorf("failed to read traits file: %w", err))
	}

	var file TraitFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, apperrors.WithCode(apperrors.CodeConfiguration, fmt.Errorf("failed to unmarshal traits YAML: %w", err))
	}

	for i := range file.Traits {
		if file.Traits[i].Question == "" {
			file.Traits[i].Question = DefaultQuestions[file.Traits[i].Name]
		}
	}

	if err := ValidateTraits(file.Traits); err != nil {
		return nil, err
	}
	return file.Traits, nil
}

// Validate checks a single trait definition.
func (t TraitSpec) Validate() error {
	if !IsKnownTrait(t.Name) {
		return apperrors.Configuration("unknown trait %q", t.Name)
	}
	if len(t.High) == 0 {
		return apperrors.Configuration("trait %q has no high stimuli", t.Name)
	}
	if len(t.Low) == 0 {
		return apperrors.Configuration("trait %q has no low stimuli", t.Name)
	}

	high := make(map[string]bool, len(t.High))
	for _, v := range t.High {
		if v == "" {
			return apperrors.Configuration("trait %q has an empty high stimulus name", t.Name)
		}
		if high[v] {
			return apperrors.Configuration("trait %q lists high stimulus %q twice", t.Name, v)
		}
		high[v] = true
	}

	low := make(map[string]bool, len(t.Low))
	for _, v := range t.Low {
		if v == "" {
			return apperrors.Configuration("trait %q has an empty low stimulus name", t.Name)
		}
		if low[v] {
			return apperrors.Configuration("trait %q lists low stimulus %q twice", t.Name, v)
		}
		if high[v] {
			return apperrors.Configuration("trait %q uses stimulus %q as both high and low", t.Name, v)
		}
		low[v] = true
	}
	return nil
}

// ValidateTraits checks every trait and rejects duplicate trait names.
func ValidateTraits(traits []TraitSpec) error {
	if len(traits) == 0 {
		return apperrors.Configuration("no traits defined")
	}
	seen := make(map[string]bool, len(traits))
	for _, t := range traits {
		if err := t.Validate(); err != nil {
			return err
		}
		if seen[t.Name] {
			return apperrors.Configuration("trait %q defined twice", t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}
