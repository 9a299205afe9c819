package design

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	apperrors "traitpair/internal/errors"
	"traitpair/internal/models"
)

// LoadStimuliDir scans <baseDir>/<trait_folder>/{high,low}/*<ext> for each
// trait. Traits without both high and low videos are skipped and reported in
// warnings.
func LoadStimuliDir(baseDir string, traitNames []string, ext string) ([]models.TraitSpec, []string, error) {
	if ext == "" {
		ext = ".mp4"
	}
	var traits []models.TraitSpec
	var warnings []string
	for _, name := range traitNames {
		folder := filepath.Join(baseDir, models.TraitFolder(name))
		high, err := listVideos(filepath.Join(folder, "high"), ext)
		if err != nil {
			return nil, nil, err
		}
		low, err := listVideos(filepath.Join(folder, "low"), ext)
		if err != nil {
			return nil, nil, err
		}
		if len(high) == 0 || len(low) == 0 {
			warnings = append(warnings, fmt.Sprintf("no videos found for %s in %s", name, folder))
			continue
		}
		traits = append(traits, models.TraitSpec{
			Name:     name,
			Question: models.DefaultQuestions[name],
			High:     high,
			Low:      low,
		})
	}
	if len(traits) == 0 {
		return nil, warnings, apperrors.Configuration("no stimuli found under %s", baseDir)
	}
	return traits, warnings, nil
}

func listVideos(dir, ext string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+ext))
	if err != nil {
		return nil, apperrors.WithCode(apperrors.CodeConfiguration, fmt.Errorf("scan %s: %w", dir, err))
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, filepath.Base(m))
	}
	sort.Strings(names)
	return names, nil
}

// MissingStimuli returns the sorted, de-duplicated list of video files
// referenced by trials that do not exist on disk. Descriptors without
// resolved paths are looked up directly under baseDir.
func MissingStimuli(trials []models.TrialDescriptor, baseDir string) []string {
	seen := make(map[string]bool)
	var missing []string
	check := func(path, name string) {
		if path == "" {
			path = filepath.Join(baseDir, name)
		}
		if seen[path] {
			return
		}
		seen[path] = true
		if _, err := os.Stat(path); err != nil {
			missing = append(missing, path)
		}
	}
	for _, t := range trials {
		check(t.VideoLeftPath, t.VideoLeft)
		check(t.VideoRightPath, t.VideoRight)
	}
	sort.Strings(missing)
	return missing
}
