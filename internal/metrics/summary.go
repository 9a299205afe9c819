package metrics

import (
	"time"

	"github.com/montanaflynn/stats"

	"traitpair/internal/models"
)

// SessionInfo is the session metadata that is not derived from trial records.
type SessionInfo struct {
	ParticipantID string
	Session       int
	SessionID     string
	Experiment    string
	Version       string
	StartTime     time.Time
	EndTime       time.Time
	TotalTrials   int      // planned main trials
	Traits        []string // traits that always appear in the summary, even without records
	Aborted       bool
}

// Summarize aggregates trial records into a session summary. It depends on
// nothing but its arguments.
func Summarize(records []models.TrialRecord, info SessionInfo) models.SessionSummary {
	s := models.SessionSummary{
		ParticipantID:   info.ParticipantID,
		Session:         info.Session,
		SessionID:       info.SessionID,
		Experiment:      info.Experiment,
		Version:         info.Version,
		StartTime:       info.StartTime,
		EndTime:         info.EndTime,
		TotalTrials:     info.TotalTrials,
		Aborted:         info.Aborted,
		CompletedTrials: CountCompleted(records),
		Traits:          TraitSummaries(records, info.Traits),
		Responses:       CountResponses(records),
	}
	if s.TotalTrials < len(records) {
		s.TotalTrials = len(records)
	}
	s.AbortedTrials = len(records) - s.CompletedTrials

	rts := ResponseTimes(records)
	s.MeanResponseTime = CalculateMean(rts)
	s.StdResponseTime = CalculateSD(rts)
	s.HighChoiceCount = CountHighChoices(records)
	s.HighChoiceRate = rate(s.HighChoiceCount, s.CompletedTrials)
	s.MeanConfidence = CalculateMeanConfidence(records)

	if !info.EndTime.IsZero() && info.EndTime.After(info.StartTime) {
		s.DurationSeconds = info.EndTime.Sub(info.StartTime).Seconds()
	}
	return s
}

// TraitSummaries aggregates records per trait. Every name in always gets an
// entry; accuracy is 0 for traits without completed trials.
func TraitSummaries(records []models.TrialRecord, always []string) map[string]models.TraitSummary {
	type acc struct {
		trials, completed, correct int
		rts                        []float64
	}
	byTrait := make(map[string]*acc)
	for _, name := range always {
		byTrait[name] = &acc{}
	}
	for _, r := range records {
		a, ok := byTrait[r.Trait]
		if !ok {
			a = &acc{}
			byTrait[r.Trait] = a
		}
		a.trials++
		if !r.Completed() {
			continue
		}
		a.completed++
		if r.ResponseCorrect {
			a.correct++
		}
		if r.ResponseTime != nil {
			a.rts = append(a.rts, *r.ResponseTime)
		}
	}

	out := make(map[string]models.TraitSummary, len(byTrait))
	for name, a := range byTrait {
		out[name] = models.TraitSummary{
			Trials:           a.trials,
			Completed:        a.completed,
			Correct:          a.correct,
			Accuracy:         rate(a.correct, a.completed),
			MeanResponseTime: CalculateMean(a.rts),
		}
	}
	return out
}

func CountCompleted(records []models.TrialRecord) int {
	count := 0
	for _, r := range records {
		if r.Completed() {
			count++
		}
	}
	return count
}

// CountResponses counts chosen sides over completed trials. Trials without a
// response count as None.
func CountResponses(records []models.TrialRecord) models.ResponseCounts {
	var c models.ResponseCounts
	for _, r := range records {
		switch {
		case !r.Completed() || r.Response == models.PositionNone:
			c.None++
		case r.Response == models.PositionLeft:
			c.Left++
		case r.Response == models.PositionRight:
			c.Right++
		}
	}
	return c
}

// CountHighChoices counts completed trials where the high-trait video was chosen.
func CountHighChoices(records []models.TrialRecord) int {
	count := 0
	for _, r := range records {
		if r.Completed() && r.Response != models.PositionNone && r.Response == r.HighPosition {
			count++
		}
	}
	return count
}

// ResponseTimes returns the response times of completed trials.
func ResponseTimes(records []models.TrialRecord) []float64 {
	var rts []float64
	for _, r := range records {
		if r.Completed() && r.ResponseTime != nil {
			rts = append(rts, *r.ResponseTime)
		}
	}
	return rts
}

func CalculateMeanConfidence(records []models.TrialRecord) float64 {
	var ratings []float64
	for _, r := range records {
		if r.Completed() && r.ConfidenceRating != nil {
			ratings = append(ratings, float64(*r.ConfidenceRating))
		}
	}
	return CalculateMean(ratings)
}

// CalculateMean is 0 for empty input.
func CalculateMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m, err := stats.Mean(values)
	if err != nil {
		return 0
	}
	return m
}

// CalculateSD is the population standard deviation, 0 for fewer than two values.
func CalculateSD(values []float64) float64 {
	if len(values) <= 1 {
		return 0
	}
	sd, err := stats.StandardDeviationPopulation(values)
	if err != nil {
		return 0
	}
	return sd
}

func rate(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
