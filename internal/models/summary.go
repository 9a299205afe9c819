package models

import "time"

// TraitSummary aggregates the completed trials of one trait.
type TraitSummary struct {
	Trials           int     `json:"trials"`
	Completed        int     `json:"completed"`
	Correct          int     `json:"correct"`
	Accuracy         float64 `json:"accuracy"`
	MeanResponseTime float64 `json:"mean_response_time"`
}

// ResponseCounts is the distribution of chosen sides.
type ResponseCounts struct {
	Left  int `json:"left"`
	Right int `json:"right"`
	None  int `json:"none"`
}

// SessionSummary is computed once from the trial records of a session.
type SessionSummary struct {
	ParticipantID    string                  `json:"participant_id"`
	Session          int                     `json:"session"`
	SessionID        string                  `json:"session_id"`
	Experiment       string                  `json:"experiment"`
	Version          string                  `json:"version"`
	StartTime        time.Time               `json:"start_time"`
	EndTime          time.Time               `json:"end_time"`
	TotalTrials      int                     `json:"total_trials"`
	CompletedTrials  int                     `json:"completed_trials"`
	AbortedTrials    int                     `json:"aborted_trials"`
	Aborted          bool                    `json:"aborted"`
	Traits           map[string]TraitSummary `json:"traits"`
	Responses        ResponseCounts          `json:"responses"`
	MeanResponseTime float64                 `json:"mean_response_time"`
	StdResponseTime  float64                 `json:"std_response_time"`
	HighChoiceCount  int                     `json:"high_choice_count"`
	HighChoiceRate   float64                 `json:"high_choice_rate"`
	MeanConfidence   float64                 `json:"mean_confidence"`
	DurationSeconds  float64                 `json:"duration_seconds"`
}
