package models

import (
	apperrors "traitpair/internal/errors"
)

// Position is a screen side.
type Position string

const (
	PositionNone  Position = ""
	PositionLeft  Position = "left"
	PositionRight Position = "right"
)

// ParsePosition accepts "left", "right" and the empty string.
func ParsePosition(s string) (Position, error) {
	switch Position(s) {
	case PositionLeft, PositionRight, PositionNone:
		return Position(s), nil
	}
	return PositionNone, apperrors.InvalidInput("invalid position %q", s)
}

// TrialDescriptor describes one high/low pairing and where each video is shown.
// It is created once by the trial designer and never mutated afterwards.
type TrialDescriptor struct {
	TrialID        int      `json:"trial_id"`
	Trait          string   `json:"trait"`
	VideoLeft      string   `json:"video_left"`
	VideoRight     string   `json:"video_right"`
	HighPosition   Position `json:"high_position"`
	HighVideo      string   `json:"high_video"`
	LowVideo       string   `json:"low_video"`
	VideoLeftPath  string   `json:"video_left_path,omitempty"`
	VideoRightPath string   `json:"video_right_path,omitempty"`
	Practice       bool     `json:"practice,omitempty"`
}

// TrialStatus is the lifecycle state of a trial inside a session.
type TrialStatus string

const (
	TrialNotStarted TrialStatus = "not_started"
	TrialRunning    TrialStatus = "running"
	TrialCompleted  TrialStatus = "completed"
	TrialAborted    TrialStatus = "aborted"
)

// TrialTimestamps are session-relative times (seconds) collected while a
// trial runs. Nil means the event never happened.
type TrialTimestamps struct {
	TrialStart    *float64
	VideoOnset    *float64
	VideoOffset   *float64
	QuestionOnset *float64
	Response      *float64
}

// TrialRecord is the outcome of a finalized trial.
type TrialRecord struct {
	TrialDescriptor
	Status               TrialStatus `json:"status"`
	Response             Position    `json:"response"`
	ResponseCorrect      bool        `json:"response_correct"`
	ResponseTime         *float64    `json:"response_time"`
	ConfidenceRating     *int        `json:"confidence_rating"`
	TrialStartTime       *float64    `json:"trial_start_time"`
	VideoOnsetTime       *float64    `json:"video_onset_time"`
	VideoOffsetTime      *float64    `json:"video_offset_time"`
	ResponseTimeAbsolute *float64    `json:"response_time_absolute"`
}

// Completed reports whether the trial finished normally.
func (r TrialRecord) Completed() bool {
	return r.Status == TrialCompleted
}

// Confidence scale bounds.
const (
	MinConfidence = 1
	MaxConfidence = 5
)

// ValidConfidence reports whether rating lies on the 1-5 scale.
func ValidConfidence(rating int) bool {
	return rating >= MinConfidence && rating <= MaxConfidence
}

// Float returns a pointer to v, for building optional timestamps.
func Float(v float64) *float64 {
	return &v
}

// Int returns a pointer to v.
func Int(v int) *int {
	return &v
}
