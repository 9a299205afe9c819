package models

import (
	"encoding/json"
	"time"
)

// SessionRow holds the summary of one archived session.
type SessionRow struct {
	ID               uint   `gorm:"primaryKey"`
	SessionID        string `gorm:"uniqueIndex;size:36"`
	ParticipantID    string `gorm:"index"`
	Session          int
	Experiment       string
	Version          string
	StartTime        time.Time
	EndTime          time.Time
	TotalTrials      int
	CompletedTrials  int
	AbortedTrials    int
	Aborted          bool
	MeanResponseTime float64
	StdResponseTime  float64
	HighChoiceRate   float64
	RawSummary       json.RawMessage `gorm:"type:text"`
	CreatedAt        time.Time
}

// TrialRow represents a single trial record within an archived session.
type TrialRow struct {
	ID                   uint `gorm:"primaryKey"`
	SessionRowID         uint `gorm:"index"`
	TrialID              int
	Trait                string
	VideoLeft            string
	VideoRight           string
	HighPosition         string
	Status               string
	Response             string
	ResponseCorrect      bool
	ResponseTime         *float64
	ConfidenceRating     *int
	TrialStartTime       *float64
	VideoOnsetTime       *float64
	VideoOffsetTime      *float64
	ResponseTimeAbsolute *float64
}

// EventRow represents a single event-log entry within an archived session.
type EventRow struct {
	ID           uint `gorm:"primaryKey"`
	SessionRowID uint `gorm:"index"`
	Seq          int
	Timestamp    float64
	Frame        int64
	EventType    string
	EventName    string
	Details      string
}

// NewTrialRow flattens a trial record for archiving.
func NewTrialRow(r TrialRecord) TrialRow {
	return TrialRow{
		TrialID:              r.TrialID,
		Trait:                r.Trait,
		VideoLeft:            r.VideoLeft,
		VideoRight:           r.VideoRight,
		HighPosition:         string(r.HighPosition),
		Status:               string(r.Status),
		Response:             string(r.Response),
		ResponseCorrect:      r.ResponseCorrect,
		ResponseTime:         r.ResponseTime,
		ConfidenceRating:     r.ConfidenceRating,
		TrialStartTime:       r.TrialStartTime,
		VideoOnsetTime:       r.VideoOnsetTime,
		VideoOffsetTime:      r.VideoOffsetTime,
		ResponseTimeAbsolute: r.ResponseTimeAbsolute,
	}
}
