package models

// EventType enumerates the events written to the session event log.
type EventType string

const (
	EventTrialStart         EventType = "TRIAL_START"
	EventTrialEnd           EventType = "TRIAL_END"
	EventFixationOnset      EventType = "FIXATION_ONSET"
	EventFixationOffset     EventType = "FIXATION_OFFSET"
	EventStimulusOnset      EventType = "STIMULUS_ONSET"
	EventStimulusOffset     EventType = "STIMULUS_OFFSET"
	EventQuestionOnset      EventType = "QUESTION_ONSET"
	EventResponse           EventType = "RESPONSE"
	EventConfidenceOnset    EventType = "CONFIDENCE_ONSET"
	EventConfidenceResponse EventType = "CONFIDENCE_RESPONSE"
	EventBreakOnset         EventType = "BREAK_ONSET"
	EventBreakOffset        EventType = "BREAK_OFFSET"
)

var eventTypes = map[EventType]bool{
	EventTrialStart:         true,
	EventTrialEnd:           true,
	EventFixationOnset:      true,
	EventFixationOffset:     true,
	EventStimulusOnset:      true,
	EventStimulusOffset:     true,
	EventQuestionOnset:      true,
	EventResponse:           true,
	EventConfidenceOnset:    true,
	EventConfidenceResponse: true,
	EventBreakOnset:         true,
	EventBreakOffset:        true,
}

// Valid reports whether t is one of the enumerated event types.
func (t EventType) Valid() bool {
	return eventTypes[t]
}

// EventLogEntry is one row of the session event log. Timestamp is seconds
// since session start; Frame counts display refreshes and is informational.
type EventLogEntry struct {
	Timestamp float64   `json:"timestamp"`
	Frame     int64     `json:"frame"`
	Type      EventType `json:"event_type"`
	Name      string    `json:"event_name"`
	Details   string    `json:"details"`
}
