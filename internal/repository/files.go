// internal/repository/files.go
package repository

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"traitpair/internal/models"
)

// TrialColumns is the header of the trial-record CSV.
var TrialColumns = []string{
	"participant_id",
	"session",
	"trial_id",
	"trait",
	"video_left",
	"video_right",
	"high_position",
	"response",
	"response_correct",
	"response_time",
	"confidence_rating",
	"trial_start_time",
	"video_onset_time",
	"video_offset_time",
	"response_time_absolute",
}

// EventColumns is the header of the event-log CSV.
var EventColumns = []string{"timestamp", "frame", "event_type", "event_name", "details"}

// Data file formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// SessionPaths are the files of one session, all sharing a base name
// <prefix>_<participant>_<YYYYMMDD_HHMMSS>.
type SessionPaths struct {
	Base      string
	Trials    string
	Events    string
	Summary   string
	TrialList string
}

// NewSessionPaths builds the file names of a session started at started.
func NewSessionPaths(dir, prefix, participantID, format string, started time.Time) SessionPaths {
	base := filepath.Join(dir, fmt.Sprintf("%s_%s_%s", prefix, participantID, started.Format("20060102_150405")))
	ext := FormatCSV
	if format == FormatJSON {
		ext = FormatJSON
	}
	return SessionPaths{
		Base:      base,
		Trials:    base + "." + ext,
		Events:    base + "_events.csv",
		Summary:   base + "_summary.json",
		TrialList: base + "_trials.csv",
	}
}

// createExclusive opens a new file for writing, failing if it already exists.
func createExclusive(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("could not create data directory: %w", err)
	}
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
}

// SessionFiles writes trial records and events as they happen. In CSV mode
// every row is flushed to disk immediately; in JSON mode trials and events
// are kept in memory and written once on Close.
type SessionFiles struct {
	Paths         SessionPaths
	format        string
	participantID string
	session       int

	trialsFile *os.File
	trialsCSV  *csv.Writer
	eventsFile *os.File
	eventsCSV  *csv.Writer

	trials []models.TrialRecord
	events []models.EventLogEntry
	closed bool
}

// CreateSessionFiles creates the trial and event files and writes their headers.
func CreateSessionFiles(paths SessionPaths, format, participantID string, session int) (*SessionFiles, error) {
	sf := &SessionFiles{
		Paths:         paths,
		format:        format,
		participantID: participantID,
		session:       session,
	}

	var err error
	sf.eventsFile, err = createExclusive(paths.Events)
	if err != nil {
		return nil, fmt.Errorf("create event log: %w", err)
	}
	sf.eventsCSV = csv.NewWriter(sf.eventsFile)
	if err := sf.writeRow(sf.eventsCSV, EventColumns); err != nil {
		sf.eventsFile.Close()
		return nil, err
	}

	if format != FormatJSON {
		sf.trialsFile, err = createExclusive(paths.Trials)
		if err != nil {
			sf.eventsFile.Close()
			return nil, fmt.Errorf("create trial data file: %w", err)
		}
		sf.trialsCSV = csv.NewWriter(sf.trialsFile)
		if err := sf.writeRow(sf.trialsCSV, TrialColumns); err != nil {
			sf.Close()
			return nil, err
		}
	}
	return sf, nil
}

func (sf *SessionFiles) writeRow(w *csv.Writer, row []string) error {
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// WriteEvent appends one event row.
func (sf *SessionFiles) WriteEvent(e models.EventLogEntry) error {
	if sf.closed {
		return fmt.Errorf("session files closed")
	}
	sf.events = append(sf.events, e)
	return sf.writeRow(sf.eventsCSV, EventRow(e))
}

// WriteTrial appends one trial row.
func (sf *SessionFiles) WriteTrial(r models.TrialRecord) error {
	if sf.closed {
		return fmt.Errorf("session files closed")
	}
	sf.trials = append(sf.trials, r)
	if sf.trialsCSV == nil {
		return nil
	}
	return sf.writeRow(sf.trialsCSV, TrialRow(sf.participantID, sf.session, r))
}

// Flush pushes buffered rows to disk.
func (sf *SessionFiles) Flush() error {
	if sf.closed {
		return nil
	}
	if sf.trialsFile != nil {
		if err := sf.trialsFile.Sync(); err != nil {
			return err
		}
	}
	return sf.eventsFile.Sync()
}

type jsonDataFile struct {
	ParticipantID string                 `json:"participant_id"`
	Session       int                    `json:"session"`
	Timestamp     string                 `json:"timestamp"`
	Trials        []models.TrialRecord   `json:"trials"`
	Events        []models.EventLogEntry `json:"events"`
}

// Close writes the JSON data file when in JSON mode and closes all files.
// It is safe to call more than once.
func (sf *SessionFiles) Close() error {
	if sf.closed {
		return nil
	}
	sf.closed = true

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if sf.format == FormatJSON {
		keep(writeJSON(sf.Paths.Trials, jsonDataFile{
			ParticipantID: sf.participantID,
			Session:       sf.session,
			Timestamp:     time.Now().Format(time.RFC3339),
			Trials:        sf.trials,
			Events:        sf.events,
		}))
	}
	if sf.trialsFile != nil {
		sf.trialsCSV.Flush()
		keep(sf.trialsCSV.Error())
		keep(sf.trialsFile.Close())
	}
	sf.eventsCSV.Flush()
	keep(sf.eventsCSV.Error())
	keep(sf.eventsFile.Close())
	return firstErr
}

// WriteSummary writes the session summary JSON. It is written once; an
// existing file is an error.
func (sf *SessionFiles) WriteSummary(summary models.SessionSummary) error {
	return writeJSON(sf.Paths.Summary, summary)
}

func writeJSON(path string, v any) error {
	f, err := createExclusive(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// EventRow formats an event for the event-log CSV.
func EventRow(e models.EventLogEntry) []string {
	return []string{
		formatSeconds(e.Timestamp),
		strconv.FormatInt(e.Frame, 10),
		string(e.Type),
		e.Name,
		e.Details,
	}
}

// TrialRow formats a trial record for the trial CSV.
func TrialRow(participantID string, session int, r models.TrialRecord) []string {
	return []string{
		participantID,
		strconv.Itoa(session),
		strconv.Itoa(r.TrialID),
		r.Trait,
		r.VideoLeft,
		r.VideoRight,
		string(r.HighPosition),
		string(r.Response),
		strconv.FormatBool(r.ResponseCorrect),
		formatOptional(r.ResponseTime),
		formatOptionalInt(r.ConfidenceRating),
		formatOptional(r.TrialStartTime),
		formatOptional(r.VideoOnsetTime),
		formatOptional(r.VideoOffsetTime),
		formatOptional(r.ResponseTimeAbsolute),
	}
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatSeconds(*v)
}

func formatOptionalInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
