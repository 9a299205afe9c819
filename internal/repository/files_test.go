package repository

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "traitpair/internal/errors"
	"traitpair/internal/models"
)

func sampleRecord(id int, resp models.Position) models.TrialRecord {
	r := models.TrialRecord{
		TrialDescriptor: models.TrialDescriptor{
			TrialID:      id,
			Trait:        models.TraitExtraversion,
			VideoLeft:    "hi.mp4",
			VideoRight:   "lo.mp4",
			HighPosition: models.PositionLeft,
			HighVideo:    "hi.mp4",
			LowVideo:     "lo.mp4",
		},
		Status:         models.TrialCompleted,
		Response:       resp,
		TrialStartTime: models.Float(1),
		VideoOnsetTime: models.Float(2),
	}
	if resp == models.PositionNone {
		r.Status = models.TrialAborted
		return r
	}
	r.ResponseCorrect = resp == models.PositionLeft
	r.ResponseTime = models.Float(0.75)
	r.ConfidenceRating = models.Int(4)
	r.VideoOffsetTime = models.Float(18)
	r.ResponseTimeAbsolute = models.Float(18.75)
	return r
}

func readAll(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestNewSessionPaths(t *testing.T) {
	started := time.Date(2025, 3, 4, 15, 6, 7, 0, time.UTC)
	p := NewSessionPaths("data", "pairwise", "P01", FormatCSV, started)

	assert.Equal(t, filepath.Join("data", "pairwise_P01_20250304_150607"), p.Base)
	assert.Equal(t, p.Base+".csv", p.Trials)
	assert.Equal(t, p.Base+"_events.csv", p.Events)
	assert.Equal(t, p.Base+"_summary.json", p.Summary)
	assert.Equal(t, p.Base+"_trials.csv", p.TrialList)

	j := NewSessionPaths("data", "pairwise", "P01", FormatJSON, started)
	assert.Equal(t, j.Base+".json", j.Trials)
}

func TestSessionFilesWritesRowsImmediately(t *testing.T) {
	dir := t.TempDir()
	paths := NewSessionPaths(dir, "exp", "P01", FormatCSV, time.Now())
	sf, err := CreateSessionFiles(paths, FormatCSV, "P01", 2)
	require.NoError(t, err)

	require.NoError(t, sf.WriteEvent(models.EventLogEntry{Timestamp: 0.5, Frame: 30, Type: models.EventTrialStart, Name: "trial_1"}))
	require.NoError(t, sf.WriteTrial(sampleRecord(1, models.PositionLeft)))

	// Readable before Close.
	trials := readAll(t, paths.Trials)
	require.Len(t, trials, 2)
	assert.Equal(t, TrialColumns, trials[0])
	assert.Equal(t, []string{
		"P01", "2", "1", "Extraversion", "hi.mp4", "lo.mp4", "left", "left", "true",
		"0.7500", "4", "1.0000", "2.0000", "18.0000", "18.7500",
	}, trials[1])

	events := readAll(t, paths.Events)
	require.Len(t, events, 2)
	assert.Equal(t, []string{"0.5000", "30", "TRIAL_START", "trial_1", ""}, events[1])

	require.NoError(t, sf.Close())
	require.NoError(t, sf.Close())
	assert.Error(t, sf.WriteTrial(sampleRecord(2, models.PositionLeft)))
}

func TestSessionFilesRefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	paths := NewSessionPaths(dir, "exp", "P01", FormatCSV, time.Now())
	sf, err := CreateSessionFiles(paths, FormatCSV, "P01", 1)
	require.NoError(t, err)
	require.NoError(t, sf.Close())

	_, err = CreateSessionFiles(paths, FormatCSV, "P01", 1)
	assert.Error(t, err)
}

func TestWriteSummaryOnce(t *testing.T) {
	dir := t.TempDir()
	paths := NewSessionPaths(dir, "exp", "P01", FormatCSV, time.Now())
	sf, err := CreateSessionFiles(paths, FormatCSV, "P01", 1)
	require.NoError(t, err)
	defer sf.Close()

	summary := models.SessionSummary{ParticipantID: "P01", TotalTrials: 3, HighChoiceRate: 0.5}
	require.NoError(t, sf.WriteSummary(summary))
	assert.Error(t, sf.WriteSummary(summary))

	raw, err := os.ReadFile(paths.Summary)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "P01", got["participant_id"])
	assert.Equal(t, 0.5, got["high_choice_rate"])
}

func TestJSONFormat(t *testing.T) {
	dir := t.TempDir()
	paths := NewSessionPaths(dir, "exp", "P02", FormatJSON, time.Now())
	sf, err := CreateSessionFiles(paths, FormatJSON, "P02", 1)
	require.NoError(t, err)

	require.NoError(t, sf.WriteTrial(sampleRecord(1, models.PositionRight)))
	require.NoError(t, sf.WriteEvent(models.EventLogEntry{Timestamp: 1, Type: models.EventResponse}))

	_, err = os.Stat(paths.Trials)
	assert.True(t, os.IsNotExist(err), "json data is written on close")

	require.NoError(t, sf.Close())

	data, err := LoadTrialRecords(paths.Trials)
	require.NoError(t, err)
	assert.Equal(t, "P02", data.ParticipantID)
	require.Len(t, data.Trials, 1)
	assert.Equal(t, models.PositionRight, data.Trials[0].Response)
	assert.False(t, data.Trials[0].ResponseCorrect)
}

func TestLoadTrialRecordsFromCSV(t *testing.T) {
	dir := t.TempDir()
	paths := NewSessionPaths(dir, "exp", "P03", FormatCSV, time.Now())
	sf, err := CreateSessionFiles(paths, FormatCSV, "P03", 4)
	require.NoError(t, err)
	require.NoError(t, sf.WriteTrial(sampleRecord(1, models.PositionLeft)))
	require.NoError(t, sf.WriteTrial(sampleRecord(2, models.PositionNone)))
	require.NoError(t, sf.Close())

	data, err := LoadTrialRecords(paths.Trials)
	require.NoError(t, err)
	assert.Equal(t, "P03", data.ParticipantID)
	assert.Equal(t, 4, data.Session)
	require.Len(t, data.Trials, 2)

	first := data.Trials[0]
	assert.Equal(t, models.TrialCompleted, first.Status)
	assert.True(t, first.ResponseCorrect)
	require.NotNil(t, first.ResponseTime)
	assert.InDelta(t, 0.75, *first.ResponseTime, 1e-9)
	require.NotNil(t, first.ConfidenceRating)
	assert.Equal(t, 4, *first.ConfidenceRating)

	second := data.Trials[1]
	assert.Equal(t, models.TrialAborted, second.Status)
	assert.Nil(t, second.ResponseTime)
	assert.Nil(t, second.ConfidenceRating)
}

func TestLoadTrialRecordsRejectsBadRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.csv")
	content := "participant_id,session,trial_id,trait,high_position,response\nP1,1,x,Openness,left,left\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := LoadTrialRecords(path)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	missing := filepath.Join(dir, "missing_col.csv")
	require.NoError(t, os.WriteFile(missing, []byte("trial_id,trait\n1,Openness\n"), 0644))
	_, err = LoadTrialRecords(missing)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestTrialListRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "list.csv")
	trials := []models.TrialDescriptor{
		{TrialID: 1, Trait: "Openness", VideoLeft: "o_lo.mp4", VideoRight: "o_hi.mp4", HighPosition: models.PositionRight,
			HighVideo: "o_hi.mp4", LowVideo: "o_lo.mp4", VideoLeftPath: "s/openness/low/o_lo.mp4", VideoRightPath: "s/openness/high/o_hi.mp4"},
		{TrialID: 2, Trait: "Extraversion", VideoLeft: "e_hi.mp4", VideoRight: "e_lo.mp4", HighPosition: models.PositionLeft,
			HighVideo: "e_hi.mp4", LowVideo: "e_lo.mp4"},
	}
	require.NoError(t, SaveTrialList(path, trials))
	assert.Error(t, SaveTrialList(path, trials), "existing list must not be overwritten")

	got, err := LoadTrialList(path)
	require.NoError(t, err)
	assert.Equal(t, trials, got)
}

func TestLoadTrialListDerivesHighAndLow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "short.csv")
	content := "trial_id,trait,video_left,video_right,high_position\n1,Openness,a.mp4,b.mp4,right\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	got, err := LoadTrialList(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b.mp4", got[0].HighVideo)
	assert.Equal(t, "a.mp4", got[0].LowVideo)

	bad := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("trial_id,trait,video_left,video_right,high_position\n1,Openness,a,b,\n"), 0644))
	_, err = LoadTrialList(bad)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
