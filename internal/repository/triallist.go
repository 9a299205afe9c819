package repository

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	apperrors "traitpair/internal/errors"
	"traitpair/internal/models"
)

// TrialListColumns is the header of a saved trial list.
var TrialListColumns = []string{
	"trial_id",
	"trait",
	"video_left",
	"video_right",
	"high_position",
	"high_video",
	"low_video",
	"video_left_path",
	"video_right_path",
}

// SaveTrialList writes the generated trial list so a session can be
// reconstructed. The file must not exist yet.
func SaveTrialList(path string, trials []models.TrialDescriptor) error {
	f, err := createExclusive(path)
	if err != nil {
		return fmt.Errorf("create trial list: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(TrialListColumns); err != nil {
		f.Close()
		return err
	}
	for _, t := range trials {
		row := []string{
			strconv.Itoa(t.TrialID),
			t.Trait,
			t.VideoLeft,
			t.VideoRight,
			string(t.HighPosition),
			t.HighVideo,
			t.LowVideo,
			t.VideoLeftPath,
			t.VideoRightPath,
		}
		if err := w.Write(row); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadTrialList reads a trial list written by SaveTrialList.
func LoadTrialList(path string) ([]models.TrialDescriptor, error) {
	header, rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	col, err := columnIndex(header, "trial_id", "trait", "video_left", "video_right", "high_position")
	if err != nil {
		return nil, apperrors.Wrapf(err, "trial list %s", path)
	}

	trials := make([]models.TrialDescriptor, 0, len(rows))
	for i, row := range rows {
		get := getter(col, row)
		id, err := strconv.Atoi(get("trial_id"))
		if err != nil {
			return nil, apperrors.InvalidInput("trial list %s row %d: bad trial_id %q", path, i+2, get("trial_id"))
		}
		pos, err := models.ParsePosition(get("high_position"))
		if err != nil || pos == models.PositionNone {
			return nil, apperrors.InvalidInput("trial list %s row %d: bad high_position %q", path, i+2, get("high_position"))
		}
		t := models.TrialDescriptor{
			TrialID:        id,
			Trait:          get("trait"),
			VideoLeft:      get("video_left"),
			VideoRight:     get("video_right"),
			HighPosition:   pos,
			HighVideo:      get("high_video"),
			LowVideo:       get("low_video"),
			VideoLeftPath:  get("video_left_path"),
			VideoRightPath: get("video_right_path"),
		}
		if t.HighVideo == "" || t.LowVideo == "" {
			if pos == models.PositionLeft {
				t.HighVideo, t.LowVideo = t.VideoLeft, t.VideoRight
			} else {
				t.HighVideo, t.LowVideo = t.VideoRight, t.VideoLeft
			}
		}
		trials = append(trials, t)
	}
	return trials, nil
}

// SessionData is the content of a session data file read back from disk.
type SessionData struct {
	ParticipantID string
	Session       int
	Trials        []models.TrialRecord
}

// LoadTrialRecords reads a session data file in either CSV or JSON format,
// chosen by the file extension. Rows without a response are treated as
// aborted trials.
func LoadTrialRecords(path string) (*SessionData, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return loadJSONRecords(path)
	}

	header, rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	col, err := columnIndex(header, "participant_id", "session", "trial_id", "trait", "high_position", "response")
	if err != nil {
		return nil, apperrors.Wrapf(err, "data file %s", path)
	}

	data := &SessionData{}
	for i, row := range rows {
		get := getter(col, row)
		line := i + 2
		if data.ParticipantID == "" {
			data.ParticipantID = get("participant_id")
			data.Session, _ = strconv.Atoi(get("session"))
		}

		id, err := strconv.Atoi(get("trial_id"))
		if err != nil {
			return nil, apperrors.InvalidInput("%s line %d: bad trial_id %q", path, line, get("trial_id"))
		}
		high, err := models.ParsePosition(get("high_position"))
		if err != nil {
			return nil, apperrors.Wrapf(err, "%s line %d", path, line)
		}
		resp, err := models.ParsePosition(get("response"))
		if err != nil {
			return nil, apperrors.Wrapf(err, "%s line %d", path, line)
		}

		r := models.TrialRecord{
			TrialDescriptor: models.TrialDescriptor{
				TrialID:      id,
				Trait:        get("trait"),
				VideoLeft:    get("video_left"),
				VideoRight:   get("video_right"),
				HighPosition: high,
			},
			Response:        resp,
			ResponseCorrect: resp != models.PositionNone && resp == high,
			Status:          models.TrialCompleted,
		}
		if resp == models.PositionNone {
			r.Status = models.TrialAborted
		}

		fields := []struct {
			name string
			dst  **float64
		}{
			{"response_time", &r.ResponseTime},
			{"trial_start_time", &r.TrialStartTime},
			{"video_onset_time", &r.VideoOnsetTime},
			{"video_offset_time", &r.VideoOffsetTime},
			{"response_time_absolute", &r.ResponseTimeAbsolute},
		}
		for _, f := range fields {
			v, err := parseOptionalFloat(get(f.name))
			if err != nil {
				return nil, apperrors.InvalidInput("%s line %d: bad %s %q", path, line, f.name, get(f.name))
			}
			*f.dst = v
		}
		if s := get("confidence_rating"); s != "" {
			c, err := strconv.Atoi(s)
			if err != nil || !models.ValidConfidence(c) {
				return nil, apperrors.InvalidInput("%s line %d: bad confidence_rating %q", path, line, s)
			}
			r.ConfidenceRating = models.Int(c)
		}
		data.Trials = append(data.Trials, r)
	}
	return data, nil
}

func loadJSONRecords(path string) (*SessionData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var file jsonDataFile
	if err := json.NewDecoder(f).Decode(&file); err != nil {
		return nil, apperrors.WithCode(apperrors.CodeInvalidInput, fmt.Errorf("decode %s: %w", path, err))
	}
	return &SessionData{
		ParticipantID: file.ParticipantID,
		Session:       file.Session,
		Trials:        file.Trials,
	}, nil
}

func readCSV(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil, apperrors.InvalidInput("%s is empty", path)
	}
	if err != nil {
		return nil, nil, err
	}
	rows, err := r.ReadAll()
	if err != nil {
		return nil, nil, apperrors.WithCode(apperrors.CodeInvalidInput, fmt.Errorf("read %s: %w", path, err))
	}
	return header, rows, nil
}

func columnIndex(header []string, required ...string) (map[string]int, error) {
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	for _, name := range required {
		if _, ok := col[name]; !ok {
			return nil, apperrors.InvalidInput("missing column %q", name)
		}
	}
	return col, nil
}

func getter(col map[string]int, row []string) func(string) string {
	return func(name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}
}

func parseOptionalFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
