// Package tracker talks to the eye tracker. Every call is fire-and-forget:
// the experiment never stops because the tracker is missing or failing.
package tracker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "traitpair/internal/errors"
)

// MaxMessageLength is the longest message the tracker stores.
const MaxMessageLength = 150

// SampleRates are the sampling rates the tracker supports, in Hz.
var SampleRates = []int{250, 500, 1000, 2000}

// ValidSampleRate reports whether hz is a supported sampling rate.
func ValidSampleRate(hz int) bool {
	for _, r := range SampleRates {
		if r == hz {
			return true
		}
	}
	return false
}

// CalibrationTypes are the supported calibration grids.
var CalibrationTypes = []string{"H3", "HV3", "HV5", "HV9", "HV13"}

// ValidCalibrationType reports whether t names a supported grid.
// An empty type keeps the tracker's own setting.
func ValidCalibrationType(t string) bool {
	if t == "" {
		return true
	}
	for _, c := range CalibrationTypes {
		if c == t {
			return true
		}
	}
	return false
}

// Link is a connection to the eye tracker.
type Link interface {
	SendMessage(text string)
	SendVariable(name string, value any)
	DefineInterestArea(id, left, top, right, bottom int, label string)
	StartRecording(trialID int)
	StopRecording()
	TransferFile(ctx context.Context, localPath string) error
	DataFile() string
	Live() bool
	Close() error
}

// Options configures Open.
type Options struct {
	Enabled         bool
	Address         string
	SampleRate      int
	CalibrationType string
	DialTimeout     time.Duration
	QueueSize       int
	FilePrefix      string
}

// Open connects to the tracker bridge. When the tracker is disabled or
// cannot be reached it returns a simulated link, so callers never need a
// nil check.
func Open(ctx context.Context, opts Options, log *zap.Logger) Link {
	dataFile := DataFileName(opts.FilePrefix, time.Now())
	if !opts.Enabled {
		log.Info("Eye tracker disabled; using simulated link")
		return NewSimulated(log, dataFile)
	}

	n, err := Dial(ctx, opts, dataFile, log)
	if err != nil {
		log.Warn("Eye tracker unavailable; using simulated link",
			zap.String("address", opts.Address),
			zap.Error(apperrors.DeviceUnavailable(err, "connect to eye tracker at %s", opts.Address)))
		return NewSimulated(log, dataFile)
	}
	return n
}

// DataFileName builds the tracker-side data file name: prefix plus HHMMSS,
// which keeps it within the tracker's eight-character limit for the usual
// two-letter prefix.
func DataFileName(prefix string, t time.Time) string {
	if prefix == "" {
		prefix = "el"
	}
	return prefix + t.Format("150405") + ".edf"
}

// Truncate cuts text to MaxMessageLength bytes without splitting a UTF-8
// sequence.
func Truncate(text string) string {
	if len(text) <= MaxMessageLength {
		return text
	}
	cut := MaxMessageLength
	for cut > 0 && !utf8Start(text[cut]) {
		cut--
	}
	return text[:cut]
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}

// VariableMessage is the message that stores a trial variable.
func VariableMessage(name string, value any) string {
	return fmt.Sprintf("!V TRIAL_VAR %s %v", name, value)
}

// InterestAreaMessage is the message that defines a rectangular interest area.
func InterestAreaMessage(id, left, top, right, bottom int, label string) string {
	return fmt.Sprintf("!V IAREA RECTANGLE %d %d %d %d %d %s", id, left, top, right, bottom, label)
}

// setupCommands configure sampling and the recorded data.
func setupCommands(opts Options) []string {
	cmds := []string{
		"file_event_filter = LEFT,RIGHT,FIXATION,SACCADE,BLINK,MESSAGE,BUTTON,INPUT",
		"link_event_filter = LEFT,RIGHT,FIXATION,SACCADE,BLINK,BUTTON,INPUT",
		"file_sample_data = LEFT,RIGHT,GAZE,AREA,STATUS,INPUT",
		"link_sample_data = LEFT,RIGHT,GAZE,AREA,STATUS,INPUT",
	}
	if opts.SampleRate > 0 {
		cmds = append([]string{fmt.Sprintf("sample_rate = %d", opts.SampleRate)}, cmds...)
	}
	if opts.CalibrationType != "" {
		cmds = append(cmds, "calibration_type = "+opts.CalibrationType)
	}
	return cmds
}

// oneLine keeps the line protocol intact.
func oneLine(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
