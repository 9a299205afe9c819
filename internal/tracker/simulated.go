package tracker

import (
	"context"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

// Simulated stands in for the tracker. It logs every call at debug level and
// keeps the messages it was sent.
type Simulated struct {
	log      *zap.Logger
	dataFile string

	mu        sync.Mutex
	messages  []string
	recording bool
}

func NewSimulated(log *zap.Logger, dataFile string) *Simulated {
	return &Simulated{log: log.With(zap.String("tracker", "simulated")), dataFile: dataFile}
}

func (s *Simulated) SendMessage(text string) {
	text = Truncate(text)
	s.mu.Lock()
	s.messages = append(s.messages, text)
	s.mu.Unlock()
	s.log.Debug("send_message", zap.String("message", text))
}

func (s *Simulated) SendVariable(name string, value any) {
	s.SendMessage(VariableMessage(name, value))
}

func (s *Simulated) DefineInterestArea(id, left, top, right, bottom int, label string) {
	s.SendMessage(InterestAreaMessage(id, left, top, right, bottom, label))
}

func (s *Simulated) StartRecording(trialID int) {
	s.mu.Lock()
	s.recording = true
	s.mu.Unlock()
	s.log.Debug("start_recording", zap.Int("trial", trialID))
	s.SendMessage("TRIAL_ID " + strconv.Itoa(trialID))
}

func (s *Simulated) StopRecording() {
	s.mu.Lock()
	s.recording = false
	s.mu.Unlock()
	s.log.Debug("stop_recording")
}

// TransferFile has nothing to transfer.
func (s *Simulated) TransferFile(ctx context.Context, localPath string) error {
	s.log.Debug("transfer_file", zap.String("remote", s.dataFile), zap.String("local", localPath))
	return nil
}

func (s *Simulated) DataFile() string { return s.dataFile }

func (s *Simulated) Live() bool { return false }

func (s *Simulated) Close() error {
	s.StopRecording()
	s.log.Debug("disconnect")
	return nil
}

// Messages returns a copy of every message sent so far.
func (s *Simulated) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}

// Recording reports whether StartRecording was called without a matching stop.
func (s *Simulated) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}
