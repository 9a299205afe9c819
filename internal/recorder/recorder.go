// Package recorder accumulates the behavioural record of a session: one
// TrialRecord per finalized trial, a flat event log and the end-of-session
// summary.
package recorder

import (
	"errors"
	"math"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "traitpair/internal/errors"
	"traitpair/internal/metrics"
	"traitpair/internal/models"
)

// Sink persists rows as soon as they are recorded.
type Sink interface {
	WriteEvent(models.EventLogEntry) error
	WriteTrial(models.TrialRecord) error
	Flush() error
}

// Clock supplies wall-clock time for the summary start and end times.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Settings is the per-session configuration of a Recorder.
type Settings struct {
	ParticipantID     string
	Session           int
	SessionID         string
	Experiment        string
	Version           string
	ConfidenceEnabled bool
}

type Option func(*Recorder)

func WithLogger(log *zap.Logger) Option {
	return func(r *Recorder) { r.log = log }
}

func WithSink(s Sink) Option {
	return func(r *Recorder) { r.sink = s }
}

func WithClock(c Clock) Option {
	return func(r *Recorder) { r.clock = c }
}

type activeTrial struct {
	desc       models.TrialDescriptor
	times      models.TrialTimestamps
	response   models.Position
	confidence *int
}

// Recorder is the session recorder. Trial descriptors are copied on New and
// never modified.
type Recorder struct {
	mu sync.Mutex

	cfg   Settings
	log   *zap.Logger
	sink  Sink
	clock Clock

	trials    map[int]models.TrialDescriptor
	order     []int
	traits    []string
	status    map[int]models.TrialStatus
	active    *activeTrial
	records   []models.TrialRecord
	events    []models.EventLogEntry
	lastTS    float64
	lastFrame int64
	startTime time.Time
	endTime   time.Time
	aborted   bool
	closed    bool
}

// New creates a recorder for the given main trials. Practice descriptors
// are not part of the list; they are run through StartPractice.
func New(cfg Settings, trials []models.TrialDescriptor, opts ...Option) (*Recorder, error) {
	r := &Recorder{
		cfg:    cfg,
		log:    zap.NewNop(),
		clock:  systemClock{},
		trials: make(map[int]models.TrialDescriptor, len(trials)),
		status: make(map[int]models.TrialStatus, len(trials)),
	}
	for _, opt := range opts {
		opt(r)
	}

	seenTrait := make(map[string]bool)
	for _, t := range trials {
		if t.Practice {
			return nil, apperrors.InvalidInput("practice trial %d in main trial list", t.TrialID)
		}
		if _, dup := r.trials[t.TrialID]; dup {
			return nil, apperrors.InvalidInput("duplicate trial id %d", t.TrialID)
		}
		r.trials[t.TrialID] = t
		r.status[t.TrialID] = models.TrialNotStarted
		r.order = append(r.order, t.TrialID)
		if !seenTrait[t.Trait] {
			seenTrait[t.Trait] = true
			r.traits = append(r.traits, t.Trait)
		}
	}
	r.startTime = r.clock.Now()
	r.log = r.log.With(zap.String("participant", cfg.ParticipantID), zap.Int("session", cfg.Session))
	return r, nil
}

// RecordEvent appends an event to the log. Events must arrive in
// non-decreasing timestamp order; an out-of-order event is dropped.
func (r *Recorder) RecordEvent(entry models.EventLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recordEvent(entry)
}

func (r *Recorder) recordEvent(entry models.EventLogEntry) error {
	if r.closed {
		return apperrors.TrialState("recorder is closed")
	}
	if !entry.Type.Valid() {
		return apperrors.InvalidInput("unknown event type %q", entry.Type)
	}
	if math.IsNaN(entry.Timestamp) || math.IsInf(entry.Timestamp, 0) {
		r.log.Warn("Dropping event with non-finite timestamp", zap.String("type", string(entry.Type)))
		return apperrors.Ordering("event %s has non-finite timestamp %v", entry.Type, entry.Timestamp)
	}
	if len(r.events) > 0 && entry.Timestamp < r.lastTS {
		r.log.Warn("Dropping out-of-order event",
			zap.String("type", string(entry.Type)),
			zap.Float64("timestamp", entry.Timestamp),
			zap.Float64("last", r.lastTS))
		return apperrors.Ordering("event %s at %.4f precedes previous event at %.4f", entry.Type, entry.Timestamp, r.lastTS)
	}

	r.events = append(r.events, entry)
	r.lastTS = entry.Timestamp
	if entry.Frame > r.lastFrame {
		r.lastFrame = entry.Frame
	}

	if a := r.active; a != nil {
		ts := entry.Timestamp
		switch entry.Type {
		case models.EventStimulusOnset:
			setOnce(&a.times.VideoOnset, ts)
		case models.EventStimulusOffset:
			setOnce(&a.times.VideoOffset, ts)
		case models.EventQuestionOnset:
			setOnce(&a.times.QuestionOnset, ts)
		}
	}

	// A failed write keeps the event in memory; the session goes on.
	if r.sink != nil {
		if err := r.sink.WriteEvent(entry); err != nil {
			r.log.Error("Failed to persist event", zap.String("type", string(entry.Type)), zap.Error(err))
		}
	}
	return nil
}

func setOnce(dst **float64, v float64) {
	if *dst == nil {
		*dst = models.Float(v)
	}
}

// StartTrial begins the main trial with the given id.
func (r *Recorder) StartTrial(trialID int, ts float64, frame int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	desc, ok := r.trials[trialID]
	if !ok {
		return apperrors.InvalidInput("unknown trial id %d", trialID)
	}
	if st := r.status[trialID]; st != models.TrialNotStarted {
		return apperrors.TrialState("trial %d is %s", trialID, st)
	}
	if err := r.begin(desc, ts, frame); err != nil {
		return err
	}
	r.status[trialID] = models.TrialRunning
	return nil
}

// StartPractice begins a practice trial. Practice trials are logged as
// events but produce no persisted record and are left out of the summary.
func (r *Recorder) StartPractice(desc models.TrialDescriptor, ts float64, frame int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	desc.Practice = true
	return r.begin(desc, ts, frame)
}

func (r *Recorder) begin(desc models.TrialDescriptor, ts float64, frame int64) error {
	if r.active != nil {
		return apperrors.TrialState("trial %d is still running", r.active.desc.TrialID)
	}
	name := "trial_" + strconv.Itoa(desc.TrialID)
	if desc.Practice {
		name = "practice_" + strconv.Itoa(desc.TrialID)
	}
	err := r.recordEvent(models.EventLogEntry{
		Timestamp: ts,
		Frame:     frame,
		Type:      models.EventTrialStart,
		Name:      name,
		Details:   desc.Trait,
	})
	if err != nil {
		return err
	}
	r.active = &activeTrial{desc: desc}
	r.active.times.TrialStart = models.Float(ts)
	return nil
}

// RecordResponse records the chosen side for the running trial.
func (r *Recorder) RecordResponse(ts float64, frame int64, pos models.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil {
		return apperrors.TrialState("response without a running trial")
	}
	if pos != models.PositionLeft && pos != models.PositionRight {
		return apperrors.InvalidInput("response must be left or right, got %q", pos)
	}
	if r.active.response != models.PositionNone {
		return apperrors.TrialState("trial %d already has a response", r.active.desc.TrialID)
	}
	err := r.recordEvent(models.EventLogEntry{
		Timestamp: ts,
		Frame:     frame,
		Type:      models.EventResponse,
		Name:      "response",
		Details:   string(pos),
	})
	if err != nil {
		return err
	}
	r.active.response = pos
	r.active.times.Response = models.Float(ts)
	return nil
}

// RecordConfidence records the 1-5 confidence rating for the running trial.
func (r *Recorder) RecordConfidence(ts float64, frame int64, rating int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil {
		return apperrors.TrialState("confidence rating without a running trial")
	}
	if !models.ValidConfidence(rating) {
		return apperrors.InvalidInput("confidence rating must be %d-%d, got %d", models.MinConfidence, models.MaxConfidence, rating)
	}
	err := r.recordEvent(models.EventLogEntry{
		Timestamp: ts,
		Frame:     frame,
		Type:      models.EventConfidenceResponse,
		Name:      "confidence",
		Details:   strconv.Itoa(rating),
	})
	if err != nil {
		return err
	}
	r.active.confidence = models.Int(rating)
	return nil
}

// EndTrial closes the running trial and finalizes it. A trial that cannot
// be finalized is stored as aborted and the finalization error returned
// alongside the aborted record.
func (r *Recorder) EndTrial(ts float64, frame int64) (models.TrialRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a := r.active
	if a == nil {
		return models.TrialRecord{}, apperrors.TrialState("no running trial to end")
	}
	err := r.recordEvent(models.EventLogEntry{
		Timestamp: ts,
		Frame:     frame,
		Type:      models.EventTrialEnd,
		Name:      "trial_" + strconv.Itoa(a.desc.TrialID),
		Details:   string(a.response),
	})
	if err != nil {
		return models.TrialRecord{}, err
	}
	r.active = nil

	if r.cfg.ConfidenceEnabled && a.confidence == nil && a.response != models.PositionNone {
		ferr := apperrors.IncompleteTrial("trial %d has no confidence rating", a.desc.TrialID)
		return r.storeAborted(a.desc, a.times, ferr), ferr
	}
	rec, ferr := buildRecord(a.desc, a.times, a.response, a.confidence)
	if ferr != nil {
		return r.storeAborted(a.desc, a.times, ferr), ferr
	}
	r.store(rec)
	return rec, nil
}

// FinalizeTrial turns a descriptor and the timestamps collected for it into
// a TrialRecord. The response is correct iff it matches the high position;
// the response time is measured from question onset, which defaults to the
// stimulus offset. An incomplete trial is stored as aborted and returned
// with the IncompleteTrial error.
func (r *Recorder) FinalizeTrial(desc models.TrialDescriptor, times models.TrialTimestamps, response models.Position, confidence *int) (models.TrialRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !desc.Practice {
		known, ok := r.trials[desc.TrialID]
		if !ok || known.Trait != desc.Trait {
			return models.TrialRecord{}, apperrors.InvalidInput("trial %d (%s) is not part of this session", desc.TrialID, desc.Trait)
		}
		if st := r.status[desc.TrialID]; st == models.TrialCompleted || st == models.TrialAborted {
			return models.TrialRecord{}, apperrors.TrialState("trial %d is already %s", desc.TrialID, st)
		}
		if r.active != nil && r.active.desc.TrialID == desc.TrialID && !r.active.desc.Practice {
			return models.TrialRecord{}, apperrors.TrialState("trial %d is running; end it instead", desc.TrialID)
		}
	}
	if confidence != nil && !models.ValidConfidence(*confidence) {
		return models.TrialRecord{}, apperrors.InvalidInput("confidence rating must be %d-%d, got %d", models.MinConfidence, models.MaxConfidence, *confidence)
	}
	rec, err := buildRecord(desc, times, response, confidence)
	if err == nil && r.cfg.ConfidenceEnabled && confidence == nil {
		err = apperrors.IncompleteTrial("trial %d has no confidence rating", desc.TrialID)
	}
	if errors.Is(err, apperrors.ErrIncompleteTrial) {
		return r.storeAborted(desc, times, err), err
	}
	if err != nil {
		return models.TrialRecord{}, err
	}
	r.store(rec)
	return rec, nil
}

func buildRecord(desc models.TrialDescriptor, times models.TrialTimestamps, response models.Position, confidence *int) (models.TrialRecord, error) {
	if response != models.PositionLeft && response != models.PositionRight {
		return models.TrialRecord{}, apperrors.IncompleteTrial("trial %d has no response", desc.TrialID)
	}
	if times.VideoOnset == nil || times.VideoOffset == nil {
		return models.TrialRecord{}, apperrors.IncompleteTrial("trial %d is missing stimulus onset or offset", desc.TrialID)
	}
	if times.Response == nil {
		return models.TrialRecord{}, apperrors.IncompleteTrial("trial %d has no response timestamp", desc.TrialID)
	}
	questionOnset := *times.VideoOffset
	if times.QuestionOnset != nil {
		questionOnset = *times.QuestionOnset
	}
	rt := *times.Response - questionOnset
	if rt < 0 {
		return models.TrialRecord{}, apperrors.Ordering("trial %d response at %.4f precedes question onset at %.4f",
			desc.TrialID, *times.Response, questionOnset)
	}

	return models.TrialRecord{
		TrialDescriptor:      desc,
		Status:               models.TrialCompleted,
		Response:             response,
		ResponseCorrect:      response == desc.HighPosition,
		ResponseTime:         models.Float(rt),
		ConfidenceRating:     confidence,
		TrialStartTime:       times.TrialStart,
		VideoOnsetTime:       times.VideoOnset,
		VideoOffsetTime:      times.VideoOffset,
		ResponseTimeAbsolute: times.Response,
	}, nil
}

func (r *Recorder) storeAborted(desc models.TrialDescriptor, times models.TrialTimestamps, cause error) models.TrialRecord {
	rec := models.TrialRecord{
		TrialDescriptor:      desc,
		Status:               models.TrialAborted,
		TrialStartTime:       times.TrialStart,
		VideoOnsetTime:       times.VideoOnset,
		VideoOffsetTime:      times.VideoOffset,
		ResponseTimeAbsolute: times.Response,
	}
	r.log.Warn("Trial aborted", zap.Int("trial", desc.TrialID), zap.String("trait", desc.Trait), zap.Error(cause))
	r.store(rec)
	return rec
}

func (r *Recorder) store(rec models.TrialRecord) {
	if rec.Practice {
		r.log.Debug("Practice trial finished", zap.Int("trial", rec.TrialID), zap.String("response", string(rec.Response)))
		return
	}
	r.status[rec.TrialID] = rec.Status
	r.records = append(r.records, rec)
	if r.sink != nil {
		if err := r.sink.WriteTrial(rec); err != nil {
			r.log.Error("Failed to persist trial", zap.Int("trial", rec.TrialID), zap.Error(err))
		}
	}
}

// Abort stops the session: the running trial, if any, is stored as aborted
// and everything recorded so far is flushed.
func (r *Recorder) Abort(ts float64, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.aborted = true
	r.abortActive(ts, reason)
	r.log.Warn("Session aborted", zap.String("reason", reason), zap.Int("records", len(r.records)))
	return r.flush()
}

func (r *Recorder) abortActive(ts float64, reason string) {
	a := r.active
	if a == nil {
		return
	}
	if ts < r.lastTS {
		ts = r.lastTS
	}
	// best effort; the trial is aborted regardless
	_ = r.recordEvent(models.EventLogEntry{
		Timestamp: ts,
		Frame:     r.lastFrame,
		Type:      models.EventTrialEnd,
		Name:      "trial_" + strconv.Itoa(a.desc.TrialID),
		Details:   "aborted: " + reason,
	})
	r.active = nil
	r.storeAborted(a.desc, a.times, apperrors.IncompleteTrial("%s", reason))
}

func (r *Recorder) flush() error {
	if r.sink == nil {
		return nil
	}
	if err := r.sink.Flush(); err != nil {
		r.log.Error("Failed to flush session data", zap.Error(err))
		return apperrors.Wrap(err, "flush session data")
	}
	return nil
}

// Summarize aggregates the records stored so far. It may be called at any
// time; EndTime is the close time once closed, the clock's time before.
func (r *Recorder) Summarize() models.SessionSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summarize()
}

func (r *Recorder) summarize() models.SessionSummary {
	end := r.endTime
	if !r.closed {
		end = r.clock.Now()
	}
	return metrics.Summarize(r.records, metrics.SessionInfo{
		ParticipantID: r.cfg.ParticipantID,
		Session:       r.cfg.Session,
		SessionID:     r.cfg.SessionID,
		Experiment:    r.cfg.Experiment,
		Version:       r.cfg.Version,
		StartTime:     r.startTime,
		EndTime:       end,
		TotalTrials:   len(r.order),
		Traits:        r.traits,
		Aborted:       r.aborted,
	})
}

// Close ends the session and returns the final summary. A trial still
// running is stored as aborted. Further calls return the same summary.
func (r *Recorder) Close(ts float64) (models.SessionSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return r.summarize(), nil
	}
	r.abortActive(ts, "session closed")
	r.endTime = r.clock.Now()
	err := r.flush()
	r.closed = true

	s := r.summarize()
	r.log.Info("Session closed",
		zap.Int("completed", s.CompletedTrials),
		zap.Int("aborted_trials", s.AbortedTrials),
		zap.Bool("aborted", s.Aborted),
		zap.Float64("high_choice_rate", s.HighChoiceRate))
	return s, err
}

// Status returns the state of a main trial.
func (r *Recorder) Status(trialID int) (models.TrialStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.status[trialID]
	if !ok {
		return "", apperrors.InvalidInput("unknown trial id %d", trialID)
	}
	return st, nil
}

// Records returns a copy of the stored trial records in finalization order.
func (r *Recorder) Records() []models.TrialRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.TrialRecord(nil), r.records...)
}

// Events returns a copy of the event log.
func (r *Recorder) Events() []models.EventLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.EventLogEntry(nil), r.events...)
}

// Aborted reports whether Abort was called.
func (r *Recorder) Aborted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted
}

// Pending returns the ids of main trials that have not been started, in
// list order.
func (r *Recorder) Pending() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int
	for _, id := range r.order {
		if r.status[id] == models.TrialNotStarted {
			ids = append(ids, id)
		}
	}
	return ids
}
