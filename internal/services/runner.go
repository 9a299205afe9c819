// Package services drives experiment sessions: the trial loop on a virtual
// clock and the setup and teardown around it.
package services

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"traitpair/internal/config"
	"traitpair/internal/design"
	apperrors "traitpair/internal/errors"
	"traitpair/internal/models"
	"traitpair/internal/recorder"
	"traitpair/internal/tracker"
)

// interestArea is a tracker interest area in screen pixels, origin top-left.
type interestArea struct {
	id                       int
	left, top, right, bottom int
	label                    string
}

// videoInterestAreas places one padded rectangle around each video. The
// videos sit on the horizontal midline, video_separation apart.
func videoInterestAreas(d config.DisplayConfig) []interestArea {
	cx, cy := d.ScreenWidth/2, d.ScreenHeight/2
	offset := d.VideoSeparation/2 + d.VideoWidth/2
	halfW := d.VideoWidth/2 + d.InterestAreaPadding
	halfH := d.VideoHeight/2 + d.InterestAreaPadding

	lx, rx := cx-offset, cx+offset
	return []interestArea{
		{1, lx - halfW, cy - halfH, lx + halfW, cy + halfH, "LEFT_VIDEO"},
		{2, rx - halfW, cy - halfH, rx + halfW, cy + halfH, "RIGHT_VIDEO"},
	}
}

// Runner executes trials one at a time, feeding the recorder and the eye
// tracker. Time is virtual: every phase advances the session clock by its
// configured duration, optionally paced against the wall clock.
type Runner struct {
	log         *zap.Logger
	rec         *recorder.Recorder
	link        tracker.Link
	participant Participant

	timing     config.TimingConfig
	confidence bool
	breakEvery int
	questions  map[string]string
	areas      []interestArea
	refresh    int
	pace       float64

	now   float64
	frame int64
}

type RunnerOption func(*Runner)

// WithPace runs the virtual clock at pace times real time. 0, the default,
// does not wait at all.
func WithPace(pace float64) RunnerOption {
	return func(r *Runner) { r.pace = pace }
}

func NewRunner(cfg *config.Config, rec *recorder.Recorder, link tracker.Link, p Participant, log *zap.Logger, opts ...RunnerOption) *Runner {
	questions := make(map[string]string, len(cfg.Traits))
	for _, t := range cfg.Traits {
		questions[t.Name] = t.Question
	}
	breakEvery := 0
	if cfg.Design.Breaks {
		breakEvery = cfg.Design.TrialsBetweenBreaks
	}
	r := &Runner{
		log:         log,
		rec:         rec,
		link:        link,
		participant: p,
		timing:      cfg.Timing,
		confidence:  cfg.Response.Confidence,
		breakEvery:  breakEvery,
		questions:   questions,
		areas:       videoInterestAreas(cfg.Display),
		refresh:     cfg.Display.RefreshRate,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Now is the session clock in seconds.
func (r *Runner) Now() float64 { return r.now }

// Frame is the number of display refreshes so far.
func (r *Runner) Frame() int64 { return r.frame }

// Run executes the practice trials and then the main trials. When ctx is
// cancelled the running trial and the session are aborted and the returned
// error wraps ctx.Err(). A trial that ends incomplete is logged and the
// session continues.
func (r *Runner) Run(ctx context.Context, practice, trials []models.TrialDescriptor) error {
	r.log.Info("Session started", zap.Int("practice_trials", len(practice)), zap.Int("trials", len(trials)))

	for _, p := range practice {
		if err := r.runTrial(ctx, p, true); err != nil {
			return r.stop(ctx, err)
		}
	}

	total := len(trials)
	for i, t := range trials {
		if err := ctx.Err(); err != nil {
			return r.stop(ctx, err)
		}
		if design.ShouldTakeBreak(i, total, r.breakEvery) {
			if err := r.takeBreak(ctx, i, total); err != nil {
				return r.stop(ctx, err)
			}
		}
		if err := r.runTrial(ctx, t, false); err != nil {
			return r.stop(ctx, err)
		}
	}

	r.log.Info("Session finished", zap.Float64("elapsed", r.now))
	return nil
}

func (r *Runner) stop(ctx context.Context, cause error) error {
	reason := cause.Error()
	if ctx.Err() != nil {
		reason = "operator abort"
	}
	r.link.SendMessage("SESSION_ABORTED " + reason)
	r.link.StopRecording()
	if err := r.rec.Abort(r.now, reason); err != nil {
		r.log.Error("Failed to flush after abort", zap.Error(err))
	}
	if ctx.Err() != nil {
		return fmt.Errorf("session aborted: %w", cause)
	}
	return cause
}

func (r *Runner) runTrial(ctx context.Context, desc models.TrialDescriptor, practice bool) error {
	id := desc.TrialID
	label := "trial_" + strconv.Itoa(id)
	if practice {
		label = "practice_" + strconv.Itoa(id)
	}

	r.link.StartRecording(id)
	r.link.SendMessage("TRIAL_START " + strconv.Itoa(id))
	var err error
	if practice {
		err = r.rec.StartPractice(desc, r.now, r.frame)
	} else {
		err = r.rec.StartTrial(id, r.now, r.frame)
	}
	if err != nil {
		return err
	}

	// fixation
	if err := r.event(models.EventFixationOnset, label, ""); err != nil {
		return err
	}
	r.link.SendMessage("FIXATION_ONSET")
	if err := r.advance(ctx, r.timing.Fixation); err != nil {
		return err
	}
	if err := r.event(models.EventFixationOffset, label, ""); err != nil {
		return err
	}

	// videos
	if err := r.event(models.EventStimulusOnset, label, desc.VideoLeft+"|"+desc.VideoRight); err != nil {
		return err
	}
	r.link.SendMessage("VIDEO_ONSET " + strconv.Itoa(id))
	r.link.SendVariable("video_left", desc.VideoLeft)
	r.link.SendVariable("video_right", desc.VideoRight)
	r.link.SendVariable("trait", desc.Trait)
	r.link.SendVariable("high_position", desc.HighPosition)
	for _, a := range r.areas {
		r.link.DefineInterestArea(a.id, a.left, a.top, a.right, a.bottom, a.label)
	}
	if err := r.advance(ctx, r.timing.Video); err != nil {
		return err
	}
	if err := r.event(models.EventStimulusOffset, label, ""); err != nil {
		return err
	}
	r.link.SendMessage("VIDEO_OFFSET " + strconv.Itoa(id))

	// question
	question := r.questions[desc.Trait]
	if err := r.event(models.EventQuestionOnset, label, question); err != nil {
		return err
	}
	ans, err := r.participant.Answer(ctx, desc, question, r.timing.ResponseTimeout)
	if err != nil {
		return err
	}
	if err := r.collect(ctx, id, label, ans); err != nil {
		return err
	}

	rec, ferr := r.rec.EndTrial(r.now, r.frame)
	r.link.SendMessage("TRIAL_END " + strconv.Itoa(id))
	r.link.StopRecording()
	switch {
	case ferr != nil && rec.Status != models.TrialAborted:
		return ferr
	case ferr != nil:
		r.log.Info("Trial ended without a complete answer",
			zap.Int("trial", id),
			zap.Bool("practice", practice),
			zap.String("code", apperrors.GetCode(ferr)))
	default:
		r.log.Debug("Trial completed",
			zap.Int("trial", id),
			zap.Bool("practice", practice),
			zap.String("trait", rec.Trait),
			zap.String("response", string(rec.Response)),
			zap.Bool("high_chosen", rec.ResponseCorrect))
	}

	return r.advance(ctx, r.timing.ITI)
}

// collect plays out the participant's answer on the session clock.
func (r *Runner) collect(ctx context.Context, id int, label string, ans Answer) error {
	if ans.Response == models.PositionNone {
		if err := r.advance(ctx, r.timing.ResponseTimeout); err != nil {
			return err
		}
		r.link.SendMessage("RESPONSE " + strconv.Itoa(id) + " timeout")
		return nil
	}

	if err := r.advance(ctx, ans.ResponseTime); err != nil {
		return err
	}
	if err := r.rec.RecordResponse(r.now, r.frame, ans.Response); err != nil {
		return err
	}
	r.link.SendMessage("RESPONSE " + strconv.Itoa(id) + " " + string(ans.Response))
	r.link.SendVariable("response", ans.Response)
	r.link.SendVariable("response_time", strconv.FormatFloat(ans.ResponseTime, 'f', 4, 64))

	if !r.confidence {
		return nil
	}
	if err := r.event(models.EventConfidenceOnset, label, ""); err != nil {
		return err
	}
	if err := r.advance(ctx, ans.ConfidenceTime); err != nil {
		return err
	}
	if !models.ValidConfidence(ans.Confidence) {
		return nil
	}
	if err := r.rec.RecordConfidence(r.now, r.frame, ans.Confidence); err != nil {
		return err
	}
	r.link.SendVariable("confidence", ans.Confidence)
	return nil
}

func (r *Runner) takeBreak(ctx context.Context, completed, total int) error {
	progress := fmt.Sprintf("%d/%d", completed, total)
	if err := r.event(models.EventBreakOnset, "break", progress); err != nil {
		return err
	}
	r.link.SendMessage("BREAK_ONSET " + progress)
	r.log.Info("Break", zap.Int("completed", completed), zap.Int("total", total))
	if err := r.advance(ctx, r.timing.BreakMinimum); err != nil {
		return err
	}
	if err := r.event(models.EventBreakOffset, "break", progress); err != nil {
		return err
	}
	r.link.SendMessage("BREAK_OFFSET")
	return nil
}

func (r *Runner) event(t models.EventType, name, details string) error {
	return r.rec.RecordEvent(models.EventLogEntry{
		Timestamp: r.now,
		Frame:     r.frame,
		Type:      t,
		Name:      name,
		Details:   details,
	})
}

// advance moves the session clock forward by seconds.
func (r *Runner) advance(ctx context.Context, seconds float64) error {
	if seconds > 0 {
		r.now += seconds
		r.frame += int64(math.Round(seconds * float64(r.refresh)))
		if r.pace > 0 {
			t := time.NewTimer(time.Duration(seconds / r.pace * float64(time.Second)))
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		}
	}
	return ctx.Err()
}
