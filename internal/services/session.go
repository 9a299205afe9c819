package services

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"traitpair/internal/config"
	"traitpair/internal/database"
	"traitpair/internal/design"
	apperrors "traitpair/internal/errors"
	"traitpair/internal/models"
	"traitpair/internal/recorder"
	"traitpair/internal/repository"
	"traitpair/internal/tracker"
	"traitpair/internal/utils"
)

const transferTimeout = 2 * time.Minute

// SessionParams identify one run of the experiment.
type SessionParams struct {
	ParticipantID string
	Session       int
	Seed          int64 // 0 uses design.seed, then the current time

	Participant Participant // nil: a SimulatedParticipant seeded from Seed
	Accuracy    float64     // simulated participant only; 0 keeps the default
	Pace        float64
	Clock       recorder.Clock
}

// SessionResult describes a finished or aborted session.
type SessionResult struct {
	SessionID   string
	Seed        int64
	Paths       repository.SessionPaths
	Design      *design.Result
	Summary     models.SessionSummary
	ArchiveID   uint
	TrackerFile string
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// RunSession builds the trial list, runs every trial and writes the session
// files, the summary and, when enabled, the archive entry and the tracker
// data file. A session aborted through ctx still produces all files and
// returns a nil error with Summary.Aborted set.
func RunSession(ctx context.Context, cfg *config.Config, params SessionParams, log *zap.Logger) (*SessionResult, error) {
	params.ParticipantID = utils.NormalizeParticipantID(params.ParticipantID)
	if !utils.IsValidParticipantID(params.ParticipantID) {
		return nil, apperrors.InvalidInput("invalid participant id %q", params.ParticipantID)
	}
	clock := params.Clock
	if clock == nil {
		clock = wallClock{}
	}

	seed := params.Seed
	if seed == 0 {
		seed = cfg.Design.Seed
	}
	if seed == 0 {
		seed = clock.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	res := &SessionResult{SessionID: uuid.NewString(), Seed: seed}
	log = log.With(
		zap.String("participant", params.ParticipantID),
		zap.Int("session", params.Session),
		zap.String("session_id", res.SessionID))

	trials, practice, err := buildTrials(cfg, rng, res, log)
	if err != nil {
		return nil, err
	}

	res.Paths = repository.NewSessionPaths(cfg.Path(cfg.Data.Directory), cfg.Data.Prefix, params.ParticipantID, cfg.Data.Format, clock.Now())
	if err := repository.SaveTrialList(res.Paths.TrialList, trials); err != nil {
		return nil, err
	}
	files, err := repository.CreateSessionFiles(res.Paths, cfg.Data.Format, params.ParticipantID, params.Session)
	if err != nil {
		return nil, err
	}
	defer files.Close()

	rec, err := recorder.New(recorder.Settings{
		ParticipantID:     params.ParticipantID,
		Session:           params.Session,
		SessionID:         res.SessionID,
		Experiment:        cfg.Experiment.Name,
		Version:           cfg.Experiment.Version,
		ConfidenceEnabled: cfg.Response.Confidence,
	}, trials, recorder.WithLogger(log), recorder.WithSink(files), recorder.WithClock(clock))
	if err != nil {
		return nil, err
	}

	link := tracker.Open(ctx, cfg.TrackerOptions(), log)
	defer link.Close()

	participant := params.Participant
	if participant == nil {
		sim := NewSimulatedParticipant(rand.New(rand.NewSource(seed + 1)))
		if params.Accuracy > 0 {
			sim.Accuracy = params.Accuracy
		}
		participant = sim
	}
	runner := NewRunner(cfg, rec, link, participant, log, WithPace(params.Pace))
	runErr := runner.Run(ctx, practice, trials)
	if runErr != nil && !Aborted(runErr) {
		log.Error("Session stopped", zap.Error(runErr))
	}

	summary, err := rec.Close(runner.Now())
	if err != nil {
		log.Error("Failed to flush session data", zap.Error(err))
	}
	res.Summary = summary
	if err := files.Close(); err != nil {
		log.Error("Failed to close session files", zap.Error(err))
	}
	if err := files.WriteSummary(summary); err != nil {
		return res, err
	}

	res.TrackerFile = transferTrackerFile(cfg, link, log)

	if cfg.Archive.Enabled {
		id, err := archiveSession(cfg, summary, rec.Records(), rec.Events(), log)
		if err != nil {
			log.Error("Failed to archive session", zap.Error(err))
		}
		res.ArchiveID = id
	}

	if runErr != nil && !Aborted(runErr) {
		return res, runErr
	}
	log.Info("Session saved",
		zap.String("trials_file", res.Paths.Trials),
		zap.String("summary_file", res.Paths.Summary),
		zap.Bool("aborted", summary.Aborted))
	return res, nil
}

func buildTrials(cfg *config.Config, rng *rand.Rand, res *SessionResult, log *zap.Logger) (trials, practice []models.TrialDescriptor, err error) {
	opts, err := cfg.DesignOptions()
	if err != nil {
		return nil, nil, err
	}
	res.Design, err = design.Generate(cfg.Traits, opts, rng)
	if err != nil {
		return nil, nil, err
	}
	if res.Design.Relaxed {
		log.Warn("Trait spacing relaxed",
			zap.Int("min_trait_spacing", opts.MinTraitGap),
			zap.Int("violations", len(res.Design.Violations)),
			zap.Int("attempts", res.Design.Attempts))
	}
	if missing := design.MissingStimuli(res.Design.Trials, opts.StimulusDir); len(missing) > 0 {
		log.Warn("Stimulus files not found", zap.Int("count", len(missing)), zap.Strings("files", missing))
	}

	if cfg.Design.Practice {
		practice = design.PracticeTrials(cfg.Traits, cfg.Design.PracticeTrials, opts.StimulusDir, rng)
	}
	return res.Design.Trials, practice, nil
}

// transferTrackerFile copies the tracker data file next to the session data.
// It returns the local path, or "" when nothing was transferred.
func transferTrackerFile(cfg *config.Config, link tracker.Link, log *zap.Logger) string {
	if !link.Live() {
		return ""
	}
	// the session context may already be cancelled; the transfer still runs
	ctx, cancel := context.WithTimeout(context.Background(), transferTimeout)
	defer cancel()

	dest := filepath.Join(cfg.Path(cfg.EyeTracker.DataDir), link.DataFile())
	if err := link.TransferFile(ctx, dest); err != nil {
		log.Error("Tracker data file not transferred", zap.Error(err))
		return ""
	}
	return dest
}

func archiveSession(cfg *config.Config, summary models.SessionSummary, trials []models.TrialRecord, events []models.EventLogEntry, log *zap.Logger) (uint, error) {
	db, err := database.Open(cfg.Archive.Driver, ArchiveDSN(cfg), log)
	if err != nil {
		return 0, err
	}
	defer database.Close(db)

	id, err := repository.NewArchive(db).SaveSessionTx(context.Background(), summary, trials, events)
	if err != nil {
		return 0, err
	}
	log.Info("Session archived", zap.Uint("row_id", id), zap.String("driver", cfg.Archive.Driver))
	return id, nil
}

// ArchiveDSN resolves a relative SQLite path against the project root.
func ArchiveDSN(cfg *config.Config) string {
	dsn := cfg.Archive.DSN
	if cfg.Archive.Driver == database.DriverPostgres || dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return dsn
	}
	return cfg.Path(dsn)
}

// Aborted reports whether err came from an operator abort.
func Aborted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
