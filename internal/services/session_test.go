package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"traitpair/internal/config"
	"traitpair/internal/database"
	apperrors "traitpair/internal/errors"
	"traitpair/internal/repository"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var sessionStart = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func TestRunSessionWritesEverything(t *testing.T) {
	cfg := testConfig(t)
	cfg.Design.Practice = true
	cfg.Design.PracticeTrials = 1
	cfg.Archive = config.ArchiveConfig{Enabled: true, Driver: database.DriverSQLite, DSN: "data/archive.db"}

	res, err := RunSession(context.Background(), cfg, SessionParams{
		ParticipantID: "P07",
		Session:       2,
		Seed:          7,
		Clock:         fixedClock{sessionStart},
	}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, int64(7), res.Seed)
	assert.Len(t, res.SessionID, 36)
	assert.Len(t, res.Design.Trials, 8)
	assert.Equal(t, filepath.Join(cfg.Root, "data", "pairwise_P07_20250314_093000"), res.Paths.Base)
	for _, p := range []string{res.Paths.Trials, res.Paths.Events, res.Paths.Summary, res.Paths.TrialList} {
		assert.FileExists(t, p)
	}
	assert.Empty(t, res.TrackerFile)

	s := res.Summary
	assert.Equal(t, "P07", s.ParticipantID)
	assert.Equal(t, 2, s.Session)
	assert.Equal(t, 8, s.TotalTrials)
	assert.Equal(t, 8, s.CompletedTrials)
	assert.False(t, s.Aborted)
	assert.Greater(t, s.MeanResponseTime, 0.0)

	data, err := repository.LoadTrialRecords(res.Paths.Trials)
	require.NoError(t, err)
	assert.Equal(t, "P07", data.ParticipantID)
	assert.Len(t, data.Trials, 8)

	list, err := repository.LoadTrialList(res.Paths.TrialList)
	require.NoError(t, err)
	assert.Equal(t, res.Design.Trials[0].Trait, list[0].Trait)

	require.NotZero(t, res.ArchiveID)
	db, err := database.Open(database.DriverSQLite, ArchiveDSN(cfg), zap.NewNop())
	require.NoError(t, err)
	defer database.Close(db)
	row, err := repository.NewArchive(db).FindSession(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, res.ArchiveID, row.ID)
	assert.Equal(t, 8, row.CompletedTrials)
}

func TestRunSessionSameSeedSameDesign(t *testing.T) {
	run := func() *SessionResult {
		res, err := RunSession(context.Background(), testConfig(t), SessionParams{
			ParticipantID: "P01",
			Seed:          99,
			Clock:         fixedClock{sessionStart},
		}, zap.NewNop())
		require.NoError(t, err)
		return res
	}
	a, b := run(), run()
	require.Len(t, b.Design.Trials, len(a.Design.Trials))
	for i, ta := range a.Design.Trials {
		tb := b.Design.Trials[i]
		assert.Equal(t, ta.Trait, tb.Trait)
		assert.Equal(t, ta.VideoLeft, tb.VideoLeft)
		assert.Equal(t, ta.VideoRight, tb.VideoRight)
	}
	assert.Equal(t, a.Summary.HighChoiceCount, b.Summary.HighChoiceCount)
	assert.NotEqual(t, a.SessionID, b.SessionID)
}

func TestRunSessionAbortedStillSaves(t *testing.T) {
	cfg := testConfig(t)
	cfg.Data.Format = repository.FormatJSON
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := RunSession(ctx, cfg, SessionParams{
		ParticipantID: "P02",
		Seed:          1,
		Clock:         fixedClock{sessionStart},
	}, zap.NewNop())
	require.NoError(t, err)

	assert.True(t, res.Summary.Aborted)
	assert.Zero(t, res.Summary.CompletedTrials)
	assert.True(t, strings.HasSuffix(res.Paths.Trials, ".json"))
	assert.FileExists(t, res.Paths.Trials)

	raw, err := os.ReadFile(res.Paths.Summary)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"aborted": true`)
}

func TestRunSessionRequiresParticipant(t *testing.T) {
	_, err := RunSession(context.Background(), testConfig(t), SessionParams{}, zap.NewNop())
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = RunSession(context.Background(), testConfig(t), SessionParams{ParticipantID: "../P01"}, zap.NewNop())
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestArchiveDSN(t *testing.T) {
	cfg := &config.Config{Root: "/srv/exp", Archive: config.ArchiveConfig{Driver: "sqlite", DSN: "data/a.db"}}
	assert.Equal(t, filepath.Join("/srv/exp", "data/a.db"), ArchiveDSN(cfg))

	cfg.Archive.DSN = ":memory:"
	assert.Equal(t, ":memory:", ArchiveDSN(cfg))

	cfg.Archive = config.ArchiveConfig{Driver: "postgres", DSN: "host=db user=exp"}
	assert.Equal(t, "host=db user=exp", ArchiveDSN(cfg))
}
