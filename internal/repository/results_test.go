package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"traitpair/internal/database"
	"traitpair/internal/models"
)

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, ":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })
	return NewArchive(db)
}

func TestSaveSessionTx(t *testing.T) {
	archive := newTestArchive(t)
	ctx := context.Background()

	start := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	summary := models.SessionSummary{
		ParticipantID:   "P01",
		Session:         1,
		SessionID:       uuid.NewString(),
		StartTime:       start,
		EndTime:         start.Add(10 * time.Minute),
		TotalTrials:     2,
		CompletedTrials: 1,
		AbortedTrials:   1,
		HighChoiceRate:  1,
	}
	trials := []models.TrialRecord{sampleRecord(2, models.PositionNone), sampleRecord(1, models.PositionLeft)}
	events := []models.EventLogEntry{
		{Timestamp: 0, Type: models.EventTrialStart},
		{Timestamp: 1, Type: models.EventResponse, Details: "left"},
		{Timestamp: 2, Type: models.EventTrialEnd},
	}

	id, err := archive.SaveSessionTx(ctx, summary, trials, events)
	require.NoError(t, err)
	assert.NotZero(t, id)

	row, err := archive.FindSession(ctx, summary.SessionID)
	require.NoError(t, err)
	assert.Equal(t, id, row.ID)
	assert.Equal(t, "P01", row.ParticipantID)
	assert.Equal(t, 1, row.AbortedTrials)
	assert.Contains(t, string(row.RawSummary), `"participant_id":"P01"`)

	gotTrials, err := archive.SessionTrials(ctx, id)
	require.NoError(t, err)
	require.Len(t, gotTrials, 2)
	assert.Equal(t, 1, gotTrials[0].TrialID)
	assert.Equal(t, "completed", gotTrials[0].Status)
	require.NotNil(t, gotTrials[0].ResponseTime)
	assert.Nil(t, gotTrials[1].ResponseTime)

	gotEvents, err := archive.SessionEvents(ctx, id)
	require.NoError(t, err)
	require.Len(t, gotEvents, 3)
	assert.Equal(t, "RESPONSE", gotEvents[1].EventType)
	assert.Equal(t, "left", gotEvents[1].Details)
}

func TestSaveSessionTxRollsBackOnDuplicate(t *testing.T) {
	archive := newTestArchive(t)
	ctx := context.Background()

	summary := models.SessionSummary{ParticipantID: "P01", SessionID: uuid.NewString(), StartTime: time.Now()}
	_, err := archive.SaveSessionTx(ctx, summary, []models.TrialRecord{sampleRecord(1, models.PositionLeft)}, nil)
	require.NoError(t, err)

	_, err = archive.SaveSessionTx(ctx, summary, []models.TrialRecord{sampleRecord(1, models.PositionLeft)}, nil)
	assert.Error(t, err)

	sessions, err := archive.ListSessions(ctx, "P01")
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestListSessions(t *testing.T) {
	archive := newTestArchive(t)
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	for i, p := range []string{"P01", "P02", "P01"} {
		s := models.SessionSummary{ParticipantID: p, Session: i + 1, SessionID: uuid.NewString(), StartTime: base.Add(time.Duration(i) * time.Hour)}
		_, err := archive.SaveSessionTx(ctx, s, nil, nil)
		require.NoError(t, err)
	}

	all, err := archive.ListSessions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	mine, err := archive.ListSessions(ctx, "P01")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, 3, mine[0].Session, "newest first")
}
