// internal/repository/results.go
package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"traitpair/internal/models"

	"gorm.io/gorm"
)

// Archive stores finished sessions in a database.
type Archive struct {
	db *gorm.DB
}

// NewArchive wraps an open database handle.
func NewArchive(db *gorm.DB) *Archive {
	return &Archive{db: db}
}

// SaveSessionTx saves the summary, all trial records and all events of a
// session in a single transaction.
func (a *Archive) SaveSessionTx(ctx context.Context, summary models.SessionSummary, trials []models.TrialRecord, events []models.EventLogEntry) (uint, error) {
	raw, err := json.Marshal(summary)
	if err != nil {
		return 0, fmt.Errorf("encode summary: %w", err)
	}

	row := models.SessionRow{
		SessionID:        summary.SessionID,
		ParticipantID:    summary.ParticipantID,
		Session:          summary.Session,
		Experiment:       summary.Experiment,
		Version:          summary.Version,
		StartTime:        summary.StartTime,
		EndTime:          summary.EndTime,
		TotalTrials:      summary.TotalTrials,
		CompletedTrials:  summary.CompletedTrials,
		AbortedTrials:    summary.AbortedTrials,
		Aborted:          summary.Aborted,
		MeanResponseTime: summary.MeanResponseTime,
		StdResponseTime:  summary.StdResponseTime,
		HighChoiceRate:   summary.HighChoiceRate,
		RawSummary:       raw,
	}

	err = a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. Insert summary and get its ID
		if err := tx.Create(&row).Error; err != nil {
			return err
		}

		// 2. Insert trials and events referencing the summary ID
		if len(trials) > 0 {
			trialRows := make([]models.TrialRow, len(trials))
			for i, t := range trials {
				trialRows[i] = models.NewTrialRow(t)
				trialRows[i].SessionRowID = row.ID
			}
			if err := tx.CreateInBatches(trialRows, 200).Error; err != nil {
				return err
			}
		}

		if len(events) > 0 {
			eventRows := make([]models.EventRow, len(events))
			for i, e := range events {
				eventRows[i] = models.EventRow{
					SessionRowID: row.ID,
					Seq:          i,
					Timestamp:    e.Timestamp,
					Frame:        e.Frame,
					EventType:    string(e.Type),
					EventName:    e.Name,
					Details:      e.Details,
				}
			}
			if err := tx.CreateInBatches(eventRows, 500).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return row.ID, nil
}

// FindSession loads an archived session summary by its session ID.
func (a *Archive) FindSession(ctx context.Context, sessionID string) (*models.SessionRow, error) {
	var row models.SessionRow
	if err := a.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// SessionTrials returns the archived trials of a session ordered by trial ID.
func (a *Archive) SessionTrials(ctx context.Context, sessionRowID uint) ([]models.TrialRow, error) {
	var rows []models.TrialRow
	err := a.db.WithContext(ctx).Where("session_row_id = ?", sessionRowID).Order("trial_id").Find(&rows).Error
	return rows, err
}

// SessionEvents returns the archived events of a session in logging order.
func (a *Archive) SessionEvents(ctx context.Context, sessionRowID uint) ([]models.EventRow, error) {
	var rows []models.EventRow
	err := a.db.WithContext(ctx).Where("session_row_id = ?", sessionRowID).Order("seq").Find(&rows).Error
	return rows, err
}

// ListSessions returns archived sessions of a participant, newest first.
// An empty participant ID lists all sessions.
func (a *Archive) ListSessions(ctx context.Context, participantID string) ([]models.SessionRow, error) {
	q := a.db.WithContext(ctx).Order("start_time desc")
	if participantID != "" {
		q = q.Where("participant_id = ?", participantID)
	}
	var rows []models.SessionRow
	err := q.Find(&rows).Error
	return rows, err
}
