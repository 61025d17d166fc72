// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Intake
// model, including the strictly whitelisted match writeback.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/plasticos/go-broker-backend/internal/domain"
)

// CreateIntake inserts a new Intake row with a UUID primary key and pending
// match status.
func CreateIntake(ctx context.Context, db *gorm.DB, in *domain.Intake) (*domain.Intake, error) {
	in.ID = uuid.NewString()
	in.MatchStatus = domain.MatchPending
	in.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(in).Error; err != nil {
		return nil, err
	}
	return in, nil
}

// GetIntake fetches an intake by ID, or ErrNotFound.
func GetIntake(ctx context.Context, db *gorm.DB, id string) (*domain.Intake, error) {
	var in domain.Intake
	err := db.WithContext(ctx).First(&in, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &in, nil
}

// CountIntakes returns the total number of intakes for pagination.
func CountIntakes(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Intake{}).Count(&n).Error
	return n, err
}

// ListIntakesPage returns a page of intakes ordered by creation time
// descending.
func ListIntakesPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Intake, error) {
	var out []domain.Intake
	err := db.WithContext(ctx).
		Order("created_at desc").
		Offset(offset).Limit(limit).
		Find(&out).Error
	return out, err
}

// MarkNormalized flips the data-entry gate on an intake. Normalization is a
// precondition for any match run.
func MarkNormalized(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	res := db.WithContext(ctx).Model(&domain.Intake{}).
		Where("id = ?", id).
		Updates(map[string]any{"normalized": true, "normalized_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// WritebackMatchResult is the ONLY write path the buyer-match adapter may use
// on an intake. It updates match_status and match_response and nothing else;
// broker-entered material facts are untouchable from this path. Callers must
// pass one of the domain.Match* statuses.
func WritebackMatchResult(ctx context.Context, db *gorm.DB, id, status, response string) error {
	res := db.WithContext(ctx).Model(&domain.Intake{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"match_status":   status,
			"match_response": response,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetMatchState returns the adapter health row for an intake, creating a
// zero-value row on first use.
func GetMatchState(ctx context.Context, db *gorm.DB, intakeID string) (*domain.MatchState, error) {
	var ms domain.MatchState
	err := db.WithContext(ctx).First(&ms, "intake_id = ?", intakeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		ms = domain.MatchState{IntakeID: intakeID, UpdatedAt: time.Now().UTC()}
		if err := db.WithContext(ctx).Create(&ms).Error; err != nil {
			return nil, err
		}
		return &ms, nil
	}
	if err != nil {
		return nil, err
	}
	return &ms, nil
}

// SaveMatchState persists the adapter health row.
func SaveMatchState(ctx context.Context, db *gorm.DB, ms *domain.MatchState) error {
	ms.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).Save(ms).Error
}

// ListMatchStatesWithScores returns match states that carry score history,
// for the regression scan.
func ListMatchStatesWithScores(ctx context.Context, db *gorm.DB) ([]domain.MatchState, error) {
	var out []domain.MatchState
	err := db.WithContext(ctx).
		Where("has_score = ?", true).
		Find(&out).Error
	return out, err
}

// AppendRegressionEvent records a score-regression finding.
func AppendRegressionEvent(ctx context.Context, db *gorm.DB, intakeID string, prev, cur float64) (*domain.RegressionEvent, error) {
	ev := &domain.RegressionEvent{
		ID:            uuid.NewString(),
		IntakeID:      intakeID,
		PreviousScore: prev,
		CurrentScore:  cur,
		DetectedAt:    time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(ev).Error; err != nil {
		return nil, err
	}
	return ev, nil
}

// AppendShadowScore records a primary-vs-shadow score comparison.
func AppendShadowScore(ctx context.Context, db *gorm.DB, intakeID string, primary, shadow float64) (*domain.ShadowScore, error) {
	row := &domain.ShadowScore{
		ID:           uuid.NewString(),
		IntakeID:     intakeID,
		PrimaryScore: primary,
		ShadowScore:  shadow,
		Delta:        shadow - primary,
		CreatedAt:    time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}
