// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Load model
// and its append-only transition trace.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no lifecycle logic here — legality of state changes is the
// dispatch service's job, and the service never writes Load.State except
// through its transition path.
//
// Error semantics:
//   - When a load is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/plasticos/go-broker-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist. It aliases
// gorm.ErrRecordNotFound for consistency across services and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateLoad inserts a new Load row in draft state with a UUID primary key.
func CreateLoad(ctx context.Context, db *gorm.DB, l *domain.Load) (*domain.Load, error) {
	now := time.Now().UTC()
	l.ID = uuid.NewString()
	l.State = domain.StateDraft
	l.EnteredStateAt = now
	l.CreatedAt = now
	if err := db.WithContext(ctx).Create(l).Error; err != nil {
		return nil, err
	}
	return l, nil
}

// GetLoad fetches a load by ID, or ErrNotFound.
func GetLoad(ctx context.Context, db *gorm.DB, id string) (*domain.Load, error) {
	var l domain.Load
	err := db.WithContext(ctx).First(&l, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// SaveLoad persists the full load row. Callers are expected to have run the
// dispatch service's pre-write guard first.
func SaveLoad(ctx context.Context, db *gorm.DB, l *domain.Load) error {
	return db.WithContext(ctx).Save(l).Error
}

// CountLoads returns the total number of loads for pagination.
func CountLoads(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Load{}).Count(&n).Error
	return n, err
}

// ListLoadsPage returns a page of loads ordered by creation time descending.
func ListLoadsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Load, error) {
	var out []domain.Load
	err := db.WithContext(ctx).
		Order("created_at desc").
		Offset(offset).Limit(limit).
		Find(&out).Error
	return out, err
}

// ListLoadsInStates returns all loads currently in one of the given states,
// oldest state entry first. Used by the escalation scan.
func ListLoadsInStates(ctx context.Context, db *gorm.DB, states []domain.LoadState) ([]domain.Load, error) {
	var out []domain.Load
	err := db.WithContext(ctx).
		Where("state IN ?", states).
		Order("entered_state_at asc").
		Find(&out).Error
	return out, err
}

// MarkSLABreached flags a load as having exceeded its per-state SLA. The flag
// is sticky until the next successful transition resets it.
func MarkSLABreached(ctx context.Context, db *gorm.DB, loadID string) error {
	res := db.WithContext(ctx).Model(&domain.Load{}).
		Where("id = ?", loadID).
		Update("sla_breached", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendLoadEvent records one successful transition to the append-only trace.
func AppendLoadEvent(ctx context.Context, db *gorm.DB, loadID string, from, to domain.LoadState, reason, correlationID string) (*domain.LoadEvent, error) {
	ev := &domain.LoadEvent{
		ID:            uuid.NewString(),
		LoadID:        loadID,
		FromState:     from,
		ToState:       to,
		Reason:        reason,
		CorrelationID: correlationID,
		CreatedAt:     time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(ev).Error; err != nil {
		return nil, err
	}
	return ev, nil
}

// ListLoadEvents returns the transition trace for a load, oldest first.
func ListLoadEvents(ctx context.Context, db *gorm.DB, loadID string) ([]domain.LoadEvent, error) {
	var out []domain.LoadEvent
	err := db.WithContext(ctx).
		Where("load_id = ?", loadID).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}
