// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for RateMemory:
// an append-only cache of confirmed (carrier, lane, rate, date) tuples.
//
// Rows are never deleted; "pruning" is the age filter on lookup. The lane key
// is origin+destination only — keying by billing identity is a known defect
// and must not come back.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/plasticos/go-broker-backend/internal/domain"
)

// RecordRate appends a confirmed rate to the memory.
func RecordRate(ctx context.Context, db *gorm.DB, carrierRef, laneKey string, amount float64, date time.Time) (*domain.RateMemory, error) {
	rm := &domain.RateMemory{
		CarrierRef: carrierRef,
		LaneKey:    laneKey,
		RateAmount: amount,
		RateDate:   date,
		CreatedAt:  time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(rm).Error; err != nil {
		return nil, err
	}
	return rm, nil
}

// RecentRate returns the most recent rate for (carrier, lane) dated within
// the window ending at now, or ErrNotFound. Ties on rate_date are broken by
// the most recently recorded row, which keeps the lookup deterministic.
func RecentRate(ctx context.Context, db *gorm.DB, carrierRef, laneKey string, window time.Duration, now time.Time) (*domain.RateMemory, error) {
	cutoff := now.Add(-window)
	var rm domain.RateMemory
	err := db.WithContext(ctx).
		Where("carrier_ref = ? AND lane_key = ? AND rate_date >= ?", carrierRef, laneKey, cutoff).
		Order("rate_date desc, id desc").
		First(&rm).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rm, nil
}
