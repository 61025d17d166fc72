// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the
// PacketEmission model backing the adapter's at-most-once invariant, and the
// drift-event log produced by the periodic re-hash scan.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/plasticos/go-broker-backend/internal/domain"
)

// ErrDuplicate indicates that an emission already exists for the packet id.
var ErrDuplicate = errors.New("duplicate emission")

// CountEmissions returns the number of emissions recorded for the
// (intake, packet version) pair. A non-zero count means a plain (unforced)
// run must refuse to emit again.
func CountEmissions(ctx context.Context, db *gorm.DB, intakeID, packetVersion string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.PacketEmission{}).
		Where("intake_id = ? AND packet_version = ?", intakeID, packetVersion).
		Count(&n).Error
	return n, err
}

// LatestEmission returns the most recent emission for the pair, or
// ErrNotFound.
func LatestEmission(ctx context.Context, db *gorm.DB, intakeID, packetVersion string) (*domain.PacketEmission, error) {
	var e domain.PacketEmission
	err := db.WithContext(ctx).
		Where("intake_id = ? AND packet_version = ?", intakeID, packetVersion).
		Order("emitted_at desc").
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateEmission inserts the immutable emission record. The unique index on
// packet_id backs the idempotency invariant at the storage level; a unique
// violation returns ErrDuplicate.
func CreateEmission(ctx context.Context, db *gorm.DB, e *domain.PacketEmission) (*domain.PacketEmission, error) {
	e.ID = uuid.NewString()
	e.EmittedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(e).Error; err != nil {
		// glebarez/sqlite often reports UNIQUE violations as plain text.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return e, nil
}

// ListEmissions returns every stored emission, oldest first. Used by the
// drift scan; volumes here are bounded by broker throughput, not machine
// traffic.
func ListEmissions(ctx context.Context, db *gorm.DB) ([]domain.PacketEmission, error) {
	var out []domain.PacketEmission
	err := db.WithContext(ctx).Order("emitted_at asc").Find(&out).Error
	return out, err
}

// AppendDriftEvent records a payload-hash mismatch.
func AppendDriftEvent(ctx context.Context, db *gorm.DB, intakeID, packetID, previousHash, currentHash string) (*domain.DriftEvent, error) {
	ev := &domain.DriftEvent{
		ID:           uuid.NewString(),
		IntakeID:     intakeID,
		PacketID:     packetID,
		PreviousHash: previousHash,
		CurrentHash:  currentHash,
		DetectedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(ev).Error; err != nil {
		return nil, err
	}
	return ev, nil
}
