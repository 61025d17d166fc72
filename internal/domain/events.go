// Package domain defines the core persistence models for the application.
// This file holds the append-only audit rows: load transition events and the
// findings of the periodic drift, regression, and shadow-score checks.
package domain

import "time"

// LoadEvent records one successful state transition on a load. Rows are
// append-only and never updated; they form the trace used for audit and SLA
// analysis.
type LoadEvent struct {
	ID            string    `json:"id"             gorm:"type:char(36);primaryKey"`
	LoadID        string    `json:"load_id"        gorm:"type:char(36);not null;index:idx_load_events,priority:1"`
	FromState     LoadState `json:"from_state"     gorm:"type:varchar(24);not null"`
	ToState       LoadState `json:"to_state"       gorm:"type:varchar(24);not null"`
	Reason        string    `json:"reason,omitempty" gorm:"type:text"`
	CorrelationID string    `json:"correlation_id" gorm:"type:char(36);not null"`
	CreatedAt     time.Time `json:"created_at"     gorm:"index:idx_load_events,priority:2"`
}

// TableName implements the GORM tabler interface.
func (LoadEvent) TableName() string { return "load_events" }

// DriftEvent records a payload-hash mismatch found by the drift scan: the
// stored packet payload no longer re-hashes to the hash captured at emission
// time.
type DriftEvent struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	IntakeID     string    `json:"intake_id"     gorm:"type:char(36);not null;index"`
	PacketID     string    `json:"packet_id"     gorm:"type:char(64);not null"`
	PreviousHash string    `json:"previous_hash" gorm:"type:char(64);not null"`
	CurrentHash  string    `json:"current_hash"  gorm:"type:char(64);not null"`
	DetectedAt   time.Time `json:"detected_at"`
}

// TableName implements the GORM tabler interface.
func (DriftEvent) TableName() string { return "drift_events" }

// RegressionEvent records a top-score drop beyond the regression threshold
// between two consecutive successful match runs on the same intake.
type RegressionEvent struct {
	ID            string    `json:"id"             gorm:"type:char(36);primaryKey"`
	IntakeID      string    `json:"intake_id"      gorm:"type:char(36);not null;index"`
	PreviousScore float64   `json:"previous_score"`
	CurrentScore  float64   `json:"current_score"`
	DetectedAt    time.Time `json:"detected_at"`
}

// TableName implements the GORM tabler interface.
func (RegressionEvent) TableName() string { return "regression_events" }

// ShadowScore records the score delta between the primary scorer and the
// shadow endpoint for one match run, when shadow scoring is configured.
type ShadowScore struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	IntakeID     string    `json:"intake_id"     gorm:"type:char(36);not null;index"`
	PrimaryScore float64   `json:"primary_score"`
	ShadowScore  float64   `json:"shadow_score"`
	Delta        float64   `json:"delta"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName implements the GORM tabler interface.
func (ShadowScore) TableName() string { return "shadow_scores" }
