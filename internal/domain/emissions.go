// Package domain defines the core persistence models for the application.
// This file holds the packet-emission audit record backing the at-most-once
// invariant of the buyer-match adapter, and the per-intake adapter health
// state (failure counter, circuit breaker, score history).
package domain

import "time"

// PacketEmission is the immutable record of one outbound buyer-match packet.
// At most one emission may exist for a given (intake, packet version) unless
// the caller forces a re-emit, in which case a new row is created with a new
// packet id and Supersedes pointing at the replaced one. Payload is the
// canonical (sorted-key) JSON snapshot; PayloadHash is its SHA-256 at
// emission time, recomputed later by the drift scan.
type PacketEmission struct {
	ID            string    `json:"id"             gorm:"type:char(36);primaryKey"`
	IntakeID      string    `json:"intake_id"      gorm:"type:char(36);not null;index:idx_intake_version,priority:1"`
	PacketVersion string    `json:"packet_version" gorm:"type:varchar(16);not null;index:idx_intake_version,priority:2"`
	PacketID      string    `json:"packet_id"      gorm:"type:char(64);not null;uniqueIndex"`
	CorrelationID string    `json:"correlation_id" gorm:"type:char(36);not null"`
	Payload       string    `json:"payload"        gorm:"type:text;not null"`
	PayloadHash   string    `json:"payload_hash"   gorm:"type:char(64);not null"`
	Supersedes    string    `json:"supersedes,omitempty" gorm:"type:char(64)"`
	EmittedAt     time.Time `json:"emitted_at"     gorm:"not null"`
}

// TableName implements the GORM tabler interface.
func (PacketEmission) TableName() string { return "packet_emissions" }

// MatchState tracks adapter health for one intake, kept apart from the Intake
// row so the writeback whitelist stays exact: only match_status and
// match_response ever change on the intake itself.
//
// FailureCount counts consecutive failed match runs; at the configured
// threshold Disabled trips and further runs are refused until a manual reset.
// LastScore/PrevScore feed the regression scan.
type MatchState struct {
	IntakeID     string    `json:"intake_id" gorm:"type:char(36);primaryKey"`
	FailureCount int       `json:"failure_count"`
	Disabled     bool      `json:"disabled"`
	LastScore    float64   `json:"last_score"`
	PrevScore    float64   `json:"prev_score"`
	HasScore     bool      `json:"has_score"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName implements the GORM tabler interface.
func (MatchState) TableName() string { return "match_states" }
