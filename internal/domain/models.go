// Package domain defines the persistence models for intakes, loads, rate
// memory, and the match audit trail. These types are mapped with GORM and
// form the core data layer of the brokerage backend.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Match statuses recorded on an intake by the buyer-match adapter. These are
// the only values the writeback path may store in Intake.MatchStatus.
const (
	MatchPending  = "pending"
	MatchMatched  = "matched"
	MatchRejected = "rejected"
	MatchError    = "error"
)

// Intake represents one material lot entered by a broker: a snapshot of the
// material, its observed quality, origin intelligence, and commercial terms.
// Broker-entered facts are the source of truth; the external scorer may only
// ever touch MatchStatus and MatchResponse (see repo.WritebackMatchResult).
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Name: broker-assigned lot reference.
//   - PartnerRef / FacilityRef / ProfileRef: identifiers of the supplier,
//     facility, and processing profile (kept as references; the partner
//     directory itself is out of scope).
//   - Normalized / NormalizedAt: data-entry gate; matching requires it.
//   - MatchStatus: pending | matched | rejected | error.
//   - MatchResponse: raw validated scorer response (JSON text).
type Intake struct {
	ID          string `json:"id"          gorm:"type:char(36);primaryKey"`
	Name        string `json:"name"        gorm:"type:varchar(128);not null;index"`
	PartnerRef  string `json:"partner_ref" gorm:"type:varchar(64);not null"`
	FacilityRef string `json:"facility_ref,omitempty" gorm:"type:varchar(64)"`
	ProfileRef  string `json:"profile_ref,omitempty"  gorm:"type:varchar(64)"`

	// Raw broker layer.
	MaterialHintText string `json:"material_hint_text,omitempty" gorm:"type:text"`

	// Material snapshot.
	Polymer    string `json:"polymer"     gorm:"type:varchar(32);not null"`
	Form       string `json:"form"        gorm:"type:varchar(32);not null"`
	Color      string `json:"color,omitempty"       gorm:"type:varchar(32)"`
	SourceType string `json:"source_type,omitempty" gorm:"type:varchar(32)"`
	GradeHint  string `json:"grade_hint,omitempty"  gorm:"type:varchar(64)"`

	// Observed quality.
	MFIValue              float64 `json:"mfi_value,omitempty"`
	DensityValue          float64 `json:"density_value,omitempty"`
	MoisturePPM           int     `json:"moisture_ppm,omitempty"`
	ContaminationTotalPct float64 `json:"contamination_total_pct,omitempty"`
	HasMetal              bool    `json:"has_metal"`
	HasFR                 bool    `json:"has_fr"`
	HasResidue            bool    `json:"has_residue"`
	FillerType            string  `json:"filler_type,omitempty" gorm:"type:varchar(32)"`
	FillerPct             float64 `json:"filler_pct,omitempty"`
	ContaminationNotes    string  `json:"contamination_notes,omitempty" gorm:"type:text"`

	// Origin intelligence.
	OriginApplication string `json:"origin_application,omitempty"  gorm:"type:varchar(64)"`
	OriginSector      string `json:"origin_sector,omitempty"       gorm:"type:varchar(32)"`
	OriginProcessType string `json:"origin_process_type,omitempty" gorm:"type:varchar(32)"`

	// Commercial terms.
	QuantityPerLoadLbs     int    `json:"quantity_per_load_lbs" gorm:"not null"`
	LoadsPerMonth          int    `json:"loads_per_month,omitempty"`
	DealType               string `json:"deal_type" gorm:"type:varchar(16);not null;default:'spot'"`
	ContractDurationMonths int    `json:"contract_duration_months,omitempty"`

	// Data-entry gate.
	Normalized   bool       `json:"normalized"`
	NormalizedAt *time.Time `json:"normalized_at,omitempty"`

	// Matching writeback (the whitelist).
	MatchStatus   string `json:"match_status"             gorm:"type:varchar(16);not null;default:'pending';check:match_status IN ('pending','matched','rejected','error')"`
	MatchResponse string `json:"match_response,omitempty" gorm:"type:text"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName returns the database table name for Intake.
func (Intake) TableName() string { return "intakes" }

// Load represents one freight shipment tied to a sales order, driven through
// its lifecycle exclusively by the dispatch state machine. Direct writes to
// State bypassing services.DispatchService are a bug.
type Load struct {
	ID           string `json:"id"             gorm:"type:char(36);primaryKey"`
	Reference    string `json:"reference"      gorm:"type:varchar(64);not null;index"`
	SaleOrderRef string `json:"sale_order_ref" gorm:"type:varchar(64);not null"`

	// Lane. Immutable once rate_confirmed is reached.
	OriginZip      string `json:"origin_zip"      gorm:"type:varchar(16);not null"`
	DestinationZip string `json:"destination_zip" gorm:"type:varchar(16);not null"`

	// Rate. Non-empty once state >= rate_confirmed.
	CarrierRef      string     `json:"carrier_ref,omitempty" gorm:"type:varchar(64)"`
	RateAmount      float64    `json:"rate_amount,omitempty"`
	RateConfirmedAt *time.Time `json:"rate_confirmed_at,omitempty"`
	RateAutoReused  bool       `json:"rate_auto_reused"`

	ReadyConfirmedBy string     `json:"ready_confirmed_by,omitempty" gorm:"type:varchar(64)"`
	ReadyConfirmedAt *time.Time `json:"ready_confirmed_at,omitempty"`

	PickupAt   *time.Time `json:"pickup_at,omitempty"`
	DeliveryAt *time.Time `json:"delivery_at,omitempty"`

	// Proof-of-delivery flags. The only writable fields once dispatched.
	BOLPickupAttached   bool `json:"bol_pickup_attached"`
	BOLDeliveryAttached bool `json:"bol_delivery_attached"`

	State           LoadState `json:"state" gorm:"type:varchar(24);not null;default:'draft';index"`
	EnteredStateAt  time.Time `json:"entered_state_at" gorm:"index"`
	SLABreached     bool      `json:"sla_breached" gorm:"index"`
	ExceptionReason string    `json:"exception_reason,omitempty" gorm:"type:text"`

	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName returns the database table name for Load.
func (Load) TableName() string { return "loads" }

// LaneKey returns the canonical lane identifier for rate-memory lookup:
// origin and destination only. Billing identity must never be part of the key.
func (l *Load) LaneKey() string { return LaneKey(l.OriginZip, l.DestinationZip) }

// CycleTimeHours returns the dispatch-to-delivery span in hours, or 0 when
// either endpoint is missing.
func (l *Load) CycleTimeHours() float64 {
	if l.DispatchedAt == nil || l.DeliveredAt == nil {
		return 0
	}
	return l.DeliveredAt.Sub(*l.DispatchedAt).Hours()
}

// LaneKey composes the canonical (origin, destination) lane identifier.
func LaneKey(originZip, destinationZip string) string {
	return originZip + "-" + destinationZip
}

// RateMemory caches a confirmed (carrier, lane, rate, date) tuple so a recent
// rate can be auto-reused instead of re-negotiated. Rows are append-only:
// pruning happens through age-filtered queries, never physical deletion.
type RateMemory struct {
	ID         uint      `json:"id"          gorm:"primaryKey"`
	CarrierRef string    `json:"carrier_ref" gorm:"type:varchar(64);not null;index:idx_carrier_lane,priority:1"`
	LaneKey    string    `json:"lane_key"    gorm:"type:varchar(40);not null;index:idx_carrier_lane,priority:2"`
	RateAmount float64   `json:"rate_amount" gorm:"not null"`
	RateDate   time.Time `json:"rate_date"   gorm:"not null;index"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the database table name for RateMemory.
func (RateMemory) TableName() string { return "rate_memory" }
