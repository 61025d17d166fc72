// Package match owns the boundary to the external buyer-scoring service:
// building the deterministic outbound packet, hashing it for idempotency and
// drift detection, and performing the HTTP emission.
//
// This file implements the packet builder. The payload is an explicit, fixed
// field mapping from the intake record — never a serialize-the-whole-record
// dump — and serializes to canonical JSON (recursively sorted keys) so that a
// later SHA-256 of the stored payload is reproducible.
package match

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/plasticos/go-broker-backend/internal/domain"
)

// EventType identifies the packet on the wire.
const EventType = "BUYER_MATCH_REQUEST"

// Packet is the versioned envelope POSTed to the scorer.
type Packet struct {
	PacketID      string  `json:"packet_id"`
	PacketVersion string  `json:"packet_version"`
	EventType     string  `json:"event_type"`
	CorrelationID string  `json:"correlation_id"`
	TraceRunID    string  `json:"trace_run_id"`
	Payload       Payload `json:"payload"`
}

// Payload groups the whitelisted intake facts sent for scoring.
type Payload struct {
	Intake           IntakeRef        `json:"intake"`
	MaterialSnapshot MaterialSnapshot `json:"material_snapshot"`
	ObservedQuality  ObservedQuality  `json:"observed_quality"`
	Origin           Origin           `json:"origin"`
	Commercial       Commercial       `json:"commercial"`
	Freeform         Freeform         `json:"freeform"`
}

// IntakeRef identifies the intake without exposing the full record.
type IntakeRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PartnerRef  string `json:"partner_id"`
	FacilityRef string `json:"facility_id"`
	ProfileRef  string `json:"processing_profile_id"`
}

// MaterialSnapshot carries the declared material identity.
type MaterialSnapshot struct {
	Polymer    string `json:"polymer"`
	Form       string `json:"form"`
	Color      string `json:"color"`
	SourceType string `json:"source_type"`
	GradeHint  string `json:"grade_hint"`
}

// ObservedQuality carries lab-observed quality values.
type ObservedQuality struct {
	MFIValue              float64 `json:"mfi_value"`
	DensityValue          float64 `json:"density_value"`
	MoisturePPM           int     `json:"moisture_ppm"`
	ContaminationTotalPct float64 `json:"contamination_total_pct"`
	HasMetal              bool    `json:"has_metal"`
	HasFR                 bool    `json:"has_fr"`
	HasResidue            bool    `json:"has_residue"`
	FillerType            string  `json:"filler_type"`
	FillerPct             float64 `json:"filler_pct"`
	ContaminationNotes    string  `json:"contamination_notes"`
}

// Origin carries where the material came from.
type Origin struct {
	OriginApplication string `json:"origin_application"`
	OriginSector      string `json:"origin_sector"`
	OriginProcessType string `json:"origin_process_type"`
}

// Commercial carries the deal terms.
type Commercial struct {
	QuantityPerLoadLbs     int    `json:"quantity_per_load_lbs"`
	LoadsPerMonth          int    `json:"loads_per_month"`
	DealType               string `json:"deal_type"`
	ContractDurationMonths int    `json:"contract_duration_months"`
}

// Freeform carries the broker's raw material description.
type Freeform struct {
	MaterialHintText string `json:"material_hint_text"`
}

// MakePacketID derives the deterministic idempotency key for one emission:
// sha256 over the intake id and packet version. attempt > 0 marks a forced
// re-emit and mints a distinct id so the superseded packet stays addressable.
func MakePacketID(intakeID, packetVersion string, attempt int) string {
	raw := fmt.Sprintf("intake:%s:v:%s", intakeID, packetVersion)
	if attempt > 0 {
		raw = fmt.Sprintf("%s:r:%d", raw, attempt)
	}
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// BuildPacket maps an intake onto the outbound packet. The mapping is the
// contract: adding a field here is a schema change and requires a version
// bump.
func BuildPacket(in *domain.Intake, packetID, packetVersion, correlationID, runID string) Packet {
	return Packet{
		PacketID:      packetID,
		PacketVersion: packetVersion,
		EventType:     EventType,
		CorrelationID: correlationID,
		TraceRunID:    runID,
		Payload: Payload{
			Intake: IntakeRef{
				ID:          in.ID,
				Name:        in.Name,
				PartnerRef:  in.PartnerRef,
				FacilityRef: in.FacilityRef,
				ProfileRef:  in.ProfileRef,
			},
			MaterialSnapshot: MaterialSnapshot{
				Polymer:    in.Polymer,
				Form:       in.Form,
				Color:      in.Color,
				SourceType: in.SourceType,
				GradeHint:  in.GradeHint,
			},
			ObservedQuality: ObservedQuality{
				MFIValue:              in.MFIValue,
				DensityValue:          in.DensityValue,
				MoisturePPM:           in.MoisturePPM,
				ContaminationTotalPct: in.ContaminationTotalPct,
				HasMetal:              in.HasMetal,
				HasFR:                 in.HasFR,
				HasResidue:            in.HasResidue,
				FillerType:            in.FillerType,
				FillerPct:             in.FillerPct,
				ContaminationNotes:    in.ContaminationNotes,
			},
			Origin: Origin{
				OriginApplication: in.OriginApplication,
				OriginSector:      in.OriginSector,
				OriginProcessType: in.OriginProcessType,
			},
			Commercial: Commercial{
				QuantityPerLoadLbs:     in.QuantityPerLoadLbs,
				LoadsPerMonth:          in.LoadsPerMonth,
				DealType:               in.DealType,
				ContractDurationMonths: in.ContractDurationMonths,
			},
			Freeform: Freeform{
				MaterialHintText: in.MaterialHintText,
			},
		},
	}
}

// CanonicalJSON serializes v with recursively sorted object keys. It works by
// round-tripping through generic maps: encoding/json emits map keys in sorted
// order, which makes the byte form stable across runs and processes.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// HashPayload returns the canonical JSON form of v and its lowercase hex
// SHA-256. The hash recorded at emission time is compared against a re-hash
// of the stored payload by the drift scan.
func HashPayload(v any) (canonical []byte, hash string, err error) {
	canonical, err = CanonicalJSON(v)
	if err != nil {
		return nil, "", err
	}
	sum := sha256.Sum256(canonical)
	return canonical, hex.EncodeToString(sum[:]), nil
}

// HashCanonical re-hashes an already-canonical payload. Stored payloads must
// be re-canonicalized before hashing so that semantically equal JSON with
// different key order still reproduces the original hash.
func HashCanonical(payload []byte) (string, error) {
	var generic any
	if err := json.Unmarshal(payload, &generic); err != nil {
		return "", err
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(out)
	return hex.EncodeToString(sum[:]), nil
}
