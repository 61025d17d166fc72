package match

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/plasticos/go-broker-backend/internal/domain"
)

func sampleIntake() *domain.Intake {
	return &domain.Intake{
		ID:                 "11111111-2222-3333-4444-555555555555",
		Name:               "LOT-0042",
		PartnerRef:         "partner-9",
		FacilityRef:        "facility-3",
		ProfileRef:         "profile-1",
		MaterialHintText:   "clean PP regrind from medical trays",
		Polymer:            "PP",
		Form:               "regrind",
		Color:              "natural",
		SourceType:         "post-industrial",
		GradeHint:          "homopolymer",
		MFIValue:           12.5,
		DensityValue:       0.905,
		MoisturePPM:        400,
		HasResidue:         true,
		OriginSector:       "medical",
		OriginProcessType:  "injection",
		QuantityPerLoadLbs: 40000,
		LoadsPerMonth:      2,
		DealType:           "ongoing",
	}
}

func TestMakePacketID_DeterministicPerVersion(t *testing.T) {
	a := MakePacketID("intake-1", "1.0", 0)
	b := MakePacketID("intake-1", "1.0", 0)
	if a != b {
		t.Fatal("packet id must be deterministic for the same (intake, version)")
	}
	if len(a) != 64 {
		t.Fatalf("packet id should be hex sha256, got len %d", len(a))
	}
	if MakePacketID("intake-1", "1.1", 0) == a {
		t.Error("version change must change the packet id")
	}
	if MakePacketID("intake-2", "1.0", 0) == a {
		t.Error("intake change must change the packet id")
	}
}

func TestMakePacketID_ForcedReemitMintsNewID(t *testing.T) {
	first := MakePacketID("intake-1", "1.0", 0)
	second := MakePacketID("intake-1", "1.0", 1)
	third := MakePacketID("intake-1", "1.0", 2)
	if first == second || second == third || first == third {
		t.Fatal("each re-emit attempt must mint a distinct packet id")
	}
}

func TestBuildPacket_FixedFieldMapping(t *testing.T) {
	in := sampleIntake()
	p := BuildPacket(in, "pid", "1.0", "corr", "run")

	if p.EventType != EventType || p.PacketVersion != "1.0" {
		t.Fatalf("unexpected envelope: %+v", p)
	}
	if p.Payload.MaterialSnapshot.Polymer != "PP" || p.Payload.MaterialSnapshot.Form != "regrind" {
		t.Fatalf("material snapshot not mapped: %+v", p.Payload.MaterialSnapshot)
	}
	if p.Payload.Commercial.QuantityPerLoadLbs != 40000 {
		t.Fatalf("commercial terms not mapped: %+v", p.Payload.Commercial)
	}
	if p.Payload.Freeform.MaterialHintText == "" {
		t.Fatal("freeform hint not mapped")
	}

	// Wire keys follow the external schema, not the Go names.
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{
		`"packet_id"`, `"trace_run_id"`, `"material_snapshot"`,
		`"observed_quality"`, `"quantity_per_load_lbs"`, `"processing_profile_id"`,
	} {
		if !strings.Contains(string(b), key) {
			t.Errorf("marshaled packet missing key %s", key)
		}
	}
}

func TestCanonicalJSON_StableAcrossKeyOrder(t *testing.T) {
	a, err := CanonicalJSON(map[string]any{"b": 2, "a": 1, "nested": map[string]any{"z": 0, "y": 1}})
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	b, err := CanonicalJSON(map[string]any{"nested": map[string]any{"y": 1, "z": 0}, "a": 1, "b": 2})
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("canonical forms differ:\n%s\n%s", a, b)
	}
	if string(a) != `{"a":1,"b":2,"nested":{"y":1,"z":0}}` {
		t.Fatalf("unexpected canonical form: %s", a)
	}
}

func TestHashPayload_RoundTripDriftCheck(t *testing.T) {
	p := BuildPacket(sampleIntake(), "pid", "1.0", "corr", "run")

	canonical, hash, err := HashPayload(p.Payload)
	if err != nil {
		t.Fatalf("hash payload: %v", err)
	}

	// Re-hashing the stored canonical bytes reproduces the emission hash.
	again, err := HashCanonical(canonical)
	if err != nil {
		t.Fatalf("rehash: %v", err)
	}
	if again != hash {
		t.Fatalf("round-trip hash mismatch: %s vs %s", again, hash)
	}

	// A mutated payload must not reproduce the hash.
	mutated := strings.Replace(string(canonical), `"PP"`, `"HDPE"`, 1)
	drifted, err := HashCanonical([]byte(mutated))
	if err != nil {
		t.Fatalf("rehash mutated: %v", err)
	}
	if drifted == hash {
		t.Fatal("mutated payload reproduced the original hash")
	}
}
