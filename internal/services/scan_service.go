// Package services – ScanService
//
// This file implements the periodic scans: SLA escalation over stalled loads,
// drift detection over stored packet payloads, and top-score regression
// between consecutive match runs. Each scan is a pure read-flag pass; none of
// them transition loads or re-emit packets.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/plasticos/go-broker-backend/internal/domain"
	"github.com/plasticos/go-broker-backend/internal/match"
	"github.com/plasticos/go-broker-backend/internal/repo"
)

// RegressionThreshold is the top-score drop between consecutive runs that
// gets flagged by the regression scan.
const RegressionThreshold = 0.15

// ScanService runs the periodic consistency and escalation scans.
type ScanService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
}

// NewScanService constructs a ScanService.
func NewScanService(db *gorm.DB) *ScanService {
	return &ScanService{DB: db}
}

// SLABreach describes one load found past its per-state deadline.
type SLABreach struct {
	LoadID   string           `json:"load_id"`
	State    domain.LoadState `json:"state"`
	Deadline time.Time        `json:"deadline"`
	AgeHours float64          `json:"age_hours"`
}

// ScanEscalations flags every load sitting in a monitored state past its SLA
// threshold at the given instant. The flag is sticky on the load until its
// next transition; re-flagging an already-flagged load is a no-op write.
func (s *ScanService) ScanEscalations(ctx context.Context, now time.Time) ([]SLABreach, error) {
	states := make([]domain.LoadState, 0, len(domain.EscalationHours))
	for st := range domain.EscalationHours {
		states = append(states, st)
	}
	loads, err := repo.ListLoadsInStates(ctx, s.DB, states)
	if err != nil {
		return nil, err
	}

	var breaches []SLABreach
	for i := range loads {
		l := &loads[i]
		deadline, monitored := domain.SLADeadline(l.State, l.EnteredStateAt)
		if !monitored || now.Before(deadline) {
			continue
		}
		breaches = append(breaches, SLABreach{
			LoadID:   l.ID,
			State:    l.State,
			Deadline: deadline,
			AgeHours: now.Sub(l.EnteredStateAt).Hours(),
		})
		if l.SLABreached {
			continue
		}
		if err := repo.MarkSLABreached(ctx, s.DB, l.ID); err != nil {
			return nil, err
		}
		slaBreachesTotal.Inc()
		log.Warn().
			Str("load_id", l.ID).
			Str("state", string(l.State)).
			Float64("age_hours", now.Sub(l.EnteredStateAt).Hours()).
			Msg("load past SLA threshold")
	}
	return breaches, nil
}

// ScanDrift re-hashes every stored packet payload and records a drift event
// wherever the recomputed hash no longer matches the one captured at emission
// time. A mismatch means the stored audit record was altered after the fact.
func (s *ScanService) ScanDrift(ctx context.Context) ([]domain.DriftEvent, error) {
	emissions, err := repo.ListEmissions(ctx, s.DB)
	if err != nil {
		return nil, err
	}

	var events []domain.DriftEvent
	for i := range emissions {
		e := &emissions[i]
		current, err := match.HashCanonical([]byte(e.Payload))
		if err != nil {
			log.Error().Err(err).Str("packet_id", e.PacketID).Msg("payload re-hash failed")
			continue
		}
		if current == e.PayloadHash {
			continue
		}
		ev, err := repo.AppendDriftEvent(ctx, s.DB, e.IntakeID, e.PacketID, e.PayloadHash, current)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
		driftEventsTotal.Inc()
		log.Error().
			Str("intake_id", e.IntakeID).
			Str("packet_id", e.PacketID).
			Str("expected_hash", e.PayloadHash).
			Str("actual_hash", current).
			Msg("packet payload drift detected")
	}
	return events, nil
}

// ScanRegressions flags intakes whose top score dropped by more than
// RegressionThreshold between the last two match runs. The delta is consumed
// after flagging so the same run pair is never reported twice.
func (s *ScanService) ScanRegressions(ctx context.Context) ([]domain.RegressionEvent, error) {
	states, err := repo.ListMatchStatesWithScores(ctx, s.DB)
	if err != nil {
		return nil, err
	}

	var events []domain.RegressionEvent
	for i := range states {
		ms := &states[i]
		drop := ms.PrevScore - ms.LastScore
		if drop <= RegressionThreshold {
			continue
		}
		ev, err := repo.AppendRegressionEvent(ctx, s.DB, ms.IntakeID, ms.PrevScore, ms.LastScore)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
		regressionEventsTotal.Inc()
		log.Warn().
			Str("intake_id", ms.IntakeID).
			Float64("previous_score", ms.PrevScore).
			Float64("current_score", ms.LastScore).
			Msg("top-score regression detected")

		// Consume the delta.
		ms.PrevScore = ms.LastScore
		if err := repo.SaveMatchState(ctx, s.DB, ms); err != nil {
			return nil, err
		}
	}
	return events, nil
}
