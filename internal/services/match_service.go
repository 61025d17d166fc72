// Package services – MatchService
//
// This file implements the buyer-match adapter: the one component allowed to
// talk to the external scoring service. A run is a fixed phase sequence —
// precondition check, idempotency check, packet build, HTTP emit, response
// parse, writeback — and every phase gets its own trace span so a stuck run
// is attributable to a phase, not a service.
//
// Two invariants live here and nowhere else:
//   - at-most-once: a (intake, packet version) pair emits exactly one packet
//     unless the caller forces a re-emit, which mints a NEW packet id and
//     records what it supersedes;
//   - whitelisted writeback: the scorer's answer lands only in match_status
//     and match_response via repo.WritebackMatchResult. Adapter health
//     (failure count, circuit breaker, score history) lives on a separate
//     table precisely so this stays true byte for byte.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/google/uuid"

	"github.com/plasticos/go-broker-backend/internal/domain"
	"github.com/plasticos/go-broker-backend/internal/match"
	"github.com/plasticos/go-broker-backend/internal/repo"
)

// MatchService runs buyer-match emissions against the external scorer.
type MatchService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// Client posts packets to the scoring service.
	Client *match.Client

	// PacketVersion is the current packet schema version (e.g. "1.2").
	PacketVersion string

	// MaxFailures is the consecutive-failure threshold that trips the
	// per-intake circuit breaker.
	MaxFailures int

	// ShadowEndpoint, when non-empty, receives a best-effort copy of every
	// successful primary emission for score comparison.
	ShadowEndpoint string

	locks *keyedLocks
}

// NewMatchService constructs a MatchService with the default three-strike
// circuit breaker.
func NewMatchService(db *gorm.DB, client *match.Client, packetVersion string) *MatchService {
	return &MatchService{
		DB:            db,
		Client:        client,
		PacketVersion: packetVersion,
		MaxFailures:   3,
		locks:         newKeyedLocks(),
	}
}

// MatchResult summarizes one completed match run.
type MatchResult struct {
	IntakeID    string  `json:"intake_id"`
	PacketID    string  `json:"packet_id"`
	MatchStatus string  `json:"match_status"`
	TopScore    float64 `json:"top_score,omitempty"`
	Superseded  string  `json:"superseded,omitempty"`
}

// RunBuyerMatch executes one match run for the intake. Plain runs refuse to
// re-emit an already-emitted (intake, version) pair with ErrDuplicateEmission;
// force mints a fresh packet id carrying a supersedes link. The emission
// record is written BEFORE the network call: a crash mid-flight must read as
// "emitted" afterwards, never as "safe to emit again".
func (s *MatchService) RunBuyerMatch(ctx context.Context, intakeID string, force bool) (*MatchResult, error) {
	unlock := s.locks.lock("intake:" + intakeID)
	defer unlock()

	tr := otel.Tracer("services/MatchService")
	ctx, span := tr.Start(ctx, "RunBuyerMatch",
		trace.WithAttributes(
			attribute.String("intake.id", intakeID),
			attribute.Bool("match.force", force),
		),
	)
	defer span.End()

	// Phase: precondition.
	in, ms, err := s.precondition(ctx, tr, intakeID)
	if err != nil {
		return nil, err
	}

	// Phase: idempotency check.
	packetID, supersedes, err := s.idempotencyCheck(ctx, tr, intakeID, force)
	if err != nil {
		return nil, err
	}

	// Phase: packet build.
	correlationID := uuid.NewString()
	payload, hash, err := s.packetBuild(ctx, tr, in, packetID, correlationID)
	if err != nil {
		return nil, err
	}

	// The emission record goes in before any network I/O.
	if _, err := repo.CreateEmission(ctx, s.DB, &domain.PacketEmission{
		IntakeID:      intakeID,
		PacketVersion: s.PacketVersion,
		PacketID:      packetID,
		CorrelationID: correlationID,
		Payload:       string(payload),
		PayloadHash:   hash,
		Supersedes:    supersedes,
	}); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrDuplicateEmission
		}
		return nil, err
	}

	// Phase: HTTP emit.
	resp, err := s.httpEmit(ctx, tr, payload)
	if err != nil {
		return nil, s.recordFailure(ctx, intakeID, ms, err)
	}

	// Phase: response parse happened inside the client; validate what the
	// run needs from it here.
	status := domain.MatchRejected
	top, scored := resp.TopScore()
	if scored {
		status = domain.MatchMatched
	}

	// Phase: writeback.
	if err := s.writeback(ctx, tr, intakeID, ms, status, resp, top, scored); err != nil {
		return nil, err
	}

	matchRunsTotal.WithLabelValues("success").Inc()
	log.Info().
		Str("intake_id", intakeID).
		Str("packet_id", packetID).
		Str("match_status", status).
		Float64("top_score", top).
		Msg("buyer match run complete")

	s.shadowEmit(ctx, intakeID, payload, top, scored)

	return &MatchResult{
		IntakeID:    intakeID,
		PacketID:    packetID,
		MatchStatus: status,
		TopScore:    top,
		Superseded:  supersedes,
	}, nil
}

// ResetCircuit clears the failure counter and re-enables matching for an
// intake. Administrative action; the next run starts from a clean slate.
func (s *MatchService) ResetCircuit(ctx context.Context, intakeID string) error {
	unlock := s.locks.lock("intake:" + intakeID)
	defer unlock()

	if _, err := repo.GetIntake(ctx, s.DB, intakeID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrIntakeNotFound
		}
		return err
	}
	ms, err := repo.GetMatchState(ctx, s.DB, intakeID)
	if err != nil {
		return err
	}
	ms.FailureCount = 0
	ms.Disabled = false
	return repo.SaveMatchState(ctx, s.DB, ms)
}

func (s *MatchService) precondition(ctx context.Context, tr trace.Tracer, intakeID string) (*domain.Intake, *domain.MatchState, error) {
	ctx, span := tr.Start(ctx, "precondition")
	defer span.End()

	in, err := repo.GetIntake(ctx, s.DB, intakeID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil, ErrIntakeNotFound
		}
		return nil, nil, err
	}
	if !in.Normalized {
		return nil, nil, ErrNotNormalized
	}
	ms, err := repo.GetMatchState(ctx, s.DB, intakeID)
	if err != nil {
		return nil, nil, err
	}
	// Circuit check comes before any network I/O.
	if ms.Disabled {
		return nil, nil, ErrMatchDisabled
	}
	return in, ms, nil
}

func (s *MatchService) idempotencyCheck(ctx context.Context, tr trace.Tracer, intakeID string, force bool) (packetID, supersedes string, err error) {
	ctx, span := tr.Start(ctx, "idempotency_check")
	defer span.End()

	n, err := repo.CountEmissions(ctx, s.DB, intakeID, s.PacketVersion)
	if err != nil {
		return "", "", err
	}
	if n == 0 {
		return match.MakePacketID(intakeID, s.PacketVersion, 0), "", nil
	}
	if !force {
		return "", "", ErrDuplicateEmission
	}
	prev, err := repo.LatestEmission(ctx, s.DB, intakeID, s.PacketVersion)
	if err != nil {
		return "", "", err
	}
	return match.MakePacketID(intakeID, s.PacketVersion, int(n)), prev.PacketID, nil
}

func (s *MatchService) packetBuild(ctx context.Context, tr trace.Tracer, in *domain.Intake, packetID, correlationID string) (payload []byte, hash string, err error) {
	_, span := tr.Start(ctx, "packet_build")
	defer span.End()

	pkt := match.BuildPacket(in, packetID, s.PacketVersion, correlationID, uuid.NewString())
	return match.HashPayload(pkt)
}

func (s *MatchService) httpEmit(ctx context.Context, tr trace.Tracer, payload []byte) (*match.Response, error) {
	ctx, span := tr.Start(ctx, "http_emit")
	defer span.End()

	start := time.Now()
	resp, err := s.Client.Emit(ctx, payload)
	observeMatchLatency(start)
	return resp, err
}

func (s *MatchService) writeback(ctx context.Context, tr trace.Tracer, intakeID string, ms *domain.MatchState, status string, resp *match.Response, top float64, scored bool) error {
	ctx, span := tr.Start(ctx, "writeback")
	defer span.End()

	if err := repo.WritebackMatchResult(ctx, s.DB, intakeID, status, string(resp.Raw)); err != nil {
		return err
	}
	ms.FailureCount = 0
	if scored {
		if ms.HasScore {
			ms.PrevScore = ms.LastScore
		}
		ms.LastScore = top
		ms.HasScore = true
	}
	return repo.SaveMatchState(ctx, s.DB, ms)
}

// recordFailure persists the failure outcome and returns the original error
// so callers and the HTTP layer see what actually went wrong. The writeback
// here still goes through the whitelist: match_status = error, and the error
// wrapped as a JSON object so match_response stays parseable on both the
// success and the failure path.
func (s *MatchService) recordFailure(ctx context.Context, intakeID string, ms *domain.MatchState, cause error) error {
	body, _ := json.Marshal(map[string]string{"error": cause.Error()})
	if err := repo.WritebackMatchResult(ctx, s.DB, intakeID, domain.MatchError, string(body)); err != nil {
		log.Error().Err(err).Str("intake_id", intakeID).Msg("failure writeback failed")
	}
	ms.FailureCount++
	if ms.FailureCount >= s.MaxFailures {
		ms.Disabled = true
		log.Warn().
			Str("intake_id", intakeID).
			Int("failure_count", ms.FailureCount).
			Msg("circuit breaker tripped for intake")
	}
	if err := repo.SaveMatchState(ctx, s.DB, ms); err != nil {
		log.Error().Err(err).Str("intake_id", intakeID).Msg("match state save failed")
	}
	matchRunsTotal.WithLabelValues("failure").Inc()
	return cause
}

// shadowEmit sends the payload to the shadow scorer and logs the score delta.
// Shadow failures never fail the run.
func (s *MatchService) shadowEmit(ctx context.Context, intakeID string, payload []byte, primaryTop float64, primaryScored bool) {
	if s.ShadowEndpoint == "" {
		return
	}
	resp, err := s.Client.EmitShadow(ctx, s.ShadowEndpoint, payload)
	if err != nil {
		log.Warn().Err(err).Str("intake_id", intakeID).Msg("shadow emission failed")
		return
	}
	shadowTop, shadowScored := resp.TopScore()
	if !primaryScored || !shadowScored {
		return
	}
	if _, err := repo.AppendShadowScore(ctx, s.DB, intakeID, primaryTop, shadowTop); err != nil {
		log.Warn().Err(err).Str("intake_id", intakeID).Msg("shadow score append failed")
		return
	}
	log.Info().
		Str("intake_id", intakeID).
		Float64("primary_score", primaryTop).
		Float64("shadow_score", shadowTop).
		Float64("delta", shadowTop-primaryTop).
		Msg("shadow score recorded")
}
