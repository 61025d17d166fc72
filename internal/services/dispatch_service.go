// Package services – DispatchService
//
// This file implements the dispatch state machine that owns the lifecycle of
// a freight load from creation through closure. All state changes go through
// transition(), which enforces the legal-edge table, records the append-only
// trace event, and restamps the SLA clock. Nothing else in the codebase may
// write Load.State.
//
// The write guard is a single merged check (checkMutable): lane fields lock
// at rate_confirmed, everything except the proof-of-delivery flags locks at
// dispatched. Keeping it one function is deliberate — two layered guards
// drifted apart historically and under-protected.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/plasticos/go-broker-backend/internal/domain"
	"github.com/plasticos/go-broker-backend/internal/repo"
)

// ComplianceChecker is the consumed interface of the document-compliance
// subsystem. The engine itself lives elsewhere; the dispatch service only
// asks it to veto closing a load.
type ComplianceChecker interface {
	// IsCompliant reports whether the entity has all required documents.
	IsCompliant(ctx context.Context, entityType, entityID string) (bool, error)
	// MissingDocuments lists the document tags still outstanding.
	MissingDocuments(ctx context.Context, entityType, entityID string) ([]string, error)
}

// DispatchService drives loads through their lifecycle.
type DispatchService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// RateWindow bounds how old a cached rate may be for auto-reuse.
	RateWindow time.Duration

	// Compliance, when set, gates load closure. Nil means no document gate.
	Compliance ComplianceChecker

	locks *keyedLocks
}

// NewDispatchService constructs a DispatchService with the 30-day rate
// memory window.
func NewDispatchService(db *gorm.DB, compliance ComplianceChecker) *DispatchService {
	return &DispatchService{
		DB:         db,
		RateWindow: 30 * 24 * time.Hour,
		Compliance: compliance,
		locks:      newKeyedLocks(),
	}
}

// NewLoad carries the fields needed to create a load from a confirmed sales
// order.
type NewLoad struct {
	Reference      string
	SaleOrderRef   string
	OriginZip      string
	DestinationZip string
	CarrierRef     string
}

// Create inserts a new load and advances it to awaiting_ready. If a carrier
// is known and rate memory holds a rate for (carrier, lane) within the
// window, the load is auto-advanced through ready_confirmed to
// rate_confirmed with the cached rate and rate_auto_reused set — every hop a
// legal, traced transition, never a state teleport.
func (s *DispatchService) Create(ctx context.Context, nl NewLoad) (*domain.Load, error) {
	if nl.Reference == "" || nl.SaleOrderRef == "" || nl.OriginZip == "" || nl.DestinationZip == "" {
		return nil, errors.New("reference, sale order, origin, and destination are required")
	}

	tr := otel.Tracer("services/DispatchService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(attribute.String("load.reference", nl.Reference)),
	)
	defer span.End()

	var created *domain.Load
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		l, err := repo.CreateLoad(ctx, tx, &domain.Load{
			Reference:      nl.Reference,
			SaleOrderRef:   nl.SaleOrderRef,
			OriginZip:      nl.OriginZip,
			DestinationZip: nl.DestinationZip,
			CarrierRef:     nl.CarrierRef,
		})
		if err != nil {
			return err
		}
		if err := s.transition(ctx, tx, l, domain.StateAwaitingReady, "", nil); err != nil {
			return err
		}

		// Rate auto-reuse. Lane key is origin+destination only; billing
		// identity must never leak into it.
		if nl.CarrierRef != "" {
			rm, err := repo.RecentRate(ctx, tx, nl.CarrierRef, l.LaneKey(), s.RateWindow, time.Now().UTC())
			if err != nil && !errors.Is(err, repo.ErrNotFound) {
				return err
			}
			if rm != nil {
				now := time.Now().UTC()
				if err := s.transition(ctx, tx, l, domain.StateReadyConfirmed, "rate memory reuse", func(l *domain.Load) {
					l.ReadyConfirmedBy = "rate-memory"
					l.ReadyConfirmedAt = &now
				}); err != nil {
					return err
				}
				if err := s.transition(ctx, tx, l, domain.StateRateConfirmed, "rate memory reuse", func(l *domain.Load) {
					l.RateAmount = rm.RateAmount
					l.RateConfirmedAt = &now
					l.RateAutoReused = true
				}); err != nil {
					return err
				}
				rateAutoReusedTotal.Inc()
			}
		}

		created = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Get returns a load by ID.
func (s *DispatchService) Get(ctx context.Context, id string) (*domain.Load, error) {
	l, err := repo.GetLoad(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrLoadNotFound
	}
	return l, err
}

// ListPage returns a page of loads and the total count.
func (s *DispatchService) ListPage(ctx context.Context, page, pageSize int) ([]domain.Load, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	total, err := repo.CountLoads(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Load{}, 0, nil
	}
	items, err := repo.ListLoadsPage(ctx, s.DB, (page-1)*pageSize, pageSize)
	return items, total, err
}

// Events returns the transition trace for a load, oldest first.
func (s *DispatchService) Events(ctx context.Context, id string) ([]domain.LoadEvent, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return repo.ListLoadEvents(ctx, s.DB, id)
}

// ConfirmReady records who confirmed material readiness and advances
// awaiting_ready -> ready_confirmed.
func (s *DispatchService) ConfirmReady(ctx context.Context, id, confirmedBy string) (*domain.Load, error) {
	if confirmedBy == "" {
		return nil, ErrMissingConfirmingParty
	}
	now := time.Now().UTC()
	return s.transitionLocked(ctx, id, domain.StateReadyConfirmed, "", func(l *domain.Load) {
		l.ReadyConfirmedBy = confirmedBy
		l.ReadyConfirmedAt = &now
	})
}

// ConfirmRate records the negotiated carrier and rate, advances
// ready_confirmed -> rate_confirmed, and appends the rate to rate memory for
// future reuse on this lane.
func (s *DispatchService) ConfirmRate(ctx context.Context, id, carrierRef string, amount float64) (*domain.Load, error) {
	if carrierRef == "" || amount <= 0 {
		return nil, ErrMissingRate
	}
	now := time.Now().UTC()
	unlock := s.locks.lock("load:" + id)
	defer unlock()

	l, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	// The rate-memory append commits atomically with the transition: a load
	// must never reach rate_confirmed without its lane rate on record.
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.transition(ctx, tx, l, domain.StateRateConfirmed, "", func(l *domain.Load) {
			l.CarrierRef = carrierRef
			l.RateAmount = amount
			l.RateConfirmedAt = &now
			l.RateAutoReused = false
		}); err != nil {
			return err
		}
		_, err := repo.RecordRate(ctx, tx, carrierRef, l.LaneKey(), amount, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Schedule records pickup and delivery datetimes and advances
// rate_confirmed -> scheduled.
func (s *DispatchService) Schedule(ctx context.Context, id string, pickupAt, deliveryAt time.Time) (*domain.Load, error) {
	if pickupAt.IsZero() || deliveryAt.IsZero() {
		return nil, ErrMissingSchedule
	}
	return s.transitionLocked(ctx, id, domain.StateScheduled, "", func(l *domain.Load) {
		l.PickupAt = &pickupAt
		l.DeliveryAt = &deliveryAt
	})
}

// Dispatch advances scheduled -> dispatched. A load that is merely
// rate_confirmed cannot be dispatched.
func (s *DispatchService) Dispatch(ctx context.Context, id string) (*domain.Load, error) {
	now := time.Now().UTC()
	return s.transitionLocked(ctx, id, domain.StateDispatched, "", func(l *domain.Load) {
		l.DispatchedAt = &now
	})
}

// PickUp advances dispatched -> picked_up.
func (s *DispatchService) PickUp(ctx context.Context, id string) (*domain.Load, error) {
	return s.transitionLocked(ctx, id, domain.StatePickedUp, "", nil)
}

// Deliver advances picked_up -> delivered.
func (s *DispatchService) Deliver(ctx context.Context, id string) (*domain.Load, error) {
	now := time.Now().UTC()
	return s.transitionLocked(ctx, id, domain.StateDelivered, "", func(l *domain.Load) {
		l.DeliveredAt = &now
	})
}

// Close advances delivered -> closed. Both proof-of-delivery flags must be
// attached, and the compliance collaborator (when configured) must not veto.
func (s *DispatchService) Close(ctx context.Context, id string) (*domain.Load, error) {
	unlock := s.locks.lock("load:" + id)
	defer unlock()

	l, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !l.BOLPickupAttached || !l.BOLDeliveryAttached {
		return nil, ErrMissingProofOfDelivery
	}
	if s.Compliance != nil {
		ok, err := s.Compliance.IsCompliant(ctx, "load", id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNotCompliant
		}
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.transition(ctx, tx, l, domain.StateClosed, "", nil)
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// MarkException moves any non-terminal load to the exception state. A reason
// is mandatory; recovery from exception is a manual, administrative act.
func (s *DispatchService) MarkException(ctx context.Context, id, reason string) (*domain.Load, error) {
	if reason == "" {
		return nil, ErrMissingReason
	}
	return s.transitionLocked(ctx, id, domain.StateException, reason, func(l *domain.Load) {
		l.ExceptionReason = reason
	})
}

// AttachBOL sets the proof-of-delivery flags. These are the only fields that
// stay writable after dispatch; terminal states accept no writes at all.
func (s *DispatchService) AttachBOL(ctx context.Context, id string, pickup, delivery *bool) (*domain.Load, error) {
	unlock := s.locks.lock("load:" + id)
	defer unlock()

	l, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	fields := []string{}
	if pickup != nil {
		fields = append(fields, "bol_pickup_attached")
	}
	if delivery != nil {
		fields = append(fields, "bol_delivery_attached")
	}
	if err := checkMutable(l.State, fields...); err != nil {
		return nil, err
	}

	if pickup != nil {
		l.BOLPickupAttached = *pickup
	}
	if delivery != nil {
		l.BOLDeliveryAttached = *delivery
	}
	if err := repo.SaveLoad(ctx, s.DB, l); err != nil {
		return nil, err
	}
	return l, nil
}

// UpdateLane rewrites the load's origin/destination. Fails with
// ImmutableFieldError once the lane is locked in at rate_confirmed.
func (s *DispatchService) UpdateLane(ctx context.Context, id, originZip, destinationZip string) (*domain.Load, error) {
	unlock := s.locks.lock("load:" + id)
	defer unlock()

	l, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkMutable(l.State, "origin_zip", "destination_zip"); err != nil {
		return nil, err
	}
	l.OriginZip = originZip
	l.DestinationZip = destinationZip
	if err := repo.SaveLoad(ctx, s.DB, l); err != nil {
		return nil, err
	}
	return l, nil
}

// transitionLocked serializes a single transition on the load and runs it in
// one DB transaction.
func (s *DispatchService) transitionLocked(ctx context.Context, id string, to domain.LoadState, reason string, mutate func(*domain.Load)) (*domain.Load, error) {
	unlock := s.locks.lock("load:" + id)
	defer unlock()

	l, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.transition(ctx, tx, l, to, reason, mutate)
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// transition is the single write path for Load.State. It validates the edge,
// applies the caller's field mutation, restamps the SLA clock, appends the
// trace event, and emits telemetry. On an illegal edge the load is returned
// untouched.
func (s *DispatchService) transition(ctx context.Context, tx *gorm.DB, l *domain.Load, to domain.LoadState, reason string, mutate func(*domain.Load)) error {
	from := l.State
	if !domain.CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}

	tr := otel.Tracer("services/DispatchService")
	ctx, span := tr.Start(ctx, "transition",
		trace.WithAttributes(
			attribute.String("load.id", l.ID),
			attribute.String("load.from", string(from)),
			attribute.String("load.to", string(to)),
		),
	)
	defer span.End()

	if mutate != nil {
		mutate(l)
	}
	l.State = to
	l.EnteredStateAt = time.Now().UTC()
	l.SLABreached = false

	if err := repo.SaveLoad(ctx, tx, l); err != nil {
		return err
	}

	correlationID := uuid.NewString()
	if _, err := repo.AppendLoadEvent(ctx, tx, l.ID, from, to, reason, correlationID); err != nil {
		return err
	}

	transitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	log.Info().
		Str("load_id", l.ID).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("correlation_id", correlationID).
		Msg("load transition")
	return nil
}

// checkMutable is the merged pre-write guard: one check covering both the
// lane lock (>= rate_confirmed) and the post-dispatch full lock (everything
// but the proof-of-delivery flags). Terminal states admit no writes.
func checkMutable(state domain.LoadState, fields ...string) error {
	for _, f := range fields {
		if state.IsTerminal() {
			return &ImmutableFieldError{Field: f, State: state}
		}
		if state.FieldsLocked() && f != "bol_pickup_attached" && f != "bol_delivery_attached" {
			return &ImmutableFieldError{Field: f, State: state}
		}
		if state.LaneLocked() && (f == "origin_zip" || f == "destination_zip") {
			return &ImmutableFieldError{Field: f, State: state}
		}
	}
	return nil
}
