// Load HTTP handlers.
//
// This file exposes REST endpoints for freight loads:
//   - POST   /loads                 (create; may auto-advance via rate memory)
//   - GET    /loads                 (list, paginated)
//   - GET    /loads/{id}            (fetch)
//   - GET    /loads/{id}/events     (transition trace)
//   - POST   /loads/{id}/ready      (confirm material readiness)
//   - POST   /loads/{id}/rate       (confirm carrier and rate)
//   - POST   /loads/{id}/schedule   (set pickup/delivery datetimes)
//   - POST   /loads/{id}/dispatch
//   - POST   /loads/{id}/pickup
//   - POST   /loads/{id}/deliver
//   - POST   /loads/{id}/close
//   - POST   /loads/{id}/exception  (move to exception with a reason)
//   - PUT    /loads/{id}/lane       (update origin/destination while unlocked)
//   - PUT    /loads/{id}/bol        (attach proof-of-delivery flags)
//
// Every transition endpoint returns 409 invalid_transition for an illegal
// edge and 409 immutable_field for writes past the lock points.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/plasticos/go-broker-backend/internal/domain"
	"github.com/plasticos/go-broker-backend/internal/services"
)

// DispatchOps defines the load lifecycle operations consumed by HTTP
// handlers. Implementations must be safe for concurrent use.
type DispatchOps interface {
	Create(ctx context.Context, nl services.NewLoad) (*domain.Load, error)
	Get(ctx context.Context, id string) (*domain.Load, error)
	ListPage(ctx context.Context, page, pageSize int) ([]domain.Load, int64, error)
	Events(ctx context.Context, id string) ([]domain.LoadEvent, error)

	ConfirmReady(ctx context.Context, id, confirmedBy string) (*domain.Load, error)
	ConfirmRate(ctx context.Context, id, carrierRef string, amount float64) (*domain.Load, error)
	Schedule(ctx context.Context, id string, pickupAt, deliveryAt time.Time) (*domain.Load, error)
	Dispatch(ctx context.Context, id string) (*domain.Load, error)
	PickUp(ctx context.Context, id string) (*domain.Load, error)
	Deliver(ctx context.Context, id string) (*domain.Load, error)
	Close(ctx context.Context, id string) (*domain.Load, error)
	MarkException(ctx context.Context, id, reason string) (*domain.Load, error)
	AttachBOL(ctx context.Context, id string, pickup, delivery *bool) (*domain.Load, error)
	UpdateLane(ctx context.Context, id, originZip, destinationZip string) (*domain.Load, error)
}

//
// DTOs
//

// CreateLoadRequest is the JSON payload for creating a load.
type CreateLoadRequest struct {
	Reference      string `json:"reference" binding:"required" example:"LD-2026-1042"`
	SaleOrderRef   string `json:"sale_order_ref" binding:"required" example:"SO-8831"`
	OriginZip      string `json:"origin_zip" binding:"required" example:"30301"`
	DestinationZip string `json:"destination_zip" binding:"required" example:"60601"`
	CarrierRef     string `json:"carrier_ref,omitempty" example:"carrier-7"`
}

// ConfirmReadyRequest carries the party confirming material readiness.
type ConfirmReadyRequest struct {
	ConfirmedBy string `json:"confirmed_by" binding:"required" example:"warehouse-ops"`
}

// ConfirmRateRequest carries the negotiated carrier and rate.
type ConfirmRateRequest struct {
	CarrierRef string  `json:"carrier_ref" binding:"required" example:"carrier-7"`
	RateAmount float64 `json:"rate_amount" binding:"required,gt=0" example:"1850"`
}

// ScheduleRequest carries the pickup and delivery datetimes.
type ScheduleRequest struct {
	PickupAt   time.Time `json:"pickup_at" binding:"required"`
	DeliveryAt time.Time `json:"delivery_at" binding:"required"`
}

// ExceptionRequest carries the mandatory exception reason.
type ExceptionRequest struct {
	Reason string `json:"reason" binding:"required" example:"driver no-show"`
}

// UpdateLaneRequest rewrites the load's origin/destination.
type UpdateLaneRequest struct {
	OriginZip      string `json:"origin_zip" binding:"required"`
	DestinationZip string `json:"destination_zip" binding:"required"`
}

// AttachBOLRequest sets the proof-of-delivery flags. Omitted fields are left
// unchanged.
type AttachBOLRequest struct {
	Pickup   *bool `json:"pickup,omitempty"`
	Delivery *bool `json:"delivery,omitempty"`
}

// ListLoadsResponse wraps a page of loads and pagination information.
type ListLoadsResponse struct {
	Loads      []domain.Load `json:"loads"`
	Pagination Pagination    `json:"pagination"`
}

//
// Handlers
//

// CreateLoad creates a load from a confirmed sales order. When rate memory
// holds a recent rate for the carrier and lane, the response already shows
// the load in rate_confirmed with rate_auto_reused set.
func (h *Handlers) CreateLoad(c *gin.Context) {
	var req CreateLoadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	l, err := h.dispatchSvc.Create(c.Request.Context(), services.NewLoad{
		Reference:      req.Reference,
		SaleOrderRef:   req.SaleOrderRef,
		OriginZip:      req.OriginZip,
		DestinationZip: req.DestinationZip,
		CarrierRef:     req.CarrierRef,
	})
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, l)
}

// GetLoad returns one load by ID.
func (h *Handlers) GetLoad(c *gin.Context) {
	id, valid := requireUUID(c)
	if !valid {
		return
	}
	l, err := h.dispatchSvc.Get(c.Request.Context(), id)
	if err != nil {
		h.failDispatch(c, err)
		return
	}
	ok(c, http.StatusOK, l)
}

// ListLoads returns a page of loads.
func (h *Handlers) ListLoads(c *gin.Context) {
	page, pageSize := clampPagination(c)
	items, total, err := h.dispatchSvc.ListPage(c.Request.Context(), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListLoadsResponse{
		Loads:      items,
		Pagination: paginate(page, pageSize, total),
	})
}

// ListLoadEvents returns the append-only transition trace, oldest first.
func (h *Handlers) ListLoadEvents(c *gin.Context) {
	id, valid := requireUUID(c)
	if !valid {
		return
	}
	evs, err := h.dispatchSvc.Events(c.Request.Context(), id)
	if err != nil {
		h.failDispatch(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"events": evs})
}

// ConfirmReady advances awaiting_ready -> ready_confirmed.
func (h *Handlers) ConfirmReady(c *gin.Context) {
	id, valid := requireUUID(c)
	if !valid {
		return
	}
	var req ConfirmReadyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "confirmed_by required")
		return
	}
	l, err := h.dispatchSvc.ConfirmReady(c.Request.Context(), id, req.ConfirmedBy)
	if err != nil {
		h.failDispatch(c, err)
		return
	}
	ok(c, http.StatusOK, l)
}

// ConfirmRate advances ready_confirmed -> rate_confirmed and records the
// rate for future reuse on this lane.
func (h *Handlers) ConfirmRate(c *gin.Context) {
	id, valid := requireUUID(c)
	if !valid {
		return
	}
	var req ConfirmRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "carrier_ref and positive rate_amount required")
		return
	}
	l, err := h.dispatchSvc.ConfirmRate(c.Request.Context(), id, req.CarrierRef, req.RateAmount)
	if err != nil {
		h.failDispatch(c, err)
		return
	}
	ok(c, http.StatusOK, l)
}

// ScheduleLoad advances rate_confirmed -> scheduled.
func (h *Handlers) ScheduleLoad(c *gin.Context) {
	id, valid := requireUUID(c)
	if !valid {
		return
	}
	var req ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "pickup_at and delivery_at required (RFC 3339)")
		return
	}
	l, err := h.dispatchSvc.Schedule(c.Request.Context(), id, req.PickupAt, req.DeliveryAt)
	if err != nil {
		h.failDispatch(c, err)
		return
	}
	ok(c, http.StatusOK, l)
}

// DispatchLoad advances scheduled -> dispatched.
func (h *Handlers) DispatchLoad(c *gin.Context) {
	h.simpleTransition(c, h.dispatchSvc.Dispatch)
}

// PickUpLoad advances dispatched -> picked_up.
func (h *Handlers) PickUpLoad(c *gin.Context) {
	h.simpleTransition(c, h.dispatchSvc.PickUp)
}

// DeliverLoad advances picked_up -> delivered.
func (h *Handlers) DeliverLoad(c *gin.Context) {
	h.simpleTransition(c, h.dispatchSvc.Deliver)
}

// CloseLoad advances delivered -> closed, given both proof-of-delivery flags.
func (h *Handlers) CloseLoad(c *gin.Context) {
	h.simpleTransition(c, h.dispatchSvc.Close)
}

// MarkException moves any non-terminal load to exception.
func (h *Handlers) MarkException(c *gin.Context) {
	id, valid := requireUUID(c)
	if !valid {
		return
	}
	var req ExceptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "reason required")
		return
	}
	l, err := h.dispatchSvc.MarkException(c.Request.Context(), id, req.Reason)
	if err != nil {
		h.failDispatch(c, err)
		return
	}
	ok(c, http.StatusOK, l)
}

// UpdateLane rewrites origin/destination while the lane is still unlocked.
func (h *Handlers) UpdateLane(c *gin.Context) {
	id, valid := requireUUID(c)
	if !valid {
		return
	}
	var req UpdateLaneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "origin_zip and destination_zip required")
		return
	}
	l, err := h.dispatchSvc.UpdateLane(c.Request.Context(), id, req.OriginZip, req.DestinationZip)
	if err != nil {
		h.failDispatch(c, err)
		return
	}
	ok(c, http.StatusOK, l)
}

// AttachBOL sets the proof-of-delivery flags.
func (h *Handlers) AttachBOL(c *gin.Context) {
	id, valid := requireUUID(c)
	if !valid {
		return
	}
	var req AttachBOLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.Pickup == nil && req.Delivery == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "at least one of pickup, delivery required")
		return
	}
	l, err := h.dispatchSvc.AttachBOL(c.Request.Context(), id, req.Pickup, req.Delivery)
	if err != nil {
		h.failDispatch(c, err)
		return
	}
	ok(c, http.StatusOK, l)
}

// simpleTransition handles the body-less transition endpoints.
func (h *Handlers) simpleTransition(c *gin.Context, op func(context.Context, string) (*domain.Load, error)) {
	id, valid := requireUUID(c)
	if !valid {
		return
	}
	l, err := op(c.Request.Context(), id)
	if err != nil {
		h.failDispatch(c, err)
		return
	}
	ok(c, http.StatusOK, l)
}

// failDispatch translates dispatch errors into the HTTP error taxonomy.
func (h *Handlers) failDispatch(c *gin.Context, err error) {
	var ite *services.InvalidTransitionError
	var ife *services.ImmutableFieldError
	switch {
	case errors.Is(err, services.ErrLoadNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "load not found")
	case errors.As(err, &ite):
		fail(c, http.StatusConflict, ErrCodeInvalidTransition, err.Error())
	case errors.As(err, &ife):
		fail(c, http.StatusConflict, ErrCodeImmutableField, err.Error())
	case errors.Is(err, services.ErrMissingConfirmingParty),
		errors.Is(err, services.ErrMissingRate),
		errors.Is(err, services.ErrMissingSchedule),
		errors.Is(err, services.ErrMissingReason):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrMissingProofOfDelivery),
		errors.Is(err, services.ErrNotCompliant):
		fail(c, http.StatusUnprocessableEntity, ErrCodePreconditionFailed, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
