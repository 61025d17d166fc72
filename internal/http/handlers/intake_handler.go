// Intake HTTP handlers.
//
// This file exposes REST endpoints for material intakes:
//   - POST   /intakes                  (create)
//   - GET    /intakes                  (list, paginated)
//   - GET    /intakes/{id}             (fetch)
//   - POST   /intakes/{id}/normalize   (flip data-entry gate)
//   - POST   /intakes/{id}/match       (run buyer match, ?force=true to re-emit)
//   - POST   /intakes/{id}/match/reset (re-enable a tripped circuit)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/plasticos/go-broker-backend/internal/domain"
	"github.com/plasticos/go-broker-backend/internal/match"
	"github.com/plasticos/go-broker-backend/internal/services"
	"github.com/plasticos/go-broker-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// IntakeService defines intake lifecycle operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type IntakeService interface {
	// Create validates and inserts a new intake.
	Create(ctx context.Context, in *domain.Intake) (*domain.Intake, error)
	// Normalize flips the data-entry gate on an intake.
	Normalize(ctx context.Context, id string) error
	// Get returns an intake by ID.
	Get(ctx context.Context, id string) (*domain.Intake, error)
	// ListPage returns a page of intakes and the total count.
	ListPage(ctx context.Context, page, pageSize int) ([]domain.Intake, int64, error)
}

// MatchRunner defines the buyer-match operations consumed by HTTP handlers.
type MatchRunner interface {
	// RunBuyerMatch executes one match run; force re-emits a superseding packet.
	RunBuyerMatch(ctx context.Context, intakeID string, force bool) (*services.MatchResult, error)
	// ResetCircuit re-enables matching for an intake after repeated failures.
	ResetCircuit(ctx context.Context, intakeID string) error
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for intakes, matching, and loads.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	intakeSvc   IntakeService
	matchSvc    MatchRunner
	dispatchSvc DispatchOps
}

// New constructs and returns a Handlers instance bound to the given services.
func New(intakeSvc IntakeService, matchSvc MatchRunner, dispatchSvc DispatchOps) *Handlers {
	return &Handlers{intakeSvc: intakeSvc, matchSvc: matchSvc, dispatchSvc: dispatchSvc}
}

//
// DTOs
//

// CreateIntakeRequest is the JSON payload for creating an intake.
type CreateIntakeRequest struct {
	Name        string `json:"name" binding:"required,min=1,max=128" example:"LOT-2026-0415"`
	PartnerRef  string `json:"partner_ref" binding:"required" example:"partner-118"`
	FacilityRef string `json:"facility_ref,omitempty"`
	ProfileRef  string `json:"profile_ref,omitempty"`

	MaterialHintText string `json:"material_hint_text,omitempty"`

	Polymer    string `json:"polymer" binding:"required" example:"PP"`
	Form       string `json:"form" binding:"required" example:"regrind"`
	Color      string `json:"color,omitempty"`
	SourceType string `json:"source_type,omitempty"`
	GradeHint  string `json:"grade_hint,omitempty"`

	MFIValue              float64 `json:"mfi_value,omitempty"`
	DensityValue          float64 `json:"density_value,omitempty"`
	MoisturePPM           int     `json:"moisture_ppm,omitempty"`
	ContaminationTotalPct float64 `json:"contamination_total_pct,omitempty"`
	HasMetal              bool    `json:"has_metal"`
	HasFR                 bool    `json:"has_fr"`
	HasResidue            bool    `json:"has_residue"`
	FillerType            string  `json:"filler_type,omitempty"`
	FillerPct             float64 `json:"filler_pct,omitempty"`
	ContaminationNotes    string  `json:"contamination_notes,omitempty"`

	OriginApplication string `json:"origin_application,omitempty"`
	OriginSector      string `json:"origin_sector,omitempty"`
	OriginProcessType string `json:"origin_process_type,omitempty"`

	QuantityPerLoadLbs     int    `json:"quantity_per_load_lbs" binding:"required,min=1"`
	LoadsPerMonth          int    `json:"loads_per_month,omitempty"`
	DealType               string `json:"deal_type,omitempty" example:"spot"`
	ContractDurationMonths int    `json:"contract_duration_months,omitempty"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListIntakesResponse wraps a page of intakes and pagination information.
type ListIntakesResponse struct {
	Intakes    []domain.Intake `json:"intakes"`
	Pagination Pagination      `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.ClampInt(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return
}

// paginate computes the standard pagination envelope.
func paginate(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// requireUUID validates the :id path parameter.
func requireUUID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "id must be a UUID")
		return "", false
	}
	return id, true
}

//
// Handlers
//

// CreateIntake accepts a broker-entered material lot and stores it in
// pending match status.
func (h *Handlers) CreateIntake(c *gin.Context) {
	var req CreateIntakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	in, err := h.intakeSvc.Create(c.Request.Context(), &domain.Intake{
		Name:        req.Name,
		PartnerRef:  req.PartnerRef,
		FacilityRef: req.FacilityRef,
		ProfileRef:  req.ProfileRef,

		MaterialHintText: req.MaterialHintText,

		Polymer:    req.Polymer,
		Form:       req.Form,
		Color:      req.Color,
		SourceType: req.SourceType,
		GradeHint:  req.GradeHint,

		MFIValue:              req.MFIValue,
		DensityValue:          req.DensityValue,
		MoisturePPM:           req.MoisturePPM,
		ContaminationTotalPct: req.ContaminationTotalPct,
		HasMetal:              req.HasMetal,
		HasFR:                 req.HasFR,
		HasResidue:            req.HasResidue,
		FillerType:            req.FillerType,
		FillerPct:             req.FillerPct,
		ContaminationNotes:    req.ContaminationNotes,

		OriginApplication: req.OriginApplication,
		OriginSector:      req.OriginSector,
		OriginProcessType: req.OriginProcessType,

		QuantityPerLoadLbs:     req.QuantityPerLoadLbs,
		LoadsPerMonth:          req.LoadsPerMonth,
		DealType:               req.DealType,
		ContractDurationMonths: req.ContractDurationMonths,
	})
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, in)
}

// GetIntake returns one intake by ID.
func (h *Handlers) GetIntake(c *gin.Context) {
	id, valid := requireUUID(c)
	if !valid {
		return
	}
	in, err := h.intakeSvc.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrIntakeNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "intake not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, in)
}

// ListIntakes returns a page of intakes.
func (h *Handlers) ListIntakes(c *gin.Context) {
	page, pageSize := clampPagination(c)
	items, total, err := h.intakeSvc.ListPage(c.Request.Context(), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListIntakesResponse{
		Intakes:    items,
		Pagination: paginate(page, pageSize, total),
	})
}

// NormalizeIntake flips the data-entry gate, making the intake eligible for
// match runs.
func (h *Handlers) NormalizeIntake(c *gin.Context) {
	id, valid := requireUUID(c)
	if !valid {
		return
	}
	if err := h.intakeSvc.Normalize(c.Request.Context(), id); err != nil {
		if errors.Is(err, services.ErrIntakeNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "intake not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}

// RunMatch executes one buyer-match run for the intake. Pass ?force=true to
// re-emit a superseding packet for an already-matched intake.
func (h *Handlers) RunMatch(c *gin.Context) {
	id, valid := requireUUID(c)
	if !valid {
		return
	}
	force := c.Query("force") == "true"

	res, err := h.matchSvc.RunBuyerMatch(c.Request.Context(), id, force)
	if err != nil {
		h.failMatch(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// ResetMatchCircuit re-enables matching for an intake whose circuit breaker
// tripped after repeated failures.
func (h *Handlers) ResetMatchCircuit(c *gin.Context) {
	id, valid := requireUUID(c)
	if !valid {
		return
	}
	if err := h.matchSvc.ResetCircuit(c.Request.Context(), id); err != nil {
		if errors.Is(err, services.ErrIntakeNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "intake not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}

// failMatch translates buyer-match errors into the HTTP error taxonomy.
func (h *Handlers) failMatch(c *gin.Context, err error) {
	var statusErr *match.StatusError
	var urlErr *url.Error
	switch {
	case errors.Is(err, services.ErrIntakeNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "intake not found")
	case errors.Is(err, services.ErrNotNormalized):
		fail(c, http.StatusUnprocessableEntity, ErrCodePreconditionFailed, err.Error())
	case errors.Is(err, services.ErrMatchDisabled):
		fail(c, http.StatusConflict, ErrCodeMatchDisabled, err.Error())
	case errors.Is(err, services.ErrDuplicateEmission):
		fail(c, http.StatusConflict, ErrCodeDuplicateEmission, err.Error())
	case errors.Is(err, match.ErrInvalidResponse):
		fail(c, http.StatusBadGateway, ErrCodeUpstreamInvalid, err.Error())
	case errors.As(err, &statusErr):
		fail(c, http.StatusBadGateway, ErrCodeUpstreamUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		fail(c, http.StatusGatewayTimeout, ErrCodeUpstreamUnavailable, "scorer request timed out")
	case errors.As(err, &urlErr):
		if urlErr.Timeout() {
			fail(c, http.StatusGatewayTimeout, ErrCodeUpstreamUnavailable, "scorer request timed out")
			return
		}
		fail(c, http.StatusBadGateway, ErrCodeUpstreamUnavailable, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
