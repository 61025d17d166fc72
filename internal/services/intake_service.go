// Package services – IntakeService
//
// This file implements broker intake handling: creation with field
// validation and casing normalization of free-text origin fields, the
// normalization gate, and read access. Matching never runs on an intake that
// has not passed the gate.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/plasticos/go-broker-backend/internal/domain"
	"github.com/plasticos/go-broker-backend/internal/repo"
)

var titleCaser = cases.Title(language.English)

// IntakeService manages material intakes.
type IntakeService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
}

// NewIntakeService constructs an IntakeService.
func NewIntakeService(db *gorm.DB) *IntakeService {
	return &IntakeService{DB: db}
}

// Create validates and inserts a new intake. Polymer is stored uppercase and
// form lowercase so downstream packet payloads stay canonical; the origin
// application gets title casing for display.
func (s *IntakeService) Create(ctx context.Context, in *domain.Intake) (*domain.Intake, error) {
	if in.Name == "" || in.PartnerRef == "" {
		return nil, errors.New("name and partner_ref are required")
	}
	if in.Polymer == "" || in.Form == "" {
		return nil, errors.New("polymer and form are required")
	}
	if in.QuantityPerLoadLbs <= 0 {
		return nil, errors.New("quantity_per_load_lbs must be positive")
	}
	if in.DealType == "" {
		in.DealType = "spot"
	}

	in.Polymer = strings.ToUpper(strings.TrimSpace(in.Polymer))
	in.Form = strings.ToLower(strings.TrimSpace(in.Form))
	if in.OriginApplication != "" {
		in.OriginApplication = titleCaser.String(strings.TrimSpace(in.OriginApplication))
	}

	return repo.CreateIntake(ctx, s.DB, in)
}

// Normalize flips the data-entry gate, making the intake eligible for match
// runs.
func (s *IntakeService) Normalize(ctx context.Context, id string) error {
	err := repo.MarkNormalized(ctx, s.DB, id, time.Now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return ErrIntakeNotFound
	}
	return err
}

// Get returns an intake by ID.
func (s *IntakeService) Get(ctx context.Context, id string) (*domain.Intake, error) {
	in, err := repo.GetIntake(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrIntakeNotFound
	}
	return in, err
}

// ListPage returns a page of intakes and the total count.
func (s *IntakeService) ListPage(ctx context.Context, page, pageSize int) ([]domain.Intake, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	total, err := repo.CountIntakes(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Intake{}, 0, nil
	}
	items, err := repo.ListIntakesPage(ctx, s.DB, (page-1)*pageSize, pageSize)
	return items, total, err
}
