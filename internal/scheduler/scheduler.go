// Package scheduler runs the periodic background scans on independent ticker
// loops: SLA escalation, packet drift detection, and top-score regression.
// Each loop runs until its context is cancelled; scan errors are logged and
// the loop keeps ticking.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/plasticos/go-broker-backend/internal/services"
)

// Scheduler owns the background scan loops.
type Scheduler struct {
	// Scans provides the scan implementations.
	Scans *services.ScanService

	// EscalationInterval is how often stalled loads are checked. <= 0
	// disables the loop.
	EscalationInterval time.Duration

	// DriftInterval is how often stored payloads are re-hashed. <= 0
	// disables the loop.
	DriftInterval time.Duration

	// RegressionInterval is how often score history is checked. <= 0
	// disables the loop.
	RegressionInterval time.Duration

	wg sync.WaitGroup
}

// New constructs a Scheduler with the given scan intervals.
func New(scans *services.ScanService, escalation, drift, regression time.Duration) *Scheduler {
	return &Scheduler{
		Scans:              scans,
		EscalationInterval: escalation,
		DriftInterval:      drift,
		RegressionInterval: regression,
	}
}

// Start launches one goroutine per enabled loop and returns immediately.
// Cancel ctx to stop; Wait blocks until all loops have exited.
func (s *Scheduler) Start(ctx context.Context) {
	s.spawn(ctx, "escalation", s.EscalationInterval, func(ctx context.Context) error {
		_, err := s.Scans.ScanEscalations(ctx, time.Now().UTC())
		return err
	})
	s.spawn(ctx, "drift", s.DriftInterval, func(ctx context.Context) error {
		_, err := s.Scans.ScanDrift(ctx)
		return err
	})
	s.spawn(ctx, "regression", s.RegressionInterval, func(ctx context.Context) error {
		_, err := s.Scans.ScanRegressions(ctx)
		return err
	})
}

// Wait blocks until every loop started by Start has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) spawn(ctx context.Context, name string, interval time.Duration, run func(context.Context) error) {
	if interval <= 0 {
		log.Info().Str("scan", name).Msg("scan loop disabled")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Info().Str("scan", name).Dur("interval", interval).Msg("scan loop started")

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Info().Str("scan", name).Msg("scan loop stopped")
				return
			case <-ticker.C:
				if err := run(ctx); err != nil {
					log.Error().Err(err).Str("scan", name).Msg("scan failed")
				}
			}
		}
	}()
}
