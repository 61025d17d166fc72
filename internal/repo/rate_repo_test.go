package repo

import (
	"context"
	"testing"
	"time"

	"github.com/plasticos/go-broker-backend/internal/domain"
)

func TestRecentRate_WindowAndTieBreak(t *testing.T) {
	db := newRepoDB(t, &domain.RateMemory{})
	ctx := context.Background()
	now := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	lane := domain.LaneKey("30301", "60601")

	// Outside the 30-day window.
	if _, err := RecordRate(ctx, db, "carrierX", lane, 1500, now.AddDate(0, 0, -45)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// Inside the window, older.
	if _, err := RecordRate(ctx, db, "carrierX", lane, 1300, now.AddDate(0, 0, -20)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// Inside the window, 10 days ago — the winner.
	if _, err := RecordRate(ctx, db, "carrierX", lane, 1200, now.AddDate(0, 0, -10)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// Other carrier and other lane must not interfere.
	if _, err := RecordRate(ctx, db, "carrierY", lane, 900, now.AddDate(0, 0, -1)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := RecordRate(ctx, db, "carrierX", domain.LaneKey("30301", "90001"), 800, now.AddDate(0, 0, -1)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rm, err := RecentRate(ctx, db, "carrierX", lane, 30*24*time.Hour, now)
	if err != nil {
		t.Fatalf("RecentRate: %v", err)
	}
	if rm.RateAmount != 1200 {
		t.Fatalf("rate = %v, want 1200", rm.RateAmount)
	}
}

func TestRecentRate_SameDateTieBreaksToLatestRow(t *testing.T) {
	db := newRepoDB(t, &domain.RateMemory{})
	ctx := context.Background()
	now := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	date := now.AddDate(0, 0, -5)

	if _, err := RecordRate(ctx, db, "c", "a-b", 1000, date); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := RecordRate(ctx, db, "c", "a-b", 1100, date); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rm, err := RecentRate(ctx, db, "c", "a-b", 30*24*time.Hour, now)
	if err != nil {
		t.Fatalf("RecentRate: %v", err)
	}
	if rm.RateAmount != 1100 {
		t.Fatalf("tie should resolve to the latest row, got %v", rm.RateAmount)
	}
}

func TestRecentRate_NoHit(t *testing.T) {
	db := newRepoDB(t, &domain.RateMemory{})
	if _, err := RecentRate(context.Background(), db, "c", "a-b", 30*24*time.Hour, time.Now().UTC()); err != ErrNotFound {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
