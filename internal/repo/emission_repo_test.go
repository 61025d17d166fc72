package repo

import (
	"context"
	"testing"

	"github.com/plasticos/go-broker-backend/internal/domain"
)

func TestCreateEmission_DuplicatePacketID(t *testing.T) {
	db := newRepoDB(t, &domain.PacketEmission{})
	ctx := context.Background()

	e := &domain.PacketEmission{
		IntakeID: "i1", PacketVersion: "1.0", PacketID: "deadbeef",
		CorrelationID: "c1", Payload: `{"a":1}`, PayloadHash: "h1",
	}
	if _, err := CreateEmission(ctx, db, e); err != nil {
		t.Fatalf("first create: %v", err)
	}

	dup := &domain.PacketEmission{
		IntakeID: "i1", PacketVersion: "1.0", PacketID: "deadbeef",
		CorrelationID: "c2", Payload: `{"a":1}`, PayloadHash: "h1",
	}
	if _, err := CreateEmission(ctx, db, dup); err != ErrDuplicate {
		t.Fatalf("want ErrDuplicate, got %v", err)
	}
}

func TestCountAndLatestEmission(t *testing.T) {
	db := newRepoDB(t, &domain.PacketEmission{})
	ctx := context.Background()

	n, err := CountEmissions(ctx, db, "i1", "1.0")
	if err != nil || n != 0 {
		t.Fatalf("fresh count = %d, %v", n, err)
	}
	if _, err := LatestEmission(ctx, db, "i1", "1.0"); err != ErrNotFound {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	for i, pid := range []string{"p0", "p1"} {
		e := &domain.PacketEmission{
			IntakeID: "i1", PacketVersion: "1.0", PacketID: pid,
			CorrelationID: "c", Payload: "{}", PayloadHash: "h",
		}
		if i == 1 {
			e.Supersedes = "p0"
		}
		if _, err := CreateEmission(ctx, db, e); err != nil {
			t.Fatalf("create %s: %v", pid, err)
		}
	}

	n, _ = CountEmissions(ctx, db, "i1", "1.0")
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}

	latest, err := LatestEmission(ctx, db, "i1", "1.0")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.PacketID != "p1" || latest.Supersedes != "p0" {
		t.Fatalf("unexpected latest: %+v", latest)
	}

	// Other version is independent.
	n, _ = CountEmissions(ctx, db, "i1", "2.0")
	if n != 0 {
		t.Fatalf("cross-version count = %d, want 0", n)
	}
}

func TestAppendDriftEvent(t *testing.T) {
	db := newRepoDB(t, &domain.DriftEvent{})
	ev, err := AppendDriftEvent(context.Background(), db, "i1", "p1", "old", "new")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if ev.ID == "" || ev.PreviousHash != "old" || ev.CurrentHash != "new" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}
