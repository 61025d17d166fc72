package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/plasticos/go-broker-backend/internal/domain"
	"github.com/plasticos/go-broker-backend/internal/match"
	"github.com/plasticos/go-broker-backend/internal/repo"
)

// scorerStub is an httptest scorer with a per-request outcome switch and a
// counter of how many packets actually hit the wire.
type scorerStub struct {
	srv   *httptest.Server
	calls atomic.Int64
	// fail, when true, answers 503.
	fail atomic.Bool
	// score answered for the top ranked buyer.
	score atomic.Value // float64
}

func newScorerStub(t *testing.T) *scorerStub {
	t.Helper()
	s := &scorerStub{}
	s.score.Store(0.92)
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		if s.fail.Load() {
			http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ranked_buyers": []map[string]any{
				{"buyer_ref": "buyer-1", "score": s.score.Load().(float64)},
			},
		})
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func newMatchFixture(t *testing.T) (*MatchService, *scorerStub, *gorm.DB, *domain.Intake) {
	t.Helper()
	db := newServiceDB(t)
	stub := newScorerStub(t)

	client := match.NewClient(stub.srv.URL, "test-key", 2*time.Second, match.CanaryConfig{})
	svc := NewMatchService(db, client, "1.2")

	intakes := NewIntakeService(db)
	in, err := intakes.Create(context.Background(), &domain.Intake{
		Name: "LOT-1", PartnerRef: "partner-1", Polymer: "pp", Form: "Regrind",
		QuantityPerLoadLbs: 40000, MFIValue: 12.5, OriginApplication: "automotive interior",
	})
	if err != nil {
		t.Fatalf("seed intake: %v", err)
	}
	if err := intakes.Normalize(context.Background(), in.ID); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	return svc, stub, db, in
}

func TestMatch_SuccessfulRunWritesBackMatched(t *testing.T) {
	svc, stub, db, in := newMatchFixture(t)
	ctx := context.Background()

	res, err := svc.RunBuyerMatch(ctx, in.ID, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.MatchStatus != domain.MatchMatched || res.TopScore != 0.92 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if stub.calls.Load() != 1 {
		t.Fatalf("want 1 scorer call, got %d", stub.calls.Load())
	}

	got, _ := repo.GetIntake(ctx, db, in.ID)
	if got.MatchStatus != domain.MatchMatched {
		t.Fatalf("writeback status: %s", got.MatchStatus)
	}
	var resp map[string]any
	if err := json.Unmarshal([]byte(got.MatchResponse), &resp); err != nil {
		t.Fatalf("match_response is not the raw scorer JSON: %v", err)
	}

	ms, _ := repo.GetMatchState(ctx, db, in.ID)
	if !ms.HasScore || ms.LastScore != 0.92 || ms.FailureCount != 0 {
		t.Fatalf("unexpected match state: %+v", ms)
	}
}

func TestMatch_WritebackTouchesOnlyWhitelistedColumns(t *testing.T) {
	svc, _, db, in := newMatchFixture(t)
	ctx := context.Background()

	before, _ := repo.GetIntake(ctx, db, in.ID)
	if _, err := svc.RunBuyerMatch(ctx, in.ID, false); err != nil {
		t.Fatalf("run: %v", err)
	}
	after, _ := repo.GetIntake(ctx, db, in.ID)

	// Neutralize the two whitelisted columns and the bookkeeping timestamp;
	// everything else must be byte-identical.
	after.MatchStatus = before.MatchStatus
	after.MatchResponse = before.MatchResponse
	after.UpdatedAt = before.UpdatedAt

	b1, _ := json.Marshal(before)
	b2, _ := json.Marshal(after)
	if string(b1) != string(b2) {
		t.Fatalf("non-whitelisted intake fields changed:\nbefore %s\nafter  %s", b1, b2)
	}
}

func TestMatch_PlainRerunIsRefused(t *testing.T) {
	svc, stub, _, in := newMatchFixture(t)
	ctx := context.Background()

	if _, err := svc.RunBuyerMatch(ctx, in.ID, false); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := svc.RunBuyerMatch(ctx, in.ID, false); !errors.Is(err, ErrDuplicateEmission) {
		t.Fatalf("want ErrDuplicateEmission, got %v", err)
	}
	// The refusal happens before any network I/O.
	if stub.calls.Load() != 1 {
		t.Fatalf("duplicate run must not reach the scorer, got %d calls", stub.calls.Load())
	}
}

func TestMatch_ForcedRerunMintsNewPacketWithSupersedes(t *testing.T) {
	svc, _, db, in := newMatchFixture(t)
	ctx := context.Background()

	first, err := svc.RunBuyerMatch(ctx, in.ID, false)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := svc.RunBuyerMatch(ctx, in.ID, true)
	if err != nil {
		t.Fatalf("forced run: %v", err)
	}
	if second.PacketID == first.PacketID {
		t.Fatal("forced re-emit must mint a new packet id")
	}
	if second.Superseded != first.PacketID {
		t.Fatalf("supersedes link: want %s, got %s", first.PacketID, second.Superseded)
	}

	emissions, _ := repo.ListEmissions(ctx, db)
	if len(emissions) != 2 {
		t.Fatalf("want 2 emission records, got %d", len(emissions))
	}
	if emissions[0].Supersedes != "" || emissions[1].Supersedes != first.PacketID {
		t.Fatalf("audit chain broken: %+v", emissions)
	}
}

func TestMatch_ScoreHistoryTracksConsecutiveRuns(t *testing.T) {
	svc, stub, db, in := newMatchFixture(t)
	ctx := context.Background()

	if _, err := svc.RunBuyerMatch(ctx, in.ID, false); err != nil {
		t.Fatalf("first run: %v", err)
	}
	stub.score.Store(0.60)
	if _, err := svc.RunBuyerMatch(ctx, in.ID, true); err != nil {
		t.Fatalf("second run: %v", err)
	}

	ms, _ := repo.GetMatchState(ctx, db, in.ID)
	if ms.PrevScore != 0.92 || ms.LastScore != 0.60 {
		t.Fatalf("score history: %+v", ms)
	}
}

func TestMatch_FailureWritesErrorStatusAndCounts(t *testing.T) {
	svc, stub, db, in := newMatchFixture(t)
	ctx := context.Background()
	stub.fail.Store(true)

	_, err := svc.RunBuyerMatch(ctx, in.ID, false)
	var se *match.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("want StatusError 503, got %v", err)
	}

	got, _ := repo.GetIntake(ctx, db, in.ID)
	if got.MatchStatus != domain.MatchError {
		t.Fatalf("failure writeback status: %s", got.MatchStatus)
	}
	// match_response must stay parseable JSON on the failure path too.
	var errBody map[string]string
	if err := json.Unmarshal([]byte(got.MatchResponse), &errBody); err != nil {
		t.Fatalf("failure match_response not JSON: %v (%q)", err, got.MatchResponse)
	}
	if errBody["error"] == "" || !strings.Contains(errBody["error"], "503") {
		t.Fatalf("failure match_response missing cause: %q", got.MatchResponse)
	}
	ms, _ := repo.GetMatchState(ctx, db, in.ID)
	if ms.FailureCount != 1 || ms.Disabled {
		t.Fatalf("unexpected match state after one failure: %+v", ms)
	}
}

func TestMatch_CircuitBreakerTripsAndResets(t *testing.T) {
	svc, stub, db, in := newMatchFixture(t)
	ctx := context.Background()
	stub.fail.Store(true)

	// Three consecutive failures trip the breaker. After the first emission
	// exists, retries need force.
	for i, force := range []bool{false, true, true} {
		if _, err := svc.RunBuyerMatch(ctx, in.ID, force); err == nil {
			t.Fatalf("run %d should fail", i+1)
		}
	}
	ms, _ := repo.GetMatchState(ctx, db, in.ID)
	if !ms.Disabled || ms.FailureCount != 3 {
		t.Fatalf("breaker not tripped: %+v", ms)
	}

	// Tripped breaker refuses even forced runs, before any network I/O.
	wire := stub.calls.Load()
	if _, err := svc.RunBuyerMatch(ctx, in.ID, true); !errors.Is(err, ErrMatchDisabled) {
		t.Fatalf("want ErrMatchDisabled, got %v", err)
	}
	if stub.calls.Load() != wire {
		t.Fatal("disabled intake must not reach the scorer")
	}

	// Manual reset re-enables matching.
	if err := svc.ResetCircuit(ctx, in.ID); err != nil {
		t.Fatalf("reset: %v", err)
	}
	stub.fail.Store(false)
	res, err := svc.RunBuyerMatch(ctx, in.ID, true)
	if err != nil {
		t.Fatalf("run after reset: %v", err)
	}
	if res.MatchStatus != domain.MatchMatched {
		t.Fatalf("unexpected status after reset: %s", res.MatchStatus)
	}
}

func TestMatch_RequiresNormalizedIntake(t *testing.T) {
	db := newServiceDB(t)
	stub := newScorerStub(t)
	svc := NewMatchService(db, match.NewClient(stub.srv.URL, "k", time.Second, match.CanaryConfig{}), "1.2")

	in, err := NewIntakeService(db).Create(context.Background(), &domain.Intake{
		Name: "LOT-raw", PartnerRef: "p", Polymer: "PE", Form: "bale", QuantityPerLoadLbs: 1,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := svc.RunBuyerMatch(context.Background(), in.ID, false); !errors.Is(err, ErrNotNormalized) {
		t.Fatalf("want ErrNotNormalized, got %v", err)
	}
	if stub.calls.Load() != 0 {
		t.Fatal("unnormalized intake must not reach the scorer")
	}
}

func TestMatch_UnknownIntake(t *testing.T) {
	db := newServiceDB(t)
	stub := newScorerStub(t)
	svc := NewMatchService(db, match.NewClient(stub.srv.URL, "k", time.Second, match.CanaryConfig{}), "1.2")

	if _, err := svc.RunBuyerMatch(context.Background(), "missing", false); !errors.Is(err, ErrIntakeNotFound) {
		t.Fatalf("want ErrIntakeNotFound, got %v", err)
	}
	if err := svc.ResetCircuit(context.Background(), "missing"); !errors.Is(err, ErrIntakeNotFound) {
		t.Fatalf("want ErrIntakeNotFound, got %v", err)
	}
}

func TestMatch_ShadowScoreRecorded(t *testing.T) {
	svc, _, db, in := newMatchFixture(t)
	ctx := context.Background()

	shadow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ranked_buyers": []map[string]any{{"buyer_ref": "buyer-2", "score": 0.80}},
		})
	}))
	t.Cleanup(shadow.Close)
	svc.ShadowEndpoint = shadow.URL

	if _, err := svc.RunBuyerMatch(ctx, in.ID, false); err != nil {
		t.Fatalf("run: %v", err)
	}

	var rows []domain.ShadowScore
	if err := db.Find(&rows).Error; err != nil {
		t.Fatalf("list shadow scores: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("want 1 shadow score, got %d", len(rows))
	}
	if rows[0].PrimaryScore != 0.92 || rows[0].ShadowScore != 0.80 {
		t.Fatalf("unexpected shadow row: %+v", rows[0])
	}
}

func TestMatch_ShadowFailureDoesNotFailRun(t *testing.T) {
	svc, _, _, in := newMatchFixture(t)
	svc.ShadowEndpoint = "http://127.0.0.1:1" // nothing listens here

	res, err := svc.RunBuyerMatch(context.Background(), in.ID, false)
	if err != nil {
		t.Fatalf("run must survive shadow failure: %v", err)
	}
	if res.MatchStatus != domain.MatchMatched {
		t.Fatalf("unexpected status: %s", res.MatchStatus)
	}
}
