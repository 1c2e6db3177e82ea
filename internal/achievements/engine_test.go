package achievements

import (
	"context"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestGrantStore(t *testing.T) *GrantStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Grant{}); err != nil {
		t.Fatalf("failed to migrate grant schema: %v", err)
	}
	store, err := NewGrantStore(db)
	if err != nil {
		t.Fatalf("failed to create grant store: %v", err)
	}
	return store
}

func newTestEngine(t *testing.T, store *GrantStore) *Engine {
	t.Helper()
	engine, err := NewEngine(EngineConfig{
		Store: store,
		Clock: func() time.Time { return time.Date(2023, 10, 12, 10, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return engine
}

func TestEvaluateGrantsFirstUnclaimedMatch(t *testing.T) {
	engine := newTestEngine(t, openTestGrantStore(t))

	award, err := engine.Evaluate(context.Background(), "player1", []float64{77.77, 60, 60})
	if err != nil {
		t.Fatalf("unexpected evaluation error: %v", err)
	}
	if award == nil {
		t.Fatalf("expected an award for the 77.77 round")
	}
	if award.AchievementID != "lucky_7777" {
		t.Fatalf("unexpected achievement %s", award.AchievementID)
	}
	if award.Title != "77.77점 달성하기" {
		t.Fatalf("unexpected title %s", award.Title)
	}
}

func TestEvaluateRuleOrderBeatsScoring(t *testing.T) {
	engine := newTestEngine(t, openTestGrantStore(t))

	// max >= 100 precedes sum == 300 in the fixed order
	award, err := engine.Evaluate(context.Background(), "player1", []float64{100, 100, 100})
	if err != nil {
		t.Fatalf("unexpected evaluation error: %v", err)
	}
	if award == nil || award.AchievementID != "over_the_top" {
		t.Fatalf("expected over_the_top to win on priority, got %+v", award)
	}
}

func TestEvaluateAlreadyGrantedFallsThrough(t *testing.T) {
	engine := newTestEngine(t, openTestGrantStore(t))

	first, err := engine.Evaluate(context.Background(), "player1", []float64{100, 100, 100})
	if err != nil {
		t.Fatalf("unexpected evaluation error: %v", err)
	}
	if first == nil || first.AchievementID != "over_the_top" {
		t.Fatalf("unexpected first award %+v", first)
	}

	// same round again: over_the_top is held, so the next unclaimed match wins
	second, err := engine.Evaluate(context.Background(), "player1", []float64{100, 100, 100})
	if err != nil {
		t.Fatalf("unexpected evaluation error: %v", err)
	}
	if second == nil || second.AchievementID != "perfect_round" {
		t.Fatalf("expected fall-through to perfect_round, got %+v", second)
	}
}

func TestEvaluateExhaustedRulesReturnNothing(t *testing.T) {
	engine := newTestEngine(t, openTestGrantStore(t))

	// the only qualifying rule for this sequence is lucky_7777 plus the
	// generic sum rules; drain them all
	scores := []float64{77.77, 60, 60}
	seen := map[string]bool{}
	for {
		award, err := engine.Evaluate(context.Background(), "player1", scores)
		if err != nil {
			t.Fatalf("unexpected evaluation error: %v", err)
		}
		if award == nil {
			break
		}
		if seen[award.AchievementID] {
			t.Fatalf("achievement %s granted twice", award.AchievementID)
		}
		seen[award.AchievementID] = true
	}
	if !seen["lucky_7777"] {
		t.Fatalf("expected lucky_7777 among the drained awards, got %v", seen)
	}

	award, err := engine.Evaluate(context.Background(), "player1", scores)
	if err != nil {
		t.Fatalf("unexpected evaluation error: %v", err)
	}
	if award != nil {
		t.Fatalf("expected no award once every match is granted, got %+v", award)
	}
}

func TestEvaluateEmptyScores(t *testing.T) {
	engine := newTestEngine(t, openTestGrantStore(t))
	award, err := engine.Evaluate(context.Background(), "player1", nil)
	if err != nil {
		t.Fatalf("unexpected evaluation error: %v", err)
	}
	if award != nil {
		t.Fatalf("expected no award for an empty sequence, got %+v", award)
	}
}

func TestInsertIfAbsentEnforcesUniqueness(t *testing.T) {
	store := openTestGrantStore(t)

	inserted, err := store.InsertIfAbsent(context.Background(), Grant{
		ID:            "grant-1",
		AchievementID: "lucky_7777",
		UserID:        "player1",
		GrantedAt:     time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("unexpected insert error: %v", err)
	}
	if !inserted {
		t.Fatalf("expected first insert to land")
	}

	inserted, err = store.InsertIfAbsent(context.Background(), Grant{
		ID:            "grant-2",
		AchievementID: "lucky_7777",
		UserID:        "player1",
		GrantedAt:     time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("unexpected insert error: %v", err)
	}
	if inserted {
		t.Fatalf("expected duplicate pair to be rejected by the index")
	}

	grants, err := store.ListByUser(context.Background(), "player1")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(grants) != 1 {
		t.Fatalf("expected exactly one grant, got %d", len(grants))
	}
}

func TestConcurrentEvaluationGrantsOnce(t *testing.T) {
	store := openTestGrantStore(t)
	engine := newTestEngine(t, store)

	const workers = 8
	awards := make([]*Award, workers)
	var group sync.WaitGroup
	for index := 0; index < workers; index++ {
		group.Add(1)
		go func(slot int) {
			defer group.Done()
			award, err := engine.Evaluate(context.Background(), "player1", []float64{77.77, 80, 80})
			if err != nil {
				t.Errorf("worker %d: unexpected error: %v", slot, err)
				return
			}
			awards[slot] = award
		}(index)
	}
	group.Wait()

	grants, err := store.ListByUser(context.Background(), "player1")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	byRule := map[string]int{}
	for _, grant := range grants {
		byRule[grant.AchievementID]++
	}
	for rule, count := range byRule {
		if count > 1 {
			t.Fatalf("rule %s granted %d times", rule, count)
		}
	}
}
