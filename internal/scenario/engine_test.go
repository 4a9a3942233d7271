package scenario

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lockstep-games/lockstep/internal/models"
)

func testDefinition(t *testing.T) *Definition {
	t.Helper()
	def := &Definition{
		Name:            "Engine Test",
		DurationMinutes: 60,
		Steps: []Step{
			{ID: "a", Title: "A", PuzzleID: "keypad"},
			{ID: "b", Title: "B", PuzzleID: "dial"},
			{ID: "c", Title: "C", PuzzleID: "radio"},
		},
	}
	if err := def.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	return def
}

func TestEngineActiveStep(t *testing.T) {
	engine := NewEngine(testDefinition(t))

	if got := engine.ActiveStep(nil); got != 1 {
		t.Errorf("ActiveStep(nil) = %d, want 1", got)
	}
	tests := []struct {
		step, want int
	}{
		{0, 1},
		{2, 2},
		{3, 3},
		{7, 3},
	}
	for _, tt := range tests {
		rec := &models.SessionRecord{Step: tt.step}
		if got := engine.ActiveStep(rec); got != tt.want {
			t.Errorf("ActiveStep(step=%d) = %d, want %d", tt.step, got, tt.want)
		}
	}
	if got := engine.ActivePuzzle(&models.SessionRecord{Step: 2}); got != "dial" {
		t.Errorf("ActivePuzzle(step=2) = %q, want %q", got, "dial")
	}
}

func TestEngineVictory(t *testing.T) {
	engine := NewEngine(testDefinition(t))

	if engine.Victory(nil) {
		t.Error("Victory(nil) = true, want false")
	}
	if engine.Victory(&models.SessionRecord{Step: 2}) {
		t.Error("Victory(step=2) = true, want false")
	}
	if !engine.Victory(&models.SessionRecord{Step: 3}) {
		t.Error("Victory(step=3) = false, want true")
	}
}

func TestEngineTimer(t *testing.T) {
	clock := clockwork.NewFakeClock()
	engine := NewEngineWithClock(testDefinition(t), clock)

	rec := &models.SessionRecord{Step: 1, StartedAt: clock.Now()}

	clock.Advance(10 * time.Minute)
	if got := engine.Elapsed(rec); got != 10*time.Minute {
		t.Errorf("Elapsed() = %v, want 10m", got)
	}
	if got := engine.Remaining(rec); got != 50*time.Minute {
		t.Errorf("Remaining() = %v, want 50m", got)
	}
	if engine.TimeExceeded(rec) {
		t.Error("TimeExceeded() = true with 50m left")
	}

	rec.BonusMinutes = 15
	if got := engine.Remaining(rec); got != 65*time.Minute {
		t.Errorf("Remaining() with bonus = %v, want 65m", got)
	}
	rec.BonusMinutes = -55
	if !engine.TimeExceeded(rec) {
		t.Error("TimeExceeded() = false after penalty ate the budget")
	}
}

func TestEngineTimerFreezesOnVictory(t *testing.T) {
	clock := clockwork.NewFakeClock()
	engine := NewEngineWithClock(testDefinition(t), clock)

	start := clock.Now()
	clock.Advance(20 * time.Minute)
	rec := &models.SessionRecord{
		Step:       3,
		StartedAt:  start,
		LastStepAt: clock.Now(),
	}

	elapsed := engine.Elapsed(rec)
	remaining := engine.Remaining(rec)

	clock.Advance(2 * time.Hour)
	if got := engine.Elapsed(rec); got != elapsed {
		t.Errorf("Elapsed() moved after victory: %v -> %v", elapsed, got)
	}
	if got := engine.Remaining(rec); got != remaining {
		t.Errorf("Remaining() moved after victory: %v -> %v", remaining, got)
	}
}
