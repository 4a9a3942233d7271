package scenario

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lockstep-games/lockstep/internal/models"
)

// Engine derives the active step, timer, and victory state from a session
// snapshot plus the static definition. Every derivation is a pure function
// of the snapshot and the clock; the engine holds no state of its own.
type Engine struct {
	def   *Definition
	clock clockwork.Clock
}

// NewEngine creates an engine over a definition using the real clock.
func NewEngine(def *Definition) *Engine {
	return NewEngineWithClock(def, clockwork.NewRealClock())
}

// NewEngineWithClock creates an engine with an injectable clock for tests.
func NewEngineWithClock(def *Definition, clock clockwork.Clock) *Engine {
	return &Engine{def: def, clock: clock}
}

// Definition returns the static scenario the engine runs.
func (e *Engine) Definition() *Definition {
	return e.def
}

// ActiveStep returns the clamped 1-based step for the snapshot.
func (e *Engine) ActiveStep(rec *models.SessionRecord) int {
	if rec == nil {
		return 1
	}
	return ClampStep(rec.Step, e.def.StepCount())
}

// ActivePuzzle returns the puzzle identifier the snapshot's step names.
func (e *Engine) ActivePuzzle(rec *models.SessionRecord) string {
	return e.def.StepAt(e.ActiveStep(rec)).PuzzleID
}

// Victory reports whether the session has reached the terminal step.
func (e *Engine) Victory(rec *models.SessionRecord) bool {
	return rec != nil && rec.Step >= e.def.StepCount()
}

// Deadline returns the absolute end-of-timer instant: session start plus the
// nominal duration plus the bonus adjustment (minutes, may be negative).
func (e *Engine) Deadline(rec *models.SessionRecord) time.Time {
	budget := time.Duration(e.def.DurationMinutes+rec.BonusMinutes) * time.Minute
	return rec.StartedAt.Add(budget)
}

// Elapsed returns wall-clock time since the session started. Once victory is
// reached the value freezes at the winning commit instant.
func (e *Engine) Elapsed(rec *models.SessionRecord) time.Duration {
	return e.referenceTime(rec).Sub(rec.StartedAt)
}

// Remaining returns time left on the session timer, negative once the budget
// is exceeded. Frozen at the victory instant once the scenario is won.
func (e *Engine) Remaining(rec *models.SessionRecord) time.Duration {
	return e.Deadline(rec).Sub(e.referenceTime(rec))
}

// TimeExceeded reports whether the time budget has run out.
func (e *Engine) TimeExceeded(rec *models.SessionRecord) bool {
	return e.Remaining(rec) < 0
}

// referenceTime is now, or the instant of the winning commit once victory is
// reached so the displayed timer stops moving.
func (e *Engine) referenceTime(rec *models.SessionRecord) time.Time {
	if e.Victory(rec) && !rec.LastStepAt.IsZero() {
		return rec.LastStepAt
	}
	return e.clock.Now()
}
