// Package hint gates optional per-step hints behind elapsed real time.
//
// Hint reveal state is device-local: how many hints a device has shown is
// never written back to the shared session record.
package hint

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lockstep-games/lockstep/internal/scenario"
)

// ResultKind classifies the outcome of a hint request.
type ResultKind string

const (
	// ResultNone means the step has no hints configured.
	ResultNone ResultKind = "NONE"
	// ResultLocked means the next hint's unlock delay has not elapsed.
	ResultLocked ResultKind = "LOCKED"
	// ResultReveal means a new hint was revealed.
	ResultReveal ResultKind = "REVEAL"
	// ResultRecap means all hints were already shown and the request
	// produced a repeat of everything revealed so far.
	ResultRecap ResultKind = "RECAP"
)

// Result is what a hint request produced. Lines are ready to present in
// order.
type Result struct {
	Kind          ResultKind
	Lines         []string
	WaitRemaining time.Duration
}

// System tracks hint reveals for the active scenario step.
type System struct {
	clock clockwork.Clock

	hints     []scenario.Hint
	stepStart time.Time
	revealed  int
}

// NewSystem creates a hint system using the real clock.
func NewSystem() *System {
	return NewSystemWithClock(clockwork.NewRealClock())
}

// NewSystemWithClock creates a hint system with an injectable clock.
func NewSystemWithClock(clock clockwork.Clock) *System {
	return &System{clock: clock}
}

// SetStep points the system at a new step's hint list and resets the reveal
// counter. stepStart is the instant the step began per the session record.
func (s *System) SetStep(hints []scenario.Hint, stepStart time.Time) {
	s.hints = hints
	s.stepStart = stepStart
	s.revealed = 0
}

// Revealed returns how many hints have been shown for the current step.
func (s *System) Revealed() int {
	return s.revealed
}

// NextUnlockIn returns how long until the next unrevealed hint unlocks, zero
// when it is already available, and false when nothing is left to unlock.
func (s *System) NextUnlockIn() (time.Duration, bool) {
	if s.revealed >= len(s.hints) {
		return 0, false
	}
	wait := s.unlockRemaining(s.hints[s.revealed])
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

// Request asks for the next hint. It never advances the reveal counter
// unless a new hint is actually revealed.
func (s *System) Request() Result {
	if len(s.hints) == 0 {
		return Result{Kind: ResultNone}
	}

	if s.revealed >= len(s.hints) {
		lines := make([]string, 0, len(s.hints)+1)
		lines = append(lines, "Every fragment has already been decrypted. Replaying the archive:")
		for i, h := range s.hints {
			lines = append(lines, fmt.Sprintf("[%d/%d] %s", i+1, len(s.hints), h.Text))
		}
		return Result{Kind: ResultRecap, Lines: lines}
	}

	next := s.hints[s.revealed]
	if wait := s.unlockRemaining(next); wait > 0 {
		secs := int(wait.Seconds())
		if wait > time.Duration(secs)*time.Second {
			secs++
		}
		return Result{
			Kind:          ResultLocked,
			Lines:         []string{fmt.Sprintf("Still decrypting... %d more seconds.", secs)},
			WaitRemaining: wait,
		}
	}

	s.revealed++
	return Result{
		Kind: ResultReveal,
		Lines: []string{
			fmt.Sprintf("Fragment %d decrypted:", s.revealed),
			next.Text,
		},
	}
}

func (s *System) unlockRemaining(h scenario.Hint) time.Duration {
	unlockAt := s.stepStart.Add(time.Duration(h.UnlockAfterSec) * time.Second)
	return unlockAt.Sub(s.clock.Now())
}
