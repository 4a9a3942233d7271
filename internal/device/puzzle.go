package device

// Phase enumerates the scenario phases a puzzle's dialogue scripts key on.
type Phase string

const (
	PhaseIntro  Phase = "intro"
	PhaseSolved Phase = "solved"
	PhaseFailed Phase = "failed"
)

// PuzzleContext is the narrow contract handed to a puzzle component. The
// puzzle invokes Solve exactly once when its success condition is met
// (re-invocation is tolerated and ignored), renders a static state when
// Solved is set, and never reaches into the session record itself.
type PuzzleContext struct {
	PuzzleID string
	Step     int
	Title    string
	Solved   bool
	Dialogue map[Phase][]string
	Config   map[string]interface{}
	Solve    func()
}
