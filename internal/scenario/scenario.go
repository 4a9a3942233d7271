package scenario

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Hint is one entry in a step's ordered hint list. UnlockAfterSec is the
// minimum number of seconds since the step began before the hint can be
// revealed.
type Hint struct {
	Text           string `yaml:"text"`
	UnlockAfterSec int    `yaml:"unlock_after_sec"`
}

// Step describes one stage of a scenario. Solution is shown only on the
// operator console, never on participant devices.
type Step struct {
	ID       string                 `yaml:"id"`
	Title    string                 `yaml:"title"`
	PuzzleID string                 `yaml:"puzzle"`
	Hints    []Hint                 `yaml:"hints"`
	Solution string                 `yaml:"solution"`
	Dialogue map[string][]string    `yaml:"dialogue"`
	Config   map[string]interface{} `yaml:"config"`
}

// Definition is the static, read-only scenario a session plays through.
// The mutable session record references steps by 1-based counter.
type Definition struct {
	Name            string `yaml:"name"`
	DurationMinutes int    `yaml:"duration_minutes"`
	Steps           []Step `yaml:"steps"`
}

// Load reads a scenario definition from a YAML file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML scenario definition.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks structural invariants of a definition.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if d.DurationMinutes <= 0 {
		return fmt.Errorf("scenario duration must be positive")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("scenario must define at least one step")
	}
	seen := make(map[string]bool, len(d.Steps))
	for i, step := range d.Steps {
		if step.ID == "" {
			return fmt.Errorf("step %d is missing an id", i+1)
		}
		if seen[step.ID] {
			return fmt.Errorf("duplicate step id %q", step.ID)
		}
		seen[step.ID] = true
		if step.PuzzleID == "" {
			return fmt.Errorf("step %q is missing a puzzle", step.ID)
		}
		for j, hint := range step.Hints {
			if hint.Text == "" {
				return fmt.Errorf("step %q hint %d has empty text", step.ID, j+1)
			}
			if hint.UnlockAfterSec < 0 {
				return fmt.Errorf("step %q hint %d has negative unlock delay", step.ID, j+1)
			}
		}
	}
	return nil
}

// StepCount returns the number of steps, which is also the terminal step
// number.
func (d *Definition) StepCount() int {
	return len(d.Steps)
}

// StepAt returns the 1-based step descriptor, clamping out-of-range values
// into [1, StepCount].
func (d *Definition) StepAt(step int) Step {
	return d.Steps[ClampStep(step, len(d.Steps))-1]
}

// ClampStep clamps a raw session step counter into [1, count]. Step 0 (or
// absent) means the session has not advanced yet and maps to step 1.
func ClampStep(step, count int) int {
	if step < 1 {
		return 1
	}
	if step > count {
		return count
	}
	return step
}
