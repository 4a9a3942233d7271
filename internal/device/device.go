// Package device is the per-device runtime: it composes the polling
// synchronizer, scenario engine, voting protocol, command/challenge
// channels, and hint system, and routes every polled snapshot through them.
package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/lockstep-games/lockstep/internal/channel"
	"github.com/lockstep-games/lockstep/internal/hint"
	"github.com/lockstep-games/lockstep/internal/identity"
	"github.com/lockstep-games/lockstep/internal/localstate"
	"github.com/lockstep-games/lockstep/internal/models"
	"github.com/lockstep-games/lockstep/internal/scenario"
	syncpkg "github.com/lockstep-games/lockstep/internal/sync"
	"github.com/lockstep-games/lockstep/internal/vote"
)

// Renderer is the presentation surface a device drives. Implementations
// draw; session mutations always go back through the runtime.
type Renderer interface {
	ShowMessage(text string)
	ShowError(message string)
	SetGlitch(on bool)
	SetInverted(on bool)
	PresentPuzzle(puzzle PuzzleContext)
	OpenChallenge(ch models.ActiveChallenge)
	DismissChallenge()
}

// Device ties one participant's identity, sync loop, and session logic
// together.
type Device struct {
	ident      identity.Identity
	sync       *syncpkg.Synchronizer
	engine     *scenario.Engine
	protocol   *vote.Protocol
	commands   *channel.CommandChannel
	challenges *channel.ChallengeChannel
	hints      *hint.System
	renderer   Renderer
	clock      clockwork.Clock

	mu         sync.Mutex
	activeStep int // last step a puzzle was presented for, 0 before first snapshot
	solvedStep int // last step this device reported solved, for idempotent Solve
	lastErr    string
}

// New wires a device runtime. The synchronizer must not be started yet;
// Start owns its lifecycle.
func New(ident identity.Identity, sync *syncpkg.Synchronizer, def *scenario.Definition, state *localstate.Store, renderer Renderer, clock clockwork.Clock) *Device {
	d := &Device{
		ident:    ident,
		sync:     sync,
		engine:   scenario.NewEngineWithClock(def, clock),
		renderer: renderer,
		clock:    clock,
	}
	d.protocol = vote.NewWithClock(sync, def, ident.ParticipantID, ident.DisplayName, ident.Owner, clock, vote.DefaultSettleDelay)
	d.commands = channel.NewCommandChannelWithClock(state, d, clock)
	d.challenges = channel.NewChallengeChannel(state, d)
	d.hints = hint.NewSystemWithClock(clock)
	return d
}

// Engine exposes the scenario derivations for presentation (timer, victory).
func (d *Device) Engine() *scenario.Engine {
	return d.engine
}

// Protocol exposes the voting protocol for moderation controls.
func (d *Device) Protocol() *vote.Protocol {
	return d.protocol
}

// Start subscribes to snapshots and begins polling for this identity.
func (d *Device) Start() {
	d.sync.Subscribe(d.handleSnapshot)
	d.sync.SetSession(d.ident.SessionCode, d.ident.Owner)
}

// Stop tears the poll loop down and clears cached session state.
func (d *Device) Stop() {
	d.sync.Stop()
}

// Snapshot returns the latest cached record and error surface.
func (d *Device) Snapshot() (*models.SessionRecord, string) {
	return d.sync.Snapshot()
}

// handleSnapshot routes one polled record through every observer, in a fixed
// order: join, vote, commands, challenges, then puzzle/hint bookkeeping.
func (d *Device) handleSnapshot(rec *models.SessionRecord) {
	if rec == nil {
		d.surfaceErrors()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d.ensureJoined(rec)
	d.protocol.Observe(rec)
	d.commands.Observe(ctx, rec)
	d.challenges.Observe(ctx, rec)
	d.observeStep(rec)
	d.surfaceErrors()
}

// ensureJoined lazily writes this device into the participant list the first
// time a snapshot arrives without it.
func (d *Device) ensureJoined(rec *models.SessionRecord) {
	if rec.FindParticipant(d.ident.ParticipantID) != nil {
		return
	}
	next := rec.Clone()
	next.Participants = append(next.Participants, models.Participant{
		ID:       d.ident.ParticipantID,
		Name:     d.ident.DisplayName,
		Role:     d.ident.Role(),
		JoinedAt: d.clock.Now(),
	})
	log.Info().
		Str("participant_id", d.ident.ParticipantID).
		Str("role", string(d.ident.Role())).
		Msg("joining session record")
	d.sync.Mutate(next)
}

// observeStep resets hint state and re-presents the puzzle when the step
// counter moves.
func (d *Device) observeStep(rec *models.SessionRecord) {
	step := d.engine.ActiveStep(rec)

	d.mu.Lock()
	changed := step != d.activeStep
	d.activeStep = step
	d.mu.Unlock()
	if !changed {
		return
	}

	stepDef := d.engine.Definition().StepAt(step)
	d.hints.SetStep(stepDef.Hints, rec.StepStartedAt())
	d.renderer.PresentPuzzle(d.buildPuzzle(rec, step, stepDef))
	log.Info().Int("step", step).Str("puzzle", stepDef.PuzzleID).Msg("active step changed")
}

func (d *Device) buildPuzzle(rec *models.SessionRecord, step int, stepDef scenario.Step) PuzzleContext {
	dialogue := make(map[Phase][]string, len(stepDef.Dialogue))
	for phase, lines := range stepDef.Dialogue {
		dialogue[Phase(phase)] = lines
	}
	return PuzzleContext{
		PuzzleID: stepDef.PuzzleID,
		Step:     step,
		Title:    stepDef.Title,
		Solved:   d.engine.Victory(rec),
		Dialogue: dialogue,
		Config:   stepDef.Config,
		Solve: func() {
			d.reportSolved(step, stepDef.Title)
		},
	}
}

// reportSolved handles the puzzle's solve callback: owners go straight to a
// validation request, players file a proposal. Repeat invocations for the
// same step are ignored.
func (d *Device) reportSolved(step int, title string) {
	d.mu.Lock()
	if d.solvedStep == step {
		d.mu.Unlock()
		return
	}
	d.solvedStep = step
	d.mu.Unlock()

	if d.ident.Owner {
		d.protocol.InitiateValidation()
		return
	}
	d.protocol.Propose(fmt.Sprintf("solved %s", title))
}

// VoteReady forwards a readiness acknowledgement for the pending vote.
func (d *Device) VoteReady() {
	d.protocol.VoteReady()
}

// RequestHint asks the hint system for the next hint and renders the result.
func (d *Device) RequestHint() hint.Result {
	result := d.hints.Request()
	for _, line := range result.Lines {
		d.renderer.ShowMessage(line)
	}
	return result
}

// ResolveChallenge marks the open challenge beaten once its mini-game is
// completed.
func (d *Device) ResolveChallenge(ctx context.Context) {
	d.challenges.Resolve(ctx)
}

// surfaceErrors pushes transport failures to the renderer as a non-fatal
// banner; they self-heal on the next successful poll.
func (d *Device) surfaceErrors() {
	_, errMsg := d.sync.Snapshot()
	d.mu.Lock()
	changed := errMsg != d.lastErr
	d.lastErr = errMsg
	d.mu.Unlock()
	if changed {
		d.renderer.ShowError(errMsg)
	}
}

// ShowMessage implements channel.Effects.
func (d *Device) ShowMessage(text string) {
	d.renderer.ShowMessage(text)
}

// SetGlitch implements channel.Effects.
func (d *Device) SetGlitch(on bool) {
	d.renderer.SetGlitch(on)
}

// SetInverted implements channel.Effects.
func (d *Device) SetInverted(on bool) {
	d.renderer.SetInverted(on)
}

// SkipStep implements channel.Effects. Only the moderating device advances
// the session; everyone else just sees the committed result on a later poll.
func (d *Device) SkipStep() {
	if !d.ident.Owner {
		return
	}
	d.protocol.InitiateValidation()
}

// AddTime implements channel.Effects. The bonus itself is written to the
// record by the operator console; the command only informs the players.
func (d *Device) AddTime(minutes int) {
	d.renderer.ShowMessage(fmt.Sprintf("Time adjustment: %+d minutes", minutes))
}

// OpenChallenge implements channel.ChallengeHandler.
func (d *Device) OpenChallenge(ch models.ActiveChallenge) {
	d.renderer.OpenChallenge(ch)
}

// DismissChallenge implements channel.ChallengeHandler.
func (d *Device) DismissChallenge() {
	d.renderer.ShowMessage("False alarm - the interference cleared itself.")
	d.renderer.DismissChallenge()
}
