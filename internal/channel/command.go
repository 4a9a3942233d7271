// Package channel delivers session-wide signals that piggy-back on the
// polled record. Delivery is at-least-once by construction (the same record
// is fetched over and over), so consumers dedup by monotonic id against a
// device-local persisted high-water mark.
package channel

import (
	"context"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/lockstep-games/lockstep/internal/localstate"
	"github.com/lockstep-games/lockstep/internal/models"
)

// GlitchDuration bounds the transient visual glitch; it auto-reverts.
const GlitchDuration = 4 * time.Second

// Watermarks is what the channels need from the device-local store.
type Watermarks interface {
	Watermark(ctx context.Context, name string) (int64, error)
	SetWatermark(ctx context.Context, name string, value int64) error
}

// Effects is the device-side surface admin commands act on. Implementations
// render; they never touch the session record.
type Effects interface {
	ShowMessage(text string)
	SetGlitch(on bool)
	SetInverted(on bool)
	SkipStep()
	AddTime(minutes int)
}

// CommandChannel applies each admin command exactly once per device. The
// record's command field is never cleared by convention; the strict id
// comparison is the only replay defense.
type CommandChannel struct {
	marks   Watermarks
	effects Effects
	clock   clockwork.Clock
}

// NewCommandChannel creates a command channel using the real clock.
func NewCommandChannel(marks Watermarks, effects Effects) *CommandChannel {
	return NewCommandChannelWithClock(marks, effects, clockwork.NewRealClock())
}

// NewCommandChannelWithClock creates a command channel with an injectable
// clock for the glitch auto-revert timer.
func NewCommandChannelWithClock(marks Watermarks, effects Effects, clock clockwork.Clock) *CommandChannel {
	return &CommandChannel{marks: marks, effects: effects, clock: clock}
}

// Observe inspects a polled snapshot and runs the carried command's effect
// if its id is above the device's high-water mark. The mark is persisted
// before the effect runs so a slow effect cannot be applied twice.
func (c *CommandChannel) Observe(ctx context.Context, rec *models.SessionRecord) {
	if rec == nil || rec.Command == nil {
		return
	}
	cmd := rec.Command

	high, err := c.marks.Watermark(ctx, localstate.MarkCommand)
	if err != nil {
		log.Error().Err(err).Msg("failed to read command watermark")
		return
	}
	if cmd.ID <= high {
		return
	}

	if err := c.marks.SetWatermark(ctx, localstate.MarkCommand, cmd.ID); err != nil {
		log.Error().Err(err).Int64("command_id", cmd.ID).Msg("failed to persist command watermark")
		return
	}

	log.Info().
		Int64("command_id", cmd.ID).
		Str("kind", string(cmd.Kind)).
		Msg("applying admin command")
	c.apply(cmd)
}

func (c *CommandChannel) apply(cmd *models.AdminCommand) {
	switch cmd.Kind {
	case models.CommandMessage:
		c.effects.ShowMessage(cmd.Payload)
	case models.CommandGlitch:
		c.effects.SetGlitch(true)
		c.clock.AfterFunc(GlitchDuration, func() {
			c.effects.SetGlitch(false)
		})
	case models.CommandInvert:
		c.effects.SetInverted(cmd.Payload != "off")
	case models.CommandSkip:
		c.effects.SkipStep()
	case models.CommandAddTime:
		minutes, err := strconv.Atoi(cmd.Payload)
		if err != nil {
			log.Warn().Str("payload", cmd.Payload).Msg("unparseable add-time payload")
			return
		}
		c.effects.AddTime(minutes)
	default:
		log.Warn().Str("kind", string(cmd.Kind)).Msg("unknown command kind - ignoring")
	}
}
