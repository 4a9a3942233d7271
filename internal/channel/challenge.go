package channel

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/lockstep-games/lockstep/internal/localstate"
	"github.com/lockstep-games/lockstep/internal/models"
)

// ChallengeHandler is the device-side surface for blocking interruptions.
type ChallengeHandler interface {
	// OpenChallenge renders the blocking mini-game.
	OpenChallenge(ch models.ActiveChallenge)
	// DismissChallenge closes a locally-open challenge because the record
	// stopped naming one. Called exactly once per disappearance.
	DismissChallenge()
}

// ChallengeChannel opens and resolves blocking interruptions. A device
// persists the highest id it has resolved, so a challenge it already beat
// never reopens even while the owner's record still names it.
type ChallengeChannel struct {
	marks   Watermarks
	handler ChallengeHandler

	open int64 // id currently rendered, 0 when none
}

// NewChallengeChannel creates a challenge channel.
func NewChallengeChannel(marks Watermarks, handler ChallengeHandler) *ChallengeChannel {
	return &ChallengeChannel{marks: marks, handler: handler}
}

// Open returns the id of the locally-open challenge, 0 when none.
func (c *ChallengeChannel) Open() int64 {
	return c.open
}

// Observe inspects a polled snapshot. A carried challenge opens only when
// its id is above both the resolved high-water mark and whatever is already
// open; an absent challenge dismisses the local one exactly once.
func (c *ChallengeChannel) Observe(ctx context.Context, rec *models.SessionRecord) {
	if rec == nil {
		return
	}

	if rec.Challenge == nil {
		if c.open != 0 {
			log.Info().Int64("challenge_id", c.open).Msg("challenge cleared remotely")
			c.open = 0
			c.handler.DismissChallenge()
		}
		return
	}

	ch := *rec.Challenge
	resolved, err := c.marks.Watermark(ctx, localstate.MarkChallenge)
	if err != nil {
		log.Error().Err(err).Msg("failed to read challenge watermark")
		return
	}
	if ch.ID <= resolved || ch.ID <= c.open {
		return
	}

	log.Info().
		Int64("challenge_id", ch.ID).
		Str("kind", string(ch.Kind)).
		Msg("opening challenge")
	c.open = ch.ID
	c.handler.OpenChallenge(ch)
}

// Resolve marks the locally-open challenge as beaten. The record's own
// challenge field is left untouched; clearing it is an owner action. The
// persisted id keeps the same challenge from reopening on later polls.
func (c *ChallengeChannel) Resolve(ctx context.Context) {
	if c.open == 0 {
		return
	}
	if err := c.marks.SetWatermark(ctx, localstate.MarkChallenge, c.open); err != nil {
		log.Error().Err(err).Int64("challenge_id", c.open).Msg("failed to persist challenge watermark")
		return
	}
	log.Info().Int64("challenge_id", c.open).Msg("challenge resolved")
	c.open = 0
}
