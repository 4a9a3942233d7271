// Package operator hosts the game-operator surfaces: a dashboard over every
// known session, a live activity feed, and the console actions that edit a
// session record (admin commands, challenges, time bonuses). The console
// trusts the operator the same way devices trust each other; there is no
// enforced authority.
package operator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/lockstep-games/lockstep/internal/models"
	"github.com/lockstep-games/lockstep/internal/store"
)

// Console performs operator edits against the remote store. Every edit is a
// read-modify-overwrite of the whole record and races devices last-writer-
// wins like any other write.
type Console struct {
	client store.Client
}

// NewConsole creates a console over a store client.
func NewConsole(client store.Client) *Console {
	return &Console{client: client}
}

// SendCommand injects a one-shot admin command. The id is strictly above the
// carried one so every device's high-water mark lets it through exactly once.
func (c *Console) SendCommand(ctx context.Context, code string, kind models.CommandKind, payload string) error {
	rec, err := c.client.Read(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to read session: %w", err)
	}
	next := rec.Clone()
	var id int64 = 1
	if rec.Command != nil {
		id = rec.Command.ID + 1
	}
	next.Command = &models.AdminCommand{ID: id, Kind: kind, Payload: payload}

	log.Info().Str("code", code).Int64("command_id", id).Str("kind", string(kind)).Msg("sending admin command")
	return c.client.Update(ctx, code, next)
}

// OpenChallenge places a blocking challenge on the session. Ids keep
// increasing across challenges so resolved ones never reopen.
func (c *Console) OpenChallenge(ctx context.Context, code string, kind models.ChallengeKind, payload string) error {
	rec, err := c.client.Read(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to read session: %w", err)
	}
	next := rec.Clone()
	id := rec.LastChallengeID + 1
	if rec.Challenge != nil && rec.Challenge.ID >= id {
		id = rec.Challenge.ID + 1
	}
	next.Challenge = &models.ActiveChallenge{ID: id, Kind: kind, Payload: payload}
	next.LastChallengeID = id

	log.Info().Str("code", code).Int64("challenge_id", id).Str("kind", string(kind)).Msg("opening challenge")
	return c.client.Update(ctx, code, next)
}

// ClearChallenge removes the carried challenge; devices that still show it
// dismiss it on their next poll.
func (c *Console) ClearChallenge(ctx context.Context, code string) error {
	rec, err := c.client.Read(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to read session: %w", err)
	}
	if rec.Challenge == nil {
		return nil
	}
	next := rec.Clone()
	next.Challenge = nil

	log.Info().Str("code", code).Msg("clearing challenge")
	return c.client.Update(ctx, code, next)
}

// AddBonus adjusts the session's time budget (minutes, may be negative) and
// announces it with an add-time command in the same write.
func (c *Console) AddBonus(ctx context.Context, code string, minutes int) error {
	rec, err := c.client.Read(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to read session: %w", err)
	}
	next := rec.Clone()
	next.BonusMinutes += minutes
	var id int64 = 1
	if rec.Command != nil {
		id = rec.Command.ID + 1
	}
	next.Command = &models.AdminCommand{
		ID:      id,
		Kind:    models.CommandAddTime,
		Payload: fmt.Sprintf("%d", minutes),
	}

	log.Info().Str("code", code).Int("minutes", minutes).Msg("adjusting time budget")
	return c.client.Update(ctx, code, next)
}
