// Package identity manages the device's persisted session identity: who
// this device is within a session, and whether it presents the moderation
// controls. The owner role is a convention carried on the record, not an
// enforced privilege.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lockstep-games/lockstep/internal/localstate"
	"github.com/lockstep-games/lockstep/internal/models"
)

// ErrNoIdentity indicates the device has not joined a session.
var ErrNoIdentity = errors.New("no session identity")

// Identity is the device's resolved identity for the current session.
type Identity struct {
	SessionCode   string
	DisplayName   string
	ParticipantID string
	Owner         bool
}

// Role maps the owner flag onto the participant role carried in the record.
func (i Identity) Role() models.ParticipantRole {
	if i.Owner {
		return models.RoleOwner
	}
	return models.RolePlayer
}

// Manager persists identities across reloads so a device can resume the same
// session.
type Manager struct {
	store *localstate.Store
}

// NewManager creates a manager over the device-local store.
func NewManager(store *localstate.Store) *Manager {
	return &Manager{store: store}
}

// Join creates and persists a fresh identity for a session. The participant
// id is generated client-side; the role is an explicit field set once here.
func (m *Manager) Join(ctx context.Context, code, displayName string, owner bool) (Identity, error) {
	if code == "" {
		return Identity{}, fmt.Errorf("session code is required")
	}
	if displayName == "" {
		return Identity{}, fmt.Errorf("display name is required")
	}
	ident := Identity{
		SessionCode:   code,
		DisplayName:   displayName,
		ParticipantID: uuid.New().String(),
		Owner:         owner,
	}
	if err := m.store.SaveIdentity(ctx, localstate.Identity{
		SessionCode:   ident.SessionCode,
		DisplayName:   ident.DisplayName,
		ParticipantID: ident.ParticipantID,
		Owner:         ident.Owner,
	}); err != nil {
		return Identity{}, err
	}
	return ident, nil
}

// Resume loads the persisted identity, if any.
func (m *Manager) Resume(ctx context.Context) (Identity, error) {
	stored, err := m.store.LoadIdentity(ctx)
	if err != nil {
		return Identity{}, ErrNoIdentity
	}
	return Identity{
		SessionCode:   stored.SessionCode,
		DisplayName:   stored.DisplayName,
		ParticipantID: stored.ParticipantID,
		Owner:         stored.Owner,
	}, nil
}

// Leave forgets the identity and all session-scoped local state.
func (m *Manager) Leave(ctx context.Context) error {
	if err := m.store.ClearIdentity(ctx); err != nil {
		return err
	}
	return m.store.ResetWatermarks(ctx)
}
