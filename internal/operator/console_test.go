package operator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/lockstep-games/lockstep/internal/models"
	"github.com/lockstep-games/lockstep/internal/store"
)

// fakeClient is an in-memory store.Client for console tests.
type fakeClient struct {
	mu      sync.Mutex
	records map[string]*models.SessionRecord
}

func newFakeClient(records ...*models.SessionRecord) *fakeClient {
	c := &fakeClient{records: make(map[string]*models.SessionRecord)}
	for _, rec := range records {
		c.records[rec.Code] = rec.Clone()
	}
	return c
}

func (c *fakeClient) get(code string) *models.SessionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.records[code].Clone()
}

func (c *fakeClient) Create(ctx context.Context) (*models.SessionRecord, error) {
	return nil, errors.New("not implemented")
}

func (c *fakeClient) Read(ctx context.Context, code string) (*models.SessionRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec.Clone(), nil
}

func (c *fakeClient) Update(ctx context.Context, code string, record *models.SessionRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.records[code]; !ok {
		return store.ErrNotFound
	}
	c.records[code] = record.Clone()
	return nil
}

func (c *fakeClient) List(ctx context.Context) ([]*models.SessionRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*models.SessionRecord, 0, len(c.records))
	for _, rec := range c.records {
		out = append(out, rec.Clone())
	}
	return out, nil
}

func TestSendCommandIncrementsID(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(&models.SessionRecord{Code: "ABCDEF"})
	console := NewConsole(client)

	if err := console.SendCommand(ctx, "ABCDEF", models.CommandMessage, "Hello"); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	rec := client.get("ABCDEF")
	if rec.Command == nil || rec.Command.ID != 1 {
		t.Fatalf("Command = %+v, want id 1", rec.Command)
	}
	if rec.Command.Kind != models.CommandMessage || rec.Command.Payload != "Hello" {
		t.Errorf("Command = %+v", rec.Command)
	}

	if err := console.SendCommand(ctx, "ABCDEF", models.CommandGlitch, ""); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	rec = client.get("ABCDEF")
	if rec.Command.ID != 2 {
		t.Errorf("Command id = %d, want 2", rec.Command.ID)
	}
}

func TestSendCommandUnknownSession(t *testing.T) {
	ctx := context.Background()
	console := NewConsole(newFakeClient())

	err := console.SendCommand(ctx, "NOSUCH", models.CommandMessage, "hi")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("SendCommand() error = %v, want ErrNotFound", err)
	}
}

func TestChallengeIDsNeverRestart(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(&models.SessionRecord{Code: "ABCDEF"})
	console := NewConsole(client)

	if err := console.OpenChallenge(ctx, "ABCDEF", models.ChallengeMorse, "sos"); err != nil {
		t.Fatalf("OpenChallenge() error = %v", err)
	}
	rec := client.get("ABCDEF")
	if rec.Challenge == nil || rec.Challenge.ID != 1 {
		t.Fatalf("Challenge = %+v, want id 1", rec.Challenge)
	}

	if err := console.ClearChallenge(ctx, "ABCDEF"); err != nil {
		t.Fatalf("ClearChallenge() error = %v", err)
	}
	rec = client.get("ABCDEF")
	if rec.Challenge != nil {
		t.Fatalf("Challenge = %+v after clear, want nil", rec.Challenge)
	}

	// The next challenge must not reuse id 1: devices that resolved the
	// first one hold a high-water mark of 1 and would never see it.
	if err := console.OpenChallenge(ctx, "ABCDEF", models.ChallengeCipher, "xyzzy"); err != nil {
		t.Fatalf("OpenChallenge() error = %v", err)
	}
	rec = client.get("ABCDEF")
	if rec.Challenge == nil || rec.Challenge.ID != 2 {
		t.Errorf("Challenge = %+v, want id 2", rec.Challenge)
	}
}

func TestClearChallengeWithoutOne(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(&models.SessionRecord{Code: "ABCDEF"})
	console := NewConsole(client)

	if err := console.ClearChallenge(ctx, "ABCDEF"); err != nil {
		t.Errorf("ClearChallenge() error = %v, want nil no-op", err)
	}
}

func TestAddBonusAdjustsBudgetAndAnnounces(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(&models.SessionRecord{Code: "ABCDEF", BonusMinutes: 5})
	console := NewConsole(client)

	if err := console.AddBonus(ctx, "ABCDEF", 10); err != nil {
		t.Fatalf("AddBonus() error = %v", err)
	}
	rec := client.get("ABCDEF")
	if rec.BonusMinutes != 15 {
		t.Errorf("BonusMinutes = %d, want 15", rec.BonusMinutes)
	}
	if rec.Command == nil || rec.Command.Kind != models.CommandAddTime || rec.Command.Payload != "10" {
		t.Errorf("Command = %+v, want ADD_TIME 10", rec.Command)
	}

	// Negative adjustments shrink the budget.
	if err := console.AddBonus(ctx, "ABCDEF", -20); err != nil {
		t.Fatalf("AddBonus() error = %v", err)
	}
	rec = client.get("ABCDEF")
	if rec.BonusMinutes != -5 {
		t.Errorf("BonusMinutes = %d, want -5", rec.BonusMinutes)
	}
	if rec.Command.ID != 2 || rec.Command.Payload != "-20" {
		t.Errorf("Command = %+v", rec.Command)
	}
}
