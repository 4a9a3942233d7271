package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lockstep-games/lockstep/internal/models"
	"github.com/lockstep-games/lockstep/internal/store"
)

// fakeClient is an in-memory store.Client with injectable read failures.
type fakeClient struct {
	mu       sync.Mutex
	records  map[string]*models.SessionRecord
	reads    int
	updates  int
	failRead bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{records: make(map[string]*models.SessionRecord)}
}

func (c *fakeClient) put(rec *models.SessionRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[rec.Code] = rec.Clone()
}

func (c *fakeClient) setFailRead(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failRead = fail
}

func (c *fakeClient) counts() (reads, updates int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads, c.updates
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
	c.reads++
	if c.failRead {
		return nil, fmt.Errorf("store unreachable")
	}
	rec, ok := c.records[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec.Clone(), nil
}

func (c *fakeClient) Update(ctx context.Context, code string, record *models.SessionRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates++
	c.records[code] = record.Clone()
	return nil
}

func (c *fakeClient) List(ctx context.Context) ([]*models.SessionRecord, error) {
	return nil, errors.New("not implemented")
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startSynchronizer(t *testing.T, client *fakeClient, clock clockwork.Clock, owner bool) *Synchronizer {
	t.Helper()
	s := NewWithClock(client, DefaultConfig(), clock)
	s.SetSession("ABCDEF", owner)
	t.Cleanup(s.Stop)
	waitFor(t, "initial fetch", func() bool {
		rec, errMsg := s.Snapshot()
		return rec != nil || errMsg != ""
	})
	return s
}

func TestPollUpdatesSnapshot(t *testing.T) {
	client := newFakeClient()
	client.put(&models.SessionRecord{Code: "ABCDEF", Status: "open"})
	clock := clockwork.NewFakeClock()

	s := startSynchronizer(t, client, clock, false)
	rec, errMsg := s.Snapshot()
	if rec == nil || rec.Status != "open" {
		t.Fatalf("Snapshot() = %+v, %q", rec, errMsg)
	}

	client.put(&models.SessionRecord{Code: "ABCDEF", Status: "step solved"})
	clock.BlockUntil(1)
	clock.Advance(DefaultConfig().PlayerInterval)

	waitFor(t, "refreshed snapshot", func() bool {
		rec, _ := s.Snapshot()
		return rec != nil && rec.Status == "step solved"
	})
}

func TestFetchFailureClearsCacheAndHeals(t *testing.T) {
	client := newFakeClient()
	client.put(&models.SessionRecord{Code: "ABCDEF", Status: "open"})
	clock := clockwork.NewFakeClock()

	var mu sync.Mutex
	var nilSeen bool

	s := NewWithClock(client, DefaultConfig(), clock)
	s.Subscribe(func(rec *models.SessionRecord) {
		if rec == nil {
			mu.Lock()
			nilSeen = true
			mu.Unlock()
		}
	})
	s.SetSession("ABCDEF", false)
	t.Cleanup(s.Stop)
	waitFor(t, "initial fetch", func() bool {
		rec, _ := s.Snapshot()
		return rec != nil
	})

	client.setFailRead(true)
	clock.BlockUntil(1)
	clock.Advance(DefaultConfig().PlayerInterval)
	waitFor(t, "failure surfaced", func() bool {
		rec, errMsg := s.Snapshot()
		return rec == nil && errMsg != ""
	})
	mu.Lock()
	sawNil := nilSeen
	mu.Unlock()
	if !sawNil {
		t.Error("listener did not observe the failed poll")
	}

	client.setFailRead(false)
	clock.BlockUntil(1)
	clock.Advance(DefaultConfig().PlayerInterval)
	waitFor(t, "self-heal", func() bool {
		rec, errMsg := s.Snapshot()
		return rec != nil && errMsg == ""
	})
}

func TestMutateIsOptimisticAndPersists(t *testing.T) {
	client := newFakeClient()
	client.put(&models.SessionRecord{Code: "ABCDEF", Status: "open"})
	clock := clockwork.NewFakeClock()

	s := startSynchronizer(t, client, clock, false)

	rec, _ := s.Snapshot()
	next := rec.Clone()
	next.Status = "locally mutated"
	s.Mutate(next)

	// The cache reflects the mutation before the write lands.
	rec, _ = s.Snapshot()
	if rec.Status != "locally mutated" {
		t.Errorf("Snapshot() status = %q, want optimistic value", rec.Status)
	}

	waitFor(t, "write persisted", func() bool {
		_, updates := client.counts()
		return updates == 1
	})
	client.mu.Lock()
	stored := client.records["ABCDEF"].Status
	client.mu.Unlock()
	if stored != "locally mutated" {
		t.Errorf("stored status = %q", stored)
	}
}

func TestStopClearsStateAndIgnoresMutations(t *testing.T) {
	client := newFakeClient()
	client.put(&models.SessionRecord{Code: "ABCDEF", Status: "open"})
	clock := clockwork.NewFakeClock()

	s := startSynchronizer(t, client, clock, false)
	rec, _ := s.Snapshot()

	s.Stop()
	if got, errMsg := s.Snapshot(); got != nil || errMsg != "" {
		t.Errorf("Snapshot() after Stop = %+v, %q", got, errMsg)
	}

	_, before := client.counts()
	s.Mutate(rec.Clone())
	time.Sleep(50 * time.Millisecond)
	if _, after := client.counts(); after != before {
		t.Error("Mutate() wrote after Stop")
	}
}

func TestOwnerPollsSlower(t *testing.T) {
	client := newFakeClient()
	client.put(&models.SessionRecord{Code: "ABCDEF", Status: "open"})
	clock := clockwork.NewFakeClock()

	s := startSynchronizer(t, client, clock, true)
	_ = s
	reads, _ := client.counts()

	clock.BlockUntil(1)
	clock.Advance(DefaultConfig().PlayerInterval)
	time.Sleep(50 * time.Millisecond)
	if got, _ := client.counts(); got != reads {
		t.Fatalf("owner fetched at player cadence: reads %d -> %d", reads, got)
	}

	clock.Advance(DefaultConfig().OwnerInterval - DefaultConfig().PlayerInterval)
	waitFor(t, "owner cadence fetch", func() bool {
		got, _ := client.counts()
		return got > reads
	})
}

func TestConcurrentWritersLastWriterWins(t *testing.T) {
	client := newFakeClient()
	client.put(&models.SessionRecord{Code: "ABCDEF", Status: "open"})
	clock := clockwork.NewFakeClock()

	s := startSynchronizer(t, client, clock, false)
	base, _ := s.Snapshot()

	// Two writers derive divergent records from the same snapshot inside one
	// poll window. The first files a proposal through the synchronizer.
	first := base.Clone()
	first.Proposal = &models.PendingProposal{
		ParticipantID:   "p2",
		ParticipantName: "Ben",
		Action:          "cut the red wire",
	}
	s.Mutate(first)
	waitFor(t, "first write persisted", func() bool {
		_, updates := client.counts()
		return updates >= 1
	})

	// The second writer still holds the shared base snapshot; its wholesale
	// overwrite lands last and carries no proposal.
	second := base.Clone()
	second.Command = &models.AdminCommand{ID: 1, Kind: models.CommandMessage, Payload: "hold position"}
	if err := client.Update(context.Background(), "ABCDEF", second); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	// No merge, no conflict error: the proposal is silently gone.
	stored := client.get("ABCDEF")
	if stored.Proposal != nil {
		t.Errorf("stored record kept proposal %+v, want it discarded by the later write", stored.Proposal)
	}
	if stored.Command == nil {
		t.Fatal("stored record lost the last writer's command")
	}

	// The first writer's next poll adopts the lossy result without complaint.
	clock.BlockUntil(1)
	clock.Advance(DefaultConfig().PlayerInterval)
	waitFor(t, "first writer converges on last write", func() bool {
		rec, errMsg := s.Snapshot()
		return errMsg == "" && rec != nil && rec.Proposal == nil && rec.Command != nil
	})
}

func TestSubscribersReceiveEverySnapshot(t *testing.T) {
	client := newFakeClient()
	client.put(&models.SessionRecord{Code: "ABCDEF", Status: "open"})
	clock := clockwork.NewFakeClock()

	var mu sync.Mutex
	var seen []string

	s := NewWithClock(client, DefaultConfig(), clock)
	s.Subscribe(func(rec *models.SessionRecord) {
		if rec != nil {
			mu.Lock()
			seen = append(seen, rec.Status)
			mu.Unlock()
		}
	})
	s.SetSession("ABCDEF", false)
	t.Cleanup(s.Stop)

	waitFor(t, "listener snapshot", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 1 && seen[0] == "open"
	})
}
