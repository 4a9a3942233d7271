// Package sync keeps a device's view of the shared session record eventually
// consistent. There is no push channel: a repeating timer reads the remote
// record, and every mutation is an optimistic whole-record overwrite followed
// by an immediate re-fetch. Two devices writing inside the same poll window
// race last-writer-wins; that is accepted, not detected.
package sync

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/lockstep-games/lockstep/internal/models"
	"github.com/lockstep-games/lockstep/internal/store"
)

// Config holds the per-role poll cadence. The owner polls slower than the
// players to bound write amplification while keeping observers responsive;
// this is a deliberate load-shedding decision, not a tuning accident.
type Config struct {
	OwnerInterval  time.Duration
	PlayerInterval time.Duration
}

// DefaultConfig returns the default poll cadence.
func DefaultConfig() Config {
	return Config{
		OwnerInterval:  5 * time.Second,
		PlayerInterval: 2 * time.Second,
	}
}

// Listener receives every successfully fetched snapshot.
type Listener func(*models.SessionRecord)

// Synchronizer owns the poll loop and the cached snapshot for one device.
type Synchronizer struct {
	client store.Client
	clock  clockwork.Clock
	cfg    Config

	mu        sync.Mutex
	code      string
	owner     bool
	record    *models.SessionRecord
	lastErr   string
	gen       int
	cancel    context.CancelFunc
	listeners []Listener
}

// New creates a synchronizer using the real clock.
func New(client store.Client, cfg Config) *Synchronizer {
	return NewWithClock(client, cfg, clockwork.NewRealClock())
}

// NewWithClock creates a synchronizer with an injectable clock.
func NewWithClock(client store.Client, cfg Config, clock clockwork.Clock) *Synchronizer {
	return &Synchronizer{client: client, clock: clock, cfg: cfg}
}

// Subscribe registers a listener for fetched snapshots. Listeners run on the
// poll goroutine and must not block.
func (s *Synchronizer) Subscribe(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// SetSession starts or stops polling. An empty code tears the loop down and
// clears all cached state; a non-empty code (re)starts the loop with the
// cadence for the given role.
func (s *Synchronizer) SetSession(code string, owner bool) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	// Invalidate any in-flight fetch so a late response cannot repopulate
	// a torn-down session.
	s.gen++
	s.code = code
	s.owner = owner
	s.record = nil
	s.lastErr = ""

	if code == "" {
		s.mu.Unlock()
		log.Info().Msg("session polling stopped")
		return
	}

	interval := s.cfg.PlayerInterval
	if owner {
		interval = s.cfg.OwnerInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	gen := s.gen
	s.mu.Unlock()

	log.Info().
		Str("code", code).
		Bool("owner", owner).
		Dur("interval", interval).
		Msg("session polling started")

	go s.run(ctx, code, interval, gen)
}

// Stop is shorthand for clearing the session code.
func (s *Synchronizer) Stop() {
	s.SetSession("", false)
}

// Snapshot returns the latest cached record (nil before the first successful
// fetch or after a failed one) and the current error string, empty when the
// last fetch succeeded. The returned record must be treated as read-only;
// mutations go through Mutate with a Clone.
func (s *Synchronizer) Snapshot() (*models.SessionRecord, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record, s.lastErr
}

// Mutate optimistically replaces the local cache with record, persists the
// whole record asynchronously, and re-fetches immediately regardless of
// write success. Write errors are logged, never retried directly: the next
// poll tick self-heals.
func (s *Synchronizer) Mutate(record *models.SessionRecord) {
	s.mu.Lock()
	code := s.code
	gen := s.gen
	if code == "" {
		s.mu.Unlock()
		log.Warn().Msg("mutate ignored: no active session")
		return
	}
	s.record = record.Clone()
	s.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.client.Update(ctx, code, record); err != nil {
			log.Error().Err(err).Str("code", code).Msg("failed to persist session record")
		}
		s.fetch(ctx, code, gen)
	}()
}

// Refresh triggers one immediate fetch outside the regular cadence.
func (s *Synchronizer) Refresh(ctx context.Context) {
	s.mu.Lock()
	code := s.code
	gen := s.gen
	s.mu.Unlock()
	if code == "" {
		return
	}
	s.fetch(ctx, code, gen)
}

func (s *Synchronizer) run(ctx context.Context, code string, interval time.Duration, gen int) {
	s.fetch(ctx, code, gen)

	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.fetch(ctx, code, gen)
		}
	}
}

// fetch reads the remote record and applies it to the cache unless the
// session was torn down or replaced while the request was in flight.
func (s *Synchronizer) fetch(ctx context.Context, code string, gen int) {
	record, err := s.client.Read(ctx, code)

	s.mu.Lock()
	if gen != s.gen {
		// Stale response for a session that no longer exists locally.
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.record = nil
		s.lastErr = err.Error()
		record = nil
		log.Error().Err(err).Str("code", code).Msg("session fetch failed")
	} else {
		s.record = record
		s.lastErr = ""
	}
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	// Listeners also see failed polls (nil record) so they can surface the
	// error state.
	for _, fn := range listeners {
		fn(record)
	}
}
