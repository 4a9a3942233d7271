package server

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lockstep-games/lockstep/internal/models"
	"github.com/lockstep-games/lockstep/internal/store"
)

// MemoryRepository is an in-memory Repository for tests and local runs.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[string]*models.SessionRecord
	events  []SessionEvent
	nextID  int64
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: make(map[string]*models.SessionRecord),
		nextID:  1,
	}
}

func (r *MemoryRepository) Insert(ctx context.Context, record *models.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.Code] = record.Clone()
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, code string) (*models.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	return record.Clone(), nil
}

func (r *MemoryRepository) Put(ctx context.Context, code string, record *models.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[code]; !ok {
		return store.ErrNotFound
	}
	r.records[code] = record.Clone()
	return nil
}

func (r *MemoryRepository) List(ctx context.Context) ([]*models.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	records := make([]*models.SessionRecord, 0, len(r.records))
	for _, record := range r.records {
		records = append(records, record.Clone())
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].UpdatedAt.After(records[j].UpdatedAt)
	})
	return records, nil
}

func (r *MemoryRepository) InsertEvent(ctx context.Context, event SessionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event.ID = r.nextID
	r.nextID++
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	r.events = append(r.events, event)
	return nil
}

func (r *MemoryRepository) RecentEvents(ctx context.Context, limit int32) ([]SessionEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	events := make([]SessionEvent, 0, limit)
	for i := len(r.events) - 1; i >= 0 && len(events) < int(limit); i-- {
		events = append(events, r.events[i])
	}
	return events, nil
}
