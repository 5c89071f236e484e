package store

import (
	"context"
	"sync"
	"time"

	"github.com/graphsnap/graphsnap/internal/models"
)

// Counts summarizes the repository against the three capacity ceilings.
type Counts struct {
	Total         int
	PerCollection map[string]map[models.RelationKind]int
	PayloadBytes  int64
}

// For returns the count of one (account, relation) collection.
func (c Counts) For(account string, relation models.RelationKind) int {
	return c.PerCollection[account][relation]
}

// Repository defines the interface for persisting RepositoryState.
type Repository interface {
	// GetBatch retrieves existing records by id within one collection.
	// Missing ids are simply absent from the result.
	GetBatch(ctx context.Context, account string, relation models.RelationKind, ids []string) (map[string]models.ConnectionRecord, error)

	// UpsertBatch writes records into one collection and bumps the
	// collection's lastUpdated timestamp, atomically.
	UpsertBatch(ctx context.Context, account string, relation models.RelationKind, records []models.ConnectionRecord, updatedAt time.Time) error

	// Counts returns totals used for capacity enforcement.
	Counts(ctx context.Context) (Counts, error)

	// CountNewSince counts records observed after the given watermark,
	// preferring CollectedAt and falling back to LastSeen.
	CountNewSince(ctx context.Context, since time.Time) (int, error)

	// Snapshot returns the full persisted state.
	Snapshot(ctx context.Context) (models.RepositoryState, error)

	// Clear deletes all persisted state unconditionally.
	Clear(ctx context.Context) error

	// DeleteLastSeenBefore removes records whose LastSeen is strictly before
	// the cutoff and returns how many were deleted.
	DeleteLastSeenBefore(ctx context.Context, cutoff time.Time) (int, error)

	// ViewingState reads the view watermark.
	ViewingState(ctx context.Context) (models.ViewingState, error)

	// SaveViewingState replaces the view watermark.
	SaveViewingState(ctx context.Context, state models.ViewingState) error
}

// MemoryRepository implements an in-memory repository for testing/development
// and for running the store without a database.
type MemoryRepository struct {
	mu       sync.RWMutex
	accounts map[string]models.AccountCollection
	updated  map[string]map[models.RelationKind]time.Time
	viewing  models.ViewingState
}

// NewMemoryRepository creates a new in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts: make(map[string]models.AccountCollection),
		updated:  make(map[string]map[models.RelationKind]time.Time),
		viewing: models.ViewingState{
			LastViewedCounts: make(map[string]map[models.RelationKind]int),
		},
	}
}

// GetBatch retrieves existing records by id within one collection.
func (r *MemoryRepository) GetBatch(ctx context.Context, account string, relation models.RelationKind, ids []string) (map[string]models.ConnectionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]models.ConnectionRecord)
	collection := r.accounts[account][relation]
	for _, id := range ids {
		if record, ok := collection[id]; ok {
			result[id] = record
		}
	}
	return result, nil
}

// UpsertBatch writes records into one collection, keyed by id.
func (r *MemoryRepository) UpsertBatch(ctx context.Context, account string, relation models.RelationKind, records []models.ConnectionRecord, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.accounts[account] == nil {
		r.accounts[account] = make(models.AccountCollection)
	}
	if r.accounts[account][relation] == nil {
		r.accounts[account][relation] = make(map[string]models.ConnectionRecord)
	}
	for _, record := range records {
		r.accounts[account][relation][record.ID] = record
	}

	if r.updated[account] == nil {
		r.updated[account] = make(map[models.RelationKind]time.Time)
	}
	r.updated[account][relation] = updatedAt

	return nil
}

// Counts returns totals used for capacity enforcement.
func (r *MemoryRepository) Counts(ctx context.Context) (Counts, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := Counts{PerCollection: make(map[string]map[models.RelationKind]int)}
	for account, collection := range r.accounts {
		for relation, records := range collection {
			if counts.PerCollection[account] == nil {
				counts.PerCollection[account] = make(map[models.RelationKind]int)
			}
			counts.PerCollection[account][relation] = len(records)
			counts.Total += len(records)
			for _, record := range records {
				counts.PayloadBytes += int64(record.PayloadBytes())
			}
		}
	}
	return counts, nil
}

// CountNewSince counts records observed strictly after the watermark.
func (r *MemoryRepository) CountNewSince(ctx context.Context, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, collection := range r.accounts {
		for _, records := range collection {
			for _, record := range records {
				observed := record.CollectedAt
				if observed.IsZero() {
					observed = record.LastSeen
				}
				if observed.After(since) {
					count++
				}
			}
		}
	}
	return count, nil
}

// Snapshot returns a deep copy of the full persisted state.
func (r *MemoryRepository) Snapshot(ctx context.Context) (models.RepositoryState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state := models.EmptyState()
	for account, collection := range r.accounts {
		copied := make(models.AccountCollection, len(collection))
		for relation, records := range collection {
			inner := make(map[string]models.ConnectionRecord, len(records))
			for id, record := range records {
				inner[id] = record
			}
			copied[relation] = inner
		}
		state.Accounts[account] = copied
	}
	for account, relations := range r.updated {
		inner := make(map[models.RelationKind]time.Time, len(relations))
		for relation, ts := range relations {
			inner[relation] = ts
		}
		state.LastUpdated[account] = inner
	}
	state.Viewing = copyViewingState(r.viewing)

	return state, nil
}

// Clear deletes all persisted state.
func (r *MemoryRepository) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.accounts = make(map[string]models.AccountCollection)
	r.updated = make(map[string]map[models.RelationKind]time.Time)
	r.viewing = models.ViewingState{
		LastViewedCounts: make(map[string]map[models.RelationKind]int),
	}
	return nil
}

// DeleteLastSeenBefore removes records whose LastSeen precedes the cutoff.
func (r *MemoryRepository) DeleteLastSeenBefore(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for account, collection := range r.accounts {
		for relation, records := range collection {
			for id, record := range records {
				if record.LastSeen.Before(cutoff) {
					delete(records, id)
					deleted++
				}
			}
			if len(records) == 0 {
				delete(collection, relation)
			}
		}
		if len(collection) == 0 {
			delete(r.accounts, account)
		}
	}
	return deleted, nil
}

// ViewingState reads the view watermark.
func (r *MemoryRepository) ViewingState(ctx context.Context) (models.ViewingState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyViewingState(r.viewing), nil
}

// SaveViewingState replaces the view watermark.
func (r *MemoryRepository) SaveViewingState(ctx context.Context, state models.ViewingState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.viewing = copyViewingState(state)
	return nil
}

func copyViewingState(state models.ViewingState) models.ViewingState {
	copied := models.ViewingState{
		LastViewedCounts: make(map[string]map[models.RelationKind]int, len(state.LastViewedCounts)),
	}
	if state.LastViewedAt != nil {
		ts := *state.LastViewedAt
		copied.LastViewedAt = &ts
	}
	for account, relations := range state.LastViewedCounts {
		inner := make(map[models.RelationKind]int, len(relations))
		for relation, count := range relations {
			inner[relation] = count
		}
		copied.LastViewedCounts[account] = inner
	}
	return copied
}
