package models

import "time"

// AccountCollection holds all captured records for one external account,
// partitioned by relation kind. Keys of the inner maps are record IDs.
type AccountCollection map[RelationKind]map[string]ConnectionRecord

// Count returns the number of records held for one relation kind.
func (c AccountCollection) Count(kind RelationKind) int {
	return len(c[kind])
}

// ViewingState is the watermark used to compute "new since last view".
// LastViewedAt only moves forward; RecordView is its sole writer.
type ViewingState struct {
	LastViewedAt     *time.Time                      `json:"last_viewed_at"`
	LastViewedCounts map[string]map[RelationKind]int `json:"last_viewed_counts"`
}

// RepositoryState is the full persisted document owned by the store.
type RepositoryState struct {
	Accounts    map[string]AccountCollection          `json:"accounts"`
	LastUpdated map[string]map[RelationKind]time.Time `json:"last_updated"`
	Viewing     ViewingState                          `json:"viewing_state"`
}

// EmptyState returns a defaulted, non-nil RepositoryState. Reads that fail
// fall back to this so that snapshot queries never error out.
func EmptyState() RepositoryState {
	return RepositoryState{
		Accounts:    make(map[string]AccountCollection),
		LastUpdated: make(map[string]map[RelationKind]time.Time),
		Viewing: ViewingState{
			LastViewedCounts: make(map[string]map[RelationKind]int),
		},
	}
}

// TotalRecords counts records across all accounts and relation kinds.
func (s RepositoryState) TotalRecords() int {
	total := 0
	for _, coll := range s.Accounts {
		for _, records := range coll {
			total += len(records)
		}
	}
	return total
}

// BadgeSignal is the derived presentation signal for the currently open page.
// It is computed on demand from (state, page context), never stored.
type BadgeSignal struct {
	// Count is the live collection size when a relation page is open, or the
	// number of records newer than the view watermark otherwise.
	Count int `json:"count"`
	// Relation is set when a relation page is open and colors the signal.
	Relation RelationKind `json:"relation_kind,omitempty"`
	// NewItems is true when Count represents new-since-view records.
	NewItems bool `json:"new_items"`
	// LimitExceeded is the persistent capacity indicator; it stays raised
	// until data is exported or cleared.
	LimitExceeded bool `json:"limit_exceeded"`
}

// Suppressed reports whether the badge should not be shown at all.
func (b BadgeSignal) Suppressed() bool {
	return b.Count == 0 && !b.LimitExceeded
}
