package models

import (
	"encoding/json"
	"time"
)

// RelationKind names the two connection lists captured for an account.
type RelationKind string

const (
	RelationFollowing RelationKind = "following"
	RelationFollowers RelationKind = "followers"
)

// Valid reports whether the relation kind is one of the two known lists.
func (k RelationKind) Valid() bool {
	return k == RelationFollowing || k == RelationFollowers
}

// ConnectionRecord is one observed user, scoped to one (account, relation) pair.
// ID is the stable external identity and the primary key within its collection.
type ConnectionRecord struct {
	ID          string         `json:"id"`
	CollectedAt time.Time      `json:"collected_at"`
	LastSeen    time.Time      `json:"last_seen"`
	Payload     map[string]any `json:"payload,omitempty"`
	SortIndex   string         `json:"sort_index,omitempty"`
	EntryID     string         `json:"entry_id,omitempty"`
}

// PayloadBytes returns the serialized size of the record's payload snapshot.
func (r ConnectionRecord) PayloadBytes() int {
	if len(r.Payload) == 0 {
		return 0
	}
	b, err := json.Marshal(r.Payload)
	if err != nil {
		return 0
	}
	return len(b)
}

// CaptureBatch is a single notification emitted by the interceptor: the
// validated candidates from one intercepted response plus provenance.
type CaptureBatch struct {
	BatchID   string             `json:"batch_id,omitempty"`
	Records   []ConnectionRecord `json:"records"`
	SourceURL string             `json:"source_url"`
	Relation  RelationKind       `json:"relation_kind"`
}

// PageContext describes which relation page is currently open, reported by
// the relay independently of captures.
type PageContext struct {
	Account  string       `json:"account"`
	Relation RelationKind `json:"relation_kind"`
	URL      string       `json:"url"`
}
