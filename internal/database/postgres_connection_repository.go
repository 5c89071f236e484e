package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/graphsnap/graphsnap/internal/models"
	"github.com/graphsnap/graphsnap/internal/store"
)

// PostgresConnectionRepository implements store.Repository using PostgreSQL.
type PostgresConnectionRepository struct {
	db *sql.DB
}

// NewPostgresConnectionRepository creates a new PostgreSQL-backed repository.
func NewPostgresConnectionRepository(db *sql.DB) *PostgresConnectionRepository {
	return &PostgresConnectionRepository{db: db}
}

var _ store.Repository = (*PostgresConnectionRepository)(nil)

// GetBatch retrieves existing records by id within one collection.
func (r *PostgresConnectionRepository) GetBatch(ctx context.Context, account string, relation models.RelationKind, ids []string) (map[string]models.ConnectionRecord, error) {
	if len(ids) == 0 {
		return map[string]models.ConnectionRecord{}, nil
	}

	query := `
		SELECT id, collected_at, last_seen, sort_index, entry_id, payload
		FROM connections
		WHERE account = $1 AND relation = $2 AND id = ANY($3)
	`

	rows, err := r.db.QueryContext(ctx, query, account, string(relation), pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	result := make(map[string]models.ConnectionRecord)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result[record.ID] = record
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return result, nil
}

// UpsertBatch writes records into one collection and bumps its lastUpdated
// timestamp in the same transaction.
func (r *PostgresConnectionRepository) UpsertBatch(ctx context.Context, account string, relation models.RelationKind, records []models.ConnectionRecord, updatedAt time.Time) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO connections (
			account, relation, id, collected_at, last_seen,
			sort_index, entry_id, payload, payload_bytes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (account, relation, id) DO UPDATE SET
			collected_at = EXCLUDED.collected_at,
			last_seen = EXCLUDED.last_seen,
			sort_index = EXCLUDED.sort_index,
			entry_id = EXCLUDED.entry_id,
			payload = EXCLUDED.payload,
			payload_bytes = EXCLUDED.payload_bytes
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		payloadJSON, err := json.Marshal(record.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload for %s: %w", record.ID, err)
		}

		_, err = stmt.ExecContext(ctx,
			account,
			string(relation),
			record.ID,
			record.CollectedAt,
			record.LastSeen,
			record.SortIndex,
			record.EntryID,
			payloadJSON,
			len(payloadJSON),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert record %s: %w", record.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO merge_log (account, relation, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (account, relation) DO UPDATE SET updated_at = EXCLUDED.updated_at
	`, account, string(relation), updatedAt)
	if err != nil {
		return fmt.Errorf("failed to record merge: %w", err)
	}

	return tx.Commit()
}

// Counts returns totals used for capacity enforcement.
func (r *PostgresConnectionRepository) Counts(ctx context.Context) (store.Counts, error) {
	query := `
		SELECT account, relation, COUNT(*), COALESCE(SUM(payload_bytes), 0)
		FROM connections
		GROUP BY account, relation
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return store.Counts{}, fmt.Errorf("failed to query counts: %w", err)
	}
	defer rows.Close()

	counts := store.Counts{PerCollection: make(map[string]map[models.RelationKind]int)}
	for rows.Next() {
		var account, relation string
		var count int
		var bytes int64
		if err := rows.Scan(&account, &relation, &count, &bytes); err != nil {
			return store.Counts{}, fmt.Errorf("failed to scan counts: %w", err)
		}
		if counts.PerCollection[account] == nil {
			counts.PerCollection[account] = make(map[models.RelationKind]int)
		}
		counts.PerCollection[account][models.RelationKind(relation)] = count
		counts.Total += count
		counts.PayloadBytes += bytes
	}
	if err := rows.Err(); err != nil {
		return store.Counts{}, fmt.Errorf("row iteration error: %w", err)
	}

	return counts, nil
}

// CountNewSince counts records observed strictly after the watermark,
// preferring collected_at and falling back to last_seen.
func (r *PostgresConnectionRepository) CountNewSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM connections WHERE COALESCE(collected_at, last_seen) > $1",
		since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count new records: %w", err)
	}
	return count, nil
}

// Snapshot returns the full persisted state.
func (r *PostgresConnectionRepository) Snapshot(ctx context.Context) (models.RepositoryState, error) {
	state := models.EmptyState()

	rows, err := r.db.QueryContext(ctx, `
		SELECT account, relation, id, collected_at, last_seen, sort_index, entry_id, payload
		FROM connections
	`)
	if err != nil {
		return state, fmt.Errorf("failed to query connections: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var account, relation string
		var record models.ConnectionRecord
		var payloadJSON []byte

		err := rows.Scan(
			&account,
			&relation,
			&record.ID,
			&record.CollectedAt,
			&record.LastSeen,
			&record.SortIndex,
			&record.EntryID,
			&payloadJSON,
		)
		if err != nil {
			return state, fmt.Errorf("failed to scan record: %w", err)
		}
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &record.Payload); err != nil {
				return state, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		kind := models.RelationKind(relation)
		if state.Accounts[account] == nil {
			state.Accounts[account] = make(models.AccountCollection)
		}
		if state.Accounts[account][kind] == nil {
			state.Accounts[account][kind] = make(map[string]models.ConnectionRecord)
		}
		state.Accounts[account][kind][record.ID] = record
	}
	if err := rows.Err(); err != nil {
		return state, fmt.Errorf("row iteration error: %w", err)
	}

	updates, err := r.db.QueryContext(ctx, "SELECT account, relation, updated_at FROM merge_log")
	if err != nil {
		return state, fmt.Errorf("failed to query merge log: %w", err)
	}
	defer updates.Close()

	for updates.Next() {
		var account, relation string
		var ts time.Time
		if err := updates.Scan(&account, &relation, &ts); err != nil {
			return state, fmt.Errorf("failed to scan merge log: %w", err)
		}
		if state.LastUpdated[account] == nil {
			state.LastUpdated[account] = make(map[models.RelationKind]time.Time)
		}
		state.LastUpdated[account][models.RelationKind(relation)] = ts
	}
	if err := updates.Err(); err != nil {
		return state, fmt.Errorf("row iteration error: %w", err)
	}

	viewing, err := r.ViewingState(ctx)
	if err != nil {
		return state, err
	}
	state.Viewing = viewing

	return state, nil
}

// Clear deletes all persisted state unconditionally.
func (r *PostgresConnectionRepository) Clear(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM connections",
		"DELETE FROM merge_log",
		"DELETE FROM viewing_state",
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to clear state: %w", err)
		}
	}

	return tx.Commit()
}

// DeleteLastSeenBefore removes records whose last_seen precedes the cutoff.
func (r *PostgresConnectionRepository) DeleteLastSeenBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM connections WHERE last_seen < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale records: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rows), nil
}

// ViewingState reads the view watermark.
func (r *PostgresConnectionRepository) ViewingState(ctx context.Context) (models.ViewingState, error) {
	viewing := models.ViewingState{
		LastViewedCounts: make(map[string]map[models.RelationKind]int),
	}

	var lastViewedAt sql.NullTime
	var countsJSON []byte

	err := r.db.QueryRowContext(ctx,
		"SELECT last_viewed_at, last_viewed_counts FROM viewing_state WHERE id = 1",
	).Scan(&lastViewedAt, &countsJSON)

	if err == sql.ErrNoRows {
		return viewing, nil
	}
	if err != nil {
		return viewing, fmt.Errorf("failed to query viewing state: %w", err)
	}

	if lastViewedAt.Valid {
		ts := lastViewedAt.Time
		viewing.LastViewedAt = &ts
	}
	if len(countsJSON) > 0 {
		if err := json.Unmarshal(countsJSON, &viewing.LastViewedCounts); err != nil {
			return viewing, fmt.Errorf("failed to unmarshal viewed counts: %w", err)
		}
	}

	return viewing, nil
}

// SaveViewingState replaces the view watermark.
func (r *PostgresConnectionRepository) SaveViewingState(ctx context.Context, state models.ViewingState) error {
	countsJSON, err := json.Marshal(state.LastViewedCounts)
	if err != nil {
		return fmt.Errorf("failed to marshal viewed counts: %w", err)
	}

	var lastViewedAt any
	if state.LastViewedAt != nil {
		lastViewedAt = *state.LastViewedAt
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO viewing_state (id, last_viewed_at, last_viewed_counts)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET
			last_viewed_at = EXCLUDED.last_viewed_at,
			last_viewed_counts = EXCLUDED.last_viewed_counts
	`, lastViewedAt, countsJSON)
	if err != nil {
		return fmt.Errorf("failed to save viewing state: %w", err)
	}

	return nil
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (models.ConnectionRecord, error) {
	var record models.ConnectionRecord
	var payloadJSON []byte

	err := scanner.Scan(
		&record.ID,
		&record.CollectedAt,
		&record.LastSeen,
		&record.SortIndex,
		&record.EntryID,
		&payloadJSON,
	)
	if err != nil {
		return models.ConnectionRecord{}, fmt.Errorf("failed to scan record: %w", err)
	}

	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &record.Payload); err != nil {
			return models.ConnectionRecord{}, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}

	return record, nil
}
