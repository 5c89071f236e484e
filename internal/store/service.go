package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/graphsnap/graphsnap/internal/capture"
	"github.com/graphsnap/graphsnap/internal/config"
	"github.com/graphsnap/graphsnap/internal/metrics"
	"github.com/graphsnap/graphsnap/internal/models"
)

// ErrLimitExceeded marks an ingest rejected as a unit because one of the
// capacity ceilings would be exceeded.
var ErrLimitExceeded = errors.New("capacity limit exceeded")

// ErrInvalidRequest marks an ingest whose account or relation kind could not
// be resolved.
var ErrInvalidRequest = errors.New("invalid ingest request")

// Service is the sole owner of RepositoryState. All merges go through a
// single serialized path so concurrent ingests stay keyed-merge safe.
type Service struct {
	repo    Repository
	limits  config.LimitsConfig
	logger  *slog.Logger
	metrics *metrics.Collector

	page *pageContextCache

	mu            sync.Mutex
	limitExceeded bool

	now func() time.Time
}

// NewService creates a store service. The metrics collector may be nil.
func NewService(repo Repository, limits config.LimitsConfig, logger *slog.Logger, collector *metrics.Collector) *Service {
	ttl := limits.PageContextTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Service{
		repo:    repo,
		limits:  limits,
		logger:  logger,
		metrics: collector,
		page:    newPageContextCache(ttl),
		now:     time.Now,
	}
}

// Ingest merges a batch of candidate records into one (account, relation)
// collection. The merge is keyed by record id and idempotent: an existing id
// keeps its CollectedAt, gets its other fields overwritten, and has LastSeen
// advanced. The whole batch is rejected before any write if a capacity
// ceiling would be exceeded.
func (s *Service) Ingest(ctx context.Context, req models.IngestRequest) error {
	account, relation, err := s.resolveTarget(req)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IngestRejected("invalid")
		}
		return err
	}

	candidates := s.validCandidates(req.Records)
	if len(candidates) == 0 {
		s.logger.Debug("ingest carried no valid candidates", "account", account, "relation", relation)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	counts, err := s.repo.Counts(ctx)
	if err != nil {
		return fmt.Errorf("failed to read counts: %w", err)
	}

	if err := s.checkCeilings(counts, account, relation, candidates); err != nil {
		s.limitExceeded = true
		if s.metrics != nil {
			s.metrics.IngestRejected("capacity")
		}
		s.logger.Warn("ingest rejected by capacity ceiling",
			"account", account,
			"relation", relation,
			"candidates", len(candidates),
			"total", counts.Total,
		)
		return err
	}

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}

	existing, err := s.repo.GetBatch(ctx, account, relation, ids)
	if err != nil {
		return fmt.Errorf("failed to read existing records: %w", err)
	}

	now := s.now()
	merged := make([]models.ConnectionRecord, 0, len(candidates))
	created := 0
	for _, candidate := range candidates {
		record := candidate
		if prior, ok := existing[candidate.ID]; ok {
			record.CollectedAt = prior.CollectedAt
		} else {
			record.CollectedAt = now
			created++
		}
		record.LastSeen = now
		merged = append(merged, record)
	}

	if err := s.repo.UpsertBatch(ctx, account, relation, merged, now); err != nil {
		return fmt.Errorf("failed to persist batch: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordsIngested(string(relation), len(merged))
		s.metrics.SetStoredRecords(counts.Total + created)
	}

	s.logger.Info("ingest merged",
		"account", account,
		"relation", relation,
		"merged", len(merged),
		"created", created,
		"batch_id", req.BatchID,
	)

	return nil
}

// resolveTarget derives the account and relation kind from the request,
// falling back to the source URL when they were not already resolved.
func (s *Service) resolveTarget(req models.IngestRequest) (string, models.RelationKind, error) {
	account := req.Account
	relation := req.Relation

	if account == "" || !relation.Valid() {
		if page, ok := capture.PageContextFromURL(req.SourceURL); ok {
			if account == "" {
				account = page.Account
			}
			if !relation.Valid() {
				relation = page.Relation
			}
		}
	}
	if !relation.Valid() {
		if derived, ok := capture.RelationFromURL(req.SourceURL); ok {
			relation = derived
		}
	}

	if account == "" {
		return "", "", fmt.Errorf("%w: account not resolvable from %q", ErrInvalidRequest, req.SourceURL)
	}
	if !relation.Valid() {
		return "", "", fmt.Errorf("%w: relation kind not resolvable from %q", ErrInvalidRequest, req.SourceURL)
	}

	return account, relation, nil
}

// validCandidates drops candidates failing basic shape validation and
// collapses duplicate ids within the batch (later entry wins).
func (s *Service) validCandidates(records []models.ConnectionRecord) []models.ConnectionRecord {
	seen := make(map[string]int)
	valid := make([]models.ConnectionRecord, 0, len(records))
	for _, record := range records {
		if record.ID == "" {
			s.logger.Debug("skipping candidate without id")
			continue
		}
		if idx, ok := seen[record.ID]; ok {
			valid[idx] = record
			continue
		}
		seen[record.ID] = len(valid)
		valid = append(valid, record)
	}
	return valid
}

// checkCeilings evaluates the three capacity ceilings against
// currentCount + len(candidates), before any write.
func (s *Service) checkCeilings(counts Counts, account string, relation models.RelationKind, candidates []models.ConnectionRecord) error {
	incoming := len(candidates)

	if counts.For(account, relation)+incoming > s.limits.MaxPerCollection {
		return fmt.Errorf("%w: %s/%s collection would exceed %d records",
			ErrLimitExceeded, account, relation, s.limits.MaxPerCollection)
	}

	if counts.Total+incoming > s.limits.MaxTotalRecords {
		return fmt.Errorf("%w: total would exceed %d records", ErrLimitExceeded, s.limits.MaxTotalRecords)
	}

	var incomingBytes int64
	for _, c := range candidates {
		incomingBytes += int64(c.PayloadBytes())
	}
	if counts.PayloadBytes+incomingBytes > s.limits.MaxPayloadBytes {
		return fmt.Errorf("%w: payload size would exceed %d bytes", ErrLimitExceeded, s.limits.MaxPayloadBytes)
	}

	return nil
}

// Snapshot returns the full persisted state. It never fails: any read error
// is logged and a defaulted empty state returned.
func (s *Service) Snapshot(ctx context.Context) models.RepositoryState {
	state, err := s.repo.Snapshot(ctx)
	if err != nil {
		s.logger.Error("snapshot read failed, returning empty state", "error", err)
		return models.EmptyState()
	}
	return state
}

// Clear deletes all persisted state unconditionally and resets the derived
// presentation signals.
func (s *Service) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear state: %w", err)
	}

	s.limitExceeded = false
	if s.metrics != nil {
		s.metrics.SetStoredRecords(0)
	}

	s.logger.Info("repository state cleared")
	return nil
}

// RecordView snapshots the current per-collection counts into the view
// watermark. LastViewedAt advances strictly monotonically even when two
// calls land on the same wall-clock instant.
func (s *Service) RecordView(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts, err := s.repo.Counts(ctx)
	if err != nil {
		return fmt.Errorf("failed to read counts: %w", err)
	}

	viewing, err := s.repo.ViewingState(ctx)
	if err != nil {
		return fmt.Errorf("failed to read viewing state: %w", err)
	}

	now := s.now()
	if viewing.LastViewedAt != nil && !now.After(*viewing.LastViewedAt) {
		now = viewing.LastViewedAt.Add(time.Nanosecond)
	}

	next := models.ViewingState{
		LastViewedAt:     &now,
		LastViewedCounts: counts.PerCollection,
	}
	if next.LastViewedCounts == nil {
		next.LastViewedCounts = make(map[string]map[models.RelationKind]int)
	}

	if err := s.repo.SaveViewingState(ctx, next); err != nil {
		return fmt.Errorf("failed to save viewing state: %w", err)
	}

	s.logger.Debug("view recorded", "at", now)
	return nil
}

// Sweep deletes records whose LastSeen is strictly before now−window.
// Records exactly at the boundary are retained.
func (s *Service) Sweep(ctx context.Context, window time.Duration) (int, error) {
	cutoff := s.now().Add(-window)

	deleted, err := s.repo.DeleteLastSeenBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention sweep failed: %w", err)
	}

	if deleted > 0 {
		if s.metrics != nil {
			s.metrics.SweepDeleted(deleted)
		}
		s.logger.Info("retention sweep removed records", "deleted", deleted, "cutoff", cutoff)
	}

	return deleted, nil
}

// ReportPageContext records which relation page is currently open, for badge
// derivation only.
func (s *Service) ReportPageContext(page models.PageContext) error {
	if page.Account == "" || !page.Relation.Valid() {
		return fmt.Errorf("%w: incomplete page context", ErrInvalidRequest)
	}
	s.page.Set(page, s.now())
	return nil
}

// Badge derives the presentation signal for the current page context. With a
// relation page open it is the live collection count; otherwise it is the
// number of records observed after the view watermark (zero when the
// watermark is unset).
func (s *Service) Badge(ctx context.Context) (models.BadgeSignal, error) {
	signal := models.BadgeSignal{LimitExceeded: s.LimitExceeded()}

	if page, ok := s.page.Get(s.now()); ok {
		counts, err := s.repo.Counts(ctx)
		if err != nil {
			return signal, fmt.Errorf("failed to read counts: %w", err)
		}
		signal.Count = counts.For(page.Account, page.Relation)
		signal.Relation = page.Relation
		return signal, nil
	}

	viewing, err := s.repo.ViewingState(ctx)
	if err != nil {
		return signal, fmt.Errorf("failed to read viewing state: %w", err)
	}

	signal.NewItems = true
	if viewing.LastViewedAt == nil {
		return signal, nil
	}

	count, err := s.repo.CountNewSince(ctx, *viewing.LastViewedAt)
	if err != nil {
		return signal, fmt.Errorf("failed to count new records: %w", err)
	}
	signal.Count = count

	return signal, nil
}

// LimitExceeded reports whether the persistent capacity indicator is raised.
func (s *Service) LimitExceeded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limitExceeded
}

// MarkExported resolves the capacity indicator after a successful export.
func (s *Service) MarkExported() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limitExceeded = false
}
