package relay

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/graphsnap/graphsnap/internal/capture"
	"github.com/graphsnap/graphsnap/internal/models"
)

// StoreClient is the subset of the store's message surface the relay uses.
type StoreClient interface {
	Ingest(ctx context.Context, req models.IngestRequest) error
	ReportPageContext(ctx context.Context, page models.PageContext) error
}

// Relay bridges capture notifications to the store. Forwarding is
// fire-and-forget: delivery failures are logged, never surfaced to the
// intercepted caller, and a missing store client is a recoverable no-op.
type Relay struct {
	client  StoreClient
	logger  *slog.Logger
	timeout time.Duration

	mu   sync.Mutex
	page models.PageContext
}

// New creates a relay around a store client. A nil client is tolerated and
// turns every forward into a no-op (the privileged side is gone).
func New(client StoreClient, logger *slog.Logger) *Relay {
	return &Relay{
		client:  client,
		logger:  logger,
		timeout: 15 * time.Second,
	}
}

// Activate installs the interceptor on the HTTP client, but only when the
// page URL matches one of the two relation page patterns. On any other page
// it does nothing. The page context is reported independently of whether any
// records get captured later.
func (r *Relay) Activate(pageURL string, interceptor *capture.Interceptor, httpClient *http.Client) bool {
	page, ok := capture.PageContextFromURL(pageURL)
	if !ok {
		return false
	}

	if err := interceptor.Install(httpClient); err != nil {
		r.logger.Warn("interceptor already active", "url", pageURL, "error", err)
		return false
	}

	r.logger.Info("capture activated", "account", page.Account, "relation", page.Relation)
	r.ReportPage(page)

	return true
}

// Deliver implements capture.Sink: forwards one capture batch to the store.
func (r *Relay) Deliver(batch models.CaptureBatch) {
	if r.client == nil {
		r.logger.Debug("store client absent, dropping batch", "batch_id", batch.BatchID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	req := models.IngestRequest{
		Relation:  batch.Relation,
		SourceURL: batch.SourceURL,
		Records:   batch.Records,
		BatchID:   batch.BatchID,
	}
	if page, ok := capture.PageContextFromURL(batch.SourceURL); ok {
		req.Account = page.Account
	} else {
		// GraphQL capture URLs carry no account in their path; attribute
		// the batch to the page the relay was activated on.
		r.mu.Lock()
		page := r.page
		r.mu.Unlock()

		req.Account = page.Account
		if !req.Relation.Valid() {
			req.Relation = page.Relation
		}
	}

	if err := r.client.Ingest(ctx, req); err != nil {
		r.logger.Error("failed to forward capture batch",
			"batch_id", batch.BatchID,
			"relation", batch.Relation,
			"count", len(batch.Records),
			"error", err,
		)
		return
	}

	r.logger.Debug("capture batch forwarded", "batch_id", batch.BatchID, "count", len(batch.Records))
}

// ReportPage forwards page-context metadata for presentation bookkeeping and
// retains it as the attribution target for captures whose source URL carries
// no account of its own.
func (r *Relay) ReportPage(page models.PageContext) {
	r.mu.Lock()
	r.page = page
	r.mu.Unlock()

	if r.client == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.client.ReportPageContext(ctx, page); err != nil {
		r.logger.Error("failed to report page context",
			"account", page.Account,
			"relation", page.Relation,
			"error", err,
		)
	}
}
