package relay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"

	"log/slog"

	"github.com/graphsnap/graphsnap/internal/capture"
	"github.com/graphsnap/graphsnap/internal/models"
)

type fakeStoreClient struct {
	ingests []models.IngestRequest
	pages   []models.PageContext
	fail    bool
}

func (c *fakeStoreClient) Ingest(ctx context.Context, req models.IngestRequest) error {
	if c.fail {
		return fmt.Errorf("store unreachable")
	}
	c.ingests = append(c.ingests, req)
	return nil
}

func (c *fakeStoreClient) ReportPageContext(ctx context.Context, page models.PageContext) error {
	if c.fail {
		return fmt.Errorf("store unreachable")
	}
	c.pages = append(c.pages, page)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDeliverForwardsBatch(t *testing.T) {
	client := &fakeStoreClient{}
	bridge := New(client, discardLogger())

	bridge.Deliver(models.CaptureBatch{
		BatchID:   "b1",
		SourceURL: "https://x.com/alice/following",
		Relation:  models.RelationFollowing,
		Records:   []models.ConnectionRecord{{ID: "1"}},
	})

	if len(client.ingests) != 1 {
		t.Fatalf("expected 1 forwarded batch, got %d", len(client.ingests))
	}
	req := client.ingests[0]
	if req.BatchID != "b1" {
		t.Errorf("expected batch id carried, got %q", req.BatchID)
	}
	if req.Account != "alice" {
		t.Errorf("expected account derived from page-style source url, got %q", req.Account)
	}
	if req.Relation != models.RelationFollowing {
		t.Errorf("expected relation carried, got %q", req.Relation)
	}
}

func TestDeliverAttributesGraphQLCaptureToActivePage(t *testing.T) {
	client := &fakeStoreClient{}
	bridge := New(client, discardLogger())

	logger := discardLogger()
	interceptor := capture.NewInterceptor(capture.NewParser(200, 8<<10, logger), bridge, logger)
	httpClient := &http.Client{}

	if !bridge.Activate("https://x.com/alice/following", interceptor, httpClient) {
		t.Fatal("expected activation on a relation page")
	}
	defer interceptor.Restore()

	// The GraphQL endpoint family carries no account in its path; the batch
	// must be filed under the page the relay was activated on.
	bridge.Deliver(models.CaptureBatch{
		SourceURL: "https://x.com/i/api/graphql/abc123/Following",
		Relation:  models.RelationFollowing,
		Records:   []models.ConnectionRecord{{ID: "1"}, {ID: "2"}},
	})

	if len(client.ingests) != 1 {
		t.Fatalf("expected 1 forwarded batch, got %d", len(client.ingests))
	}
	if client.ingests[0].Account != "alice" {
		t.Errorf("expected account from activation page, got %q", client.ingests[0].Account)
	}
	if client.ingests[0].Relation != models.RelationFollowing {
		t.Errorf("expected relation carried, got %q", client.ingests[0].Relation)
	}
}

func TestDeliverFollowsLatestReportedPage(t *testing.T) {
	client := &fakeStoreClient{}
	bridge := New(client, discardLogger())

	bridge.ReportPage(models.PageContext{Account: "alice", Relation: models.RelationFollowing})
	bridge.ReportPage(models.PageContext{Account: "bob", Relation: models.RelationFollowers})

	bridge.Deliver(models.CaptureBatch{
		SourceURL: "https://x.com/i/api/graphql/abc123/Followers",
		Relation:  models.RelationFollowers,
		Records:   []models.ConnectionRecord{{ID: "1"}},
	})

	if len(client.ingests) != 1 {
		t.Fatalf("expected 1 forwarded batch, got %d", len(client.ingests))
	}
	if client.ingests[0].Account != "bob" {
		t.Errorf("expected the most recently reported page to win, got %q", client.ingests[0].Account)
	}
}

func TestDeliverWithoutPageContextLeavesAccountEmpty(t *testing.T) {
	client := &fakeStoreClient{}
	bridge := New(client, discardLogger())

	// Never activated: nothing to attribute to, the store decides.
	bridge.Deliver(models.CaptureBatch{
		SourceURL: "https://x.com/i/api/graphql/abc123/Following",
		Relation:  models.RelationFollowing,
		Records:   []models.ConnectionRecord{{ID: "1"}},
	})

	if len(client.ingests) != 1 {
		t.Fatalf("expected 1 forwarded batch, got %d", len(client.ingests))
	}
	if client.ingests[0].Account != "" {
		t.Errorf("expected no account without page context, got %q", client.ingests[0].Account)
	}
}

func TestDeliverWithNilClientIsNoOp(t *testing.T) {
	bridge := New(nil, discardLogger())

	// Must not panic; the privileged side being gone is recoverable.
	bridge.Deliver(models.CaptureBatch{
		BatchID: "b1",
		Records: []models.ConnectionRecord{{ID: "1"}},
	})
	bridge.ReportPage(models.PageContext{Account: "alice", Relation: models.RelationFollowers})
}

func TestDeliverSwallowsForwardingErrors(t *testing.T) {
	client := &fakeStoreClient{fail: true}
	bridge := New(client, discardLogger())

	// Errors are logged, never propagated to the intercepted caller.
	bridge.Deliver(models.CaptureBatch{
		BatchID: "b1",
		Records: []models.ConnectionRecord{{ID: "1"}},
	})
}

func TestActivateOnRelationPage(t *testing.T) {
	client := &fakeStoreClient{}
	bridge := New(client, discardLogger())

	logger := discardLogger()
	interceptor := capture.NewInterceptor(capture.NewParser(200, 8<<10, logger), bridge, logger)
	httpClient := &http.Client{}

	if !bridge.Activate("https://x.com/alice/following", interceptor, httpClient) {
		t.Fatal("expected activation on a relation page")
	}
	defer interceptor.Restore()

	if len(client.pages) != 1 {
		t.Fatalf("expected page context reported, got %d", len(client.pages))
	}
	if client.pages[0].Account != "alice" || client.pages[0].Relation != models.RelationFollowing {
		t.Errorf("unexpected page context %+v", client.pages[0])
	}
}

func TestActivateIgnoresOtherPages(t *testing.T) {
	client := &fakeStoreClient{}
	bridge := New(client, discardLogger())

	logger := discardLogger()
	interceptor := capture.NewInterceptor(capture.NewParser(200, 8<<10, logger), bridge, logger)
	httpClient := &http.Client{}

	for _, url := range []string{
		"https://x.com/alice",
		"https://x.com/home",
		"https://x.com/i/following",
	} {
		if bridge.Activate(url, interceptor, httpClient) {
			t.Errorf("expected no activation for %q", url)
		}
	}
	if len(client.pages) != 0 {
		t.Errorf("expected no page context reports, got %d", len(client.pages))
	}
}
