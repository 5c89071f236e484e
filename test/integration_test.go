package test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"log/slog"

	"github.com/graphsnap/graphsnap/internal/api"
	"github.com/graphsnap/graphsnap/internal/auth"
	"github.com/graphsnap/graphsnap/internal/capture"
	"github.com/graphsnap/graphsnap/internal/config"
	"github.com/graphsnap/graphsnap/internal/models"
	"github.com/graphsnap/graphsnap/internal/relay"
	"github.com/graphsnap/graphsnap/internal/store"
)

// timelineTransport serves a canned relation-timeline body for every request,
// standing in for the remote platform.
type timelineTransport struct {
	body []byte
}

func (t *timelineTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(t.body)),
		Request:    req,
	}, nil
}

func timelineBody(t *testing.T, ids ...string) []byte {
	t.Helper()

	entries := make([]any, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, map[string]any{
			"entryId": "user-" + id,
			"content": map[string]any{
				"itemContent": map[string]any{
					"user_results": map[string]any{
						"result": map[string]any{
							"rest_id": id,
							"legacy":  map[string]any{"screen_name": "user_" + id},
						},
					},
				},
			},
		})
	}

	doc := map[string]any{
		"data": map[string]any{
			"user": map[string]any{
				"result": map[string]any{
					"timeline": map[string]any{
						"timeline": map[string]any{
							"instructions": []any{
								map[string]any{"type": "TimelineAddEntries", "entries": entries},
							},
						},
					},
				},
			},
		},
	}
	body, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("failed to marshal fixture: %v", err)
	}
	return body
}

func startStore(t *testing.T) (*httptest.Server, *store.Service) {
	t.Helper()

	limits := config.LimitsConfig{
		MaxPerCollection: 100,
		MaxTotalRecords:  200,
		MaxPayloadBytes:  1 << 20,
		PageContextTTL:   time.Minute,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := store.NewService(store.NewMemoryRepository(), limits, logger, nil)

	mux := http.NewServeMux()
	authConfig := auth.Config{JWTSecret: "integration-secret", AdminPassword: "pw", TokenDuration: time.Hour}
	api.SetupRoutes(mux, service, authConfig, logger)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, service
}

// TestCaptureToStorePipeline drives the full path: a page visit through the
// tapped HTTP client produces an intercepted response, the relay forwards it
// over HTTP, and the store merges it into the right collection.
func TestCaptureToStorePipeline(t *testing.T) {
	srv, service := startStore(t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bridge := relay.New(relay.NewClient(srv.URL), logger)
	parser := capture.NewParser(200, 8<<10, logger)
	interceptor := capture.NewInterceptor(parser, bridge, logger)

	remote := &timelineTransport{body: timelineBody(t, "100", "200", "300")}
	pageClient := &http.Client{Transport: remote}

	if !bridge.Activate("https://x.com/alice/following", interceptor, pageClient) {
		t.Fatal("expected activation on relation page")
	}
	defer interceptor.Restore()

	visit := func() {
		resp, err := pageClient.Get("https://x.com/alice/following")
		if err != nil {
			t.Fatalf("page fetch failed: %v", err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	visit()

	state := service.Snapshot(context.Background())
	collection := state.Accounts["alice"][models.RelationFollowing]
	if len(collection) != 3 {
		t.Fatalf("expected 3 records stored, got %d", len(collection))
	}
	if collection["100"].Payload == nil {
		t.Error("expected payload snapshot persisted")
	}

	// Second visit re-observes the same users plus one more; the store
	// dedupes by id and only grows by the new record.
	remote.body = timelineBody(t, "100", "200", "300", "400")
	visit()

	state = service.Snapshot(context.Background())
	collection = state.Accounts["alice"][models.RelationFollowing]
	if len(collection) != 4 {
		t.Errorf("expected 4 records after re-observation, got %d", len(collection))
	}
}

// TestGraphQLCaptureStoredUnderActivePage covers the platform's real traffic
// shape: the page is a relation page, but the intercepted responses come from
// the GraphQL operations, whose URLs carry no account name. The records must
// land in the collection of the page the relay was activated on.
func TestGraphQLCaptureStoredUnderActivePage(t *testing.T) {
	srv, service := startStore(t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bridge := relay.New(relay.NewClient(srv.URL), logger)
	parser := capture.NewParser(200, 8<<10, logger)
	interceptor := capture.NewInterceptor(parser, bridge, logger)

	remote := &timelineTransport{body: timelineBody(t, "100", "200")}
	pageClient := &http.Client{Transport: remote}

	if !bridge.Activate("https://x.com/alice/following", interceptor, pageClient) {
		t.Fatal("expected activation on relation page")
	}
	defer interceptor.Restore()

	resp, err := pageClient.Get("https://x.com/i/api/graphql/abc123/Following")
	if err != nil {
		t.Fatalf("graphql fetch failed: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	state := service.Snapshot(context.Background())
	collection := state.Accounts["alice"][models.RelationFollowing]
	if len(collection) != 2 {
		t.Fatalf("expected 2 records stored under alice/following, got %d (accounts: %v)",
			len(collection), state.Accounts)
	}
}
