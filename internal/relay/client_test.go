package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/graphsnap/graphsnap/internal/models"
)

func TestClientIngest(t *testing.T) {
	var received models.IngestRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ingest" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %q", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		json.NewEncoder(w).Encode(models.StatusResponse{Success: true})
	}))
	defer srv.Close()

	client := NewClient(srv.URL + "/")

	err := client.Ingest(context.Background(), models.IngestRequest{
		Account:  "alice",
		Relation: models.RelationFollowing,
		BatchID:  "b1",
		Records:  []models.ConnectionRecord{{ID: "1"}},
	})
	if err != nil {
		t.Fatalf("Ingest() returned error: %v", err)
	}

	if received.Account != "alice" || received.BatchID != "b1" || len(received.Records) != 1 {
		t.Errorf("unexpected forwarded request %+v", received)
	}
}

func TestClientReportPageContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/page-context" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(models.StatusResponse{Success: true})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	err := client.ReportPageContext(context.Background(), models.PageContext{
		Account:  "alice",
		Relation: models.RelationFollowers,
	})
	if err != nil {
		t.Fatalf("ReportPageContext() returned error: %v", err)
	}
}

func TestClientSurfacesRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.StatusResponse{Success: false, Error: "capacity limit exceeded"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	err := client.Ingest(context.Background(), models.IngestRequest{Account: "alice"})
	if err == nil {
		t.Fatal("expected error for rejected request")
	}
}

func TestClientSurfacesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	if err := client.Ingest(context.Background(), models.IngestRequest{}); err == nil {
		t.Fatal("expected error for HTTP 500")
	}
}
