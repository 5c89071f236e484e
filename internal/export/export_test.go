package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/graphsnap/graphsnap/internal/models"
)

func stateWithRecord(account string, relation models.RelationKind, record models.ConnectionRecord) models.RepositoryState {
	state := models.EmptyState()
	state.Accounts[account] = models.AccountCollection{
		relation: {record.ID: record},
	}
	return state
}

func parseCSV(t *testing.T, raw []byte) [][]string {
	t.Helper()
	rows, err := csv.NewReader(bytes.NewReader(raw)).ReadAll()
	if err != nil {
		t.Fatalf("failed to parse CSV output: %v", err)
	}
	return rows
}

func column(t *testing.T, header []string, name string) int {
	t.Helper()
	for i, h := range header {
		if h == name {
			return i
		}
	}
	t.Fatalf("column %q not found in header %v", name, header)
	return -1
}

func TestWriteCSVFlattensLegacyPayload(t *testing.T) {
	collected := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	record := models.ConnectionRecord{
		ID:          "100",
		CollectedAt: collected,
		LastSeen:    collected,
		Payload: map[string]any{
			"rest_id": "100",
			"legacy": map[string]any{
				"screen_name":     "user_a",
				"name":            "User A",
				"description":     "a bio",
				"followers_count": float64(1500),
				"friends_count":   float64(320),
				"statuses_count":  float64(9000),
				"verified":        false,
			},
			"is_blue_verified": true,
		},
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, stateWithRecord("alice", models.RelationFollowing, record)); err != nil {
		t.Fatalf("WriteCSV() returned error: %v", err)
	}

	rows := parseCSV(t, buf.Bytes())
	if len(rows) != 2 {
		t.Fatalf("expected header + 1 row, got %d rows", len(rows))
	}
	header, row := rows[0], rows[1]

	want := map[string]string{
		"user_id":         "100",
		"username":        "user_a",
		"display_name":    "User A",
		"bio":             "a bio",
		"followers_count": "1500",
		"following_count": "320",
		"posts_count":     "9000",
		"verified":        "false",
		"blue_verified":   "true",
		"collected_at":    "2026-03-01T12:00:00Z",
		"source_account":  "alice",
		"relation_kind":   "following",
	}
	for name, expected := range want {
		if got := row[column(t, header, name)]; got != expected {
			t.Errorf("column %s = %q, want %q", name, got, expected)
		}
	}
}

func TestWriteCSVFieldPriorityOrder(t *testing.T) {
	// Conflicting values at two payload layers: the legacy layer wins.
	record := models.ConnectionRecord{
		ID:          "1",
		CollectedAt: time.Now(),
		Payload: map[string]any{
			"legacy": map[string]any{"screen_name": "from_legacy"},
			"core":   map[string]any{"screen_name": "from_core"},
		},
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, stateWithRecord("alice", models.RelationFollowing, record)); err != nil {
		t.Fatalf("WriteCSV() returned error: %v", err)
	}

	rows := parseCSV(t, buf.Bytes())
	if got := rows[1][column(t, rows[0], "username")]; got != "from_legacy" {
		t.Errorf("expected first declared location to win, got %q", got)
	}
}

func TestWriteCSVFallsThroughEmptyValues(t *testing.T) {
	// An empty value at the preferred location falls through to the next.
	record := models.ConnectionRecord{
		ID:          "1",
		CollectedAt: time.Now(),
		Payload: map[string]any{
			"legacy": map[string]any{"screen_name": ""},
			"core":   map[string]any{"screen_name": "fallback"},
		},
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, stateWithRecord("alice", models.RelationFollowers, record)); err != nil {
		t.Fatalf("WriteCSV() returned error: %v", err)
	}

	rows := parseCSV(t, buf.Bytes())
	if got := rows[1][column(t, rows[0], "username")]; got != "fallback" {
		t.Errorf("expected empty value skipped, got %q", got)
	}
}

func TestWriteCSVUsesRecordIDWhenPayloadLacksIdentity(t *testing.T) {
	record := models.ConnectionRecord{
		ID:          "42",
		CollectedAt: time.Now(),
		Payload:     map[string]any{"legacy": map[string]any{"screen_name": "x"}},
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, stateWithRecord("alice", models.RelationFollowing, record)); err != nil {
		t.Fatalf("WriteCSV() returned error: %v", err)
	}

	rows := parseCSV(t, buf.Bytes())
	if got := rows[1][column(t, rows[0], "user_id")]; got != "42" {
		t.Errorf("expected record id fallback, got %q", got)
	}
}

func TestWriteCSVDeterministicOrdering(t *testing.T) {
	state := models.EmptyState()
	ts := time.Now()
	add := func(account string, relation models.RelationKind, ids ...string) {
		if state.Accounts[account] == nil {
			state.Accounts[account] = models.AccountCollection{}
		}
		if state.Accounts[account][relation] == nil {
			state.Accounts[account][relation] = map[string]models.ConnectionRecord{}
		}
		for _, id := range ids {
			state.Accounts[account][relation][id] = models.ConnectionRecord{ID: id, CollectedAt: ts}
		}
	}
	add("bob", models.RelationFollowers, "2", "1")
	add("alice", models.RelationFollowing, "9")
	add("alice", models.RelationFollowers, "5")

	var buf bytes.Buffer
	if err := WriteCSV(&buf, state); err != nil {
		t.Fatalf("WriteCSV() returned error: %v", err)
	}

	rows := parseCSV(t, buf.Bytes())
	accountCol := column(t, rows[0], "source_account")
	relationCol := column(t, rows[0], "relation_kind")
	idCol := column(t, rows[0], "user_id")

	var order []string
	for _, row := range rows[1:] {
		order = append(order, row[accountCol]+"/"+row[relationCol]+"/"+row[idCol])
	}

	want := []string{
		"alice/following/9",
		"alice/followers/5",
		"bob/followers/1",
		"bob/followers/2",
	}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("unexpected row order %v, want %v", order, want)
	}
}

func TestWriteJSONRoundTrips(t *testing.T) {
	collected := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	state := stateWithRecord("alice", models.RelationFollowing, models.ConnectionRecord{
		ID:          "1",
		CollectedAt: collected,
		LastSeen:    collected,
		Payload:     map[string]any{"rest_id": "1"},
	})

	var buf bytes.Buffer
	if err := WriteJSON(&buf, state); err != nil {
		t.Fatalf("WriteJSON() returned error: %v", err)
	}

	var decoded models.RepositoryState
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if decoded.TotalRecords() != 1 {
		t.Errorf("expected 1 record in decoded export, got %d", decoded.TotalRecords())
	}
	if decoded.Accounts["alice"][models.RelationFollowing]["1"].Payload["rest_id"] != "1" {
		t.Error("expected payload preserved with full fidelity")
	}
}

func TestWriteCSVEmptyStateHeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, models.EmptyState()); err != nil {
		t.Fatalf("WriteCSV() returned error: %v", err)
	}

	rows := parseCSV(t, buf.Bytes())
	if len(rows) != 1 {
		t.Errorf("expected header only for empty state, got %d rows", len(rows))
	}
}
