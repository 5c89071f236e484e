package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/graphsnap/graphsnap/internal/models"
)

// profileField maps one CSV column to an ordered list of payload locations.
// Strategies are tried in declared priority order and the first defined,
// non-empty value wins; the order is behaviorally significant when a payload
// carries conflicting values at two layers.
type profileField struct {
	name  string
	paths [][]string
}

var profileFields = []profileField{
	{"user_id", [][]string{{"rest_id"}, {"id"}}},
	{"username", [][]string{{"legacy", "screen_name"}, {"core", "screen_name"}, {"screen_name"}}},
	{"display_name", [][]string{{"legacy", "name"}, {"core", "name"}, {"name"}}},
	{"bio", [][]string{{"legacy", "description"}, {"description"}}},
	{"followers_count", [][]string{{"legacy", "followers_count"}, {"followers_count"}}},
	{"following_count", [][]string{{"legacy", "friends_count"}, {"friends_count"}}},
	{"posts_count", [][]string{{"legacy", "statuses_count"}, {"statuses_count"}}},
	{"verified", [][]string{{"legacy", "verified"}, {"verified"}}},
	{"blue_verified", [][]string{{"is_blue_verified"}, {"legacy", "is_blue_verified"}}},
	{"profile_image_url", [][]string{{"legacy", "profile_image_url_https"}, {"profile_image_url_https"}}},
	{"profile_banner_url", [][]string{{"legacy", "profile_banner_url"}, {"profile_banner_url"}}},
	{"profile_created_at", [][]string{{"legacy", "created_at"}, {"core", "created_at"}, {"created_at"}}},
}

var extraColumns = []string{"collected_at", "source_account", "relation_kind"}

// WriteJSON writes the full-fidelity dump keyed by account.
func WriteJSON(w io.Writer, state models.RepositoryState) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(state); err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}
	return nil
}

// WriteCSV writes the flattened tabular form: one row per record with the
// fixed field set, in deterministic account/relation/id order.
func WriteCSV(w io.Writer, state models.RepositoryState) error {
	writer := csv.NewWriter(w)

	header := make([]string, 0, len(profileFields)+len(extraColumns))
	for _, f := range profileFields {
		header = append(header, f.name)
	}
	header = append(header, extraColumns...)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	accounts := make([]string, 0, len(state.Accounts))
	for account := range state.Accounts {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)

	for _, account := range accounts {
		collection := state.Accounts[account]
		for _, relation := range []models.RelationKind{models.RelationFollowing, models.RelationFollowers} {
			records := collection[relation]
			ids := make([]string, 0, len(records))
			for id := range records {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			for _, id := range ids {
				row := flattenRecord(records[id], account, relation)
				if err := writer.Write(row); err != nil {
					return fmt.Errorf("failed to write row: %w", err)
				}
			}
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

func flattenRecord(record models.ConnectionRecord, account string, relation models.RelationKind) []string {
	row := make([]string, 0, len(profileFields)+len(extraColumns))
	for _, f := range profileFields {
		value := extractField(record.Payload, f.paths)
		if f.name == "user_id" && value == "" {
			value = record.ID
		}
		row = append(row, value)
	}
	row = append(row,
		record.CollectedAt.UTC().Format(time.RFC3339),
		account,
		string(relation),
	)
	return row
}

// extractField probes each declared location in order and returns the first
// defined, non-empty value.
func extractField(payload map[string]any, paths [][]string) string {
	for _, path := range paths {
		if value, ok := lookup(payload, path); ok {
			if s := formatValue(value); s != "" {
				return s
			}
		}
	}
	return ""
}

func lookup(payload map[string]any, path []string) (any, bool) {
	var current any = payload
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func formatValue(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case bool:
		return strconv.FormatBool(value)
	case float64:
		// JSON numbers decode as float64; counts are whole.
		if value == float64(int64(value)) {
			return strconv.FormatInt(int64(value), 10)
		}
		return strconv.FormatFloat(value, 'f', -1, 64)
	case json.Number:
		return value.String()
	default:
		return ""
	}
}
