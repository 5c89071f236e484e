package capture

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/graphsnap/graphsnap/internal/models"
)

// instructionPaths lists the nested locations where the timeline instruction
// array may live, in declared priority order. The first path that resolves
// wins; the order is behaviorally significant and must not be reshuffled.
var instructionPaths = [][]string{
	{"data", "user", "result", "timeline", "timeline", "instructions"},
	{"data", "user", "result", "timeline_v2", "timeline", "instructions"},
	{"data", "user", "result", "timeline", "instructions"},
}

// payloadAllowList is the field subset an oversized payload is reduced to.
// Applied to the top level and to the nested "legacy" and "core" objects.
var payloadAllowList = map[string]bool{
	"rest_id":                   true,
	"id":                        true,
	"screen_name":               true,
	"name":                      true,
	"description":               true,
	"followers_count":           true,
	"friends_count":             true,
	"statuses_count":            true,
	"verified":                  true,
	"is_blue_verified":          true,
	"profile_image_url_https":   true,
	"profile_banner_url":        true,
	"created_at":                true,
}

// Parser converts relation-timeline response bodies into validated
// ConnectionRecord candidates. Malformed instructions and entries are
// skipped, never fatal to the batch.
type Parser struct {
	maxBatch         int
	maxRecordPayload int
	logger           *slog.Logger
	now              func() time.Time
}

// NewParser creates a parser with the given per-response batch cap and
// per-record payload size ceiling.
func NewParser(maxBatch, maxRecordPayload int, logger *slog.Logger) *Parser {
	return &Parser{
		maxBatch:         maxBatch,
		maxRecordPayload: maxRecordPayload,
		logger:           logger,
		now:              time.Now,
	}
}

// Parse extracts connection records from an intercepted response body.
// A shape mismatch at the top level returns an error so the caller can log a
// diagnostic and discard; per-instruction and per-entry problems are skipped.
func (p *Parser) Parse(body []byte, sourceURL string) (models.CaptureBatch, error) {
	relation, ok := RelationFromURL(sourceURL)
	if !ok {
		return models.CaptureBatch{}, fmt.Errorf("url does not belong to a relation endpoint: %s", sourceURL)
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return models.CaptureBatch{}, fmt.Errorf("response is not a JSON object: %w", err)
	}

	instructions, ok := findInstructions(doc)
	if !ok {
		return models.CaptureBatch{}, fmt.Errorf("response has no timeline instructions")
	}

	batch := models.CaptureBatch{
		SourceURL: sourceURL,
		Relation:  relation,
	}

	for _, raw := range instructions {
		if len(batch.Records) >= p.maxBatch {
			break
		}

		instruction, ok := raw.(map[string]any)
		if !ok {
			p.logger.Debug("skipping non-object instruction", "url", sourceURL)
			continue
		}
		if _, ok := asString(instruction["type"]); !ok {
			p.logger.Debug("skipping untyped instruction", "url", sourceURL)
			continue
		}

		entries, ok := instruction["entries"].([]any)
		if !ok {
			continue
		}

		for _, rawEntry := range entries {
			if len(batch.Records) >= p.maxBatch {
				p.logger.Debug("batch cap reached, truncating response walk",
					"url", sourceURL,
					"cap", p.maxBatch,
				)
				break
			}

			record, ok := p.parseEntry(rawEntry)
			if !ok {
				continue
			}
			batch.Records = append(batch.Records, record)
		}
	}

	return batch, nil
}

// parseEntry validates the exact nested shape proving an entry is a user
// record and converts it. Anything else (cursors, modules, malformed
// entries) is skipped.
func (p *Parser) parseEntry(raw any) (models.ConnectionRecord, bool) {
	entry, ok := raw.(map[string]any)
	if !ok {
		return models.ConnectionRecord{}, false
	}

	result, ok := lookupMap(entry, "content", "itemContent", "user_results", "result")
	if !ok {
		return models.ConnectionRecord{}, false
	}

	id, ok := asString(result["rest_id"])
	if !ok || id == "" {
		id, ok = asString(result["id"])
		if !ok || id == "" {
			return models.ConnectionRecord{}, false
		}
	}

	// A user record carries profile fields in "legacy" (or "core" on newer
	// responses); entries without either are not user records.
	if _, hasLegacy := lookupMap(result, "legacy"); !hasLegacy {
		if _, hasCore := lookupMap(result, "core"); !hasCore {
			return models.ConnectionRecord{}, false
		}
	}

	now := p.now()
	record := models.ConnectionRecord{
		ID:          id,
		CollectedAt: now,
		LastSeen:    now,
		Payload:     result,
	}

	if v, ok := asString(entry["sortIndex"]); ok {
		record.SortIndex = v
	}
	if v, ok := asString(entry["entryId"]); ok {
		record.EntryID = v
	}

	if record.PayloadBytes() > p.maxRecordPayload {
		record.Payload = truncatePayload(result)
	}

	return record, true
}

// truncatePayload reduces an oversized payload to the allow-listed field
// subset rather than dropping the record entirely.
func truncatePayload(payload map[string]any) map[string]any {
	reduced := make(map[string]any)

	for key, value := range payload {
		if payloadAllowList[key] {
			reduced[key] = value
			continue
		}
		if key != "legacy" && key != "core" {
			continue
		}
		nested, ok := value.(map[string]any)
		if !ok {
			continue
		}
		kept := make(map[string]any)
		for nk, nv := range nested {
			if payloadAllowList[nk] {
				kept[nk] = nv
			}
		}
		if len(kept) > 0 {
			reduced[key] = kept
		}
	}

	return reduced
}

func findInstructions(doc map[string]any) ([]any, bool) {
	for _, path := range instructionPaths {
		parent, ok := lookupMap(doc, path[:len(path)-1]...)
		if !ok {
			continue
		}
		if instructions, ok := parent[path[len(path)-1]].([]any); ok {
			return instructions, true
		}
	}
	return nil, false
}

func lookupMap(m map[string]any, path ...string) (map[string]any, bool) {
	current := m
	for _, key := range path {
		next, ok := current[key].(map[string]any)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}
