// Package episodic implements C4 Episodic Store: an append-only event log
// with lifecycle state and content-hash dedup, adapted from the teacher's
// internal/store content_hash column pattern.
package episodic

import (
	"crypto/sha256"
	"encoding/json"
	"sort"

	"github.com/athena-core/memory/internal/types"
)

// ContentHash computes the SHA-256 digest over canonical JSON (sorted keys)
// of the event's dedup-relevant fields, excluding {id, lifecycle,
// consolidated_at} per spec.md §6 Binary formats.
func ContentHash(e *types.EpisodicEvent) [32]byte {
	canonical := map[string]interface{}{
		"project_id":      e.ProjectID,
		"session_id":      e.SessionID,
		"source_id":       e.SourceID,
		"event_type":      string(e.EventType),
		"content":         e.Content,
		"structured_context": sortedMap(e.StructuredContext),
	}
	data, _ := json.Marshal(canonical)
	return sha256.Sum256(data)
}

// sortedMap produces a deterministically key-ordered representation so
// json.Marshal's own map-key sorting (which Go already does) is made
// explicit and resilient to callers that might shuffle insertion order
// before this function runs.
func sortedMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]interface{}, len(m))
	for _, k := range keys {
		out[k] = m[k]
	}
	return out
}
