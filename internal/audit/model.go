package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/openwelfare/caseflow/internal/shared/types"
)

// canonicalJSON produces deterministic JSON with sorted map keys. Go
// maps iterate in random order, so hashing raw json.Marshal output
// would not be reproducible.
func canonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}

	return canonicalMarshal(parsed)
}

func canonicalMarshal(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, _ := json.Marshal(k)
			buf.Write(keyBytes)
			buf.WriteByte(':')
			valBytes, err := canonicalMarshal(val[k])
			if err != nil {
				return nil, err
			}
			buf.Write(valBytes)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil

	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			itemBytes, err := canonicalMarshal(item)
			if err != nil {
				return nil, err
			}
			buf.Write(itemBytes)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil

	default:
		return json.Marshal(val)
	}
}

// AuditEntry is one immutable record in the hash-chained audit log.
// Each entry carries the hash of its predecessor, so any later edit to
// a stored entry breaks the chain.
type AuditEntry struct {
	ID        types.ID  `json:"id"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Hash      string    `json:"hash"`
	PrevHash  string    `json:"prev_hash,omitempty"`

	ActorID   types.ID `json:"actor_id,omitempty"`
	ActorRole string   `json:"actor_role,omitempty"`

	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	Changes      map[string]any `json:"changes,omitempty"`
}

// NewAuditEntry creates an entry and seals it with its content hash.
// PrevHash and Sequence are assigned by the repository on append.
func NewAuditEntry(actorID types.ID, actorRole, action, resourceType string, changes map[string]any) *AuditEntry {
	return &AuditEntry{
		ID:           types.NewID(),
		Timestamp:    time.Now().UTC().Truncate(time.Microsecond),
		ActorID:      actorID,
		ActorRole:    actorRole,
		Action:       action,
		ResourceType: resourceType,
		Changes:      changes,
	}
}

// ComputeHash computes the SHA-256 hash over the entry's canonical
// content. Timestamps hash as UTC RFC3339Nano so the result does not
// depend on the local timezone.
func (e *AuditEntry) ComputeHash() string {
	data := map[string]any{
		"id":            e.ID,
		"timestamp":     e.Timestamp.UTC().Format(time.RFC3339Nano),
		"prev_hash":     e.PrevHash,
		"actor_id":      e.ActorID,
		"actor_role":    e.ActorRole,
		"action":        e.Action,
		"resource_type": e.ResourceType,
	}
	if len(e.Changes) > 0 {
		data["changes"] = e.Changes
	}

	jsonData, _ := canonicalJSON(data)
	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:])
}

// VerifyHash checks the stored hash against the recomputed one
func (e *AuditEntry) VerifyHash() bool {
	return e.Hash == e.ComputeHash()
}

// Filter narrows audit listings
type Filter struct {
	ActorID      *types.ID  `json:"actor_id,omitempty"`
	Action       string     `json:"action,omitempty"`
	ResourceType string     `json:"resource_type,omitempty"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	Limit        int        `json:"limit,omitempty"`
	Offset       int        `json:"offset,omitempty"`
}

// VerifyResult reports the outcome of an audit chain verification
type VerifyResult struct {
	Valid          bool     `json:"valid"`
	Checked        int      `json:"checked"`
	ContentValid   int      `json:"content_valid"`
	ContentInvalid int      `json:"content_invalid"`
	LinkageValid   int      `json:"linkage_valid"`
	LinkageInvalid int      `json:"linkage_invalid"`
	Violations     []string `json:"violations,omitempty"`
}
