package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"
	"github.com/google/uuid"

	"github.com/openwelfare/caseflow/internal/shared/errors"
	"github.com/openwelfare/caseflow/internal/shared/metrics"
)

const (
	// StreamName is the stream where all audit entries are stored
	StreamName = "$caseflow-audit"
	// EntryEventType is the event type for audit entries
	EntryEventType = "AuditEntry"
)

// KurrentDBRepository provides append-only audit log storage. KurrentDB
// is inherently append-only, which matches the tamper-evidence goal:
// the chain hashes detect edits, the store refuses them outright.
type KurrentDBRepository struct {
	client   *esdb.Client
	mu       sync.Mutex
	lastHash string
	sequence int64
}

// NewKurrentDBRepository creates a new KurrentDB-based audit repository
func NewKurrentDBRepository(client *esdb.Client) *KurrentDBRepository {
	return &KurrentDBRepository{client: client}
}

// Initialize loads the chain head (last hash and sequence) from the store
func (r *KurrentDBRepository) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stream, err := r.client.ReadStream(ctx, StreamName, esdb.ReadStreamOptions{
		Direction: esdb.Backwards,
		From:      esdb.End{},
	}, 1)
	if err != nil {
		if esdbErr, ok := esdb.FromError(err); ok && esdbErr.Code() == esdb.ErrorCodeResourceNotFound {
			r.lastHash = ""
			r.sequence = 0
			return nil
		}
		return errors.Wrap(err, "failed to read audit stream")
	}
	defer stream.Close()

	event, err := stream.Recv()
	if err != nil {
		r.lastHash = ""
		r.sequence = 0
		return nil
	}

	if event.Event != nil && event.Event.EventType == EntryEventType {
		var entry AuditEntry
		if err := json.Unmarshal(event.Event.Data, &entry); err == nil {
			r.lastHash = entry.Hash
			r.sequence = entry.Sequence
		}
	}

	return nil
}

// Append links the entry to the chain and stores it (thread-safe)
func (r *KurrentDBRepository) Append(ctx context.Context, entry *AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sequence++
	entry.Sequence = r.sequence
	entry.PrevHash = r.lastHash
	entry.Hash = entry.ComputeHash()

	data, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "failed to marshal audit entry")
	}

	eventData := esdb.EventData{
		EventID:     uuid.New(),
		EventType:   EntryEventType,
		ContentType: esdb.ContentTypeJson,
		Data:        data,
		Metadata:    []byte(fmt.Sprintf(`{"sequence":%d,"hash":"%s"}`, entry.Sequence, entry.Hash)),
	}

	_, err = r.client.AppendToStream(ctx, StreamName, esdb.AppendToStreamOptions{}, eventData)
	if err != nil {
		// Keep the in-memory head consistent with the store
		r.sequence--
		return errors.Wrap(err, "failed to append audit entry")
	}

	r.lastHash = entry.Hash
	metrics.RecordAuditEntry()

	return nil
}

// List lists audit entries newest-first with filters
func (r *KurrentDBRepository) List(ctx context.Context, filter Filter) ([]*AuditEntry, int, error) {
	maxEvents := uint64(1000)
	if filter.Limit > 0 {
		maxEvents = uint64(filter.Limit+filter.Offset) + 100
	}

	stream, err := r.client.ReadStream(ctx, StreamName, esdb.ReadStreamOptions{
		Direction: esdb.Backwards,
		From:      esdb.End{},
	}, maxEvents)
	if err != nil {
		if esdbErr, ok := esdb.FromError(err); ok && esdbErr.Code() == esdb.ErrorCodeResourceNotFound {
			return []*AuditEntry{}, 0, nil
		}
		return nil, 0, errors.Wrap(err, "failed to read audit stream")
	}
	defer stream.Close()

	var entries []*AuditEntry
	total := 0

	for {
		event, err := stream.Recv()
		if err != nil {
			break
		}
		if event.Event == nil || event.Event.EventType != EntryEventType {
			continue
		}

		var entry AuditEntry
		if err := json.Unmarshal(event.Event.Data, &entry); err != nil {
			continue
		}

		if filter.ActorID != nil && entry.ActorID != *filter.ActorID {
			continue
		}
		if filter.Action != "" && entry.Action != filter.Action {
			continue
		}
		if filter.ResourceType != "" && entry.ResourceType != filter.ResourceType {
			continue
		}
		if filter.StartTime != nil && entry.Timestamp.Before(*filter.StartTime) {
			continue
		}
		if filter.EndTime != nil && entry.Timestamp.After(*filter.EndTime) {
			continue
		}

		total++
		if filter.Offset > 0 && total <= filter.Offset {
			continue
		}
		if filter.Limit > 0 && len(entries) >= filter.Limit {
			continue
		}

		entries = append(entries, &entry)
	}

	return entries, total, nil
}

// VerifyChain recomputes entry hashes and checks chain linkage over the
// most recent entries.
func (r *KurrentDBRepository) VerifyChain(ctx context.Context, limit int) (*VerifyResult, error) {
	stream, err := r.client.ReadStream(ctx, StreamName, esdb.ReadStreamOptions{
		Direction: esdb.Backwards,
		From:      esdb.End{},
	}, uint64(limit))
	if err != nil {
		if esdbErr, ok := esdb.FromError(err); ok && esdbErr.Code() == esdb.ErrorCodeResourceNotFound {
			return &VerifyResult{Valid: true}, nil
		}
		return nil, errors.Wrap(err, "failed to read audit stream")
	}
	defer stream.Close()

	// Entries arrive newest-first
	var entries []*AuditEntry
	for {
		event, err := stream.Recv()
		if err != nil {
			break
		}
		if event.Event == nil || event.Event.EventType != EntryEventType {
			continue
		}
		var entry AuditEntry
		if err := json.Unmarshal(event.Event.Data, &entry); err == nil {
			entries = append(entries, &entry)
		}
	}

	result := &VerifyResult{Valid: true, Checked: len(entries)}

	for i, entry := range entries {
		if entry.VerifyHash() {
			result.ContentValid++
		} else {
			result.Valid = false
			result.ContentInvalid++
			result.Violations = append(result.Violations,
				fmt.Sprintf("content tampered: entry %d hash mismatch", entry.Sequence))
		}

		if i < len(entries)-1 {
			prev := entries[i+1]
			if entry.PrevHash != prev.Hash {
				result.Valid = false
				result.LinkageInvalid++
				result.Violations = append(result.Violations,
					fmt.Sprintf("chain broken: entry %d prev_hash does not match entry %d",
						entry.Sequence, prev.Sequence))
				continue
			}
		}
		result.LinkageValid++
	}

	return result, nil
}
