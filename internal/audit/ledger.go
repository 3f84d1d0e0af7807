package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"
	"github.com/google/uuid"
	"github.com/oncoportal/platform/internal/shared/errors"
	"github.com/oncoportal/platform/internal/shared/metrics"
	"github.com/oncoportal/platform/internal/shared/types"
)

const (
	// StreamName holds every audit entry, in order.
	StreamName = "portal-audit"
	// EntryEventType tags audit entries in the stream.
	EntryEventType = "AuditEntry"

	// maxStreamRead bounds full-stream scans for list and verify.
	maxStreamRead = 100000
)

// Ledger is an append-only, hash-chained audit log backed by a KurrentDB
// stream. The store is inherently append-only; the hash chain additionally
// makes tampering detectable.
type Ledger struct {
	client *esdb.Client

	mu       sync.Mutex
	sequence int64
	lastHash string
}

// NewLedger creates an audit ledger on the given KurrentDB client
func NewLedger(client *esdb.Client) *Ledger {
	return &Ledger{client: client}
}

// Initialize loads the chain head (last sequence and hash) from the stream
func (l *Ledger) Initialize(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	stream, err := l.client.ReadStream(ctx, StreamName, esdb.ReadStreamOptions{
		Direction: esdb.Backwards,
		From:      esdb.End{},
	}, 1)
	if err != nil {
		if streamNotFound(err) {
			l.sequence = 0
			l.lastHash = ""
			return nil
		}
		return errors.Wrap(err, "failed to read audit stream")
	}
	defer stream.Close()

	event, err := stream.Recv()
	if err != nil {
		l.sequence = 0
		l.lastHash = ""
		return nil
	}

	if event.Event != nil && event.Event.EventType == EntryEventType {
		var entry AuditEntry
		if err := json.Unmarshal(event.Event.Data, &entry); err == nil {
			l.sequence = entry.Sequence
			l.lastHash = entry.Hash
		}
	}
	return nil
}

// Append links the entry into the chain and writes it. Safe for concurrent
// use; the mutex keeps sequence assignment and the write ordered.
func (l *Ledger) Append(ctx context.Context, entry *AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sequence++
	entry.Sequence = l.sequence
	entry.PrevHash = l.lastHash
	entry.Hash = entry.ComputeHash()

	data, err := json.Marshal(entry)
	if err != nil {
		l.sequence--
		return errors.Wrap(err, "failed to marshal audit entry")
	}

	_, err = l.client.AppendToStream(ctx, StreamName, esdb.AppendToStreamOptions{}, esdb.EventData{
		EventID:     uuid.New(),
		EventType:   EntryEventType,
		ContentType: esdb.ContentTypeJson,
		Data:        data,
		Metadata:    []byte(fmt.Sprintf(`{"sequence":%d,"hash":"%s"}`, entry.Sequence, entry.Hash)),
	})
	if err != nil {
		l.sequence--
		return errors.Wrap(err, "failed to append audit entry")
	}

	l.lastHash = entry.Hash
	metrics.RecordAuditEntry()
	return nil
}

// FindByID scans the stream for an entry
func (l *Ledger) FindByID(ctx context.Context, id types.ID) (*AuditEntry, error) {
	entries, err := l.readAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.ID == id {
			return entry, nil
		}
	}
	return nil, errors.NotFound("audit entry", id.String())
}

// List filters entries in memory, newest first
func (l *Ledger) List(ctx context.Context, filter ListFilter, pageSize int) ([]*AuditEntry, types.Page, error) {
	entries, err := l.readAll(ctx)
	if err != nil {
		return nil, types.Page{}, err
	}

	var matched []*AuditEntry
	for _, entry := range entries {
		if filter.matches(entry) {
			matched = append(matched, entry)
		}
	}

	page := types.NewPage(filter.Page, pageSize, len(matched))
	start := page.Offset()
	if start > len(matched) {
		start = len(matched)
	}
	end := start + page.Size
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], page, nil
}

// ResourceHistory lists all entries touching a resource, newest first
func (l *Ledger) ResourceHistory(ctx context.Context, resourceType string, resourceID types.ID, pageSize int) ([]*AuditEntry, types.Page, error) {
	return l.List(ctx, ListFilter{
		ResourceType: resourceType,
		ResourceID:   &resourceID,
	}, pageSize)
}

// VerifyResult reports the outcome of a chain verification pass.
type VerifyResult struct {
	Valid          bool     `json:"valid"`
	Checked        int      `json:"checked"`
	ContentValid   int      `json:"content_valid"`
	ContentInvalid int      `json:"content_invalid"`
	LinkageValid   int      `json:"linkage_valid"`
	LinkageInvalid int      `json:"linkage_invalid"`
	Violations     []string `json:"violations,omitempty"`
}

// VerifyChain recomputes every entry hash and checks the prev_hash links
func (l *Ledger) VerifyChain(ctx context.Context) (*VerifyResult, error) {
	entries, err := l.readAll(ctx)
	if err != nil {
		return nil, err
	}
	return verifyEntries(entries), nil
}

// verifyEntries checks a chain given newest-first.
func verifyEntries(entries []*AuditEntry) *VerifyResult {
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
	return result
}

// readAll reads the full audit stream newest-first
func (l *Ledger) readAll(ctx context.Context) ([]*AuditEntry, error) {
	stream, err := l.client.ReadStream(ctx, StreamName, esdb.ReadStreamOptions{
		Direction: esdb.Backwards,
		From:      esdb.End{},
	}, maxStreamRead)
	if err != nil {
		if streamNotFound(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read audit stream")
	}
	defer stream.Close()

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
	return entries, nil
}

// streamNotFound reports whether the error is a missing-stream error.
// esdb.FromError returns ok=false when the error converts to an esdb.Error.
func streamNotFound(err error) bool {
	if esdbErr, ok := esdb.FromError(err); !ok {
		return esdbErr.Code() == esdb.ErrorCodeResourceNotFound
	}
	return false
}
