package audit

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/palisade-ai/palisade/engine/core"
)

// Event types emitted by the pipeline.
const (
	EventQueryDenied    = "query_denied"
	EventQueryCompleted = "query_completed"
	EventQueryFailed    = "query_failed"
	EventPIIRedacted    = "pii_redacted"
)

// Event is one immutable audit record. Details carry metadata only, never
// raw query text or detected PII fragments.
type Event struct {
	ID        string
	Type      string
	Timestamp time.Time
	RequestID string
	UserID    string
	Scope     core.Scope
	Details   map[string]string
}

// NewEvent stamps an event with a sortable unique ID and the current time.
func NewEvent(eventType, requestID, userID string, scope core.Scope, details map[string]string) Event {
	return Event{
		ID:        ksuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
		UserID:    userID,
		Scope:     scope,
		Details:   details,
	}
}

// Recorder accepts audit events. Recording must never block or fail the
// pipeline that emits the event.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// Store is a queryable audit sink.
type Store interface {
	Append(ctx context.Context, event Event) error
	Query(ctx context.Context, filter Filter) ([]Event, error)
}

// Filter narrows an audit query. Zero-valued fields match everything.
type Filter struct {
	UserID   string
	Type     string
	Division string
	Since    time.Time
}

func (f Filter) matches(event Event) bool {
	if f.UserID != "" && event.UserID != f.UserID {
		return false
	}
	if f.Type != "" && event.Type != f.Type {
		return false
	}
	if f.Division != "" && event.Scope.DivisionID != f.Division {
		return false
	}
	if !f.Since.IsZero() && event.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// MemoryStore is an in-memory append-only audit log.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *MemoryStore) Query(_ context.Context, filter Filter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, event := range s.events {
		if filter.matches(event) {
			out = append(out, event)
		}
	}
	return out, nil
}

// Len reports the number of stored events.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
