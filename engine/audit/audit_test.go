package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palisade-ai/palisade/engine/core"
	"github.com/palisade-ai/palisade/pkg/logger"
)

func fmcgEvent(eventType, userID string) Event {
	return NewEvent(eventType, "req-1", userID, core.Scope{DivisionID: "fmcg", DepartmentID: "sales"}, map[string]string{"model": "gpt-4"})
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Should filter by user, type, and division", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Append(ctx, fmcgEvent(EventQueryCompleted, "alice")))
		require.NoError(t, store.Append(ctx, fmcgEvent(EventQueryDenied, "alice")))
		require.NoError(t, store.Append(ctx, fmcgEvent(EventQueryCompleted, "bob")))

		byUser, err := store.Query(ctx, Filter{UserID: "alice"})
		require.NoError(t, err)
		assert.Len(t, byUser, 2)

		byType, err := store.Query(ctx, Filter{UserID: "alice", Type: EventQueryDenied})
		require.NoError(t, err)
		assert.Len(t, byType, 1)

		byDivision, err := store.Query(ctx, Filter{Division: "hotel"})
		require.NoError(t, err)
		assert.Empty(t, byDivision)
	})

	t.Run("Should filter by time", func(t *testing.T) {
		store := NewMemoryStore()
		old := fmcgEvent(EventQueryCompleted, "alice")
		old.Timestamp = time.Now().UTC().Add(-time.Hour)
		require.NoError(t, store.Append(ctx, old))
		require.NoError(t, store.Append(ctx, fmcgEvent(EventQueryCompleted, "alice")))

		recent, err := store.Query(ctx, Filter{Since: time.Now().UTC().Add(-time.Minute)})
		require.NoError(t, err)
		assert.Len(t, recent, 1)
	})

	t.Run("Should stamp unique sortable ids", func(t *testing.T) {
		a := NewEvent(EventQueryCompleted, "req-1", "alice", core.Scope{DivisionID: "fmcg"}, nil)
		b := NewEvent(EventQueryCompleted, "req-2", "alice", core.Scope{DivisionID: "fmcg"}, nil)
		assert.NotEqual(t, a.ID, b.ID)
		assert.NotEmpty(t, a.ID)
	})
}

type blockingStore struct {
	mu      sync.Mutex
	gate    chan struct{}
	appends int
	err     error
}

func (s *blockingStore) Append(_ context.Context, _ Event) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appends++
	return s.err
}

func (s *blockingStore) Query(context.Context, Filter) ([]Event, error) { return nil, nil }

func (s *blockingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appends
}

func TestAsyncRecorder(t *testing.T) {
	ctx := context.Background()

	t.Run("Should flush queued events on close", func(t *testing.T) {
		store := NewMemoryStore()
		recorder := NewAsyncRecorder(store, 8, logger.NewForTests())
		for i := 0; i < 5; i++ {
			recorder.Record(ctx, fmcgEvent(EventQueryCompleted, "alice"))
		}
		recorder.Close()
		assert.Equal(t, 5, store.Len())
	})

	t.Run("Should drop events instead of blocking when the queue is full", func(t *testing.T) {
		store := &blockingStore{gate: make(chan struct{})}
		recorder := NewAsyncRecorder(store, 2, logger.NewForTests())
		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 10; i++ {
				recorder.Record(ctx, fmcgEvent(EventQueryCompleted, "alice"))
			}
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Record blocked on a full queue")
		}
		close(store.gate)
		recorder.Close()
		assert.Less(t, store.count(), 10)
	})

	t.Run("Should survive store failures", func(t *testing.T) {
		store := &blockingStore{err: errors.New("disk full")}
		recorder := NewAsyncRecorder(store, 8, logger.NewForTests())
		recorder.Record(ctx, fmcgEvent(EventQueryCompleted, "alice"))
		recorder.Close()
		assert.Equal(t, 1, store.count())
	})

	t.Run("Should tolerate multiple closes", func(t *testing.T) {
		recorder := NewAsyncRecorder(NewMemoryStore(), 8, logger.NewForTests())
		recorder.Close()
		recorder.Close()
	})
}
