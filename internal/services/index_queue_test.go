package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/courseforge/courseforge-backend/internal/config"
	"github.com/courseforge/courseforge-backend/internal/logger"
)

type fakeIndexer struct {
	mu      sync.Mutex
	indexed []uuid.UUID
	errs    map[uuid.UUID]int
	done    chan uuid.UUID
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{errs: map[uuid.UUID]int{}, done: make(chan uuid.UUID, 16)}
}

func (f *fakeIndexer) IndexSection(_ context.Context, sectionID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := f.errs[sectionID]; n > 0 {
		f.errs[sectionID] = n - 1
		return context.DeadlineExceeded
	}
	f.indexed = append(f.indexed, sectionID)
	f.done <- sectionID
	return nil
}

func queueConfig() config.IndexConfig {
	cfg := config.Default().Index
	cfg.QueueSize = 2
	cfg.MaxAttempts = 3
	cfg.RetryDelay = 5 * time.Millisecond
	cfg.ReconcileInterval = time.Hour
	return cfg
}

func TestIndexQueueProcessesJobs(t *testing.T) {
	env := newTestEnv(t)
	indexer := newFakeIndexer()
	q, err := NewIndexQueue(logger.NewNop(), queueConfig(), indexer, env.sectionRepo)
	if err != nil {
		t.Fatalf("NewIndexQueue: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	sectionID := uuid.New()
	if !q.Enqueue(sectionID) {
		t.Fatal("enqueue rejected")
	}

	select {
	case got := <-indexer.done:
		if got != sectionID {
			t.Fatalf("indexed: want=%s got=%s", sectionID, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job never processed")
	}
}

func TestIndexQueueRetriesTransientFailures(t *testing.T) {
	env := newTestEnv(t)
	indexer := newFakeIndexer()
	sectionID := uuid.New()
	indexer.errs[sectionID] = 2

	q, err := NewIndexQueue(logger.NewNop(), queueConfig(), indexer, env.sectionRepo)
	if err != nil {
		t.Fatalf("NewIndexQueue: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	q.Enqueue(sectionID)

	select {
	case <-indexer.done:
	case <-time.After(2 * time.Second):
		t.Fatal("job never succeeded after retries")
	}
}

func TestIndexQueueFullDropsWithoutBlocking(t *testing.T) {
	env := newTestEnv(t)
	indexer := newFakeIndexer()
	q, err := NewIndexQueue(logger.NewNop(), queueConfig(), indexer, env.sectionRepo)
	if err != nil {
		t.Fatalf("NewIndexQueue: %v", err)
	}
	// Not started: nothing drains, so the buffer fills.

	if !q.Enqueue(uuid.New()) || !q.Enqueue(uuid.New()) {
		t.Fatal("first two enqueues should fit")
	}
	if q.Enqueue(uuid.New()) {
		t.Fatal("third enqueue should be dropped")
	}
}
