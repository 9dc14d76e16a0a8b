package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/courseforge/courseforge-backend/internal/config"
	"github.com/courseforge/courseforge-backend/internal/logger"
	"github.com/courseforge/courseforge-backend/internal/repos"
)

// IndexQueue decouples section generation from indexing. Generation
// enqueues and moves on; a single worker drains the queue, retrying
// transient failures, and a reconciliation ticker sweeps up sections
// whose enqueue was lost (full queue, crash between persist and
// enqueue).
type IndexQueue struct {
	log         *logger.Logger
	cfg         config.IndexConfig
	indexer     IndexerService
	sectionRepo repos.SectionRepo

	jobs chan uuid.UUID

	startOnce sync.Once
	stopOnce  sync.Once
	stopped   chan struct{}
	done      sync.WaitGroup
}

func NewIndexQueue(
	baseLog *logger.Logger,
	cfg config.IndexConfig,
	indexer IndexerService,
	sectionRepo repos.SectionRepo,
) (*IndexQueue, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("logger required")
	}
	if indexer == nil {
		return nil, fmt.Errorf("indexer required")
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 64
	}
	return &IndexQueue{
		log:         baseLog.With("service", "IndexQueue"),
		cfg:         cfg,
		indexer:     indexer,
		sectionRepo: sectionRepo,
		jobs:        make(chan uuid.UUID, size),
		stopped:     make(chan struct{}),
	}, nil
}

// Enqueue never blocks the caller. A full queue drops the job and
// reports false; the reconciliation sweep will pick the section up.
func (q *IndexQueue) Enqueue(sectionID uuid.UUID) bool {
	select {
	case q.jobs <- sectionID:
		return true
	default:
		q.log.Warn("Index queue full, dropping job for reconciliation sweep",
			"section_id", sectionID.String(),
		)
		return false
	}
}

func (q *IndexQueue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		q.done.Add(2)
		go q.workerLoop(ctx)
		go q.reconcileLoop(ctx)
	})
}

func (q *IndexQueue) Stop() {
	q.stopOnce.Do(func() { close(q.stopped) })
	q.done.Wait()
}

func (q *IndexQueue) workerLoop(ctx context.Context) {
	defer q.done.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopped:
			return
		case sectionID := <-q.jobs:
			q.process(ctx, sectionID)
		}
	}
}

func (q *IndexQueue) process(ctx context.Context, sectionID uuid.UUID) {
	maxAttempts := q.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	delay := q.cfg.RetryDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = q.indexer.IndexSection(ctx, sectionID)
		if lastErr == nil {
			return
		}
		q.log.Warn("Index attempt failed",
			"section_id", sectionID.String(),
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"error", lastErr.Error(),
		)
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-q.stopped:
			return
		case <-time.After(delay):
		}
	}

	// Exhausted. The reconciliation sweep will retry later as long as
	// the section has ready content and no chunk rows.
	q.log.Error("Section indexing exhausted retries",
		"section_id", sectionID.String(),
		"error", lastErr.Error(),
	)
}

func (q *IndexQueue) reconcileLoop(ctx context.Context) {
	defer q.done.Done()
	interval := q.cfg.ReconcileInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopped:
			return
		case <-ticker.C:
			q.reconcileOnce(ctx)
		}
	}
}

// reconcileOnce enqueues ready sections that have no chunk rows.
func (q *IndexQueue) reconcileOnce(ctx context.Context) {
	sections, err := q.sectionRepo.ListReadyWithoutChunks(ctx, nil, cap(q.jobs))
	if err != nil {
		q.log.Error("Reconciliation sweep failed", "error", err.Error())
		return
	}
	if len(sections) == 0 {
		return
	}
	enqueued := 0
	for _, section := range sections {
		if q.Enqueue(section.ID) {
			enqueued++
		}
	}
	q.log.Info("Reconciliation sweep enqueued unindexed sections",
		"found", len(sections),
		"enqueued", enqueued,
	)
}
