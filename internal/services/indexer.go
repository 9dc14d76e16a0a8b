package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/courseforge/courseforge-backend/internal/apperr"
	"github.com/courseforge/courseforge-backend/internal/chunker"
	"github.com/courseforge/courseforge-backend/internal/config"
	"github.com/courseforge/courseforge-backend/internal/logger"
	"github.com/courseforge/courseforge-backend/internal/platform/qdrant"
	"github.com/courseforge/courseforge-backend/internal/repos"
	"github.com/courseforge/courseforge-backend/internal/types"
)

// IndexerService keeps the vector index in sync with section content.
// Change detection is by content hash: a section whose stored chunks
// already carry the current hash is a no-op, anything else replaces
// the section's chunks wholesale (old vectors deleted, new ones
// upserted, ledger rows swapped in one transaction).
type IndexerService interface {
	IndexSection(ctx context.Context, sectionID uuid.UUID) error
}

type indexerService struct {
	db          *gorm.DB
	log         *logger.Logger
	cfg         config.IndexConfig
	gateway     CompletionGateway
	vectorStore qdrant.VectorStore
	sectionRepo repos.SectionRepo
	moduleRepo  repos.CourseModuleRepo
	courseRepo  repos.CourseRepo
	chunkRepo   repos.ContentChunkRepo
}

func NewIndexerService(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg config.IndexConfig,
	gateway CompletionGateway,
	vectorStore qdrant.VectorStore,
	sectionRepo repos.SectionRepo,
	moduleRepo repos.CourseModuleRepo,
	courseRepo repos.CourseRepo,
	chunkRepo repos.ContentChunkRepo,
) (IndexerService, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	if baseLog == nil {
		return nil, fmt.Errorf("logger required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("completion gateway required")
	}
	if vectorStore == nil {
		return nil, fmt.Errorf("vector store required")
	}
	return &indexerService{
		db:          db,
		log:         baseLog.With("service", "IndexerService"),
		cfg:         cfg,
		gateway:     gateway,
		vectorStore: vectorStore,
		sectionRepo: sectionRepo,
		moduleRepo:  moduleRepo,
		courseRepo:  courseRepo,
		chunkRepo:   chunkRepo,
	}, nil
}

func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func (s *indexerService) IndexSection(ctx context.Context, sectionID uuid.UUID) error {
	sections, err := s.sectionRepo.GetByIDs(ctx, nil, []uuid.UUID{sectionID})
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "load section failed", err)
	}
	if len(sections) == 0 {
		return apperr.New(apperr.KindNotFound, "section not found")
	}
	section := sections[0]

	if section.ContentStatus != types.ContentStatusReady || section.Content == nil || *section.Content == "" {
		s.log.Debug("Section has no indexable content, skipping",
			"section_id", sectionID.String(),
			"content_status", string(section.ContentStatus),
		)
		return nil
	}
	content := *section.Content
	hash := ContentHash(content)

	existing, err := s.chunkRepo.GetBySectionID(ctx, nil, sectionID)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "load existing chunks failed", err)
	}

	pieces := chunker.Split(content, s.cfg.ChunkSize)
	if upToDate(existing, hash, len(pieces)) {
		s.log.Debug("Section index is current, skipping",
			"section_id", sectionID.String(),
			"content_hash", hash,
		)
		return nil
	}

	course, err := s.resolveCourse(ctx, section.ModuleID)
	if err != nil {
		return err
	}

	points, chunkRows, err := s.embedChunks(ctx, section, course, pieces, hash)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		return apperr.New(apperr.KindEmbedding, "every chunk failed to embed")
	}

	// Remove the stale vectors before upserting so a hash change never
	// leaves both generations searchable at once.
	staleIDs := make([]string, 0, len(existing))
	for _, c := range existing {
		staleIDs = append(staleIDs, c.VectorID)
	}
	if err := s.vectorStore.DeleteIDs(ctx, staleIDs); err != nil {
		return apperr.Wrap(apperr.KindPersistence, "delete stale vectors failed", err)
	}
	if err := s.vectorStore.Upsert(ctx, points); err != nil {
		return apperr.Wrap(apperr.KindPersistence, "upsert vectors failed", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.chunkRepo.DeleteBySectionID(ctx, tx, sectionID); err != nil {
			return err
		}
		_, err := s.chunkRepo.Create(ctx, tx, chunkRows)
		return err
	})
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "replace chunk rows failed", err)
	}

	s.log.Info("Section indexed",
		"section_id", sectionID.String(),
		"content_hash", hash,
		"chunks", len(chunkRows),
		"chunks_skipped", len(pieces)-len(chunkRows),
	)
	return nil
}

// upToDate reports whether the stored chunk rows already represent
// this exact content.
func upToDate(existing []*types.ContentChunk, hash string, chunkCount int) bool {
	if len(existing) == 0 || len(existing) != chunkCount {
		return false
	}
	for _, c := range existing {
		if c.ContentHash != hash {
			return false
		}
	}
	return true
}

func (s *indexerService) resolveCourse(ctx context.Context, moduleID uuid.UUID) (*types.Course, error) {
	modules, err := s.moduleRepo.GetByIDs(ctx, nil, []uuid.UUID{moduleID})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "load module failed", err)
	}
	if len(modules) == 0 {
		return nil, apperr.New(apperr.KindNotFound, "module not found")
	}
	courses, err := s.courseRepo.GetByIDs(ctx, nil, []uuid.UUID{modules[0].CourseID})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "load course failed", err)
	}
	if len(courses) == 0 {
		return nil, apperr.New(apperr.KindNotFound, "course not found")
	}
	return courses[0], nil
}

// embedChunks embeds the pieces with bounded concurrency. A chunk
// whose embedding call fails is dropped and logged; the rest of the
// section still indexes.
func (s *indexerService) embedChunks(
	ctx context.Context,
	section *types.Section,
	course *types.Course,
	pieces []string,
	hash string,
) ([]qdrant.Point, []*types.ContentChunk, error) {
	type embedded struct {
		index  int
		vector []float32
	}

	concurrency := s.cfg.EmbedConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	var mu sync.Mutex
	results := make([]*embedded, len(pieces))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, piece := range pieces {
		i, piece := i, piece
		g.Go(func() error {
			vec, err := s.gateway.EmbedText(gctx, piece)
			if err != nil {
				if apperr.IsKind(err, apperr.KindTimeout) || gctx.Err() != nil {
					return err
				}
				s.log.Warn("Chunk embedding failed, skipping chunk",
					"section_id", section.ID.String(),
					"chunk_index", i,
					"error", err.Error(),
				)
				return nil
			}
			mu.Lock()
			results[i] = &embedded{index: i, vector: vec}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	points := make([]qdrant.Point, 0, len(pieces))
	rows := make([]*types.ContentChunk, 0, len(pieces))
	for i, res := range results {
		if res == nil {
			continue
		}
		vectorID := uuid.NewString()
		points = append(points, qdrant.Point{
			ID:     vectorID,
			Vector: res.vector,
			Payload: map[string]any{
				"type":         "section_content",
				"text":         pieces[i],
				"section_id":   section.ID.String(),
				"module_id":    section.ModuleID.String(),
				"course_id":    course.ID.String(),
				"user_id":      course.UserID.String(),
				"chunk_index":  i,
				"content_hash": hash,
			},
		})
		rows = append(rows, &types.ContentChunk{
			SectionID:   section.ID,
			ContentHash: hash,
			ChunkIndex:  i,
			VectorID:    vectorID,
		})
	}
	return points, rows, nil
}
