package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/courseforge/courseforge-backend/internal/logger"
	"github.com/courseforge/courseforge-backend/internal/types"
)

type ContentChunkRepo interface {
	Create(ctx context.Context, tx *gorm.DB, chunks []*types.ContentChunk) ([]*types.ContentChunk, error)
	GetBySectionID(ctx context.Context, tx *gorm.DB, sectionID uuid.UUID) ([]*types.ContentChunk, error)
	DeleteBySectionID(ctx context.Context, tx *gorm.DB, sectionID uuid.UUID) error
}

type contentChunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewContentChunkRepo(db *gorm.DB, baseLog *logger.Logger) ContentChunkRepo {
	return &contentChunkRepo{db: db, log: baseLog.With("repo", "ContentChunkRepo")}
}

func (r *contentChunkRepo) Create(ctx context.Context, tx *gorm.DB, chunks []*types.ContentChunk) ([]*types.ContentChunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(chunks) == 0 {
		return []*types.ContentChunk{}, nil
	}
	const batchSize = 100
	if err := transaction.WithContext(ctx).CreateInBatches(chunks, batchSize).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}

func (r *contentChunkRepo) GetBySectionID(ctx context.Context, tx *gorm.DB, sectionID uuid.UUID) ([]*types.ContentChunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.ContentChunk
	if err := transaction.WithContext(ctx).
		Where("section_id = ?", sectionID).
		Order("chunk_index ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *contentChunkRepo) DeleteBySectionID(ctx context.Context, tx *gorm.DB, sectionID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("section_id = ?", sectionID).
		Delete(&types.ContentChunk{}).Error
}
