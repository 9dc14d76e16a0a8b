package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/courseforge/courseforge-backend/internal/logger"
	"github.com/courseforge/courseforge-backend/internal/types"
)

type ChatMessageRepo interface {
	Create(ctx context.Context, tx *gorm.DB, messages []*types.ChatMessage) ([]*types.ChatMessage, error)
	// GetRecent returns the newest messages for a user, oldest first,
	// optionally scoped to a course.
	GetRecent(ctx context.Context, tx *gorm.DB, userID uuid.UUID, courseID *uuid.UUID, limit int) ([]*types.ChatMessage, error)
}

type chatMessageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatMessageRepo(db *gorm.DB, baseLog *logger.Logger) ChatMessageRepo {
	return &chatMessageRepo{db: db, log: baseLog.With("repo", "ChatMessageRepo")}
}

func (r *chatMessageRepo) Create(ctx context.Context, tx *gorm.DB, messages []*types.ChatMessage) ([]*types.ChatMessage, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(messages) == 0 {
		return []*types.ChatMessage{}, nil
	}
	if err := transaction.WithContext(ctx).Create(messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *chatMessageRepo) GetRecent(ctx context.Context, tx *gorm.DB, userID uuid.UUID, courseID *uuid.UUID, limit int) ([]*types.ChatMessage, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 20
	}
	q := transaction.WithContext(ctx).Where("user_id = ?", userID)
	if courseID != nil && *courseID != uuid.Nil {
		q = q.Where("course_id = ?", *courseID)
	}
	var newest []*types.ChatMessage
	if err := q.Order("created_at DESC").Limit(limit).Find(&newest).Error; err != nil {
		return nil, err
	}
	// Reverse into chronological order for prompt assembly.
	out := make([]*types.ChatMessage, 0, len(newest))
	for i := len(newest) - 1; i >= 0; i-- {
		out = append(out, newest[i])
	}
	return out, nil
}
