package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/courseforge/courseforge-backend/internal/logger"
	"github.com/courseforge/courseforge-backend/internal/types"
)

type CreditLedgerRepo interface {
	Append(ctx context.Context, tx *gorm.DB, entries []*types.CreditLedgerEntry) ([]*types.CreditLedgerEntry, error)
	GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit int) ([]*types.CreditLedgerEntry, error)
}

type creditLedgerRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCreditLedgerRepo(db *gorm.DB, baseLog *logger.Logger) CreditLedgerRepo {
	return &creditLedgerRepo{db: db, log: baseLog.With("repo", "CreditLedgerRepo")}
}

func (r *creditLedgerRepo) Append(ctx context.Context, tx *gorm.DB, entries []*types.CreditLedgerEntry) ([]*types.CreditLedgerEntry, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(entries) == 0 {
		return []*types.CreditLedgerEntry{}, nil
	}
	if err := transaction.WithContext(ctx).Create(entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *creditLedgerRepo) GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit int) ([]*types.CreditLedgerEntry, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 100
	}
	var results []*types.CreditLedgerEntry
	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
