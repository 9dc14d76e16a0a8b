package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/courseforge/courseforge-backend/internal/apperr"
	"github.com/courseforge/courseforge-backend/internal/logger"
	"github.com/courseforge/courseforge-backend/internal/repos"
	"github.com/courseforge/courseforge-backend/internal/types"
)

// CreditService is the only writer of user balances. Debit and Grant
// lock the user row, move the denormalized balance and append a ledger
// entry in the same transaction, so balance and ledger can never
// drift. When tx is nil the service opens its own transaction; callers
// that persist generated artifacts pass their transaction in so the
// debit commits or rolls back with the artifact.
type CreditService interface {
	Debit(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount int, reason string) error
	Grant(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount int, reason string) error
	Balance(ctx context.Context, userID uuid.UUID) (int, error)
	History(ctx context.Context, userID uuid.UUID, limit int) ([]*types.CreditLedgerEntry, error)
}

type creditService struct {
	db         *gorm.DB
	log        *logger.Logger
	userRepo   repos.UserRepo
	ledgerRepo repos.CreditLedgerRepo
}

func NewCreditService(
	db *gorm.DB,
	baseLog *logger.Logger,
	userRepo repos.UserRepo,
	ledgerRepo repos.CreditLedgerRepo,
) (CreditService, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	if baseLog == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &creditService{
		db:         db,
		log:        baseLog.With("service", "CreditService"),
		userRepo:   userRepo,
		ledgerRepo: ledgerRepo,
	}, nil
}

func (s *creditService) Debit(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount int, reason string) error {
	if amount <= 0 {
		return apperr.New(apperr.KindValidation, "debit amount must be positive")
	}
	return s.inTx(ctx, tx, func(tx *gorm.DB) error {
		return s.move(ctx, tx, userID, -amount, reason)
	})
}

func (s *creditService) Grant(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount int, reason string) error {
	if amount <= 0 {
		return apperr.New(apperr.KindValidation, "grant amount must be positive")
	}
	return s.inTx(ctx, tx, func(tx *gorm.DB) error {
		return s.move(ctx, tx, userID, amount, reason)
	})
}

// move applies a signed balance change under a row lock.
func (s *creditService) move(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount int, reason string) error {
	user, err := s.userRepo.GetByIDForUpdate(ctx, tx, userID)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "lock user row failed", err)
	}
	if user == nil {
		return apperr.New(apperr.KindNotFound, "user not found")
	}

	newBalance := user.Credits + amount
	if newBalance < 0 {
		return apperr.InsufficientCredits(-amount, user.Credits)
	}

	if err := s.userRepo.UpdateFields(ctx, tx, userID, map[string]any{"credits": newBalance}); err != nil {
		return apperr.Wrap(apperr.KindPersistence, "update balance failed", err)
	}
	entry := &types.CreditLedgerEntry{
		UserID:        userID,
		Amount:        amount,
		Reason:        reason,
		BalanceBefore: user.Credits,
		BalanceAfter:  newBalance,
	}
	if _, err := s.ledgerRepo.Append(ctx, tx, []*types.CreditLedgerEntry{entry}); err != nil {
		return apperr.Wrap(apperr.KindPersistence, "append ledger entry failed", err)
	}

	s.log.Debug("Balance moved",
		"user_id", userID.String(),
		"amount", amount,
		"reason", reason,
		"balance_after", newBalance,
	)
	return nil
}

func (s *creditService) Balance(ctx context.Context, userID uuid.UUID) (int, error) {
	users, err := s.userRepo.GetByIDs(ctx, nil, []uuid.UUID{userID})
	if err != nil {
		return 0, apperr.Wrap(apperr.KindPersistence, "load user failed", err)
	}
	if len(users) == 0 {
		return 0, apperr.New(apperr.KindNotFound, "user not found")
	}
	return users[0].Credits, nil
}

func (s *creditService) History(ctx context.Context, userID uuid.UUID, limit int) ([]*types.CreditLedgerEntry, error) {
	entries, err := s.ledgerRepo.GetByUserID(ctx, nil, userID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "load ledger failed", err)
	}
	return entries, nil
}

func (s *creditService) inTx(ctx context.Context, tx *gorm.DB, fn func(tx *gorm.DB) error) error {
	if tx != nil {
		return fn(tx)
	}
	return s.db.WithContext(ctx).Transaction(fn)
}
