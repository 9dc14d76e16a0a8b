package types

import (
	"time"

	"github.com/google/uuid"
)

// CreditLedgerEntry is append-only. Amount is negative for debits and
// positive for grants; BalanceBefore/BalanceAfter snapshot the user
// row as of the same transaction.
type CreditLedgerEntry struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	User          *User     `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"user,omitempty"`
	Amount        int       `gorm:"column:amount;not null" json:"amount"`
	Reason        string    `gorm:"column:reason;not null" json:"reason"`
	BalanceBefore int       `gorm:"column:balance_before;not null" json:"balance_before"`
	BalanceAfter  int       `gorm:"column:balance_after;not null" json:"balance_after"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`
}

func (CreditLedgerEntry) TableName() string { return "credit_ledger_entry" }
