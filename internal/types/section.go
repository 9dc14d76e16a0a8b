package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ContentStatus tracks the section content lifecycle explicitly rather
// than inferring it from content length alone.
type ContentStatus string

const (
	ContentStatusEmpty      ContentStatus = "empty"
	ContentStatusReady      ContentStatus = "ready"
	ContentStatusNeedsRetry ContentStatus = "needs_retry"
)

type Section struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ModuleID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"module_id"`
	Module          *CourseModule  `gorm:"constraint:OnDelete:CASCADE;foreignKey:ModuleID;references:ID" json:"module,omitempty"`
	Position        int            `gorm:"column:position;not null" json:"position"`
	Title           string         `gorm:"column:title;not null" json:"title"`
	DurationMinutes int            `gorm:"column:duration_minutes;not null;default:0" json:"duration_minutes"`
	// Content is nil until the section content generator fills it.
	Content       *string        `gorm:"column:content;type:text" json:"content,omitempty"`
	ContentStatus ContentStatus  `gorm:"column:content_status;not null;default:'empty'" json:"content_status"`
	Completed     bool           `gorm:"column:completed;not null;default:false" json:"completed"`
	CreatedAt     time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Section) TableName() string { return "section" }
