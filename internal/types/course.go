package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Course struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID          uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	User            *User          `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"user,omitempty"`
	Title           string         `gorm:"column:title;not null" json:"title"`
	Description     string         `gorm:"column:description" json:"description"`
	Topic           string         `gorm:"column:topic;not null" json:"topic"`
	Difficulty      string         `gorm:"column:difficulty;not null" json:"difficulty"`
	DurationMinutes int            `gorm:"column:duration_minutes;not null;default:0" json:"duration_minutes"`
	Metadata        datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata"`
	Modules         []*CourseModule `gorm:"foreignKey:CourseID" json:"modules,omitempty"`
	CreatedAt       time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Course) TableName() string { return "course" }
