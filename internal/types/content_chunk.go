package types

import (
	"time"

	"github.com/google/uuid"
)

// ContentChunk is the embedding ledger: one row per vector currently
// present in the vector index for a section. Rows for a section are
// destroyed and replaced wholesale whenever the section's content
// hash changes.
type ContentChunk struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SectionID   uuid.UUID `gorm:"type:uuid;not null;index" json:"section_id"`
	Section     *Section  `gorm:"constraint:OnDelete:CASCADE;foreignKey:SectionID;references:ID" json:"section,omitempty"`
	ContentHash string    `gorm:"column:content_hash;not null;index" json:"content_hash"`
	ChunkIndex  int       `gorm:"column:chunk_index;not null" json:"chunk_index"`
	VectorID    string    `gorm:"column:vector_id;not null;uniqueIndex" json:"vector_id"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
}

func (ContentChunk) TableName() string { return "content_chunk" }
