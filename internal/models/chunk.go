package models

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// ChunkRecord mirrors one vector-index entry in the relational store.
type ChunkRecord struct {
	ID             string `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	DocumentID     string `gorm:"column:document_id;type:uuid;uniqueIndex:idx_document_chunk" json:"document_id"`
	OwnerID        string `gorm:"column:owner_id;type:uuid;index" json:"owner_id"`
	ChunkIndex     int    `gorm:"column:chunk_index;type:integer;uniqueIndex:idx_document_chunk" json:"chunk_index"`
	Text           string `gorm:"column:text;type:text" json:"text"`
	IndexPosition  int64  `gorm:"column:index_position;type:bigint;uniqueIndex" json:"index_position"`
	EmbeddingModel string `gorm:"column:embedding_model;type:text" json:"embedding_model"`
	ChunkLength    int    `gorm:"column:chunk_length;type:integer" json:"chunk_length"`

	// nil when the chunk arrived without a vector; dimension follows the model
	Embedding *pgvector.Vector `gorm:"column:embedding;type:vector" json:"-"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz" json:"created_at"`
}

func (ChunkRecord) TableName() string { return "vector_metadata" }

type DocumentChunkStats struct {
	DocumentID  string `json:"document_id"`
	VectorCount int64  `json:"vector_count"`
	TotalChars  int64  `json:"total_chars"`
}

type ChunkStats struct {
	TotalVectors   int64                `json:"total_vectors"`
	TotalDocuments int64                `json:"total_documents"`
	PerDocument    []DocumentChunkStats `json:"per_document"`
}
