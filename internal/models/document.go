package models

import "time"

type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "pending"
	DocumentProcessing DocumentStatus = "processing"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentFailed     DocumentStatus = "failed"
)

type Document struct {
	ID          string `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OwnerID     string `gorm:"column:owner_id;type:uuid;index" json:"owner_id"`
	Title       string `gorm:"column:title;type:text" json:"title"`
	FileName    string `gorm:"column:file_name;type:text" json:"file_name"`
	MimeType    string `gorm:"column:mime_type;type:text" json:"mime_type"`
	FileSize    int64  `gorm:"column:file_size;type:bigint" json:"file_size"`
	StoragePath string `gorm:"column:storage_path;type:text" json:"storage_path"`

	// extracted plain text, used for (re)indexing and search
	Content string `gorm:"column:content;type:text" json:"-"`

	Status     DocumentStatus `gorm:"column:status;type:text;index" json:"status"`
	ChunkCount int            `gorm:"column:chunk_count;type:integer" json:"chunk_count"`
	LastError  string         `gorm:"column:last_error;type:text" json:"last_error,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`
}

func (Document) TableName() string { return "documents" }
