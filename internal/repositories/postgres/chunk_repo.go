package postgres

import (
	"context"

	"github.com/yoockh/yoodocs/internal/models"
	"gorm.io/gorm"
)

const chunkBatchSize = 200

// ChunkRepository is the relational mirror of the vector index.
type ChunkRepository interface {
	ReplaceForDocument(ctx context.Context, documentID string, rows []models.ChunkRecord) error
	ReplaceAll(ctx context.Context, rows []models.ChunkRecord) error
	DeleteByDocument(ctx context.Context, documentID string) (int64, error)
	ListByDocument(ctx context.Context, documentID string) ([]models.ChunkRecord, error)
	ListAll(ctx context.Context) ([]models.ChunkRecord, error)
	Stats(ctx context.Context) (*models.ChunkStats, error)
}

type chunkRepo struct {
	db *gorm.DB
}

func NewChunkRepo(db *gorm.DB) ChunkRepository {
	return &chunkRepo{db: db}
}

func (r *chunkRepo) ReplaceForDocument(ctx context.Context, documentID string, rows []models.ChunkRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&models.ChunkRecord{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, chunkBatchSize).Error
	})
}

func (r *chunkRepo) ReplaceAll(ctx context.Context, rows []models.ChunkRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.ChunkRecord{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, chunkBatchSize).Error
	})
}

func (r *chunkRepo) DeleteByDocument(ctx context.Context, documentID string) (int64, error) {
	res := r.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&models.ChunkRecord{})
	return res.RowsAffected, res.Error
}

func (r *chunkRepo) ListByDocument(ctx context.Context, documentID string) ([]models.ChunkRecord, error) {
	var rows []models.ChunkRecord
	err := r.db.WithContext(ctx).
		Omit("embedding").
		Where("document_id = ?", documentID).
		Order("chunk_index ASC").
		Find(&rows).Error
	return rows, err
}

// ListAll includes embeddings; it feeds index rebuilds.
func (r *chunkRepo) ListAll(ctx context.Context) ([]models.ChunkRecord, error) {
	var rows []models.ChunkRecord
	err := r.db.WithContext(ctx).
		Order("document_id ASC, chunk_index ASC").
		Find(&rows).Error
	return rows, err
}

func (r *chunkRepo) Stats(ctx context.Context) (*models.ChunkStats, error) {
	per := []models.DocumentChunkStats{}
	err := r.db.WithContext(ctx).Model(&models.ChunkRecord{}).
		Select("document_id, COUNT(*) AS vector_count, COALESCE(SUM(chunk_length), 0) AS total_chars").
		Group("document_id").
		Order("document_id").
		Scan(&per).Error
	if err != nil {
		return nil, err
	}
	out := &models.ChunkStats{PerDocument: per, TotalDocuments: int64(len(per))}
	for _, d := range per {
		out.TotalVectors += d.VectorCount
	}
	return out, nil
}
