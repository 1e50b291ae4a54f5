package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/yoockh/yoodocs/internal/models"
	"github.com/yoockh/yoodocs/internal/utils"
	"gorm.io/gorm"
)

type DocumentRepository interface {
	Create(ctx context.Context, d *models.Document) error
	GetByID(ctx context.Context, id string) (*models.Document, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]models.Document, error)
	ListAll(ctx context.Context, limit, offset int) ([]models.Document, int64, error)
	Search(ctx context.Context, ownerID, query string, limit int) ([]models.Document, error)
	Update(ctx context.Context, id string, fields map[string]any) error
	SetStatus(ctx context.Context, id string, status models.DocumentStatus, chunkCount int, lastError string) error
	Delete(ctx context.Context, id string) error

	CompletedIDs(ctx context.Context, ownerID string) ([]string, error)
	ExistingIDs(ctx context.Context, ids []string) ([]string, error)
	Titles(ctx context.Context, ids []string) (map[string]string, error)
	CountByStatus(ctx context.Context) (map[models.DocumentStatus]int64, error)
}

type documentRepo struct {
	db *gorm.DB
}

func NewDocumentRepo(db *gorm.DB) DocumentRepository {
	return &documentRepo{db: db}
}

func (r *documentRepo) Create(ctx context.Context, d *models.Document) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *documentRepo) GetByID(ctx context.Context, id string) (*models.Document, error) {
	var d models.Document
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &d, err
}

func (r *documentRepo) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.Document
	err := r.db.WithContext(ctx).
		Omit("content").
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	return rows, err
}

// ListAll pages through every owner's documents, newest first.
func (r *documentRepo) ListAll(ctx context.Context, limit, offset int) ([]models.Document, int64, error) {
	if limit <= 0 {
		limit = 100
	}
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.Document{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []models.Document
	err := r.db.WithContext(ctx).
		Omit("content").
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	return rows, total, err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (r *documentRepo) Search(ctx context.Context, ownerID, query string, limit int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + escapeLike(query) + "%"
	var rows []models.Document
	err := r.db.WithContext(ctx).
		Omit("content").
		Where("owner_id = ?", ownerID).
		Where("title ILIKE ? OR content ILIKE ?", pattern, pattern).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *documentRepo) Update(ctx context.Context, id string, fields map[string]any) error {
	fields["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&models.Document{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrNotFound
	}
	return nil
}

func (r *documentRepo) SetStatus(ctx context.Context, id string, status models.DocumentStatus, chunkCount int, lastError string) error {
	return r.Update(ctx, id, map[string]any{
		"status":      status,
		"chunk_count": chunkCount,
		"last_error":  lastError,
	})
}

func (r *documentRepo) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Document{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrNotFound
	}
	return nil
}

func (r *documentRepo) CompletedIDs(ctx context.Context, ownerID string) ([]string, error) {
	ids := []string{}
	err := r.db.WithContext(ctx).Model(&models.Document{}).
		Where("owner_id = ? AND status = ?", ownerID, models.DocumentCompleted).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *documentRepo) ExistingIDs(ctx context.Context, ids []string) ([]string, error) {
	out := []string{}
	if len(ids) == 0 {
		return out, nil
	}
	err := r.db.WithContext(ctx).Model(&models.Document{}).
		Where("id IN ?", ids).
		Pluck("id", &out).Error
	return out, err
}

func (r *documentRepo) Titles(ctx context.Context, ids []string) (map[string]string, error) {
	out := map[string]string{}
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Document
	err := r.db.WithContext(ctx).
		Select("id", "title").
		Where("id IN ?", ids).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, d := range rows {
		out[d.ID] = d.Title
	}
	return out, nil
}

func (r *documentRepo) CountByStatus(ctx context.Context) (map[models.DocumentStatus]int64, error) {
	var rows []struct {
		Status models.DocumentStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&models.Document{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := map[models.DocumentStatus]int64{}
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}
