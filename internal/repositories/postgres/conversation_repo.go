package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/yoockh/yoodocs/internal/models"
	"github.com/yoockh/yoodocs/internal/utils"
	"gorm.io/gorm"
)

type ConversationRepo interface {
	Create(ctx context.Context, c *models.Conversation) error
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]models.Conversation, error)
	Update(ctx context.Context, id string, fields map[string]any) error
	Delete(ctx context.Context, id string) error
	DeleteByOwner(ctx context.Context, ownerID string) (int64, error)

	AppendTurn(ctx context.Context, t *models.ChatTurn) error
	ListTurns(ctx context.Context, conversationID string, limit int) ([]models.ChatTurn, error)
	RecentTurns(ctx context.Context, conversationID string, n int) ([]models.ChatTurn, error)
	CountTurns(ctx context.Context) (int64, error)
	LatestTurns(ctx context.Context, limit int) ([]models.ChatTurn, error)
}

type conversationRepo struct {
	db *gorm.DB
}

func NewConversationRepo(db *gorm.DB) ConversationRepo {
	return &conversationRepo{db: db}
}

func (r *conversationRepo) Create(ctx context.Context, c *models.Conversation) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *conversationRepo) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	var row models.Conversation
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

func (r *conversationRepo) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]models.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.Conversation
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("updated_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	return rows, err
}

func (r *conversationRepo) Update(ctx context.Context, id string, fields map[string]any) error {
	fields["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&models.Conversation{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrNotFound
	}
	return nil
}

func (r *conversationRepo) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", id).Delete(&models.ChatTurn{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.Conversation{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return utils.ErrNotFound
		}
		return nil
	})
}

// DeleteByOwner removes every conversation of ownerID with its turns and
// reports how many conversations went.
func (r *conversationRepo) DeleteByOwner(ctx context.Context, ownerID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("owner_id = ?", ownerID).Delete(&models.ChatTurn{}).Error; err != nil {
			return err
		}
		res := tx.Where("owner_id = ?", ownerID).Delete(&models.Conversation{})
		n = res.RowsAffected
		return res.Error
	})
	return n, err
}

// AppendTurn stores the turn and bumps the conversation's updated_at.
func (r *conversationRepo) AppendTurn(ctx context.Context, t *models.ChatTurn) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(t).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ?", t.ConversationID).
			Update("updated_at", t.CreatedAt).Error
	})
}

func (r *conversationRepo) ListTurns(ctx context.Context, conversationID string, limit int) ([]models.ChatTurn, error) {
	if limit <= 0 {
		limit = 200
	}
	var rows []models.ChatTurn
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// RecentTurns returns the last n turns, oldest first.
func (r *conversationRepo) RecentTurns(ctx context.Context, conversationID string, n int) ([]models.ChatTurn, error) {
	if n <= 0 {
		return nil, nil
	}
	var rows []models.ChatTurn
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(n).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

func (r *conversationRepo) CountTurns(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.ChatTurn{}).Count(&n).Error
	return n, err
}

// LatestTurns returns the newest turns across every conversation.
func (r *conversationRepo) LatestTurns(ctx context.Context, limit int) ([]models.ChatTurn, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.ChatTurn
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
