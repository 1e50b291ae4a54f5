package services

import (
	"context"
	"time"

	"github.com/yoockh/yoodocs/internal/models"
	"github.com/yoockh/yoodocs/internal/rag"
	pgrepo "github.com/yoockh/yoodocs/internal/repositories/postgres"
	"github.com/yoockh/yoodocs/internal/utils"
)

type SystemStats struct {
	Users       int64                           `json:"users"`
	Documents   map[models.DocumentStatus]int64 `json:"documents"`
	ChatTurns   int64                           `json:"chat_turns"`
	VectorIndex rag.IndexStats                  `json:"vector_index"`
}

type DocumentPage struct {
	Documents []models.Document `json:"documents"`
	Total     int64             `json:"total"`
}

// ChatSummary is one stored turn with its content cut to a preview.
type ChatSummary struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Role           string    `json:"role"`
	Message        string    `json:"message"`
	CreatedAt      time.Time `json:"created_at"`
}

const chatPreviewRunes = 100

type AdminService interface {
	Stats(ctx context.Context) (*SystemStats, error)
	Documents(ctx context.Context, limit, offset int) (*DocumentPage, error)
	Chats(ctx context.Context, limit int) ([]ChatSummary, error)
}

type adminService struct {
	users  pgrepo.UserRepository
	docs   pgrepo.DocumentRepository
	convos pgrepo.ConversationRepo
	engine rag.Engine
}

func NewAdminService(users pgrepo.UserRepository, docs pgrepo.DocumentRepository, convos pgrepo.ConversationRepo, engine rag.Engine) AdminService {
	return &adminService{users: users, docs: docs, convos: convos, engine: engine}
}

func (s *adminService) Stats(ctx context.Context) (*SystemStats, error) {
	const op = "AdminService.Stats"

	_, users, err := s.users.List(ctx, 1, 0)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to count users", err)
	}
	byStatus, err := s.docs.CountByStatus(ctx)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to count documents", err)
	}
	turns, err := s.convos.CountTurns(ctx)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to count chat turns", err)
	}
	return &SystemStats{
		Users:       users,
		Documents:   byStatus,
		ChatTurns:   turns,
		VectorIndex: s.engine.Stats(),
	}, nil
}

func (s *adminService) Documents(ctx context.Context, limit, offset int) (*DocumentPage, error) {
	const op = "AdminService.Documents"

	rows, total, err := s.docs.ListAll(ctx, limit, max(offset, 0))
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list documents", err)
	}
	if rows == nil {
		rows = []models.Document{}
	}
	return &DocumentPage{Documents: rows, Total: total}, nil
}

func (s *adminService) Chats(ctx context.Context, limit int) ([]ChatSummary, error) {
	const op = "AdminService.Chats"

	turns, err := s.convos.LatestTurns(ctx, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list chat turns", err)
	}
	out := make([]ChatSummary, 0, len(turns))
	for _, t := range turns {
		msg := t.Content
		if r := []rune(msg); len(r) > chatPreviewRunes {
			msg = string(r[:chatPreviewRunes]) + "..."
		}
		out = append(out, ChatSummary{
			ID:             t.ID,
			ConversationID: t.ConversationID,
			UserID:         t.OwnerID,
			Role:           t.Role,
			Message:        msg,
			CreatedAt:      t.CreatedAt,
		})
	}
	return out, nil
}
