package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/yoockh/yoodocs/internal/models"
	pgrepo "github.com/yoockh/yoodocs/internal/repositories/postgres"
	"github.com/yoockh/yoodocs/internal/utils"
)

const defaultConversationTitle = "New Conversation"

type ConversationInput struct {
	Title       *string  `json:"title"`
	DocumentIDs []string `json:"document_ids"`
}

type ConversationService interface {
	Create(ctx context.Context, ownerID string, in ConversationInput) (*models.Conversation, error)
	List(ctx context.Context, ownerID string, limit, offset int) ([]models.Conversation, error)
	Get(ctx context.Context, ownerID, id string) (*models.ConversationWithTurns, error)
	Update(ctx context.Context, ownerID, id string, in ConversationInput) (*models.Conversation, error)
	Delete(ctx context.Context, ownerID, id string) error
}

type conversationService struct {
	convos pgrepo.ConversationRepo
	docs   pgrepo.DocumentRepository
}

func NewConversationService(convos pgrepo.ConversationRepo, docs pgrepo.DocumentRepository) ConversationService {
	return &conversationService{convos: convos, docs: docs}
}

// ownedConversation is shared with the chat service.
func ownedConversation(ctx context.Context, convos pgrepo.ConversationRepo, op, ownerID, id string) (*models.Conversation, error) {
	if ownerID == "" || id == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "owner and conversation id are required", nil)
	}
	c, err := convos.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "conversation not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get conversation", err)
	}
	if c.OwnerID != ownerID {
		return nil, utils.E(utils.CodeForbidden, op, "conversation belongs to another user", nil)
	}
	return c, nil
}

// checkDocumentScope rejects ids that do not exist or belong to someone else.
func checkDocumentScope(ctx context.Context, docs pgrepo.DocumentRepository, op, ownerID string, ids []string) error {
	for _, id := range ids {
		d, err := docs.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, utils.ErrNotFound) {
				return utils.E(utils.CodeNotFound, op, "document not found: "+id, err)
			}
			return utils.E(utils.CodeInternal, op, "failed to get document", err)
		}
		if d.OwnerID != ownerID {
			return utils.E(utils.CodeForbidden, op, "document belongs to another user", nil)
		}
	}
	return nil
}

func (s *conversationService) Create(ctx context.Context, ownerID string, in ConversationInput) (*models.Conversation, error) {
	const op = "ConversationService.Create"

	if ownerID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "owner is required", nil)
	}
	title := defaultConversationTitle
	if in.Title != nil && strings.TrimSpace(*in.Title) != "" {
		title = strings.TrimSpace(*in.Title)
	}
	if err := checkDocumentScope(ctx, s.docs, op, ownerID, in.DocumentIDs); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	c := &models.Conversation{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Title:       title,
		DocumentIDs: pq.StringArray(in.DocumentIDs),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.convos.Create(ctx, c); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to create conversation", err)
	}
	return c, nil
}

func (s *conversationService) List(ctx context.Context, ownerID string, limit, offset int) ([]models.Conversation, error) {
	const op = "ConversationService.List"

	if ownerID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "owner is required", nil)
	}
	rows, err := s.convos.ListByOwner(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list conversations", err)
	}
	if rows == nil {
		rows = []models.Conversation{}
	}
	return rows, nil
}

func (s *conversationService) Get(ctx context.Context, ownerID, id string) (*models.ConversationWithTurns, error) {
	const op = "ConversationService.Get"

	c, err := ownedConversation(ctx, s.convos, op, ownerID, id)
	if err != nil {
		return nil, err
	}
	turns, err := s.convos.ListTurns(ctx, id, 0)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list turns", err)
	}
	if turns == nil {
		turns = []models.ChatTurn{}
	}
	return &models.ConversationWithTurns{Conversation: *c, Turns: turns}, nil
}

func (s *conversationService) Update(ctx context.Context, ownerID, id string, in ConversationInput) (*models.Conversation, error) {
	const op = "ConversationService.Update"

	c, err := ownedConversation(ctx, s.convos, op, ownerID, id)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{}
	if in.Title != nil {
		t := strings.TrimSpace(*in.Title)
		if t == "" {
			return nil, utils.E(utils.CodeInvalidArgument, op, "title cannot be empty", nil)
		}
		fields["title"], c.Title = t, t
	}
	if in.DocumentIDs != nil {
		if err := checkDocumentScope(ctx, s.docs, op, ownerID, in.DocumentIDs); err != nil {
			return nil, err
		}
		ids := pq.StringArray(in.DocumentIDs)
		fields["document_ids"], c.DocumentIDs = ids, ids
	}
	if len(fields) == 0 {
		return c, nil
	}
	if err := s.convos.Update(ctx, id, fields); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to update conversation", err)
	}
	return c, nil
}

func (s *conversationService) Delete(ctx context.Context, ownerID, id string) error {
	const op = "ConversationService.Delete"

	if _, err := ownedConversation(ctx, s.convos, op, ownerID, id); err != nil {
		return err
	}
	if err := s.convos.Delete(ctx, id); err != nil && !errors.Is(err, utils.ErrNotFound) {
		return utils.E(utils.CodeInternal, op, "failed to delete conversation", err)
	}
	return nil
}
