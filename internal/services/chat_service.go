package services

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoodocs/internal/models"
	"github.com/yoockh/yoodocs/internal/rag"
	pgrepo "github.com/yoockh/yoodocs/internal/repositories/postgres"
	"github.com/yoockh/yoodocs/internal/utils"
	"gorm.io/datatypes"
)

const maxTitleRunes = 60

type ChatRequest struct {
	Query          string   `json:"query"`
	ConversationID string   `json:"conversation_id"`
	DocumentIDs    []string `json:"document_ids"`
	K              int      `json:"k"`
	SystemPrompt   string   `json:"system_prompt"`
}

type RegenerateRequest struct {
	ConversationID string   `json:"conversation_id"`
	Query          string   `json:"query"`
	Constraints    string   `json:"constraints"`
	PreviousAnswer string   `json:"previous_answer"`
	DocumentIDs    []string `json:"document_ids"`
	K              int      `json:"k"`
}

type InspectRequest struct {
	Query       string   `json:"query"`
	DocumentIDs []string `json:"document_ids"`
	K           int      `json:"k"`
}

type CritiqueRequest struct {
	Question    string        `json:"question"`
	Answer      string        `json:"answer"`
	Sources     []rag.Passage `json:"sources"`
	DocumentIDs []string      `json:"document_ids"`
}

type ChatResponse struct {
	*rag.Answer
	ConversationID string `json:"conversation_id"`
	TurnID         string `json:"turn_id"`
}

type ChatService interface {
	Query(ctx context.Context, ownerID string, req ChatRequest) (*ChatResponse, error)
	Stream(ctx context.Context, ownerID string, req ChatRequest) (*ChatStream, error)
	Regenerate(ctx context.Context, ownerID string, req RegenerateRequest) (*ChatResponse, error)
	Inspect(ctx context.Context, ownerID string, req InspectRequest) ([]rag.Passage, error)
	Critique(ctx context.Context, ownerID string, req CritiqueRequest) (*rag.Critique, error)
}

type chatService struct {
	convos       pgrepo.ConversationRepo
	docs         pgrepo.DocumentRepository
	engine       rag.Engine
	historyTurns int
	log          *logrus.Logger
	now          func() time.Time
}

func NewChatService(convos pgrepo.ConversationRepo, docs pgrepo.DocumentRepository, engine rag.Engine, historyTurns int, log *logrus.Logger) ChatService {
	if historyTurns <= 0 {
		historyTurns = rag.DefaultHistoryTurns
	}
	return &chatService{
		convos:       convos,
		docs:         docs,
		engine:       engine,
		historyTurns: historyTurns,
		log:          log,
		now:          time.Now,
	}
}

// EstimateTokens is a rough count for usage accounting.
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

func titleFrom(query string) string {
	q := strings.Join(strings.Fields(query), " ")
	if utf8.RuneCountInString(q) <= maxTitleRunes {
		return q
	}
	return string([]rune(q)[:maxTitleRunes]) + "..."
}

// scope resolves which documents a chat may search: the explicit request
// list, else the conversation's list, else every completed document of the
// owner. Only completed documents survive.
func (s *chatService) scope(ctx context.Context, op, ownerID string, requested []string, conv *models.Conversation) ([]string, error) {
	completed, err := s.docs.CompletedIDs(ctx, ownerID)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to load documents", err)
	}

	want := requested
	if len(want) == 0 && conv != nil {
		want = conv.DocumentIDs
	}
	if len(want) == 0 {
		if len(completed) == 0 {
			return nil, utils.E(utils.CodeInvalidArgument, op, "no indexed documents yet; upload a document first", nil)
		}
		return completed, nil
	}

	if err := checkDocumentScope(ctx, s.docs, op, ownerID, want); err != nil {
		return nil, err
	}
	ready := make(map[string]struct{}, len(completed))
	for _, id := range completed {
		ready[id] = struct{}{}
	}
	out := []string{}
	for _, id := range want {
		if _, ok := ready[id]; ok {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "none of the selected documents has finished indexing", nil)
	}
	return out, nil
}

func (s *chatService) history(ctx context.Context, op, conversationID string) ([]rag.Turn, error) {
	rows, err := s.convos.RecentTurns(ctx, conversationID, s.historyTurns)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to load history", err)
	}
	turns := make([]rag.Turn, 0, len(rows))
	for _, r := range rows {
		turns = append(turns, rag.Turn{Role: r.Role, Content: r.Content})
	}
	return turns, nil
}

func (s *chatService) appendTurn(ctx context.Context, conv *models.Conversation, role, content string, meta any) (*models.ChatTurn, error) {
	t := &models.ChatTurn{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		OwnerID:        conv.OwnerID,
		Role:           role,
		Content:        content,
		CreatedAt:      s.now().UTC(),
	}
	if meta != nil {
		b, err := json.Marshal(meta)
		if err != nil {
			return nil, err
		}
		t.Metadata = datatypes.JSON(b)
	}
	return t, s.convos.AppendTurn(ctx, t)
}

type prepared struct {
	conv    *models.Conversation
	scope   []string
	history []rag.Turn
}

// prepare resolves conversation and scope, loads history and records the
// user turn. A new conversation is created when none is given.
func (s *chatService) prepare(ctx context.Context, op, ownerID string, req ChatRequest) (*prepared, error) {
	if ownerID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "owner is required", nil)
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "query is required", nil)
	}

	var conv *models.Conversation
	if req.ConversationID != "" {
		c, err := ownedConversation(ctx, s.convos, op, ownerID, req.ConversationID)
		if err != nil {
			return nil, err
		}
		conv = c
	}

	scope, err := s.scope(ctx, op, ownerID, req.DocumentIDs, conv)
	if err != nil {
		return nil, err
	}

	if conv == nil {
		now := s.now().UTC()
		conv = &models.Conversation{
			ID:          uuid.NewString(),
			OwnerID:     ownerID,
			Title:       titleFrom(req.Query),
			DocumentIDs: pq.StringArray(req.DocumentIDs),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.convos.Create(ctx, conv); err != nil {
			return nil, utils.E(utils.CodeInternal, op, "failed to create conversation", err)
		}
	}

	history, err := s.history(ctx, op, conv.ID)
	if err != nil {
		return nil, err
	}
	if _, err := s.appendTurn(ctx, conv, models.TurnUser, req.Query, nil); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to store question", err)
	}
	return &prepared{conv: conv, scope: scope, history: history}, nil
}

func answerMetadata(ans *rag.Answer) map[string]any {
	return map[string]any{
		"sources":                 ans.Sources,
		"hallucination_detection": ans.Hallucination,
		"confidence":              ans.Confidence,
	}
}

func (s *chatService) Query(ctx context.Context, ownerID string, req ChatRequest) (*ChatResponse, error) {
	const op = "ChatService.Query"

	p, err := s.prepare(ctx, op, ownerID, req)
	if err != nil {
		return nil, err
	}

	ans, err := s.engine.Query(ctx, rag.QueryRequest{
		Query:        req.Query,
		DocumentIDs:  p.scope,
		K:            req.K,
		History:      p.history,
		SystemPrompt: req.SystemPrompt,
	})
	if err != nil {
		return nil, err
	}

	turn, err := s.appendTurn(ctx, p.conv, models.TurnAssistant, ans.Answer, answerMetadata(ans))
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to store answer", err)
	}
	return &ChatResponse{Answer: ans, ConversationID: p.conv.ID, TurnID: turn.ID}, nil
}

func (s *chatService) Stream(ctx context.Context, ownerID string, req ChatRequest) (*ChatStream, error) {
	const op = "ChatService.Stream"

	p, err := s.prepare(ctx, op, ownerID, req)
	if err != nil {
		return nil, err
	}

	as, err := s.engine.Stream(ctx, rag.QueryRequest{
		Query:        req.Query,
		DocumentIDs:  p.scope,
		K:            req.K,
		History:      p.history,
		SystemPrompt: req.SystemPrompt,
	})
	if err != nil {
		return nil, err
	}

	persistCtx := context.WithoutCancel(ctx)
	return NewChatStream(p.conv.ID, as.Stream, func(answer string, streamErr error) {
		s.finishStream(persistCtx, p.conv, as.Passages, answer, streamErr)
	}), nil
}

// finishStream stores whatever the stream produced, partial answers included.
func (s *chatService) finishStream(ctx context.Context, conv *models.Conversation, passages []rag.Passage, answer string, streamErr error) {
	log := s.log.WithField("conversation_id", conv.ID)

	text := rag.PostProcess(answer)
	if text == "" {
		if streamErr != nil {
			log.WithError(streamErr).Info("stream ended before any answer text")
		}
		return
	}

	ans := &rag.Answer{
		Answer:     text,
		Sources:    rag.SourcesFrom(passages),
		Confidence: rag.Confidence(text, passages),
	}
	if report, err := s.engine.Score(ctx, text, passages); err != nil {
		log.WithError(err).Warn("hallucination scoring failed")
	} else {
		ans.Hallucination = report
	}

	meta := answerMetadata(ans)
	if streamErr != nil {
		meta["partial"] = true
	}
	if _, err := s.appendTurn(ctx, conv, models.TurnAssistant, text, meta); err != nil {
		log.WithError(err).Error("failed to store streamed answer")
	}
}

func (s *chatService) Regenerate(ctx context.Context, ownerID string, req RegenerateRequest) (*ChatResponse, error) {
	const op = "ChatService.Regenerate"

	if strings.TrimSpace(req.Constraints) == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "constraints are required", nil)
	}
	conv, err := ownedConversation(ctx, s.convos, op, ownerID, req.ConversationID)
	if err != nil {
		return nil, err
	}

	query, previous := req.Query, req.PreviousAnswer
	if strings.TrimSpace(query) == "" || strings.TrimSpace(previous) == "" {
		turns, err := s.convos.ListTurns(ctx, conv.ID, 0)
		if err != nil {
			return nil, utils.E(utils.CodeInternal, op, "failed to load history", err)
		}
		for i := len(turns) - 1; i >= 0; i-- {
			switch {
			case turns[i].Role == models.TurnAssistant && strings.TrimSpace(previous) == "":
				previous = turns[i].Content
			case turns[i].Role == models.TurnUser && strings.TrimSpace(query) == "":
				query = turns[i].Content
			}
		}
	}
	if strings.TrimSpace(query) == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "nothing to regenerate; conversation has no question", nil)
	}

	scope, err := s.scope(ctx, op, ownerID, req.DocumentIDs, conv)
	if err != nil {
		return nil, err
	}
	history, err := s.history(ctx, op, conv.ID)
	if err != nil {
		return nil, err
	}

	ans, err := s.engine.Regenerate(ctx, rag.QueryRequest{
		Query:          query,
		DocumentIDs:    scope,
		K:              req.K,
		History:        history,
		Constraints:    req.Constraints,
		PreviousAnswer: previous,
	})
	if err != nil {
		return nil, err
	}

	meta := answerMetadata(ans)
	meta["regenerated"] = true
	meta["constraints"] = req.Constraints
	turn, err := s.appendTurn(ctx, conv, models.TurnAssistant, ans.Answer, meta)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to store answer", err)
	}
	return &ChatResponse{Answer: ans, ConversationID: conv.ID, TurnID: turn.ID}, nil
}

func (s *chatService) Inspect(ctx context.Context, ownerID string, req InspectRequest) ([]rag.Passage, error) {
	const op = "ChatService.Inspect"

	scope, err := s.scope(ctx, op, ownerID, req.DocumentIDs, nil)
	if err != nil {
		return nil, err
	}
	passages, err := s.engine.Inspect(ctx, req.Query, scope, req.K)
	if err != nil {
		return nil, err
	}
	if passages == nil {
		passages = []rag.Passage{}
	}
	return passages, nil
}

// Critique grades an answer. Without explicit sources the question is
// retrieved again over the owner's documents.
func (s *chatService) Critique(ctx context.Context, ownerID string, req CritiqueRequest) (*rag.Critique, error) {
	const op = "ChatService.Critique"

	if strings.TrimSpace(req.Question) == "" || strings.TrimSpace(req.Answer) == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "question and answer are required", nil)
	}

	sources := req.Sources
	if len(sources) == 0 {
		passages, err := s.Inspect(ctx, ownerID, InspectRequest{Query: req.Question, DocumentIDs: req.DocumentIDs})
		if err != nil {
			return nil, err
		}
		sources = passages
	}
	return s.engine.Critique(ctx, req.Question, req.Answer, sources)
}

// ChatStream relays answer events and stores the answer once the stream ends.
type ChatStream struct {
	ConversationID string

	inner  *rag.Stream
	events chan rag.Event
	stop   chan struct{}
	once   sync.Once
	done   chan struct{}
}

// NewChatStream relays inner's events and calls finish with the final
// answer once inner ends. finish may be nil.
func NewChatStream(conversationID string, inner *rag.Stream, finish func(answer string, err error)) *ChatStream {
	cs := &ChatStream{
		ConversationID: conversationID,
		inner:          inner,
		events:         make(chan rag.Event, 16),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	go cs.forward(finish)
	return cs
}

func (s *ChatStream) Events() <-chan rag.Event { return s.events }

// Close stops generation and returns once the answer so far is stored.
// It is safe to call after the stream finished on its own.
func (s *ChatStream) Close() {
	s.once.Do(func() { close(s.stop) })
	s.inner.Close()
	<-s.done
}

func (s *ChatStream) forward(finish func(answer string, err error)) {
	defer close(s.done)

	stopped := false
	for ev := range s.inner.Events() {
		if stopped {
			continue
		}
		select {
		case s.events <- ev:
		case <-s.stop:
			stopped = true
		}
	}
	close(s.events)

	answer, err := s.inner.Wait()
	if finish != nil {
		finish(answer, err)
	}
}
