package rag

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoodocs/internal/providers/embedding"
	"github.com/yoockh/yoodocs/internal/utils"
)

type IndexRequest struct {
	DocumentID string
	OwnerID    string
	Title      string
	Text       string
}

type QueryRequest struct {
	Query        string
	DocumentIDs  []string // nil searches every document
	K            int
	History      []Turn
	SystemPrompt string

	// set for regeneration
	Constraints    string
	PreviousAnswer string
}

type Answer struct {
	Answer        string               `json:"answer"`
	Sources       []Source             `json:"sources"`
	Passages      []Passage            `json:"-"`
	Hallucination *HallucinationReport `json:"hallucination_detection,omitempty"`
	Confidence    float64              `json:"confidence"`
}

type AnswerStream struct {
	*Stream
	Passages []Passage
}

// Engine is the retrieval side of the system. It owns the vector index; other
// components reach the index only through it.
type Engine interface {
	Index(ctx context.Context, req IndexRequest) (int, error)
	Delete(ctx context.Context, documentID string) (int, error)
	Query(ctx context.Context, req QueryRequest) (*Answer, error)
	Stream(ctx context.Context, req QueryRequest) (*AnswerStream, error)
	Regenerate(ctx context.Context, req QueryRequest) (*Answer, error)
	Inspect(ctx context.Context, query string, documentIDs []string, k int) ([]Passage, error)
	Score(ctx context.Context, answer string, passages []Passage) (*HallucinationReport, error)
	Critique(ctx context.Context, question, answer string, sources []Passage) (*Critique, error)
	Metadata() []Entry
	DocumentChunks(documentID string) []Entry
	Stats() IndexStats
	Rebuild(ctx context.Context, entries []Entry) (int, error)
}

type SyncKind string

const (
	SyncUpsert SyncKind = "upsert"
	SyncDelete SyncKind = "delete"
)

// SyncOp describes one committed index mutation for the relational mirror.
type SyncOp struct {
	Kind       SyncKind  `json:"kind"`
	DocumentID string    `json:"document_id"`
	Entries    []Entry   `json:"entries,omitempty"`
	Version    uint64    `json:"version"`
	At         time.Time `json:"at"`
}

type SyncPublisher interface {
	Publish(ctx context.Context, op SyncOp) error
}

type EngineConfig struct {
	TopK int
}

type engine struct {
	index     *Index
	chunker   Chunker
	embedder  embedding.Embedder
	retriever *Retriever
	generator *Generator
	estimator *Estimator
	critic    *Critic
	outbox    SyncPublisher
	cfg       EngineConfig
	log       logrus.FieldLogger
}

type EngineDeps struct {
	Index     *Index
	Chunker   Chunker
	Embedder  embedding.Embedder
	Retriever *Retriever
	Generator *Generator
	Estimator *Estimator
	Critic    *Critic
	Outbox    SyncPublisher
	Logger    logrus.FieldLogger
}

func NewEngine(d EngineDeps, cfg EngineConfig) Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if d.Logger == nil {
		d.Logger = logrus.New()
	}
	return &engine{
		index:     d.Index,
		chunker:   d.Chunker,
		embedder:  d.Embedder,
		retriever: d.Retriever,
		generator: d.Generator,
		estimator: d.Estimator,
		critic:    d.Critic,
		outbox:    d.Outbox,
		cfg:       cfg,
		log:       d.Logger,
	}
}

func (e *engine) publish(ctx context.Context, op SyncOp) {
	if e.outbox == nil {
		return
	}
	op.At = time.Now().UTC()
	// the mirror is best effort; a lost op is repaired by a resync
	if err := e.outbox.Publish(context.WithoutCancel(ctx), op); err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{
			"document_id": op.DocumentID,
			"kind":        op.Kind,
			"version":     op.Version,
		}).Warn("sync publish failed")
	}
}

func (e *engine) Index(ctx context.Context, req IndexRequest) (int, error) {
	const op = "Engine.Index"

	if req.DocumentID == "" {
		return 0, utils.E(utils.CodeInvalidArgument, op, "document_id is required", nil)
	}

	chunks, err := e.chunker.Split(req.DocumentID, req.Text)
	if err != nil {
		return 0, err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	var vecs [][]float32
	if len(texts) > 0 {
		vecs, err = e.embedder.Embed(ctx, texts)
		if err != nil {
			return 0, utils.E(utils.CodeUnavailable, op, "failed to embed chunks", err)
		}
		if len(vecs) != len(texts) {
			return 0, utils.E(utils.CodeUnavailable, op, "embedding count mismatch", nil)
		}
	}

	entries := make([]Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = Entry{
			DocumentID: req.DocumentID,
			OwnerID:    req.OwnerID,
			Title:      req.Title,
			ChunkIndex: c.Index,
			Text:       c.Text,
			Model:      e.embedder.Model(),
			Vector:     vecs[i],
		}
	}

	stored, version, err := e.index.Replace(ctx, req.DocumentID, entries)
	if err != nil {
		return 0, err
	}

	e.log.WithFields(logrus.Fields{
		"document_id": req.DocumentID,
		"chunks":      len(stored),
		"version":     version,
	}).Info("document indexed")

	e.publish(ctx, SyncOp{Kind: SyncUpsert, DocumentID: req.DocumentID, Entries: stored, Version: version})
	return len(stored), nil
}

func (e *engine) Delete(ctx context.Context, documentID string) (int, error) {
	removed, version, err := e.index.DeleteDocument(ctx, documentID)
	if err != nil {
		return 0, err
	}
	e.log.WithFields(logrus.Fields{
		"document_id": documentID,
		"removed":     removed,
		"version":     version,
	}).Info("document removed from index")

	e.publish(ctx, SyncOp{Kind: SyncDelete, DocumentID: documentID, Version: version})
	return removed, nil
}

func (e *engine) k(k int) int {
	if k <= 0 {
		return e.cfg.TopK
	}
	return k
}

func (e *engine) generateRequest(req QueryRequest, passages []Passage) GenerateRequest {
	return GenerateRequest{
		Query:          req.Query,
		Passages:       passages,
		History:        req.History,
		SystemPrompt:   req.SystemPrompt,
		Constraints:    req.Constraints,
		PreviousAnswer: req.PreviousAnswer,
	}
}

func (e *engine) Query(ctx context.Context, req QueryRequest) (*Answer, error) {
	const op = "Engine.Query"

	if strings.TrimSpace(req.Query) == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "query is required", nil)
	}

	passages, err := e.retriever.Retrieve(ctx, req.Query, req.DocumentIDs, e.k(req.K))
	if err != nil {
		return nil, err
	}

	text, err := e.generator.Complete(ctx, e.generateRequest(req, passages))
	if err != nil {
		return nil, err
	}

	ans := &Answer{
		Answer:     text,
		Sources:    SourcesFrom(passages),
		Passages:   passages,
		Confidence: Confidence(text, passages),
	}
	if report, err := e.estimator.Score(ctx, text, passages); err != nil {
		e.log.WithError(err).Warn("hallucination scoring failed")
	} else {
		ans.Hallucination = report
	}
	return ans, nil
}

func (e *engine) Stream(ctx context.Context, req QueryRequest) (*AnswerStream, error) {
	const op = "Engine.Stream"

	if strings.TrimSpace(req.Query) == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "query is required", nil)
	}

	passages, err := e.retriever.Retrieve(ctx, req.Query, req.DocumentIDs, e.k(req.K))
	if err != nil {
		return nil, err
	}
	s, err := e.generator.Generate(ctx, e.generateRequest(req, passages))
	if err != nil {
		return nil, err
	}
	return &AnswerStream{Stream: s, Passages: passages}, nil
}

func (e *engine) Regenerate(ctx context.Context, req QueryRequest) (*Answer, error) {
	const op = "Engine.Regenerate"

	if strings.TrimSpace(req.Constraints) == "" && strings.TrimSpace(req.PreviousAnswer) == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "constraints or previous answer required", nil)
	}
	return e.Query(ctx, req)
}

func (e *engine) Inspect(ctx context.Context, query string, documentIDs []string, k int) ([]Passage, error) {
	const op = "Engine.Inspect"

	if strings.TrimSpace(query) == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "query is required", nil)
	}
	return e.retriever.Retrieve(ctx, query, documentIDs, e.k(k))
}

func (e *engine) Score(ctx context.Context, answer string, passages []Passage) (*HallucinationReport, error) {
	return e.estimator.Score(ctx, answer, passages)
}

func (e *engine) Critique(ctx context.Context, question, answer string, sources []Passage) (*Critique, error) {
	return e.critic.Critique(ctx, question, answer, sources)
}

func (e *engine) Metadata() []Entry { return e.index.Entries() }

func (e *engine) DocumentChunks(documentID string) []Entry { return e.index.DocumentEntries(documentID) }

func (e *engine) Stats() IndexStats { return e.index.Stats() }

// Rebuild replaces the index with entries, reusing stored vectors from the
// current model and re-embedding the rest. Each document is republished so
// the mirror picks up the new positions.
func (e *engine) Rebuild(ctx context.Context, entries []Entry) (int, error) {
	const op = "Engine.Rebuild"

	model, dims := e.embedder.Model(), e.embedder.Dimensions()
	var missIdx []int
	var missTexts []string
	for i := range entries {
		if entries[i].Model == model && len(entries[i].Vector) == dims {
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, entries[i].Text)
	}
	if len(missTexts) > 0 {
		vecs, err := e.embedder.Embed(ctx, missTexts)
		if err != nil {
			return 0, utils.E(utils.CodeUnavailable, op, "failed to re-embed chunks", err)
		}
		if len(vecs) != len(missTexts) {
			return 0, utils.E(utils.CodeUnavailable, op, "embedding count mismatch", nil)
		}
		for j, i := range missIdx {
			entries[i].Vector = vecs[j]
			entries[i].Model = model
		}
	}

	stored, version, err := e.index.Reset(ctx, entries)
	if err != nil {
		return 0, err
	}

	byDoc := map[string][]Entry{}
	var order []string
	for _, s := range stored {
		if _, ok := byDoc[s.DocumentID]; !ok {
			order = append(order, s.DocumentID)
		}
		byDoc[s.DocumentID] = append(byDoc[s.DocumentID], s)
	}
	for _, id := range order {
		e.publish(ctx, SyncOp{Kind: SyncUpsert, DocumentID: id, Entries: byDoc[id], Version: version})
	}

	e.log.WithFields(logrus.Fields{
		"entries":   len(stored),
		"re_embed":  len(missTexts),
		"documents": len(order),
		"version":   version,
	}).Info("index rebuilt")
	return len(stored), nil
}
