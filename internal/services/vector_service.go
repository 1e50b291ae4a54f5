package services

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoodocs/internal/models"
	"github.com/yoockh/yoodocs/internal/rag"
	pgrepo "github.com/yoockh/yoodocs/internal/repositories/postgres"
	"github.com/yoockh/yoodocs/internal/utils"
)

// Actor is the caller of an operation that admins may run across owners.
type Actor struct {
	UserID string
	Admin  bool
}

type SyncResult struct {
	Synced  int `json:"synced"`
	Skipped int `json:"skipped"`
	Total   int `json:"total"`
}

type ChunkView struct {
	Position       int64  `json:"index_position"`
	ChunkIndex     int    `json:"chunk_index"`
	Text           string `json:"text"`
	ChunkLength    int    `json:"chunk_length"`
	EmbeddingModel string `json:"embedding_model"`
}

type DocumentChunks struct {
	DocumentID string      `json:"document_id"`
	Count      int         `json:"count"`
	Chunks     []ChunkView `json:"chunks"`
}

type VectorStats struct {
	Index      rag.IndexStats     `json:"vector_index"`
	Relational *models.ChunkStats `json:"relational,omitempty"`
	InSync     *bool              `json:"in_sync,omitempty"`
}

// VectorService is the relational side of the sync bridge plus the vector
// admin surface.
type VectorService interface {
	Apply(ctx context.Context, op rag.SyncOp) error
	Sync(ctx context.Context, entries []rag.Entry) (*SyncResult, error)
	Resync(ctx context.Context) (*SyncResult, error)
	GetChunks(ctx context.Context, actor Actor, documentID string) (*DocumentChunks, error)
	DeleteChunks(ctx context.Context, documentID string) (int, error)
	Stats(ctx context.Context, actor Actor) (*VectorStats, error)
	Rebuild(ctx context.Context) (int, error)
}

type vectorService struct {
	engine rag.Engine
	chunks pgrepo.ChunkRepository
	docs   pgrepo.DocumentRepository
	log    *logrus.Logger

	// newest op version applied per document; older ops are dropped
	mu      sync.Mutex
	applied map[string]uint64
}

func NewVectorService(engine rag.Engine, chunks pgrepo.ChunkRepository, docs pgrepo.DocumentRepository, log *logrus.Logger) VectorService {
	return &vectorService{engine: engine, chunks: chunks, docs: docs, log: log, applied: map[string]uint64{}}
}

func toRecord(e rag.Entry) models.ChunkRecord {
	r := models.ChunkRecord{
		ID:             uuid.NewString(),
		DocumentID:     e.DocumentID,
		OwnerID:        e.OwnerID,
		ChunkIndex:     e.ChunkIndex,
		Text:           e.Text,
		IndexPosition:  e.Position,
		EmbeddingModel: e.Model,
		ChunkLength:    len([]rune(e.Text)),
	}
	if len(e.Vector) > 0 {
		v := pgvector.NewVector(e.Vector)
		r.Embedding = &v
	}
	return r
}

func toEntry(r models.ChunkRecord, title string) rag.Entry {
	e := rag.Entry{
		DocumentID: r.DocumentID,
		OwnerID:    r.OwnerID,
		Title:      title,
		ChunkIndex: r.ChunkIndex,
		Text:       r.Text,
		Model:      r.EmbeddingModel,
	}
	if r.Embedding != nil {
		e.Vector = r.Embedding.Slice()
	}
	return e
}

func (s *vectorService) stale(op rag.SyncOp) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.applied[op.DocumentID]
	return ok && op.Version < last
}

// markApplied advances the per-document watermark once an op took effect.
func (s *vectorService) markApplied(op rag.SyncOp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.applied[op.DocumentID]; !ok || op.Version > last {
		s.applied[op.DocumentID] = op.Version
	}
}

func (s *vectorService) Apply(ctx context.Context, op rag.SyncOp) error {
	const opName = "VectorService.Apply"

	if op.DocumentID == "" {
		return utils.E(utils.CodeInvalidArgument, opName, "document_id is required", nil)
	}
	if s.stale(op) {
		s.log.WithFields(logrus.Fields{"document_id": op.DocumentID, "version": op.Version}).Debug("skipping stale sync op")
		return nil
	}
	if err := s.apply(ctx, op); err != nil {
		return err
	}
	s.markApplied(op)
	return nil
}

func (s *vectorService) apply(ctx context.Context, op rag.SyncOp) error {
	const opName = "VectorService.Apply"

	switch op.Kind {
	case rag.SyncDelete:
		if _, err := s.chunks.DeleteByDocument(ctx, op.DocumentID); err != nil {
			return utils.E(utils.CodeUnavailable, opName, "failed to delete mirrored chunks", err)
		}
		return nil
	case rag.SyncUpsert:
		exists, err := s.docs.ExistingIDs(ctx, []string{op.DocumentID})
		if err != nil {
			return utils.E(utils.CodeUnavailable, opName, "failed to check document", err)
		}
		if len(exists) == 0 {
			// document row already gone; mirroring would orphan rows
			return nil
		}
		rows := make([]models.ChunkRecord, len(op.Entries))
		for i, e := range op.Entries {
			rows[i] = toRecord(e)
		}
		if err := s.chunks.ReplaceForDocument(ctx, op.DocumentID, rows); err != nil {
			return utils.E(utils.CodeUnavailable, opName, "failed to mirror chunks", err)
		}
		return nil
	default:
		return utils.E(utils.CodeInvalidArgument, opName, "unknown sync kind: "+string(op.Kind), nil)
	}
}

// Sync replaces every mirrored row with entries. Entries whose document has
// no relational row are skipped.
func (s *vectorService) Sync(ctx context.Context, entries []rag.Entry) (*SyncResult, error) {
	const op = "VectorService.Sync"

	seen := map[string]struct{}{}
	var ids []string
	for _, e := range entries {
		if _, ok := seen[e.DocumentID]; !ok {
			seen[e.DocumentID] = struct{}{}
			ids = append(ids, e.DocumentID)
		}
	}
	existing, err := s.docs.ExistingIDs(ctx, ids)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to check documents", err)
	}
	known := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		known[id] = struct{}{}
	}

	res := &SyncResult{Total: len(entries)}
	rows := make([]models.ChunkRecord, 0, len(entries))
	for _, e := range entries {
		if _, ok := known[e.DocumentID]; !ok {
			res.Skipped++
			continue
		}
		rows = append(rows, toRecord(e))
	}
	if err := s.chunks.ReplaceAll(ctx, rows); err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to replace mirrored chunks", err)
	}
	res.Synced = len(rows)

	s.log.WithFields(logrus.Fields{"synced": res.Synced, "skipped": res.Skipped}).Info("vector metadata synced")
	return res, nil
}

func (s *vectorService) Resync(ctx context.Context) (*SyncResult, error) {
	return s.Sync(ctx, s.engine.Metadata())
}

func (s *vectorService) GetChunks(ctx context.Context, actor Actor, documentID string) (*DocumentChunks, error) {
	const op = "VectorService.GetChunks"

	d, err := s.docs.GetByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "document not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get document", err)
	}
	if !actor.Admin && d.OwnerID != actor.UserID {
		return nil, utils.E(utils.CodeForbidden, op, "document belongs to another user", nil)
	}

	entries := s.engine.DocumentChunks(documentID)
	out := &DocumentChunks{DocumentID: documentID, Count: len(entries), Chunks: make([]ChunkView, 0, len(entries))}
	for _, e := range entries {
		out.Chunks = append(out.Chunks, ChunkView{
			Position:       e.Position,
			ChunkIndex:     e.ChunkIndex,
			Text:           e.Text,
			ChunkLength:    len([]rune(e.Text)),
			EmbeddingModel: e.Model,
		})
	}
	return out, nil
}

func (s *vectorService) DeleteChunks(ctx context.Context, documentID string) (int, error) {
	const op = "VectorService.DeleteChunks"

	if documentID == "" {
		return 0, utils.E(utils.CodeInvalidArgument, op, "document_id is required", nil)
	}
	n, err := s.engine.Delete(ctx, documentID)
	if err != nil {
		return 0, utils.E(utils.CodeUnavailable, op, "failed to delete vectors", err)
	}
	return n, nil
}

// Stats reports the index view; admins also get the relational totals.
func (s *vectorService) Stats(ctx context.Context, actor Actor) (*VectorStats, error) {
	const op = "VectorService.Stats"

	st := s.engine.Stats()
	if !actor.Admin {
		mine := []rag.DocumentStats{}
		total := 0
		for _, d := range st.PerDocument {
			if d.OwnerID == actor.UserID {
				mine = append(mine, d)
				total += d.VectorCount
			}
		}
		st.PerDocument = mine
		st.PerOwner = map[string]int{actor.UserID: total}
		st.TotalVectors = total
		st.TotalDocuments = len(mine)
		return &VectorStats{Index: st}, nil
	}

	rel, err := s.chunks.Stats(ctx)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to load relational stats", err)
	}
	inSync := rel.TotalVectors == int64(st.TotalVectors) && rel.TotalDocuments == int64(st.TotalDocuments)
	return &VectorStats{Index: st, Relational: rel, InSync: &inSync}, nil
}

// Rebuild reloads the vector index from the relational chunk rows.
func (s *vectorService) Rebuild(ctx context.Context) (int, error) {
	const op = "VectorService.Rebuild"

	rows, err := s.chunks.ListAll(ctx)
	if err != nil {
		return 0, utils.E(utils.CodeInternal, op, "failed to load chunks", err)
	}

	seen := map[string]struct{}{}
	var ids []string
	for _, r := range rows {
		if _, ok := seen[r.DocumentID]; !ok {
			seen[r.DocumentID] = struct{}{}
			ids = append(ids, r.DocumentID)
		}
	}
	titles, err := s.docs.Titles(ctx, ids)
	if err != nil {
		return 0, utils.E(utils.CodeInternal, op, "failed to load titles", err)
	}

	entries := make([]rag.Entry, 0, len(rows))
	for _, r := range rows {
		title, ok := titles[r.DocumentID]
		if !ok {
			continue
		}
		entries = append(entries, toEntry(r, title))
	}
	return s.engine.Rebuild(ctx, entries)
}
