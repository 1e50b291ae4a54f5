package rag

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/yoockh/yoodocs/internal/utils"
)

// Entry is one stored chunk vector with its metadata.
type Entry struct {
	Position   int64     `json:"position"`
	DocumentID string    `json:"document_id"`
	OwnerID    string    `json:"owner_id"`
	Title      string    `json:"title"`
	ChunkIndex int       `json:"chunk_index"`
	Text       string    `json:"text"`
	Model      string    `json:"embedding_model"`
	Vector     []float32 `json:"vector,omitempty"`
}

type Hit struct {
	Entry
	Score float64
}

type DocumentStats struct {
	DocumentID  string `json:"document_id"`
	OwnerID     string `json:"owner_id"`
	VectorCount int    `json:"vector_count"`
	TotalChars  int    `json:"total_chars"`
}

type IndexStats struct {
	Model          string          `json:"embedding_model"`
	Dimensions     int             `json:"dimensions"`
	Version        uint64          `json:"version"`
	TotalVectors   int             `json:"total_vectors"`
	TotalDocuments int             `json:"total_documents"`
	PerDocument    []DocumentStats `json:"per_document"`
	PerOwner       map[string]int  `json:"per_owner"`
}

// Index is the single owned handle to the vector index. All mutations are
// serialized by mu and bump version, which survives reopening a file index;
// readers see a consistent snapshot.
type Index struct {
	mu      sync.RWMutex
	store   *indexStore
	model   string
	dims    int
	version uint64
	nextPos int64
	entries []Entry // ordered by position
}

// OpenIndex loads the index file at path, or keeps the index in memory when
// path is empty. A non-empty index built with another model or dimension is
// rejected.
func OpenIndex(ctx context.Context, path, model string, dims int) (*Index, error) {
	const op = "OpenIndex"

	if model == "" || dims <= 0 {
		return nil, utils.E(utils.CodeConfiguration, op, "embedding model and dimensions are required", nil)
	}
	idx := &Index{model: model, dims: dims}
	if path == "" {
		return idx, nil
	}

	store, err := openIndexStore(path)
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to open index file", err)
	}

	meta, err := store.meta(ctx)
	if err != nil {
		_ = store.Close()
		return nil, utils.E(utils.CodeUnavailable, op, "failed to read index metadata", err)
	}
	entries, err := store.load(ctx)
	if err != nil {
		_ = store.Close()
		return nil, utils.E(utils.CodeUnavailable, op, "failed to load index entries", err)
	}

	if len(entries) > 0 && (meta.model != model || meta.dims != dims) {
		_ = store.Close()
		msg := fmt.Sprintf("index was built with model %q (%d dims), configured model is %q (%d dims); rebuild the index", meta.model, meta.dims, model, dims)
		return nil, utils.E(utils.CodeConfiguration, op, msg, nil)
	}
	if err := store.setMeta(ctx, model, dims); err != nil {
		_ = store.Close()
		return nil, utils.E(utils.CodeUnavailable, op, "failed to write index metadata", err)
	}

	idx.store = store
	idx.entries = entries
	idx.nextPos = meta.nextPos
	idx.version = meta.version
	for _, e := range entries {
		if e.Position >= idx.nextPos {
			idx.nextPos = e.Position + 1
		}
	}
	return idx, nil
}

func (x *Index) Close() error {
	if x.store == nil {
		return nil
	}
	return x.store.Close()
}

func (x *Index) Model() string   { return x.model }
func (x *Index) Dimensions() int { return x.dims }

func (x *Index) Version() uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.version
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

func (x *Index) check(op string, entries []Entry) error {
	for _, e := range entries {
		if e.DocumentID == "" {
			return utils.E(utils.CodeInvalidArgument, op, "entry without document id", nil)
		}
		if len(e.Vector) != x.dims {
			return utils.E(utils.CodeConfiguration, op, fmt.Sprintf("vector has %d dims, index expects %d", len(e.Vector), x.dims), nil)
		}
		if e.Model != x.model {
			return utils.E(utils.CodeConfiguration, op, fmt.Sprintf("entry embedded with %q, index uses %q", e.Model, x.model), nil)
		}
	}
	return nil
}

// Replace swaps every entry of documentID for entries, assigning fresh
// positions. It returns the stored entries and the new version.
func (x *Index) Replace(ctx context.Context, documentID string, entries []Entry) ([]Entry, uint64, error) {
	const op = "Index.Replace"

	if documentID == "" {
		return nil, 0, utils.E(utils.CodeInvalidArgument, op, "document id is required", nil)
	}
	for i := range entries {
		entries[i].DocumentID = documentID
	}
	if err := x.check(op, entries); err != nil {
		return nil, 0, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	stored := make([]Entry, len(entries))
	next := x.nextPos
	for i, e := range entries {
		e.Position = next
		next++
		stored[i] = e
	}

	if x.store != nil {
		if err := x.store.replace(ctx, documentID, stored, next, x.version+1); err != nil {
			return nil, 0, utils.E(utils.CodeUnavailable, op, "failed to persist index entries", err)
		}
	}

	kept := x.entries[:0:0]
	for _, e := range x.entries {
		if e.DocumentID != documentID {
			kept = append(kept, e)
		}
	}
	x.entries = append(kept, stored...)
	x.nextPos = next
	x.version++
	return stored, x.version, nil
}

// DeleteDocument removes every entry of documentID and reports how many were
// removed. Deleting an unknown document is a no-op.
func (x *Index) DeleteDocument(ctx context.Context, documentID string) (int, uint64, error) {
	const op = "Index.DeleteDocument"

	if documentID == "" {
		return 0, 0, utils.E(utils.CodeInvalidArgument, op, "document id is required", nil)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	kept := make([]Entry, 0, len(x.entries))
	for _, e := range x.entries {
		if e.DocumentID != documentID {
			kept = append(kept, e)
		}
	}
	removed := len(x.entries) - len(kept)
	if removed == 0 {
		return 0, x.version, nil
	}

	if x.store != nil {
		if err := x.store.replace(ctx, documentID, nil, x.nextPos, x.version+1); err != nil {
			return 0, 0, utils.E(utils.CodeUnavailable, op, "failed to persist deletion", err)
		}
	}
	x.entries = kept
	x.version++
	return removed, x.version, nil
}

// Reset replaces the whole index content.
func (x *Index) Reset(ctx context.Context, entries []Entry) ([]Entry, uint64, error) {
	const op = "Index.Reset"

	if err := x.check(op, entries); err != nil {
		return nil, 0, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	stored := make([]Entry, len(entries))
	next := x.nextPos
	for i, e := range entries {
		e.Position = next
		next++
		stored[i] = e
	}
	if x.store != nil {
		if err := x.store.replace(ctx, "", stored, next, x.version+1); err != nil {
			return nil, 0, utils.E(utils.CodeUnavailable, op, "failed to persist index", err)
		}
	}
	x.entries = stored
	x.nextPos = next
	x.version++
	return stored, x.version, nil
}

// Search returns up to n entries accepted by allow, best cosine score first.
// A nil allow accepts everything.
func (x *Index) Search(query []float32, n int, allow func(*Entry) bool) []Hit {
	if n <= 0 || len(query) != x.dims {
		return nil
	}

	x.mu.RLock()
	hits := make([]Hit, 0, min(n, len(x.entries)))
	for i := range x.entries {
		e := &x.entries[i]
		if allow != nil && !allow(e) {
			continue
		}
		hits = append(hits, Hit{Entry: *e, Score: Cosine(query, e.Vector)})
	}
	x.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > n {
		hits = hits[:n]
	}
	return hits
}

// Entries returns a copy of every entry ordered by position. Vectors are
// shared with the index and must not be modified.
func (x *Index) Entries() []Entry {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return append([]Entry(nil), x.entries...)
}

// DocumentEntries returns the entries of one document ordered by chunk index.
func (x *Index) DocumentEntries(documentID string) []Entry {
	x.mu.RLock()
	var out []Entry
	for _, e := range x.entries {
		if e.DocumentID == documentID {
			out = append(out, e)
		}
	}
	x.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out
}

func (x *Index) Stats() IndexStats {
	x.mu.RLock()
	defer x.mu.RUnlock()

	st := IndexStats{
		Model:        x.model,
		Dimensions:   x.dims,
		Version:      x.version,
		TotalVectors: len(x.entries),
		PerOwner:     map[string]int{},
	}
	perDoc := map[string]*DocumentStats{}
	for _, e := range x.entries {
		d, ok := perDoc[e.DocumentID]
		if !ok {
			d = &DocumentStats{DocumentID: e.DocumentID, OwnerID: e.OwnerID}
			perDoc[e.DocumentID] = d
		}
		d.VectorCount++
		d.TotalChars += len([]rune(e.Text))
		st.PerOwner[e.OwnerID]++
	}
	for _, d := range perDoc {
		st.PerDocument = append(st.PerDocument, *d)
	}
	sort.Slice(st.PerDocument, func(i, j int) bool { return st.PerDocument[i].DocumentID < st.PerDocument[j].DocumentID })
	st.TotalDocuments = len(st.PerDocument)
	return st
}
