package services

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/yoodocs/internal/models"
	"github.com/yoockh/yoodocs/internal/providers/embedding"
	"github.com/yoockh/yoodocs/internal/rag"
	"github.com/yoockh/yoodocs/internal/utils"
)

func quietLogger() *logrus.Logger {
	l, _ := test.NewNullLogger()
	return l
}

// ---- users ----

type fakeUsers struct {
	mu     sync.Mutex
	byID   map[string]*models.User
	resets map[string]*models.PasswordReset
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: map[string]*models.User{}, resets: map[string]*models.PasswordReset{}}
}

func (f *fakeUsers) Create(_ context.Context, u *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, x := range f.byID {
		if x.Email == u.Email {
			return utils.ErrDuplicate
		}
	}
	cp := *u
	f.byID[u.ID] = &cp
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil, utils.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, utils.ErrNotFound
}

func (f *fakeUsers) List(_ context.Context, limit, offset int) ([]models.User, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.User
	for _, u := range f.byID {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	total := int64(len(out))
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (f *fakeUsers) UpdateRole(_ context.Context, id string, role models.UserRole) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return utils.ErrNotFound
	}
	u.Role = role
	return nil
}

func (f *fakeUsers) UpdatePassword(_ context.Context, id, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return utils.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (f *fakeUsers) Update(_ context.Context, id string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return utils.ErrNotFound
	}
	if email, ok := fields["email"].(string); ok {
		for _, x := range f.byID {
			if x.ID != id && x.Email == email {
				return utils.ErrDuplicate
			}
		}
		u.Email = email
	}
	if name, ok := fields["name"].(string); ok {
		u.Name = name
	}
	if hash, ok := fields["password_hash"].(string); ok {
		u.PasswordHash = hash
	}
	if role, ok := fields["role"].(models.UserRole); ok {
		u.Role = role
	}
	return nil
}

func (f *fakeUsers) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return utils.ErrNotFound
	}
	delete(f.byID, id)
	return nil
}

func (f *fakeUsers) CreateReset(_ context.Context, r *models.PasswordReset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *r
	f.resets[r.TokenHash] = &cp
	return nil
}

func (f *fakeUsers) GetReset(_ context.Context, hash string) (*models.PasswordReset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.resets[hash]
	if !ok {
		return nil, utils.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeUsers) MarkResetUsed(_ context.Context, hash string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.resets[hash]; ok && r.UsedAt == nil {
		r.UsedAt = &at
	}
	return nil
}

// ---- documents ----

type fakeDocs struct {
	mu   sync.Mutex
	rows map[string]*models.Document
}

func newFakeDocs() *fakeDocs { return &fakeDocs{rows: map[string]*models.Document{}} }

func (f *fakeDocs) Create(_ context.Context, d *models.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *d
	f.rows[d.ID] = &cp
	return nil
}

func (f *fakeDocs) GetByID(_ context.Context, id string) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.rows[id]
	if !ok {
		return nil, utils.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDocs) ListByOwner(_ context.Context, ownerID string, _, _ int) ([]models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Document
	for _, d := range f.rows {
		if d.OwnerID == ownerID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeDocs) ListAll(_ context.Context, _, _ int) ([]models.Document, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Document
	for _, d := range f.rows {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (f *fakeDocs) Search(_ context.Context, ownerID, q string, _ int) ([]models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Document
	q = strings.ToLower(q)
	for _, d := range f.rows {
		if d.OwnerID == ownerID && (strings.Contains(strings.ToLower(d.Title), q) || strings.Contains(strings.ToLower(d.Content), q)) {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeDocs) Update(_ context.Context, id string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.rows[id]
	if !ok {
		return utils.ErrNotFound
	}
	for k, v := range fields {
		switch k {
		case "title":
			d.Title = v.(string)
		case "content":
			d.Content = v.(string)
		case "status":
			d.Status = v.(models.DocumentStatus)
		case "chunk_count":
			d.ChunkCount = v.(int)
		case "last_error":
			d.LastError = v.(string)
		}
	}
	return nil
}

func (f *fakeDocs) SetStatus(ctx context.Context, id string, status models.DocumentStatus, n int, lastErr string) error {
	return f.Update(ctx, id, map[string]any{"status": status, "chunk_count": n, "last_error": lastErr})
}

func (f *fakeDocs) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[id]; !ok {
		return utils.ErrNotFound
	}
	delete(f.rows, id)
	return nil
}

func (f *fakeDocs) CompletedIDs(_ context.Context, ownerID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []string{}
	for _, d := range f.rows {
		if d.OwnerID == ownerID && d.Status == models.DocumentCompleted {
			out = append(out, d.ID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeDocs) ExistingIDs(_ context.Context, ids []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []string{}
	for _, id := range ids {
		if _, ok := f.rows[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeDocs) Titles(_ context.Context, ids []string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]string{}
	for _, id := range ids {
		if d, ok := f.rows[id]; ok {
			out[id] = d.Title
		}
	}
	return out, nil
}

func (f *fakeDocs) CountByStatus(context.Context) (map[models.DocumentStatus]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[models.DocumentStatus]int64{}
	for _, d := range f.rows {
		out[d.Status]++
	}
	return out, nil
}

// ---- conversations ----

type fakeConvos struct {
	mu    sync.Mutex
	rows  map[string]*models.Conversation
	turns []models.ChatTurn
}

func newFakeConvos() *fakeConvos { return &fakeConvos{rows: map[string]*models.Conversation{}} }

func (f *fakeConvos) Create(_ context.Context, c *models.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	f.rows[c.ID] = &cp
	return nil
}

func (f *fakeConvos) GetByID(_ context.Context, id string) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[id]
	if !ok {
		return nil, utils.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeConvos) ListByOwner(_ context.Context, ownerID string, _, _ int) ([]models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Conversation
	for _, c := range f.rows {
		if c.OwnerID == ownerID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeConvos) Update(_ context.Context, id string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[id]
	if !ok {
		return utils.ErrNotFound
	}
	if t, ok := fields["title"].(string); ok {
		c.Title = t
	}
	return nil
}

func (f *fakeConvos) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[id]; !ok {
		return utils.ErrNotFound
	}
	delete(f.rows, id)
	kept := f.turns[:0]
	for _, t := range f.turns {
		if t.ConversationID != id {
			kept = append(kept, t)
		}
	}
	f.turns = kept
	return nil
}

func (f *fakeConvos) DeleteByOwner(_ context.Context, ownerID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, c := range f.rows {
		if c.OwnerID == ownerID {
			delete(f.rows, id)
			n++
		}
	}
	kept := f.turns[:0]
	for _, t := range f.turns {
		if t.OwnerID != ownerID {
			kept = append(kept, t)
		}
	}
	f.turns = kept
	return n, nil
}

func (f *fakeConvos) AppendTurn(_ context.Context, t *models.ChatTurn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, *t)
	return nil
}

func (f *fakeConvos) ListTurns(_ context.Context, id string, _ int) ([]models.ChatTurn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ChatTurn
	for _, t := range f.turns {
		if t.ConversationID == id {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeConvos) RecentTurns(ctx context.Context, id string, n int) ([]models.ChatTurn, error) {
	all, _ := f.ListTurns(ctx, id, 0)
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func (f *fakeConvos) CountTurns(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.turns)), nil
}

func (f *fakeConvos) LatestTurns(_ context.Context, limit int) ([]models.ChatTurn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.ChatTurn, 0, len(f.turns))
	for i := len(f.turns) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, f.turns[i])
	}
	return out, nil
}

// ---- chunk mirror ----

type fakeChunks struct {
	mu          sync.Mutex
	rows        []models.ChunkRecord
	failReplace error
}

func (f *fakeChunks) ReplaceForDocument(_ context.Context, docID string, rows []models.ChunkRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReplace != nil {
		return f.failReplace
	}
	f.dropLocked(docID)
	f.rows = append(f.rows, rows...)
	return nil
}

func (f *fakeChunks) ReplaceAll(_ context.Context, rows []models.ChunkRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append([]models.ChunkRecord(nil), rows...)
	return nil
}

func (f *fakeChunks) dropLocked(docID string) int64 {
	kept := f.rows[:0]
	var n int64
	for _, r := range f.rows {
		if r.DocumentID == docID {
			n++
			continue
		}
		kept = append(kept, r)
	}
	f.rows = kept
	return n
}

func (f *fakeChunks) DeleteByDocument(_ context.Context, docID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropLocked(docID), nil
}

func (f *fakeChunks) ListByDocument(_ context.Context, docID string) ([]models.ChunkRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ChunkRecord
	for _, r := range f.rows {
		if r.DocumentID == docID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeChunks) ListAll(context.Context) ([]models.ChunkRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ChunkRecord(nil), f.rows...), nil
}

func (f *fakeChunks) Stats(context.Context) (*models.ChunkStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	per := map[string]*models.DocumentChunkStats{}
	for _, r := range f.rows {
		d, ok := per[r.DocumentID]
		if !ok {
			d = &models.DocumentChunkStats{DocumentID: r.DocumentID}
			per[r.DocumentID] = d
		}
		d.VectorCount++
		d.TotalChars += int64(r.ChunkLength)
	}
	out := &models.ChunkStats{PerDocument: []models.DocumentChunkStats{}}
	for _, d := range per {
		out.PerDocument = append(out.PerDocument, *d)
		out.TotalVectors += d.VectorCount
	}
	out.TotalDocuments = int64(len(per))
	return out, nil
}

// ---- storage ----

type fakeStore struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newFakeStore() *fakeStore { return &fakeStore{files: map[string][]byte{}} }

func (f *fakeStore) Upload(_ context.Context, name, _ string, r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[name] = b
	return name, nil
}

func (f *fakeStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.files[name]
	if !ok {
		return nil, utils.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *fakeStore) Delete(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, name)
	return nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.files)
}

// ---- llm ----

type echoLLM struct {
	mu      sync.Mutex
	prompts []string
}

func (e *echoLLM) Close() error { return nil }

// StreamAnswer answers with the text of passage [1] split in two fragments.
func (e *echoLLM) StreamAnswer(ctx context.Context, prompt string) (<-chan string, <-chan error) {
	e.mu.Lock()
	e.prompts = append(e.prompts, prompt)
	e.mu.Unlock()

	answer := rag.NotAvailableAnswer
	lines := strings.Split(prompt, "\n")
	for i, l := range lines {
		if strings.HasPrefix(l, "[1] ") && i+1 < len(lines) {
			answer = lines[i+1]
			break
		}
	}
	half := len(answer) / 2
	parts := []string{answer[:half], answer[half:]}

	out := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		for _, p := range parts {
			select {
			case out <- p:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()
	return out, errs
}

func (e *echoLLM) lastPrompt() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.prompts) == 0 {
		return ""
	}
	return e.prompts[len(e.prompts)-1]
}

// ---- wiring ----

// syncDispatcher indexes in the calling goroutine.
type syncDispatcher struct {
	indexer interface {
		ProcessIndexing(ctx context.Context, id string) error
	}
}

func (d *syncDispatcher) Dispatch(ctx context.Context, id string) error {
	return d.indexer.ProcessIndexing(ctx, id)
}

type fixture struct {
	users  *fakeUsers
	docs   *fakeDocs
	convos *fakeConvos
	chunks *fakeChunks
	store  *fakeStore
	llm    *echoLLM
	engine rag.Engine

	documents DocumentService
	chat      ChatService
	vectors   VectorService
}

type applyingPublisher struct {
	vectors func() VectorService
}

func (p *applyingPublisher) Publish(ctx context.Context, op rag.SyncOp) error {
	return p.vectors().Apply(ctx, op)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := quietLogger()

	emb := embedding.NewHashingEmbedder(256)
	idx, err := rag.OpenIndex(context.Background(), "", emb.Model(), emb.Dimensions())
	require.NoError(t, err)
	chunker, err := rag.NewWindowChunker(200, 40)
	require.NoError(t, err)

	f := &fixture{
		users:  newFakeUsers(),
		docs:   newFakeDocs(),
		convos: newFakeConvos(),
		chunks: &fakeChunks{},
		store:  newFakeStore(),
		llm:    &echoLLM{},
	}
	pub := &applyingPublisher{vectors: func() VectorService { return f.vectors }}
	f.engine = rag.NewEngine(rag.EngineDeps{
		Index:     idx,
		Chunker:   chunker,
		Embedder:  emb,
		Retriever: rag.NewRetriever(idx, emb, rag.RetrieverConfig{Lambda: rag.DefaultMMRLambda}, log),
		Generator: rag.NewGenerator(f.llm, rag.GeneratorConfig{SuppressDuplicates: true}, log),
		Estimator: rag.NewEstimator(emb),
		Critic:    rag.NewCritic(f.llm),
		Outbox:    pub,
		Logger:    log,
	}, rag.EngineConfig{TopK: 3})

	d := &syncDispatcher{}
	f.documents = NewDocumentService(f.docs, f.engine, f.store, d, log)
	d.indexer = f.documents
	f.chat = NewChatService(f.convos, f.docs, f.engine, 6, log)
	f.vectors = NewVectorService(f.engine, f.chunks, f.docs, log)
	return f
}

func (f *fixture) upload(t *testing.T, owner, name, text string) *models.Document {
	t.Helper()
	d, err := f.documents.Upload(context.Background(), UploadInput{OwnerID: owner, FileName: name, Data: []byte(text)})
	require.NoError(t, err)
	got, err := f.docs.GetByID(context.Background(), d.ID)
	require.NoError(t, err)
	return got
}
