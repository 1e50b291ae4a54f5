package services

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoodocs/internal/extract"
	"github.com/yoockh/yoodocs/internal/models"
	"github.com/yoockh/yoodocs/internal/rag"
	pgrepo "github.com/yoockh/yoodocs/internal/repositories/postgres"
	"github.com/yoockh/yoodocs/internal/storage"
	"github.com/yoockh/yoodocs/internal/utils"
)

// IndexDispatcher schedules ProcessIndexing for a stored document.
type IndexDispatcher interface {
	Dispatch(ctx context.Context, documentID string) error
}

type UploadInput struct {
	OwnerID  string
	Title    string
	FileName string
	Data     []byte
}

type DocumentUpdate struct {
	Title   *string `json:"title"`
	Content *string `json:"content"`
}

type DocumentStatusView struct {
	ID            string                `json:"id"`
	Status        models.DocumentStatus `json:"status"`
	ChunkCount    int                   `json:"chunk_count"`
	IndexedChunks int                   `json:"indexed_chunks"`
	LastError     string                `json:"last_error,omitempty"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

type DocumentService interface {
	Upload(ctx context.Context, in UploadInput) (*models.Document, error)
	ProcessIndexing(ctx context.Context, documentID string) error
	Get(ctx context.Context, ownerID, id string) (*models.Document, error)
	List(ctx context.Context, ownerID string, limit, offset int) ([]models.Document, error)
	Update(ctx context.Context, ownerID, id string, in DocumentUpdate) (*models.Document, error)
	Delete(ctx context.Context, ownerID, id string) error
	Search(ctx context.Context, ownerID, query string) ([]models.Document, error)
	Status(ctx context.Context, ownerID, id string) (*DocumentStatusView, error)
	Reindex(ctx context.Context, ownerID, id string) (*models.Document, error)
}

type documentService struct {
	docs       pgrepo.DocumentRepository
	engine     rag.Engine
	store      storage.Store
	dispatcher IndexDispatcher
	log        *logrus.Logger
}

func NewDocumentService(docs pgrepo.DocumentRepository, engine rag.Engine, store storage.Store, dispatcher IndexDispatcher, log *logrus.Logger) DocumentService {
	return &documentService{docs: docs, engine: engine, store: store, dispatcher: dispatcher, log: log}
}

// errorMessage keeps the safe part of an error for the last_error column.
func errorMessage(err error) string {
	var ae *utils.AppError
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return "indexing failed"
}

// owned loads a document and checks it belongs to ownerID.
func (s *documentService) owned(ctx context.Context, op, ownerID, id string) (*models.Document, error) {
	if ownerID == "" || id == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "owner and document id are required", nil)
	}
	d, err := s.docs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "document not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get document", err)
	}
	if d.OwnerID != ownerID {
		return nil, utils.E(utils.CodeForbidden, op, "document belongs to another user", nil)
	}
	return d, nil
}

func (s *documentService) Upload(ctx context.Context, in UploadInput) (*models.Document, error) {
	const op = "DocumentService.Upload"

	if in.OwnerID == "" || in.FileName == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "owner and file name are required", nil)
	}
	if !extract.Supported(in.FileName) {
		return nil, utils.E(utils.CodeInvalidArgument, op, "only .pdf, .txt and .md files are supported", nil)
	}
	if len(in.Data) == 0 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "file is empty", nil)
	}

	text, err := extract.Text(in.FileName, in.Data)
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(in.FileName), filepath.Ext(in.FileName))
	}

	id := uuid.NewString()
	ext := strings.ToLower(filepath.Ext(in.FileName))
	mime := extract.MimeType(in.FileName)
	objectName := "documents/" + in.OwnerID + "/" + id + ext

	storedPath, err := s.store.Upload(ctx, objectName, mime, bytes.NewReader(in.Data))
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to store file", err)
	}

	now := time.Now().UTC()
	d := &models.Document{
		ID:          id,
		OwnerID:     in.OwnerID,
		Title:       title,
		FileName:    filepath.Base(in.FileName),
		MimeType:    mime,
		FileSize:    int64(len(in.Data)),
		StoragePath: storedPath,
		Content:     rag.NormalizeText(text),
		Status:      models.DocumentPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.docs.Create(ctx, d); err != nil {
		_ = s.store.Delete(context.WithoutCancel(ctx), storedPath)
		return nil, utils.E(utils.CodeInternal, op, "failed to persist document", err)
	}

	log := s.log.WithFields(logrus.Fields{"document_id": id, "owner_id": in.OwnerID})
	if err := s.dispatcher.Dispatch(ctx, id); err != nil {
		log.WithError(err).Error("failed to dispatch indexing")
		d.Status, d.LastError = models.DocumentFailed, "failed to schedule indexing"
		if err := s.docs.SetStatus(ctx, id, d.Status, 0, d.LastError); err != nil {
			log.WithError(err).Warn("failed to record dispatch failure")
		}
		return d, nil
	}
	log.WithField("bytes", d.FileSize).Info("document uploaded")
	return d, nil
}

// ProcessIndexing moves a document through processing to completed or failed.
func (s *documentService) ProcessIndexing(ctx context.Context, documentID string) error {
	const op = "DocumentService.ProcessIndexing"

	d, err := s.docs.GetByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			// deleted before the job ran
			return nil
		}
		return utils.E(utils.CodeInternal, op, "failed to get document", err)
	}
	_, err = s.index(ctx, op, d)
	return err
}

func (s *documentService) index(ctx context.Context, op string, d *models.Document) (int, error) {
	log := s.log.WithFields(logrus.Fields{"document_id": d.ID, "owner_id": d.OwnerID})

	if err := s.docs.SetStatus(ctx, d.ID, models.DocumentProcessing, d.ChunkCount, ""); err != nil {
		return 0, utils.E(utils.CodeInternal, op, "failed to update status", err)
	}

	n, err := s.engine.Index(ctx, rag.IndexRequest{
		DocumentID: d.ID,
		OwnerID:    d.OwnerID,
		Title:      d.Title,
		Text:       d.Content,
	})
	if err != nil {
		msg := errorMessage(err)
		if serr := s.docs.SetStatus(context.WithoutCancel(ctx), d.ID, models.DocumentFailed, 0, msg); serr != nil {
			log.WithError(serr).Warn("failed to record indexing failure")
		}
		d.Status, d.ChunkCount, d.LastError = models.DocumentFailed, 0, msg
		return 0, err
	}

	if err := s.docs.SetStatus(ctx, d.ID, models.DocumentCompleted, n, ""); err != nil {
		return n, utils.E(utils.CodeInternal, op, "failed to update status", err)
	}
	d.Status, d.ChunkCount, d.LastError = models.DocumentCompleted, n, ""
	return n, nil
}

func (s *documentService) Get(ctx context.Context, ownerID, id string) (*models.Document, error) {
	return s.owned(ctx, "DocumentService.Get", ownerID, id)
}

func (s *documentService) List(ctx context.Context, ownerID string, limit, offset int) ([]models.Document, error) {
	const op = "DocumentService.List"

	if ownerID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "owner is required", nil)
	}
	rows, err := s.docs.ListByOwner(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list documents", err)
	}
	if rows == nil {
		rows = []models.Document{}
	}
	return rows, nil
}

// Update changes title and/or content. Either change re-indexes the document
// synchronously, since both are part of the indexed entries.
func (s *documentService) Update(ctx context.Context, ownerID, id string, in DocumentUpdate) (*models.Document, error) {
	const op = "DocumentService.Update"

	d, err := s.owned(ctx, op, ownerID, id)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{}
	if in.Title != nil {
		t := strings.TrimSpace(*in.Title)
		if t == "" {
			return nil, utils.E(utils.CodeInvalidArgument, op, "title cannot be empty", nil)
		}
		fields["title"], d.Title = t, t
	}
	if in.Content != nil {
		c := rag.NormalizeText(*in.Content)
		fields["content"], d.Content = c, c
	}
	if len(fields) == 0 {
		return d, nil
	}
	if err := s.docs.Update(ctx, id, fields); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "document not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to update document", err)
	}

	if _, err := s.index(ctx, op, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Delete removes the vectors first; if the engine refuses, the row and file
// stay so the user can retry.
func (s *documentService) Delete(ctx context.Context, ownerID, id string) error {
	const op = "DocumentService.Delete"

	d, err := s.owned(ctx, op, ownerID, id)
	if err != nil {
		return err
	}

	removed, err := s.engine.Delete(ctx, id)
	if err != nil {
		return utils.E(utils.CodeUnavailable, op, "failed to remove document from index", err)
	}
	if err := s.docs.Delete(ctx, id); err != nil && !errors.Is(err, utils.ErrNotFound) {
		return utils.E(utils.CodeInternal, op, "failed to delete document", err)
	}

	log := s.log.WithFields(logrus.Fields{"document_id": id, "owner_id": ownerID, "vectors_removed": removed})
	if d.StoragePath != "" {
		if err := s.store.Delete(ctx, d.StoragePath); err != nil {
			log.WithError(err).Warn("failed to delete stored file")
		}
	}
	log.Info("document deleted")
	return nil
}

func (s *documentService) Search(ctx context.Context, ownerID, query string) ([]models.Document, error) {
	const op = "DocumentService.Search"

	query = strings.TrimSpace(query)
	if ownerID == "" || query == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "query is required", nil)
	}
	rows, err := s.docs.Search(ctx, ownerID, query, 50)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to search documents", err)
	}
	if rows == nil {
		rows = []models.Document{}
	}
	return rows, nil
}

func (s *documentService) Status(ctx context.Context, ownerID, id string) (*DocumentStatusView, error) {
	d, err := s.owned(ctx, "DocumentService.Status", ownerID, id)
	if err != nil {
		return nil, err
	}
	return &DocumentStatusView{
		ID:            d.ID,
		Status:        d.Status,
		ChunkCount:    d.ChunkCount,
		IndexedChunks: len(s.engine.DocumentChunks(d.ID)),
		LastError:     d.LastError,
		UpdatedAt:     d.UpdatedAt,
	}, nil
}

func (s *documentService) Reindex(ctx context.Context, ownerID, id string) (*models.Document, error) {
	const op = "DocumentService.Reindex"

	d, err := s.owned(ctx, op, ownerID, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.index(ctx, op, d); err != nil {
		return nil, err
	}
	return d, nil
}
