package usecase

import (
	"context"
	"errors"
	"strings"

	"docchat/internal/domain"
)

// DocumentStore is the per-account upload folder.
type DocumentStore interface {
	// Create stores data under a collision-free variant of name.
	Create(accountID, name string, data []byte) (domain.Document, error)
	List(accountID string) ([]domain.Document, error)
	Delete(accountID, name string) error
}

type DocumentValidator interface {
	Validate(data []byte) error
}

type UploadInput struct {
	AccountID string
	FileName  string
	Content   []byte
}

type UploadOutput struct {
	// Name is the stored name, possibly suffixed to avoid a collision.
	Name        string
	Outcome     OutcomeKind
	DerivedPath string
}

type UploadService struct {
	docs      DocumentStore
	validator DocumentValidator
	pipeline  *IngestionPipeline
}

func NewUploadService(docs DocumentStore, validator DocumentValidator, pipeline *IngestionPipeline) (*UploadService, error) {
	if docs == nil {
		return nil, errors.New("usecase: document store must not be nil")
	}
	if validator == nil {
		return nil, errors.New("usecase: document validator must not be nil")
	}
	if pipeline == nil {
		return nil, errors.New("usecase: ingestion pipeline must not be nil")
	}
	return &UploadService{docs: docs, validator: validator, pipeline: pipeline}, nil
}

// Upload stores a document and runs the ingestion pipeline on it.
func (s *UploadService) Upload(ctx context.Context, in UploadInput) (UploadOutput, error) {
	name := strings.TrimSpace(in.FileName)
	if name == "" {
		return UploadOutput{}, newError(ErrorInvalidInput, "missing_file_name", nil)
	}
	if len(in.Content) == 0 {
		return UploadOutput{}, newError(ErrorInvalidInput, "empty_file", nil)
	}
	if err := s.validator.Validate(in.Content); err != nil {
		return UploadOutput{}, newError(ErrorInvalidInput, "unsupported_document", err)
	}

	doc, err := s.docs.Create(in.AccountID, name, in.Content)
	if errors.Is(err, domain.ErrInvalidName) {
		return UploadOutput{}, newError(ErrorInvalidInput, "invalid_file_name", err)
	}
	if err != nil {
		return UploadOutput{}, newError(ErrorInternal, "storage_write_error", err)
	}

	outcome, err := s.pipeline.Ingest(ctx, doc.Path)
	if err != nil {
		return UploadOutput{}, err
	}
	return UploadOutput{Name: doc.Name, Outcome: outcome.Kind, DerivedPath: outcome.DerivedPath}, nil
}

func (s *UploadService) List(_ context.Context, accountID string) ([]domain.Document, error) {
	docs, err := s.docs.List(accountID)
	if err != nil {
		return nil, newError(ErrorInternal, "storage_list_error", err)
	}
	return docs, nil
}

func (s *UploadService) Delete(_ context.Context, accountID, name string) error {
	err := s.docs.Delete(accountID, name)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound):
		return newError(ErrorNotFound, "file_not_found", err)
	case errors.Is(err, domain.ErrInvalidName):
		return newError(ErrorInvalidInput, "invalid_file_name", err)
	default:
		return newError(ErrorInternal, "storage_delete_error", err)
	}
}
