package usecase

import (
	"context"
	"errors"
	"log/slog"

	"docchat/internal/domain"
)

type IngestionEngine interface {
	Ingest(ctx context.Context, path string) (domain.Ingestion, error)
}

// DerivedWriter performs the file-system side of a replacement.
type DerivedWriter interface {
	// WriteDerived stores data at DerivedPath(path) without exposing a partial file.
	WriteDerived(path string, data []byte) (string, error)
	Remove(path string) error
}

type OutcomeKind string

const (
	KeptOriginal OutcomeKind = "kept_original"
	Replaced     OutcomeKind = "replaced"
)

type IngestOutcome struct {
	Kind OutcomeKind
	// DerivedPath is set when Kind is Replaced.
	DerivedPath string
}

// IngestionPipeline decides whether a stored document stays raw or is
// replaced by its derived representation.
type IngestionPipeline struct {
	engine IngestionEngine
	files  DerivedWriter
	logger *slog.Logger
}

func NewIngestionPipeline(engine IngestionEngine, files DerivedWriter, logger *slog.Logger) (*IngestionPipeline, error) {
	if engine == nil {
		return nil, errors.New("usecase: ingestion engine must not be nil")
	}
	if files == nil {
		return nil, errors.New("usecase: derived writer must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestionPipeline{engine: engine, files: files, logger: logger}, nil
}

// Ingest runs the engine on storedPath. Engine failure leaves the original
// in place. Once the derived file is written it is authoritative: failing to
// remove the original is logged and the outcome is still Replaced.
func (p *IngestionPipeline) Ingest(ctx context.Context, storedPath string) (IngestOutcome, error) {
	res, err := p.engine.Ingest(ctx, storedPath)
	if err != nil {
		return IngestOutcome{}, newError(ErrorIngestion, "ingestion_engine_error", err)
	}
	if res.Skipped {
		return IngestOutcome{Kind: KeptOriginal}, nil
	}
	if len(res.Derived) == 0 {
		return IngestOutcome{}, newError(ErrorIngestion, "empty_derived_output", nil)
	}

	derivedPath, err := p.files.WriteDerived(storedPath, res.Derived)
	if err != nil {
		return IngestOutcome{}, newError(ErrorIngestion, "derived_write_error", err)
	}
	if err := p.files.Remove(storedPath); err != nil {
		p.logger.WarnContext(ctx, "failed to remove original after ingestion", "path", storedPath, "err", err)
	}
	return IngestOutcome{Kind: Replaced, DerivedPath: derivedPath}, nil
}
