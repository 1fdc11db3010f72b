package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kirillkom/docchat/internal/core/domain"
	"github.com/kirillkom/docchat/internal/core/ports"
)

type UploadOptions struct {
	ContextMaxChars int
	Ledger          ports.UploadLedger
	Events          ports.UploadEventPublisher
}

type UploadDocumentUseCase struct {
	storage   ports.ObjectStorage
	extractor ports.TextExtractor
	sessions  ports.SessionStore
	ledger    ports.UploadLedger
	events    ports.UploadEventPublisher
	maxChars  int
	locks     *keyedMutex
	now       func() time.Time
}

func NewUploadDocumentUseCase(
	storage ports.ObjectStorage,
	extractor ports.TextExtractor,
	sessions ports.SessionStore,
	opts UploadOptions,
) *UploadDocumentUseCase {
	maxChars := opts.ContextMaxChars
	if maxChars <= 0 {
		maxChars = domain.DefaultContextMaxChars
	}
	return &UploadDocumentUseCase{
		storage:   storage,
		extractor: extractor,
		sessions:  sessions,
		ledger:    opts.Ledger,
		events:    opts.Events,
		maxChars:  maxChars,
		locks:     newKeyedMutex(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (uc *UploadDocumentUseCase) Upload(
	ctx context.Context,
	sessionID, filename string,
	body io.Reader,
) (*domain.UploadedFile, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload", domain.ErrMissingSessionID)
	}
	if strings.TrimSpace(filename) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload", errors.New("filename is required"))
	}
	format, err := domain.FormatFromFilename(filename)
	if err != nil {
		return nil, err
	}

	storageKey := sanitizeFilename(filename)
	unlock := uc.locks.Lock(storageKey)
	defer unlock()

	size, err := uc.storage.Save(ctx, storageKey, body)
	if err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}

	file := &domain.UploadedFile{
		ID:                uuid.NewString(),
		SessionID:         sessionID,
		OriginalFilename:  filename,
		SanitizedFilename: storageKey,
		StorageKey:        storageKey,
		StoragePath:       uc.storage.Path(storageKey),
		Format:            format,
		SizeBytes:         size,
		CreatedAt:         uc.now(),
	}

	text, err := uc.extractor.Extract(ctx, file.StoragePath, format)
	if err == nil && strings.TrimSpace(text) == "" {
		err = domain.NewExtractionError(format, "no usable content", nil)
	}
	if err != nil {
		file.Status = domain.UploadStatusFailed
		file.Error = err.Error()
		uc.record(ctx, file)
		slog.Warn("document_extraction_failed",
			"session_id", sessionID,
			"file", storageKey,
			"format", string(format),
			"error", err,
		)
		return nil, domain.WrapError(domain.ErrExtraction, "extract upload", err)
	}

	documentContext := domain.TruncateContext(text, uc.maxChars)
	if err := uc.sessions.SaveDocument(ctx, sessionID, documentContext); err != nil {
		return nil, fmt.Errorf("store document context: %w", err)
	}

	file.Status = domain.UploadStatusReady
	file.ExtractedChars = utf8.RuneCountInString(text)
	uc.record(ctx, file)
	uc.publish(ctx, file)

	slog.Info("document_uploaded",
		"session_id", sessionID,
		"file", storageKey,
		"format", string(format),
		"bytes", size,
		"extracted_chars", file.ExtractedChars,
		"context_chars", utf8.RuneCountInString(documentContext),
	)
	return file, nil
}

func (uc *UploadDocumentUseCase) record(ctx context.Context, file *domain.UploadedFile) {
	if uc.ledger == nil {
		return
	}
	if err := uc.ledger.Record(ctx, file); err != nil {
		slog.Warn("upload_ledger_record_failed", "file", file.StorageKey, "error", err)
	}
}

func (uc *UploadDocumentUseCase) publish(ctx context.Context, file *domain.UploadedFile) {
	if uc.events == nil {
		return
	}
	if err := uc.events.PublishUploaded(ctx, file); err != nil {
		slog.Warn("upload_event_publish_failed", "file", file.StorageKey, "error", err)
	}
}

func sanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	base = strings.TrimLeft(base, ".")
	if base == "" {
		return "document.bin"
	}
	return base
}
