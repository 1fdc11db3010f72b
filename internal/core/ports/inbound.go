package ports

import (
	"context"
	"io"

	"github.com/kirillkom/docchat/internal/core/domain"
)

// DocumentUploader is the inbound contract for upload → extract → session context.
type DocumentUploader interface {
	Upload(ctx context.Context, sessionID, filename string, body io.Reader) (*domain.UploadedFile, error)
}

// DocumentChatter answers a user message against the session's document context.
type DocumentChatter interface {
	Reply(ctx context.Context, sessionID, message string) (domain.Completion, error)
}
