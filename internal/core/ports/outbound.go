package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/docchat/internal/core/domain"
)

// ObjectStorage stores uploaded source files.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) (int64, error)
	Path(key string) string
	RemoveOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
}

// TextExtractor extracts plain text from a stored file of a known format.
type TextExtractor interface {
	Extract(ctx context.Context, path string, format domain.Format) (string, error)
}

// LegacyConverter turns a legacy binary Word file into a .docx file in a
// private work directory. The caller must invoke release once done with the
// converted path.
type LegacyConverter interface {
	ConvertToDocx(ctx context.Context, path string) (converted string, release func(), err error)
}

// SessionStore holds at most one document context per session.
type SessionStore interface {
	LoadDocument(ctx context.Context, sessionID string) (string, bool, error)
	SaveDocument(ctx context.Context, sessionID, text string) error
	Touch(ctx context.Context, sessionID string) error
	Clear(ctx context.Context, sessionID string) error
}

// CompletionClient sends a message list to the hosted chat-completion API.
type CompletionClient interface {
	Complete(ctx context.Context, messages []domain.ChatMessage) (domain.Completion, error)
}

// UploadLedger records upload metadata.
type UploadLedger interface {
	Record(ctx context.Context, file *domain.UploadedFile) error
	MarkPurged(ctx context.Context, storageKeys []string) error
}

// UploadEventPublisher announces successful uploads.
type UploadEventPublisher interface {
	PublishUploaded(ctx context.Context, file *domain.UploadedFile) error
}
