package usecase

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/kirillkom/docchat/internal/core/domain"
)

type storageFake struct {
	mu        sync.Mutex
	saved     map[string]string
	saveCalls int
	err       error

	removed      []string
	removeErr    error
	removeCutoff time.Time
}

func newStorageFake() *storageFake {
	return &storageFake{saved: make(map[string]string)}
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	f.saved[key] = string(raw)
	return int64(len(raw)), nil
}

func (f *storageFake) Path(key string) string { return "/uploads/" + key }

func (f *storageFake) RemoveOlderThan(_ context.Context, cutoff time.Time) ([]string, error) {
	f.removeCutoff = cutoff
	return f.removed, f.removeErr
}

type extractorFake struct {
	text   string
	err    error
	calls  int
	path   string
	format domain.Format
}

func (f *extractorFake) Extract(_ context.Context, path string, format domain.Format) (string, error) {
	f.calls++
	f.path = path
	f.format = format
	return f.text, f.err
}

type sessionFake struct {
	mu      sync.Mutex
	docs    map[string]string
	saveErr error
	loadErr error
}

func newSessionFake() *sessionFake {
	return &sessionFake{docs: make(map[string]string)}
}

func (f *sessionFake) LoadDocument(_ context.Context, sessionID string) (string, bool, error) {
	if f.loadErr != nil {
		return "", false, f.loadErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	text, ok := f.docs[sessionID]
	return text, ok, nil
}

func (f *sessionFake) SaveDocument(_ context.Context, sessionID, text string) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[sessionID] = text
	return nil
}

func (f *sessionFake) Touch(context.Context, string) error { return nil }

func (f *sessionFake) Clear(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, sessionID)
	return nil
}

type completionFake struct {
	reply    string
	err      error
	calls    int
	messages []domain.ChatMessage
}

func (f *completionFake) Complete(_ context.Context, messages []domain.ChatMessage) (domain.Completion, error) {
	f.calls++
	f.messages = append([]domain.ChatMessage(nil), messages...)
	if f.err != nil {
		return domain.Completion{}, f.err
	}
	return domain.Completion{Text: f.reply, Model: "test-model"}, nil
}

type ledgerFake struct {
	records []domain.UploadedFile
	purged  []string
	err     error
}

func (f *ledgerFake) Record(_ context.Context, file *domain.UploadedFile) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, *file)
	return nil
}

func (f *ledgerFake) MarkPurged(_ context.Context, keys []string) error {
	if f.err != nil {
		return f.err
	}
	f.purged = append(f.purged, keys...)
	return nil
}

type eventsFake struct {
	published []string
	err       error
}

func (f *eventsFake) PublishUploaded(_ context.Context, file *domain.UploadedFile) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, file.ID)
	return nil
}

var errBoom = errors.New("boom")
