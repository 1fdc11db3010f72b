package httpadapter

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/docchat/internal/config"
	"github.com/kirillkom/docchat/internal/core/domain"
	"github.com/kirillkom/docchat/internal/core/ports"
	"github.com/kirillkom/docchat/internal/core/usecase"
	"github.com/kirillkom/docchat/internal/infrastructure/extractor/document"
	"github.com/kirillkom/docchat/internal/infrastructure/session/memory"
	"github.com/kirillkom/docchat/internal/infrastructure/storage/localfs"
)

type completionStub struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
	last  []domain.ChatMessage
}

func (s *completionStub) Complete(_ context.Context, messages []domain.ChatMessage) (domain.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = append([]domain.ChatMessage(nil), messages...)
	if s.err != nil {
		return domain.Completion{}, s.err
	}
	return domain.Completion{Text: s.reply, Model: "gpt-test", PromptTokens: 10, CompletionTokens: 4}, nil
}

func (s *completionStub) snapshot() (int, []domain.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, s.last
}

type testApp struct {
	handler    http.Handler
	completion *completionStub
	sessions   *memory.Store
	uploadDir  string
}

func testConfig() config.Config {
	return config.Config{
		ServiceName:       "docchat-test",
		SessionSecret:     "test-secret-with-enough-entropy",
		SessionCookieName: "session",
		SessionTTL:        time.Hour,
		MaxUploadBytes:    1 << 20,
		ContextMaxChars:   domain.DefaultContextMaxChars,
	}
}

func newTestApp(t *testing.T, cfg config.Config) *testApp {
	t.Helper()
	return newTestAppWithConverter(t, cfg, nil)
}

func newTestAppWithConverter(t *testing.T, cfg config.Config, converter ports.LegacyConverter) *testApp {
	t.Helper()

	uploadDir := t.TempDir()
	storage, err := localfs.New(uploadDir)
	if err != nil {
		t.Fatalf("localfs.New() error = %v", err)
	}
	sessions := memory.New(cfg.SessionTTL)
	completion := &completionStub{reply: "stub reply"}

	uploader := usecase.NewUploadDocumentUseCase(storage, document.NewExtractor(converter), sessions, usecase.UploadOptions{
		ContextMaxChars: cfg.ContextMaxChars,
	})
	chatter := usecase.NewChatUseCase(sessions, completion, cfg.ContextMaxChars)

	return &testApp{
		handler:    NewRouter(cfg, uploader, chatter, sessions, nil).Handler(),
		completion: completion,
		sessions:   sessions,
		uploadDir:  uploadDir,
	}
}

// client carries cookies between requests like a browser would.
type client struct {
	t       *testing.T
	handler http.Handler
	cookies map[string]*http.Cookie
}

func (a *testApp) newClient(t *testing.T) *client {
	return &client{t: t, handler: a.handler, cookies: make(map[string]*http.Cookie)}
}

func (c *client) do(req *http.Request) *httptest.ResponseRecorder {
	c.t.Helper()
	for _, cookie := range c.cookies {
		req.AddCookie(cookie)
	}
	res := httptest.NewRecorder()
	c.handler.ServeHTTP(res, req)
	for _, cookie := range res.Result().Cookies() {
		c.cookies[cookie.Name] = cookie
	}
	return res
}

func (c *client) upload(filename string, content []byte) *httptest.ResponseRecorder {
	c.t.Helper()
	body, contentType := multipartBody(c.t, "file", filename, content)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	return c.do(req)
}

func (c *client) chat(message string) *httptest.ResponseRecorder {
	c.t.Helper()
	payload, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		c.t.Fatalf("marshal chat: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", res.Body.String(), err)
	}
	return body
}

// docxWithText builds a word package holding a single paragraph.
func docxWithText(t *testing.T, text string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create document part: %v", err)
	}
	body := `<?xml version="1.0" encoding="UTF-8"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		`<w:p><w:r><w:t>` + text + `</w:t></w:r></w:p></w:body></w:document>`
	if _, err := w.Write([]byte(body)); err != nil {
		t.Fatalf("write document part: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close docx: %v", err)
	}
	return buf.Bytes()
}
