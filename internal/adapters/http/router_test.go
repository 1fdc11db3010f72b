package httpadapter

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/docchat/internal/core/domain"
	"github.com/kirillkom/docchat/internal/infrastructure/converter/libreoffice"
)

func TestHealthzEndpoint(t *testing.T) {
	app := newTestApp(t, testConfig())
	res := app.newClient(t).do(httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if decodeBody(t, res)["status"] != "ok" {
		t.Fatalf("unexpected body: %s", res.Body.String())
	}
	if len(res.Result().Cookies()) != 0 {
		t.Fatal("health checks must not create sessions")
	}
}

func TestIndexRendersPageAndStartsSession(t *testing.T) {
	app := newTestApp(t, testConfig())
	res := app.newClient(t).do(httptest.NewRequest(http.MethodGet, "/", nil))

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if !strings.HasPrefix(res.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("unexpected content type %q", res.Header().Get("Content-Type"))
	}
	if !strings.Contains(res.Body.String(), `accept=".txt,.pdf,.docx,.doc,.xlsm,.xlsx"`) {
		t.Fatalf("upload form missing accept list:\n%s", res.Body.String())
	}
	cookies := res.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "session" || !cookies[0].HttpOnly {
		t.Fatalf("expected http-only session cookie, got %+v", cookies)
	}
	if app.sessions.Len() != 0 {
		t.Fatalf("visits without an upload must not allocate session state, got %d", app.sessions.Len())
	}
}

func TestUnknownPathIsNotFound(t *testing.T) {
	app := newTestApp(t, testConfig())
	res := app.newClient(t).do(httptest.NewRequest(http.MethodGet, "/uploads/secret.txt", nil))
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestUploadTextThenChatUsesDocument(t *testing.T) {
	app := newTestApp(t, testConfig())
	c := app.newClient(t)

	res := c.upload("notes.txt", []byte("Hello world"))
	if res.Code != http.StatusOK {
		t.Fatalf("upload expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if got := decodeBody(t, res)["response"]; got != msgUploaded {
		t.Fatalf("unexpected upload response %q", got)
	}
	if _, err := os.Stat(filepath.Join(app.uploadDir, "notes.txt")); err != nil {
		t.Fatalf("upload not stored: %v", err)
	}

	res = c.chat("What does the file say?")
	if res.Code != http.StatusOK {
		t.Fatalf("chat expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if got := decodeBody(t, res)["response"]; got != "stub reply" {
		t.Fatalf("unexpected chat response %q", got)
	}

	_, messages := app.completion.snapshot()
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d: %+v", len(messages), messages)
	}
	if messages[1].Role != domain.RoleSystem || !strings.Contains(messages[1].Content, "Hello world") {
		t.Fatalf("document context missing: %+v", messages[1])
	}
	if messages[2].Role != domain.RoleUser || messages[2].Content != "What does the file say?" {
		t.Fatalf("unexpected user message: %+v", messages[2])
	}
}

func TestLegacyDocUploadDoesNotTouchSameNameDocx(t *testing.T) {
	converted := docxWithText(t, "beta from session B")
	// Stands in for soffice: writes the converted document into --outdir.
	run := func(_ context.Context, _ string, args ...string) ([]byte, error) {
		outdir := args[len(args)-2]
		source := args[len(args)-1]
		name := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source)) + ".docx"
		return nil, os.WriteFile(filepath.Join(outdir, name), converted, 0o644)
	}
	converter := libreoffice.NewWithRunner("soffice", time.Second, run).WithWorkDir(t.TempDir())
	app := newTestAppWithConverter(t, testConfig(), converter)

	alice := app.newClient(t)
	bob := app.newClient(t)

	original := docxWithText(t, "alpha from session A")
	if res := alice.upload("report.docx", original); res.Code != http.StatusOK {
		t.Fatalf("docx upload expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if res := bob.upload("report.doc", []byte{0xd0, 0xcf, 0x11, 0xe0}); res.Code != http.StatusOK {
		t.Fatalf("doc upload expected 200, got %d: %s", res.Code, res.Body.String())
	}

	stored, err := os.ReadFile(filepath.Join(app.uploadDir, "report.docx"))
	if err != nil {
		t.Fatalf("read stored docx: %v", err)
	}
	if !bytes.Equal(stored, original) {
		t.Fatal("converting report.doc overwrote the stored report.docx")
	}

	alice.chat("what is in my report?")
	_, messages := app.completion.snapshot()
	if len(messages) != 3 || !strings.Contains(messages[1].Content, "alpha from session A") {
		t.Fatalf("session A lost its document: %+v", messages)
	}
	bob.chat("what is in my report?")
	_, messages = app.completion.snapshot()
	if len(messages) != 3 || !strings.Contains(messages[1].Content, "beta from session B") {
		t.Fatalf("session B must see its converted document: %+v", messages)
	}
}

func TestLegacyDocConversionWithoutOutputFails(t *testing.T) {
	run := func(context.Context, string, ...string) ([]byte, error) { return nil, nil }
	converter := libreoffice.NewWithRunner("soffice", time.Second, run).WithWorkDir(t.TempDir())
	app := newTestAppWithConverter(t, testConfig(), converter)

	alice := app.newClient(t)
	bob := app.newClient(t)
	if res := alice.upload("report.docx", docxWithText(t, "alpha from session A")); res.Code != http.StatusOK {
		t.Fatalf("docx upload expected 200, got %d", res.Code)
	}

	res := bob.upload("report.doc", []byte{0xd0, 0xcf, 0x11, 0xe0})
	if res.Code != http.StatusBadRequest || decodeBody(t, res)["error"] != msgExtractionFailed {
		t.Fatalf("expected extraction failure, got %d %s", res.Code, res.Body.String())
	}
	bob.chat("anything?")
	_, messages := app.completion.snapshot()
	for _, m := range messages {
		if strings.Contains(m.Content, "alpha from session A") {
			t.Fatalf("another session's document leaked into a failed conversion: %+v", messages)
		}
	}
}

func TestUploadWithoutFilePart(t *testing.T) {
	app := newTestApp(t, testConfig())
	body, contentType := multipartBody(t, "attachment", "notes.txt", []byte("Hello"))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)

	res := app.newClient(t).do(req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if got := decodeBody(t, res)["error"]; got != msgNoFile {
		t.Fatalf("unexpected error %q", got)
	}
}

func TestUploadDisallowedExtensionKeepsSession(t *testing.T) {
	app := newTestApp(t, testConfig())
	c := app.newClient(t)

	if res := c.upload("notes.txt", []byte("original")); res.Code != http.StatusOK {
		t.Fatalf("first upload expected 200, got %d", res.Code)
	}
	res := c.upload("malware.exe", []byte("MZ"))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if got := decodeBody(t, res)["error"]; got != msgInvalidType {
		t.Fatalf("unexpected error %q", got)
	}
	if _, err := os.Stat(filepath.Join(app.uploadDir, "malware.exe")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("rejected file must not be stored, stat err = %v", err)
	}

	c.chat("still there?")
	_, messages := app.completion.snapshot()
	if len(messages) != 3 || !strings.Contains(messages[1].Content, "original") {
		t.Fatalf("previous document context lost: %+v", messages)
	}
}

func TestUploadWithoutExtensionIsInvalidType(t *testing.T) {
	app := newTestApp(t, testConfig())
	res := app.newClient(t).upload("README", []byte("text"))
	if res.Code != http.StatusBadRequest || decodeBody(t, res)["error"] != msgInvalidType {
		t.Fatalf("expected invalid type, got %d %s", res.Code, res.Body.String())
	}
}

func TestUploadUnextractableFile(t *testing.T) {
	app := newTestApp(t, testConfig())
	c := app.newClient(t)

	res := c.upload("blank.txt", []byte("   \n\t "))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if got := decodeBody(t, res)["error"]; got != msgExtractionFailed {
		t.Fatalf("unexpected error %q", got)
	}

	res = c.upload("broken.pdf", []byte("not a pdf at all"))
	if res.Code != http.StatusBadRequest || decodeBody(t, res)["error"] != msgExtractionFailed {
		t.Fatalf("expected extraction failure for corrupt pdf, got %d %s", res.Code, res.Body.String())
	}
}

func TestUploadTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.MaxUploadBytes = 1024
	app := newTestApp(t, cfg)

	res := app.newClient(t).upload("big.txt", bytes.Repeat([]byte("a"), 8*1024))
	if res.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", res.Code)
	}
	if got := decodeBody(t, res)["error"]; got != msgFileTooLarge {
		t.Fatalf("unexpected error %q", got)
	}
}

func TestChatWithoutUploadSendsNoDocumentContext(t *testing.T) {
	app := newTestApp(t, testConfig())
	res := app.newClient(t).chat("hello")

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	_, messages := app.completion.snapshot()
	if len(messages) != 2 || messages[0].Role != domain.RoleSystem || messages[1].Role != domain.RoleUser {
		t.Fatalf("expected instruction and user message only, got %+v", messages)
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	app := newTestApp(t, testConfig())
	c := app.newClient(t)

	for _, body := range []string{`{"message":"   "}`, `{}`, `not json`} {
		req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		res := c.do(req)
		if res.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, res.Code)
		}
		if got := decodeBody(t, res)["error"]; got != msgEmptyMessage {
			t.Fatalf("body %q: unexpected error %q", body, got)
		}
	}
	if calls, _ := app.completion.snapshot(); calls != 0 {
		t.Fatalf("completion must not be called, got %d calls", calls)
	}
}

func TestChatUpstreamFailureIs500(t *testing.T) {
	app := newTestApp(t, testConfig())
	app.completion.err = errors.New("invalid api key")

	res := app.newClient(t).chat("hello")
	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
	if got := decodeBody(t, res)["error"]; !strings.Contains(got, "invalid api key") {
		t.Fatalf("expected failure description, got %q", got)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	app := newTestApp(t, testConfig())
	alice := app.newClient(t)
	bob := app.newClient(t)

	if res := alice.upload("alice.txt", []byte("alice private notes")); res.Code != http.StatusOK {
		t.Fatalf("upload expected 200, got %d", res.Code)
	}
	bob.chat("what did alice upload?")

	_, messages := app.completion.snapshot()
	for _, m := range messages {
		if strings.Contains(m.Content, "alice private notes") {
			t.Fatalf("document leaked across sessions: %+v", messages)
		}
	}
}

func TestTamperedSessionCookieStartsNewSession(t *testing.T) {
	app := newTestApp(t, testConfig())
	c := app.newClient(t)
	c.upload("notes.txt", []byte("secret"))

	c.cookies["session"].Value += "x"
	res := c.chat("anything?")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if len(res.Result().Cookies()) != 1 {
		t.Fatal("expected a fresh session cookie")
	}
	_, messages := app.completion.snapshot()
	if len(messages) != 2 {
		t.Fatalf("tampered cookie must not reach the old document: %+v", messages)
	}
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.WrapError(domain.ErrInvalidInput, "op", errors.New("x")), http.StatusBadRequest},
		{domain.NewExtractionError(domain.FormatPDF, "bad", nil), http.StatusBadRequest},
		{domain.WrapError(domain.ErrPayloadTooLarge, "op", errors.New("x")), http.StatusRequestEntityTooLarge},
		{domain.WrapError(domain.ErrTemporary, "op", errors.New("x")), http.StatusInternalServerError},
		{domain.WrapError(domain.ErrMissingCredential, "op", errors.New("x")), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := mapErrorToHTTPStatus(tc.err); got != tc.want {
			t.Fatalf("mapErrorToHTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
