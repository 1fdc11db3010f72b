package httpadapter

import (
	_ "embed"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kirillkom/docchat/internal/core/domain"
)

//go:embed web/index.html
var indexSource string

var indexTemplate = template.Must(template.New("index").Parse(indexSource))

type indexData struct {
	Accept      string
	Extensions  string
	MaxUploadMB int64
}

func (rt *Router) index(w http.ResponseWriter, r *http.Request) {
	exts := domain.AllowedExtensions()
	dotted := make([]string, 0, len(exts))
	for _, ext := range exts {
		dotted = append(dotted, "."+ext)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := indexTemplate.Execute(w, indexData{
		Accept:      strings.Join(dotted, ","),
		Extensions:  strings.Join(exts, ", "),
		MaxUploadMB: max(rt.maxUploadBytes>>20, 1),
	})
	if err != nil {
		slog.Error("render_index_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
	}
}
