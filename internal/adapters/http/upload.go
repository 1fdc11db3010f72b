package httpadapter

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kirillkom/docchat/internal/core/domain"
)

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, rt.maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		traceFailure(r.Context(), err)
		if isBodyTooLarge(err) {
			rt.metrics.RecordUpload("", "too_large", 0, 0)
			writeError(w, http.StatusRequestEntityTooLarge, msgFileTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, msgNoFile)
		return
	}
	defer file.Close()

	uploaded, err := rt.uploader.Upload(r.Context(), sessionIDFromContext(r.Context()), header.Filename, file)
	if err != nil {
		rt.renderUploadError(w, r, header.Filename, err)
		return
	}

	rt.metrics.RecordUpload(string(uploaded.Format), string(uploaded.Status), uploaded.SizeBytes, min(uploaded.ExtractedChars, rt.contextBudget()))
	writeJSON(w, http.StatusOK, map[string]string{"response": msgUploaded})
}

func (rt *Router) renderUploadError(w http.ResponseWriter, r *http.Request, filename string, err error) {
	traceFailure(r.Context(), err)
	switch {
	case isBodyTooLarge(err):
		rt.metrics.RecordUpload("", "too_large", 0, 0)
		writeError(w, http.StatusRequestEntityTooLarge, msgFileTooLarge)
	case domain.IsKind(err, domain.ErrExtraction):
		format := ""
		var extractErr *domain.ExtractionError
		if errors.As(err, &extractErr) {
			format = string(extractErr.Format)
		}
		rt.metrics.RecordUpload(format, string(domain.UploadStatusFailed), 0, 0)
		writeError(w, http.StatusBadRequest, msgExtractionFailed)
	case domain.IsKind(err, domain.ErrInvalidInput):
		rt.metrics.RecordUpload("", "rejected", 0, 0)
		slog.Info("upload_rejected",
			"request_id", requestIDFromContext(r.Context()),
			"session_id", sessionIDFromContext(r.Context()),
			"filename", filename,
			"error", err,
		)
		writeError(w, http.StatusBadRequest, msgInvalidType)
	default:
		rt.metrics.RecordUpload("", "error", 0, 0)
		slog.Error("upload_failed",
			"request_id", requestIDFromContext(r.Context()),
			"session_id", sessionIDFromContext(r.Context()),
			"filename", filename,
			"error", err,
		)
		writeError(w, mapErrorToHTTPStatus(err), msgInternal)
	}
}

func (rt *Router) contextBudget() int {
	if rt.contextMaxChars <= 0 {
		return domain.DefaultContextMaxChars
	}
	return rt.contextMaxChars
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}
