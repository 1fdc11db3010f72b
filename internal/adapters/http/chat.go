package httpadapter

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type chatRequest struct {
	Message string `json:"message"`
}

func (rt *Router) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxChatBodyBytes)).Decode(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, msgEmptyMessage)
		return
	}

	start := time.Now()
	completion, err := rt.chatter.Reply(r.Context(), sessionIDFromContext(r.Context()), req.Message)
	if err != nil {
		status := mapErrorToHTTPStatus(err)
		rt.metrics.RecordChat("error", time.Since(start))
		if status == http.StatusBadRequest {
			writeError(w, status, msgEmptyMessage)
			return
		}
		traceFailure(r.Context(), err)
		slog.Error("chat_failed",
			"request_id", requestIDFromContext(r.Context()),
			"session_id", sessionIDFromContext(r.Context()),
			"error", err,
		)
		writeError(w, status, err.Error())
		return
	}

	rt.metrics.RecordChat("ok", time.Since(start))
	rt.metrics.RecordTokenUsage(completion.Model, completion.PromptTokens, completion.CompletionTokens)
	writeJSON(w, http.StatusOK, map[string]string{"response": completion.Text})
}
