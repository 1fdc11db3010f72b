package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/docchat/internal/core/domain"
	"github.com/kirillkom/docchat/internal/core/ports"
)

const chatSystemInstruction = `You are a helpful assistant. You can answer general questions as well as questions about a document the user may have uploaded.
When the question relates to the uploaded document, prefer the document's content in your answer.`

const documentContextPreamble = "The user uploaded a document. Here is its content:\n\n"

type ChatUseCase struct {
	sessions   ports.SessionStore
	completion ports.CompletionClient
	maxChars   int
}

func NewChatUseCase(sessions ports.SessionStore, completion ports.CompletionClient, contextMaxChars int) *ChatUseCase {
	if contextMaxChars <= 0 {
		contextMaxChars = domain.DefaultContextMaxChars
	}
	return &ChatUseCase{
		sessions:   sessions,
		completion: completion,
		maxChars:   contextMaxChars,
	}
}

func (uc *ChatUseCase) Reply(ctx context.Context, sessionID, message string) (domain.Completion, error) {
	if strings.TrimSpace(message) == "" {
		return domain.Completion{}, domain.WrapError(domain.ErrInvalidInput, "chat", errors.New("message is required"))
	}

	documentText := ""
	if strings.TrimSpace(sessionID) != "" {
		text, _, err := uc.sessions.LoadDocument(ctx, sessionID)
		if err != nil {
			return domain.Completion{}, fmt.Errorf("load document context: %w", err)
		}
		documentText = text
	}

	messages := BuildChatMessages(documentText, message, uc.maxChars)

	start := time.Now()
	completion, err := uc.completion.Complete(ctx, messages)
	if err != nil {
		return domain.Completion{}, domain.WrapError(domain.ErrUpstream, "chat completion", err)
	}

	slog.Info("chat_completed",
		"session_id", sessionID,
		"model", completion.Model,
		"with_document", strings.TrimSpace(documentText) != "",
		"messages", len(messages),
		"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
	)
	return completion, nil
}

// BuildChatMessages assembles the completion request. The document message
// is present only when there is document text; blank messages are dropped.
func BuildChatMessages(documentText, userMessage string, maxChars int) []domain.ChatMessage {
	candidates := []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: chatSystemInstruction},
	}
	documentText = domain.TruncateContext(documentText, maxChars)
	if strings.TrimSpace(documentText) != "" {
		candidates = append(candidates, domain.ChatMessage{
			Role:    domain.RoleSystem,
			Content: documentContextPreamble + documentText,
		})
	}
	candidates = append(candidates, domain.ChatMessage{Role: domain.RoleUser, Content: userMessage})

	messages := make([]domain.ChatMessage, 0, len(candidates))
	for _, msg := range candidates {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		messages = append(messages, msg)
	}
	return messages
}
