package document

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/docchat/internal/core/domain"
)

func extractText(_ context.Context, path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read source document: %w", err)
	}
	if !utf8.Valid(raw) {
		return "", domain.NewExtractionError(domain.FormatText, "file is not valid UTF-8", nil)
	}
	return newlineReplacer.Replace(string(raw)), nil
}

// newlineReplacer folds CRLF and lone CR line endings into LF.
var newlineReplacer = strings.NewReplacer("\r\n", "\n", "\r", "\n")
