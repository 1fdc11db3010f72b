// Package document extracts plain text from uploaded files by format.
package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/docchat/internal/core/domain"
	"github.com/kirillkom/docchat/internal/core/ports"
)

type extractFunc func(ctx context.Context, path string) (string, error)

type Extractor struct {
	converter ports.LegacyConverter
	byFormat  map[domain.Format]extractFunc
}

// NewExtractor builds the format table. converter may be nil, in which case
// legacy .doc files fail with an ExtractionError.
func NewExtractor(converter ports.LegacyConverter) *Extractor {
	e := &Extractor{converter: converter}
	e.byFormat = map[domain.Format]extractFunc{
		domain.FormatPDF:         extractPDF,
		domain.FormatDocx:        extractDocx,
		domain.FormatDoc:         e.extractDoc,
		domain.FormatSpreadsheet: extractSpreadsheet,
		domain.FormatText:        extractText,
	}
	return e
}

func (e *Extractor) Extract(ctx context.Context, path string, format domain.Format) (text string, err error) {
	fn, ok := e.byFormat[format]
	if !ok {
		return "", domain.NewExtractionError(format, "unsupported format", nil)
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = domain.NewExtractionError(format, "parser panic", fmt.Errorf("%v", r))
		}
		slog.Debug("document_extracted",
			"format", string(format),
			"path", path,
			"chars", len(text),
			"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
			"error", err,
		)
	}()

	text, err = fn(ctx, path)
	if err != nil {
		var extractErr *domain.ExtractionError
		if errors.As(err, &extractErr) {
			return "", err
		}
		return "", domain.NewExtractionError(format, "parse failed", err)
	}
	return text, nil
}

func (e *Extractor) extractDoc(ctx context.Context, path string) (string, error) {
	if e.converter == nil {
		return "", domain.NewExtractionError(domain.FormatDoc, "legacy conversion is not configured", nil)
	}
	converted, release, err := e.converter.ConvertToDocx(ctx, path)
	if err != nil {
		return "", domain.NewExtractionError(domain.FormatDoc, "conversion failed", err)
	}
	defer release()
	return extractDocx(ctx, converted)
}
