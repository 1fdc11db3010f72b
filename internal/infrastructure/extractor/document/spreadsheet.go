package document

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractSpreadsheet flattens each sheet row-major, padding short rows with
// empty cells, and joins all sheets in workbook order.
func extractSpreadsheet(ctx context.Context, path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	parts := make([]string, 0, len(sheets))
	for _, name := range sheets {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rows, err := f.GetRows(name)
		if err != nil {
			return "", fmt.Errorf("read sheet %q: %w", name, err)
		}
		parts = append(parts, strings.Join(flattenRows(rows), "\n"))
	}
	return strings.Join(parts, "\n"), nil
}

func flattenRows(rows [][]string) []string {
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	cells := make([]string, 0, len(rows)*width)
	for _, row := range rows {
		for col := 0; col < width; col++ {
			if col < len(row) {
				cells = append(cells, row[col])
			} else {
				cells = append(cells, "")
			}
		}
	}
	return cells
}
