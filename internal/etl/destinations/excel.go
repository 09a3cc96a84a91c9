package destinations

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"sheetagg/internal/etl"
)

// ── Excel Destination ──────────────────────────────────────
// Writes the finalized table to one sheet of a new workbook.
// time.Time cells get excelize's default date format.

// DefaultSheet is the sheet name used when none is configured.
const DefaultSheet = "Summary"

// ExcelWriter writes the output table to Path.
type ExcelWriter struct {
	Path  string
	Sheet string
	Log   *zap.Logger
}

func (w *ExcelWriter) Name() string { return "excel:" + w.Path }

func (w *ExcelWriter) Write(ctx context.Context, out *etl.Output) (int, error) {
	t := out.Result.Table
	sheet := w.Sheet
	if sheet == "" {
		sheet = DefaultSheet
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return 0, fmt.Errorf("name sheet: %w", err)
	}

	header := make([]any, 0, len(t.Columns()))
	for _, c := range t.Columns() {
		header = append(header, c)
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}
	if len(header) > 0 {
		if err := w.styleHeader(f, sheet, len(header)); err != nil {
			return 0, err
		}
	}

	for i := 0; i < t.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		row := etl.RowValues(t, i)
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return 0, fmt.Errorf("write row %d: %w", i, err)
		}
	}
	if dir := filepath.Dir(w.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := f.SaveAs(w.Path); err != nil {
		return 0, fmt.Errorf("save workbook: %w", err)
	}
	logger(w.Log).Info("excel output written",
		zap.String("file", w.Path),
		zap.String("sheet", sheet),
		zap.Int("rows", t.Len()))
	return t.Len(), nil
}

func (w *ExcelWriter) styleHeader(f *excelize.File, sheet string, n int) error {
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(n, 1)
	if err := f.SetCellStyle(sheet, "A1", last, bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	return f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func logger(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
