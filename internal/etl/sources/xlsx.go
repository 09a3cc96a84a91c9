package sources

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"sheetagg/internal/etl"
)

// ── Excel Workbook Source ───────────────────────────────────
// Reads one sheet of an .xlsx/.xlsm workbook. The first row is the
// header. An empty sheet_name means the first sheet.

type xlsxSource struct{}

func init() { etl.RegisterSource(&xlsxSource{}) }

func (s *xlsxSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "xlsx",
		Label: "Excel Workbook",
		ConfigFields: []etl.ConfigField{
			{Key: "file_path", Label: "File Path", Required: true, Help: "Path to the .xlsx workbook"},
			{Key: "sheet_name", Label: "Sheet", Help: "Sheet to read (default: first sheet)"},
		},
	}
}

func (s *xlsxSource) Read(ctx context.Context, ref etl.SourceRef) (*etl.Table, error) {
	if ref.Path == "" {
		return nil, fmt.Errorf("file_path is required")
	}
	f, err := excelize.OpenFile(ref.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", etl.ErrNotFound, ref.Path)
		}
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := ref.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("%w: %s has no sheets", etl.ErrNotFound, ref.Path)
		}
		sheet = sheets[0]
	}
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx == -1 {
		return nil, fmt.Errorf("%w: sheet %q in %s", etl.ErrNotFound, sheet, ref.Path)
	}

	raw, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	shown, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(raw) == 0 {
		return etl.NewTable(), nil
	}

	c := &cellReader{f: f, sheet: sheet, dateStyles: map[int]bool{}}
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		c.date1904 = *props.Date1904
	}

	header := make([]string, len(raw[0]))
	for j, h := range raw[0] {
		header[j] = strings.TrimSpace(h)
		if header[j] == "" {
			header[j] = fmt.Sprintf("Unnamed: %d", j)
		}
	}

	rows := make([][]etl.Value, 0, len(raw)-1)
	for i := 1; i < len(raw); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if blankRow(raw[i]) {
			continue
		}
		row := make([]etl.Value, len(raw[i]))
		for j, cell := range raw[i] {
			var display string
			if i < len(shown) && j < len(shown[i]) {
				display = shown[i][j]
			}
			row[j] = c.value(i, j, cell, display)
		}
		rows = append(rows, row)
	}
	return etl.FromRows(header, rows), nil
}

func blankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// cellReader types raw cell text using the workbook's styles.
type cellReader struct {
	f          *excelize.File
	sheet      string
	date1904   bool
	dateStyles map[int]bool
}

// value types one cell. raw is the stored value, display the formatted
// text Excel would show. Numbers stored under a date format become dates;
// boolean cells are stored as 1/0 and displayed as TRUE/FALSE.
func (c *cellReader) value(row, col int, raw, display string) etl.Value {
	if strings.TrimSpace(raw) == "" {
		return etl.Null()
	}
	if raw == "1" && display == "TRUE" {
		return etl.Bool(true)
	}
	if raw == "0" && display == "FALSE" {
		return etl.Bool(false)
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return etl.InferCell(raw)
	}
	if display != raw && c.isDateCell(row, col) {
		if t, err := excelize.ExcelDateToTime(n, c.date1904); err == nil {
			return etl.Date(t)
		}
	}
	return etl.Number(n)
}

func (c *cellReader) isDateCell(row, col int) bool {
	axis, err := excelize.CoordinatesToCellName(col+1, row+1)
	if err != nil {
		return false
	}
	id, err := c.f.GetCellStyle(c.sheet, axis)
	if err != nil {
		return false
	}
	if known, ok := c.dateStyles[id]; ok {
		return known
	}
	isDate := false
	if style, err := c.f.GetStyle(id); err == nil {
		isDate = isDateFormat(style.NumFmt, style.CustomNumFmt)
	}
	c.dateStyles[id] = isDate
	return isDate
}

// isDateFormat reports whether a number format renders dates: one of the
// built-in date formats, or a custom code with day/month/year tokens
// outside quoted literals.
func isDateFormat(numFmt int, custom *string) bool {
	switch {
	case numFmt >= 14 && numFmt <= 22, numFmt >= 45 && numFmt <= 47:
		return true
	case custom == nil:
		return false
	}
	inQuote := false
	for _, r := range strings.ToLower(*custom) {
		switch {
		case r == '"':
			inQuote = !inQuote
		case inQuote:
		case r == 'y' || r == 'd' || r == 'm':
			return true
		}
	}
	return false
}
