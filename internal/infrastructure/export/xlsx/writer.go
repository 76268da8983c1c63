package xlsx

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/statementdesk/extraction-client/internal/core/domain"
)

// Writer renders extracted commission tables to a spreadsheet, one
// sheet per table with the headers on the first row.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) Write(result *domain.ExtractionResult, path string) error {
	if result == nil || len(result.Tables) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "export tables", fmt.Errorf("no tables to export"))
	}

	file := excelize.NewFile()
	defer func() {
		_ = file.Close()
	}()

	used := make(map[string]struct{}, len(result.Tables))
	for i, table := range result.Tables {
		sheet := sheetName(table.Name, i)
		if _, dup := used[sheet]; dup {
			sheet = sheetName(fmt.Sprintf("%s %d", table.Name, i+1), i)
		}
		used[sheet] = struct{}{}
		if i == 0 {
			if err := file.SetSheetName(file.GetSheetName(0), sheet); err != nil {
				return fmt.Errorf("rename sheet: %w", err)
			}
		} else {
			if _, err := file.NewSheet(sheet); err != nil {
				return fmt.Errorf("create sheet %s: %w", sheet, err)
			}
		}
		if err := writeTable(file, sheet, table); err != nil {
			return err
		}
	}

	if err := file.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func writeTable(file *excelize.File, sheet string, table domain.StatementTable) error {
	row := 1
	if len(table.Headers) > 0 {
		if err := setRow(file, sheet, row, table.Headers); err != nil {
			return err
		}
		row++
	}
	for _, cells := range table.Rows {
		if err := setRow(file, sheet, row, cells); err != nil {
			return err
		}
		row++
	}
	return nil
}

func setRow(file *excelize.File, sheet string, row int, cells []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("resolve cell for row %d: %w", row, err)
	}
	values := make([]any, len(cells))
	for i, v := range cells {
		values[i] = v
	}
	if err := file.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write row %d on %s: %w", row, sheet, err)
	}
	return nil
}

// sheetName keeps Excel happy: 31 characters, no reserved punctuation,
// never empty, unique per table index.
func sheetName(name string, index int) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return '_'
		default:
			return r
		}
	}, strings.TrimSpace(name))
	if cleaned == "" {
		cleaned = fmt.Sprintf("Table %d", index+1)
	}
	if len(cleaned) > 31 {
		cleaned = cleaned[:31]
	}
	return cleaned
}
