package stats

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	sheetSummary = "summary"
	sheetTop     = "top"
)

// ExportXLSX renders the report as a workbook with a summary sheet and a top-N sheet.
func ExportXLSX(rep *Report) ([]byte, error) {
	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	if err := xl.SetSheetName(xl.GetSheetName(0), sheetSummary); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := xl.NewSheet(sheetTop); err != nil {
		return nil, fmt.Errorf("new sheet: %w", err)
	}

	rows := [][]any{
		{"metric", "value"},
		{"from", formatBound(rep.From)},
		{"to", formatBound(rep.To)},
		{"total", rep.Total},
		{"success_rate", rep.SuccessRate},
		{"currently_failed", rep.CurrentlyFailed},
		{"permanently_failed", rep.PermanentlyFailed},
	}
	for _, s := range allStatuses {
		rows = append(rows, []any{"status." + string(s), rep.ByStatus[s]})
	}
	for _, c := range allChannels {
		rows = append(rows, []any{"channel." + string(c), rep.ByChannel[c]})
	}
	rows = append(rows, []any{"generated_at", rep.GeneratedAt.UTC().Format(time.RFC3339)})
	if err := writeRows(xl, sheetSummary, rows); err != nil {
		return nil, err
	}

	top := [][]any{{"kind", "id", "count"}}
	for _, b := range rep.TopTemplates {
		top = append(top, []any{"template", b.ID, b.Count})
	}
	for _, b := range rep.TopNotificationTypes {
		top = append(top, []any{"notification_type", b.ID, b.Count})
	}
	if err := writeRows(xl, sheetTop, top); err != nil {
		return nil, err
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRows(xl *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := xl.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func formatBound(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
