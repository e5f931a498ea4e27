// Package export renders a document's analysis as an XLSX workbook.
package export

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/markdave123-py/docintel/internal/models"
)

const (
	SheetSummary = "Summary"
	SheetActions = "Action Items"
	SheetRisks   = "Risks"
	SheetEntity  = "Entities"
)

// ContentType is the MIME type of the produced workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Exporter struct {
	logger *slog.Logger
}

func NewExporter(logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{logger: logger.With(slog.String("component", "export"))}
}

// AnalysisXLSX returns the workbook bytes for a document whose analysis is complete.
func (e *Exporter) AnalysisXLSX(doc *models.Document) ([]byte, error) {
	if doc == nil || doc.Analysis == nil {
		return nil, fmt.Errorf("document has no analysis")
	}
	start := time.Now()
	a := doc.Analysis

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return nil, err
	}
	for _, s := range []string{SheetActions, SheetRisks, SheetEntity} {
		if _, err := f.NewSheet(s); err != nil {
			return nil, err
		}
	}

	summary := [][]any{
		{"Document", doc.FileName},
		{"Status", doc.Status},
		{"Pages", a.Pages},
		{"Executive Summary", a.ExecutiveSummary},
		{"Key Points", strings.Join(a.KeyPoints, "\n")},
		{"Chunks Indexed", a.ChunksIndexed},
		{"Total Cost (USD)", a.TotalCost},
		{"Completed At", a.CompletedAt.Format(time.RFC3339)},
	}
	for _, step := range slices.Sorted(maps.Keys(a.FailedAnalyses)) {
		summary = append(summary, []any{"Failed: " + step, a.FailedAnalyses[step]})
	}
	writeRows(f, SheetSummary, summary)
	_ = f.SetColWidth(SheetSummary, "A", "A", 22)
	_ = f.SetColWidth(SheetSummary, "B", "B", 90)

	actions := [][]any{{"Description", "Owner", "Due Date", "Priority", "Status"}}
	for _, it := range a.ActionItems {
		actions = append(actions, []any{it.Description, it.Owner, it.DueDate, it.Priority, it.Status})
	}
	writeRows(f, SheetActions, actions)
	_ = f.SetColWidth(SheetActions, "A", "A", 60)
	_ = f.SetColWidth(SheetActions, "B", "E", 16)

	risks := [][]any{{"Description", "Severity", "Likelihood", "Mitigation"}}
	for _, r := range a.Risks {
		risks = append(risks, []any{r.Description, r.Severity, r.Likelihood, r.Mitigation})
	}
	writeRows(f, SheetRisks, risks)
	_ = f.SetColWidth(SheetRisks, "A", "A", 60)
	_ = f.SetColWidth(SheetRisks, "D", "D", 60)

	entities := [][]any{{"Text", "Type", "Score"}}
	for _, en := range a.Entities {
		entities = append(entities, []any{en.Text, en.Type, en.Score})
	}
	writeRows(f, SheetEntity, entities)
	_ = f.SetColWidth(SheetEntity, "A", "A", 40)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	e.logger.Info("analysis exported",
		slog.String("document_id", doc.ID),
		slog.Int("action_items", len(a.ActionItems)),
		slog.Int("risks", len(a.Risks)),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)
	return buf.Bytes(), nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) {
	for i, row := range rows {
		for j, v := range row {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+1)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
}
