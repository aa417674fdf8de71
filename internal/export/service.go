package export

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/confidence"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

const (
	ResultsSheet = "Results"
	SummarySheet = "Summary"
)

// Item is one document's records together with the tier it was routed to.
type Item struct {
	Tier    constants.Tier
	Records []entity.ExtractionRecord
}

// Service produces XLSX review workbooks.
type Service struct {
	threshold float64
	warn      float64
	logger    *slog.Logger
}

func NewService(threshold, warn float64, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{threshold: threshold, warn: warn, logger: logger}
}

// ExportXLSX returns a workbook with one row per page on the Results sheet.
// Confidence cells below the threshold are highlighted.
func (s *Service) ExportXLSX(ctx context.Context, fields []string, items []Item) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.Warn("export.xlsx.close_error", "error", err)
		}
	}()
	if err := f.SetSheetName("Sheet1", ResultsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return nil, err
	}
	lowStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FFC7CE"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("xlsx style: %w", err)
	}
	boldStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("xlsx style: %w", err)
	}

	headers := []string{"Tier", "Filename", "Page", "Status", "Category"}
	for _, name := range fields {
		headers = append(headers, name, name+" Confidence")
	}
	headers = append(headers, "Manual Edit", "Edited Fields")
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(ResultsSheet, cell, h)
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	_ = f.SetCellStyle(ResultsSheet, "A1", last, boldStyle)

	row := 2
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, r := range it.Records {
			write := func(col int, v any) {
				cell, _ := excelize.CoordinatesToCellName(col, row)
				_ = f.SetCellValue(ResultsSheet, cell, v)
			}
			write(1, string(it.Tier))
			write(2, r.DocumentID.String())
			write(3, r.Page1())
			write(4, string(r.State))
			write(5, r.Category)

			col := 6
			for _, name := range fields {
				fe := r.Fields[name]
				write(col, entity.ValueOf(fe.Value))
				write(col+1, math.Round(fe.Confidence*1e4)/100)
				if fe.Confidence < s.threshold {
					cell, _ := excelize.CoordinatesToCellName(col+1, row)
					_ = f.SetCellStyle(ResultsSheet, cell, cell, lowStyle)
				}
				col += 2
			}
			manual := "N"
			if r.ManuallyEdited() {
				manual = "Y"
			}
			write(col, manual)
			write(col+1, strings.Join(r.EditedFields, ", "))
			row++
		}
	}

	_ = f.SetColWidth(ResultsSheet, "A", "A", 8)
	_ = f.SetColWidth(ResultsSheet, "B", "B", 32)
	_ = f.SetColWidth(ResultsSheet, "C", "E", 14)

	if err := s.writeSummary(f, items, boldStyle); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"documents", len(items),
		"rows", row-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func (s *Service) writeSummary(f *excelize.File, items []Item, bold int) error {
	header := []any{"Tier", "Documents", "Pages", "Mean Confidence", "Min Confidence", "Fields < 80%", "Pages < Warn"}
	if err := f.SetSheetRow(SummarySheet, "A1", &header); err != nil {
		return err
	}
	_ = f.SetCellStyle(SummarySheet, "A1", "G1", bold)

	for i, tier := range constants.AllTiers {
		var recs []entity.ExtractionRecord
		docs := 0
		for _, it := range items {
			if it.Tier == tier {
				docs++
				recs = append(recs, it.Records...)
			}
		}
		st := confidence.Summarize(recs, s.warn)
		row := []any{string(tier), docs, len(recs), math.Round(st.Mean*1e4) / 100, math.Round(st.Min*1e4) / 100, st.BelowReview, st.PagesBelow}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(SummarySheet, cell, &row); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(SummarySheet, "A", "G", 16)
	return nil
}
